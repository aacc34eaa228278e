package fixer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopatch-dev/autopatch/internal/findings"
)

func cmdFinding(line int) findings.Finding {
	return findings.Finding{
		ID:        "test-cmd",
		RuleID:    "python.lang.command-injection",
		Family:    findings.FamilyCommandInjection,
		FilePath:  "tasks.py",
		StartLine: line,
		EndLine:   line,
	}
}

func TestCommandInjectionFixerOsSystemLiteral(t *testing.T) {
	src := `import os

def cleanup():
    os.system("rm -rf /tmp/scratch")
`
	fixer := &CommandInjectionFixer{}
	patch, err := fixer.Propose([]byte(src), cmdFinding(4))
	require.NoError(t, err)

	got := applyPatch(t, src, patch)
	assert.Contains(t, got, "import subprocess")
	assert.Contains(t, got, `    subprocess.run(["rm", "-rf", "/tmp/scratch"], shell=False)`)
}

func TestCommandInjectionFixerOsSystemDynamic(t *testing.T) {
	src := `import os

def archive(name):
    os.system("tar czf " + name)
`
	fixer := &CommandInjectionFixer{}
	patch, err := fixer.Propose([]byte(src), cmdFinding(4))
	require.NoError(t, err)

	got := applyPatch(t, src, patch)
	assert.Contains(t, got, "import subprocess")
	assert.Contains(t, got, "import shlex")
	assert.Contains(t, got, `    subprocess.run(shlex.split("tar czf " + name), shell=False)`)
}

func TestCommandInjectionFixerShellTrue(t *testing.T) {
	src := `import subprocess

def ping(host):
    subprocess.run("ping -c 1 " + host, shell=True)
`
	fixer := &CommandInjectionFixer{}
	patch, err := fixer.Propose([]byte(src), cmdFinding(4))
	require.NoError(t, err)

	got := applyPatch(t, src, patch)
	assert.Contains(t, got, "import shlex")
	assert.Contains(t, got, `    subprocess.run(shlex.split("ping -c 1 " + host), shell=False)`)
}

func TestCommandInjectionFixerQuotedWords(t *testing.T) {
	src := `import os

def notify():
    os.system("notify-send 'build done' --urgency=low")
`
	fixer := &CommandInjectionFixer{}
	patch, err := fixer.Propose([]byte(src), cmdFinding(4))
	require.NoError(t, err)

	got := applyPatch(t, src, patch)
	assert.Contains(t, got, `    subprocess.run(["notify-send", "build done", "--urgency=low"], shell=False)`)
}

func TestCommandInjectionFixerTargetsFindingLine(t *testing.T) {
	src := `import os

def cleanup():
    os.system("rm -rf /tmp/scratch")

def rotate():
    os.system("logrotate /etc/logrotate.conf")
`
	fixer := &CommandInjectionFixer{}
	first, err := fixer.Propose([]byte(src), cmdFinding(4))
	require.NoError(t, err)
	second, err := fixer.Propose([]byte(src), cmdFinding(7))
	require.NoError(t, err)

	// Each patch rewrites only its own call, so the pair composes.
	got, err := findings.ApplyAll(splitLines([]byte(src)), []findings.Patch{*first, *second})
	require.NoError(t, err)
	joined := strings.Join(got, "\n")
	assert.Contains(t, joined, `subprocess.run(["rm", "-rf", "/tmp/scratch"], shell=False)`)
	assert.Contains(t, joined, `subprocess.run(["logrotate", "/etc/logrotate.conf"], shell=False)`)
	assert.Equal(t, 1, strings.Count(joined, "import subprocess"))
}

func TestCommandInjectionFixerAlreadyTokenized(t *testing.T) {
	src := `import subprocess

def ping(host):
    subprocess.run(["ping", "-c", "1", host], shell=False)
`
	fixer := &CommandInjectionFixer{}
	_, err := fixer.Propose([]byte(src), cmdFinding(4))

	nsf, ok := AsNoSafeFix(err)
	require.True(t, ok)
	assert.Equal(t, findings.SkipAlreadyFixed, nsf.Reason)
}

func TestSplitShellWords(t *testing.T) {
	testCases := []struct {
		input    string
		expected []string
	}{
		{"ls -la", []string{"ls", "-la"}},
		{"echo 'hello world'", []string{"echo", "hello world"}},
		{`grep "a b" file.txt`, []string{"grep", "a b", "file.txt"}},
		{`echo a\ b`, []string{"echo", "a b"}},
		{"echo 'unterminated", nil},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.expected, splitShellWords(tc.input), "input %q", tc.input)
	}
}
