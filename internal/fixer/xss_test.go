package fixer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopatch-dev/autopatch/internal/findings"
)

func xssFinding(path string, line int) findings.Finding {
	return findings.Finding{
		ID:        "test-xss",
		RuleID:    "python.django.xss",
		Family:    findings.FamilyXSS,
		FilePath:  path,
		StartLine: line,
		EndLine:   line,
	}
}

func TestXSSFixerStripsSafeFilter(t *testing.T) {
	src := `<div>
  <p>{{ user_bio|safe }}</p>
  <p>{{ user_name }}</p>
</div>
`
	fixer := &XSSFixer{}
	patch, err := fixer.Propose([]byte(src), xssFinding("templates/profile.html", 2))
	require.NoError(t, err)

	got := applyPatch(t, src, patch)
	assert.Equal(t, "  <p>{{ user_bio }}</p>", got[1])
	assert.Equal(t, "  <p>{{ user_name }}</p>", got[2])
}

func TestXSSFixerUnwrapsAutoescapeOffBlock(t *testing.T) {
	src := `{% autoescape off %}
<p>{{ comment }}</p>
{% endautoescape %}
`
	fixer := &XSSFixer{}
	patch, err := fixer.Propose([]byte(src), xssFinding("templates/comment.html", 1))
	require.NoError(t, err)

	got := applyPatch(t, src, patch)
	assert.Equal(t, []string{"<p>{{ comment }}</p>"}, got)
}

func TestXSSFixerFixesOnlyFindingConstruct(t *testing.T) {
	src := `<p>{{ a|safe }}</p>
<p>{{ b|safe }}</p>
`
	fixer := &XSSFixer{}
	patch, err := fixer.Propose([]byte(src), xssFinding("templates/index.html", 2))
	require.NoError(t, err)

	got := applyPatch(t, src, patch)
	assert.Equal(t, "<p>{{ a|safe }}</p>", got[0])
	assert.Equal(t, "<p>{{ b }}</p>", got[1])
}

func TestXSSFixerTemplateAlreadyClean(t *testing.T) {
	src := `<p>{{ user_bio }}</p>
`
	fixer := &XSSFixer{}
	_, err := fixer.Propose([]byte(src), xssFinding("templates/profile.html", 1))

	nsf, ok := AsNoSafeFix(err)
	require.True(t, ok)
	assert.Equal(t, findings.SkipAlreadyFixed, nsf.Reason)
}

func TestXSSFixerMarkSafe(t *testing.T) {
	src := `from django.utils.safestring import mark_safe

def render_bio(user):
    return mark_safe(user.bio)
`
	fixer := &XSSFixer{}
	patch, err := fixer.Propose([]byte(src), xssFinding("app/views.py", 4))
	require.NoError(t, err)

	got := applyPatch(t, src, patch)
	assert.Contains(t, got, "from django.utils.html import escape")
	assert.Contains(t, got, "    return escape(user.bio)")
}

func TestXSSFixerMarkSafeTargetsFindingLine(t *testing.T) {
	src := `from django.utils.safestring import mark_safe

def render(a, b):
    x = mark_safe(a)
    y = mark_safe(b)
    return x + y
`
	fixer := &XSSFixer{}
	patch, err := fixer.Propose([]byte(src), xssFinding("app/views.py", 5))
	require.NoError(t, err)

	got := applyPatch(t, src, patch)
	assert.Equal(t, "    x = mark_safe(a)", got[4])
	assert.Equal(t, "    y = escape(b)", got[5])
}

func TestXSSFixerMarkSafeAroundEscapeUnwraps(t *testing.T) {
	src := `from django.utils.html import escape

def render_bio(user):
    return mark_safe(escape(user.bio))
`
	fixer := &XSSFixer{}
	patch, err := fixer.Propose([]byte(src), xssFinding("app/views.py", 4))
	require.NoError(t, err)

	got := applyPatch(t, src, patch)
	assert.Contains(t, got, "    return escape(user.bio)")
	// no duplicate import
	count := 0
	for _, line := range got {
		if line == "from django.utils.html import escape" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}
