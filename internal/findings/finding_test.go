package findings

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprintStableAcrossWhitespace(t *testing.T) {
	a := Finding{
		FilePath: "app/views.py",
		Family:   FamilySQLi,
		Snippet:  `query = f"SELECT * FROM users WHERE email = '{email}'"`,
	}
	b := a
	b.Snippet = "query   = f\"SELECT * FROM users WHERE email = '{email}'\"\t"

	assert.Equal(t, a.Fingerprint(), b.Fingerprint())

	c := a
	c.Snippet = `query = f"SELECT * FROM users WHERE name = '{name}'"`
	assert.NotEqual(t, a.Fingerprint(), c.Fingerprint())
}

func TestFingerprintIgnoresLineNumbers(t *testing.T) {
	a := Finding{FilePath: "app.py", Family: FamilySecrets, StartLine: 10, Snippet: `API_KEY = "sk_live_x"`}
	b := Finding{FilePath: "app.py", Family: FamilySecrets, StartLine: 42, Snippet: `API_KEY = "sk_live_x"`}
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
}

func TestParseSeverity(t *testing.T) {
	testCases := []struct {
		input    string
		expected Severity
	}{
		{"critical", SeverityCritical},
		{"HIGH", SeverityHigh},
		{"error", SeverityHigh},
		{"warning", SeverityMedium},
		{"note", SeverityLow},
		{"info", SeverityInfo},
		{"bogus", SeverityInfo},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.expected, ParseSeverity(tc.input), "input %q", tc.input)
	}
}

func TestOverlaps(t *testing.T) {
	base := Finding{FilePath: "a.py", StartLine: 10, EndLine: 12}

	assert.True(t, base.Overlaps(Finding{FilePath: "a.py", StartLine: 12, EndLine: 14}))
	assert.True(t, base.Overlaps(Finding{FilePath: "a.py", StartLine: 8, EndLine: 10}))
	assert.False(t, base.Overlaps(Finding{FilePath: "a.py", StartLine: 13, EndLine: 14}))
	assert.False(t, base.Overlaps(Finding{FilePath: "b.py", StartLine: 10, EndLine: 12}))
}

func TestPatchApply(t *testing.T) {
	lines := []string{"a", "b", "c", "d"}

	t.Run("replacement", func(t *testing.T) {
		p := Patch{Hunks: []Hunk{{Start: 1, End: 2, Lines: []string{"B"}}}}
		got, err := p.Apply(lines)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "B", "c", "d"}, got)
	})

	t.Run("insertion", func(t *testing.T) {
		p := Patch{Hunks: []Hunk{{Start: 2, End: 2, Lines: []string{"x", "y"}}}}
		got, err := p.Apply(lines)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "x", "y", "c", "d"}, got)
	})

	t.Run("multiple hunks keep original offsets", func(t *testing.T) {
		p := Patch{Hunks: []Hunk{
			{Start: 3, End: 4, Lines: []string{"D"}},
			{Start: 0, End: 0, Lines: []string{"header"}},
		}}
		got, err := p.Apply(lines)
		require.NoError(t, err)
		assert.Equal(t, []string{"header", "a", "b", "c", "D"}, got)
	})

	t.Run("insertion above a replaced first line", func(t *testing.T) {
		p := Patch{Hunks: []Hunk{
			{Start: 0, End: 1, Lines: []string{"A"}},
			{Start: 0, End: 0, Lines: []string{"header"}},
		}}
		got, err := p.Apply(lines)
		require.NoError(t, err)
		assert.Equal(t, []string{"header", "A", "b", "c", "d"}, got)
	})

	t.Run("overlap rejected", func(t *testing.T) {
		p := Patch{Hunks: []Hunk{
			{Start: 0, End: 2, Lines: []string{"x"}},
			{Start: 1, End: 3, Lines: []string{"y"}},
		}}
		_, err := p.Apply(lines)
		assert.Error(t, err)
	})

	t.Run("out of range rejected", func(t *testing.T) {
		p := Patch{Hunks: []Hunk{{Start: 3, End: 9, Lines: nil}}}
		_, err := p.Apply(lines)
		assert.Error(t, err)
	})
}

func TestApplyAllComposesIndependentPatches(t *testing.T) {
	lines := []string{"import x", "a", "b", "c"}

	p1 := Patch{Hunks: []Hunk{{Start: 1, End: 2, Lines: []string{"A"}}}}
	p2 := Patch{Hunks: []Hunk{{Start: 3, End: 4, Lines: []string{"C", "C2"}}}}

	got, err := ApplyAll(lines, []Patch{p2, p1})
	require.NoError(t, err)
	assert.Equal(t, []string{"import x", "A", "b", "C", "C2"}, got)
}

func TestApplyAllCollapsesSharedHunks(t *testing.T) {
	lines := []string{"a", "b", "c"}

	// Two fixes in one file both need the same import inserted at the top.
	p1 := Patch{Hunks: []Hunk{
		{Start: 1, End: 2, Lines: []string{"B"}},
		{Start: 0, End: 0, Lines: []string{"import subprocess"}},
	}}
	p2 := Patch{Hunks: []Hunk{
		{Start: 2, End: 3, Lines: []string{"C"}},
		{Start: 0, End: 0, Lines: []string{"import subprocess"}},
	}}

	got, err := ApplyAll(lines, []Patch{p1, p2})
	require.NoError(t, err)
	assert.Equal(t, []string{"import subprocess", "a", "B", "C"}, got)
}

func TestIdempotencyKeyDeterministic(t *testing.T) {
	k1 := IdempotencyKey(42, "abc123", "fp")
	k2 := IdempotencyKey(42, "abc123", "fp")
	k3 := IdempotencyKey(42, "def456", "fp")

	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, k3)
	assert.Len(t, k1, 64)
}
