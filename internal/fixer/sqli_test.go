package fixer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopatch-dev/autopatch/internal/findings"
)

func applyPatch(t *testing.T, src string, patch *findings.Patch) []string {
	t.Helper()
	out, err := patch.Apply(splitLines([]byte(src)))
	require.NoError(t, err)
	return out
}

func sqliFinding(line int) findings.Finding {
	return findings.Finding{
		ID:        "test-sqli",
		RuleID:    "python.django.sql-injection",
		Family:    findings.FamilySQLi,
		FilePath:  "app/views.py",
		StartLine: line,
		EndLine:   line,
	}
}

func TestSQLiFixerFString(t *testing.T) {
	src := `import sqlite3

def get_user(cursor, email):
    query = f"SELECT * FROM users WHERE email = '{email}'"
    cursor.execute(query)
    return cursor.fetchone()
`
	fixer := &SQLiFixer{}
	patch, err := fixer.Propose([]byte(src), sqliFinding(4))
	require.NoError(t, err)

	got := applyPatch(t, src, patch)
	assert.Equal(t, `    query = "SELECT * FROM users WHERE email = %s"`, got[3])
	assert.Equal(t, `    cursor.execute(query, (email,))`, got[4])
	assert.Greater(t, patch.AddedLines, 0)
}

func TestSQLiFixerConcat(t *testing.T) {
	src := `def find(cursor, name):
    sql = "SELECT id FROM users WHERE name = '" + name + "'"
    cursor.execute(sql)
`
	fixer := &SQLiFixer{}
	patch, err := fixer.Propose([]byte(src), sqliFinding(2))
	require.NoError(t, err)

	got := applyPatch(t, src, patch)
	assert.Equal(t, `    sql = "SELECT id FROM users WHERE name = %s"`, got[1])
	assert.Equal(t, `    cursor.execute(sql, (name,))`, got[2])
}

func TestSQLiFixerPercentFormat(t *testing.T) {
	src := `def find(cur, user_id):
    query = "SELECT * FROM users WHERE id = %s" % user_id
    cur.execute(query)
`
	fixer := &SQLiFixer{}
	patch, err := fixer.Propose([]byte(src), sqliFinding(2))
	require.NoError(t, err)

	got := applyPatch(t, src, patch)
	assert.Equal(t, `    query = "SELECT * FROM users WHERE id = %s"`, got[1])
	assert.Equal(t, `    cur.execute(query, (user_id,))`, got[2])
}

func TestSQLiFixerMultipleValues(t *testing.T) {
	src := `def update(cursor, name, email, user_id):
    query = f"UPDATE users SET name = '{name}', email = '{email}' WHERE id = {user_id}"
    cursor.execute(query)
`
	fixer := &SQLiFixer{}
	patch, err := fixer.Propose([]byte(src), sqliFinding(2))
	require.NoError(t, err)

	got := applyPatch(t, src, patch)
	assert.Equal(t, `    query = "UPDATE users SET name = %s, email = %s WHERE id = %s"`, got[1])
	assert.Equal(t, `    cursor.execute(query, (name, email, user_id,))`, got[2])
}

func TestSQLiFixerAlreadyParameterized(t *testing.T) {
	src := `def get_user(cursor, email):
    query = "SELECT * FROM users WHERE email = %s"
    cursor.execute(query, (email,))
`
	fixer := &SQLiFixer{}
	_, err := fixer.Propose([]byte(src), sqliFinding(2))

	nsf, ok := AsNoSafeFix(err)
	require.True(t, ok)
	assert.Equal(t, findings.SkipAlreadyFixed, nsf.Reason)
}

func TestSQLiFixerRewriteIsStable(t *testing.T) {
	src := `def get_user(cursor, email):
    query = f"SELECT * FROM users WHERE email = '{email}'"
    cursor.execute(query)
`
	fixer := &SQLiFixer{}
	patch, err := fixer.Propose([]byte(src), sqliFinding(2))
	require.NoError(t, err)

	fixed := strings.Join(applyPatch(t, src, patch), "\n") + "\n"
	_, err = fixer.Propose([]byte(fixed), sqliFinding(2))
	nsf, ok := AsNoSafeFix(err)
	require.True(t, ok)
	assert.Equal(t, findings.SkipAlreadyFixed, nsf.Reason)
}

func TestSQLiFixerExecTooFarAway(t *testing.T) {
	var b strings.Builder
	b.WriteString("def run(cursor, email):\n")
	b.WriteString("    query = f\"SELECT * FROM users WHERE email = '{email}'\"\n")
	for i := 0; i < 25; i++ {
		b.WriteString("    audit_log()\n")
	}
	b.WriteString("    cursor.execute(query)\n")

	fixer := &SQLiFixer{}
	_, err := fixer.Propose([]byte(b.String()), sqliFinding(2))

	nsf, ok := AsNoSafeFix(err)
	require.True(t, ok)
	assert.Equal(t, findings.SkipNoSafeFix, nsf.Reason)
}

func TestSQLiFixerDynamicExpressionDeclined(t *testing.T) {
	src := `def run(cursor, table, email):
    query = f"SELECT * FROM {table} WHERE email = {get_filter(email)}"
    cursor.execute(query)
`
	fixer := &SQLiFixer{}
	_, err := fixer.Propose([]byte(src), sqliFinding(2))

	_, ok := AsNoSafeFix(err)
	assert.True(t, ok)
}
