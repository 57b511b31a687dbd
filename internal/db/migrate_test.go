package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationFilesAreEmbedded(t *testing.T) {
	files, err := MigrationFiles()
	require.NoError(t, err)
	require.NotEmpty(t, files)
	assert.Equal(t, "0001_init.up.sql", files[0])
}

func TestInitMigrationCreatesLedgerTables(t *testing.T) {
	content, err := migrationFS.ReadFile("migrations/0001_init.up.sql")
	require.NoError(t, err)

	stmts := SplitStatements(string(content))
	joined := ""
	for _, s := range stmts {
		joined += s + "\n"
	}
	assert.Contains(t, joined, "CREATE TABLE IF NOT EXISTS loans")
	assert.Contains(t, joined, "CREATE TABLE IF NOT EXISTS user_stats")
	assert.Contains(t, joined, "CREATE TABLE IF NOT EXISTS outbox_jobs")
	assert.Contains(t, joined, "CHECK (lender <> borrower)")
}

func TestSplitStatementsSkipsBlanks(t *testing.T) {
	got := SplitStatements("SELECT 1;\n\n ; SELECT 2;")
	assert.Equal(t, []string{"SELECT 1", "SELECT 2"}, got)
}
