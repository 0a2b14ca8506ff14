package migrations

import (
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAll_SortedAndNonEmpty(t *testing.T) {
	all, err := All()
	require.NoError(t, err)
	require.NotEmpty(t, all)

	assert.Equal(t, "001_initial_schema.sql", all[0].Name)
	for i := 1; i < len(all); i++ {
		assert.Less(t, all[i-1].Name, all[i].Name)
	}
	for _, m := range all {
		assert.NotEmpty(t, m.SQL, m.Name)
	}
}

func TestGetInitialSchema(t *testing.T) {
	schema, err := GetInitialSchema()
	require.NoError(t, err)
	assert.Contains(t, schema, "CREATE TABLE IF NOT EXISTS sms_messages")
	assert.Contains(t, schema, "CREATE TABLE IF NOT EXISTS sms_codes")
	assert.Contains(t, schema, "message_sid TEXT NOT NULL UNIQUE")
}

func TestSchema_AppliesTwice(t *testing.T) {
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "schema.db"))
	require.NoError(t, err)
	defer db.Close()

	all, err := All()
	require.NoError(t, err)

	for round := 0; round < 2; round++ {
		for _, m := range all {
			_, err := db.Exec(m.SQL)
			require.NoError(t, err, m.Name)
		}
	}

	var count int
	err = db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name IN ('sms_messages', 'sms_codes')`).Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}
