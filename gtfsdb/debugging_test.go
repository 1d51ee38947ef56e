package gtfsdb

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTableCounts(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	db.SetMaxOpenConns(1)

	client := &Client{DB: db}

	_, err = db.Exec(`
		CREATE TABLE trips (id TEXT);
		INSERT INTO trips VALUES ('T1'), ('T2'), ('T3');

		CREATE TABLE block_assignments (trip_id TEXT, block_id TEXT);
		INSERT INTO block_assignments VALUES ('T1', '1');

		-- not whitelisted, must be ignored
		CREATE TABLE scratch (id TEXT);
	`)
	require.NoError(t, err)

	counts, err := client.TableCounts()
	require.NoError(t, err)

	assert.Equal(t, 3, counts["trips"])
	assert.Equal(t, 1, counts["block_assignments"])

	_, exists := counts["scratch"]
	assert.False(t, exists, "Should not include tables outside the whitelist")
	_, exists = counts["stops"]
	assert.False(t, exists, "Should only count tables that exist")
}
