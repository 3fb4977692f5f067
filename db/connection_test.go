package db

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/tempo/errors"
)

func TestOpen(t *testing.T) {
	t.Run("opens database with pragmas", func(t *testing.T) {
		db, err := Open(filepath.Join(t.TempDir(), "test.db"), zaptest.NewLogger(t).Sugar())
		require.NoError(t, err)
		defer db.Close()

		var journalMode string
		require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&journalMode))
		assert.Equal(t, "wal", journalMode)

		var foreignKeys int
		require.NoError(t, db.QueryRow("PRAGMA foreign_keys").Scan(&foreignKeys))
		assert.Equal(t, 1, foreignKeys)

		var busyTimeout int
		require.NoError(t, db.QueryRow("PRAGMA busy_timeout").Scan(&busyTimeout))
		assert.Equal(t, 5000, busyTimeout)
	})

	t.Run("in-memory database keeps one connection", func(t *testing.T) {
		db, err := Open(":memory:", nil)
		require.NoError(t, err)
		defer db.Close()

		_, err = db.Exec("CREATE TABLE t (x INTEGER)")
		require.NoError(t, err)
		// a second connection would not see the table
		_, err = db.Exec("INSERT INTO t VALUES (1)")
		require.NoError(t, err)
		assert.Equal(t, 1, db.Stats().MaxOpenConnections)
	})
}

func TestIsDatabaseClosed(t *testing.T) {
	db, err := Open(":memory:", nil)
	require.NoError(t, err)
	db.Close()

	_, err = db.Exec("SELECT 1")
	assert.True(t, IsDatabaseClosed(err))
	assert.True(t, IsDatabaseClosed(errors.Wrap(ErrDatabaseClosed, "write outcome")))
	assert.False(t, IsDatabaseClosed(errors.New("disk full")))
	assert.False(t, IsDatabaseClosed(nil))
}

func TestTimeLayout(t *testing.T) {
	loc, err := time.LoadLocation("America/Los_Angeles")
	require.NoError(t, err)

	at := time.Date(2019, 1, 2, 3, 4, 5, 6, loc)
	s := FormatTime(at)
	assert.Equal(t, "2019-01-02T11:04:05.000000006Z", s)

	parsed, err := ParseTime(s)
	require.NoError(t, err)
	assert.True(t, at.Equal(parsed))

	// fixed width keeps lexical and chronological order aligned
	assert.Less(t, FormatTime(at), FormatTime(at.Add(time.Nanosecond)))
	assert.Less(t, FormatTime(time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC)), FormatTime(time.Date(2019, 1, 1, 0, 0, 0, 100, time.UTC)))

	_, err = ParseTime("yesterday")
	assert.Error(t, err)
}
