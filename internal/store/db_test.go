package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/m-mizutani/gt"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// testPostgres connects to TEST_POSTGRES_URL or skips.
func testPostgres(t *testing.T) *DB {
	t.Helper()
	dsn := os.Getenv("TEST_POSTGRES_URL")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_URL not set")
	}
	db, err := OpenPostgres(context.Background(), dsn)
	gt.NoError(t, err)
	t.Cleanup(func() {
		db.Exec(`DELETE FROM memory_index`)
		db.Exec(`DELETE FROM memories`)
		db.Exec(`DELETE FROM conversation_memories`)
		db.Exec(`DELETE FROM logs`)
		db.Exec(`DELETE FROM pets`)
		db.Close()
	})
	return db
}

func TestOpenMemory(t *testing.T) {
	db := testDB(t)
	gt.Equal(t, db.Path, ":memory:")
	gt.Equal(t, db.Dialect, SQLite)
}

func TestOpenFileCreatesDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "koda.db")
	db, err := Open(path)
	gt.NoError(t, err)
	defer db.Close()

	_, err = os.Stat(path)
	gt.NoError(t, err)

	// Reopening must not re-run migrations.
	db.Close()
	db, err = Open(path)
	gt.NoError(t, err)
	defer db.Close()
	v, err := db.SchemaVersion()
	gt.NoError(t, err)
	gt.Equal(t, v, len(migrations))
}

func TestSchemaVersion(t *testing.T) {
	db := testDB(t)
	v, err := db.SchemaVersion()
	gt.NoError(t, err)
	gt.Equal(t, v, 4)
}

func TestTablesExist(t *testing.T) {
	db := testDB(t)
	for _, table := range []string{"schema_versions", "memories", "conversation_memories", "memory_index", "pets", "logs"} {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		gt.NoError(t, err)
	}
}

func TestMemoriesConstraints(t *testing.T) {
	db := testDB(t)

	_, err := db.Exec(`INSERT INTO memories (id, pet_id, content, timestamp, importance, context) VALUES ('a', 'p', 'x', 1, 0.5, 'weather')`)
	gt.Error(t, err)

	_, err = db.Exec(`INSERT INTO memories (id, pet_id, content, timestamp, emotion, importance, context) VALUES ('b', 'p', 'x', 1, 'bored', 0.5, 'other')`)
	gt.Error(t, err)

	_, err = db.Exec(`INSERT INTO memories (id, pet_id, content, timestamp, importance, context) VALUES ('c', 'p', 'x', 1, 1.5, 'other')`)
	gt.Error(t, err)

	_, err = db.Exec(`INSERT INTO memories (id, pet_id, content, timestamp, importance, context) VALUES ('d', 'p', 'x', 1, 0.5, 'other')`)
	gt.NoError(t, err)
}

func TestRebind(t *testing.T) {
	sqlite := &DB{Dialect: SQLite}
	pg := &DB{Dialect: Postgres}

	q := `SELECT * FROM memories WHERE pet_id = ? AND timestamp >= ? AND id IN (?, ?)`
	gt.Equal(t, sqlite.rebind(q), q)
	gt.Equal(t, pg.rebind(q), `SELECT * FROM memories WHERE pet_id = $1 AND timestamp >= $2 AND id IN ($3, $4)`)
}

func TestPlaceholders(t *testing.T) {
	gt.Equal(t, placeholders(0), "")
	gt.Equal(t, placeholders(1), "?")
	gt.Equal(t, placeholders(3), "?, ?, ?")
}

func TestNewIDOrdered(t *testing.T) {
	db := testDB(t)
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id := db.NewID()
		gt.A(t, []rune(id)).Length(26)
		gt.False(t, seen[id])
		seen[id] = true
	}
}
