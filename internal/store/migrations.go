package store

import (
	"time"

	"github.com/m-mizutani/goerr/v2"
)

type migration struct {
	Version     int
	Description string
	SQLite      string
	Postgres    string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "memories: scored memory fragments per pet",
		SQLite: `
CREATE TABLE memories (
    id           TEXT PRIMARY KEY,
    pet_id       TEXT NOT NULL,
    content      TEXT NOT NULL,
    timestamp    INTEGER NOT NULL,
    emotion      TEXT CHECK (emotion IS NULL OR emotion IN ('happy', 'excited', 'calm', 'neutral', 'anxious', 'sad', 'angry')),
    importance   REAL NOT NULL DEFAULT 0.5 CHECK (importance >= 0 AND importance <= 1),
    context      TEXT NOT NULL CHECK (context IN ('conversation', 'behavior', 'emotion', 'health', 'diet', 'other')),
    "references" TEXT NOT NULL DEFAULT '[]'
);

CREATE INDEX idx_memories_pet_time ON memories(pet_id, timestamp DESC);
CREATE INDEX idx_memories_importance ON memories(importance DESC);
`,
		Postgres: `
CREATE TABLE memories (
    id           TEXT PRIMARY KEY,
    pet_id       TEXT NOT NULL,
    content      TEXT NOT NULL,
    timestamp    BIGINT NOT NULL,
    emotion      TEXT CHECK (emotion IS NULL OR emotion IN ('happy', 'excited', 'calm', 'neutral', 'anxious', 'sad', 'angry')),
    importance   DOUBLE PRECISION NOT NULL DEFAULT 0.5 CHECK (importance >= 0 AND importance <= 1),
    context      TEXT NOT NULL CHECK (context IN ('conversation', 'behavior', 'emotion', 'health', 'diet', 'other')),
    "references" TEXT NOT NULL DEFAULT '[]'
);

CREATE INDEX idx_memories_pet_time ON memories(pet_id, timestamp DESC);
CREATE INDEX idx_memories_importance ON memories(importance DESC);
`,
	},
	{
		Version:     2,
		Description: "conversation_memories: rolled-up chat windows",
		SQLite: `
CREATE TABLE conversation_memories (
    id          TEXT PRIMARY KEY,
    pet_id      TEXT NOT NULL,
    topic       TEXT NOT NULL DEFAULT '',
    start_time  INTEGER NOT NULL,
    end_time    INTEGER,
    messages    TEXT NOT NULL DEFAULT '[]',
    summary     TEXT NOT NULL DEFAULT '',
    key_points  TEXT NOT NULL DEFAULT '[]',
    emotions    TEXT NOT NULL DEFAULT '{}',
    fragments   TEXT NOT NULL DEFAULT '[]'
);

CREATE INDEX idx_conv_pet_start ON conversation_memories(pet_id, start_time DESC);
CREATE INDEX idx_conv_open ON conversation_memories(pet_id) WHERE end_time IS NULL;
`,
		Postgres: `
CREATE TABLE conversation_memories (
    id          TEXT PRIMARY KEY,
    pet_id      TEXT NOT NULL,
    topic       TEXT NOT NULL DEFAULT '',
    start_time  BIGINT NOT NULL,
    end_time    BIGINT,
    messages    TEXT NOT NULL DEFAULT '[]',
    summary     TEXT NOT NULL DEFAULT '',
    key_points  TEXT NOT NULL DEFAULT '[]',
    emotions    TEXT NOT NULL DEFAULT '{}',
    fragments   TEXT NOT NULL DEFAULT '[]'
);

CREATE INDEX idx_conv_pet_start ON conversation_memories(pet_id, start_time DESC);
CREATE INDEX idx_conv_open ON conversation_memories(pet_id) WHERE end_time IS NULL;
`,
	},
	{
		Version:     3,
		Description: "memory_index: keyword cache for ranking",
		SQLite: `
CREATE TABLE memory_index (
    memory_id    TEXT PRIMARY KEY,
    keywords     TEXT NOT NULL DEFAULT '[]',
    emotion_tags TEXT NOT NULL DEFAULT '[]',
    importance   REAL NOT NULL DEFAULT 0,
    indexed_at   INTEGER NOT NULL,
    FOREIGN KEY (memory_id) REFERENCES memories(id) ON DELETE CASCADE
);
`,
		Postgres: `
CREATE TABLE memory_index (
    memory_id    TEXT PRIMARY KEY REFERENCES memories(id) ON DELETE CASCADE,
    keywords     TEXT NOT NULL DEFAULT '[]',
    emotion_tags TEXT NOT NULL DEFAULT '[]',
    importance   DOUBLE PRECISION NOT NULL DEFAULT 0,
    indexed_at   BIGINT NOT NULL
);
`,
	},
	{
		Version:     4,
		Description: "pets and logs: profiles and owner-logged events",
		SQLite: `
CREATE TABLE pets (
    id          TEXT PRIMARY KEY,
    name        TEXT NOT NULL,
    species     TEXT NOT NULL DEFAULT '',
    breed       TEXT NOT NULL DEFAULT '',
    gender      TEXT NOT NULL DEFAULT '',
    age         REAL NOT NULL DEFAULT 0,
    size        TEXT NOT NULL DEFAULT '',
    behavior    TEXT NOT NULL DEFAULT '',
    diet        TEXT NOT NULL DEFAULT '',
    traits      TEXT NOT NULL DEFAULT '[]',
    created_at  INTEGER NOT NULL,
    updated_at  INTEGER NOT NULL
);

CREATE TABLE logs (
    id          TEXT PRIMARY KEY,
    pet_id      TEXT NOT NULL,
    log_type    TEXT NOT NULL CHECK (log_type IN ('chat', 'emotion', 'behavior', 'health', 'diet')),
    summary     TEXT NOT NULL DEFAULT '',
    content     TEXT NOT NULL,
    date        INTEGER NOT NULL,
    sentiment   REAL,
    emotion     TEXT,
    memory_id   TEXT
);

CREATE INDEX idx_logs_pet_date ON logs(pet_id, date DESC);
`,
		Postgres: `
CREATE TABLE pets (
    id          TEXT PRIMARY KEY,
    name        TEXT NOT NULL,
    species     TEXT NOT NULL DEFAULT '',
    breed       TEXT NOT NULL DEFAULT '',
    gender      TEXT NOT NULL DEFAULT '',
    age         DOUBLE PRECISION NOT NULL DEFAULT 0,
    size        TEXT NOT NULL DEFAULT '',
    behavior    TEXT NOT NULL DEFAULT '',
    diet        TEXT NOT NULL DEFAULT '',
    traits      TEXT NOT NULL DEFAULT '[]',
    created_at  BIGINT NOT NULL,
    updated_at  BIGINT NOT NULL
);

CREATE TABLE logs (
    id          TEXT PRIMARY KEY,
    pet_id      TEXT NOT NULL,
    log_type    TEXT NOT NULL CHECK (log_type IN ('chat', 'emotion', 'behavior', 'health', 'diet')),
    summary     TEXT NOT NULL DEFAULT '',
    content     TEXT NOT NULL,
    date        BIGINT NOT NULL,
    sentiment   DOUBLE PRECISION,
    emotion     TEXT,
    memory_id   TEXT
);

CREATE INDEX idx_logs_pet_date ON logs(pet_id, date DESC);
`,
	},
}

func (db *DB) migrate() error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_versions (
			version     INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at  BIGINT NOT NULL
		)
	`)
	if err != nil {
		return goerr.Wrap(err, "create schema_versions")
	}

	for _, m := range migrations {
		var count int
		err := db.QueryRow(db.rebind("SELECT COUNT(*) FROM schema_versions WHERE version = ?"), m.Version).Scan(&count)
		if err != nil {
			return goerr.Wrap(err, "check migration", goerr.V("version", m.Version))
		}
		if count > 0 {
			continue
		}

		ddl := m.SQLite
		if db.Dialect == Postgres {
			ddl = m.Postgres
		}

		tx, err := db.Begin()
		if err != nil {
			return goerr.Wrap(err, "begin migration", goerr.V("version", m.Version))
		}

		if _, err := tx.Exec(ddl); err != nil {
			tx.Rollback()
			return goerr.Wrap(err, "apply migration", goerr.V("version", m.Version), goerr.V("description", m.Description))
		}

		if _, err := tx.Exec(
			db.rebind("INSERT INTO schema_versions (version, description, applied_at) VALUES (?, ?, ?)"),
			m.Version, m.Description, time.Now().UnixMilli(),
		); err != nil {
			tx.Rollback()
			return goerr.Wrap(err, "record migration", goerr.V("version", m.Version))
		}

		if err := tx.Commit(); err != nil {
			return goerr.Wrap(err, "commit migration", goerr.V("version", m.Version))
		}
	}

	return nil
}

// SchemaVersion returns the current schema version.
func (db *DB) SchemaVersion() (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_versions").Scan(&version)
	return version, err
}
