package postgres

import (
	"context"
	"database/sql"

	// Postgres driver.
	_ "github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/tinychat/tinychat/internal/profile"
	"github.com/tinychat/tinychat/store"
)

// DB is the postgres implementation of store.Driver. Embeddings are stored
// in pgvector columns so similarity work can later move into the database;
// the ranker currently reads full vectors and scores in the application.
type DB struct {
	db      *sql.DB
	tx      *sql.Tx
	profile *profile.Profile
}

// NewDB opens a postgres database using the DSN from the profile.
func NewDB(profile *profile.Profile) (store.Driver, error) {
	if profile == nil {
		return nil, errors.New("profile is nil")
	}
	if profile.DSN == "" {
		return nil, errors.New("dsn required")
	}

	db, err := sql.Open("postgres", profile.DSN)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database")
	}

	return &DB{db: db, profile: profile}, nil
}

func (d *DB) GetDB() *sql.DB {
	return d.db
}

func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) conn() conn {
	if d.tx != nil {
		return d.tx
	}
	return d.db
}

// InTransaction runs fn against a transaction-scoped copy of the driver.
func (d *DB) InTransaction(ctx context.Context, fn func(store.Driver) error) error {
	if d.tx != nil {
		return fn(d)
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	txDriver := &DB{db: d.db, tx: tx, profile: d.profile}
	if err := fn(txDriver); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			return errors.Wrapf(err, "rollback failed: %v", rbErr)
		}
		return err
	}
	return errors.Wrap(tx.Commit(), "failed to commit transaction")
}

const schema = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS folder (
	id TEXT PRIMARY KEY,
	creator_id INTEGER NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	created_ts BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS chat (
	id TEXT PRIMARY KEY,
	folder_id TEXT NOT NULL,
	creator_id INTEGER NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	temporary BOOLEAN NOT NULL DEFAULT FALSE,
	incognito BOOLEAN NOT NULL DEFAULT FALSE,
	created_ts BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chat_folder_id ON chat (folder_id);

CREATE TABLE IF NOT EXISTS message (
	id TEXT PRIMARY KEY,
	chat_id TEXT NOT NULL,
	folder_id TEXT NOT NULL,
	creator_id INTEGER NOT NULL,
	author TEXT NOT NULL,
	config JSONB NOT NULL DEFAULT '{}',
	data JSONB NOT NULL DEFAULT '[]',
	metadata JSONB,
	previous_id TEXT,
	embedding vector,
	created_ts BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_message_chat_id ON message (chat_id);
CREATE INDEX IF NOT EXISTS idx_message_folder_id ON message (folder_id);
CREATE INDEX IF NOT EXISTS idx_message_previous_id ON message (previous_id);

CREATE TABLE IF NOT EXISTS memory (
	id TEXT PRIMARY KEY,
	creator_id INTEGER NOT NULL,
	folder_id TEXT NOT NULL,
	chat_id TEXT NOT NULL,
	config JSONB NOT NULL DEFAULT '{}',
	fact TEXT NOT NULL,
	category TEXT NOT NULL,
	stability TEXT NOT NULL,
	evidence JSONB NOT NULL DEFAULT '[]',
	confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
	embedding vector,
	latest BOOLEAN NOT NULL DEFAULT TRUE,
	created_ts BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_memory_creator_id ON memory (creator_id);
CREATE INDEX IF NOT EXISTS idx_memory_chat_id ON memory (chat_id);

CREATE TABLE IF NOT EXISTS summary (
	id TEXT PRIMARY KEY,
	creator_id INTEGER NOT NULL,
	folder_id TEXT NOT NULL,
	chat_id TEXT NOT NULL,
	config JSONB NOT NULL DEFAULT '{}',
	content TEXT NOT NULL,
	embedding vector,
	created_ts BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_summary_creator_id ON summary (creator_id);
`

// Migrate creates the schema if it does not exist yet. Requires the pgvector
// extension to be installable by the connecting role.
func (d *DB) Migrate(ctx context.Context) error {
	_, err := d.conn().ExecContext(ctx, schema)
	return errors.Wrap(err, "failed to migrate schema")
}
