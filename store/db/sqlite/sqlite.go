package sqlite

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	// SQLite driver.
	_ "modernc.org/sqlite"

	"github.com/tinychat/tinychat/internal/profile"
	"github.com/tinychat/tinychat/store"
)

// DB is the sqlite implementation of store.Driver. Embeddings are stored as
// JSON arrays; similarity math happens in the application, so sqlite serves
// both development and small single-user deployments.
type DB struct {
	db      *sql.DB
	tx      *sql.Tx
	profile *profile.Profile
}

// NewDB opens a sqlite database using the DSN from the profile.
func NewDB(profile *profile.Profile) (store.Driver, error) {
	if profile == nil {
		return nil, errors.New("profile is nil")
	}
	if profile.DSN == "" {
		return nil, errors.New("dsn required")
	}

	// Busy timeout and foreign keys match the single-writer usage pattern.
	db, err := sql.Open("sqlite", profile.DSN+"?_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database %s", profile.DSN)
	}

	return &DB{db: db, profile: profile}, nil
}

func (d *DB) GetDB() *sql.DB {
	return d.db
}

func (d *DB) Close() error {
	return d.db.Close()
}

// conn returns the active transaction if one is in flight, else the pool.
func (d *DB) conn() conn {
	if d.tx != nil {
		return d.tx
	}
	return d.db
}

// InTransaction runs fn against a transaction-scoped copy of the driver.
// Calls on an already transactional driver join the open transaction.
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
	temporary INTEGER NOT NULL DEFAULT 0,
	incognito INTEGER NOT NULL DEFAULT 0,
	created_ts BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chat_folder_id ON chat (folder_id);

CREATE TABLE IF NOT EXISTS message (
	id TEXT PRIMARY KEY,
	chat_id TEXT NOT NULL,
	folder_id TEXT NOT NULL,
	creator_id INTEGER NOT NULL,
	author TEXT NOT NULL,
	config TEXT NOT NULL DEFAULT '{}',
	data TEXT NOT NULL DEFAULT '[]',
	metadata TEXT,
	previous_id TEXT,
	embedding TEXT,
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
	config TEXT NOT NULL DEFAULT '{}',
	fact TEXT NOT NULL,
	category TEXT NOT NULL,
	stability TEXT NOT NULL,
	evidence TEXT NOT NULL DEFAULT '[]',
	confidence REAL NOT NULL DEFAULT 0,
	embedding TEXT,
	latest INTEGER NOT NULL DEFAULT 1,
	created_ts BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_memory_creator_id ON memory (creator_id);
CREATE INDEX IF NOT EXISTS idx_memory_chat_id ON memory (chat_id);

CREATE TABLE IF NOT EXISTS summary (
	id TEXT PRIMARY KEY,
	creator_id INTEGER NOT NULL,
	folder_id TEXT NOT NULL,
	chat_id TEXT NOT NULL,
	config TEXT NOT NULL DEFAULT '{}',
	content TEXT NOT NULL,
	embedding TEXT,
	created_ts BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_summary_creator_id ON summary (creator_id);
`

// Migrate creates the schema if it does not exist yet.
func (d *DB) Migrate(ctx context.Context) error {
	_, err := d.conn().ExecContext(ctx, schema)
	return errors.Wrap(err, "failed to migrate schema")
}
