package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// SQLiteStore persists the session in a local SQLite file so it survives reloads.
type SQLiteStore struct {
	db    *sql.DB
	codec codec
	log   *slog.Logger
}

// SQLiteOption configures a SQLiteStore.
type SQLiteOption func(*SQLiteStore)

// WithSQLiteSealer seals token values before they are written.
func WithSQLiteSealer(s Sealer) SQLiteOption {
	return func(st *SQLiteStore) { st.codec.sealer = s }
}

// WithSQLiteLogger sets the logger used for load failures.
func WithSQLiteLogger(log *slog.Logger) SQLiteOption {
	return func(st *SQLiteStore) { st.log = log }
}

// OpenSQLiteStore opens (or creates) the credential database at path.
func OpenSQLiteStore(ctx context.Context, path string, opts ...SQLiteOption) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	// One writer keeps Save transactions serialized.
	db.SetMaxOpenConns(1)

	st := &SQLiteStore{db: db, log: slog.Default()}
	for _, opt := range opts {
		opt(st)
	}

	if _, err := db.ExecContext(ctx, `PRAGMA busy_timeout = 5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("configure sqlite store: %w", err)
	}
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS credentials (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)
	`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate sqlite store: %w", err)
	}

	return st, nil
}

// Save writes every key in a single transaction.
func (s *SQLiteStore) Save(ctx context.Context, sess Session) error {
	kv, err := s.encode(sess)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := writeKV(ctx, tx, kv); err != nil {
		return err
	}
	return tx.Commit()
}

// CompareAndSave reads the stored renewal token and writes sess in one transaction.
func (s *SQLiteStore) CompareAndSave(ctx context.Context, renewalToken string, sess Session) (bool, error) {
	kv, err := s.encode(sess)
	if err != nil {
		return false, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	var stored string
	err = tx.QueryRowContext(ctx, `SELECT value FROM credentials WHERE key = ?`, KeyRenewalToken).Scan(&stored)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return false, err
	}
	cur, err := s.codec.open(stored)
	if err != nil || cur != renewalToken {
		return false, nil
	}

	if err := writeKV(ctx, tx, kv); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

func (s *SQLiteStore) encode(sess Session) (map[string]string, error) {
	next, err := prepareSave(sess)
	if err != nil {
		return nil, err
	}
	kv, err := s.codec.encode(next)
	if err != nil {
		return nil, fmt.Errorf("seal session: %w", err)
	}
	return kv, nil
}

func writeKV(ctx context.Context, tx *sql.Tx, kv map[string]string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM credentials`); err != nil {
		return err
	}
	for k, v := range kv {
		if _, err := tx.ExecContext(ctx, `INSERT INTO credentials (key, value) VALUES (?, ?)`, k, v); err != nil {
			return err
		}
	}
	return nil
}

// Load reads the stored session; any failure yields an empty Session.
func (s *SQLiteStore) Load(ctx context.Context) Session {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM credentials`)
	if err != nil {
		s.log.Warn("store.load.fail", "driver", "sqlite", "err", err)
		return Session{}
	}
	defer func() { _ = rows.Close() }()

	kv := make(map[string]string, 5)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			s.log.Warn("store.load.fail", "driver", "sqlite", "err", err)
			return Session{}
		}
		kv[k] = v
	}
	if err := rows.Err(); err != nil {
		s.log.Warn("store.load.fail", "driver", "sqlite", "err", err)
		return Session{}
	}

	sess, err := s.codec.decode(kv)
	if err != nil {
		s.log.Warn("store.load.discard", "driver", "sqlite", "err", err)
		return Session{}
	}
	return sess
}

// Clear removes every stored key.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM credentials`)
	return err
}

// Close closes the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
