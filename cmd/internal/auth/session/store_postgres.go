package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists one session row per device in storefront.client_sessions.
// It serves shared-terminal and backend-for-frontend deployments where local disk is not durable.
type PostgresStore struct {
	pool     *pgxpool.Pool
	deviceID string
	codec    codec
	log      *slog.Logger
}

// PostgresOption configures a PostgresStore.
type PostgresOption func(*PostgresStore)

// WithPostgresSealer seals token values before they are written.
func WithPostgresSealer(s Sealer) PostgresOption {
	return func(st *PostgresStore) { st.codec.sealer = s }
}

// WithPostgresLogger sets the logger used for load failures.
func WithPostgresLogger(log *slog.Logger) PostgresOption {
	return func(st *PostgresStore) { st.log = log }
}

// NewPostgresStore creates a Postgres-backed credential store for deviceID.
// The pool is owned by the caller.
func NewPostgresStore(pool *pgxpool.Pool, deviceID string, opts ...PostgresOption) (*PostgresStore, error) {
	if pool == nil || deviceID == "" {
		return nil, ErrConfig
	}
	st := &PostgresStore{pool: pool, deviceID: deviceID, log: slog.Default()}
	for _, opt := range opts {
		opt(st)
	}
	return st, nil
}

// Migrate creates the schema and table when missing.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE SCHEMA IF NOT EXISTS storefront;
		CREATE TABLE IF NOT EXISTS storefront.client_sessions (
			device_id      TEXT PRIMARY KEY,
			access_token   TEXT NOT NULL,
			renewal_token  TEXT NOT NULL,
			role           TEXT NOT NULL DEFAULT '',
			user_snapshot  JSONB,
			stay_signed_in BOOLEAN NOT NULL DEFAULT FALSE,
			updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
		);
	`)
	if err != nil {
		return fmt.Errorf("migrate postgres store: %w", err)
	}
	return nil
}

const upsertSession = `
	INSERT INTO storefront.client_sessions (
		device_id, access_token, renewal_token, role, user_snapshot, stay_signed_in, updated_at
	) VALUES ($1, $2, $3, $4, $5, $6, now())
	ON CONFLICT (device_id) DO UPDATE SET
		access_token   = EXCLUDED.access_token,
		renewal_token  = EXCLUDED.renewal_token,
		role           = EXCLUDED.role,
		user_snapshot  = EXCLUDED.user_snapshot,
		stay_signed_in = EXCLUDED.stay_signed_in,
		updated_at     = EXCLUDED.updated_at
`

// Save upserts the device row in one statement.
func (s *PostgresStore) Save(ctx context.Context, sess Session) error {
	args, err := s.upsertArgs(sess)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, upsertSession, args...)
	return err
}

// CompareAndSave locks the device row, checks its renewal token and upserts in one transaction.
// A missing row never matches.
func (s *PostgresStore) CompareAndSave(ctx context.Context, renewalToken string, sess Session) (bool, error) {
	args, err := s.upsertArgs(sess)
	if err != nil {
		return false, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var stored string
	err = tx.QueryRow(ctx, `
		SELECT renewal_token
		FROM storefront.client_sessions
		WHERE device_id = $1
		FOR UPDATE
	`, s.deviceID).Scan(&stored)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if cur, err := s.codec.open(stored); err != nil || cur != renewalToken {
		return false, nil
	}

	if _, err := tx.Exec(ctx, upsertSession, args...); err != nil {
		return false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (s *PostgresStore) upsertArgs(sess Session) ([]any, error) {
	next, err := prepareSave(sess)
	if err != nil {
		return nil, err
	}
	kv, err := s.codec.encode(next)
	if err != nil {
		return nil, fmt.Errorf("seal session: %w", err)
	}
	return []any{s.deviceID, kv[KeyAccessToken], kv[KeyRenewalToken], kv[KeyRole], nullIfEmpty(kv[KeyUser]), next.StaySignedIn}, nil
}

// Load reads the device row; any failure yields an empty Session.
func (s *PostgresStore) Load(ctx context.Context) Session {
	var (
		at, rt, role string
		user         []byte
		stay         bool
	)

	err := s.pool.QueryRow(ctx, `
		SELECT access_token, renewal_token, role, user_snapshot, stay_signed_in
		FROM storefront.client_sessions
		WHERE device_id = $1
	`, s.deviceID).Scan(&at, &rt, &role, &user, &stay)
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}
	}
	if err != nil {
		s.log.Warn("store.load.fail", "driver", "postgres", "err", err)
		return Session{}
	}

	sess, err := s.codec.decode(map[string]string{
		KeyAccessToken:  at,
		KeyRenewalToken: rt,
		KeyRole:         role,
		KeyUser:         string(user),
		KeyStaySignedIn: strconv.FormatBool(stay),
	})
	if err != nil {
		s.log.Warn("store.load.discard", "driver", "postgres", "err", err)
		return Session{}
	}
	return sess
}

// Clear deletes the device row (idempotent).
func (s *PostgresStore) Clear(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM storefront.client_sessions WHERE device_id = $1`, s.deviceID)
	return err
}

// Close is a no-op; the pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
