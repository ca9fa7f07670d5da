package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"storefront/cmd/internal/auth/session"
	"storefront/cmd/internal/ids"
	"storefront/cmd/security/seal"
)

// newStore opens the credential store selected by cfg.StoreDriver.
func newStore(ctx context.Context, cfg Config, log *slog.Logger) (session.Store, error) {
	var sealer session.Sealer
	if cfg.StoreKey != "" {
		s, err := seal.New([]byte(cfg.StoreKey))
		if err != nil {
			return nil, fmt.Errorf("%w: store key: %w", ErrConfig, err)
		}
		sealer = s
	}

	switch cfg.StoreDriver {
	case StoreMemory, "":
		log.Info("store.open", "driver", StoreMemory)
		return session.NewMemoryStore(), nil

	case StoreSQLite:
		opts := []session.SQLiteOption{session.WithSQLiteLogger(log)}
		if sealer != nil {
			opts = append(opts, session.WithSQLiteSealer(sealer))
		}
		st, err := session.OpenSQLiteStore(ctx, cfg.StorePath, opts...)
		if err != nil {
			return nil, err
		}
		log.Info("store.open", "driver", StoreSQLite, "path", cfg.StorePath, "sealed", sealer != nil)
		return st, nil

	case StorePostgres:
		pool, err := NewDBPool(ctx, cfg)
		if err != nil {
			return nil, err
		}

		device := cfg.DeviceID
		if device == "" {
			device = ids.MustULID(time.Now())
			log.Warn("store.device.generated", "device_id", device)
		}

		opts := []session.PostgresOption{session.WithPostgresLogger(log)}
		if sealer != nil {
			opts = append(opts, session.WithPostgresSealer(sealer))
		}
		st, err := session.NewPostgresStore(pool, device, opts...)
		if err != nil {
			pool.Close()
			return nil, err
		}
		if err := st.Migrate(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("migrate session table: %w", err)
		}
		log.Info("store.open", "driver", StorePostgres, "device_id", device, "sealed", sealer != nil)

		// PostgresStore.Close is a no-op; the app owns the pool.
		return &pooledStore{Store: st, pool: pool}, nil

	default:
		return nil, fmt.Errorf("%w: unknown store driver %q", ErrConfig, cfg.StoreDriver)
	}
}

// pooledStore closes the pool it was opened with.
type pooledStore struct {
	session.Store
	pool *pgxpool.Pool
}

func (s *pooledStore) Close() error {
	err := s.Store.Close()
	s.pool.Close()
	return err
}
