package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/yungbote/clinical-mdr/internal/data/aggregates"
	mdrdb "github.com/yungbote/clinical-mdr/internal/data/db"
	"github.com/yungbote/clinical-mdr/internal/data/graph"
	domainagg "github.com/yungbote/clinical-mdr/internal/domain/aggregates"
	"github.com/yungbote/clinical-mdr/internal/platform/logger"
	"github.com/yungbote/clinical-mdr/internal/platform/neo4jdb"
)

var (
	newPostgresService = mdrdb.NewPostgresService
	newSQLiteService   = mdrdb.NewSQLiteService
	newNeo4jClient     = neo4jdb.New
)

type StorageBootstrapErrorCode string

const (
	StorageBootstrapErrorInvalidDriver StorageBootstrapErrorCode = "invalid_driver"
	StorageBootstrapErrorMissingConfig StorageBootstrapErrorCode = "missing_config"
	StorageBootstrapErrorConnectFailed StorageBootstrapErrorCode = "connect_failed"
	StorageBootstrapErrorSchemaFailed  StorageBootstrapErrorCode = "schema_failed"
	StorageBootstrapErrorSeedFailed    StorageBootstrapErrorCode = "seed_failed"
)

type StorageBootstrapError struct {
	Code   StorageBootstrapErrorCode
	Driver string
	Cause  error
}

func (e *StorageBootstrapError) Error() string {
	if e == nil {
		return "chain store bootstrap failed"
	}
	return fmt.Sprintf("chain store bootstrap failed (code=%s driver=%q): %v", e.Code, e.Driver, e.Cause)
}

func (e *StorageBootstrapError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// chainStorage is the selected backend plus what the app needs to health check and close it.
type chainStorage struct {
	Store  aggregates.ChainStore
	DB     *gorm.DB
	Ping   func(ctx context.Context) error
	Close  func(ctx context.Context) error
	Driver string
}

func resolveChainStore(ctx context.Context, log *logger.Logger, cfg Config) (*chainStorage, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.StorageDriver))
	log.Info("Selecting chain store", "driver", driver)

	out, err := openChainStore(ctx, log, cfg, driver)
	if err != nil {
		classified := classifyStorageBootstrapError(driver, err)
		log.Error("Chain store bootstrap failed", "driver", driver, "error_code", storageBootstrapErrorCode(classified), "error", classified)
		return nil, classified
	}
	if err := seedLibraries(ctx, out.Store, cfg.Libraries); err != nil {
		_ = out.Close(ctx)
		classified := &StorageBootstrapError{Code: StorageBootstrapErrorSeedFailed, Driver: driver, Cause: err}
		log.Error("Library seed failed", "driver", driver, "error", classified)
		return nil, classified
	}
	return out, nil
}

func openChainStore(ctx context.Context, log *logger.Logger, cfg Config, driver string) (*chainStorage, error) {
	noop := func(context.Context) error { return nil }
	switch driver {
	case StorageMemory:
		return &chainStorage{Store: aggregates.NewMemoryStore(), Ping: noop, Close: noop, Driver: driver}, nil

	case StoragePostgres, StorageSQLite:
		var (
			svc *mdrdb.Service
			err error
		)
		if driver == StoragePostgres {
			svc, err = newPostgresService(cfg.Postgres, log)
		} else {
			svc, err = newSQLiteService(cfg.SQLitePath, log)
		}
		if err != nil {
			return nil, err
		}
		if err := migrate(svc.DB()); err != nil {
			_ = svc.Close()
			return nil, &StorageBootstrapError{Code: StorageBootstrapErrorSchemaFailed, Driver: driver, Cause: err}
		}
		return &chainStorage{
			Store: aggregates.NewGormStore(svc.DB(), log),
			DB:    svc.DB(),
			Ping: func(ctx context.Context) error {
				sqlDB, err := svc.DB().DB()
				if err != nil {
					return err
				}
				return sqlDB.PingContext(ctx)
			},
			Close:  func(context.Context) error { return svc.Close() },
			Driver: driver,
		}, nil

	case StorageNeo4j:
		if strings.TrimSpace(cfg.Neo4jURI) == "" {
			return nil, &StorageBootstrapError{Code: StorageBootstrapErrorMissingConfig, Driver: driver, Cause: errors.New("NEO4J_URI is required")}
		}
		client, err := newNeo4jClient(neo4jdb.Config{
			URI:      cfg.Neo4jURI,
			User:     cfg.Neo4jUser,
			Password: cfg.Neo4jPassword,
			Database: cfg.Neo4jDatabase,
		}, log)
		if err != nil {
			return nil, err
		}
		store := graph.NewNeo4jChainStore(client, log)
		if err := store.EnsureSchema(ctx); err != nil {
			_ = client.Close(ctx)
			return nil, &StorageBootstrapError{Code: StorageBootstrapErrorSchemaFailed, Driver: driver, Cause: err}
		}
		return &chainStorage{
			Store:  store,
			Ping:   func(ctx context.Context) error { return client.Driver.VerifyConnectivity(ctx) },
			Close:  client.Close,
			Driver: driver,
		}, nil
	}
	return nil, &StorageBootstrapError{Code: StorageBootstrapErrorInvalidDriver, Driver: driver, Cause: fmt.Errorf("unsupported storage driver %q", driver)}
}

func migrate(db *gorm.DB) error {
	if err := mdrdb.AutoMigrateAll(db); err != nil {
		return err
	}
	return mdrdb.EnsureVersionIndexes(db)
}

func seedLibraries(ctx context.Context, store aggregates.ChainStore, libs []domainagg.Library) error {
	if len(libs) == 0 {
		return nil
	}
	return store.InTx(ctx, func(tx aggregates.ChainTx) error {
		for _, lib := range libs {
			if err := tx.PutLibrary(lib); err != nil {
				return err
			}
		}
		return nil
	})
}

func classifyStorageBootstrapError(driver string, err error) error {
	var bootstrapErr *StorageBootstrapError
	if errors.As(err, &bootstrapErr) {
		return err
	}
	return &StorageBootstrapError{Code: StorageBootstrapErrorConnectFailed, Driver: driver, Cause: err}
}

func storageBootstrapErrorCode(err error) StorageBootstrapErrorCode {
	var bootstrapErr *StorageBootstrapError
	if errors.As(err, &bootstrapErr) && bootstrapErr.Code != "" {
		return bootstrapErr.Code
	}
	return StorageBootstrapErrorConnectFailed
}
