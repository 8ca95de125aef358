package app

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/yungbote/clinical-mdr/internal/data/aggregates"
	mdrdb "github.com/yungbote/clinical-mdr/internal/data/db"
	domainagg "github.com/yungbote/clinical-mdr/internal/domain/aggregates"
	"github.com/yungbote/clinical-mdr/internal/platform/logger"
)

func testConfig(driver string) Config {
	return Config{StorageDriver: driver, Libraries: defaultLibraries()}
}

func TestClassifyStorageBootstrapErrorKeepsCode(t *testing.T) {
	src := &StorageBootstrapError{Code: StorageBootstrapErrorSchemaFailed, Driver: StorageSQLite, Cause: errors.New("boom")}
	err := classifyStorageBootstrapError(StorageSQLite, src)
	if got := storageBootstrapErrorCode(err); got != StorageBootstrapErrorSchemaFailed {
		t.Fatalf("code: want=%q got=%q", StorageBootstrapErrorSchemaFailed, got)
	}
}

func TestClassifyStorageBootstrapErrorConnectFailed(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := classifyStorageBootstrapError(StoragePostgres, cause)

	var got *StorageBootstrapError
	if !errors.As(err, &got) {
		t.Fatalf("expected StorageBootstrapError, got=%T", err)
	}
	if got.Code != StorageBootstrapErrorConnectFailed || got.Driver != StoragePostgres {
		t.Fatalf("unexpected classification: %+v", got)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("cause must unwrap")
	}
}

func TestResolveChainStoreInvalidDriver(t *testing.T) {
	_, err := resolveChainStore(context.Background(), logger.NewNop(), testConfig("cassandra"))
	if got := storageBootstrapErrorCode(err); got != StorageBootstrapErrorInvalidDriver {
		t.Fatalf("code: want=%q got=%q err=%v", StorageBootstrapErrorInvalidDriver, got, err)
	}
}

func TestResolveChainStoreNeo4jNeedsURI(t *testing.T) {
	_, err := resolveChainStore(context.Background(), logger.NewNop(), testConfig(StorageNeo4j))
	if got := storageBootstrapErrorCode(err); got != StorageBootstrapErrorMissingConfig {
		t.Fatalf("code: want=%q got=%q", StorageBootstrapErrorMissingConfig, got)
	}
}

func TestResolveChainStorePostgresConnectFailed(t *testing.T) {
	orig := newPostgresService
	t.Cleanup(func() { newPostgresService = orig })
	newPostgresService = func(mdrdb.PostgresConfig, *logger.Logger) (*mdrdb.Service, error) {
		return nil, errors.New("connection refused")
	}
	_, err := resolveChainStore(context.Background(), logger.NewNop(), testConfig(StoragePostgres))
	if got := storageBootstrapErrorCode(err); got != StorageBootstrapErrorConnectFailed {
		t.Fatalf("code: want=%q got=%q", StorageBootstrapErrorConnectFailed, got)
	}
}

func assertSeeded(t *testing.T, store aggregates.ChainStore) {
	t.Helper()
	var lib domainagg.Library
	if err := store.View(context.Background(), func(tx aggregates.ChainTx) error {
		var err error
		lib, err = tx.GetLibrary("CDISC")
		return err
	}); err != nil {
		t.Fatalf("get seeded library: %v", err)
	}
	if lib.IsEditable {
		t.Fatalf("CDISC must be seeded as non-editable")
	}
}

func TestResolveChainStoreMemorySeedsLibraries(t *testing.T) {
	st, err := resolveChainStore(context.Background(), logger.NewNop(), testConfig(StorageMemory))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	assertSeeded(t, st.Store)
	if err := st.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
}

func TestResolveChainStoreSQLite(t *testing.T) {
	cfg := testConfig(StorageSQLite)
	cfg.SQLitePath = filepath.Join(t.TempDir(), "mdr.db")
	st, err := resolveChainStore(context.Background(), logger.NewNop(), cfg)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	t.Cleanup(func() { _ = st.Close(context.Background()) })
	if st.DB == nil {
		t.Fatalf("sqlite storage must expose its gorm handle")
	}
	assertSeeded(t, st.Store)
	if err := st.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
}
