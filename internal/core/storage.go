package core

import (
	"context"
	"fmt"
	"os"

	"fmeacore/internal/infra/persistence/memory"
	"fmeacore/internal/infra/persistence/postgres"
	"fmeacore/internal/infra/persistence/sqlite"
	"fmeacore/pkg/domain"
)

// StorageDriver identifies a concrete persistent storage implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

type (
	Transaction     = domain.Transaction
	TransactionView = domain.TransactionView
	PersistentStore = domain.PersistentStore
)

// StorageOptions selects and parameterises a backend.
type StorageOptions struct {
	Driver      StorageDriver
	SQLitePath  string
	PostgresDSN string
}

// StorageOptionsFromEnv reads backend selection from the environment.
//
//	FMEACORE_STORAGE_DRIVER: memory|sqlite|postgres (default sqlite)
//	FMEACORE_SQLITE_PATH: path to sqlite file (default ./fmeacore.db)
//	FMEACORE_POSTGRES_DSN: postgres DSN when driver=postgres
func StorageOptionsFromEnv() StorageOptions {
	return StorageOptions{
		Driver:      StorageDriver(os.Getenv("FMEACORE_STORAGE_DRIVER")),
		SQLitePath:  os.Getenv("FMEACORE_SQLITE_PATH"),
		PostgresDSN: os.Getenv("FMEACORE_POSTGRES_DSN"),
	}
}

// OpenStorage constructs the backend described by opts. An empty driver selects sqlite.
func OpenStorage(ctx context.Context, opts StorageOptions, engine *RulesEngine) (PersistentStore, error) {
	driver := opts.Driver
	if driver == "" {
		driver = StorageSQLite
	}
	switch driver {
	case StorageMemory:
		return memory.NewStore(engine), nil
	case StorageSQLite:
		return sqlite.NewStore(opts.SQLitePath, engine)
	case StoragePostgres:
		return postgres.NewStore(ctx, opts.PostgresDSN, engine)
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}

// OpenPersistentStore selects a backend using environment variables.
func OpenPersistentStore(ctx context.Context, engine *RulesEngine) (PersistentStore, error) {
	return OpenStorage(ctx, StorageOptionsFromEnv(), engine)
}
