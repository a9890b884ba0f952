package credstore

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	ierrors "github.com/jrsteele09/wanderwave-session/internal/errors"
)

// Driver identifiers supported by New.
const (
	DriverMemory = "memory"
	DriverFile   = "file"
	DriverRedis  = "redis"
	DriverSQLite = "sqlite"
)

// New creates a credential store based on the provided configuration.
func New(ctx context.Context, cfg Config) (Store, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = DriverMemory
	}

	switch driver {
	case DriverMemory:
		return NewMemory(), nil
	case DriverFile:
		if cfg.File == nil {
			return nil, errors.New("[credstore.New] file driver requires file configuration")
		}
		return NewFile(*cfg.File)
	case DriverRedis:
		if cfg.Redis == nil {
			return nil, errors.New("[credstore.New] redis driver requires redis configuration")
		}
		return NewRedis(ctx, *cfg.Redis)
	case DriverSQLite:
		if cfg.SQLite == nil || cfg.SQLite.DSN == "" {
			return nil, errors.New("[credstore.New] sqlite driver requires a dsn")
		}
		db, err := gorm.Open(sqlite.Open(cfg.SQLite.DSN), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, errors.Wrap(err, "[credstore.New] gorm.Open")
		}
		return NewSQLite(db)
	default:
		return nil, errors.Wrapf(ierrors.ErrUnknownStoreDriver, "[credstore.New] %q", driver)
	}
}
