// Package credstore persists the session credentials under fixed keys.
//
// Only the session store writes through this package; the HTTP gateway reads
// the access credential from it before every request.
package credstore

import (
	"context"
	"time"
)

// Key names a persisted credential.
type Key string

const (
	AccessKey  Key = "access"
	RefreshKey Key = "refresh"
)

// AllKeys lists every key the store manages.
var AllKeys = []Key{AccessKey, RefreshKey}

// Store is client-local persistent credential storage.
// Get returns "" with a nil error when the key is absent. Save and Delete
// apply all of their keys atomically.
type Store interface {
	Get(ctx context.Context, key Key) (string, error)
	Save(ctx context.Context, values map[Key]string) error
	Delete(ctx context.Context, keys ...Key) error
	Close(ctx context.Context) error
}

// Credentials is the pair of persisted values.
type Credentials struct {
	Access  string
	Refresh string
}

// Load reads both credentials from s.
func Load(ctx context.Context, s Store) (Credentials, error) {
	access, err := s.Get(ctx, AccessKey)
	if err != nil {
		return Credentials{}, err
	}
	refresh, err := s.Get(ctx, RefreshKey)
	if err != nil {
		return Credentials{}, err
	}
	return Credentials{Access: access, Refresh: refresh}, nil
}

// Config describes the credential store selection.
type Config struct {
	Driver string
	File   *FileConfig
	Redis  *RedisConfig
	SQLite *SQLiteConfig
}

// FileConfig locates the YAML credential file.
type FileConfig struct {
	Path string
}

// RedisConfig captures connection options.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration // zero keeps keys until deleted
}

// SQLiteConfig locates the database.
type SQLiteConfig struct {
	DSN string
}
