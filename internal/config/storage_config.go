package config

type StorageConfig interface {
	GetCredentialStore() string
	GetCredentialFile() string
	GetRedisAddr() string
	GetRedisPassword() string
	GetRedisDB() int
	GetRedisPrefix() string
	GetSQLiteDSN() string
}

type Storage struct{}

var _ StorageConfig = Storage{}

// GetCredentialStore names the credential store driver: memory, file, redis or sqlite.
func (Storage) GetCredentialStore() string {
	return GetEnv("CREDENTIAL_STORE", "file")
}

func (Storage) GetCredentialFile() string {
	return GetEnv("CREDENTIAL_FILE", "./data/credentials.yaml")
}

func (Storage) GetRedisAddr() string {
	return GetEnv("REDIS_ADDR", "localhost:6379")
}

func (Storage) GetRedisPassword() string {
	return GetEnv("REDIS_PASSWORD", "")
}

func (Storage) GetRedisDB() int {
	return GetIntEnv("REDIS_DB", 0)
}

func (Storage) GetRedisPrefix() string {
	return GetEnv("REDIS_PREFIX", "wanderwave:credentials:")
}

func (Storage) GetSQLiteDSN() string {
	return GetEnv("SQLITE_DSN", "./data/credentials.db")
}
