package config

import (
	"errors"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Load reads an optional .env file into the process environment and returns
// the env-backed configuration. A missing .env file is not an error.
func Load(useDotEnv bool, files ...string) (Config, error) {
	if useDotEnv {
		if err := godotenv.Load(files...); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, err
			}
			log.Debug().Msg("no .env file found, using process environment")
		}
	}
	return New(), nil
}
