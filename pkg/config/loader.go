// Package config loads env-tagged structs from the process environment.
//
// A .env file in the working directory, if present, is loaded once before the
// first parse. Structs that implement Validator are checked after parsing so
// cross-field rules fail at startup rather than on first use.
package config

import (
	"errors"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Validator is implemented by configs with rules env tags cannot express.
type Validator interface {
	Validate() error
}

var dotenvOnce sync.Once

// Load parses the process environment into a new T.
//
//	type SweeperConfig struct {
//		Interval time.Duration `env:"SWEEPER_INTERVAL" envDefault:"1m"`
//	}
//
//	cfg, err := config.Load[SweeperConfig]()
func Load[T any]() (T, error) {
	dotenvOnce.Do(func() {
		// missing .env is fine
		_ = godotenv.Load()
	})
	return parse[T](env.Options{})
}

// LoadFrom parses vars instead of the process environment. Intended for tests.
func LoadFrom[T any](vars map[string]string) (T, error) {
	return parse[T](env.Options{Environment: vars})
}

func parse[T any](opts env.Options) (T, error) {
	var cfg T
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return cfg, errors.Join(ErrParsingConfig, err)
	}
	if v, ok := any(&cfg).(Validator); ok {
		if err := v.Validate(); err != nil {
			return cfg, errors.Join(ErrInvalidConfig, err)
		}
	}
	return cfg, nil
}
