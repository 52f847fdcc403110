package config_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingsync/pkg/config"
)

type sampleConfig struct {
	Addr     string        `env:"SAMPLE_ADDR" envDefault:":8080"`
	Interval time.Duration `env:"SAMPLE_INTERVAL" envDefault:"1m"`
	Secret   string        `env:"SAMPLE_SECRET,required"`
}

type validatedConfig struct {
	Min int `env:"SAMPLE_MIN" envDefault:"1"`
	Max int `env:"SAMPLE_MAX" envDefault:"5"`
}

func (c *validatedConfig) Validate() error {
	if c.Min > c.Max {
		return errors.New("min exceeds max")
	}
	return nil
}

func TestLoadFrom(t *testing.T) {
	t.Parallel()

	t.Run("applies defaults and overrides", func(t *testing.T) {
		t.Parallel()
		cfg, err := config.LoadFrom[sampleConfig](map[string]string{
			"SAMPLE_SECRET":   "s3cret",
			"SAMPLE_INTERVAL": "30s",
		})
		require.NoError(t, err)
		assert.Equal(t, ":8080", cfg.Addr)
		assert.Equal(t, 30*time.Second, cfg.Interval)
		assert.Equal(t, "s3cret", cfg.Secret)
	})

	t.Run("missing required variable", func(t *testing.T) {
		t.Parallel()
		_, err := config.LoadFrom[sampleConfig](map[string]string{})
		require.Error(t, err)
		assert.ErrorIs(t, err, config.ErrParsingConfig)
	})

	t.Run("runs validator", func(t *testing.T) {
		t.Parallel()
		_, err := config.LoadFrom[validatedConfig](map[string]string{"SAMPLE_MIN": "9"})
		require.Error(t, err)
		assert.ErrorIs(t, err, config.ErrInvalidConfig)

		cfg, err := config.LoadFrom[validatedConfig](map[string]string{"SAMPLE_MIN": "2"})
		require.NoError(t, err)
		assert.Equal(t, 2, cfg.Min)
	})
}
