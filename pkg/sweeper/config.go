package sweeper

import "time"

// Config controls retry sweeps.
type Config struct {
	Interval       time.Duration `env:"SWEEPER_INTERVAL" envDefault:"1m"`         // Interval between sweeps.
	BatchSize      int           `env:"SWEEPER_BATCH_SIZE" envDefault:"50"`       // BatchSize caps records retried per sweep.
	MaxRetries     int           `env:"SWEEPER_MAX_RETRIES" envDefault:"5"`       // MaxRetries is the retry ceiling; records at it stay failed.
	MinAge         time.Duration `env:"SWEEPER_MIN_AGE" envDefault:"1m"`          // MinAge is how long a failed record rests before a retry.
	StaleAfter     time.Duration `env:"SWEEPER_STALE_AFTER" envDefault:"15m"`     // StaleAfter reclaims processing records untouched this long.
	AttemptTimeout time.Duration `env:"SWEEPER_ATTEMPT_TIMEOUT" envDefault:"10s"` // AttemptTimeout bounds one retried transition.
}

// DefaultConfig mirrors the env defaults.
func DefaultConfig() Config {
	return Config{
		Interval:       time.Minute,
		BatchSize:      50,
		MaxRetries:     5,
		MinAge:         time.Minute,
		StaleAfter:     15 * time.Minute,
		AttemptTimeout: 10 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Interval <= 0 {
		c.Interval = d.Interval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.MinAge < 0 {
		c.MinAge = 0
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = d.AttemptTimeout
	}
	return c
}
