package ingest

import "time"

// Config controls delivery processing.
type Config struct {
	DeliveryTimeout time.Duration `env:"WEBHOOK_DELIVERY_TIMEOUT" envDefault:"10s"`   // DeliveryTimeout bounds one transition.
	MaxBodyBytes    int64         `env:"WEBHOOK_MAX_BODY_BYTES" envDefault:"1048576"` // MaxBodyBytes rejects larger deliveries with 413.
	Path            string        `env:"WEBHOOK_PATH" envDefault:"/webhooks/billing"` // Path the endpoint is mounted on.
}

// DefaultConfig mirrors the env defaults.
func DefaultConfig() Config {
	return Config{
		DeliveryTimeout: 10 * time.Second,
		MaxBodyBytes:    1 << 20,
		Path:            "/webhooks/billing",
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.DeliveryTimeout <= 0 {
		c.DeliveryTimeout = d.DeliveryTimeout
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = d.MaxBodyBytes
	}
	if c.Path == "" {
		c.Path = d.Path
	}
	return c
}
