package gorig

import (
	"time"

	"go.uber.org/zap"
)

const (
	DefaultBaudrate     = 57600
	DefaultReadTimeout  = 5 * time.Second
	DefaultAckTimeout   = time.Second
	DefaultWakeInterval = time.Second
	DefaultMaxRetries   = 10
)

type Config struct {
	Debug        bool
	Port         string
	PortBaudrate int
	// ReadTimeout bounds how long a blocked Read waits for its reply.
	ReadTimeout  time.Duration
	AckTimeout   time.Duration
	WakeInterval time.Duration
	MaxRetries   int
	Logger       *zap.Logger
	// OnProgress is called while the cache is filled at start of day.
	OnProgress func(done, total int)
}

func (c *Config) withDefaults() *Config {
	out := *c
	if out.PortBaudrate == 0 {
		out.PortBaudrate = DefaultBaudrate
	}
	if out.ReadTimeout <= 0 {
		out.ReadTimeout = DefaultReadTimeout
	}
	if out.AckTimeout <= 0 {
		out.AckTimeout = DefaultAckTimeout
	}
	if out.WakeInterval < time.Second {
		out.WakeInterval = DefaultWakeInterval
	}
	if out.MaxRetries <= 0 {
		out.MaxRetries = DefaultMaxRetries
	}
	if out.Logger == nil {
		out.Logger = zap.NewNop()
	}
	if out.OnProgress == nil {
		out.OnProgress = func(int, int) {}
	}
	return &out
}

// WithDefaults returns a copy of c with every unset field filled in.
func (c *Config) WithDefaults() *Config { return c.withDefaults() }
