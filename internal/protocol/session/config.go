package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/danmuck/streamctl/internal/protocol"
)

var ErrInvalidConfig = errors.New("session: invalid config")

// BackoffConfig defines retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// EscalationConfig tunes when degraded-network signals become advisories.
type EscalationConfig struct {
	LossPeriod           time.Duration
	MaxLossCountInPeriod int
	MaxSlowSinkCount     int
	MessageDelayFactor   int
}

// Config defines control-channel defaults.
type Config struct {
	Port               int
	ConnectTimeout     time.Duration
	HandshakeTimeout   time.Duration
	LossReportInterval time.Duration
	MaxConnectAttempts int
	ResyncMode         protocol.ResyncMode
	Escalation         EscalationConfig
	Backoff            BackoffConfig
}

// DefaultConfig returns the values the streaming host expects.
func DefaultConfig() Config {
	return Config{
		Port:               protocol.DefaultPort,
		ConnectTimeout:     5 * time.Second,
		HandshakeTimeout:   5 * time.Second,
		LossReportInterval: 50 * time.Millisecond,
		MaxConnectAttempts: 1,
		ResyncMode:         protocol.ResyncModeCompat,
		Escalation: EscalationConfig{
			LossPeriod:           15 * time.Second,
			MaxLossCountInPeriod: 2,
			MaxSlowSinkCount:     2,
			MessageDelayFactor:   3,
		},
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     5 * time.Second,
			Jitter:       true,
		},
	}
}

// WithDefaults fills zero-valued fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.Port == 0 {
		c.Port = def.Port
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = def.HandshakeTimeout
	}
	if c.LossReportInterval == 0 {
		c.LossReportInterval = def.LossReportInterval
	}
	if c.MaxConnectAttempts == 0 {
		c.MaxConnectAttempts = def.MaxConnectAttempts
	}
	c.ResyncMode = protocol.NormalizeResyncMode(c.ResyncMode)
	if c.Escalation.LossPeriod == 0 {
		c.Escalation.LossPeriod = def.Escalation.LossPeriod
	}
	if c.Escalation.MaxLossCountInPeriod == 0 {
		c.Escalation.MaxLossCountInPeriod = def.Escalation.MaxLossCountInPeriod
	}
	if c.Escalation.MaxSlowSinkCount == 0 {
		c.Escalation.MaxSlowSinkCount = def.Escalation.MaxSlowSinkCount
	}
	if c.Escalation.MessageDelayFactor == 0 {
		c.Escalation.MessageDelayFactor = def.Escalation.MessageDelayFactor
	}
	if c.Backoff == (BackoffConfig{}) {
		c.Backoff = def.Backoff
	}
	return c
}

func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidConfig, c.Port)
	}
	if c.ConnectTimeout < 0 || c.HandshakeTimeout < 0 {
		return fmt.Errorf("%w: negative timeout", ErrInvalidConfig)
	}
	if c.LossReportInterval <= 0 {
		return fmt.Errorf("%w: loss report interval must be positive", ErrInvalidConfig)
	}
	if c.MaxConnectAttempts < 0 {
		return fmt.Errorf("%w: max connect attempts must not be negative", ErrInvalidConfig)
	}
	switch protocol.NormalizeResyncMode(c.ResyncMode) {
	case protocol.ResyncModeCompat, protocol.ResyncModeRange:
	default:
		return fmt.Errorf("%w: resync mode %q", ErrInvalidConfig, c.ResyncMode)
	}
	e := c.Escalation
	if e.LossPeriod <= 0 {
		return fmt.Errorf("%w: loss period must be positive", ErrInvalidConfig)
	}
	if e.MaxLossCountInPeriod <= 0 || e.MaxSlowSinkCount <= 0 {
		return fmt.Errorf("%w: escalation thresholds must be positive", ErrInvalidConfig)
	}
	if e.MessageDelayFactor < 0 {
		return fmt.Errorf("%w: message delay factor must not be negative", ErrInvalidConfig)
	}
	return nil
}
