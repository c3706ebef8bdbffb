package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/danmuck/streamctl/internal/logging"
	"github.com/danmuck/streamctl/internal/protocol"
	"github.com/pelletier/go-toml/v2"
)

// File is the on-disk streamctl configuration.
type File struct {
	Host       string            `toml:"host"`
	Port       int               `toml:"port,omitempty"`
	LogLevel   string            `toml:"log_level,omitempty"`
	Control    ControlSection    `toml:"control"`
	Escalation EscalationSection `toml:"escalation"`
	Admin      AdminSection      `toml:"admin"`
	Simulator  SimulatorSection  `toml:"simulator"`
}

type ControlSection struct {
	ConnectTimeout     string `toml:"connect_timeout,omitempty"`
	HandshakeTimeout   string `toml:"handshake_timeout,omitempty"`
	LossReportInterval string `toml:"loss_report_interval,omitempty"`
	MaxConnectAttempts int    `toml:"max_connect_attempts,omitempty"`
	ResyncMode         string `toml:"resync_mode,omitempty"`
}

type EscalationSection struct {
	LossPeriod           string `toml:"loss_period,omitempty"`
	MaxLossCountInPeriod int    `toml:"max_loss_count_in_period,omitempty"`
	MaxSlowSinkCount     int    `toml:"max_slow_sink_count,omitempty"`
	MessageDelayFactor   int    `toml:"message_delay_factor,omitempty"`
}

type AdminSection struct {
	Listen      string   `toml:"listen,omitempty"`
	CorsOrigins []string `toml:"cors_origins,omitempty"`
	Token       string   `toml:"token,omitempty"`
}

type SimulatorSection struct {
	Listen      string `toml:"listen,omitempty"`
	ReplyStatus int    `toml:"reply_status,omitempty"`
	ReplyDelay  string `toml:"reply_delay,omitempty"`
}

// Load reads path strictly: unknown keys are an error.
func Load(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	var cfg File
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return File{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	if err := Validate(cfg); err != nil {
		return File{}, fmt.Errorf("config invalid (%s): %w", path, err)
	}
	return cfg, nil
}

// Encode renders cfg as TOML.
func Encode(cfg File) ([]byte, error) {
	return toml.Marshal(cfg)
}

func Validate(cfg File) error {
	if strings.TrimSpace(cfg.Host) == "" {
		return fmt.Errorf("host is required")
	}
	if cfg.Port < 0 || cfg.Port > 65535 {
		return fmt.Errorf("port %d out of range", cfg.Port)
	}
	if lvl := strings.TrimSpace(cfg.LogLevel); lvl != "" {
		if _, ok := logging.ParseLevel(lvl); !ok {
			return fmt.Errorf("unknown log_level %q", cfg.LogLevel)
		}
	}
	durations := map[string]string{
		"control.connect_timeout":      cfg.Control.ConnectTimeout,
		"control.handshake_timeout":    cfg.Control.HandshakeTimeout,
		"control.loss_report_interval": cfg.Control.LossReportInterval,
		"escalation.loss_period":       cfg.Escalation.LossPeriod,
		"simulator.reply_delay":        cfg.Simulator.ReplyDelay,
	}
	for key, raw := range durations {
		if _, err := ParseDuration(raw); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	if cfg.Control.MaxConnectAttempts < 0 {
		return fmt.Errorf("control.max_connect_attempts must not be negative")
	}
	switch protocol.NormalizeResyncMode(protocol.ResyncMode(cfg.Control.ResyncMode)) {
	case protocol.ResyncModeCompat, protocol.ResyncModeRange:
	default:
		return fmt.Errorf("control.resync_mode %q must be compat or range", cfg.Control.ResyncMode)
	}
	if cfg.Simulator.ReplyStatus < 0 || cfg.Simulator.ReplyStatus > 0xFFFF {
		return fmt.Errorf("simulator.reply_status %d out of range", cfg.Simulator.ReplyStatus)
	}
	return nil
}

// ParseDuration accepts "" as zero and otherwise a positive Go duration.
func ParseDuration(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", raw)
	}
	return d, nil
}
