package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/streamctl/internal/config"
	"github.com/danmuck/streamctl/internal/hostsim"
	"github.com/danmuck/streamctl/internal/protocol"
	"github.com/danmuck/streamctl/internal/protocol/session"
)

type runConfig struct {
	Host      string
	LogLevel  string
	Session   session.Config
	Admin     adminConfig
	Simulator simulatorConfig
}

type adminConfig struct {
	Listen      string
	CorsOrigins []string
	Token       string
}

type simulatorConfig struct {
	Listen string
	Host   hostsim.Config
}

func defaultRunConfig() runConfig {
	return runConfig{
		LogLevel: "info",
		Session:  session.DefaultConfig(),
		Simulator: simulatorConfig{
			Listen: fmt.Sprintf("127.0.0.1:%d", protocol.DefaultPort),
		},
	}
}

// loadRunConfig overlays only the keys present in path onto the defaults.
func loadRunConfig(path string) (runConfig, error) {
	cfg := defaultRunConfig()

	var raw config.File
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return runConfig{}, fmt.Errorf("load streamctl config: %w", err)
	}

	if meta.IsDefined("host") {
		cfg.Host = strings.TrimSpace(raw.Host)
	}
	if meta.IsDefined("port") {
		cfg.Session.Port = raw.Port
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}

	durations := []struct {
		key []string
		raw string
		dst *time.Duration
	}{
		{[]string{"control", "connect_timeout"}, raw.Control.ConnectTimeout, &cfg.Session.ConnectTimeout},
		{[]string{"control", "handshake_timeout"}, raw.Control.HandshakeTimeout, &cfg.Session.HandshakeTimeout},
		{[]string{"control", "loss_report_interval"}, raw.Control.LossReportInterval, &cfg.Session.LossReportInterval},
		{[]string{"escalation", "loss_period"}, raw.Escalation.LossPeriod, &cfg.Session.Escalation.LossPeriod},
		{[]string{"simulator", "reply_delay"}, raw.Simulator.ReplyDelay, &cfg.Simulator.Host.ReplyDelay},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key...) {
			continue
		}
		v, err := config.ParseDuration(d.raw)
		if err != nil {
			return runConfig{}, fmt.Errorf("parse %s: %w", strings.Join(d.key, "."), err)
		}
		*d.dst = v
	}

	if meta.IsDefined("control", "max_connect_attempts") {
		cfg.Session.MaxConnectAttempts = raw.Control.MaxConnectAttempts
	}
	if meta.IsDefined("control", "resync_mode") {
		cfg.Session.ResyncMode = protocol.ResyncMode(strings.TrimSpace(raw.Control.ResyncMode))
	}
	if meta.IsDefined("escalation", "max_loss_count_in_period") {
		cfg.Session.Escalation.MaxLossCountInPeriod = raw.Escalation.MaxLossCountInPeriod
	}
	if meta.IsDefined("escalation", "max_slow_sink_count") {
		cfg.Session.Escalation.MaxSlowSinkCount = raw.Escalation.MaxSlowSinkCount
	}
	if meta.IsDefined("escalation", "message_delay_factor") {
		cfg.Session.Escalation.MessageDelayFactor = raw.Escalation.MessageDelayFactor
	}
	if meta.IsDefined("admin", "listen") {
		cfg.Admin.Listen = strings.TrimSpace(raw.Admin.Listen)
	}
	if meta.IsDefined("admin", "cors_origins") {
		cfg.Admin.CorsOrigins = raw.Admin.CorsOrigins
	}
	if meta.IsDefined("admin", "token") {
		cfg.Admin.Token = strings.TrimSpace(raw.Admin.Token)
	}
	if meta.IsDefined("simulator", "listen") {
		cfg.Simulator.Listen = strings.TrimSpace(raw.Simulator.Listen)
	}
	if meta.IsDefined("simulator", "reply_status") {
		if raw.Simulator.ReplyStatus < 0 || raw.Simulator.ReplyStatus > 0xFFFF {
			return runConfig{}, fmt.Errorf("simulator.reply_status %d out of range", raw.Simulator.ReplyStatus)
		}
		cfg.Simulator.Host.ReplyStatus = uint16(raw.Simulator.ReplyStatus)
	}

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return runConfig{}, fmt.Errorf("unknown config key %q", undecoded[0].String())
	}
	cfg.Session = cfg.Session.WithDefaults()
	if err := cfg.Session.Validate(); err != nil {
		return runConfig{}, err
	}
	return cfg, nil
}

// fileView renders the effective settings back into the on-disk shape.
func (c runConfig) fileView() config.File {
	s := c.Session
	return config.File{
		Host:     c.Host,
		Port:     s.Port,
		LogLevel: c.LogLevel,
		Control: config.ControlSection{
			ConnectTimeout:     s.ConnectTimeout.String(),
			HandshakeTimeout:   s.HandshakeTimeout.String(),
			LossReportInterval: s.LossReportInterval.String(),
			MaxConnectAttempts: s.MaxConnectAttempts,
			ResyncMode:         string(s.ResyncMode),
		},
		Escalation: config.EscalationSection{
			LossPeriod:           s.Escalation.LossPeriod.String(),
			MaxLossCountInPeriod: s.Escalation.MaxLossCountInPeriod,
			MaxSlowSinkCount:     s.Escalation.MaxSlowSinkCount,
			MessageDelayFactor:   s.Escalation.MessageDelayFactor,
		},
		Admin: config.AdminSection{
			Listen:      c.Admin.Listen,
			CorsOrigins: c.Admin.CorsOrigins,
		},
		Simulator: config.SimulatorSection{
			Listen:      c.Simulator.Listen,
			ReplyStatus: int(c.Simulator.Host.ReplyStatus),
			ReplyDelay:  c.Simulator.Host.ReplyDelay.String(),
		},
	}
}
