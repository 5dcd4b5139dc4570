// Package config provides the configuration schema and loader for btlatency.
//
// A YAML file is optional: every setting has a command line flag and a
// default. Flags that were set explicitly override values from the file.
package config

import (
	"time"

	"github.com/MrWong99/btlatency/pkg/pcm"
)

// Defaults applied by [ApplyDefaults].
const (
	DefaultInterval  = 2 * time.Second
	DefaultTimeout   = 60 * time.Second
	DefaultOpenDelay = time.Second
	DefaultRate      = 48000
	DefaultChannels  = 2
)

// MinInterval is the shortest marker period; it must exceed the 100 ms burst.
const MinInterval = 100 * time.Millisecond

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// LoopbackCodec selects the transport emulated by the loopback command.
type LoopbackCodec string

const (
	// CodecPCM passes frames through unchanged.
	CodecPCM LoopbackCodec = "pcm"

	// CodecOpus round-trips frames through an Opus encoder and decoder.
	CodecOpus LoopbackCodec = "opus"
)

// IsValid reports whether c is a recognised loopback codec.
func (c LoopbackCodec) IsValid() bool {
	return c == CodecPCM || c == CodecOpus
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Probe    ProbeConfig    `yaml:"probe"`
	BlueALSA BlueALSAConfig `yaml:"bluealsa"`
	Server   ServerConfig   `yaml:"server"`
	Loopback LoopbackConfig `yaml:"loopback"`
}

// ProbeConfig holds the measurement settings.
type ProbeConfig struct {
	// PCM is the BlueALSA PCM D-Bus path.
	PCM string `yaml:"pcm"`

	// Interval is the marker period.
	Interval time.Duration `yaml:"interval"`

	// Timeout ends the session. Zero means [DefaultTimeout]; a negative
	// value runs until interrupted.
	Timeout time.Duration `yaml:"timeout"`

	// StallTimeout marks the stream unhealthy after this long without
	// moving frames. Zero disables stall detection.
	StallTimeout time.Duration `yaml:"stall_timeout"`
}

// Deadline returns the session timeout and whether one applies.
func (p ProbeConfig) Deadline() (time.Duration, bool) {
	return p.Timeout, p.Timeout > 0
}

// BlueALSAConfig configures the bluealsactl collaborator.
type BlueALSAConfig struct {
	// Binary is the control client; empty means "bluealsactl" on PATH.
	Binary string `yaml:"binary"`

	// Service is the D-Bus service name suffix (--dbus).
	Service string `yaml:"service"`

	// OpenDelay is the pause after starting the open command.
	OpenDelay time.Duration `yaml:"open_delay"`
}

// ServerConfig holds logging and the optional metrics listener.
type ServerConfig struct {
	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// MetricsAddr is the TCP address serving /metrics, /healthz and
	// /readyz (e.g. ":9464"). Empty disables the listener.
	MetricsAddr string `yaml:"metrics_addr"`
}

// LoopbackConfig describes the synthetic stream used by the loopback
// command.
type LoopbackConfig struct {
	Format   pcm.Format    `yaml:"format"`
	Channels int           `yaml:"channels"`
	Rate     int           `yaml:"rate"`
	Codec    LoopbackCodec `yaml:"codec"`
}
