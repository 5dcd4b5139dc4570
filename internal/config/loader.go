package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/btlatency/pkg/pcm"
)

// OpusRates lists the sample rates the Opus loopback stage accepts.
var OpusRates = []int{8000, 12000, 16000, 24000, 48000}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, fills in defaults and
// validates the result. An empty document yields the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a Config with every default applied.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills zero fields of cfg with their defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Probe.Interval == 0 {
		cfg.Probe.Interval = DefaultInterval
	}
	if cfg.Probe.Timeout == 0 {
		cfg.Probe.Timeout = DefaultTimeout
	}
	if cfg.BlueALSA.OpenDelay == 0 {
		cfg.BlueALSA.OpenDelay = DefaultOpenDelay
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Loopback.Format == 0 {
		cfg.Loopback.Format = pcm.S16LE
	}
	if cfg.Loopback.Channels == 0 {
		cfg.Loopback.Channels = DefaultChannels
	}
	if cfg.Loopback.Rate == 0 {
		cfg.Loopback.Rate = DefaultRate
	}
	if cfg.Loopback.Codec == "" {
		cfg.Loopback.Codec = CodecPCM
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Probe
	if cfg.Probe.Interval <= MinInterval {
		errs = append(errs, fmt.Errorf("probe.interval %v must be longer than %v", cfg.Probe.Interval, MinInterval))
	}
	if cfg.Probe.StallTimeout < 0 {
		errs = append(errs, fmt.Errorf("probe.stall_timeout %v must not be negative", cfg.Probe.StallTimeout))
	}
	if cfg.BlueALSA.OpenDelay < 0 {
		errs = append(errs, fmt.Errorf("bluealsa.open_delay %v must not be negative", cfg.BlueALSA.OpenDelay))
	}

	// Loopback
	lb := cfg.Loopback
	if lb.Format != 0 {
		switch {
		case !lb.Format.IsValid():
			errs = append(errs, fmt.Errorf("loopback.format: %w", pcm.ErrUnknownFormat))
		case !lb.Format.Supported():
			errs = append(errs, fmt.Errorf("loopback.format %s: %w", lb.Format, pcm.ErrUnsupportedFormat))
		}
	}
	if lb.Channels < 0 {
		errs = append(errs, fmt.Errorf("loopback.channels %d must be positive", lb.Channels))
	}
	if lb.Rate != 0 && lb.Rate < 10 {
		errs = append(errs, fmt.Errorf("loopback.rate %d Hz is too low", lb.Rate))
	}
	if lb.Codec != "" && !lb.Codec.IsValid() {
		errs = append(errs, fmt.Errorf("loopback.codec %q is invalid; valid values: pcm, opus", lb.Codec))
	}
	if lb.Codec == CodecOpus {
		if lb.Format != pcm.S16LE {
			errs = append(errs, fmt.Errorf("loopback.codec opus requires format S16_LE, got %s", lb.Format))
		}
		if lb.Channels < 1 || lb.Channels > 2 {
			errs = append(errs, fmt.Errorf("loopback.codec opus supports 1 or 2 channels, got %d", lb.Channels))
		}
		if !slices.Contains(OpusRates, lb.Rate) {
			errs = append(errs, fmt.Errorf("loopback.codec opus does not support rate %d; valid rates: %v", lb.Rate, OpusRates))
		}
	}

	return errors.Join(errs...)
}
