package config

import "time"

// ConfigDiff describes what changed between two configs.
// Only fields that can be applied to a running session are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	StallTimeoutChanged bool
	NewStallTimeout     time.Duration

	// RestartRequired lists settings that changed but only take effect in
	// a new session.
	RestartRequired []string
}

// Changed reports whether d carries any change.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.StallTimeoutChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Probe.StallTimeout != new.Probe.StallTimeout {
		d.StallTimeoutChanged = true
		d.NewStallTimeout = new.Probe.StallTimeout
	}

	restart := func(name string, changed bool) {
		if changed {
			d.RestartRequired = append(d.RestartRequired, name)
		}
	}
	restart("probe.pcm", old.Probe.PCM != new.Probe.PCM)
	restart("probe.interval", old.Probe.Interval != new.Probe.Interval)
	restart("probe.timeout", old.Probe.Timeout != new.Probe.Timeout)
	restart("bluealsa", old.BlueALSA != new.BlueALSA)
	restart("server.metrics_addr", old.Server.MetricsAddr != new.Server.MetricsAddr)
	restart("loopback", old.Loopback != new.Loopback)

	return d
}
