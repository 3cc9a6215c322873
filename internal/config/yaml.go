package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// yamlConfig is the YAML configuration file structure. Every field is
// optional; zero values leave the corresponding Config field untouched.
type yamlConfig struct {
	Destinations []string `yaml:"destinations"`

	Spool struct {
		Dir           string   `yaml:"dir"`
		FlushInterval Duration `yaml:"flush_interval"`
		MaxBatch      int      `yaml:"max_batch"`
	} `yaml:"spool"`

	Queue struct {
		MaxSize      int     `yaml:"max_size"`
		LowWatermark float64 `yaml:"low_watermark"`
	} `yaml:"queue"`

	Connection struct {
		DrainDeferral     Duration `yaml:"drain_deferral"`
		DialTimeout       Duration `yaml:"dial_timeout"`
		ReconnectMinDelay Duration `yaml:"reconnect_min_delay"`
		ReconnectMaxDelay Duration `yaml:"reconnect_max_delay"`
	} `yaml:"connection"`

	SelfReport struct {
		Interval Duration `yaml:"interval"`
		Prefix   string   `yaml:"prefix"`
	} `yaml:"self_report"`

	MetricsAddr      string  `yaml:"metrics_addr"`
	MemoryLimitRatio float64 `yaml:"memory_limit_ratio"`
	Debug            *bool   `yaml:"debug"`

	Routes []Route `yaml:"routes"`

	Telemetry struct {
		Endpoint     string   `yaml:"endpoint"`
		Protocol     string   `yaml:"protocol"`
		Insecure     bool     `yaml:"insecure"`
		PushInterval Duration `yaml:"push_interval"`
	} `yaml:"telemetry"`
}

// applyYAML loads path and copies set values into cfg, skipping fields whose
// flag was given explicitly on the command line.
func applyYAML(cfg *Config, path string, explicit map[string]bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}

	if len(yc.Destinations) > 0 && !explicit["destinations"] {
		cfg.Destinations = yc.Destinations
	}
	if yc.Spool.Dir != "" && !explicit["spool-dir"] {
		cfg.SpoolDir = yc.Spool.Dir
	}
	if yc.Spool.FlushInterval > 0 && !explicit["flush-interval"] {
		cfg.FlushInterval = time.Duration(yc.Spool.FlushInterval)
	}
	if yc.Spool.MaxBatch > 0 && !explicit["max-batch"] {
		cfg.MaxDatapointsPerBatch = yc.Spool.MaxBatch
	}
	if yc.Queue.MaxSize > 0 && !explicit["max-queue-size"] {
		cfg.MaxQueueSize = yc.Queue.MaxSize
	}
	if yc.Queue.LowWatermark > 0 && !explicit["queue-low-watermark"] {
		cfg.QueueLowWatermark = yc.Queue.LowWatermark
	}
	if yc.Connection.DrainDeferral > 0 && !explicit["drain-deferral"] {
		cfg.DrainDeferral = time.Duration(yc.Connection.DrainDeferral)
	}
	if yc.Connection.DialTimeout > 0 && !explicit["dial-timeout"] {
		cfg.DialTimeout = time.Duration(yc.Connection.DialTimeout)
	}
	if yc.Connection.ReconnectMinDelay > 0 && !explicit["reconnect-min-delay"] {
		cfg.ReconnectMinDelay = time.Duration(yc.Connection.ReconnectMinDelay)
	}
	if yc.Connection.ReconnectMaxDelay > 0 && !explicit["reconnect-max-delay"] {
		cfg.ReconnectMaxDelay = time.Duration(yc.Connection.ReconnectMaxDelay)
	}
	if yc.SelfReport.Interval > 0 && !explicit["self-report-interval"] {
		cfg.SelfReportInterval = time.Duration(yc.SelfReport.Interval)
	}
	if yc.SelfReport.Prefix != "" && !explicit["self-metric-prefix"] {
		cfg.SelfMetricPrefix = yc.SelfReport.Prefix
	}
	if yc.MetricsAddr != "" && !explicit["metrics-addr"] {
		cfg.MetricsAddr = yc.MetricsAddr
	}
	if yc.MemoryLimitRatio > 0 && !explicit["memory-limit-ratio"] {
		cfg.MemoryLimitRatio = yc.MemoryLimitRatio
	}
	if yc.Debug != nil && !explicit["debug"] {
		cfg.Debug = *yc.Debug
	}
	if len(yc.Routes) > 0 {
		cfg.Routes = yc.Routes
	}
	if yc.Telemetry.Endpoint != "" {
		cfg.Telemetry = Telemetry{
			Endpoint:     yc.Telemetry.Endpoint,
			Protocol:     yc.Telemetry.Protocol,
			Insecure:     yc.Telemetry.Insecure,
			PushInterval: time.Duration(yc.Telemetry.PushInterval),
		}
	}
	return nil
}

// Duration is a wrapper for time.Duration that accepts "30s" style strings
// in YAML.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	if s == "" {
		*d = 0
		return nil
	}
	duration, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(duration)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}
