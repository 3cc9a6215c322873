// Package config holds the relay settings. Flags cover the common knobs; a
// YAML file (-config) supplies the full structure including routing rules.
// A flag given explicitly on the command line wins over the file.
package config

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"
)

// version is set at build time via ldflags.
var version = "dev"

// Version returns the build version.
func Version() string { return version }

// Config is the explicit configuration passed into every factory at
// construction. Nothing reads process-wide state.
type Config struct {
	// Destination settings
	Destinations []string // host:port[:instance]

	// Spooling settings
	SpoolDir              string
	FlushInterval         time.Duration
	MaxDatapointsPerBatch int

	// Queue settings
	MaxQueueSize      int
	QueueLowWatermark float64 // fraction of MaxQueueSize

	// Connection settings
	DrainDeferral     time.Duration
	DialTimeout       time.Duration
	ReconnectMinDelay time.Duration
	ReconnectMaxDelay time.Duration

	// Self-monitoring settings
	SelfReportInterval time.Duration
	SelfMetricPrefix   string
	MetricsAddr        string

	// Runtime settings
	MemoryLimitRatio float64
	Debug            bool

	// Routing rules (YAML only)
	Routes []Route

	// Telemetry settings (YAML only)
	Telemetry Telemetry

	ConfigFile  string
	ShowVersion bool
	ShowHelp    bool
}

// Route maps a metric name prefix to a subset of destinations.
type Route struct {
	Prefix       string   `yaml:"prefix"`
	Destinations []string `yaml:"destinations"`
}

// Telemetry holds OTLP self-telemetry export settings.
type Telemetry struct {
	Endpoint     string        `yaml:"endpoint"` // empty = disabled
	Protocol     string        `yaml:"protocol"` // "grpc" or "http"
	Insecure     bool          `yaml:"insecure"`
	PushInterval time.Duration `yaml:"-"`
}

// Default returns the configuration defaults.
func Default() Config {
	return Config{
		SpoolDir:              "./spool",
		FlushInterval:         60 * time.Second,
		MaxDatapointsPerBatch: 500,
		MaxQueueSize:          10000,
		QueueLowWatermark:     0.8,
		DrainDeferral:         100 * time.Microsecond,
		DialTimeout:           30 * time.Second,
		ReconnectMinDelay:     time.Second,
		ReconnectMaxDelay:     5 * time.Second,
		SelfReportInterval:    60 * time.Second,
		SelfMetricPrefix:      "carbon.relays",
		MetricsAddr:           ":9090",
		MemoryLimitRatio:      0.9,
	}
}

// ParseFlags parses the command line. Call once from main.
func ParseFlags() *Config {
	cfg, err := Parse(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	return cfg
}

// Parse parses args into a Config, applying a YAML config file (if given)
// beneath any flags set explicitly.
func Parse(args []string) (*Config, error) {
	cfg := Default()
	var destinations string
	fs := newFlagSet(&cfg, &destinations)

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if destinations != "" {
		cfg.Destinations = splitList(destinations)
	}

	if cfg.ConfigFile != "" {
		explicit := make(map[string]bool)
		fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })
		if err := applyYAML(&cfg, cfg.ConfigFile, explicit); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil && !cfg.ShowHelp && !cfg.ShowVersion {
		return nil, err
	}
	return &cfg, nil
}

func newFlagSet(cfg *Config, destinations *string) *flag.FlagSet {
	fs := flag.NewFlagSet("metrics-spooler", flag.ContinueOnError)

	fs.StringVar(&cfg.ConfigFile, "config", "", "Path to YAML config file")
	fs.StringVar(destinations, "destinations", "", "Comma-separated host:port[:instance] relay targets")
	fs.StringVar(&cfg.SpoolDir, "spool-dir", cfg.SpoolDir, "Base directory for spool temp/ready files")
	fs.DurationVar(&cfg.FlushInterval, "flush-interval", cfg.FlushInterval, "Spool file rotation interval")
	fs.IntVar(&cfg.MaxDatapointsPerBatch, "max-batch", cfg.MaxDatapointsPerBatch, "Max datapoints per spooled batch")
	fs.IntVar(&cfg.MaxQueueSize, "max-queue-size", cfg.MaxQueueSize, "Max normal-priority datapoints queued per destination")
	fs.Float64Var(&cfg.QueueLowWatermark, "queue-low-watermark", cfg.QueueLowWatermark, "Fraction of max queue size below which the space-available signal fires")
	fs.DurationVar(&cfg.DrainDeferral, "drain-deferral", cfg.DrainDeferral, "Delay before a drain cycle is scheduled after enqueue")
	fs.DurationVar(&cfg.DialTimeout, "dial-timeout", cfg.DialTimeout, "Destination connection timeout")
	fs.DurationVar(&cfg.ReconnectMinDelay, "reconnect-min-delay", cfg.ReconnectMinDelay, "Initial reconnect backoff delay")
	fs.DurationVar(&cfg.ReconnectMaxDelay, "reconnect-max-delay", cfg.ReconnectMaxDelay, "Reconnect backoff delay cap")
	fs.DurationVar(&cfg.SelfReportInterval, "self-report-interval", cfg.SelfReportInterval, "Interval for re-injecting relay counters as high-priority datapoints (0 = off)")
	fs.StringVar(&cfg.SelfMetricPrefix, "self-metric-prefix", cfg.SelfMetricPrefix, "Metric name prefix for self-monitoring datapoints")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "Prometheus /metrics listen address")
	fs.Float64Var(&cfg.MemoryLimitRatio, "memory-limit-ratio", cfg.MemoryLimitRatio, "Ratio of container memory for GOMEMLIMIT (0.0-1.0)")
	fs.BoolVar(&cfg.Debug, "debug", false, "Enable debug logging of connection lifecycle chatter")
	fs.BoolVar(&cfg.ShowVersion, "version", false, "Print version and exit")
	fs.BoolVar(&cfg.ShowHelp, "help", false, "Print usage and exit")

	return fs
}

// PrintUsage prints the flag reference.
func PrintUsage() {
	cfg := Default()
	var destinations string
	fs := newFlagSet(&cfg, &destinations)
	fs.SetOutput(os.Stdout)
	fmt.Println("Usage: metrics-spooler [flags]")
	fs.PrintDefaults()
}

// Validate checks the configuration for values the relay cannot run with.
func (c *Config) Validate() error {
	if len(c.Destinations) == 0 {
		return fmt.Errorf("config: at least one destination is required")
	}
	if c.MaxQueueSize <= 0 {
		return fmt.Errorf("config: max queue size must be positive, got %d", c.MaxQueueSize)
	}
	if c.QueueLowWatermark <= 0 || c.QueueLowWatermark >= 1 {
		return fmt.Errorf("config: queue low watermark must be in (0, 1), got %g", c.QueueLowWatermark)
	}
	if c.MaxDatapointsPerBatch <= 0 {
		return fmt.Errorf("config: max batch must be positive, got %d", c.MaxDatapointsPerBatch)
	}
	if c.FlushInterval <= 0 {
		return fmt.Errorf("config: flush interval must be positive, got %s", c.FlushInterval)
	}
	if c.ReconnectMinDelay <= 0 || c.ReconnectMaxDelay < c.ReconnectMinDelay {
		return fmt.Errorf("config: reconnect delays invalid: min %s, max %s", c.ReconnectMinDelay, c.ReconnectMaxDelay)
	}
	return nil
}

// PrintVersion prints the build version.
func PrintVersion() {
	fmt.Printf("metrics-spooler %s\n", version)
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
