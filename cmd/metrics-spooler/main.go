package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/KimMachineGun/automemlimit/memlimit"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/relaykit/metrics-spooler/internal/client"
	"github.com/relaykit/metrics-spooler/internal/config"
	"github.com/relaykit/metrics-spooler/internal/datapoint"
	"github.com/relaykit/metrics-spooler/internal/instrumentation"
	"github.com/relaykit/metrics-spooler/internal/logging"
	"github.com/relaykit/metrics-spooler/internal/router"
	"github.com/relaykit/metrics-spooler/internal/stats"
	"github.com/relaykit/metrics-spooler/internal/telemetry"
)

const serviceName = "metrics-spooler"

func main() {
	cfg := config.ParseFlags()

	if cfg.ShowHelp {
		config.PrintUsage()
		os.Exit(0)
	}
	if cfg.ShowVersion {
		config.PrintVersion()
		os.Exit(0)
	}

	if cfg.Debug {
		logging.SetLevel(logging.LevelDebug)
	}
	logging.SetResource(map[string]string{
		"service.name":    serviceName,
		"service.version": config.Version(),
	})

	if cfg.MemoryLimitRatio > 0 {
		if limit, err := memlimit.SetGoMemLimitWithOpts(
			memlimit.WithRatio(cfg.MemoryLimitRatio),
			memlimit.WithProvider(memlimit.ApplyFallback(memlimit.FromCgroup, memlimit.FromSystem)),
		); err != nil {
			logging.Warn("failed to set GOMEMLIMIT", logging.F("error", err.Error()))
		} else {
			logging.Info("GOMEMLIMIT set", logging.F("bytes", limit, "ratio", cfg.MemoryLimitRatio))
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tel, err := telemetry.Init(ctx, telemetry.Config{
		Endpoint:     cfg.Telemetry.Endpoint,
		Protocol:     cfg.Telemetry.Protocol,
		Insecure:     cfg.Telemetry.Insecure,
		PushInterval: cfg.Telemetry.PushInterval,
	}, serviceName, config.Version())
	if err != nil {
		logging.Fatal("failed to initialize telemetry", logging.F("error", err.Error()))
	}
	if tel.Enabled() {
		logging.SetHook(tel.NewLogHook())
		logging.Info("telemetry export enabled", logging.F(
			"endpoint", cfg.Telemetry.Endpoint,
			"protocol", cfg.Telemetry.Protocol,
		))
	}

	destinations := make([]datapoint.Destination, 0, len(cfg.Destinations))
	for _, d := range cfg.Destinations {
		dest, err := datapoint.ParseDestination(d)
		if err != nil {
			logging.Fatal("invalid destination", logging.F("destination", d, "error", err.Error()))
		}
		destinations = append(destinations, dest)
	}

	rules := make([]router.Rule, 0, len(cfg.Routes))
	for _, r := range cfg.Routes {
		rule := router.Rule{Prefix: r.Prefix}
		for _, d := range r.Destinations {
			dest, err := datapoint.ParseDestination(d)
			if err != nil {
				logging.Fatal("invalid route destination", logging.F(
					"prefix", r.Prefix,
					"destination", d,
					"error", err.Error(),
				))
			}
			rule.Destinations = append(rule.Destinations, dest)
		}
		rules = append(rules, rule)
	}

	inst := instrumentation.New()
	collector := stats.NewCollector()
	manager := client.NewManager(*cfg, router.NewPrefixRouter(rules), inst, collector)

	for _, dest := range destinations {
		if err := manager.AddDestination(dest); err != nil {
			logging.Fatal("failed to add destination", logging.F(
				"destination", dest.String(),
				"error", err.Error(),
			))
		}
	}
	manager.Start()

	go collector.StartPeriodicLogging(ctx, 30*time.Second)

	if cfg.SelfReportInterval > 0 {
		publisher := stats.NewPublisher(inst, manager, cfg.SelfMetricPrefix, cfg.SelfReportInterval)
		go publisher.Run(ctx)
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: metricsMux,
	}
	go func() {
		logging.Info("metrics endpoint started", logging.F("addr", cfg.MetricsAddr, "path", "/metrics"))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error("metrics server error", logging.F("error", err.Error()))
		}
	}()

	logging.Info("metrics-spooler started", logging.F(
		"destinations", len(destinations),
		"spool_dir", cfg.SpoolDir,
		"max_queue_size", cfg.MaxQueueSize,
		"flush_interval", cfg.FlushInterval.String(),
	))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logging.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logging.Error("metrics server shutdown error", logging.F("error", err.Error()))
	}
	cancel()
	if err := manager.Stop(shutdownCtx); err != nil {
		logging.Error("manager shutdown error", logging.F("error", err.Error()))
	}
	if tel.Enabled() {
		telCtx, telCancel := context.WithTimeout(context.Background(), tel.ShutdownTimeout())
		if err := tel.Shutdown(telCtx); err != nil {
			logging.Error("telemetry shutdown error", logging.F("error", err.Error()))
		}
		telCancel()
	}

	logging.Info("shutdown complete")
}
