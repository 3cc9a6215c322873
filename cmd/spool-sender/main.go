package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/relaykit/metrics-spooler/internal/logging"
	"github.com/relaykit/metrics-spooler/internal/sender"
)

// Exit codes consumed by the scheduler that drains the ready directory:
// 1 means the file was empty or unreadable (do not retry), 100 means the
// destination could not be reached (retry later).
const (
	exitNoData   = 1
	exitDelivery = 100
)

const dialTimeout = 60 * time.Second

func main() {
	if len(os.Args) != 4 {
		fmt.Fprintf(os.Stderr, "Usage: %s <host> <port> <spool-file>\n", os.Args[0])
		os.Exit(2)
	}
	host, port, path := os.Args[1], os.Args[2], os.Args[3]

	report, err := sender.Run(context.Background(), net.JoinHostPort(host, port), path, dialTimeout)
	switch {
	case errors.Is(err, sender.ErrNoData):
		logging.Warn("spool file had no datapoints", logging.F("file", path))
		os.Exit(exitNoData)
	case errors.Is(err, sender.ErrDelivery):
		logging.Error("delivery failed", logging.F("file", path, "error", err.Error()))
		os.Exit(exitDelivery)
	case err != nil:
		logging.Error("spool file unreadable", logging.F("file", path, "error", err.Error()))
		os.Exit(exitNoData)
	}

	// The scheduler passes fd 3 to collect the accounting line; fall back
	// to the log when it is not there.
	reportFile := os.NewFile(3, "report")
	if reportFile != nil {
		if _, err := fmt.Fprintln(reportFile, report.String()); err == nil {
			reportFile.Close()
			return
		}
		reportFile.Close()
	}
	logging.Info("delivery complete", logging.F(
		"file", path,
		"metrics", report.Metrics,
		"bytes", report.Bytes,
		"seconds", report.Duration.Seconds(),
	))
}
