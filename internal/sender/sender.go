// Package sender delivers a single spool file to a line-protocol endpoint
// and deletes it once every datapoint is on the wire. It is the one-shot
// counterpart to the relay: a cron job or systemd timer runs it against the
// ready directory to drain what the relay spooled.
package sender

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/relaykit/metrics-spooler/internal/datapoint"
	"github.com/relaykit/metrics-spooler/internal/logging"
)

// ErrNoData means the spool file held no parseable datapoints. The file is
// already deleted when this is returned; there is nothing to retry.
var ErrNoData = errors.New("spool file contains no datapoints")

// ErrDelivery wraps connect and send failures. The spool file is left in
// place so a later run can retry it.
var ErrDelivery = errors.New("delivery failed")

// Report summarizes a completed delivery.
type Report struct {
	Metrics  int
	Bytes    int
	Duration time.Duration
}

// String renders the metrics,bytes,seconds accounting line consumed by the
// calling scheduler.
func (r Report) String() string {
	return fmt.Sprintf("%d,%d,%.6f", r.Metrics, r.Bytes, r.Duration.Seconds())
}

// Run reads the spool file at path, sends its datapoints to addr in line
// protocol, and deletes the file on success. Files ending in .gz are
// decompressed transparently. Records that fail to parse are logged and
// skipped rather than aborting the run.
func Run(ctx context.Context, addr, path string, dialTimeout time.Duration) (Report, error) {
	points, hadLines, err := readSpoolFile(path)
	if err != nil {
		return Report{}, err
	}
	if len(points) == 0 {
		// An empty file gets cleared so the scheduler does not retry
		// it forever. A file full of unparseable records is kept for
		// inspection.
		if !hadLines {
			if err := os.Remove(path); err != nil {
				logging.Warn("failed to remove empty spool file", logging.F(
					"file", path,
					"error", err.Error(),
				))
			}
		}
		return Report{}, ErrNoData
	}

	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return Report{}, fmt.Errorf("%w: connect %s: %v", ErrDelivery, addr, err)
	}
	defer conn.Close()

	start := time.Now()
	w := bufio.NewWriter(conn)
	bytes := 0
	for _, p := range points {
		line := p.Line()
		if _, err := w.WriteString(line); err != nil {
			return Report{}, fmt.Errorf("%w: send to %s: %v", ErrDelivery, addr, err)
		}
		bytes += len(line)
	}
	if err := w.Flush(); err != nil {
		return Report{}, fmt.Errorf("%w: send to %s: %v", ErrDelivery, addr, err)
	}
	elapsed := time.Since(start)

	if err := os.Remove(path); err != nil {
		return Report{}, fmt.Errorf("remove %s after delivery: %w", path, err)
	}

	return Report{Metrics: len(points), Bytes: bytes, Duration: elapsed}, nil
}

func readSpoolFile(path string) (points []datapoint.Datapoint, hadLines bool, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, false, err
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, false, fmt.Errorf("open gzip %s: %w", path, err)
		}
		defer gz.Close()
		r = gz
	}

	skipped := 0
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		hadLines = true
		batch, err := datapoint.UnmarshalBatch(line)
		if err != nil {
			skipped++
			logging.Warn("skipping unparseable spool record", logging.F(
				"file", path,
				"error", err.Error(),
			))
			continue
		}
		points = append(points, batch...)
	}
	if err := scanner.Err(); err != nil {
		return nil, hadLines, fmt.Errorf("read %s: %w", path, err)
	}
	if skipped > 0 {
		logging.Warn("spool file had unparseable records", logging.F(
			"file", path,
			"skipped", skipped,
		))
	}
	return points, hadLines, nil
}
