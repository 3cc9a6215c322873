// Package spool manages the on-disk journal that the drain loop writes
// batches into. Each destination gets a temp/ready directory pair keyed by
// host:port. The current file lives in the temp directory under its scheduled
// flush timestamp; at rotation it is deleted if empty, otherwise renamed into
// the ready directory with a .json suffix for pickup by the external sender.
package spool

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/relaykit/metrics-spooler/internal/datapoint"
	"github.com/relaykit/metrics-spooler/internal/logging"
)

// readySuffix is appended to completed spool files when they are moved into
// the ready directory.
const readySuffix = ".json"

// Writer owns the current spool file for one destination. It is not safe for
// concurrent use; only the destination's drain loop touches it.
type Writer struct {
	dest          datapoint.Destination
	flushInterval time.Duration
	tempDir       string
	readyDir      string

	file     *os.File
	fileName string
	written  int64

	nextFlush time.Time

	// now is replaceable for tests.
	now func() time.Time
}

// NewWriter creates the temp/ready directories for the destination under
// spoolPath and opens the first spool file.
func NewWriter(spoolPath string, dest datapoint.Destination, flushInterval time.Duration) (*Writer, error) {
	w := &Writer{
		dest:          dest,
		flushInterval: flushInterval,
		tempDir:       filepath.Join(spoolPath, "temp", dest.Addr()),
		readyDir:      filepath.Join(spoolPath, "send", dest.Addr()),
		now:           time.Now,
	}
	if err := os.MkdirAll(w.tempDir, 0o755); err != nil {
		return nil, fmt.Errorf("spool: create temp dir: %w", err)
	}
	if err := os.MkdirAll(w.readyDir, 0o755); err != nil {
		return nil, fmt.Errorf("spool: create ready dir: %w", err)
	}
	if err := w.openCurrent(); err != nil {
		return nil, err
	}
	return w, nil
}

// NextFlushTime returns the time at or after which the current file must be
// rotated. It is computed as now + flush interval on first use and memoized
// until the next rotation.
func (w *Writer) NextFlushTime() time.Time {
	if w.nextFlush.IsZero() {
		w.nextFlush = w.now().Add(w.flushInterval)
	}
	return w.nextFlush
}

// Rotate closes the current file, disposes of it (delete when empty, rename
// into the ready directory when not), and opens a fresh temp file under the
// newly computed flush timestamp. A file that was removed externally between
// the close and the rename is tolerated.
func (w *Writer) Rotate() error {
	w.finalizeCurrent()
	w.nextFlush = w.now().Add(w.flushInterval)
	return w.openCurrent()
}

// WriteBatch serializes the batch and appends it, newline-terminated, to the
// current file. Empty batches write nothing.
func (w *Writer) WriteBatch(batch []datapoint.Datapoint) error {
	if len(batch) == 0 {
		return nil
	}
	record, err := datapoint.MarshalBatch(batch)
	if err != nil {
		return fmt.Errorf("spool: encode batch: %w", err)
	}
	record = append(record, '\n')
	n, err := w.file.Write(record)
	w.written += int64(n)
	if err != nil {
		return fmt.Errorf("spool: write batch: %w", err)
	}
	spooledBytesTotal.WithLabelValues(w.dest.Name()).Add(float64(n))
	return nil
}

// Close finalizes the current file the same way a rotation would, so a
// graceful shutdown leaves no data stranded in the temp directory.
func (w *Writer) Close() error {
	w.finalizeCurrent()
	w.file = nil
	return nil
}

// finalizeCurrent closes the open file and either deletes it (empty) or
// renames it into the ready directory (non-empty).
func (w *Writer) finalizeCurrent() {
	if w.file == nil {
		return
	}
	_ = w.file.Close()

	var err error
	if w.written == 0 {
		err = os.Remove(w.fileName)
	} else {
		readyName := filepath.Join(w.readyDir, filepath.Base(w.fileName)+readySuffix)
		err = os.Rename(w.fileName, readyName)
		if err == nil {
			filesReadyTotal.WithLabelValues(w.dest.Name()).Inc()
		}
	}
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// Removed by hand; no crying over spilt milk.
			logging.Debug("spool file vanished before rotation", logging.F(
				"destination", w.dest.String(),
				"file", w.fileName,
			))
		} else {
			logging.Error("spool rotation failed", logging.F(
				"destination", w.dest.String(),
				"file", w.fileName,
				"error", err.Error(),
			))
		}
	}
	rotationsTotal.WithLabelValues(w.dest.Name()).Inc()
}

// openCurrent opens a new temp file named by the scheduled flush timestamp,
// seconds since the epoch with two decimal places.
func (w *Writer) openCurrent() error {
	stamp := float64(w.NextFlushTime().UnixNano()) / float64(time.Second)
	w.fileName = filepath.Join(w.tempDir, fmt.Sprintf("%.2f", stamp))
	f, err := os.OpenFile(w.fileName, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("spool: open %s: %w", w.fileName, err)
	}
	w.file = f
	w.written = 0
	return nil
}
