// Package recorder appends normalized quotes to per-venue daily CSV files,
// the minimal record the backtester replays.
package recorder

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/taku247/omg-tool/pkg/connector"
	"github.com/taku247/omg-tool/pkg/types"
	"go.uber.org/zap"
)

// Header is the column layout shared with the backtest reader.
var Header = []string{
	"timestamp", "exchange", "symbol",
	"bid", "ask", "bid_size", "ask_size",
	"last", "volume_24h",
}

type fileKey struct {
	venue string
	date  string
}

type csvFile struct {
	file   *os.File
	writer *csv.Writer
}

// Recorder writes one CSV file per venue per UTC day under Dir:
//
//	<dir>/<yyyymmdd>/<venue>_prices_<yyyymmdd>.csv
type Recorder struct {
	dir    string
	logger *zap.Logger

	mu    sync.Mutex
	files map[fileKey]*csvFile

	wg sync.WaitGroup
}

// New creates a recorder rooted at dir.
func New(dir string, logger *zap.Logger) *Recorder {
	return &Recorder{
		dir:    dir,
		logger: logger,
		files:  make(map[fileKey]*csvFile),
	}
}

// Record appends one quote row, opening (and rotating) the venue's daily
// file as needed.
func (r *Recorder) Record(q *types.Quote) error {
	date := q.ObservedAt.UTC().Format("20060102")

	r.mu.Lock()
	defer r.mu.Unlock()

	f, err := r.fileFor(q.Venue, date)
	if err != nil {
		return err
	}

	row := []string{
		q.ObservedAt.UTC().Format(time.RFC3339Nano),
		q.Venue,
		q.Instrument,
		q.Bid.String(),
		q.Ask.String(),
		q.BidSize.String(),
		q.AskSize.String(),
		q.Last.String(),
		q.Volume24h.String(),
	}
	if err := f.writer.Write(row); err != nil {
		RowsFailedTotal.Inc()
		return fmt.Errorf("write quote row: %w", err)
	}
	f.writer.Flush()
	if err := f.writer.Error(); err != nil {
		RowsFailedTotal.Inc()
		return fmt.Errorf("flush quote row: %w", err)
	}
	RowsWrittenTotal.WithLabelValues(q.Venue).Inc()
	return nil
}

// fileFor returns the open daily file for a venue, closing files from
// previous days on rotation. Caller holds r.mu.
func (r *Recorder) fileFor(venue, date string) (*csvFile, error) {
	key := fileKey{venue: venue, date: date}
	if f, ok := r.files[key]; ok {
		return f, nil
	}

	// Date rolled over for this venue; release yesterday's handle.
	for k, f := range r.files {
		if k.venue == venue && k.date != date {
			f.writer.Flush()
			f.file.Close()
			delete(r.files, k)
		}
	}

	dir := filepath.Join(r.dir, date)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create record dir: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("%s_prices_%s.csv", venue, date))
	info, statErr := os.Stat(path)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open record file: %w", err)
	}

	writer := csv.NewWriter(file)
	if statErr != nil || info.Size() == 0 {
		if err := writer.Write(Header); err != nil {
			file.Close()
			return nil, fmt.Errorf("write header: %w", err)
		}
		writer.Flush()
	}

	f := &csvFile{file: file, writer: writer}
	r.files[key] = f
	r.logger.Info("record-file-opened",
		zap.String("venue", venue),
		zap.String("path", path))
	return f, nil
}

// Consume drains a connector stream, recording every quote event until the
// stream closes. Runs in its own goroutine, one per venue.
func (r *Recorder) Consume(events <-chan connector.StreamEvent) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for ev := range events {
			if ev.Kind != connector.EventQuote || ev.Quote == nil {
				continue
			}
			if err := r.Record(ev.Quote); err != nil {
				r.logger.Error("quote-record-failed",
					zap.String("venue", ev.Venue),
					zap.Error(err))
			}
		}
	}()
}

// Close waits for consumers and closes every open file.
func (r *Recorder) Close() error {
	r.wg.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for key, f := range r.files {
		f.writer.Flush()
		if err := f.writer.Error(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := f.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(r.files, key)
	}
	r.logger.Info("recorder-closed")
	return firstErr
}
