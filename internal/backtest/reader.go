// Package backtest replays recorded quote logs through the live detection
// and risk components against simulated venues, producing the same
// ExecutionResult records as live trading.
package backtest

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/taku247/omg-tool/pkg/types"
)

// ReadDir loads every quote CSV under a recorder output directory and
// returns the rows merged across venues in timestamp order.
func ReadDir(dir string) ([]*types.Quote, error) {
	var quotes []*types.Quote
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(path) != ".csv" {
			return nil
		}
		fileQuotes, err := ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		quotes = append(quotes, fileQuotes...)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(quotes, func(i, j int) bool {
		return quotes[i].ObservedAt.Before(quotes[j].ObservedAt)
	})
	return quotes, nil
}

// ReadFile parses one recorder CSV file.
func ReadFile(path string) ([]*types.Quote, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return readQuotes(csv.NewReader(f))
}

func readQuotes(r *csv.Reader) ([]*types.Quote, error) {
	header, err := r.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	col := make(map[string]int, len(header))
	for i, name := range header {
		col[name] = i
	}
	for _, required := range []string{"timestamp", "exchange", "symbol", "bid", "ask"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("missing column %q", required)
		}
	}

	var quotes []*types.Quote
	for line := 2; ; line++ {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		q, err := parseRow(row, col)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		quotes = append(quotes, q)
	}
	return quotes, nil
}

func parseRow(row []string, col map[string]int) (*types.Quote, error) {
	at, err := time.Parse(time.RFC3339Nano, row[col["timestamp"]])
	if err != nil {
		return nil, fmt.Errorf("parse timestamp: %w", err)
	}

	q := &types.Quote{
		Venue:      row[col["exchange"]],
		Instrument: row[col["symbol"]],
		ObservedAt: at,
	}
	if q.Bid, err = decimal.NewFromString(row[col["bid"]]); err != nil {
		return nil, fmt.Errorf("parse bid: %w", err)
	}
	if q.Ask, err = decimal.NewFromString(row[col["ask"]]); err != nil {
		return nil, fmt.Errorf("parse ask: %w", err)
	}
	q.BidSize = optionalDecimal(row, col, "bid_size")
	q.AskSize = optionalDecimal(row, col, "ask_size")
	q.Last = optionalDecimal(row, col, "last")
	q.Volume24h = optionalDecimal(row, col, "volume_24h")
	return q, nil
}

// optionalDecimal reads a column that older logs may omit; malformed or
// missing values parse as zero.
func optionalDecimal(row []string, col map[string]int, name string) decimal.Decimal {
	i, ok := col[name]
	if !ok || i >= len(row) || row[i] == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(row[i])
	if err != nil {
		return decimal.Zero
	}
	return d
}
