// Package feed loads historical price bars for lifecycle replay and serves
// the latest bar per symbol to the monitor.
package feed

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/pairtrader/internal/types"
)

// LoadCSV reads bars for one symbol from a CSV file, sorted by timestamp.
// CSV format: timestamp,open,high,low,close,volume
// Timestamp format: 2006-01-02 15:04:05 or Unix timestamp.
func LoadCSV(path, symbol string) ([]types.Bar, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer file.Close()

	bars, err := ParseCSV(file, symbol)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return bars, nil
}

// ParseCSV parses bars from a CSV reader. Invalid rows are skipped rather
// than failing the whole file; replay data is often hand-assembled.
func ParseCSV(r io.Reader, symbol string) ([]types.Bar, error) {
	reader := csv.NewReader(bufio.NewReader(r))
	reader.TrimLeadingSpace = true

	var bars []types.Bar
	lineNum := 0

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNum, err)
		}
		lineNum++

		if lineNum == 1 && isHeader(record) {
			continue
		}
		if len(record) < 5 {
			continue
		}

		bar, err := parseRecord(record, symbol)
		if err != nil {
			continue
		}
		bars = append(bars, bar)
	}

	sort.Slice(bars, func(i, j int) bool {
		return bars[i].Timestamp.Before(bars[j].Timestamp)
	})
	return bars, nil
}

// parseRecord parses a single CSV record into a Bar.
func parseRecord(record []string, symbol string) (types.Bar, error) {
	var bar types.Bar
	bar.Symbol = symbol

	ts, err := parseTimestamp(record[0])
	if err != nil {
		return bar, fmt.Errorf("parse timestamp: %w", err)
	}
	bar.Timestamp = ts

	if bar.Open, err = decimal.NewFromString(record[1]); err != nil {
		return bar, fmt.Errorf("parse open: %w", err)
	}
	if bar.High, err = decimal.NewFromString(record[2]); err != nil {
		return bar, fmt.Errorf("parse high: %w", err)
	}
	if bar.Low, err = decimal.NewFromString(record[3]); err != nil {
		return bar, fmt.Errorf("parse low: %w", err)
	}
	if bar.Close, err = decimal.NewFromString(record[4]); err != nil {
		return bar, fmt.Errorf("parse close: %w", err)
	}
	if len(record) > 5 {
		if vol, err := decimal.NewFromString(record[5]); err == nil {
			bar.Volume = vol
		}
	}

	return bar, nil
}

// parseTimestamp tries a Unix timestamp first, then common date formats.
func parseTimestamp(s string) (time.Time, error) {
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}

	formats := []string{
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		"2006-01-02T15:04:05Z",
		"2006-01-02 15:04",
		"2006-01-02",
	}
	for _, format := range formats {
		if ts, err := time.Parse(format, s); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// isHeader detects a header row by an unparseable first column.
func isHeader(record []string) bool {
	if len(record) == 0 {
		return false
	}
	_, err := parseTimestamp(record[0])
	return err != nil
}

// LatestBars serves the most recent bar per symbol. It implements the
// monitor's BarSource.
type LatestBars struct {
	mu   sync.RWMutex
	bars map[string]types.Bar
}

// NewLatestBars creates an empty latest-bar store.
func NewLatestBars() *LatestBars {
	return &LatestBars{bars: make(map[string]types.Bar)}
}

// Push records a bar as the symbol's latest if it is not older than the
// current one.
func (l *LatestBars) Push(bar types.Bar) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cur, ok := l.bars[bar.Symbol]; ok && bar.Timestamp.Before(cur.Timestamp) {
		return
	}
	l.bars[bar.Symbol] = bar
}

// Latest returns the symbol's most recent bar.
func (l *LatestBars) Latest(symbol string) (types.Bar, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	bar, ok := l.bars[symbol]
	return bar, ok
}
