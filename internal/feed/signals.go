package feed

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/pairtrader/internal/types"
)

// signalRecord is the on-disk signal shape. Prices are strings so the file
// round-trips without float drift.
type signalRecord struct {
	ID               string  `json:"id"`
	RecommendationID string  `json:"recommendation_id"`
	Timestamp        int64   `json:"timestamp"` // unix millis
	Symbol           string  `json:"symbol"`
	Side             string  `json:"side"` // long | short
	EntryPrice       string  `json:"entry_price"`
	StopLoss         string  `json:"stop_loss"`
	TakeProfit       string  `json:"take_profit"`
	Confidence       float64 `json:"confidence"`
	Score            float64 `json:"score"`
	PairSymbol       string  `json:"pair_symbol"`
	Quantity         string  `json:"quantity"`
	PairQuantity     string  `json:"pair_quantity"`
}

// LoadSignals reads trading signals from a JSON-lines file. Blank lines and
// lines starting with # are skipped.
func LoadSignals(path string) ([]types.Signal, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open signals file: %w", err)
	}
	defer file.Close()
	return ParseSignals(file)
}

// ParseSignals decodes JSON-lines signals from a reader.
func ParseSignals(r io.Reader) ([]types.Signal, error) {
	var signals []types.Signal
	scanner := bufio.NewScanner(r)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		var rec signalRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNum, err)
		}
		sig, err := rec.toSignal()
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNum, err)
		}
		signals = append(signals, sig)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read signals: %w", err)
	}
	return signals, nil
}

func (r signalRecord) toSignal() (types.Signal, error) {
	sig := types.Signal{
		ID:               r.ID,
		RecommendationID: r.RecommendationID,
		Symbol:           r.Symbol,
		PairSymbol:       r.PairSymbol,
		Confidence:       decimal.NewFromFloat(r.Confidence),
		Score:            decimal.NewFromFloat(r.Score),
	}
	if r.Timestamp > 0 {
		sig.Timestamp = time.UnixMilli(r.Timestamp).UTC()
	}

	switch strings.ToLower(r.Side) {
	case "long", "buy":
		sig.Side = types.SideLong
	case "short", "sell":
		sig.Side = types.SideShort
	default:
		return sig, fmt.Errorf("unknown side %q", r.Side)
	}

	var err error
	if sig.EntryPrice, err = parseOptionalDecimal(r.EntryPrice); err != nil {
		return sig, fmt.Errorf("entry_price: %w", err)
	}
	if sig.StopLoss, err = parseOptionalDecimal(r.StopLoss); err != nil {
		return sig, fmt.Errorf("stop_loss: %w", err)
	}
	if sig.TakeProfit, err = parseOptionalDecimal(r.TakeProfit); err != nil {
		return sig, fmt.Errorf("take_profit: %w", err)
	}
	if sig.Quantity, err = parseOptionalDecimal(r.Quantity); err != nil {
		return sig, fmt.Errorf("quantity: %w", err)
	}
	if sig.PairQuantity, err = parseOptionalDecimal(r.PairQuantity); err != nil {
		return sig, fmt.Errorf("pair_quantity: %w", err)
	}
	return sig, nil
}

func parseOptionalDecimal(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}
