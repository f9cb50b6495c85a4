package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/pairtrader/internal/types"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite repository.
func NewSQLiteRepository(path string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	repo := &SQLiteRepository{db: db}

	if err := repo.Migrate(context.Background()); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return repo, nil
}

// Migrate runs database migrations.
func (r *SQLiteRepository) Migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS trades (
			id TEXT PRIMARY KEY,
			recommendation_id TEXT,
			instance_id TEXT NOT NULL DEFAULT '',
			symbol TEXT NOT NULL,
			side INTEGER NOT NULL,
			entry_price TEXT NOT NULL,
			stop_loss TEXT,
			take_profit TEXT,
			quantity TEXT NOT NULL,
			status TEXT NOT NULL,
			score TEXT NOT NULL DEFAULT '0',
			fill_price TEXT,
			filled_at DATETIME,
			exit_price TEXT,
			exit_reason TEXT,
			closed_at DATETIME,
			realized_pnl TEXT,
			pair_symbol TEXT NOT NULL DEFAULT '',
			pair_side INTEGER NOT NULL DEFAULT 0,
			pair_quantity TEXT,
			leg_order_id TEXT,
			pair_order_id TEXT,
			leg_fill_price TEXT,
			pair_fill_price TEXT,
			reject_reason TEXT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_status ON trades(status)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_instance ON trades(instance_id)`,

		`CREATE TABLE IF NOT EXISTS executions (
			exec_id TEXT PRIMARY KEY,
			order_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			side INTEGER NOT NULL,
			price TEXT NOT NULL,
			quantity TEXT NOT NULL,
			value TEXT,
			fee TEXT,
			realized_pnl TEXT,
			is_maker INTEGER NOT NULL DEFAULT 0,
			exec_time DATETIME NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_order ON executions(order_id)`,

		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			instance_id TEXT NOT NULL,
			mode TEXT NOT NULL,
			started_at DATETIME NOT NULL,
			finished_at DATETIME
		)`,

		`CREATE TABLE IF NOT EXISTS cycles (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			started_at DATETIME NOT NULL,
			signals INTEGER NOT NULL DEFAULT 0,
			opened INTEGER NOT NULL DEFAULT 0,
			skipped INTEGER NOT NULL DEFAULT 0,
			skip_reason TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
	}

	for _, migration := range migrations {
		if _, err := r.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("execute migration: %w", err)
		}
	}

	return nil
}

// CreateTrade inserts a new trade audit row.
func (r *SQLiteRepository) CreateTrade(ctx context.Context, trade types.Trade) error {
	if err := trade.ValidateTimestamps(); err != nil {
		return fmt.Errorf("refusing trade insert %s: %w", trade.ID, err)
	}

	query := `INSERT INTO trades
		(id, recommendation_id, instance_id, symbol, side, entry_price, stop_loss, take_profit, quantity, status, score,
		 fill_price, filled_at, pair_symbol, pair_side, pair_quantity, leg_order_id, pair_order_id, reject_reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	var fillPrice any
	if !trade.FillPrice.IsZero() {
		fillPrice = trade.FillPrice.String()
	}
	var filledAt any
	if trade.FilledAt != nil {
		filledAt = *trade.FilledAt
	}

	_, err := r.db.ExecContext(ctx, query,
		trade.ID,
		trade.RecommendationID,
		trade.InstanceID,
		trade.Symbol,
		trade.Side,
		trade.EntryPrice.String(),
		trade.StopLoss.String(),
		trade.TakeProfit.String(),
		trade.Quantity.String(),
		string(trade.Status),
		trade.Score.String(),
		fillPrice,
		filledAt,
		trade.PairSymbol,
		trade.PairSide,
		trade.PairQuantity.String(),
		trade.LegOrderID,
		trade.PairOrderID,
		trade.RejectReason,
		trade.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert trade: %w", err)
	}

	return nil
}

const tradeColumns = `id, recommendation_id, instance_id, symbol, side, entry_price, stop_loss, take_profit, quantity,
	status, score, fill_price, filled_at, exit_price, exit_reason, closed_at, realized_pnl,
	pair_symbol, pair_side, pair_quantity, leg_order_id, pair_order_id, leg_fill_price, pair_fill_price,
	reject_reason, created_at`

// GetTrade returns a trade by id.
func (r *SQLiteRepository) GetTrade(ctx context.Context, id string) (*types.Trade, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+tradeColumns+` FROM trades WHERE id = ?`, id)

	trade, err := scanTrade(row)
	if err == sql.ErrNoRows {
		return nil, types.ErrTradeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query trade: %w", err)
	}
	return trade, nil
}

// GetOpenTrades returns trades still occupying a slot for an instance.
func (r *SQLiteRepository) GetOpenTrades(ctx context.Context, instanceID string) ([]types.Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades
		WHERE instance_id = ? AND status IN (?, ?, ?) ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query, instanceID,
		string(types.TradeStatusSubmitted), string(types.TradeStatusPaperTrade), string(types.TradeStatusFilled))
	if err != nil {
		return nil, fmt.Errorf("query open trades: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var trades []types.Trade
	for rows.Next() {
		trade, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		trades = append(trades, *trade)
	}
	return trades, rows.Err()
}

// CountOpenTrades splits open rows into position/entry-order occupancy.
func (r *SQLiteRepository) CountOpenTrades(ctx context.Context, instanceID string) (OpenCounts, error) {
	query := `SELECT
		SUM(CASE WHEN status = ? THEN 1 ELSE 0 END),
		SUM(CASE WHEN status IN (?, ?) THEN 1 ELSE 0 END)
		FROM trades WHERE instance_id = ?`

	var positions, orders sql.NullInt64
	err := r.db.QueryRowContext(ctx, query,
		string(types.TradeStatusFilled),
		string(types.TradeStatusSubmitted), string(types.TradeStatusPaperTrade),
		instanceID,
	).Scan(&positions, &orders)
	if err != nil {
		return OpenCounts{}, fmt.Errorf("count open trades: %w", err)
	}

	return OpenCounts{
		Positions:   int(positions.Int64),
		EntryOrders: int(orders.Int64),
	}, nil
}

// UpdateTradeStatus records a status transition without fill/close data.
func (r *SQLiteRepository) UpdateTradeStatus(ctx context.Context, id string, status types.TradeStatus, reason string) error {
	query := `UPDATE trades SET status = ?, reject_reason = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`

	res, err := r.db.ExecContext(ctx, query, string(status), reason, id)
	if err != nil {
		return fmt.Errorf("update trade status: %w", err)
	}
	return requireRow(res)
}

// MarkTradeFilled records the fill. The write is refused if it would violate
// the lifecycle timestamp ordering.
func (r *SQLiteRepository) MarkTradeFilled(ctx context.Context, id string, fillPrice decimal.Decimal, filledAt time.Time) error {
	trade, err := r.GetTrade(ctx, id)
	if err != nil {
		return err
	}

	next := *trade
	next.Status = types.TradeStatusFilled
	next.FillPrice = fillPrice
	next.FilledAt = &filledAt
	if err := next.ValidateTimestamps(); err != nil {
		return fmt.Errorf("refusing fill update for %s (created=%s, filled=%s): %w",
			id, trade.CreatedAt.Format(time.RFC3339), filledAt.Format(time.RFC3339), err)
	}

	query := `UPDATE trades SET status = ?, fill_price = ?, filled_at = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`
	res, err := r.db.ExecContext(ctx, query, string(types.TradeStatusFilled), fillPrice.String(), filledAt, id)
	if err != nil {
		return fmt.Errorf("mark trade filled: %w", err)
	}
	return requireRow(res)
}

// CloseTrade records the exit. A trade that was never filled cannot close;
// the violating write is refused and logged by the caller.
func (r *SQLiteRepository) CloseTrade(ctx context.Context, id string, exitPrice decimal.Decimal, reason string, closedAt time.Time, pnl decimal.Decimal) error {
	trade, err := r.GetTrade(ctx, id)
	if err != nil {
		return err
	}

	next := *trade
	next.Status = types.TradeStatusClosed
	next.ExitPrice = exitPrice
	next.ExitReason = reason
	next.ClosedAt = &closedAt
	if err := next.ValidateTimestamps(); err != nil {
		return fmt.Errorf("refusing close update for %s: %w", id, err)
	}

	query := `UPDATE trades SET status = ?, exit_price = ?, exit_reason = ?, closed_at = ?, realized_pnl = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`
	res, err := r.db.ExecContext(ctx, query,
		string(types.TradeStatusClosed), exitPrice.String(), reason, closedAt, pnl.String(), id)
	if err != nil {
		return fmt.Errorf("close trade: %w", err)
	}
	return requireRow(res)
}

// UpdateTradeStops persists amended stop/target levels.
func (r *SQLiteRepository) UpdateTradeStops(ctx context.Context, id string, stopLoss, takeProfit decimal.Decimal) error {
	query := `UPDATE trades SET stop_loss = ?, take_profit = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`

	res, err := r.db.ExecContext(ctx, query, stopLoss.String(), takeProfit.String(), id)
	if err != nil {
		return fmt.Errorf("update trade stops: %w", err)
	}
	return requireRow(res)
}

// UpdateTradeLegFills records per-leg fill prices for a spread trade. A zero
// value leaves the stored price untouched.
func (r *SQLiteRepository) UpdateTradeLegFills(ctx context.Context, id string, legFill, pairFill decimal.Decimal) error {
	query := `UPDATE trades SET
		leg_fill_price = COALESCE(NULLIF(?, ''), leg_fill_price),
		pair_fill_price = COALESCE(NULLIF(?, ''), pair_fill_price),
		updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`

	var leg, pair string
	if !legFill.IsZero() {
		leg = legFill.String()
	}
	if !pairFill.IsZero() {
		pair = pairFill.String()
	}

	res, err := r.db.ExecContext(ctx, query, leg, pair, id)
	if err != nil {
		return fmt.Errorf("update leg fills: %w", err)
	}
	return requireRow(res)
}

// SaveExecution persists a fill record. Replays are tolerated: the exchange
// delivers at-least-once, so a duplicate exec id is a no-op.
func (r *SQLiteRepository) SaveExecution(ctx context.Context, exec types.Execution) error {
	query := `INSERT OR IGNORE INTO executions
		(exec_id, order_id, symbol, side, price, quantity, value, fee, realized_pnl, is_maker, exec_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	isMaker := 0
	if exec.IsMaker {
		isMaker = 1
	}

	_, err := r.db.ExecContext(ctx, query,
		exec.ExecID,
		exec.OrderID,
		exec.Symbol,
		exec.Side,
		exec.Price.String(),
		exec.Quantity.String(),
		exec.Value.String(),
		exec.Fee.String(),
		exec.RealizedPnL.String(),
		isMaker,
		exec.ExecTime,
	)
	if err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}
	return nil
}

// CreateRun inserts a run row.
func (r *SQLiteRepository) CreateRun(ctx context.Context, run Run) error {
	query := `INSERT INTO runs (id, instance_id, mode, started_at) VALUES (?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query, run.ID, run.InstanceID, run.Mode, run.StartedAt)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// FinishRun stamps the run's end time.
func (r *SQLiteRepository) FinishRun(ctx context.Context, id string, finishedAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE runs SET finished_at = ? WHERE id = ?`, finishedAt, id)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

// SaveCycle inserts a cycle audit row.
func (r *SQLiteRepository) SaveCycle(ctx context.Context, cycle Cycle) error {
	query := `INSERT INTO cycles (id, run_id, started_at, signals, opened, skipped, skip_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	skipped := 0
	if cycle.Skipped {
		skipped = 1
	}

	_, err := r.db.ExecContext(ctx, query,
		cycle.ID, cycle.RunID, cycle.StartedAt, cycle.Signals, cycle.Opened, skipped, cycle.SkipReason)
	if err != nil {
		return fmt.Errorf("insert cycle: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrade(row rowScanner) (*types.Trade, error) {
	var t types.Trade
	var entryPrice, stopLoss, takeProfit, quantity, score string
	var status string
	var fillPrice, exitPrice, exitReason, realizedPnL sql.NullString
	var pairQty, legFill, pairFill, rejectReason sql.NullString
	var legOrderID, pairOrderID sql.NullString
	var filledAt, closedAt sql.NullTime

	err := row.Scan(
		&t.ID, &t.RecommendationID, &t.InstanceID, &t.Symbol, &t.Side,
		&entryPrice, &stopLoss, &takeProfit, &quantity,
		&status, &score, &fillPrice, &filledAt, &exitPrice, &exitReason, &closedAt, &realizedPnL,
		&t.PairSymbol, &t.PairSide, &pairQty, &legOrderID, &pairOrderID, &legFill, &pairFill,
		&rejectReason, &t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	t.Status = types.TradeStatus(status)
	t.EntryPrice, _ = decimal.NewFromString(entryPrice)
	t.StopLoss, _ = decimal.NewFromString(stopLoss)
	t.TakeProfit, _ = decimal.NewFromString(takeProfit)
	t.Quantity, _ = decimal.NewFromString(quantity)
	t.Score, _ = decimal.NewFromString(score)
	if fillPrice.Valid {
		t.FillPrice, _ = decimal.NewFromString(fillPrice.String)
	}
	if filledAt.Valid {
		ts := filledAt.Time
		t.FilledAt = &ts
	}
	if exitPrice.Valid {
		t.ExitPrice, _ = decimal.NewFromString(exitPrice.String)
	}
	t.ExitReason = exitReason.String
	if closedAt.Valid {
		ts := closedAt.Time
		t.ClosedAt = &ts
	}
	if realizedPnL.Valid {
		t.RealizedPnL, _ = decimal.NewFromString(realizedPnL.String)
	}
	if pairQty.Valid {
		t.PairQuantity, _ = decimal.NewFromString(pairQty.String)
	}
	t.LegOrderID = legOrderID.String
	t.PairOrderID = pairOrderID.String
	if legFill.Valid && legFill.String != "" {
		t.LegFillPrice, _ = decimal.NewFromString(legFill.String)
	}
	if pairFill.Valid && pairFill.String != "" {
		t.PairFillPrice, _ = decimal.NewFromString(pairFill.String)
	}
	t.RejectReason = rejectReason.String

	return &t, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return nil
	}
	if n == 0 {
		return types.ErrTradeNotFound
	}
	return nil
}
