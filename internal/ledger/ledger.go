package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/CiscoZulfikar/bitget-trade/internal/exchange"
	"github.com/CiscoZulfikar/bitget-trade/internal/store"
)

// ErrNotFound 表示账本中不存在指定交易。
var ErrNotFound = errors.New("ledger: trade not found")

// ErrInvalidTransition 表示当前状态不允许执行请求的迁移。
var ErrInvalidTransition = errors.New("ledger: invalid status transition")

// Ledger 是交易生命周期的唯一事实来源。信号ID的唯一性约束
// 由主键插入保证，不再依赖进程内锁。
type Ledger struct {
	db     *sql.DB
	logger *zap.Logger
}

// New 初始化账本并创建表结构。
func New(store *store.Store, logger *zap.Logger) (*Ledger, error) {
	if store == nil {
		return nil, fmt.Errorf("ledger: store 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	l := &Ledger{
		db:     store.DB(),
		logger: logger,
	}

	if err := l.initSchema(); err != nil {
		return nil, err
	}

	return l, nil
}

func (l *Ledger) initSchema() error {
	stmt := `
CREATE TABLE IF NOT EXISTS trades (
	id TEXT PRIMARY KEY,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	provenance TEXT NOT NULL DEFAULT 'automated',
	entry_price REAL NOT NULL DEFAULT 0,
	size REAL NOT NULL DEFAULT 0,
	leverage INTEGER NOT NULL DEFAULT 0,
	margin REAL NOT NULL DEFAULT 0,
	order_id TEXT NOT NULL DEFAULT '',
	stop_loss REAL,
	take_profit REAL,
	exit_price REAL,
	realized_pnl REAL,
	breakeven_applied INTEGER NOT NULL DEFAULT 0,
	simulated INTEGER NOT NULL DEFAULT 0,
	note TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	closed_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_trades_status ON trades(status);
CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol);
`
	if _, err := l.db.Exec(stmt); err != nil {
		return fmt.Errorf("ledger: 初始化表失败: %w", err)
	}
	return nil
}

// ReserveIfAbsent 以插入即占用的方式预留信号ID。返回 true 表示
// 本次预留成功，false 表示该ID已存在、必须跳过处理。
func (l *Ledger) ReserveIfAbsent(ctx context.Context, id, symbol string) (bool, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	result, err := l.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO trades (id, symbol, status, provenance, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		id, symbol, string(StatusReserved), string(ProvenanceAutomated), now, now,
	)
	if err != nil {
		return false, fmt.Errorf("ledger: 预留交易失败: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("ledger: 读取预留结果失败: %w", err)
	}
	return affected == 1, nil
}

// MarkOpen 将预留交易迁移到 OPEN 并写入成交信息。
func (l *Ledger) MarkOpen(ctx context.Context, id string, params OpenParams) error {
	return l.markActive(ctx, id, StatusOpen, false, params)
}

// MarkSimulated 将预留交易迁移到 SIMULATED（干跑模式，不触达交易所）。
func (l *Ledger) MarkSimulated(ctx context.Context, id string, params OpenParams) error {
	return l.markActive(ctx, id, StatusSimulated, true, params)
}

func (l *Ledger) markActive(ctx context.Context, id string, status Status, simulated bool, params OpenParams) error {
	now := time.Now().UTC().Format(time.RFC3339)
	result, err := l.db.ExecContext(ctx,
		`UPDATE trades SET status = ?, side = ?, entry_price = ?, size = ?, leverage = ?,
		 margin = ?, order_id = ?, stop_loss = ?, take_profit = ?, simulated = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		string(status), string(params.Side), params.EntryPrice, params.Size, params.Leverage,
		params.Margin, params.OrderID, nullableFloat(params.StopLoss), nullableFloat(params.TakeProfit),
		boolToInt(simulated), now,
		id, string(StatusReserved),
	)
	if err != nil {
		return fmt.Errorf("ledger: 更新交易状态失败: %w", err)
	}
	return l.requireTransition(result, id, status)
}

// MarkClosed 将持仓交易迁移到 CLOSED。
func (l *Ledger) MarkClosed(ctx context.Context, id string, params CloseParams) error {
	now := time.Now().UTC().Format(time.RFC3339)
	result, err := l.db.ExecContext(ctx,
		`UPDATE trades SET status = ?, exit_price = ?, realized_pnl = ?, note = ?, closed_at = ?, updated_at = ?
		 WHERE id = ? AND status IN (?, ?)`,
		string(StatusClosed), nullableFloat(params.ExitPrice), nullableFloat(params.RealizedPnl),
		params.Note, now, now,
		id, string(StatusOpen), string(StatusSimulated),
	)
	if err != nil {
		return fmt.Errorf("ledger: 平仓更新失败: %w", err)
	}
	return l.requireTransition(result, id, StatusClosed)
}

// MarkAborted 将预留交易直接标记为 CLOSED 并记录放弃原因。
// 该信号ID永久作废，重发同一信号不会再次执行。
func (l *Ledger) MarkAborted(ctx context.Context, id, note string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	result, err := l.db.ExecContext(ctx,
		`UPDATE trades SET status = ?, note = ?, closed_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		string(StatusClosed), note, now, now,
		id, string(StatusReserved),
	)
	if err != nil {
		return fmt.Errorf("ledger: 放弃交易失败: %w", err)
	}
	return l.requireTransition(result, id, StatusClosed)
}

func (l *Ledger) requireTransition(result sql.Result, id string, target Status) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("ledger: 读取更新结果失败: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, id, target)
	}
	return nil
}

// AdoptManual 收编一笔在交易所发现的手工仓位，直接以 OPEN 状态入账。
func (l *Ledger) AdoptManual(ctx context.Context, rec Record) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO trades (id, symbol, side, status, provenance, entry_price, size, leverage,
		 margin, order_id, stop_loss, take_profit, note, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Symbol, string(rec.Side), string(StatusOpen), string(ProvenanceManual),
		rec.EntryPrice, rec.Size, rec.Leverage, rec.Margin, rec.OrderID,
		nullableFloat(rec.StopLoss), nullableFloat(rec.TakeProfit), rec.Note, now, now,
	)
	if err != nil {
		return fmt.Errorf("ledger: 收编手工仓位失败: %w", err)
	}
	return nil
}

// UpdateStopLoss 更新持仓交易的止损价。
func (l *Ledger) UpdateStopLoss(ctx context.Context, id string, price float64) error {
	return l.updateField(ctx, id, "stop_loss", price)
}

// UpdateTakeProfit 更新持仓交易的止盈价。
func (l *Ledger) UpdateTakeProfit(ctx context.Context, id string, price float64) error {
	return l.updateField(ctx, id, "take_profit", price)
}

// UpdateEntryPrice 用交易所的实际成交均价修正本地开仓价。
func (l *Ledger) UpdateEntryPrice(ctx context.Context, id string, price float64) error {
	return l.updateField(ctx, id, "entry_price", price)
}

// UpdateOrderID 换单成功后记录新的交易所委托ID。
func (l *Ledger) UpdateOrderID(ctx context.Context, id, orderID string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	result, err := l.db.ExecContext(ctx,
		`UPDATE trades SET order_id = ?, updated_at = ? WHERE id = ? AND status IN (?, ?)`,
		orderID, now, id, string(StatusOpen), string(StatusSimulated),
	)
	if err != nil {
		return fmt.Errorf("ledger: 更新委托ID失败: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("ledger: 读取更新结果失败: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func (l *Ledger) updateField(ctx context.Context, id, column string, price float64) error {
	now := time.Now().UTC().Format(time.RFC3339)
	query := fmt.Sprintf(
		`UPDATE trades SET %s = ?, updated_at = ? WHERE id = ? AND status IN (?, ?)`, column)
	result, err := l.db.ExecContext(ctx, query,
		price, now, id, string(StatusOpen), string(StatusSimulated),
	)
	if err != nil {
		return fmt.Errorf("ledger: 更新 %s 失败: %w", column, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("ledger: 读取更新结果失败: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// SetBreakevenApplied 标记该交易的止损已推到保本价。该标记只会
// 单向置位，防止价格回落后止损被放松。
func (l *Ledger) SetBreakevenApplied(ctx context.Context, id string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := l.db.ExecContext(ctx,
		`UPDATE trades SET breakeven_applied = 1, updated_at = ? WHERE id = ?`,
		now, id,
	)
	if err != nil {
		return fmt.Errorf("ledger: 标记保本失败: %w", err)
	}
	return nil
}

// GetByID 按ID取单笔交易。
func (l *Ledger) GetByID(ctx context.Context, id string) (Record, error) {
	row := l.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return rec, err
}

// OpenBySymbol 返回指定交易对上最近的一笔持仓交易。
func (l *Ledger) OpenBySymbol(ctx context.Context, symbol string) (Record, error) {
	row := l.db.QueryRowContext(ctx,
		selectColumns+` WHERE symbol = ? AND status IN (?, ?) ORDER BY created_at DESC LIMIT 1`,
		symbol, string(StatusOpen), string(StatusSimulated),
	)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("%w: symbol=%s", ErrNotFound, symbol)
	}
	return rec, err
}

// OpenTrades 返回全部真实持仓交易（不含干跑）。
func (l *Ledger) OpenTrades(ctx context.Context) ([]Record, error) {
	return l.queryRecords(ctx,
		selectColumns+` WHERE status = ? ORDER BY created_at ASC`,
		string(StatusOpen),
	)
}

// SimulatedTrades 返回全部干跑交易。
func (l *Ledger) SimulatedTrades(ctx context.Context) ([]Record, error) {
	return l.queryRecords(ctx,
		selectColumns+` WHERE status = ? ORDER BY created_at ASC`,
		string(StatusSimulated),
	)
}

// CountOpen 返回真实持仓笔数。
func (l *Ledger) CountOpen(ctx context.Context) (int, error) {
	var count int
	err := l.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM trades WHERE status = ?`, string(StatusOpen),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("ledger: 统计持仓失败: %w", err)
	}
	return count, nil
}

// RecentClosed 返回最近平仓的真实交易，干跑记录不计入战绩。
func (l *Ledger) RecentClosed(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 10
	}
	return l.queryRecords(ctx,
		selectColumns+` WHERE status = ? AND simulated = 0 ORDER BY closed_at DESC LIMIT ?`,
		string(StatusClosed), limit,
	)
}

func (l *Ledger) queryRecords(ctx context.Context, query string, args ...interface{}) ([]Record, error) {
	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ledger: 查询交易失败: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, scanErr := scanRecord(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: 读取交易失败: %w", err)
	}
	return records, nil
}

const selectColumns = `SELECT id, symbol, side, status, provenance, entry_price, size, leverage,
	margin, order_id, stop_loss, take_profit, exit_price, realized_pnl,
	breakeven_applied, simulated, note, created_at, updated_at, closed_at
	FROM trades`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (Record, error) {
	var (
		rec        Record
		side       string
		status     string
		provenance string
		stopLoss   sql.NullFloat64
		takeProfit sql.NullFloat64
		exitPrice  sql.NullFloat64
		pnl        sql.NullFloat64
		breakeven  int
		simulated  int
		createdAt  string
		updatedAt  string
		closedAt   sql.NullString
	)

	err := row.Scan(&rec.ID, &rec.Symbol, &side, &status, &provenance,
		&rec.EntryPrice, &rec.Size, &rec.Leverage, &rec.Margin, &rec.OrderID,
		&stopLoss, &takeProfit, &exitPrice, &pnl,
		&breakeven, &simulated, &rec.Note, &createdAt, &updatedAt, &closedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, err
		}
		return Record{}, fmt.Errorf("ledger: 解析交易失败: %w", err)
	}

	rec.Side = exchange.Side(side)
	rec.Status = Status(status)
	rec.Provenance = Provenance(provenance)
	rec.BreakevenApplied = breakeven != 0
	rec.Simulated = simulated != 0
	if stopLoss.Valid {
		v := stopLoss.Float64
		rec.StopLoss = &v
	}
	if takeProfit.Valid {
		v := takeProfit.Float64
		rec.TakeProfit = &v
	}
	if exitPrice.Valid {
		v := exitPrice.Float64
		rec.ExitPrice = &v
	}
	if pnl.Valid {
		v := pnl.Float64
		rec.RealizedPnl = &v
	}
	if ts, parseErr := time.Parse(time.RFC3339, createdAt); parseErr == nil {
		rec.CreatedAt = ts
	}
	if ts, parseErr := time.Parse(time.RFC3339, updatedAt); parseErr == nil {
		rec.UpdatedAt = ts
	}
	if closedAt.Valid {
		if ts, parseErr := time.Parse(time.RFC3339, closedAt.String); parseErr == nil {
			rec.ClosedAt = &ts
		}
	}
	return rec, nil
}

func nullableFloat(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
