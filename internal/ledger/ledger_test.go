package ledger

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/CiscoZulfikar/bitget-trade/internal/config"
	"github.com/CiscoZulfikar/bitget-trade/internal/exchange"
	"github.com/CiscoZulfikar/bitget-trade/internal/store"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()

	st, err := store.NewSQLite(config.DatabaseConfig{
		InMemory:     true,
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	})
	if err != nil {
		t.Fatalf("创建内存数据库失败: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	l, err := New(st, zap.NewNop())
	if err != nil {
		t.Fatalf("初始化账本失败: %v", err)
	}
	return l
}

func openParams() OpenParams {
	sl := 98.0
	return OpenParams{
		Side:       exchange.SideLong,
		EntryPrice: 100,
		Size:       0.5,
		Leverage:   22,
		Margin:     150,
		OrderID:    "ord-1",
		StopLoss:   &sl,
	}
}

func TestReserveIfAbsent_SecondCallIsNoop(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	first, err := l.ReserveIfAbsent(ctx, "msg-1", "BTCUSDT")
	if err != nil {
		t.Fatalf("ReserveIfAbsent: %v", err)
	}
	if !first {
		t.Fatal("first reservation should succeed")
	}

	second, err := l.ReserveIfAbsent(ctx, "msg-1", "BTCUSDT")
	if err != nil {
		t.Fatalf("ReserveIfAbsent repeat: %v", err)
	}
	if second {
		t.Fatal("duplicate reservation should report already-present")
	}

	rec, err := l.GetByID(ctx, "msg-1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if rec.Status != StatusReserved {
		t.Fatalf("status = %s, want RESERVED", rec.Status)
	}
}

func TestMarkOpen_OnlyFromReserved(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	if _, err := l.ReserveIfAbsent(ctx, "msg-1", "BTCUSDT"); err != nil {
		t.Fatalf("ReserveIfAbsent: %v", err)
	}
	if err := l.MarkOpen(ctx, "msg-1", openParams()); err != nil {
		t.Fatalf("MarkOpen: %v", err)
	}

	rec, err := l.GetByID(ctx, "msg-1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if rec.Status != StatusOpen {
		t.Fatalf("status = %s, want OPEN", rec.Status)
	}
	if rec.StopLoss == nil || *rec.StopLoss != 98 {
		t.Fatalf("stop loss not persisted: %v", rec.StopLoss)
	}

	// 二次开仓视为非法迁移
	if err := l.MarkOpen(ctx, "msg-1", openParams()); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("MarkOpen on OPEN record = %v, want ErrInvalidTransition", err)
	}
}

func TestMarkClosed_OnlyFromActive(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	if _, err := l.ReserveIfAbsent(ctx, "msg-1", "BTCUSDT"); err != nil {
		t.Fatalf("ReserveIfAbsent: %v", err)
	}

	// RESERVED 不能直接 CLOSED
	if err := l.MarkClosed(ctx, "msg-1", CloseParams{}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("MarkClosed on RESERVED = %v, want ErrInvalidTransition", err)
	}

	if err := l.MarkOpen(ctx, "msg-1", openParams()); err != nil {
		t.Fatalf("MarkOpen: %v", err)
	}

	exit := 101.5
	pnl := 12.3
	if err := l.MarkClosed(ctx, "msg-1", CloseParams{ExitPrice: &exit, RealizedPnl: &pnl}); err != nil {
		t.Fatalf("MarkClosed: %v", err)
	}

	// 幂等保护：重复关闭报非法迁移，调用方自行吸收
	if err := l.MarkClosed(ctx, "msg-1", CloseParams{}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("second MarkClosed = %v, want ErrInvalidTransition", err)
	}

	rec, err := l.GetByID(ctx, "msg-1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if rec.Status != StatusClosed {
		t.Fatalf("status = %s, want CLOSED", rec.Status)
	}
	if rec.RealizedPnl == nil || *rec.RealizedPnl != 12.3 {
		t.Fatalf("realized pnl not persisted: %v", rec.RealizedPnl)
	}
	if rec.ClosedAt == nil {
		t.Fatal("closed_at should be set")
	}
}

func TestMarkAborted_BurnsReservation(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	if _, err := l.ReserveIfAbsent(ctx, "msg-1", "BTCUSDT"); err != nil {
		t.Fatalf("ReserveIfAbsent: %v", err)
	}
	if err := l.MarkAborted(ctx, "msg-1", "价格偏差超限"); err != nil {
		t.Fatalf("MarkAborted: %v", err)
	}

	rec, err := l.GetByID(ctx, "msg-1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if rec.Status != StatusClosed {
		t.Fatalf("status = %s, want CLOSED", rec.Status)
	}
	if rec.Note == "" {
		t.Fatal("abort note should be recorded")
	}

	// ID 已作废，同信号不会再次入场
	ok, err := l.ReserveIfAbsent(ctx, "msg-1", "BTCUSDT")
	if err != nil {
		t.Fatalf("ReserveIfAbsent after abort: %v", err)
	}
	if ok {
		t.Fatal("aborted id must stay burned")
	}
}

func TestMarkSimulated(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	if _, err := l.ReserveIfAbsent(ctx, "msg-1", "ETHUSDT"); err != nil {
		t.Fatalf("ReserveIfAbsent: %v", err)
	}
	if err := l.MarkSimulated(ctx, "msg-1", openParams()); err != nil {
		t.Fatalf("MarkSimulated: %v", err)
	}

	rec, err := l.GetByID(ctx, "msg-1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if rec.Status != StatusSimulated || !rec.Simulated {
		t.Fatalf("record = %s simulated=%v, want SIMULATED/true", rec.Status, rec.Simulated)
	}

	sims, err := l.SimulatedTrades(ctx)
	if err != nil {
		t.Fatalf("SimulatedTrades: %v", err)
	}
	if len(sims) != 1 {
		t.Fatalf("SimulatedTrades = %d 条, want 1", len(sims))
	}
}

func TestAdoptManual(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	sl := 63000.0
	err := l.AdoptManual(ctx, Record{
		ID:         "adopt-1",
		Symbol:     "BTCUSDT",
		Side:       exchange.SideLong,
		EntryPrice: 64500,
		Size:       0.1,
		Leverage:   10,
		StopLoss:   &sl,
		Note:       "对账收编的手工仓位",
	})
	if err != nil {
		t.Fatalf("AdoptManual: %v", err)
	}

	rec, err := l.OpenBySymbol(ctx, "BTCUSDT")
	if err != nil {
		t.Fatalf("OpenBySymbol: %v", err)
	}
	if rec.Provenance != ProvenanceManual {
		t.Fatalf("provenance = %s, want manual", rec.Provenance)
	}
	if rec.Status != StatusOpen {
		t.Fatalf("status = %s, want OPEN", rec.Status)
	}
}

func TestUpdateFields_RequireActiveRecord(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	if err := l.UpdateStopLoss(ctx, "missing", 98); !errors.Is(err, ErrNotFound) {
		t.Fatalf("UpdateStopLoss on missing = %v, want ErrNotFound", err)
	}

	if _, err := l.ReserveIfAbsent(ctx, "msg-1", "BTCUSDT"); err != nil {
		t.Fatalf("ReserveIfAbsent: %v", err)
	}
	if err := l.MarkOpen(ctx, "msg-1", openParams()); err != nil {
		t.Fatalf("MarkOpen: %v", err)
	}

	if err := l.UpdateStopLoss(ctx, "msg-1", 99.5); err != nil {
		t.Fatalf("UpdateStopLoss: %v", err)
	}
	if err := l.UpdateTakeProfit(ctx, "msg-1", 110); err != nil {
		t.Fatalf("UpdateTakeProfit: %v", err)
	}
	if err := l.UpdateEntryPrice(ctx, "msg-1", 100.05); err != nil {
		t.Fatalf("UpdateEntryPrice: %v", err)
	}
	if err := l.SetBreakevenApplied(ctx, "msg-1"); err != nil {
		t.Fatalf("SetBreakevenApplied: %v", err)
	}

	rec, err := l.GetByID(ctx, "msg-1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if rec.StopLoss == nil || *rec.StopLoss != 99.5 {
		t.Fatalf("stop loss = %v, want 99.5", rec.StopLoss)
	}
	if rec.TakeProfit == nil || *rec.TakeProfit != 110 {
		t.Fatalf("take profit = %v, want 110", rec.TakeProfit)
	}
	if rec.EntryPrice != 100.05 {
		t.Fatalf("entry = %v, want 100.05", rec.EntryPrice)
	}
	if !rec.BreakevenApplied {
		t.Fatal("breakeven flag should be set")
	}
}

func TestRecentClosed_ExcludesSimulated(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	if _, err := l.ReserveIfAbsent(ctx, "live-1", "BTCUSDT"); err != nil {
		t.Fatalf("ReserveIfAbsent: %v", err)
	}
	if err := l.MarkOpen(ctx, "live-1", openParams()); err != nil {
		t.Fatalf("MarkOpen: %v", err)
	}
	if err := l.MarkClosed(ctx, "live-1", CloseParams{}); err != nil {
		t.Fatalf("MarkClosed: %v", err)
	}

	if _, err := l.ReserveIfAbsent(ctx, "sim-1", "ETHUSDT"); err != nil {
		t.Fatalf("ReserveIfAbsent: %v", err)
	}
	if err := l.MarkSimulated(ctx, "sim-1", openParams()); err != nil {
		t.Fatalf("MarkSimulated: %v", err)
	}
	if err := l.MarkClosed(ctx, "sim-1", CloseParams{}); err != nil {
		t.Fatalf("MarkClosed: %v", err)
	}

	recent, err := l.RecentClosed(ctx, 10)
	if err != nil {
		t.Fatalf("RecentClosed: %v", err)
	}
	if len(recent) != 1 || recent[0].ID != "live-1" {
		t.Fatalf("RecentClosed = %+v, want only live-1", recent)
	}
}

func TestCountOpen(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	n, err := l.CountOpen(ctx)
	if err != nil {
		t.Fatalf("CountOpen: %v", err)
	}
	if n != 0 {
		t.Fatalf("CountOpen = %d, want 0", n)
	}

	if _, err := l.ReserveIfAbsent(ctx, "msg-1", "BTCUSDT"); err != nil {
		t.Fatalf("ReserveIfAbsent: %v", err)
	}
	if err := l.MarkOpen(ctx, "msg-1", openParams()); err != nil {
		t.Fatalf("MarkOpen: %v", err)
	}

	n, err = l.CountOpen(ctx)
	if err != nil {
		t.Fatalf("CountOpen: %v", err)
	}
	if n != 1 {
		t.Fatalf("CountOpen = %d, want 1", n)
	}
}
