package reconcile

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/CiscoZulfikar/bitget-trade/internal/config"
	"github.com/CiscoZulfikar/bitget-trade/internal/exchange"
	"github.com/CiscoZulfikar/bitget-trade/internal/ledger"
	"github.com/CiscoZulfikar/bitget-trade/internal/monitor"
	"github.com/CiscoZulfikar/bitget-trade/internal/notify"
	"github.com/CiscoZulfikar/bitget-trade/internal/store"
	"github.com/CiscoZulfikar/bitget-trade/internal/trade"
)

// fakeRecorder 收集对账事件。
type fakeRecorder struct {
	payloads []monitor.ReconcilePayload
}

func (r *fakeRecorder) RecordReconcile(_ context.Context, p monitor.ReconcilePayload) {
	r.payloads = append(r.payloads, p)
}

func (r *fakeRecorder) actions() []string {
	out := make([]string, 0, len(r.payloads))
	for _, p := range r.payloads {
		out = append(out, p.Action)
	}
	return out
}

type placedConditional struct {
	kind    exchange.ConditionalKind
	trigger float64
	size    float64
}

// mockGateway 模拟对账所需的交易所读写接口。
type mockGateway struct {
	calls []string

	positions    []exchange.Position
	positionsErr error
	position     *exchange.Position
	history      []exchange.ClosedPosition
	condOrders   []exchange.ConditionalOrder

	conditional []placedConditional
}

func (g *mockGateway) record(name string) { g.calls = append(g.calls, name) }

func (g *mockGateway) GetPrice(ctx context.Context, symbol string) (float64, error) {
	g.record("GetPrice")
	return 0, nil
}

func (g *mockGateway) GetBalance(ctx context.Context) (exchange.Balance, error) {
	g.record("GetBalance")
	return exchange.Balance{}, nil
}

func (g *mockGateway) GetPosition(ctx context.Context, symbol string) (*exchange.Position, error) {
	g.record("GetPosition")
	return g.position, nil
}

func (g *mockGateway) GetAllPositions(ctx context.Context) ([]exchange.Position, error) {
	g.record("GetAllPositions")
	return g.positions, g.positionsErr
}

func (g *mockGateway) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderResult, error) {
	g.record("PlaceOrder")
	return exchange.OrderResult{ID: "ord-1"}, nil
}

func (g *mockGateway) CancelOrder(ctx context.Context, symbol, orderID string) error {
	g.record("CancelOrder")
	return nil
}

func (g *mockGateway) CancelAllOrders(ctx context.Context, symbol string) error {
	g.record("CancelAllOrders")
	return nil
}

func (g *mockGateway) PlaceConditionalOrder(ctx context.Context, symbol string, kind exchange.ConditionalKind,
	trigger float64, side exchange.Side, size float64) (string, error) {
	g.record("PlaceConditionalOrder")
	g.conditional = append(g.conditional, placedConditional{kind, trigger, size})
	return "plan-1", nil
}

func (g *mockGateway) CancelConditionalOrders(ctx context.Context, symbol string, kind exchange.ConditionalKind) error {
	g.record("CancelConditionalOrders")
	return nil
}

func (g *mockGateway) ActiveConditionalOrders(ctx context.Context, symbol string) ([]exchange.ConditionalOrder, error) {
	g.record("ActiveConditionalOrders")
	return g.condOrders, nil
}

func (g *mockGateway) GetOpenOrders(ctx context.Context, symbol string) ([]exchange.OrderResult, error) {
	g.record("GetOpenOrders")
	return nil, nil
}

func (g *mockGateway) GetTradeHistory(ctx context.Context, symbol string, limit int) ([]exchange.Fill, error) {
	g.record("GetTradeHistory")
	return nil, nil
}

func (g *mockGateway) GetPositionHistory(ctx context.Context, symbol string, limit int) ([]exchange.ClosedPosition, error) {
	g.record("GetPositionHistory")
	return g.history, nil
}

func (g *mockGateway) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	g.record("SetLeverage")
	return nil
}

func (g *mockGateway) EnsureHedgeMode(ctx context.Context, symbol string) error {
	g.record("EnsureHedgeMode")
	return nil
}

func (g *mockGateway) EnsureIsolatedMargin(ctx context.Context, symbol string) error {
	g.record("EnsureIsolatedMargin")
	return nil
}

func (g *mockGateway) MinOrderAmount(ctx context.Context, symbol string) (float64, error) {
	g.record("MinOrderAmount")
	return 0, nil
}

func testRiskCfg() config.RiskConfig {
	return config.RiskConfig{
		MarginTiers:       []config.MarginTier{{MinBalance: 0, Fraction: 0.15}},
		LossCapFraction:   0.5,
		RiskScalar:        1.0,
		SafetyMultiplier:  1.1,
		MaxLeverage:       50,
		MarketDeviation:   0.005,
		AbortDeviation:    0.010,
		FeeBuffer:         0.001,
		BreakevenTriggerR: 0.5,
	}
}

type fixture struct {
	gw     *mockGateway
	ledger *ledger.Ledger
	loop   *Loop
	events *fakeRecorder
	notes  []string
}

func newFixture(t *testing.T) *fixture {
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

	ldg, err := ledger.New(st, zap.NewNop())
	if err != nil {
		t.Fatalf("初始化账本失败: %v", err)
	}

	f := &fixture{gw: &mockGateway{}, ledger: ldg, events: &fakeRecorder{}}
	notifier := notify.FuncNotifier(func(_ context.Context, text string) {
		f.notes = append(f.notes, text)
	})
	riskCfg := testRiskCfg()
	manager := trade.NewManager(ldg, f.gw, riskCfg, notifier, false, zap.NewNop())
	f.loop = NewLoop(f.gw, ldg, manager, notifier, f.events, config.ReconcileConfig{
		DriftThreshold: 0.001,
		HistoryLimit:   5,
	}, riskCfg, zap.NewNop())
	return f
}

func (f *fixture) openTrade(t *testing.T, id, symbol string, entry, stop float64) {
	t.Helper()
	ctx := context.Background()
	if _, err := f.ledger.ReserveIfAbsent(ctx, id, symbol); err != nil {
		t.Fatalf("ReserveIfAbsent: %v", err)
	}
	if err := f.ledger.MarkOpen(ctx, id, ledger.OpenParams{
		Side:       exchange.SideLong,
		EntryPrice: entry,
		Size:       33,
		Leverage:   22,
		Margin:     150,
		OrderID:    "ord-1",
		StopLoss:   &stop,
	}); err != nil {
		t.Fatalf("MarkOpen: %v", err)
	}
}

func btcPosition(entry, mark float64) exchange.Position {
	return exchange.Position{
		Symbol:     "BTC/USDT:USDT",
		Side:       exchange.SideLong,
		Size:       33,
		EntryPrice: entry,
		MarkPrice:  mark,
		Leverage:   22,
	}
}

func TestCycle_ClosesExactlyOnceAndReappearanceIsNewTrade(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.openTrade(t, "msg-1", "BTCUSDT", 100, 98)

	exit := 104.0
	pnl := 42.5
	f.gw.history = []exchange.ClosedPosition{{Symbol: "BTCUSDT", ExitPrice: &exit, RealizedPnl: &pnl}}

	// 周期1：远程有仓位
	f.gw.positions = []exchange.Position{btcPosition(100, 100.2)}
	snap, err := f.loop.Cycle(ctx, Snapshot{})
	if err != nil {
		t.Fatalf("cycle 1: %v", err)
	}
	if len(snap.Positions) != 1 {
		t.Fatalf("snapshot positions = %d, want 1", len(snap.Positions))
	}

	// 周期2：仓位消失，记为已平仓
	f.gw.positions = nil
	snap, err = f.loop.Cycle(ctx, snap)
	if err != nil {
		t.Fatalf("cycle 2: %v", err)
	}

	rec, err := f.ledger.GetByID(ctx, "msg-1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if rec.Status != ledger.StatusClosed {
		t.Fatalf("status = %s, want CLOSED", rec.Status)
	}
	if rec.RealizedPnl == nil || *rec.RealizedPnl != 42.5 {
		t.Fatalf("realized pnl = %v, want 42.5", rec.RealizedPnl)
	}

	// 周期3：持续空仓，不应重复落账或播报
	notesAfterClose := len(f.notes)
	snap, err = f.loop.Cycle(ctx, snap)
	if err != nil {
		t.Fatalf("cycle 3: %v", err)
	}
	if len(f.notes) != notesAfterClose {
		t.Fatalf("repeat cycle produced extra notifications: %v", f.notes[notesAfterClose:])
	}

	// 周期4：同符号仓位重现，按新交易收编，旧记录不复活
	f.gw.positions = []exchange.Position{btcPosition(105, 105)}
	if _, err := f.loop.Cycle(ctx, snap); err != nil {
		t.Fatalf("cycle 4: %v", err)
	}

	adopted, err := f.ledger.OpenBySymbol(ctx, "BTCUSDT")
	if err != nil {
		t.Fatalf("OpenBySymbol: %v", err)
	}
	if adopted.ID == "msg-1" {
		t.Fatal("reappearance must get a fresh id, not revive the closed record")
	}
	if adopted.Provenance != ledger.ProvenanceManual {
		t.Fatalf("provenance = %s, want manual", adopted.Provenance)
	}

	old, err := f.ledger.GetByID(ctx, "msg-1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if old.Status != ledger.StatusClosed {
		t.Fatalf("old record status = %s, want CLOSED", old.Status)
	}

	// 事件日志：一次平仓、一次收编，没有重复
	closes, adopts := 0, 0
	for _, action := range f.events.actions() {
		switch action {
		case "close":
			closes++
		case "adopt":
			adopts++
		}
	}
	if closes != 1 || adopts != 1 {
		t.Fatalf("recorded actions = %v, want one close and one adopt", f.events.actions())
	}
}

func TestCycle_AdoptsManualPositionWithProtection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.gw.positions = []exchange.Position{btcPosition(64500, 64800)}
	f.gw.condOrders = []exchange.ConditionalOrder{
		{ID: "p1", Kind: exchange.ConditionalStopLoss, Trigger: 63000},
		{ID: "p2", Kind: exchange.ConditionalTakeProfit, Trigger: 68000},
	}

	if _, err := f.loop.Cycle(ctx, Snapshot{}); err != nil {
		t.Fatalf("Cycle: %v", err)
	}

	rec, err := f.ledger.OpenBySymbol(ctx, "BTCUSDT")
	if err != nil {
		t.Fatalf("OpenBySymbol: %v", err)
	}
	if rec.Provenance != ledger.ProvenanceManual {
		t.Fatalf("provenance = %s, want manual", rec.Provenance)
	}
	if rec.StopLoss == nil || *rec.StopLoss != 63000 {
		t.Fatalf("adopted stop loss = %v, want 63000", rec.StopLoss)
	}
	if rec.TakeProfit == nil || *rec.TakeProfit != 68000 {
		t.Fatalf("adopted take profit = %v, want 68000", rec.TakeProfit)
	}
	if actions := f.events.actions(); len(actions) != 1 || actions[0] != "adopt" {
		t.Fatalf("recorded actions = %v, want [adopt]", actions)
	}
}

func TestCycle_CorrectsEntryDrift(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.openTrade(t, "msg-1", "BTCUSDT", 100, 98)

	// 偏差 0.2% 超过 0.1% 阈值
	f.gw.positions = []exchange.Position{btcPosition(100.2, 100.2)}
	if _, err := f.loop.Cycle(ctx, Snapshot{}); err != nil {
		t.Fatalf("Cycle: %v", err)
	}

	rec, err := f.ledger.GetByID(ctx, "msg-1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if rec.EntryPrice != 100.2 {
		t.Fatalf("entry = %v, want corrected 100.2", rec.EntryPrice)
	}
	if actions := f.events.actions(); len(actions) != 1 || actions[0] != "entry_corrected" {
		t.Fatalf("recorded actions = %v, want [entry_corrected]", actions)
	}
}

func TestCycle_SmallDriftLeftAlone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.openTrade(t, "msg-1", "BTCUSDT", 100, 98)

	// 偏差 0.05% 在容忍范围内
	f.gw.positions = []exchange.Position{btcPosition(100.05, 100.05)}
	if _, err := f.loop.Cycle(ctx, Snapshot{}); err != nil {
		t.Fatalf("Cycle: %v", err)
	}

	rec, err := f.ledger.GetByID(ctx, "msg-1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if rec.EntryPrice != 100 {
		t.Fatalf("entry = %v, want untouched 100", rec.EntryPrice)
	}
}

func TestCycle_AdoptsProtectionOnlyIntoUnsetFields(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	// 账本已有止损 98，止盈未设置
	f.openTrade(t, "msg-1", "BTCUSDT", 100, 98)

	f.gw.positions = []exchange.Position{btcPosition(100, 100)}
	f.gw.condOrders = []exchange.ConditionalOrder{
		{ID: "p1", Kind: exchange.ConditionalStopLoss, Trigger: 97},
		{ID: "p2", Kind: exchange.ConditionalTakeProfit, Trigger: 110},
	}

	if _, err := f.loop.Cycle(ctx, Snapshot{}); err != nil {
		t.Fatalf("Cycle: %v", err)
	}

	rec, err := f.ledger.GetByID(ctx, "msg-1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if rec.StopLoss == nil || *rec.StopLoss != 98 {
		t.Fatalf("stop loss = %v, want signal value 98 preserved", rec.StopLoss)
	}
	if rec.TakeProfit == nil || *rec.TakeProfit != 110 {
		t.Fatalf("take profit = %v, want adopted 110", rec.TakeProfit)
	}
}

func TestCycle_BreakevenRatchetMovesStopOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	// entry=100, stop=98 → 1R = 2，保本触发 R=0.5，保本价 100.1
	f.openTrade(t, "msg-1", "BTCUSDT", 100, 98)

	cycleAtMark := func(mark float64) {
		t.Helper()
		pos := btcPosition(100, mark)
		f.gw.positions = []exchange.Position{pos}
		f.gw.position = &pos
		if _, err := f.loop.Cycle(ctx, Snapshot{Positions: map[string]exchange.Position{"BTCUSDT": pos}}); err != nil {
			t.Fatalf("Cycle at mark %v: %v", mark, err)
		}
	}

	// R=0.3：未达触发
	cycleAtMark(100.6)
	if n := len(f.gw.conditional); n != 0 {
		t.Fatalf("R=0.3 should not move stop, placed %d conditional orders", n)
	}

	// R=0.6：推到保本
	cycleAtMark(101.2)
	if n := len(f.gw.conditional); n != 1 {
		t.Fatalf("R=0.6 should move stop once, placed %d conditional orders", n)
	}
	moved := f.gw.conditional[0]
	if moved.kind != exchange.ConditionalStopLoss {
		t.Fatalf("moved order kind = %s, want SL", moved.kind)
	}
	if diff := moved.trigger - 100.1; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("breakeven trigger = %v, want 100.1", moved.trigger)
	}

	rec, err := f.ledger.GetByID(ctx, "msg-1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if !rec.BreakevenApplied {
		t.Fatal("breakeven flag should be set after the move")
	}

	// R 回落再冲高，棘轮不松开也不重复移动
	cycleAtMark(100.8)
	cycleAtMark(101.6)
	if n := len(f.gw.conditional); n != 1 {
		t.Fatalf("ratchet moved stop %d times, want exactly 1", n)
	}
	beEvents := 0
	for _, action := range f.events.actions() {
		if action == "breakeven" {
			beEvents++
		}
	}
	if beEvents != 1 {
		t.Fatalf("recorded %d breakeven events, want 1", beEvents)
	}
}

func TestCycle_FetchFailureKeepsPreviousSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.openTrade(t, "msg-1", "BTCUSDT", 100, 98)

	f.gw.positions = []exchange.Position{btcPosition(100, 100)}
	snap, err := f.loop.Cycle(ctx, Snapshot{})
	if err != nil {
		t.Fatalf("Cycle: %v", err)
	}

	// 拉取失败：旧快照原样返回，不得把网络故障当成批量平仓
	f.gw.positionsErr = errors.New("exchange timeout")
	next, err := f.loop.Cycle(ctx, snap)
	if err == nil {
		t.Fatal("fetch failure should surface an error")
	}
	if len(next.Positions) != len(snap.Positions) {
		t.Fatalf("snapshot changed on failure: %d vs %d", len(next.Positions), len(snap.Positions))
	}

	rec, err := f.ledger.GetByID(ctx, "msg-1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if rec.Status != ledger.StatusOpen {
		t.Fatalf("status = %s, want still OPEN", rec.Status)
	}
}
