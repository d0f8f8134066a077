package reconcile

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/CiscoZulfikar/bitget-trade/internal/config"
	"github.com/CiscoZulfikar/bitget-trade/internal/exchange"
	"github.com/CiscoZulfikar/bitget-trade/internal/ledger"
	"github.com/CiscoZulfikar/bitget-trade/internal/monitor"
	"github.com/CiscoZulfikar/bitget-trade/internal/notify"
	"github.com/CiscoZulfikar/bitget-trade/internal/risk"
	"github.com/CiscoZulfikar/bitget-trade/internal/trade"
)

// eventRecorder 把对账产生的纠偏动作写进监控事件日志。
type eventRecorder interface {
	RecordReconcile(ctx context.Context, payload monitor.ReconcilePayload)
}

// Snapshot 是一个轮询周期观察到的远程仓位集合，按紧凑符号索引。
// 快照整体按值传递、整体替换，周期之间从不原地修改。
type Snapshot struct {
	TakenAt   time.Time
	Positions map[string]exchange.Position
}

// Loop 周期性对账：交易所是成交、平仓与手工操作的唯一事实来源，
// 本循环把账本向它收敛。
type Loop struct {
	gateway  exchange.Gateway
	ledger   *ledger.Ledger
	trades   *trade.Manager
	notifier notify.Notifier
	events   eventRecorder
	cfg      config.ReconcileConfig
	riskCfg  config.RiskConfig
	logger   *zap.Logger
}

// NewLoop 创建对账循环。events 可为 nil，此时不记录监控事件。
func NewLoop(gateway exchange.Gateway, ldg *ledger.Ledger, trades *trade.Manager,
	notifier notify.Notifier, events eventRecorder, cfg config.ReconcileConfig,
	riskCfg config.RiskConfig, logger *zap.Logger) *Loop {
	if logger == nil {
		logger = zap.NewNop()
	}
	if notifier == nil {
		notifier = notify.FuncNotifier(nil)
	}
	return &Loop{
		gateway:  gateway,
		ledger:   ldg,
		trades:   trades,
		notifier: notifier,
		events:   events,
		cfg:      cfg,
		riskCfg:  riskCfg,
		logger:   logger,
	}
}

func (l *Loop) recordEvent(ctx context.Context, symbol, action, detail string) {
	if l.events == nil {
		return
	}
	l.events.RecordReconcile(ctx, monitor.ReconcilePayload{
		Symbol: symbol,
		Action: action,
		Detail: detail,
	})
}

// Run 按固定间隔执行对账直到 ctx 结束。单个周期出错只记日志，
// 循环本身不退出。
func (l *Loop) Run(ctx context.Context) error {
	interval := l.cfg.PollInterval
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	snapshot := Snapshot{}
	for {
		next, err := l.Cycle(ctx, snapshot)
		if err != nil {
			l.logger.Warn("对账周期失败", zap.Error(err))
		}
		snapshot = next

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Cycle 执行一次对账，返回下一周期的基准快照。远程仓位拉取失败时
// 原样返回旧快照，避免把一次网络故障误判成批量平仓。
func (l *Loop) Cycle(ctx context.Context, prev Snapshot) (Snapshot, error) {
	remote, err := l.gateway.GetAllPositions(ctx)
	if err != nil {
		return prev, fmt.Errorf("reconcile: 拉取远程仓位失败: %w", err)
	}

	current := make(map[string]exchange.Position, len(remote))
	for _, pos := range remote {
		current[exchange.CompactSymbol(pos.Symbol)] = pos
	}

	// 上周期在、本周期不在 → 仓位已平。之后若同符号重新出现，
	// 按新交易收编，不会复活旧记录。
	for sym := range prev.Positions {
		if _, ok := current[sym]; ok {
			continue
		}
		l.handleClosure(ctx, sym)
	}

	for sym, pos := range current {
		rec, err := l.ledger.OpenBySymbol(ctx, sym)
		if errors.Is(err, ledger.ErrNotFound) {
			l.adoptManual(ctx, sym, pos)
			continue
		}
		if err != nil {
			l.logger.Warn("查询账本失败", zap.String("symbol", sym), zap.Error(err))
			continue
		}
		if rec.Status != ledger.StatusOpen {
			// 只有干跑记录占着该符号，远程仓位必然是手工下的。
			l.adoptManual(ctx, sym, pos)
			continue
		}
		l.syncRecord(ctx, rec, pos)
	}

	return Snapshot{
		TakenAt:   time.Now().UTC(),
		Positions: current,
	}, nil
}

func (l *Loop) handleClosure(ctx context.Context, sym string) {
	rec, err := l.ledger.OpenBySymbol(ctx, sym)
	if err != nil {
		if !errors.Is(err, ledger.ErrNotFound) {
			l.logger.Warn("平仓落账前查询失败", zap.String("symbol", sym), zap.Error(err))
		}
		return
	}
	if rec.Status != ledger.StatusOpen {
		return
	}

	params := ledger.CloseParams{Note: "对账检测到远程仓位消失"}
	history, err := l.gateway.GetPositionHistory(ctx, sym, l.cfg.HistoryLimit)
	if err != nil {
		l.logger.Warn("拉取平仓历史失败，盈亏按不可用记录",
			zap.String("symbol", sym), zap.Error(err))
	} else if len(history) > 0 {
		params.ExitPrice = history[0].ExitPrice
		params.RealizedPnl = history[0].RealizedPnl
	}

	if err := l.ledger.MarkClosed(ctx, rec.ID, params); err != nil {
		if errors.Is(err, ledger.ErrInvalidTransition) {
			return
		}
		l.logger.Error("平仓落账失败", zap.String("id", rec.ID), zap.Error(err))
		return
	}

	pnlText := "盈亏不可用"
	if params.RealizedPnl != nil {
		pnlText = fmt.Sprintf("盈亏 %.4f", *params.RealizedPnl)
	}
	l.notifier.Send(ctx, fmt.Sprintf("检测到 %s 已平仓，%s", sym, pnlText))
	l.recordEvent(ctx, sym, "close", pnlText)
}

// adoptManual 把交易所上发现的无主仓位收编进账本，使其进入与
// 信号交易相同的生命周期管理。
func (l *Loop) adoptManual(ctx context.Context, sym string, pos exchange.Position) {
	rec := ledger.Record{
		ID:         newAdoptionID(),
		Symbol:     sym,
		Side:       pos.Side,
		EntryPrice: pos.EntryPrice,
		Size:       pos.Size,
		Leverage:   int(pos.Leverage),
		Note:       "对账收编的手工仓位",
	}

	if actives, err := l.gateway.ActiveConditionalOrders(ctx, sym); err != nil {
		l.logger.Warn("读取计划委托失败", zap.String("symbol", sym), zap.Error(err))
	} else {
		for _, order := range actives {
			trigger := order.Trigger
			switch order.Kind {
			case exchange.ConditionalStopLoss:
				if rec.StopLoss == nil {
					rec.StopLoss = &trigger
				}
			case exchange.ConditionalTakeProfit:
				if rec.TakeProfit == nil {
					rec.TakeProfit = &trigger
				}
			}
		}
	}

	if err := l.ledger.AdoptManual(ctx, rec); err != nil {
		l.logger.Error("收编手工仓位失败", zap.String("symbol", sym), zap.Error(err))
		return
	}
	l.notifier.Send(ctx, fmt.Sprintf("收编手工仓位 %s %s @%.6g 数量%.6g",
		sym, pos.Side, pos.EntryPrice, pos.Size))
	l.recordEvent(ctx, sym, "adopt", fmt.Sprintf("%s @%.6g", pos.Side, pos.EntryPrice))
}

// syncRecord 对单笔持仓做入场价纠偏、SL/TP 收编与自动保本。
func (l *Loop) syncRecord(ctx context.Context, rec ledger.Record, pos exchange.Position) {
	if rec.EntryPrice > 0 && pos.EntryPrice > 0 {
		drift := absFloat(rec.EntryPrice-pos.EntryPrice) / pos.EntryPrice
		if drift > l.cfg.DriftThreshold {
			if err := l.ledger.UpdateEntryPrice(ctx, rec.ID, pos.EntryPrice); err != nil {
				l.logger.Error("纠正入场价失败", zap.String("id", rec.ID), zap.Error(err))
			} else {
				l.logger.Info("入场价偏差已纠正",
					zap.String("symbol", rec.Symbol),
					zap.Float64("ledger", rec.EntryPrice),
					zap.Float64("remote", pos.EntryPrice),
				)
				l.recordEvent(ctx, rec.Symbol, "entry_corrected",
					fmt.Sprintf("%.6g -> %.6g", rec.EntryPrice, pos.EntryPrice))
				rec.EntryPrice = pos.EntryPrice
			}
		}
	}

	// 仅向未设置的账本字段收编远程 SL/TP，保留信号原始的风险口径。
	if rec.StopLoss == nil || rec.TakeProfit == nil {
		if actives, err := l.gateway.ActiveConditionalOrders(ctx, rec.Symbol); err == nil {
			for _, order := range actives {
				trigger := order.Trigger
				switch order.Kind {
				case exchange.ConditionalStopLoss:
					if rec.StopLoss == nil {
						if err := l.ledger.UpdateStopLoss(ctx, rec.ID, trigger); err == nil {
							rec.StopLoss = &trigger
						}
					}
				case exchange.ConditionalTakeProfit:
					if rec.TakeProfit == nil {
						if err := l.ledger.UpdateTakeProfit(ctx, rec.ID, trigger); err == nil {
							rec.TakeProfit = &trigger
						}
					}
				}
			}
		}
	}

	l.maybeBreakeven(ctx, rec, pos)
}

// maybeBreakeven 盈利达到触发R后把止损推到保本价。单向棘轮：
// 已置位的标记和"已在保本或更优"的止损都不会被放松。
func (l *Loop) maybeBreakeven(ctx context.Context, rec ledger.Record, pos exchange.Position) {
	if rec.BreakevenApplied || rec.StopLoss == nil || rec.EntryPrice <= 0 || pos.MarkPrice <= 0 {
		return
	}

	short := rec.Side == exchange.SideShort
	r := risk.RMultiple(rec.EntryPrice, *rec.StopLoss, pos.MarkPrice, short)
	if r < l.riskCfg.BreakevenTriggerR {
		return
	}

	bePrice := risk.BreakevenPrice(rec.EntryPrice, l.riskCfg.FeeBuffer, short)
	atOrBetter := (*rec.StopLoss >= bePrice && !short) || (*rec.StopLoss <= bePrice && short)
	if atOrBetter {
		if err := l.ledger.SetBreakevenApplied(ctx, rec.ID); err != nil {
			l.logger.Warn("标记保本失败", zap.String("id", rec.ID), zap.Error(err))
		}
		return
	}

	if err := l.trades.UpdateStopLoss(ctx, rec, bePrice); err != nil {
		l.logger.Error("自动保本移动止损失败",
			zap.String("symbol", rec.Symbol), zap.Error(err))
		return
	}
	if err := l.ledger.SetBreakevenApplied(ctx, rec.ID); err != nil {
		l.logger.Warn("标记保本失败", zap.String("id", rec.ID), zap.Error(err))
	}
	l.notifier.Send(ctx, fmt.Sprintf("%s 盈利达 %.2fR，止损已推到保本价 %.6g",
		rec.Symbol, r, bePrice))
	l.recordEvent(ctx, rec.Symbol, "breakeven", fmt.Sprintf("止损推到 %.6g", bePrice))
}

func newAdoptionID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now().UTC()), rand.Reader).String()
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
