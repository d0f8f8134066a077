package trade

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/CiscoZulfikar/bitget-trade/internal/config"
	"github.com/CiscoZulfikar/bitget-trade/internal/exchange"
	"github.com/CiscoZulfikar/bitget-trade/internal/ledger"
	"github.com/CiscoZulfikar/bitget-trade/internal/notify"
	"github.com/CiscoZulfikar/bitget-trade/internal/risk"
	"github.com/CiscoZulfikar/bitget-trade/internal/signal"
)

// Manager 驱动单笔交易的完整生命周期。重复执行的防线是账本的
// 唯一ID预留，进程内不持有任何锁。
type Manager struct {
	ledger   *ledger.Ledger
	gateway  exchange.Gateway
	riskCfg  config.RiskConfig
	notifier notify.Notifier
	logger   *zap.Logger
	dryRun   bool
}

// NewManager 创建交易管理器。
func NewManager(ldg *ledger.Ledger, gateway exchange.Gateway, riskCfg config.RiskConfig,
	notifier notify.Notifier, dryRun bool, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if notifier == nil {
		notifier = notify.FuncNotifier(nil)
	}
	return &Manager{
		ledger:   ldg,
		gateway:  gateway,
		riskCfg:  riskCfg,
		notifier: notifier,
		logger:   logger,
		dryRun:   dryRun,
	}
}

// HandleTrade 处理一条开仓指令：预留ID、风控定纲、下单、落账。
// 重复ID静默跳过；ABORT 结论落账后作废；下单失败保持 RESERVED。
func (m *Manager) HandleTrade(ctx context.Context, intent signal.TradeIntent) error {
	if err := intent.Validate(); err != nil {
		return err
	}

	reserved, err := m.ledger.ReserveIfAbsent(ctx, intent.ID, intent.Symbol)
	if err != nil {
		return err
	}
	if !reserved {
		m.logger.Info("信号ID已处理过，跳过",
			zap.String("id", intent.ID),
			zap.String("symbol", intent.Symbol),
		)
		return nil
	}

	marketPrice, err := m.gateway.GetPrice(ctx, intent.Symbol)
	if err != nil {
		return &ExecutionError{Op: "获取市价", Symbol: intent.Symbol, Err: err}
	}

	// 信号价的数量级可能与实盘不符（人为笔误或单位差异），先归一。
	entry := risk.RescalePrice(intent.Entry, marketPrice)
	stop := risk.RescalePrice(intent.Stop, marketPrice)
	takeProfits := make([]float64, 0, len(intent.TakeProfits))
	for _, tp := range intent.TakeProfits {
		takeProfits = append(takeProfits, risk.RescalePrice(tp, marketPrice))
	}

	decision := risk.DecideEntryAction(entry, marketPrice, intent.ExplicitLimit,
		m.riskCfg.MarketDeviation, m.riskCfg.AbortDeviation)
	if decision.Action == risk.ActionAbort {
		if err := m.ledger.MarkAborted(ctx, intent.ID, decision.Reason); err != nil {
			return err
		}
		m.notifier.Send(ctx, fmt.Sprintf("放弃 %s %s: %s", intent.Symbol, intent.Side, decision.Reason))
		return nil
	}

	balance, err := m.gateway.GetBalance(ctx)
	if err != nil {
		return &ExecutionError{Op: "获取余额", Symbol: intent.Symbol, Err: err}
	}
	equity := balance.Equity
	if equity <= 0 {
		equity = balance.Free
	}

	margin := risk.PositionMargin(equity, m.riskCfg.MarginTiers)
	leverage := risk.RequiredLeverage(entry, stop, m.riskCfg.LossCapFraction,
		m.riskCfg.RiskScalar, m.riskCfg.SafetyMultiplier, m.riskCfg.MaxLeverage)
	size := margin * float64(leverage) / decision.Price
	if size <= 0 {
		if err := m.ledger.MarkAborted(ctx, intent.ID, "计算下单数量无效"); err != nil {
			return err
		}
		m.notifier.Send(ctx, fmt.Sprintf("放弃 %s: 余额不足以构成有效仓位", intent.Symbol))
		return nil
	}

	var slPtr, tpPtr *float64
	slPtr = &stop
	if len(takeProfits) > 0 {
		tpPtr = &takeProfits[0]
	}

	if m.dryRun {
		err := m.ledger.MarkSimulated(ctx, intent.ID, ledger.OpenParams{
			Side:       intent.Side,
			EntryPrice: decision.Price,
			Size:       size,
			Leverage:   leverage,
			Margin:     margin,
			StopLoss:   slPtr,
			TakeProfit: tpPtr,
		})
		if err != nil {
			return err
		}
		m.notifier.Send(ctx, fmt.Sprintf("[干跑] %s %s %s @%.6g 杠杆%dx 保证金%.2f",
			decision.Action, intent.Symbol, intent.Side, decision.Price, leverage, margin))
		return nil
	}

	minAmount, err := m.gateway.MinOrderAmount(ctx, intent.Symbol)
	if err == nil && size < minAmount {
		if err := m.ledger.MarkAborted(ctx, intent.ID, "低于交易所最小下单数量"); err != nil {
			return err
		}
		m.notifier.Send(ctx, fmt.Sprintf("放弃 %s: 数量 %.6g 低于最小值 %.6g",
			intent.Symbol, size, minAmount))
		return nil
	}

	if err := m.preflight(ctx, intent.Symbol, leverage); err != nil {
		m.notifier.Send(ctx, fmt.Sprintf("账户预检失败 %s: %v", intent.Symbol, err))
		return err
	}

	kind := exchange.KindMarket
	if decision.Action == risk.ActionLimit {
		kind = exchange.KindLimit
	}

	result, err := m.gateway.PlaceOrder(ctx, exchange.OrderRequest{
		Symbol:     intent.Symbol,
		Side:       intent.Side,
		Kind:       kind,
		Amount:     size,
		Price:      decision.Price,
		StopLoss:   slPtr,
		TakeProfit: tpPtr,
	})
	if err != nil {
		// 账本停留在 RESERVED，该信号ID作废，等待人工处置。
		m.notifier.Send(ctx, fmt.Sprintf("下单失败 %s %s: %v", intent.Symbol, intent.Side, err))
		return &ExecutionError{Op: "下单", Symbol: intent.Symbol, Err: err}
	}

	fillPrice := decision.Price
	if result.AverageFill != nil && *result.AverageFill > 0 {
		fillPrice = *result.AverageFill
	}

	err = m.ledger.MarkOpen(ctx, intent.ID, ledger.OpenParams{
		Side:       intent.Side,
		EntryPrice: fillPrice,
		Size:       size,
		Leverage:   leverage,
		Margin:     margin,
		OrderID:    result.ID,
		StopLoss:   slPtr,
		TakeProfit: tpPtr,
	})
	if err != nil {
		return err
	}

	m.notifier.Send(ctx, fmt.Sprintf("已开仓 %s %s %s @%.6g 数量%.6g 杠杆%dx SL %.6g",
		decision.Action, intent.Symbol, intent.Side, fillPrice, size, leverage, stop))
	return nil
}

// preflight 确保账户处于双向持仓 + 逐仓模式并设好杠杆。
// "已处于目标状态"在网关层被吸收，前置条件错误原样上抛。
func (m *Manager) preflight(ctx context.Context, symbol string, leverage int) error {
	if err := m.gateway.EnsureHedgeMode(ctx, symbol); err != nil {
		return err
	}
	if err := m.gateway.EnsureIsolatedMargin(ctx, symbol); err != nil {
		return err
	}
	return m.gateway.SetLeverage(ctx, symbol, leverage)
}

// HandleUpdate 处理针对既有交易的调整指令。
func (m *Manager) HandleUpdate(ctx context.Context, intent signal.UpdateIntent) error {
	if err := intent.Validate(); err != nil {
		return err
	}

	rec, err := m.resolveTarget(ctx, intent.Symbol)
	if err != nil {
		m.notifier.Send(ctx, fmt.Sprintf("调整指令无法定位目标交易: %v", err))
		return err
	}

	switch intent.Action {
	case signal.ActionMoveSL:
		price, err := m.resolveStopValue(ctx, rec, intent)
		if err != nil {
			return err
		}
		return m.UpdateStopLoss(ctx, rec, price)
	case signal.ActionMoveTP:
		if intent.Value <= 0 {
			return fmt.Errorf("trade: MOVE_TP 需要数值目标价")
		}
		return m.UpdateTakeProfit(ctx, rec, m.rescaledTarget(ctx, rec.Symbol, intent.Value))
	case signal.ActionCloseFull:
		return m.closeAndRecord(ctx, rec, "信号要求平仓")
	case signal.ActionBookR:
		return m.closeAndRecord(ctx, rec, fmt.Sprintf("落袋 %.2gR", intent.Value))
	case signal.ActionClosePartial:
		return m.reduceHalf(ctx, rec)
	case signal.ActionCancel:
		return m.CancelAll(ctx, rec.Symbol)
	default:
		return fmt.Errorf("trade: 未知的调整动作 %s", intent.Action)
	}
}

// resolveTarget 定位调整指令的目标交易。未给出符号时，仅当恰有
// 一笔持仓才可推断。
func (m *Manager) resolveTarget(ctx context.Context, symbol string) (ledger.Record, error) {
	if strings.TrimSpace(symbol) != "" {
		return m.ledger.OpenBySymbol(ctx, symbol)
	}

	open, err := m.ledger.OpenTrades(ctx)
	if err != nil {
		return ledger.Record{}, err
	}
	if m.dryRun {
		sims, err := m.ledger.SimulatedTrades(ctx)
		if err != nil {
			return ledger.Record{}, err
		}
		open = append(open, sims...)
	}
	if len(open) != 1 {
		return ledger.Record{}, fmt.Errorf("trade: 持仓数为 %d，无法推断目标交易", len(open))
	}
	return open[0], nil
}

// resolveStopValue 把 ENTRY/BE/LIQ 等语义价位换算成具体价格。
// 语义值一律基于实时仓位解析，不使用账本里可能过期的入场价。
func (m *Manager) resolveStopValue(ctx context.Context, rec ledger.Record, intent signal.UpdateIntent) (float64, error) {
	if intent.Symbolic == signal.SymbolicNone {
		if intent.Value <= 0 {
			return 0, fmt.Errorf("trade: MOVE_SL 缺少目标价")
		}
		return m.rescaledTarget(ctx, rec.Symbol, intent.Value), nil
	}

	if rec.Status == ledger.StatusSimulated {
		// 干跑交易没有远程仓位，用账本入场价解析。
		switch intent.Symbolic {
		case signal.SymbolicEntry:
			return rec.EntryPrice, nil
		case signal.SymbolicBreakeven:
			return risk.BreakevenPrice(rec.EntryPrice, m.riskCfg.FeeBuffer, rec.Side == exchange.SideShort), nil
		default:
			return 0, fmt.Errorf("trade: 干跑交易无法解析 %s", intent.Symbolic)
		}
	}

	pos, err := m.gateway.GetPosition(ctx, rec.Symbol)
	if err != nil {
		return 0, fmt.Errorf("trade: 解析语义止损失败: %w", err)
	}
	if pos == nil {
		return 0, fmt.Errorf("trade: %s 无远程仓位，无法解析 %s", rec.Symbol, intent.Symbolic)
	}

	switch intent.Symbolic {
	case signal.SymbolicEntry:
		return pos.EntryPrice, nil
	case signal.SymbolicBreakeven:
		return risk.BreakevenPrice(pos.EntryPrice, m.riskCfg.FeeBuffer, pos.Side == exchange.SideShort), nil
	case signal.SymbolicLiquidation:
		if pos.LiquidationPrice == nil {
			return 0, fmt.Errorf("trade: 交易所未提供 %s 的强平价", rec.Symbol)
		}
		return *pos.LiquidationPrice, nil
	default:
		return 0, fmt.Errorf("trade: 未知语义价位 %s", intent.Symbolic)
	}
}

// rescaledTarget 把数值型目标价按实时市价做数量级归一，
// 与入场价同等对待笔误。市价拿不到时原样放行。
func (m *Manager) rescaledTarget(ctx context.Context, symbol string, value float64) float64 {
	marketPrice, err := m.gateway.GetPrice(ctx, symbol)
	if err != nil {
		m.logger.Warn("获取市价失败，目标价原样使用",
			zap.String("symbol", symbol),
			zap.Error(err),
		)
		return value
	}
	return risk.RescalePrice(value, marketPrice)
}

// UpdateStopLoss 把止损移动到指定触发价：尽力清掉旧止损计划委托，
// 再按实时仓位数量挂一张新的。清理失败只记日志，重复的止损单
// 比没有止损单风险小。仓位尚未成立（限价单还挂着）时改在途委托。
func (m *Manager) UpdateStopLoss(ctx context.Context, rec ledger.Record, trigger float64) error {
	if rec.Status == ledger.StatusSimulated {
		if err := m.ledger.UpdateStopLoss(ctx, rec.ID, trigger); err != nil {
			return err
		}
		m.notifier.Send(ctx, fmt.Sprintf("[干跑] %s 止损移动到 %.6g", rec.Symbol, trigger))
		return nil
	}

	pos, err := m.gateway.GetPosition(ctx, rec.Symbol)
	if err != nil {
		return &ExecutionError{Op: "获取仓位", Symbol: rec.Symbol, Err: err}
	}
	if pos == nil {
		return m.editPendingLimit(ctx, rec, &trigger, nil)
	}

	if err := m.gateway.CancelConditionalOrders(ctx, rec.Symbol, exchange.ConditionalStopLoss); err != nil {
		m.logger.Warn("清理旧止损委托失败，继续挂新单",
			zap.String("symbol", rec.Symbol),
			zap.Error(err),
		)
	}

	if _, err := m.gateway.PlaceConditionalOrder(ctx, rec.Symbol,
		exchange.ConditionalStopLoss, trigger, pos.Side, pos.Size); err != nil {
		return &ExecutionError{Op: "挂止损", Symbol: rec.Symbol, Err: err}
	}

	if err := m.ledger.UpdateStopLoss(ctx, rec.ID, trigger); err != nil {
		return err
	}
	m.notifier.Send(ctx, fmt.Sprintf("%s 止损移动到 %.6g", rec.Symbol, trigger))
	return nil
}

// UpdateTakeProfit 同止损逻辑，针对止盈计划委托。
func (m *Manager) UpdateTakeProfit(ctx context.Context, rec ledger.Record, trigger float64) error {
	if rec.Status == ledger.StatusSimulated {
		if err := m.ledger.UpdateTakeProfit(ctx, rec.ID, trigger); err != nil {
			return err
		}
		m.notifier.Send(ctx, fmt.Sprintf("[干跑] %s 止盈移动到 %.6g", rec.Symbol, trigger))
		return nil
	}

	pos, err := m.gateway.GetPosition(ctx, rec.Symbol)
	if err != nil {
		return &ExecutionError{Op: "获取仓位", Symbol: rec.Symbol, Err: err}
	}
	if pos == nil {
		return m.editPendingLimit(ctx, rec, nil, &trigger)
	}

	if err := m.gateway.CancelConditionalOrders(ctx, rec.Symbol, exchange.ConditionalTakeProfit); err != nil {
		m.logger.Warn("清理旧止盈委托失败，继续挂新单",
			zap.String("symbol", rec.Symbol),
			zap.Error(err),
		)
	}

	if _, err := m.gateway.PlaceConditionalOrder(ctx, rec.Symbol,
		exchange.ConditionalTakeProfit, trigger, pos.Side, pos.Size); err != nil {
		return &ExecutionError{Op: "挂止盈", Symbol: rec.Symbol, Err: err}
	}

	if err := m.ledger.UpdateTakeProfit(ctx, rec.ID, trigger); err != nil {
		return err
	}
	m.notifier.Send(ctx, fmt.Sprintf("%s 止盈移动到 %.6g", rec.Symbol, trigger))
	return nil
}

// editPendingLimit 在仓位尚未成立时调整保护价：找到还挂着的限价入场单，
// 走换单流程把新 SL/TP 带上去。
func (m *Manager) editPendingLimit(ctx context.Context, rec ledger.Record, newSL, newTP *float64) error {
	orders, err := m.gateway.GetOpenOrders(ctx, rec.Symbol)
	if err != nil {
		return &ExecutionError{Op: "查询在途委托", Symbol: rec.Symbol, Err: err}
	}

	existing, ok := findPendingLimit(orders, rec.OrderID)
	if !ok {
		return fmt.Errorf("trade: %s 既无仓位也无在途限价单，无法调整", rec.Symbol)
	}

	m.logger.Info("仓位未成立，改挂单保护价",
		zap.String("symbol", rec.Symbol),
		zap.String("order_id", existing.ID),
	)
	return m.ReplaceLimitOrder(ctx, rec, existing, newSL, newTP)
}

// findPendingLimit 优先按账本记录的委托ID匹配，找不到再退回
// 第一张限价单。
func findPendingLimit(orders []exchange.OrderResult, orderID string) (exchange.OrderResult, bool) {
	if orderID != "" {
		for _, order := range orders {
			if order.ID == orderID {
				return order, true
			}
		}
	}
	for _, order := range orders {
		if order.Kind == exchange.KindLimit {
			return order, true
		}
	}
	return exchange.OrderResult{}, false
}

// ReplaceLimitOrder 原子化换掉一张在途限价单。撤单失败时原单不动、
// 整个操作放弃；新单失败时按原参数回挂；回挂也失败属于 CRITICAL，
// 仓位此刻没有委托兜底，立即播报人工介入。
func (m *Manager) ReplaceLimitOrder(ctx context.Context, rec ledger.Record,
	existing exchange.OrderResult, newSL, newTP *float64) error {

	if err := m.gateway.CancelOrder(ctx, rec.Symbol, existing.ID); err != nil {
		return &ExecutionError{Op: "撤旧单", Symbol: rec.Symbol, Err: err}
	}

	amount := existing.Amount
	leverage := rec.Leverage

	// 止损变了意味着风险口径变了，重算杠杆与数量；只改止盈不重算。
	slChanged := newSL != nil && (existing.StopLoss == nil || *newSL != *existing.StopLoss)
	if slChanged {
		balance, err := m.gateway.GetBalance(ctx)
		if err == nil {
			equity := balance.Equity
			if equity <= 0 {
				equity = balance.Free
			}
			margin := risk.PositionMargin(equity, m.riskCfg.MarginTiers)
			leverage = risk.RequiredLeverage(existing.Price, *newSL, m.riskCfg.LossCapFraction,
				m.riskCfg.RiskScalar, m.riskCfg.SafetyMultiplier, m.riskCfg.MaxLeverage)
			amount = margin * float64(leverage) / existing.Price
			if err := m.gateway.SetLeverage(ctx, rec.Symbol, leverage); err != nil {
				m.logger.Warn("换单前设置杠杆失败", zap.String("symbol", rec.Symbol), zap.Error(err))
			}
		} else {
			m.logger.Warn("换单重算数量失败，沿用原数量", zap.Error(err))
		}
	}

	if minAmount, err := m.gateway.MinOrderAmount(ctx, rec.Symbol); err == nil && amount < minAmount {
		m.rollbackOrFail(ctx, rec, existing)
		return &ExecutionError{Op: "换单", Symbol: rec.Symbol,
			Err: fmt.Errorf("新数量 %.6g 低于最小下单数量 %.6g", amount, minAmount)}
	}

	sl := existing.StopLoss
	if newSL != nil {
		sl = newSL
	}
	tp := existing.TakeProfit
	if newTP != nil {
		tp = newTP
	}

	result, err := m.gateway.PlaceOrder(ctx, exchange.OrderRequest{
		Symbol:     rec.Symbol,
		Side:       rec.Side,
		Kind:       exchange.KindLimit,
		Amount:     amount,
		Price:      existing.Price,
		StopLoss:   sl,
		TakeProfit: tp,
	})
	if err != nil {
		if rbErr := m.rollbackOrFail(ctx, rec, existing); rbErr != nil {
			return rbErr
		}
		return &ExecutionError{Op: "换单", Symbol: rec.Symbol, Err: err}
	}

	if err := m.ledger.UpdateOrderID(ctx, rec.ID, result.ID); err != nil {
		m.logger.Warn("换单后更新账本委托ID失败", zap.String("id", rec.ID), zap.Error(err))
	}
	if newSL != nil {
		if err := m.ledger.UpdateStopLoss(ctx, rec.ID, *newSL); err != nil {
			return err
		}
	}
	if newTP != nil {
		if err := m.ledger.UpdateTakeProfit(ctx, rec.ID, *newTP); err != nil {
			return err
		}
	}

	m.notifier.Send(ctx, fmt.Sprintf("%s 换单完成，新委托 %s", rec.Symbol, result.ID))
	return nil
}

// rollbackOrFail 按原参数回挂被撤掉的委托。回挂失败返回 RollbackError。
func (m *Manager) rollbackOrFail(ctx context.Context, rec ledger.Record, original exchange.OrderResult) error {
	_, err := m.gateway.PlaceOrder(ctx, exchange.OrderRequest{
		Symbol:     rec.Symbol,
		Side:       rec.Side,
		Kind:       exchange.KindLimit,
		Amount:     original.Amount,
		Price:      original.Price,
		StopLoss:   original.StopLoss,
		TakeProfit: original.TakeProfit,
	})
	if err != nil {
		rbErr := &RollbackError{Symbol: rec.Symbol, OrderID: original.ID, Err: err}
		m.logger.Error("换单回滚失败", zap.String("symbol", rec.Symbol), zap.Error(err))
		m.notifier.Send(ctx, rbErr.Error())
		return rbErr
	}
	m.logger.Info("换单失败，已按原参数回挂", zap.String("symbol", rec.Symbol))
	return nil
}

// ClosePosition 按交易所实时数量把仓位减到零。本地缓存的数量可能
// 因手工操作或部分成交过期，永远以远程为准。
func (m *Manager) ClosePosition(ctx context.Context, symbol string) (bool, error) {
	pos, err := m.gateway.GetPosition(ctx, symbol)
	if err != nil {
		return false, &ExecutionError{Op: "获取仓位", Symbol: symbol, Err: err}
	}
	if pos == nil || pos.Size == 0 {
		return false, nil
	}

	_, err = m.gateway.PlaceOrder(ctx, exchange.OrderRequest{
		Symbol:     symbol,
		Side:       pos.Side,
		Kind:       exchange.KindMarket,
		Amount:     pos.Size,
		ReduceOnly: true,
	})
	if err != nil {
		return false, &ExecutionError{Op: "平仓", Symbol: symbol, Err: err}
	}
	return true, nil
}

func (m *Manager) closeAndRecord(ctx context.Context, rec ledger.Record, note string) error {
	if rec.Status == ledger.StatusSimulated {
		price, err := m.gateway.GetPrice(ctx, rec.Symbol)
		var exitPtr *float64
		if err == nil {
			exitPtr = &price
		}
		if err := m.ledger.MarkClosed(ctx, rec.ID, ledger.CloseParams{ExitPrice: exitPtr, Note: note}); err != nil {
			return err
		}
		m.notifier.Send(ctx, fmt.Sprintf("[干跑] 已平仓 %s: %s", rec.Symbol, note))
		return nil
	}

	closed, err := m.ClosePosition(ctx, rec.Symbol)
	if err != nil {
		return err
	}
	if !closed {
		m.logger.Info("远程已无仓位，直接落账", zap.String("symbol", rec.Symbol))
	}

	if err := m.CancelAll(ctx, rec.Symbol); err != nil {
		m.logger.Warn("平仓后清理委托失败", zap.String("symbol", rec.Symbol), zap.Error(err))
	}

	params := ledger.CloseParams{Note: note}
	if exit, pnl := m.lookupClose(ctx, rec.Symbol); exit != nil || pnl != nil {
		params.ExitPrice = exit
		params.RealizedPnl = pnl
	}

	if err := m.ledger.MarkClosed(ctx, rec.ID, params); err != nil {
		return err
	}

	pnlText := "盈亏不可用"
	if params.RealizedPnl != nil {
		pnlText = fmt.Sprintf("盈亏 %.4f", *params.RealizedPnl)
	}
	m.notifier.Send(ctx, fmt.Sprintf("已平仓 %s (%s) %s", rec.Symbol, note, pnlText))
	return nil
}

// lookupClose 尽力从历史仓位里捞出刚平掉那笔的出场价与盈亏。
// 查不到就返回 nil，播报"不可用"而不是瞎编。
func (m *Manager) lookupClose(ctx context.Context, symbol string) (*float64, *float64) {
	history, err := m.gateway.GetPositionHistory(ctx, symbol, 5)
	if err != nil || len(history) == 0 {
		return nil, nil
	}
	latest := history[0]
	return latest.ExitPrice, latest.RealizedPnl
}

// reduceHalf 把仓位减一半，账本保持 OPEN。
func (m *Manager) reduceHalf(ctx context.Context, rec ledger.Record) error {
	if rec.Status == ledger.StatusSimulated {
		m.notifier.Send(ctx, fmt.Sprintf("[干跑] %s 减仓一半", rec.Symbol))
		return nil
	}

	pos, err := m.gateway.GetPosition(ctx, rec.Symbol)
	if err != nil {
		return &ExecutionError{Op: "获取仓位", Symbol: rec.Symbol, Err: err}
	}
	if pos == nil || pos.Size == 0 {
		return fmt.Errorf("trade: %s 无远程仓位，无法减仓", rec.Symbol)
	}

	_, err = m.gateway.PlaceOrder(ctx, exchange.OrderRequest{
		Symbol:     rec.Symbol,
		Side:       pos.Side,
		Kind:       exchange.KindMarket,
		Amount:     pos.Size / 2,
		ReduceOnly: true,
	})
	if err != nil {
		return &ExecutionError{Op: "减仓", Symbol: rec.Symbol, Err: err}
	}
	m.notifier.Send(ctx, fmt.Sprintf("%s 已减仓一半，剩余 %.6g", rec.Symbol, pos.Size/2))
	return nil
}

// CancelAll 清掉指定交易对的全部普通与计划委托。"没有可撤委托"
// 在网关层按成功吸收。
func (m *Manager) CancelAll(ctx context.Context, symbol string) error {
	if err := m.gateway.CancelAllOrders(ctx, symbol); err != nil {
		return err
	}
	if err := m.gateway.CancelConditionalOrders(ctx, symbol, exchange.ConditionalStopLoss); err != nil {
		return err
	}
	return m.gateway.CancelConditionalOrders(ctx, symbol, exchange.ConditionalTakeProfit)
}

// CancelOrder 撤掉单张委托。
func (m *Manager) CancelOrder(ctx context.Context, symbol, orderID string) error {
	return m.gateway.CancelOrder(ctx, symbol, orderID)
}

// Ledger 暴露账本给对账循环等协作方。
func (m *Manager) Ledger() *ledger.Ledger {
	return m.ledger
}
