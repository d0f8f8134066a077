package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"go.uber.org/zap"

	"github.com/CiscoZulfikar/bitget-trade/internal/config"
)

// Client 基于 ccxt 封装 Bitget 合约接口，并实现统一重试机制。
type Client struct {
	cfg      config.ExchangeConfig
	logger   *zap.Logger
	exchange *ccxt.Bitget

	marketsMu sync.Mutex
	markets   map[string]ccxt.MarketInterface
}

var _ Gateway = (*Client)(nil)

// NewClient 构造 Bitget USDT 合约客户端。
func NewClient(cfg config.ExchangeConfig, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	userConfig := map[string]interface{}{
		"enableRateLimit": true,
		"options": map[string]interface{}{
			"adjustForTimeDifference": true,
			"defaultType":             "swap",
		},
	}

	if cfg.APIKey != "" {
		userConfig["apiKey"] = cfg.APIKey
	}
	if cfg.APISecret != "" {
		userConfig["secret"] = cfg.APISecret
	}
	if cfg.APIPass != "" {
		userConfig["password"] = cfg.APIPass
	}

	ex := ccxt.NewBitget(userConfig)
	if cfg.UseSandbox {
		ex.SetSandboxMode(true)
	}

	return &Client{
		cfg:      cfg,
		logger:   logger,
		exchange: ex,
	}, nil
}

// Raw 返回底层 ccxt 客户端。
func (c *Client) Raw() *ccxt.Bitget {
	return c.exchange
}

// ResolveSymbol 将信号里的紧凑符号（如 BTCUSDT）转换为 ccxt 统一符号。
func ResolveSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if s == "" || strings.Contains(s, "/") {
		return s
	}
	base := strings.TrimSuffix(s, "USDT")
	if base == s || base == "" {
		return s
	}
	return fmt.Sprintf("%s/USDT:USDT", base)
}

// CompactSymbol 把 ccxt 统一符号（BTC/USDT:USDT）还原为账本使用的
// 紧凑符号（BTCUSDT）。
func CompactSymbol(unified string) string {
	s := strings.ToUpper(strings.TrimSpace(unified))
	if idx := strings.Index(s, ":"); idx >= 0 {
		s = s[:idx]
	}
	return strings.ReplaceAll(s, "/", "")
}

// GetPrice 返回最新成交价。
func (c *Client) GetPrice(ctx context.Context, symbol string) (float64, error) {
	sym := ResolveSymbol(symbol)

	var last float64
	err := c.callWithRetry(ctx, "fetch_ticker", func() error {
		if err := c.ensureMarketsLoaded(ctx); err != nil {
			return err
		}

		ticker, err := c.exchange.FetchTicker(sym)
		if err != nil {
			return err
		}

		last = derefFloat(ticker.Last)
		if last == 0 {
			last = derefFloat(ticker.Close)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if last <= 0 {
		return 0, fmt.Errorf("exchange: %s 未返回有效价格", sym)
	}
	return last, nil
}

// GetBalance 返回 USDT 账户的可用余额与权益。
func (c *Client) GetBalance(ctx context.Context) (Balance, error) {
	var balance Balance
	err := c.callWithRetry(ctx, "fetch_balance", func() error {
		balances, err := c.exchange.FetchBalance()
		if err != nil {
			return err
		}

		if balances.Free != nil {
			if free, ok := balances.Free["USDT"]; ok && free != nil {
				balance.Free = *free
			}
		}
		if balances.Total != nil {
			if total, ok := balances.Total["USDT"]; ok && total != nil {
				balance.Equity = *total
			}
		}
		if balance.Equity == 0 && balances.Info != nil {
			balance.Equity = parseNumeric(balances.Info["accountEquity"])
		}
		return nil
	})
	if err != nil {
		return Balance{}, err
	}
	return balance, nil
}

// GetPosition 返回指定交易对的当前仓位，无持仓时返回 nil。
func (c *Client) GetPosition(ctx context.Context, symbol string) (*Position, error) {
	sym := ResolveSymbol(symbol)

	positions, err := c.fetchPositions(ctx, []string{sym})
	if err != nil {
		return nil, err
	}
	for i := range positions {
		if strings.EqualFold(positions[i].Symbol, sym) {
			return &positions[i], nil
		}
	}
	return nil, nil
}

// GetAllPositions 返回账户下所有非零仓位。
func (c *Client) GetAllPositions(ctx context.Context) ([]Position, error) {
	return c.fetchPositions(ctx, nil)
}

func (c *Client) fetchPositions(ctx context.Context, symbols []string) ([]Position, error) {
	var raw []ccxt.Position
	err := c.callWithRetry(ctx, "fetch_positions", func() error {
		if err := c.ensureMarketsLoaded(ctx); err != nil {
			return err
		}

		var opts []ccxt.FetchPositionsOptions
		if len(symbols) > 0 {
			opts = append(opts, ccxt.WithFetchPositionsSymbols(symbols))
		}
		result, err := c.exchange.FetchPositions(opts...)
		if err != nil {
			return err
		}
		raw = result
		return nil
	})
	if err != nil {
		return nil, err
	}

	positions := make([]Position, 0, len(raw))
	for _, rawPos := range raw {
		size := derefFloat(rawPos.Contracts)
		if size == 0 {
			continue
		}

		pos := Position{
			Symbol:        derefString(rawPos.Symbol),
			Side:          sideFromString(derefString(rawPos.Side)),
			Size:          size,
			EntryPrice:    derefFloat(rawPos.EntryPrice),
			MarkPrice:     derefFloat(rawPos.MarkPrice),
			Leverage:      derefFloat(rawPos.Leverage),
			UnrealizedPnl: derefFloat(rawPos.UnrealizedPnl),
		}
		// 交易所可能不返回强平价，保持 nil 让上层按未知处理。
		if rawPos.LiquidationPrice != nil && *rawPos.LiquidationPrice > 0 {
			liq := *rawPos.LiquidationPrice
			pos.LiquidationPrice = &liq
		}
		positions = append(positions, pos)
	}
	return positions, nil
}

// PlaceOrder 提交主委托。请求里带 SL/TP 时随单挂出。
func (c *Client) PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	sym := ResolveSymbol(req.Symbol)
	orderSide := orderSideFor(req.Side, req.ReduceOnly)

	params := map[string]interface{}{}
	if req.ReduceOnly {
		params["reduceOnly"] = true
		params["holdSide"] = string(req.Side)
	}
	if req.StopLoss != nil {
		params["stopLossPrice"] = *req.StopLoss
	}
	if req.TakeProfit != nil {
		params["takeProfitPrice"] = *req.TakeProfit
	}

	if err := c.ensureMarketsLoaded(ctx); err != nil {
		return OrderResult{}, err
	}

	// 下单会动用资金，失败时不自动重试，由上层决定后续动作。
	var raw ccxt.Order
	var err error
	switch req.Kind {
	case KindMarket:
		var opts []ccxt.CreateMarketOrderOptions
		if len(params) > 0 {
			opts = append(opts, ccxt.WithCreateMarketOrderParams(params))
		}
		raw, err = c.exchange.CreateMarketOrder(sym, orderSide, req.Amount, opts...)
	case KindLimit:
		var opts []ccxt.CreateLimitOrderOptions
		if len(params) > 0 {
			opts = append(opts, ccxt.WithCreateLimitOrderParams(params))
		}
		raw, err = c.exchange.CreateLimitOrder(sym, orderSide, req.Amount, req.Price, opts...)
	default:
		return OrderResult{}, fmt.Errorf("exchange: 不支持的委托类型 %s", req.Kind)
	}
	if err != nil {
		normalized, _ := c.classifyError(err)
		c.logger.Error("下单失败",
			zap.String("symbol", sym),
			zap.String("side", orderSide),
			zap.String("kind", string(req.Kind)),
			zap.Error(normalized),
		)
		return OrderResult{}, normalized
	}

	return convertOrder(req, raw), nil
}

// CancelOrder 按委托ID撤单。没有可撤委托时按成功返回。
func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) error {
	sym := ResolveSymbol(symbol)

	err := c.callWithRetry(ctx, "cancel_order", func() error {
		_, err := c.exchange.CancelOrder(orderID, ccxt.WithCancelOrderSymbol(sym))
		return err
	})
	if IsNothingToCancel(err) {
		c.logger.Info("撤单目标已不存在，按成功处理",
			zap.String("symbol", sym),
			zap.String("order_id", orderID),
		)
		return nil
	}
	return err
}

// CancelAllOrders 撤掉指定交易对的全部普通委托。
func (c *Client) CancelAllOrders(ctx context.Context, symbol string) error {
	sym := ResolveSymbol(symbol)

	err := c.callWithRetry(ctx, "cancel_all_orders", func() error {
		_, err := c.exchange.CancelAllOrders(ccxt.WithCancelAllOrdersSymbol(sym))
		return err
	})
	if IsNothingToCancel(err) {
		return nil
	}
	return err
}

// PlaceConditionalOrder 挂出触发式的止损或止盈计划委托。
// side 为被保护仓位的方向，触发后按反方向减仓。
func (c *Client) PlaceConditionalOrder(ctx context.Context, symbol string, kind ConditionalKind, trigger float64, side Side, size float64) (string, error) {
	sym := ResolveSymbol(symbol)
	orderSide := orderSideFor(side, true)

	planType := "loss_plan"
	if kind == ConditionalTakeProfit {
		planType = "profit_plan"
	}

	params := map[string]interface{}{
		"triggerPrice": trigger,
		"planType":     planType,
		"holdSide":     string(side),
		"reduceOnly":   true,
	}

	if err := c.ensureMarketsLoaded(ctx); err != nil {
		return "", err
	}

	// 计划委托同样不自动重试，避免重复挂出触发单。
	raw, err := c.exchange.CreateOrder(sym, "market", orderSide, size,
		ccxt.WithCreateOrderParams(params),
	)
	if err != nil {
		normalized, _ := c.classifyError(err)
		c.logger.Error("挂出计划委托失败",
			zap.String("symbol", sym),
			zap.String("plan_type", planType),
			zap.Error(normalized),
		)
		return "", normalized
	}
	return derefString(raw.Id), nil
}

// CancelConditionalOrders 撤掉指定类型的计划委托。
func (c *Client) CancelConditionalOrders(ctx context.Context, symbol string, kind ConditionalKind) error {
	sym := ResolveSymbol(symbol)

	orders, err := c.ActiveConditionalOrders(ctx, sym)
	if err != nil {
		return err
	}

	for _, order := range orders {
		if order.Kind != kind {
			continue
		}
		orderID := order.ID
		cancelErr := c.callWithRetry(ctx, "cancel_conditional_order", func() error {
			_, err := c.exchange.CancelOrder(orderID,
				ccxt.WithCancelOrderSymbol(sym),
				ccxt.WithCancelOrderParams(map[string]interface{}{"trigger": true}),
			)
			return err
		})
		if cancelErr != nil && !IsNothingToCancel(cancelErr) {
			return cancelErr
		}
	}
	return nil
}

// ActiveConditionalOrders 返回在途的计划委托。
func (c *Client) ActiveConditionalOrders(ctx context.Context, symbol string) ([]ConditionalOrder, error) {
	sym := ResolveSymbol(symbol)

	var raw []ccxt.Order
	err := c.callWithRetry(ctx, "fetch_conditional_orders", func() error {
		result, err := c.exchange.FetchOpenOrders(
			ccxt.WithFetchOpenOrdersSymbol(sym),
			ccxt.WithFetchOpenOrdersParams(map[string]interface{}{"trigger": true}),
		)
		if err != nil {
			return err
		}
		raw = result
		return nil
	})
	if err != nil {
		return nil, err
	}

	orders := make([]ConditionalOrder, 0, len(raw))
	for _, order := range raw {
		trigger := derefFloat(order.TriggerPrice)
		if trigger == 0 && order.Info != nil {
			trigger = parseNumeric(order.Info["triggerPrice"])
		}
		if trigger == 0 {
			continue
		}

		kind := ConditionalStopLoss
		if order.Info != nil {
			planType := strings.ToLower(parseString(order.Info["planType"]))
			if strings.Contains(planType, "profit") {
				kind = ConditionalTakeProfit
			}
		}

		orders = append(orders, ConditionalOrder{
			ID:      derefString(order.Id),
			Kind:    kind,
			Trigger: trigger,
		})
	}
	return orders, nil
}

// GetOpenOrders 返回指定交易对的在途普通委托。
func (c *Client) GetOpenOrders(ctx context.Context, symbol string) ([]OrderResult, error) {
	sym := ResolveSymbol(symbol)

	var raw []ccxt.Order
	err := c.callWithRetry(ctx, "fetch_open_orders", func() error {
		result, err := c.exchange.FetchOpenOrders(ccxt.WithFetchOpenOrdersSymbol(sym))
		if err != nil {
			return err
		}
		raw = result
		return nil
	})
	if err != nil {
		return nil, err
	}

	orders := make([]OrderResult, 0, len(raw))
	for _, order := range raw {
		orders = append(orders, convertOrder(OrderRequest{Symbol: sym}, order))
	}
	return orders, nil
}

// GetTradeHistory 返回最近成交记录，按时间从旧到新。
func (c *Client) GetTradeHistory(ctx context.Context, symbol string, limit int) ([]Fill, error) {
	sym := ResolveSymbol(symbol)
	if limit <= 0 {
		limit = 20
	}

	var raw []ccxt.Trade
	err := c.callWithRetry(ctx, "fetch_my_trades", func() error {
		result, err := c.exchange.FetchMyTrades(
			ccxt.WithFetchMyTradesSymbol(sym),
			ccxt.WithFetchMyTradesLimit(int64(limit)),
		)
		if err != nil {
			return err
		}
		raw = result
		return nil
	})
	if err != nil {
		return nil, err
	}

	fills := make([]Fill, 0, len(raw))
	for _, trade := range raw {
		fill := Fill{
			Price:  derefFloat(trade.Price),
			Amount: derefFloat(trade.Amount),
			Side:   sideFromString(derefString(trade.Side)),
		}
		if trade.Timestamp != nil {
			fill.Timestamp = time.UnixMilli(*trade.Timestamp).UTC()
		}
		fills = append(fills, fill)
	}
	return fills, nil
}

// GetPositionHistory 返回最近平仓的历史仓位。交易所未提供的
// 字段保持 nil。
func (c *Client) GetPositionHistory(ctx context.Context, symbol string, limit int) ([]ClosedPosition, error) {
	sym := ResolveSymbol(symbol)
	if limit <= 0 {
		limit = 5
	}

	var raw []ccxt.Position
	err := c.callWithRetry(ctx, "fetch_positions_history", func() error {
		result, err := c.exchange.FetchPositionsHistory(
			ccxt.WithFetchPositionsHistorySymbols([]string{sym}),
			ccxt.WithFetchPositionsHistoryLimit(int64(limit)),
		)
		if err != nil {
			return err
		}
		raw = result
		return nil
	})
	if err != nil {
		return nil, err
	}

	closed := make([]ClosedPosition, 0, len(raw))
	for _, rawPos := range raw {
		item := ClosedPosition{
			Symbol: derefString(rawPos.Symbol),
		}
		if rawPos.Timestamp != nil {
			item.ClosedAt = time.UnixMilli(int64(*rawPos.Timestamp)).UTC()
		}
		if rawPos.Info != nil {
			if v := parseNumeric(rawPos.Info["closeAvgPrice"]); v > 0 {
				exit := v
				item.ExitPrice = &exit
			}
			if s := parseString(rawPos.Info["netProfit"]); s != "" {
				if pnl, err := strconv.ParseFloat(s, 64); err == nil {
					item.RealizedPnl = &pnl
				}
			}
		}
		closed = append(closed, item)
	}
	return closed, nil
}

// SetLeverage 设置指定交易对的杠杆倍数。
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	sym := ResolveSymbol(symbol)

	return c.callWithRetry(ctx, "set_leverage", func() error {
		_, err := c.exchange.SetLeverage(int64(leverage), ccxt.WithSetLeverageSymbol(sym))
		return err
	})
}

// EnsureHedgeMode 确保账户处于双向持仓模式。已处于目标模式按成功吸收，
// 因持仓或挂单无法切换时返回带提示的前置条件错误。
func (c *Client) EnsureHedgeMode(ctx context.Context, symbol string) error {
	sym := ResolveSymbol(symbol)

	err := c.callWithRetry(ctx, "set_position_mode", func() error {
		_, err := c.exchange.SetPositionMode(true, ccxt.WithSetPositionModeSymbol(sym))
		return err
	})
	classified := ClassifyModeError("切换双向持仓", sym, err)
	if errors.Is(classified, ErrAlreadySatisfied) {
		return nil
	}
	return classified
}

// EnsureIsolatedMargin 确保指定交易对使用逐仓保证金。
func (c *Client) EnsureIsolatedMargin(ctx context.Context, symbol string) error {
	sym := ResolveSymbol(symbol)

	err := c.callWithRetry(ctx, "set_margin_mode", func() error {
		_, err := c.exchange.SetMarginMode("isolated", ccxt.WithSetMarginModeSymbol(sym))
		return err
	})
	classified := ClassifyModeError("切换逐仓保证金", sym, err)
	if errors.Is(classified, ErrAlreadySatisfied) {
		return nil
	}
	return classified
}

// MinOrderAmount 返回交易对的最小下单数量。
func (c *Client) MinOrderAmount(ctx context.Context, symbol string) (float64, error) {
	sym := ResolveSymbol(symbol)

	if err := c.ensureMarketsLoaded(ctx); err != nil {
		return 0, err
	}

	c.marketsMu.Lock()
	market, ok := c.markets[sym]
	c.marketsMu.Unlock()
	if !ok {
		return 0, fmt.Errorf("exchange: 未找到 %s 的市场元数据", sym)
	}

	if market.Limits != nil && market.Limits.Amount != nil && market.Limits.Amount.Min != nil {
		return *market.Limits.Amount.Min, nil
	}
	if market.Info != nil {
		if v := parseNumeric(market.Info["minTradeNum"]); v > 0 {
			return v, nil
		}
	}
	return 0, fmt.Errorf("exchange: %s 缺少最小下单数量", sym)
}

func (c *Client) ensureMarketsLoaded(ctx context.Context) error {
	c.marketsMu.Lock()
	loaded := c.markets != nil
	c.marketsMu.Unlock()
	if loaded {
		return nil
	}

	var markets map[string]ccxt.MarketInterface
	loadErr := c.callWithRetry(ctx, "load_markets", func() error {
		result, err := c.exchange.LoadMarkets()
		if err != nil {
			return err
		}
		markets = result
		return nil
	})
	if loadErr != nil {
		return loadErr
	}

	c.marketsMu.Lock()
	c.markets = markets
	c.marketsMu.Unlock()
	c.logger.Info("已完成市场元数据加载", zap.Int("markets", len(markets)))
	return nil
}

func (c *Client) callWithRetry(ctx context.Context, operation string, fn func() error) error {
	attempt := 0
	delay := c.cfg.Retry.MinDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	maxDelay := c.cfg.Retry.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}

	for {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		attempt++
		start := time.Now()
		err := fn()
		duration := time.Since(start)
		if err == nil {
			if attempt > 1 {
				c.logger.Info("交易所调用重试后成功",
					zap.String("operation", operation),
					zap.Int("attempts", attempt),
					zap.Duration("latency", duration),
				)
			}
			return nil
		}

		normalizedErr, retry := c.classifyError(err)

		if errors.Is(normalizedErr, ErrMaintenance) {
			c.logger.Warn("交易所维护中",
				zap.String("operation", operation),
				zap.Error(normalizedErr),
			)
			return normalizedErr
		}

		if !retry || attempt >= c.cfg.Retry.MaxAttempts {
			c.logger.Error("交易所调用失败",
				zap.String("operation", operation),
				zap.Int("attempts", attempt),
				zap.Duration("latency", duration),
				zap.Error(normalizedErr),
			)
			return normalizedErr
		}

		wait := delay
		if wait > maxDelay {
			wait = maxDelay
		}

		c.logger.Warn("交易所调用失败，等待重试",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(normalizedErr),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}

func (c *Client) classifyError(err error) (error, bool) {
	if err == nil {
		return nil, false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err, false
	}

	var ccxtErr *ccxt.Error
	if errors.As(err, &ccxtErr) {
		switch ccxtErr.Type {
		case ccxt.NetworkErrorErrType,
			ccxt.RequestTimeoutErrType,
			ccxt.ExchangeNotAvailableErrType,
			ccxt.RateLimitExceededErrType,
			ccxt.DDoSProtectionErrType,
			ccxt.BadResponseErrType,
			ccxt.NullResponseErrType:
			return err, true
		case ccxt.OnMaintenanceErrType:
			message := strings.TrimSpace(ccxtErr.Message)
			if message == "" {
				message = "exchange under maintenance"
			}
			return fmt.Errorf("%w: %s", ErrMaintenance, message), false
		default:
			return err, false
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return err, true
	}

	return err, false
}

func convertOrder(req OrderRequest, raw ccxt.Order) OrderResult {
	result := OrderResult{
		ID:     derefString(raw.Id),
		Symbol: derefString(raw.Symbol),
		Side:   req.Side,
		Kind:   req.Kind,
		Amount: derefFloat(raw.Amount),
		Filled: derefFloat(raw.Filled),
		Price:  derefFloat(raw.Price),
	}
	if result.Symbol == "" {
		result.Symbol = ResolveSymbol(req.Symbol)
	}
	if raw.Side != nil {
		result.Side = sideFromOrderSide(*raw.Side, req.Side)
	}
	if raw.Type != nil {
		switch strings.ToLower(*raw.Type) {
		case "market":
			result.Kind = KindMarket
		case "limit":
			result.Kind = KindLimit
		}
	}
	if result.Amount == 0 {
		result.Amount = req.Amount
	}
	if result.Price == 0 {
		result.Price = req.Price
	}
	if raw.Average != nil && *raw.Average > 0 {
		avg := *raw.Average
		result.AverageFill = &avg
	}
	if raw.StopLossPrice != nil && *raw.StopLossPrice > 0 {
		sl := *raw.StopLossPrice
		result.StopLoss = &sl
	} else if req.StopLoss != nil {
		sl := *req.StopLoss
		result.StopLoss = &sl
	}
	if raw.TakeProfitPrice != nil && *raw.TakeProfitPrice > 0 {
		tp := *raw.TakeProfitPrice
		result.TakeProfit = &tp
	} else if req.TakeProfit != nil {
		tp := *req.TakeProfit
		result.TakeProfit = &tp
	}
	return result
}

// orderSideFor 将仓位方向换算为委托买卖方向。减仓单方向取反。
func orderSideFor(side Side, reduce bool) string {
	long := side == SideLong
	if reduce {
		long = !long
	}
	if long {
		return "buy"
	}
	return "sell"
}

func sideFromString(value string) Side {
	if strings.EqualFold(strings.TrimSpace(value), string(SideShort)) {
		return SideShort
	}
	return SideLong
}

func sideFromOrderSide(orderSide string, fallback Side) Side {
	switch strings.ToLower(strings.TrimSpace(orderSide)) {
	case "buy":
		return SideLong
	case "sell":
		return SideShort
	}
	return fallback
}

func derefFloat(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func parseString(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case fmt.Stringer:
		return strings.TrimSpace(v.String())
	}
	return ""
}

func parseNumeric(value interface{}) float64 {
	switch v := value.(type) {
	case nil:
		return 0
	case float64:
		return v
	case *float64:
		if v != nil {
			return *v
		}
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return 0
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f
		}
	}
	return 0
}
