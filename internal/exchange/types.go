package exchange

import (
	"context"
	"time"
)

// Side 表示仓位方向。
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// OrderKind 表示委托类型。
type OrderKind string

const (
	KindMarket OrderKind = "market"
	KindLimit  OrderKind = "limit"
)

// ConditionalKind 表示条件单类型（止损 / 止盈）。
type ConditionalKind string

const (
	ConditionalStopLoss   ConditionalKind = "SL"
	ConditionalTakeProfit ConditionalKind = "TP"
)

// Balance 描述账户可用余额与权益。
type Balance struct {
	Free   float64
	Equity float64
}

// Position 描述单个远程仓位。交易所可能不返回强平价，
// 缺失时 LiquidationPrice 为 nil，调用方必须按未知处理。
type Position struct {
	Symbol           string
	Side             Side
	Size             float64
	EntryPrice       float64
	MarkPrice        float64
	Leverage         float64
	LiquidationPrice *float64
	UnrealizedPnl    float64
}

// OrderRequest 描述一次下单请求。SL/TP 非 nil 时随主单一并挂出。
type OrderRequest struct {
	Symbol     string
	Side       Side
	Kind       OrderKind
	Amount     float64
	Price      float64
	StopLoss   *float64
	TakeProfit *float64
	ReduceOnly bool
}

// OrderResult 为交易所返回的委托回执。
// AverageFill 仅在已有成交时给出。
type OrderResult struct {
	ID          string
	Symbol      string
	Side        Side
	Kind        OrderKind
	Amount      float64
	Filled      float64
	Price       float64
	AverageFill *float64
	StopLoss    *float64
	TakeProfit  *float64
}

// ConditionalOrder 描述一张在途条件单。
type ConditionalOrder struct {
	ID      string
	Kind    ConditionalKind
	Trigger float64
}

// Fill 为单笔成交记录。
type Fill struct {
	Price     float64
	Amount    float64
	Side      Side
	Timestamp time.Time
}

// ClosedPosition 为已平仓位的历史记录。交易所未提供的字段为 nil，
// 调用方报告"不可用"而不是猜测。
type ClosedPosition struct {
	Symbol      string
	ExitPrice   *float64
	RealizedPnl *float64
	ClosedAt    time.Time
}

// Gateway 为核心消费的交易所能力集合。核心不感知具体交易所的
// 参数命名，所有交易所细节都封装在实现里。
type Gateway interface {
	GetPrice(ctx context.Context, symbol string) (float64, error)
	GetBalance(ctx context.Context) (Balance, error)
	GetPosition(ctx context.Context, symbol string) (*Position, error)
	GetAllPositions(ctx context.Context) ([]Position, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	CancelAllOrders(ctx context.Context, symbol string) error
	PlaceConditionalOrder(ctx context.Context, symbol string, kind ConditionalKind, trigger float64, side Side, size float64) (string, error)
	CancelConditionalOrders(ctx context.Context, symbol string, kind ConditionalKind) error
	ActiveConditionalOrders(ctx context.Context, symbol string) ([]ConditionalOrder, error)
	GetOpenOrders(ctx context.Context, symbol string) ([]OrderResult, error)
	GetTradeHistory(ctx context.Context, symbol string, limit int) ([]Fill, error)
	GetPositionHistory(ctx context.Context, symbol string, limit int) ([]ClosedPosition, error)
	SetLeverage(ctx context.Context, symbol string, leverage int) error
	EnsureHedgeMode(ctx context.Context, symbol string) error
	EnsureIsolatedMargin(ctx context.Context, symbol string) error
	MinOrderAmount(ctx context.Context, symbol string) (float64, error)
}
