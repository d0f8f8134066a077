package ledger

import (
	"time"

	"github.com/CiscoZulfikar/bitget-trade/internal/exchange"
)

// Status 表示一笔交易在本地账本中的生命周期状态。
// 合法迁移为 RESERVED -> OPEN/SIMULATED -> CLOSED；
// 下单失败的交易停留在 RESERVED，其信号ID永久作废。
type Status string

const (
	StatusReserved  Status = "RESERVED"
	StatusOpen      Status = "OPEN"
	StatusSimulated Status = "SIMULATED"
	StatusClosed    Status = "CLOSED"
)

// Provenance 标记交易来源：信号驱动或对账时从交易所收编的手工仓位。
type Provenance string

const (
	ProvenanceAutomated Provenance = "automated"
	ProvenanceManual    Provenance = "manual"
)

// Record 为账本中的单笔交易。StopLoss/TakeProfit/ExitPrice/RealizedPnl
// 未知时为 nil。
type Record struct {
	ID               string
	Symbol           string
	Side             exchange.Side
	Status           Status
	Provenance       Provenance
	EntryPrice       float64
	Size             float64
	Leverage         int
	Margin           float64
	OrderID          string
	StopLoss         *float64
	TakeProfit       *float64
	ExitPrice        *float64
	RealizedPnl      *float64
	BreakevenApplied bool
	Simulated        bool
	Note             string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	ClosedAt         *time.Time
}

// OpenParams 为预留交易转入持仓态时写入的成交信息。
type OpenParams struct {
	Side       exchange.Side
	EntryPrice float64
	Size       float64
	Leverage   int
	Margin     float64
	OrderID    string
	StopLoss   *float64
	TakeProfit *float64
}

// CloseParams 为平仓时写入的结果。交易所未提供的字段保持 nil，
// 播报时按"不可用"处理。
type CloseParams struct {
	ExitPrice   *float64
	RealizedPnl *float64
	Note        string
}
