package signal

import (
	"errors"
	"fmt"
	"strings"

	"github.com/CiscoZulfikar/bitget-trade/internal/exchange"
)

// Kind 表示一条消息解析后的意图类别。
type Kind string

const (
	KindTrade  Kind = "TRADE_CALL"
	KindUpdate Kind = "UPDATE"
	KindIgnore Kind = "IGNORE"
)

// UpdateAction 表示针对既有交易的调整动作。
type UpdateAction string

const (
	ActionMoveSL       UpdateAction = "MOVE_SL"
	ActionMoveTP       UpdateAction = "MOVE_TP"
	ActionCloseFull    UpdateAction = "CLOSE_FULL"
	ActionClosePartial UpdateAction = "CLOSE_PARTIAL"
	ActionBookR        UpdateAction = "BOOK_R"
	ActionCancel       UpdateAction = "CANCEL"
)

// SymbolicValue 表示以语义给出的目标价位。
type SymbolicValue string

const (
	SymbolicNone        SymbolicValue = ""
	SymbolicEntry       SymbolicValue = "ENTRY"
	SymbolicBreakeven   SymbolicValue = "BE"
	SymbolicLiquidation SymbolicValue = "LIQ"
)

// Message 为一条待解析的原始消息。ID 即该信号的幂等键。
type Message struct {
	ID           string
	Text         string
	ReplyContext string
}

// TradeIntent 表示一条完整的开仓指令。
type TradeIntent struct {
	ID            string
	Symbol        string
	Side          exchange.Side
	Entry         float64
	Stop          float64
	TakeProfits   []float64
	LeverageHint  float64
	ExplicitLimit bool
}

// Validate 校验开仓指令字段合法性。
func (t TradeIntent) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return errors.New("signal: 指令ID不能为空")
	}
	if strings.TrimSpace(t.Symbol) == "" {
		return errors.New("signal: symbol 不能为空")
	}
	if t.Side != exchange.SideLong && t.Side != exchange.SideShort {
		return fmt.Errorf("signal: 仓位方向非法: %s", t.Side)
	}
	if t.Entry <= 0 {
		return fmt.Errorf("signal: 入场价非法: %f", t.Entry)
	}
	if t.Stop <= 0 {
		return fmt.Errorf("signal: 止损价非法: %f", t.Stop)
	}
	for i, tp := range t.TakeProfits {
		if tp <= 0 {
			return fmt.Errorf("signal: 止盈价[%d]非法: %f", i, tp)
		}
	}
	return nil
}

// UpdateIntent 表示针对既有交易的调整指令。Value 与 Symbolic 二选一，
// BOOK_R 时 Value 为盈亏比。
type UpdateIntent struct {
	ID       string
	Symbol   string
	Action   UpdateAction
	Value    float64
	Symbolic SymbolicValue
	RawText  string
}

// Validate 校验调整指令字段合法性。
func (u UpdateIntent) Validate() error {
	if strings.TrimSpace(u.ID) == "" {
		return errors.New("signal: 指令ID不能为空")
	}
	switch u.Action {
	case ActionMoveSL, ActionMoveTP:
		if u.Symbolic == SymbolicNone && u.Value <= 0 {
			return fmt.Errorf("signal: %s 缺少目标价位", u.Action)
		}
	case ActionBookR:
		if u.Value <= 0 {
			return errors.New("signal: BOOK_R 缺少盈亏比")
		}
	case ActionCloseFull, ActionClosePartial, ActionCancel:
	default:
		return fmt.Errorf("signal: 未知的调整动作: %s", u.Action)
	}
	return nil
}

// Intent 为解析结果的统一载体，按 Kind 取对应字段。
type Intent struct {
	Kind   Kind
	Trade  *TradeIntent
	Update *UpdateIntent
}

// NormalizeSymbol 将信号里的符号写法（#BTC、$btc、BTCUSDT）统一为
// 紧凑的 USDT 合约符号。
func NormalizeSymbol(raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	s = strings.TrimLeft(s, "#$")
	s = strings.ReplaceAll(s, "/", "")
	if s == "" {
		return ""
	}
	if !strings.HasSuffix(s, "USDT") {
		s += "USDT"
	}
	return s
}
