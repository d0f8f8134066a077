package monitor

import (
	"time"
)

// EventType 表示监控事件类型。
type EventType string

const (
	EventSignal    EventType = "signal"
	EventExecution EventType = "execution"
	EventReconcile EventType = "reconcile"
	EventStatus    EventType = "status"
	EventError     EventType = "error"
)

// Event 封装通用监控事件。
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// SignalPayload 记录一条信号的解析结果。
type SignalPayload struct {
	MessageID string `json:"message_id"`
	Kind      string `json:"kind"`
	Symbol    string `json:"symbol,omitempty"`
	Text      string `json:"text,omitempty"`
}

// ExecutionPayload 记录一次生命周期操作的结果。
type ExecutionPayload struct {
	TradeID string `json:"trade_id"`
	Symbol  string `json:"symbol"`
	Action  string `json:"action"`
	Outcome string `json:"outcome"`
}

// ReconcilePayload 记录对账产生的纠偏动作。
type ReconcilePayload struct {
	Symbol string `json:"symbol"`
	Action string `json:"action"`
	Detail string `json:"detail,omitempty"`
}

// StatusPayload 记录周期播报的账户状态。
type StatusPayload struct {
	Equity    float64  `json:"equity"`
	Free      float64  `json:"free"`
	OpenCount int      `json:"open_count"`
	Recent    []string `json:"recent,omitempty"`
}

// ErrorPayload 记录异常。
type ErrorPayload struct {
	Message string                 `json:"message"`
	Error   string                 `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}
