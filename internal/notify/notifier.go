package notify

import (
	"context"

	"go.uber.org/zap"
)

// Notifier 把面向人的文本播报投递到外部通知渠道。
// 播报失败不应影响交易流程，实现方自行吞掉错误并记录。
type Notifier interface {
	Send(ctx context.Context, text string)
}

// LogNotifier 把播报写入日志，是默认的通知实现。
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier 创建日志通知器。
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

// Send 输出一条播报。
func (n *LogNotifier) Send(_ context.Context, text string) {
	n.logger.Info("播报", zap.String("text", text))
}

// FuncNotifier 以回调承接播报，测试用。
type FuncNotifier func(ctx context.Context, text string)

// Send 调用回调。
func (f FuncNotifier) Send(ctx context.Context, text string) {
	if f != nil {
		f(ctx, text)
	}
}
