package exchange

import (
	"errors"
	"fmt"
	"strings"

	ccxt "github.com/ccxt/ccxt/go/v4"
)

var (
	// ErrMaintenance 表示交易所处于维护状态，需要上层跳过交易。
	ErrMaintenance = errors.New("exchange on maintenance")

	// ErrAlreadySatisfied 表示账户已处于目标状态（如保证金模式已切换），
	// 调用按成功吸收。
	ErrAlreadySatisfied = errors.New("exchange already in desired state")

	// ErrNothingToCancel 表示没有可撤的委托，按成功处理。
	ErrNothingToCancel = errors.New("exchange has nothing to cancel")
)

// PreconditionError 表示账户状态不满足操作前置条件，
// 附带需要人工处理的提示文本。
type PreconditionError struct {
	Op          string
	Remediation string
	Err         error
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("exchange: %s 前置条件不满足: %s", e.Op, e.Remediation)
}

func (e *PreconditionError) Unwrap() error {
	return e.Err
}

// Bitget 业务错误码。40789 表示已处于目标模式，400172/43116 表示
// 存在持仓或挂单导致无法切换，22001 表示没有可撤委托。
const (
	codeAlreadyInMode    = "40789"
	codeHasOpenPositions = "400172"
	codeConditionNotMet  = "43116"
	codeNoOrderToCancel  = "22001"
)

// ClassifyModeError 将切换保证金/持仓模式的错误归类为明确结果。
func ClassifyModeError(op, symbol string, err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	if strings.Contains(msg, codeAlreadyInMode) {
		return ErrAlreadySatisfied
	}
	if strings.Contains(msg, codeHasOpenPositions) || strings.Contains(msg, codeConditionNotMet) {
		return &PreconditionError{
			Op:          op,
			Remediation: fmt.Sprintf("请先在交易所手工平掉 %s 的持仓与挂单后重试", symbol),
			Err:         err,
		}
	}
	return err
}

// IsNothingToCancel 判断撤单错误是否为"没有可撤委托"。
func IsNothingToCancel(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNothingToCancel) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, codeNoOrderToCancel) || strings.Contains(msg, "No order")
}

// IsRetryable 判断错误是否为可重试的网络类错误。
func IsRetryable(err error) bool {
	if err == nil {
		return false
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
			return true
		default:
			return false
		}
	}

	return false
}
