package trade

import (
	"fmt"
)

// ExecutionError 表示风控通过后下单被拒。对应的账本记录停留在
// RESERVED，绝不自动重试，留给操作员处置。
type ExecutionError struct {
	Op     string
	Symbol string
	Err    error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("trade: %s %s 执行失败: %v", e.Symbol, e.Op, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// RollbackError 表示换单回滚本身失败，仓位此刻没有任何在途委托
// 兜底。这是唯一要求立即人工介入的错误，不做任何自动重试。
type RollbackError struct {
	Symbol  string
	OrderID string
	Err     error
}

func (e *RollbackError) Error() string {
	return fmt.Sprintf("trade: CRITICAL %s 换单回滚失败，仓位已无委托保护 (原单 %s): %v",
		e.Symbol, e.OrderID, e.Err)
}

func (e *RollbackError) Unwrap() error {
	return e.Err
}
