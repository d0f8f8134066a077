package risk

import (
	"fmt"
	"math"

	"github.com/CiscoZulfikar/bitget-trade/internal/config"
)

// PositionMargin 按分级规则返回单笔保证金额度。
// tiers 需按 min_balance 递增排列，fraction 随余额递增而不增，
// 保证整体是余额的单调不增阶梯函数（资金越大，单笔风险占比越低）。
func PositionMargin(balance float64, tiers []config.MarginTier) float64 {
	if balance <= 0 || len(tiers) == 0 {
		return 0
	}

	fraction := tiers[0].Fraction
	for _, tier := range tiers {
		if balance < tier.MinBalance {
			break
		}
		fraction = tier.Fraction
	}

	return balance * fraction
}

// RequiredLeverage 根据入场价与止损价计算目标杠杆。
// riskPct 为止损距离占比，先乘以安全系数吸收滑点，再用
// lossCap*riskScalar 除之取整，最终限制在 [1, maxLeverage]。
// entry 为 0 时保守返回 1；止损距离为 0 时返回 maxLeverage。
func RequiredLeverage(entry, stop, lossCap, riskScalar, safety float64, maxLeverage int) int {
	if maxLeverage < 1 {
		maxLeverage = 1
	}
	if entry == 0 {
		return 1
	}

	riskPct := math.Abs(entry-stop) / entry
	if riskPct == 0 {
		return maxLeverage
	}

	if safety < 1 {
		safety = 1
	}
	adjusted := riskPct * safety

	leverage := int(math.Floor(lossCap * riskScalar / adjusted))
	if leverage > maxLeverage {
		leverage = maxLeverage
	}
	if leverage < 1 {
		leverage = 1
	}
	return leverage
}

// EntryAction 表示入场决策结果。
type EntryAction string

const (
	ActionMarket EntryAction = "MARKET"
	ActionLimit  EntryAction = "LIMIT"
	ActionAbort  EntryAction = "ABORT"
)

// EntryDecision 为入场决策输出，Reason 用于通知与日志。
type EntryDecision struct {
	Action EntryAction
	Price  float64
	Reason string
}

// DecideEntryAction 在信号入场价与实时市价之间做出下单方式选择。
// 偏差不超过 marketDeviation 用市价单；超过但不超过 abortDeviation
// 用限价单挂在信号价等待回踩；再大则认为行情已经走远，放弃执行。
// explicitLimit 为 true 时无条件按信号价挂限价单。
func DecideEntryAction(signalEntry, marketPrice float64, explicitLimit bool, marketDeviation, abortDeviation float64) EntryDecision {
	if signalEntry == 0 {
		return EntryDecision{Action: ActionAbort, Reason: "信号入场价为 0"}
	}

	if explicitLimit {
		return EntryDecision{
			Action: ActionLimit,
			Price:  signalEntry,
			Reason: "信号要求限价单",
		}
	}

	deviation := math.Abs(signalEntry-marketPrice) / signalEntry

	switch {
	case deviation <= marketDeviation:
		return EntryDecision{
			Action: ActionMarket,
			Price:  marketPrice,
			Reason: fmt.Sprintf("价格偏差 %.2f%% 在市价范围内", deviation*100),
		}
	case deviation <= abortDeviation:
		return EntryDecision{
			Action: ActionLimit,
			Price:  signalEntry,
			Reason: fmt.Sprintf("价格偏差 %.2f%%，改用限价单等待回踩", deviation*100),
		}
	default:
		return EntryDecision{
			Action: ActionAbort,
			Reason: fmt.Sprintf("价格偏差 %.2f%% 超过上限，放弃执行", deviation*100),
		}
	}
}

// RescalePrice 修正信号价格与市价之间的数量级差异（人为笔误或单位不一致）。
// 先按 log10 数量级差做一次缩放；若缩放结果仍落在市价 10 倍区间之外，
// 回退为反复乘除 10 直到进入市价 5 倍区间。这是尽力而为的归一化，
// 不是价格正确性保证。
func RescalePrice(signalPrice, marketPrice float64) float64 {
	if signalPrice <= 0 || marketPrice <= 0 {
		return signalPrice
	}

	// 已在市价 10 倍区间内的价格视为正常报价，绝不改写。
	// 否则 98 对 100 这类跨数量级边界的合法价格会被误缩放。
	if signalPrice > marketPrice/10 && signalPrice < marketPrice*10 {
		return signalPrice
	}

	signalOOM := math.Floor(math.Log10(signalPrice))
	marketOOM := math.Floor(math.Log10(marketPrice))
	diffOOM := signalOOM - marketOOM
	if diffOOM == 0 {
		return signalPrice
	}

	corrected := signalPrice * math.Pow(10, -diffOOM)

	if corrected < marketPrice/10 || corrected > marketPrice*10 {
		corrected = signalPrice
		for corrected > marketPrice*5 {
			corrected /= 10
		}
		for corrected < marketPrice/5 {
			corrected *= 10
		}
	}

	return corrected
}

// RMultiple 计算未实现收益相对初始止损距离的倍数（R 倍数）。
// 多头方向取正，空头方向取负号修正；止损距离为 0 时返回 0。
func RMultiple(entry, stop, markPrice float64, short bool) float64 {
	riskDistance := math.Abs(entry - stop)
	if riskDistance == 0 {
		return 0
	}

	r := (markPrice - entry) / riskDistance
	if short {
		r = -r
	}
	return r
}

// BreakevenPrice 返回带手续费缓冲的保本止损价。
// 多头抬高、空头压低 entry*feeBuffer，使触发时扣除手续费后接近不亏。
func BreakevenPrice(entry, feeBuffer float64, short bool) float64 {
	if short {
		return entry * (1 - feeBuffer)
	}
	return entry * (1 + feeBuffer)
}
