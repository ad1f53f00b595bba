// internal/models/credit.go
package models

// CreditState 表示账户的积分状态
// Infinite 为 true 时 Remaining 不再具有约束意义，仅作展示
type CreditState struct {
	Remaining int  `json:"remaining"`
	Infinite  bool `json:"infinite"`
}

// CanAfford 判断当前状态能否覆盖给定的消耗
func (c CreditState) CanAfford(amount int) bool {
	if c.Infinite {
		return true
	}
	return c.Remaining >= amount
}
