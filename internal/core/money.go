// Package core provides amount formatting for ledger replies.
//
// Amounts are whole currency units (VND), so no fractional handling exists.
package core

import (
	"strconv"
	"strings"
)

// FormatAmount renders an amount with vi-VN thousands grouping and the đ
// suffix: 1500000 becomes "1.500.000đ".
func FormatAmount(amount int64) string {
	neg := amount < 0
	if neg {
		amount = -amount
	}
	digits := strconv.FormatInt(amount, 10)
	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	lead := len(digits) % 3
	if lead == 0 {
		lead = 3
	}
	b.WriteString(digits[:lead])
	for i := lead; i < len(digits); i += 3 {
		b.WriteByte('.')
		b.WriteString(digits[i : i+3])
	}
	b.WriteString("đ")
	return b.String()
}
