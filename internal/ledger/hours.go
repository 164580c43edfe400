package ledger

import "github.com/shopspring/decimal"

var sixty = decimal.NewFromInt(60)

// MinutesToHours converts minutes to exact hours.
func MinutesToHours(minutes int) decimal.Decimal {
	return decimal.NewFromInt(int64(minutes)).Div(sixty)
}

// HoursToMinutes converts hours to whole minutes, rounding half away from zero.
func HoursToMinutes(hours decimal.Decimal) int {
	return int(hours.Mul(sixty).Round(0).IntPart())
}

// RoundHours rounds hours to two decimals for display.
func RoundHours(hours decimal.Decimal) decimal.Decimal {
	return hours.Round(2)
}
