package shared

import (
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

var moneyPrinter = message.NewPrinter(language.Spanish)

// FormatMoney renders an amount with locale-aware digit grouping for display
// fields. Arithmetic always happens on the decimal values, never on this.
func FormatMoney(amount decimal.Decimal) string {
	f, _ := amount.Float64()
	return moneyPrinter.Sprint(number.Decimal(f, number.MinFractionDigits(2), number.MaxFractionDigits(2)))
}
