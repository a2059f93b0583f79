package common

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// MoneyPlaces: точность хранения денежных значений (центы).
const MoneyPlaces = 2

// Round2 округляет сумму до центов. Вызывается на каждом пути записи денег.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyPlaces)
}

// ParseUSD разбирает сумму из пользовательского ввода ("12.5", "12,50", "$12").
func ParseUSD(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(s, ",", ".")
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, Validationf("не удалось разобрать сумму %q", s)
	}
	return d, nil
}

// FormatUSD форматирует сумму: FormatUSD(12.5) → "$12.50".
func FormatUSD(d decimal.Decimal) string {
	if d.IsNegative() {
		return "-$" + d.Neg().StringFixed(MoneyPlaces)
	}
	return "$" + d.StringFixed(MoneyPlaces)
}

// FormatSigned форматирует сумму со знаком: "+$7.50", "-$50.00".
func FormatSigned(d decimal.Decimal) string {
	if d.IsNegative() {
		return FormatUSD(d)
	}
	return "+" + FormatUSD(d)
}

// FormatCoin форматирует количество монет без хвостовых нулей: "0.00076923 BTC".
func FormatCoin(d decimal.Decimal, coin string) string {
	return fmt.Sprintf("%s %s", d.Round(8).String(), coin)
}
