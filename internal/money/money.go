// Package money содержит разбор денежных сумм, присылаемых платёжными провайдерами.
package money

import (
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Unit задаёт, в каких единицах провайдер присылает целые числа без дробной части.
type Unit int

const (
	// Minor означает, что целое число уже выражено в центах.
	Minor Unit = iota
	// Major означает, что целое число выражено в рандах и его нужно умножить на 100.
	Major
)

var (
	hundred  = decimal.NewFromInt(100)
	maxCents = decimal.NewFromInt(math.MaxInt64)
)

// ParseCents переводит сумму провайдера в центы.
// Строка с десятичной точкой всегда трактуется как сумма в валюте и округляется до ближайшего цента,
// целое число трактуется согласно bare. Отрицательные и неразборчивые значения отклоняются.
func ParseCents(raw string, bare Unit) (int64, bool) {
	raw = strings.TrimSpace(raw)
	raw = strings.Trim(raw, `"`)
	if raw == "" {
		return 0, false
	}

	if !strings.ContainsAny(raw, ".eE") {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 0 {
			return 0, false
		}
		if bare == Minor {
			return n, true
		}
		if n > math.MaxInt64/100 {
			return 0, false
		}
		return n * 100, true
	}

	d, err := decimal.NewFromString(raw)
	if err != nil || d.IsNegative() {
		return 0, false
	}

	cents := d.Mul(hundred).Round(0)
	if cents.GreaterThan(maxCents) {
		return 0, false
	}

	return cents.IntPart(), true
}

// FormatCents форматирует центы как сумму в валюте с двумя знаками после точки.
func FormatCents(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}
