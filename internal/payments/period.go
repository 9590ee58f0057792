// Package payments implements the provider payment pipeline: webhook
// signature verification, event classification, transaction reconciliation,
// local subscription lifecycle, and outbound checkout construction. The
// package holds no transport or storage code; collaborators are injected as
// narrow interfaces.
package payments

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"fairbill/internal/types"
)

// Interval is a provider recurring interval: a unit name plus a count.
type Interval struct {
	Unit  string
	Count int64
}

// Recognized interval units, keyed by the single-letter billing period code.
var unitByPeriodCode = map[string]string{
	"D": "day",
	"W": "week",
	"M": "month",
	"Y": "year",
}

var periodCodeByUnit = map[string]string{
	"day":   "D",
	"week":  "W",
	"month": "M",
	"year":  "Y",
}

var periodPattern = regexp.MustCompile(`^(\d+)([DWMY])$`)

// NormalizePeriod strips all whitespace from a billing period code and
// uppercases it, so "1 m" and "1M" compare equal.
func NormalizePeriod(code string) string {
	stripped := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, code)
	return strings.ToUpper(stripped)
}

// ToProviderInterval converts a billing period code such as "1M" or "2W"
// into the provider's interval representation. The quantity must be a
// positive integer and the unit one of D, W, M or Y.
func ToProviderInterval(code string) (Interval, error) {
	normalized := NormalizePeriod(code)

	match := periodPattern.FindStringSubmatch(normalized)
	if match == nil {
		return Interval{}, types.NewAppErrorWithDetails(
			types.ErrCodePaymentInvalidPeriod,
			"billing period must be a quantity followed by one of D, W, M or Y",
			nil,
			map[string]any{"period": code},
		)
	}

	count, err := strconv.ParseInt(match[1], 10, 64)
	if err != nil || count < 1 {
		return Interval{}, types.NewAppErrorWithDetails(
			types.ErrCodePaymentInvalidPeriod,
			"billing period quantity must be a positive integer",
			nil,
			map[string]any{"period": code},
		)
	}

	return Interval{Unit: unitByPeriodCode[match[2]], Count: count}, nil
}

// FromProviderInterval converts a provider interval back into a billing
// period code. It returns "" when the unit is unknown or the count is not
// positive, letting callers fall through to the next period source.
func FromProviderInterval(interval string, count int64) string {
	if count < 1 {
		return ""
	}
	code, ok := periodCodeByUnit[strings.ToLower(strings.TrimSpace(interval))]
	if !ok {
		return ""
	}
	return strconv.FormatInt(count, 10) + code
}
