// Package money converts heterogeneous price representations into canonical domain.Money values.
//
// Normalize never fails: malformed input degrades to a zero amount so bulk paths can keep going.
// Callers that face end users decide whether a degraded zero is acceptable (see Degraded).
package money

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"

	"github.com/hanko-field/ordercore/internal/domain"
)

var symbolCurrencies = map[rune]string{
	'$': "USD",
	'€': "EUR",
	'£': "GBP",
	'¥': "JPY",
	'₵': "GHS",
	'₦': "NGN",
	'₹': "INR",
}

// Normalizer converts raw values into Money using DefaultCurrency when none can be detected.
type Normalizer struct {
	DefaultCurrency string
}

// New returns a normalizer with the given default currency (USD when blank or unknown).
func New(defaultCurrency string) Normalizer {
	return Normalizer{DefaultCurrency: CoerceCurrency(defaultCurrency, domain.DefaultCurrency)}
}

var std = New(domain.DefaultCurrency)

// Normalize uses the package default normalizer.
func Normalize(raw any) domain.Money { return std.Normalize(raw) }

// Normalize converts raw into Money. It never panics and never returns an error.
func (n Normalizer) Normalize(raw any) domain.Money {
	fallback := n.currency()
	switch v := raw.(type) {
	case nil:
		return domain.Zero(fallback)
	case domain.Money:
		return domain.NewMoney(v.Amount, CoerceCurrency(v.Currency, fallback))
	case *domain.Money:
		if v == nil {
			return domain.Zero(fallback)
		}
		return domain.NewMoney(v.Amount, CoerceCurrency(v.Currency, fallback))
	case decimal.Decimal:
		return domain.NewMoney(v, fallback)
	case *decimal.Decimal:
		if v == nil {
			return domain.Zero(fallback)
		}
		return domain.NewMoney(*v, fallback)
	case int:
		return domain.NewMoney(decimal.NewFromInt(int64(v)), fallback)
	case int32:
		return domain.NewMoney(decimal.NewFromInt32(v), fallback)
	case int64:
		return domain.NewMoney(decimal.NewFromInt(v), fallback)
	case uint:
		return domain.NewMoney(decimal.NewFromUint64(uint64(v)), fallback)
	case uint32:
		return domain.NewMoney(decimal.NewFromUint64(uint64(v)), fallback)
	case uint64:
		return domain.NewMoney(decimal.NewFromUint64(v), fallback)
	case float32:
		return n.fromFloat(float64(v))
	case float64:
		return n.fromFloat(v)
	case json.Number:
		return n.fromString(string(v))
	case string:
		return n.fromString(v)
	case []byte:
		return n.fromString(string(v))
	case fmt.Stringer:
		if text, ok := stringerText(v); ok {
			return n.fromString(text)
		}
		return domain.Zero(fallback)
	default:
		return domain.Zero(fallback)
	}
}

func (n Normalizer) currency() string {
	return CoerceCurrency(n.DefaultCurrency, domain.DefaultCurrency)
}

func (n Normalizer) fromFloat(v float64) domain.Money {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return domain.Zero(n.currency())
	}
	return domain.NewMoney(decimal.NewFromFloat(v), n.currency())
}

func (n Normalizer) fromString(raw string) domain.Money {
	code := detectCurrency(raw, n.currency())
	amount, err := decimal.NewFromString(cleanNumber(raw))
	if err != nil {
		return domain.Zero(code)
	}
	return domain.NewMoney(amount, code)
}

// cleanNumber strips everything but digits, dots and minus signs, keeps only the last dot as the
// decimal separator, folds minus signs by parity into one leading sign and repairs bare points.
func cleanNumber(raw string) string {
	var digits strings.Builder
	minus := 0
	lastDot := -1
	for _, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			digits.WriteRune(r)
		case r == '.':
			lastDot = digits.Len()
		case r == '-':
			minus++
		}
	}

	body := digits.String()
	intPart, fracPart := body, ""
	if lastDot >= 0 {
		intPart, fracPart = body[:lastDot], body[lastDot:]
	}
	if intPart == "" {
		intPart = "0"
	}
	if fracPart == "" {
		fracPart = "00"
	}

	out := intPart + "." + fracPart
	if minus%2 == 1 {
		out = "-" + out
	}
	return out
}

func detectCurrency(raw, fallback string) string {
	for _, r := range raw {
		if code, ok := symbolCurrencies[r]; ok {
			return code
		}
	}

	var letters []rune
	flush := func() string {
		defer func() { letters = letters[:0] }()
		if len(letters) != 3 {
			return ""
		}
		unit, err := currency.ParseISO(string(letters))
		if err != nil {
			return ""
		}
		return unit.String()
	}
	for _, r := range raw {
		if unicode.IsLetter(r) && r < unicode.MaxASCII {
			letters = append(letters, unicode.ToUpper(r))
			continue
		}
		if code := flush(); code != "" {
			return code
		}
	}
	if code := flush(); code != "" {
		return code
	}
	return fallback
}

// CoerceCurrency returns the canonical ISO code for code, or fallback when code is not a known
// currency.
func CoerceCurrency(code, fallback string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code != "" {
		if unit, err := currency.ParseISO(code); err == nil {
			return unit.String()
		}
	}
	fallback = strings.ToUpper(strings.TrimSpace(fallback))
	if fallback == "" {
		return domain.DefaultCurrency
	}
	return fallback
}

// LooksNonZero reports whether raw visibly carries a non-zero value, e.g. "12 USD" or 3.5.
func LooksNonZero(raw any) bool {
	switch v := raw.(type) {
	case nil:
		return false
	case domain.Money:
		return !v.IsZero()
	case *domain.Money:
		return v != nil && !v.IsZero()
	case decimal.Decimal:
		return !v.IsZero()
	case int:
		return v != 0
	case int32:
		return v != 0
	case int64:
		return v != 0
	case uint:
		return v != 0
	case uint32:
		return v != 0
	case uint64:
		return v != 0
	case float32:
		return v != 0
	case float64:
		return v != 0 && !math.IsNaN(v)
	case json.Number:
		return hasNonZeroDigit(string(v))
	case string:
		return hasNonZeroDigit(v)
	case []byte:
		return hasNonZeroDigit(string(v))
	case fmt.Stringer:
		text, ok := stringerText(v)
		return ok && hasNonZeroDigit(text)
	}
	return false
}

// stringerText calls String, reporting false when it panics, as value methods do on a nil pointer.
func stringerText(v fmt.Stringer) (text string, ok bool) {
	defer func() {
		if recover() != nil {
			text, ok = "", false
		}
	}()
	return v.String(), true
}

// Degraded reports whether normalized is a zero produced from input that looked non-zero.
func Degraded(raw any, normalized domain.Money) bool {
	return normalized.IsZero() && LooksNonZero(raw)
}

func hasNonZeroDigit(s string) bool {
	return strings.ContainsAny(s, "123456789")
}
