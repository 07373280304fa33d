package observability

import (
	"strings"
	"unicode"

	"github.com/hanko-field/ordercore/internal/platform/textutil"
)

const (
	defaultStringLimit = 256
	guestKeyVisible    = 6
)

// sanitizeString drops control characters so request data cannot forge log lines, then truncates.
func sanitizeString(value string, limit int) string {
	if limit <= 0 {
		limit = defaultStringLimit
	}
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, value)
	return textutil.TruncateRunes(cleaned, limit)
}

// SanitizeRoute cleans a chi route pattern for use as a log field or metric label.
func SanitizeRoute(route string) string {
	if route == "" {
		return "/"
	}
	return sanitizeString(route, 180)
}

// SanitizeMethod cleans an HTTP method for use as a log field or metric label.
func SanitizeMethod(method string) string {
	return strings.ToUpper(sanitizeString(method, 10))
}

// SanitizeActor prepares an actor id ("user:<uid>", "guest:<session>") for logging. Guest session
// keys grant access to a cart, so only a short prefix of them is kept.
func SanitizeActor(actor string) string {
	actor = sanitizeString(actor, 96)
	kind, id, ok := strings.Cut(actor, ":")
	if !ok || kind != "guest" {
		return actor
	}
	if len(id) <= guestKeyVisible {
		return "guest:***"
	}
	return "guest:" + id[:guestKeyVisible] + "***"
}
