package observability

import (
	"strings"
	"unicode"
)

const (
	maxRouteLength  = 180
	maxMethodLength = 10
)

// scrub drops control characters so attacker-controlled values cannot inject
// log lines, then truncates to limit runes.
func scrub(value string, limit int) string {
	var b strings.Builder
	b.Grow(len(value))
	count := 0
	for _, r := range value {
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			continue
		}
		if count == limit {
			break
		}
		b.WriteRune(r)
		count++
	}
	return b.String()
}

// SanitizeRoute normalises a route pattern for logging.
func SanitizeRoute(route string) string {
	if route == "" {
		return "/"
	}
	return scrub(route, maxRouteLength)
}

// SanitizeMethod normalises an HTTP method for logging.
func SanitizeMethod(method string) string {
	return scrub(method, maxMethodLength)
}
