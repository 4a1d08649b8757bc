package validators

import (
	"net/http"
	"strings"

	pkgerrors "github.com/angelmondragon/tishcommerce-checkout/pkg/errors"
)

// RequiredQuery returns the trimmed query parameter or a missing_field rejection.
func RequiredQuery(r *http.Request, key string, maxLen int) (string, error) {
	value := SanitizeString(r.URL.Query().Get(key), maxLen)
	if value == "" {
		return "", pkgerrors.Reject("missing_field", key+" is required").WithDetails(map[string]any{"field": key})
	}
	return value, nil
}

// OptionalQuery returns the trimmed query parameter, possibly empty.
func OptionalQuery(r *http.Request, key string, maxLen int) string {
	return SanitizeString(r.URL.Query().Get(key), maxLen)
}

// SanitizeString trims input and caps it at maxLen runes.
func SanitizeString(input string, maxLen int) string {
	trimmed := strings.TrimSpace(input)
	if maxLen <= 0 || len(trimmed) <= maxLen {
		return trimmed
	}
	runes := []rune(trimmed)
	if len(runes) <= maxLen {
		return trimmed
	}
	return string(runes[:maxLen])
}
