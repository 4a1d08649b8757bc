package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Amount is a decimal money value that accepts JSON numbers, numeric strings,
// empty strings and null. Empty and null leave the amount unset.
type Amount struct {
	Valid bool
	Value decimal.Decimal
}

// NewAmount returns a set Amount.
func NewAmount(value decimal.Decimal) Amount {
	return Amount{Valid: true, Value: value}
}

// ParseAmount parses a textual decimal; blank input yields an unset Amount.
func ParseAmount(raw string) (Amount, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Amount{}, nil
	}
	value, err := decimal.NewFromString(trimmed)
	if err != nil {
		return Amount{}, fmt.Errorf("invalid amount %q: %w", raw, err)
	}
	return NewAmount(value), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (a *Amount) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*a = Amount{}
		return nil
	}
	if trimmed[0] == '"' {
		var raw string
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return err
		}
		parsed, err := ParseAmount(raw)
		if err != nil {
			return err
		}
		*a = parsed
		return nil
	}
	parsed, err := ParseAmount(string(trimmed))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// MarshalJSON renders the amount as a fixed two-decimal string, or null when unset.
func (a Amount) MarshalJSON() ([]byte, error) {
	if !a.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(a.Value.StringFixed(2))
}

// String implements fmt.Stringer.
func (a Amount) String() string {
	if !a.Valid {
		return ""
	}
	return a.Value.StringFixed(2)
}
