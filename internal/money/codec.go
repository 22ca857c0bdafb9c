package money

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// MarshalJSON encodes the value as a JSON string so no consumer parses it
// through a binary float.
func (d Decimal) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON accepts a JSON string or a JSON number literal.
func (d *Decimal) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return fmt.Errorf("%w: null", ErrInvalidValue)
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("decode decimal: %w", err)
		}
		data = []byte(s)
	}
	parsed, err := FromBytes(data)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func (d Decimal) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Decimal) UnmarshalText(text []byte) error {
	parsed, err := FromBytes(text)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Scan implements sql.Scanner for NUMERIC and TEXT columns.
func (d *Decimal) Scan(value any) error {
	var (
		parsed Decimal
		err    error
	)
	switch v := value.(type) {
	case nil:
		return fmt.Errorf("%w: NULL", ErrInvalidValue)
	case string:
		parsed, err = FromString(v)
	case []byte:
		parsed, err = FromBytes(v)
	case int64:
		parsed = FromInt(v)
	case float64:
		parsed, err = FromFloat(v)
	default:
		return fmt.Errorf("%w: cannot scan %T", ErrInvalidValue, value)
	}
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Value implements driver.Valuer.
func (d Decimal) Value() (driver.Value, error) {
	return d.String(), nil
}
