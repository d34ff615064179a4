package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
)

// JSONBMap handles JSONB columns in PostgreSQL. It implements
// sql.Scanner and driver.Valuer to convert between map[string]any
// and the stored JSON representation.
type JSONBMap map[string]any

// Scan implements the sql.Scanner interface.
func (j *JSONBMap) Scan(value any) error {
	if value == nil {
		*j = nil
		return nil
	}

	var data []byte
	switch v := value.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return errors.New("unsupported type for JSONBMap")
	}

	if len(data) == 0 {
		*j = JSONBMap{}
		return nil
	}

	return json.Unmarshal(data, j)
}

// Value implements the driver.Valuer interface.
func (j JSONBMap) Value() (driver.Value, error) {
	if len(j) == 0 {
		return []byte("{}"), nil
	}
	return json.Marshal(j)
}

// scanJSONB decodes a JSONB column value into dst. Empty and NULL
// values are left to the caller's zero value.
func scanJSONB(value any, dst any) error {
	if value == nil {
		return nil
	}

	var data []byte
	switch v := value.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return errors.New("unsupported type for JSONB column")
	}

	if len(data) == 0 {
		return nil
	}

	return json.Unmarshal(data, dst)
}
