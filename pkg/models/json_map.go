package models

import (
	"database/sql/driver"
	"encoding/json"

	"github.com/pkg/errors"
)

// JSONMap is a map[string]interface{} that implements sql.Scanner and
// driver.Valuer so it can be stored in a JSONB column.
type JSONMap map[string]interface{}

// Value implements driver.Valuer for JSONMap
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner for JSONMap
func (m *JSONMap) Scan(value interface{}) error {
	if value == nil {
		return nil
	}

	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, (*map[string]interface{})(m))
	case string:
		return json.Unmarshal([]byte(v), (*map[string]interface{})(m))
	default:
		return errors.Errorf("unsupported type for JSONMap: %T", value)
	}
}

// AsInputMap wraps an arbitrary JSON-like value into a JSONMap snapshot.
// Mappings pass through unchanged; anything else is wrapped as {"value": x}.
func AsInputMap(input interface{}) JSONMap {
	if input == nil {
		return nil
	}
	switch v := input.(type) {
	case JSONMap:
		return v
	case map[string]interface{}:
		return JSONMap(v)
	default:
		return JSONMap{"value": input}
	}
}
