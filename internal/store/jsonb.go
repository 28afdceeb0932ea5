package store

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
)

// JSONBDocument stores an arbitrary JSON object in a JSONB column.
type JSONBDocument map[string]any

// Value implements the driver.Valuer interface for database storage.
func (d JSONBDocument) Value() (driver.Value, error) {
	if d == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]any(d))
}

// Scan implements the sql.Scanner interface for database retrieval.
func (d *JSONBDocument) Scan(value any) error {
	if value == nil {
		*d = JSONBDocument{}
		return nil
	}

	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return errors.New("cannot scan non-string/[]byte value into JSONBDocument")
	}

	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	*d = doc
	return nil
}
