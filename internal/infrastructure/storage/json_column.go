package storage

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// jsonColumn stores T as JSON text. Value returns a string so lib/pq does not
// send it as bytea.
type jsonColumn[T any] struct {
	Data T
}

func (c *jsonColumn[T]) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		var zero T
		c.Data = zero
		return nil
	case []byte:
		return json.Unmarshal(v, &c.Data)
	case string:
		return json.Unmarshal([]byte(v), &c.Data)
	default:
		return fmt.Errorf("jsonColumn.Scan: unsupported type %T", src)
	}
}

func (c jsonColumn[T]) Value() (driver.Value, error) {
	b, err := json.Marshal(c.Data)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// rawJSON keeps source bytes untouched in both directions.
type rawJSON json.RawMessage

func (r *rawJSON) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*r = nil
	case []byte:
		*r = append((*r)[:0], v...)
	case string:
		*r = rawJSON(v)
	default:
		return fmt.Errorf("rawJSON.Scan: unsupported type %T", src)
	}
	return nil
}

func (r rawJSON) Value() (driver.Value, error) {
	if len(r) == 0 {
		return "null", nil
	}
	return string(r), nil
}
