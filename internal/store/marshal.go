package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/metatypedev/ghjk/internal/ir"
)

// marshalColumn converts v to canonical JSON TEXT for storage.
func marshalColumn(name string, v any) (string, error) {
	val, err := ir.FromGo(v)
	if err != nil {
		return "", fmt.Errorf("marshal %s: %w", name, err)
	}
	data, err := ir.MarshalCanonical(val)
	if err != nil {
		return "", fmt.Errorf("marshal %s: %w", name, err)
	}
	return string(data), nil
}

// marshalNullable stores a nil pointer as SQL NULL.
func marshalNullable[T any](name string, v *T) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	s, err := marshalColumn(name, v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: s, Valid: true}, nil
}

func unmarshalColumn(name, data string, out any) error {
	if err := json.Unmarshal([]byte(data), out); err != nil {
		return fmt.Errorf("unmarshal %s: %w", name, err)
	}
	return nil
}

func unmarshalNullable[T any](name string, data sql.NullString) (*T, error) {
	if !data.Valid {
		return nil, nil
	}
	out := new(T)
	if err := unmarshalColumn(name, data.String, out); err != nil {
		return nil, err
	}
	return out, nil
}
