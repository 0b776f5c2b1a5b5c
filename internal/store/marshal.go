package store

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/roach88/cadence/internal/task"
)

// encodeJSON serializes v with HTML escaping disabled. Map keys come out
// sorted, so equal values always produce equal TEXT.
func encodeJSON(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	// Encoder adds a trailing newline
	return strings.TrimSpace(buf.String()), nil
}

func marshalAttributes(attrs map[string]string) (string, error) {
	if len(attrs) == 0 {
		return "{}", nil
	}
	s, err := encodeJSON(attrs)
	if err != nil {
		return "", fmt.Errorf("marshal attributes: %w", err)
	}
	return s, nil
}

func unmarshalAttributes(data string) (map[string]string, error) {
	out := map[string]string{}
	if data == "" || data == "{}" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(data), &out); err != nil {
		return nil, fmt.Errorf("unmarshal attributes: %w", err)
	}
	return out, nil
}

func marshalLinks(links []task.ID) (string, error) {
	if len(links) == 0 {
		return "[]", nil
	}
	s, err := encodeJSON(links)
	if err != nil {
		return "", fmt.Errorf("marshal links: %w", err)
	}
	return s, nil
}

func unmarshalLinks(data string) ([]task.ID, error) {
	if data == "" || data == "[]" {
		return nil, nil
	}
	var out []task.ID
	if err := json.Unmarshal([]byte(data), &out); err != nil {
		return nil, fmt.Errorf("unmarshal links: %w", err)
	}
	return out, nil
}

// marshalFrequency returns NULL for non-templates so the schema CHECK holds.
func marshalFrequency(f *task.FrequencyConfig) (sql.NullString, error) {
	if f == nil {
		return sql.NullString{}, nil
	}
	s, err := encodeJSON(f)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshal frequency: %w", err)
	}
	return sql.NullString{String: s, Valid: true}, nil
}

func unmarshalFrequency(data sql.NullString) (*task.FrequencyConfig, error) {
	if !data.Valid {
		return nil, nil
	}
	var f task.FrequencyConfig
	if err := json.Unmarshal([]byte(data.String), &f); err != nil {
		return nil, fmt.Errorf("unmarshal frequency: %w", err)
	}
	return &f, nil
}
