package models

import (
	"database/sql/driver"
	"errors"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// JSONMap - произвольный объект, хранится в колонке JSONB
type JSONMap map[string]interface{}

// Value реализует driver.Valuer
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan реализует sql.Scanner
func (m *JSONMap) Scan(src interface{}) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*m = nil
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return errors.New("models: unsupported JSONMap source")
	}
	if len(data) == 0 {
		*m = nil
		return nil
	}
	out := JSONMap{}
	if err := json.Unmarshal(data, &out); err != nil {
		return err
	}
	*m = out
	return nil
}

// Int читает целое значение с дефолтом (JSON числа приходят как float64)
func (m JSONMap) Int(key string, def int) int {
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	}
	return def
}

// Float читает дробное значение с дефолтом
func (m JSONMap) Float(key string, def float64) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return def
}

// Clone возвращает поверхностную копию
func (m JSONMap) Clone() JSONMap {
	if m == nil {
		return JSONMap{}
	}
	out := make(JSONMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
