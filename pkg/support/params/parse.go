// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package params

import (
	"encoding"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/exp/constraints"
)

// SetFromString parses valueStr and sets it for key. The key must already be set (with a default
// value), and the type of the current value defines how valueStr is parsed.
//
// For integer types, "_" is removed: it allows one to enter large numbers using it as a separator,
// like in Go. E.g.: 1_000_000 = 1000000. Slices are given as comma-separated values.
func (p *Params) SetFromString(key, valueStr string) error {
	current, found := p.Get(key)
	if !found {
		return errors.Errorf("unknown parameter %q", key)
	}
	var (
		value any
		err   error
	)
	switch v := current.(type) {
	case int:
		value, err = parseNumber[int](valueStr)
	case int32:
		value, err = parseNumber[int32](valueStr)
	case int64:
		value, err = parseNumber[int64](valueStr)
	case uint:
		value, err = parseNumber[uint](valueStr)
	case uint32:
		value, err = parseNumber[uint32](valueStr)
	case uint64:
		value, err = parseNumber[uint64](valueStr)
	case float32:
		value, err = parseNumber[float32](valueStr)
	case float64:
		value, err = parseNumber[float64](valueStr)
	case bool:
		var b bool
		err = json.Unmarshal([]byte(strings.TrimSpace(valueStr)), &b)
		value = b
	case string:
		value = valueStr
	case []string:
		value = strings.Split(valueStr, ",")
	case []int:
		value, err = parseList[int](valueStr)
	case []float64:
		value, err = parseList[float64](valueStr)
	case encoding.TextUnmarshaler:
		// Pointer types that know how to parse themselves: create a new value of the same type.
		newValue := reflect.New(reflect.TypeOf(v).Elem()).Interface().(encoding.TextUnmarshaler)
		err = newValue.UnmarshalText([]byte(valueStr))
		value = newValue
	default:
		err = errors.Errorf("don't know how to parse type %T", current)
	}
	if err != nil {
		return errors.WithMessagef(err, "failed to parse value %q for parameter %q (current value is %#v)",
			valueStr, key, current)
	}
	p.Set(key, value)
	return nil
}

func parseNumber[T constraints.Integer | constraints.Float](valueStr string) (T, error) {
	var v T
	valueStr = strings.TrimSpace(valueStr)
	if reflect.TypeOf(v).Kind() != reflect.Float32 && reflect.TypeOf(v).Kind() != reflect.Float64 {
		valueStr = strings.ReplaceAll(valueStr, "_", "")
	}
	if err := json.Unmarshal([]byte(valueStr), &v); err != nil {
		return v, errors.Wrapf(err, "invalid number %q", valueStr)
	}
	return v, nil
}

func parseList[T constraints.Integer | constraints.Float](valueStr string) ([]T, error) {
	if strings.TrimSpace(valueStr) == "" {
		return []T{}, nil
	}
	parts := strings.Split(valueStr, ",")
	values := make([]T, len(parts))
	for i, part := range parts {
		v, err := parseNumber[T](part)
		if err != nil {
			return nil, err
		}
		values[i] = v
	}
	return values, nil
}

// FormatValue formats a parameter value in the format accepted by Params.SetFromString.
func FormatValue(value any) string {
	switch v := value.(type) {
	case []string:
		return strings.Join(v, ",")
	case []int:
		return joinNumbers(v)
	case []float64:
		return joinNumbers(v)
	default:
		return fmt.Sprintf("%v", value)
	}
}

func joinNumbers[T constraints.Integer | constraints.Float](values []T) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprintf("%v", v)
	}
	return strings.Join(parts, ",")
}
