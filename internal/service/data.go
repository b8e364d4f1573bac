package service

import (
	"fmt"
	"math"
)

// String returns data[key] as a string.
// A missing key yields def; a present key of another type is an error.
func String(data map[string]any, key, def string) (string, error) {
	v, ok := data[key]
	if !ok || v == nil {
		return def, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s must be a string, got %T", ErrInvalidData, key, v)
	}
	return s, nil
}

// RequiredString is String without a default: a missing or empty key is an error.
func RequiredString(data map[string]any, key string) (string, error) {
	s, err := String(data, key, "")
	if err != nil {
		return "", err
	}
	if s == "" {
		return "", fmt.Errorf("%w: %s is required", ErrInvalidData, key)
	}
	return s, nil
}

// Int returns data[key] as an int.
//
// JSON numbers decode to float64, so whole float64 values are accepted.
func Int(data map[string]any, key string, def int) (int, error) {
	v, ok := data[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != math.Trunc(n) || n > math.MaxInt32 || n < math.MinInt32 {
			return 0, fmt.Errorf("%w: %s must be a whole number, got %v", ErrInvalidData, key, n)
		}
		return int(n), nil
	default:
		return 0, fmt.Errorf("%w: %s must be a number, got %T", ErrInvalidData, key, v)
	}
}

// Bool returns data[key] as a bool.
func Bool(data map[string]any, key string, def bool) (bool, error) {
	v, ok := data[key]
	if !ok || v == nil {
		return def, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("%w: %s must be a boolean, got %T", ErrInvalidData, key, v)
	}
	return b, nil
}
