// Package convert coerces loosely typed exchange values into float64.
package convert

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// ToFloat64 converts strings and numeric types to float64.
// Unparseable, missing and non-finite values yield 0.
func ToFloat64(v any) float64 {
	var f float64
	switch t := v.(type) {
	case nil:
		return 0
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	case int32:
		f = float64(t)
	case uint64:
		f = float64(t)
	case json.Number:
		f, _ = t.Float64()
	case string:
		f = ParseFloat(t)
	default:
		return 0
	}
	return Finite(f)
}

// ParseFloat parses s, returning 0 on any failure.
func ParseFloat(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return Finite(f)
}

// Finite maps NaN and ±Inf to 0.
func Finite(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

// PctChange returns (current-ref)/ref*100, or false when ref is not positive.
func PctChange(current, ref float64) (float64, bool) {
	if ref <= 0 {
		return 0, false
	}
	return Finite((current - ref) / ref * 100), true
}
