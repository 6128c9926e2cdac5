// Package convert coerces loosely typed values from decoded JSON into the
// concrete types the graph store needs.
//
// Upstream feeds are not consistent about types: a namespace may arrive as
// 0, 0.0, "0" or json.Number("0"); a bot flag may be true, "true" or 1; a
// timestamp may be epoch seconds as a number or a string, or RFC 3339 text.
// Every function here returns a success boolean so callers can fall back to
// a default instead of failing the whole record.
//
// Key Functions:
//   - ToFloat64, ToInt64, ToInt: numeric coercion
//   - ToBool: boolean coercion
//   - ToString: string coercion
//   - ToTime: epoch seconds or RFC 3339 to time.Time
//
// Example:
//
//	ns, ok := convert.ToInt(raw["namespace"])
//	if !ok {
//		ns = 0
//	}
//
// ELI12:
//
// Imagine every friend writes their birthday a different way: "May 3rd",
// "5/3", "03-05". This package reads all of those and writes down one
// standard version. If it can't make sense of something, it says so instead
// of guessing.
package convert

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// ToFloat64 converts numeric values and numeric strings to float64.
// Returns (value, true) on success, (0, false) on failure.
//
// Supported types:
//   - float64, float32
//   - int, int32, int64, uint, uint32, uint64
//   - json.Number
//   - string (trimmed, then parsed; supports scientific notation)
//
// Example:
//
//	f, ok := ToFloat64(42)            // (42.0, true)
//	f, ok := ToFloat64("1.5e-3")      // (0.0015, true)
//	f, ok := ToFloat64(json.Number("7")) // (7.0, true)
//	f, ok := ToFloat64("seven")       // (0, false)
func ToFloat64(v interface{}) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case int32:
		return float64(val), true
	case uint:
		return float64(val), true
	case uint64:
		return float64(val), true
	case uint32:
		return float64(val), true
	case json.Number:
		if f, err := val.Float64(); err == nil {
			return f, true
		}
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

// ToInt64 converts numeric values and numeric strings to int64. Fractional
// values are truncated toward zero. NaN, infinities and values outside the
// int64 range are rejected.
//
// Example:
//
//	i, ok := ToInt64(3.7)   // (3, true)
//	i, ok := ToInt64("14")  // (14, true)
//	i, ok := ToInt64("1e3") // (1000, true)
//	i, ok := ToInt64(true)  // (0, false)
func ToInt64(v interface{}) (int64, bool) {
	switch val := v.(type) {
	case int64:
		return val, true
	case int:
		return int64(val), true
	case int32:
		return int64(val), true
	case uint:
		if uint64(val) > math.MaxInt64 {
			return 0, false
		}
		return int64(val), true
	case uint32:
		return int64(val), true
	case uint64:
		if val > math.MaxInt64 {
			return 0, false
		}
		return int64(val), true
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i, true
		}
	case string:
		if i, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64); err == nil {
			return i, true
		}
	}
	f, ok := ToFloat64(v)
	if !ok || !fitsInt64(f) {
		return 0, false
	}
	return int64(f), true
}

// twoTo63 is the smallest float64 above math.MaxInt64.
const twoTo63 = float64(1 << 63)

// fitsInt64 reports whether f truncates to a valid int64. NaN and ±Inf fail.
func fitsInt64(f float64) bool {
	return f >= -twoTo63 && f < twoTo63
}

// ToInt is ToInt64 narrowed to int.
func ToInt(v interface{}) (int, bool) {
	i, ok := ToInt64(v)
	if !ok || i > math.MaxInt || i < math.MinInt {
		return 0, false
	}
	return int(i), true
}
