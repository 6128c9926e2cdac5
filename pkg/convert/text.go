package convert

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// ToString returns strings as-is and formats numbers without exponent
// notation for integers. Other types, including nil, fail.
//
// Example:
//
//	s, ok := ToString("Alice")           // ("Alice", true)
//	s, ok := ToString(float64(12345))    // ("12345", true)
//	s, ok := ToString(nil)               // ("", false)
func ToString(v interface{}) (string, bool) {
	switch val := v.(type) {
	case string:
		return val, true
	case json.Number:
		return val.String(), true
	case float64:
		if val == math.Trunc(val) && math.Abs(val) < 1e15 {
			return strconv.FormatInt(int64(val), 10), true
		}
		return strconv.FormatFloat(val, 'f', -1, 64), true
	case int, int32, int64, uint, uint32, uint64:
		i, _ := ToInt64(val)
		return strconv.FormatInt(i, 10), true
	}
	return "", false
}

// ToBool accepts booleans, the strings understood by strconv.ParseBool, and
// numbers (non-zero is true).
//
// Example:
//
//	b, ok := ToBool("true") // (true, true)
//	b, ok := ToBool(0)      // (false, true)
//	b, ok := ToBool("yes")  // (false, false)
func ToBool(v interface{}) (bool, bool) {
	switch val := v.(type) {
	case bool:
		return val, true
	case string:
		if b, err := strconv.ParseBool(strings.TrimSpace(val)); err == nil {
			return b, true
		}
		return false, false
	}
	if f, ok := ToFloat64(v); ok && !math.IsNaN(f) {
		return f != 0, true
	}
	return false, false
}

// ToTime interprets numbers (and numeric strings) as epoch seconds, with
// fractional seconds kept to the nanosecond, and other strings as RFC 3339.
// Results are in UTC.
//
// Example:
//
//	t, ok := ToTime(1709294400)              // 2024-03-01T12:00:00Z
//	t, ok := ToTime("2024-03-01T12:00:00Z")  // same instant
//	t, ok := ToTime("yesterday")             // (zero, false)
func ToTime(v interface{}) (time.Time, bool) {
	if s, ok := v.(string); ok {
		s = strings.TrimSpace(s)
		if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return ts.UTC(), true
		}
	}
	f, ok := ToFloat64(v)
	if !ok || !fitsInt64(f) {
		return time.Time{}, false
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(math.Round(frac*1e9))).UTC(), true
}
