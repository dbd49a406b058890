package backend

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

// Timestamps at or above this value are milliseconds; below it, seconds.
// 1e10 seconds is in the year 2286.
const millisecondThreshold = 10_000_000_000

// Value is a numeric sample value. Integral values are carried as int64 so
// backends that distinguish integer and float series store them as integers.
type Value struct {
	i     int64
	f     float64
	isInt bool
}

// NewValue returns v as an integer Value when it is exactly integral and fits
// in an int64, otherwise as a float Value holding v bit for bit.
func NewValue(v float64) Value {
	if v == math.Trunc(v) && v >= math.MinInt64 && v < math.MaxInt64 {
		return Value{i: int64(v), isInt: true}
	}
	return Value{f: v}
}

// IntValue returns an integer Value.
func IntValue(i int64) Value {
	return Value{i: i, isInt: true}
}

// FloatValue returns a float Value without integral detection.
func FloatValue(f float64) Value {
	return Value{f: f}
}

// Normalize returns the Value with integral floats converted to integers.
func (v Value) Normalize() Value {
	if v.isInt {
		return v
	}
	return NewValue(v.f)
}

// IsInt reports whether the value is an integer.
func (v Value) IsInt() bool { return v.isInt }

// Int returns the value as an int64, truncating floats.
func (v Value) Int() int64 {
	if v.isInt {
		return v.i
	}
	return int64(v.f)
}

// Float returns the value as a float64.
func (v Value) Float() float64 {
	if v.isInt {
		return float64(v.i)
	}
	return v.f
}

// Interface returns the value as an int64 or float64.
func (v Value) Interface() any {
	if v.isInt {
		return v.i
	}
	return v.f
}

func (v Value) String() string {
	if v.isInt {
		return strconv.FormatInt(v.i, 10)
	}
	return strconv.FormatFloat(v.f, 'g', -1, 64)
}

// IsFinite reports whether the value is neither NaN nor an infinity.
func (v Value) IsFinite() bool {
	return v.isInt || !(math.IsNaN(v.f) || math.IsInf(v.f, 0))
}

// MarshalJSON encodes the value as a JSON number. NaN and infinities have no
// JSON representation and encode as null.
func (v Value) MarshalJSON() ([]byte, error) {
	if !v.IsFinite() {
		return []byte("null"), nil
	}
	return []byte(v.String()), nil
}

// UnmarshalJSON decodes a JSON number, keeping integers exact.
func (v *Value) UnmarshalJSON(data []byte) error {
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("backend: decoding value: %w", err)
	}
	if i, err := n.Int64(); err == nil {
		*v = IntValue(i)
		return nil
	}
	f, err := n.Float64()
	if err != nil {
		return fmt.Errorf("backend: decoding value: %w", err)
	}
	*v = FloatValue(f)
	return nil
}

// Point is a single time-series data point.
type Point struct {
	Metric    string            `json:"metric"`
	Timestamp int64             `json:"timestamp"`
	Value     Value             `json:"value"`
	Tags      map[string]string `json:"tags"`
}

// Time converts Timestamp to a time.Time. Timestamps with more than ten
// digits are interpreted as Unix milliseconds, shorter ones as Unix seconds.
func (p Point) Time() time.Time {
	if p.Timestamp >= millisecondThreshold || p.Timestamp <= -millisecondThreshold {
		return time.UnixMilli(p.Timestamp)
	}
	return time.Unix(p.Timestamp, 0)
}

// Validate checks that the point can be written.
func (p Point) Validate() error {
	if p.Metric == "" {
		return fmt.Errorf("%w: empty metric name", ErrInvalidPoint)
	}
	if !p.Value.IsFinite() {
		return fmt.Errorf("%w: metric %q has non-finite value %v", ErrInvalidPoint, p.Metric, p.Value)
	}
	if len(p.Tags) == 0 {
		return fmt.Errorf("%w: metric %q has no tags", ErrInvalidPoint, p.Metric)
	}
	for k, val := range p.Tags {
		if k == "" || val == "" {
			return fmt.Errorf("%w: metric %q has empty tag %q=%q", ErrInvalidPoint, p.Metric, k, val)
		}
	}
	return nil
}
