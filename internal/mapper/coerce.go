package mapper

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/nerrad567/gray-logic-tsdbsink/internal/backend"
)

func asString(v any) (string, error) {
	switch val := v.(type) {
	case string:
		return val, nil
	case json.Number:
		return val.String(), nil
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64), nil
	case int:
		return strconv.Itoa(val), nil
	case int64:
		return strconv.FormatInt(val, 10), nil
	case bool:
		return strconv.FormatBool(val), nil
	default:
		return "", fmt.Errorf("%w: %T is not a string", ErrWrongType, v)
	}
}

func asInt64(v any) (int64, error) {
	switch val := v.(type) {
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i, nil
		}
		f, err := val.Float64()
		if err != nil {
			return 0, fmt.Errorf("%w: %q is not an integer", ErrWrongType, val)
		}
		return integralFloat(f)
	case int64:
		return val, nil
	case int:
		return int64(val), nil
	case int32:
		return int64(val), nil
	case float64:
		return integralFloat(val)
	case string:
		return asInt64(json.Number(val))
	default:
		return 0, fmt.Errorf("%w: %T is not an integer", ErrWrongType, v)
	}
}

func integralFloat(f float64) (int64, error) {
	if f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, fmt.Errorf("%w: %v is not an integer", ErrWrongType, f)
	}
	return int64(f), nil
}

func asValue(v any) (backend.Value, error) {
	switch val := v.(type) {
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return backend.IntValue(i), nil
		}
		f, err := val.Float64()
		if err != nil {
			return backend.Value{}, fmt.Errorf("%w: %q is not numeric", ErrWrongType, val)
		}
		return finiteValue(f)
	case float64:
		return finiteValue(val)
	case float32:
		return finiteValue(float64(val))
	case int:
		return backend.IntValue(int64(val)), nil
	case int64:
		return backend.IntValue(val), nil
	case int32:
		return backend.IntValue(int64(val)), nil
	case string:
		return asValue(json.Number(val))
	default:
		return backend.Value{}, fmt.Errorf("%w: %T is not numeric", ErrWrongType, v)
	}
}

// finiteValue rejects NaN and infinities, which line protocol cannot carry.
func finiteValue(f float64) (backend.Value, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return backend.Value{}, fmt.Errorf("%w: %v is not a finite number", ErrWrongType, f)
	}
	return backend.NewValue(f), nil
}

func asTags(v any) (map[string]string, error) {
	switch val := v.(type) {
	case nil:
		return map[string]string{}, nil
	case map[string]string:
		out := make(map[string]string, len(val))
		for k, s := range val {
			out[k] = s
		}
		return out, nil
	case map[string]any:
		out := make(map[string]string, len(val))
		for k, raw := range val {
			s, err := asString(raw)
			if err != nil {
				return nil, fmt.Errorf("tag %q: %w", k, err)
			}
			out[k] = s
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %T is not a tag map", ErrWrongType, v)
	}
}
