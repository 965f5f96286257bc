package schema

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"phishguard/apperr"
)

// DomainCheck reports whether value is an integer equal to 0 or 1.
func DomainCheck(value int64) bool {
	return value == 0 || value == 1
}

// Vectorize walks the mode's fields in order and builds the model input.
// Keys that are not part of the schema are ignored.
func Vectorize(mode Mode, raw map[string]interface{}) ([]float64, error) {
	fields := fieldsFor(mode)
	if fields == nil {
		return nil, apperr.InvalidMode(string(mode))
	}

	vector := make([]float64, len(fields))
	for i, field := range fields {
		value, ok := raw[field]
		if !ok {
			return nil, apperr.MissingField(field)
		}
		n, ok := coerceInt(value)
		if !ok || !DomainCheck(n) {
			return nil, apperr.InvalidFieldValue(field, value)
		}
		vector[i] = float64(n)
	}
	return vector, nil
}

// Bitmask packs a {0,1} vector, first field in the lowest bit.
func Bitmask(vector []float64) uint32 {
	var mask uint32
	for i, v := range vector {
		if v != 0 {
			mask |= 1 << uint(i)
		}
	}
	return mask
}

// FromBitmask is the inverse of Bitmask for the given mode.
func FromBitmask(mode Mode, mask uint32) []float64 {
	vector := make([]float64, Width(mode))
	for i := range vector {
		if mask&(1<<uint(i)) != 0 {
			vector[i] = 1
		}
	}
	return vector
}

func coerceInt(value interface{}) (int64, bool) {
	switch v := value.(type) {
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	case int:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		return floatToInt(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n, true
		}
		f, err := v.Float64()
		if err != nil {
			return 0, false
		}
		return floatToInt(f)
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

func floatToInt(f float64) (int64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	if f > math.MaxInt32 || f < math.MinInt32 {
		return 0, false
	}
	return int64(f), true
}
