package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"math"
	"strconv"
)

// normalize brings an input into the generic JSON shape the validators walk:
// map[string]any, []any, string, bool, json.Number and nil. Raw bytes are
// decoded; typed Go values go through their JSON encoding.
func normalize(input any) (any, error) {
	switch v := input.(type) {
	case []byte:
		return decodeJSON(v)
	case json.RawMessage:
		return decodeJSON(v)
	case nil, bool, string, json.Number, float64, float32, int, int64, int32, uint, uint64, uint32,
		map[string]any, []any:
		return v, nil
	}
	b, err := json.Marshal(input)
	if err != nil {
		return nil, fail("", ReasonWrongType, "cannot encode %T: %v", input, err)
	}
	return decodeJSON(b)
}

func decodeJSON(b []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fail("", ReasonWrongType, "invalid JSON: %v", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, fail("", ReasonWrongType, "trailing data after JSON value")
	}
	return v, nil
}

func join(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

func index(path string, i int) string {
	return path + "[" + strconv.Itoa(i) + "]"
}

func kindOf(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case string:
		return "string"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	}
	if _, ok := toFloat(v); ok {
		return "number"
	}
	return "unsupported"
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := strconv.ParseFloat(n.String(), 64)
		if err != nil && !errors.Is(err, strconv.ErrRange) {
			return 0, false
		}
		return f, true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case uint32:
		return float64(n), true
	}
	return 0, false
}

// object is a decoded JSON object together with its path.
type object struct {
	path string
	m    map[string]any
}

func asObject(path string, v any) (object, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return object{}, fail(path, ReasonWrongType, "expected object, got %s", kindOf(v))
	}
	return object{path: path, m: m}, nil
}

func (o object) get(key string) (any, error) {
	v, ok := o.m[key]
	if !ok {
		return nil, &SchemaError{Field: join(o.path, key), Reason: ReasonMissing}
	}
	return v, nil
}

func (o object) has(key string) bool {
	_, ok := o.m[key]
	return ok
}

func (o object) child(key string) (object, error) {
	v, err := o.get(key)
	if err != nil {
		return object{}, err
	}
	return asObject(join(o.path, key), v)
}

func (o object) str(key string) (string, error) {
	v, err := o.get(key)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", fail(join(o.path, key), ReasonWrongType, "expected string, got %s", kindOf(v))
	}
	return s, nil
}

func (o object) boolean(key string) (bool, error) {
	v, err := o.get(key)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, fail(join(o.path, key), ReasonWrongType, "expected boolean, got %s", kindOf(v))
	}
	return b, nil
}

func (o object) array(key string) ([]any, error) {
	v, err := o.get(key)
	if err != nil {
		return nil, err
	}
	a, ok := v.([]any)
	if !ok {
		return nil, fail(join(o.path, key), ReasonWrongType, "expected array, got %s", kindOf(v))
	}
	return a, nil
}

// number accepts any finite JSON number.
func (o object) number(key string) (float64, error) {
	v, err := o.get(key)
	if err != nil {
		return 0, err
	}
	f, ok := toFloat(v)
	if !ok {
		return 0, fail(join(o.path, key), ReasonWrongType, "expected number, got %s", kindOf(v))
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fail(join(o.path, key), ReasonInvariantViolated, "number is not finite")
	}
	return f, nil
}

// integer accepts a number without fractional part.
func (o object) integer(key string) (int64, error) {
	f, err := o.number(key)
	if err != nil {
		return 0, err
	}
	if n, ok := o.m[key].(json.Number); ok {
		if i, err := n.Int64(); err == nil {
			return i, nil
		}
	}
	// float64(math.MaxInt64) rounds up to 2^63, so the upper bound is exclusive.
	if f != math.Trunc(f) || f >= 1<<63 || f < -1<<63 {
		return 0, fail(join(o.path, key), ReasonWrongType, "expected integer, got %v", f)
	}
	return int64(f), nil
}

// unsigned accepts a non-negative integer, keeping full 64-bit precision for
// serial numbers.
func (o object) unsigned(key string) (uint64, error) {
	v, err := o.get(key)
	if err != nil {
		return 0, err
	}
	if n, ok := v.(json.Number); ok {
		if u, err := strconv.ParseUint(n.String(), 10, 64); err == nil {
			return u, nil
		}
	}
	if u, ok := v.(uint64); ok {
		return u, nil
	}
	i, err := o.integer(key)
	if err != nil {
		return 0, err
	}
	if i < 0 {
		return 0, fail(join(o.path, key), ReasonInvariantViolated, "must not be negative, got %d", i)
	}
	return uint64(i), nil
}
