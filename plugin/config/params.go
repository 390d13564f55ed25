package config

import (
	"fmt"
	"maps"
	"slices"
)

// Params holds the feature specific parameters of an entry. Integers are
// always stored as int64 and floats as float64, whatever the source format.
type Params map[string]any

// Has reports if key is set.
func (p Params) Has(key string) bool {
	_, ok := p[key]
	return ok
}

// String returns the string stored under key, or def if key is not set.
func (p Params) String(key, def string) (string, error) {
	v, ok := p[key]
	if !ok {
		return def, nil
	}
	s, ok := v.(string)
	if !ok {
		return def, p.typeError(key, "a string", v)
	}
	return s, nil
}

// Int returns the integer stored under key, or def if key is not set.
func (p Params) Int(key string, def int64) (int64, error) {
	v, ok := p[key]
	if !ok {
		return def, nil
	}
	switch n := v.(type) {
	case int64:
		return n, nil
	case float64:
		if n == float64(int64(n)) {
			return int64(n), nil
		}
	}
	return def, p.typeError(key, "an integer", v)
}

// Float returns the number stored under key, or def if key is not set.
func (p Params) Float(key string, def float64) (float64, error) {
	v, ok := p[key]
	if !ok {
		return def, nil
	}
	switch n := v.(type) {
	case int64:
		return float64(n), nil
	case float64:
		return n, nil
	}
	return def, p.typeError(key, "a number", v)
}

// Bool returns the boolean stored under key, or def if key is not set.
func (p Params) Bool(key string, def bool) (bool, error) {
	v, ok := p[key]
	if !ok {
		return def, nil
	}
	b, ok := v.(bool)
	if !ok {
		return def, p.typeError(key, "a boolean", v)
	}
	return b, nil
}

// Strings returns the list of strings stored under key, or def if key is not
// set.
func (p Params) Strings(key string, def []string) ([]string, error) {
	v, ok := p[key]
	if !ok {
		return def, nil
	}
	list, ok := v.([]any)
	if !ok {
		return def, p.typeError(key, "a list of strings", v)
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		s, ok := item.(string)
		if !ok {
			return def, p.typeError(key, "a list of strings", v)
		}
		out = append(out, s)
	}
	return out, nil
}

// Floats returns the list of numbers stored under key, or def if key is not
// set.
func (p Params) Floats(key string, def []float64) ([]float64, error) {
	v, ok := p[key]
	if !ok {
		return def, nil
	}
	list, ok := v.([]any)
	if !ok {
		return def, p.typeError(key, "a list of numbers", v)
	}
	out := make([]float64, 0, len(list))
	for _, item := range list {
		switch n := item.(type) {
		case int64:
			out = append(out, float64(n))
		case float64:
			out = append(out, n)
		default:
			return def, p.typeError(key, "a list of numbers", v)
		}
	}
	return out, nil
}

// Keys returns the sorted parameter names.
func (p Params) Keys() []string {
	return slices.Sorted(maps.Keys(p))
}

func (p Params) typeError(key, want string, got any) error {
	return fmt.Errorf("%w: params.%s: expected %s, got %T", ErrInvalidField, key, want, got)
}

// normalise converts decoded values to the small set of types Params
// guarantees: string, bool, int64, float64, []any and map[string]any.
func normalise(v any) any {
	switch t := v.(type) {
	case int:
		return int64(t)
	case int8:
		return int64(t)
	case int16:
		return int64(t)
	case int32:
		return int64(t)
	case uint:
		return int64(t)
	case uint8:
		return int64(t)
	case uint16:
		return int64(t)
	case uint32:
		return int64(t)
	case uint64:
		return int64(t)
	case float32:
		return float64(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = normalise(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = normalise(item)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[fmt.Sprint(k)] = normalise(item)
		}
		return out
	}
	return v
}
