package strategy

import (
	"fmt"
	"math"
	"strconv"

	"quantlab/internal/domain"
)

// Params are the user-supplied strategy parameters, as decoded from YAML or
// JSON. Values may arrive as int, float64 or string.
type Params map[string]any

// Int returns the integer parameter key, or def when absent.
func (p Params) Int(key string, def int) (int, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return def, nil
	}
	switch x := v.(type) {
	case int:
		return x, nil
	case int64:
		return int(x), nil
	case float64:
		if x != math.Trunc(x) {
			return 0, fmt.Errorf("%w: parameter %s = %v is not an integer", domain.ErrConfig, key, x)
		}
		return int(x), nil
	case string:
		n, err := strconv.Atoi(x)
		if err != nil {
			return 0, fmt.Errorf("%w: parameter %s = %q is not an integer", domain.ErrConfig, key, x)
		}
		return n, nil
	}
	return 0, fmt.Errorf("%w: parameter %s has type %T", domain.ErrConfig, key, v)
}

// Float returns the numeric parameter key, or def when absent.
func (p Params) Float(key string, def float64) (float64, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return def, nil
	}
	switch x := v.(type) {
	case float64:
		return x, nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case string:
		f, err := strconv.ParseFloat(x, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: parameter %s = %q is not a number", domain.ErrConfig, key, x)
		}
		return f, nil
	}
	return 0, fmt.Errorf("%w: parameter %s has type %T", domain.ErrConfig, key, v)
}

// Bool returns the boolean parameter key, or def when absent.
func (p Params) Bool(key string, def bool) (bool, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return def, nil
	}
	switch x := v.(type) {
	case bool:
		return x, nil
	case string:
		b, err := strconv.ParseBool(x)
		if err != nil {
			return false, fmt.Errorf("%w: parameter %s = %q is not a boolean", domain.ErrConfig, key, x)
		}
		return b, nil
	}
	return false, fmt.Errorf("%w: parameter %s has type %T", domain.ErrConfig, key, v)
}

// Clone returns a shallow copy.
func (p Params) Clone() Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
