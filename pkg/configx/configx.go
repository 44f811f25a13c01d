// Package configx provides typed read access to viper-backed configuration.
//
// Unlike viper's own getters, which silently coerce wrong-typed values to a
// zero value, these accessors fail loudly. A misconfigured gateway should
// refuse to start rather than run with an empty issuer or a disabled flag
// someone thought they enabled.
package configx

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/viper"
)

var (
	// ErrMissingKey reports a configuration key with no value set.
	ErrMissingKey = errors.New("configx: missing key")

	// ErrWrongType reports a configuration value of an unexpected type.
	ErrWrongType = errors.New("configx: wrong type")
)

// Accessor wraps a viper instance with loud, typed getters.
type Accessor struct {
	v *viper.Viper
}

func New(v *viper.Viper) *Accessor {
	return &Accessor{v: v}
}

// String returns the value at key, failing if it is absent or not a string.
func (a *Accessor) String(key string) (string, error) {
	raw := a.v.Get(key)
	if raw == nil {
		return "", fmt.Errorf("%w: %q", ErrMissingKey, key)
	}

	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("%w: %q is %T, want string", ErrWrongType, key, raw)
	}

	return s, nil
}

// Bool returns the value at key, failing if it is absent or not a bool.
// Environment overrides arrive as strings, so "true"/"false" are accepted.
func (a *Accessor) Bool(key string) (bool, error) {
	raw := a.v.Get(key)
	if raw == nil {
		return false, fmt.Errorf("%w: %q", ErrMissingKey, key)
	}

	switch v := raw.(type) {
	case bool:
		return v, nil
	case string:
		switch v {
		case "true", "1":
			return true, nil
		case "false", "0":
			return false, nil
		}
	}

	return false, fmt.Errorf("%w: %q is %T, want bool", ErrWrongType, key, raw)
}

// Int returns the value at key, failing if it is absent or not an
// integer. Environment overrides arrive as strings, so numeric strings
// are accepted.
func (a *Accessor) Int(key string) (int, error) {
	raw := a.v.Get(key)
	if raw == nil {
		return 0, fmt.Errorf("%w: %q", ErrMissingKey, key)
	}

	switch v := raw.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if v == float64(int(v)) {
			return int(v), nil
		}
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n, nil
		}
	}

	return 0, fmt.Errorf("%w: %q is %T, want int", ErrWrongType, key, raw)
}

// Strings returns the value at key as a list of strings, failing if it is
// absent or any element is not a string.
func (a *Accessor) Strings(key string) ([]string, error) {
	raw := a.v.Get(key)
	if raw == nil {
		return nil, fmt.Errorf("%w: %q", ErrMissingKey, key)
	}

	switch v := raw.(type) {
	case []string:
		return v, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			s, ok := e.(string)
			if !ok {
				return nil, fmt.Errorf("%w: %q contains %T, want string", ErrWrongType, key, e)
			}
			out = append(out, s)
		}
		return out, nil
	}

	return nil, fmt.Errorf("%w: %q is %T, want list of strings", ErrWrongType, key, raw)
}
