// Package params handles generic hyperparameter Overrides, a map[string]string
// parsed from the command line that is applied on top of the run configuration
// and the model's context parameters.
package params

import (
	"strconv"
	"strings"

	"github.com/gomlx/gomlx/ml/context"
	"github.com/pkg/errors"
)

// Overrides represent generic "key=value" configuration overrides.
type Overrides map[string]string

// FromConfigString creates overrides from the user's configuration string, a
// comma-separated list of `key=value` assignments. A key without `=` maps to
// the empty string, which boolean parsing interprets as true.
// See GetOr and PopOr to parse values from this map.
func FromConfigString(config string) Overrides {
	overrides := make(Overrides)
	if config == "" {
		return overrides
	}
	for _, part := range strings.Split(config, ",") {
		subParts := strings.SplitN(part, "=", 2) // Split into up to 2 parts to handle '=' in values.
		if len(subParts) == 1 {
			overrides[subParts[0]] = ""
		} else {
			overrides[subParts[0]] = subParts[1]
		}
	}
	return overrides
}

// PopOr is like GetOr, but it also deletes the retrieved key from the map.
// Anything left in the map after all known keys are popped is a sign of a
// misspelled option.
func PopOr[T interface {
	bool | int | float32 | float64 | string
}](overrides Overrides, key string, defaultValue T) (T, error) {
	value, err := GetOr(overrides, key, defaultValue)
	if err != nil {
		return value, err
	}
	delete(overrides, key)
	return value, nil
}

// GetOr attempts to parse an override to the given type if the key is present,
// or returns defaultValue if not.
//
// For bool types, a key without a value is interpreted as true.
func GetOr[T interface {
	bool | int | float32 | float64 | string
}](overrides Overrides, key string, defaultValue T) (T, error) {
	vAny := (any)(defaultValue)
	var t T
	toT := func(v any) T { return v.(T) }
	switch vAny.(type) {
	case string:
		if value, exists := overrides[key]; exists {
			return toT(value), nil
		}
	case int:
		if value, exists := overrides[key]; exists && value != "" {
			parsedValue, err := strconv.Atoi(value)
			if err != nil {
				return t, errors.Wrapf(err, "failed to parse override %s=%q to int", key, value)
			}
			return toT(parsedValue), nil
		}
	case float32:
		if value, exists := overrides[key]; exists && value != "" {
			parsedValue, err := strconv.ParseFloat(value, 32)
			if err != nil {
				return t, errors.Wrapf(err, "failed to parse override %s=%q to float", key, value)
			}
			return toT(float32(parsedValue)), nil
		}
	case float64:
		if value, exists := overrides[key]; exists && value != "" {
			parsedValue, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return t, errors.Wrapf(err, "failed to parse override %s=%q to float", key, value)
			}
			return toT(parsedValue), nil
		}
	case bool:
		if value, exists := overrides[key]; exists {
			if value == "" || strings.EqualFold(value, "true") || value == "1" {
				return toT(true), nil
			}
			if strings.EqualFold(value, "false") || value == "0" {
				return toT(false), nil
			}
			return defaultValue, errors.Errorf("failed to parse override %s=%q to bool", key, value)
		}
	}
	return defaultValue, nil
}

// ApplyToContext pops every override whose key matches a hyperparameter
// already registered in the root scope of ctx, parsing it to the parameter's
// type. Unknown keys are left in the map for the caller to reject or consume.
func ApplyToContext(overrides Overrides, ctx *context.Context) error {
	var err error
	ctx.EnumerateParams(func(scope, key string, valueAny any) {
		if err != nil {
			// If an error happened, skip the rest.
			return
		}
		if scope != context.RootScope {
			return
		}
		switch defaultValue := valueAny.(type) {
		case string:
			value, _ := PopOr(overrides, key, defaultValue)
			ctx.SetParam(key, value)
		case int:
			value, newErr := PopOr(overrides, key, defaultValue)
			if newErr != nil {
				err = errors.WithMessagef(newErr, "parsing hyperparameter %q (int)", key)
				return
			}
			ctx.SetParam(key, value)
		case float64:
			value, newErr := PopOr(overrides, key, defaultValue)
			if newErr != nil {
				err = errors.WithMessagef(newErr, "parsing hyperparameter %q (float64)", key)
				return
			}
			ctx.SetParam(key, value)
		case float32:
			value, newErr := PopOr(overrides, key, defaultValue)
			if newErr != nil {
				err = errors.WithMessagef(newErr, "parsing hyperparameter %q (float32)", key)
				return
			}
			ctx.SetParam(key, value)
		case bool:
			value, newErr := PopOr(overrides, key, defaultValue)
			if newErr != nil {
				err = errors.WithMessagef(newErr, "parsing hyperparameter %q (bool)", key)
				return
			}
			ctx.SetParam(key, value)
		default:
			err = errors.Errorf("hyperparameter %q is of unsupported type %T", key, defaultValue)
		}
	})
	return err
}
