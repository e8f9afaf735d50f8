package config

import (
	"reflect"

	oxderr "github.com/zaphod72/oxd/pkg/errors"
)

// Validator is implemented by configuration structs that need checks
// beyond required tags. Load calls Validate after required fields pass.
// Errors that are not already [*oxderr.Error] are wrapped as
// [oxderr.KindInvalidConfiguration].
type Validator interface {
	Validate() error
}

func validate(cfg any, rv reflect.Value) error {
	if err := validateRequired(rv, ""); err != nil {
		return err
	}
	if v, ok := cfg.(Validator); ok {
		if err := v.Validate(); err != nil {
			if _, isOxdErr := oxderr.AsError(err); isOxdErr {
				return err
			}
			return oxderr.Wrapf(err, oxderr.KindInvalidConfiguration, "config: custom validation failed")
		}
	}
	return nil
}

// validateRequired checks `required:"true"` fields. path is the dotted
// field path used in the reason, e.g. "Postgres.Host".
func validateRequired(rv reflect.Value, path string) error {
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		field, sf := rv.Field(i), rt.Field(i)
		if !field.CanSet() {
			continue
		}
		fieldPath := sf.Name
		if path != "" {
			fieldPath = path + "." + sf.Name
		}
		if field.Kind() == reflect.Struct {
			if err := validateRequired(field, fieldPath); err != nil {
				return err
			}
			continue
		}
		if sf.Tag.Get("required") == "true" && field.IsZero() {
			return oxderr.Newf(oxderr.KindInvalidConfiguration,
				"config: required field %q is empty", fieldPath)
		}
	}
	return nil
}
