// Package config loads oxd-server configuration from struct tag defaults,
// a YAML or JSON file, and environment variables. Values are resolved in
// priority order:
//
//	envDefault struct tags  (lowest priority)
//	YAML/JSON config file  (medium priority)
//	Environment variables  (highest priority)
//
// # Struct Tags
//
//   - `env:"VAR_NAME"` maps the field to an environment variable
//   - `envDefault:"value"` sets a default when the field is zero-valued
//   - `required:"true"` fails validation if the field remains zero after loading
//
// Fields also need `yaml` or `json` tags for file-based loading.
//
// # Usage
//
//	cfg := config.MustLoad[config.ServerConfig](
//	    config.New().WithEnvPrefix("OXD").WithFile("oxd-server.yml"),
//	)
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	oxderr "github.com/zaphod72/oxd/pkg/errors"
)

// time.Duration has Kind() == Int64 and needs its own parser.
var durationType = reflect.TypeOf(time.Duration(0))

// Loader resolves configuration into a struct. Create one with [New].
//
// Loader is not safe for concurrent use.
type Loader struct {
	envPrefix string
	filePath  string
}

// New returns a Loader that reads environment variables only.
func New() *Loader {
	return &Loader{}
}

// WithEnvPrefix prepends prefix and an underscore to every env tag, so
// WithEnvPrefix("OXD") reads `env:"PORT"` from OXD_PORT. The prefix is
// uppercased.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = strings.ToUpper(prefix)
	return l
}

// WithFile sets a .yaml, .yml or .json file to load. A missing file is
// not an error. Paths containing ".." are rejected by Load.
func (l *Loader) WithFile(path string) *Loader {
	l.filePath = path
	return l
}

// Load fills cfg, which must be a non-nil pointer to a struct, and then
// validates it: required tags first, then [Validator] if cfg implements
// it. All failures are [*oxderr.Error] values of kind
// [oxderr.KindInvalidConfiguration].
func (l *Loader) Load(cfg any) error {
	rv := reflect.ValueOf(cfg)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return oxderr.Newf(oxderr.KindInvalidConfiguration, "config: Load requires a non-nil pointer to a struct")
	}
	rv = rv.Elem()
	if rv.Kind() != reflect.Struct {
		return oxderr.Newf(oxderr.KindInvalidConfiguration, "config: Load requires a pointer to a struct")
	}

	if err := applyDefaults(rv); err != nil {
		return err
	}
	if l.filePath != "" {
		if err := l.loadFile(cfg); err != nil {
			return err
		}
	}
	if err := applyEnv(rv, l.envPrefix); err != nil {
		return err
	}
	return validate(cfg, rv)
}

// MustLoad loads a T and panics on failure. Meant for main.
func MustLoad[T any](loader *Loader) T {
	var cfg T
	if err := loader.Load(&cfg); err != nil {
		panic(fmt.Sprintf("config: MustLoad failed: %v", err))
	}
	return cfg
}

func (l *Loader) loadFile(cfg any) error {
	if strings.Contains(l.filePath, "..") {
		return oxderr.Newf(oxderr.KindInvalidConfiguration,
			"config: file path must not contain directory traversal (..) sequences")
	}

	data, err := os.ReadFile(l.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return oxderr.Wrapf(err, oxderr.KindInvalidConfiguration,
			"config: failed to read file %q", l.filePath)
	}

	switch ext := strings.ToLower(filepath.Ext(l.filePath)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return oxderr.Wrapf(err, oxderr.KindInvalidConfiguration,
				"config: failed to parse YAML file %q", l.filePath)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return oxderr.Wrapf(err, oxderr.KindInvalidConfiguration,
				"config: failed to parse JSON file %q", l.filePath)
		}
	default:
		return oxderr.Newf(oxderr.KindInvalidConfiguration,
			"config: unsupported file extension %q (use .yaml, .yml, or .json)", ext)
	}
	return nil
}

func isNested(field reflect.Value, sf reflect.StructField) bool {
	return field.Kind() == reflect.Struct && sf.Type != durationType
}

// applyDefaults sets zero-valued fields from their envDefault tags.
func applyDefaults(rv reflect.Value) error {
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		field, sf := rv.Field(i), rt.Field(i)
		if !field.CanSet() {
			continue
		}
		if isNested(field, sf) {
			if err := applyDefaults(field); err != nil {
				return err
			}
			continue
		}
		tag := sf.Tag.Get("envDefault")
		if tag == "" || !field.IsZero() {
			continue
		}
		if err := setField(field, tag); err != nil {
			return oxderr.Wrapf(err, oxderr.KindInvalidConfiguration,
				"config: failed to apply default for field %q", sf.Name)
		}
	}
	return nil
}

// applyEnv sets fields from environment variables. A nested struct's env
// tag extends the prefix of its children.
func applyEnv(rv reflect.Value, prefix string) error {
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		field, sf := rv.Field(i), rt.Field(i)
		if !field.CanSet() {
			continue
		}
		envTag := sf.Tag.Get("env")

		if isNested(field, sf) {
			if err := applyEnv(field, joinEnv(prefix, envTag)); err != nil {
				return err
			}
			continue
		}
		if envTag == "" {
			continue
		}

		envKey := joinEnv(prefix, envTag)
		val, ok := os.LookupEnv(envKey)
		if !ok {
			continue
		}
		if err := setField(field, val); err != nil {
			return oxderr.Wrapf(err, oxderr.KindInvalidConfiguration,
				"config: failed to set field %q from env var %q", sf.Name, envKey)
		}
	}
	return nil
}

func joinEnv(prefix, name string) string {
	switch {
	case prefix == "":
		return name
	case name == "":
		return prefix
	default:
		return prefix + "_" + name
	}
}

// setField parses value into field. Supported: string kinds, bool, signed
// ints, time.Duration, []string (comma separated), and pointers to any of
// these. Pointers are allocated on assignment, so a nil *bool still means
// "not configured".
func setField(field reflect.Value, value string) error {
	if field.Kind() == reflect.Pointer {
		elem := reflect.New(field.Type().Elem())
		if err := setField(elem.Elem(), value); err != nil {
			return err
		}
		field.Set(elem)
		return nil
	}

	if field.Type() == durationType {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("cannot parse duration %q: %w", value, err)
		}
		field.SetInt(int64(d))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("cannot parse bool %q: %w", value, err)
		}
		field.SetBool(b)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(value, 10, field.Type().Bits())
		if err != nil {
			return fmt.Errorf("cannot parse integer %q: %w", value, err)
		}
		field.SetInt(n)

	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice element type %s", field.Type().Elem().Kind())
		}
		var parts []string
		for _, p := range strings.Split(value, ",") {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
		slice := reflect.MakeSlice(field.Type(), len(parts), len(parts))
		for i, p := range parts {
			slice.Index(i).SetString(p)
		}
		field.Set(slice)

	default:
		return fmt.Errorf("unsupported field type %s", field.Kind())
	}
	return nil
}
