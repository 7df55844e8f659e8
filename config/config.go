// Package config loads daemon options with the precedence CLI flags > env
// vars (SIMPLENEO_*) > TOML file > defaults.
package config

import (
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// EnvPrefix is put in front of every field's env tag.
const EnvPrefix = "SIMPLENEO_"

var durationType = reflect.TypeOf(time.Duration(0))

// Options is everything the daemon can be told. Field names map to flags
// ("PowerCtrlPin" -> "power-ctrl-pin").
type Options struct {
	Config string

	Backend    string        `toml:"strand.backend" env:"BACKEND"`
	Chip       string        `toml:"strand.chip" env:"CHIP"`
	Pin        int           `toml:"strand.pin" env:"PIN"`
	Pixels     int           `toml:"strand.pixels" env:"PIXELS"`
	Order      string        `toml:"strand.order" env:"ORDER"`
	Speed      string        `toml:"strand.speed" env:"SPEED"`
	ClockHz    int           `toml:"strand.clock_hz" env:"CLOCK_HZ"`
	Reset      time.Duration `toml:"strand.reset" env:"RESET"`
	Brightness int           `toml:"strand.brightness" env:"BRIGHTNESS"`
	CPU        int           `toml:"realtime.cpu" env:"CPU"`
	Priority   int           `toml:"realtime.priority" env:"PRIORITY"`
	Mlock      bool          `toml:"realtime.mlock" env:"MLOCK"`

	Port        int    `toml:"server.port" env:"PORT"`
	MetricsAddr string `toml:"server.metrics_addr" env:"METRICS_ADDR"`

	PowerCtrlPin    int           `toml:"power.ctrl_pin" env:"POWER_CTRL_PIN"`
	PowerStatusPin  int           `toml:"power.status_pin" env:"POWER_STATUS_PIN"`
	PowerStatusWait time.Duration `toml:"power.status_wait" env:"POWER_STATUS_WAIT"`

	LogLevel string `toml:"logging.level" env:"LOG_LEVEL"`
}

// Backends are the line drivers Options.Backend can name.
var Backends = []string{"rpi", "periph", "gpiocdev", "sim"}

// Validate checks the values that can't be checked by their type alone.
func (o *Options) Validate() error {
	known := false
	for _, b := range Backends {
		if o.Backend == b {
			known = true
		}
	}
	if !known {
		return errors.Errorf("backend %q isn't one of %s", o.Backend, strings.Join(Backends, ", "))
	}
	if o.Pixels < 1 {
		return errors.Errorf("need at least one pixel, got %d", o.Pixels)
	}
	if o.Pin < 0 {
		return errors.Errorf("pin %d is negative", o.Pin)
	}
	if o.Brightness < 0 || o.Brightness > 255 {
		return errors.Errorf("brightness %d isn't between 0 and 255", o.Brightness)
	}
	if o.ClockHz < 0 {
		return errors.Errorf("clock %d Hz is negative", o.ClockHz)
	}
	return nil
}

// LoadConfig loads configuration with proper precedence: CLI args > env vars > config file.
// If cmd is provided, flags explicitly set via CLI will not be overwritten.
func LoadConfig(opts any, cmd *cobra.Command) error {
	v := reflect.ValueOf(opts).Elem()
	t := v.Type()

	// Build set of flags explicitly changed via CLI
	changedFlags := make(map[string]bool)
	if cmd != nil {
		cmd.Flags().VisitAll(func(f *pflag.Flag) {
			if f.Changed {
				changedFlags[f.Name] = true
			}
		})
	}

	var configPath string
	if f := v.FieldByName("Config"); f.IsValid() && f.Kind() == reflect.String {
		configPath = f.String()
	}

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil && !os.IsNotExist(err) {
			return errors.Wrapf(err, "couldn't read %s", configPath)
		}
		if err == nil {
			var config map[string]any
			if err := toml.Unmarshal(data, &config); err != nil {
				return errors.Wrapf(err, "couldn't parse TOML config %s", configPath)
			}
			for i := 0; i < v.NumField(); i++ {
				fieldType := t.Field(i)
				if changedFlags[FlagName(fieldType.Name)] {
					continue
				}
				if tomlPath := fieldType.Tag.Get("toml"); tomlPath != "" {
					if value := getNestedValue(config, tomlPath); value != nil {
						err := setFieldValue(v.Field(i), value)
						if err != nil {
							return errors.Wrapf(err, "bad value for %s", tomlPath)
						}
					}
				}
			}
		}
	}

	for i := 0; i < v.NumField(); i++ {
		fieldType := t.Field(i)
		if changedFlags[FlagName(fieldType.Name)] {
			continue
		}
		if envKey := fieldType.Tag.Get("env"); envKey != "" {
			if envValue := os.Getenv(EnvPrefix + envKey); envValue != "" {
				err := setFieldValueFromString(v.Field(i), envValue)
				if err != nil {
					return errors.Wrapf(err, "bad value for %s%s", EnvPrefix, envKey)
				}
			}
		}
	}

	return nil
}

// FlagName is the CLI flag LoadConfig expects for an Options field.
// Example: "LogLevel" -> "log-level", "CPU" -> "cpu".
func FlagName(fieldName string) string {
	var result []rune
	rs := []rune(fieldName)
	for i, r := range rs {
		if i > 0 && unicode.IsUpper(r) && (unicode.IsLower(rs[i-1]) || (i+1 < len(rs) && unicode.IsLower(rs[i+1]))) {
			result = append(result, '-')
		}
		result = append(result, unicode.ToLower(r))
	}
	return string(result)
}

// getNestedValue retrieves a value from nested map using dot notation.
func getNestedValue(data map[string]any, path string) any {
	parts := strings.Split(path, ".")
	current := data

	for i, part := range parts {
		if i == len(parts)-1 {
			return current[part]
		}
		if next, ok := current[part].(map[string]any); ok {
			current = next
		} else {
			return nil
		}
	}
	return nil
}

func setFieldValue(field reflect.Value, value any) error {
	if !field.CanSet() {
		return nil
	}
	if field.Type() == durationType {
		s, ok := value.(string)
		if !ok {
			return errors.Errorf("want a duration string like \"2s\", got %v", value)
		}
		return setFieldValueFromString(field, s)
	}

	switch field.Kind() {
	case reflect.String:
		s, ok := value.(string)
		if !ok {
			return errors.Errorf("want a string, got %v", value)
		}
		field.SetString(s)
	case reflect.Bool:
		b, ok := value.(bool)
		if !ok {
			return errors.Errorf("want true or false, got %v", value)
		}
		field.SetBool(b)
	case reflect.Int:
		switch i := value.(type) {
		case int64:
			field.SetInt(i)
		case int:
			field.SetInt(int64(i))
		default:
			return errors.Errorf("want an integer, got %v", value)
		}
	}
	return nil
}

func setFieldValueFromString(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}
	if field.Type() == durationType {
		d, err := time.ParseDuration(value)
		if err != nil {
			return err
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
			return err
		}
		field.SetBool(b)
	case reflect.Int:
		i, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(i)
	}
	return nil
}
