// Package config assembles the run configuration.
//
// The four positional arguments (command file, threads, counters, log mode)
// always come from the command line. Flags may also be given defaults in a
// YAML file passed with --config. Environment variables are never read.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Limits accepted on the command line.
const (
	MaxThreads  = 4096
	MaxCounters = 100
)

// Config holds everything a run needs.
// The mapstructure tags are used by Viper to unmarshal flag and file values.
type Config struct {
	CommandFile string `mapstructure:"-" validate:"required"`
	Threads     int    `mapstructure:"-" validate:"min=1,max=4096"`
	Counters    int    `mapstructure:"-" validate:"min=0,max=100"`
	LogMode     int    `mapstructure:"-" validate:"oneof=0 1"`

	OutDir      string `mapstructure:"out" validate:"required"`
	DBPath      string `mapstructure:"db"`
	MetricsFile string `mapstructure:"metrics_file"`
	Verbose     bool   `mapstructure:"verbose"`
	Format      string `mapstructure:"format" validate:"oneof=text json"`
}

// LogEnabled reports whether the run writes stats logs.
func (c *Config) LogEnabled() bool {
	return c.LogMode == 1
}

// flagKeys maps flag names to config keys.
var flagKeys = map[string]string{
	"out":          "out",
	"db":           "db",
	"metrics-file": "metrics_file",
	"verbose":      "verbose",
	"format":       "format",
}

// New returns a viper instance with defaults set. Each command gets its own
// instance; the global viper is never used.
func New() *viper.Viper {
	v := viper.New()
	v.SetDefault("out", ".")
	v.SetDefault("format", "text")
	v.SetDefault("verbose", false)
	return v
}

// BindFlags binds every known flag present in flags to v.
func BindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for name, key := range flagKeys {
		f := flags.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag --%s: %w", name, err)
		}
	}
	return nil
}

// ReadFile merges a YAML config file into v. An empty path is a no-op.
// Unlike a search path lookup, a named file that is missing is an error.
func ReadFile(v *viper.Viper, path string) error {
	if path == "" {
		return nil
	}
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	return nil
}

// Load builds and validates a Config from v and the positional arguments
// <commandFile> <numThreads> <numCounters> <logMode>.
func Load(v *viper.Viper, args []string) (*Config, error) {
	if len(args) != 4 {
		return nil, &Error{Problems: []string{
			fmt.Sprintf("expected 4 arguments <commandFile> <numThreads> <numCounters> <logMode>, got %d", len(args)),
		}}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.CommandFile = args[0]
	var problems []string
	for _, a := range []struct {
		name string
		raw  string
		dst  *int
	}{
		{"numThreads", args[1], &cfg.Threads},
		{"numCounters", args[2], &cfg.Counters},
		{"logMode", args[3], &cfg.LogMode},
	} {
		n, err := ParseInt(a.name, a.raw)
		if err != nil {
			problems = append(problems, err.Error())
			continue
		}
		*a.dst = n
	}
	if len(problems) > 0 {
		return nil, &Error{Problems: problems}
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ParseInt parses a decimal positional argument.
func ParseInt(name, raw string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", name, raw)
	}
	return n, nil
}

var validate = validator.New()

// fieldNames maps struct fields to the names users typed.
var fieldNames = map[string]string{
	"CommandFile": "commandFile",
	"Threads":     "numThreads",
	"Counters":    "numCounters",
	"LogMode":     "logMode",
	"OutDir":      "--out",
	"Format":      "--format",
}

// Validate checks cfg against its limits.
func Validate(cfg *Config) error {
	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	problems := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		name := fieldNames[fe.Field()]
		if name == "" {
			name = fe.Field()
		}
		problems = append(problems, describe(name, fe))
	}
	return &Error{Problems: problems}
}

func describe(name string, fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return name + " is required"
	case "min":
		return fmt.Sprintf("%s must be >= %s, got %v", name, fe.Param(), fe.Value())
	case "max":
		return fmt.Sprintf("%s must be <= %s, got %v", name, fe.Param(), fe.Value())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %v", name, fe.Param(), fe.Value())
	default:
		return fmt.Sprintf("%s failed on the '%s' tag", name, fe.Tag())
	}
}

// Error lists every problem found in the configuration.
type Error struct {
	Problems []string
}

func (e *Error) Error() string {
	return "invalid configuration: " + strings.Join(e.Problems, "; ")
}

// IsConfigError reports whether err is a configuration error.
func IsConfigError(err error) bool {
	var ce *Error
	return errors.As(err, &ce)
}
