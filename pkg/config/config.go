// Package config holds the process configuration written once by Init.
//
// The host passes four strings: the language parameters, the language path
// and the public and private library paths. Language parameters are either
// a JSON object or a list of key=value pairs separated by semicolons:
//
//	{"log_level": "debug", "watch": true, "skip_prefixes": ["gtest", "test_"]}
//	log_level=debug;watch=true;skip_prefixes=gtest,test_
//
// Recognised keys are log_level, log_format, module_pattern, skip_prefixes,
// watch and max_cached_modules. Unknown keys are kept in Extra.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/ha1tch/sqlext/pkg/errors"
	"github.com/ha1tch/sqlext/pkg/loader"
	"github.com/ha1tch/sqlext/pkg/log"
)

// Environment variables that override the language parameters.
const (
	EnvLogLevel  = "SQLEXT_LOG_LEVEL"
	EnvLogFormat = "SQLEXT_LOG_FORMAT"
)

// Config is the parsed process configuration.
type Config struct {
	LanguageParams     string
	LanguagePath       string
	PublicLibraryPath  string
	PrivateLibraryPath string

	LogLevel         log.Level
	LogFormat        log.Format
	ModulePattern    string
	SkipPrefixes     []string
	Watch            bool
	MaxCachedModules int

	Extra map[string]string
}

// DefaultConfig returns the configuration used when no parameters are set.
func DefaultConfig() Config {
	return Config{
		LogLevel:         log.LevelInfo,
		LogFormat:        log.FormatText,
		ModulePattern:    loader.DefaultPattern,
		SkipPrefixes:     append([]string(nil), loader.DefaultSkipPrefixes...),
		MaxCachedModules: loader.DefaultMaxCached,
		Extra:            make(map[string]string),
	}
}

// Load builds a configuration from the Init strings and the environment.
func Load(languageParams, languagePath, publicLibraryPath, privateLibraryPath string) (*Config, error) {
	cfg := DefaultConfig()
	cfg.LanguagePath = languagePath
	cfg.PublicLibraryPath = publicLibraryPath
	cfg.PrivateLibraryPath = privateLibraryPath

	if err := cfg.Parse(languageParams); err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Parse applies languageParams on top of c.
func (c *Config) Parse(languageParams string) error {
	c.LanguageParams = languageParams
	s := strings.TrimSpace(languageParams)
	if s == "" {
		return nil
	}

	if strings.HasPrefix(s, "{") {
		if !gjson.Valid(s) {
			return errors.New(errors.ErrCodeConfigParse, "language parameters are not valid JSON").
				WithOp("Config.Parse").Err()
		}
		var err error
		gjson.Parse(s).ForEach(func(key, value gjson.Result) bool {
			err = c.setJSON(key.String(), value)
			return err == nil
		})
		return err
	}

	for _, pair := range strings.Split(s, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			return errors.Newf(errors.ErrCodeConfigParse, "expected key=value, got %q", pair).
				WithOp("Config.Parse").Err()
		}
		if err := c.set(strings.TrimSpace(k), strings.TrimSpace(v)); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) setJSON(key string, value gjson.Result) error {
	switch strings.ToLower(key) {
	case "skip_prefixes":
		if value.IsArray() {
			c.SkipPrefixes = c.SkipPrefixes[:0]
			for _, p := range value.Array() {
				c.SkipPrefixes = append(c.SkipPrefixes, p.String())
			}
			return nil
		}
	case "watch":
		if value.Type == gjson.True || value.Type == gjson.False {
			c.Watch = value.Bool()
			return nil
		}
	case "max_cached_modules":
		if value.Type == gjson.Number {
			c.MaxCachedModules = int(value.Int())
			return nil
		}
	}
	return c.set(key, value.String())
}

func (c *Config) set(key, value string) error {
	switch strings.ToLower(key) {
	case "log_level":
		level, err := log.ParseLevel(value)
		if err != nil {
			return invalid(key, value, err)
		}
		c.LogLevel = level
	case "log_format":
		format, err := log.ParseFormat(value)
		if err != nil {
			return invalid(key, value, err)
		}
		c.LogFormat = format
	case "module_pattern":
		c.ModulePattern = value
	case "skip_prefixes":
		c.SkipPrefixes = c.SkipPrefixes[:0]
		for _, p := range strings.Split(value, ",") {
			if p = strings.TrimSpace(p); p != "" {
				c.SkipPrefixes = append(c.SkipPrefixes, p)
			}
		}
	case "watch":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return invalid(key, value, err)
		}
		c.Watch = b
	case "max_cached_modules":
		n, err := strconv.Atoi(value)
		if err != nil {
			return invalid(key, value, err)
		}
		c.MaxCachedModules = n
	default:
		if c.Extra == nil {
			c.Extra = make(map[string]string)
		}
		c.Extra[key] = value
	}
	return nil
}

func invalid(key, value string, cause error) error {
	return errors.Wrapf(cause, errors.ErrCodeConfigInvalid, "invalid value %q for %s", value, key).
		WithOp("Config.Parse").
		WithField("key", key).
		Err()
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		if err := c.set("log_level", v); err != nil {
			return err
		}
	}
	if v, ok := lookup(EnvLogFormat); ok && v != "" {
		if err := c.set("log_format", v); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks the parsed options.
func (c *Config) Validate() error {
	if c.ModulePattern == "" {
		return errors.New(errors.ErrCodeConfigInvalid, "module_pattern must not be empty").
			WithOp("Config.Validate").Err()
	}
	if _, err := filepath.Match(c.ModulePattern, ""); err != nil {
		return invalid("module_pattern", c.ModulePattern, err)
	}
	if c.MaxCachedModules < 0 {
		return errors.Newf(errors.ErrCodeConfigInvalid, "max_cached_modules must not be negative, got %d", c.MaxCachedModules).
			WithOp("Config.Validate").Err()
	}
	return nil
}

// SearchPaths returns the module search paths, private before public.
// Empty paths are left out.
func (c *Config) SearchPaths() []string {
	var out []string
	for _, p := range []string{c.PrivateLibraryPath, c.PublicLibraryPath} {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// LoggerConfig returns the logger configuration for these options.
func (c *Config) LoggerConfig() log.Config {
	cfg := log.DefaultConfig()
	cfg.DefaultLevel = c.LogLevel
	cfg.Format = c.LogFormat
	return cfg
}

// LoaderOptions returns the loader options for these options.
func (c *Config) LoaderOptions() []loader.Option {
	return []loader.Option{
		loader.WithPattern(c.ModulePattern),
		loader.WithSkipPrefixes(c.SkipPrefixes...),
		loader.WithMaxCached(c.MaxCachedModules),
	}
}
