package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ha1tch/sqlext/pkg/errors"
	"github.com/ha1tch/sqlext/pkg/log"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load("", "/lang", "/pub", "")
	require.NoError(t, err)
	assert.Equal(t, log.LevelInfo, cfg.LogLevel)
	assert.Equal(t, "*.so", cfg.ModulePattern)
	assert.Equal(t, []string{"gtest"}, cfg.SkipPrefixes)
	assert.False(t, cfg.Watch)
	assert.Equal(t, []string{"/pub"}, cfg.SearchPaths())
	assert.Equal(t, "/lang", cfg.LanguagePath)
}

func TestSearchPathsPrivateFirst(t *testing.T) {
	cfg, err := Load("", "", "/pub", "/priv")
	require.NoError(t, err)
	assert.Equal(t, []string{"/priv", "/pub"}, cfg.SearchPaths())
}

func TestParseKeyValue(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Parse("log_level=debug; log_format=json;module_pattern=*.plugin;"+
		"skip_prefixes=gtest, test_;watch=true;max_cached_modules=4;trace_id=abc"))

	assert.Equal(t, log.LevelDebug, cfg.LogLevel)
	assert.Equal(t, log.FormatJSON, cfg.LogFormat)
	assert.Equal(t, "*.plugin", cfg.ModulePattern)
	assert.Equal(t, []string{"gtest", "test_"}, cfg.SkipPrefixes)
	assert.True(t, cfg.Watch)
	assert.Equal(t, 4, cfg.MaxCachedModules)
	assert.Equal(t, "abc", cfg.Extra["trace_id"])
}

func TestParseJSON(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Parse(`{"log_level":"warn","watch":true,"skip_prefixes":["a","b"],"max_cached_modules":0,"owner":"ops"}`))

	assert.Equal(t, log.LevelWarn, cfg.LogLevel)
	assert.True(t, cfg.Watch)
	assert.Equal(t, []string{"a", "b"}, cfg.SkipPrefixes)
	assert.Equal(t, 0, cfg.MaxCachedModules)
	assert.Equal(t, "ops", cfg.Extra["owner"])

	cfg = DefaultConfig()
	require.NoError(t, cfg.Parse(`{"watch":"false","max_cached_modules":"12"}`))
	assert.False(t, cfg.Watch)
	assert.Equal(t, 12, cfg.MaxCachedModules)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		in   string
		code errors.Code
	}{
		{`{"log_level":`, errors.ErrCodeConfigParse},
		{"log_level", errors.ErrCodeConfigParse},
		{"log_level=loud", errors.ErrCodeConfigInvalid},
		{"log_format=xml", errors.ErrCodeConfigInvalid},
		{"watch=maybe", errors.ErrCodeConfigInvalid},
		{"max_cached_modules=many", errors.ErrCodeConfigInvalid},
		{`{"log_level":"loud"}`, errors.ErrCodeConfigInvalid},
	}
	for _, tt := range tests {
		cfg := DefaultConfig()
		err := cfg.Parse(tt.in)
		assert.True(t, errors.IsCode(err, tt.code), "%s: %v", tt.in, err)
	}
}

func TestValidate(t *testing.T) {
	_, err := Load("module_pattern=[", "", "", "")
	assert.True(t, errors.IsCode(err, errors.ErrCodeConfigInvalid))

	_, err = Load("max_cached_modules=-1", "", "", "")
	assert.True(t, errors.IsCode(err, errors.ErrCodeConfigInvalid))
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv(EnvLogLevel, "error")
	t.Setenv(EnvLogFormat, "json")

	cfg, err := Load("log_level=debug", "", "", "")
	require.NoError(t, err)
	assert.Equal(t, log.LevelError, cfg.LogLevel)
	assert.Equal(t, log.FormatJSON, cfg.LogFormat)

	lc := cfg.LoggerConfig()
	assert.Equal(t, log.LevelError, lc.DefaultLevel)
	assert.Equal(t, log.FormatJSON, lc.Format)
}

func TestBadEnvironment(t *testing.T) {
	t.Setenv(EnvLogLevel, "shouting")
	_, err := Load("", "", "", "")
	assert.True(t, errors.IsCode(err, errors.ErrCodeConfigInvalid))
}

func TestLoaderOptions(t *testing.T) {
	cfg := DefaultConfig()
	assert.Len(t, cfg.LoaderOptions(), 3)
}
