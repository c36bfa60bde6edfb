package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ha1tch/sqlext/pkg/dataset"
	"github.com/ha1tch/sqlext/pkg/loader"
	"github.com/ha1tch/sqlext/pkg/sdk"
	"github.com/ha1tch/sqlext/pkg/version"
)

type echo struct{}

func (echo) Execute(_ *sdk.Context, in *dataset.Table, params sdk.Params) (*dataset.Table, error) {
	params["@count"] = int32(in.NumRows())
	return in, nil
}

func TestVersionAndHelp(t *testing.T) {
	var out, errOut bytes.Buffer
	assert.Equal(t, 0, run([]string{"-version"}, &out, &errOut))
	assert.Equal(t, version.Full()+"\n", out.String())

	out.Reset()
	assert.Equal(t, 0, run([]string{"-h"}, &out, &errOut))
	assert.Contains(t, out.String(), "Usage:")
}

func TestUsageErrors(t *testing.T) {
	tests := [][]string{
		{"-no-such-flag"},
		{"-param", "missingtype"},
		{"-params", `{"watch": true}`, "-log-level", "debug"},
	}
	for _, args := range tests {
		var out, errOut bytes.Buffer
		assert.Equal(t, 2, run(args, &out, &errOut), strings.Join(args, " "))
	}
}

func TestRuntimeErrors(t *testing.T) {
	var out, errOut bytes.Buffer
	assert.Equal(t, 1, run([]string{"-params", "log_level=loud"}, &out, &errOut))
	assert.Contains(t, errOut.String(), "error initialising extension")

	errOut.Reset()
	assert.Equal(t, 1, run([]string{"-driver", "oracle", "-query", "SELECT 1", "-log-level", "off"}, &out, &errOut))
	assert.Contains(t, errOut.String(), "error reading input")
}

func TestLanguageParams(t *testing.T) {
	lp, err := languageParams("", "", "")
	require.NoError(t, err)
	assert.Equal(t, "", lp)

	lp, err = languageParams("watch=true;", "debug", "json")
	require.NoError(t, err)
	assert.Equal(t, "watch=true;log_level=debug;log_format=json", lp)

	lp, err = languageParams(`{"watch": true}`, "", "")
	require.NoError(t, err)
	assert.Equal(t, `{"watch": true}`, lp)
}

func TestRunQueryThroughExecutor(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "exthost_test.so"), nil, 0o644))
	loader.RegisterModule("exthost_test.so", sdk.Catalog{
		"Tests.Echo": func() sdk.Executor { return echo{} },
	})
	defer loader.UnregisterModule("exthost_test.so")

	var out, errOut bytes.Buffer
	code := run([]string{
		"-private", dir,
		"-script", "exthost_test.so;Tests.Echo",
		"-setup", "CREATE TABLE t (n INT, label TEXT); INSERT INTO t VALUES (1, 'one'), (2, NULL), (3, 'three')",
		"-query", "SELECT n, label FROM t ORDER BY n",
		"-param", "count:INT",
		"-param", "note:NVARCHAR(10)=hi",
		"-batch", "2",
		"-log-level", "off",
	}, &out, &errOut)
	require.Equal(t, 0, code, errOut.String())

	text := out.String()
	assert.Contains(t, text, "label")
	assert.Contains(t, text, "three")
	assert.Contains(t, text, "(1 rows)")
	assert.Contains(t, text, "@count = 1")
	assert.Contains(t, text, "@note = hi")
}

func TestRunWithoutInput(t *testing.T) {
	var out, errOut bytes.Buffer
	code := run([]string{"-log-level", "off"}, &out, &errOut)
	require.Equal(t, 0, code, errOut.String())
	assert.Equal(t, "(0 rows)\n", out.String())
}
