// Command exthost runs an executor through the external language call
// sequence, feeding it the result set of a database query.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/ha1tch/sqlext/pkg/extension"
	"github.com/ha1tch/sqlext/pkg/hostsim"
	"github.com/ha1tch/sqlext/pkg/version"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// paramList collects repeated -param flags.
type paramList []hostsim.Param

func (p *paramList) String() string {
	names := make([]string, len(*p))
	for i, x := range *p {
		names[i] = x.Name
	}
	return strings.Join(names, ",")
}

func (p *paramList) Set(s string) error {
	x, err := hostsim.ParseParam(s)
	if err != nil {
		return err
	}
	*p = append(*p, x)
	return nil
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("exthost", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		params paramList

		driver = fs.String("driver", "sqlite", "Input database driver: sqlite, sqlserver, postgres")
		dsn    = fs.String("dsn", ":memory:", "Input database connection string")
		setup  = fs.String("setup", "", "SQL statements run before the input query")
		query  = fs.String("query", "", "Input query (empty = no input rows)")

		script     = fs.String("script", "", "Executor type name, optionally module;Type")
		public     = fs.String("public", "", "Public library path")
		private    = fs.String("private", "", "Private library path")
		langParams = fs.String("params", "", "Language parameters (JSON or key=value;...)")
		inputName  = fs.String("input-name", "InputDataSet", "Input data set name")
		outputName = fs.String("output-name", "OutputDataSet", "Output data set name")
		batch      = fs.Int("batch", 0, "Rows per Execute call (0 = one call)")

		logLevel  = fs.String("log-level", "", "Log level (debug, info, warn, error, off)")
		logFormat = fs.String("log-format", "", "Log format (text, json)")

		showHelp     = fs.Bool("h", false, "Show help")
		showHelpL    = fs.Bool("help", false, "Show help")
		showVersion  = fs.Bool("v", false, "Show version")
		showVersionL = fs.Bool("version", false, "Show version")
	)
	fs.Var(&params, "param", "Scalar parameter name:TYPE=value, or name:TYPE for output (repeatable)")

	fs.Usage = func() {
		printUsage(stderr)
	}

	if err := fs.Parse(args); err != nil {
		return 2
	}

	if *showHelp || *showHelpL {
		printUsage(stdout)
		return 0
	}
	if *showVersion || *showVersionL {
		fmt.Fprintln(stdout, version.Full())
		return 0
	}

	lp, err := languageParams(*langParams, *logLevel, *logFormat)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 2
	}

	ext := extension.New(extension.WithLogOutput(stderr))
	if ext.Init(lp, "", *public, *private) != extension.Success {
		fmt.Fprintf(stderr, "error initialising extension: %v\n", ext.LastError())
		return 1
	}
	defer ext.Cleanup()

	in, err := readInput(*driver, *dsn, *setup, *query)
	if err != nil {
		fmt.Fprintf(stderr, "error reading input: %v\n", err)
		return 1
	}

	out, err := hostsim.Run(ext, in, hostsim.Invocation{
		Script:     *script,
		InputName:  *inputName,
		OutputName: *outputName,
		NumTasks:   1,
		Params:     params,
		BatchSize:  *batch,
	})
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}

	printOutput(stdout, out)
	return 0
}

// languageParams folds the log flags into the language parameters.
func languageParams(raw, level, format string) (string, error) {
	if level == "" && format == "" {
		return raw, nil
	}
	if strings.HasPrefix(strings.TrimSpace(raw), "{") {
		return "", fmt.Errorf("-log-level and -log-format cannot be combined with JSON -params")
	}
	parts := []string{}
	if raw = strings.Trim(strings.TrimSpace(raw), ";"); raw != "" {
		parts = append(parts, raw)
	}
	if level != "" {
		parts = append(parts, "log_level="+level)
	}
	if format != "" {
		parts = append(parts, "log_format="+format)
	}
	return strings.Join(parts, ";"), nil
}

func readInput(driver, dsn, setup, query string) (*hostsim.Input, error) {
	if query == "" {
		return nil, nil
	}
	db, name, err := hostsim.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	defer db.Close()
	// An in-memory sqlite database lives on a single connection.
	db.SetMaxOpenConns(1)

	ctx := context.Background()
	if setup != "" {
		if _, err := db.ExecContext(ctx, setup); err != nil {
			return nil, fmt.Errorf("setup: %w", err)
		}
	}
	return hostsim.Query(ctx, db, name, query)
}

func printOutput(w io.Writer, out *hostsim.Output) {
	if len(out.Columns) > 0 {
		fmt.Fprint(w, out.Table.String())
	}
	fmt.Fprintf(w, "(%d rows)\n", out.Table.NumRows())

	names := make([]string, 0, len(out.Params))
	for name := range out.Params {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		v := out.Params[name]
		if v == nil {
			fmt.Fprintf(w, "%s = NULL\n", name)
			continue
		}
		fmt.Fprintf(w, "%s = %v\n", name, v)
	}
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `exthost - run an executor the way the database engine does

Usage:
  exthost [options]

Input:
  --driver <name>          Input driver: sqlite, sqlserver, postgres (default: sqlite)
  --dsn <dsn>              Connection string (default: :memory:)
  --setup <sql>            Statements run before the query
  --query <sql>            Input query; its result set becomes the input data set

Executor:
  --script <name>          Executor type name, or module;Type
  --public <path>          Public library path
  --private <path>         Private library path (searched first)
  --params <str>           Language parameters, JSON or key=value;...
  --param <p>              name:TYPE=value (input-output) or name:TYPE (output), repeatable
  --input-name <name>      Input data set name (default: InputDataSet)
  --output-name <name>     Output data set name (default: OutputDataSet)
  --batch <n>              Rows per Execute call (default: 0, a single call)

Logging:
  --log-level <level>      debug, info, warn, error, off
  --log-format <format>    text, json

General:
  -h, --help               Show help
  -v, --version            Show version

Examples:
  exthost --private ./lib --script "samples.so;Samples.Doubler" \
    --setup "CREATE TABLE t(n INT); INSERT INTO t VALUES (1),(2)" \
    --query "SELECT n FROM t" --param "sum:INT"

Exit Codes:
  0  Success
  1  Runtime error
  2  CLI usage error
`)
}
