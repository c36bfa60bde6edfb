// Package sdk defines the types shared between the extension and executor
// modules.
//
// Go plugins only satisfy a symbol type assertion when the types come from
// the same package path, so both the extension and every executor module
// import this package.
//
// A module exports its executors in a catalog:
//
//	package main
//
//	import (
//	    "github.com/ha1tch/sqlext/pkg/dataset"
//	    "github.com/ha1tch/sqlext/pkg/sdk"
//	)
//
//	type Doubler struct{}
//
//	func (Doubler) Execute(ctx *sdk.Context, in *dataset.Table, params sdk.Params) (*dataset.Table, error) {
//	    // ... build the output table ...
//	}
//
//	var Executors = sdk.Catalog{
//	    "Samples.Doubler": func() sdk.Executor { return Doubler{} },
//	}
//
// A module may instead export a single sdk.Factory variable named after the
// type, with dots replaced by underscores (Samples_Doubler).
package sdk

import (
	"strings"

	"github.com/ha1tch/sqlext/pkg/dataset"
	"github.com/ha1tch/sqlext/pkg/log"
	"github.com/ha1tch/sqlext/pkg/sqltype"
)

// CatalogSymbol is the symbol looked up first in a module.
const CatalogSymbol = "Executors"

// Params maps parameter names to values. Executors set output parameters by
// storing a value of the parameter's Go type under its name; a nil or
// missing entry is returned as null.
type Params map[string]any

// Context describes the invocation an executor runs in.
type Context struct {
	SessionID  string
	TaskID     int
	NumTasks   int
	InputName  string
	OutputName string
	Batch      int // 0 for the first Execute of a session

	Logger *log.FieldLogger
}

// Executor runs user logic against one input table.
type Executor interface {
	Execute(ctx *Context, input *dataset.Table, params Params) (*dataset.Table, error)
}

// Initializer is implemented by executors that want the session identity
// before the first Execute.
type Initializer interface {
	Init(sessionID string, taskID, numTasks int) error
}

// Cleaner is implemented by executors holding resources to release when the
// session ends.
type Cleaner interface {
	Cleanup() error
}

// OutputTyper is implemented by executors that force the wire type of some
// output columns. Keys are column names, compared without regard to case.
type OutputTyper interface {
	OutputColumnTypes() map[string]sqltype.Type
}

// Factory creates a fresh executor for a session.
type Factory func() Executor

// Catalog maps fully qualified type names to factories.
type Catalog map[string]Factory

// Lookup finds typeName, falling back to a case-insensitive match.
func (c Catalog) Lookup(typeName string) (Factory, bool) {
	if f, ok := c[typeName]; ok {
		return f, true
	}
	for name, f := range c {
		if strings.EqualFold(name, typeName) {
			return f, true
		}
	}
	return nil, false
}

// SymbolName returns the single-factory symbol for typeName.
func SymbolName(typeName string) string {
	return strings.NewReplacer(".", "_", "+", "_").Replace(typeName)
}
