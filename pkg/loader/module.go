package loader

import (
	"os"
	"path/filepath"
	"plugin"
	"sort"
	"strings"
	"sync"

	"github.com/ha1tch/sqlext/pkg/errors"
	"github.com/ha1tch/sqlext/pkg/sdk"
)

// FileEnumerator lists regular files in a directory.
type FileEnumerator struct{}

// List returns the regular files in dir whose base name matches pattern,
// sorted by name. A missing directory yields no files.
func (FileEnumerator) List(dir, pattern string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	if _, err := filepath.Match(pattern, ""); err != nil {
		return nil, errors.Wrapf(err, errors.ErrCodeInvalidArgument, "bad module pattern %q", pattern).Err()
	}

	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if ok, _ := filepath.Match(pattern, e.Name()); !ok {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	sort.Strings(out)
	return out, nil
}

// CatalogModule serves factories from an sdk.Catalog.
type CatalogModule struct {
	Path    string
	Catalog sdk.Catalog
}

// Lookup implements Module.
func (m *CatalogModule) Lookup(typeName string) (sdk.Factory, error) {
	if f, ok := m.Catalog.Lookup(typeName); ok {
		return f, nil
	}
	return nil, errors.NotFound("executor type", typeName).WithField("module", m.Path).Err()
}

// PluginOpener opens Go plugins built with -buildmode=plugin.
type PluginOpener struct{}

// Open implements Opener.
func (PluginOpener) Open(path string) (Module, error) {
	p, err := plugin.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrCodeModuleLoad, "failed to open module %s", path).
			WithOp("Loader.Open").Err()
	}
	return &pluginModule{path: path, plugin: p}, nil
}

type pluginModule struct {
	path   string
	plugin *plugin.Plugin
}

// Lookup tries the module's catalog first, then a symbol named after the
// type.
func (m *pluginModule) Lookup(typeName string) (sdk.Factory, error) {
	if sym, err := m.plugin.Lookup(sdk.CatalogSymbol); err == nil {
		cat, ok := sym.(*sdk.Catalog)
		if !ok {
			return nil, errors.Newf(errors.ErrCodeModuleLoad, "%s symbol has wrong type: %T (expected *sdk.Catalog)",
				sdk.CatalogSymbol, sym).WithField("module", m.path).Err()
		}
		if f, ok := cat.Lookup(typeName); ok {
			return f, nil
		}
	}

	name := sdk.SymbolName(typeName)
	sym, err := m.plugin.Lookup(name)
	if err != nil {
		return nil, errors.NotFound("executor type", typeName).WithField("module", m.path).Err()
	}
	switch f := sym.(type) {
	case *sdk.Factory:
		return *f, nil
	case func() sdk.Executor:
		return f, nil
	default:
		return nil, errors.Newf(errors.ErrCodeModuleLoad, "%s symbol has wrong type: %T (expected sdk.Factory)", name, sym).
			WithField("module", m.path).Err()
	}
}

var (
	staticMu      sync.RWMutex
	staticModules = make(map[string]sdk.Catalog)
)

// RegisterModule makes a catalog available to StaticOpener under name.
// Registering the same name again replaces the catalog.
func RegisterModule(name string, cat sdk.Catalog) {
	staticMu.Lock()
	defer staticMu.Unlock()
	staticModules[strings.ToLower(name)] = cat
}

// UnregisterModule removes a catalog registered with RegisterModule.
func UnregisterModule(name string) {
	staticMu.Lock()
	defer staticMu.Unlock()
	delete(staticModules, strings.ToLower(name))
}

// StaticOpener opens modules registered with RegisterModule. The base name
// of the path selects the catalog, so a registered module still has to be
// present as a file under a search path to be a candidate.
type StaticOpener struct{}

// Open implements Opener.
func (StaticOpener) Open(path string) (Module, error) {
	staticMu.RLock()
	cat, ok := staticModules[strings.ToLower(filepath.Base(path))]
	staticMu.RUnlock()
	if !ok {
		return nil, errors.Newf(errors.ErrCodeModuleLoad, "no registered module for %s", path).
			WithOp("Loader.Open").Err()
	}
	return &CatalogModule{Path: path, Catalog: cat}, nil
}

// Chain tries each opener in turn and returns the first module opened.
func Chain(openers ...Opener) Opener {
	return OpenerFunc(func(path string) (Module, error) {
		var last error
		for _, o := range openers {
			m, err := o.Open(path)
			if err == nil {
				return m, nil
			}
			last = err
		}
		if last == nil {
			last = errors.Newf(errors.ErrCodeModuleLoad, "no opener for %s", path).Err()
		}
		return nil, last
	})
}
