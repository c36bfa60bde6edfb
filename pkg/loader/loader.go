// Package loader finds and instantiates executors in dynamically loaded
// modules.
//
// A type is named either "module;Namespace.Type" or "Namespace.Type". The
// module part restricts the search to files matching it under the search
// paths; without it every module matching the configured pattern is tried.
// Search paths are visited in order, so callers place the private library
// path before the public one.
package loader

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ha1tch/sqlext/pkg/errors"
	"github.com/ha1tch/sqlext/pkg/log"
	"github.com/ha1tch/sqlext/pkg/sdk"
)

// Enumerator lists candidate module files in a directory. pattern is a
// filepath.Match pattern applied to the base name.
type Enumerator interface {
	List(dir, pattern string) ([]string, error)
}

// Module is an opened module.
type Module interface {
	// Lookup returns the factory for typeName. A module that does not
	// contain the type returns an error with ErrCodeNotFound.
	Lookup(typeName string) (sdk.Factory, error)
}

// Opener opens a module file.
type Opener interface {
	Open(path string) (Module, error)
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc func(path string) (Module, error)

// Open calls f(path).
func (f OpenerFunc) Open(path string) (Module, error) { return f(path) }

// Default option values.
const (
	DefaultPattern   = "*.so"
	DefaultMaxCached = 256
)

// DefaultSkipPrefixes are file name prefixes never opened as modules.
var DefaultSkipPrefixes = []string{"gtest"}

// Loader resolves qualified type names to factories.
type Loader struct {
	enum   Enumerator
	opener Opener
	logger *log.Logger

	pattern string
	skip    []string
	cache   *Cache
}

// Option configures a Loader.
type Option func(*Loader)

// WithPattern sets the module file pattern used when a name has no module
// part. Default is *.so.
func WithPattern(pattern string) Option {
	return func(l *Loader) {
		if pattern != "" {
			l.pattern = pattern
		}
	}
}

// WithSkipPrefixes sets the file name prefixes that are never opened.
func WithSkipPrefixes(prefixes ...string) Option {
	return func(l *Loader) {
		l.skip = prefixes
	}
}

// WithMaxCached bounds the resolution cache. Zero disables caching.
func WithMaxCached(n int) Option {
	return func(l *Loader) {
		l.cache = NewCache(n)
	}
}

// New creates a loader. A nil enumerator lists the file system and a nil
// logger uses log.Default().
func New(enum Enumerator, opener Opener, logger *log.Logger, opts ...Option) *Loader {
	if enum == nil {
		enum = FileEnumerator{}
	}
	if logger == nil {
		logger = log.Default()
	}
	l := &Loader{
		enum:    enum,
		opener:  opener,
		logger:  logger,
		pattern: DefaultPattern,
		skip:    DefaultSkipPrefixes,
		cache:   NewCache(DefaultMaxCached),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Cache returns the resolution cache.
func (l *Loader) Cache() *Cache { return l.cache }

// ParseName splits a qualified name into its module and type parts.
func ParseName(qualified string) (module, typeName string) {
	module, typeName, ok := strings.Cut(qualified, ";")
	if !ok {
		return "", strings.TrimSpace(qualified)
	}
	return strings.TrimSpace(module), strings.TrimSpace(typeName)
}

// Locate returns the candidate module files under searchPaths, in path
// order. With an empty module every file matching the loader pattern is a
// candidate; otherwise only files matching module.
func (l *Loader) Locate(searchPaths []string, module string) ([]string, error) {
	pattern := l.pattern
	if module != "" {
		pattern = module
	}

	var out []string
	for _, dir := range searchPaths {
		if dir == "" {
			continue
		}
		files, err := l.enum.List(dir, pattern)
		if err != nil {
			l.logger.Loader().Warn("failed to list module directory",
				"path", dir,
				"error", err.Error(),
			)
			continue
		}
		for _, f := range files {
			if l.skipped(f) {
				continue
			}
			out = append(out, f)
		}
	}

	if len(out) == 0 {
		return nil, errors.NotFound("module", fmt.Sprintf("%s under %s", pattern, strings.Join(searchPaths, ", "))).
			WithOp("Loader.Locate").Err()
	}
	return out, nil
}

func (l *Loader) skipped(path string) bool {
	base := strings.ToLower(filepath.Base(path))
	for _, p := range l.skip {
		if p != "" && strings.HasPrefix(base, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

// Resolve opens the candidates in order and returns the factory of the
// first one exposing the type named by qualified. Candidates that fail to
// open are logged and skipped.
func (l *Loader) Resolve(qualified string, candidates []string) (sdk.Factory, error) {
	_, typeName := ParseName(qualified)
	if typeName == "" {
		return nil, errors.InvalidArgument("empty executor type name in %q", qualified).
			WithOp("Loader.Resolve").Err()
	}
	if l.opener == nil {
		return nil, errors.Internal("loader has no opener").WithOp("Loader.Resolve").Err()
	}

	for _, path := range candidates {
		m, err := l.opener.Open(path)
		if err != nil {
			l.logger.Loader().Warn("skipping module",
				"path", path,
				"error", err.Error(),
			)
			continue
		}
		f, err := m.Lookup(typeName)
		if err != nil {
			if !errors.IsCode(err, errors.ErrCodeNotFound) {
				l.logger.Loader().Warn("module lookup failed",
					"path", path,
					"type", typeName,
					"error", err.Error(),
				)
			}
			continue
		}
		l.logger.Loader().Debug("resolved executor",
			"type", typeName,
			"path", path,
		)
		return f, nil
	}

	return nil, errors.NotFound("executor type", typeName).
		WithOp("Loader.Resolve").
		WithField("hint", "name the type as Module;Namespace.Type or Namespace.Type").
		Err()
}

// Load locates and resolves qualified under searchPaths, consulting the
// resolution cache first.
func (l *Loader) Load(searchPaths []string, qualified string) (sdk.Factory, error) {
	module, _ := ParseName(qualified)
	candidates, err := l.Locate(searchPaths, module)
	if err != nil {
		return nil, err
	}
	return l.cache.Get(qualified, candidates, func() (sdk.Factory, error) {
		return l.Resolve(qualified, candidates)
	})
}

// Instantiate calls f and converts a nil result or a panic into an
// ErrCodeInstantiation error.
func Instantiate(f sdk.Factory) (exec sdk.Executor, err error) {
	if f == nil {
		return nil, errors.New(errors.ErrCodeInstantiation, "no executor factory").
			WithOp("Loader.Instantiate").Err()
	}
	defer func() {
		if r := recover(); r != nil {
			exec = nil
			err = errors.Newf(errors.ErrCodeInstantiation, "executor factory panicked: %v", r).
				WithOp("Loader.Instantiate").WithStack().Err()
		}
	}()

	exec = f()
	if exec == nil {
		return nil, errors.New(errors.ErrCodeInstantiation, "executor factory returned nil").
			WithOp("Loader.Instantiate").Err()
	}
	return exec, nil
}
