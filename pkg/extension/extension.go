// Package extension is the call surface the host drives.
//
// Every method reports a single Status. Failures, including panics, are
// logged with their full detail and kept as the last error; nothing else
// crosses the boundary.
package extension

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/gofrs/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/ha1tch/sqlext/pkg/arena"
	"github.com/ha1tch/sqlext/pkg/config"
	"github.com/ha1tch/sqlext/pkg/errors"
	"github.com/ha1tch/sqlext/pkg/loader"
	"github.com/ha1tch/sqlext/pkg/log"
	"github.com/ha1tch/sqlext/pkg/param"
	"github.com/ha1tch/sqlext/pkg/sdk"
	"github.com/ha1tch/sqlext/pkg/session"
	"github.com/ha1tch/sqlext/pkg/sqltype"
	"github.com/ha1tch/sqlext/pkg/version"
	"github.com/ha1tch/sqlext/pkg/wire"
)

// Status is the SQLRETURN reported for every call.
type Status int16

const (
	Success Status = 0  // SQL_SUCCESS
	Error   Status = -1 // SQL_ERROR
)

func (s Status) String() string {
	if s == Success {
		return "success"
	}
	return "error"
}

// SQL_NULLABLE
const nullable int16 = 1

// InterfaceVersion is the host interface version implemented.
const InterfaceVersion = version.InterfaceVersion

type key struct {
	id   uuid.UUID
	task int
}

// Extension holds the process configuration and the live sessions.
type Extension struct {
	mu sync.RWMutex

	cfg      *config.Config
	logger   *log.Logger
	loader   *loader.Loader
	watcher  *loader.Watcher
	sessions map[key]*session.Session

	enum   loader.Enumerator
	opener loader.Opener
	alloc  arena.Allocator
	output io.Writer

	lastMu  sync.Mutex
	lastErr error
}

// Option configures an Extension.
type Option func(*Extension)

// WithOpener sets the module opener. Default tries Go plugins, then
// modules registered with loader.RegisterModule.
func WithOpener(o loader.Opener) Option {
	return func(e *Extension) { e.opener = o }
}

// WithEnumerator sets the module file enumerator.
func WithEnumerator(en loader.Enumerator) Option {
	return func(e *Extension) { e.enum = en }
}

// WithAllocator sets the allocator backing every session arena.
func WithAllocator(a arena.Allocator) Option {
	return func(e *Extension) { e.alloc = a }
}

// WithLogOutput sets the log destination. Default is stderr.
func WithLogOutput(w io.Writer) Option {
	return func(e *Extension) { e.output = w }
}

// New creates an extension. Init must be called before any session.
func New(opts ...Option) *Extension {
	e := &Extension{
		sessions: make(map[key]*session.Session),
		opener:   loader.Chain(loader.PluginOpener{}, loader.StaticOpener{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	cfg := log.DefaultConfig()
	if e.output != nil {
		cfg.Output = e.output
	}
	e.logger = log.New(cfg)
	return e
}

// Logger returns the current logger.
func (e *Extension) Logger() *log.Logger {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.logger
}

// Config returns the configuration written by Init, or nil.
func (e *Extension) Config() *config.Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg
}

// LastError returns the error behind the most recent Error status.
func (e *Extension) LastError() error {
	e.lastMu.Lock()
	defer e.lastMu.Unlock()
	return e.lastErr
}

// call runs fn and reduces its outcome to a Status.
func (e *Extension) call(op string, fn func() error) (status Status) {
	defer func() {
		if r := recover(); r != nil {
			err := errors.Newf(errors.ErrCodePanic, "%s panicked: %v", op, r).WithOp(op).WithStack().Err()
			e.fail(op, err)
			status = Error
		}
	}()
	if err := fn(); err != nil {
		e.fail(op, err)
		return Error
	}
	return Success
}

func (e *Extension) fail(op string, err error) {
	e.lastMu.Lock()
	e.lastErr = err
	e.lastMu.Unlock()

	logger := e.Logger()
	cat := logger.Session()
	if errors.IsCategory(err, "configuration") || errors.IsCategory(err, "loader") {
		cat = logger.Host()
	}
	cat.Error(op+" failed", err,
		"code", errors.GetCode(err).String(),
		"detail", fmt.Sprintf("%+v", err),
	)
}

// GetInterfaceVersion returns the host interface version.
func (e *Extension) GetInterfaceVersion() int { return InterfaceVersion }

// Init writes the process configuration. Calling it again replaces the
// configuration; live sessions keep the loader they started with.
func (e *Extension) Init(languageParams, languagePath, publicLibraryPath, privateLibraryPath string) Status {
	return e.call("Init", func() error {
		cfg, err := config.Load(languageParams, languagePath, publicLibraryPath, privateLibraryPath)
		if err != nil {
			return err
		}
		lc := cfg.LoggerConfig()
		if e.output != nil {
			lc.Output = e.output
		}
		logger := log.New(lc)
		ld := loader.New(e.enum, e.opener, logger, cfg.LoaderOptions()...)

		var w *loader.Watcher
		if cfg.Watch {
			if w, err = loader.NewWatcher(ld, cfg.SearchPaths()); err != nil {
				return errors.Wrap(err, errors.ErrCodeConfigInvalid, "cannot watch module paths").Err()
			}
			if err := w.Start(); err != nil {
				w.Stop()
				return errors.Wrap(err, errors.ErrCodeConfigInvalid, "cannot watch module paths").Err()
			}
		}

		e.mu.Lock()
		old := e.watcher
		e.cfg = cfg
		e.logger = logger
		e.loader = ld
		e.watcher = w
		e.mu.Unlock()
		if old != nil {
			old.Stop()
		}

		logger.Host().Info("extension initialised",
			"version", version.Version,
			"interface", InterfaceVersion,
			"public_path", publicLibraryPath,
			"private_path", privateLibraryPath,
			"watch", cfg.Watch,
		)
		return nil
	})
}

// InitSession creates the session for (id, taskID). script names the
// executor as Module;Namespace.Type or Namespace.Type; an empty script
// runs no executor.
func (e *Extension) InitSession(id uuid.UUID, taskID, numTasks int, script string,
	columns, params int, inputName, outputName string) Status {
	return e.call("InitSession", func() error {
		e.mu.Lock()
		defer e.mu.Unlock()

		if e.cfg == nil {
			return errors.InvalidState("InitSession", "uninitialised").Err()
		}
		k := key{id, taskID}
		if _, ok := e.sessions[k]; ok {
			return errors.Newf(errors.ErrCodeSessionExists, "session %s task %d already exists", id, taskID).
				WithOp("InitSession").Err()
		}

		var resolve session.Resolver
		if script != "" {
			ld, paths := e.loader, e.cfg.SearchPaths()
			resolve = func() (sdk.Factory, error) {
				return ld.Load(paths, script)
			}
		}
		s, err := session.New(session.Config{
			ID:         id,
			TaskID:     taskID,
			NumTasks:   numTasks,
			Script:     script,
			Columns:    columns,
			Params:     params,
			InputName:  inputName,
			OutputName: outputName,
			Resolver:   resolve,
			Allocator:  e.alloc,
			Logger:     e.logger,
		})
		if err != nil {
			return err
		}
		e.sessions[k] = s
		e.logger.Session().Info("session initialised",
			"session", id.String(),
			"task", taskID,
			"tasks", numTasks,
			"script", script,
		)
		return nil
	})
}

// Session returns the live session for (id, taskID).
func (e *Extension) Session(id uuid.UUID, taskID int) (*session.Session, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.sessions[key{id, taskID}]
	if !ok {
		return nil, errors.Newf(errors.ErrCodeSessionNotFound, "no session %s task %d", id, taskID).Err()
	}
	return s, nil
}

// Sessions returns the number of live sessions.
func (e *Extension) Sessions() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.sessions)
}

func (e *Extension) withSession(op string, id uuid.UUID, taskID int, fn func(*session.Session) error) Status {
	return e.call(op, func() error {
		s, err := e.Session(id, taskID)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeSessionNotFound, op).WithOp(op).Err()
		}
		return fn(s)
	})
}

// Do runs fn on a session with the error handling of the entry points. The
// host boundary uses it for work on session memory, such as pointer tables.
func (e *Extension) Do(op string, id uuid.UUID, taskID int, fn func(*session.Session) error) Status {
	return e.withSession(op, id, taskID, fn)
}

// InitColumn declares input column ordinal of a session.
func (e *Extension) InitColumn(id uuid.UUID, taskID, ordinal int, name string, dataType int16, size uint64,
	decimalDigits, nullability int16, partitionBy, orderBy int32) Status {
	return e.withSession("InitColumn", id, taskID, func(s *session.Session) error {
		typ, err := sqltype.Parse(dataType)
		if err != nil {
			return err
		}
		return s.InitColumn(ordinal, name, typ, size, decimalDigits, nullability == nullable, partitionBy, orderBy)
	})
}

// InitParam declares parameter ordinal of a session.
func (e *Extension) InitParam(id uuid.UUID, taskID, ordinal int, name string, dataType int16, size uint64,
	decimalDigits int16, value []byte, strLenOrInd int32, direction int16) Status {
	return e.withSession("InitParam", id, taskID, func(s *session.Session) error {
		typ, err := sqltype.Parse(dataType)
		if err != nil {
			return err
		}
		return s.InitParam(ordinal, name, typ, size, decimalDigits, value, strLenOrInd, param.Direction(direction))
	})
}

// Execute runs the session's executor on one input batch and returns the
// number of output columns.
func (e *Extension) Execute(id uuid.UUID, taskID, rows int, data [][]byte, lengths [][]int32) (int, Status) {
	var n int
	st := e.withSession("Execute", id, taskID, func(s *session.Session) error {
		start := time.Now()
		var err error
		n, err = s.Execute(rows, data, lengths)
		e.Logger().Performance().Debug("Execute",
			"session", id.String(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return err
	})
	return n, st
}

// GetResultColumn describes output column ordinal.
func (e *Extension) GetResultColumn(id uuid.UUID, taskID, ordinal int) (wire.Column, Status) {
	var desc wire.Column
	st := e.withSession("GetResultColumn", id, taskID, func(s *session.Session) error {
		var err error
		desc, err = s.DescribeColumn(ordinal)
		return err
	})
	return desc, st
}

// GetResults returns the encoded output of the last Execute. The buffers
// belong to the session and stay valid until CleanupSession.
func (e *Extension) GetResults(id uuid.UUID, taskID int) (*wire.Result, Status) {
	var res *wire.Result
	st := e.withSession("GetResults", id, taskID, func(s *session.Session) error {
		var err error
		res, err = s.FetchResults()
		return err
	})
	return res, st
}

// GetOutputParam returns the encoded value of parameter ordinal.
func (e *Extension) GetOutputParam(id uuid.UUID, taskID, ordinal int) ([]byte, int32, Status) {
	var (
		buf    []byte
		length int32
	)
	st := e.withSession("GetOutputParam", id, taskID, func(s *session.Session) error {
		var err error
		buf, length, err = s.FetchOutputParam(ordinal)
		return err
	})
	return buf, length, st
}

// CleanupSession tears down and forgets a session. Cleaning up a session
// that does not exist succeeds.
func (e *Extension) CleanupSession(id uuid.UUID, taskID int) Status {
	return e.call("CleanupSession", func() error {
		k := key{id, taskID}
		e.mu.Lock()
		s, ok := e.sessions[k]
		delete(e.sessions, k)
		e.mu.Unlock()
		if !ok {
			e.Logger().Session().Debug("cleanup of unknown session ignored",
				"session", id.String(),
				"task", taskID,
			)
			return nil
		}
		return s.Cleanup()
	})
}

// Cleanup tears down every remaining session and stops the watcher.
func (e *Extension) Cleanup() Status {
	return e.call("Cleanup", func() error {
		e.mu.Lock()
		sessions := e.sessions
		e.sessions = make(map[key]*session.Session)
		w := e.watcher
		e.watcher = nil
		e.mu.Unlock()

		var result *multierror.Error
		for k, s := range sessions {
			if err := s.Cleanup(); err != nil {
				result = multierror.Append(result, errors.Wrapf(err, errors.GetCode(err),
					"session %s task %d", k.id, k.task).Err())
			}
		}
		if w != nil {
			if err := w.Stop(); err != nil {
				result = multierror.Append(result, err)
			}
		}
		e.Logger().Host().Info("extension cleaned up", "sessions", len(sessions))
		return result.ErrorOrNil()
	})
}
