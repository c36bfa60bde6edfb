// Package session sequences one invocation: schema binding, execution of
// the user executor, encoding of its output and the output parameters, and
// teardown.
//
// A session is driven from a single host thread and is not safe for
// concurrent use. Every buffer it hands out belongs to its arena and stays
// valid until Cleanup.
package session

import (
	"fmt"
	"runtime/debug"
	"time"

	"github.com/gofrs/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/ha1tch/sqlext/pkg/arena"
	"github.com/ha1tch/sqlext/pkg/dataset"
	"github.com/ha1tch/sqlext/pkg/errors"
	"github.com/ha1tch/sqlext/pkg/loader"
	"github.com/ha1tch/sqlext/pkg/log"
	"github.com/ha1tch/sqlext/pkg/param"
	"github.com/ha1tch/sqlext/pkg/sdk"
	"github.com/ha1tch/sqlext/pkg/sqltype"
	"github.com/ha1tch/sqlext/pkg/wire"
)

// Resolver produces the executor factory for a session. It runs on the
// first Execute.
type Resolver func() (sdk.Factory, error)

// Config describes a new session.
type Config struct {
	ID         uuid.UUID
	TaskID     int
	NumTasks   int
	Script     string // qualified executor name, informational
	Columns    int    // declared input column count
	Params     int    // declared parameter count
	InputName  string
	OutputName string

	// Resolver is nil when the session has no executor; Execute then
	// produces an empty result.
	Resolver  Resolver
	Allocator arena.Allocator
	Logger    *log.Logger
}

// Session is one (session id, task id) invocation.
type Session struct {
	cfg   Config
	state State

	columns []wire.Column
	bound   []bool
	params  *param.Container

	executor sdk.Executor
	arena    *arena.Arena
	batch    int

	input  *dataset.Table
	output *dataset.Table
	result *wire.Result

	logger *log.Logger
	flog   *log.FieldLogger
}

// New creates a session in StateCreated.
func New(cfg Config) (*Session, error) {
	if cfg.Columns < 0 || cfg.Params < 0 {
		return nil, errors.InvalidArgument("negative column or parameter count (%d, %d)", cfg.Columns, cfg.Params).
			WithOp("Session.New").Err()
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	s := &Session{
		cfg:     cfg,
		state:   StateCreated,
		columns: make([]wire.Column, cfg.Columns),
		bound:   make([]bool, cfg.Columns),
		params:  param.NewContainer(cfg.Params),
		arena:   arena.New(cfg.Allocator),
		logger:  cfg.Logger,
		flog:    cfg.Logger.ForSession(cfg.ID.String(), cfg.TaskID),
	}
	s.flog.Debug("session created",
		"script", cfg.Script,
		"columns", cfg.Columns,
		"params", cfg.Params,
	)
	return s, nil
}

// ID returns the session id.
func (s *Session) ID() uuid.UUID { return s.cfg.ID }

// TaskID returns the task id.
func (s *Session) TaskID() int { return s.cfg.TaskID }

// State returns the current state.
func (s *Session) State() State { return s.state }

// Arena returns the session arena. Callers at the host boundary allocate
// their pointer tables from it.
func (s *Session) Arena() *arena.Arena { return s.arena }

// Columns returns the declared input schema.
func (s *Session) Columns() []wire.Column { return s.columns }

// Params returns the parameter container.
func (s *Session) Params() *param.Container { return s.params }

// Input returns the last decoded input table, or nil before Execute.
func (s *Session) Input() *dataset.Table { return s.input }

// Output returns the table of the last Execute, or nil.
func (s *Session) Output() *dataset.Table { return s.output }

func (s *Session) check(op string) error {
	if !s.state.Allows(op) {
		return errors.InvalidState("Session."+op, s.state.String()).
			WithField("session", s.cfg.ID.String()).
			WithField("task", s.cfg.TaskID).
			Err()
	}
	return nil
}

func (s *Session) advance(op string) {
	to, ok := next[op]
	if !ok || to == s.state {
		return
	}
	s.flog.Debug("session state changed",
		"from", s.state.String(),
		"to", to.String(),
		"op", op,
	)
	s.state = to
}

// InitColumn declares input column ordinal.
func (s *Session) InitColumn(ordinal int, name string, typ sqltype.Type, size uint64, decimalDigits int16,
	nullable bool, partitionBy, orderBy int32) error {
	if err := s.check(opInitColumn); err != nil {
		return err
	}
	if ordinal < 0 || ordinal >= len(s.columns) {
		return errors.InvalidArgument("invalid input column ordinal %d of %d", ordinal, len(s.columns)).
			WithOp("Session.InitColumn").Err()
	}
	if name == "" {
		return errors.InvalidArgument("input column %d has no name", ordinal).
			WithOp("Session.InitColumn").Err()
	}
	if !typ.Valid() {
		return errors.UnknownType(int16(typ)).WithOp("Session.InitColumn").WithField("column", name).Err()
	}

	s.columns[ordinal] = wire.Column{
		Ordinal:       ordinal,
		Name:          name,
		Type:          typ,
		Size:          size,
		DecimalDigits: decimalDigits,
		Nullable:      nullable,
		PartitionBy:   partitionBy,
		OrderBy:       orderBy,
	}
	s.bound[ordinal] = true
	s.advance(opInitColumn)
	return nil
}

// InitParam declares and decodes parameter ordinal.
func (s *Session) InitParam(ordinal int, name string, typ sqltype.Type, size uint64, decimalDigits int16,
	raw []byte, length int32, dir param.Direction) error {
	if err := s.check(opInitParam); err != nil {
		return err
	}
	if err := s.params.Add(ordinal, name, typ, size, decimalDigits, raw, length, dir); err != nil {
		return err
	}
	s.advance(opInitParam)
	return nil
}

// Execute decodes the input batch, runs the executor and keeps its output.
// It returns the number of output columns. A repeated Execute replaces the
// output of the previous batch; buffers already served stay valid.
func (s *Session) Execute(rows int, data [][]byte, lengths [][]int32) (int, error) {
	if err := s.check(opExecute); err != nil {
		return 0, err
	}
	for i, ok := range s.bound {
		if !ok {
			return 0, errors.InvalidArgument("input column %d was not initialised", i).
				WithOp("Session.Execute").Err()
		}
	}
	if missing := s.params.Missing(); len(missing) > 0 {
		s.flog.Warn("parameters were not initialised", "ordinals", fmt.Sprint(missing))
	}

	start := time.Now()
	input, err := wire.Decode(rows, data, lengths, s.columns)
	if err != nil {
		return 0, err
	}
	s.logger.Marshal().Debug("decoded input",
		"session", s.cfg.ID.String(),
		"rows", rows,
		"columns", len(s.columns),
	)

	if s.executor == nil && s.cfg.Resolver != nil {
		if err := s.instantiate(); err != nil {
			return 0, err
		}
	}

	var output *dataset.Table
	if s.executor != nil {
		if output, err = s.invoke(input); err != nil {
			return 0, err
		}
	}

	s.input = input
	s.output = output
	s.result = nil
	s.batch++
	s.advance(opExecute)

	s.logger.Performance().Debug("execute completed",
		"session", s.cfg.ID.String(),
		"task", s.cfg.TaskID,
		"batch", s.batch,
		"rows", rows,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return s.outputColumns(), nil
}

func (s *Session) instantiate() error {
	factory, err := s.cfg.Resolver()
	if err != nil {
		return err
	}
	exec, err := loader.Instantiate(factory)
	if err != nil {
		return err
	}
	if hook, ok := exec.(sdk.Initializer); ok {
		if err := s.guard("Init", func() error {
			return hook.Init(s.cfg.ID.String(), s.cfg.TaskID, s.cfg.NumTasks)
		}); err != nil {
			return errors.Wrapf(err, errors.ErrCodeInstantiation, "executor %s failed to initialise", s.cfg.Script).
				WithOp("Session.Execute").Err()
		}
	}
	s.executor = exec
	s.flog.Info("executor instantiated", "script", s.cfg.Script)
	return nil
}

func (s *Session) invoke(input *dataset.Table) (*dataset.Table, error) {
	ctx := &sdk.Context{
		SessionID:  s.cfg.ID.String(),
		TaskID:     s.cfg.TaskID,
		NumTasks:   s.cfg.NumTasks,
		InputName:  s.cfg.InputName,
		OutputName: s.cfg.OutputName,
		Batch:      s.batch,
		Logger:     s.flog,
	}
	var output *dataset.Table
	err := s.guard("Execute", func() error {
		var err error
		output, err = s.executor.Execute(ctx, input, s.params.Params())
		return err
	})
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrCodeInvocation, "executor %s failed", s.cfg.Script).
			WithOp("Session.Execute").Err()
	}
	return output, nil
}

// guard runs user code and converts a panic into an error.
func (s *Session) guard(hook string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf(errors.ErrCodePanic, "executor %s panicked: %v", hook, r).
				WithField("stack", string(debug.Stack())).Err()
		}
	}()
	return fn()
}

func (s *Session) outputColumns() int {
	if s.output == nil {
		return 0
	}
	return s.output.NumColumns()
}

// encode builds the wire form of the output on first use after Execute.
func (s *Session) encode() (*wire.Result, error) {
	if s.result != nil {
		return s.result, nil
	}
	if s.output == nil {
		s.result = &wire.Result{}
		return s.result, nil
	}

	var overrides map[string]sqltype.Type
	if typer, ok := s.executor.(sdk.OutputTyper); ok {
		overrides = typer.OutputColumnTypes()
	}
	res, err := wire.Encode(s.arena, s.output, overrides, s.columns)
	if err != nil {
		return nil, err
	}
	s.logger.Marshal().Debug("encoded output",
		"session", s.cfg.ID.String(),
		"rows", res.Rows,
		"columns", len(res.Columns),
		"arena_bytes", s.arena.Size(),
	)
	s.result = res
	return res, nil
}

// DescribeColumn returns the descriptor of output column ordinal.
func (s *Session) DescribeColumn(ordinal int) (wire.Column, error) {
	if err := s.check(opDescribeColumn); err != nil {
		return wire.Column{}, err
	}
	res, err := s.encode()
	if err != nil {
		return wire.Column{}, err
	}
	if ordinal < 0 || ordinal >= len(res.Columns) {
		return wire.Column{}, errors.InvalidArgument("invalid output column ordinal %d of %d", ordinal, len(res.Columns)).
			WithOp("Session.DescribeColumn").Err()
	}
	return res.Columns[ordinal], nil
}

// FetchResults returns the encoded output.
func (s *Session) FetchResults() (*wire.Result, error) {
	if err := s.check(opFetchResults); err != nil {
		return nil, err
	}
	res, err := s.encode()
	if err != nil {
		return nil, err
	}
	s.advance(opFetchResults)
	return res, nil
}

// FetchOutputParam encodes the current value of parameter ordinal.
func (s *Session) FetchOutputParam(ordinal int) ([]byte, int32, error) {
	// With no output columns there are no results to fetch first.
	if s.state != StateExecuted || s.outputColumns() > 0 {
		if err := s.check(opFetchOutputParam); err != nil {
			return nil, 0, err
		}
	}
	buf, length, err := s.params.Resolve(s.arena, ordinal)
	if err != nil {
		return nil, 0, err
	}
	s.advance(opFetchOutputParam)
	return buf, length, nil
}

// Cleanup runs the executor's cleanup hook and releases the arena. Both are
// attempted; their failures are combined.
func (s *Session) Cleanup() error {
	if err := s.check(opCleanup); err != nil {
		return err
	}

	var result *multierror.Error
	if c, ok := s.executor.(sdk.Cleaner); ok {
		if err := s.guard("Cleanup", c.Cleanup); err != nil {
			result = multierror.Append(result, errors.Wrap(err, errors.ErrCodeInvocation, "executor cleanup failed").Err())
		}
	}
	size := s.arena.Size()
	if err := s.arena.Release(); err != nil {
		result = multierror.Append(result, err)
	}

	s.executor = nil
	s.input = nil
	s.output = nil
	s.result = nil
	s.advance(opCleanup)
	s.flog.Debug("session cleaned up", "arena_bytes", size, "batches", s.batch)
	return result.ErrorOrNil()
}
