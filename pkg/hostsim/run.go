package hostsim

import (
	"github.com/gofrs/uuid"

	"github.com/ha1tch/sqlext/pkg/arena"
	"github.com/ha1tch/sqlext/pkg/dataset"
	"github.com/ha1tch/sqlext/pkg/errors"
	"github.com/ha1tch/sqlext/pkg/extension"
	"github.com/ha1tch/sqlext/pkg/param"
	"github.com/ha1tch/sqlext/pkg/sqltype"
	"github.com/ha1tch/sqlext/pkg/wire"
)

// Param is a scalar parameter passed to an invocation.
type Param struct {
	Name          string
	Type          sqltype.Type
	Size          uint64
	DecimalDigits int16
	Direction     param.Direction
	Value         any // nil for a null input
}

// Invocation describes one session.
type Invocation struct {
	Script     string
	InputName  string
	OutputName string
	TaskID     int
	NumTasks   int
	Params     []Param

	// BatchSize splits the input into several Execute calls when positive.
	// Only the output of the last batch is returned.
	BatchSize int
}

// Output is what the engine reads back from a session.
type Output struct {
	Columns []wire.Column
	Table   *dataset.Table
	Params  map[string]any
}

// Run drives ext through the full call sequence for one session and always
// cleans the session up.
func Run(ext *extension.Extension, in *Input, inv Invocation) (out *Output, err error) {
	if in == nil {
		in = &Input{}
	}
	if in.Table == nil {
		if in.Table, err = dataset.New(0); err != nil {
			return nil, err
		}
	}
	if inv.NumTasks <= 0 {
		inv.NumTasks = 1
	}

	id, err := uuid.NewV4()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "session id").Err()
	}
	host := arena.New(nil)
	defer host.Release()

	check := func(st extension.Status, op string) error {
		if st == extension.Success {
			return nil
		}
		cause := ext.LastError()
		if cause == nil {
			return errors.Newf(errors.ErrCodeInvocation, "%s failed", op).WithOp("HostSim.Run").Err()
		}
		return errors.Wrapf(cause, errors.GetCode(cause), "%s failed", op).WithOp("HostSim.Run").Err()
	}

	if err := check(ext.InitSession(id, inv.TaskID, inv.NumTasks, inv.Script, in.Table.NumColumns(),
		len(inv.Params), inv.InputName, inv.OutputName), "InitSession"); err != nil {
		return nil, err
	}
	defer func() {
		if cerr := check(ext.CleanupSession(id, inv.TaskID), "CleanupSession"); cerr != nil && err == nil {
			out, err = nil, cerr
		}
	}()

	batches, err := encodeInput(host, in, inv.BatchSize)
	if err != nil {
		return nil, err
	}
	for _, c := range batches[0].Columns {
		nullable := int16(0)
		if c.Nullable {
			nullable = 1
		}
		if err := check(ext.InitColumn(id, inv.TaskID, c.Ordinal, c.Name, int16(c.Type), c.Size, c.DecimalDigits,
			nullable, c.PartitionBy, c.OrderBy), "InitColumn"); err != nil {
			return nil, err
		}
	}

	for i, p := range inv.Params {
		raw, length, err := encodeParam(p)
		if err != nil {
			return nil, err
		}
		dir := p.Direction
		if dir == 0 {
			dir = param.Input
		}
		if err := check(ext.InitParam(id, inv.TaskID, i, p.Name, int16(p.Type), p.Size, p.DecimalDigits,
			raw, length, int16(dir)), "InitParam"); err != nil {
			return nil, err
		}
	}

	var ncols int
	for _, b := range batches {
		var st extension.Status
		ncols, st = ext.Execute(id, inv.TaskID, b.Rows, b.Data, b.Lengths)
		if err := check(st, "Execute"); err != nil {
			return nil, err
		}
	}

	out = &Output{
		Columns: make([]wire.Column, ncols),
		Params:  make(map[string]any),
	}
	for i := 0; i < ncols; i++ {
		desc, st := ext.GetResultColumn(id, inv.TaskID, i)
		if err := check(st, "GetResultColumn"); err != nil {
			return nil, err
		}
		out.Columns[i] = desc
	}

	res, st := ext.GetResults(id, inv.TaskID)
	if err := check(st, "GetResults"); err != nil {
		return nil, err
	}
	if out.Table, err = wire.Decode(res.Rows, res.Data, res.Lengths, out.Columns); err != nil {
		return nil, err
	}

	for i, p := range inv.Params {
		if !p.Direction.IsOutput() {
			continue
		}
		buf, length, st := ext.GetOutputParam(id, inv.TaskID, i)
		if err := check(st, "GetOutputParam"); err != nil {
			return nil, err
		}
		v, err := wire.DecodeValue(p.Type, buf, length)
		if err != nil {
			return nil, err
		}
		out.Params[p.Name] = v
	}
	return out, nil
}

// encodeInput splits the input table into batches of at most size rows and
// encodes each of them. There is always at least one batch.
func encodeInput(a *arena.Arena, in *Input, size int) ([]*wire.Result, error) {
	rows := in.Table.NumRows()
	if size <= 0 || size >= rows {
		res, err := wire.Encode(a, in.Table, nil, in.Columns)
		if err != nil {
			return nil, err
		}
		return []*wire.Result{res}, nil
	}

	var out []*wire.Result
	for start := 0; start < rows; start += size {
		part, err := slice(in.Table, start, min(start+size, rows))
		if err != nil {
			return nil, err
		}
		res, err := wire.Encode(a, part, nil, in.Columns)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	// The schema is declared once, so a column is nullable if any batch
	// holds a null.
	for _, res := range out[1:] {
		for j, c := range res.Columns {
			if c.Nullable {
				out[0].Columns[j].Nullable = true
			}
		}
	}
	for _, res := range out[1:] {
		res.Columns = out[0].Columns
	}
	return out, nil
}

func slice(t *dataset.Table, from, to int) (*dataset.Table, error) {
	cols := make([]dataset.Column, t.NumColumns())
	for j, c := range t.Columns() {
		typ, err := sqltype.Infer(c.Zero())
		if err != nil {
			return nil, err
		}
		part, err := wire.NewColumn(typ, c.Name(), to-from)
		if err != nil {
			return nil, err
		}
		for i := from; i < to; i++ {
			if c.IsNull(i) {
				continue
			}
			if err := part.Set(i-from, c.Value(i)); err != nil {
				return nil, err
			}
		}
		cols[j] = part
	}
	return dataset.New(to-from, cols...)
}

func encodeParam(p Param) ([]byte, int32, error) {
	if p.Value == nil {
		return nil, sqltype.NullData, nil
	}
	raw, err := wire.EncodeValue(p.Type, p.Value, p.Size, p.DecimalDigits)
	if err != nil {
		return nil, 0, errors.Wrapf(err, errors.GetCode(err), "parameter %s", p.Name).WithOp("HostSim.Run").Err()
	}
	// The engine passes 0 for non-null fixed width values.
	if !sqltype.IsVariable(p.Type) {
		return raw, 0, nil
	}
	return raw, int32(len(raw)), nil
}
