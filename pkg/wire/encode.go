package wire

import (
	"strings"

	"github.com/ha1tch/sqlext/pkg/arena"
	"github.com/ha1tch/sqlext/pkg/dataset"
	"github.com/ha1tch/sqlext/pkg/errors"
	"github.com/ha1tch/sqlext/pkg/sqltype"
)

// Result is an encoded table. Every buffer belongs to the arena passed to
// Encode and stays valid until that arena is released.
type Result struct {
	Columns []Column
	Rows    int
	Data    [][]byte
	Lengths [][]int32
}

// Encode writes t into arena-owned buffers.
//
// The type of each output column is chosen in order from: an entry in
// overrides for its name; an input column of the same name, whose type, size
// and decimal digits are carried over when the column's element type can be
// written as that type; inference from the element type. Names are compared
// without regard to case.
func Encode(a *arena.Arena, t *dataset.Table, overrides map[string]sqltype.Type, input []Column) (*Result, error) {
	forced := make(map[string]sqltype.Type, len(overrides))
	for name, typ := range overrides {
		forced[strings.ToLower(name)] = typ
	}
	inputs := make(map[string]Column, len(input))
	for _, c := range input {
		inputs[strings.ToLower(c.Name)] = c
	}

	res := &Result{
		Columns: make([]Column, t.NumColumns()),
		Rows:    t.NumRows(),
		Data:    make([][]byte, t.NumColumns()),
		Lengths: make([][]int32, t.NumColumns()),
	}
	for i, col := range t.Columns() {
		desc, sized, err := describe(i, col, forced, inputs)
		if err != nil {
			return nil, err
		}
		c, err := codecFor(desc.Type, "Wire.Encode")
		if err != nil {
			return nil, err
		}
		data, lengths, err := c.encodeColumn(a, col, &desc, sized)
		if err != nil {
			return nil, err
		}
		if col.NullCount() > 0 {
			desc.Nullable = true
		}
		res.Columns[i] = desc
		res.Data[i] = data
		res.Lengths[i] = lengths
	}
	return res, nil
}

// describe picks the output type of col. sized reports whether Size and
// DecimalDigits were carried over from an input column.
func describe(ordinal int, col dataset.Column, forced map[string]sqltype.Type, inputs map[string]Column) (Column, bool, error) {
	desc := Column{
		Ordinal:     ordinal,
		Name:        col.Name(),
		PartitionBy: -1,
		OrderBy:     -1,
	}
	key := strings.ToLower(col.Name())

	if typ, ok := forced[key]; ok {
		if _, known := codecs[typ]; !known {
			return desc, false, errors.NotImplemented("output type "+typ.String()).
				WithOp("Wire.Encode").WithField("column", col.Name()).Err()
		}
		if !Accepts(typ, col.Zero()) {
			return desc, false, errors.InvalidArgument("column %s: %T values cannot be written as %s",
				col.Name(), col.Zero(), typ).WithOp("Wire.Encode").Err()
		}
		desc.Type = typ
		return desc, false, nil
	}

	if in, ok := inputs[key]; ok && Accepts(in.Type, col.Zero()) {
		desc.Type = in.Type
		desc.Size = in.Size
		desc.DecimalDigits = in.DecimalDigits
		desc.Nullable = in.Nullable
		return desc, true, nil
	}

	typ, err := sqltype.Infer(col.Zero())
	if err != nil {
		return desc, false, errors.Wrapf(err, errors.ErrCodeNotImplemented, "column %s", col.Name()).
			WithOp("Wire.Encode").Err()
	}
	desc.Type = typ
	return desc, false, nil
}
