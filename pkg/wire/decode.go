package wire

import (
	"github.com/ha1tch/sqlext/pkg/dataset"
	"github.com/ha1tch/sqlext/pkg/errors"
	"github.com/ha1tch/sqlext/pkg/sqltype"
)

// Decode builds a table of rows rows from per-column data buffers and length
// maps. cols[i] describes data[i] and lengths[i].
//
// A nil data slice, or a nil buffer for one column, yields all-null columns.
// A nil length map is allowed for fixed-width columns and means no nulls.
func Decode(rows int, data [][]byte, lengths [][]int32, cols []Column) (*dataset.Table, error) {
	if rows < 0 {
		return nil, errors.InvalidArgument("negative row count %d", rows).WithOp("Wire.Decode").Err()
	}
	if data != nil && len(data) < len(cols) {
		return nil, errors.InvalidArgument("%d data buffers for %d columns", len(data), len(cols)).
			WithOp("Wire.Decode").Err()
	}

	table, err := dataset.New(rows)
	if err != nil {
		return nil, err
	}
	for i, desc := range cols {
		var buf []byte
		if data != nil {
			buf = data[i]
		}
		var lens []int32
		if i < len(lengths) {
			lens = lengths[i]
		}

		col, err := DecodeColumn(desc, rows, buf, lens)
		if err != nil {
			return nil, err
		}
		if err := table.AddColumn(col); err != nil {
			return nil, err
		}
	}
	return table, nil
}

// DecodeColumn decodes a single column.
func DecodeColumn(desc Column, rows int, data []byte, lengths []int32) (dataset.Column, error) {
	c, err := codecFor(desc.Type, "Wire.Decode")
	if err != nil {
		return nil, err
	}
	if data == nil {
		return c.nulls(desc.Name, rows), nil
	}
	return c.decodeColumn(desc, rows, data, lengths)
}

// BufferSize returns the length in bytes of the data buffer that holds rows
// cells of desc. Variable width columns are sized from their length map.
func BufferSize(desc Column, rows int, lengths []int32) (int, error) {
	if !sqltype.IsVariable(desc.Type) {
		w, err := sqltype.Width(desc.Type)
		if err != nil {
			return 0, err
		}
		return rows * w, nil
	}
	if len(lengths) < rows {
		return 0, errors.InvalidArgument("column %s: %d lengths for %d rows", desc.Name, len(lengths), rows).
			WithOp("Wire.BufferSize").Err()
	}
	n := 0
	for _, l := range lengths[:rows] {
		if l > 0 {
			n += int(l)
		}
	}
	return n, nil
}
