package wire

import (
	"github.com/ha1tch/sqlext/pkg/arena"
	"github.com/ha1tch/sqlext/pkg/dataset"
	"github.com/ha1tch/sqlext/pkg/errors"
	"github.com/ha1tch/sqlext/pkg/sqltype"
)

// codec moves one catalog type across the wire, for whole columns and for
// scalar parameters.
type codec interface {
	// decodeColumn reads rows cells. data is non-nil; lengths may be nil only
	// for fixed-width types.
	decodeColumn(desc Column, rows int, data []byte, lengths []int32) (dataset.Column, error)

	// encodeColumn writes c into arena blocks. When sized is false the codec
	// fills out.Size and out.DecimalDigits.
	encodeColumn(a *arena.Arena, c dataset.Column, out *Column, sized bool) ([]byte, []int32, error)

	// nulls returns an all-null column of the decoded element type.
	nulls(name string, rows int) dataset.Column

	// accepts reports whether values of zero's Go type can be written.
	accepts(zero any) bool

	decodeValue(raw []byte, length int32) (any, error)
	encodeValue(v any, size uint64, digits int16) ([]byte, error)
}

var codecs = map[sqltype.Type]codec{}

func register(t sqltype.Type, c codec) {
	codecs[t] = c
}

func codecFor(t sqltype.Type, op string) (codec, error) {
	c, ok := codecs[t]
	if !ok {
		return nil, errors.NotImplemented("data type "+t.String()).WithOp(op).
			WithField("type", int16(t)).Err()
	}
	return c, nil
}

// Accepts reports whether a column whose element type is that of zero can be
// encoded as t.
func Accepts(t sqltype.Type, zero any) bool {
	c, ok := codecs[t]
	return ok && c.accepts(zero)
}

// NewColumn returns an all-null column of rows cells holding the Go type
// that t decodes to.
func NewColumn(t sqltype.Type, name string, rows int) (dataset.Column, error) {
	c, err := codecFor(t, "Wire.NewColumn")
	if err != nil {
		return nil, err
	}
	return c.nulls(name, rows), nil
}

// DecodeValue decodes one scalar. length is the byte count for variable
// types and is ignored for fixed ones; sqltype.NullData yields nil.
func DecodeValue(t sqltype.Type, raw []byte, length int32) (any, error) {
	c, err := codecFor(t, "Wire.DecodeValue")
	if err != nil {
		return nil, err
	}
	if length == sqltype.NullData {
		return nil, nil
	}
	if length < 0 {
		return nil, errors.InvalidArgument("negative length %d", length).
			WithOp("Wire.DecodeValue").Err()
	}
	return c.decodeValue(raw, length)
}

// EncodeValue encodes one scalar into its wire bytes. String and binary
// values are returned whole; callers truncate to the declared size. size and
// digits give the precision and scale of NUMERIC values.
func EncodeValue(t sqltype.Type, v any, size uint64, digits int16) ([]byte, error) {
	c, err := codecFor(t, "Wire.EncodeValue")
	if err != nil {
		return nil, err
	}
	return c.encodeValue(v, size, digits)
}

func mismatch(op string, t sqltype.Type, v any) error {
	return errors.Newf(errors.ErrCodeTypeMismatch, "cannot write %T as %s", v, t).
		WithOp(op).Err()
}

func checkLengths(desc Column, rows int, lengths []int32) error {
	if lengths != nil && len(lengths) < rows {
		return errors.Newf(errors.ErrCodeBufferOverrun, "column %s: length map has %d entries for %d rows",
			desc.Name, len(lengths), rows).WithOp("Wire.Decode").Err()
	}
	return nil
}

func badLength(desc Column, row int, l int32) error {
	return errors.InvalidArgument("column %s row %d: invalid length %d", desc.Name, row, l).
		WithOp("Wire.Decode").Err()
}
