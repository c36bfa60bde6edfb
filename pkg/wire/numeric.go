package wire

import (
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/ha1tch/sqlext/pkg/arena"
	"github.com/ha1tch/sqlext/pkg/dataset"
	"github.com/ha1tch/sqlext/pkg/errors"
	"github.com/ha1tch/sqlext/pkg/sqltype"
)

// numericCodec handles SQL_NUMERIC_STRUCT: precision uint8, scale int8,
// sign uint8 (1 positive, 0 negative) and a 16-byte little-endian magnitude.
// Every cell of a column shares the column's precision and scale.
type numericCodec struct{}

func init() {
	register(sqltype.Numeric, numericCodec{})
}

func readNumeric(b []byte) decimal.Decimal {
	scale := int8(b[1])
	var mag [16]byte
	for i := 0; i < 16; i++ {
		mag[15-i] = b[3+i]
	}
	v := new(big.Int).SetBytes(mag[:])
	if b[2] == 0 {
		v.Neg(v)
	}
	return decimal.NewFromBigInt(v, -int32(scale))
}

// writeNumeric rounds d to scale and stores it. The value must fit in
// precision digits.
func writeNumeric(b []byte, d decimal.Decimal, precision uint8, scale int8) error {
	unscaled := d.Round(int32(scale)).Mul(decimal.New(1, int32(scale))).BigInt()
	sign := byte(1)
	if unscaled.Sign() < 0 {
		sign = 0
		unscaled.Abs(unscaled)
	}
	if digits := len(unscaled.String()); unscaled.Sign() != 0 && digits > int(precision) {
		return errors.InvalidArgument("value %s needs %d digits, precision is %d", d, digits, precision).
			WithOp("Wire.Encode").Err()
	}
	mag := unscaled.Bytes()
	if len(mag) > 16 {
		return errors.InvalidArgument("value %s overflows NUMERIC", d).WithOp("Wire.Encode").Err()
	}
	b[0] = precision
	b[1] = byte(scale)
	b[2] = sign
	for i := range b[3:sqltype.NumericSize] {
		b[3+i] = 0
	}
	for i, x := range mag {
		b[3+len(mag)-1-i] = x
	}
	return nil
}

// layout derives the smallest precision and scale that hold every value.
func layout(values []decimal.Decimal) (uint8, int8, error) {
	var scale int32
	for _, d := range values {
		if e := -d.Exponent(); e > scale {
			scale = e
		}
	}
	if scale > sqltype.MaxNumericPrecision {
		scale = sqltype.MaxNumericPrecision
	}
	precision := int(scale)
	for _, d := range values {
		unscaled := d.Round(scale).Mul(decimal.New(1, scale)).BigInt()
		unscaled.Abs(unscaled)
		if n := len(unscaled.String()); n > precision {
			precision = n
		}
	}
	if precision > sqltype.MaxNumericPrecision {
		return 0, 0, errors.InvalidArgument("NUMERIC values need %d digits", precision).
			WithOp("Wire.Encode").Err()
	}
	return uint8(max(precision, 1)), int8(scale), nil
}

func (numericCodec) decodeColumn(desc Column, rows int, data []byte, lengths []int32) (dataset.Column, error) {
	if need := rows * sqltype.NumericSize; len(data) < need {
		return nil, errors.BufferOverrun(desc.Name, need, len(data)).WithOp("Wire.Decode").Err()
	}
	if err := checkLengths(desc, rows, lengths); err != nil {
		return nil, err
	}
	if !desc.Nullable {
		lengths = nil
	}
	vec := dataset.NewVector[decimal.Decimal](desc.Name, rows)
	for i := 0; i < rows; i++ {
		if lengths != nil {
			if l := lengths[i]; l == sqltype.NullData {
				continue
			} else if l < 0 {
				return nil, badLength(desc, i, l)
			}
		}
		vec.SetValue(i, readNumeric(data[i*sqltype.NumericSize:]))
	}
	return vec, nil
}

func (numericCodec) encodeColumn(a *arena.Arena, c dataset.Column, out *Column, sized bool) ([]byte, []int32, error) {
	n := c.Len()
	values := make([]decimal.Decimal, 0, n)
	for i := 0; i < n; i++ {
		if c.IsNull(i) {
			continue
		}
		d, ok := c.Value(i).(decimal.Decimal)
		if !ok {
			return nil, nil, mismatch("Wire.Encode", sqltype.Numeric, c.Value(i))
		}
		values = append(values, d)
	}

	precision, scale := uint8(out.Size), int8(out.DecimalDigits)
	if !sized || precision == 0 {
		var err error
		if precision, scale, err = layout(values); err != nil {
			return nil, nil, err
		}
		out.Size = uint64(precision)
		out.DecimalDigits = int16(scale)
	}

	data, err := a.Bytes(n * sqltype.NumericSize)
	if err != nil {
		return nil, nil, err
	}
	lengths, err := a.Int32s(n)
	if err != nil {
		return nil, nil, err
	}
	next := 0
	for i := 0; i < n; i++ {
		if c.IsNull(i) {
			lengths[i] = sqltype.NullData
			continue
		}
		slot := data[i*sqltype.NumericSize : (i+1)*sqltype.NumericSize]
		if err := writeNumeric(slot, values[next], precision, scale); err != nil {
			return nil, nil, err
		}
		next++
		lengths[i] = sqltype.NumericSize
	}
	return data, lengths, nil
}

func (numericCodec) nulls(name string, rows int) dataset.Column {
	return dataset.NewVector[decimal.Decimal](name, rows)
}

func (numericCodec) accepts(zero any) bool {
	_, ok := zero.(decimal.Decimal)
	return ok
}

func (numericCodec) decodeValue(raw []byte, _ int32) (any, error) {
	if len(raw) < sqltype.NumericSize {
		return nil, errors.ValueOverrun(sqltype.NumericSize, len(raw)).
			WithOp("Wire.DecodeValue").Err()
	}
	return readNumeric(raw), nil
}

func (numericCodec) encodeValue(v any, size uint64, digits int16) ([]byte, error) {
	d, ok := v.(decimal.Decimal)
	if !ok {
		return nil, mismatch("Wire.EncodeValue", sqltype.Numeric, v)
	}
	precision, scale := uint8(size), int8(digits)
	if precision == 0 {
		var err error
		if precision, scale, err = layout([]decimal.Decimal{d}); err != nil {
			return nil, err
		}
	}
	b := make([]byte, sqltype.NumericSize)
	if err := writeNumeric(b, d, precision, scale); err != nil {
		return nil, err
	}
	return b, nil
}
