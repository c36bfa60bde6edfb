package wire

import (
	"golang.org/x/text/encoding/unicode"

	"github.com/ha1tch/sqlext/pkg/arena"
	"github.com/ha1tch/sqlext/pkg/dataset"
	"github.com/ha1tch/sqlext/pkg/errors"
	"github.com/ha1tch/sqlext/pkg/sqltype"
)

// utf16le is the WCHAR encoding: two-byte little-endian code units, no BOM.
var utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// varlen handles CHAR, WCHAR and BINARY. Lengths on the wire are always in
// bytes; unit converts them to the declared size unit.
type varlen[T any] struct {
	typ  sqltype.Type
	unit int
	min  int
	enc  func(v T) ([]byte, error)
	dec  func(b []byte) (T, error)
	from func(v any) (T, bool)
}

func init() {
	register(sqltype.Char, &varlen[string]{
		typ: sqltype.Char, unit: 1, min: 1,
		enc:  func(s string) ([]byte, error) { return []byte(s), nil },
		dec:  func(b []byte) (string, error) { return string(b), nil },
		from: exact[string],
	})
	register(sqltype.WChar, &varlen[string]{
		typ: sqltype.WChar, unit: 2, min: 2,
		enc: func(s string) ([]byte, error) {
			return utf16le.NewEncoder().Bytes([]byte(s))
		},
		dec: func(b []byte) (string, error) {
			if len(b)%2 != 0 {
				return "", errors.InvalidArgument("WCHAR payload of %d bytes is not whole code units", len(b)).
					WithOp("Wire.Decode").Err()
			}
			out, err := utf16le.NewDecoder().Bytes(b)
			if err != nil {
				return "", errors.Wrap(err, errors.ErrCodeMalformed, "invalid UTF-16").WithOp("Wire.Decode").Err()
			}
			return string(out), nil
		},
		from: exact[string],
	})
	register(sqltype.Binary, &varlen[[]byte]{
		typ: sqltype.Binary, unit: 1, min: 1,
		enc:  func(b []byte) ([]byte, error) { return b, nil },
		dec:  func(b []byte) ([]byte, error) { return append([]byte{}, b...), nil },
		from: exact[[]byte],
	})
}

func (c *varlen[T]) decodeColumn(desc Column, rows int, data []byte, lengths []int32) (dataset.Column, error) {
	if lengths == nil {
		return nil, errors.InvalidArgument("column %s: %s data without a length map", desc.Name, c.typ).
			WithOp("Wire.Decode").Err()
	}
	if err := checkLengths(desc, rows, lengths); err != nil {
		return nil, err
	}

	vec := dataset.NewVector[T](desc.Name, rows)
	cursor := 0
	for i := 0; i < rows; i++ {
		l := lengths[i]
		if l == sqltype.NullData {
			continue
		}
		if l < 0 {
			return nil, badLength(desc, i, l)
		}
		end := cursor + int(l)
		if end > len(data) {
			return nil, errors.BufferOverrun(desc.Name, end, len(data)).
				WithOp("Wire.Decode").WithField("row", i).Err()
		}
		v, err := c.dec(data[cursor:end])
		if err != nil {
			return nil, err
		}
		vec.SetValue(i, v)
		cursor = end
	}
	return vec, nil
}

func (c *varlen[T]) encodeColumn(a *arena.Arena, col dataset.Column, out *Column, sized bool) ([]byte, []int32, error) {
	n := col.Len()
	lengths, err := a.Int32s(n)
	if err != nil {
		return nil, nil, err
	}

	vec, fast := col.(*dataset.Vector[T])
	payloads := make([][]byte, n)
	total, longest := 0, 0
	for i := 0; i < n; i++ {
		if col.IsNull(i) {
			lengths[i] = sqltype.NullData
			continue
		}
		var v T
		if fast {
			v, _ = vec.Get(i)
		} else {
			var ok bool
			if v, ok = c.from(col.Value(i)); !ok {
				return nil, nil, mismatch("Wire.Encode", c.typ, col.Value(i))
			}
		}
		p, err := c.enc(v)
		if err != nil {
			return nil, nil, errors.Wrapf(err, errors.ErrCodeInvalidArgument, "column %s row %d", col.Name(), i).
				WithOp("Wire.Encode").Err()
		}
		payloads[i] = p
		lengths[i] = int32(len(p))
		total += len(p)
		longest = max(longest, len(p))
	}

	data, err := a.Bytes(total)
	if err != nil {
		return nil, nil, err
	}
	cursor := 0
	for _, p := range payloads {
		cursor += copy(data[cursor:], p)
	}

	if !sized {
		out.Size = uint64(max(longest, c.min) / c.unit)
	}
	return data, lengths, nil
}

func (c *varlen[T]) nulls(name string, rows int) dataset.Column {
	return dataset.NewVector[T](name, rows)
}

func (c *varlen[T]) accepts(zero any) bool {
	_, ok := c.from(zero)
	return ok
}

func (c *varlen[T]) decodeValue(raw []byte, length int32) (any, error) {
	if int(length) > len(raw) {
		return nil, errors.ValueOverrun(int(length), len(raw)).WithOp("Wire.DecodeValue").Err()
	}
	return c.dec(raw[:length])
}

func (c *varlen[T]) encodeValue(v any, _ uint64, _ int16) ([]byte, error) {
	t, ok := c.from(v)
	if !ok {
		return nil, mismatch("Wire.EncodeValue", c.typ, v)
	}
	return c.enc(t)
}
