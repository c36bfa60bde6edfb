package wire

import (
	"encoding/binary"
	"math"
	"time"

	"github.com/gofrs/uuid"
	"github.com/golang-sql/civil"

	"github.com/ha1tch/sqlext/pkg/arena"
	"github.com/ha1tch/sqlext/pkg/dataset"
	"github.com/ha1tch/sqlext/pkg/errors"
	"github.com/ha1tch/sqlext/pkg/sqltype"
)

var ne = binary.NativeEndian

// fixed handles every type whose cells have one width.
type fixed[T any] struct {
	typ   sqltype.Type
	width int
	read  func(b []byte) T
	write func(b []byte, v T)
	from  func(v any) (T, bool)
	// null, when set, is written into null slots. Otherwise they stay zero.
	null *T
}

func (f *fixed[T]) decodeColumn(desc Column, rows int, data []byte, lengths []int32) (dataset.Column, error) {
	if need := rows * f.width; len(data) < need {
		return nil, errors.BufferOverrun(desc.Name, need, len(data)).WithOp("Wire.Decode").Err()
	}
	if err := checkLengths(desc, rows, lengths); err != nil {
		return nil, err
	}
	// A non-nullable column's length map carries no information.
	if !desc.Nullable {
		lengths = nil
	}
	vec := dataset.NewVector[T](desc.Name, rows)
	for i := 0; i < rows; i++ {
		if lengths != nil {
			if l := lengths[i]; l == sqltype.NullData {
				continue
			} else if l < 0 {
				return nil, badLength(desc, i, l)
			}
		}
		vec.SetValue(i, f.read(data[i*f.width:]))
	}
	return vec, nil
}

func (f *fixed[T]) encodeColumn(a *arena.Arena, c dataset.Column, out *Column, sized bool) ([]byte, []int32, error) {
	n := c.Len()
	data, err := a.Bytes(n * f.width)
	if err != nil {
		return nil, nil, err
	}
	lengths, err := a.Int32s(n)
	if err != nil {
		return nil, nil, err
	}

	vec, fast := c.(*dataset.Vector[T])
	for i := 0; i < n; i++ {
		slot := data[i*f.width : (i+1)*f.width]
		if c.IsNull(i) {
			if f.null != nil {
				f.write(slot, *f.null)
			}
			lengths[i] = sqltype.NullData
			continue
		}
		var v T
		if fast {
			v, _ = vec.Get(i)
		} else {
			var ok bool
			if v, ok = f.from(c.Value(i)); !ok {
				return nil, nil, mismatch("Wire.Encode", f.typ, c.Value(i))
			}
		}
		f.write(slot, v)
		lengths[i] = int32(f.width)
	}

	if !sized {
		out.Size = uint64(f.width)
	}
	return data, lengths, nil
}

func (f *fixed[T]) nulls(name string, rows int) dataset.Column {
	return dataset.NewVector[T](name, rows)
}

func (f *fixed[T]) accepts(zero any) bool {
	_, ok := f.from(zero)
	return ok
}

func (f *fixed[T]) decodeValue(raw []byte, _ int32) (any, error) {
	if len(raw) < f.width {
		return nil, errors.ValueOverrun(f.width, len(raw)).WithOp("Wire.DecodeValue").Err()
	}
	return f.read(raw), nil
}

func (f *fixed[T]) encodeValue(v any, _ uint64, _ int16) ([]byte, error) {
	t, ok := f.from(v)
	if !ok {
		return nil, mismatch("Wire.EncodeValue", f.typ, v)
	}
	b := make([]byte, f.width)
	f.write(b, t)
	return b, nil
}

// exact accepts only T itself.
func exact[T any](v any) (T, bool) {
	t, ok := v.(T)
	return t, ok
}

func ptr[T any](v T) *T { return &v }

func init() {
	register(sqltype.TinyInt, &fixed[int8]{
		typ: sqltype.TinyInt, width: 1,
		read:  func(b []byte) int8 { return int8(b[0]) },
		write: func(b []byte, v int8) { b[0] = byte(v) },
		from:  exact[int8],
	})
	register(sqltype.UTinyInt, &fixed[uint8]{
		typ: sqltype.UTinyInt, width: 1,
		read:  func(b []byte) uint8 { return b[0] },
		write: func(b []byte, v uint8) { b[0] = v },
		from:  exact[uint8],
	})
	register(sqltype.SmallInt, &fixed[int16]{
		typ: sqltype.SmallInt, width: 2,
		read:  func(b []byte) int16 { return int16(ne.Uint16(b)) },
		write: func(b []byte, v int16) { ne.PutUint16(b, uint16(v)) },
		from:  exact[int16],
	})
	register(sqltype.USmallInt, &fixed[uint16]{
		typ: sqltype.USmallInt, width: 2,
		read:  ne.Uint16,
		write: ne.PutUint16,
		from:  exact[uint16],
	})
	register(sqltype.Integer, &fixed[int32]{
		typ: sqltype.Integer, width: 4,
		read:  func(b []byte) int32 { return int32(ne.Uint32(b)) },
		write: func(b []byte, v int32) { ne.PutUint32(b, uint32(v)) },
		from:  exact[int32],
	})
	register(sqltype.UInteger, &fixed[uint32]{
		typ: sqltype.UInteger, width: 4,
		read:  ne.Uint32,
		write: ne.PutUint32,
		from:  exact[uint32],
	})
	register(sqltype.BigInt, &fixed[int64]{
		typ: sqltype.BigInt, width: 8,
		read:  func(b []byte) int64 { return int64(ne.Uint64(b)) },
		write: func(b []byte, v int64) { ne.PutUint64(b, uint64(v)) },
		from: func(v any) (int64, bool) {
			switch n := v.(type) {
			case int64:
				return n, true
			case int:
				return int64(n), true
			}
			return 0, false
		},
	})
	register(sqltype.UBigInt, &fixed[uint64]{
		typ: sqltype.UBigInt, width: 8,
		read:  ne.Uint64,
		write: ne.PutUint64,
		from: func(v any) (uint64, bool) {
			switch n := v.(type) {
			case uint64:
				return n, true
			case uint:
				return uint64(n), true
			}
			return 0, false
		},
	})
	register(sqltype.Real, &fixed[float32]{
		typ: sqltype.Real, width: 4,
		read:  func(b []byte) float32 { return math.Float32frombits(ne.Uint32(b)) },
		write: func(b []byte, v float32) { ne.PutUint32(b, math.Float32bits(v)) },
		from:  exact[float32],
		null:  ptr(float32(math.NaN())),
	})
	for _, t := range []sqltype.Type{sqltype.Float, sqltype.Double} {
		register(t, &fixed[float64]{
			typ: t, width: 8,
			read:  func(b []byte) float64 { return math.Float64frombits(ne.Uint64(b)) },
			write: func(b []byte, v float64) { ne.PutUint64(b, math.Float64bits(v)) },
			from:  exact[float64],
			null:  ptr(math.NaN()),
		})
	}
	register(sqltype.Bit, &fixed[bool]{
		typ: sqltype.Bit, width: 1,
		read: func(b []byte) bool { return b[0] != 0 },
		write: func(b []byte, v bool) {
			if v {
				b[0] = 1
			} else {
				b[0] = 0
			}
		},
		from: exact[bool],
	})
	register(sqltype.GUID, &fixed[uuid.UUID]{
		typ: sqltype.GUID, width: sqltype.GUIDSize,
		read:  readGUID,
		write: writeGUID,
		from:  exact[uuid.UUID],
	})
	register(sqltype.Date, &fixed[civil.Date]{
		typ: sqltype.Date, width: sqltype.DateSize,
		read:  readDate,
		write: writeDate,
		from:  exact[civil.Date],
	})
	register(sqltype.Timestamp, &fixed[civil.DateTime]{
		typ: sqltype.Timestamp, width: sqltype.TimestampSize,
		read:  readTimestamp,
		write: writeTimestamp,
		from: func(v any) (civil.DateTime, bool) {
			switch t := v.(type) {
			case civil.DateTime:
				return t, true
			case time.Time:
				return civil.DateTimeOf(t), true
			}
			return civil.DateTime{}, false
		},
	})
}

// SQLGUID stores Data1, Data2 and Data3 in native byte order; uuid.UUID holds
// them big-endian.
func readGUID(b []byte) uuid.UUID {
	var u uuid.UUID
	binary.BigEndian.PutUint32(u[0:4], ne.Uint32(b[0:4]))
	binary.BigEndian.PutUint16(u[4:6], ne.Uint16(b[4:6]))
	binary.BigEndian.PutUint16(u[6:8], ne.Uint16(b[6:8]))
	copy(u[8:16], b[8:16])
	return u
}

func writeGUID(b []byte, u uuid.UUID) {
	ne.PutUint32(b[0:4], binary.BigEndian.Uint32(u[0:4]))
	ne.PutUint16(b[4:6], binary.BigEndian.Uint16(u[4:6]))
	ne.PutUint16(b[6:8], binary.BigEndian.Uint16(u[6:8]))
	copy(b[8:16], u[8:16])
}

// SQL_DATE_STRUCT: year int16, month uint16, day uint16.
func readDate(b []byte) civil.Date {
	return civil.Date{
		Year:  int(int16(ne.Uint16(b[0:2]))),
		Month: time.Month(ne.Uint16(b[2:4])),
		Day:   int(ne.Uint16(b[4:6])),
	}
}

func writeDate(b []byte, d civil.Date) {
	ne.PutUint16(b[0:2], uint16(int16(d.Year)))
	ne.PutUint16(b[2:4], uint16(d.Month))
	ne.PutUint16(b[4:6], uint16(d.Day))
}

// SQL_TIMESTAMP_STRUCT: the date, then hour, minute, second as uint16 and
// the fraction in nanoseconds as uint32.
func readTimestamp(b []byte) civil.DateTime {
	return civil.DateTime{
		Date: readDate(b),
		Time: civil.Time{
			Hour:       int(ne.Uint16(b[6:8])),
			Minute:     int(ne.Uint16(b[8:10])),
			Second:     int(ne.Uint16(b[10:12])),
			Nanosecond: int(ne.Uint32(b[12:16])),
		},
	}
}

func writeTimestamp(b []byte, t civil.DateTime) {
	writeDate(b, t.Date)
	ne.PutUint16(b[6:8], uint16(t.Time.Hour))
	ne.PutUint16(b[8:10], uint16(t.Time.Minute))
	ne.PutUint16(b[10:12], uint16(t.Time.Second))
	ne.PutUint32(b[12:16], uint32(t.Time.Nanosecond))
}
