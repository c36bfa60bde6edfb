// Package sqltype is the closed catalog of logical column and parameter
// types exchanged with the database engine.
//
// A Type carries the ODBC C type code the engine uses on the wire, so a value
// received from the host converts directly with Parse and is written back
// unchanged.
package sqltype

import (
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid"
	"github.com/golang-sql/civil"
	"github.com/shopspring/decimal"

	"github.com/ha1tch/sqlext/pkg/errors"
)

// Type is an ODBC C data type code.
type Type int16

// Catalog members.
const (
	TinyInt   Type = -26 // SQL_C_STINYINT
	UTinyInt  Type = -28 // SQL_C_UTINYINT
	SmallInt  Type = -15 // SQL_C_SSHORT
	USmallInt Type = -17 // SQL_C_USHORT
	Integer   Type = -16 // SQL_C_SLONG
	UInteger  Type = -18 // SQL_C_ULONG
	BigInt    Type = -25 // SQL_C_SBIGINT
	UBigInt   Type = -27 // SQL_C_UBIGINT
	Real      Type = 7   // SQL_C_FLOAT, 4 bytes
	Float     Type = 6   // SQL_FLOAT, 8 bytes
	Double    Type = 8   // SQL_C_DOUBLE
	Bit       Type = -7  // SQL_C_BIT
	Char      Type = 1   // SQL_C_CHAR
	WChar     Type = -8  // SQL_C_WCHAR
	Binary    Type = -2  // SQL_C_BINARY
	GUID      Type = -11 // SQL_C_GUID
	Date      Type = 91  // SQL_C_TYPE_DATE
	Timestamp Type = 93  // SQL_C_TYPE_TIMESTAMP
	Numeric   Type = 2   // SQL_C_NUMERIC
)

// NullData is the length-map entry for a null cell or parameter.
const NullData int32 = -1

// Struct sizes of the ODBC date, timestamp and numeric layouts.
const (
	GUIDSize      = 16
	DateSize      = 6
	TimestampSize = 16
	NumericSize   = 19

	// MaxNumericPrecision is the largest precision SQL_NUMERIC_STRUCT can hold.
	MaxNumericPrecision = 38
)

type info struct {
	name     string
	width    int // fixed width, or minimum width for variable types
	unit     int // code unit width for strings, 0 otherwise
	variable bool
}

var catalog = map[Type]info{
	TinyInt:   {name: "TINYINT", width: 1},
	UTinyInt:  {name: "UTINYINT", width: 1},
	SmallInt:  {name: "SMALLINT", width: 2},
	USmallInt: {name: "USMALLINT", width: 2},
	Integer:   {name: "INTEGER", width: 4},
	UInteger:  {name: "UINTEGER", width: 4},
	BigInt:    {name: "BIGINT", width: 8},
	UBigInt:   {name: "UBIGINT", width: 8},
	Real:      {name: "REAL", width: 4},
	Float:     {name: "FLOAT", width: 8},
	Double:    {name: "DOUBLE", width: 8},
	Bit:       {name: "BIT", width: 1},
	Char:      {name: "CHAR", width: 1, unit: 1, variable: true},
	WChar:     {name: "WCHAR", width: 2, unit: 2, variable: true},
	Binary:    {name: "BINARY", width: 1, variable: true},
	GUID:      {name: "GUID", width: GUIDSize},
	Date:      {name: "DATE", width: DateSize},
	Timestamp: {name: "TIMESTAMP", width: TimestampSize},
	Numeric:   {name: "NUMERIC", width: NumericSize},
}

// aliases maps SQL spellings accepted by ParseName to catalog members.
var aliases = map[string]Type{
	"INT":       Integer,
	"SMALL":     SmallInt,
	"LONG":      BigInt,
	"FLOAT4":    Real,
	"FLOAT8":    Double,
	"BOOL":      Bit,
	"BOOLEAN":   Bit,
	"VARCHAR":   Char,
	"TEXT":      Char,
	"NCHAR":     WChar,
	"NVARCHAR":  WChar,
	"NTEXT":     WChar,
	"VARBINARY": Binary,
	"BLOB":      Binary,
	"UUID":      GUID,
	"DATETIME":  Timestamp,
	"DATETIME2": Timestamp,
	"DECIMAL":   Numeric,

	"UNIQUEIDENTIFIER": GUID,
}

// String returns the catalog name of t.
func (t Type) String() string {
	if in, ok := catalog[t]; ok {
		return in.name
	}
	return fmt.Sprintf("Type(%d)", int16(t))
}

// Valid reports whether t is a catalog member.
func (t Type) Valid() bool {
	_, ok := catalog[t]
	return ok
}

// Parse converts a wire code into a catalog member.
func Parse(code int16) (Type, error) {
	t := Type(code)
	if !t.Valid() {
		return 0, errors.UnknownType(code).WithOp("SQLType.Parse").Err()
	}
	return t, nil
}

// ParseName converts a type name such as "INTEGER" or "nvarchar" into a
// catalog member.
func ParseName(name string) (Type, error) {
	n := strings.ToUpper(strings.TrimSpace(name))
	if i := strings.IndexByte(n, '('); i >= 0 {
		n = strings.TrimSpace(n[:i])
	}
	for t, in := range catalog {
		if in.name == n {
			return t, nil
		}
	}
	if t, ok := aliases[n]; ok {
		return t, nil
	}
	return 0, errors.Newf(errors.ErrCodeUnknownType, "unknown type name %q", name).
		WithOp("SQLType.ParseName").Err()
}

func lookup(t Type) (info, error) {
	in, ok := catalog[t]
	if !ok {
		return info{}, errors.UnknownType(int16(t)).Err()
	}
	return in, nil
}

// Width returns the fixed byte width of t, or its minimum width for the
// variable string and binary types.
func Width(t Type) (int, error) {
	in, err := lookup(t)
	if err != nil {
		return 0, err
	}
	return in.width, nil
}

// Unit returns the code unit width of a string type: 1 for CHAR, 2 for
// WCHAR. BINARY counts bytes, so its unit is 1. Fixed types return 0.
func Unit(t Type) int {
	in := catalog[t]
	if in.variable && in.unit == 0 {
		return 1
	}
	return in.unit
}

// IsString reports whether t is CHAR or WCHAR.
func IsString(t Type) bool {
	return t == Char || t == WChar
}

// IsVariable reports whether values of t have a per-row length.
func IsVariable(t Type) bool {
	return catalog[t].variable
}

// IsFloat reports whether null cells of t are written as NaN.
func IsFloat(t Type) bool {
	return t == Real || t == Float || t == Double
}

// Infer maps a Go value (or the zero value of a column's element type) to
// the catalog member used when nothing else determines the output type.
// Strings infer to CHAR.
func Infer(v any) (Type, error) {
	switch v.(type) {
	case int8:
		return TinyInt, nil
	case uint8:
		return UTinyInt, nil
	case int16:
		return SmallInt, nil
	case uint16:
		return USmallInt, nil
	case int32:
		return Integer, nil
	case uint32:
		return UInteger, nil
	case int64, int:
		return BigInt, nil
	case uint64, uint:
		return UBigInt, nil
	case float32:
		return Real, nil
	case float64:
		return Double, nil
	case bool:
		return Bit, nil
	case string:
		return Char, nil
	case []byte:
		return Binary, nil
	case uuid.UUID:
		return GUID, nil
	case civil.Date:
		return Date, nil
	case civil.DateTime, time.Time:
		return Timestamp, nil
	case decimal.Decimal:
		return Numeric, nil
	default:
		return 0, errors.Newf(errors.ErrCodeNotImplemented, "no catalog type for Go type %T", v).
			WithOp("SQLType.Infer").Err()
	}
}
