package sqltype

import (
	"testing"
	"time"

	"github.com/gofrs/uuid"
	"github.com/golang-sql/civil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ha1tch/sqlext/pkg/errors"
)

func TestWidths(t *testing.T) {
	tests := []struct {
		typ  Type
		want int
	}{
		{TinyInt, 1}, {UTinyInt, 1},
		{SmallInt, 2}, {USmallInt, 2},
		{Integer, 4}, {UInteger, 4},
		{BigInt, 8}, {UBigInt, 8},
		{Real, 4}, {Float, 8}, {Double, 8},
		{Bit, 1},
		{Char, 1}, {WChar, 2}, {Binary, 1},
		{GUID, 16}, {Date, 6}, {Timestamp, 16}, {Numeric, 19},
	}
	for _, tt := range tests {
		got, err := Width(tt.typ)
		require.NoError(t, err, tt.typ.String())
		assert.Equal(t, tt.want, got, tt.typ.String())
	}
}

func TestUnknownType(t *testing.T) {
	_, err := Width(Type(99))
	assert.True(t, errors.IsCode(err, errors.ErrCodeUnknownType))

	_, err = Parse(1234)
	assert.True(t, errors.IsCode(err, errors.ErrCodeUnknownType))

	got, err := Parse(-16)
	require.NoError(t, err)
	assert.Equal(t, Integer, got)
}

func TestStringPredicates(t *testing.T) {
	assert.True(t, IsString(Char))
	assert.True(t, IsString(WChar))
	assert.False(t, IsString(Binary))
	assert.True(t, IsVariable(Binary))
	assert.False(t, IsVariable(GUID))
	assert.Equal(t, 2, Unit(WChar))
	assert.Equal(t, 1, Unit(Char))
	assert.Equal(t, 1, Unit(Binary))
	assert.Equal(t, 0, Unit(Integer))
	assert.True(t, IsFloat(Real))
	assert.False(t, IsFloat(Numeric))
}

func TestInfer(t *testing.T) {
	tests := []struct {
		v    any
		want Type
	}{
		{int8(1), TinyInt},
		{uint8(1), UTinyInt},
		{int16(1), SmallInt},
		{uint16(1), USmallInt},
		{int32(1), Integer},
		{uint32(1), UInteger},
		{int64(1), BigInt},
		{1, BigInt},
		{uint64(1), UBigInt},
		{float32(1), Real},
		{1.5, Double},
		{true, Bit},
		{"x", Char},
		{[]byte("x"), Binary},
		{uuid.Nil, GUID},
		{civil.Date{}, Date},
		{civil.DateTime{}, Timestamp},
		{time.Time{}, Timestamp},
		{decimal.Zero, Numeric},
	}
	for _, tt := range tests {
		got, err := Infer(tt.v)
		require.NoError(t, err, "%T", tt.v)
		assert.Equal(t, tt.want, got, "%T", tt.v)
	}

	_, err := Infer(struct{}{})
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotImplemented))
}

func TestParseName(t *testing.T) {
	tests := map[string]Type{
		"integer":          Integer,
		"INT":              Integer,
		"nvarchar(50)":     WChar,
		"VARCHAR":          Char,
		"uniqueidentifier": GUID,
		"decimal(10, 2)":   Numeric,
		"timestamp":        Timestamp,
	}
	for in, want := range tests {
		got, err := ParseName(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseName("xml")
	assert.Error(t, err)
}

func TestString(t *testing.T) {
	assert.Equal(t, "WCHAR", WChar.String())
	assert.Equal(t, "Type(99)", Type(99).String())
}
