package param

import (
	"encoding/binary"
	"testing"
	"unsafe"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ha1tch/sqlext/pkg/arena"
	"github.com/ha1tch/sqlext/pkg/errors"
	"github.com/ha1tch/sqlext/pkg/sqltype"
)

func int32Bytes(v int32) []byte {
	b := make([]byte, 4)
	binary.NativeEndian.PutUint32(b, uint32(v))
	return b
}

func TestAddDecodesValues(t *testing.T) {
	c := NewContainer(3)
	require.NoError(t, c.Add(0, "@n", sqltype.Integer, 4, 0, int32Bytes(42), 4, Input))
	require.NoError(t, c.Add(1, "@s", sqltype.Char, 10, 0, []byte("hello world"), 5, Input))
	require.NoError(t, c.Add(2, "@w", sqltype.WChar, 10, 0, []byte{'h', 0, 'i', 0}, 4, InputOutput))

	p := c.Params()
	assert.Equal(t, int32(42), p["@n"])
	assert.Equal(t, "hello", p["@s"])
	assert.Equal(t, "hi", p["@w"])
	assert.Empty(t, c.Missing())
	assert.Equal(t, InputOutput, c.Get(2).Direction)
	assert.True(t, c.Get(2).Direction.IsOutput())
}

func TestNullParameterNotInMap(t *testing.T) {
	c := NewContainer(1)
	require.NoError(t, c.Add(0, "@x", sqltype.Integer, 4, 0, nil, sqltype.NullData, Output))

	_, ok := c.Params()["@x"]
	assert.False(t, ok)
	require.NotNil(t, c.Get(0))
	assert.Nil(t, c.Get(0).Value)
	assert.Equal(t, sqltype.NullData, c.Get(0).Length)
}

func TestAddRejectsBadArguments(t *testing.T) {
	c := NewContainer(1)
	err := c.Add(0, "", sqltype.Integer, 4, 0, int32Bytes(1), 4, Input)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidArgument))

	err = c.Add(1, "@x", sqltype.Integer, 4, 0, int32Bytes(1), 4, Input)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidArgument))

	err = c.Add(0, "@x", sqltype.Type(99), 4, 0, int32Bytes(1), 4, Input)
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotImplemented))

	assert.Equal(t, []int{0}, c.Missing())
}

func TestAddShortValueNamesParameter(t *testing.T) {
	c := NewContainer(2)
	err := c.Add(0, "@x", sqltype.Integer, 4, 0, []byte{1, 2}, 0, Input)
	require.True(t, errors.IsCode(err, errors.ErrCodeBufferOverrun))
	assert.Contains(t, err.Error(), "parameter @x")
	assert.Contains(t, err.Error(), "value needs 4 bytes, buffer holds 2")
	assert.NotContains(t, err.Error(), "column")

	err = c.Add(1, "@s", sqltype.Char, 10, 0, []byte("ab"), 5, Input)
	require.True(t, errors.IsCode(err, errors.ErrCodeBufferOverrun))
	assert.Contains(t, err.Error(), "parameter @s: ")
	assert.NotContains(t, err.Error(), "column")
}

func TestResolveFixed(t *testing.T) {
	c := NewContainer(1)
	require.NoError(t, c.Add(0, "@n", sqltype.Integer, 4, 0, nil, sqltype.NullData, Output))
	c.Params()["@n"] = int32(7)

	a := arena.New(nil)
	buf, l, err := c.Resolve(a, 0)
	require.NoError(t, err)
	assert.Equal(t, int32(4), l)
	assert.Equal(t, int32Bytes(7), buf)
	assert.Equal(t, 1, a.Len())
}

func TestResolveNull(t *testing.T) {
	c := NewContainer(2)
	require.NoError(t, c.Add(0, "@a", sqltype.Integer, 4, 0, int32Bytes(1), 4, Output))
	require.NoError(t, c.Add(1, "@b", sqltype.Integer, 4, 0, int32Bytes(1), 4, Output))
	delete(c.Params(), "@a")
	c.Params()["@b"] = nil

	for i := 0; i < 2; i++ {
		buf, l, err := c.Resolve(arena.New(nil), i)
		require.NoError(t, err)
		assert.Nil(t, buf)
		assert.Equal(t, sqltype.NullData, l)
	}
}

func TestResolveTruncatesStrings(t *testing.T) {
	c := NewContainer(2)
	require.NoError(t, c.Add(0, "@s", sqltype.Char, 3, 0, nil, sqltype.NullData, Output))
	require.NoError(t, c.Add(1, "@w", sqltype.WChar, 3, 0, nil, sqltype.NullData, Output))
	c.Params()["@s"] = "abcdef"
	c.Params()["@w"] = "abcdef"

	a := arena.New(nil)
	buf, l, err := c.Resolve(a, 0)
	require.NoError(t, err)
	assert.Equal(t, int32(3), l)
	assert.Equal(t, []byte("abc"), buf)

	buf, l, err = c.Resolve(a, 1)
	require.NoError(t, err)
	assert.Equal(t, int32(6), l)
	assert.Equal(t, []byte{'a', 0, 'b', 0, 'c', 0}, buf)

	c.Params()["@w"] = "ab"
	_, l, err = c.Resolve(a, 1)
	require.NoError(t, err)
	assert.Equal(t, int32(4), l)
}

func TestResolveEmptyStringHasBuffer(t *testing.T) {
	c := NewContainer(2)
	require.NoError(t, c.Add(0, "@s", sqltype.Char, 5, 0, nil, sqltype.NullData, Output))
	require.NoError(t, c.Add(1, "@w", sqltype.WChar, 5, 0, nil, sqltype.NullData, Output))
	c.Params()["@s"] = ""
	c.Params()["@w"] = ""

	a := arena.New(nil)
	buf, l, err := c.Resolve(a, 0)
	require.NoError(t, err)
	assert.Equal(t, int32(0), l)
	assert.Equal(t, 1, cap(buf))
	assert.NotNil(t, unsafe.SliceData(buf))

	buf, l, err = c.Resolve(a, 1)
	require.NoError(t, err)
	assert.Equal(t, int32(0), l)
	assert.Equal(t, 2, cap(buf))
}

func TestResolveNumericUsesDeclaredPrecision(t *testing.T) {
	c := NewContainer(1)
	require.NoError(t, c.Add(0, "@d", sqltype.Numeric, 10, 2, nil, sqltype.NullData, Output))
	c.Params()["@d"] = decimal.RequireFromString("1.239")

	buf, l, err := c.Resolve(arena.New(nil), 0)
	require.NoError(t, err)
	assert.Equal(t, int32(sqltype.NumericSize), l)
	assert.Equal(t, byte(10), buf[0])
	assert.Equal(t, byte(2), buf[1])
	assert.Equal(t, byte(124), buf[3])
}

func TestResolveTypeMismatch(t *testing.T) {
	c := NewContainer(1)
	require.NoError(t, c.Add(0, "@n", sqltype.Integer, 4, 0, nil, sqltype.NullData, Output))
	c.Params()["@n"] = "seven"

	_, _, err := c.Resolve(arena.New(nil), 0)
	assert.True(t, errors.IsCode(err, errors.ErrCodeTypeMismatch))

	_, _, err = c.Resolve(arena.New(nil), 3)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidArgument))
}
