package main

import (
	"bytes"
	"encoding/binary"
	"testing"
	"unsafe"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ha1tch/sqlext/pkg/arena"
	"github.com/ha1tch/sqlext/pkg/extension"
	"github.com/ha1tch/sqlext/pkg/param"
	"github.com/ha1tch/sqlext/pkg/sqltype"
	"github.com/ha1tch/sqlext/pkg/wire"
)

func TestInterfaceVersion(t *testing.T) {
	assert.Equal(t, 2, int(GetInterfaceVersion()))
}

func TestCAllocatorBackedArena(t *testing.T) {
	a := arena.New(cAllocator{})
	b, err := a.Bytes(24)
	require.NoError(t, err)
	assert.Len(t, b, 24)
	assert.Equal(t, make([]byte, 24), b)
	assert.Zero(t, uintptr(unsafe.Pointer(unsafe.SliceData(b)))%8)

	empty, err := a.Bytes(0)
	require.NoError(t, err)
	assert.NotNil(t, unsafe.SliceData(empty))

	lengths, err := a.Int32s(3)
	require.NoError(t, err)
	lengths[2] = -1
	assert.Equal(t, []int32{0, 0, -1}, lengths)

	require.NoError(t, a.Release())
	assert.True(t, a.Released())
}

func TestGUIDFromBytes(t *testing.T) {
	want := uuid.Must(uuid.FromString("6ba7b810-9dad-11d1-80b4-00c04fd430c8"))

	raw := make([]byte, 16)
	binary.NativeEndian.PutUint32(raw[0:], binary.BigEndian.Uint32(want[0:4]))
	binary.NativeEndian.PutUint16(raw[4:], binary.BigEndian.Uint16(want[4:6]))
	binary.NativeEndian.PutUint16(raw[6:], binary.BigEndian.Uint16(want[6:8]))
	copy(raw[8:], want[8:])

	assert.Equal(t, want, guidFromBytes(raw))
	assert.Equal(t, uuid.Nil, guidFromBytes(raw[:4]))
}

func TestBytesToString(t *testing.T) {
	s := []byte("InputDataSet")
	assert.Equal(t, "Input", bytesToString(unsafe.Pointer(&s[0]), 5))
	assert.Equal(t, "", bytesToString(nil, 5))
	assert.Equal(t, "", bytesToString(unsafe.Pointer(&s[0]), 0))
}

func TestParamBytes(t *testing.T) {
	n := int32(42)
	raw := paramBytes(unsafe.Pointer(&n), int16(sqltype.Integer), 0)
	require.Len(t, raw, 4)
	assert.Equal(t, uint32(42), binary.NativeEndian.Uint32(raw))

	f := 2.5
	assert.Len(t, paramBytes(unsafe.Pointer(&f), int16(sqltype.Double), 0), 8)
	assert.Len(t, paramBytes(unsafe.Pointer(&f), int16(sqltype.Double), 3), 8)

	s := []byte("hello")
	assert.Equal(t, []byte("hel"), paramBytes(unsafe.Pointer(&s[0]), int16(sqltype.Char), 3))
	assert.Equal(t, []byte{}, paramBytes(unsafe.Pointer(&s[0]), int16(sqltype.Char), 0))

	assert.Nil(t, paramBytes(unsafe.Pointer(&n), int16(sqltype.Integer), sqltype.NullData))
	assert.Nil(t, paramBytes(nil, int16(sqltype.Integer), 0))
	assert.Nil(t, paramBytes(unsafe.Pointer(&n), 99, 0))
}

func TestInitParamWithZeroLengthFixedValue(t *testing.T) {
	e := extension.New(extension.WithLogOutput(&bytes.Buffer{}))
	require.Equal(t, extension.Success, e.Init("", "", "", ""))
	defer e.Cleanup()

	id := uuid.Must(uuid.NewV4())
	require.Equal(t, extension.Success, e.InitSession(id, 0, 1, "", 0, 3, "", ""))

	n := int32(42)
	require.Equal(t, extension.Success, e.InitParam(id, 0, 0, "@n", int16(sqltype.Integer), 4, 0,
		paramBytes(unsafe.Pointer(&n), int16(sqltype.Integer), 0), 0, int16(param.Input)))

	big := int64(-7)
	require.Equal(t, extension.Success, e.InitParam(id, 0, 1, "@big", int16(sqltype.BigInt), 8, 0,
		paramBytes(unsafe.Pointer(&big), int16(sqltype.BigInt), 0), 0, int16(param.Input)))

	w, err := wire.EncodeValue(sqltype.WChar, "hi", 10, 0)
	require.NoError(t, err)
	w = append(w, 'x', 0)
	require.Equal(t, extension.Success, e.InitParam(id, 0, 2, "@w", int16(sqltype.WChar), 10, 0,
		paramBytes(unsafe.Pointer(&w[0]), int16(sqltype.WChar), 4), 4, int16(param.Input)))

	s, err := e.Session(id, 0)
	require.NoError(t, err)
	values := s.Params().Params()
	assert.Equal(t, int32(42), values["@n"])
	assert.Equal(t, int64(-7), values["@big"])
	assert.Equal(t, "hi", values["@w"])
	assert.Equal(t, extension.Success, e.CleanupSession(id, 0))
}
