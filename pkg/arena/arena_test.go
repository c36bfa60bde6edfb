package arena

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ha1tch/sqlext/pkg/errors"
)

type countingAllocator struct {
	allocs int
	frees  int
}

func (c *countingAllocator) Alloc(n int) []byte {
	c.allocs++
	return Heap.Alloc(n)
}

func (c *countingAllocator) Free([]byte) { c.frees++ }

func TestReleaseFreesEveryBlockOnce(t *testing.T) {
	ca := &countingAllocator{}
	a := New(ca)

	_, err := a.Bytes(10)
	require.NoError(t, err)
	_, err = a.Int32s(3)
	require.NoError(t, err)
	_, err = a.Copy([]byte("abc"))
	require.NoError(t, err)

	assert.Equal(t, 3, a.Len())
	assert.Equal(t, 10+12+3, a.Size())

	require.NoError(t, a.Release())
	assert.Equal(t, 3, ca.frees)
	assert.True(t, a.Released())

	err = a.Release()
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidState))
	assert.Equal(t, 3, ca.frees)

	_, err = a.Bytes(1)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidState))
}

func TestBlocksAreZeroedAndAligned(t *testing.T) {
	a := New(nil)
	b, err := a.Bytes(13)
	require.NoError(t, err)
	assert.Len(t, b, 13)
	for _, x := range b {
		assert.Zero(t, x)
	}
	assert.Zero(t, uintptr(unsafe.Pointer(unsafe.SliceData(b)))%8)

	f, err := Slice[float64](a, 4)
	require.NoError(t, err)
	f[3] = 1.5
	assert.Equal(t, 1.5, f[3])
}

func TestZeroLengthBlockHasAddress(t *testing.T) {
	a := New(nil)
	b, err := a.Bytes(0)
	require.NoError(t, err)
	assert.NotNil(t, b)
	assert.NotNil(t, unsafe.SliceData(b))
	assert.Equal(t, 1, a.Len())
}

func TestNegativeSize(t *testing.T) {
	a := New(nil)
	_, err := a.Bytes(-1)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidArgument))
}
