// Package wire converts between the engine's native columnar buffers and
// dataset tables.
//
// A column on the wire is a data buffer plus a length map of one int32 per
// row. Fixed-width columns are packed native-endian arrays; variable columns
// (CHAR, WCHAR, BINARY) are the row payloads concatenated in row order. A
// length entry of sqltype.NullData marks a null row; otherwise it holds the
// row's byte count.
package wire

import (
	"fmt"

	"github.com/ha1tch/sqlext/pkg/sqltype"
)

// Column describes one column of an input or output data set.
type Column struct {
	Ordinal int
	Name    string
	Type    sqltype.Type

	// Size is the declared size in the type's natural unit: bytes for CHAR
	// and BINARY, characters for WCHAR, precision for NUMERIC and the byte
	// width for everything else.
	Size          uint64
	DecimalDigits int16
	Nullable      bool

	// PartitionBy and OrderBy are -1 when absent.
	PartitionBy int32
	OrderBy     int32
}

func (c Column) String() string {
	return fmt.Sprintf("%d:%s %s(%d)", c.Ordinal, c.Name, c.Type, c.Size)
}
