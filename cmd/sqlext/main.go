// Command sqlext builds the extension as a C shared library exporting the
// external language API:
//
//	go build -buildmode=c-shared -o libsqlext.so ./cmd/sqlext
//
// Every export converts its C arguments, delegates to an
// extension.Extension and returns its Status. Buffers handed back to the
// engine are allocated with calloc and freed by CleanupSession.
package main

/*
#include <stdint.h>
#include <stdlib.h>

typedef unsigned char SQLCHAR;
typedef int16_t       SQLSMALLINT;
typedef uint16_t      SQLUSMALLINT;
typedef int32_t       SQLINTEGER;
typedef uint64_t      SQLULEN;
typedef void         *SQLPOINTER;
typedef int16_t       SQLRETURN;

typedef struct {
	uint32_t Data1;
	uint16_t Data2;
	uint16_t Data3;
	uint8_t  Data4[8];
} SQLGUID;
*/
import "C"

import (
	"unsafe"

	"github.com/gofrs/uuid"

	"github.com/ha1tch/sqlext/pkg/arena"
	"github.com/ha1tch/sqlext/pkg/extension"
	"github.com/ha1tch/sqlext/pkg/session"
	"github.com/ha1tch/sqlext/pkg/sqltype"
	"github.com/ha1tch/sqlext/pkg/wire"
)

func main() {}

var ext = extension.New(extension.WithAllocator(cAllocator{}))

// cAllocator allocates session blocks with calloc so that the engine can
// hold on to them across calls.
type cAllocator struct{}

func (cAllocator) Alloc(n int) []byte {
	p := C.calloc(C.size_t(max(n, 1)), 1)
	if p == nil {
		return nil
	}
	return unsafe.Slice((*byte)(p), max(n, 1))[:n]
}

func (cAllocator) Free(b []byte) {
	if cap(b) == 0 {
		return
	}
	C.free(unsafe.Pointer(unsafe.SliceData(b[:1])))
}

func status(st extension.Status) C.SQLRETURN { return C.SQLRETURN(st) }

func goString(p *C.SQLCHAR, n C.SQLULEN) string {
	return bytesToString(unsafe.Pointer(p), uint64(n))
}

func bytesToString(p unsafe.Pointer, n uint64) string {
	if p == nil || n == 0 {
		return ""
	}
	return string(unsafe.Slice((*byte)(p), n))
}

func sessionID(g C.SQLGUID) uuid.UUID {
	return guidFromBytes(unsafe.Slice((*byte)(unsafe.Pointer(&g)), sqltype.GUIDSize))
}

// guidFromBytes reads an SQLGUID laid out in native byte order.
func guidFromBytes(raw []byte) uuid.UUID {
	v, err := wire.DecodeValue(sqltype.GUID, raw, sqltype.GUIDSize)
	if err != nil {
		return uuid.Nil
	}
	return v.(uuid.UUID)
}

//export GetInterfaceVersion
func GetInterfaceVersion() C.SQLUSMALLINT {
	return C.SQLUSMALLINT(ext.GetInterfaceVersion())
}

//export Init
func Init(extensionParams *C.SQLCHAR, extensionParamsLength C.SQLULEN,
	extensionPath *C.SQLCHAR, extensionPathLength C.SQLULEN,
	publicLibraryPath *C.SQLCHAR, publicLibraryPathLength C.SQLULEN,
	privateLibraryPath *C.SQLCHAR, privateLibraryPathLength C.SQLULEN) C.SQLRETURN {
	return status(ext.Init(
		goString(extensionParams, extensionParamsLength),
		goString(extensionPath, extensionPathLength),
		goString(publicLibraryPath, publicLibraryPathLength),
		goString(privateLibraryPath, privateLibraryPathLength),
	))
}

//export InitSession
func InitSession(sessionId C.SQLGUID, taskId C.SQLUSMALLINT, numTasks C.SQLUSMALLINT,
	script *C.SQLCHAR, scriptLength C.SQLULEN,
	inputSchemaColumnsNumber C.SQLUSMALLINT, parametersNumber C.SQLUSMALLINT,
	inputDataName *C.SQLCHAR, inputDataNameLength C.SQLUSMALLINT,
	outputDataName *C.SQLCHAR, outputDataNameLength C.SQLUSMALLINT) C.SQLRETURN {
	return status(ext.InitSession(sessionID(sessionId), int(taskId), int(numTasks),
		goString(script, scriptLength),
		int(inputSchemaColumnsNumber), int(parametersNumber),
		goString(inputDataName, C.SQLULEN(inputDataNameLength)),
		goString(outputDataName, C.SQLULEN(outputDataNameLength)),
	))
}

//export InitColumn
func InitColumn(sessionId C.SQLGUID, taskId C.SQLUSMALLINT, columnNumber C.SQLUSMALLINT,
	columnName *C.SQLCHAR, columnNameLength C.SQLSMALLINT,
	dataType C.SQLSMALLINT, columnSize C.SQLULEN, decimalDigits C.SQLSMALLINT,
	nullable C.SQLSMALLINT, partitionByNumber C.SQLSMALLINT, orderByNumber C.SQLSMALLINT) C.SQLRETURN {
	return status(ext.InitColumn(sessionID(sessionId), int(taskId), int(columnNumber),
		goString(columnName, C.SQLULEN(max(columnNameLength, 0))),
		int16(dataType), uint64(columnSize), int16(decimalDigits), int16(nullable),
		int32(partitionByNumber), int32(orderByNumber),
	))
}

//export InitParam
func InitParam(sessionId C.SQLGUID, taskId C.SQLUSMALLINT, paramNumber C.SQLUSMALLINT,
	paramName *C.SQLCHAR, paramNameLength C.SQLSMALLINT,
	dataType C.SQLSMALLINT, paramSize C.SQLULEN, decimalDigits C.SQLSMALLINT,
	paramValue C.SQLPOINTER, strLenOrInd C.SQLINTEGER, inputOutputType C.SQLSMALLINT) C.SQLRETURN {
	value := paramBytes(unsafe.Pointer(paramValue), int16(dataType), int32(strLenOrInd))
	return status(ext.InitParam(sessionID(sessionId), int(taskId), int(paramNumber),
		goString(paramName, C.SQLULEN(max(paramNameLength, 0))),
		int16(dataType), uint64(paramSize), int16(decimalDigits),
		value, int32(strLenOrInd), int16(inputOutputType),
	))
}

// paramBytes views a parameter value. Fixed width values are read at their
// natural width and strLenOrInd only marks nulls; the engine passes 0 for
// them. Strings and binaries are read at strLenOrInd bytes.
func paramBytes(p unsafe.Pointer, dataType int16, strLenOrInd int32) []byte {
	if p == nil || strLenOrInd == sqltype.NullData {
		return nil
	}
	t := sqltype.Type(dataType)
	if !sqltype.IsVariable(t) {
		w, err := sqltype.Width(t)
		if err != nil {
			// InitParam reports the unknown type.
			return nil
		}
		return unsafe.Slice((*byte)(p), w)
	}
	if strLenOrInd <= 0 {
		return []byte{}
	}
	return unsafe.Slice((*byte)(p), int(strLenOrInd))
}

//export Execute
func Execute(sessionId C.SQLGUID, taskId C.SQLUSMALLINT, rowsNumber C.SQLULEN,
	data *C.SQLPOINTER, strLenOrInd **C.SQLINTEGER, outputSchemaColumnsNumber *C.SQLUSMALLINT) C.SQLRETURN {
	id, task, rows := sessionID(sessionId), int(taskId), int(rowsNumber)

	var (
		buffers [][]byte
		lengths [][]int32
	)
	// A missing session is reported by ext.Execute itself.
	if s, err := ext.Session(id, task); err == nil {
		buffers, lengths = inputViews(s.Columns(), rows, data, strLenOrInd)
	}

	n, st := ext.Execute(id, task, rows, buffers, lengths)
	if st == extension.Success && outputSchemaColumnsNumber != nil {
		*outputSchemaColumnsNumber = C.SQLUSMALLINT(n)
	}
	return status(st)
}

// inputViews wraps the engine's column buffers without copying them.
func inputViews(cols []wire.Column, rows int, data *C.SQLPOINTER, strLenOrInd **C.SQLINTEGER) ([][]byte, [][]int32) {
	if len(cols) == 0 || data == nil {
		return nil, nil
	}
	ptrs := unsafe.Slice(data, len(cols))
	var lptrs []*C.SQLINTEGER
	if strLenOrInd != nil {
		lptrs = unsafe.Slice(strLenOrInd, len(cols))
	}

	buffers := make([][]byte, len(cols))
	lengths := make([][]int32, len(cols))
	for j, col := range cols {
		if lptrs != nil && lptrs[j] != nil {
			lengths[j] = unsafe.Slice((*int32)(unsafe.Pointer(lptrs[j])), rows)
		}
		if ptrs[j] == nil {
			continue
		}
		size, err := wire.BufferSize(col, rows, lengths[j])
		if err != nil {
			// Decoding reports the missing length map.
			size = 0
		}
		buffers[j] = unsafe.Slice((*byte)(ptrs[j]), size)
	}
	return buffers, lengths
}

//export GetResultColumn
func GetResultColumn(sessionId C.SQLGUID, taskId C.SQLUSMALLINT, columnNumber C.SQLUSMALLINT,
	dataType *C.SQLSMALLINT, columnSize *C.SQLULEN, decimalDigits *C.SQLSMALLINT, nullable *C.SQLSMALLINT) C.SQLRETURN {
	desc, st := ext.GetResultColumn(sessionID(sessionId), int(taskId), int(columnNumber))
	if st != extension.Success {
		return status(st)
	}
	if dataType != nil {
		*dataType = C.SQLSMALLINT(desc.Type)
	}
	if columnSize != nil {
		*columnSize = C.SQLULEN(desc.Size)
	}
	if decimalDigits != nil {
		*decimalDigits = C.SQLSMALLINT(desc.DecimalDigits)
	}
	if nullable != nil {
		*nullable = 0
		if desc.Nullable {
			*nullable = 1
		}
	}
	return status(st)
}

//export GetResults
func GetResults(sessionId C.SQLGUID, taskId C.SQLUSMALLINT,
	rowsNumber *C.SQLULEN, data **C.SQLPOINTER, strLenOrInd ***C.SQLINTEGER) C.SQLRETURN {
	id, task := sessionID(sessionId), int(taskId)
	res, st := ext.GetResults(id, task)
	if st != extension.Success {
		return status(st)
	}

	// The pointer tables live in the session arena next to the buffers
	// they point to.
	st = ext.Do("GetResults", id, task, func(s *session.Session) error {
		dataTable, err := arena.Slice[C.SQLPOINTER](s.Arena(), len(res.Data))
		if err != nil {
			return err
		}
		lengthTable, err := arena.Slice[*C.SQLINTEGER](s.Arena(), len(res.Lengths))
		if err != nil {
			return err
		}
		for j, b := range res.Data {
			dataTable[j] = C.SQLPOINTER(unsafe.Pointer(unsafe.SliceData(b)))
		}
		for j, l := range res.Lengths {
			lengthTable[j] = (*C.SQLINTEGER)(unsafe.Pointer(unsafe.SliceData(l)))
		}

		if rowsNumber != nil {
			*rowsNumber = C.SQLULEN(res.Rows)
		}
		if data != nil {
			*data = unsafe.SliceData(dataTable)
		}
		if strLenOrInd != nil {
			*strLenOrInd = unsafe.SliceData(lengthTable)
		}
		return nil
	})
	return status(st)
}

//export GetOutputParam
func GetOutputParam(sessionId C.SQLGUID, taskId C.SQLUSMALLINT, paramNumber C.SQLUSMALLINT,
	paramValue *C.SQLPOINTER, strLenOrInd *C.SQLINTEGER) C.SQLRETURN {
	buf, length, st := ext.GetOutputParam(sessionID(sessionId), int(taskId), int(paramNumber))
	if st != extension.Success {
		return status(st)
	}
	if paramValue != nil {
		*paramValue = nil
		if buf != nil {
			*paramValue = C.SQLPOINTER(unsafe.Pointer(unsafe.SliceData(buf)))
		}
	}
	if strLenOrInd != nil {
		*strLenOrInd = C.SQLINTEGER(length)
	}
	return status(st)
}

//export CleanupSession
func CleanupSession(sessionId C.SQLGUID, taskId C.SQLUSMALLINT) C.SQLRETURN {
	return status(ext.CleanupSession(sessionID(sessionId), int(taskId)))
}

//export Cleanup
func Cleanup() C.SQLRETURN {
	return status(ext.Cleanup())
}
