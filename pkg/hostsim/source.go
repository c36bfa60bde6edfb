// Package hostsim plays the database engine's side of the call sequence.
//
// It reads an input result set through database/sql, encodes it into the
// native columnar form, drives an extension.Extension through one session
// and decodes what comes back. It exists for local testing of executors and
// for the exthost command.
package hostsim

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/uuid"
	"github.com/golang-sql/civil"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	mssql "github.com/microsoft/go-mssqldb"
	"github.com/shopspring/decimal"

	"github.com/ha1tch/sqlext/pkg/dataset"
	"github.com/ha1tch/sqlext/pkg/errors"
	"github.com/ha1tch/sqlext/pkg/sqltype"
	"github.com/ha1tch/sqlext/pkg/wire"
)

// Supported database/sql driver names.
const (
	DriverSQLite    = "sqlite3"
	DriverSQLServer = "sqlserver"
	DriverPostgres  = "pgx"
)

// Input is a decoded input result set with its declared columns.
type Input struct {
	Columns []wire.Column
	Table   *dataset.Table
}

// Open opens a database through one of the supported drivers. "mssql" and
// "postgres" are accepted as aliases.
func Open(driver, dsn string) (*sql.DB, string, error) {
	switch strings.ToLower(driver) {
	case "sqlite", DriverSQLite:
		driver = DriverSQLite
	case "mssql", DriverSQLServer:
		driver = DriverSQLServer
	case "postgres", "postgresql", DriverPostgres:
		driver = DriverPostgres
	default:
		return nil, "", errors.InvalidArgument("unsupported driver %q", driver).WithOp("HostSim.Open").Err()
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, "", errors.Wrapf(err, errors.ErrCodeInvalidArgument, "open %s", driver).
			WithOp("HostSim.Open").Err()
	}
	return db, driver, nil
}

// driverTypes maps database type names that sqltype.ParseName does not
// resolve, or resolves differently for the driver.
var driverTypes = map[string]map[string]sqltype.Type{
	DriverSQLite: {
		"INTEGER": sqltype.BigInt,
		"INT":     sqltype.BigInt,
		"REAL":    sqltype.Double,
		"FLOAT":   sqltype.Double,
		"DOUBLE":  sqltype.Double,
	},
	DriverSQLServer: {
		"MONEY":          sqltype.Numeric,
		"SMALLMONEY":     sqltype.Numeric,
		"SMALLDATETIME":  sqltype.Timestamp,
		"DATETIMEOFFSET": sqltype.Timestamp,
		"IMAGE":          sqltype.Binary,
		"FLOAT":          sqltype.Double,
	},
	DriverPostgres: {
		"INT2":        sqltype.SmallInt,
		"INT4":        sqltype.Integer,
		"INT8":        sqltype.BigInt,
		"BPCHAR":      sqltype.Char,
		"BYTEA":       sqltype.Binary,
		"TIMESTAMPTZ": sqltype.Timestamp,
	},
}

// MapType returns the catalog type for a database column type name.
func MapType(driver, dbType string) (sqltype.Type, error) {
	name := strings.ToUpper(strings.TrimSpace(dbType))
	if t, ok := driverTypes[driver][name]; ok {
		return t, nil
	}
	return sqltype.ParseName(name)
}

// Query runs query and returns its result set as an Input.
func Query(ctx context.Context, db *sql.DB, driver, query string, args ...any) (*Input, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInvalidArgument, "input query failed").
			WithOp("HostSim.Query").Err()
	}
	defer rows.Close()

	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}

	var cells [][]any
	for rows.Next() {
		row := make([]any, len(types))
		ptrs := make([]any, len(types))
		for i := range row {
			ptrs[i] = &row[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeMalformed, "scan input row").
				WithOp("HostSim.Query").Err()
		}
		cells = append(cells, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	in := &Input{Columns: make([]wire.Column, len(types))}
	cols := make([]dataset.Column, len(types))
	for j, ct := range types {
		desc := describe(driver, j, ct, cells)
		col, err := wire.NewColumn(desc.Type, desc.Name, len(cells))
		if err != nil {
			return nil, err
		}
		for i, row := range cells {
			if row[j] == nil {
				continue
			}
			v, err := Coerce(desc.Type, normalize(driver, ct.DatabaseTypeName(), row[j]))
			if err != nil {
				return nil, errors.Wrapf(err, errors.GetCode(err), "column %s row %d", desc.Name, i).
					WithOp("HostSim.Query").Err()
			}
			if err := col.Set(i, v); err != nil {
				return nil, err
			}
		}
		in.Columns[j] = desc
		cols[j] = col
	}

	table, err := dataset.New(len(cells), cols...)
	if err != nil {
		return nil, err
	}
	in.Table = table
	return in, nil
}

func describe(driver string, ordinal int, ct *sql.ColumnType, cells [][]any) wire.Column {
	desc := wire.Column{
		Ordinal:     ordinal,
		Name:        ct.Name(),
		PartitionBy: -1,
		OrderBy:     -1,
	}
	if n, ok := ct.Nullable(); ok {
		desc.Nullable = n
	} else {
		desc.Nullable = true
	}

	typ, err := MapType(driver, ct.DatabaseTypeName())
	if err != nil {
		// Untyped expressions and unknown declared types take the type of
		// their first value.
		typ = sqltype.Char
		for _, row := range cells {
			if row[ordinal] == nil {
				continue
			}
			if t, ierr := sqltype.Infer(row[ordinal]); ierr == nil {
				typ = t
			}
			break
		}
	}
	desc.Type = typ

	if l, ok := ct.Length(); ok && l > 0 && l < 1<<31 {
		desc.Size = uint64(l)
	}
	if p, s, ok := ct.DecimalSize(); ok && typ == sqltype.Numeric {
		desc.Size = uint64(p)
		desc.DecimalDigits = int16(s)
	}
	return desc
}

// normalize repairs driver specific representations before coercion.
func normalize(driver, dbType string, v any) any {
	if driver == DriverSQLServer && strings.EqualFold(dbType, "UNIQUEIDENTIFIER") {
		if b, ok := v.([]byte); ok {
			var u mssql.UniqueIdentifier
			if err := u.Scan(b); err == nil {
				return uuid.UUID(u)
			}
		}
	}
	return v
}

// Coerce converts a driver or literal value to the Go type of t.
func Coerce(t sqltype.Type, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch t {
	case sqltype.TinyInt, sqltype.SmallInt, sqltype.Integer, sqltype.BigInt:
		n, err := toInt(v)
		if err != nil {
			return nil, mismatch(t, v, err)
		}
		return fitSigned(t, n)
	case sqltype.UTinyInt, sqltype.USmallInt, sqltype.UInteger, sqltype.UBigInt:
		n, err := toInt(v)
		if err != nil || n < 0 {
			return nil, mismatch(t, v, err)
		}
		return fitUnsigned(t, uint64(n))
	case sqltype.Real:
		f, err := toFloat(v)
		if err != nil {
			return nil, mismatch(t, v, err)
		}
		return float32(f), nil
	case sqltype.Float, sqltype.Double:
		f, err := toFloat(v)
		if err != nil {
			return nil, mismatch(t, v, err)
		}
		return f, nil
	case sqltype.Bit:
		switch x := v.(type) {
		case bool:
			return x, nil
		case string:
			b, err := strconv.ParseBool(x)
			if err != nil {
				return nil, mismatch(t, v, err)
			}
			return b, nil
		}
		n, err := toInt(v)
		if err != nil {
			return nil, mismatch(t, v, err)
		}
		return n != 0, nil
	case sqltype.Char, sqltype.WChar:
		switch x := v.(type) {
		case string:
			return x, nil
		case []byte:
			return string(x), nil
		case time.Time:
			return x.Format(time.RFC3339Nano), nil
		default:
			return fmt.Sprint(x), nil
		}
	case sqltype.Binary:
		switch x := v.(type) {
		case []byte:
			return append([]byte(nil), x...), nil
		case string:
			return []byte(x), nil
		}
	case sqltype.GUID:
		switch x := v.(type) {
		case uuid.UUID:
			return x, nil
		case [16]byte:
			return uuid.UUID(x), nil
		case []byte:
			if len(x) == uuid.Size {
				return uuid.FromBytes(x)
			}
			u, err := uuid.FromString(string(x))
			if err != nil {
				return nil, mismatch(t, v, err)
			}
			return u, nil
		case string:
			u, err := uuid.FromString(x)
			if err != nil {
				return nil, mismatch(t, v, err)
			}
			return u, nil
		}
	case sqltype.Date:
		switch x := v.(type) {
		case civil.Date:
			return x, nil
		case time.Time:
			return civil.DateOf(x), nil
		case string:
			d, err := civil.ParseDate(x)
			if err != nil {
				return nil, mismatch(t, v, err)
			}
			return d, nil
		}
	case sqltype.Timestamp:
		switch x := v.(type) {
		case civil.DateTime:
			return x, nil
		case time.Time:
			return civil.DateTimeOf(x), nil
		case string:
			return parseDateTime(t, x)
		case []byte:
			return parseDateTime(t, string(x))
		}
	case sqltype.Numeric:
		switch x := v.(type) {
		case decimal.Decimal:
			return x, nil
		case string:
			d, err := decimal.NewFromString(x)
			if err != nil {
				return nil, mismatch(t, v, err)
			}
			return d, nil
		case []byte:
			d, err := decimal.NewFromString(string(x))
			if err != nil {
				return nil, mismatch(t, v, err)
			}
			return d, nil
		case float64:
			return decimal.NewFromFloat(x), nil
		case int64:
			return decimal.NewFromInt(x), nil
		}
	default:
		return nil, errors.NotImplemented("data type " + t.String()).WithOp("HostSim.Coerce").Err()
	}
	return nil, mismatch(t, v, nil)
}

func parseDateTime(t sqltype.Type, s string) (any, error) {
	if dt, err := civil.ParseDateTime(strings.Replace(s, " ", "T", 1)); err == nil {
		return dt, nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999999", "2006-01-02"} {
		if ts, err := time.Parse(layout, s); err == nil {
			return civil.DateTimeOf(ts), nil
		}
	}
	return nil, mismatch(t, s, nil)
}

func mismatch(t sqltype.Type, v any, cause error) error {
	b := errors.Newf(errors.ErrCodeTypeMismatch, "cannot convert %T %v to %s", v, v, t).WithOp("HostSim.Coerce")
	if cause != nil {
		b = errors.Wrapf(cause, errors.ErrCodeTypeMismatch, "cannot convert %T %v to %s", v, v, t).WithOp("HostSim.Coerce")
	}
	return b.Err()
}

func toInt(v any) (int64, error) {
	switch x := v.(type) {
	case int64:
		return x, nil
	case int:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int8:
		return int64(x), nil
	case uint8:
		return int64(x), nil
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	case float64:
		return int64(x), nil
	case string:
		return strconv.ParseInt(strings.TrimSpace(x), 10, 64)
	case []byte:
		return strconv.ParseInt(strings.TrimSpace(string(x)), 10, 64)
	}
	return 0, fmt.Errorf("not an integer")
}

func toFloat(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(x), 64)
	case []byte:
		return strconv.ParseFloat(strings.TrimSpace(string(x)), 64)
	case decimal.Decimal:
		f, _ := x.Float64()
		return f, nil
	}
	return 0, fmt.Errorf("not a number")
}

func fitSigned(t sqltype.Type, n int64) (any, error) {
	switch t {
	case sqltype.TinyInt:
		if n >= -1<<7 && n < 1<<7 {
			return int8(n), nil
		}
	case sqltype.SmallInt:
		if n >= -1<<15 && n < 1<<15 {
			return int16(n), nil
		}
	case sqltype.Integer:
		if n >= -1<<31 && n < 1<<31 {
			return int32(n), nil
		}
	default:
		return n, nil
	}
	return nil, errors.Newf(errors.ErrCodeTypeMismatch, "%d overflows %s", n, t).WithOp("HostSim.Coerce").Err()
}

func fitUnsigned(t sqltype.Type, n uint64) (any, error) {
	switch t {
	case sqltype.UTinyInt:
		if n < 1<<8 {
			return uint8(n), nil
		}
	case sqltype.USmallInt:
		if n < 1<<16 {
			return uint16(n), nil
		}
	case sqltype.UInteger:
		if n < 1<<32 {
			return uint32(n), nil
		}
	default:
		return n, nil
	}
	return nil, errors.Newf(errors.ErrCodeTypeMismatch, "%d overflows %s", n, t).WithOp("HostSim.Coerce").Err()
}
