package dataset

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/ha1tch/sqlext/pkg/errors"
)

// Table is an ordered set of equal-length columns. Column names are unique
// under case-insensitive comparison.
type Table struct {
	rows    int
	columns []Column
	index   map[string]int
}

// New returns a table of rows rows. Every column must have exactly rows cells.
func New(rows int, cols ...Column) (*Table, error) {
	t := &Table{rows: rows, index: make(map[string]int, len(cols))}
	for _, c := range cols {
		if err := t.AddColumn(c); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// FromColumns returns a table whose row count is taken from the first column.
func FromColumns(cols ...Column) (*Table, error) {
	rows := 0
	if len(cols) > 0 {
		rows = cols[0].Len()
	}
	return New(rows, cols...)
}

// MustFromColumns is FromColumns for literals in executors and tests.
func MustFromColumns(cols ...Column) *Table {
	t, err := FromColumns(cols...)
	if err != nil {
		panic(err)
	}
	return t
}

// AddColumn appends c.
func (t *Table) AddColumn(c Column) error {
	if c == nil {
		return errors.InvalidArgument("nil column").WithOp("Table.AddColumn").Err()
	}
	if c.Name() == "" {
		return errors.InvalidArgument("column %d has no name", len(t.columns)).
			WithOp("Table.AddColumn").Err()
	}
	if c.Len() != t.rows {
		return errors.InvalidArgument("column %s has %d rows, table has %d", c.Name(), c.Len(), t.rows).
			WithOp("Table.AddColumn").Err()
	}
	key := strings.ToLower(c.Name())
	if _, dup := t.index[key]; dup {
		return errors.InvalidArgument("duplicate column %s", c.Name()).
			WithOp("Table.AddColumn").Err()
	}
	t.index[key] = len(t.columns)
	t.columns = append(t.columns, c)
	return nil
}

func (t *Table) NumRows() int { return t.rows }
func (t *Table) NumColumns() int { return len(t.columns) }

// Columns returns the columns in order.
func (t *Table) Columns() []Column { return t.columns }

// Column returns the i-th column.
func (t *Table) Column(i int) Column { return t.columns[i] }

// Lookup finds a column by case-insensitive name.
func (t *Table) Lookup(name string) (Column, bool) {
	i, ok := t.index[strings.ToLower(name)]
	if !ok {
		return nil, false
	}
	return t.columns[i], true
}

// Index returns the position of the named column, or -1.
func (t *Table) Index(name string) int {
	if i, ok := t.index[strings.ToLower(name)]; ok {
		return i
	}
	return -1
}

// Row returns a view of row i.
func (t *Table) Row(i int) Row {
	return Row{table: t, index: i}
}

// Rows returns views of every row.
func (t *Table) Rows() []Row {
	rows := make([]Row, t.rows)
	for i := range rows {
		rows[i] = Row{table: t, index: i}
	}
	return rows
}

// String renders the table as aligned text, NULL for null cells.
func (t *Table) String() string {
	var sb strings.Builder
	w := tabwriter.NewWriter(&sb, 0, 4, 2, ' ', 0)

	names := make([]string, len(t.columns))
	for i, c := range t.columns {
		names[i] = c.Name()
	}
	fmt.Fprintln(w, strings.Join(names, "\t"))

	cells := make([]string, len(t.columns))
	for r := 0; r < t.rows; r++ {
		for i, c := range t.columns {
			if c.IsNull(r) {
				cells[i] = "NULL"
			} else {
				cells[i] = fmt.Sprintf("%v", c.Value(r))
			}
		}
		fmt.Fprintln(w, strings.Join(cells, "\t"))
	}
	w.Flush()
	return sb.String()
}
