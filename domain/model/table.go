package model

import "strings"

// Table represents a dataset as database table structure. It carries the
// table name and column schema only; rows stream through a DatasetScan and
// are never collected here.
type Table struct {
	// Name is table name derived from the dataset path.
	name string
	// Columns is the column schema in dataset order.
	columns []ColumnInfo
}

// NewTable create new Table.
func NewTable(name string, columns []ColumnInfo) *Table {
	return &Table{
		name:    name,
		columns: columns,
	}
}

// Name return table name.
func (t *Table) Name() string {
	return t.name
}

// Columns return the column schema.
func (t *Table) Columns() []ColumnInfo {
	return t.columns
}

// Header return the column names in order.
func (t *Table) Header() Header {
	header := make(Header, len(t.columns))
	for i, c := range t.columns {
		header[i] = c.Name
	}
	return header
}

// Equal compare Table.
func (t *Table) Equal(t2 *Table) bool {
	if t.Name() != t2.Name() {
		return false
	}
	if len(t.columns) != len(t2.columns) {
		return false
	}
	for i, c := range t.columns {
		if c != t2.columns[i] {
			return false
		}
	}
	return true
}

// TableFromDatasetPath creates a table name from a dataset path. Leading
// slashes are dropped and inner slashes become underscores, so
// "/sensors/day1" names the table "sensors_day1".
func TableFromDatasetPath(path string) string {
	name := strings.Trim(path, "/")
	return strings.ReplaceAll(name, "/", "_")
}
