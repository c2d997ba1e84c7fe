// Package model provides the domain model for hdf5sql.
package model

import "math"

// Header is the ordered list of column names for a dataset.
type Header []string

// NewHeader create new Header.
func NewHeader(h []string) Header {
	return Header(h)
}

// Equal compare Header.
func (h Header) Equal(h2 Header) bool {
	if len(h) != len(h2) {
		return false
	}
	for i, v := range h {
		if v != h2[i] {
			return false
		}
	}
	return true
}

// Record is one decoded row. Cells hold the Go value for their column
// type: bool, int64, float64, string, or a typed slice for list columns.
type Record []any

// NewRecord create new Record.
func NewRecord(r []any) Record {
	return Record(r)
}

// Equal compare Record.
func (r Record) Equal(r2 Record) bool {
	if len(r) != len(r2) {
		return false
	}
	for i, v := range r {
		if !cellEqual(v, r2[i]) {
			return false
		}
	}
	return true
}

// cellEqual compares two cells, descending into list values.
func cellEqual(a, b any) bool {
	switch av := a.(type) {
	case []int64:
		bv, ok := b.([]int64)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if av[i] != bv[i] {
				return false
			}
		}
		return true
	case []float64:
		bv, ok := b.([]float64)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if av[i] != bv[i] {
				return false
			}
		}
		return true
	case []bool:
		bv, ok := b.([]bool)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if av[i] != bv[i] {
				return false
			}
		}
		return true
	case []string:
		bv, ok := b.([]string)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if av[i] != bv[i] {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}

// ColumnType represents the SQL column type a dataset field maps to.
type ColumnType int

const (
	// ColumnTypeBoolean represents a boolean stored as INTEGER 0 or 1
	ColumnTypeBoolean ColumnType = iota
	// ColumnTypeTinyInt represents an 8-bit signed integer column
	ColumnTypeTinyInt
	// ColumnTypeSmallInt represents a 16-bit signed integer column
	ColumnTypeSmallInt
	// ColumnTypeInteger represents a 32-bit signed integer column
	ColumnTypeInteger
	// ColumnTypeBigInt represents a 64-bit signed integer column
	ColumnTypeBigInt
	// ColumnTypeDouble represents a double-precision floating point column
	ColumnTypeDouble
	// ColumnTypeText represents a TEXT column
	ColumnTypeText
	// ColumnTypeList represents a fixed-length array stored as a JSON TEXT column
	ColumnTypeList
)

const (
	// sqlTypeText is the SQL TEXT type string
	sqlTypeText = "TEXT"
	// sqlTypeInteger is the SQL INTEGER type string
	sqlTypeInteger = "INTEGER"
	// sqlTypeReal is the SQL REAL type string
	sqlTypeReal = "REAL"
)

// String returns the SQL column type string.
func (ct ColumnType) String() string {
	switch ct {
	case ColumnTypeBoolean, ColumnTypeTinyInt, ColumnTypeSmallInt, ColumnTypeInteger, ColumnTypeBigInt:
		return sqlTypeInteger
	case ColumnTypeDouble:
		return sqlTypeReal
	case ColumnTypeText:
		return sqlTypeText
	case ColumnTypeList:
		// Lists serialize to JSON arrays.
		return sqlTypeText
	default:
		return sqlTypeText
	}
}

// Name returns the logical type name, finer grained than the SQL storage
// class.
func (ct ColumnType) Name() string {
	switch ct {
	case ColumnTypeBoolean:
		return "BOOLEAN"
	case ColumnTypeTinyInt:
		return "TINYINT"
	case ColumnTypeSmallInt:
		return "SMALLINT"
	case ColumnTypeInteger:
		return "INTEGER"
	case ColumnTypeBigInt:
		return "BIGINT"
	case ColumnTypeDouble:
		return "DOUBLE"
	case ColumnTypeText:
		return "TEXT"
	case ColumnTypeList:
		return "LIST"
	default:
		return "TEXT"
	}
}

// IsInteger reports whether the column stores integers.
func (ct ColumnType) IsInteger() bool {
	switch ct {
	case ColumnTypeBoolean, ColumnTypeTinyInt, ColumnTypeSmallInt, ColumnTypeInteger, ColumnTypeBigInt:
		return true
	}
	return false
}

// ColumnInfo represents column information with name and mapped type.
// Elem carries the element type for list columns.
type ColumnInfo struct {
	Name string
	Type ColumnType
	Elem ColumnType
}

// maxSafeUint is the largest unsigned value representable in an int64 cell.
const maxSafeUint = uint64(math.MaxInt64)
