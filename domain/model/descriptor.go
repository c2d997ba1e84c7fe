package model

import (
	"fmt"

	"github.com/nao1215/hdf5sql/internal/hdf5"
)

// ResultColumnName is the synthetic column name used when a dataset's
// element type is not compound and therefore has no member names.
const ResultColumnName = "result"

// FieldKind classifies how a dataset field decodes into a column.
type FieldKind int

const (
	// FieldKindScalar represents a numeric field decoded to INTEGER or REAL
	FieldKindScalar FieldKind = iota
	// FieldKindBoolean represents a two-state enumeration decoded to 0 or 1
	FieldKindBoolean
	// FieldKindString represents a fixed-size string decoded to TEXT
	FieldKindString
	// FieldKindFixedArray represents a fixed-length array decoded to a list
	FieldKindFixedArray
	// FieldKindCompound represents a record of named fields, one column each
	FieldKindCompound
)

// String returns the kind name.
func (k FieldKind) String() string {
	switch k {
	case FieldKindScalar:
		return "scalar"
	case FieldKindBoolean:
		return "boolean"
	case FieldKindString:
		return "string"
	case FieldKindFixedArray:
		return "fixed-array"
	case FieldKindCompound:
		return "compound"
	default:
		return fmt.Sprintf("kind-%d", int(k))
	}
}

// FieldDescriptor describes one field of a dataset's element type and how
// it maps to a column. Compound descriptors carry their members; array
// descriptors carry their element.
type FieldDescriptor struct {
	// Name is the member name, or ResultColumnName for non-compound elements.
	Name string
	// Kind classifies the decode strategy.
	Kind FieldKind
	// Column is the mapped column type.
	Column ColumnType
	// ByteOffset is the field's offset inside one stored record.
	ByteOffset uint32
	// ByteSize is the field's stored size in bytes.
	ByteSize uint32
	// ArrayLength is the element count of a fixed-array field.
	ArrayLength int
	// Element describes a fixed-array's element field.
	Element *FieldDescriptor
	// Members lists a compound's fields in declaration order.
	Members []FieldDescriptor

	dtype *hdf5.Datatype
}

// DescribeRecord maps a dataset's element type to a field descriptor,
// rejecting shapes that cannot become rows. The descriptor is computed once
// per dataset and never changes afterwards.
func DescribeRecord(dt *hdf5.Datatype) (*FieldDescriptor, error) {
	if dt.Class == hdf5.ClassCompound {
		root := &FieldDescriptor{
			Kind:     FieldKindCompound,
			ByteSize: dt.Size,
			dtype:    dt,
		}
		seen := make(map[string]bool, len(dt.Members))
		for _, m := range dt.Members {
			if seen[m.Name] {
				return nil, fmt.Errorf("%w: %q", ErrDuplicateColumnName, m.Name)
			}
			seen[m.Name] = true
			fd, err := describeField(m.Name, m.Type)
			if err != nil {
				return nil, err
			}
			fd.ByteOffset = m.Offset
			if uint64(m.Offset)+uint64(fd.ByteSize) > uint64(dt.Size) {
				return nil, fmt.Errorf("%w: member %q extends past the %d-byte record", ErrUnsupportedLayout, m.Name, dt.Size)
			}
			root.Members = append(root.Members, *fd)
		}
		if len(root.Members) == 0 {
			return nil, fmt.Errorf("%w: compound type with no members", ErrUnsupportedLayout)
		}
		return root, nil
	}
	return describeField(ResultColumnName, dt)
}

// describeField maps one non-compound field. Compound members reaching here
// mean nesting beyond one level, which has no column representation.
func describeField(name string, dt *hdf5.Datatype) (*FieldDescriptor, error) {
	fd := &FieldDescriptor{
		Name:     name,
		ByteSize: dt.Size,
		dtype:    dt,
	}
	switch dt.Class {
	case hdf5.ClassFixed:
		if err := checkIntWidth(dt.Size); err != nil {
			return nil, err
		}
		fd.Kind = FieldKindScalar
		fd.Column = intColumn(dt.Size, dt.Signed)

	case hdf5.ClassFloat:
		if dt.Size != 4 && dt.Size != 8 {
			return nil, fmt.Errorf("%w: %d-byte floating point", ErrUnsupportedLayout, dt.Size)
		}
		fd.Kind = FieldKindScalar
		fd.Column = ColumnTypeDouble

	case hdf5.ClassString:
		fd.Kind = FieldKindString
		fd.Column = ColumnTypeText

	case hdf5.ClassEnum:
		if err := checkIntWidth(dt.Base.Size); err != nil {
			return nil, err
		}
		if isBooleanEnum(dt) {
			fd.Kind = FieldKindBoolean
			fd.Column = ColumnTypeBoolean
			break
		}
		// Other enumerations surface as their base integer type; codes are
		// checked against the declared values during decoding.
		fd.Kind = FieldKindScalar
		fd.Column = intColumn(dt.Base.Size, dt.Base.Signed)

	case hdf5.ClassArray:
		if len(dt.Dims) != 1 {
			return nil, fmt.Errorf("%w: %d-dimensional array field", ErrUnsupportedLayout, len(dt.Dims))
		}
		switch dt.Base.Class {
		case hdf5.ClassArray:
			return nil, fmt.Errorf("%w: array of arrays", ErrUnsupportedLayout)
		case hdf5.ClassCompound:
			return nil, fmt.Errorf("%w: array of compound values", ErrUnsupportedLayout)
		}
		elem, err := describeField(name, dt.Base)
		if err != nil {
			return nil, err
		}
		fd.Kind = FieldKindFixedArray
		fd.Column = ColumnTypeList
		fd.ArrayLength = int(dt.Dims[0])
		fd.Element = elem

	case hdf5.ClassCompound:
		return nil, fmt.Errorf("%w: compound nested inside another compound", ErrUnsupportedLayout)

	case hdf5.ClassVarLen:
		if dt.VarLenString {
			return nil, fmt.Errorf("%w: variable-length string", ErrUnsupportedLayout)
		}
		return nil, fmt.Errorf("%w: variable-length sequence", ErrUnsupportedLayout)

	case hdf5.ClassReference:
		return nil, fmt.Errorf("%w: object reference", ErrUnsupportedLayout)

	case hdf5.ClassOpaque:
		return nil, fmt.Errorf("%w: opaque data", ErrUnsupportedLayout)

	case hdf5.ClassBitfield:
		return nil, fmt.Errorf("%w: bitfield", ErrUnsupportedLayout)

	case hdf5.ClassTime:
		return nil, fmt.Errorf("%w: time", ErrUnsupportedLayout)

	default:
		return nil, fmt.Errorf("%w: datatype class %s", ErrUnsupportedType, dt.Class)
	}
	return fd, nil
}

// checkIntWidth restricts integer fields to the widths that fit an INTEGER
// column without padding tricks.
func checkIntWidth(size uint32) error {
	switch size {
	case 1, 2, 4, 8:
		return nil
	}
	return fmt.Errorf("%w: %d-byte integer", ErrUnsupportedLayout, size)
}

// intColumn maps an integer width to the narrowest column that holds every
// value. Unsigned types widen by one step; unsigned 64-bit keeps BIGINT and
// relies on per-value range checks.
func intColumn(size uint32, signed bool) ColumnType {
	if signed {
		switch size {
		case 1:
			return ColumnTypeTinyInt
		case 2:
			return ColumnTypeSmallInt
		case 4:
			return ColumnTypeInteger
		default:
			return ColumnTypeBigInt
		}
	}
	switch size {
	case 1:
		return ColumnTypeSmallInt
	case 2:
		return ColumnTypeInteger
	default:
		return ColumnTypeBigInt
	}
}

// isBooleanEnum reports whether an enumeration is the conventional boolean
// encoding: a one-byte base with exactly the values 0 and 1.
func isBooleanEnum(dt *hdf5.Datatype) bool {
	if dt.Base.Size != 1 || len(dt.EnumValues) != 2 {
		return false
	}
	a, b := dt.EnumValues[0], dt.EnumValues[1]
	return (a == 0 && b == 1) || (a == 1 && b == 0)
}

// recordFields returns the per-column field descriptors: the members of a
// compound element, or the field itself for everything else.
func (fd *FieldDescriptor) recordFields() []FieldDescriptor {
	if fd.Kind == FieldKindCompound {
		return fd.Members
	}
	return []FieldDescriptor{*fd}
}

// columnsOf derives the column schema from per-column fields.
func columnsOf(fields []FieldDescriptor) []ColumnInfo {
	columns := make([]ColumnInfo, len(fields))
	for i, f := range fields {
		columns[i] = ColumnInfo{Name: f.Name, Type: f.Column}
		if f.Kind == FieldKindFixedArray {
			columns[i].Elem = f.Element.Column
		}
	}
	return columns
}
