package model

import "errors"

// Predefined errors
var (
	// ErrContainerNotFound is returned when a container file does not exist
	ErrContainerNotFound = errors.New("container not found")

	// ErrDatasetNotFound is returned when a dataset path does not resolve inside a container
	ErrDatasetNotFound = errors.New("dataset not found")

	// ErrUnsupportedLayout is returned when a dataset's shape or storage cannot
	// be mapped to rows: variable-length data, references, nested compounds,
	// multi-dimensional extents, and similar
	ErrUnsupportedLayout = errors.New("unsupported dataset layout")

	// ErrUnsupportedType is returned when an element type has no column mapping
	ErrUnsupportedType = errors.New("unsupported element type")

	// ErrDuplicateColumnName is returned when a compound type contains duplicate member names
	ErrDuplicateColumnName = errors.New("duplicate column name")

	// ErrInvalidProjection is returned when a projection references a column
	// that does not exist
	ErrInvalidProjection = errors.New("invalid projection")

	// ErrTruncatedRecord is returned when the stored data ends before the
	// declared number of records
	ErrTruncatedRecord = errors.New("truncated record")

	// ErrConversion is returned when a stored value cannot be represented in
	// its column type
	ErrConversion = errors.New("value conversion failed")
)
