package hdf5sql

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"sync/atomic"

	"github.com/apache/arrow/go/v18/arrow"
	"github.com/apache/arrow/go/v18/arrow/array"
	"github.com/apache/arrow/go/v18/arrow/memory"

	"github.com/nao1215/hdf5sql/domain/model"
)

// ReadDatasetArrow opens the container at path and returns an Apache Arrow
// record reader over the named dataset. Column types map onto Arrow types
// directly: integer columns keep their stored width, two-state enumerations
// become booleans, strings become UTF-8, and fixed-size array columns become
// Arrow lists.
//
// Each call to Next decodes one batch of rows into an Arrow record. The
// record is owned by the reader and released on the following Next call;
// call Retain on it to keep it longer. The reader holds the container open
// until released:
//
//	reader, err := hdf5sql.ReadDatasetArrow(ctx, "measurements.h5", "/sensors")
//	if err != nil {
//		return err
//	}
//	defer reader.Release()
//
//	for reader.Next() {
//		record := reader.Record()
//		// process record
//	}
//	if err := reader.Err(); err != nil {
//		return err
//	}
//
// The context is checked between batches. Canceling it stops the reader
// with the context's error.
func ReadDatasetArrow(ctx context.Context, path, dataset string, opts ...ScanOption) (array.RecordReader, error) {
	scan, err := ScanDataset(path, dataset, opts...)
	if err != nil {
		return nil, err
	}

	schema, err := arrowSchemaFor(scan.Columns())
	if err != nil {
		if closeErr := scan.Close(); closeErr != nil {
			return nil, errors.Join(err, closeErr)
		}
		return nil, err
	}

	return &datasetRecordReader{
		refCount: 1,
		ctx:      ctx,
		schema:   schema,
		scan:     scan,
		builder:  array.NewRecordBuilder(memory.NewGoAllocator(), schema),
		limit:    NewMemoryLimit(0),
	}, nil
}

// arrowSchemaFor maps dataset columns onto an Arrow schema. Compound fields
// always carry a value, so every field is non-nullable.
func arrowSchemaFor(columns []ColumnInfo) (*arrow.Schema, error) {
	fields := make([]arrow.Field, len(columns))
	for i, col := range columns {
		dt, err := arrowTypeFor(col)
		if err != nil {
			return nil, err
		}
		fields[i] = arrow.Field{Name: col.Name, Type: dt, Nullable: false}
	}
	return arrow.NewSchema(fields, nil), nil
}

// arrowTypeFor returns the Arrow data type for one column.
func arrowTypeFor(col ColumnInfo) (arrow.DataType, error) {
	if col.Type == model.ColumnTypeList {
		elem, err := arrowScalarTypeFor(col.Elem)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", col.Name, err)
		}
		return arrow.ListOf(elem), nil
	}
	dt, err := arrowScalarTypeFor(col.Type)
	if err != nil {
		return nil, fmt.Errorf("column %s: %w", col.Name, err)
	}
	return dt, nil
}

// arrowScalarTypeFor maps a scalar column type onto an Arrow data type.
func arrowScalarTypeFor(ct ColumnType) (arrow.DataType, error) {
	switch ct {
	case model.ColumnTypeBoolean:
		return arrow.FixedWidthTypes.Boolean, nil
	case model.ColumnTypeTinyInt:
		return arrow.PrimitiveTypes.Int8, nil
	case model.ColumnTypeSmallInt:
		return arrow.PrimitiveTypes.Int16, nil
	case model.ColumnTypeInteger:
		return arrow.PrimitiveTypes.Int32, nil
	case model.ColumnTypeBigInt:
		return arrow.PrimitiveTypes.Int64, nil
	case model.ColumnTypeDouble:
		return arrow.PrimitiveTypes.Float64, nil
	case model.ColumnTypeText:
		return arrow.BinaryTypes.String, nil
	default:
		return nil, fmt.Errorf("no arrow mapping for column type %s", ct.Name())
	}
}

// datasetRecordReader adapts a dataset scan to the Arrow RecordReader
// interface. It owns the scan and the current record.
type datasetRecordReader struct {
	refCount int64
	ctx      context.Context
	schema   *arrow.Schema
	scan     *Scan
	builder  *array.RecordBuilder
	limit    *MemoryLimit
	cur      arrow.Record
	err      error
	done     bool
}

// Retain increases the reference count by one.
func (r *datasetRecordReader) Retain() {
	atomic.AddInt64(&r.refCount, 1)
}

// Release decreases the reference count by one. When it reaches zero the
// current record, the builder and the underlying scan are released.
func (r *datasetRecordReader) Release() {
	if atomic.AddInt64(&r.refCount, -1) == 0 {
		if r.cur != nil {
			r.cur.Release()
			r.cur = nil
		}
		r.builder.Release()
		if err := r.scan.Close(); err != nil && r.err == nil {
			r.err = err
		}
	}
}

// Schema returns the schema of the records produced by this reader.
func (r *datasetRecordReader) Schema() *arrow.Schema {
	return r.schema
}

// Next advances to the next record. It returns false when the dataset is
// exhausted or an error occurred; check Err afterward.
func (r *datasetRecordReader) Next() bool {
	if r.cur != nil {
		r.cur.Release()
		r.cur = nil
	}
	if r.done || r.err != nil {
		return false
	}

	if err := r.ctx.Err(); err != nil {
		r.err = err
		return false
	}

	switch r.limit.CheckMemoryUsage() {
	case MemoryStatusExceeded:
		r.err = r.limit.CreateMemoryError("arrow export")
		return false
	case MemoryStatusWarning:
		runtime.GC()
	case MemoryStatusOK:
	}

	batch, err := r.scan.Next()
	if err != nil {
		if !errors.Is(err, io.EOF) {
			r.err = err
		}
		r.done = true
		return false
	}

	for _, row := range batch.Rows {
		for i, val := range row {
			if err := appendArrowCell(r.builder.Field(i), batch.Columns[i], val); err != nil {
				r.err = err
				r.done = true
				return false
			}
		}
	}
	r.cur = r.builder.NewRecord()
	return true
}

// Record returns the current record. It is valid until the next call to
// Next; call Retain to keep it beyond that.
func (r *datasetRecordReader) Record() arrow.Record {
	return r.cur
}

// Err returns the first error encountered while reading.
func (r *datasetRecordReader) Err() error {
	return r.err
}

// appendArrowCell appends one decoded value to the matching Arrow builder.
// Integer widths were checked during decoding, so the narrowing conversions
// cannot overflow.
func appendArrowCell(b array.Builder, col ColumnInfo, val any) error {
	switch builder := b.(type) {
	case *array.BooleanBuilder:
		v, ok := val.(bool)
		if !ok {
			return cellTypeError(col, val)
		}
		builder.Append(v)
	case *array.Int8Builder:
		v, ok := val.(int64)
		if !ok {
			return cellTypeError(col, val)
		}
		builder.Append(int8(v))
	case *array.Int16Builder:
		v, ok := val.(int64)
		if !ok {
			return cellTypeError(col, val)
		}
		builder.Append(int16(v))
	case *array.Int32Builder:
		v, ok := val.(int64)
		if !ok {
			return cellTypeError(col, val)
		}
		builder.Append(int32(v))
	case *array.Int64Builder:
		v, ok := val.(int64)
		if !ok {
			return cellTypeError(col, val)
		}
		builder.Append(v)
	case *array.Float64Builder:
		v, ok := val.(float64)
		if !ok {
			return cellTypeError(col, val)
		}
		builder.Append(v)
	case *array.StringBuilder:
		v, ok := val.(string)
		if !ok {
			return cellTypeError(col, val)
		}
		builder.Append(v)
	case *array.ListBuilder:
		builder.Append(true)
		return appendArrowList(builder.ValueBuilder(), col, val)
	default:
		return fmt.Errorf("no arrow builder for column %s (%s)", col.Name, col.Type.Name())
	}
	return nil
}

// appendArrowList appends the elements of a fixed-size array value to the
// list's element builder.
func appendArrowList(b array.Builder, col ColumnInfo, val any) error {
	switch builder := b.(type) {
	case *array.BooleanBuilder:
		vs, ok := val.([]bool)
		if !ok {
			return cellTypeError(col, val)
		}
		for _, v := range vs {
			builder.Append(v)
		}
	case *array.Int8Builder:
		vs, ok := val.([]int64)
		if !ok {
			return cellTypeError(col, val)
		}
		for _, v := range vs {
			builder.Append(int8(v))
		}
	case *array.Int16Builder:
		vs, ok := val.([]int64)
		if !ok {
			return cellTypeError(col, val)
		}
		for _, v := range vs {
			builder.Append(int16(v))
		}
	case *array.Int32Builder:
		vs, ok := val.([]int64)
		if !ok {
			return cellTypeError(col, val)
		}
		for _, v := range vs {
			builder.Append(int32(v))
		}
	case *array.Int64Builder:
		vs, ok := val.([]int64)
		if !ok {
			return cellTypeError(col, val)
		}
		for _, v := range vs {
			builder.Append(v)
		}
	case *array.Float64Builder:
		vs, ok := val.([]float64)
		if !ok {
			return cellTypeError(col, val)
		}
		for _, v := range vs {
			builder.Append(v)
		}
	case *array.StringBuilder:
		vs, ok := val.([]string)
		if !ok {
			return cellTypeError(col, val)
		}
		for _, v := range vs {
			builder.Append(v)
		}
	default:
		return fmt.Errorf("no arrow element builder for column %s (%s)", col.Name, col.Elem.Name())
	}
	return nil
}

// cellTypeError reports a decoded value whose Go type does not match the
// column schema.
func cellTypeError(col ColumnInfo, val any) error {
	return fmt.Errorf("column %s: unexpected value type %T", col.Name, val)
}
