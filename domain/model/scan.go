package model

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/nao1215/hdf5sql/internal/hdf5"
)

// DefaultBatchRows is the number of rows a scan produces per batch when no
// batch size is given.
const DefaultBatchRows = 1000

// RowBatch holds one batch of decoded rows. The batch and every value in it
// are valid until the next call to DatasetScan.Next, which reuses the
// backing storage.
type RowBatch struct {
	// Columns is the projected column schema, in projection order.
	Columns []ColumnInfo
	// Rows holds the decoded rows, one value per projected column.
	Rows [][]any
}

// decodeFunc decodes one column value from a complete record. The row index
// is carried for error reporting only.
type decodeFunc func(rec []byte, row uint64) (any, error)

// DatasetScan reads a dataset once, decoding records into row batches.
// Column converters are resolved when the scan is created; columns outside
// the projection are never decoded.
type DatasetScan struct {
	handle    *DatasetHandle
	source    hdf5.RecordSource
	recSize   int
	remaining uint64
	produced  uint64
	decoders  []decodeFunc
	batch     RowBatch
	rowBuf    [][]any
	carry     []byte
	run       []byte
	done      bool
	err       error
}

// NewDatasetScan starts the single scan of a dataset handle. The projection
// lists column indices in output order; an empty projection selects every
// column. Indices may repeat, as in SELECT a, a. batchRows bounds the rows
// per batch; values below one fall back to DefaultBatchRows.
func NewDatasetScan(h *DatasetHandle, projection []int, batchRows int) (*DatasetScan, error) {
	if h.closed {
		return nil, fmt.Errorf("dataset handle for %s is closed", h.Path())
	}
	if h.scanned {
		return nil, fmt.Errorf("dataset %s was already scanned through this handle", h.Path())
	}
	if len(projection) == 0 {
		projection = make([]int, len(h.fields))
		for i := range projection {
			projection[i] = i
		}
	}
	for _, idx := range projection {
		if idx < 0 || idx >= len(h.fields) {
			return nil, fmt.Errorf("%w: column index %d out of range [0, %d)", ErrInvalidProjection, idx, len(h.fields))
		}
	}
	if batchRows < 1 {
		batchRows = DefaultBatchRows
	}

	decoders := make([]decodeFunc, len(projection))
	columns := make([]ColumnInfo, len(projection))
	for i, idx := range projection {
		fn, err := fieldDecoder(&h.fields[idx])
		if err != nil {
			return nil, err
		}
		decoders[i] = fn
		columns[i] = h.columns[idx]
	}

	s := &DatasetScan{
		handle:    h,
		recSize:   h.RecordSize(),
		remaining: h.rows,
		decoders:  decoders,
		rowBuf:    make([][]any, batchRows),
	}
	s.batch.Columns = columns
	for i := range s.rowBuf {
		s.rowBuf[i] = make([]any, len(projection))
	}

	if s.remaining > 0 {
		source, err := h.ds.Source()
		if err != nil {
			if errors.Is(err, hdf5.ErrUnsupported) {
				return nil, fmt.Errorf("%w: %s: %v", ErrUnsupportedLayout, h.Path(), err)
			}
			return nil, err
		}
		s.source = source
	}
	h.scanned = true
	return s, nil
}

// Next returns the next batch of rows, or io.EOF when the dataset is
// exhausted. Any other error is fatal: the scan produces no further rows and
// repeats the error on subsequent calls.
func (s *DatasetScan) Next() (*RowBatch, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.done {
		return nil, io.EOF
	}

	count := 0
	for count < len(s.rowBuf) && s.remaining > 0 {
		rec, err := s.nextRecord()
		if err != nil {
			s.err = err
			return nil, err
		}
		row := s.rowBuf[count]
		for i, decode := range s.decoders {
			v, err := decode(rec, s.produced)
			if err != nil {
				s.err = err
				return nil, err
			}
			row[i] = v
		}
		s.produced++
		s.remaining--
		count++
	}

	if count == 0 {
		s.done = true
		return nil, io.EOF
	}
	if s.remaining == 0 {
		s.done = true
	}
	s.batch.Rows = s.rowBuf[:count]
	return &s.batch, nil
}

// Columns returns a copy of the projected column schema in projection order.
func (s *DatasetScan) Columns() []ColumnInfo {
	out := make([]ColumnInfo, len(s.batch.Columns))
	copy(out, s.batch.Columns)
	return out
}

// NumProduced returns the number of rows decoded so far.
func (s *DatasetScan) NumProduced() uint64 {
	return s.produced
}

// nextRecord returns the bytes of the next record. The slice is only valid
// until the following call. Storage runs need not align to record
// boundaries, so a record may be stitched together across runs.
func (s *DatasetScan) nextRecord() ([]byte, error) {
	if len(s.carry) == 0 && len(s.run) >= s.recSize {
		rec := s.run[:s.recSize]
		s.run = s.run[s.recSize:]
		return rec, nil
	}
	for len(s.carry) < s.recSize {
		if len(s.run) == 0 {
			run, err := s.source.Next()
			if err != nil {
				if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
					return nil, fmt.Errorf("%w: record %d of %d: container data ended early", ErrTruncatedRecord, s.produced, s.handle.rows)
				}
				return nil, err
			}
			s.run = run
			continue
		}
		need := min(s.recSize-len(s.carry), len(s.run))
		s.carry = append(s.carry, s.run[:need]...)
		s.run = s.run[need:]
	}
	rec := s.carry[:s.recSize]
	s.carry = s.carry[:0]
	return rec, nil
}

// fieldDecoder resolves the decode function for one column. All shape
// checks happened when the descriptor was built; decoding only validates
// values.
func fieldDecoder(f *FieldDescriptor) (decodeFunc, error) {
	off := int(f.ByteOffset)
	size := int(f.ByteSize)
	if f.Kind == FieldKindFixedArray {
		return arrayDecoder(f, off)
	}
	value, err := valueDecoder(f)
	if err != nil {
		return nil, err
	}
	return func(rec []byte, row uint64) (any, error) {
		return value(rec[off:off+size], row)
	}, nil
}

// valueDecoder resolves the decoder for a single value given exactly its
// stored bytes.
func valueDecoder(f *FieldDescriptor) (decodeFunc, error) {
	dt := f.dtype
	switch f.Kind {
	case FieldKindScalar:
		switch dt.Class {
		case hdf5.ClassFloat:
			return floatDecoder(dt), nil
		case hdf5.ClassEnum:
			return enumDecoder(dt), nil
		default:
			return intDecoder(dt), nil
		}
	case FieldKindBoolean:
		return func(b []byte, row uint64) (any, error) {
			switch b[0] {
			case 0:
				return false, nil
			case 1:
				return true, nil
			}
			return nil, fmt.Errorf("%w: record %d: boolean code %d", ErrConversion, row, b[0])
		}, nil
	case FieldKindString:
		return stringDecoder(dt), nil
	}
	return nil, fmt.Errorf("%w: field %q has no value decoder", ErrUnsupportedType, f.Name)
}

// intDecoder decodes a fixed-point value to int64, honoring the stored byte
// order. Unsigned 64-bit values outside the signed range fail per value.
func intDecoder(dt *hdf5.Datatype) decodeFunc {
	order := dt.Order
	if dt.Signed {
		switch dt.Size {
		case 1:
			return func(b []byte, _ uint64) (any, error) {
				return int64(int8(b[0])), nil
			}
		case 2:
			return func(b []byte, _ uint64) (any, error) {
				return int64(int16(order.Uint16(b))), nil
			}
		case 4:
			return func(b []byte, _ uint64) (any, error) {
				return int64(int32(order.Uint32(b))), nil
			}
		default:
			return func(b []byte, _ uint64) (any, error) {
				return int64(order.Uint64(b)), nil
			}
		}
	}
	switch dt.Size {
	case 1:
		return func(b []byte, _ uint64) (any, error) {
			return int64(b[0]), nil
		}
	case 2:
		return func(b []byte, _ uint64) (any, error) {
			return int64(order.Uint16(b)), nil
		}
	case 4:
		return func(b []byte, _ uint64) (any, error) {
			return int64(order.Uint32(b)), nil
		}
	default:
		return func(b []byte, row uint64) (any, error) {
			v := order.Uint64(b)
			if v > maxSafeUint {
				return nil, fmt.Errorf("%w: record %d: unsigned value %d overflows the signed 64-bit range", ErrConversion, row, v)
			}
			return int64(v), nil
		}
	}
}

// floatDecoder decodes an IEEE 754 value to float64.
func floatDecoder(dt *hdf5.Datatype) decodeFunc {
	order := dt.Order
	if dt.Size == 4 {
		return func(b []byte, _ uint64) (any, error) {
			return float64(math.Float32frombits(order.Uint32(b))), nil
		}
	}
	return func(b []byte, _ uint64) (any, error) {
		return math.Float64frombits(order.Uint64(b)), nil
	}
}

// enumDecoder decodes a non-boolean enumeration to its base integer value,
// rejecting codes outside the declared enumeration.
func enumDecoder(dt *hdf5.Datatype) decodeFunc {
	valid := make(map[int64]struct{}, len(dt.EnumValues))
	for _, v := range dt.EnumValues {
		valid[v] = struct{}{}
	}
	base := intDecoder(dt.Base)
	return func(b []byte, row uint64) (any, error) {
		v, err := base(b, row)
		if err != nil {
			return nil, err
		}
		code := v.(int64)
		if _, ok := valid[code]; !ok {
			return nil, fmt.Errorf("%w: record %d: enum code %d not in enumeration", ErrConversion, row, code)
		}
		return code, nil
	}
}

// stringDecoder decodes a fixed-size string, trimming padding according to
// the stored padding convention.
func stringDecoder(dt *hdf5.Datatype) decodeFunc {
	pad := dt.StrPad
	return func(b []byte, _ uint64) (any, error) {
		switch pad {
		case hdf5.StrPadSpace:
			b = bytes.TrimRight(b, " ")
		case hdf5.StrPadNullPad:
			b = bytes.TrimRight(b, "\x00")
		default:
			if i := bytes.IndexByte(b, 0); i >= 0 {
				b = b[:i]
			}
		}
		return string(b), nil
	}
}

// arrayDecoder materializes a fixed-length array field as a typed slice.
// The slice is freshly allocated per row so it stays valid after the batch
// is reused.
func arrayDecoder(f *FieldDescriptor, off int) (decodeFunc, error) {
	elem := f.Element
	value, err := valueDecoder(elem)
	if err != nil {
		return nil, err
	}
	stride := int(elem.ByteSize)
	n := f.ArrayLength

	switch {
	case elem.Kind == FieldKindBoolean:
		return func(rec []byte, row uint64) (any, error) {
			out := make([]bool, n)
			for i := range out {
				v, err := value(rec[off+i*stride:off+(i+1)*stride], row)
				if err != nil {
					return nil, err
				}
				out[i] = v.(bool)
			}
			return out, nil
		}, nil
	case elem.Kind == FieldKindString:
		return func(rec []byte, row uint64) (any, error) {
			out := make([]string, n)
			for i := range out {
				v, err := value(rec[off+i*stride:off+(i+1)*stride], row)
				if err != nil {
					return nil, err
				}
				out[i] = v.(string)
			}
			return out, nil
		}, nil
	case elem.Column == ColumnTypeDouble:
		return func(rec []byte, row uint64) (any, error) {
			out := make([]float64, n)
			for i := range out {
				v, err := value(rec[off+i*stride:off+(i+1)*stride], row)
				if err != nil {
					return nil, err
				}
				out[i] = v.(float64)
			}
			return out, nil
		}, nil
	default:
		return func(rec []byte, row uint64) (any, error) {
			out := make([]int64, n)
			for i := range out {
				v, err := value(rec[off+i*stride:off+(i+1)*stride], row)
				if err != nil {
					return nil, err
				}
				out[i] = v.(int64)
			}
			return out, nil
		}, nil
	}
}
