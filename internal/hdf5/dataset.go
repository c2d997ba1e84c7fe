package hdf5

import (
	"fmt"
	"io"
)

// Dataset is a resolved dataset: its type, extent, layout and filter
// pipeline.
type Dataset struct {
	f       *File
	Path    string
	Dtype   *Datatype
	Space   *Dataspace
	Layout  *Layout
	Filters []Filter
}

// Dataset resolves path to a dataset.
func (f *File) Dataset(path string) (*Dataset, error) {
	oi, err := f.resolve(path)
	if err != nil {
		return nil, err
	}
	if !oi.isDataset() {
		return nil, fmt.Errorf("%w: %q", ErrNotDataset, path)
	}
	return &Dataset{
		f:       f,
		Path:    path,
		Dtype:   oi.datatype,
		Space:   oi.dataspace,
		Layout:  oi.layout,
		Filters: oi.filters,
	}, nil
}

// NumElements returns the element count of the dataset's extent.
func (d *Dataset) NumElements() uint64 {
	return d.Space.NumElements()
}

// ElemSize returns the stored byte size of one element.
func (d *Dataset) ElemSize() int {
	return int(d.Dtype.Size)
}

// RecordSource streams the raw bytes of a dataset in element order as
// contiguous runs. The returned slice is only valid until the following
// call; io.EOF signals the end. Runs need not align to element
// boundaries.
type RecordSource interface {
	Next() ([]byte, error)
}

// readBlockSize is the run size for contiguous data and synthesized fill
// regions.
const readBlockSize = 256 * 1024

// Source returns a RecordSource over the dataset's raw bytes. Element
// regions the file never allocated read as zero fill, matching how the
// format treats unwritten data.
func (d *Dataset) Source() (RecordSource, error) {
	total := d.NumElements() * uint64(d.ElemSize())
	switch d.Layout.Class {
	case LayoutCompact:
		return &memSource{data: d.Layout.CompactData}, nil
	case LayoutContiguous:
		if d.Layout.Address == undefinedAddress {
			return &zeroSource{remaining: total}, nil
		}
		size := d.Layout.Size
		if size > total {
			size = total
		}
		return &rangeSource{f: d.f, pos: d.f.abs(d.Layout.Address), remaining: size}, nil
	case LayoutChunked:
		return d.chunkSource()
	default:
		return nil, fmt.Errorf("%w: layout class %d", ErrUnsupported, d.Layout.Class)
	}
}

func (d *Dataset) chunkSource() (RecordSource, error) {
	if d.Space.Rank() != 1 {
		return nil, fmt.Errorf("%w: chunked dataset of rank %d", ErrUnsupported, d.Space.Rank())
	}
	if len(d.Layout.ChunkDims) != 1 || d.Layout.ChunkDims[0] == 0 {
		return nil, fmt.Errorf("%w: chunk dimensions %v for rank 1", ErrCorrupted, d.Layout.ChunkDims)
	}
	elemSize := d.ElemSize()
	if d.Layout.ChunkElemSize != 0 && int(d.Layout.ChunkElemSize) != elemSize {
		return nil, fmt.Errorf("%w: chunk element size %d, datatype size %d", ErrCorrupted, d.Layout.ChunkElemSize, elemSize)
	}

	src := &chunkSource{
		f:         d.f,
		filters:   d.Filters,
		elemSize:  elemSize,
		chunkRows: uint64(d.Layout.ChunkDims[0]),
		totalRows: d.Space.Dims[0],
		entries:   make(map[uint64]chunkEntry),
	}
	rawChunkBytes := src.chunkRows * uint64(elemSize)

	if d.Layout.Address == undefinedAddress {
		return src, nil
	}
	switch {
	case d.Layout.Version == 3 || d.Layout.IndexType == 0:
		entries, err := d.f.readChunkBTree(d.Layout.Address, 1)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			src.entries[e.offsets[0]] = e
		}
	case d.Layout.IndexType == chunkIndexSingle:
		e := chunkEntry{offsets: []uint64{0}, addr: d.Layout.Address, size: uint32(rawChunkBytes)}
		if d.Layout.singleChunkFiltered() {
			e.size = uint32(d.Layout.FilteredSize)
			e.mask = d.Layout.FilterMask
		}
		src.entries[0] = e
	case d.Layout.IndexType == chunkIndexImplicit:
		nChunks := (src.totalRows + src.chunkRows - 1) / src.chunkRows
		for k := uint64(0); k < nChunks; k++ {
			src.entries[k*src.chunkRows] = chunkEntry{
				offsets: []uint64{k * src.chunkRows},
				addr:    d.Layout.Address + k*rawChunkBytes,
				size:    uint32(rawChunkBytes),
			}
		}
	default:
		return nil, fmt.Errorf("%w: chunk index type %d", ErrUnsupported, d.Layout.IndexType)
	}
	return src, nil
}

// memSource yields one in-memory run.
type memSource struct {
	data []byte
	done bool
}

func (s *memSource) Next() ([]byte, error) {
	if s.done || len(s.data) == 0 {
		return nil, io.EOF
	}
	s.done = true
	return s.data, nil
}

// zeroSource synthesizes fill bytes for unallocated storage.
type zeroSource struct {
	remaining uint64
	buf       []byte
}

func (s *zeroSource) Next() ([]byte, error) {
	if s.remaining == 0 {
		return nil, io.EOF
	}
	n := uint64(readBlockSize)
	if n > s.remaining {
		n = s.remaining
	}
	if uint64(len(s.buf)) < n {
		s.buf = make([]byte, n)
	}
	s.remaining -= n
	return s.buf[:n], nil
}

// rangeSource streams a contiguous extent. A short read surfaces as
// io.ErrUnexpectedEOF so callers can tell physical truncation from other
// failures.
type rangeSource struct {
	f         *File
	pos       int64
	remaining uint64
	buf       []byte
}

func (s *rangeSource) Next() ([]byte, error) {
	if s.remaining == 0 {
		return nil, io.EOF
	}
	n := uint64(readBlockSize)
	if n > s.remaining {
		n = s.remaining
	}
	if uint64(len(s.buf)) < n {
		s.buf = make([]byte, n)
	}
	got, err := s.f.src.ReadAt(s.buf[:n], s.pos)
	if err != nil && err != io.EOF {
		return nil, err
	}
	if got == 0 {
		return nil, io.ErrUnexpectedEOF
	}
	// A short read means the file ends inside the extent; return what is
	// there and let the next call report the truncation.
	s.pos += int64(got)
	s.remaining -= uint64(got)
	return s.buf[:got], nil
}

// chunkSource iterates the chunk grid in row order, decoding stored
// chunks and synthesizing fill for missing ones.
type chunkSource struct {
	f         *File
	entries   map[uint64]chunkEntry
	filters   []Filter
	elemSize  int
	chunkRows uint64
	totalRows uint64
	nextRow   uint64
	zeros     []byte
}

func (s *chunkSource) Next() ([]byte, error) {
	if s.nextRow >= s.totalRows {
		return nil, io.EOF
	}
	rows := s.chunkRows
	if s.nextRow+rows > s.totalRows {
		rows = s.totalRows - s.nextRow
	}
	want := int(rows) * s.elemSize

	e, ok := s.entries[s.nextRow]
	s.nextRow += rows
	if !ok {
		if len(s.zeros) < want {
			s.zeros = make([]byte, want)
		}
		return s.zeros[:want], nil
	}

	raw := make([]byte, e.size)
	if _, err := s.f.src.ReadAt(raw, s.f.abs(e.addr)); err != nil {
		if err == io.EOF {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	decoded, err := decodeChunk(raw, s.filters, e.mask, s.elemSize)
	if err != nil {
		return nil, err
	}
	if len(decoded) < want {
		return nil, fmt.Errorf("%w: chunk at row %d decodes to %d bytes, want %d", ErrCorrupted, s.nextRow-rows, len(decoded), want)
	}
	return decoded[:want], nil
}
