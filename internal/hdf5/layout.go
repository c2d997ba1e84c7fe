package hdf5

import "fmt"

// Layout classes.
const (
	LayoutCompact    uint8 = 0
	LayoutContiguous uint8 = 1
	LayoutChunked    uint8 = 2
)

// Version 4 chunk index types.
const (
	chunkIndexSingle     uint8 = 1
	chunkIndexImplicit   uint8 = 2
	chunkIndexFixedArray uint8 = 3
	chunkIndexExtArray   uint8 = 4
	chunkIndexBTreeV2    uint8 = 5
)

// Layout is a decoded data layout message locating the raw element bytes.
type Layout struct {
	Version uint8
	Class   uint8

	// Compact storage embeds the data in the message itself.
	CompactData []byte

	// Address of the contiguous data, the version 1 chunk B-tree, the
	// version 4 chunk index, or the single chunk.
	Address uint64

	// Contiguous data size in bytes.
	Size uint64

	// Chunk dimensions per dataset rank, element size excluded.
	ChunkDims []uint32

	// Trailing dimension of a version 3 chunked message.
	ChunkElemSize uint32

	// Version 4 chunk index type; zero means a version 1 B-tree.
	IndexType uint8

	// Version 4 chunked flags.
	Flags uint8

	// Version 4 single-chunk index with filters.
	FilteredSize uint64
	FilterMask   uint32
}

func parseLayout(r *reader) (*Layout, error) {
	version, err := r.u8()
	if err != nil {
		return nil, err
	}
	switch version {
	case 3:
		return parseLayoutV3(r)
	case 4:
		return parseLayoutV4(r)
	default:
		// Versions 1 and 2 have not been written since HDF5 1.6.3.
		return nil, fmt.Errorf("%w: data layout version %d", ErrUnsupported, version)
	}
}

func parseLayoutV3(r *reader) (*Layout, error) {
	class, err := r.u8()
	if err != nil {
		return nil, err
	}
	lo := &Layout{Version: 3, Class: class}
	switch class {
	case LayoutCompact:
		size, err := r.u16()
		if err != nil {
			return nil, err
		}
		if lo.CompactData, err = r.bytes(int(size)); err != nil {
			return nil, err
		}
	case LayoutContiguous:
		if lo.Address, err = r.offset(); err != nil {
			return nil, err
		}
		if lo.Size, err = r.length(); err != nil {
			return nil, err
		}
	case LayoutChunked:
		// Dimensionality is the dataset rank plus one; the final stored
		// dimension is the element size in bytes.
		dim, err := r.u8()
		if err != nil {
			return nil, err
		}
		if dim == 0 {
			return nil, fmt.Errorf("%w: chunked layout with zero dimensionality", ErrCorrupted)
		}
		if lo.Address, err = r.offset(); err != nil {
			return nil, err
		}
		dims := make([]uint32, dim)
		for i := range dims {
			if dims[i], err = r.u32(); err != nil {
				return nil, err
			}
		}
		lo.ChunkDims = dims[:dim-1]
		lo.ChunkElemSize = dims[dim-1]
	default:
		return nil, fmt.Errorf("%w: layout class %d", ErrUnsupported, class)
	}
	return lo, nil
}

func parseLayoutV4(r *reader) (*Layout, error) {
	class, err := r.u8()
	if err != nil {
		return nil, err
	}
	lo := &Layout{Version: 4, Class: class}
	switch class {
	case LayoutCompact:
		size, err := r.u16()
		if err != nil {
			return nil, err
		}
		if lo.CompactData, err = r.bytes(int(size)); err != nil {
			return nil, err
		}
		return lo, nil
	case LayoutContiguous:
		if lo.Address, err = r.offset(); err != nil {
			return nil, err
		}
		if lo.Size, err = r.length(); err != nil {
			return nil, err
		}
		return lo, nil
	case LayoutChunked:
	default:
		return nil, fmt.Errorf("%w: layout class %d", ErrUnsupported, class)
	}

	flags, err := r.u8()
	if err != nil {
		return nil, err
	}
	lo.Flags = flags
	rank, err := r.u8()
	if err != nil {
		return nil, err
	}
	encLen, err := r.u8()
	if err != nil {
		return nil, err
	}
	if encLen == 0 || encLen > 8 {
		return nil, fmt.Errorf("%w: chunk dimension encoding width %d", ErrCorrupted, encLen)
	}
	lo.ChunkDims = make([]uint32, rank)
	for i := range lo.ChunkDims {
		d, err := r.uintN(int(encLen))
		if err != nil {
			return nil, err
		}
		lo.ChunkDims[i] = uint32(d)
	}
	idx, err := r.u8()
	if err != nil {
		return nil, err
	}
	lo.IndexType = idx
	switch idx {
	case chunkIndexSingle:
		if flags&0x02 != 0 {
			if lo.FilteredSize, err = r.length(); err != nil {
				return nil, err
			}
			if lo.FilterMask, err = r.u32(); err != nil {
				return nil, err
			}
		}
	case chunkIndexImplicit:
		// No index properties.
	case chunkIndexFixedArray:
		r.skip(1) // page bits
	case chunkIndexExtArray:
		r.skip(6)
	case chunkIndexBTreeV2:
		r.skip(6)
	default:
		return nil, fmt.Errorf("%w: chunk index type %d", ErrUnsupported, idx)
	}
	if lo.Address, err = r.offset(); err != nil {
		return nil, err
	}
	return lo, nil
}

// singleChunkFiltered reports whether a version 4 single-chunk layout
// carries a filtered chunk size.
func (lo *Layout) singleChunkFiltered() bool {
	return lo.Version == 4 && lo.IndexType == chunkIndexSingle && lo.Flags&0x02 != 0
}

func encodeLayoutContiguous(w *wbuf, addr, size uint64) {
	w.putU8(3)
	w.putU8(LayoutContiguous)
	w.putU64(addr)
	w.putU64(size)
}

func encodeLayoutCompact(w *wbuf, data []byte) {
	w.putU8(3)
	w.putU8(LayoutCompact)
	w.putU16(uint16(len(data)))
	w.putBytes(data)
}

// encodeLayoutChunkedV3 emits a version 3 chunked layout indexed by a
// version 1 B-tree. chunkDims excludes the element size, which is stored
// as the trailing dimension.
func encodeLayoutChunkedV3(w *wbuf, btreeAddr uint64, chunkDims []uint32, elemSize uint32) {
	w.putU8(3)
	w.putU8(LayoutChunked)
	w.putU8(uint8(len(chunkDims) + 1))
	w.putU64(btreeAddr)
	for _, d := range chunkDims {
		w.putU32(d)
	}
	w.putU32(elemSize)
}
