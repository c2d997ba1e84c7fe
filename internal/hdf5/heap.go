package hdf5

import (
	"bytes"
	"fmt"
)

var heapSignature = []byte("HEAP")

// localHeap is the string storage backing an old-style group: symbol table
// entries refer to link names by offset into the heap's data segment.
type localHeap struct {
	f        *File
	dataAddr uint64
	dataSize uint64
}

func (f *File) readLocalHeap(addr uint64) (*localHeap, error) {
	r := f.rd(addr)
	sig, err := r.bytes(4)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(sig, heapSignature) {
		return nil, fmt.Errorf("%w: local heap signature at %#x", ErrCorrupted, addr)
	}
	version, err := r.u8()
	if err != nil {
		return nil, err
	}
	if version != 0 {
		return nil, fmt.Errorf("%w: local heap version %d", ErrUnsupported, version)
	}
	r.skip(3)
	dataSize, err := r.length()
	if err != nil {
		return nil, err
	}
	if _, err := r.length(); err != nil { // free list head
		return nil, err
	}
	dataAddr, err := r.offset()
	if err != nil {
		return nil, err
	}
	return &localHeap{f: f, dataAddr: dataAddr, dataSize: dataSize}, nil
}

// stringAt reads the NUL-terminated string at the given heap offset.
func (h *localHeap) stringAt(off uint64) (string, error) {
	if off >= h.dataSize {
		return "", fmt.Errorf("%w: heap offset %d beyond data segment", ErrCorrupted, off)
	}
	r := h.f.rd(h.dataAddr + off)
	var name []byte
	for uint64(len(name)) < h.dataSize-off {
		b, err := r.u8()
		if err != nil {
			return "", err
		}
		if b == 0 {
			return string(name), nil
		}
		name = append(name, b)
	}
	return "", fmt.Errorf("%w: unterminated heap string at offset %d", ErrCorrupted, off)
}

// heapBuilder packs NUL-terminated strings for the write path. Offset zero
// always holds the empty string so B-tree keys can use it as the lowest
// separator.
type heapBuilder struct {
	data    []byte
	offsets map[string]uint64
}

func newHeapBuilder() *heapBuilder {
	return &heapBuilder{data: []byte{0}, offsets: map[string]uint64{"": 0}}
}

func (b *heapBuilder) add(s string) uint64 {
	if off, ok := b.offsets[s]; ok {
		return off
	}
	off := uint64(len(b.data))
	b.data = append(b.data, s...)
	b.data = append(b.data, 0)
	b.offsets[s] = off
	return off
}

// segment returns the data segment padded to a multiple of eight bytes.
func (b *heapBuilder) segment() []byte {
	data := b.data
	if rem := len(data) % 8; rem != 0 {
		data = append(data, make([]byte, 8-rem)...)
	}
	return data
}

// encodeLocalHeap emits the heap header pointing at an already-allocated
// data segment.
func encodeLocalHeap(dataAddr uint64, dataSize int) []byte {
	var w wbuf
	w.putBytes(heapSignature)
	w.putU8(0)
	w.putZeros(3)
	w.putU64(uint64(dataSize))
	w.putU64(undefinedAddress) // no free list
	w.putU64(dataAddr)
	return w.b
}
