package hdf5

import (
	"encoding/binary"
	"fmt"
	"io"
)

// undefinedAddress is the canonical "no address" sentinel. On disk the
// sentinel is all 1-bits in the encoded field width; reads normalize it
// to this value so callers compare against a single constant.
const undefinedAddress = ^uint64(0)

// undefinedForSize returns the on-disk undefined sentinel for an n-byte field.
func undefinedForSize(n int) uint64 {
	if n >= 8 {
		return ^uint64(0)
	}
	return (uint64(1) << (8 * n)) - 1
}

// reader decodes HDF5 metadata from an io.ReaderAt. Metadata is always
// little-endian regardless of host order; the widths of "offset" and
// "length" fields come from the superblock.
type reader struct {
	src        io.ReaderAt
	pos        int64
	offsetSize int
	lengthSize int
}

func newReader(src io.ReaderAt, pos int64, offsetSize, lengthSize int) *reader {
	return &reader{src: src, pos: pos, offsetSize: offsetSize, lengthSize: lengthSize}
}

// at returns a reader over the same source positioned at pos, keeping the
// configured field widths.
func (r *reader) at(pos int64) *reader {
	return &reader{src: r.src, pos: pos, offsetSize: r.offsetSize, lengthSize: r.lengthSize}
}

func (r *reader) bytes(n int) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("hdf5: negative read length %d", n)
	}
	if n == 0 {
		return nil, nil
	}
	buf := make([]byte, n)
	if _, err := r.src.ReadAt(buf, r.pos); err != nil {
		return nil, err
	}
	r.pos += int64(n)
	return buf, nil
}

func (r *reader) u8() (uint8, error) {
	buf, err := r.bytes(1)
	if err != nil {
		return 0, err
	}
	return buf[0], nil
}

func (r *reader) u16() (uint16, error) {
	buf, err := r.bytes(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(buf), nil
}

func (r *reader) u32() (uint32, error) {
	buf, err := r.bytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf), nil
}

func (r *reader) u64() (uint64, error) {
	buf, err := r.bytes(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf), nil
}

// uintN reads an unsigned little-endian integer of n bytes, 1 through 8.
func (r *reader) uintN(n int) (uint64, error) {
	buf, err := r.bytes(n)
	if err != nil {
		return 0, err
	}
	var v uint64
	for i := n - 1; i >= 0; i-- {
		v = v<<8 | uint64(buf[i])
	}
	return v, nil
}

// offset reads a file address in the superblock's offset width and
// normalizes the undefined sentinel.
func (r *reader) offset() (uint64, error) {
	v, err := r.uintN(r.offsetSize)
	if err != nil {
		return 0, err
	}
	if v == undefinedForSize(r.offsetSize) {
		return undefinedAddress, nil
	}
	return v, nil
}

// length reads a size value in the superblock's length width.
func (r *reader) length() (uint64, error) {
	return r.uintN(r.lengthSize)
}

func (r *reader) skip(n int64) {
	r.pos += n
}

// align advances the position to the next multiple of n relative to file
// offset zero. Version 1 object headers align message boundaries this way.
func (r *reader) align(n int64) {
	if n <= 1 {
		return
	}
	if rem := r.pos % n; rem != 0 {
		r.pos += n - rem
	}
}

// wbuf accumulates little-endian encoded bytes for the write path. All
// metadata blocks are built in memory and appended to the file once their
// final size is known.
type wbuf struct {
	b []byte
}

func (w *wbuf) putBytes(p []byte) {
	w.b = append(w.b, p...)
}

func (w *wbuf) putU8(v uint8) {
	w.b = append(w.b, v)
}

func (w *wbuf) putU16(v uint16) {
	w.b = binary.LittleEndian.AppendUint16(w.b, v)
}

func (w *wbuf) putU32(v uint32) {
	w.b = binary.LittleEndian.AppendUint32(w.b, v)
}

func (w *wbuf) putU64(v uint64) {
	w.b = binary.LittleEndian.AppendUint64(w.b, v)
}

// putUintN writes the low n bytes of v little-endian.
func (w *wbuf) putUintN(v uint64, n int) {
	for i := 0; i < n; i++ {
		w.b = append(w.b, byte(v>>(8*i)))
	}
}

func (w *wbuf) putZeros(n int) {
	w.b = append(w.b, make([]byte, n)...)
}

func (w *wbuf) len() int {
	return len(w.b)
}
