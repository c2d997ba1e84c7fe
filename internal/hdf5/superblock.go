package hdf5

import (
	"bytes"
	"fmt"
	"io"
)

var signature = []byte{0x89, 'H', 'D', 'F', '\r', '\n', 0x1a, '\n'}

// maxSignatureOffset bounds the user-block probe. The signature is searched
// at offset 0 and then at every power-of-two multiple of 512.
const maxSignatureOffset = 64 * 1024

// superblock holds the fields every later structure depends on: field
// widths, the base address all stored addresses are relative to, and the
// root group's object header address.
type superblock struct {
	version    uint8
	offsetSize int
	lengthSize int
	base       uint64
	eof        uint64
	root       uint64
	start      int64
}

// findSignature locates the format signature, probing offset 0 and then
// doubling from 512 to allow for user blocks.
func findSignature(src io.ReaderAt) (int64, error) {
	buf := make([]byte, len(signature))
	for off := int64(0); off <= maxSignatureOffset; {
		n, err := src.ReadAt(buf, off)
		if err != nil && err != io.EOF {
			if off == 0 {
				return 0, err
			}
			break
		}
		if n == len(buf) && bytes.Equal(buf, signature) {
			return off, nil
		}
		if off == 0 {
			off = 512
		} else {
			off *= 2
		}
	}
	return 0, ErrBadSignature
}

func readSuperblock(src io.ReaderAt) (*superblock, error) {
	start, err := findSignature(src)
	if err != nil {
		return nil, err
	}
	r := newReader(src, start+int64(len(signature)), 8, 8)
	version, err := r.u8()
	if err != nil {
		return nil, err
	}
	switch version {
	case 0, 1:
		return readSuperblockV0(r, start, version)
	case 2, 3:
		return readSuperblockV2(src, r, start, version)
	default:
		return nil, fmt.Errorf("%w: superblock version %d", ErrUnsupported, version)
	}
}

// readSuperblockV0 parses versions 0 and 1. The reader is positioned just
// after the version byte.
func readSuperblockV0(r *reader, start int64, version uint8) (*superblock, error) {
	// Free-space version, root group version, reserved, shared header
	// version precede the field widths.
	r.skip(4)
	offsetSize, err := r.u8()
	if err != nil {
		return nil, err
	}
	lengthSize, err := r.u8()
	if err != nil {
		return nil, err
	}
	if err := checkFieldSize(int(offsetSize)); err != nil {
		return nil, err
	}
	if err := checkFieldSize(int(lengthSize)); err != nil {
		return nil, err
	}
	// Reserved byte, group leaf K, group internal K, consistency flags.
	r.skip(1 + 2 + 2 + 4)
	if version == 1 {
		// Indexed storage K plus reserved.
		r.skip(4)
	}
	r.offsetSize = int(offsetSize)
	r.lengthSize = int(lengthSize)

	base, err := r.offset()
	if err != nil {
		return nil, err
	}
	if _, err := r.offset(); err != nil { // free-space info address
		return nil, err
	}
	eof, err := r.offset()
	if err != nil {
		return nil, err
	}
	if _, err := r.offset(); err != nil { // driver info address
		return nil, err
	}
	// The root group symbol table entry follows: link name offset, then
	// the object header address we actually need.
	if _, err := r.offset(); err != nil {
		return nil, err
	}
	root, err := r.offset()
	if err != nil {
		return nil, err
	}
	if root == undefinedAddress {
		return nil, fmt.Errorf("%w: superblock has no root group", ErrCorrupted)
	}
	return &superblock{
		version:    version,
		offsetSize: int(offsetSize),
		lengthSize: int(lengthSize),
		base:       base,
		eof:        eof,
		root:       root,
		start:      start,
	}, nil
}

// readSuperblockV2 parses versions 2 and 3, which carry a trailing lookup3
// checksum over the whole superblock.
func readSuperblockV2(src io.ReaderAt, r *reader, start int64, version uint8) (*superblock, error) {
	offsetSize, err := r.u8()
	if err != nil {
		return nil, err
	}
	lengthSize, err := r.u8()
	if err != nil {
		return nil, err
	}
	if err := checkFieldSize(int(offsetSize)); err != nil {
		return nil, err
	}
	if err := checkFieldSize(int(lengthSize)); err != nil {
		return nil, err
	}
	r.skip(1) // consistency flags
	r.offsetSize = int(offsetSize)
	r.lengthSize = int(lengthSize)

	base, err := r.offset()
	if err != nil {
		return nil, err
	}
	if _, err := r.offset(); err != nil { // superblock extension address
		return nil, err
	}
	eof, err := r.offset()
	if err != nil {
		return nil, err
	}
	root, err := r.offset()
	if err != nil {
		return nil, err
	}
	if root == undefinedAddress {
		return nil, fmt.Errorf("%w: superblock has no root group", ErrCorrupted)
	}

	sumLen := r.pos - start
	raw := make([]byte, sumLen)
	if _, err := src.ReadAt(raw, start); err != nil {
		return nil, err
	}
	stored, err := r.u32()
	if err != nil {
		return nil, err
	}
	if got := lookup3(raw); got != stored {
		return nil, fmt.Errorf("%w: superblock checksum mismatch (got %#x, stored %#x)", ErrCorrupted, got, stored)
	}
	return &superblock{
		version:    version,
		offsetSize: int(offsetSize),
		lengthSize: int(lengthSize),
		base:       base,
		eof:        eof,
		root:       root,
		start:      start,
	}, nil
}

func checkFieldSize(n int) error {
	switch n {
	case 2, 4, 8:
		return nil
	}
	return fmt.Errorf("%w: offset/length size %d", ErrUnsupported, n)
}

// superblockV2Size is the encoded size of a version 2 superblock with
// 8-byte offsets: signature, four header bytes, four addresses, checksum.
const superblockV2Size = 8 + 4 + 4*8 + 4

// encodeSuperblockV2 produces a version 2 superblock with 8-byte offsets
// and lengths, base address zero and no extension.
func encodeSuperblockV2(eof, root uint64) []byte {
	var w wbuf
	w.putBytes(signature)
	w.putU8(2) // version
	w.putU8(8) // offset size
	w.putU8(8) // length size
	w.putU8(0) // consistency flags
	w.putU64(0)
	w.putU64(undefinedAddress) // no superblock extension
	w.putU64(eof)
	w.putU64(root)
	w.putU32(lookup3(w.b))
	return w.b
}
