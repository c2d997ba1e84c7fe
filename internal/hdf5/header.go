package hdf5

import (
	"bytes"
	"fmt"
)

var ohdrSignature = []byte("OHDR")
var ochkSignature = []byte("OCHK")

// objectInfo aggregates the header messages of one object. A dataset has
// datatype, dataspace and layout; a group has link messages or a symbol
// table.
type objectInfo struct {
	addr       uint64
	links      []Link
	symtab     *symbolTableInfo
	dataspace  *Dataspace
	datatype   *Datatype
	layout     *Layout
	filters    []Filter
	denseLinks bool
}

func (oi *objectInfo) isDataset() bool {
	return oi.datatype != nil && oi.dataspace != nil && oi.layout != nil
}

// block is one extent of header messages.
type block struct {
	start int64
	end   int64
}

func (f *File) readObject(addr uint64) (*objectInfo, error) {
	r := f.rd(addr)
	head, err := r.bytes(4)
	if err != nil {
		return nil, err
	}
	if bytes.Equal(head, ohdrSignature) {
		return f.readObjectV2(addr)
	}
	if head[0] == 1 {
		return f.readObjectV1(addr)
	}
	return nil, fmt.Errorf("%w: object header at %#x", ErrCorrupted, addr)
}

// readObjectV1 parses a version 1 header: a 12-byte prefix, 4 padding
// bytes, then the counted messages, possibly spilling into continuation
// blocks that carry raw messages with no signature.
func (f *File) readObjectV1(addr uint64) (*objectInfo, error) {
	r := f.rd(addr)
	r.skip(2) // version, reserved
	numMessages, err := r.u16()
	if err != nil {
		return nil, err
	}
	r.skip(4) // reference count
	headerSize, err := r.u32()
	if err != nil {
		return nil, err
	}
	r.skip(4) // padding to the 8-byte message boundary

	oi := &objectInfo{addr: addr}
	blocks := []block{{start: r.pos, end: r.pos + int64(headerSize)}}
	read := 0
	for i := 0; i < len(blocks) && read < int(numMessages); i++ {
		pos, end := blocks[i].start, blocks[i].end
		for pos+8 <= end && read < int(numMessages) {
			mr := r.at(pos)
			msgType, err := mr.u16()
			if err != nil {
				return nil, err
			}
			size, err := mr.u16()
			if err != nil {
				return nil, err
			}
			mr.skip(4) // flags, reserved
			bodyStart := mr.pos
			if bodyStart+int64(size) > end {
				return nil, fmt.Errorf("%w: message overruns header block at %#x", ErrCorrupted, addr)
			}
			pos = bodyStart + int64(size)
			read++
			if err := f.applyMessage(oi, msgType, r.at(bodyStart), &blocks); err != nil {
				return nil, err
			}
		}
	}
	if read < int(numMessages) {
		return nil, fmt.Errorf("%w: object header at %#x ends after %d of %d messages", ErrCorrupted, addr, read, numMessages)
	}
	return oi, nil
}

// readObjectV2 parses a version 2 header. The prefix length varies with
// the flags; the message area is followed by a lookup3 checksum that
// covers everything from the signature on. Continuation blocks carry an
// OCHK signature and their own trailing checksum, and their stored length
// includes both.
func (f *File) readObjectV2(addr uint64) (*objectInfo, error) {
	r := f.rd(addr)
	r.skip(4) // signature
	version, err := r.u8()
	if err != nil {
		return nil, err
	}
	if version != 2 {
		return nil, fmt.Errorf("%w: object header version %d", ErrUnsupported, version)
	}
	flags, err := r.u8()
	if err != nil {
		return nil, err
	}
	if flags&0x20 != 0 {
		r.skip(16) // access, modification, change, birth times
	}
	if flags&0x10 != 0 {
		r.skip(4) // attribute phase change limits
	}
	chunk0Size, err := r.uintN(1 << (flags & 0x3))
	if err != nil {
		return nil, err
	}
	msgStart := r.pos
	if err := f.verifyChecksum(f.abs(addr), msgStart+int64(chunk0Size), "object header"); err != nil {
		return nil, err
	}

	oi := &objectInfo{addr: addr}
	tracked := flags&0x04 != 0
	blocks := []block{{start: msgStart, end: msgStart + int64(chunk0Size)}}
	for i := 0; i < len(blocks); i++ {
		if err := f.readV2Messages(oi, blocks[i], tracked, &blocks); err != nil {
			return nil, err
		}
	}
	return oi, nil
}

// readV2Messages consumes one message block. Up to three trailing bytes
// may remain as a gap too small for a message header.
func (f *File) readV2Messages(oi *objectInfo, cur block, tracked bool, blocks *[]block) error {
	hdrLen := int64(4)
	if tracked {
		hdrLen += 2
	}
	pos := cur.start
	for pos+hdrLen <= cur.end {
		r := f.rdAt(pos)
		msgType8, err := r.u8()
		if err != nil {
			return err
		}
		size, err := r.u16()
		if err != nil {
			return err
		}
		r.skip(1) // flags
		if tracked {
			r.skip(2)
		}
		bodyStart := r.pos
		if bodyStart+int64(size) > cur.end {
			return fmt.Errorf("%w: message overruns header block", ErrCorrupted)
		}
		pos = bodyStart + int64(size)
		if err := f.applyMessage(oi, uint16(msgType8), r.at(bodyStart), blocks); err != nil {
			return err
		}
	}
	return nil
}

// applyMessage dispatches one header message into the aggregate. The body
// reader is positioned at the message data; oversized or unknown messages
// are ignored by the caller advancing past them.
func (f *File) applyMessage(oi *objectInfo, msgType uint16, body *reader, blocks *[]block) error {
	switch msgType {
	case msgNIL:
		// Padding.
	case msgDataspace:
		ds, err := parseDataspace(body)
		if err != nil {
			return err
		}
		oi.dataspace = ds
	case msgDatatype:
		dt, err := parseDatatype(body)
		if err != nil {
			return err
		}
		oi.datatype = dt
	case msgDataLayout:
		lo, err := parseLayout(body)
		if err != nil {
			return err
		}
		oi.layout = lo
	case msgFilterPipeline:
		filters, err := parseFilterPipeline(body)
		if err != nil {
			return err
		}
		oi.filters = filters
	case msgLink:
		ln, err := parseLinkMessage(body)
		if err != nil {
			return err
		}
		oi.links = append(oi.links, ln)
	case msgLinkInfo:
		dense, err := parseLinkInfo(body)
		if err != nil {
			return err
		}
		if dense {
			oi.denseLinks = true
		}
	case msgSymbolTable:
		st, err := parseSymbolTableMessage(body)
		if err != nil {
			return err
		}
		oi.symtab = &st
	case msgContinuation:
		cb, err := parseContinuation(body)
		if err != nil {
			return err
		}
		return f.pushContinuation(oi, cb, blocks)
	default:
		// Fill values, attributes, timestamps and the rest do not affect
		// how the data is located or decoded.
	}
	return nil
}

// parseLinkInfo reports whether the group stores its links densely in a
// fractal heap instead of in link messages.
func parseLinkInfo(r *reader) (bool, error) {
	r.skip(1) // version
	flags, err := r.u8()
	if err != nil {
		return false, err
	}
	if flags&0x01 != 0 {
		r.skip(8) // maximum creation index
	}
	heapAddr, err := r.offset()
	if err != nil {
		return false, err
	}
	return heapAddr != undefinedAddress, nil
}

// pushContinuation validates a continuation block and queues its message
// extent. Version 1 blocks are raw messages; version 2 blocks carry an
// OCHK signature and a trailing checksum, both included in the stored
// length.
func (f *File) pushContinuation(oi *objectInfo, cb continuationBlock, blocks *[]block) error {
	if cb.addr == undefinedAddress || cb.length == 0 {
		return fmt.Errorf("%w: empty continuation block", ErrCorrupted)
	}
	start := f.abs(cb.addr)
	end := start + int64(cb.length)
	sig := make([]byte, 4)
	if _, err := f.src.ReadAt(sig, start); err != nil {
		return err
	}
	if bytes.Equal(sig, ochkSignature) {
		end -= 4
		if err := f.verifyChecksum(start, end, "continuation block"); err != nil {
			return err
		}
		start += 4
	}
	*blocks = append(*blocks, block{start: start, end: end})
	return nil
}

// verifyChecksum compares the lookup3 of [start, end) with the stored
// 32-bit checksum at end.
func (f *File) verifyChecksum(start, end int64, what string) error {
	if end < start {
		return fmt.Errorf("%w: %s extent inverted", ErrCorrupted, what)
	}
	raw := make([]byte, end-start+4)
	if _, err := f.src.ReadAt(raw, start); err != nil {
		return err
	}
	stored := uint32(raw[len(raw)-4]) | uint32(raw[len(raw)-3])<<8 |
		uint32(raw[len(raw)-2])<<16 | uint32(raw[len(raw)-1])<<24
	if got := lookup3(raw[:len(raw)-4]); got != stored {
		return fmt.Errorf("%w: %s checksum mismatch (got %#x, stored %#x)", ErrCorrupted, what, got, stored)
	}
	return nil
}

// encodedMsg is one message body ready for header serialization.
type encodedMsg struct {
	typ  uint16
	body []byte
}

// encodeObjectHeaderV2 builds a version 2 header with the smallest chunk
// size field that fits, no timestamps and no creation order tracking.
func encodeObjectHeaderV2(msgs []encodedMsg) []byte {
	chunkSize := 0
	for _, m := range msgs {
		chunkSize += 4 + len(m.body)
	}
	widthCode := uint8(0)
	for chunkSize >= 1<<(8*(1<<widthCode)) {
		widthCode++
	}
	var w wbuf
	w.putBytes(ohdrSignature)
	w.putU8(2)
	w.putU8(widthCode)
	w.putUintN(uint64(chunkSize), 1<<widthCode)
	for _, m := range msgs {
		w.putU8(uint8(m.typ))
		w.putU16(uint16(len(m.body)))
		w.putU8(0)
		w.putBytes(m.body)
	}
	w.putU32(lookup3(w.b))
	return w.b
}

// encodeObjectHeaderV1 builds a version 1 header in a single block. Each
// message body is padded to a multiple of eight bytes.
func encodeObjectHeaderV1(msgs []encodedMsg) []byte {
	headerSize := 0
	padded := make([][]byte, len(msgs))
	for i, m := range msgs {
		body := m.body
		if rem := len(body) % 8; rem != 0 {
			body = append(append([]byte{}, body...), make([]byte, 8-rem)...)
		}
		padded[i] = body
		headerSize += 8 + len(body)
	}
	var w wbuf
	w.putU8(1)
	w.putU8(0)
	w.putU16(uint16(len(msgs)))
	w.putU32(1) // reference count
	w.putU32(uint32(headerSize))
	w.putZeros(4)
	for i, m := range msgs {
		w.putU16(m.typ)
		w.putU16(uint16(len(padded[i])))
		w.putU8(0)
		w.putZeros(3)
		w.putBytes(padded[i])
	}
	return w.b
}
