package hdf5

import "fmt"

// Header message types.
const (
	msgNIL             uint16 = 0x0000
	msgDataspace       uint16 = 0x0001
	msgLinkInfo        uint16 = 0x0002
	msgDatatype        uint16 = 0x0003
	msgFillValueOld    uint16 = 0x0004
	msgFillValue       uint16 = 0x0005
	msgLink            uint16 = 0x0006
	msgExternalFiles   uint16 = 0x0007
	msgDataLayout      uint16 = 0x0008
	msgGroupInfo       uint16 = 0x000a
	msgFilterPipeline  uint16 = 0x000b
	msgAttribute       uint16 = 0x000c
	msgContinuation    uint16 = 0x0010
	msgSymbolTable     uint16 = 0x0011
	msgObjectModTime   uint16 = 0x0012
	msgAttributeInfo   uint16 = 0x0015
	msgObjectRefCount  uint16 = 0x0016
	msgDriverInfo      uint16 = 0x0014
	msgFileSpaceInfo   uint16 = 0x0018
	msgObjectCommentV0 uint16 = 0x000d
)

// LinkKind discriminates the link message variants.
type LinkKind uint8

const (
	LinkHard LinkKind = iota
	LinkSoft
	LinkExternal
)

// Link is one directory entry of a group, from either a link message or a
// symbol table entry.
type Link struct {
	Name string
	Kind LinkKind

	// Object header address of a hard link's target.
	Address uint64

	// Path of a soft link's target, or the object path within the target
	// file of an external link.
	Target string

	// External link target file.
	TargetFile string
}

// Link type codes on disk.
const (
	linkTypeHard     uint8 = 0
	linkTypeSoft     uint8 = 1
	linkTypeExternal uint8 = 64
)

func parseLinkMessage(r *reader) (Link, error) {
	var ln Link
	version, err := r.u8()
	if err != nil {
		return ln, err
	}
	if version != 1 {
		return ln, fmt.Errorf("%w: link message version %d", ErrUnsupported, version)
	}
	flags, err := r.u8()
	if err != nil {
		return ln, err
	}
	linkType := linkTypeHard
	if flags&(1<<3) != 0 {
		if linkType, err = r.u8(); err != nil {
			return ln, err
		}
	}
	if flags&(1<<2) != 0 {
		r.skip(8) // creation order
	}
	if flags&(1<<4) != 0 {
		r.skip(1) // link name character set
	}
	nameLen, err := r.uintN(1 << (flags & 0x3))
	if err != nil {
		return ln, err
	}
	name, err := r.bytes(int(nameLen))
	if err != nil {
		return ln, err
	}
	ln.Name = string(name)

	switch linkType {
	case linkTypeHard:
		ln.Kind = LinkHard
		if ln.Address, err = r.offset(); err != nil {
			return ln, err
		}
	case linkTypeSoft:
		ln.Kind = LinkSoft
		n, err := r.u16()
		if err != nil {
			return ln, err
		}
		target, err := r.bytes(int(n))
		if err != nil {
			return ln, err
		}
		ln.Target = string(target)
	case linkTypeExternal:
		ln.Kind = LinkExternal
		n, err := r.u16()
		if err != nil {
			return ln, err
		}
		buf, err := r.bytes(int(n))
		if err != nil {
			return ln, err
		}
		// One version/flags byte, then the file name and the object path,
		// each NUL-terminated.
		if len(buf) > 1 {
			rest := buf[1:]
			for i, b := range rest {
				if b == 0 {
					ln.TargetFile = string(rest[:i])
					if i+1 < len(rest) {
						tail := rest[i+1:]
						for j, t := range tail {
							if t == 0 {
								tail = tail[:j]
								break
							}
						}
						ln.Target = string(tail)
					}
					break
				}
			}
		}
	default:
		return ln, fmt.Errorf("%w: link type %d", ErrUnsupported, linkType)
	}
	return ln, nil
}

// symbolTableInfo locates an old-style group's name B-tree and heap.
type symbolTableInfo struct {
	btree uint64
	heap  uint64
}

func parseSymbolTableMessage(r *reader) (symbolTableInfo, error) {
	var st symbolTableInfo
	var err error
	if st.btree, err = r.offset(); err != nil {
		return st, err
	}
	if st.heap, err = r.offset(); err != nil {
		return st, err
	}
	return st, nil
}

// continuationBlock is a further extent of object header messages.
type continuationBlock struct {
	addr   uint64
	length uint64
}

func parseContinuation(r *reader) (continuationBlock, error) {
	var cb continuationBlock
	var err error
	if cb.addr, err = r.offset(); err != nil {
		return cb, err
	}
	if cb.length, err = r.length(); err != nil {
		return cb, err
	}
	return cb, nil
}

// Write-path encoders for the message bodies the writer emits.

func encodeLinkInfo(w *wbuf) {
	w.putU8(0) // version
	w.putU8(0) // flags: no creation order
	w.putU64(undefinedAddress)
	w.putU64(undefinedAddress)
}

func encodeGroupInfo(w *wbuf) {
	w.putU8(0)
	w.putU8(0)
}

func encodeHardLink(w *wbuf, name string, addr uint64) {
	w.putU8(1) // version
	w.putU8(0) // flags: 1-byte name length, hard link
	w.putU8(uint8(len(name)))
	w.putBytes([]byte(name))
	w.putU64(addr)
}

func encodeSoftLink(w *wbuf, name, target string) {
	w.putU8(1)
	w.putU8(1 << 3) // link type present
	w.putU8(linkTypeSoft)
	w.putU8(uint8(len(name)))
	w.putBytes([]byte(name))
	w.putU16(uint16(len(target)))
	w.putBytes([]byte(target))
}

// encodeFillValueV3 emits an "undefined fill value" message: late
// allocation, write on allocation, no fill bytes.
func encodeFillValueV3(w *wbuf) {
	w.putU8(3)
	w.putU8(0x02 | 1<<4)
}

func encodeSymbolTableMessage(w *wbuf, btree, heap uint64) {
	w.putU64(btree)
	w.putU64(heap)
}
