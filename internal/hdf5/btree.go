package hdf5

import (
	"bytes"
	"fmt"
	"sort"
)

var treeSignature = []byte("TREE")
var snodSignature = []byte("SNOD")

// Version 1 B-tree node types.
const (
	btreeNodeGroup uint8 = 0
	btreeNodeChunk uint8 = 1
)

// maxBTreeDepth bounds recursion through internal nodes.
const maxBTreeDepth = 32

// chunkEntry locates one stored chunk: its element offset along each
// dataset dimension, its stored (possibly filtered) byte size, the filter
// mask, and the file address.
type chunkEntry struct {
	offsets []uint64
	size    uint32
	mask    uint32
	addr    uint64
}

// readChunkBTree walks a version 1 chunk B-tree and returns all entries
// sorted by their first-dimension offset. rank is the dataset rank; keys
// carry one extra trailing dimension for the element size, always zero.
func (f *File) readChunkBTree(addr uint64, rank int) ([]chunkEntry, error) {
	var entries []chunkEntry
	if err := f.walkChunkNode(addr, rank, 0, &entries); err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].offsets[0] < entries[j].offsets[0]
	})
	return entries, nil
}

func (f *File) walkChunkNode(addr uint64, rank, depth int, entries *[]chunkEntry) error {
	if depth > maxBTreeDepth {
		return fmt.Errorf("%w: chunk B-tree deeper than %d levels", ErrCorrupted, maxBTreeDepth)
	}
	r := f.rd(addr)
	nodeType, level, used, err := f.readBTreeNodeHeader(r, addr)
	if err != nil {
		return err
	}
	if nodeType != btreeNodeChunk {
		return fmt.Errorf("%w: node type %d in chunk B-tree", ErrCorrupted, nodeType)
	}
	for i := 0; i < int(used); i++ {
		entry, err := readChunkKey(r, rank)
		if err != nil {
			return err
		}
		child, err := r.offset()
		if err != nil {
			return err
		}
		if level == 0 {
			entry.addr = child
			*entries = append(*entries, entry)
		} else if err := f.walkChunkNode(child, rank, depth+1, entries); err != nil {
			return err
		}
	}
	// The final key bounds the last child and carries no address.
	return nil
}

func readChunkKey(r *reader, rank int) (chunkEntry, error) {
	var entry chunkEntry
	var err error
	if entry.size, err = r.u32(); err != nil {
		return entry, err
	}
	if entry.mask, err = r.u32(); err != nil {
		return entry, err
	}
	entry.offsets = make([]uint64, rank)
	for i := range entry.offsets {
		if entry.offsets[i], err = r.u64(); err != nil {
			return entry, err
		}
	}
	r.skip(8) // element-size dimension offset, always zero
	return entry, nil
}

func (f *File) readBTreeNodeHeader(r *reader, addr uint64) (nodeType, level uint8, used uint16, err error) {
	sig, err := r.bytes(4)
	if err != nil {
		return 0, 0, 0, err
	}
	if !bytes.Equal(sig, treeSignature) {
		return 0, 0, 0, fmt.Errorf("%w: B-tree signature at %#x", ErrCorrupted, addr)
	}
	if nodeType, err = r.u8(); err != nil {
		return 0, 0, 0, err
	}
	if level, err = r.u8(); err != nil {
		return 0, 0, 0, err
	}
	if used, err = r.u16(); err != nil {
		return 0, 0, 0, err
	}
	// Left and right sibling addresses are not needed for a full walk.
	if _, err = r.offset(); err != nil {
		return 0, 0, 0, err
	}
	if _, err = r.offset(); err != nil {
		return 0, 0, 0, err
	}
	return nodeType, level, used, nil
}

// readGroupBTree walks an old-style group's name B-tree and collects the
// links recorded in its symbol table nodes.
func (f *File) readGroupBTree(addr uint64, heap *localHeap) ([]Link, error) {
	var links []Link
	if err := f.walkGroupNode(addr, heap, 0, &links); err != nil {
		return nil, err
	}
	return links, nil
}

func (f *File) walkGroupNode(addr uint64, heap *localHeap, depth int, links *[]Link) error {
	if depth > maxBTreeDepth {
		return fmt.Errorf("%w: group B-tree deeper than %d levels", ErrCorrupted, maxBTreeDepth)
	}
	r := f.rd(addr)
	nodeType, level, used, err := f.readBTreeNodeHeader(r, addr)
	if err != nil {
		return err
	}
	if nodeType != btreeNodeGroup {
		return fmt.Errorf("%w: node type %d in group B-tree", ErrCorrupted, nodeType)
	}
	// Keys are heap offsets of separator names; children interleave.
	if _, err := r.length(); err != nil {
		return err
	}
	for i := 0; i < int(used); i++ {
		child, err := r.offset()
		if err != nil {
			return err
		}
		if _, err := r.length(); err != nil {
			return err
		}
		if level == 0 {
			if err := f.readSymbolNode(child, heap, links); err != nil {
				return err
			}
		} else if err := f.walkGroupNode(child, heap, depth+1, links); err != nil {
			return err
		}
	}
	return nil
}

// readSymbolNode parses one SNOD block. Cache type 2 entries are soft
// links whose scratch space holds the heap offset of the target path.
func (f *File) readSymbolNode(addr uint64, heap *localHeap, links *[]Link) error {
	r := f.rd(addr)
	sig, err := r.bytes(4)
	if err != nil {
		return err
	}
	if !bytes.Equal(sig, snodSignature) {
		return fmt.Errorf("%w: symbol node signature at %#x", ErrCorrupted, addr)
	}
	version, err := r.u8()
	if err != nil {
		return err
	}
	if version != 1 {
		return fmt.Errorf("%w: symbol node version %d", ErrUnsupported, version)
	}
	r.skip(1)
	count, err := r.u16()
	if err != nil {
		return err
	}
	for i := 0; i < int(count); i++ {
		nameOff, err := r.offset()
		if err != nil {
			return err
		}
		objAddr, err := r.offset()
		if err != nil {
			return err
		}
		cacheType, err := r.u32()
		if err != nil {
			return err
		}
		r.skip(4) // reserved
		scratch, err := r.bytes(16)
		if err != nil {
			return err
		}
		name, err := heap.stringAt(nameOff)
		if err != nil {
			return err
		}
		ln := Link{Name: name, Kind: LinkHard, Address: objAddr}
		if cacheType == 2 {
			targetOff := uint64(scratch[0]) | uint64(scratch[1])<<8 |
				uint64(scratch[2])<<16 | uint64(scratch[3])<<24
			target, err := heap.stringAt(targetOff)
			if err != nil {
				return err
			}
			ln = Link{Name: name, Kind: LinkSoft, Target: target}
		}
		*links = append(*links, ln)
	}
	return nil
}

// Write-path encoders. The writer packs everything into single leaf nodes;
// entry counts stay far below the uint16 ceiling for fixture-sized files.

// encodeChunkBTreeLeaf emits a level-0 chunk node. The final key repeats
// the grid end along the first dimension.
func encodeChunkBTreeLeaf(entries []chunkEntry, rank int, gridEnd uint64) []byte {
	var w wbuf
	w.putBytes(treeSignature)
	w.putU8(btreeNodeChunk)
	w.putU8(0)
	w.putU16(uint16(len(entries)))
	w.putU64(undefinedAddress)
	w.putU64(undefinedAddress)
	putKey := func(size, mask uint32, offsets []uint64) {
		w.putU32(size)
		w.putU32(mask)
		for _, off := range offsets {
			w.putU64(off)
		}
		w.putU64(0) // element-size dimension
	}
	for _, e := range entries {
		putKey(e.size, e.mask, e.offsets)
		w.putU64(e.addr)
	}
	final := make([]uint64, rank)
	final[0] = gridEnd
	putKey(0, 0, final)
	return w.b
}

// encodeSymbolNode emits one SNOD block; entries must already be sorted
// by name.
func encodeSymbolNode(entries []symbolEntry) []byte {
	var w wbuf
	w.putBytes(snodSignature)
	w.putU8(1)
	w.putU8(0)
	w.putU16(uint16(len(entries)))
	for _, e := range entries {
		w.putU64(e.nameOffset)
		w.putU64(e.addr)
		w.putU32(e.cacheType)
		w.putU32(0)
		w.putBytes(e.scratch[:])
	}
	return w.b
}

type symbolEntry struct {
	nameOffset uint64
	addr       uint64
	cacheType  uint32
	scratch    [16]byte
}

// encodeGroupBTreeLeaf emits a level-0 group node with a single symbol
// table child, keyed by the empty string below and the largest name above.
func encodeGroupBTreeLeaf(snodAddr, lowKey, highKey uint64) []byte {
	var w wbuf
	w.putBytes(treeSignature)
	w.putU8(btreeNodeGroup)
	w.putU8(0)
	w.putU16(1)
	w.putU64(undefinedAddress)
	w.putU64(undefinedAddress)
	w.putU64(lowKey)
	w.putU64(snodAddr)
	w.putU64(highKey)
	return w.b
}
