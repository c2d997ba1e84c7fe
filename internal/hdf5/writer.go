package hdf5

import (
	"fmt"
	"os"
	"sort"
	"strings"
)

// Writer builds a container in memory and serializes it on Close. Two
// flavors are supported: the default writes a version 2 superblock with
// compact groups (link messages in version 2 object headers), the classic
// flavor a version 0 superblock with symbol-table groups and version 1
// headers, matching what older writers produce by default.
type Writer struct {
	file    *os.File
	classic bool
	root    *wgroup
	closed  bool
}

type wgroup struct {
	entries []*wentry
}

type wentry struct {
	name       string
	group      *wgroup
	ds         *wdataset
	softTarget string
	soft       bool
}

type wdataset struct {
	dtype        *Datatype
	space        *Dataspace
	data         []byte
	chunkRows    int
	compact      bool
	shuffle      bool
	fletcher     bool
	deflateLevel int
}

// CreateOption configures a Writer.
type CreateOption func(*Writer)

// WithClassicFormat selects the version 0 superblock flavor with
// symbol-table groups.
func WithClassicFormat() CreateOption {
	return func(w *Writer) { w.classic = true }
}

// Create opens path for writing. Nothing is written until Close.
func Create(path string, opts ...CreateOption) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w := &Writer{file: f, root: &wgroup{}}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// DatasetOption configures one dataset.
type DatasetOption func(*wdataset)

// WithChunks stores the dataset chunked with the given number of rows per
// chunk. Chunking requires a rank 1 dataspace.
func WithChunks(rows int) DatasetOption {
	return func(d *wdataset) { d.chunkRows = rows }
}

// WithCompact embeds the data in the object header.
func WithCompact() DatasetOption {
	return func(d *wdataset) { d.compact = true }
}

// WithDeflate compresses chunks at the given zlib level. Implies chunked
// storage; without WithChunks the dataset becomes a single chunk.
func WithDeflate(level int) DatasetOption {
	return func(d *wdataset) { d.deflateLevel = level }
}

// WithShuffle interleaves element bytes before compression.
func WithShuffle() DatasetOption {
	return func(d *wdataset) { d.shuffle = true }
}

// WithFletcher32 appends a checksum to each stored chunk.
func WithFletcher32() DatasetOption {
	return func(d *wdataset) { d.fletcher = true }
}

// CreateGroup creates the group at path and any missing intermediates.
func (w *Writer) CreateGroup(path string) error {
	_, err := w.ensureGroup(splitPath(path))
	return err
}

// CreateDataset creates a dataset at path holding the given raw element
// bytes. The data length is taken as given, so callers can produce
// deliberately short extents.
func (w *Writer) CreateDataset(path string, dtype *Datatype, space *Dataspace, data []byte, opts ...DatasetOption) error {
	segments := splitPath(path)
	if len(segments) == 0 {
		return fmt.Errorf("hdf5: empty dataset path %q", path)
	}
	parent, err := w.ensureGroup(segments[:len(segments)-1])
	if err != nil {
		return err
	}
	name := segments[len(segments)-1]
	if err := checkLinkName(name); err != nil {
		return err
	}
	if parent.find(name) != nil {
		return fmt.Errorf("hdf5: %q already exists", path)
	}
	ds := &wdataset{dtype: dtype, space: space, data: data, deflateLevel: -1}
	for _, opt := range opts {
		opt(ds)
	}
	chunked := ds.chunkRows > 0 || ds.deflateLevel >= 0 || ds.shuffle || ds.fletcher
	if chunked {
		if ds.compact {
			return fmt.Errorf("hdf5: dataset %q cannot be both compact and chunked", path)
		}
		if space.Rank() != 1 {
			return fmt.Errorf("hdf5: chunked dataset %q requires rank 1, got %d", path, space.Rank())
		}
		if ds.chunkRows <= 0 {
			ds.chunkRows = int(space.Dims[0])
			if ds.chunkRows == 0 {
				ds.chunkRows = 1
			}
		}
	}
	parent.entries = append(parent.entries, &wentry{name: name, ds: ds})
	return nil
}

// CreateSoftLink records a soft link at path pointing at target.
func (w *Writer) CreateSoftLink(path, target string) error {
	segments := splitPath(path)
	if len(segments) == 0 {
		return fmt.Errorf("hdf5: empty link path %q", path)
	}
	parent, err := w.ensureGroup(segments[:len(segments)-1])
	if err != nil {
		return err
	}
	name := segments[len(segments)-1]
	if err := checkLinkName(name); err != nil {
		return err
	}
	if parent.find(name) != nil {
		return fmt.Errorf("hdf5: %q already exists", path)
	}
	parent.entries = append(parent.entries, &wentry{name: name, soft: true, softTarget: target})
	return nil
}

func (w *Writer) ensureGroup(segments []string) (*wgroup, error) {
	g := w.root
	for i, seg := range segments {
		if err := checkLinkName(seg); err != nil {
			return nil, err
		}
		if e := g.find(seg); e != nil {
			if e.group == nil {
				return nil, fmt.Errorf("hdf5: %q is not a group", "/"+strings.Join(segments[:i+1], "/"))
			}
			g = e.group
			continue
		}
		child := &wgroup{}
		g.entries = append(g.entries, &wentry{name: seg, group: child})
		g = child
	}
	return g, nil
}

func (g *wgroup) find(name string) *wentry {
	for _, e := range g.entries {
		if e.name == name {
			return e
		}
	}
	return nil
}

func checkLinkName(name string) error {
	if name == "" {
		return fmt.Errorf("hdf5: empty link name")
	}
	if len(name) > 255 {
		return fmt.Errorf("hdf5: link name longer than 255 bytes")
	}
	return nil
}

// Close serializes the tree and closes the file. It is idempotent;
// serialization happens on the first call.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	im := &fileImage{}
	sbSize := superblockV2Size
	if w.classic {
		sbSize = superblockV0Size
	}
	im.buf = make([]byte, sbSize)

	rootAddr, err := w.writeGroup(im, w.root)
	if err != nil {
		w.file.Close()
		return err
	}
	eof := uint64(len(im.buf))
	var sb []byte
	if w.classic {
		sb = encodeSuperblockV0(eof, rootAddr)
	} else {
		sb = encodeSuperblockV2(eof, rootAddr)
	}
	copy(im.buf, sb)

	if _, err := w.file.Write(im.buf); err != nil {
		w.file.Close()
		return err
	}
	if err := w.file.Sync(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}

// fileImage is the in-memory serialization target with a bump allocator.
type fileImage struct {
	buf []byte
}

func (im *fileImage) alloc(data []byte) uint64 {
	if rem := len(im.buf) % 8; rem != 0 {
		im.buf = append(im.buf, make([]byte, 8-rem)...)
	}
	addr := uint64(len(im.buf))
	im.buf = append(im.buf, data...)
	return addr
}

func (w *Writer) writeGroup(im *fileImage, g *wgroup) (uint64, error) {
	addrs := make(map[string]uint64)
	for _, e := range g.entries {
		switch {
		case e.group != nil:
			addr, err := w.writeGroup(im, e.group)
			if err != nil {
				return 0, err
			}
			addrs[e.name] = addr
		case e.ds != nil:
			addr, err := w.writeDataset(im, e.ds)
			if err != nil {
				return 0, err
			}
			addrs[e.name] = addr
		}
	}
	if w.classic {
		return w.writeClassicGroup(im, g, addrs)
	}
	return w.writeCompactGroup(im, g, addrs)
}

// writeCompactGroup emits a version 2 header whose links live in link
// messages.
func (w *Writer) writeCompactGroup(im *fileImage, g *wgroup, addrs map[string]uint64) (uint64, error) {
	var msgs []encodedMsg
	var b wbuf
	encodeLinkInfo(&b)
	msgs = append(msgs, encodedMsg{typ: msgLinkInfo, body: b.b})
	b = wbuf{}
	encodeGroupInfo(&b)
	msgs = append(msgs, encodedMsg{typ: msgGroupInfo, body: b.b})
	for _, e := range g.entries {
		b = wbuf{}
		if e.soft {
			encodeSoftLink(&b, e.name, e.softTarget)
		} else {
			encodeHardLink(&b, e.name, addrs[e.name])
		}
		msgs = append(msgs, encodedMsg{typ: msgLink, body: b.b})
	}
	return im.alloc(encodeObjectHeaderV2(msgs)), nil
}

// writeClassicGroup emits the old-style trio: local heap, symbol table
// node, name B-tree, and a version 1 header carrying the symbol table
// message.
func (w *Writer) writeClassicGroup(im *fileImage, g *wgroup, addrs map[string]uint64) (uint64, error) {
	sorted := make([]*wentry, len(g.entries))
	copy(sorted, g.entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].name < sorted[j].name })

	heap := newHeapBuilder()
	entries := make([]symbolEntry, 0, len(sorted))
	var highKey uint64
	for _, e := range sorted {
		nameOff := heap.add(e.name)
		highKey = nameOff
		se := symbolEntry{nameOffset: nameOff}
		if e.soft {
			targetOff := heap.add(e.softTarget)
			se.cacheType = 2
			se.addr = undefinedAddress
			se.scratch[0] = byte(targetOff)
			se.scratch[1] = byte(targetOff >> 8)
			se.scratch[2] = byte(targetOff >> 16)
			se.scratch[3] = byte(targetOff >> 24)
		} else {
			se.addr = addrs[e.name]
		}
		entries = append(entries, se)
	}

	segment := heap.segment()
	heapDataAddr := im.alloc(segment)
	heapAddr := im.alloc(encodeLocalHeap(heapDataAddr, len(segment)))
	snodAddr := im.alloc(encodeSymbolNode(entries))
	btreeAddr := im.alloc(encodeGroupBTreeLeaf(snodAddr, 0, highKey))

	var b wbuf
	encodeSymbolTableMessage(&b, btreeAddr, heapAddr)
	hdr := encodeObjectHeaderV1([]encodedMsg{{typ: msgSymbolTable, body: b.b}})
	return im.alloc(hdr), nil
}

func (w *Writer) writeDataset(im *fileImage, ds *wdataset) (uint64, error) {
	elemSize := int(ds.dtype.Size)
	if elemSize == 0 {
		return 0, fmt.Errorf("hdf5: zero-size datatype")
	}

	var layout wbuf
	var pipeline []Filter
	switch {
	case ds.compact:
		encodeLayoutCompact(&layout, ds.data)
	case ds.chunkRows > 0:
		if ds.shuffle {
			pipeline = append(pipeline, shuffleFilter(elemSize))
		}
		if ds.deflateLevel >= 0 {
			pipeline = append(pipeline, deflateFilter(ds.deflateLevel))
		}
		if ds.fletcher {
			pipeline = append(pipeline, fletcherFilter())
		}
		btreeAddr, err := w.writeChunks(im, ds, pipeline, elemSize)
		if err != nil {
			return 0, err
		}
		encodeLayoutChunkedV3(&layout, btreeAddr, []uint32{uint32(ds.chunkRows)}, uint32(elemSize))
	default:
		addr := undefinedAddress
		if len(ds.data) > 0 {
			addr = im.alloc(ds.data)
		}
		encodeLayoutContiguous(&layout, addr, uint64(len(ds.data)))
	}

	var space, dtype, fill wbuf
	encodeDataspace(&space, ds.space)
	if err := encodeDatatype(&dtype, ds.dtype); err != nil {
		return 0, err
	}
	encodeFillValueV3(&fill)
	msgs := []encodedMsg{
		{typ: msgDataspace, body: space.b},
		{typ: msgDatatype, body: dtype.b},
		{typ: msgFillValue, body: fill.b},
		{typ: msgDataLayout, body: layout.b},
	}
	if len(pipeline) > 0 {
		var fp wbuf
		encodeFilterPipeline(&fp, pipeline)
		msgs = append(msgs, encodedMsg{typ: msgFilterPipeline, body: fp.b})
	}

	if w.classic {
		return im.alloc(encodeObjectHeaderV1(msgs)), nil
	}
	return im.alloc(encodeObjectHeaderV2(msgs)), nil
}

// writeChunks splits the data into fixed chunks, filters each, and writes
// a single-leaf chunk B-tree over them. The final partial chunk is padded
// with zeros to full size before filtering.
func (w *Writer) writeChunks(im *fileImage, ds *wdataset, pipeline []Filter, elemSize int) (uint64, error) {
	chunkBytes := ds.chunkRows * elemSize
	var entries []chunkEntry
	for off := 0; off < len(ds.data); off += chunkBytes {
		end := off + chunkBytes
		raw := ds.data[off:min(end, len(ds.data))]
		if len(raw) < chunkBytes {
			padded := make([]byte, chunkBytes)
			copy(padded, raw)
			raw = padded
		}
		stored, err := encodeChunkData(raw, pipeline)
		if err != nil {
			return 0, err
		}
		addr := im.alloc(stored)
		entries = append(entries, chunkEntry{
			offsets: []uint64{uint64(off / elemSize)},
			size:    uint32(len(stored)),
			addr:    addr,
		})
	}
	if len(entries) == 0 {
		return undefinedAddress, nil
	}
	gridEnd := uint64(len(entries)) * uint64(ds.chunkRows)
	return im.alloc(encodeChunkBTreeLeaf(entries, 1, gridEnd)), nil
}

// superblockV0Size is the version 0 superblock plus the root symbol table
// entry, with 8-byte offsets.
const superblockV0Size = 24 + 4*8 + 40

// encodeSuperblockV0 emits the classic superblock with 8-byte offsets and
// an uncached root entry.
func encodeSuperblockV0(eof, root uint64) []byte {
	var w wbuf
	w.putBytes(signature)
	w.putU8(0) // superblock version
	w.putU8(0) // free space version
	w.putU8(0) // root group version
	w.putU8(0) // reserved
	w.putU8(0) // shared header version
	w.putU8(8) // offset size
	w.putU8(8) // length size
	w.putU8(0) // reserved
	w.putU16(4)  // group leaf K
	w.putU16(16) // group internal K
	w.putU32(0)  // consistency flags
	w.putU64(0)  // base address
	w.putU64(undefinedAddress)
	w.putU64(eof)
	w.putU64(undefinedAddress)
	// Root group symbol table entry.
	w.putU64(0) // link name offset
	w.putU64(root)
	w.putU32(0) // cache type
	w.putU32(0)
	w.putZeros(16)
	return w.b
}
