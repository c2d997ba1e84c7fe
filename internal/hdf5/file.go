// Package hdf5 implements a native codec for the HDF5 container format,
// covering the subset needed to expose datasets as relational tables:
// superblock versions 0 through 3, version 1 and 2 object headers, groups
// stored as symbol tables or link messages, compact, contiguous and
// chunked data layouts, and the deflate, shuffle and fletcher32 chunk
// filters. A small writer produces files in either the classic or the
// compact-group flavor so the read path can be exercised without external
// fixtures.
package hdf5

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
)

var (
	// ErrBadSignature reports that the format signature was not found at
	// any valid user-block offset.
	ErrBadSignature = errors.New("hdf5: file signature not found")

	// ErrUnsupported reports a structurally valid feature this reader
	// does not handle.
	ErrUnsupported = errors.New("hdf5: unsupported feature")

	// ErrCorrupted reports metadata that violates the format.
	ErrCorrupted = errors.New("hdf5: corrupted metadata")

	// ErrNotFound reports that a path does not resolve to an object.
	ErrNotFound = errors.New("hdf5: object not found")

	// ErrNotDataset reports that a path resolves to a group.
	ErrNotDataset = errors.New("hdf5: object is not a dataset")
)

// maxLinkDepth bounds soft link resolution so link cycles terminate.
const maxLinkDepth = 16

// File is an open container. It is safe for sequential use by one
// goroutine per File; the underlying io.ReaderAt is never written to.
type File struct {
	src    io.ReaderAt
	sb     *superblock
	closer io.Closer
}

// Open opens the container at path for reading.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	hf, err := NewFile(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	hf.closer = f
	return hf, nil
}

// NewFile parses the superblock of an already-open container. The caller
// retains ownership of src.
func NewFile(src io.ReaderAt) (*File, error) {
	sb, err := readSuperblock(src)
	if err != nil {
		return nil, err
	}
	return &File{src: src, sb: sb}, nil
}

// Close releases the underlying file if this File owns one. It is
// idempotent.
func (f *File) Close() error {
	if f.closer == nil {
		return nil
	}
	c := f.closer
	f.closer = nil
	return c.Close()
}

// abs maps a stored address to an absolute file offset.
func (f *File) abs(addr uint64) int64 {
	return int64(f.sb.base + addr)
}

// rd returns a reader at the stored address.
func (f *File) rd(addr uint64) *reader {
	return newReader(f.src, f.abs(addr), f.sb.offsetSize, f.sb.lengthSize)
}

// rdAt returns a reader at an absolute file offset.
func (f *File) rdAt(pos int64) *reader {
	return newReader(f.src, pos, f.sb.offsetSize, f.sb.lengthSize)
}

// links returns the directory entries of a group object, reading either
// its link messages or its symbol table.
func (f *File) links(oi *objectInfo) ([]Link, error) {
	if oi.denseLinks {
		return nil, fmt.Errorf("%w: dense group link storage", ErrUnsupported)
	}
	if oi.symtab != nil {
		heap, err := f.readLocalHeap(oi.symtab.heap)
		if err != nil {
			return nil, err
		}
		return f.readGroupBTree(oi.symtab.btree, heap)
	}
	return oi.links, nil
}

// Resolve walks path from the root group and returns the object header
// aggregate. Soft links are followed within the file; external links are
// not supported.
func (f *File) resolve(path string) (*objectInfo, error) {
	return f.resolveFrom(f.sb.root, path, 0)
}

func (f *File) resolveFrom(addr uint64, path string, depth int) (*objectInfo, error) {
	if depth > maxLinkDepth {
		return nil, fmt.Errorf("%w: link chain deeper than %d while resolving %q", ErrUnsupported, maxLinkDepth, path)
	}
	oi, err := f.readObject(addr)
	if err != nil {
		return nil, err
	}
	segments := splitPath(path)
	for i, seg := range segments {
		links, err := f.links(oi)
		if err != nil {
			return nil, err
		}
		var found *Link
		for j := range links {
			if links[j].Name == seg {
				found = &links[j]
				break
			}
		}
		if found == nil {
			return nil, fmt.Errorf("%w: %q", ErrNotFound, "/"+strings.Join(segments[:i+1], "/"))
		}
		rest := strings.Join(segments[i+1:], "/")
		switch found.Kind {
		case LinkHard:
			if oi, err = f.readObject(found.Address); err != nil {
				return nil, err
			}
		case LinkSoft:
			target := found.Target
			if strings.HasPrefix(target, "/") {
				if rest != "" {
					target = target + "/" + rest
				}
				return f.resolveFrom(f.sb.root, target, depth+1)
			}
			if rest != "" {
				target = target + "/" + rest
			}
			return f.resolveFrom(oi.addr, target, depth+1)
		case LinkExternal:
			return nil, fmt.Errorf("%w: external link %q", ErrUnsupported, found.Name)
		}
	}
	return oi, nil
}

func splitPath(path string) []string {
	var segments []string
	for _, seg := range strings.Split(path, "/") {
		if seg != "" && seg != "." {
			segments = append(segments, seg)
		}
	}
	return segments
}

// Datasets lists the paths of every dataset reachable from the root
// through hard links, sorted lexicographically. Soft and external links
// are listed as directory entries elsewhere but not traversed, so each
// dataset appears once and link cycles cannot recur.
func (f *File) Datasets() ([]string, error) {
	var paths []string
	visited := make(map[uint64]bool)
	if err := f.walkDatasets(f.sb.root, "", visited, &paths); err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}

func (f *File) walkDatasets(addr uint64, prefix string, visited map[uint64]bool, paths *[]string) error {
	if visited[addr] {
		return nil
	}
	visited[addr] = true
	oi, err := f.readObject(addr)
	if err != nil {
		return err
	}
	if oi.isDataset() {
		if prefix == "" {
			return fmt.Errorf("%w: root object is a dataset", ErrCorrupted)
		}
		*paths = append(*paths, prefix)
		return nil
	}
	links, err := f.links(oi)
	if err != nil {
		return err
	}
	for _, ln := range links {
		if ln.Kind != LinkHard {
			continue
		}
		if err := f.walkDatasets(ln.Address, prefix+"/"+ln.Name, visited, paths); err != nil {
			return err
		}
	}
	return nil
}
