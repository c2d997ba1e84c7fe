package model

import (
	"compress/bzip2"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"

	"github.com/nao1215/hdf5sql/internal/hdf5"
)

// Supported container extensions.
const (
	// ExtH5 is the short container extension
	ExtH5 = ".h5"
	// ExtHDF5 is the long container extension
	ExtHDF5 = ".hdf5"
	// ExtHE5 is the container extension used by earth-science products
	ExtHE5 = ".he5"
	// ExtGZ is the gzip compression extension
	ExtGZ = ".gz"
	// ExtBZ2 is the bzip2 compression extension
	ExtBZ2 = ".bz2"
	// ExtXZ is the xz compression extension
	ExtXZ = ".xz"
	// ExtZSTD is the zstandard compression extension
	ExtZSTD = ".zst"
)

// File represents a container file path and its outer compression.
type File struct {
	path        string
	compression CompressionType
}

// NewFile creates a File from a path, detecting compression from the
// extension.
func NewFile(path string) *File {
	return &File{
		path:        path,
		compression: compressionFromPath(path),
	}
}

// Path returns the file path.
func (f *File) Path() string {
	return f.path
}

// Compression returns the detected outer compression.
func (f *File) Compression() CompressionType {
	return f.compression
}

// IsCompressed reports whether the file carries an outer compression layer.
func (f *File) IsCompressed() bool {
	return f.compression != CompressionNone
}

// openReader opens the file and returns a reader with compression applied.
// The returned function closes the decompressor and the underlying file.
func (f *File) openReader() (io.Reader, func() error, error) {
	file, err := os.Open(f.path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open file: %w", err)
	}

	switch f.compression {
	case CompressionGZ:
		gzReader, err := gzip.NewReader(file)
		if err != nil {
			if closeErr := file.Close(); closeErr != nil {
				return nil, nil, fmt.Errorf("failed to create gzip reader: %w (also failed to close file: %v)", err, closeErr)
			}
			return nil, nil, fmt.Errorf("failed to create gzip reader: %w", err)
		}
		return gzReader, func() error {
			if err := gzReader.Close(); err != nil {
				_ = file.Close()
				return err
			}
			return file.Close()
		}, nil
	case CompressionBZ2:
		return bzip2.NewReader(file), file.Close, nil
	case CompressionXZ:
		xzReader, err := xz.NewReader(file)
		if err != nil {
			if closeErr := file.Close(); closeErr != nil {
				return nil, nil, fmt.Errorf("failed to create xz reader: %w (also failed to close file: %v)", err, closeErr)
			}
			return nil, nil, fmt.Errorf("failed to create xz reader: %w", err)
		}
		return xzReader, file.Close, nil
	case CompressionZSTD:
		zstdReader, err := zstd.NewReader(file)
		if err != nil {
			if closeErr := file.Close(); closeErr != nil {
				return nil, nil, fmt.Errorf("failed to create zstd reader: %w (also failed to close file: %v)", err, closeErr)
			}
			return nil, nil, fmt.Errorf("failed to create zstd reader: %w", err)
		}
		return zstdReader, func() error {
			zstdReader.Close()
			return file.Close()
		}, nil
	default:
		return file, file.Close, nil
	}
}

// compressionFromPath detects outer compression from the file extension.
func compressionFromPath(path string) CompressionType {
	switch strings.ToLower(filepath.Ext(path)) {
	case ExtGZ:
		return CompressionGZ
	case ExtBZ2:
		return CompressionBZ2
	case ExtXZ:
		return CompressionXZ
	case ExtZSTD:
		return CompressionZSTD
	default:
		return CompressionNone
	}
}

// baseExt returns the container extension with any compression extension
// stripped, lowercased.
func baseExt(path string) string {
	lower := strings.ToLower(path)
	switch filepath.Ext(lower) {
	case ExtGZ, ExtBZ2, ExtXZ, ExtZSTD:
		lower = strings.TrimSuffix(lower, filepath.Ext(lower))
	}
	return filepath.Ext(lower)
}

// IsSupportedFile reports whether the path has a supported container
// extension, optionally wrapped in a supported compression extension.
func IsSupportedFile(path string) bool {
	switch baseExt(path) {
	case ExtH5, ExtHDF5, ExtHE5:
		return true
	default:
		return false
	}
}

// SupportedFileExtPatterns returns glob patterns for all supported container
// extensions including compressed variants.
func SupportedFileExtPatterns() []string {
	bases := []string{ExtH5, ExtHDF5, ExtHE5}
	compressions := []string{"", ExtGZ, ExtBZ2, ExtXZ, ExtZSTD}

	patterns := make([]string, 0, len(bases)*len(compressions))
	for _, base := range bases {
		for _, comp := range compressions {
			patterns = append(patterns, "*"+base+comp)
		}
	}
	return patterns
}

// Container is an open container file. Compressed containers are inflated
// to a temporary file first because dataset access needs random reads.
type Container struct {
	file   *hdf5.File
	path   string
	temp   string
	closed bool
}

// OpenContainer opens a container file for reading. The path must exist and
// carry a supported extension.
func OpenContainer(path string) (*Container, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrContainerNotFound, path)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrContainerNotFound, path)
	}

	f := NewFile(path)
	if !f.IsCompressed() {
		hf, err := hdf5.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open container %s: %w", path, err)
		}
		return &Container{file: hf, path: path}, nil
	}

	temp, err := inflateToTemp(f)
	if err != nil {
		return nil, err
	}
	hf, err := hdf5.Open(temp)
	if err != nil {
		_ = os.Remove(temp)
		return nil, fmt.Errorf("open container %s: %w", path, err)
	}
	return &Container{file: hf, path: path, temp: temp}, nil
}

// inflateToTemp decompresses a container to a temporary file and returns
// its path. The caller removes the file when done.
func inflateToTemp(f *File) (string, error) {
	reader, closer, err := f.openReader()
	if err != nil {
		return "", fmt.Errorf("open container %s: %w", f.Path(), err)
	}
	defer func() {
		_ = closer()
	}()

	temp, err := os.CreateTemp("", "hdf5sql-*"+baseExt(f.Path()))
	if err != nil {
		return "", fmt.Errorf("create temporary file: %w", err)
	}
	if _, err := io.Copy(temp, reader); err != nil {
		_ = temp.Close()
		_ = os.Remove(temp.Name())
		return "", fmt.Errorf("decompress container %s: %w", f.Path(), err)
	}
	if err := temp.Close(); err != nil {
		_ = os.Remove(temp.Name())
		return "", fmt.Errorf("decompress container %s: %w", f.Path(), err)
	}
	return temp.Name(), nil
}

// Path returns the path the container was opened from.
func (c *Container) Path() string {
	return c.path
}

// Datasets returns the paths of all datasets in the container, sorted.
func (c *Container) Datasets() ([]string, error) {
	return c.file.Datasets()
}

// Dataset resolves a dataset path to a handle. The handle describes the
// dataset's columns and supports at most one scan.
func (c *Container) Dataset(path string) (*DatasetHandle, error) {
	ds, err := c.file.Dataset(path)
	if err != nil {
		switch {
		case errors.Is(err, hdf5.ErrNotFound), errors.Is(err, hdf5.ErrNotDataset):
			return nil, fmt.Errorf("%w: %s", ErrDatasetNotFound, path)
		case errors.Is(err, hdf5.ErrUnsupported):
			return nil, fmt.Errorf("%w: %s: %v", ErrUnsupportedLayout, path, err)
		}
		return nil, err
	}
	return newDatasetHandle(c, ds)
}

// Close closes the container and removes any temporary file. It is safe to
// call more than once.
func (c *Container) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true

	err := c.file.Close()
	if c.temp != "" {
		if rmErr := os.Remove(c.temp); rmErr != nil && err == nil {
			err = rmErr
		}
		c.temp = ""
	}
	return err
}

// DatasetHandle is a read-only view of one dataset: its location, column
// schema, and row count. The schema is computed when the handle is created
// and never changes. A handle supports a single scan.
type DatasetHandle struct {
	container *Container
	ds        *hdf5.Dataset
	root      *FieldDescriptor
	fields    []FieldDescriptor
	columns   []ColumnInfo
	rows      uint64
	scanned   bool
	closed    bool
}

// newDatasetHandle builds a handle, mapping the dataset's element type to
// columns and rejecting shapes that cannot become rows.
func newDatasetHandle(c *Container, ds *hdf5.Dataset) (*DatasetHandle, error) {
	if rank := ds.Space.Rank(); rank > 1 {
		return nil, fmt.Errorf("%w: %s: %d-dimensional dataspace", ErrUnsupportedLayout, ds.Path, rank)
	}
	root, err := DescribeRecord(ds.Dtype)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", ds.Path, err)
	}
	fields := root.recordFields()
	return &DatasetHandle{
		container: c,
		ds:        ds,
		root:      root,
		fields:    fields,
		columns:   columnsOf(fields),
		rows:      ds.Space.NumElements(),
	}, nil
}

// Path returns the dataset path inside the container.
func (h *DatasetHandle) Path() string {
	return h.ds.Path
}

// Columns returns the column schema. The returned slice is a copy.
func (h *DatasetHandle) Columns() []ColumnInfo {
	columns := make([]ColumnInfo, len(h.columns))
	copy(columns, h.columns)
	return columns
}

// NumRows returns the number of records in the dataset.
func (h *DatasetHandle) NumRows() uint64 {
	return h.rows
}

// RecordSize returns the stored size of one record in bytes.
func (h *DatasetHandle) RecordSize() int {
	return h.ds.ElemSize()
}

// Close releases the handle. It is safe to call more than once; the
// container stays open.
func (h *DatasetHandle) Close() error {
	h.closed = true
	return nil
}
