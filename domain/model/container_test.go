package model

import (
	"compress/gzip"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"

	"github.com/nao1215/hdf5sql/internal/hdf5"
)

// writeFixture writes a small container with two datasets and a group.
func writeFixture(t *testing.T, path string) {
	t.Helper()

	w, err := hdf5.Create(path)
	if err != nil {
		t.Fatalf("failed to create container: %v", err)
	}
	if err := w.CreateDataset("/vals", hdf5.FixedType(4, true), hdf5.SimpleSpace(3), i32Bytes(1, 2, 3)); err != nil {
		t.Fatalf("failed to create dataset: %v", err)
	}
	if err := w.CreateDataset("/grp/inner", hdf5.FloatType(8), hdf5.SimpleSpace(1), make([]byte, 8)); err != nil {
		t.Fatalf("failed to create dataset: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("failed to close writer: %v", err)
	}
}

func TestOpenContainer_NotFound(t *testing.T) {
	t.Parallel()

	if _, err := OpenContainer(filepath.Join(t.TempDir(), "missing.h5")); !errors.Is(err, ErrContainerNotFound) {
		t.Errorf("expected ErrContainerNotFound, got %v", err)
	}

	if _, err := OpenContainer(t.TempDir()); !errors.Is(err, ErrContainerNotFound) {
		t.Errorf("expected ErrContainerNotFound for a directory, got %v", err)
	}
}

func TestOpenContainer_NotHDF5(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "fake.h5")
	if err := os.WriteFile(path, []byte("id,name\n1,alice\n"), 0600); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	_, err := OpenContainer(path)
	if err == nil {
		t.Fatal("expected opening a non-container file to fail")
	}
	if errors.Is(err, ErrContainerNotFound) {
		t.Errorf("expected a signature error, got ErrContainerNotFound: %v", err)
	}
}

func TestOpenContainer_Plain(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "data.h5")
	writeFixture(t, path)

	c, err := OpenContainer(path)
	if err != nil {
		t.Fatalf("failed to open container: %v", err)
	}
	defer func() {
		if err := c.Close(); err != nil {
			t.Errorf("failed to close container: %v", err)
		}
	}()

	if c.Path() != path {
		t.Errorf("expected path %s, got %s", path, c.Path())
	}

	datasets, err := c.Datasets()
	if err != nil {
		t.Fatalf("failed to list datasets: %v", err)
	}
	expected := []string{"/grp/inner", "/vals"}
	if !reflect.DeepEqual(datasets, expected) {
		t.Errorf("expected datasets %v, got %v", expected, datasets)
	}
}

func TestOpenContainer_Compressed(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	plain := filepath.Join(dir, "data.h5")
	writeFixture(t, plain)
	raw, err := os.ReadFile(plain)
	if err != nil {
		t.Fatalf("failed to read container: %v", err)
	}

	compressors := []struct {
		name string
		ext  string
		pack func(t *testing.T, path string)
	}{
		{
			name: "gzip",
			ext:  ExtGZ,
			pack: func(t *testing.T, path string) {
				t.Helper()
				f, err := os.Create(path)
				if err != nil {
					t.Fatalf("failed to create file: %v", err)
				}
				zw := gzip.NewWriter(f)
				if _, err := zw.Write(raw); err != nil {
					t.Fatalf("failed to compress: %v", err)
				}
				if err := zw.Close(); err != nil {
					t.Fatalf("failed to close gzip writer: %v", err)
				}
				if err := f.Close(); err != nil {
					t.Fatalf("failed to close file: %v", err)
				}
			},
		},
		{
			name: "xz",
			ext:  ExtXZ,
			pack: func(t *testing.T, path string) {
				t.Helper()
				f, err := os.Create(path)
				if err != nil {
					t.Fatalf("failed to create file: %v", err)
				}
				xw, err := xz.NewWriter(f)
				if err != nil {
					t.Fatalf("failed to create xz writer: %v", err)
				}
				if _, err := xw.Write(raw); err != nil {
					t.Fatalf("failed to compress: %v", err)
				}
				if err := xw.Close(); err != nil {
					t.Fatalf("failed to close xz writer: %v", err)
				}
				if err := f.Close(); err != nil {
					t.Fatalf("failed to close file: %v", err)
				}
			},
		},
		{
			name: "zstd",
			ext:  ExtZSTD,
			pack: func(t *testing.T, path string) {
				t.Helper()
				f, err := os.Create(path)
				if err != nil {
					t.Fatalf("failed to create file: %v", err)
				}
				zw, err := zstd.NewWriter(f)
				if err != nil {
					t.Fatalf("failed to create zstd writer: %v", err)
				}
				if _, err := zw.Write(raw); err != nil {
					t.Fatalf("failed to compress: %v", err)
				}
				if err := zw.Close(); err != nil {
					t.Fatalf("failed to close zstd writer: %v", err)
				}
				if err := f.Close(); err != nil {
					t.Fatalf("failed to close file: %v", err)
				}
			},
		},
	}

	for _, tt := range compressors {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			path := filepath.Join(dir, "data.h5"+tt.ext)
			tt.pack(t, path)

			c, err := OpenContainer(path)
			if err != nil {
				t.Fatalf("failed to open compressed container: %v", err)
			}
			if c.temp == "" {
				t.Error("expected a temporary file for a compressed container")
			}
			temp := c.temp

			h, err := c.Dataset("/vals")
			if err != nil {
				t.Fatalf("failed to resolve dataset: %v", err)
			}
			s, err := NewDatasetScan(h, nil, 0)
			if err != nil {
				t.Fatalf("failed to start scan: %v", err)
			}
			rows := collectRows(t, s)
			if len(rows) != 3 || rows[0][0] != int64(1) {
				t.Errorf("expected 3 rows starting at 1, got %v", rows)
			}

			if err := c.Close(); err != nil {
				t.Fatalf("failed to close container: %v", err)
			}
			if _, err := os.Stat(temp); !errors.Is(err, os.ErrNotExist) {
				t.Errorf("expected the temporary file to be removed, got %v", err)
			}
		})
	}
}

func TestContainer_DatasetErrors(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "data.h5")
	writeFixture(t, path)

	c, err := OpenContainer(path)
	if err != nil {
		t.Fatalf("failed to open container: %v", err)
	}
	defer func() {
		if err := c.Close(); err != nil {
			t.Errorf("failed to close container: %v", err)
		}
	}()

	tests := []struct {
		name string
		path string
	}{
		{name: "missing dataset", path: "/missing"},
		{name: "missing intermediate group", path: "/nope/inner"},
		{name: "path names a group", path: "/grp"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if _, err := c.Dataset(tt.path); !errors.Is(err, ErrDatasetNotFound) {
				t.Errorf("expected ErrDatasetNotFound, got %v", err)
			}
		})
	}
}

func TestContainer_MultiDimensionalDataset(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "grid.h5")
	w, err := hdf5.Create(path)
	if err != nil {
		t.Fatalf("failed to create container: %v", err)
	}
	if err := w.CreateDataset("/grid", hdf5.FixedType(4, true), hdf5.SimpleSpace(2, 3), make([]byte, 24)); err != nil {
		t.Fatalf("failed to create dataset: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("failed to close writer: %v", err)
	}

	c, err := OpenContainer(path)
	if err != nil {
		t.Fatalf("failed to open container: %v", err)
	}
	defer func() {
		if err := c.Close(); err != nil {
			t.Errorf("failed to close container: %v", err)
		}
	}()

	if _, err := c.Dataset("/grid"); !errors.Is(err, ErrUnsupportedLayout) {
		t.Errorf("expected ErrUnsupportedLayout for a 2-dimensional dataset, got %v", err)
	}
}

func TestContainer_CloseIdempotent(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "data.h5")
	writeFixture(t, path)

	c, err := OpenContainer(path)
	if err != nil {
		t.Fatalf("failed to open container: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("failed to close container: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("expected closing twice to succeed, got %v", err)
	}
}

func TestDatasetHandle_ColumnsCopy(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "data.h5")
	writeFixture(t, path)

	c, err := OpenContainer(path)
	if err != nil {
		t.Fatalf("failed to open container: %v", err)
	}
	defer func() {
		if err := c.Close(); err != nil {
			t.Errorf("failed to close container: %v", err)
		}
	}()

	h, err := c.Dataset("/vals")
	if err != nil {
		t.Fatalf("failed to resolve dataset: %v", err)
	}

	columns := h.Columns()
	columns[0].Name = "mutated"
	if h.Columns()[0].Name != "result" {
		t.Error("expected the handle schema to be unaffected by caller mutation")
	}
}

func TestIsSupportedFile(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		path     string
		expected bool
	}{
		{name: "h5 extension", path: "data.h5", expected: true},
		{name: "hdf5 extension", path: "data.hdf5", expected: true},
		{name: "he5 extension", path: "data.he5", expected: true},
		{name: "uppercase extension", path: "DATA.H5", expected: true},
		{name: "gzip compressed", path: "data.h5.gz", expected: true},
		{name: "bzip2 compressed", path: "data.hdf5.bz2", expected: true},
		{name: "xz compressed", path: "data.h5.xz", expected: true},
		{name: "zstd compressed", path: "data.he5.zst", expected: true},
		{name: "with directory", path: "/var/data/run.h5", expected: true},
		{name: "csv is not a container", path: "data.csv", expected: false},
		{name: "compression without container extension", path: "data.gz", expected: false},
		{name: "no extension", path: "data", expected: false},
		{name: "empty path", path: "", expected: false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := IsSupportedFile(tt.path); got != tt.expected {
				t.Errorf("expected %v for %s, got %v", tt.expected, tt.path, got)
			}
		})
	}
}

func TestSupportedFileExtPatterns(t *testing.T) {
	t.Parallel()

	patterns := SupportedFileExtPatterns()
	if len(patterns) != 15 {
		t.Errorf("expected 15 patterns, got %d", len(patterns))
	}

	contains := func(want string) bool {
		for _, p := range patterns {
			if p == want {
				return true
			}
		}
		return false
	}
	for _, want := range []string{"*.h5", "*.hdf5", "*.he5", "*.h5.gz", "*.hdf5.zst"} {
		if !contains(want) {
			t.Errorf("expected patterns to contain %s", want)
		}
	}
}

func TestFile_CompressionDetection(t *testing.T) {
	t.Parallel()

	tests := []struct {
		path     string
		expected CompressionType
	}{
		{path: "data.h5", expected: CompressionNone},
		{path: "data.h5.gz", expected: CompressionGZ},
		{path: "data.h5.bz2", expected: CompressionBZ2},
		{path: "data.h5.xz", expected: CompressionXZ},
		{path: "data.h5.zst", expected: CompressionZSTD},
		{path: "DATA.H5.GZ", expected: CompressionGZ},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.path, func(t *testing.T) {
			t.Parallel()

			f := NewFile(tt.path)
			if f.Compression() != tt.expected {
				t.Errorf("expected %s, got %s", tt.expected, f.Compression())
			}
			if f.Path() != tt.path {
				t.Errorf("expected path %s, got %s", tt.path, f.Path())
			}
			if got := f.IsCompressed(); got != (tt.expected != CompressionNone) {
				t.Errorf("expected IsCompressed %v, got %v", tt.expected != CompressionNone, got)
			}
		})
	}
}
