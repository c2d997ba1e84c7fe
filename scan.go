package hdf5sql

import (
	"github.com/nao1215/hdf5sql/domain/model"
)

// Type aliases for scan results. These allow using hdf5sql types without
// importing the model package directly.
type (
	// RowBatch holds one batch of decoded rows from a dataset scan
	RowBatch = model.RowBatch
	// ColumnInfo describes one column of a dataset
	ColumnInfo = model.ColumnInfo
	// ColumnType identifies the SQL-facing type of a column
	ColumnType = model.ColumnType
)

// Column type constants for convenience
const (
	// ColumnTypeBoolean is a two-state enumeration column stored as 0/1
	ColumnTypeBoolean = model.ColumnTypeBoolean
	// ColumnTypeTinyInt is an 8-bit integer column
	ColumnTypeTinyInt = model.ColumnTypeTinyInt
	// ColumnTypeSmallInt is a 16-bit integer column
	ColumnTypeSmallInt = model.ColumnTypeSmallInt
	// ColumnTypeInteger is a 32-bit integer column
	ColumnTypeInteger = model.ColumnTypeInteger
	// ColumnTypeBigInt is a 64-bit integer column
	ColumnTypeBigInt = model.ColumnTypeBigInt
	// ColumnTypeDouble is a floating-point column
	ColumnTypeDouble = model.ColumnTypeDouble
	// ColumnTypeText is a string column
	ColumnTypeText = model.ColumnTypeText
	// ColumnTypeList is a fixed-size array column
	ColumnTypeList = model.ColumnTypeList
)

// scanConfig holds the configuration assembled from ScanOption values.
type scanConfig struct {
	projection []int
	batchRows  int
}

// ScanOption configures a dataset scan created by ScanDataset or
// ReadDatasetArrow.
type ScanOption func(*scanConfig)

// WithProjection limits the scan to the listed column indices, in the given
// order. Indices may repeat. Without this option every column is produced.
func WithProjection(indices ...int) ScanOption {
	return func(c *scanConfig) {
		c.projection = indices
	}
}

// WithBatchRows sets the maximum number of rows per batch. Values below one
// keep the default batch size.
func WithBatchRows(n int) ScanOption {
	return func(c *scanConfig) {
		c.batchRows = n
	}
}

// Scan streams one dataset of a container as typed row batches, without
// loading it into SQLite. The scan owns the container it opened and releases
// it on Close.
type Scan struct {
	container *model.Container
	handle    *model.DatasetHandle
	scan      *model.DatasetScan
	closed    bool
}

// ScanDataset opens the container at path and starts a streaming scan over
// the named dataset. The dataset name uses the container's internal path,
// for example "/sensors" or "/experiments/run1". Compressed containers
// (.gz, .bz2, .xz, .zst) are handled transparently.
//
// The returned scan reads the dataset exactly once. Call Next until it
// returns io.EOF, then Close to release the container:
//
//	scan, err := hdf5sql.ScanDataset("measurements.h5", "/sensors",
//		hdf5sql.WithProjection(0, 2),
//		hdf5sql.WithBatchRows(500),
//	)
//	if err != nil {
//		return err
//	}
//	defer scan.Close()
//
//	for {
//		batch, err := scan.Next()
//		if errors.Is(err, io.EOF) {
//			break
//		}
//		if err != nil {
//			return err
//		}
//		for _, row := range batch.Rows {
//			// process row
//		}
//	}
func ScanDataset(path, dataset string, opts ...ScanOption) (*Scan, error) {
	cfg := scanConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	container, err := model.OpenContainer(path)
	if err != nil {
		return nil, NewErrorContext("scan dataset", path).WithDataset(dataset).Error(err)
	}

	handle, err := container.Dataset(dataset)
	if err != nil {
		return nil, closeOnScanError(container, path, dataset, err)
	}

	datasetScan, err := model.NewDatasetScan(handle, cfg.projection, cfg.batchRows)
	if err != nil {
		return nil, closeOnScanError(container, path, dataset, err)
	}

	return &Scan{
		container: container,
		handle:    handle,
		scan:      datasetScan,
	}, nil
}

// closeOnScanError releases the container after a failed scan setup and
// wraps the original error with its context. A close failure is reported as
// a detail.
func closeOnScanError(container *model.Container, path, dataset string, err error) error {
	ec := NewErrorContext("scan dataset", path).WithDataset(dataset)
	if closeErr := container.Close(); closeErr != nil {
		ec = ec.WithDetails("container close also failed: " + closeErr.Error())
	}
	return ec.Error(err)
}

// Columns returns the projected column schema in projection order.
func (s *Scan) Columns() []ColumnInfo {
	return s.scan.Columns()
}

// Next returns the next batch of rows, or io.EOF when the dataset is
// exhausted. The batch and its values are only valid until the next call;
// copy anything that must outlive it.
func (s *Scan) Next() (*RowBatch, error) {
	if s.closed {
		return nil, ErrScanClosed
	}
	return s.scan.Next()
}

// NumProduced returns the number of rows decoded so far.
func (s *Scan) NumProduced() uint64 {
	return s.scan.NumProduced()
}

// Close releases the dataset handle and the container. It is safe to call
// multiple times.
func (s *Scan) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	handleErr := s.handle.Close()
	containerErr := s.container.Close()
	if handleErr != nil {
		return handleErr
	}
	return containerErr
}
