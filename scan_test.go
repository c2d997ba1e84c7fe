package hdf5sql

import (
	"errors"
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nao1215/hdf5sql/domain/model"
)

// drainScan reads every batch of a scan and returns the collected rows.
func drainScan(t *testing.T, scan *Scan) [][]any {
	t.Helper()
	var rows [][]any
	for {
		batch, err := scan.Next()
		if errors.Is(err, io.EOF) {
			return rows
		}
		require.NoError(t, err, "Next() should not fail")
		for _, row := range batch.Rows {
			rows = append(rows, append([]any(nil), row...))
		}
	}
}

func TestScanDataset(t *testing.T) {
	t.Parallel()

	t.Run("full scan", func(t *testing.T) {
		t.Parallel()
		path := writeSensorsContainer(t, filepath.Join(t.TempDir(), "sensors.h5"))

		scan, err := ScanDataset(path, "/sensors")
		require.NoError(t, err, "ScanDataset() should succeed")
		defer scan.Close()

		columns := scan.Columns()
		require.Len(t, columns, 2, "sensors should expose 2 columns")
		assert.Equal(t, ColumnInfo{Name: "station", Type: ColumnTypeText}, columns[0], "first column should be station")
		assert.Equal(t, ColumnInfo{Name: "temperature", Type: ColumnTypeDouble}, columns[1], "second column should be temperature")

		rows := drainScan(t, scan)
		require.Len(t, rows, 3, "scan should produce 3 rows")
		assert.Equal(t, []any{"north", 12.5}, rows[0], "first row should match the stored record")
		assert.Equal(t, []any{"south", 20.0}, rows[1], "second row should match the stored record")
		assert.Equal(t, uint64(3), scan.NumProduced(), "NumProduced() should count every row")
	})

	t.Run("projection", func(t *testing.T) {
		t.Parallel()
		path := writeSensorsContainer(t, filepath.Join(t.TempDir(), "sensors.h5"))

		scan, err := ScanDataset(path, "/sensors", WithProjection(1))
		require.NoError(t, err, "ScanDataset() should succeed with projection")
		defer scan.Close()

		columns := scan.Columns()
		require.Len(t, columns, 1, "projection should keep 1 column")
		assert.Equal(t, "temperature", columns[0].Name, "projected column should be temperature")

		rows := drainScan(t, scan)
		require.Len(t, rows, 3, "projection should not change the row count")
		assert.Equal(t, []any{12.5}, rows[0], "projected row should hold only temperature")
	})

	t.Run("projection order and duplicates", func(t *testing.T) {
		t.Parallel()
		path := writeSensorsContainer(t, filepath.Join(t.TempDir(), "sensors.h5"))

		scan, err := ScanDataset(path, "/sensors", WithProjection(1, 0, 0))
		require.NoError(t, err, "ScanDataset() should allow repeated columns")
		defer scan.Close()

		columns := scan.Columns()
		require.Len(t, columns, 3, "projection should keep 3 columns")
		assert.Equal(t, "temperature", columns[0].Name, "projection order should be preserved")
		assert.Equal(t, "station", columns[1].Name, "projection order should be preserved")

		rows := drainScan(t, scan)
		assert.Equal(t, []any{12.5, "north", "north"}, rows[0], "duplicated column should repeat per row")
	})

	t.Run("batch size", func(t *testing.T) {
		t.Parallel()
		path := writeSensorsContainer(t, filepath.Join(t.TempDir(), "sensors.h5"))

		scan, err := ScanDataset(path, "/sensors", WithBatchRows(2))
		require.NoError(t, err, "ScanDataset() should succeed with batch size")
		defer scan.Close()

		batch, err := scan.Next()
		require.NoError(t, err, "first Next() should succeed")
		assert.Len(t, batch.Rows, 2, "first batch should hold 2 rows")

		batch, err = scan.Next()
		require.NoError(t, err, "second Next() should succeed")
		assert.Len(t, batch.Rows, 1, "second batch should hold the final row")

		_, err = scan.Next()
		assert.ErrorIs(t, err, io.EOF, "scan should end with io.EOF")
	})

	t.Run("compressed container", func(t *testing.T) {
		t.Parallel()
		plain := writeSensorsContainer(t, filepath.Join(t.TempDir(), "sensors.h5"))
		compressed := gzipCopy(t, plain, filepath.Join(t.TempDir(), "sensors.h5.gz"))

		scan, err := ScanDataset(compressed, "/sensors")
		require.NoError(t, err, "ScanDataset() should inflate gzip containers")
		defer scan.Close()

		rows := drainScan(t, scan)
		assert.Len(t, rows, 3, "compressed scan should produce all rows")
	})

	t.Run("missing container", func(t *testing.T) {
		t.Parallel()
		_, err := ScanDataset(filepath.Join(t.TempDir(), "missing.h5"), "/sensors")
		assert.ErrorIs(t, err, model.ErrContainerNotFound, "missing container should map onto ErrContainerNotFound")
		assert.Contains(t, err.Error(), "scan dataset failed", "error should carry the operation context")
	})

	t.Run("missing dataset", func(t *testing.T) {
		t.Parallel()
		path := writeSensorsContainer(t, filepath.Join(t.TempDir(), "sensors.h5"))

		_, err := ScanDataset(path, "/missing")
		assert.ErrorIs(t, err, model.ErrDatasetNotFound, "missing dataset should map onto ErrDatasetNotFound")
	})

	t.Run("invalid projection", func(t *testing.T) {
		t.Parallel()
		path := writeSensorsContainer(t, filepath.Join(t.TempDir(), "sensors.h5"))

		_, err := ScanDataset(path, "/sensors", WithProjection(5))
		assert.ErrorIs(t, err, model.ErrInvalidProjection, "out-of-range projection should be rejected")
	})

	t.Run("use after close", func(t *testing.T) {
		t.Parallel()
		path := writeSensorsContainer(t, filepath.Join(t.TempDir(), "sensors.h5"))

		scan, err := ScanDataset(path, "/sensors")
		require.NoError(t, err, "ScanDataset() should succeed")
		require.NoError(t, scan.Close(), "Close() should succeed")

		_, err = scan.Next()
		assert.ErrorIs(t, err, ErrScanClosed, "Next() after Close() should return ErrScanClosed")
		assert.NoError(t, scan.Close(), "repeated Close() should be a no-op")
	})
}
