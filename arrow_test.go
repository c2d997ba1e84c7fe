package hdf5sql

import (
	"context"
	"encoding/binary"
	"math"
	"path/filepath"
	"testing"

	"github.com/apache/arrow/go/v18/arrow"
	"github.com/apache/arrow/go/v18/arrow/array"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nao1215/hdf5sql/domain/model"
	"github.com/nao1215/hdf5sql/internal/hdf5"
)

// writeTypedContainer writes /typed with one column per supported column class.
func writeTypedContainer(t *testing.T, path string) string {
	t.Helper()
	dt := hdf5.CompoundType(45, []hdf5.Member{
		{Name: "name", Offset: 0, Type: hdf5.StringType(8)},
		{Name: "vals", Offset: 8, Type: hdf5.ArrayType(hdf5.FloatType(8), 3)},
		{Name: "flag", Offset: 32, Type: hdf5.BoolType()},
		{Name: "count", Offset: 33, Type: hdf5.FixedType(4, true)},
		{Name: "ratio", Offset: 37, Type: hdf5.FloatType(8)},
	})

	var buf []byte
	buf = append(buf, []byte("alpha\x00\x00\x00")...)
	for _, v := range []float64{0.5, 1.5, 2.5} {
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(v))
	}
	buf = append(buf, 1)
	buf = binary.LittleEndian.AppendUint32(buf, 7)
	buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(0.125))

	w, err := hdf5.Create(path)
	require.NoError(t, err, "should create container writer")
	require.NoError(t, w.CreateDataset("/typed", dt, hdf5.SimpleSpace(1), buf), "should create typed dataset")
	require.NoError(t, w.Close(), "should close container writer")
	return path
}

func TestReadDatasetArrow(t *testing.T) {
	t.Parallel()

	t.Run("schema", func(t *testing.T) {
		t.Parallel()
		path := writeSensorsContainer(t, filepath.Join(t.TempDir(), "sensors.h5"))

		reader, err := ReadDatasetArrow(context.Background(), path, "/sensors")
		require.NoError(t, err, "ReadDatasetArrow() should succeed")
		defer reader.Release()

		schema := reader.Schema()
		require.Equal(t, 2, schema.NumFields(), "schema should carry 2 fields")
		assert.Equal(t, "station", schema.Field(0).Name, "first field should be station")
		assert.True(t, arrow.TypeEqual(arrow.BinaryTypes.String, schema.Field(0).Type), "station should map onto utf8")
		assert.False(t, schema.Field(0).Nullable, "compound fields always carry a value")
		assert.Equal(t, "temperature", schema.Field(1).Name, "second field should be temperature")
		assert.True(t, arrow.TypeEqual(arrow.PrimitiveTypes.Float64, schema.Field(1).Type), "temperature should map onto float64")
	})

	t.Run("values", func(t *testing.T) {
		t.Parallel()
		path := writeSensorsContainer(t, filepath.Join(t.TempDir(), "sensors.h5"))

		reader, err := ReadDatasetArrow(context.Background(), path, "/sensors")
		require.NoError(t, err, "ReadDatasetArrow() should succeed")
		defer reader.Release()

		require.True(t, reader.Next(), "first Next() should produce a record")
		record := reader.Record()
		require.EqualValues(t, 3, record.NumRows(), "default batch should hold all rows")

		stations, ok := record.Column(0).(*array.String)
		require.True(t, ok, "station column should be a string array")
		assert.Equal(t, "north", stations.Value(0), "first station should match the stored record")
		assert.Equal(t, "south", stations.Value(1), "second station should match the stored record")

		temps, ok := record.Column(1).(*array.Float64)
		require.True(t, ok, "temperature column should be a float64 array")
		assert.Equal(t, 12.5, temps.Value(0), "first temperature should match the stored record")

		assert.False(t, reader.Next(), "reader should end after the final batch")
		assert.NoError(t, reader.Err(), "a clean drain should leave no error")
	})

	t.Run("batching", func(t *testing.T) {
		t.Parallel()
		path := writeSensorsContainer(t, filepath.Join(t.TempDir(), "sensors.h5"))

		reader, err := ReadDatasetArrow(context.Background(), path, "/sensors", WithBatchRows(2))
		require.NoError(t, err, "ReadDatasetArrow() should succeed with batch size")
		defer reader.Release()

		require.True(t, reader.Next(), "first Next() should produce a record")
		assert.EqualValues(t, 2, reader.Record().NumRows(), "first record should hold 2 rows")
		require.True(t, reader.Next(), "second Next() should produce a record")
		assert.EqualValues(t, 1, reader.Record().NumRows(), "second record should hold the final row")
		assert.False(t, reader.Next(), "reader should end after the final batch")
		assert.NoError(t, reader.Err(), "a clean drain should leave no error")
	})

	t.Run("typed columns", func(t *testing.T) {
		t.Parallel()
		path := writeTypedContainer(t, filepath.Join(t.TempDir(), "typed.h5"))

		reader, err := ReadDatasetArrow(context.Background(), path, "/typed")
		require.NoError(t, err, "ReadDatasetArrow() should succeed")
		defer reader.Release()

		schema := reader.Schema()
		require.Equal(t, 5, schema.NumFields(), "schema should carry 5 fields")
		assert.True(t, arrow.TypeEqual(arrow.BinaryTypes.String, schema.Field(0).Type), "name should map onto utf8")
		assert.True(t, arrow.TypeEqual(arrow.ListOf(arrow.PrimitiveTypes.Float64), schema.Field(1).Type), "vals should map onto list<float64>")
		assert.True(t, arrow.TypeEqual(arrow.FixedWidthTypes.Boolean, schema.Field(2).Type), "flag should map onto bool")
		assert.True(t, arrow.TypeEqual(arrow.PrimitiveTypes.Int32, schema.Field(3).Type), "count should map onto int32")
		assert.True(t, arrow.TypeEqual(arrow.PrimitiveTypes.Float64, schema.Field(4).Type), "ratio should map onto float64")

		require.True(t, reader.Next(), "Next() should produce a record")
		record := reader.Record()

		names, ok := record.Column(0).(*array.String)
		require.True(t, ok, "name column should be a string array")
		assert.Equal(t, "alpha", names.Value(0), "fixed string should be trimmed at the first NUL")

		list, ok := record.Column(1).(*array.List)
		require.True(t, ok, "vals column should be a list array")
		start, end := list.ValueOffsets(0)
		require.EqualValues(t, 3, end-start, "list should hold 3 elements")
		elems, ok := list.ListValues().(*array.Float64)
		require.True(t, ok, "list elements should be float64")
		assert.Equal(t, 0.5, elems.Value(int(start)), "first element should match the stored record")
		assert.Equal(t, 2.5, elems.Value(int(end-1)), "last element should match the stored record")

		flags, ok := record.Column(2).(*array.Boolean)
		require.True(t, ok, "flag column should be a boolean array")
		assert.True(t, flags.Value(0), "flag should decode as true")

		counts, ok := record.Column(3).(*array.Int32)
		require.True(t, ok, "count column should be an int32 array")
		assert.Equal(t, int32(7), counts.Value(0), "count should match the stored record")

		assert.False(t, reader.Next(), "single-row dataset should end after one record")
		assert.NoError(t, reader.Err(), "a clean drain should leave no error")
	})

	t.Run("canceled context", func(t *testing.T) {
		t.Parallel()
		path := writeSensorsContainer(t, filepath.Join(t.TempDir(), "sensors.h5"))

		ctx, cancel := context.WithCancel(context.Background())
		reader, err := ReadDatasetArrow(ctx, path, "/sensors")
		require.NoError(t, err, "ReadDatasetArrow() should succeed before cancellation")
		defer reader.Release()

		cancel()
		assert.False(t, reader.Next(), "Next() should stop after cancellation")
		assert.ErrorIs(t, reader.Err(), context.Canceled, "reader should surface the context error")
	})

	t.Run("missing dataset", func(t *testing.T) {
		t.Parallel()
		path := writeSensorsContainer(t, filepath.Join(t.TempDir(), "sensors.h5"))

		_, err := ReadDatasetArrow(context.Background(), path, "/missing")
		assert.ErrorIs(t, err, model.ErrDatasetNotFound, "missing dataset should map onto ErrDatasetNotFound")
	})
}
