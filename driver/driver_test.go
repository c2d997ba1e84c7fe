package driver

import (
	"compress/gzip"
	"database/sql"
	"database/sql/driver"
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/nao1215/hdf5sql/domain/model"
	"github.com/nao1215/hdf5sql/internal/hdf5"
	"github.com/xuri/excelize/v2"
)

// sampleType is the element type of the /sample fixture dataset.
func sampleType() *hdf5.Datatype {
	return hdf5.CompoundType(12, []hdf5.Member{
		{Name: "id", Offset: 0, Type: hdf5.FixedType(4, true)},
		{Name: "score", Offset: 4, Type: hdf5.FloatType(8)},
	})
}

// sampleRows encodes n records of the /sample fixture: id 1..n, score id+0.5.
func sampleRows(n int) []byte {
	var buf []byte
	for i := range n {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(i+1)) //nolint:gosec // test loop index
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(float64(i+1)+0.5))
	}
	return buf
}

// writeSampleContainer writes a container holding /sample with 3 records.
func writeSampleContainer(t *testing.T, path string) string {
	t.Helper()
	w, err := hdf5.Create(path)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := w.CreateDataset("/sample", sampleType(), hdf5.SimpleSpace(3), sampleRows(3)); err != nil {
		t.Fatalf("CreateDataset() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	return path
}

// writeUsersContainer writes a container holding /users with 2 records.
func writeUsersContainer(t *testing.T, path string) string {
	t.Helper()
	dt := hdf5.CompoundType(5, []hdf5.Member{
		{Name: "age", Offset: 0, Type: hdf5.FixedType(4, true)},
		{Name: "active", Offset: 4, Type: hdf5.BoolType()},
	})
	var buf []byte
	for _, r := range []struct {
		age    uint32
		active byte
	}{{30, 1}, {40, 0}} {
		buf = binary.LittleEndian.AppendUint32(buf, r.age)
		buf = append(buf, r.active)
	}

	w, err := hdf5.Create(path)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := w.CreateDataset("/users", dt, hdf5.SimpleSpace(2), buf); err != nil {
		t.Fatalf("CreateDataset() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	return path
}

// queryCount runs SELECT COUNT(*) against one table on a driver connection.
func queryCount(t *testing.T, conn driver.Conn, table string) int64 {
	t.Helper()
	row := querySingleRow(t, conn, "SELECT COUNT(*) FROM ["+table+"]", 1)
	n, ok := row[0].(int64)
	if !ok {
		t.Fatalf("COUNT(*) returned %T, expected int64", row[0])
	}
	return n
}

// querySingleRow runs a query expected to return at least one row.
func querySingleRow(t *testing.T, conn driver.Conn, query string, columns int) []driver.Value {
	t.Helper()
	stmt, err := conn.Prepare(query)
	if err != nil {
		t.Fatalf("Prepare(%q) error = %v", query, err)
	}
	defer stmt.Close()

	rows, err := stmt.Query([]driver.Value{})
	if err != nil {
		t.Fatalf("Query(%q) error = %v", query, err)
	}
	defer rows.Close()

	dest := make([]driver.Value, columns)
	if err := rows.Next(dest); err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	return dest
}

func TestNewDriver(t *testing.T) {
	t.Parallel()

	t.Run("Create new driver", func(t *testing.T) {
		t.Parallel()

		d := NewDriver()
		if d == nil {
			t.Error("NewDriver() returned nil")
		}
	})
}

func TestDriverOpen(t *testing.T) {
	t.Parallel()

	samplePath := writeSampleContainer(t, filepath.Join(t.TempDir(), "sample.h5"))
	d := NewDriver()

	tests := []struct {
		name    string
		dsn     string
		wantErr bool
	}{
		{
			name:    "Valid container",
			dsn:     samplePath,
			wantErr: false,
		},
		{
			name:    "Non-existent container",
			dsn:     filepath.Join(t.TempDir(), "nonexistent.h5"),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			conn, err := d.Open(tt.dsn)
			if (err != nil) != tt.wantErr {
				t.Errorf("Open() error = %v, wantErr %v", err, tt.wantErr)
				return
			}

			if !tt.wantErr {
				if conn == nil {
					t.Error("Open() returned nil connection")
					return
				}
				defer conn.Close()

				if got := queryCount(t, conn, "sample"); got != 3 {
					t.Errorf("COUNT(*) = %d, expected 3", got)
				}
			}
		})
	}
}

func TestDriverOpenConnector(t *testing.T) {
	t.Parallel()

	d := NewDriver()
	connector, err := d.OpenConnector("testdata/sample.h5")
	if err != nil {
		t.Errorf("OpenConnector() error = %v", err)
		return
	}

	if connector == nil {
		t.Error("OpenConnector() returned nil connector")
		return
	}

	// Test that connector returns the same driver
	if connector.Driver() != d {
		t.Error("Connector.Driver() returned different driver")
	}
}

func TestConnectorConnect(t *testing.T) {
	t.Parallel()

	samplePath := writeSampleContainer(t, filepath.Join(t.TempDir(), "sample.h5"))

	d := NewDriver()
	connector, err := d.OpenConnector(samplePath)
	if err != nil {
		t.Fatalf("OpenConnector() error = %v", err)
	}

	conn, err := connector.Connect(t.Context())
	if err != nil {
		t.Errorf("Connect() error = %v", err)
		return
	}

	if conn == nil {
		t.Error("Connect() returned nil connection")
		return
	}

	defer conn.Close()
}

func TestConnectorConnectMultiplePaths(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	samplePath := writeSampleContainer(t, filepath.Join(dir, "sample.h5"))
	usersPath := writeUsersContainer(t, filepath.Join(dir, "users.h5"))

	d := NewDriver()

	tests := []struct {
		name string
		dsn  string
	}{
		{
			name: "Multiple containers separated by semicolon",
			dsn:  samplePath + ";" + usersPath,
		},
		{
			name: "Directory only",
			dsn:  dir,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			connector, err := d.OpenConnector(tt.dsn)
			if err != nil {
				t.Fatalf("OpenConnector() error = %v", err)
			}

			conn, err := connector.Connect(t.Context())
			if err != nil {
				t.Errorf("Connect() error = %v", err)
				return
			}

			if conn == nil {
				t.Error("Connect() returned nil connection")
				return
			}

			defer conn.Close()

			if got := queryCount(t, conn, "sample"); got != 3 {
				t.Errorf("COUNT(sample) = %d, expected 3", got)
			}
			if got := queryCount(t, conn, "users"); got != 2 {
				t.Errorf("COUNT(users) = %d, expected 2", got)
			}
		})
	}
}

func TestConnectorConnectMixedFileAndDirectory(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeUsersContainer(t, filepath.Join(dir, "users.h5"))
	samplePath := writeSampleContainer(t, filepath.Join(t.TempDir(), "sample.h5"))

	d := NewDriver()
	connector, err := d.OpenConnector(samplePath + ";" + dir)
	if err != nil {
		t.Fatalf("OpenConnector() error = %v", err)
	}

	conn, err := connector.Connect(t.Context())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer conn.Close()

	if got := queryCount(t, conn, "sample"); got != 3 {
		t.Errorf("COUNT(sample) = %d, expected 3", got)
	}
	if got := queryCount(t, conn, "users"); got != 2 {
		t.Errorf("COUNT(users) = %d, expected 2", got)
	}
}

func TestConnectorConnectGroupedDatasets(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "metrics.h5")
	w, err := hdf5.Create(path)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	latency := binary.LittleEndian.AppendUint64(nil, math.Float64bits(0.25))
	latency = binary.LittleEndian.AppendUint64(latency, math.Float64bits(0.5))
	if err := w.CreateDataset("/metrics/latency", hdf5.FloatType(8), hdf5.SimpleSpace(2), latency); err != nil {
		t.Fatalf("CreateDataset() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	conn, err := NewDriver().Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer conn.Close()

	// Dataset path maps onto the table name with slashes replaced
	row := querySingleRow(t, conn, "SELECT result FROM [metrics_latency] ORDER BY result", 1)
	if got, ok := row[0].(float64); !ok || got != 0.25 {
		t.Errorf("result = %v (%T), expected 0.25", row[0], row[0])
	}
}

func TestDirectoryCompressionPreference(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeSampleContainer(t, filepath.Join(dir, "data.h5"))

	// Gzip a 2-record variant under the same stem; the plain copy must win
	variant := filepath.Join(t.TempDir(), "variant.h5")
	w, err := hdf5.Create(variant)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := w.CreateDataset("/sample", sampleType(), hdf5.SimpleSpace(2), sampleRows(2)); err != nil {
		t.Fatalf("CreateDataset() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	raw, err := os.ReadFile(variant) //nolint:gosec // Safe: path is from controlled test data
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	gzFile, err := os.Create(filepath.Join(dir, "data.h5.gz"))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	gzWriter := gzip.NewWriter(gzFile)
	if _, err := gzWriter.Write(raw); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := gzWriter.Close(); err != nil {
		t.Fatalf("gzip Close() error = %v", err)
	}
	if err := gzFile.Close(); err != nil {
		t.Fatalf("file Close() error = %v", err)
	}

	conn, err := NewDriver().Open(dir)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer conn.Close()

	if got := queryCount(t, conn, "sample"); got != 3 {
		t.Errorf("COUNT(sample) = %d, expected 3 from the uncompressed copy", got)
	}
}

func TestDirectorySkipsBrokenContainer(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeSampleContainer(t, filepath.Join(dir, "good.h5"))
	if err := os.WriteFile(filepath.Join(dir, "bad.h5"), []byte("not a container"), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	conn, err := NewDriver().Open(dir)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer conn.Close()

	if got := queryCount(t, conn, "sample"); got != 3 {
		t.Errorf("COUNT(sample) = %d, expected 3", got)
	}
}

func TestDirectoryWithOnlyBrokenContainers(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "bad.h5"), []byte("not a container"), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	_, err := NewDriver().Open(dir)
	if err == nil {
		t.Error("Open() expected error for directory without loadable containers")
	}
}

func TestDuplicateTableNameValidation(t *testing.T) {
	t.Parallel()

	first := writeSampleContainer(t, filepath.Join(t.TempDir(), "first.h5"))
	second := writeSampleContainer(t, filepath.Join(t.TempDir(), "second.h5"))

	_, err := NewDriver().Open(first + ";" + second)
	if err == nil {
		t.Fatal("Open() expected duplicate table error")
	}
	if !errors.Is(err, ErrDuplicateTableName) {
		t.Errorf("Open() error = %v, expected ErrDuplicateTableName", err)
	}
}

func TestDuplicateColumnNameValidation(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "dup.h5")
	dt := hdf5.CompoundType(8, []hdf5.Member{
		{Name: "x", Offset: 0, Type: hdf5.FixedType(4, true)},
		{Name: "x", Offset: 4, Type: hdf5.FixedType(4, true)},
	})
	w, err := hdf5.Create(path)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := w.CreateDataset("/dup", dt, hdf5.SimpleSpace(1), make([]byte, 8)); err != nil {
		t.Fatalf("CreateDataset() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	_, err = NewDriver().Open(path)
	if err == nil {
		t.Fatal("Open() expected duplicate column error")
	}
	if !errors.Is(err, ErrDuplicateColumnName) {
		t.Errorf("Open() error = %v, expected ErrDuplicateColumnName", err)
	}
}

func TestUnsupportedDatasetRejected(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "vlen.h5")
	w, err := hdf5.Create(path)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := w.CreateDataset("/notes", hdf5.VarLenStringType(), hdf5.SimpleSpace(2), make([]byte, 32)); err != nil {
		t.Fatalf("CreateDataset() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	_, err = NewDriver().Open(path)
	if err == nil {
		t.Fatal("Open() expected error for variable-length dataset")
	}
	if !errors.Is(err, model.ErrUnsupportedLayout) {
		t.Errorf("Open() error = %v, expected ErrUnsupportedLayout", err)
	}
}

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
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := w.CreateDataset("/typed", dt, hdf5.SimpleSpace(1), buf); err != nil {
		t.Fatalf("CreateDataset() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	return path
}

func TestColumnTypesDeclared(t *testing.T) {
	t.Parallel()

	path := writeTypedContainer(t, filepath.Join(t.TempDir(), "typed.h5"))

	conn, err := NewDriver().Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer conn.Close()

	hdf5sqlConn, ok := conn.(*Connection)
	if !ok {
		t.Fatal("connection is not a hdf5sql connection")
	}

	columns, err := hdf5sqlConn.getTableSchema("typed")
	if err != nil {
		t.Fatalf("getTableSchema() error = %v", err)
	}

	expected := []tableColumn{
		{name: "name", declaredType: "TEXT"},
		{name: "vals", declaredType: "TEXT"},
		{name: "flag", declaredType: "INTEGER"},
		{name: "count", declaredType: "INTEGER"},
		{name: "ratio", declaredType: "REAL"},
	}
	if len(columns) != len(expected) {
		t.Fatalf("getTableSchema() returned %d columns, expected %d", len(columns), len(expected))
	}
	for i, want := range expected {
		if columns[i] != want {
			t.Errorf("column %d = %+v, expected %+v", i, columns[i], want)
		}
	}
}

func TestStoredValueEncoding(t *testing.T) {
	t.Parallel()

	path := writeTypedContainer(t, filepath.Join(t.TempDir(), "typed.h5"))

	conn, err := NewDriver().Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer conn.Close()

	row := querySingleRow(t, conn, "SELECT name, vals, flag, count, ratio FROM typed", 5)

	if got, ok := row[0].(string); !ok || got != "alpha" {
		t.Errorf("name = %v (%T), expected alpha", row[0], row[0])
	}
	// List cells are stored as JSON arrays
	if got, ok := row[1].(string); !ok || got != "[0.5,1.5,2.5]" {
		t.Errorf("vals = %v (%T), expected [0.5,1.5,2.5]", row[1], row[1])
	}
	// Booleans are stored as 0/1 integers
	if got, ok := row[2].(int64); !ok || got != 1 {
		t.Errorf("flag = %v (%T), expected 1", row[2], row[2])
	}
	if got, ok := row[3].(int64); !ok || got != 7 {
		t.Errorf("count = %v (%T), expected 7", row[3], row[3])
	}
	if got, ok := row[4].(float64); !ok || got != 0.125 {
		t.Errorf("ratio = %v (%T), expected 0.125", row[4], row[4])
	}
}

func TestScalarDatasetResultColumn(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "temps.h5")
	w, err := hdf5.Create(path)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	data := binary.LittleEndian.AppendUint32(nil, 42)
	if err := w.CreateDataset("/temps", hdf5.FixedType(4, true), hdf5.SimpleSpace(1), data); err != nil {
		t.Fatalf("CreateDataset() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	conn, err := NewDriver().Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer conn.Close()

	row := querySingleRow(t, conn, "SELECT result FROM temps", 1)
	if got, ok := row[0].(int64); !ok || got != 42 {
		t.Errorf("result = %v (%T), expected 42", row[0], row[0])
	}
}

func TestEmptyDatasetCreatesEmptyTable(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "empty.h5")
	w, err := hdf5.Create(path)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := w.CreateDataset("/empty", sampleType(), hdf5.SimpleSpace(0), nil); err != nil {
		t.Fatalf("CreateDataset() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	conn, err := NewDriver().Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer conn.Close()

	if got := queryCount(t, conn, "empty"); got != 0 {
		t.Errorf("COUNT(empty) = %d, expected 0", got)
	}
}

func TestConnectionDump(t *testing.T) {
	t.Parallel()

	// Create a temporary directory for output
	tempDir := t.TempDir()
	samplePath := writeSampleContainer(t, filepath.Join(t.TempDir(), "sample.h5"))

	d := NewDriver()
	connector, err := d.OpenConnector(samplePath)
	if err != nil {
		t.Fatalf("OpenConnector() error = %v", err)
	}

	conn, err := connector.Connect(t.Context())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer conn.Close()

	// Convert to our connection type
	hdf5sqlConn, ok := conn.(*Connection)
	if !ok {
		t.Fatal("connection is not a hdf5sql connection")
	}

	// Dump database
	if err := hdf5sqlConn.Dump(tempDir); err != nil {
		t.Errorf("Dump() error = %v", err)
		return
	}

	// Check that CSV file was created
	expectedFile := filepath.Join(tempDir, "sample.csv")
	content, err := os.ReadFile(expectedFile) //nolint:gosec // Safe: expectedFile is from controlled test data
	if err != nil {
		t.Errorf("failed to read dumped file: %v", err)
		return
	}

	contentStr := string(content)
	if !strings.Contains(contentStr, "id,score") {
		t.Errorf("expected header 'id,score' in dumped file, got: %s", contentStr)
	}

	lines := strings.Split(strings.TrimSpace(contentStr), "\n")
	if len(lines) != 4 {
		t.Errorf("expected 4 lines in dumped file, got %d", len(lines))
	}
	if len(lines) > 1 && lines[1] != "1,1.5" {
		t.Errorf("expected first data row '1,1.5', got %q", lines[1])
	}
}

func TestConnectionDumpMultipleTables(t *testing.T) {
	t.Parallel()

	// Create a temporary directory for output
	tempDir := t.TempDir()
	samplePath := writeSampleContainer(t, filepath.Join(t.TempDir(), "sample.h5"))
	usersPath := writeUsersContainer(t, filepath.Join(t.TempDir(), "users.h5"))

	d := NewDriver()
	connector, err := d.OpenConnector(samplePath + ";" + usersPath)
	if err != nil {
		t.Fatalf("OpenConnector() error = %v", err)
	}

	conn, err := connector.Connect(t.Context())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer conn.Close()

	// Convert to our connection type
	hdf5sqlConn, ok := conn.(*Connection)
	if !ok {
		t.Fatal("connection is not a hdf5sql connection")
	}

	// Dump database
	if err := hdf5sqlConn.Dump(tempDir); err != nil {
		t.Errorf("Dump() error = %v", err)
		return
	}

	// Check that both CSV files were created
	expectedFiles := []string{"sample.csv", "users.csv"}
	for _, expectedFile := range expectedFiles {
		fullPath := filepath.Join(tempDir, expectedFile)
		content, err := os.ReadFile(fullPath) //nolint:gosec // Safe: fullPath is from controlled test data
		if err != nil {
			t.Errorf("failed to read file %s: %v", fullPath, err)
			continue
		}

		if len(content) == 0 {
			t.Errorf("file %s is empty", fullPath)
		}
	}
}

func TestDumpDatabase(t *testing.T) {
	t.Parallel()

	// Create a temporary directory for output
	tempDir := t.TempDir()
	samplePath := writeSampleContainer(t, filepath.Join(t.TempDir(), "sample.h5"))

	// Register the driver
	sql.Register("hdf5sql_driver_test", NewDriver())

	// Open database
	db, err := sql.Open("hdf5sql_driver_test", samplePath)
	if err != nil {
		t.Fatalf("sql.Open() error = %v", err)
	}
	defer db.Close()

	// Use the connection directly to dump
	conn, err := db.Conn(t.Context())
	if err != nil {
		t.Fatalf("failed to get connection: %v", err)
	}
	defer conn.Close()

	err = conn.Raw(func(driverConn interface{}) error {
		if hdf5sqlConn, ok := driverConn.(*Connection); ok {
			return hdf5sqlConn.Dump(tempDir)
		}
		return ErrNotHdf5sqlConnection
	})
	if err != nil {
		t.Errorf("Connection.Dump() error = %v", err)
		return
	}

	// Check that CSV file was created
	expectedFile := filepath.Join(tempDir, "sample.csv")
	if _, err := os.Stat(expectedFile); err != nil {
		t.Errorf("expected file %s was not created: %v", expectedFile, err)
	}
}

// openSampleConnection opens a Connection over a fresh sample container.
func openSampleConnection(t *testing.T) *Connection {
	t.Helper()
	samplePath := writeSampleContainer(t, filepath.Join(t.TempDir(), "sample.h5"))

	conn, err := NewDriver().Open(samplePath)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	hdf5sqlConn, ok := conn.(*Connection)
	if !ok {
		t.Fatal("connection is not a hdf5sql connection")
	}
	return hdf5sqlConn
}

func TestDumpWithOptionsTSV(t *testing.T) {
	t.Parallel()

	tempDir := t.TempDir()
	conn := openSampleConnection(t)
	defer conn.Close()

	options := model.NewDumpOptions().WithFormat(model.OutputFormatTSV)
	if err := conn.DumpWithOptions(tempDir, options); err != nil {
		t.Fatalf("DumpWithOptions() error = %v", err)
	}

	content, err := os.ReadFile(filepath.Join(tempDir, "sample.tsv")) //nolint:gosec // Safe: path is from controlled test data
	if err != nil {
		t.Fatalf("failed to read dumped file: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(string(content)), "\n")
	if lines[0] != "id\tscore" {
		t.Errorf("expected TSV header 'id\\tscore', got %q", lines[0])
	}
}

func TestDumpWithOptionsLTSV(t *testing.T) {
	t.Parallel()

	tempDir := t.TempDir()
	conn := openSampleConnection(t)
	defer conn.Close()

	options := model.NewDumpOptions().WithFormat(model.OutputFormatLTSV)
	if err := conn.DumpWithOptions(tempDir, options); err != nil {
		t.Fatalf("DumpWithOptions() error = %v", err)
	}

	content, err := os.ReadFile(filepath.Join(tempDir, "sample.ltsv")) //nolint:gosec // Safe: path is from controlled test data
	if err != nil {
		t.Fatalf("failed to read dumped file: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(string(content)), "\n")
	if lines[0] != "id:1\tscore:1.5" {
		t.Errorf("expected LTSV line 'id:1\\tscore:1.5', got %q", lines[0])
	}
}

func TestDumpWithOptionsGzipCompression(t *testing.T) {
	t.Parallel()

	tempDir := t.TempDir()
	conn := openSampleConnection(t)
	defer conn.Close()

	options := model.NewDumpOptions().WithCompression(model.CompressionGZ)
	if err := conn.DumpWithOptions(tempDir, options); err != nil {
		t.Fatalf("DumpWithOptions() error = %v", err)
	}

	file, err := os.Open(filepath.Join(tempDir, "sample.csv.gz")) //nolint:gosec // Safe: path is from controlled test data
	if err != nil {
		t.Fatalf("failed to open dumped file: %v", err)
	}
	defer file.Close()

	gzReader, err := gzip.NewReader(file)
	if err != nil {
		t.Fatalf("gzip.NewReader() error = %v", err)
	}
	defer gzReader.Close()

	var sb strings.Builder
	if _, err := sb.ReadFrom(gzReader); err != nil {
		t.Fatalf("failed to decompress dumped file: %v", err)
	}
	if !strings.Contains(sb.String(), "id,score") {
		t.Errorf("expected decompressed content to contain header, got %q", sb.String())
	}
}

func TestDumpWithOptionsBZ2NotSupported(t *testing.T) {
	t.Parallel()

	tempDir := t.TempDir()
	conn := openSampleConnection(t)
	defer conn.Close()

	options := model.NewDumpOptions().WithCompression(model.CompressionBZ2)
	err := conn.DumpWithOptions(tempDir, options)
	if err == nil {
		t.Fatal("DumpWithOptions() expected error for bzip2 output")
	}
	if !strings.Contains(err.Error(), "bzip2") {
		t.Errorf("DumpWithOptions() error = %v, expected bzip2 write error", err)
	}
}

func TestDumpWithOptionsParquet(t *testing.T) {
	t.Parallel()

	tempDir := t.TempDir()
	conn := openSampleConnection(t)
	defer conn.Close()

	options := model.NewDumpOptions().WithFormat(model.OutputFormatParquet)
	if err := conn.DumpWithOptions(tempDir, options); err != nil {
		t.Fatalf("DumpWithOptions() error = %v", err)
	}

	content, err := os.ReadFile(filepath.Join(tempDir, "sample.parquet")) //nolint:gosec // Safe: path is from controlled test data
	if err != nil {
		t.Fatalf("failed to read dumped file: %v", err)
	}
	if len(content) < 8 || string(content[:4]) != "PAR1" {
		t.Errorf("expected parquet magic at start of file, got %d bytes", len(content))
	}
}

func TestDumpWithOptionsXLSX(t *testing.T) {
	t.Parallel()

	tempDir := t.TempDir()
	conn := openSampleConnection(t)
	defer conn.Close()

	options := model.NewDumpOptions().WithFormat(model.OutputFormatXLSX)
	if err := conn.DumpWithOptions(tempDir, options); err != nil {
		t.Fatalf("DumpWithOptions() error = %v", err)
	}

	file, err := excelize.OpenFile(filepath.Join(tempDir, "sample.xlsx"))
	if err != nil {
		t.Fatalf("excelize.OpenFile() error = %v", err)
	}
	defer func() {
		_ = file.Close()
	}()

	header, err := file.GetCellValue("Sheet1", "A1")
	if err != nil {
		t.Fatalf("GetCellValue() error = %v", err)
	}
	if header != "id" {
		t.Errorf("cell A1 = %q, expected 'id'", header)
	}

	first, err := file.GetCellValue("Sheet1", "A2")
	if err != nil {
		t.Fatalf("GetCellValue() error = %v", err)
	}
	if first != "1" {
		t.Errorf("cell A2 = %q, expected '1'", first)
	}
}

func TestConnectionTransactions(t *testing.T) {
	t.Parallel()

	conn := openSampleConnection(t)
	defer conn.Close()

	tx, err := conn.Begin()
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}

	stmt, err := conn.Prepare("INSERT INTO sample VALUES (4, 4.5)")
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	stmtExecCtx, ok := stmt.(driver.StmtExecContext)
	if !ok {
		t.Fatal("statement does not support ExecContext")
	}
	if _, err := stmtExecCtx.ExecContext(t.Context(), nil); err != nil {
		t.Fatalf("ExecContext() error = %v", err)
	}
	if err := stmt.Close(); err != nil {
		t.Fatalf("stmt Close() error = %v", err)
	}

	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	if got := queryCount(t, conn, "sample"); got != 4 {
		t.Errorf("COUNT(sample) = %d, expected 4 after insert", got)
	}
}

func TestConnectionTransactionRollback(t *testing.T) {
	t.Parallel()

	conn := openSampleConnection(t)
	defer conn.Close()

	tx, err := conn.Begin()
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}

	stmt, err := conn.Prepare("INSERT INTO sample VALUES (4, 4.5)")
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	stmtExecCtx, ok := stmt.(driver.StmtExecContext)
	if !ok {
		t.Fatal("statement does not support ExecContext")
	}
	if _, err := stmtExecCtx.ExecContext(t.Context(), nil); err != nil {
		t.Fatalf("ExecContext() error = %v", err)
	}
	if err := stmt.Close(); err != nil {
		t.Fatalf("stmt Close() error = %v", err)
	}

	if err := tx.Rollback(); err != nil {
		t.Fatalf("Rollback() error = %v", err)
	}

	if got := queryCount(t, conn, "sample"); got != 3 {
		t.Errorf("COUNT(sample) = %d, expected 3 after rollback", got)
	}
}

func TestConnectionPrepareContext(t *testing.T) {
	t.Parallel()

	conn := openSampleConnection(t)
	defer conn.Close()

	stmt, err := conn.PrepareContext(t.Context(), "SELECT id FROM sample WHERE id = ?")
	if err != nil {
		t.Fatalf("PrepareContext() error = %v", err)
	}
	defer stmt.Close()

	stmtQueryCtx, ok := stmt.(driver.StmtQueryContext)
	if !ok {
		t.Fatal("statement does not support QueryContext")
	}

	rows, err := stmtQueryCtx.QueryContext(t.Context(), []driver.NamedValue{{Ordinal: 1, Value: int64(2)}})
	if err != nil {
		t.Fatalf("QueryContext() error = %v", err)
	}
	defer rows.Close()

	dest := make([]driver.Value, 1)
	if err := rows.Next(dest); err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if got, ok := dest[0].(int64); !ok || got != 2 {
		t.Errorf("id = %v (%T), expected 2", dest[0], dest[0])
	}
}

func TestConnectionClose(t *testing.T) {
	t.Parallel()

	conn := openSampleConnection(t)

	if err := conn.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestEscapeDelimitedValue(t *testing.T) {
	t.Parallel()

	conn := &Connection{}

	tests := []struct {
		name      string
		value     string
		separator string
		expected  string
	}{
		{
			name:      "Plain value",
			value:     "hello",
			separator: ",",
			expected:  "hello",
		},
		{
			name:      "Value with comma",
			value:     "a,b",
			separator: ",",
			expected:  "\"a,b\"",
		},
		{
			name:      "Value with quote",
			value:     "say \"hi\"",
			separator: ",",
			expected:  "\"say \"\"hi\"\"\"",
		},
		{
			name:      "Value with newline",
			value:     "line1\nline2",
			separator: ",",
			expected:  "\"line1\nline2\"",
		},
		{
			name:      "Comma is plain in TSV",
			value:     "a,b",
			separator: "\t",
			expected:  "a,b",
		},
		{
			name:      "Tab quoted in TSV",
			value:     "a\tb",
			separator: "\t",
			expected:  "\"a\tb\"",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := conn.escapeDelimitedValue(tt.value, tt.separator)
			if got != tt.expected {
				t.Errorf("escapeDelimitedValue(%q, %q) = %q, expected %q", tt.value, tt.separator, got, tt.expected)
			}
		})
	}
}

func TestPathTraversalAttack(t *testing.T) {
	t.Parallel()

	_, err := NewDriver().Open("../../../../../../../etc/passwd")
	if err == nil {
		t.Error("Open() expected error for path traversal attempt")
	}
}

func TestNullByteInjection(t *testing.T) {
	t.Parallel()

	_, err := NewDriver().Open("data\x00.h5")
	if err == nil {
		t.Error("Open() expected error for null byte in path")
	}
}

func TestConcurrentAccess(t *testing.T) {
	t.Parallel()

	samplePath := writeSampleContainer(t, filepath.Join(t.TempDir(), "sample.h5"))

	d := NewDriver()
	connector, err := d.OpenConnector(samplePath)
	if err != nil {
		t.Fatalf("OpenConnector() error = %v", err)
	}

	var wg sync.WaitGroup
	errCh := make(chan error, 5)
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()

			conn, err := connector.Connect(t.Context())
			if err != nil {
				errCh <- err
				return
			}
			defer conn.Close()

			stmt, err := conn.Prepare("SELECT COUNT(*) FROM sample")
			if err != nil {
				errCh <- err
				return
			}
			defer stmt.Close()

			rows, err := stmt.Query([]driver.Value{})
			if err != nil {
				errCh <- err
				return
			}
			defer rows.Close()

			dest := make([]driver.Value, 1)
			if err := rows.Next(dest); err != nil {
				errCh <- err
			}
		}()
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		t.Errorf("concurrent access error: %v", err)
	}
}
