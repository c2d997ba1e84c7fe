// Package hdf5sql provides an HDF5-backed SQL driver implementation.
// It enables reading HDF5 container files as SQL databases.
package hdf5sql

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/nao1215/hdf5sql/domain/model"
	hdf5sqldriver "github.com/nao1215/hdf5sql/driver"
)

const (
	// DriverName is the name for the hdf5sql driver
	DriverName = "hdf5sql"
)

// Register registers the hdf5sql driver with database/sql
func Register() {
	sql.Register(DriverName, hdf5sqldriver.NewDriver())
}

func init() {
	// Auto-register the driver on import
	Register()
}

// Open opens a database connection using the hdf5sql driver.
//
// The hdf5sql driver uses SQLite3 as an in-memory database engine to provide SQL
// capabilities for HDF5 container files. This allows you to query .h5, .hdf5, and
// .he5 containers and their compressed variants using standard SQL syntax.
//
// Supported container formats:
//   - HDF5 containers (.h5, .hdf5, .he5)
//   - Compressed versions of above (.gz, .bz2, .xz, .zst)
//
// The paths parameter can be a mix of:
//   - Individual container files (plain or compressed)
//   - Directories (all supported containers within will be loaded)
//
// Every dataset in a container becomes a separate table in the database with the
// table name derived from the dataset path ("/experiments/run1" becomes
// "experiments_run1").
//
// Important constraints:
//   - INSERT, UPDATE, and DELETE operations are applied only to the in-memory database
//   - Original container files are never modified by these operations
//   - To persist changes, use the DumpDatabase function to export modified data
//
// Example usage:
//
//	// Open a single container
//	db, err := hdf5sql.Open("data/measurements.h5")
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer db.Close()
//
//	// Complex query with aggregation and window functions
//	rows, err := db.Query(`
//		SELECT
//			s.station,
//			s.temperature,
//			AVG(s.temperature) OVER (PARTITION BY s.station) as station_avg,
//			RANK() OVER (PARTITION BY s.station ORDER BY s.temperature DESC) as temp_rank
//		FROM sensors s
//		WHERE s.temperature > (
//			SELECT AVG(temperature) * 0.8
//			FROM sensors
//			WHERE station = s.station
//		)
//		ORDER BY s.station, s.temperature DESC
//	`)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer rows.Close()
//
//	// Process results
//	for rows.Next() {
//		var station string
//		var temperature, stationAvg float64
//		var rank int
//		if err := rows.Scan(&station, &temperature, &stationAvg, &rank); err != nil {
//			log.Fatal(err)
//		}
//		fmt.Printf("%s: %.1f (rank %d, avg %.1f)\n", station, temperature, rank, stationAvg)
//	}
func Open(paths ...string) (*sql.DB, error) {
	return OpenContext(context.Background(), paths...)
}

// OpenContext opens a database connection using the hdf5sql driver with context support.
//
// The hdf5sql driver uses SQLite3 as an in-memory database engine to provide SQL
// capabilities for HDF5 container files. This allows you to query .h5, .hdf5, and
// .he5 containers and their compressed variants using standard SQL syntax.
//
// Supported container formats:
//   - HDF5 containers (.h5, .hdf5, .he5)
//   - Compressed versions of above (.gz, .bz2, .xz, .zst)
//
// The paths parameter can be a mix of:
//   - Individual container files (plain or compressed)
//   - Directories (all supported containers within will be loaded)
//
// Every dataset in a container becomes a separate table in the database with the
// table name derived from the dataset path ("/experiments/run1" becomes
// "experiments_run1").
//
// Important constraints:
//   - INSERT, UPDATE, and DELETE operations are applied only to the in-memory database
//   - Original container files are never modified by these operations
//   - To persist changes, use the DumpDatabase function to export modified data
//
// Example usage:
//
//	// Open a single container with timeout
//	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
//	defer cancel()
//	db, err := hdf5sql.OpenContext(ctx, "data/measurements.h5")
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer db.Close()
//
//	rows, err := db.QueryContext(ctx, "SELECT station, COUNT(*) FROM sensors GROUP BY station")
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer rows.Close()
func OpenContext(ctx context.Context, paths ...string) (*sql.DB, error) {
	// Use builder pattern internally for backward compatibility
	builder := NewBuilder().AddPaths(paths...)

	// Build validates the paths
	validatedBuilder, err := builder.Build(ctx)
	if err != nil {
		return nil, err
	}

	// Open creates the database connection
	return validatedBuilder.Open(ctx)
}

// Type aliases for dump options from model package
type (
	// DumpOptions represents options for dumping database
	DumpOptions = model.DumpOptions
	// OutputFormat represents the output file format
	OutputFormat = model.OutputFormat
	// CompressionType represents the compression type
	CompressionType = model.CompressionType
)

// Re-export constants for easier use
const (
	// OutputFormatCSV represents CSV output format
	OutputFormatCSV = model.OutputFormatCSV
	// OutputFormatTSV represents TSV output format
	OutputFormatTSV = model.OutputFormatTSV
	// OutputFormatLTSV represents LTSV output format
	OutputFormatLTSV = model.OutputFormatLTSV
	// OutputFormatParquet represents Apache Parquet output format
	OutputFormatParquet = model.OutputFormatParquet
	// OutputFormatXLSX represents Excel workbook output format
	OutputFormatXLSX = model.OutputFormatXLSX

	// CompressionNone represents no compression
	CompressionNone = model.CompressionNone
	// CompressionGZ represents gzip compression
	CompressionGZ = model.CompressionGZ
	// CompressionBZ2 represents bzip2 compression
	CompressionBZ2 = model.CompressionBZ2
	// CompressionXZ represents xz compression
	CompressionXZ = model.CompressionXZ
	// CompressionZSTD represents zstd compression
	CompressionZSTD = model.CompressionZSTD
)

// NewDumpOptions creates new DumpOptions with default values (CSV format, no compression)
var NewDumpOptions = model.NewDumpOptions

// DumpDatabase exports all tables from the database to a directory.
//
// By default, exports as CSV files without compression. You can optionally provide
// DumpOptions to customize the output format and compression.
//
// Note: hdf5sql uses SQLite3 internally as an in-memory database. Any modifications
// made through UPDATE, DELETE, or INSERT operations are not persisted to the original
// containers. If you need to persist changes, use DumpDatabase to export the modified
// data.
//
// Example usage:
//
//	// Default: Export as CSV files
//	err := DumpDatabase(db, "./output")
//
//	// Export as Parquet files with zstd compression
//	options := NewDumpOptions().
//		WithFormat(OutputFormatParquet).
//		WithCompression(CompressionZSTD)
//	err := DumpDatabase(db, "./output", options)
func DumpDatabase(db *sql.DB, outputDir string, opts ...DumpOptions) error {
	// Use default options if none provided
	options := NewDumpOptions()
	if len(opts) > 0 {
		options = opts[0]
	}

	// Get the underlying connection
	conn, err := db.Conn(context.Background())
	if err != nil {
		return fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	// Use Raw to get the underlying driver connection
	return conn.Raw(func(driverConn interface{}) error {
		// Auto-save wraps the driver connection; unwrap it first
		if asc, ok := driverConn.(*autoSaveConnection); ok {
			driverConn = asc.conn
		}
		if hdf5sqlConn, ok := driverConn.(*hdf5sqldriver.Connection); ok {
			return hdf5sqlConn.DumpWithOptions(outputDir, options)
		}
		return hdf5sqldriver.ErrNotHdf5sqlConnection
	})
}
