// Package hdf5sql provides an HDF5-backed SQL driver implementation that
// enables querying HDF5 container files (.h5, .hdf5, .he5) using SQLite3
// SQL syntax.
//
// hdf5sql allows you to treat HDF5 datasets as SQL tables without any data
// import or transformation steps. It uses SQLite3 as an in-memory database
// engine, providing full SQL capabilities including JOINs, aggregations,
// window functions, and CTEs.
//
// # Features
//
//   - Query HDF5 containers (.h5, .hdf5, .he5) using standard SQL
//   - Automatic handling of compressed containers (gzip, bzip2, xz, zstandard)
//   - Support for multiple input sources (files, directories, embed.FS)
//   - Streaming dataset scans with projection pushdown and bounded batches
//   - Arrow record export for columnar interoperability
//   - Optional auto-save functionality to persist changes
//
// # Basic Usage
//
// The simplest way to use hdf5sql is with the Open or OpenContext functions:
//
//	db, err := hdf5sql.Open("measurements.h5")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	rows, err := db.Query("SELECT * FROM sensors WHERE temperature > 25.0")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rows.Close()
//
// # Advanced Usage
//
// For more complex scenarios, use the Builder pattern:
//
//	builder := hdf5sql.NewBuilder().
//	    AddPath("measurements.h5").
//	    AddPath("archive.hdf5.gz").
//	    EnableAutoSave("./output")
//
//	validatedBuilder, err := builder.Build(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	db, err := validatedBuilder.Open(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
// # Table Naming
//
// Table names are derived from dataset paths inside the container, with
// the leading separator trimmed and inner separators replaced by
// underscores:
//   - dataset "/sensors" becomes table "sensors"
//   - dataset "/experiments/run1" becomes table "experiments_run1"
//
// Every dataset of every loaded container becomes one table. Two datasets
// that would claim the same table name are rejected as duplicates.
//
// # Column Types
//
// Column types come from the stored HDF5 datatypes, not from sampling:
// fixed-point members map to INTEGER columns, floating-point members to
// REAL, fixed-size strings to TEXT, two-state enumerations to booleans
// stored as 0/1, and fixed-length arrays to TEXT columns holding JSON
// arrays. Variable-length data and nested compounds are unsupported and
// rejected when a dataset loads.
//
// # Data Modifications
//
// INSERT, UPDATE, and DELETE operations affect only the in-memory
// database. Original containers remain unchanged unless auto-save is
// enabled; even then, saved data is written as derived files (CSV, TSV,
// LTSV, Parquet, XLSX), never back into the container. To persist changes
// manually, use the DumpDatabase function.
//
// # SQL Syntax
//
// Since hdf5sql uses SQLite3 as its underlying engine, all SQL syntax
// follows SQLite3's SQL dialect. This includes support for:
//   - Common Table Expressions (CTEs)
//   - Window functions
//   - JSON functions
//   - Date and time functions
//   - And all other SQLite3 features
//
// For complete SQL syntax documentation, see: https://www.sqlite.org/lang.html
package hdf5sql
