package driver

import (
	"compress/gzip"
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/apache/arrow/go/v18/arrow"
	"github.com/apache/arrow/go/v18/arrow/array"
	"github.com/apache/arrow/go/v18/arrow/memory"
	"github.com/apache/arrow/go/v18/parquet"
	"github.com/apache/arrow/go/v18/parquet/compress"
	"github.com/apache/arrow/go/v18/parquet/pqarrow"
	"github.com/klauspost/compress/zstd"
	"github.com/nao1215/hdf5sql/domain/model"
	"github.com/ulikunitz/xz"
	"github.com/xuri/excelize/v2"
)

// parquetFlushRows is how many rows accumulate in the record builder
// before a record batch is written out.
const parquetFlushRows = 1000

// Dump exports all tables from SQLite3 database to specified directory in CSV format
func (conn *Connection) Dump(outputDir string) error {
	return conn.DumpWithOptions(outputDir, model.NewDumpOptions())
}

// DumpWithOptions exports all tables from SQLite3 database to specified directory
// using the given format and compression options
func (conn *Connection) DumpWithOptions(outputDir string, options model.DumpOptions) error {
	// Create output directory if it doesn't exist
	if err := os.MkdirAll(outputDir, 0750); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	// Get all table names
	tableNames, err := conn.getTableNames()
	if err != nil {
		return fmt.Errorf("failed to get table names: %w", err)
	}

	for _, tableName := range tableNames {
		if err := conn.exportTable(tableName, outputDir, options); err != nil {
			return fmt.Errorf("failed to export table %s: %w", tableName, err)
		}
	}

	return nil
}

// getTableNames retrieves all user-defined table names from SQLite3 database
func (conn *Connection) getTableNames() ([]string, error) {
	query := "SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%'"
	rows, err := conn.executeQuery(query, nil)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return conn.scanStringValues(rows)
}

// tableColumn describes one column of a dumped table.
type tableColumn struct {
	name         string
	declaredType string
}

// exportTable exports a single table in the requested format
func (conn *Connection) exportTable(tableName, outputDir string, options model.DumpOptions) error {
	columns, err := conn.getTableSchema(tableName)
	if err != nil {
		return fmt.Errorf("failed to get columns for table %s: %w", tableName, err)
	}

	query := fmt.Sprintf("SELECT * FROM [%s]", tableName)
	rows, err := conn.executeQuery(query, nil)
	if err != nil {
		return err
	}
	defer rows.Close()

	switch options.Format {
	case model.OutputFormatParquet:
		// Parquet maps the requested compression onto its own column codec,
		// so the filename never carries a compression extension.
		outputPath := filepath.Join(outputDir, tableName+options.Format.Extension())
		return conn.writeParquetFile(outputPath, columns, rows, options.Compression)
	case model.OutputFormatXLSX:
		// XLSX is already a zip archive, additional compression is skipped.
		outputPath := filepath.Join(outputDir, tableName+options.Format.Extension())
		return conn.writeXLSXFile(outputPath, columns, rows)
	case model.OutputFormatLTSV:
		outputPath := filepath.Join(outputDir, tableName+options.FileExtension())
		return conn.writeLTSVFile(outputPath, columns, rows, options.Compression)
	case model.OutputFormatTSV:
		outputPath := filepath.Join(outputDir, tableName+options.FileExtension())
		return conn.writeDelimitedFile(outputPath, columns, rows, "\t", options.Compression)
	default:
		outputPath := filepath.Join(outputDir, tableName+options.FileExtension())
		return conn.writeDelimitedFile(outputPath, columns, rows, ",", options.Compression)
	}
}

// getTableSchema retrieves column names and declared types for a specific table
func (conn *Connection) getTableSchema(tableName string) ([]tableColumn, error) {
	query := fmt.Sprintf("PRAGMA table_info([%s])", tableName)
	rows, err := conn.executeQuery(query, nil)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var columns []tableColumn
	dest := make([]driver.Value, 6) // PRAGMA table_info returns 6 columns
	for {
		err := rows.Next(dest)
		if err != nil {
			if errors.Is(err, driver.ErrBadConn) || errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}

		// Column name is at index 1, declared type at index 2
		col := tableColumn{
			name:         conn.formatDumpValue(dest[1]),
			declaredType: conn.formatDumpValue(dest[2]),
		}
		if col.name != "" {
			columns = append(columns, col)
		}
	}

	return columns, nil
}

// executeQuery executes a query and returns rows with proper context support
func (conn *Connection) executeQuery(query string, args []driver.Value) (driver.Rows, error) {
	stmt, err := conn.PrepareContext(context.Background(), query)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	var namedArgs []driver.NamedValue
	if args != nil {
		namedArgs = make([]driver.NamedValue, len(args))
		for i, arg := range args {
			namedArgs[i] = driver.NamedValue{
				Ordinal: i + 1,
				Value:   arg,
			}
		}
	}

	if stmtQueryCtx, ok := stmt.(driver.StmtQueryContext); ok {
		return stmtQueryCtx.QueryContext(context.Background(), namedArgs)
	}

	// Fallback for older drivers
	driverArgs := make([]driver.Value, len(args))
	copy(driverArgs, args)
	return stmt.Query(driverArgs)
}

// scanStringValues scans single-column string results from rows
func (conn *Connection) scanStringValues(rows driver.Rows) ([]string, error) {
	var results []string
	dest := make([]driver.Value, 1)

	for {
		err := rows.Next(dest)
		if err != nil {
			if errors.Is(err, driver.ErrBadConn) || errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}

		if name, ok := dest[0].(string); ok && name != "" {
			results = append(results, name)
		}
	}

	return results, nil
}

// writeDelimitedFile creates and writes data to a CSV or TSV file
func (conn *Connection) writeDelimitedFile(outputPath string, columns []tableColumn, rows driver.Rows, separator string, compression model.CompressionType) error {
	w, err := conn.newCompressedWriter(outputPath, compression)
	if err != nil {
		return err
	}
	defer w.Close()

	// Write header
	names := make([]string, len(columns))
	for i, col := range columns {
		names[i] = conn.escapeDelimitedValue(col.name, separator)
	}
	if _, err := io.WriteString(w, strings.Join(names, separator)+"\n"); err != nil {
		return err
	}

	// Write data rows
	dest := make([]driver.Value, len(columns))
	for {
		err := rows.Next(dest)
		if err != nil {
			if errors.Is(err, driver.ErrBadConn) || errors.Is(err, io.EOF) {
				break
			}
			return err
		}

		record := make([]string, len(dest))
		for i, val := range dest {
			if val == nil {
				record[i] = ""
			} else {
				record[i] = conn.escapeDelimitedValue(conn.formatDumpValue(val), separator)
			}
		}
		if _, err := io.WriteString(w, strings.Join(record, separator)+"\n"); err != nil {
			return err
		}
	}

	return w.Close()
}

// writeLTSVFile creates and writes data to an LTSV file
func (conn *Connection) writeLTSVFile(outputPath string, columns []tableColumn, rows driver.Rows, compression model.CompressionType) error {
	w, err := conn.newCompressedWriter(outputPath, compression)
	if err != nil {
		return err
	}
	defer w.Close()

	dest := make([]driver.Value, len(columns))
	for {
		err := rows.Next(dest)
		if err != nil {
			if errors.Is(err, driver.ErrBadConn) || errors.Is(err, io.EOF) {
				break
			}
			return err
		}

		fields := make([]string, len(dest))
		for i, val := range dest {
			fields[i] = columns[i].name + ":" + conn.sanitizeLTSVValue(conn.formatDumpValue(val))
		}
		if _, err := io.WriteString(w, strings.Join(fields, "\t")+"\n"); err != nil {
			return err
		}
	}

	return w.Close()
}

// writeParquetFile writes table data as a parquet file using Apache Arrow
func (conn *Connection) writeParquetFile(outputPath string, columns []tableColumn, rows driver.Rows, compression model.CompressionType) error {
	file, err := os.Create(outputPath) //nolint:gosec // Safe: outputPath is constructed from validated inputs
	if err != nil {
		return err
	}
	defer file.Close()

	schema := conn.buildArrowSchema(columns)
	props := parquet.NewWriterProperties(parquet.WithCompression(parquetCodec(compression)))
	writer, err := pqarrow.NewFileWriter(schema, file, props, pqarrow.DefaultWriterProps())
	if err != nil {
		return fmt.Errorf("failed to create parquet writer: %w", err)
	}

	builder := array.NewRecordBuilder(memory.NewGoAllocator(), schema)
	defer builder.Release()

	flush := func() error {
		record := builder.NewRecord()
		defer record.Release()
		return writer.Write(record)
	}

	pending := 0
	dest := make([]driver.Value, len(columns))
	for {
		err := rows.Next(dest)
		if err != nil {
			if errors.Is(err, driver.ErrBadConn) || errors.Is(err, io.EOF) {
				break
			}
			_ = writer.Close()
			return err
		}

		for i, val := range dest {
			conn.appendArrowValue(builder.Field(i), val)
		}
		pending++
		if pending >= parquetFlushRows {
			if err := flush(); err != nil {
				_ = writer.Close()
				return err
			}
			pending = 0
		}
	}

	if pending > 0 {
		if err := flush(); err != nil {
			_ = writer.Close()
			return err
		}
	}

	return writer.Close()
}

// buildArrowSchema maps declared SQLite column types onto an arrow schema
func (conn *Connection) buildArrowSchema(columns []tableColumn) *arrow.Schema {
	fields := make([]arrow.Field, len(columns))
	for i, col := range columns {
		var dt arrow.DataType
		switch col.declaredType {
		case "INTEGER":
			dt = arrow.PrimitiveTypes.Int64
		case "REAL":
			dt = arrow.PrimitiveTypes.Float64
		default:
			dt = arrow.BinaryTypes.String
		}
		fields[i] = arrow.Field{Name: col.name, Type: dt, Nullable: true}
	}
	return arrow.NewSchema(fields, nil)
}

// appendArrowValue appends a driver value to the matching arrow builder
func (conn *Connection) appendArrowValue(b array.Builder, val driver.Value) {
	if val == nil {
		b.AppendNull()
		return
	}

	switch builder := b.(type) {
	case *array.Int64Builder:
		if v, ok := val.(int64); ok {
			builder.Append(v)
			return
		}
		builder.AppendNull()
	case *array.Float64Builder:
		switch v := val.(type) {
		case float64:
			builder.Append(v)
		case int64:
			builder.Append(float64(v))
		default:
			builder.AppendNull()
		}
	case *array.StringBuilder:
		builder.Append(conn.formatDumpValue(val))
	default:
		b.AppendNull()
	}
}

// parquetCodec maps a dump compression choice onto a parquet codec
func parquetCodec(compression model.CompressionType) compress.Compression {
	switch compression {
	case model.CompressionGZ:
		return compress.Codecs.Gzip
	case model.CompressionZSTD:
		return compress.Codecs.Zstd
	default:
		// Parquet has no bzip2 or xz codec
		return compress.Codecs.Uncompressed
	}
}

// writeXLSXFile writes table data as an Excel workbook
func (conn *Connection) writeXLSXFile(outputPath string, columns []tableColumn, rows driver.Rows) error {
	file := excelize.NewFile()
	defer func() {
		_ = file.Close()
	}()

	// Write header row
	for i, col := range columns {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := file.SetCellValue("Sheet1", cell, col.name); err != nil {
			return fmt.Errorf("failed to set cell value: %w", err)
		}
	}

	// Write data rows
	rowIndex := 2
	dest := make([]driver.Value, len(columns))
	for {
		err := rows.Next(dest)
		if err != nil {
			if errors.Is(err, driver.ErrBadConn) || errors.Is(err, io.EOF) {
				break
			}
			return err
		}

		for i, val := range dest {
			cell, err := excelize.CoordinatesToCellName(i+1, rowIndex)
			if err != nil {
				return fmt.Errorf("failed to convert coordinates: %w", err)
			}
			if err := file.SetCellValue("Sheet1", cell, conn.xlsxCellValue(val)); err != nil {
				return fmt.Errorf("failed to set cell value: %w", err)
			}
		}
		rowIndex++
	}

	return file.SaveAs(outputPath)
}

// xlsxCellValue converts a driver value to a type excelize can store
func (conn *Connection) xlsxCellValue(val driver.Value) any {
	switch v := val.(type) {
	case nil:
		return ""
	case []byte:
		return string(v)
	default:
		return v
	}
}

// formatDumpValue renders a driver value as text for export
func (conn *Connection) formatDumpValue(val driver.Value) string {
	switch v := val.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// escapeDelimitedValue escapes a value for CSV or TSV format
func (conn *Connection) escapeDelimitedValue(value, separator string) string {
	// Check if value needs to be quoted
	needsQuoting := strings.Contains(value, separator) ||
		strings.Contains(value, "\n") ||
		strings.Contains(value, "\r") ||
		strings.Contains(value, "\"")

	if needsQuoting {
		// Escape double quotes by doubling them
		escaped := strings.ReplaceAll(value, "\"", "\"\"")
		return fmt.Sprintf("\"%s\"", escaped)
	}

	return value
}

// sanitizeLTSVValue strips characters LTSV cannot represent
func (conn *Connection) sanitizeLTSVValue(value string) string {
	value = strings.ReplaceAll(value, "\t", " ")
	value = strings.ReplaceAll(value, "\n", " ")
	return strings.ReplaceAll(value, "\r", "")
}

// compressedFileWriter chains an optional compressor in front of the output file
// and closes both in the right order.
type compressedFileWriter struct {
	io.Writer
	closers []io.Closer
	closed  bool
}

// Close closes the compressor first, then the underlying file.
func (w *compressedFileWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	var errs []error
	for _, c := range w.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// newCompressedWriter opens the output file wrapped in the requested compressor
func (conn *Connection) newCompressedWriter(outputPath string, compression model.CompressionType) (io.WriteCloser, error) {
	file, err := os.Create(outputPath) //nolint:gosec // Safe: outputPath is constructed from validated inputs
	if err != nil {
		return nil, err
	}

	switch compression {
	case model.CompressionGZ:
		gzWriter := gzip.NewWriter(file)
		return &compressedFileWriter{Writer: gzWriter, closers: []io.Closer{gzWriter, file}}, nil
	case model.CompressionBZ2:
		_ = file.Close()
		_ = os.Remove(outputPath)
		return nil, errors.New("bzip2 compression is not supported for writing")
	case model.CompressionXZ:
		xzWriter, err := xz.NewWriter(file)
		if err != nil {
			_ = file.Close()
			return nil, fmt.Errorf("failed to create xz writer: %w", err)
		}
		return &compressedFileWriter{Writer: xzWriter, closers: []io.Closer{xzWriter, file}}, nil
	case model.CompressionZSTD:
		zstdWriter, err := zstd.NewWriter(file)
		if err != nil {
			_ = file.Close()
			return nil, fmt.Errorf("failed to create zstd writer: %w", err)
		}
		return &compressedFileWriter{Writer: zstdWriter, closers: []io.Closer{zstdWriter, file}}, nil
	default:
		return &compressedFileWriter{Writer: file, closers: []io.Closer{file}}, nil
	}
}
