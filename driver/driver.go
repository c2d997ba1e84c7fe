// Package driver provides HDF5 SQL driver implementation for database/sql.
//
// This package implements a database/sql driver that allows querying HDF5
// container files (including compressed versions) as if they were SQL tables.
// Every dataset in a container is loaded into an in-memory SQLite database
// for query execution, one table per dataset.
//
// Key features:
//   - One SQL table per dataset, named from the dataset path
//   - Typed columns (INTEGER, REAL, TEXT) derived from the stored element type
//   - Support for compressed containers (gzip, bzip2, xz, zstd)
//   - Duplicate table name validation across multiple containers
//   - Directory scanning with automatic container discovery
//   - Table export functionality
//
// Usage:
//
//	import _ "github.com/nao1215/hdf5sql/driver"
//	db, err := sql.Open("hdf5sql", "data.h5")
package driver

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/nao1215/hdf5sql/domain/model"
	"modernc.org/sqlite"
)

// Driver implements database/sql/driver.Driver interface for HDF5-backed SQL.
// It serves as the entry point for creating connections to container-backed databases.
type Driver struct{}

// Connector implements database/sql/driver.Connector interface.
// It holds connection parameters and manages the creation of database connections.
// The dsn field contains container paths separated by semicolons for multiple containers.
type Connector struct {
	driver *Driver
	dsn    string // Data source name - container paths separated by semicolons
}

// Connection implements database/sql/driver.Conn interface.
// It wraps an underlying SQLite connection that contains loaded dataset data.
type Connection struct {
	conn driver.Conn // Underlying SQLite connection with loaded dataset data
}

// Transaction implements database/sql/driver.Tx interface.
// It wraps an underlying SQLite transaction for atomic operations.
type Transaction struct {
	tx driver.Tx // Underlying SQLite transaction
}

// NewDriver creates a new HDF5 SQL driver
func NewDriver() *Driver {
	return &Driver{}
}

// Open implements driver.Driver interface
func (d *Driver) Open(dsn string) (driver.Conn, error) {
	connector, err := d.OpenConnector(dsn)
	if err != nil {
		return nil, err
	}
	return connector.Connect(context.Background())
}

// OpenConnector implements driver.DriverContext interface
func (d *Driver) OpenConnector(dsn string) (driver.Connector, error) {
	return &Connector{
		driver: d,
		dsn:    dsn,
	}, nil
}

// Connect implements driver.Connector interface
func (c *Connector) Connect(_ context.Context) (driver.Conn, error) {
	// Get SQLite driver and create connection
	sqliteDriver := &sqlite.Driver{}
	conn, err := sqliteDriver.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory database: %w", err)
	}

	// Load container data into database
	if err := c.loadContainersDirectly(conn, c.dsn); err != nil {
		_ = conn.Close() // Ignore close error since we're already returning an error
		return nil, fmt.Errorf("failed to load container: %w", err)
	}

	return &Connection{conn: conn}, nil
}

// Driver implements driver.Connector interface
func (c *Connector) Driver() driver.Driver {
	return c.driver
}

// loadContainersDirectly loads container file(s) and/or directories into SQLite3 database using driver.Conn
func (c *Connector) loadContainersDirectly(conn driver.Conn, path string) error {
	// Table names are claimed as datasets load so that collisions across
	// containers are caught no matter how the paths were given.
	tables := make(map[string]string)

	// Check if path contains multiple paths separated by semicolon
	if strings.Contains(path, ";") {
		return c.loadMultiplePaths(conn, strings.Split(path, ";"), tables)
	}

	return c.loadSinglePath(conn, path, tables)
}

// loadSinglePath loads a single path (container or directory) into the database
func (c *Connector) loadSinglePath(conn driver.Conn, path string, tables map[string]string) error {
	info, err := c.validatePath(path)
	if err != nil {
		return err
	}

	if info.IsDir() {
		return c.loadDirectory(conn, path, tables)
	}
	return c.loadSingleContainer(conn, path, tables)
}

// validatePath validates that a path is safe and exists, returning its FileInfo
func (c *Connector) validatePath(path string) (os.FileInfo, error) {
	if err := ValidatePath(path); err != nil {
		return nil, fmt.Errorf("%w: %s", err, SanitizeForLog(path))
	}

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("path does not exist: %s", path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stat path: %w", err)
	}
	return info, nil
}

// validateContainerFile enforces the container size limit
func (c *Connector) validateContainerFile(filePath string) error {
	info, err := os.Stat(filePath)
	if err != nil {
		return fmt.Errorf("failed to stat container: %w", err)
	}
	if info.Size() > MaxContainerSize {
		return fmt.Errorf("%w: %s", ErrContainerTooLarge, filepath.Base(filePath))
	}
	return nil
}

// loadSingleContainer loads every dataset of one container into SQLite3 database
func (c *Connector) loadSingleContainer(conn driver.Conn, filePath string, tables map[string]string) error {
	if err := c.validateContainerFile(filePath); err != nil {
		return err
	}

	container, err := model.OpenContainer(filePath)
	if err != nil {
		return err
	}
	defer func() {
		_ = container.Close()
	}()

	datasets, err := container.Datasets()
	if err != nil {
		return fmt.Errorf("failed to list datasets: %w", err)
	}
	if len(datasets) == 0 {
		return fmt.Errorf("%w: %s", ErrNoDatasetsLoaded, filePath)
	}

	for _, datasetPath := range datasets {
		if err := c.loadDataset(conn, container, datasetPath, tables); err != nil {
			return fmt.Errorf("failed to load dataset %s: %w", datasetPath, err)
		}
	}
	return nil
}

// loadDataset resolves one dataset and streams its rows into a new table
func (c *Connector) loadDataset(conn driver.Conn, container *model.Container, datasetPath string, tables map[string]string) error {
	tableName := model.TableFromDatasetPath(datasetPath)
	if existing, exists := tables[tableName]; exists {
		return fmt.Errorf("%w: table '%s' from '%s' and '%s'",
			ErrDuplicateTableName, tableName, existing, container.Path())
	}

	handle, err := container.Dataset(datasetPath)
	if err != nil {
		if errors.Is(err, model.ErrDuplicateColumnName) {
			return fmt.Errorf("%w: %v", ErrDuplicateColumnName, err)
		}
		return err
	}
	defer func() {
		_ = handle.Close()
	}()

	if err := ValidateColumnCount(len(handle.Columns())); err != nil {
		return err
	}

	table := model.NewTable(tableName, handle.Columns())
	if err := c.createTableDirectly(conn, table); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}
	if err := c.insertDatasetRows(conn, table, handle); err != nil {
		return fmt.Errorf("failed to insert records: %w", err)
	}

	tables[tableName] = container.Path()
	return nil
}

// loadDirectory loads all supported containers from a directory into SQLite3 database
func (c *Connector) loadDirectory(conn driver.Conn, dirPath string, tables map[string]string) error {
	stems := make(map[string]string)
	filesToLoad, err := c.collectDirectoryFiles(dirPath, stems)
	if err != nil {
		return err
	}

	return c.loadContainersWithErrorHandling(conn, filesToLoad, dirPath, tables)
}

// loadContainersWithErrorHandling loads multiple containers with appropriate error handling
func (c *Connector) loadContainersWithErrorHandling(conn driver.Conn, filesToLoad []string, dirPath string, tables map[string]string) error {
	loadedFiles := 0
	for _, filePath := range filesToLoad {
		if err := c.loadSingleContainer(conn, filePath, tables); err != nil {
			// Log error but continue with other containers (only for directory loading)
			fmt.Printf("Warning: failed to load container %s: %s\n", filepath.Base(filePath), SanitizeForLog(err.Error()))
			continue
		}
		loadedFiles++
	}

	if loadedFiles == 0 {
		return fmt.Errorf("no supported containers found in directory: %s", dirPath)
	}

	return nil
}

// collectDirectoryFiles collects containers from a directory, preferring the
// less compressed copy when the same container exists in multiple encodings
func (c *Connector) collectDirectoryFiles(dirPath string, stems map[string]string) ([]string, error) {
	entries, err := c.readDirectoryEntries(dirPath)
	if err != nil {
		return nil, err
	}

	var filesToLoad []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue // Skip subdirectories
		}

		fileName := entry.Name()
		filePath := filepath.Join(dirPath, fileName)

		if !model.IsSupportedFile(fileName) {
			continue
		}
		if c.shouldSkipFile(filePath, fileName) {
			continue
		}

		stem := containerStem(filePath)
		if existingFile, exists := stems[stem]; exists {
			c.selectLessCompressed(existingFile, filePath, &filesToLoad, stems, stem)
			continue
		}
		stems[stem] = filePath
		filesToLoad = append(filesToLoad, filePath)
	}

	if err := ValidateFileCount(len(filesToLoad)); err != nil {
		return nil, err
	}
	return filesToLoad, nil
}

// readDirectoryEntries reads and returns directory entries
func (c *Connector) readDirectoryEntries(dirPath string) ([]os.DirEntry, error) {
	entries, err := os.ReadDir(dirPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}
	return entries, nil
}

// shouldSkipFile determines if a container should be skipped based on validation
func (c *Connector) shouldSkipFile(filePath, fileName string) bool {
	if !IsValidFileName(fileName) {
		return true
	}
	if err := c.validateContainerFile(filePath); err != nil {
		fmt.Printf("Warning: skipping file %s: %s\n", fileName, SanitizeForLog(err.Error()))
		return true
	}
	return false
}

// selectLessCompressed keeps the copy of a container with fewer compression layers
func (c *Connector) selectLessCompressed(existingFile, filePath string, filesToLoad *[]string, stems map[string]string, stem string) {
	existingCompressionCount := countCompressionExtensions(filepath.Base(existingFile))
	currentCompressionCount := countCompressionExtensions(filepath.Base(filePath))

	// Prefer uncompressed containers over compressed ones
	if currentCompressionCount < existingCompressionCount {
		for i, f := range *filesToLoad {
			if f == existingFile {
				(*filesToLoad)[i] = filePath
				break
			}
		}
		stems[stem] = filePath
	}
	// Otherwise keep the existing container (skip current one)
}

// containerStem identifies a container independent of its compression encoding
func containerStem(filePath string) string {
	return filepath.Join(filepath.Dir(filePath), removeCompressionExtensions(filepath.Base(filePath)))
}

// removeCompressionExtensions removes compression extensions from filename
func removeCompressionExtensions(fileName string) string {
	for _, ext := range []string{model.ExtGZ, model.ExtBZ2, model.ExtXZ, model.ExtZSTD} {
		if strings.HasSuffix(fileName, ext) {
			return strings.TrimSuffix(fileName, ext)
		}
	}
	return fileName
}

// countCompressionExtensions counts how many compression extensions a file has
func countCompressionExtensions(fileName string) int {
	count := 0
	for _, ext := range []string{model.ExtGZ, model.ExtBZ2, model.ExtXZ, model.ExtZSTD} {
		if strings.HasSuffix(fileName, ext) {
			count++
		}
	}
	return count
}

// loadMultiplePaths loads multiple specified containers and/or directories into SQLite3 database
func (c *Connector) loadMultiplePaths(conn driver.Conn, paths []string, tables map[string]string) error {
	if len(paths) == 0 {
		return ErrNoPathsProvided
	}

	filesToLoad, dirs, err := c.collectAllFiles(paths)
	if err != nil {
		return err
	}

	return c.loadCollectedFiles(conn, filesToLoad, dirs, tables)
}

// collectAllFiles collects all containers from multiple paths
func (c *Connector) collectAllFiles(paths []string) ([]string, []string, error) {
	stems := make(map[string]string)
	var filesToLoad []string
	var dirs []string

	for _, path := range paths {
		path = strings.TrimSpace(path)
		if path == "" {
			continue
		}

		info, err := c.validatePath(path)
		if err != nil {
			return nil, nil, err
		}

		if info.IsDir() {
			dirs = append(dirs, path)
			continue
		}

		pathFiles, err := c.collectSingleFile(path, stems)
		if err != nil {
			return nil, nil, err
		}
		filesToLoad = append(filesToLoad, pathFiles...)
	}

	return filesToLoad, dirs, nil
}

// collectSingleFile collects a single container, skipping unsupported files
func (c *Connector) collectSingleFile(path string, stems map[string]string) ([]string, error) {
	if !model.IsSupportedFile(filepath.Base(path)) {
		return nil, nil // Skip unsupported files
	}

	stem := containerStem(path)
	if existingFile, exists := stems[stem]; exists {
		return nil, fmt.Errorf("%w: container '%s' given as both '%s' and '%s'",
			ErrDuplicateTableName, stem, existingFile, path)
	}

	stems[stem] = path
	return []string{path}, nil
}

// loadCollectedFiles loads all collected containers, then directories
func (c *Connector) loadCollectedFiles(conn driver.Conn, filesToLoad, dirs []string, tables map[string]string) error {
	loadedFiles := 0
	for _, filePath := range filesToLoad {
		if err := c.loadSingleContainer(conn, filePath, tables); err != nil {
			return fmt.Errorf("failed to load container %s: %w", filePath, err)
		}
		loadedFiles++
	}

	for _, dirPath := range dirs {
		if err := c.loadDirectory(conn, dirPath, tables); err != nil {
			return err
		}
		loadedFiles++
	}

	if loadedFiles == 0 {
		return ErrNoContainersLoaded
	}

	return nil
}

// createTableDirectly creates table schema using driver.Conn
func (c *Connector) createTableDirectly(conn driver.Conn, table *model.Table) error {
	query := c.buildCreateTableQuery(table)
	return c.executeStatement(conn, query, nil)
}

// buildCreateTableQuery constructs a CREATE TABLE query with typed columns
func (c *Connector) buildCreateTableQuery(table *model.Table) string {
	columns := make([]string, 0, len(table.Columns()))
	for _, col := range table.Columns() {
		columns = append(columns, fmt.Sprintf(`[%s] %s`, col.Name, col.Type.String()))
	}

	return fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS [%s] (%s)`,
		table.Name(),
		strings.Join(columns, ", "),
	)
}

// insertDatasetRows streams the dataset scan into a prepared INSERT
func (c *Connector) insertDatasetRows(conn driver.Conn, table *model.Table, handle *model.DatasetHandle) error {
	if handle.NumRows() == 0 {
		return nil
	}

	query := c.buildInsertQuery(table)
	stmt, err := conn.Prepare(query)
	if err != nil {
		return err
	}
	defer stmt.Close()

	scan, err := model.NewDatasetScan(handle, nil, model.DefaultBatchRows)
	if err != nil {
		return err
	}

	for {
		batch, err := scan.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		for _, row := range batch.Rows {
			args, err := c.convertRowToDriverValues(row)
			if err != nil {
				return err
			}
			if err := c.executeStatement(stmt, "", args); err != nil {
				return err
			}
		}
	}
}

// buildInsertQuery constructs an INSERT query for the given table
func (c *Connector) buildInsertQuery(table *model.Table) string {
	placeholders := c.buildPlaceholders(len(table.Columns()))
	return fmt.Sprintf(
		`INSERT INTO [%s] VALUES (%s)`,
		table.Name(),
		placeholders,
	)
}

// buildPlaceholders creates placeholder string for prepared statements
func (c *Connector) buildPlaceholders(count int) string {
	if count == 0 {
		return ""
	}
	placeholders := "?"
	for i := 1; i < count; i++ {
		placeholders += ", ?"
	}
	return placeholders
}

// convertRowToDriverValues converts decoded cells to driver.Value bindings.
// Booleans store as 0/1 and list cells serialize to JSON arrays.
func (c *Connector) convertRowToDriverValues(row []any) ([]driver.Value, error) {
	args := make([]driver.Value, len(row))
	for i, cell := range row {
		switch v := cell.(type) {
		case int64:
			args[i] = v
		case float64:
			args[i] = v
		case bool:
			if v {
				args[i] = int64(1)
			} else {
				args[i] = int64(0)
			}
		case string:
			args[i] = ValidateFieldValue(v)
		case []int64, []float64, []bool, []string:
			encoded, err := json.Marshal(v)
			if err != nil {
				return nil, fmt.Errorf("failed to encode list value: %w", err)
			}
			args[i] = string(encoded)
		default:
			return nil, fmt.Errorf("unsupported value type %T", cell)
		}
	}
	return args, nil
}

// executeStatement executes a statement with proper context support
func (c *Connector) executeStatement(conn interface{}, query string, args []driver.Value) error {
	switch stmt := conn.(type) {
	case driver.Conn:
		// For CREATE TABLE queries
		preparedStmt, err := stmt.Prepare(query)
		if err != nil {
			return err
		}
		defer preparedStmt.Close()
		return c.executeStatement(preparedStmt, "", args)

	case driver.Stmt:
		// For INSERT queries with prepared statement
		if stmtExecCtx, ok := stmt.(driver.StmtExecContext); ok {
			namedArgs := c.convertToNamedValues(args)
			_, err := stmtExecCtx.ExecContext(context.Background(), namedArgs)
			return err
		}
		return ErrStmtExecContextNotSupported

	default:
		return errors.New("unsupported statement type")
	}
}

// convertToNamedValues converts driver.Value slice to driver.NamedValue slice
func (c *Connector) convertToNamedValues(args []driver.Value) []driver.NamedValue {
	namedArgs := make([]driver.NamedValue, len(args))
	for i, arg := range args {
		namedArgs[i] = driver.NamedValue{
			Ordinal: i + 1,
			Value:   arg,
		}
	}
	return namedArgs
}

// Close implements driver.Conn interface
func (conn *Connection) Close() error {
	if conn.conn != nil {
		return conn.conn.Close()
	}
	return nil
}

// Begin implements driver.Conn interface (deprecated, use BeginTx instead)
func (conn *Connection) Begin() (driver.Tx, error) {
	return conn.BeginTx(context.Background(), driver.TxOptions{})
}

// BeginTx implements driver.ConnBeginTx interface
func (conn *Connection) BeginTx(ctx context.Context, opts driver.TxOptions) (driver.Tx, error) {
	if connBeginTx, ok := conn.conn.(driver.ConnBeginTx); ok {
		tx, err := connBeginTx.BeginTx(ctx, opts)
		if err != nil {
			return nil, err
		}
		return &Transaction{tx: tx}, nil
	}
	// If ConnBeginTx is not implemented, return an error
	return nil, ErrBeginTxNotSupported
}

// Commit implements driver.Tx interface
func (t *Transaction) Commit() error {
	return t.tx.Commit()
}

// Rollback implements driver.Tx interface
func (t *Transaction) Rollback() error {
	return t.tx.Rollback()
}

// Prepare implements driver.Conn interface (deprecated, use PrepareContext instead)
func (conn *Connection) Prepare(query string) (driver.Stmt, error) {
	return conn.PrepareContext(context.Background(), query)
}

// PrepareContext implements driver.ConnPrepareContext interface
func (conn *Connection) PrepareContext(ctx context.Context, query string) (driver.Stmt, error) {
	if connPrepareCtx, ok := conn.conn.(driver.ConnPrepareContext); ok {
		return connPrepareCtx.PrepareContext(ctx, query)
	}
	// If ConnPrepareContext is not implemented, return an error
	return nil, ErrPrepareContextNotSupported
}
