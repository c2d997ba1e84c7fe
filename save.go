package hdf5sql

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"path/filepath"

	hdf5sqldriver "github.com/nao1215/hdf5sql/driver"
)

// AutoSaveTiming represents when automatic saving occurs
type AutoSaveTiming int

const (
	// AutoSaveOnClose saves data when the database connection is closed
	AutoSaveOnClose AutoSaveTiming = iota
	// AutoSaveOnCommit saves data when a transaction is committed
	AutoSaveOnCommit
)

// AutoSaveConfig holds configuration for automatic data persistence
type AutoSaveConfig struct {
	// Enabled indicates whether auto-save is active
	Enabled bool
	// Timing specifies when to trigger the save
	Timing AutoSaveTiming
	// OutputDir is the directory where files are exported.
	// Empty string means the directory of the first original container.
	OutputDir string
	// Options controls the output format and compression
	Options DumpOptions
}

// validateAutoSaveConfig checks the auto-save configuration against the
// configured inputs. Overwrite mode needs a real directory to write into, and
// filesystem inputs only exist as temporary copies.
func (b *DBBuilder) validateAutoSaveConfig() error {
	if b.autoSaveConfig == nil || !b.autoSaveConfig.Enabled {
		return nil
	}
	if b.autoSaveConfig.OutputDir == "" && len(b.filesystems) > 0 && len(b.paths) == 0 {
		return errors.New("auto-save overwrite mode requires regular file paths, not filesystem inputs")
	}
	return nil
}

// autoSaveConnector wraps the driver connector so that every connection handed
// to database/sql carries the auto-save configuration.
type autoSaveConnector struct {
	base          driver.Connector
	config        *AutoSaveConfig
	originalPaths []string
}

// Connect creates a new connection and wraps it with auto-save behavior.
func (c *autoSaveConnector) Connect(ctx context.Context) (driver.Conn, error) {
	conn, err := c.base.Connect(ctx)
	if err != nil {
		return nil, err
	}
	return &autoSaveConnection{
		conn:          conn,
		config:        c.config,
		originalPaths: c.originalPaths,
	}, nil
}

// Driver returns the underlying driver.
func (c *autoSaveConnector) Driver() driver.Driver {
	return c.base.Driver()
}

// autoSaveConnection wraps a database connection with auto-save functionality
type autoSaveConnection struct {
	conn          driver.Conn
	config        *AutoSaveConfig
	originalPaths []string
}

// Close closes the connection, performing auto-save first when configured
// to save on close.
func (asc *autoSaveConnection) Close() error {
	if asc.config != nil && asc.config.Enabled && asc.config.Timing == AutoSaveOnClose {
		if err := asc.performAutoSave(); err != nil {
			closeErr := asc.conn.Close()
			if closeErr != nil {
				return fmt.Errorf("auto-save failed: %w (also failed to close connection: %w)", err, closeErr)
			}
			return fmt.Errorf("auto-save failed: %w", err)
		}
	}
	return asc.conn.Close()
}

// Begin starts a transaction
func (asc *autoSaveConnection) Begin() (driver.Tx, error) {
	return asc.BeginTx(context.Background(), driver.TxOptions{})
}

// BeginTx starts a transaction with options
func (asc *autoSaveConnection) BeginTx(ctx context.Context, opts driver.TxOptions) (driver.Tx, error) {
	if connBeginTx, ok := asc.conn.(driver.ConnBeginTx); ok {
		tx, err := connBeginTx.BeginTx(ctx, opts)
		if err != nil {
			return nil, err
		}
		return &autoSaveTransaction{
			tx:         tx,
			connection: asc,
		}, nil
	}

	tx, err := asc.conn.Begin() //nolint:staticcheck // Begin is deprecated but needed for fallback
	if err != nil {
		return nil, err
	}
	return &autoSaveTransaction{
		tx:         tx,
		connection: asc,
	}, nil
}

// Prepare prepares a statement
func (asc *autoSaveConnection) Prepare(query string) (driver.Stmt, error) {
	return asc.conn.Prepare(query)
}

// PrepareContext prepares a statement with context support
func (asc *autoSaveConnection) PrepareContext(ctx context.Context, query string) (driver.Stmt, error) {
	if connPrepareCtx, ok := asc.conn.(driver.ConnPrepareContext); ok {
		return connPrepareCtx.PrepareContext(ctx, query)
	}
	return asc.conn.Prepare(query)
}

// ExecContext executes a query with context
func (asc *autoSaveConnection) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	if execerCtx, ok := asc.conn.(driver.ExecerContext); ok {
		return execerCtx.ExecContext(ctx, query, args)
	}
	if execer, ok := asc.conn.(driver.Execer); ok { //nolint:staticcheck // Execer is deprecated but needed for fallback
		values := make([]driver.Value, len(args))
		for i, arg := range args {
			values[i] = arg.Value
		}
		return execer.Exec(query, values) //nolint:staticcheck // Exec is deprecated but needed for fallback
	}
	return nil, driver.ErrSkip
}

// QueryContext executes a query with context
func (asc *autoSaveConnection) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	if queryerCtx, ok := asc.conn.(driver.QueryerContext); ok {
		return queryerCtx.QueryContext(ctx, query, args)
	}
	if queryer, ok := asc.conn.(driver.Queryer); ok { //nolint:staticcheck // Queryer is deprecated but needed for fallback
		values := make([]driver.Value, len(args))
		for i, arg := range args {
			values[i] = arg.Value
		}
		return queryer.Query(query, values) //nolint:staticcheck // Query is deprecated but needed for fallback
	}
	return nil, driver.ErrSkip
}

// performAutoSave exports the current database contents through the dump
// machinery. The temporary sql.DB shares this connection, so it must not be
// closed here.
func (asc *autoSaveConnection) performAutoSave() error {
	tempDB := sql.OpenDB(&directConnector{conn: asc.conn})

	if asc.config.OutputDir == "" {
		return asc.overwriteOriginalFiles(tempDB, asc.config.Options)
	}
	return DumpDatabase(tempDB, asc.config.OutputDir, asc.config.Options)
}

// overwriteOriginalFiles saves the exported data next to the original containers
func (asc *autoSaveConnection) overwriteOriginalFiles(db *sql.DB, options DumpOptions) error {
	if len(asc.originalPaths) == 0 {
		return errors.New("no original paths available for overwrite")
	}
	return DumpDatabase(db, filepath.Dir(asc.originalPaths[0]), options)
}

// autoSaveTransaction wraps a transaction with auto-save functionality
type autoSaveTransaction struct {
	tx         driver.Tx
	connection *autoSaveConnection
}

// Commit commits the transaction, performing auto-save afterward when
// configured to save on commit.
func (ast *autoSaveTransaction) Commit() error {
	if err := ast.tx.Commit(); err != nil {
		return err
	}

	config := ast.connection.config
	if config != nil && config.Enabled && config.Timing == AutoSaveOnCommit {
		if err := ast.connection.performAutoSave(); err != nil {
			return fmt.Errorf("transaction committed successfully, but auto-save failed: %w", err)
		}
	}
	return nil
}

// Rollback rolls back the transaction
func (ast *autoSaveTransaction) Rollback() error {
	return ast.tx.Rollback()
}

// directConnector provides database/sql access to a connection that is
// already open. Used during auto-save so the dump sees the live data.
type directConnector struct {
	conn driver.Conn
}

// Connect returns the existing connection
func (dc *directConnector) Connect(_ context.Context) (driver.Conn, error) {
	return dc.conn, nil
}

// Driver returns the underlying driver
func (dc *directConnector) Driver() driver.Driver {
	return hdf5sqldriver.NewDriver()
}
