package driver

import "errors"

// Predefined errors
var (
	// ErrNoPathsProvided is returned when no paths are provided
	ErrNoPathsProvided = errors.New("hdf5sql driver: no paths provided")

	// ErrNoContainersLoaded is returned when no containers were loaded
	ErrNoContainersLoaded = errors.New("hdf5sql driver: no containers were loaded")

	// ErrNoDatasetsLoaded is returned when a container holds no loadable datasets
	ErrNoDatasetsLoaded = errors.New("hdf5sql driver: no datasets were loaded")

	// ErrStmtExecContextNotSupported is returned when statement does not support ExecContext
	ErrStmtExecContextNotSupported = errors.New("hdf5sql driver: statement does not support ExecContext")

	// ErrBeginTxNotSupported is returned when underlying connection does not support BeginTx
	ErrBeginTxNotSupported = errors.New("hdf5sql driver: underlying connection does not support BeginTx")

	// ErrPrepareContextNotSupported is returned when underlying connection does not support PrepareContext
	ErrPrepareContextNotSupported = errors.New("hdf5sql driver: underlying connection does not support PrepareContext")

	// ErrNotHdf5sqlConnection is returned when connection is not a hdf5sql connection
	ErrNotHdf5sqlConnection = errors.New("hdf5sql driver: connection is not a hdf5sql connection")

	// ErrDuplicateColumnName is returned when a dataset contains duplicate column names
	ErrDuplicateColumnName = errors.New("hdf5sql driver: duplicate column name")

	// ErrDuplicateTableName is returned when multiple datasets would create the same table name
	ErrDuplicateTableName = errors.New("hdf5sql driver: duplicate table name")

	// ErrResourceExhaustion is returned when resource limits are exceeded
	ErrResourceExhaustion = errors.New("hdf5sql driver: resource exhaustion detected")

	// ErrSecurityViolation is returned when a security policy is violated
	ErrSecurityViolation = errors.New("hdf5sql driver: security policy violation")
)
