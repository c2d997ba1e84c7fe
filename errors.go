package hdf5sql

import (
	"errors"
	"fmt"
	"strings"
)

// Standard error messages and error creation functions for consistency
var (
	// ErrNoInputs indicates that no container paths or filesystems were configured
	ErrNoInputs = errors.New("hdf5sql: at least one path must be provided")

	// ErrUnsupportedFormat indicates an unsupported container format
	ErrUnsupportedFormat = errors.New("hdf5sql: unsupported container format")

	// ErrNoContainersFound indicates no supported containers were found
	ErrNoContainersFound = errors.New("hdf5sql: no valid container files found")

	// ErrScanClosed indicates an operation on a closed dataset scan
	ErrScanClosed = errors.New("hdf5sql: dataset scan is closed")

	// ErrMemoryLimit indicates memory limit exceeded
	ErrMemoryLimit = errors.New("hdf5sql: memory limit exceeded")
)

// ErrorContext provides context for where an error occurred
type ErrorContext struct {
	Operation string
	FilePath  string
	Dataset   string
	Details   string
}

// NewErrorContext creates a new error context
func NewErrorContext(operation, filePath string) *ErrorContext {
	return &ErrorContext{
		Operation: operation,
		FilePath:  filePath,
	}
}

// WithDataset adds dataset context to the error
func (ec *ErrorContext) WithDataset(dataset string) *ErrorContext {
	ec.Dataset = dataset
	return ec
}

// WithDetails adds details to the error context
func (ec *ErrorContext) WithDetails(details string) *ErrorContext {
	ec.Details = details
	return ec
}

// Error creates a formatted error with context
func (ec *ErrorContext) Error(baseErr error) error {
	var parts []string
	parts = append(parts, fmt.Sprintf("hdf5sql: %s failed", ec.Operation))

	if ec.FilePath != "" {
		parts = append(parts, "container: "+ec.FilePath)
	}

	if ec.Dataset != "" {
		parts = append(parts, "dataset: "+ec.Dataset)
	}

	if ec.Details != "" {
		parts = append(parts, "details: "+ec.Details)
	}

	context := strings.Join(parts, ", ")
	if baseErr != nil {
		return fmt.Errorf("%s: %w", context, baseErr)
	}
	return fmt.Errorf("%s", context)
}
