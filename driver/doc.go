// Package driver provides HDF5 SQL driver implementation.
// This package implements database/sql/driver interfaces to enable
// reading HDF5 container files as SQL databases through SQLite3.
package driver
