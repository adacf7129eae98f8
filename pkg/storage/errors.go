package storage

import "errors"

// ErrTableExists is returned by CreateTable when the table is already in
// the catalog (spec.md §4.2's CreateTable: "Fails if table exists").
var ErrTableExists = errors.New("table already exists")

// ErrTableNotFound is returned by every operation that names a table not
// present in the catalog.
var ErrTableNotFound = errors.New("table not found")

// ErrColumnNotFound is returned when a referenced column is absent from a
// table's schema.
var ErrColumnNotFound = errors.New("column not found")

// ErrRowNotFound is returned by UpdateRow/DeleteRow when they look up
// a specific row id no longer present (already tombstoned or never existed).
var ErrRowNotFound = errors.New("row not found")
