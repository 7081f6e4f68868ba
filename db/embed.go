// Package db provides embedded database schemas.
package db

import _ "embed"

// Schema contains the PostgreSQL DDL for all application tables.
//
//go:embed migrations/001_schema.sql
var Schema string

// SQLiteSchema contains the SQLite DDL for all application tables.
//
//go:embed migrations/sqlite/001_schema.sql
var SQLiteSchema string
