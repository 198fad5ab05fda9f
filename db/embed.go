// Package db embeds the database schema applied at startup.
package db

import _ "embed"

// Schema holds the DDL for every table the engine owns.
//
//go:embed migrations/001_schema.sql
var Schema string
