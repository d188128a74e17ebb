// Package migrations embeds the PostgreSQL schema migrations applied by goose.
package migrations

import "embed"

// FS holds the SQL migration files.
//
//go:embed *.sql
var FS embed.FS
