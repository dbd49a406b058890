// Package migrations embeds the SQL migrations for the dead-letter journal.
package migrations

import "embed"

// FS holds the migration files at its root.
//
//go:embed *.sql
var FS embed.FS
