// Package migrations embeds the SQLite schema migrations for the shopstream
// store.
package migrations

import "embed"

// FS holds the migration files applied on store open.
//
//go:embed *.sql
var FS embed.FS
