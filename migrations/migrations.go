// Package migrations embeds the PostgreSQL schema migrations so binaries and
// tests can apply them without a checkout on disk.
package migrations

import "embed"

// FS holds the numbered up/down migration files.
//
//go:embed *.sql
var FS embed.FS
