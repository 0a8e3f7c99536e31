// Package migrations embeds the PostgreSQL schema migrations so tests and
// tools can apply them without a checkout on disk.
package migrations

import "embed"

// FS holds every *.sql migration in this directory.
//
//go:embed *.sql
var FS embed.FS
