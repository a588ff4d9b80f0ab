// Package migrations carries the schema as embedded SQL so the binary
// can migrate a fresh database without any files on disk.
package migrations

import "embed"

// FS holds every .sql file in this directory, applied in lexical order.
//
//go:embed *.sql
var FS embed.FS
