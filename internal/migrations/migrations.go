package migrations

import "embed"

// Files contains SQL migrations embedded into the binary, named with a sorted
// flat convention (001_init.sql, 002_....sql).
//
//go:embed *.sql
var Files embed.FS
