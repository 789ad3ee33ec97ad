// Package migrations embeds the Postgres schema for cmd/migrate.
package migrations

import "embed"

// FS holds the numbered golang-migrate files.
//
//go:embed *.sql
var FS embed.FS
