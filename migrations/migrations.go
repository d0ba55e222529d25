// Package migrations embeds the goose SQL migration files.
//
// Files are named YYYYMMDDHHMMSS_description.sql and applied in order
// at startup, before the data migrations run.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
