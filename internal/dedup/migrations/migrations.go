// Package migrations embeds the dedup schema migrations.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
