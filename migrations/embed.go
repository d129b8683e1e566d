// Package migrations embeds the versioned SQL schema scripts.
// Files are named NNN_description.sql and applied in ascending order.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
