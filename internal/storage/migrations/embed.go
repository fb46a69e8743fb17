// Package migrations holds the SQLite schema of the regression history.
package migrations

import "embed"

// FS embeds the numbered SQL migrations, applied in file name order.
//
//go:embed *.sql
var FS embed.FS
