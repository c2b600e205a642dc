// Package migrations embeds the SQL migrations for the penalty store and the
// security settings persister.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
