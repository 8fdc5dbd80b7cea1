// Package migrations holds the schema of the revision store.
package migrations

import "embed"

// FS contains the numbered up migrations.
//
//go:embed *.up.sql
var FS embed.FS
