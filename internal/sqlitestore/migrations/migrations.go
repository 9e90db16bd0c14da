// Package migrations embeds the schema applied by sqlitedb.Migrate on boot.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
