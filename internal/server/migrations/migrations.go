// Package migrations embeds the row store schema applied by goose at startup.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
