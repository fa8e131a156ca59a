// Package migrations embeds the SQL migrations so binaries can migrate
// without a checkout.
package migrations

import "embed"

// FS holds every *.sql migration in this directory
//
//go:embed *.sql
var FS embed.FS
