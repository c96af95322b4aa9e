// Package migrations embeds the goose SQL migrations so binaries and
// integration tests don't depend on the working directory.
package migrations

import "embed"

//go:embed core/*.sql
var Core embed.FS
