// Package dbmigrations exposes the embedded SQL migrations bundled into
// groundfault binaries.
package dbmigrations

import "embed"

//go:embed *.sql
var Files embed.FS
