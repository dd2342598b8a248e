// Package dbmigrations exposes embedded SQL migrations for the discovery engine binaries.
package dbmigrations

import "embed"

// Files contains the embedded SQL migrations bundled into discovery engine binaries.
//
//go:embed *.sql
var Files embed.FS
