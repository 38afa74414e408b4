// Package db holds the recorder schema migrations so they are compiled into
// the binary.
package db

import "embed"

// MigrationsFS contains the numbered golang-migrate files under migrations/.
//
//go:embed migrations/*.sql
var MigrationsFS embed.FS
