package db

import (
	"embed"
	"io/fs"
)

//go:embed migrations/*.sql
var migrationsEmbed embed.FS

// Migrations returns the embedded schema migrations rooted at the
// migrations directory.
func Migrations() fs.FS {
	sub, err := fs.Sub(migrationsEmbed, "migrations")
	if err != nil {
		// the directory is compiled in, so this cannot fail
		panic(err)
	}
	return sub
}
