// Package migrate applies the goose SQL migrations that create the device
// token registry, the alert table and the transactional outbox.
package migrate

import (
	"embed"
	"io/fs"
)

// Dir is where new migration files are written by `migrate -cmd=create`.
const Dir = "pkg/migrate/migrations"

//go:embed migrations/*.sql
var embedded embed.FS

// Source returns the migrations compiled into the binary.
func Source() fs.FS {
	sub, err := fs.Sub(embedded, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}
