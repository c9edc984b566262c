// Package migrations embeds the directory schema into the binary so the
// server can migrate without SQL files on disk.
package migrations

import (
	"embed"

	"github.com/nerrad567/seedgate-core/internal/infrastructure/database"
)

//go:embed *.sql
var files embed.FS

// Source returns the embedded migrations for database.DB.Migrate.
func Source() database.Source {
	return database.Source{FS: files, Dir: "."}
}
