package pgstore

import (
	"embed"
	"io/fs"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/opshub/pkg/notifications"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrations holds the goose migrations at the FS root.
var Migrations fs.FS = mustSub(migrationFiles, "migrations")

func mustSub(f embed.FS, dir string) fs.FS {
	sub, err := fs.Sub(f, dir)
	if err != nil {
		panic(err)
	}
	return sub
}

// Store is a notifications.Storage backed by a pgx pool.
type Store struct {
	pool *pgxpool.Pool
}

var _ notifications.Storage = (*Store)(nil)

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}
