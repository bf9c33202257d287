package database

import (
	"context"
	"io"
)

// Database is the interface a database adapter has to fulfill to have its
// contents dumped and shipped to the object store
type Database interface {
	// Probe figures out if the database is reachable and ready for dumping
	Probe(ctx context.Context) error
	// ListDatabases returns the names of the databases to back up, system
	// schemas and configured exclusions removed
	ListDatabases(ctx context.Context) ([]string, error)
	// Dump writes a plain SQL dump of the named database to w
	Dump(ctx context.Context, name string, w io.Writer) error
}
