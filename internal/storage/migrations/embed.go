// Package migrations applies the embedded schema of each capture backend.
package migrations

import (
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
)

// PostgresFS holds the capture schema for PostgreSQL.
//
//go:embed postgres/*.sql
var PostgresFS embed.FS

// ClickhouseFS holds the agent sample mirror schema.
//
//go:embed clickhouse/*.sql
var ClickhouseFS embed.FS

// SqliteFS holds the capture schema for SQLite.
//
//go:embed sqlite/*.sql
var SqliteFS embed.FS

// migration is one non-empty .sql file.
type migration struct {
	name string
	sql  string
}

// load returns the .sql files under dir in lexical order, skipping blank ones.
func load(fsys fs.FS, dir string) ([]migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read embedded %s migrations: %w", dir, err)
	}

	var names []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	out := make([]migration, 0, len(names))
	for _, name := range names {
		data, err := fs.ReadFile(fsys, dir+"/"+name)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", name, err)
		}
		if strings.TrimSpace(string(data)) == "" {
			continue
		}
		out = append(out, migration{name: name, sql: string(data)})
	}
	return out, nil
}
