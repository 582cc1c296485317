package db

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Execer is the slice of pgxpool.Pool the migrator needs.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// ApplyMigrations executes the embedded SQL files in lexical order. Every
// statement is written to be idempotent, so this runs on each start.
func ApplyMigrations(ctx context.Context, db Execer) error {
	return applyFrom(ctx, db, migrationFS, "migrations")
}

func applyFrom(ctx context.Context, db Execer, fsys fs.FS, root string) error {
	files, err := WalkFS(fsys, root)
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	sort.Strings(files)

	for _, name := range files {
		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return err
		}
		for _, stmt := range SplitStatements(string(content)) {
			if _, err := db.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("exec %s: %w", path.Base(name), err)
			}
		}
	}
	return nil
}

// SplitStatements splits a migration file on ';', dropping empty statements.
func SplitStatements(content string) []string {
	var out []string
	for _, stmt := range strings.Split(content, ";") {
		if s := strings.TrimSpace(stmt); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// WalkFS lists the .sql files under root.
func WalkFS(fsys fs.FS, root string) ([]string, error) {
	var files []string
	err := fs.WalkDir(fsys, root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), ".sql") {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}
