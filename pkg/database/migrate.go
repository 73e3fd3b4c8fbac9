package database

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"sort"

	schemafs "github.com/cjephuneh/subsplitAI-sub000/pkg/database/sql"
	"github.com/cjephuneh/subsplitAI-sub000/pkg/logging"
)

// ApplySchema executes the embedded schema files in lexical order.
// All statements are idempotent (CREATE ... IF NOT EXISTS), so this is
// safe to run on every startup.
func ApplySchema(ctx context.Context, db *sql.DB, logger logging.Logger) error {
	entries, err := fs.ReadDir(schemafs.Content, "schema")
	if err != nil {
		return fmt.Errorf("failed to read embedded schema: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		contents, err := fs.ReadFile(schemafs.Content, "schema/"+name)
		if err != nil {
			return fmt.Errorf("failed to read schema file %s: %w", name, err)
		}
		if _, err := db.ExecContext(ctx, string(contents)); err != nil {
			return fmt.Errorf("failed to apply schema file %s: %w", name, err)
		}
		logger.WithField("file", name).Debug("Applied schema file")
	}

	logger.WithField("files", len(names)).Info("Database schema applied")
	return nil
}
