package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/dlegrain/EVAL-COSEP/internal/domain"
)

const progressTable = "participant_progress"

// progressColumns lists the per-module columns in domain.ProgressModules order:
// <module>_status, <module>_score, <module>_elapsed_ms, <module>_updated_at.
func progressColumns() []string {
	cols := make([]string, 0, 4*len(domain.ProgressModules))
	for _, m := range domain.ProgressModules {
		cols = append(cols, m+"_status", m+"_score", m+"_elapsed_ms", m+"_updated_at")
	}
	return cols
}

func schemaStatements() []string {
	var b strings.Builder
	b.WriteString("CREATE TABLE IF NOT EXISTS " + progressTable + " (\n")
	b.WriteString("  email TEXT PRIMARY KEY,\n")
	b.WriteString("  first_name TEXT NOT NULL DEFAULT '',\n")
	b.WriteString("  last_name TEXT NOT NULL DEFAULT '',\n")
	for _, m := range domain.ProgressModules {
		fmt.Fprintf(&b, "  %s_status TEXT NOT NULL DEFAULT '%s',\n", m, domain.StatusPending)
		fmt.Fprintf(&b, "  %s_score DOUBLE PRECISION,\n", m)
		fmt.Fprintf(&b, "  %s_elapsed_ms BIGINT,\n", m)
		fmt.Fprintf(&b, "  %s_updated_at TIMESTAMPTZ,\n", m)
	}
	b.WriteString("  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),\n")
	b.WriteString("  updated_at TIMESTAMPTZ NOT NULL DEFAULT now()\n)")
	return []string{
		b.String(),
		`CREATE TABLE IF NOT EXISTS submission_archive (
  key TEXT PRIMARY KEY,
  content BYTEA NOT NULL,
  content_type TEXT NOT NULL,
  metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
	}
}

// EnsureSchema creates the tables when missing. It is idempotent.
func EnsureSchema(ctx context.Context, pool PgxPool) error {
	for _, stmt := range schemaStatements() {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("op=postgres.EnsureSchema: %w", err)
		}
	}
	return nil
}
