package postgres

import (
	"encoding/json"
	"fmt"

	"github.com/dlegrain/EVAL-COSEP/internal/domain"
)

// ArchiveRepo keeps raw submission artifacts in the submission_archive table.
type ArchiveRepo struct{ Pool PgxPool }

// NewArchiveRepo constructs an ArchiveRepo with the given pool.
func NewArchiveRepo(p PgxPool) *ArchiveRepo { return &ArchiveRepo{Pool: p} }

const archiveUpsertSQL = `INSERT INTO submission_archive (key, content, content_type, metadata) VALUES ($1,$2,$3,$4)
ON CONFLICT (key) DO UPDATE SET content=EXCLUDED.content, content_type=EXCLUDED.content_type, metadata=EXCLUDED.metadata, created_at=now()`

// Put stores content under key, replacing any previous artifact with the same key.
func (r *ArchiveRepo) Put(ctx domain.Context, key string, content []byte, contentType string, metadata map[string]string) error {
	ctx, span := startSpan(ctx, "archive.Put", "UPSERT")
	defer span.End()

	if key == "" {
		return fmt.Errorf("op=archive.put: empty key: %w", domain.ErrInvalidArgument)
	}
	if metadata == nil {
		metadata = map[string]string{}
	}
	meta, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("op=archive.put: %w", err)
	}
	if content == nil {
		content = []byte{}
	}
	if _, err := r.Pool.Exec(ctx, archiveUpsertSQL, key, content, contentType, meta); err != nil {
		span.RecordError(err)
		return fmt.Errorf("op=archive.put: %w: %w", domain.ErrPersistenceUnavailable, err)
	}
	return nil
}
