package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dlegrain/EVAL-COSEP/internal/domain"
)

// ProgressRepo stores one row per participant, keyed by normalized email,
// with four named columns per module.
type ProgressRepo struct{ Pool PgxPool }

// NewProgressRepo constructs a ProgressRepo with the given pool.
func NewProgressRepo(p PgxPool) *ProgressRepo { return &ProgressRepo{Pool: p} }

var (
	progressSelectSQL = fmt.Sprintf(`SELECT email, first_name, last_name, %s FROM %s WHERE email=$1`,
		strings.Join(progressColumns(), ", "), progressTable)
	progressInsertSQL = `INSERT INTO ` + progressTable + ` (email, first_name, last_name) VALUES ($1,$2,$3) ON CONFLICT (email) DO NOTHING`
	progressUpdateSQL = buildProgressUpdateSQL()
)

func buildProgressUpdateSQL() string {
	sets := []string{"first_name=$2", "last_name=$3"}
	for i, col := range progressColumns() {
		sets = append(sets, fmt.Sprintf("%s=$%d", col, i+4))
	}
	sets = append(sets, "updated_at=now()")
	return fmt.Sprintf(`UPDATE %s SET %s WHERE email=$1`, progressTable, strings.Join(sets, ", "))
}

func startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	ctx, span := otel.Tracer("repo.progress").Start(ctx, name)
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", op),
	)
	return ctx, span
}

// FindOrCreate returns the participant's row, inserting an all-pending one first when absent.
func (r *ProgressRepo) FindOrCreate(ctx domain.Context, email, firstName, lastName string) (domain.Progress, error) {
	ctx, span := startSpan(ctx, "progress.FindOrCreate", "UPSERT")
	defer span.End()

	fresh := domain.NewProgress(email, firstName, lastName)
	if fresh.Email == "" {
		return domain.Progress{}, fmt.Errorf("op=progress.find_or_create: email is required: %w", domain.ErrInvalidArgument)
	}
	if _, err := r.Pool.Exec(ctx, progressInsertSQL, fresh.Email, fresh.FirstName, fresh.LastName); err != nil {
		span.RecordError(err)
		return domain.Progress{}, fmt.Errorf("op=progress.find_or_create: %w: %w", domain.ErrPersistenceUnavailable, err)
	}
	p, err := scanProgress(r.Pool.QueryRow(ctx, progressSelectSQL, fresh.Email))
	if err != nil {
		span.RecordError(err)
		return domain.Progress{}, fmt.Errorf("op=progress.find_or_create: %w: %w", domain.ErrPersistenceUnavailable, err)
	}
	return p, nil
}

// Save writes every column of p. The row must exist.
func (r *ProgressRepo) Save(ctx domain.Context, p domain.Progress) error {
	ctx, span := startSpan(ctx, "progress.Save", "UPDATE")
	defer span.End()

	email := domain.NormalizeEmail(p.Email)
	args := []any{email, p.FirstName, p.LastName}
	for _, m := range domain.ProgressModules {
		mp := p.Modules[m]
		status := mp.Status
		if status == "" {
			status = domain.StatusPending
		}
		args = append(args, status, mp.Score, mp.ElapsedMs, mp.UpdatedAt)
	}
	tag, err := r.Pool.Exec(ctx, progressUpdateSQL, args...)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("op=progress.save: %w: %w", domain.ErrPersistenceUnavailable, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=progress.save: %s: %w", email, domain.ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProgress(row rowScanner) (domain.Progress, error) {
	var p domain.Progress
	type moduleCols struct {
		status    string
		score     *float64
		elapsed   *int64
		updatedAt *time.Time
	}
	cols := make([]moduleCols, len(domain.ProgressModules))
	dest := []any{&p.Email, &p.FirstName, &p.LastName}
	for i := range cols {
		dest = append(dest, &cols[i].status, &cols[i].score, &cols[i].elapsed, &cols[i].updatedAt)
	}
	if err := row.Scan(dest...); err != nil {
		return domain.Progress{}, err
	}
	p.Modules = make(map[string]domain.ModuleProgress, len(cols))
	for i, m := range domain.ProgressModules {
		c := cols[i]
		if c.status == "" {
			c.status = domain.StatusPending
		}
		p.Modules[m] = domain.ModuleProgress{Status: c.status, Score: c.score, ElapsedMs: c.elapsed, UpdatedAt: c.updatedAt}
	}
	return p, nil
}
