package postgres

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dlegrain/EVAL-COSEP/internal/domain"
)

func TestNewPool_InvalidDSN(t *testing.T) {
	t.Parallel()
	_, err := NewPool(context.Background(), "://bad")
	require.Error(t, err)
}

func TestSchema_HasNamedModuleColumns(t *testing.T) {
	t.Parallel()
	stmts := schemaStatements()
	require.Len(t, stmts, 2)
	for _, col := range progressColumns() {
		assert.Contains(t, stmts[0], col)
	}
	assert.Contains(t, stmts[0], "module1_status TEXT NOT NULL DEFAULT 'pending'")
	assert.Contains(t, stmts[1], "submission_archive")
	assert.Len(t, progressColumns(), 16)
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()
	pool := newMockPgxPool(t)
	pool.On("Exec", mock.Anything, mock.Anything, mock.Anything).Return(pgconn.CommandTag{}, nil).Twice()
	require.NoError(t, EnsureSchema(context.Background(), pool))

	failing := newMockPgxPool(t)
	failing.On("Exec", mock.Anything, mock.Anything, mock.Anything).Return(pgconn.CommandTag{}, errors.New("permission denied")).Once()
	err := EnsureSchema(context.Background(), failing)
	require.Error(t, err)
	failing.AssertNumberOfCalls(t, "Exec", 1)
}

func TestProgressUpdateSQL_Placeholders(t *testing.T) {
	t.Parallel()
	assert.True(t, strings.HasPrefix(progressUpdateSQL, "UPDATE participant_progress SET first_name=$2, last_name=$3, module1_status=$4"))
	assert.Contains(t, progressUpdateSQL, "module4_updated_at=$19")
	assert.True(t, strings.HasSuffix(progressUpdateSQL, "WHERE email=$1"))
}

func TestFindOrCreate_EmptyEmail(t *testing.T) {
	t.Parallel()
	pool := newMockPgxPool(t)
	_, err := NewProgressRepo(pool).FindOrCreate(context.Background(), "  ", "A", "B")
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
	pool.AssertNotCalled(t, "Exec", mock.Anything, mock.Anything, mock.Anything)
}

func TestFindOrCreate_ScansRow(t *testing.T) {
	t.Parallel()
	updated := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	pool := newMockPgxPool(t)
	pool.On("Exec", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return strings.Contains(sql, "ON CONFLICT (email) DO NOTHING")
	}), []any{"ana@cosep.fr", "Ana", "Lopez"}).Return(pgconn.NewCommandTag("INSERT 0 0"), nil).Once()
	pool.On("QueryRow", mock.Anything, progressSelectSQL, []any{"ana@cosep.fr"}).Return(rowFunc(func(dest ...any) error {
		if len(dest) != 3+16 {
			return errors.New("unexpected column count")
		}
		*dest[0].(*string) = "ana@cosep.fr"
		*dest[1].(*string) = "Ana"
		*dest[2].(*string) = "Lopez"
		// module1 completed
		*dest[3].(*string) = domain.StatusCompleted
		score := 72.5
		*dest[4].(**float64) = &score
		elapsed := int64(90000)
		*dest[5].(**int64) = &elapsed
		*dest[6].(**time.Time) = &updated
		// module2 left with an empty status
		return nil
	})).Once()

	p, err := NewProgressRepo(pool).FindOrCreate(context.Background(), " Ana@COSEP.fr ", " Ana ", "Lopez")
	require.NoError(t, err)

	assert.Equal(t, "ana@cosep.fr", p.Email)
	m1 := p.Modules[domain.ModuleExtraction]
	assert.Equal(t, domain.StatusCompleted, m1.Status)
	require.NotNil(t, m1.Score)
	assert.Equal(t, 72.5, *m1.Score)
	require.NotNil(t, m1.ElapsedMs)
	assert.Equal(t, int64(90000), *m1.ElapsedMs)
	assert.Equal(t, &updated, m1.UpdatedAt)

	m2 := p.Modules[domain.ModuleCollaboration]
	assert.Equal(t, domain.StatusPending, m2.Status)
	assert.Nil(t, m2.Score)
	assert.Len(t, p.Modules, 4)
}

func TestFindOrCreate_Failures(t *testing.T) {
	t.Parallel()
	down := newMockPgxPool(t)
	down.On("Exec", mock.Anything, mock.Anything, mock.Anything).Return(pgconn.CommandTag{}, errors.New("conn refused")).Once()
	_, err := NewProgressRepo(down).FindOrCreate(context.Background(), "a@b.fr", "", "")
	assert.ErrorIs(t, err, domain.ErrPersistenceUnavailable)

	noRow := newMockPgxPool(t)
	noRow.On("Exec", mock.Anything, mock.Anything, mock.Anything).Return(pgconn.CommandTag{}, nil).Once()
	noRow.On("QueryRow", mock.Anything, mock.Anything, mock.Anything).Return(rowFunc(func(...any) error { return pgx.ErrNoRows })).Once()
	_, err = NewProgressRepo(noRow).FindOrCreate(context.Background(), "a@b.fr", "", "")
	assert.ErrorIs(t, err, domain.ErrPersistenceUnavailable)
	assert.ErrorIs(t, err, pgx.ErrNoRows)
}

func TestSave(t *testing.T) {
	t.Parallel()
	score := 80.0
	p := domain.NewProgress("a@b.fr", "A", "B")
	p.Modules[domain.ModuleLegal] = domain.ModuleProgress{Status: domain.StatusCompleted, Score: &score}
	p.Modules[domain.ModuleCanvas] = domain.ModuleProgress{}

	pool := newMockPgxPool(t)
	pool.On("Exec", mock.Anything, progressUpdateSQL, mock.Anything).Return(pgconn.NewCommandTag("UPDATE 1"), nil).Once()
	require.NoError(t, NewProgressRepo(pool).Save(context.Background(), p))
	args := pool.execArgs(0)
	require.Len(t, args, 19)
	assert.Equal(t, "a@b.fr", args[0])
	// module3 block starts at index 3 + 2*4
	assert.Equal(t, domain.StatusCompleted, args[11])
	assert.Equal(t, &score, args[12])
	// empty status is stored as pending
	assert.Equal(t, domain.StatusPending, args[15])
}

func TestSave_Failures(t *testing.T) {
	t.Parallel()
	p := domain.NewProgress("a@b.fr", "", "")

	missing := newMockPgxPool(t)
	missing.On("Exec", mock.Anything, mock.Anything, mock.Anything).Return(pgconn.NewCommandTag("UPDATE 0"), nil).Once()
	err := NewProgressRepo(missing).Save(context.Background(), p)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	down := newMockPgxPool(t)
	down.On("Exec", mock.Anything, mock.Anything, mock.Anything).Return(pgconn.CommandTag{}, errors.New("timeout")).Once()
	err = NewProgressRepo(down).Save(context.Background(), p)
	assert.ErrorIs(t, err, domain.ErrPersistenceUnavailable)
}
