package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dlegrain/EVAL-COSEP/internal/domain"
)

func TestArchivePut(t *testing.T) {
	t.Parallel()
	pool := newMockPgxPool(t)
	pool.On("Exec", mock.Anything, archiveUpsertSQL, mock.Anything).Return(pgconn.NewCommandTag("INSERT 0 1"), nil).Twice()
	repo := NewArchiveRepo(pool)

	err := repo.Put(context.Background(), "reports/2026-01-01T10-00-00-000Z-rapport.xlsx", []byte("PK"), "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", map[string]string{"email": "a@b.fr"})
	require.NoError(t, err)
	args := pool.execArgs(0)
	require.Len(t, args, 4)
	assert.Equal(t, "reports/2026-01-01T10-00-00-000Z-rapport.xlsx", args[0])
	assert.Equal(t, []byte("PK"), args[1])
	assert.JSONEq(t, `{"email":"a@b.fr"}`, string(args[3].([]byte)))

	require.NoError(t, repo.Put(context.Background(), "k", nil, "text/plain", nil))
	args = pool.execArgs(1)
	assert.Equal(t, []byte{}, args[1])
	assert.JSONEq(t, `{}`, string(args[3].([]byte)))
}

func TestArchivePut_Failures(t *testing.T) {
	t.Parallel()
	idle := newMockPgxPool(t)
	err := NewArchiveRepo(idle).Put(context.Background(), "", nil, "", nil)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	idle.AssertNotCalled(t, "Exec", mock.Anything, mock.Anything, mock.Anything)

	pool := newMockPgxPool(t)
	pool.On("Exec", mock.Anything, mock.Anything, mock.Anything).Return(pgconn.CommandTag{}, errors.New("disk full")).Once()
	err = NewArchiveRepo(pool).Put(context.Background(), "k", nil, "", nil)
	assert.ErrorIs(t, err, domain.ErrPersistenceUnavailable)
}
