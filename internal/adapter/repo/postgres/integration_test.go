//go:build integration

package postgres

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/dlegrain/EVAL-COSEP/internal/domain"
)

func startPostgres(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	req := testcontainers.ContainerRequest{
		Image:        "postgres:16",
		Env:          map[string]string{"POSTGRES_PASSWORD": "postgres", "POSTGRES_USER": "postgres", "POSTGRES_DB": "app"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForLog("database system is ready to accept connections").WithOccurrence(2).WithStartupTimeout(90 * time.Second),
	}
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{ContainerRequest: req, Started: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Terminate(ctx) })

	host, err := c.Host(ctx)
	require.NoError(t, err)
	port, err := c.MappedPort(ctx, "5432")
	require.NoError(t, err)
	return fmt.Sprintf("postgres://postgres:postgres@%s:%s/app?sslmode=disable", host, port.Port())
}

func TestProgressRepo_RoundTrip(t *testing.T) {
	ctx := context.Background()
	pool, err := NewPool(ctx, startPostgres(t))
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, EnsureSchema(ctx, pool))
	require.NoError(t, EnsureSchema(ctx, pool), "schema bootstrap is idempotent")

	repo := NewProgressRepo(pool)
	p, err := repo.FindOrCreate(ctx, "Ana@Cosep.fr", "Ana", "Lopez")
	require.NoError(t, err)
	assert.Equal(t, "ana@cosep.fr", p.Email)
	assert.Equal(t, domain.StatusPending, p.Modules[domain.ModuleCanvas].Status)

	score, elapsed := 64.2, int64(125000)
	at := time.Date(2026, 5, 4, 8, 30, 0, 0, time.UTC)
	p.Modules[domain.ModuleExtraction] = domain.ModuleProgress{Status: domain.StatusCompleted, Score: &score, ElapsedMs: &elapsed, UpdatedAt: &at}
	require.NoError(t, repo.Save(ctx, p))

	again, err := repo.FindOrCreate(ctx, "ana@cosep.fr ", "ignored", "ignored")
	require.NoError(t, err)
	assert.Equal(t, "Ana", again.FirstName, "existing identity is not overwritten on lookup")
	m1 := again.Modules[domain.ModuleExtraction]
	assert.Equal(t, domain.StatusCompleted, m1.Status)
	require.NotNil(t, m1.Score)
	assert.InDelta(t, 64.2, *m1.Score, 1e-9)
	require.NotNil(t, m1.UpdatedAt)
	assert.True(t, at.Equal(*m1.UpdatedAt))

	archive := NewArchiveRepo(pool)
	require.NoError(t, archive.Put(ctx, "collaboration/x.txt", []byte("Vous: bonjour"), "text/plain", map[string]string{"email": p.Email}))
	require.NoError(t, archive.Put(ctx, "collaboration/x.txt", []byte("Vous: bonsoir"), "text/plain", nil))
	var content string
	require.NoError(t, pool.QueryRow(ctx, `SELECT convert_from(content, 'UTF8') FROM submission_archive WHERE key=$1`, "collaboration/x.txt").Scan(&content))
	assert.Equal(t, "Vous: bonsoir", content)
}
