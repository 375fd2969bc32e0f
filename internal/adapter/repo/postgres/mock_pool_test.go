package postgres

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/mock"
)

type rowFunc func(dest ...any) error

func (f rowFunc) Scan(dest ...any) error { return f(dest...) }

// mockPgxPool is a testify mock of PgxPool. Variadic bind arguments are
// recorded as a single []any argument.
type mockPgxPool struct{ mock.Mock }

func newMockPgxPool(t *testing.T) *mockPgxPool {
	t.Helper()
	m := &mockPgxPool{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *mockPgxPool) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	ret := m.Called(ctx, sql, args)
	return ret.Get(0).(pgconn.CommandTag), ret.Error(1)
}

func (m *mockPgxPool) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	ret := m.Called(ctx, sql, args)
	return ret.Get(0).(pgx.Row)
}

// execArgs returns the bind arguments of the i-th Exec call.
func (m *mockPgxPool) execArgs(i int) []any {
	n := 0
	for _, c := range m.Calls {
		if c.Method != "Exec" {
			continue
		}
		if n == i {
			return c.Arguments.Get(2).([]any)
		}
		n++
	}
	return nil
}
