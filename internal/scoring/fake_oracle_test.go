package scoring

import (
	"context"
	"sync"

	"github.com/dlegrain/EVAL-COSEP/internal/domain"
)

// fakeOracle replays scripted answers, one per call, in call order.
type fakeOracle struct {
	mu       sync.Mutex
	answer   func(call int, req domain.OracleRequest) (string, error)
	requests []domain.OracleRequest
}

func (f *fakeOracle) Complete(ctx context.Context, req domain.OracleRequest) (string, error) {
	f.mu.Lock()
	call := len(f.requests)
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return f.answer(call, req)
}

func (f *fakeOracle) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func staticOracle(raw string) *fakeOracle {
	return &fakeOracle{answer: func(int, domain.OracleRequest) (string, error) { return raw, nil }}
}

type readyOracle struct {
	*fakeOracle
	ready bool
}

func (r readyOracle) Ready() bool { return r.ready }
