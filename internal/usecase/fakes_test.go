package usecase_test

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/dlegrain/EVAL-COSEP/internal/domain"
	"github.com/dlegrain/EVAL-COSEP/internal/usecase"
)

var fixedNow = time.Date(2024, 3, 5, 14, 7, 9, 123_000_000, time.UTC)

func clock() time.Time { return fixedNow }

type memProgressStore struct {
	mu      sync.Mutex
	rows    map[string]domain.Progress
	saves   int
	findErr error
	saveErr error
}

func newMemProgressStore() *memProgressStore {
	return &memProgressStore{rows: map[string]domain.Progress{}}
}

func (s *memProgressStore) FindOrCreate(_ domain.Context, email, firstName, lastName string) (domain.Progress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return domain.Progress{}, s.findErr
	}
	key := domain.NormalizeEmail(email)
	p, ok := s.rows[key]
	if !ok {
		p = domain.NewProgress(email, firstName, lastName)
		s.rows[key] = p
	}
	return cloneProgress(p), nil
}

func (s *memProgressStore) Save(_ domain.Context, p domain.Progress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saves++
	s.rows[domain.NormalizeEmail(p.Email)] = cloneProgress(p)
	return nil
}

func (s *memProgressStore) row(email string) domain.Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneProgress(s.rows[domain.NormalizeEmail(email)])
}

func cloneProgress(p domain.Progress) domain.Progress {
	out := p
	out.Modules = make(map[string]domain.ModuleProgress, len(p.Modules))
	for k, v := range p.Modules {
		out.Modules[k] = v
	}
	return out
}

type archivePut struct {
	key         string
	content     []byte
	contentType string
	metadata    map[string]string
}

type memArchive struct {
	puts []archivePut
	err  error
}

func (a *memArchive) Put(_ domain.Context, key string, content []byte, contentType string, metadata map[string]string) error {
	if a.err != nil {
		return a.err
	}
	a.puts = append(a.puts, archivePut{key: key, content: content, contentType: contentType, metadata: metadata})
	return nil
}

type memEvents struct {
	events []domain.SubmissionEvent
	err    error
}

func (e *memEvents) Publish(_ domain.Context, ev domain.SubmissionEvent) error {
	if e.err != nil {
		return e.err
	}
	e.events = append(e.events, ev)
	return nil
}

type stubComparator struct {
	res domain.ComparisonResult
	err error
}

func (c stubComparator) Compare(context.Context, []domain.ReferenceEntry, []domain.UserEntry) (domain.ComparisonResult, error) {
	return c.res, c.err
}

type stubOracle struct {
	out   string
	err   error
	ready bool
	calls int
}

func (o *stubOracle) Complete(domain.Context, domain.OracleRequest) (string, error) {
	o.calls++
	return o.out, o.err
}

func (o *stubOracle) Ready() bool { return o.ready }

type recorderDeps struct {
	store   *memProgressStore
	archive *memArchive
	events  *memEvents
}

func newRecorder() (usecase.Recorder, recorderDeps) {
	deps := recorderDeps{store: newMemProgressStore(), archive: &memArchive{}, events: &memEvents{}}
	progress := usecase.ProgressService{Store: deps.store, Now: clock}
	return usecase.Recorder{
		Archive:  deps.archive,
		Progress: &progress,
		Events:   deps.events,
		Now:      clock,
		NewID:    func() string { return "evt-1" },
	}, deps
}

func buildWorkbook(t *testing.T, rows ...[]any) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	for i, row := range rows {
		cellRef, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		row := row
		require.NoError(t, f.SetSheetRow("Sheet1", cellRef, &row))
	}
	var buf bytes.Buffer
	_, err := f.WriteTo(&buf)
	require.NoError(t, err)
	return buf.Bytes()
}

func ptrInt(v int64) *int64 { return &v }

func ptrFloat(v float64) *float64 { return &v }
