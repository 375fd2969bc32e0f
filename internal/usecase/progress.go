// Package usecase contains application business logic services.
package usecase

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dlegrain/EVAL-COSEP/internal/domain"
)

// Participant-facing progress validation messages.
const (
	MsgProgressEmailRequired  = "Le champ email est obligatoire."
	MsgProgressUpdateNoEmail  = "L'email est obligatoire pour mettre à jour la progression."
	MsgProgressNoUpdates      = "Aucune mise à jour fournie."
	progressTimestampLayout   = "2006-01-02T15:04:05.000Z07:00"
	progressTimestampTruncate = time.Millisecond
)

// ProgressService reads and updates the per-participant progress row.
type ProgressService struct {
	Store domain.ProgressStore
	Now   func() time.Time
}

// NewProgressService constructs a ProgressService over store.
func NewProgressService(store domain.ProgressStore) ProgressService {
	return ProgressService{Store: store, Now: time.Now}
}

// ProgressUser identifies the owner of a progress row.
type ProgressUser struct {
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// ProgressView is the API representation of a progress row.
type ProgressView struct {
	User           ProgressUser                     `json:"user"`
	Progress       map[string]domain.ModuleProgress `json:"progress"`
	UpdatedModules []string                         `json:"updatedModules,omitempty"`
}

func (s ProgressService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Get returns the participant's row, creating it when absent. Non-empty
// identity fields that differ from the stored ones are written back.
func (s ProgressService) Get(ctx domain.Context, email, firstName, lastName string) (ProgressView, error) {
	if strings.TrimSpace(email) == "" {
		return ProgressView{}, fmt.Errorf("%w: %s", domain.ErrInvalidArgument, MsgProgressEmailRequired)
	}
	if s.Store == nil {
		return ProgressView{}, fmt.Errorf("op=usecase.ProgressService.Get: progress store not configured: %w", domain.ErrPersistenceUnavailable)
	}
	p, err := s.Store.FindOrCreate(ctx, email, firstName, lastName)
	if err != nil {
		return ProgressView{}, fmt.Errorf("op=usecase.ProgressService.Get: %w", err)
	}
	if EnsureIdentity(&p, firstName, lastName) {
		if err := s.Store.Save(ctx, p); err != nil {
			return ProgressView{}, fmt.Errorf("op=usecase.ProgressService.Get: %w", err)
		}
	}
	return viewOf(p, nil), nil
}

// Update applies per-module updates. Unknown module ids are ignored and the
// row is only written when something actually changed.
func (s ProgressService) Update(ctx domain.Context, email, firstName, lastName string, updates map[string]domain.ModuleUpdate) (ProgressView, error) {
	if strings.TrimSpace(email) == "" {
		return ProgressView{}, fmt.Errorf("%w: %s", domain.ErrInvalidArgument, MsgProgressUpdateNoEmail)
	}
	if len(updates) == 0 {
		return ProgressView{}, fmt.Errorf("%w: %s", domain.ErrInvalidArgument, MsgProgressNoUpdates)
	}
	if s.Store == nil {
		return ProgressView{}, fmt.Errorf("op=usecase.ProgressService.Update: progress store not configured: %w", domain.ErrPersistenceUnavailable)
	}
	p, err := s.Store.FindOrCreate(ctx, email, firstName, lastName)
	if err != nil {
		return ProgressView{}, fmt.Errorf("op=usecase.ProgressService.Update: %w", err)
	}
	changed := EnsureIdentity(&p, firstName, lastName)
	if ApplyProgressUpdates(&p, updates, s.now()) {
		changed = true
	}
	if changed {
		if err := s.Store.Save(ctx, p); err != nil {
			return ProgressView{}, fmt.Errorf("op=usecase.ProgressService.Update: %w", err)
		}
	}
	names := make([]string, 0, len(updates))
	for id := range updates {
		names = append(names, id)
	}
	sort.Strings(names)
	return viewOf(p, names), nil
}

// EnsureIdentity copies non-blank names into p and reports whether anything changed.
func EnsureIdentity(p *domain.Progress, firstName, lastName string) bool {
	changed := false
	if v := strings.TrimSpace(firstName); v != "" && p.FirstName != v {
		p.FirstName = v
		changed = true
	}
	if v := strings.TrimSpace(lastName); v != "" && p.LastName != v {
		p.LastName = v
		changed = true
	}
	return changed
}

// ApplyProgressUpdates merges updates into p and reports whether any column
// changed. A module's timestamp is refreshed on every update it receives;
// a zero At means now.
func ApplyProgressUpdates(p *domain.Progress, updates map[string]domain.ModuleUpdate, now time.Time) bool {
	if p.Modules == nil {
		p.Modules = make(map[string]domain.ModuleProgress, len(domain.ProgressModules))
	}
	changed := false
	for id, u := range updates {
		if !domain.IsProgressModule(id) {
			continue
		}
		cur := p.Modules[id]
		if cur.Status == "" {
			cur.Status = domain.StatusPending
		}
		if u.Status != "" && cur.Status != u.Status {
			cur.Status = u.Status
			changed = true
		}
		if u.Score != nil && !sameFloat(cur.Score, u.Score) {
			v := *u.Score
			cur.Score = &v
			changed = true
		}
		if u.ElapsedMs != nil && !sameInt(cur.ElapsedMs, u.ElapsedMs) {
			v := *u.ElapsedMs
			cur.ElapsedMs = &v
			changed = true
		}
		at := u.At
		if at.IsZero() {
			at = now
		}
		at = at.UTC().Truncate(progressTimestampTruncate)
		if cur.UpdatedAt == nil || !cur.UpdatedAt.Equal(at) {
			cur.UpdatedAt = &at
			changed = true
		}
		p.Modules[id] = cur
	}
	return changed
}

func viewOf(p domain.Progress, updated []string) ProgressView {
	modules := make(map[string]domain.ModuleProgress, len(domain.ProgressModules))
	for _, id := range domain.ProgressModules {
		m := p.Modules[id]
		if m.Status == "" {
			m.Status = domain.StatusPending
		}
		modules[id] = m
	}
	return ProgressView{
		User:           ProgressUser{Email: p.Email, FirstName: p.FirstName, LastName: p.LastName},
		Progress:       modules,
		UpdatedModules: updated,
	}
}

// FormatTimestamp renders t the way progress timestamps are exchanged.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(progressTimestampLayout)
}

func sameFloat(a, b *float64) bool { return a != nil && b != nil && *a == *b }

func sameInt(a, b *int64) bool { return a != nil && b != nil && *a == *b }
