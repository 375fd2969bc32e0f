package usecase

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dlegrain/EVAL-COSEP/internal/adapter/observability"
	"github.com/dlegrain/EVAL-COSEP/internal/domain"
	"github.com/dlegrain/EVAL-COSEP/pkg/textx"
)

// Exercise names used as metric labels and event modules.
const (
	ExerciseExtraction    = "extraction"
	ExerciseCollaboration = "collaboration"
	ExerciseLegal         = "legal"
	ExerciseCanvas        = "canvas"
)

// Bookkeeping messages returned to participants.
const (
	MsgNoSignificantGap      = "Aucun écart significatif détecté."
	MsgElapsedUnavailable    = "Durée non disponible"
	MsgArchiveDisabled       = "Archivage non disponible."
	MsgArchiveFailed         = "Impossible d'archiver le fichier (fonctionnalité indisponible)."
	MsgProgressDisabled      = "Suivi de progression non disponible."
	MsgProgressNoEmail       = "Email absent: progression non enregistrée."
	MsgProgressFailed        = "Impossible de sauvegarder la progression."
	MsgProgressSaved         = "Progression enregistrée."
	MsgEventsDisabled        = "Publication des résultats désactivée."
	MsgEventFailed           = "Publication du résultat impossible."
	MsgEventNoEmail          = "Email absent: résultat non publié."
	MsgEventPublished        = "Résultat publié."
	defaultParticipantSlug   = "participant"
	defaultArchiveFileName   = "fichier"
	archiveTimestampReplacer = ":."
)

// Elapsed describes how long a participant spent on an exercise.
type Elapsed struct {
	Ms          *int64 `json:"ms"`
	Formatted   string `json:"formatted"`
	StartedAt   string `json:"startedAt,omitempty"`
	SubmittedAt string `json:"submittedAt,omitempty"`
}

// NewElapsed builds an Elapsed from client-reported values.
func NewElapsed(ms *int64, startedAt, submittedAt string) Elapsed {
	e := Elapsed{Ms: ms, Formatted: MsgElapsedUnavailable, StartedAt: startedAt, SubmittedAt: submittedAt}
	if ms != nil {
		e.Formatted = FormatElapsed(*ms)
	}
	return e
}

// FormatElapsed renders ms as zero-padded "mm:ss", rounded to the second.
func FormatElapsed(ms int64) string {
	if ms <= 0 {
		return MsgElapsedUnavailable
	}
	total := (ms + 500) / 1000
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}

// Participant identifies who submitted an exercise. Email is optional; without
// it no progress is recorded.
type Participant struct {
	FirstName string
	LastName  string
	Email     string
}

// Slug is the archive-safe "first-last" name of p.
func (p Participant) Slug() string {
	s := textx.SafeSlug(strings.TrimSpace(p.FirstName) + "-" + strings.TrimSpace(p.LastName))
	if s == "" {
		return defaultParticipantSlug
	}
	return s
}

// Recorder runs the best-effort side effects that follow a scored submission:
// archiving, progress tracking and event publication. Every dependency is
// optional and no failure is ever returned to the caller.
type Recorder struct {
	Archive  domain.ArchiveStore
	Progress *ProgressService
	Events   domain.EventPublisher
	Now      func() time.Time
	NewID    func() string
}

func (r Recorder) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r Recorder) newID() string {
	if r.NewID != nil {
		return r.NewID()
	}
	return uuid.NewString()
}

// ArchiveKey returns "<prefix>/<timestamp>-<name>" where the timestamp is the
// UTC ISO-8601 instant with ':' and '.' replaced by '-'.
func ArchiveKey(prefix string, at time.Time, name string) string {
	stamp := strings.Map(func(r rune) rune {
		if strings.ContainsRune(archiveTimestampReplacer, r) {
			return '-'
		}
		return r
	}, FormatTimestamp(at))
	return prefix + "/" + stamp + "-" + name
}

// ArchiveFileName keeps the extension of name and slugs the rest.
func ArchiveFileName(name string) string {
	base := filepath.Base(strings.TrimSpace(name))
	ext := strings.ToLower(filepath.Ext(base))
	if e := strings.TrimPrefix(ext, "."); e == "" || textx.SafeSlug(e) != e {
		ext = ""
	}
	stem := textx.SafeSlug(strings.TrimSuffix(base, filepath.Ext(base)))
	if stem == "" {
		stem = defaultArchiveFileName
	}
	return stem + ext
}

func (r Recorder) archive(ctx domain.Context, key string, content []byte, contentType string, metadata map[string]string) domain.Bookkeeping {
	if r.Archive == nil {
		return domain.Bookkeeping{Success: false, Message: MsgArchiveDisabled}
	}
	if err := r.Archive.Put(ctx, key, content, contentType, metadata); err != nil {
		observability.FailBookkeeping("archive")
		observability.LoggerFromContext(ctx).Warn("archive failed", slog.String("key", key), slog.Any("error", err))
		return domain.Bookkeeping{Success: false, Message: MsgArchiveFailed}
	}
	return domain.Bookkeeping{Success: true, Location: key}
}

func (r Recorder) progress(ctx domain.Context, who Participant, module string, score float64, elapsedMs *int64, at time.Time) domain.Bookkeeping {
	if r.Progress == nil {
		return domain.Bookkeeping{Success: false, Message: MsgProgressDisabled}
	}
	if strings.TrimSpace(who.Email) == "" {
		return domain.Bookkeeping{Success: false, Message: MsgProgressNoEmail}
	}
	s := domain.Round1(score)
	update := domain.ModuleUpdate{Status: domain.StatusCompleted, Score: &s, ElapsedMs: elapsedMs, At: at}
	if _, err := r.Progress.Update(ctx, who.Email, who.FirstName, who.LastName, map[string]domain.ModuleUpdate{module: update}); err != nil {
		observability.FailBookkeeping("progress")
		observability.LoggerFromContext(ctx).Warn("progress update failed", slog.String("module", module), slog.Any("error", err))
		return domain.Bookkeeping{Success: false, Message: MsgProgressFailed}
	}
	return domain.Bookkeeping{Success: true, Message: MsgProgressSaved}
}

func (r Recorder) publish(ctx domain.Context, who Participant, module string, score float64, summary string, at time.Time) domain.Bookkeeping {
	if r.Events == nil {
		return domain.Bookkeeping{Success: false, Message: MsgEventsDisabled}
	}
	if strings.TrimSpace(who.Email) == "" {
		return domain.Bookkeeping{Success: false, Message: MsgEventNoEmail}
	}
	ev := domain.SubmissionEvent{
		ID:          r.newID(),
		Module:      module,
		Email:       domain.NormalizeEmail(who.Email),
		FirstName:   strings.TrimSpace(who.FirstName),
		LastName:    strings.TrimSpace(who.LastName),
		Score:       domain.Round1(score),
		Summary:     summary,
		SubmittedAt: at.UTC(),
	}
	if err := r.Events.Publish(ctx, ev); err != nil {
		observability.FailBookkeeping("event")
		observability.LoggerFromContext(ctx).Warn("event publish failed", slog.String("module", module), slog.Any("error", err))
		return domain.Bookkeeping{Success: false, Message: MsgEventFailed}
	}
	return domain.Bookkeeping{Success: true, Location: ev.ID, Message: MsgEventPublished}
}

// parseInstant reads an RFC 3339 timestamp sent by a client, falling back to fallback.
func parseInstant(s string, fallback time.Time) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return fallback
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t
	}
	return fallback
}
