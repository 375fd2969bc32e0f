package usecase

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/dlegrain/EVAL-COSEP/internal/adapter/observability"
	"github.com/dlegrain/EVAL-COSEP/internal/domain"
	"github.com/dlegrain/EVAL-COSEP/internal/scoring"
)

// CollaborationSubmission is a pasted conversation transcript.
type CollaborationSubmission struct {
	Participant     Participant
	Transcript      string
	ExtractionScore *float64
	SubmittedAt     string
}

// CollaborationMetrics are the transcript counters echoed back to the participant.
type CollaborationMetrics struct {
	domain.TranscriptStats
	Language        string   `json:"language,omitempty"`
	ExtractionScore *float64 `json:"extractionScore"`
}

// CollaborationReport is the outcome of a collaboration submission.
type CollaborationReport struct {
	Overall  float64                                      `json:"overall"`
	Scores   map[string]domain.CollaborationScoreCategory `json:"scores"`
	Advice   domain.CollaborationAdvice                   `json:"advice"`
	Source   domain.ScoreSource                           `json:"source"`
	Metrics  CollaborationMetrics                         `json:"metrics"`
	Summary  string                                       `json:"summary"`
	Storage  domain.Bookkeeping                           `json:"storage"`
	Progress domain.Bookkeeping                           `json:"progress"`
	Event    domain.Bookkeeping                           `json:"event"`
}

// CollaborationService rates how a participant worked with an assistant.
type CollaborationService struct {
	Oracle   domain.Oracle
	Scorer   *scoring.CollaborationScorer
	Recorder Recorder
}

// NewCollaborationService constructs a CollaborationService. oracle may be nil,
// in which case every transcript is rated by the heuristic scorer.
func NewCollaborationService(oracle domain.Oracle, opts scoring.OracleOptions, rec Recorder) CollaborationService {
	return CollaborationService{Oracle: oracle, Scorer: scoring.NewCollaborationScorer(oracle, opts), Recorder: rec}
}

// Submit rates the transcript, falling back to the heuristic scorer whenever
// the oracle cannot produce a usable answer.
func (s CollaborationService) Submit(ctx domain.Context, sub CollaborationSubmission) (CollaborationReport, error) {
	if strings.TrimSpace(sub.Participant.FirstName) == "" ||
		strings.TrimSpace(sub.Participant.LastName) == "" ||
		strings.TrimSpace(sub.Transcript) == "" {
		return CollaborationReport{}, fmt.Errorf("%w: Champs requis manquants (prénom, nom, transcript).", domain.ErrInvalidArgument)
	}
	lg := observability.LoggerFromContext(ctx)
	t := scoring.ParseTranscript(sub.Transcript)
	strategy := scoring.Probe(s.Oracle)
	res, err := s.Scorer.Score(ctx, t, func(err error) {
		observability.ScoringFallbacksTotal.WithLabelValues(ExerciseCollaboration).Inc()
		lg.Warn("collaboration oracle failed, using heuristic scorer", slog.Any("error", err))
	})
	if err != nil {
		observability.FailSubmission(ExerciseCollaboration)
		return CollaborationReport{}, fmt.Errorf("op=usecase.CollaborationService.Submit: %w", err)
	}
	observability.ObserveSubmission(ExerciseCollaboration, res.Overall*20)

	summary := scoring.CollaborationSummary(res)
	now := s.Recorder.now()
	at := parseInstant(sub.SubmittedAt, now)
	who := sub.Participant
	meta := map[string]string{
		"firstName": strings.TrimSpace(who.FirstName),
		"lastName":  strings.TrimSpace(who.LastName),
		"source":    string(res.Source),
	}
	report := CollaborationReport{
		Overall: res.Overall,
		Scores:  res.Scores,
		Advice:  res.Advice,
		Source:  res.Source,
		Metrics: CollaborationMetrics{
			TranscriptStats: res.Stats,
			Language:        t.Language,
			ExtractionScore: sub.ExtractionScore,
		},
		Summary:  summary,
		Storage:  s.Recorder.archive(ctx, ArchiveKey("collaboration", now, who.Slug()+".txt"), []byte(sub.Transcript), "text/plain; charset=utf-8", meta),
		Progress: s.Recorder.progress(ctx, who, domain.ModuleCollaboration, res.Overall*20, nil, at),
		Event:    s.Recorder.publish(ctx, who, domain.ModuleCollaboration, res.Overall*20, summary, at),
	}
	lg.Info("collaboration scored",
		slog.String("strategy", strategy.String()),
		slog.String("source", string(res.Source)),
		slog.Float64("overall", res.Overall),
		slog.Int("turns", res.Stats.TotalTurns))
	return report, nil
}
