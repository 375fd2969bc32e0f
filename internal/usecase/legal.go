package usecase

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/samber/lo"

	"github.com/dlegrain/EVAL-COSEP/internal/adapter/observability"
	"github.com/dlegrain/EVAL-COSEP/internal/domain"
)

// LegalGrader scores the three legal answers.
type LegalGrader interface {
	Grade(ctx domain.Context, answers map[string]string) (domain.LegalResult, error)
}

// LegalSubmission holds the free-text answers keyed by question id.
type LegalSubmission struct {
	Participant Participant
	Answers     map[string]string
	ElapsedMs   *int64
	StartedAt   string
	SubmittedAt string
}

// LegalReport is the outcome of a legal submission.
type LegalReport struct {
	Score    float64                    `json:"score"`
	Elapsed  Elapsed                    `json:"elapsed"`
	Details  []domain.LegalAnswerDetail `json:"details"`
	Progress domain.Bookkeeping         `json:"progress"`
	Event    domain.Bookkeeping         `json:"event"`
}

// LegalService grades the legal training answers with the oracle.
type LegalService struct {
	Grader   LegalGrader
	Recorder Recorder
}

// NewLegalService constructs a LegalService.
func NewLegalService(g LegalGrader, rec Recorder) LegalService {
	return LegalService{Grader: g, Recorder: rec}
}

// Submit grades the answers. There is no local fallback: an oracle failure
// fails the submission.
func (s LegalService) Submit(ctx domain.Context, sub LegalSubmission) (LegalReport, error) {
	answers := make(map[string]string, len(domain.LegalQuestions))
	for k, v := range sub.Answers {
		id := strings.ToUpper(strings.TrimSpace(k))
		if lo.Contains(domain.LegalQuestions, id) {
			answers[id] = v
		}
	}
	if len(answers) == 0 {
		return LegalReport{}, fmt.Errorf("%w: Aucune réponse fournie.", domain.ErrInvalidArgument)
	}
	res, err := s.Grader.Grade(ctx, answers)
	if err != nil {
		observability.FailSubmission(ExerciseLegal)
		return LegalReport{}, fmt.Errorf("op=usecase.LegalService.Submit: %w", err)
	}
	observability.ObserveSubmission(ExerciseLegal, res.Score)

	now := s.Recorder.now()
	at := parseInstant(sub.SubmittedAt, now)
	summary := LegalSummary(res)
	report := LegalReport{
		Score:    res.Score,
		Elapsed:  NewElapsed(sub.ElapsedMs, sub.StartedAt, sub.SubmittedAt),
		Details:  res.Details,
		Progress: s.Recorder.progress(ctx, sub.Participant, domain.ModuleLegal, res.Score, sub.ElapsedMs, at),
		Event:    s.Recorder.publish(ctx, sub.Participant, domain.ModuleLegal, res.Score, summary, at),
	}
	observability.LoggerFromContext(ctx).Info("legal answers graded", slog.Float64("score", res.Score))
	return report, nil
}

// LegalSummary lists each question score as "Q1: 80".
func LegalSummary(r domain.LegalResult) string {
	parts := lo.Map(r.Details, func(d domain.LegalAnswerDetail, _ int) string {
		return fmt.Sprintf("%s: %g", d.QuestionID, domain.Round1(d.Score))
	})
	return strings.Join(parts, " | ")
}
