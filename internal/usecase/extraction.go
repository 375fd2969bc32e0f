package usecase

import (
	"bytes"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/samber/lo"

	"github.com/dlegrain/EVAL-COSEP/internal/adapter/observability"
	"github.com/dlegrain/EVAL-COSEP/internal/adapter/spreadsheet"
	"github.com/dlegrain/EVAL-COSEP/internal/domain"
	"github.com/dlegrain/EVAL-COSEP/internal/scoring"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// ExtractionSubmission is one uploaded workbook for the extraction exercise.
type ExtractionSubmission struct {
	Participant Participant
	FileName    string
	Content     []byte
	ElapsedMs   *int64
	StartedAt   string
	SubmittedAt string
}

// IssueView is a comparison finding as returned to participants.
type IssueView struct {
	Section  string  `json:"section"`
	Score    float64 `json:"score"`
	Message  string  `json:"message"`
	Expected string  `json:"expected"`
	Received string  `json:"received"`
}

// ExtractionReport is the outcome of an extraction submission.
type ExtractionReport struct {
	Score    float64            `json:"score"`
	Elapsed  Elapsed            `json:"elapsed"`
	Details  []IssueView        `json:"details"`
	Summary  string             `json:"summary"`
	Storage  domain.Bookkeeping `json:"storage"`
	Progress domain.Bookkeeping `json:"progress"`
	Event    domain.Bookkeeping `json:"event"`
}

// ExtractionService grades workbooks against the reference set.
type ExtractionService struct {
	References []domain.ReferenceEntry
	Comparator scoring.Comparator
	Recorder   Recorder
}

// NewExtractionService constructs an ExtractionService. A nil comparator means
// the local comparator.
func NewExtractionService(refs []domain.ReferenceEntry, cmp scoring.Comparator, rec Recorder) ExtractionService {
	if cmp == nil {
		cmp = scoring.LocalComparator{}
	}
	return ExtractionService{References: refs, Comparator: cmp, Recorder: rec}
}

// Submit parses and scores the workbook, then archives it and records progress.
// Scoring is all-or-nothing; bookkeeping failures only show up in the report.
func (s ExtractionService) Submit(ctx domain.Context, sub ExtractionSubmission) (ExtractionReport, error) {
	if strings.TrimSpace(sub.Participant.FirstName) == "" || strings.TrimSpace(sub.Participant.LastName) == "" {
		return ExtractionReport{}, fmt.Errorf("%w: Les champs prénom et nom sont obligatoires.", domain.ErrInvalidArgument)
	}
	if len(sub.Content) == 0 {
		return ExtractionReport{}, fmt.Errorf("%w: Aucun fichier reçu pour analyse.", domain.ErrInvalidArgument)
	}
	users, err := spreadsheet.ParseUserEntries(bytes.NewReader(sub.Content))
	if err != nil {
		observability.FailSubmission(ExerciseExtraction)
		return ExtractionReport{}, fmt.Errorf("op=usecase.ExtractionService.Submit: %w", err)
	}
	result, err := s.Comparator.Compare(ctx, s.References, users)
	if err != nil {
		observability.FailSubmission(ExerciseExtraction)
		return ExtractionReport{}, fmt.Errorf("op=usecase.ExtractionService.Submit: %w", err)
	}
	observability.ObserveSubmission(ExerciseExtraction, result.Score)

	ranked := result.Ranked()
	summary := ExtractionSummary(ranked)
	now := s.Recorder.now()
	at := parseInstant(sub.SubmittedAt, now)

	meta := map[string]string{
		"firstName":   strings.TrimSpace(sub.Participant.FirstName),
		"lastName":    strings.TrimSpace(sub.Participant.LastName),
		"submittedAt": sub.SubmittedAt,
		"score":       strconv.FormatFloat(result.Score, 'f', 1, 64),
	}
	report := ExtractionReport{
		Score:   result.Score,
		Elapsed: NewElapsed(sub.ElapsedMs, sub.StartedAt, sub.SubmittedAt),
		Details: lo.Map(ranked, func(it domain.ComparisonIssue, _ int) IssueView {
			return IssueView{Section: it.Section, Score: it.Score, Message: it.Message, Expected: it.ExpectedSnippet, Received: it.ReceivedSnippet}
		}),
		Summary:  summary,
		Storage:  s.Recorder.archive(ctx, ArchiveKey("reports", now, ArchiveFileName(sub.FileName)), sub.Content, xlsxContentType, meta),
		Progress: s.Recorder.progress(ctx, sub.Participant, domain.ModuleExtraction, result.Score, sub.ElapsedMs, at),
		Event:    s.Recorder.publish(ctx, sub.Participant, domain.ModuleExtraction, result.Score, summary, at),
	}
	observability.LoggerFromContext(ctx).Info("extraction scored",
		slog.Float64("score", result.Score),
		slog.Int("rows", len(users)),
		slog.Int("issues", len(result.Details)))
	return report, nil
}

// ExtractionSummary joins the three worst issues as "section: message".
func ExtractionSummary(ranked []domain.ComparisonIssue) string {
	if len(ranked) == 0 {
		return MsgNoSignificantGap
	}
	parts := lo.Map(lo.Slice(ranked, 0, 3), func(it domain.ComparisonIssue, _ int) string {
		return it.Section + ": " + it.Message
	})
	return strings.Join(parts, " | ")
}
