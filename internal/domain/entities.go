package domain

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument        = errors.New("invalid argument")
	ErrNotFound               = errors.New("not found")
	ErrOracleUnavailable      = errors.New("oracle unavailable")
	ErrOracleMalformed        = errors.New("oracle malformed output")
	ErrUpstreamTimeout        = fmt.Errorf("upstream timeout: %w", ErrOracleUnavailable)
	ErrUpstreamRateLimit      = fmt.Errorf("upstream rate limit: %w", ErrOracleUnavailable)
	ErrPersistenceUnavailable = errors.New("persistence unavailable")
	ErrInternal               = errors.New("internal error")
)

// Extra is one supplementary expected sub-field of a reference entry.
type Extra struct {
	Key   string `json:"key" yaml:"key"`
	Value string `json:"value" yaml:"value"`
}

// ReferenceEntry is one expected section of the extraction rubric.
// Order of entries is significant: it drives output order and batching.
type ReferenceEntry struct {
	Section  string
	Expected string
	Extras   []Extra
}

// UserEntry is one non-empty data row of an uploaded workbook.
type UserEntry struct {
	Section string
	Value   string
	Notes   string
}

// ComparisonIssue is one scored finding. Score is within [0,100].
type ComparisonIssue struct {
	Section         string  `json:"section"`
	Score           float64 `json:"score"`
	Message         string  `json:"message"`
	ExpectedSnippet string  `json:"expectedSnippet"`
	ReceivedSnippet string  `json:"receivedSnippet"`
}

// ComparisonResult is the outcome of comparing a submission with the reference set.
type ComparisonResult struct {
	Score   float64           `json:"score"`
	Details []ComparisonIssue `json:"details"`
}

// Ranked returns a copy of the details ordered worst first. Ties keep their
// original relative order.
func (r ComparisonResult) Ranked() []ComparisonIssue {
	out := make([]ComparisonIssue, len(r.Details))
	copy(out, r.Details)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score < out[j].Score })
	return out
}

// Speaker identifies the author of a conversation turn.
type Speaker string

const (
	SpeakerUser      Speaker = "user"
	SpeakerAssistant Speaker = "assistant"
)

// ConversationTurn is one contiguous stretch of transcript attributed to a single speaker.
// Lines holds the original trimmed input lines; Text the content with speaker markers removed.
type ConversationTurn struct {
	Index         int      `json:"index"`
	Speaker       Speaker  `json:"speaker"`
	Text          string   `json:"text"`
	Lines         []string `json:"-"`
	Words         []string `json:"-"`
	WordCount     int      `json:"wordCount"`
	Sentences     int      `json:"sentences"`
	QuestionMarks int      `json:"questionMarks"`
}

// TranscriptStats aggregates counts over all turns.
type TranscriptStats struct {
	TotalTurns      int `json:"totalTurns"`
	UserTurns       int `json:"userTurns"`
	AssistantTurns  int `json:"assistantTurns"`
	UserWords       int `json:"userWords"`
	UniqueUserWords int `json:"uniqueUserWords"`
	QuestionMarks   int `json:"questionMarks"`
}

// Transcript is a segmented conversation.
type Transcript struct {
	Turns    []ConversationTurn `json:"turns"`
	Stats    TranscriptStats    `json:"stats"`
	Language string             `json:"language"`
}

// Collaboration category keys, in presentation order.
const (
	CategoryClarity    = "clarity"
	CategoryDialogue   = "dialogue"
	CategoryAdvice     = "advice"
	CategoryReaction   = "reaction"
	CategoryRichness   = "richness"
	CategoryDelegation = "delegation"
)

// CollaborationCategories lists the six category keys in presentation order.
var CollaborationCategories = []string{
	CategoryClarity, CategoryDialogue, CategoryAdvice,
	CategoryReaction, CategoryRichness, CategoryDelegation,
}

// CollaborationScoreCategory is one qualitative sub-score within [0,5].
type CollaborationScoreCategory struct {
	Label   string  `json:"label"`
	Score   float64 `json:"score"`
	Comment string  `json:"comment"`
	Example string  `json:"example,omitempty"`
}

// CollaborationAdvice groups feedback derived from category scores.
type CollaborationAdvice struct {
	Strengths    []string `json:"strengths"`
	Improvements []string `json:"improvements"`
	Tips         []string `json:"tips"`
}

// ScoreSource records which strategy produced a collaboration result.
type ScoreSource string

const (
	SourceHeuristic ScoreSource = "heuristic"
	SourceOracle    ScoreSource = "oracle"
)

// CollaborationResult holds the six category scores and their mean.
type CollaborationResult struct {
	Scores  map[string]CollaborationScoreCategory `json:"scores"`
	Overall float64                               `json:"overall"`
	Advice  CollaborationAdvice                   `json:"advice"`
	Source  ScoreSource                           `json:"source"`
	Stats   TranscriptStats                       `json:"metrics"`
}

// Legal question identifiers.
const (
	QuestionQ1 = "Q1"
	QuestionQ2 = "Q2"
	QuestionQ3 = "Q3"
)

// LegalQuestions lists the graded question ids in order.
var LegalQuestions = []string{QuestionQ1, QuestionQ2, QuestionQ3}

// LegalAnswerDetail is the graded outcome of one free-text answer.
type LegalAnswerDetail struct {
	QuestionID      string  `json:"questionId"`
	Score           float64 `json:"score"`
	Comment         string  `json:"comment"`
	ExpectedSnippet string  `json:"expectedSnippet"`
	ReceivedSnippet string  `json:"receivedSnippet"`
}

// LegalResult is the overall legal grading outcome.
type LegalResult struct {
	Score   float64             `json:"score"`
	Details []LegalAnswerDetail `json:"details"`
}

// CanvasDetection is the outcome of a screenshot verification.
type CanvasDetection struct {
	CanvasDetected bool    `json:"canvasDetected"`
	Confidence     float64 `json:"confidence"`
	Evidence       string  `json:"evidence"`
}

// Progress modules tracked per participant.
const (
	ModuleExtraction    = "module1"
	ModuleCollaboration = "module2"
	ModuleLegal         = "module3"
	ModuleCanvas        = "module4"

	StatusPending   = "pending"
	StatusCompleted = "completed"
)

// ProgressModules lists the tracked module ids in column order.
var ProgressModules = []string{ModuleExtraction, ModuleCollaboration, ModuleLegal, ModuleCanvas}

// IsProgressModule reports whether id names a tracked module.
func IsProgressModule(id string) bool {
	for _, m := range ProgressModules {
		if m == id {
			return true
		}
	}
	return false
}

// NormalizeEmail returns the progress-store key for an email address.
func NormalizeEmail(email string) string { return strings.ToLower(strings.TrimSpace(email)) }

// NewProgress returns an empty row with every module pending.
func NewProgress(email, firstName, lastName string) Progress {
	p := Progress{
		Email:     NormalizeEmail(email),
		FirstName: strings.TrimSpace(firstName),
		LastName:  strings.TrimSpace(lastName),
		Modules:   make(map[string]ModuleProgress, len(ProgressModules)),
	}
	for _, m := range ProgressModules {
		p.Modules[m] = ModuleProgress{Status: StatusPending}
	}
	return p
}

// ModuleProgress is the stored state of one module for one participant.
type ModuleProgress struct {
	Status    string     `json:"status"`
	Score     *float64   `json:"score"`
	ElapsedMs *int64     `json:"elapsedMs"`
	UpdatedAt *time.Time `json:"updatedAt"`
}

// Progress is a participant's row in the progress store.
type Progress struct {
	Email     string                    `json:"email"`
	FirstName string                    `json:"firstName"`
	LastName  string                    `json:"lastName"`
	Modules   map[string]ModuleProgress `json:"modules"`
}

// ModuleUpdate carries the fields to change for one module. Nil fields are left untouched.
type ModuleUpdate struct {
	Status    string
	Score     *float64
	ElapsedMs *int64
	At        time.Time
}

// Bookkeeping reports the outcome of a best-effort side effect (archive, progress, event).
type Bookkeeping struct {
	Success  bool   `json:"success"`
	Location string `json:"location,omitempty"`
	Message  string `json:"message,omitempty"`
}

// SubmissionEvent is published after a submission has been scored.
type SubmissionEvent struct {
	ID          string    `json:"id"`
	Module      string    `json:"module"`
	Email       string    `json:"email,omitempty"`
	FirstName   string    `json:"firstName"`
	LastName    string    `json:"lastName"`
	Score       float64   `json:"score"`
	Summary     string    `json:"summary"`
	SubmittedAt time.Time `json:"submittedAt"`
}

// OracleRequest is one call to the grading oracle.
type OracleRequest struct {
	System    string
	Prompt    string
	Image     []byte
	ImageMIME string
	MaxTokens int
}

// Ports

// Oracle is the external generative grading backend. Its output is untrusted free text.
type Oracle interface {
	Complete(ctx Context, req OracleRequest) (string, error)
}

// ReadinessReporter is an optional Oracle capability used to probe availability
// without issuing a request.
type ReadinessReporter interface {
	Ready() bool
}

// ProgressStore persists one row per participant, keyed by normalized email.
type ProgressStore interface {
	FindOrCreate(ctx Context, email, firstName, lastName string) (Progress, error)
	Save(ctx Context, p Progress) error
}

// ArchiveStore keeps raw submission artifacts for audit.
type ArchiveStore interface {
	Put(ctx Context, key string, content []byte, contentType string, metadata map[string]string) error
}

// EventPublisher emits scored-submission events.
type EventPublisher interface {
	Publish(ctx Context, ev SubmissionEvent) error
}

// Round1 rounds v to one decimal.
func Round1(v float64) float64 { return math.Round(v*10) / 10 }

// Context is an alias so adapters and usecases pass context.Context through the domain.
type Context = context.Context
