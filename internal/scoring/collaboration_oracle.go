package scoring

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dlegrain/EVAL-COSEP/internal/domain"
	"github.com/dlegrain/EVAL-COSEP/pkg/textx"
)

// Strategy selects how a transcript is rated.
type Strategy int

const (
	StrategyHeuristic Strategy = iota
	StrategyOracle
)

func (s Strategy) String() string {
	if s == StrategyOracle {
		return "oracle"
	}
	return "heuristic"
}

// Probe picks the oracle strategy only when an oracle is present and, if it
// reports readiness, says it is ready.
func Probe(oracle domain.Oracle) Strategy {
	if oracle == nil {
		return StrategyHeuristic
	}
	if r, ok := oracle.(domain.ReadinessReporter); ok && !r.Ready() {
		return StrategyHeuristic
	}
	return StrategyOracle
}

// OracleOptions bounds single oracle calls.
type OracleOptions struct {
	Timeout   time.Duration
	MaxTokens int
	// MaxTranscriptChars caps the transcript embedded in the prompt.
	MaxTranscriptChars int
}

// CollaborationScorer rates transcripts with the oracle and falls back to the
// heuristic whenever the oracle is unavailable or its answer is unusable.
type CollaborationScorer struct {
	oracle    domain.Oracle
	opts      OracleOptions
	heuristic HeuristicScorer
}

// NewCollaborationScorer builds a scorer. oracle may be nil.
func NewCollaborationScorer(oracle domain.Oracle, opts OracleOptions) *CollaborationScorer {
	return &CollaborationScorer{oracle: oracle, opts: opts}
}

// Score rates t with the probed strategy and falls back to the heuristic
// when the oracle call fails. onFallback, when set, receives the oracle
// error. A done ctx is returned as an error instead of falling back.
func (s *CollaborationScorer) Score(ctx context.Context, t domain.Transcript, onFallback func(error)) (domain.CollaborationResult, error) {
	res, err := s.ScoreWith(ctx, Probe(s.oracle), t)
	if err == nil {
		return res, nil
	}
	if ctx.Err() != nil {
		return domain.CollaborationResult{}, fmt.Errorf("op=scoring.CollaborationScorer.Score: %w", err)
	}
	if onFallback != nil {
		onFallback(err)
	}
	return s.heuristic.Score(t), nil
}

// ScoreWith rates t with an explicit strategy. Only the oracle strategy can fail.
func (s *CollaborationScorer) ScoreWith(ctx context.Context, strategy Strategy, t domain.Transcript) (domain.CollaborationResult, error) {
	if strategy == StrategyHeuristic {
		return s.heuristic.Score(t), nil
	}
	raw, err := callOracle(ctx, s.oracle, s.opts.Timeout, domain.OracleRequest{
		System:    collaborationSystemPrompt,
		Prompt:    buildCollaborationPrompt(t, s.opts.MaxTranscriptChars),
		MaxTokens: s.opts.MaxTokens,
	})
	if err != nil {
		return domain.CollaborationResult{}, fmt.Errorf("op=scoring.CollaborationScorer.ScoreWith: %w", err)
	}
	res, err := parseCollaborationAnswer(raw, t.Stats)
	if err != nil {
		return domain.CollaborationResult{}, fmt.Errorf("op=scoring.CollaborationScorer.ScoreWith: %w", err)
	}
	return res, nil
}

const collaborationSystemPrompt = "Tu évalues la qualité de collaboration entre un professionnel de la prévention et une IA générative. " +
	"Tu réponds uniquement en JSON valide."

type collaborationCategoryAnswer struct {
	Score   flexScore  `json:"score"`
	Comment flexString `json:"comment"`
	Example flexString `json:"example"`
}

type collaborationAnswer struct {
	Scores map[string]collaborationCategoryAnswer `json:"scores"`
}

func parseCollaborationAnswer(raw string, stats domain.TranscriptStats) (domain.CollaborationResult, error) {
	var ans collaborationAnswer
	if err := decodeOracleObject(raw, &ans); err != nil {
		return domain.CollaborationResult{}, err
	}
	scores := make(map[string]domain.CollaborationScoreCategory, len(domain.CollaborationCategories))
	for _, key := range domain.CollaborationCategories {
		a, ok := ans.Scores[key]
		if !ok || !a.Score.Valid {
			return domain.CollaborationResult{}, fmt.Errorf("category %q missing or unscored: %w", key, domain.ErrOracleMalformed)
		}
		text := categoryTexts[key]
		v := domain.Round1(clamp(a.Score.Value, 0, MaxCategoryScore))
		comment := truncateComment(a.Comment.String())
		if comment == "" {
			comment = text.comment(v)
		}
		scores[key] = domain.CollaborationScoreCategory{
			Label:   text.label,
			Score:   v,
			Comment: comment,
			Example: textx.Truncate(strings.TrimSpace(a.Example.String()), exampleMaxRunes),
		}
	}
	return buildCollaborationResult(scores, domain.SourceOracle, stats), nil
}

func buildCollaborationPrompt(t domain.Transcript, maxChars int) string {
	var b strings.Builder
	b.WriteString("Évalue la conversation ci-dessous selon six critères notés de 0 à 5 (décimales autorisées):\n")
	for _, key := range domain.CollaborationCategories {
		fmt.Fprintf(&b, "- %s: %s\n", key, categoryTexts[key].label)
	}
	b.WriteString("Pour chaque critère, donne un commentaire factuel de 140 caractères maximum et un court extrait de la conversation.\n")
	b.WriteString(`Format attendu: {"scores":{"clarity":{"score":0,"comment":"...","example":"..."}, ...}}` + "\n")
	if t.Language != "" && t.Language != "fr" {
		fmt.Fprintf(&b, "La conversation est en langue %q; rédige tout de même les commentaires en français.\n", t.Language)
	}
	fmt.Fprintf(&b, "Statistiques: %d tours (%d utilisateur, %d IA), %d mots côté utilisateur.\n\n",
		t.Stats.TotalTurns, t.Stats.UserTurns, t.Stats.AssistantTurns, t.Stats.UserWords)
	b.WriteString("Conversation:\n")
	var conv strings.Builder
	for _, turn := range t.Turns {
		who := "Utilisateur"
		if turn.Speaker == domain.SpeakerAssistant {
			who = "IA"
		}
		fmt.Fprintf(&conv, "%s: %s\n", who, turn.Text)
	}
	text := conv.String()
	if maxChars > 0 {
		text = textx.Truncate(text, maxChars)
	}
	b.WriteString(text)
	return b.String()
}
