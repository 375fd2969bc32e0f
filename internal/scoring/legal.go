package scoring

import (
	"context"
	"fmt"
	"strings"

	"github.com/dlegrain/EVAL-COSEP/internal/config"
	"github.com/dlegrain/EVAL-COSEP/internal/domain"
)

// MsgAnswerAbsent replaces the oracle comment for a blank answer.
const MsgAnswerAbsent = "Information absente"

// LegalGrader scores the three legal free-text answers with a single oracle
// call. There is no local fallback.
type LegalGrader struct {
	oracle domain.Oracle
	rubric config.LegalRubric
	opts   OracleOptions
}

// NewLegalGrader builds a grader over rubric. oracle may be nil; Grade then fails.
func NewLegalGrader(oracle domain.Oracle, rubric config.LegalRubric, opts OracleOptions) *LegalGrader {
	return &LegalGrader{oracle: oracle, rubric: rubric, opts: opts}
}

type legalItem struct {
	QuestionID flexString `json:"questionId"`
	Score      flexScore  `json:"score"`
	Comment    flexString `json:"comment"`
}

// Grade scores answers keyed by question id (Q1, Q2, Q3). Blank answers
// always score 0 whatever the oracle says.
func (g *LegalGrader) Grade(ctx context.Context, answers map[string]string) (domain.LegalResult, error) {
	if g.oracle == nil {
		return domain.LegalResult{}, fmt.Errorf("op=scoring.LegalGrader.Grade: oracle not configured: %w", domain.ErrOracleUnavailable)
	}
	raw, err := callOracle(ctx, g.oracle, g.opts.Timeout, domain.OracleRequest{
		System:    legalSystemPrompt,
		Prompt:    buildLegalPrompt(g.rubric, answers),
		MaxTokens: g.opts.MaxTokens,
	})
	if err != nil {
		return domain.LegalResult{}, fmt.Errorf("op=scoring.LegalGrader.Grade: %w", err)
	}
	items, err := decodeOracleItems[legalItem](raw, "items")
	if err != nil {
		return domain.LegalResult{}, fmt.Errorf("op=scoring.LegalGrader.Grade: %w", err)
	}

	byID := make(map[string]legalItem, len(items))
	for _, it := range items {
		id := strings.ToUpper(strings.TrimSpace(it.QuestionID.String()))
		if _, seen := byID[id]; !seen {
			byID[id] = it
		}
	}

	details := make([]domain.LegalAnswerDetail, 0, len(domain.LegalQuestions))
	var total float64
	for _, id := range domain.LegalQuestions {
		answer := answers[id]
		d := domain.LegalAnswerDetail{QuestionID: id, ReceivedSnippet: answer}
		if q, ok := g.rubric.Question(id); ok {
			d.ExpectedSnippet = strings.TrimSpace(q.Snippet)
		}
		it, found := byID[id]
		switch {
		case strings.TrimSpace(answer) == "":
			d.Score, d.Comment = 0, MsgAnswerAbsent
		case !found:
			d.Score, d.Comment = 0, MsgNotAnalyzed
		default:
			d.Score, d.Comment = it.Score.Percent(), truncateComment(it.Comment.String())
		}
		total += d.Score
		details = append(details, d)
	}
	return domain.LegalResult{
		Score:   domain.Round1(total / float64(len(details))),
		Details: details,
	}, nil
}

const legalSystemPrompt = "Tu es un correcteur pour une formation sécurité sur les chantiers temporaires ou mobiles. " +
	"Tu réponds uniquement en JSON strict."

func buildLegalPrompt(rubric config.LegalRubric, answers map[string]string) string {
	var b strings.Builder
	b.WriteString("Tu évalues 3 réponses libres d'un candidat")
	if c := strings.TrimSpace(rubric.Context); c != "" {
		b.WriteString(" (" + c + ")")
	}
	b.WriteString(". Tu évalues le SENS (synonymes acceptés), pas les mots exacts.\n\n")
	b.WriteString("RÉFÉRENCE (attendus essentiels):\n")
	for _, id := range domain.LegalQuestions {
		q, ok := rubric.Question(id)
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "%s — %s\n", id, q.Title)
		for _, e := range q.Expected {
			b.WriteString("- " + e + "\n")
		}
	}
	b.WriteString("\nRÉPONSES UTILISATEUR:\n")
	for _, id := range domain.LegalQuestions {
		fmt.Fprintf(&b, "%s: %s\n", id, strings.TrimSpace(answers[id]))
	}
	if len(rubric.Scale) > 0 {
		b.WriteString("\nBARÈME SYNTHÉTIQUE:\n")
		for _, s := range rubric.Scale {
			b.WriteString("- " + s + "\n")
		}
	}
	b.WriteString("\nCONSIGNES DE SORTIE STRICTES:\n")
	b.WriteString("- RENDS EXACTEMENT 3 objets dans \"items\", ordre: Q1, Q2, Q3.\n")
	b.WriteString("- Champs par objet: questionId (Q1/Q2/Q3), score (0..100), comment (<=140 caractères).\n")
	b.WriteString("- PAS D'AUTRE CHAMP, PAS DE TEXTE HORS JSON.\n")
	b.WriteString(`Exemple: {"items":[{"questionId":"Q1","score":100,"comment":"Conforme"}]}`)
	return b.String()
}
