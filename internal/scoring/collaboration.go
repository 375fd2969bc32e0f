package scoring

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/samber/lo"

	"github.com/dlegrain/EVAL-COSEP/internal/domain"
	"github.com/dlegrain/EVAL-COSEP/pkg/textx"
)

// Category score bounds and advice thresholds.
const (
	MaxCategoryScore  = 5.0
	StrengthAtLeast   = 4.0
	ImprovementBelow  = 3.2
	TipBelow          = 4.0
	exampleMaxRunes   = 140
	longWordMinRunes  = 7
	minimalReplyWords = 6
	longAnswerWords   = 25
)

type categoryText struct {
	label string
	high  string
	mid   string
	low   string
	// highAt and midAt are the tier bounds for the comment.
	highAt, midAt float64
	tip           string
}

var categoryTexts = map[string]categoryText{
	domain.CategoryClarity: {
		label: "Clarté de l’intention", highAt: 4.5, midAt: 3.5,
		high: "Objectif très bien posé et contextualisé.",
		mid:  "Objectif global compris mais peut gagner en précision.",
		low:  "Objectif flou ou mal cadré ; expliciter la finalité et les contraintes.",
		tip:  "Commencer vos échanges par une formulation explicite du livrable attendu et des contraintes.",
	},
	domain.CategoryDialogue: {
		label: "Qualité du dialogue", highAt: 4, midAt: 3,
		high: "Dialogue approfondi avec rebonds fréquents.",
		mid:  "Échanges présents mais gagneraient à être plus soutenus.",
		low:  "Interaction trop courte ou monologique ; multiplier les rebonds.",
		tip:  "Favoriser les relances ciblées : “propose-moi un autre angle”, “que se passe-t-il si…”.",
	},
	domain.CategoryAdvice: {
		label: "Conseils & angles", highAt: 4, midAt: 3,
		high: "Très bonne recherche de points de vue et d’angles.",
		mid:  "Quelques sollicitations d’angles ; pousser davantage la curiosité stratégique.",
		low:  "Peu de demandes de conseils ou d’alternatives ; solliciter l’IA sur ses idées.",
		tip:  "Explorer plusieurs alternatives et demander des comparaisons chiffrées ou argumentées.",
	},
	domain.CategoryReaction: {
		label: "Réaction aux suggestions", highAt: 4, midAt: 3,
		high: "Intégration active des suggestions de l’IA.",
		mid:  "Quelques rebonds sur les propositions ; peut aller plus loin.",
		low:  "Peu d'exploitation des suggestions ; valider ou tester explicitement les pistes.",
		tip:  "Valider ou écarter explicitement les pistes données par l'IA et expliquer vos choix.",
	},
	domain.CategoryRichness: {
		label: "Richesse des requêtes", highAt: 4, midAt: 3,
		high: "Prompts riches, contextualisés et nuancés.",
		mid:  "Bonne base ; ajouter davantage de contexte ou de contraintes.",
		low:  "Prompts trop courts ou génériques ; détailler le contexte et les attentes.",
		tip:  "Préparer vos prompts en listant contexte, contraintes, format attendu avant de solliciter l’IA.",
	},
	domain.CategoryDelegation: {
		label: "Niveau de délégation", highAt: 4, midAt: 3,
		high: "L’IA est sollicitée comme coéquipier cognitif.",
		mid:  "Usage hybride ; continuer à pousser l’IA sur des tâches de raisonnement.",
		low:  "Usage principalement exécutif ; confier des analyses plus complexes à l’IA.",
		tip:  "Confier des tâches analytiques à l’IA (diagnostics, matrices de décision) plutôt que de simples résumés.",
	},
}

// CategoryLabel returns the display label of a collaboration category.
func CategoryLabel(key string) string { return categoryTexts[key].label }

func (c categoryText) comment(score float64) string {
	switch {
	case score >= c.highAt:
		return c.high
	case score >= c.midAt:
		return c.mid
	default:
		return c.low
	}
}

// HeuristicScorer rates a transcript locally from turn statistics and
// keyword matches. It has no external dependency.
type HeuristicScorer struct{}

// Score computes the six category scores, their mean and the derived advice.
func (HeuristicScorer) Score(t domain.Transcript) domain.CollaborationResult {
	users := lo.Filter(t.Turns, func(turn domain.ConversationTurn, _ int) bool {
		return turn.Speaker == domain.SpeakerUser
	})

	raw := map[string]scored{
		domain.CategoryClarity:    clarityScore(users),
		domain.CategoryDialogue:   dialogueScore(t.Stats),
		domain.CategoryAdvice:     adviceScore(users),
		domain.CategoryReaction:   reactionScore(t.Turns),
		domain.CategoryRichness:   richnessScore(users, t.Stats),
		domain.CategoryDelegation: delegationScore(users),
	}
	scores := make(map[string]domain.CollaborationScoreCategory, len(raw))
	for key, s := range raw {
		text := categoryTexts[key]
		v := domain.Round1(clamp(s.value, 0, MaxCategoryScore))
		scores[key] = domain.CollaborationScoreCategory{
			Label:   text.label,
			Score:   v,
			Comment: text.comment(v),
			Example: textx.Truncate(s.example, exampleMaxRunes),
		}
	}
	return buildCollaborationResult(scores, domain.SourceHeuristic, t.Stats)
}

type scored struct {
	value   float64
	example string
}

// buildCollaborationResult derives overall and advice from complete scores.
func buildCollaborationResult(scores map[string]domain.CollaborationScoreCategory, source domain.ScoreSource, stats domain.TranscriptStats) domain.CollaborationResult {
	var sum float64
	advice := domain.CollaborationAdvice{Strengths: []string{}, Improvements: []string{}, Tips: []string{}}
	for _, key := range domain.CollaborationCategories {
		c := scores[key]
		sum += c.Score
		if c.Score >= StrengthAtLeast {
			advice.Strengths = append(advice.Strengths, c.Label+" — "+c.Comment)
		}
		if c.Score < ImprovementBelow {
			advice.Improvements = append(advice.Improvements, c.Label+" — "+c.Comment)
		}
		if c.Score < TipBelow {
			advice.Tips = append(advice.Tips, categoryTexts[key].tip)
		}
	}
	overall := clamp(sum/float64(len(domain.CollaborationCategories)), 0, MaxCategoryScore)
	return domain.CollaborationResult{
		Scores:  scores,
		Overall: math.Round(overall*100) / 100,
		Advice:  advice,
		Source:  source,
		Stats:   stats,
	}
}

// CollaborationSummary lists the three weakest categories as "label: comment".
func CollaborationSummary(r domain.CollaborationResult) string {
	cats := make([]domain.CollaborationScoreCategory, 0, len(r.Scores))
	for _, key := range domain.CollaborationCategories {
		if c, ok := r.Scores[key]; ok {
			cats = append(cats, c)
		}
	}
	sort.SliceStable(cats, func(i, j int) bool { return cats[i].Score < cats[j].Score })
	parts := lo.Map(lo.Slice(cats, 0, 3), func(c domain.CollaborationScoreCategory, _ int) string {
		return c.Label + ": " + c.Comment
	})
	return strings.Join(parts, " | ")
}

// clarity: length of the opening request plus objective, context and
// deliverable cues.
func clarityScore(users []domain.ConversationTurn) scored {
	first, ok := lo.First(users)
	if !ok {
		return scored{value: 1}
	}
	families := 0
	for _, set := range []keywordSet{objectiveKeywords, contextKeywords, deliverableKeywords} {
		if set.Contains(first.Text) {
			families++
		}
	}
	v := 1 + math.Min(float64(first.WordCount)/20, 2) + 0.7*float64(families)
	return scored{value: v, example: first.Text}
}

// dialogue: number of exchanges weighted by user/assistant balance.
func dialogueScore(s domain.TranscriptStats) scored {
	if s.TotalTurns == 0 {
		return scored{}
	}
	balance := 0.0
	if hi := max(s.UserTurns, s.AssistantTurns); hi > 0 {
		balance = float64(min(s.UserTurns, s.AssistantTurns)) / float64(hi)
	}
	v := float64(s.TotalTurns-2) / 2 * (0.5 + 0.5*balance)
	return scored{
		value:   v,
		example: fmt.Sprintf("%d échanges (%d utilisateur / %d IA)", s.TotalTurns, s.UserTurns, s.AssistantTurns),
	}
}

// advice: user turns asking for an opinion or alternatives. A turn with an
// execution request never counts, even when phrased as a question.
func adviceScore(users []domain.ConversationTurn) scored {
	count := 0
	example := ""
	for _, u := range users {
		if executionKeywords.Contains(u.Text) {
			continue
		}
		if u.QuestionMarks > 0 || adviceKeywords.Contains(u.Text) {
			count++
			if example == "" {
				example = u.Text
			}
		}
	}
	return scored{value: float64(count) * 1.5, example: example}
}

// reaction: how the next user turn after each assistant turn picks up the
// suggestion. Consecutive assistant turns are all judged against that same
// user turn.
func reactionScore(turns []domain.ConversationTurn) scored {
	positive, minimal := 0, 0
	example := ""
	for i, a := range turns {
		if a.Speaker != domain.SpeakerAssistant {
			continue
		}
		u, ok := nextUserTurn(turns[i+1:])
		if !ok {
			continue
		}
		switch {
		case isPositiveReaction(a, u):
			positive++
			if example == "" {
				example = u.Text
			}
		case u.WordCount <= minimalReplyWords && a.WordCount > longAnswerWords:
			minimal++
		}
	}
	return scored{value: 1 + float64(positive)*1.2 - float64(minimal)*0.9, example: example}
}

func nextUserTurn(turns []domain.ConversationTurn) (domain.ConversationTurn, bool) {
	for _, t := range turns {
		if t.Speaker == domain.SpeakerUser {
			return t, true
		}
	}
	return domain.ConversationTurn{}, false
}

func isPositiveReaction(assistant, user domain.ConversationTurn) bool {
	if acknowledgementKeywords.Contains(user.Text) {
		return true
	}
	if sharedLongWords(assistant.Words, user.Words) >= 2 {
		return true
	}
	return user.WordCount >= 12 && user.WordCount*2 >= assistant.WordCount
}

func sharedLongWords(a, b []string) int {
	long := func(words []string) map[string]struct{} {
		out := make(map[string]struct{})
		for _, w := range words {
			if len([]rune(w)) >= longWordMinRunes {
				out[textx.Normalize(w)] = struct{}{}
			}
		}
		return out
	}
	set := long(a)
	n := 0
	for w := range long(b) {
		if _, ok := set[w]; ok {
			n++
		}
	}
	return n
}

// richness: average prompt length and lexical diversity. Very short average
// prompts are capped at 2.
func richnessScore(users []domain.ConversationTurn, s domain.TranscriptStats) scored {
	if s.UserTurns == 0 || s.UserWords == 0 {
		return scored{}
	}
	avg := float64(s.UserWords) / float64(s.UserTurns)
	diversity := float64(s.UniqueUserWords) / float64(s.UserWords)
	v := avg/10 + diversity*2
	if avg < 8 {
		v = math.Min(v, 2)
	}
	longest := lo.MaxBy(users, func(a, b domain.ConversationTurn) bool { return a.WordCount > b.WordCount })
	return scored{value: v, example: longest.Text}
}

// delegation: cognitive requests against pure execution requests.
func delegationScore(users []domain.ConversationTurn) scored {
	cognitive, execution := 0, 0
	example := ""
	for _, u := range users {
		c := cognitiveKeywords.Count(u.Text)
		cognitive += c
		execution += executionKeywords.Count(u.Text)
		if c > 0 && example == "" {
			example = u.Text
		}
	}
	return scored{value: 1.5 + float64(cognitive-execution)*0.75, example: example}
}
