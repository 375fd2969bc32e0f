package scoring

import (
	"sort"

	goahocorasick "github.com/anknown/ahocorasick"

	"github.com/dlegrain/EVAL-COSEP/pkg/textx"
)

// keywordSet counts occurrences of normalized keyword stems with an
// Aho-Corasick automaton. Every pattern starts with a space so that a match
// always begins on a word boundary; a trailing space demands a whole word.
type keywordSet struct {
	machine *goahocorasick.Machine
}

func mustKeywordSet(patterns ...string) keywordSet {
	seen := make(map[string]struct{}, len(patterns))
	uniq := make([]string, 0, len(patterns))
	for _, p := range patterns {
		if _, ok := seen[p]; ok || p == "" {
			continue
		}
		seen[p] = struct{}{}
		uniq = append(uniq, p)
	}
	sort.Strings(uniq)
	runes := make([][]rune, len(uniq))
	for i, p := range uniq {
		runes[i] = []rune(p)
	}
	m := new(goahocorasick.Machine)
	if err := m.Build(runes); err != nil {
		panic("scoring: keyword set: " + err.Error())
	}
	return keywordSet{machine: m}
}

// Count returns the number of pattern hits in text.
func (k keywordSet) Count(text string) int {
	return k.countNormalized(searchable(text))
}

func (k keywordSet) countNormalized(padded []rune) int {
	if len(padded) <= 2 {
		return 0
	}
	return len(k.machine.MultiPatternSearch(padded, false))
}

// Contains reports whether text holds at least one pattern.
func (k keywordSet) Contains(text string) bool {
	padded := searchable(text)
	if len(padded) <= 2 {
		return false
	}
	return len(k.machine.MultiPatternSearch(padded, true)) > 0
}

func searchable(text string) []rune {
	return []rune(" " + textx.Normalize(text) + " ")
}

// Keyword families, accent-free and lower-case as produced by textx.Normalize.
var (
	objectiveKeywords = mustKeywordSet(
		" objectif", " but ", " finalite", " cible", " mission", " attendu", " enjeu", " goal",
	)
	contextKeywords = mustKeywordSet(
		" contexte", " situation", " client", " projet", " chantier", " contrainte", " maitre d ouvrage",
	)
	deliverableKeywords = mustKeywordSet(
		" livrable", " format", " tableau", " rapport", " synthese", " plan ", " note ", " document", " checklist",
	)
	adviceKeywords = mustKeywordSet(
		" conseil", " recommand", " suggere", " suggestion", " alternativ", " option", " que penses",
		" qu en penses", " ton avis", " votre avis", " quelle approche", " pourquoi", " comment ",
		" strategie", " idee", " angle", " risque",
	)
	executionKeywords = mustKeywordSet(
		" resume", " liste", " copie", " recopie", " transcri", " trie ", " trier", " traduis", " traduire",
		" reformule", " corrige", " mets en forme",
	)
	acknowledgementKeywords = mustKeywordSet(
		" merci", " d accord", " je vais", " je retiens", " j applique", " je reprends", " comme propose",
		" bonne idee", " parfait", " excellent", " ok ", " top ", " interessant", " tres bien", " c est note",
		" je valide", " on part sur",
	)
	cognitiveKeywords = mustKeywordSet(
		" analys", " evalu", " structur", " prioris", " compar", " diagnost", " modelis", " critiqu",
		" raisonn", " hierarchis", " argument", " justifi", " arbitr",
	)
)
