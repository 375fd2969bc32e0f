package scoring

import (
	"context"
	"sort"
	"strings"

	"github.com/dlegrain/EVAL-COSEP/internal/domain"
)

// Matching thresholds for the local comparator.
const (
	SectionMatchThreshold = 60.0
	IncompleteBelow       = 70.0
	PartialBelow          = 90.0
	ExtrasConformAt       = 80.0
	UnrecognizedScore     = 50.0
)

// Feedback messages shown to participants.
const (
	MsgAbsent       = "Information absente ou mal identifiée dans le fichier fourni."
	MsgIncomplete   = "Contenu incomplet ou divergences significatives par rapport à la référence."
	MsgPartial      = "Informations partiellement conformes (vérifier les détails et la formulation)."
	MsgUnrecognized = "Section non reconnue dans la référence. Vérifiez l'intitulé ou l'association."
	extrasSuffix    = " — éléments complémentaires"
)

// Comparator scores a workbook submission against the reference set.
type Comparator interface {
	Compare(ctx context.Context, refs []domain.ReferenceEntry, users []domain.UserEntry) (domain.ComparisonResult, error)
}

// LocalComparator matches rows to reference sections by label similarity and
// scores each matched value. It never fails.
type LocalComparator struct{}

// Compare implements Comparator.
func (LocalComparator) Compare(_ context.Context, refs []domain.ReferenceEntry, users []domain.UserEntry) (domain.ComparisonResult, error) {
	return CompareReference(refs, users), nil
}

// CompareReference greedily assigns each reference entry, in reference order,
// the most similar still-unassigned user row. An earlier reference keeps its
// match even if a later one would fit it better.
func CompareReference(refs []domain.ReferenceEntry, users []domain.UserEntry) domain.ComparisonResult {
	consumed := make([]bool, len(users))
	issues := make([]domain.ComparisonIssue, 0, len(refs)+len(users))
	var total float64

	for _, ref := range refs {
		best, bestScore := -1, -1.0
		for i, u := range users {
			if consumed[i] {
				continue
			}
			if s := Similarity(ref.Section, u.Section); s > bestScore {
				best, bestScore = i, s
			}
		}
		if best < 0 || bestScore < SectionMatchThreshold {
			issues = append(issues, domain.ComparisonIssue{
				Section:         ref.Section,
				Score:           0,
				Message:         MsgAbsent,
				ExpectedSnippet: ref.Expected,
			})
			continue
		}
		consumed[best] = true
		matched := users[best]

		field := Similarity(ref.Expected, matched.Value)
		total += field
		switch {
		case field < IncompleteBelow:
			issues = append(issues, fieldIssue(ref, matched, field, MsgIncomplete))
		case field < PartialBelow:
			issues = append(issues, fieldIssue(ref, matched, field, MsgPartial))
		}

		if len(ref.Extras) > 0 {
			issues = append(issues, extrasIssue(ref, field))
		}
	}

	for i, u := range users {
		if consumed[i] {
			continue
		}
		issues = append(issues, domain.ComparisonIssue{
			Section:         u.Section,
			Score:           UnrecognizedScore,
			Message:         MsgUnrecognized,
			ReceivedSnippet: u.Value,
		})
	}

	sort.SliceStable(issues, func(i, j int) bool { return issues[i].Score < issues[j].Score })

	var score float64
	if len(refs) > 0 {
		score = domain.Round1(total / float64(len(refs)))
	}
	return domain.ComparisonResult{Score: score, Details: issues}
}

func fieldIssue(ref domain.ReferenceEntry, u domain.UserEntry, score float64, msg string) domain.ComparisonIssue {
	return domain.ComparisonIssue{
		Section:         ref.Section,
		Score:           domain.Round1(score),
		Message:         msg,
		ExpectedSnippet: ref.Expected,
		ReceivedSnippet: u.Value,
	}
}

func extrasIssue(ref domain.ReferenceEntry, field float64) domain.ComparisonIssue {
	expected := formatExtras(ref.Extras)
	score := domain.Round1(field)
	if field >= ExtrasConformAt {
		score = 100
	}
	return domain.ComparisonIssue{
		Section:         ref.Section + extrasSuffix,
		Score:           score,
		Message:         "Attendu également: " + expected,
		ExpectedSnippet: expected,
	}
}

func formatExtras(extras []domain.Extra) string {
	parts := make([]string, 0, len(extras))
	for _, x := range extras {
		parts = append(parts, x.Key+": "+x.Value)
	}
	return strings.Join(parts, " | ")
}
