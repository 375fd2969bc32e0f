package scoring

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/dlegrain/EVAL-COSEP/internal/domain"
	"github.com/dlegrain/EVAL-COSEP/pkg/textx"
)

// MsgNotAnalyzed marks an item the oracle did not return.
const MsgNotAnalyzed = "Non analysé"

// DefaultBatchSize keeps each oracle answer well below output truncation.
const DefaultBatchSize = 15

const batchSystemPrompt = "Tu es un correcteur strict et factuel pour une formation de coordonnateur SPS (COSEP). " +
	"Tu réponds uniquement en JSON valide, sans texte autour."

// BatchOptions tunes a BatchComparator. Zero values fall back to defaults.
type BatchOptions struct {
	BatchSize           int
	Parallelism         int
	Timeout             time.Duration
	MaxUserContentChars int
	MaxTokens           int
}

// BatchComparator grades reference items in fixed-size batches with the oracle.
// Every result holds exactly one detail per reference entry, in reference order.
type BatchComparator struct {
	oracle domain.Oracle
	opts   BatchOptions
}

// NewBatchComparator builds a comparator over oracle. A nil oracle is allowed;
// Compare then fails with ErrOracleUnavailable.
func NewBatchComparator(oracle domain.Oracle, opts BatchOptions) *BatchComparator {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = 1
	}
	return &BatchComparator{oracle: oracle, opts: opts}
}

type batchItem struct {
	Section  flexString `json:"section"`
	Score    flexScore  `json:"score"`
	Comment  flexString `json:"comment"`
	Received flexString `json:"received"`
}

// Compare implements Comparator. Any batch failure fails the whole call and
// no partial result is returned.
func (c *BatchComparator) Compare(ctx context.Context, refs []domain.ReferenceEntry, users []domain.UserEntry) (domain.ComparisonResult, error) {
	if c.oracle == nil {
		return domain.ComparisonResult{}, fmt.Errorf("op=scoring.BatchComparator.Compare: oracle not configured: %w", domain.ErrOracleUnavailable)
	}
	if len(refs) == 0 {
		return domain.ComparisonResult{Score: 0, Details: []domain.ComparisonIssue{}}, nil
	}

	content := FlattenUserContent(users, c.opts.MaxUserContentChars)
	batches := lo.Chunk(refs, c.opts.BatchSize)
	graded := make([][]domain.ComparisonIssue, len(batches))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.Parallelism)
	for i, batch := range batches {
		g.Go(func() error {
			issues, err := c.gradeBatch(gctx, i, len(batches), batch, content)
			if err != nil {
				return fmt.Errorf("batch %d/%d: %w", i+1, len(batches), err)
			}
			graded[i] = issues
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return domain.ComparisonResult{}, fmt.Errorf("op=scoring.BatchComparator.Compare: %w", err)
	}

	details := ensureCoverage(refs, lo.Flatten(graded))
	total := lo.SumBy(details, func(d domain.ComparisonIssue) float64 { return d.Score })
	return domain.ComparisonResult{
		Score:   domain.Round1(total / float64(len(refs))),
		Details: details,
	}, nil
}

func (c *BatchComparator) gradeBatch(ctx context.Context, index, count int, batch []domain.ReferenceEntry, content string) ([]domain.ComparisonIssue, error) {
	raw, err := callOracle(ctx, c.oracle, c.opts.Timeout, domain.OracleRequest{
		System:    batchSystemPrompt,
		Prompt:    BuildBatchPrompt(batch, content, index, count),
		MaxTokens: c.opts.MaxTokens,
	})
	if err != nil {
		return nil, err
	}
	items, err := decodeOracleItems[batchItem](raw, "items", "results")
	if err != nil {
		return nil, err
	}
	return repairBatch(batch, items), nil
}

// repairBatch maps oracle items back onto the expected sections. Each expected
// section takes the first unused item with the same label; missing sections
// score 0.
func repairBatch(batch []domain.ReferenceEntry, items []batchItem) []domain.ComparisonIssue {
	used := make([]bool, len(items))
	out := make([]domain.ComparisonIssue, 0, len(batch))
	for _, ref := range batch {
		idx := -1
		for j, it := range items {
			if !used[j] && strings.TrimSpace(it.Section.String()) == ref.Section {
				idx = j
				break
			}
		}
		if idx < 0 {
			out = append(out, notAnalyzed(ref))
			continue
		}
		used[idx] = true
		it := items[idx]
		out = append(out, domain.ComparisonIssue{
			Section:         ref.Section,
			Score:           it.Score.Percent(),
			Message:         truncateComment(it.Comment.String()),
			ExpectedSnippet: ref.Expected,
			ReceivedSnippet: it.Received.String(),
		})
	}
	return out
}

// ensureCoverage rebuilds the detail list in reference order, backfilling any
// section lost across batches.
func ensureCoverage(refs []domain.ReferenceEntry, details []domain.ComparisonIssue) []domain.ComparisonIssue {
	used := make([]bool, len(details))
	out := make([]domain.ComparisonIssue, 0, len(refs))
	for i, ref := range refs {
		if i < len(details) && !used[i] && details[i].Section == ref.Section {
			used[i] = true
			out = append(out, details[i])
			continue
		}
		found := false
		for j, d := range details {
			if !used[j] && d.Section == ref.Section {
				used[j] = true
				out = append(out, d)
				found = true
				break
			}
		}
		if !found {
			out = append(out, notAnalyzed(ref))
		}
	}
	return out
}

func notAnalyzed(ref domain.ReferenceEntry) domain.ComparisonIssue {
	return domain.ComparisonIssue{
		Section:         ref.Section,
		Score:           0,
		Message:         MsgNotAnalyzed,
		ExpectedSnippet: ref.Expected,
	}
}

// FlattenUserContent renders workbook rows as "section: value" lines, capped
// at maxChars runes when maxChars is positive.
func FlattenUserContent(users []domain.UserEntry, maxChars int) string {
	lines := lo.Map(users, func(u domain.UserEntry, _ int) string {
		line := strings.TrimSpace(u.Section) + ": " + strings.TrimSpace(u.Value)
		if n := strings.TrimSpace(u.Notes); n != "" {
			line += " (notes: " + n + ")"
		}
		return line
	})
	out := strings.Join(lines, "\n")
	if maxChars > 0 {
		out = textx.Truncate(out, maxChars)
	}
	return out
}

// BuildBatchPrompt renders the grading instructions for one batch.
func BuildBatchPrompt(batch []domain.ReferenceEntry, content string, index, count int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Lot %d/%d. Compare le contenu fourni par le participant aux %d éléments de référence ci-dessous.\n", index+1, count, len(batch))
	b.WriteString("Pour chaque élément, attribue un score entier de 0 à 100 selon la conformité de l'information trouvée ")
	b.WriteString("(0 = absente ou fausse, 100 = conforme), un commentaire factuel de 140 caractères maximum ")
	b.WriteString("et recopie la valeur trouvée dans le contenu (chaîne vide si rien).\n")
	fmt.Fprintf(&b, "Renvoie exactement %d éléments, dans le même ordre, en recopiant l'intitulé \"section\" à l'identique.\n", len(batch))
	b.WriteString("Format attendu: {\"items\":[{\"section\":\"...\",\"score\":0,\"comment\":\"...\",\"received\":\"...\"}]}\n\n")
	b.WriteString("Éléments de référence:\n")
	for i, ref := range batch {
		fmt.Fprintf(&b, "%d. section=%s | attendu=%s", i+1, strconv.Quote(ref.Section), strconv.Quote(ref.Expected))
		if len(ref.Extras) > 0 {
			b.WriteString(" | compléments=" + strconv.Quote(formatExtras(ref.Extras)))
		}
		b.WriteByte('\n')
	}
	b.WriteString("\nContenu du participant:\n")
	if strings.TrimSpace(content) == "" {
		b.WriteString("(aucun contenu)\n")
	} else {
		b.WriteString(content)
		b.WriteByte('\n')
	}
	return b.String()
}
