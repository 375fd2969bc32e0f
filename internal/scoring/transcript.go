package scoring

import (
	"regexp"
	"strings"

	"github.com/abadojack/whatlanggo"

	"github.com/dlegrain/EVAL-COSEP/internal/domain"
)

// Speaker labels, longest first so that "chatgpt said" wins over "chatgpt".
const (
	userLabels      = `you said|vous avez dit|utilisateur|utilisatrice|user|human|humain|participant|moi`
	assistantLabels = `chatgpt said|chatgpt a dit|chatgpt|assistant|gemini|claude|copilot|mistral|bot|ia|ai`
	// Only unambiguous labels split a line; "moi:" or "ia:" mid-sentence is prose.
	inlineLabels = `you said|vous avez dit|utilisateur|user|chatgpt said|chatgpt a dit|chatgpt|assistant`
)

var (
	userPrefix      = regexp.MustCompile(`(?i)^(?:\*\*)?(?:` + userLabels + `)(?:\*\*)?\s*:(?:\*\*)?\s*`)
	assistantPrefix = regexp.MustCompile(`(?i)^(?:\*\*)?(?:` + assistantLabels + `)(?:\*\*)?\s*:(?:\*\*)?\s*`)
	inlineMarker    = regexp.MustCompile(`(?i)([^\s])[ \t]+((?:\*\*)?\b(?:` + inlineLabels + `)\b(?:\*\*)?\s*:)`)
	bulletPrefix    = regexp.MustCompile(`^(?:[-•–]|\*\s|\d+[.)]\s)`)
	wordToken       = regexp.MustCompile(`[\p{L}\p{N}]+`)
	sentenceSplit   = regexp.MustCompile(`[.!?]+`)
)

// ParseTranscript segments a raw conversation into speaker turns and computes
// per-turn and aggregate statistics. It is pure: the same input always
// yields the same output.
func ParseTranscript(raw string) domain.Transcript {
	text := strings.ReplaceAll(raw, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = inlineMarker.ReplaceAllString(text, "$1\n$2")

	var (
		turns   []domain.ConversationTurn
		current *turnBuilder
	)
	closeTurn := func() {
		if current != nil {
			turns = append(turns, current.finish(len(turns)))
			current = nil
		}
	}

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if current != nil && bulletPrefix.MatchString(line) {
			current.add(line, line)
			continue
		}
		speaker, content, ok := detectSpeaker(line)
		if ok {
			closeTurn()
			current = &turnBuilder{speaker: speaker}
			current.add(line, content)
			continue
		}
		if current == nil {
			current = &turnBuilder{speaker: domain.SpeakerUser}
		}
		current.add(line, line)
	}
	closeTurn()

	return domain.Transcript{
		Turns:    turns,
		Stats:    transcriptStats(turns),
		Language: detectLanguage(turns),
	}
}

func detectSpeaker(line string) (domain.Speaker, string, bool) {
	if loc := userPrefix.FindStringIndex(line); loc != nil {
		return domain.SpeakerUser, strings.TrimSpace(line[loc[1]:]), true
	}
	if loc := assistantPrefix.FindStringIndex(line); loc != nil {
		return domain.SpeakerAssistant, strings.TrimSpace(line[loc[1]:]), true
	}
	return "", "", false
}

type turnBuilder struct {
	speaker domain.Speaker
	lines   []string
	content []string
}

func (b *turnBuilder) add(line, content string) {
	b.lines = append(b.lines, line)
	if content != "" {
		b.content = append(b.content, content)
	}
}

func (b *turnBuilder) finish(index int) domain.ConversationTurn {
	text := strings.Join(b.content, "\n")
	words := wordToken.FindAllString(text, -1)
	sentences := 0
	for _, s := range sentenceSplit.Split(text, -1) {
		if strings.TrimSpace(s) != "" {
			sentences++
		}
	}
	return domain.ConversationTurn{
		Index:         index,
		Speaker:       b.speaker,
		Text:          text,
		Lines:         b.lines,
		Words:         words,
		WordCount:     len(words),
		Sentences:     sentences,
		QuestionMarks: strings.Count(text, "?"),
	}
}

func transcriptStats(turns []domain.ConversationTurn) domain.TranscriptStats {
	stats := domain.TranscriptStats{TotalTurns: len(turns)}
	unique := make(map[string]struct{})
	for _, t := range turns {
		stats.QuestionMarks += t.QuestionMarks
		if t.Speaker != domain.SpeakerUser {
			stats.AssistantTurns++
			continue
		}
		stats.UserTurns++
		stats.UserWords += t.WordCount
		for _, w := range t.Words {
			unique[strings.ToLower(w)] = struct{}{}
		}
	}
	stats.UniqueUserWords = len(unique)
	return stats
}

func detectLanguage(turns []domain.ConversationTurn) string {
	var b strings.Builder
	for _, t := range turns {
		b.WriteString(t.Text)
		b.WriteByte('\n')
	}
	if strings.TrimSpace(b.String()) == "" {
		return ""
	}
	info := whatlanggo.Detect(b.String())
	if info.Lang < 0 {
		return ""
	}
	return info.Lang.Iso6391()
}
