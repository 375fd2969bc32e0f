package scoring

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dlegrain/EVAL-COSEP/internal/domain"
)

func speakers(turns []domain.ConversationTurn) []domain.Speaker {
	out := make([]domain.Speaker, len(turns))
	for i, t := range turns {
		out[i] = t.Speaker
	}
	return out
}

func TestParseTranscript_ThreeTurns(t *testing.T) {
	t.Parallel()

	tr := ParseTranscript("User: Bonjour\nAssistant: Salut\nUser: Merci beaucoup")

	require.Len(t, tr.Turns, 3)
	assert.Equal(t, []domain.Speaker{domain.SpeakerUser, domain.SpeakerAssistant, domain.SpeakerUser}, speakers(tr.Turns))
	for i, turn := range tr.Turns {
		assert.Equal(t, i, turn.Index)
		assert.Greater(t, turn.WordCount, 0)
	}
	assert.Equal(t, "Merci beaucoup", tr.Turns[2].Text)
	assert.Equal(t, domain.TranscriptStats{
		TotalTurns: 3, UserTurns: 2, AssistantTurns: 1, UserWords: 3, UniqueUserWords: 3,
	}, tr.Stats)
}

func TestParseTranscript_MarkerVariants(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  []domain.Speaker
		texts []string
	}{
		{
			name:  "french_labels",
			input: "Utilisateur : Peux-tu analyser ce plan ?\nIA : Oui, voici mon analyse.",
			want:  []domain.Speaker{domain.SpeakerUser, domain.SpeakerAssistant},
			texts: []string{"Peux-tu analyser ce plan ?", "Oui, voici mon analyse."},
		},
		{
			name:  "chatgpt_export",
			input: "You said:\nAide-moi à structurer le PGC\nChatGPT said:\nVoici une proposition",
			want:  []domain.Speaker{domain.SpeakerUser, domain.SpeakerAssistant},
			texts: []string{"Aide-moi à structurer le PGC", "Voici une proposition"},
		},
		{
			name:  "bold_markdown",
			input: "**User:** Bonjour\n**Assistant:** Bonjour à vous",
			want:  []domain.Speaker{domain.SpeakerUser, domain.SpeakerAssistant},
			texts: []string{"Bonjour", "Bonjour à vous"},
		},
		{
			name:  "inline_markers_split",
			input: "User: Salut Assistant: Bonjour User: Merci",
			want:  []domain.Speaker{domain.SpeakerUser, domain.SpeakerAssistant, domain.SpeakerUser},
			texts: []string{"Salut", "Bonjour", "Merci"},
		},
		{
			name:  "unprefixed_start_defaults_to_user",
			input: "J'ai besoin d'aide\nAssistant: Bien sûr",
			want:  []domain.Speaker{domain.SpeakerUser, domain.SpeakerAssistant},
			texts: []string{"J'ai besoin d'aide", "Bien sûr"},
		},
		{
			name:  "continuation_and_bullets",
			input: "Assistant: Trois points\n- Moi: pas un marqueur ici\n2. second point\nsuite du texte",
			want:  []domain.Speaker{domain.SpeakerAssistant},
			texts: []string{"Trois points\n- Moi: pas un marqueur ici\n2. second point\nsuite du texte"},
		},
		{
			name:  "prose_colon_not_split",
			input: "User: pour moi: c'est clair",
			want:  []domain.Speaker{domain.SpeakerUser},
			texts: []string{"pour moi: c'est clair"},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			tr := ParseTranscript(tt.input)
			assert.Equal(t, tt.want, speakers(tr.Turns))
			texts := make([]string, len(tr.Turns))
			for i, turn := range tr.Turns {
				texts[i] = turn.Text
			}
			assert.Equal(t, tt.texts, texts)
		})
	}
}

func TestParseTranscript_LinesReproduceInput(t *testing.T) {
	t.Parallel()

	input := "Bonjour, je prépare un chantier.\r\n\r\nUser: Quel est le risque ?\n   \nAssistant: Chute de hauteur.\n- garde-corps\n- filets\nUser: Et le bruit ? Et la poussière ?\n"
	tr := ParseTranscript(input)

	var want []string
	for _, l := range strings.Split(strings.ReplaceAll(input, "\r\n", "\n"), "\n") {
		if s := strings.TrimSpace(l); s != "" {
			want = append(want, s)
		}
	}
	var got []string
	for _, turn := range tr.Turns {
		got = append(got, turn.Lines...)
		assert.Equal(t, strings.Count(turn.Text, "?"), turn.QuestionMarks)
	}
	assert.Equal(t, want, got)
	assert.Equal(t, 3, tr.Stats.QuestionMarks)
}

func TestParseTranscript_TurnStatistics(t *testing.T) {
	t.Parallel()

	tr := ParseTranscript("User: Analyse ce plan. Compare les options ! Pourquoi ?\nAssistant: D'accord.")
	require.Len(t, tr.Turns, 2)

	first := tr.Turns[0]
	assert.Equal(t, []string{"Analyse", "ce", "plan", "Compare", "les", "options", "Pourquoi"}, first.Words)
	assert.Equal(t, 7, first.WordCount)
	assert.Equal(t, 3, first.Sentences)
	assert.Equal(t, 1, first.QuestionMarks)
	assert.Equal(t, 7, tr.Stats.UniqueUserWords)
}

func TestParseTranscript_Empty(t *testing.T) {
	t.Parallel()

	tr := ParseTranscript("  \n\n ")
	assert.Empty(t, tr.Turns)
	assert.Equal(t, domain.TranscriptStats{}, tr.Stats)
	assert.Equal(t, "", tr.Language)
}

func TestParseTranscript_Deterministic(t *testing.T) {
	t.Parallel()

	input := "User: Peux-tu évaluer les risques du chantier ?\nAssistant: Voici une analyse détaillée des risques."
	assert.Equal(t, ParseTranscript(input), ParseTranscript(input))
}

func TestParseTranscript_DetectsFrench(t *testing.T) {
	t.Parallel()

	tr := ParseTranscript("User: Bonjour, pourriez-vous m'aider à préparer le plan général de coordination pour ce chantier de réhabilitation ?\n" +
		"Assistant: Bien sûr, je vais vous proposer une structure complète avec les principaux risques et les mesures de prévention associées.")
	assert.Equal(t, "fr", tr.Language)
}
