package scoring

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dlegrain/EVAL-COSEP/internal/domain"
)

func TestCanvasVerifier_Verify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		want domain.CanvasDetection
	}{
		{
			name: "detected",
			raw:  `{"canvasDetected": true, "confidence": 0.92, "evidence": "Libellé Canvas bleu visible"}`,
			want: domain.CanvasDetection{CanvasDetected: true, Confidence: 0.92, Evidence: "Libellé Canvas bleu visible"},
		},
		{
			name: "string_flags_and_bad_confidence",
			raw:  "```json\n{\"canvasDetected\": \"oui\", \"confidence\": 7}\n```",
			want: domain.CanvasDetection{CanvasDetected: true, Confidence: DefaultDetectedConfidence},
		},
		{
			name: "not_detected_without_confidence",
			raw:  `{"canvasDetected": false}`,
			want: domain.CanvasDetection{CanvasDetected: false, Confidence: DefaultNotDetectedConfidence},
		},
		{
			name: "no_json",
			raw:  "Je ne vois rien.",
			want: domain.CanvasDetection{CanvasDetected: false, Confidence: DefaultNotDetectedConfidence},
		},
		{
			name: "string_false_is_false",
			raw:  `{"canvasDetected": "false", "confidence": "0.3"}`,
			want: domain.CanvasDetection{CanvasDetected: false, Confidence: 0.3},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			oracle := staticOracle(tt.raw)
			got, err := NewCanvasVerifier(oracle, OracleOptions{}).Verify(context.Background(), []byte{0x89, 'P', 'N', 'G'}, "image/png")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			require.Equal(t, 1, oracle.calls())
			assert.Equal(t, "image/png", oracle.requests[0].ImageMIME)
			assert.NotEmpty(t, oracle.requests[0].Image)
		})
	}
}

func TestCanvasVerifier_EvidenceTruncated(t *testing.T) {
	t.Parallel()

	raw := `{"canvasDetected": true, "confidence": 1, "evidence": "` + strings.Repeat("é", 300) + `"}`
	got, err := NewCanvasVerifier(staticOracle(raw), OracleOptions{}).Verify(context.Background(), []byte("img"), "image/jpeg")
	require.NoError(t, err)
	assert.Len(t, []rune(got.Evidence), CommentMaxRunes)
}

func TestCanvasVerifier_Errors(t *testing.T) {
	t.Parallel()

	_, err := NewCanvasVerifier(staticOracle("{}"), OracleOptions{}).Verify(context.Background(), nil, "image/png")
	assert.True(t, errors.Is(err, domain.ErrInvalidArgument))

	_, err = NewCanvasVerifier(nil, OracleOptions{}).Verify(context.Background(), []byte("img"), "image/png")
	assert.True(t, errors.Is(err, domain.ErrOracleUnavailable))

	failing := &fakeOracle{answer: func(int, domain.OracleRequest) (string, error) { return "", errors.New("quota") }}
	_, err = NewCanvasVerifier(failing, OracleOptions{}).Verify(context.Background(), []byte("img"), "image/png")
	assert.True(t, errors.Is(err, domain.ErrOracleUnavailable))
}
