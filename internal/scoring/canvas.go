package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dlegrain/EVAL-COSEP/internal/domain"
)

// Confidence reported when the oracle gives none or an out-of-range one.
const (
	DefaultDetectedConfidence    = 0.6
	DefaultNotDetectedConfidence = 0.4
)

const canvasPrompt = `Analyse l'image fournie. Objectif: vérifier si la barre d'entrée de ChatGPT affiche l'outil "Canvas" activable.
Éléments caractéristiques à repérer (tolérance au thème clair/sombre, langues et variantes d'UI):
- libellé bleu « Canvas » situé près d'une petite icône crayon/pinceau scintillant;
- à proximité du bouton "+" à gauche de la zone de saisie et de l'icône micro/bouton d'envoi à droite;
- style: interface ChatGPT avec champ de prompt.

Donne une réponse STRICTEMENT JSON en suivant ce schéma et rien d'autre:
{ "canvasDetected": true|false, "confidence": number (0-1), "evidence": string (<=140 chars) }`

// CanvasVerifier asks the vision oracle whether a screenshot shows the
// Canvas tool in the ChatGPT prompt bar.
type CanvasVerifier struct {
	oracle domain.Oracle
	opts   OracleOptions
}

// NewCanvasVerifier builds a verifier. oracle may be nil; Verify then fails.
func NewCanvasVerifier(oracle domain.Oracle, opts OracleOptions) *CanvasVerifier {
	return &CanvasVerifier{oracle: oracle, opts: opts}
}

type canvasAnswer struct {
	CanvasDetected flexBool   `json:"canvasDetected"`
	Confidence     flexScore  `json:"confidence"`
	Evidence       flexString `json:"evidence"`
}

// Verify inspects image. An answer without a JSON object counts as "not detected".
func (v *CanvasVerifier) Verify(ctx context.Context, image []byte, mimeType string) (domain.CanvasDetection, error) {
	if len(image) == 0 {
		return domain.CanvasDetection{}, fmt.Errorf("op=scoring.CanvasVerifier.Verify: empty image: %w", domain.ErrInvalidArgument)
	}
	if v.oracle == nil {
		return domain.CanvasDetection{}, fmt.Errorf("op=scoring.CanvasVerifier.Verify: oracle not configured: %w", domain.ErrOracleUnavailable)
	}
	raw, err := callOracle(ctx, v.oracle, v.opts.Timeout, domain.OracleRequest{
		Prompt:    canvasPrompt,
		Image:     image,
		ImageMIME: mimeType,
		MaxTokens: v.opts.MaxTokens,
	})
	if err != nil {
		return domain.CanvasDetection{}, fmt.Errorf("op=scoring.CanvasVerifier.Verify: %w", err)
	}
	var ans canvasAnswer
	if obj, ok := ExtractJSONObject(raw); ok {
		// A partly unreadable answer keeps whatever fields decoded.
		_ = json.Unmarshal([]byte(obj), &ans)
	}
	return interpretCanvasAnswer(ans), nil
}

func interpretCanvasAnswer(ans canvasAnswer) domain.CanvasDetection {
	detected := bool(ans.CanvasDetected)
	conf := ans.Confidence.Value
	if !ans.Confidence.Valid || conf < 0 || conf > 1 {
		conf = DefaultNotDetectedConfidence
		if detected {
			conf = DefaultDetectedConfidence
		}
	}
	return domain.CanvasDetection{
		CanvasDetected: detected,
		Confidence:     conf,
		Evidence:       truncateComment(ans.Evidence.String()),
	}
}

// flexBool accepts JSON booleans, "true"/"oui"/"yes" strings and non-zero numbers.
type flexBool bool

func (f *flexBool) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	*f = false
	switch {
	case bytes.Equal(b, []byte("true")):
		*f = true
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err == nil {
			switch strings.ToLower(strings.TrimSpace(s)) {
			case "true", "oui", "yes", "1":
				*f = true
			}
		}
	default:
		var n float64
		if err := json.Unmarshal(b, &n); err == nil && n != 0 {
			*f = true
		}
	}
	return nil
}
