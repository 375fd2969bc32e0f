package usecase

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dlegrain/EVAL-COSEP/internal/adapter/observability"
	"github.com/dlegrain/EVAL-COSEP/internal/domain"
)

// MsgCanvasNotDetected explains why progress was left untouched.
const MsgCanvasNotDetected = "Canvas non détecté: progression inchangée."

// CanvasDetector inspects a screenshot for the Canvas tool.
type CanvasDetector interface {
	Verify(ctx domain.Context, image []byte, mimeType string) (domain.CanvasDetection, error)
}

// CanvasSubmission is an uploaded screenshot.
type CanvasSubmission struct {
	Participant Participant
	Image       []byte
	MIMEType    string
	SubmittedAt string
}

// CanvasReport is the outcome of a screenshot verification.
type CanvasReport struct {
	domain.CanvasDetection
	Storage  domain.Bookkeeping `json:"storage"`
	Progress domain.Bookkeeping `json:"progress"`
}

// CanvasService verifies Canvas screenshots and archives the verdict.
type CanvasService struct {
	Detector CanvasDetector
	Recorder Recorder
}

// NewCanvasService constructs a CanvasService.
func NewCanvasService(d CanvasDetector, rec Recorder) CanvasService {
	return CanvasService{Detector: d, Recorder: rec}
}

// Verify asks the vision oracle about the screenshot. The module is marked
// completed only when the Canvas tool was detected.
func (s CanvasService) Verify(ctx domain.Context, sub CanvasSubmission) (CanvasReport, error) {
	if len(sub.Image) == 0 {
		return CanvasReport{}, fmt.Errorf("%w: Aucune image fournie.", domain.ErrInvalidArgument)
	}
	mimeType := strings.TrimSpace(sub.MIMEType)
	if mimeType == "" {
		mimeType = "image/png"
	}
	det, err := s.Detector.Verify(ctx, sub.Image, mimeType)
	if err != nil {
		observability.FailSubmission(ExerciseCanvas)
		return CanvasReport{}, fmt.Errorf("op=usecase.CanvasService.Verify: %w", err)
	}
	score := 0.0
	if det.CanvasDetected {
		score = 100
	}
	observability.ObserveSubmission(ExerciseCanvas, score)

	now := s.Recorder.now()
	report := CanvasReport{CanvasDetection: det}
	proof, err := json.MarshalIndent(det, "", "  ")
	if err != nil {
		return CanvasReport{}, fmt.Errorf("op=usecase.CanvasService.Verify: %w: %w", domain.ErrInternal, err)
	}
	report.Storage = s.Recorder.archive(ctx, ArchiveKey("canvas-proof", now, sub.Participant.Slug()+".json"), proof, "application/json", map[string]string{"type": "json"})
	if det.CanvasDetected {
		report.Progress = s.Recorder.progress(ctx, sub.Participant, domain.ModuleCanvas, score, nil, parseInstant(sub.SubmittedAt, now))
	} else {
		report.Progress = domain.Bookkeeping{Success: false, Message: MsgCanvasNotDetected}
	}
	observability.LoggerFromContext(ctx).Info("canvas screenshot verified",
		slog.Bool("detected", det.CanvasDetected),
		slog.Float64("confidence", det.Confidence))
	return report, nil
}
