package httpserver

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/dlegrain/EVAL-COSEP/internal/config"
	"github.com/dlegrain/EVAL-COSEP/internal/domain"
	"github.com/dlegrain/EVAL-COSEP/internal/scoring"
	"github.com/dlegrain/EVAL-COSEP/internal/usecase"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")

type memStore struct {
	mu   sync.Mutex
	rows map[string]domain.Progress
}

func (s *memStore) FindOrCreate(_ domain.Context, email, first, last string) (domain.Progress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := domain.NormalizeEmail(email)
	p, ok := s.rows[key]
	if !ok {
		p = domain.NewProgress(email, first, last)
		s.rows[key] = p
	}
	out := p
	out.Modules = make(map[string]domain.ModuleProgress, len(p.Modules))
	for k, v := range p.Modules {
		out.Modules[k] = v
	}
	return out, nil
}

func (s *memStore) Save(_ domain.Context, p domain.Progress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[p.Email] = p
	return nil
}

type gradeFunc func(map[string]string) (domain.LegalResult, error)

func (f gradeFunc) Grade(_ domain.Context, answers map[string]string) (domain.LegalResult, error) {
	return f(answers)
}

type detectFunc func([]byte, string) (domain.CanvasDetection, error)

func (f detectFunc) Verify(_ domain.Context, image []byte, mime string) (domain.CanvasDetection, error) {
	return f(image, mime)
}

type testDeps struct {
	grade  gradeFunc
	detect detectFunc
	cfg    config.Config
}

func newTestServer(t *testing.T, deps testDeps) *Server {
	t.Helper()
	if deps.grade == nil {
		deps.grade = func(map[string]string) (domain.LegalResult, error) {
			return domain.LegalResult{Score: 50, Details: []domain.LegalAnswerDetail{{QuestionID: "Q1", Score: 50}}}, nil
		}
	}
	if deps.detect == nil {
		deps.detect = func(_ []byte, _ string) (domain.CanvasDetection, error) {
			return domain.CanvasDetection{CanvasDetected: true, Confidence: 0.9, Evidence: "Canvas"}, nil
		}
	}
	if deps.cfg.MaxUploadMB == 0 {
		deps.cfg.MaxUploadMB = 1
	}
	if deps.cfg.MaxTranscriptKB == 0 {
		deps.cfg.MaxTranscriptKB = 64
	}
	progress := usecase.ProgressService{Store: &memStore{rows: map[string]domain.Progress{}}, Now: time.Now}
	rec := usecase.Recorder{Progress: &progress}
	refs := []domain.ReferenceEntry{{Section: "Maître d'ouvrage", Expected: "Ville de Lyon"}}
	return NewServer(deps.cfg,
		usecase.NewExtractionService(refs, scoring.LocalComparator{}, rec),
		usecase.NewCollaborationService(nil, scoring.OracleOptions{}, rec),
		usecase.NewLegalService(deps.grade, rec),
		usecase.NewCanvasService(deps.detect, rec),
		progress,
		nil, nil, nil,
	)
}

func workbook(t *testing.T, rows ...[]any) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	for i, row := range rows {
		cellRef, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		row := row
		require.NoError(t, f.SetSheetRow("Sheet1", cellRef, &row))
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

func multipartRequest(t *testing.T, target string, fields map[string]string, fileField, fileName string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if fileField != "" {
		fw, err := mw.CreateFormFile(fileField, fileName)
		require.NoError(t, err)
		_, err = fw.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func jsonRequest(t *testing.T, target string, v any) *http.Request {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, target, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) (string, string) {
	t.Helper()
	var env errorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env.Error.Code, env.Error.Message
}
