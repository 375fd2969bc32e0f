package httpserver

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"

	"github.com/dlegrain/EVAL-COSEP/internal/domain"
)

const (
	xlsxMIME    = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	maxJSONBody = 1 << 20
)

var allowedImageMIME = []string{"image/png", "image/jpeg", "image/webp"}

var (
	vldOnce sync.Once
	vld     *validator.Validate
)

func getValidator() *validator.Validate {
	vldOnce.Do(func() {
		vld = validator.New(validator.WithRequiredStructEnabled())
		vld.RegisterTagNameFunc(func(f reflect.StructField) string { return jsonName(f.Tag.Get("json")) })
	})
	return vld
}

func jsonName(tag string) string {
	name, _, _ := strings.Cut(tag, ",")
	if name == "-" {
		return ""
	}
	return name
}

// validateStruct runs struct validation and returns field -> failed tag details.
func validateStruct(v any) (map[string]string, error) {
	err := getValidator().Struct(v)
	if err == nil {
		return nil, nil
	}
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
	}
	details := make(map[string]string, len(ve))
	for _, fe := range ve {
		ns := fe.Namespace()
		if i := strings.Index(ns, "."); i >= 0 {
			ns = ns[i+1:]
		}
		details[ns] = fe.Tag()
	}
	return details, fmt.Errorf("%w: Requête invalide.", domain.ErrInvalidArgument)
}

// decodeJSON reads a size-capped JSON body into dst and validates it.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) (map[string]string, error) {
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.Contains(ct, "application/json") {
		return nil, fmt.Errorf("%w: content-type must be application/json", domain.ErrInvalidArgument)
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, fmt.Errorf("%w: Requête trop volumineuse.", domain.ErrInvalidArgument)
		}
		return nil, fmt.Errorf("%w: JSON invalide.", domain.ErrInvalidArgument)
	}
	return validateStruct(dst)
}

// acceptsJSON reports whether the client accepts a JSON response.
func acceptsJSON(r *http.Request) bool {
	a := r.Header.Get("Accept")
	return a == "" || strings.Contains(a, "*/*") || strings.Contains(a, "application/json") || strings.Contains(a, "application/*")
}

// sniffWorkbook checks that data looks like an .xlsx workbook. Some writers
// order zip entries so that only the generic zip signature is recognised;
// the .xlsx extension is then required.
func sniffWorkbook(data []byte, fileName string) (string, bool) {
	m := mimetype.Detect(data)
	if m.Is(xlsxMIME) {
		return m.String(), true
	}
	if m.Is("application/zip") && strings.HasSuffix(strings.ToLower(fileName), ".xlsx") {
		return m.String(), true
	}
	return m.String(), false
}

// sniffImage returns the detected image type when it is allowed.
func sniffImage(data []byte) (string, bool) {
	m := mimetype.Detect(data)
	for _, allowed := range allowedImageMIME {
		if m.Is(allowed) {
			return allowed, true
		}
	}
	return m.String(), false
}

// instant is a client timestamp sent either as an RFC 3339 string or as
// epoch milliseconds.
type instant struct {
	time.Time
	raw string
}

func (t *instant) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		return t.parse(s)
	}
	ms, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return fmt.Errorf("invalid timestamp %s", b)
	}
	t.Time = time.UnixMilli(int64(ms)).UTC()
	t.raw = t.Time.Format(time.RFC3339Nano)
	return nil
}

func (t *instant) parse(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		t.Time = time.UnixMilli(ms).UTC()
		t.raw = t.Time.Format(time.RFC3339Nano)
		return nil
	}
	parsed, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return fmt.Errorf("invalid timestamp %q", s)
	}
	t.Time, t.raw = parsed, s
	return nil
}

// String returns the timestamp as received, normalised to RFC 3339 for epoch input.
func (t instant) String() string { return t.raw }
