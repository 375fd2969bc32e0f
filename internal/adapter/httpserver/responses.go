// Package httpserver contains HTTP handlers and middleware.
//
// It exposes the exercise endpoints (extraction, collaboration, legal,
// canvas), participant progress tracking and the health probes. Handlers only
// decode, validate and map errors; scoring and bookkeeping live in usecase.
package httpserver

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dlegrain/EVAL-COSEP/internal/domain"
)

type errorEnvelope struct {
	Error apiError `json:"error"`
}

type apiError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details"`
}

// Messages shown for server-side failures; the underlying error is only logged.
const (
	msgOracleUnavailable      = "Le service d'évaluation est momentanément indisponible. Réessayez dans quelques instants."
	msgOracleMalformed        = "La réponse du service d'évaluation est inexploitable. Réessayez."
	msgPersistenceUnavailable = "Le stockage est momentanément indisponible."
	msgInternal               = "Erreur serveur."
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, err error, details interface{}) {
	code := http.StatusInternalServerError
	codeStr := "INTERNAL"
	msg := msgInternal
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		code = http.StatusBadRequest
		codeStr = "INVALID_ARGUMENT"
		msg = publicMessage(err, domain.ErrInvalidArgument)
	case errors.Is(err, domain.ErrNotFound):
		code = http.StatusNotFound
		codeStr = "NOT_FOUND"
		msg = publicMessage(err, domain.ErrNotFound)
	case errors.Is(err, domain.ErrUpstreamTimeout):
		code = http.StatusServiceUnavailable
		codeStr = "UPSTREAM_TIMEOUT"
		msg = msgOracleUnavailable
	case errors.Is(err, domain.ErrUpstreamRateLimit):
		code = http.StatusServiceUnavailable
		codeStr = "UPSTREAM_RATE_LIMIT"
		msg = msgOracleUnavailable
	case errors.Is(err, domain.ErrOracleUnavailable):
		code = http.StatusServiceUnavailable
		codeStr = "ORACLE_UNAVAILABLE"
		msg = msgOracleUnavailable
	case errors.Is(err, domain.ErrOracleMalformed):
		code = http.StatusBadGateway
		codeStr = "ORACLE_MALFORMED"
		msg = msgOracleMalformed
	case errors.Is(err, domain.ErrPersistenceUnavailable):
		code = http.StatusServiceUnavailable
		codeStr = "PERSISTENCE_UNAVAILABLE"
		msg = msgPersistenceUnavailable
	}
	if code >= http.StatusInternalServerError {
		LoggerFrom(r).Error("request failed", slog.String("code", codeStr), slog.Any("error", err))
	}
	writeJSON(w, code, errorEnvelope{Error: apiError{Code: codeStr, Message: msg, Details: details}})
}

// publicMessage keeps the text that follows the last occurrence of the
// sentinel, dropping the op= chain in front of it.
func publicMessage(err, sentinel error) string {
	full := err.Error()
	marker := sentinel.Error() + ": "
	if i := strings.LastIndex(full, marker); i >= 0 {
		if rest := strings.TrimSpace(full[i+len(marker):]); rest != "" {
			return rest
		}
	}
	return full
}
