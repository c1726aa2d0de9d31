// Package responses writes the API's JSON envelopes: {"data": ...} on success
// and {"error": {"code", "message", "details"}} on failure.
package responses

import (
	"context"
	"encoding/json"
	"net/http"

	zlog "github.com/rs/zerolog/log"

	pkgerrors "github.com/angelmondragon/confops/pkg/errors"
	"github.com/angelmondragon/confops/pkg/logger"
)

type Envelope struct {
	Data any `json:"data"`
}

type Problem struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type ErrorEnvelope struct {
	Error Problem `json:"error"`
}

func WriteSuccess(w http.ResponseWriter, data any) {
	WriteSuccessStatus(w, http.StatusOK, data)
}

func WriteSuccessStatus(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, Envelope{Data: data})
}

// WriteError maps err onto its code's status. Client faults log at warn;
// server faults log at error with the full chain and any Postgres detail.
func WriteError(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, err error) {
	typed := classify(err)
	meta := pkgerrors.MetadataFor(typed.Code())

	problem := Problem{Code: string(typed.Code()), Message: pkgerrors.PublicMessage(typed)}
	if meta.DetailsAllowed {
		problem.Details = typed.Details()
	}

	if logg != nil {
		logCtx := logg.WithFields(ctx, pkgerrors.Describe(err).Fields())
		if meta.HTTPStatus >= http.StatusInternalServerError {
			logg.Error(logCtx, "request failed", err)
		} else {
			logg.Warn(logg.WithField(logCtx, "error", typed.Error()), "request rejected")
		}
	}

	writeJSON(w, meta.HTTPStatus, ErrorEnvelope{Error: problem})
}

// classify gives untyped errors a code. A unique violation that escaped the
// service layer is still the client's conflict, not a server fault.
func classify(err error) *pkgerrors.Error {
	if typed := pkgerrors.As(err); typed != nil {
		return typed
	}
	if pkgerrors.IsUniqueViolation(err) {
		return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "")
	}
	return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zlog.Error().Err(err).Int("status", status).Msg("response encode failed")
	}
}
