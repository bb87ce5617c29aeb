package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"fraudledger/internal/ledger"
	"fraudledger/internal/moderation"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
)

// Handler serves the /v1/ledger JSON API.
type Handler struct {
	svc      *moderation.Service
	validate *validator.Validate
}

// NewHandler creates a Handler backed by svc.
func NewHandler(svc *moderation.Service) *Handler {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{svc: svc, validate: v}
}

// ErrorResponse is the body of every error reply. Kind names the violated
// invariant; Code is set for head-of-queue conflicts.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
	Code  string `json:"code,omitempty"`
}

// errorStatus maps service errors to an HTTP status, kind and optional code.
func errorStatus(err error) (int, string, string) {
	switch {
	case errors.Is(err, moderation.ErrInvalidDecision):
		return http.StatusBadRequest, "invalid_decision", ""
	case errors.Is(err, moderation.ErrNotPermitted):
		return http.StatusForbidden, "not_permitted", ""
	case errors.Is(err, ledger.ErrDuplicateApproved):
		return http.StatusConflict, ledger.Kind(err), ""
	case errors.Is(err, ledger.ErrUnknownReport):
		return http.StatusNotFound, ledger.Kind(err), ""
	case errors.Is(err, ledger.ErrNoPendingReports):
		return http.StatusConflict, ledger.Kind(err), "EMPTY"
	case errors.Is(err, ledger.ErrNotHeadOfQueue):
		return http.StatusConflict, ledger.Kind(err), "MISMATCH"
	case errors.Is(err, ledger.ErrSchemaViolation):
		return http.StatusUnprocessableEntity, ledger.Kind(err), ""
	case errors.Is(err, ledger.ErrStorageFailure):
		return http.StatusServiceUnavailable, ledger.Kind(err), ""
	default:
		return http.StatusInternalServerError, "internal", ""
	}
}

func writeError(w http.ResponseWriter, err error) {
	status, kind, code := errorStatus(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Msg("handlers: unexpected error")
		msg = "internal error"
	}
	writeJSON(w, status, ErrorResponse{Error: msg, Kind: kind, Code: code})
}

// HeaderModerator names the moderator on read endpoints guarded by the roster.
const HeaderModerator = "X-Moderator"

// authorizeView checks perm for the moderator named in X-Moderator. An open
// roster allows every caller.
func (h *Handler) authorizeView(w http.ResponseWriter, r *http.Request, perm moderation.Permission) bool {
	if err := h.svc.Roster().Authorize(r.Header.Get(HeaderModerator), perm); err != nil {
		writeError(w, err)
		return false
	}
	return true
}

func writeBadRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: msg, Kind: "invalid_payload"})
}

// writeJSON encodes and writes a JSON response
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("handlers: failed to encode response")
	}
}

// decodeJSON decodes the request body into target and validates it.
// It writes a 400 and returns false when either step fails.
func (h *Handler) decodeJSON(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, ErrorResponse{Error: "request body too large", Kind: "invalid_payload"})
			return false
		}
		writeBadRequest(w, "invalid JSON")
		return false
	}
	if err := h.validate.Struct(target); err != nil {
		writeBadRequest(w, validationMessage(err))
		return false
	}
	return true
}

// validationMessage flattens validator errors into one line.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s failed %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		} else {
			parts = append(parts, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(parts, "; ")
}
