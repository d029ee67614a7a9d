package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"logbook/internal/event"
	"logbook/internal/storage"
	"logbook/internal/tag"
	"logbook/internal/user"
)

// Every failure maps to a stable code and a human-readable message.
type errorBody struct {
	Error errorInfo `json:"error"`
}

type errorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErrorCode(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: errorInfo{Code: code, Message: message}})
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, event.ErrValidation),
		errors.Is(err, tag.ErrValidation),
		errors.Is(err, user.ErrValidation),
		errors.Is(err, storage.ErrTooLarge):
		writeErrorCode(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
	case errors.Is(err, tag.ErrDuplicateName):
		writeErrorCode(w, http.StatusConflict, "DUPLICATE_NAME", err.Error())
	case errors.Is(err, user.ErrDuplicateUsername):
		writeErrorCode(w, http.StatusConflict, "DUPLICATE_USERNAME", err.Error())
	case errors.Is(err, user.ErrDuplicateEmail):
		writeErrorCode(w, http.StatusConflict, "DUPLICATE_EMAIL", err.Error())
	case errors.Is(err, event.ErrNotFound),
		errors.Is(err, tag.ErrNotFound),
		errors.Is(err, user.ErrNotFound):
		writeErrorCode(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, event.ErrInvalidReference):
		writeErrorCode(w, http.StatusUnprocessableEntity, "INVALID_REFERENCE", err.Error())
	case errors.Is(err, event.ErrUpdateFailed):
		writeErrorCode(w, http.StatusInternalServerError, "UPDATE_FAILED", err.Error())
	case errors.Is(err, event.ErrDeleteFailed), errors.Is(err, user.ErrDeleteFailed):
		writeErrorCode(w, http.StatusInternalServerError, "DELETE_FAILED", err.Error())
	default:
		writeErrorCode(w, http.StatusInternalServerError, "INTERNAL_ERROR", "server error")
	}
}

func writeForbidden(w http.ResponseWriter) {
	writeErrorCode(w, http.StatusForbidden, "INSUFFICIENT_PERMISSIONS", "only the creator may do this")
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeErrorCode(w, http.StatusBadRequest, "VALIDATION_ERROR", message)
}
