package app

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"github.com/hay-kot/criterio"

	"akademik/api/internal/editor"
	"akademik/api/internal/flight"
	"akademik/api/internal/gitrepo"
	"akademik/api/internal/llm"
	"akademik/api/internal/store"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func notFound(message string) *DomainError {
	return domainError(http.StatusNotFound, "NOT_FOUND", message, nil)
}

// validationError converts criterio field errors into a 422 with one detail
// entry per field.
func validationError(err error) error {
	var fieldErrs criterio.FieldErrors
	if !errors.As(err, &fieldErrs) {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
	}
	details := make(map[string]string, len(fieldErrs))
	for _, fe := range fieldErrs {
		details[fe.Field] = fe.Err.Error()
	}
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Validation failed", details)
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}

	var validationErr *editor.ValidationError
	if errors.As(err, &validationErr) {
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", validationErr.Message, map[string]string{validationErr.Field: validationErr.Message}
	}
	if errors.Is(err, editor.ErrInFlight) || errors.Is(err, flight.ErrHeld) {
		return http.StatusConflict, "GENERATION_IN_PROGRESS", editor.MsgInFlight, nil
	}
	if errors.Is(err, editor.ErrAcceptInFlight) {
		return http.StatusConflict, "ACCEPT_IN_PROGRESS", editor.MsgAcceptInFlight, nil
	}

	var collabErr *editor.CollaboratorError
	if errors.As(err, &collabErr) {
		switch collabErr.Op {
		case "generate":
			return http.StatusBadGateway, "AI_GENERATION_FAILED", editor.MsgGenerationFailed, nil
		case "revise":
			return http.StatusBadGateway, "AI_REVISION_FAILED", editor.MsgRevisionFailed, nil
		case "accept":
			return http.StatusInternalServerError, "ACCEPT_FAILED", editor.MsgAcceptFailed, nil
		default:
			return http.StatusInternalServerError, "SAVE_FAILED", editor.MsgDraftSaveFailed, nil
		}
	}

	if errors.Is(err, llm.ErrNotConfigured) {
		return http.StatusServiceUnavailable, "AI_UNAVAILABLE", "AI service is not configured", nil
	}
	if errors.Is(err, editor.ErrUnknownField) || errors.Is(err, store.ErrUnknownField) {
		return http.StatusNotFound, "FIELD_NOT_FOUND", "Field not found", nil
	}
	if errors.Is(err, gitrepo.ErrNoArchive) {
		return http.StatusNotFound, "NOT_FOUND", "No revision history", nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
