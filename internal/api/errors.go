package api

import (
	"errors"
	"net/http"
	"strings"

	"researchmcp/internal/activities"
	"researchmcp/internal/lexical"
	"researchmcp/internal/retrieval"
	"researchmcp/internal/session"
	"researchmcp/internal/storage"
	"researchmcp/internal/util"

	"github.com/go-playground/validator/v10"
)

var errWorkflowsUnavailable = errors.New("workflow service is not configured")

type statusError struct {
	status int
	err    error
}

func (e statusError) Error() string { return e.err.Error() }
func (e statusError) Unwrap() error { return e.err }

func badRequest(err error) error { return statusError{status: http.StatusBadRequest, err: err} }
func notFound(err error) error   { return statusError{status: http.StatusNotFound, err: err} }

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	var se statusError
	var ve validator.ValidationErrors
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &se):
		return se.status
	case errors.As(err, &ve), errors.Is(err, retrieval.ErrInvalidAlpha):
		return http.StatusBadRequest
	case errors.Is(err, errUnauthorized), errors.Is(err, storage.ErrUserNotFound), errors.Is(err, storage.ErrInvalidPassword):
		return http.StatusUnauthorized
	case errors.Is(err, storage.ErrPaperNotFound):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrUserExists), errors.Is(err, session.ErrNoActivePaper),
		errors.Is(err, util.ErrLexicalStateMissing), errors.Is(err, lexical.ErrEmptyState):
		return http.StatusConflict
	case errors.Is(err, activities.ErrNoOpenAccessPDF), errors.Is(err, util.ErrNoExtractableText):
		return http.StatusUnprocessableEntity
	case errors.Is(err, errWorkflowsUnavailable), errors.Is(err, util.ErrMissingCredential):
		return http.StatusServiceUnavailable
	case errors.Is(err, util.ErrQuotaExhausted), errors.Is(err, util.ErrRateLimited), errors.Is(err, util.ErrTransient):
		return http.StatusBadGateway
	case strings.Contains(err.Error(), "invalid registration"):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// userFacing errors are safe to echo verbatim.
var userFacing = []error{
	storage.ErrUserExists,
	storage.ErrUserNotFound,
	storage.ErrInvalidPassword,
	storage.ErrPaperNotFound,
	activities.ErrNoOpenAccessPDF,
	session.ErrNoActivePaper,
	errWorkflowsUnavailable,
}

type apiError struct {
	Code    string
	Message string
}

func toAPIError(status int, err error) apiError {
	msg := "Request failed."
	code := "RM-API-4000"
	raw := ""
	if err != nil {
		raw = strings.ToLower(err.Error())
	}

	switch {
	case status == http.StatusServiceUnavailable:
		if errors.Is(err, errWorkflowsUnavailable) {
			return apiError{Code: "RM-API-5030", Message: "Background ingestion is unavailable. Retry without async."}
		}
		return apiError{Code: "RM-API-5031", Message: "A required provider is not configured. Check credentials."}
	case status >= 500:
		switch {
		case strings.Contains(raw, "relation") && strings.Contains(raw, "does not exist"):
			return apiError{
				Code:    "RM-DB-5001",
				Message: "Database schema is not initialized. Run migrations and retry.",
			}
		case strings.Contains(raw, "dial tcp"), strings.Contains(raw, "connection refused"):
			return apiError{
				Code:    "RM-DB-5002",
				Message: "Database connection is unavailable. Check local services and retry.",
			}
		case status == http.StatusBadGateway:
			return apiError{Code: "RM-API-5020", Message: "Upstream provider unavailable. Retry shortly."}
		default:
			return apiError{
				Code:    "RM-API-5000",
				Message: "Internal server error. Please retry or check service logs.",
			}
		}
	case status == http.StatusBadRequest:
		code = "RM-API-4001"
		msg = "Invalid request. Check inputs and retry."
	case status == http.StatusUnauthorized:
		code = "RM-API-4010"
		msg = "Authentication required."
	case status == http.StatusNotFound:
		code = "RM-API-4004"
		msg = "Requested resource was not found."
	case status == http.StatusConflict:
		code = "RM-API-4009"
		msg = "Operation conflicts with current state. Retry after checking status."
	case status == http.StatusUnprocessableEntity:
		code = "RM-API-4220"
		msg = "The paper could not be ingested."
	}

	if errors.Is(err, util.ErrLexicalStateMissing) {
		return apiError{Code: code, Message: util.MsgReingestRequired}
	}
	for _, known := range userFacing {
		if errors.Is(err, known) {
			return apiError{Code: code, Message: known.Error()}
		}
	}

	// For 4xx, keep user-safe validation context only.
	if status >= 400 && status < 500 && err != nil {
		switch {
		case strings.Contains(raw, "invalid json"):
			msg = "Malformed JSON request body."
		case strings.Contains(raw, "no pdf file provided"):
			msg = "No PDF file was provided."
		case strings.Contains(raw, "uploads are ingested synchronously"):
			msg = "Uploads cannot be ingested asynchronously."
		case strings.Contains(raw, "no extractable text"):
			msg = "No extractable text found (document may be scanned)."
		case strings.Contains(raw, "alpha must be within"):
			msg = "alpha must be within [0, 1]."
		case strings.Contains(raw, "invalid paper id"):
			msg = "Paper id must be a positive integer."
		case strings.Contains(raw, "'min' tag"), strings.Contains(raw, "invalid registration"):
			msg = "Username needs at least 3 characters and password at least 4."
		case strings.Contains(raw, "'required"):
			msg = "A required field is missing."
		}
	}

	return apiError{Code: code, Message: msg}
}
