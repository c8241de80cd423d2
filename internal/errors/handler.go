package errors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"runtime/debug"

	"github.com/go-chi/render"

	"promoflow/internal/infrastructure"
	"promoflow/internal/ingest"
	"promoflow/internal/rules"
	"promoflow/internal/services"
	"promoflow/internal/validation"
	"promoflow/internal/workflow"
)

// Common error types following RFC 7807
const (
	TypeValidation       = "/errors/validation"
	TypeNotFound         = "/errors/not-found"
	TypeRateLimit        = "/errors/rate-limit"
	TypeInternal         = "/errors/internal"
	TypeServiceDown      = "/errors/service-unavailable"
	TypeTimeout          = "/errors/timeout"
	TypeConflict         = "/errors/conflict"
	TypePayloadTooLarge  = "/errors/payload-too-large"
	TypeMethodNotAllowed = "/errors/method-not-allowed"
)

// Domain-specific error types
const (
	TypeSessionNotFound  = "/errors/session/not-found"
	TypeSchema           = "/errors/dataset/schema"
	TypeNoData           = "/errors/dataset/empty"
	TypeUnsupportedFile  = "/errors/upload/unsupported-format"
	TypeUnreadableFile   = "/errors/upload/unreadable"
	TypeConfirmRefused   = "/errors/confirmation/precondition"
	TypeNothingConfirmed = "/errors/confirmation/empty"
	TypePushInFlight     = "/errors/push/in-flight"
	TypePushTransition   = "/errors/push/invalid-transition"
)

// ErrorHandler provides centralized error handling
type ErrorHandler struct {
	logger       *slog.Logger
	includeStack bool
}

// NewErrorHandler creates a new error handler
func NewErrorHandler(logger *slog.Logger, includeStack bool) *ErrorHandler {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	return &ErrorHandler{
		logger:       logger.With(slog.String("component", "error_handler")),
		includeStack: includeStack,
	}
}

// HandleError converts any error to RFC 7807 format and responds
func (h *ErrorHandler) HandleError(w http.ResponseWriter, r *http.Request, err error) {
	if err == nil {
		return
	}

	problem := h.ErrorToProblem(err, r)
	traceID := infrastructure.GetTraceID(r.Context())
	if traceID != "" {
		problem.WithExtension("trace_id", traceID)
	}

	level := slog.LevelWarn
	if problem.Status >= http.StatusInternalServerError {
		level = slog.LevelError
		infrastructure.RecordError(r.Context(), err)
	}
	h.logger.Log(r.Context(), level, "request failed",
		slog.String("error", err.Error()),
		slog.Int("status", problem.Status),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
	)

	render.Render(w, r, problem)
}

// ErrorToProblem converts an error to RFC 7807 Problem Details
func (h *ErrorHandler) ErrorToProblem(err error, r *http.Request) *ProblemDetails {
	path := r.URL.Path

	var (
		apiErr     *APIError
		schemaErr  *rules.SchemaError
		precondErr *workflow.PreconditionError
		transErr   *workflow.TransitionError
		inputErr   *services.InputError
		decodeErr  *ingest.DecodeError
	)

	switch {
	case errors.As(err, &apiErr):
		return h.apiErrorToProblem(apiErr, r)

	case errors.Is(err, services.ErrSessionNotFound):
		return NewProblemDetails(http.StatusNotFound, TypeSessionNotFound,
			"Session Not Found", "The session does not exist or has expired", path)

	case errors.As(err, &schemaErr):
		return NewProblemDetails(http.StatusUnprocessableEntity, TypeSchema,
			"Schema Mismatch", schemaErr.Error(), path).
			WithExtension("missing_columns", schemaErr.Missing)

	case errors.Is(err, rules.ErrNoData):
		return NewProblemDetails(http.StatusConflict, TypeNoData,
			"No Data", "No data to validate. Upload a file first", path)

	case errors.As(err, &precondErr):
		return NewProblemDetails(http.StatusConflict, TypeConfirmRefused,
			"Confirmation Refused", precondErr.Message, path).
			WithExtension("reason", string(precondErr.Reason))

	case errors.Is(err, workflow.ErrNothingConfirmed):
		return NewProblemDetails(http.StatusConflict, TypeNothingConfirmed,
			"Nothing Confirmed", "No valid rows found in the dataset", path)

	case errors.Is(err, workflow.ErrPushInFlight):
		return NewProblemDetails(http.StatusConflict, TypePushInFlight,
			"Upload In Progress", "An upload is in progress. Wait for it to finish or cancel it", path)

	case errors.As(err, &transErr):
		return NewProblemDetails(http.StatusConflict, TypePushTransition,
			"Invalid Push Action", transErr.Error(), path).
			WithExtension("stage", string(transErr.Stage)).
			WithExtension("event", string(transErr.Event))

	case errors.As(err, &inputErr):
		return NewProblemDetails(http.StatusBadRequest, TypeValidation,
			"Invalid Parameter", inputErr.Error(), path).
			WithExtension("field", inputErr.Field)

	case errors.Is(err, validation.ErrFileTooLarge):
		return NewProblemDetails(http.StatusRequestEntityTooLarge, TypePayloadTooLarge,
			"Payload Too Large", err.Error(), path)

	case errors.Is(err, validation.ErrUnsupportedFormat),
		errors.Is(err, validation.ErrLegacyExcel),
		errors.Is(err, validation.ErrEmptyFile):
		return NewProblemDetails(http.StatusBadRequest, TypeUnsupportedFile,
			"Unsupported File", err.Error(), path)

	case errors.As(err, &decodeErr), errors.Is(err, ingest.ErrNoHeader):
		return NewProblemDetails(http.StatusBadRequest, TypeUnreadableFile,
			"Unreadable File", err.Error(), path)

	case errors.Is(err, services.ErrShuttingDown):
		return NewProblemDetails(http.StatusServiceUnavailable, TypeServiceDown,
			"Service Unavailable", err.Error(), path)

	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return NewProblemDetails(http.StatusGatewayTimeout, TypeTimeout,
			"Request Timeout", "The request took too long to process and was cancelled", path)
	}

	return NewProblemDetails(http.StatusInternalServerError, TypeInternal,
		"Internal Server Error", "An unexpected error occurred while processing your request", path)
}

// apiErrorToProblem converts APIError to ProblemDetails
func (h *ErrorHandler) apiErrorToProblem(apiErr *APIError, r *http.Request) *ProblemDetails {
	problemType := TypeInternal
	switch {
	case apiErr.StatusCode == http.StatusTooManyRequests:
		problemType = TypeRateLimit
	case apiErr.StatusCode == http.StatusRequestEntityTooLarge:
		problemType = TypePayloadTooLarge
	case apiErr.StatusCode >= 400 && apiErr.StatusCode < 500:
		problemType = TypeValidation
	}

	problem := NewProblemDetails(
		apiErr.StatusCode,
		problemType,
		http.StatusText(apiErr.StatusCode),
		apiErr.Message,
		r.URL.Path,
	).WithExtension("error_code", apiErr.ErrorCode)

	if apiErr.Details != nil {
		problem.WithExtension("details", apiErr.Details)
	}
	return problem
}

// HandlePanic recovers from panics and returns RFC 7807 error
func (h *ErrorHandler) HandlePanic(w http.ResponseWriter, r *http.Request, recovered interface{}) {
	traceID := infrastructure.GetTraceID(r.Context())

	h.logger.ErrorContext(r.Context(), "panic recovered",
		slog.Any("panic", recovered),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("stack", string(debug.Stack())),
	)

	problem := NewProblemDetails(
		http.StatusInternalServerError,
		TypeInternal,
		"Internal Server Error",
		"An unexpected error occurred",
		r.URL.Path,
	).WithExtension("trace_id", traceID)

	if h.includeStack {
		problem.WithExtension("panic", fmt.Sprintf("%v", recovered))
		problem.WithExtension("stack", getStackTrace())
	}

	render.Render(w, r, problem)
}

// NotFound returns a standard 404 error
func (h *ErrorHandler) NotFound(w http.ResponseWriter, r *http.Request) {
	problem := NewProblemDetails(
		http.StatusNotFound,
		TypeNotFound,
		"Not Found",
		"The requested resource was not found",
		r.URL.Path,
	).WithExtension("trace_id", infrastructure.GetTraceID(r.Context()))

	render.Render(w, r, problem)
}

// MethodNotAllowed returns a standard 405 error
func (h *ErrorHandler) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	problem := NewProblemDetails(
		http.StatusMethodNotAllowed,
		TypeMethodNotAllowed,
		"Method Not Allowed",
		fmt.Sprintf("Method %s is not allowed for this endpoint", r.Method),
		r.URL.Path,
	).WithExtension("trace_id", infrastructure.GetTraceID(r.Context()))

	render.Render(w, r, problem)
}

// getStackTrace returns the current stack trace
func getStackTrace() string {
	buf := make([]byte, 1024*8)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}
