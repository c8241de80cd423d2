package errors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"promoflow/internal/infrastructure"
	"promoflow/internal/ingest"
	"promoflow/internal/rules"
	"promoflow/internal/services"
	"promoflow/internal/shared/testutil"
	"promoflow/internal/validation"
	"promoflow/internal/workflow"
)

func newHandler(t *testing.T) *ErrorHandler {
	logger, _ := testutil.NewTestLogger(t)
	return NewErrorHandler(logger, false)
}

func TestErrorToProblem(t *testing.T) {
	h := newHandler(t)
	r := httptest.NewRequest(http.MethodPost, "/api/sessions/abc/confirm", nil)

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantType   string
	}{
		{"session not found", fmt.Errorf("lookup: %w", services.ErrSessionNotFound), http.StatusNotFound, TypeSessionNotFound},
		{"schema", &rules.SchemaError{Missing: []string{"Status"}}, http.StatusUnprocessableEntity, TypeSchema},
		{"no data", rules.ErrNoData, http.StatusConflict, TypeNoData},
		{"precondition", &workflow.PreconditionError{Reason: workflow.ReasonNoMarket, Message: "Please select a country first"}, http.StatusConflict, TypeConfirmRefused},
		{"nothing confirmed", workflow.ErrNothingConfirmed, http.StatusConflict, TypeNothingConfirmed},
		{"push in flight", workflow.ErrPushInFlight, http.StatusConflict, TypePushInFlight},
		{"bad transition", &workflow.TransitionError{Stage: workflow.PushIdle, Event: workflow.EventRetry}, http.StatusConflict, TypePushTransition},
		{"input", &services.InputError{Field: "limit", Err: errors.New("must be positive")}, http.StatusBadRequest, TypeValidation},
		{"too large", fmt.Errorf("%w: 20MB", validation.ErrFileTooLarge), http.StatusRequestEntityTooLarge, TypePayloadTooLarge},
		{"legacy excel", validation.ErrLegacyExcel, http.StatusBadRequest, TypeUnsupportedFile},
		{"decode", &ingest.DecodeError{File: "promo.csv", Err: errors.New("bad quote")}, http.StatusBadRequest, TypeUnreadableFile},
		{"no header", ingest.ErrNoHeader, http.StatusBadRequest, TypeUnreadableFile},
		{"shutting down", services.ErrShuttingDown, http.StatusServiceUnavailable, TypeServiceDown},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout, TypeTimeout},
		{"api error", ErrRateLimitExceeded, http.StatusTooManyRequests, TypeRateLimit},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, TypeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := h.ErrorToProblem(tt.err, r)
			assert.Equal(t, tt.wantStatus, p.Status)
			assert.Equal(t, tt.wantType, p.Type)
			assert.Equal(t, r.URL.Path, p.Instance)
		})
	}
}

func TestHandleError_WritesProblemJSON(t *testing.T) {
	h := newHandler(t)
	r := httptest.NewRequest(http.MethodPost, "/api/sessions/abc/validate", nil)
	r = r.WithContext(infrastructure.WithTraceID(r.Context(), "trace-1"))
	w := httptest.NewRecorder()

	h.HandleError(w, r, &rules.SchemaError{Missing: []string{"Status", "Start Date"}})

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/json")

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "trace-1", body["trace_id"])
	assert.Equal(t, []interface{}{"Status", "Start Date"}, body["missing_columns"])
	assert.Equal(t, TypeSchema, body["type"])
}

func TestHandleError_PreconditionReason(t *testing.T) {
	h := newHandler(t)
	r := httptest.NewRequest(http.MethodPost, "/api/sessions/abc/confirm", nil)
	w := httptest.NewRecorder()

	h.HandleError(w, r, &workflow.PreconditionError{Reason: workflow.ReasonInvalidRows, Message: "Cannot confirm"})

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, string(workflow.ReasonInvalidRows), body["reason"])
	assert.Equal(t, "Cannot confirm", body["detail"])
}

func TestRecoveryMiddleware(t *testing.T) {
	h := newHandler(t)
	panicking := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("kaboom")
	})

	w := httptest.NewRecorder()
	RecoveryMiddleware(h)(panicking).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/options", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "kaboom")
}

func TestNotFoundAndMethodNotAllowed(t *testing.T) {
	h := newHandler(t)

	w := httptest.NewRecorder()
	h.NotFound(w, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	h.MethodNotAllowed(w, httptest.NewRequest(http.MethodDelete, "/api/options", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.Contains(t, w.Body.String(), "DELETE")
}
