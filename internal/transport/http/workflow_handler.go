package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	apierrors "promoflow/internal/errors"
	"promoflow/internal/middleware"
	"promoflow/internal/workflow"
	api "promoflow/pkg/contracts/api/v1"
)

type ctxKey string

const sessionIDKey ctxKey = "session_id"

// multipartMemory is how much of an upload ParseMultipartForm keeps in memory
const multipartMemory = 8 << 20

// WorkflowHandler serves the promotion workflow API
type WorkflowHandler struct {
	service        WorkflowServiceInterface
	validator      *middleware.RequestValidator
	query          *middleware.QueryParamValidator
	errorHandler   *apierrors.ErrorHandler
	logger         *slog.Logger
	maxUploadBytes int64
	maxLogEntries  int
}

// NewWorkflowHandler creates a workflow handler. maxUploadMB bounds the
// multipart body; zero disables the bound.
func NewWorkflowHandler(service WorkflowServiceInterface, maxUploadMB float64, maxLogEntries int,
	logger *slog.Logger, errorHandler *apierrors.ErrorHandler) *WorkflowHandler {
	return &WorkflowHandler{
		service:        service,
		validator:      middleware.NewRequestValidator(logger),
		query:          middleware.NewQueryParamValidator(logger, errorHandler),
		errorHandler:   errorHandler,
		logger:         logger.With(slog.String("component", "workflow_handler")),
		maxUploadBytes: int64(maxUploadMB * 1024 * 1024),
		maxLogEntries:  maxLogEntries,
	}
}

// Routes returns the workflow routes
func (h *WorkflowHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(render.SetContentType(render.ContentTypeJSON))

	r.Get("/options", h.GetOptions)
	r.Post("/sessions", h.CreateSession)

	r.Route("/sessions/{id}", func(r chi.Router) {
		r.Use(h.SessionCtx)
		r.Get("/", h.GetSession)
		r.Delete("/", h.ClearSession)

		r.Post("/upload", h.Upload)
		r.Post("/dataset", h.LoadDataset)
		r.Post("/validate", h.Validate)
		r.Get("/view", h.View)
		r.Get("/export", h.Export)
		r.Put("/market", h.ChooseMarket)
		r.Post("/confirm", h.Confirm)

		r.Get("/push", h.GetPushStatus)
		r.Post("/push/{action}", h.PushAction)

		r.Get("/logs", h.GetLogs)
		r.Delete("/logs", h.ClearLogs)
	})
	return r
}

// SessionCtx validates the session id path parameter
func (h *WorkflowHandler) SessionCtx(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if _, err := uuid.Parse(id); err != nil {
			h.errorHandler.HandleError(w, r, apierrors.InvalidParameter("id", fmt.Errorf("session id must be a UUID")))
			return
		}
		ctx := context.WithValue(r.Context(), sessionIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func sessionID(r *http.Request) string {
	id, _ := r.Context().Value(sessionIDKey).(string)
	return id
}

// GetOptions handles GET /api/options
func (h *WorkflowHandler) GetOptions(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.service.Options())
}

// CreateSession handles POST /api/sessions
func (h *WorkflowHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.CreateSession(r.Context())
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	h.logger.InfoContext(r.Context(), "session created", slog.String("session_id", summary.ID))

	w.Header().Set("Location", "/api/sessions/"+summary.ID)
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, api.SessionCreatedResponse{
		SessionID: summary.ID,
		StreamURL: "/ws?session=" + summary.ID,
	})
}

// GetSession handles GET /api/sessions/{id}
func (h *WorkflowHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.Summary(r.Context(), sessionID(r))
	h.respond(w, r, summary, err)
}

// ClearSession handles DELETE /api/sessions/{id}
func (h *WorkflowHandler) ClearSession(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.ClearSession(r.Context(), sessionID(r))
	h.respond(w, r, summary, err)
}

// Upload handles POST /api/sessions/{id}/upload with a multipart "file" part
func (h *WorkflowHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if h.maxUploadBytes > 0 {
		// Headroom for the multipart envelope; the decoder enforces the file limit
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+1<<20)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.errorHandler.HandleError(w, r, apierrors.New(http.StatusRequestEntityTooLarge,
				"PAYLOAD_TOO_LARGE", fmt.Sprintf("Upload exceeds %d bytes", tooLarge.Limit)))
			return
		}
		h.errorHandler.HandleError(w, r, apierrors.InvalidRequestWithError(err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		h.errorHandler.HandleError(w, r, apierrors.NewWithDetails(http.StatusBadRequest,
			"MISSING_PARAMETER", "Multipart field \"file\" is required", err.Error()))
		return
	}
	defer file.Close()

	res, err := h.service.Upload(r.Context(), sessionID(r), header.Filename, file, header.Size)
	h.respond(w, r, res, err)
}

// LoadDataset handles POST /api/sessions/{id}/dataset
func (h *WorkflowHandler) LoadDataset(w http.ResponseWriter, r *http.Request) {
	var req api.DatasetRequest
	if err := h.validator.DecodeJSON(w, r, &req); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	res, err := h.service.LoadRecords(r.Context(), sessionID(r), req.FileName, req.Columns, req.Rows)
	h.respond(w, r, res, err)
}

// Validate handles POST /api/sessions/{id}/validate
func (h *WorkflowHandler) Validate(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.Validate(r.Context(), sessionID(r))
	h.respond(w, r, res, err)
}

// View handles GET /api/sessions/{id}/view?filter=&limit=
func (h *WorkflowHandler) View(w http.ResponseWriter, r *http.Request) {
	q := api.ViewRequest{
		Filter: r.URL.Query().Get("filter"),
		Limit:  r.URL.Query().Get("limit"),
	}
	view, err := h.service.View(r.Context(), sessionID(r), q.Filter, q.Limit)
	h.respond(w, r, view, err)
}

// Export handles GET /api/sessions/{id}/export?filter=&format=
func (h *WorkflowHandler) Export(w http.ResponseWriter, r *http.Request) {
	q := api.ExportRequest{
		Filter: r.URL.Query().Get("filter"),
		Format: r.URL.Query().Get("format"),
	}
	export, err := h.service.Export(r.Context(), sessionID(r), q.Filter, q.Format)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", export.Format.ContentType())
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": export.FileName}))
	if err := export.WriteTo(r.Context(), w); err != nil {
		h.logger.ErrorContext(r.Context(), "export write failed",
			slog.String("session_id", sessionID(r)),
			slog.String("error", err.Error()))
	}
}

// ChooseMarket handles PUT /api/sessions/{id}/market
func (h *WorkflowHandler) ChooseMarket(w http.ResponseWriter, r *http.Request) {
	var req api.MarketRequest
	if err := h.validator.DecodeJSON(w, r, &req); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	summary, err := h.service.ChooseMarket(r.Context(), sessionID(r), req.Market)
	h.respond(w, r, summary, err)
}

// Confirm handles POST /api/sessions/{id}/confirm
func (h *WorkflowHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	status, err := h.service.Confirm(r.Context(), sessionID(r))
	h.respond(w, r, status, err)
}

// GetPushStatus handles GET /api/sessions/{id}/push
func (h *WorkflowHandler) GetPushStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.service.PushStatus(r.Context(), sessionID(r))
	h.respond(w, r, status, err)
}

// PushAction handles POST /api/sessions/{id}/push/{action}
func (h *WorkflowHandler) PushAction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := sessionID(r)

	var (
		status workflow.PushStatus
		err    error
	)
	switch action := chi.URLParam(r, "action"); action {
	case "accept":
		wait := false
		if raw := r.URL.Query().Get("wait"); raw != "" {
			if wait, err = strconv.ParseBool(raw); err != nil {
				h.errorHandler.HandleError(w, r, apierrors.InvalidParameter("wait", err))
				return
			}
		}
		status, err = h.service.Accept(ctx, id, wait)
		if err == nil && status.Stage == workflow.PushProcessing {
			render.Status(r, http.StatusAccepted)
		}
	case "cancel":
		status, err = h.service.CancelPush(ctx, id)
	case "retry":
		status, err = h.service.RetryPush(ctx, id)
	case "finish":
		status, err = h.service.FinishPush(ctx, id)
	case "abandon":
		status, err = h.service.AbandonPush(ctx, id)
	default:
		h.errorHandler.HandleError(w, r, apierrors.InvalidParameter("action",
			fmt.Errorf("unknown push action %q", action)))
		return
	}
	h.respond(w, r, status, err)
}

// GetLogs handles GET /api/sessions/{id}/logs?limit=
func (h *WorkflowHandler) GetLogs(w http.ResponseWriter, r *http.Request) {
	limit, ok := h.query.ValidateInt(w, r, "limit", 0, h.maxLogEntries, 0)
	if !ok {
		return
	}
	entries, err := h.service.Logs(r.Context(), sessionID(r), limit)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, api.LogsResponse{Entries: entries, Count: len(entries)})
}

// ClearLogs handles DELETE /api/sessions/{id}/logs
func (h *WorkflowHandler) ClearLogs(w http.ResponseWriter, r *http.Request) {
	if err := h.service.ClearLogs(r.Context(), sessionID(r)); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	render.NoContent(w, r)
}

func (h *WorkflowHandler) respond(w http.ResponseWriter, r *http.Request, body interface{}, err error) {
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, body)
}
