package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"import_tables/internal/api/middleware"
	"import_tables/internal/app/service"
	"import_tables/internal/common"
	"import_tables/internal/domain/model"
)

type ImportHandler struct {
	importService   *service.ImportService
	progressService *service.ProgressService
	staleAfter      time.Duration
	logger          *slog.Logger
	now             func() time.Time
}

func NewImportHandler(is *service.ImportService, ps *service.ProgressService, staleAfter time.Duration, logger *slog.Logger) *ImportHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ImportHandler{importService: is, progressService: ps, staleAfter: staleAfter, logger: logger, now: time.Now}
}

func (h *ImportHandler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.listImports)               // GET /api/v1/imports?module=orders&status=done
	r.Get("/{importID}", h.getImport)       // GET /api/v1/imports/42
	r.Get("/progress/{key}", h.getProgress) // GET /api/v1/imports/progress/orders-1

	r.Group(func(adminRouter chi.Router) {
		adminRouter.Use(middleware.Authenticator)
		adminRouter.Use(middleware.AdminOnly)
		adminRouter.Post("/reap", h.reapStale) // POST /api/v1/imports/reap?stale_after=45m
	})
}

func (h *ImportHandler) listImports(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := model.ListFilter{
		Module: q.Get("module"),
		Status: model.ImportStatus(q.Get("status")),
	}
	if filter.Status != model.ImportStatusNone && !filter.Status.Valid() {
		common.RespondWithError(w, http.StatusBadRequest, "Unknown status: "+string(filter.Status))
		return
	}
	if limitStr := q.Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit <= 0 || limit > 500 {
			common.RespondWithError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		filter.Limit = limit
	}

	jobs, err := h.importService.List(r.Context(), filter)
	if err != nil {
		common.RespondWithErr(w, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, jobs)
}

func (h *ImportHandler) getImport(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "importID"), 10, 64)
	if err != nil || id <= 0 {
		common.RespondWithError(w, http.StatusBadRequest, "Invalid import ID")
		return
	}
	job, err := h.importService.Get(r.Context(), id)
	if err != nil {
		common.RespondWithErr(w, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, job)
}

func (h *ImportHandler) getProgress(w http.ResponseWriter, r *http.Request) {
	view, err := h.progressService.Progress(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		common.RespondWithErr(w, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, view)
}

type reapResponse struct {
	Reaped    int       `json:"reaped"`
	OlderThan time.Time `json:"older_than"`
	Error     string    `json:"error,omitempty"`
}

func (h *ImportHandler) reapStale(w http.ResponseWriter, r *http.Request) {
	staleAfter := h.staleAfter
	if s := r.URL.Query().Get("stale_after"); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil || d <= 0 {
			common.RespondWithError(w, http.StatusBadRequest, "stale_after must be a positive duration")
			return
		}
		staleAfter = d
	}

	olderThan := h.now().Add(-staleAfter).UTC()
	n, err := h.importService.ReapStaleProcessingJobs(r.Context(), olderThan)
	subject, _ := middleware.GetSubjectFromContext(r.Context())
	h.logger.InfoContext(r.Context(), "manual stale import sweep", "subject", subject, "reaped", n, "older_than", olderThan)

	resp := reapResponse{Reaped: n, OlderThan: olderThan}
	if err != nil {
		// Sweep errors are server-side, whatever the per-record cause.
		status := http.StatusInternalServerError
		if errors.Is(err, common.ErrStoreUnavailable) {
			status = http.StatusServiceUnavailable
		}
		resp.Error = err.Error()
		common.RespondWithJSON(w, status, resp)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, resp)
}
