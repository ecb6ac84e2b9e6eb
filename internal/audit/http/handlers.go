package audithttp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-authz/internal/audit"
	"github.com/odyssey-erp/odyssey-authz/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-authz/internal/rbac"
	"github.com/odyssey-erp/odyssey-authz/internal/shared"
)

const maxDateRange = 366 * 24 * time.Hour

// LogService is the permission-gated read side of the audit log.
type LogService interface {
	QueryAuditLog(ctx context.Context, id shared.Identity, filters audit.Filters) (audit.Result, error)
	ExportAuditLog(ctx context.Context, id shared.Identity, filters audit.Filters) ([]audit.Event, error)
}

// Exporter writes audit exports.
type Exporter interface {
	WriteCSV(events []audit.Event) ([]byte, error)
}

// Handler menangani permintaan audit log.
type Handler struct {
	logger   *slog.Logger
	service  LogService
	exporter Exporter
}

// NewHandler membuat handler audit baru.
func NewHandler(logger *slog.Logger, service LogService, exporter Exporter) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, exporter: exporter}
}

func (h *Handler) handleQuery(w http.ResponseWriter, r *http.Request) {
	id, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	filters, err := parseFilters(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.QueryAuditLog(r.Context(), id, filters)
	if err != nil {
		rbac.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	if h.exporter == nil {
		http.Error(w, http.StatusText(http.StatusNotImplemented), http.StatusNotImplemented)
		return
	}
	id, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	filters, err := parseFilters(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	events, err := h.service.ExportAuditLog(r.Context(), id, filters)
	if err != nil {
		rbac.RespondError(w, h.logger, err)
		return
	}
	csvBytes, err := h.exporter.WriteCSV(events)
	if err != nil {
		h.logger.Error("encode csv", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", "attachment; filename=\"audit-log.csv\"")
	if _, err := w.Write(csvBytes); err != nil {
		h.logger.Warn("write csv", slog.Any("error", err))
	}
}

func parseFilters(r *http.Request) (audit.Filters, error) {
	q := r.URL.Query()
	var f audit.Filters
	var err error
	if f.From, err = parseTime(q.Get("from"), false); err != nil {
		return audit.Filters{}, validationError{field: "from"}
	}
	if f.To, err = parseTime(q.Get("to"), true); err != nil {
		return audit.Filters{}, validationError{field: "to"}
	}
	if !f.From.IsZero() && !f.To.IsZero() {
		if f.From.After(f.To) || f.To.Sub(f.From) > maxDateRange {
			return audit.Filters{}, validationError{field: "range"}
		}
	}
	if v := strings.TrimSpace(q.Get("actor")); v != "" {
		actor, err := uuid.Parse(v)
		if err != nil {
			return audit.Filters{}, validationError{field: "actor"}
		}
		f.Actor = actor
	}
	f.EventType = audit.EventType(strings.TrimSpace(q.Get("event_type")))
	f.TargetType = audit.TargetType(strings.TrimSpace(q.Get("target_type")))
	f.TargetID = strings.TrimSpace(q.Get("target_id"))

	if f.Page, err = parsePositive(q.Get("page")); err != nil {
		return audit.Filters{}, validationError{field: "page"}
	}
	if f.PageSize, err = parsePositive(q.Get("page_size")); err != nil {
		return audit.Filters{}, validationError{field: "page_size"}
	}
	return f, nil
}

// parseTime accepts RFC3339 or a bare date; a bare "to" date covers the whole day.
func parseTime(raw string, endOfDay bool) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, err
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}

func parsePositive(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, errors.New("not a positive integer")
	}
	return n, nil
}

type validationError struct {
	field string
}

func (v validationError) Error() string {
	return "invalid " + v.field
}

func (validationError) Unwrap() error {
	return httpx.ErrValidation
}
