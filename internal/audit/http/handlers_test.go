package audithttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-authz/internal/audit"
	"github.com/odyssey-erp/odyssey-authz/internal/rbac"
	"github.com/odyssey-erp/odyssey-authz/internal/shared"
)

type stubLogService struct {
	result      audit.Result
	events      []audit.Event
	err         error
	lastFilters audit.Filters
	lastID      shared.Identity
}

func (s *stubLogService) QueryAuditLog(ctx context.Context, id shared.Identity, filters audit.Filters) (audit.Result, error) {
	s.lastID, s.lastFilters = id, filters
	return s.result, s.err
}

func (s *stubLogService) ExportAuditLog(ctx context.Context, id shared.Identity, filters audit.Filters) ([]audit.Event, error) {
	s.lastID, s.lastFilters = id, filters
	return s.events, s.err
}

var testIdentity = shared.Identity{
	PrincipalID: uuid.MustParse("7a4b0c6e-4b57-4c8f-9d43-52e2e7b0a001"),
	TenantID:    uuid.MustParse("7a4b0c6e-4b57-4c8f-9d43-52e2e7b0a0ff"),
}

func withIdentity(req *http.Request) *http.Request {
	return req.WithContext(shared.ContextWithIdentity(req.Context(), testIdentity))
}

func TestQueryRequiresIdentity(t *testing.T) {
	handler := NewHandler(nil, &stubLogService{}, audit.NewExporter())
	rr := httptest.NewRecorder()
	handler.handleQuery(rr, httptest.NewRequest(http.MethodGet, "/audit", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestQueryForbiddenIsGeneric(t *testing.T) {
	service := &stubLogService{err: rbac.ErrForbidden}
	handler := NewHandler(nil, service, audit.NewExporter())
	rr := httptest.NewRecorder()
	handler.handleQuery(rr, withIdentity(httptest.NewRequest(http.MethodGet, "/audit", nil)))
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "not permitted") {
		t.Fatalf("unexpected body: %s", rr.Body.String())
	}
}

func TestQueryReturnsEventsAndParsesFilters(t *testing.T) {
	actor := uuid.MustParse("7a4b0c6e-4b57-4c8f-9d43-52e2e7b0a002")
	service := &stubLogService{result: audit.Result{
		Events: []audit.Event{{ID: 9, TenantID: testIdentity.TenantID, EventType: audit.EventRoleCreated, TargetType: audit.TargetRole, TargetID: "r1"}},
		Paging: audit.PagingInfo{Page: 2, PageSize: 10},
	}}
	handler := NewHandler(nil, service, audit.NewExporter())
	req := httptest.NewRequest(http.MethodGet,
		"/audit?from=2024-03-01&to=2024-03-15&event_type=role.created&actor="+actor.String()+"&page=2&page_size=10", nil)
	rr := httptest.NewRecorder()
	handler.handleQuery(rr, withIdentity(req))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var body audit.Result
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Events) != 1 || body.Events[0].ID != 9 {
		t.Fatalf("unexpected events: %+v", body.Events)
	}
	f := service.lastFilters
	if f.EventType != audit.EventRoleCreated || f.Actor != actor || f.Page != 2 || f.PageSize != 10 {
		t.Fatalf("unexpected filters: %+v", f)
	}
	if f.From.Format("2006-01-02") != "2024-03-01" || f.To.Before(time.Date(2024, 3, 15, 23, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected window: %s - %s", f.From, f.To)
	}
	if service.lastID != testIdentity {
		t.Fatalf("identity not forwarded: %+v", service.lastID)
	}
}

func TestQueryRejectsBadFilters(t *testing.T) {
	handler := NewHandler(nil, &stubLogService{}, audit.NewExporter())
	for _, query := range []string{"from=yesterday", "from=2024-03-10&to=2024-03-01", "actor=bob", "page=0", "page_size=-3"} {
		rr := httptest.NewRecorder()
		handler.handleQuery(rr, withIdentity(httptest.NewRequest(http.MethodGet, "/audit?"+query, nil)))
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", query, rr.Code)
		}
	}
}

func TestExportCSV(t *testing.T) {
	service := &stubLogService{events: []audit.Event{{
		ID:         1,
		TenantID:   testIdentity.TenantID,
		EventType:  audit.EventAssignmentCreated,
		TargetType: audit.TargetAssignment,
		TargetID:   "a1",
		OccurredAt: time.Date(2024, 3, 10, 10, 0, 0, 0, time.UTC),
	}}}
	handler := NewHandler(nil, service, audit.NewExporter())
	rr := httptest.NewRecorder()
	handler.handleExport(rr, withIdentity(httptest.NewRequest(http.MethodGet, "/audit/export.csv", nil)))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if ctype := rr.Header().Get("Content-Type"); !strings.Contains(ctype, "text/csv") {
		t.Fatalf("unexpected content-type: %s", ctype)
	}
	if !strings.Contains(rr.Body.String(), "assignment.created") {
		t.Fatalf("expected event in csv: %s", rr.Body.String())
	}
}

func TestExportNotImplementedWithoutExporter(t *testing.T) {
	handler := NewHandler(nil, &stubLogService{}, nil)
	rr := httptest.NewRecorder()
	handler.handleExport(rr, withIdentity(httptest.NewRequest(http.MethodGet, "/audit/export.csv", nil)))
	if rr.Code != http.StatusNotImplemented {
		t.Fatalf("expected 501, got %d", rr.Code)
	}
}
