package audit

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-authz/internal/shared"
)

// MaxExportRows membatasi jumlah baris ekspor dalam satu permintaan.
const MaxExportRows = 10000

// Repository menyediakan akses baca ke audit_events.
type Repository interface {
	ListEvents(ctx context.Context, tenantID uuid.UUID, p ListParams) ([]Event, error)
}

// Service mengoordinasikan pengambilan data audit.
type Service struct {
	repo Repository
}

// NewService membuat service audit baru.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Query mengambil event satu tenant dengan paging, terbaru lebih dulu.
func (s *Service) Query(ctx context.Context, tenantID uuid.UUID, filters Filters) (Result, error) {
	if s.repo == nil {
		return Result{}, fmt.Errorf("audit: repository not configured")
	}
	if err := filters.Validate(); err != nil {
		return Result{}, err
	}
	page, pageSize := shared.NormalizePage(filters.Page, filters.PageSize)
	filters.Page, filters.PageSize = page, pageSize
	events, err := s.repo.ListEvents(ctx, tenantID, ListParams{
		Filters: filters,
		Offset:  shared.Offset(page, pageSize),
		Limit:   pageSize + 1,
	})
	if err != nil {
		return Result{}, err
	}
	hasNext := len(events) > pageSize
	if hasNext {
		events = events[:pageSize]
	}
	if events == nil {
		events = []Event{}
	}
	paging := PagingInfo{Page: page, PageSize: pageSize, HasNext: hasNext}
	if page > 1 {
		paging.PrevPage = page - 1
	}
	if hasNext {
		paging.NextPage = page + 1
	}
	return Result{Events: events, Paging: paging}, nil
}

// Export mengambil seluruh event yang cocok tanpa paging, dibatasi MaxExportRows.
func (s *Service) Export(ctx context.Context, tenantID uuid.UUID, filters Filters) ([]Event, error) {
	if s.repo == nil {
		return nil, fmt.Errorf("audit: repository not configured")
	}
	if err := filters.Validate(); err != nil {
		return nil, err
	}
	return s.repo.ListEvents(ctx, tenantID, ListParams{Filters: filters, Limit: MaxExportRows})
}
