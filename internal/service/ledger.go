package service

import (
	"context"
	"strings"

	"stockscan/backend/internal/domain"
	"stockscan/backend/internal/store"
)

// StockLevel is entries minus exits for barcode, 0 when it has no scans.
func (s *Service) StockLevel(ctx context.Context, barcode string) (int, error) {
	barcode = strings.TrimSpace(barcode)
	if barcode == "" {
		return 0, store.ErrInvalidInput
	}
	return s.repo.StockLevel(ctx, barcode)
}

// SummarizeStock pages through the products holding positive stock, by name.
func (s *Service) SummarizeStock(ctx context.Context, q domain.ProductQuery) (domain.StockSummaryPage, error) {
	return s.repo.SummarizeStock(ctx, normalizeQuery(q))
}

// ExportStock returns one row per barcode, zero and negative levels included.
func (s *Service) ExportStock(ctx context.Context) ([]domain.StockExportRow, error) {
	return s.repo.ExportStock(ctx)
}
