package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"stockscan/backend/internal/domain"
	"stockscan/backend/internal/store"
)

// ValidateBarcode resolves the product behind barcode and its current level without writing.
func (s *Service) ValidateBarcode(ctx context.Context, barcode string, scanType domain.ScanType) (domain.ScannedProduct, error) {
	barcode = strings.TrimSpace(barcode)
	if barcode == "" || !scanType.Valid() {
		return domain.ScannedProduct{}, store.ErrInvalidInput
	}
	product, err := s.repo.LookupBarcode(ctx, barcode)
	if err != nil {
		return domain.ScannedProduct{}, err
	}
	return *product, nil
}

// RecordScan writes one scan row per unit. A zero quantity counts as one.
func (s *Service) RecordScan(ctx context.Context, req domain.ScanRequest) (domain.ScanReceipt, error) {
	req.Barcode = strings.TrimSpace(req.Barcode)
	if req.Quantity == 0 {
		req.Quantity = 1
	}
	if req.Barcode == "" || !req.Type.Valid() || req.Quantity < 1 {
		return domain.ScanReceipt{}, store.ErrInvalidInput
	}
	if req.Quantity > s.maxQuantity {
		return domain.ScanReceipt{}, fmt.Errorf("quantity %d exceeds limit of %d: %w", req.Quantity, s.maxQuantity, store.ErrInvalidInput)
	}

	receipt, err := s.repo.RecordScans(ctx, store.ScanBatch{
		Barcode:  req.Barcode,
		Type:     req.Type,
		Quantity: req.Quantity,
		At:       s.now().UTC(),
	})
	if err != nil {
		var insufficient *store.InsufficientStockError
		if errors.As(err, &insufficient) {
			s.log.Info().Str("barcode", req.Barcode).Int("available", insufficient.Available).Int("requested", insufficient.Requested).Msg("exit refused")
		}
		return domain.ScanReceipt{}, err
	}

	s.metrics.ScansRecorded(receipt.Type, receipt.Quantity)
	event := domain.ScanEvent{
		Barcode:     receipt.Product.Barcode,
		Type:        receipt.Type,
		Quantity:    receipt.Quantity,
		ProductName: receipt.Product.Name,
		SystemID:    receipt.Product.SystemID,
		ScannedAt:   receipt.ScannedAt,
	}
	if err := s.events.PublishScan(ctx, event); err != nil {
		s.log.Warn().Err(err).Str("barcode", event.Barcode).Msg("scan event not published")
	}
	return *receipt, nil
}

// RecentScans lists the latest scans of a type whose barcode is still in the catalog.
func (s *Service) RecentScans(ctx context.Context, scanType domain.ScanType) ([]domain.RecentScan, error) {
	if !scanType.Valid() {
		return nil, store.ErrInvalidInput
	}
	return s.repo.RecentScans(ctx, scanType, recentScanLimit)
}

func (s *Service) ClearScans(ctx context.Context) (int64, error) {
	if err := requireAdmin(ctx); err != nil {
		return 0, err
	}
	removed, err := s.repo.ClearScans(ctx)
	if err != nil {
		return 0, err
	}
	s.log.Warn().Int64("removed", removed).Str("actor", actorName(ctx)).Msg("scan history cleared")
	return removed, nil
}
