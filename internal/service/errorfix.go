package service

import (
	"context"

	"stockscan/backend/internal/domain"
	"stockscan/backend/internal/errorfix"
	"stockscan/backend/internal/store"
)

// FixExportErrors deletes the barcodes named in a pasted export error, scans first.
func (s *Service) FixExportErrors(ctx context.Context, errorText string) (domain.ErrorFixResult, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.ErrorFixResult{}, err
	}
	barcodes := errorfix.Extract(errorText)
	if len(barcodes) == 0 {
		return domain.ErrorFixResult{}, store.ErrNoBarcodesFound
	}

	scans, removed, err := s.repo.DeleteBarcodes(ctx, barcodes)
	if err != nil {
		return domain.ErrorFixResult{}, err
	}
	s.log.Warn().Strs("barcodes", barcodes).Int64("removed_scans", scans).Int64("removed_barcodes", removed).
		Str("actor", actorName(ctx)).Msg("export error barcodes removed")
	return domain.ErrorFixResult{Barcodes: barcodes, RemovedScans: scans, RemovedBarcodes: removed}, nil
}
