package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"stockscan/backend/internal/csvimport"
	"stockscan/backend/internal/domain"
	"stockscan/backend/internal/store"
)

// ChunkError reports the first chunk of a file import that failed. Chunks
// before Index stay committed; Committed holds their totals.
type ChunkError struct {
	Index     int
	Committed domain.ImportResult
	Err       error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("import chunk %d failed after %d committed chunk(s): %v", e.Index+1, e.Committed.Chunks, e.Err)
}

func (e *ChunkError) Unwrap() error { return e.Err }

func (s *Service) StartImport(ctx context.Context, kind domain.ImportKind) (domain.ImportProgress, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.ImportProgress{}, err
	}
	if !kind.Valid() {
		return domain.ImportProgress{}, store.ErrInvalidInput
	}
	return s.progress.Create(ctx, kind)
}

func (s *Service) ImportProgress(ctx context.Context, sessionID string) (domain.ImportProgress, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.ImportProgress{}, err
	}
	return s.progress.Get(ctx, strings.TrimSpace(sessionID))
}

func (s *Service) ImportProducts(ctx context.Context, sessionID string, records []domain.ProductImportRecord) (domain.ImportResult, error) {
	for i := range records {
		records[i].Name = strings.TrimSpace(records[i].Name)
		records[i].Code = strings.TrimSpace(records[i].Code)
		records[i].SQLServerID = strings.TrimSpace(records[i].SQLServerID)
		records[i].ImageID = strings.TrimSpace(records[i].ImageID)
	}
	return s.importChunk(ctx, domain.ImportProducts, sessionID, len(records), func(ctx context.Context) (domain.ImportCounts, error) {
		return s.repo.ReconcileProducts(ctx, records)
	})
}

func (s *Service) ImportBarcodes(ctx context.Context, sessionID string, records []domain.BarcodeImportRecord) (domain.ImportResult, error) {
	for i := range records {
		records[i].SQLServerID = strings.TrimSpace(records[i].SQLServerID)
		records[i].Barcode = strings.TrimSpace(records[i].Barcode)
	}
	return s.importChunk(ctx, domain.ImportBarcodes, sessionID, len(records), func(ctx context.Context) (domain.ImportCounts, error) {
		return s.repo.ReconcileBarcodes(ctx, records)
	})
}

func (s *Service) ImportImages(ctx context.Context, sessionID string, records []domain.ImageImportRecord) (domain.ImportResult, error) {
	for i := range records {
		records[i].ImageID = strings.TrimSpace(records[i].ImageID)
		records[i].ImageURL = strings.TrimSpace(records[i].ImageURL)
	}
	return s.importChunk(ctx, domain.ImportImages, sessionID, len(records), func(ctx context.Context) (domain.ImportCounts, error) {
		return s.repo.ReconcileImages(ctx, records)
	})
}

// ImportCSV parses a whole file and reconciles it chunk by chunk, stopping at
// the first chunk that fails.
func (s *Service) ImportCSV(ctx context.Context, kind domain.ImportKind, sessionID string, body io.Reader, contentType string) (domain.ImportResult, error) {
	result := domain.ImportResult{Kind: kind}
	if err := requireAdmin(ctx); err != nil {
		return result, err
	}
	if err := s.checkSession(ctx, kind, sessionID); err != nil {
		return result, err
	}

	decoded, err := csvimport.NewReader(body, contentType)
	if err != nil {
		return result, err
	}
	batch, err := csvimport.Parse(decoded, kind)
	if err != nil {
		return result, err
	}
	total := batch.Len()
	if total == 0 {
		return result, fmt.Errorf("file has no records: %w", store.ErrInvalidInput)
	}

	for index, lo := 0, 0; lo < total; index, lo = index+1, lo+s.chunkSize {
		hi := min(lo+s.chunkSize, total)
		counts, err := s.reconcileRange(ctx, batch, lo, hi)
		if err != nil {
			s.log.Error().Err(err).Str("kind", string(kind)).Int("chunk", index+1).Msg("import chunk failed")
			return result, &ChunkError{Index: index, Committed: result, Err: err}
		}
		result.Chunks++
		result.Records += hi - lo
		result.Counts = result.Counts.Add(counts)
		result.Progress = s.recordChunk(ctx, kind, sessionID, counts)
	}

	s.log.Info().Str("kind", string(kind)).Int("records", result.Records).Int("chunks", result.Chunks).
		Int("inserted", result.Counts.Inserted).Int("updated", result.Counts.Updated).Int("skipped", result.Counts.Skipped).
		Msg("file import finished")
	return result, nil
}

func (s *Service) reconcileRange(ctx context.Context, batch *csvimport.Batch, lo int, hi int) (domain.ImportCounts, error) {
	switch batch.Kind {
	case domain.ImportProducts:
		return s.repo.ReconcileProducts(ctx, batch.Products[lo:hi])
	case domain.ImportBarcodes:
		return s.repo.ReconcileBarcodes(ctx, batch.Barcodes[lo:hi])
	case domain.ImportImages:
		return s.repo.ReconcileImages(ctx, batch.Images[lo:hi])
	default:
		return domain.ImportCounts{}, store.ErrInvalidInput
	}
}

func (s *Service) importChunk(ctx context.Context, kind domain.ImportKind, sessionID string, size int, run func(context.Context) (domain.ImportCounts, error)) (domain.ImportResult, error) {
	result := domain.ImportResult{Kind: kind}
	if err := requireAdmin(ctx); err != nil {
		return result, err
	}
	if size == 0 {
		return result, fmt.Errorf("chunk has no records: %w", store.ErrInvalidInput)
	}
	if size > s.maxChunk {
		return result, fmt.Errorf("chunk of %d records exceeds limit of %d: %w", size, s.maxChunk, store.ErrInvalidInput)
	}
	if err := s.checkSession(ctx, kind, sessionID); err != nil {
		return result, err
	}

	counts, err := run(ctx)
	if err != nil {
		return result, err
	}
	result.Chunks = 1
	result.Records = size
	result.Counts = counts
	result.Progress = s.recordChunk(ctx, kind, sessionID, counts)

	s.log.Info().Str("kind", string(kind)).Int("records", size).
		Int("inserted", counts.Inserted).Int("updated", counts.Updated).Int("skipped", counts.Skipped).
		Msg("import chunk committed")
	return result, nil
}

// checkSession rejects an unknown session before any chunk is committed under it.
func (s *Service) checkSession(ctx context.Context, kind domain.ImportKind, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	progress, err := s.progress.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if progress.Kind != kind {
		return fmt.Errorf("session %s belongs to %s import: %w", sessionID, progress.Kind, store.ErrInvalidInput)
	}
	return nil
}

func (s *Service) recordChunk(ctx context.Context, kind domain.ImportKind, sessionID string, counts domain.ImportCounts) *domain.ImportProgress {
	s.metrics.ImportRecords(kind, counts)
	if sessionID == "" {
		return nil
	}
	progress, err := s.progress.Add(ctx, sessionID, kind, counts)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.log.Warn().Err(err).Str("session_id", sessionID).Msg("import progress not updated")
		}
		return nil
	}
	return &progress
}
