package service

import (
	"context"
	"strings"

	"stockscan/backend/internal/domain"
	"stockscan/backend/internal/store"
)

func (s *Service) AddProduct(ctx context.Context, input domain.ProductInput) (domain.Product, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Product{}, err
	}
	input, err := normalizeProductInput(input)
	if err != nil {
		return domain.Product{}, err
	}

	created, err := s.repo.CreateProduct(ctx, input)
	if err != nil {
		return domain.Product{}, err
	}
	s.log.Info().Int64("product_id", created.ID).Str("system_id", created.SystemID).Str("actor", actorName(ctx)).Msg("product created")
	return *created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, id int64, input domain.ProductInput) (domain.Product, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Product{}, err
	}
	if id <= 0 {
		return domain.Product{}, store.ErrProductNotFound
	}
	input, err := normalizeProductInput(input)
	if err != nil {
		return domain.Product{}, err
	}

	updated, err := s.repo.UpdateProduct(ctx, id, input)
	if err != nil {
		return domain.Product{}, err
	}
	s.log.Info().Int64("product_id", id).Str("actor", actorName(ctx)).Msg("product updated")
	return *updated, nil
}

func (s *Service) ListProducts(ctx context.Context, q domain.ProductQuery) (domain.ProductPage, error) {
	return s.repo.ListProducts(ctx, normalizeQuery(q))
}

// ClearAll drops every product, barcode and scan.
func (s *Service) ClearAll(ctx context.Context) error {
	if err := requireAdmin(ctx); err != nil {
		return err
	}
	if err := s.repo.ClearAll(ctx); err != nil {
		return err
	}
	s.log.Warn().Str("actor", actorName(ctx)).Msg("catalog and scans cleared")
	return nil
}

func normalizeProductInput(input domain.ProductInput) (domain.ProductInput, error) {
	input.Name = strings.TrimSpace(input.Name)
	input.SystemID = strings.TrimSpace(input.SystemID)
	input.Barcodes = store.NormalizeBarcodes(input.Barcodes)
	if input.Name == "" || input.SystemID == "" {
		return input, store.ErrInvalidInput
	}
	return input, nil
}
