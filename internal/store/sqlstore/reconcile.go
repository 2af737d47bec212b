package sqlstore

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"stockscan/backend/internal/domain"
	"stockscan/backend/internal/store"
)

// Each Reconcile call is one chunk: it commits as a whole or not at all.

func (s *Store) ReconcileProducts(ctx context.Context, records []domain.ProductImportRecord) (domain.ImportCounts, error) {
	var counts domain.ImportCounts

	tx, err := s.begin(ctx)
	if err != nil {
		return counts, err
	}
	defer func() { _ = tx.Rollback() }()

	for _, rec := range records {
		if rec.SQLServerID == "" {
			counts.Skipped++
			continue
		}

		var existing struct {
			ID       int64  `db:"id"`
			SystemID string `db:"system_id"`
			Name     string `db:"name"`
		}
		err := tx.GetContext(ctx, &existing, tx.Rebind(`
			SELECT id, system_id, name FROM products WHERE sql_server_id = ? ORDER BY id LIMIT 1
		`), rec.SQLServerID)
		switch {
		case err == nil:
			name, code := existing.Name, existing.SystemID
			if rec.Name != "" {
				name = rec.Name
			}
			if rec.Code != "" && rec.Code != existing.SystemID {
				owner, err := systemIDOwner(ctx, tx, rec.Code)
				if err != nil {
					return domain.ImportCounts{}, err
				}
				if owner != 0 && owner != existing.ID {
					counts.Skipped++
					continue
				}
				code = rec.Code
			}
			if _, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE products SET name = ?, system_id = ?, image_id = ? WHERE id = ?`),
				name, code, nullable(rec.ImageID), existing.ID); err != nil {
				return domain.ImportCounts{}, err
			}
			counts.Updated++
		case errors.Is(err, sql.ErrNoRows):
			if rec.Name == "" || rec.Code == "" {
				counts.Skipped++
				continue
			}
			owner, err := systemIDOwner(ctx, tx, rec.Code)
			if err != nil {
				return domain.ImportCounts{}, err
			}
			if owner != 0 {
				counts.Skipped++
				continue
			}
			if _, err := tx.ExecContext(ctx, tx.Rebind(`INSERT INTO products (name, system_id, sql_server_id, image_id) VALUES (?, ?, ?, ?)`),
				rec.Name, rec.Code, rec.SQLServerID, nullable(rec.ImageID)); err != nil {
				return domain.ImportCounts{}, err
			}
			counts.Inserted++
		default:
			return domain.ImportCounts{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return domain.ImportCounts{}, err
	}
	return counts, nil
}

func (s *Store) ReconcileBarcodes(ctx context.Context, records []domain.BarcodeImportRecord) (domain.ImportCounts, error) {
	var counts domain.ImportCounts

	externalIDs := make([]string, 0, len(records))
	for _, rec := range records {
		if rec.SQLServerID != "" {
			externalIDs = append(externalIDs, rec.SQLServerID)
		}
	}

	tx, err := s.begin(ctx)
	if err != nil {
		return counts, err
	}
	defer func() { _ = tx.Rollback() }()

	resolvedIDs := make(map[string]int64, len(externalIDs))
	if len(externalIDs) > 0 {
		query, args, err := sqlx.In(`SELECT id, sql_server_id FROM products WHERE sql_server_id IN (?) ORDER BY id`, externalIDs)
		if err != nil {
			return counts, err
		}
		var rows []struct {
			ID          int64  `db:"id"`
			SQLServerID string `db:"sql_server_id"`
		}
		if err := tx.SelectContext(ctx, &rows, tx.Rebind(query), args...); err != nil {
			return counts, err
		}
		for _, r := range rows {
			if _, seen := resolvedIDs[r.SQLServerID]; !seen {
				resolvedIDs[r.SQLServerID] = r.ID
			}
		}
	}

	resolved := 0
	args := make([]any, 0, len(records)*2)
	pending := make(map[string]struct{}, len(records))
	for _, rec := range records {
		productID, ok := resolvedIDs[rec.SQLServerID]
		if rec.Barcode == "" || !ok {
			counts.Skipped++
			continue
		}
		resolved++
		if _, dup := pending[rec.Barcode]; dup {
			continue
		}
		pending[rec.Barcode] = struct{}{}
		args = append(args, productID, rec.Barcode)
	}

	for start := 0; start < len(args); start += scanInsertBatch * 2 {
		end := min(start+scanInsertBatch*2, len(args))
		batch := args[start:end]
		query := s.dialect.ignorePrefix + ` barcodes (product_id, barcode) VALUES ` + placeholders(len(batch)/2, 2) + s.dialect.ignoreSuffix
		res, err := tx.ExecContext(ctx, tx.Rebind(query), batch...)
		if err != nil {
			return domain.ImportCounts{}, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return domain.ImportCounts{}, err
		}
		counts.Inserted += int(n)
	}
	counts.Skipped += resolved - counts.Inserted

	if err := tx.Commit(); err != nil {
		return domain.ImportCounts{}, err
	}
	return counts, nil
}

func (s *Store) ReconcileImages(ctx context.Context, records []domain.ImageImportRecord) (domain.ImportCounts, error) {
	var counts domain.ImportCounts
	if !s.caps.ImageURL {
		return counts, &store.MissingColumnError{Table: "products", Column: "image_url"}
	}

	tx, err := s.begin(ctx)
	if err != nil {
		return counts, err
	}
	defer func() { _ = tx.Rollback() }()

	// The inequality guard makes RowsAffected count changed rows on both drivers.
	update := tx.Rebind(`UPDATE products SET image_url = ? WHERE image_id = ? AND (image_url IS NULL OR image_url <> ?)`)
	for _, rec := range records {
		if rec.ImageID == "" || rec.ImageURL == "" {
			counts.Skipped++
			continue
		}
		res, err := tx.ExecContext(ctx, update, rec.ImageURL, rec.ImageID, rec.ImageURL)
		if err != nil {
			return domain.ImportCounts{}, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return domain.ImportCounts{}, err
		}
		if n > 0 {
			counts.Updated += int(n)
		} else {
			counts.Skipped++
		}
	}

	if err := tx.Commit(); err != nil {
		return domain.ImportCounts{}, err
	}
	return counts, nil
}
