package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"stockscan/backend/internal/domain"
	"stockscan/backend/internal/store"
)

type scannedRow struct {
	Name     string         `db:"name"`
	SystemID string         `db:"system_id"`
	ImageURL sql.NullString `db:"image_url"`
	Barcode  string         `db:"barcode"`
}

func (s *Store) LookupBarcode(ctx context.Context, barcode string) (*domain.ScannedProduct, error) {
	product, err := s.lookup(ctx, s.db, barcode)
	if err != nil {
		return nil, err
	}
	level, err := s.StockLevel(ctx, barcode)
	if err != nil {
		return nil, err
	}
	product.StockLevel = level
	return product, nil
}

func (s *Store) lookup(ctx context.Context, q sqlx.ExtContext, barcode string) (*domain.ScannedProduct, error) {
	var row scannedRow
	err := sqlx.GetContext(ctx, q, &row, q.Rebind(`
		SELECT p.name, p.system_id, `+s.imageColumn("p")+`, b.barcode
		FROM barcodes b
		JOIN products p ON p.id = b.product_id
		WHERE b.barcode = ?
	`), barcode)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrBarcodeNotFound
		}
		return nil, err
	}
	return &domain.ScannedProduct{Name: row.Name, ImageURL: optional(row.ImageURL), SystemID: row.SystemID, Barcode: row.Barcode}, nil
}

// RecordScans locks the barcode row before reading its level, so concurrent
// requests on one barcode serialize and an exit can never oversell.
func (s *Store) RecordScans(ctx context.Context, batch store.ScanBatch) (*domain.ScanReceipt, error) {
	if batch.Quantity < 1 || !batch.Type.Valid() {
		return nil, store.ErrInvalidInput
	}
	at := batch.At.UTC()
	if batch.At.IsZero() {
		at = time.Now().UTC()
	}

	tx, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var locked string
	if err := tx.GetContext(ctx, &locked, tx.Rebind(`SELECT barcode FROM barcodes WHERE barcode = ? FOR UPDATE`), batch.Barcode); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrBarcodeNotFound
		}
		return nil, err
	}
	product, err := s.lookup(ctx, tx, batch.Barcode)
	if err != nil {
		return nil, err
	}

	var level int
	if err := tx.GetContext(ctx, &level, tx.Rebind(`SELECT COALESCE(SUM(`+levelExpr+`), 0) FROM scans WHERE barcode = ?`), batch.Barcode); err != nil {
		return nil, err
	}
	if batch.Type == domain.ScanExit && level < batch.Quantity {
		return nil, &store.InsufficientStockError{Barcode: batch.Barcode, ProductName: product.Name, Available: level, Requested: batch.Quantity}
	}

	for remaining := batch.Quantity; remaining > 0; remaining -= scanInsertBatch {
		rows := min(remaining, scanInsertBatch)
		args := make([]any, 0, rows*3)
		for i := 0; i < rows; i++ {
			args = append(args, batch.Barcode, string(batch.Type), at)
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(`INSERT INTO scans (barcode, type, scanned_at) VALUES `+placeholders(rows, 3)), args...); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	product.StockLevel = level + batch.Type.Delta()*batch.Quantity
	return &domain.ScanReceipt{Product: *product, Type: batch.Type, Quantity: batch.Quantity, ScannedAt: at}, nil
}

func (s *Store) RecentScans(ctx context.Context, scanType domain.ScanType, limit int) ([]domain.RecentScan, error) {
	var rows []struct {
		scannedRow
		ScannedAt time.Time `db:"scanned_at"`
	}
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(`
		SELECT p.name, p.system_id, `+s.imageColumn("p")+`, s.barcode, s.scanned_at
		FROM scans s
		JOIN barcodes b ON b.barcode = s.barcode
		JOIN products p ON p.id = b.product_id
		WHERE s.type = ?
		ORDER BY `+s.recentScanOrder()+`
		LIMIT ?
	`), string(scanType), limit)
	if err != nil {
		return nil, err
	}

	out := make([]domain.RecentScan, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.RecentScan{
			Barcode:     r.Barcode,
			ProductName: r.Name,
			ImageURL:    optional(r.ImageURL),
			SystemID:    r.SystemID,
			ScannedAt:   r.ScannedAt.UTC(),
		})
	}
	return out, nil
}

func (s *Store) ClearScans(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scans`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteBarcodes removes the scans of the barcodes first, then the barcode rows.
func (s *Store) DeleteBarcodes(ctx context.Context, barcodes []string) (int64, int64, error) {
	if len(barcodes) == 0 {
		return 0, 0, nil
	}

	tx, err := s.begin(ctx)
	if err != nil {
		return 0, 0, err
	}
	defer func() { _ = tx.Rollback() }()

	removedScans, err := execIn(ctx, tx, `DELETE FROM scans WHERE barcode IN (?)`, barcodes)
	if err != nil {
		return 0, 0, err
	}
	removedBarcodes, err := execIn(ctx, tx, `DELETE FROM barcodes WHERE barcode IN (?)`, barcodes)
	if err != nil {
		return 0, 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, err
	}
	return removedScans, removedBarcodes, nil
}

func execIn(ctx context.Context, q sqlx.ExtContext, query string, values []string) (int64, error) {
	expanded, args, err := sqlx.In(query, values)
	if err != nil {
		return 0, err
	}
	res, err := q.ExecContext(ctx, q.Rebind(expanded), args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
