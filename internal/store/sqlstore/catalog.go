package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/jmoiron/sqlx"

	"stockscan/backend/internal/domain"
	"stockscan/backend/internal/store"
)

type productRow struct {
	ID          int64          `db:"id"`
	SystemID    string         `db:"system_id"`
	Name        string         `db:"name"`
	SQLServerID sql.NullString `db:"sql_server_id"`
	ImageID     sql.NullString `db:"image_id"`
	ImageURL    sql.NullString `db:"image_url"`
}

func (r productRow) toDomain(barcodes []string) domain.Product {
	if barcodes == nil {
		barcodes = []string{}
	}
	return domain.Product{
		ID:          r.ID,
		SystemID:    r.SystemID,
		Name:        r.Name,
		Barcodes:    barcodes,
		SQLServerID: optional(r.SQLServerID),
		ImageID:     optional(r.ImageID),
		ImageURL:    optional(r.ImageURL),
	}
}

func (s *Store) productColumns() string {
	return "p.id, p.system_id, p.name, p.sql_server_id, p.image_id, " + s.imageColumn("p")
}

func (s *Store) CreateProduct(ctx context.Context, input domain.ProductInput) (*domain.Product, error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	owner, err := systemIDOwner(ctx, tx, input.SystemID)
	if err != nil {
		return nil, err
	}
	if owner != 0 {
		return nil, store.ErrDuplicateSystemID
	}
	taken, err := takenBarcodes(ctx, tx, input.Barcodes, 0)
	if err != nil {
		return nil, err
	}
	if len(taken) > 0 {
		return nil, &store.DuplicateBarcodeError{Barcodes: taken}
	}

	id, err := s.dialect.insertID(ctx, tx, `INSERT INTO products (system_id, name) VALUES (?, ?)`, input.SystemID, input.Name)
	if err != nil {
		return nil, s.mapWriteError(err)
	}
	if err := insertBarcodes(ctx, tx, id, input.Barcodes); err != nil {
		return nil, s.mapWriteError(err)
	}

	product, err := s.getProduct(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return product, nil
}

func (s *Store) UpdateProduct(ctx context.Context, id int64, input domain.ProductInput) (*domain.Product, error) {
	if id <= 0 {
		return nil, store.ErrProductNotFound
	}

	tx, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var locked int64
	if err := tx.GetContext(ctx, &locked, tx.Rebind(`SELECT id FROM products WHERE id = ? FOR UPDATE`), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrProductNotFound
		}
		return nil, err
	}

	owner, err := systemIDOwner(ctx, tx, input.SystemID)
	if err != nil {
		return nil, err
	}
	if owner != 0 && owner != id {
		return nil, store.ErrDuplicateSystemID
	}
	taken, err := takenBarcodes(ctx, tx, input.Barcodes, id)
	if err != nil {
		return nil, err
	}
	if len(taken) > 0 {
		return nil, &store.DuplicateBarcodeError{Barcodes: taken}
	}

	var current []string
	if err := tx.SelectContext(ctx, &current, tx.Rebind(`SELECT barcode FROM barcodes WHERE product_id = ? ORDER BY barcode`), id); err != nil {
		return nil, err
	}
	toAdd, toRemove := store.DiffBarcodes(current, input.Barcodes)
	if len(toRemove) > 0 {
		query, args, err := sqlx.In(`DELETE FROM barcodes WHERE product_id = ? AND barcode IN (?)`, id, toRemove)
		if err != nil {
			return nil, err
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(query), args...); err != nil {
			return nil, err
		}
	}
	if err := insertBarcodes(ctx, tx, id, toAdd); err != nil {
		return nil, s.mapWriteError(err)
	}

	if _, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE products SET name = ?, system_id = ? WHERE id = ?`), input.Name, input.SystemID, id); err != nil {
		return nil, s.mapWriteError(err)
	}

	product, err := s.getProduct(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return product, nil
}

func (s *Store) ListProducts(ctx context.Context, query domain.ProductQuery) (domain.ProductPage, error) {
	page := domain.ProductPage{Products: []domain.Product{}, Page: query.Page, PageSize: query.PageSize}

	where, args := productFilter("p", query.Query)
	if where != "" {
		where = " WHERE " + where
	}

	if err := s.db.GetContext(ctx, &page.AbsoluteTotal, `SELECT COUNT(*) FROM products`); err != nil {
		return page, err
	}
	if err := s.db.GetContext(ctx, &page.TotalProducts, s.db.Rebind(`SELECT COUNT(*) FROM products p`+where), args...); err != nil {
		return page, err
	}
	page.TotalPages = store.TotalPages(page.TotalProducts, query.PageSize)

	var rows []productRow
	listArgs := append(append([]any{}, args...), query.PageSize, offset(query.Page, query.PageSize))
	listQuery := `SELECT ` + s.productColumns() + ` FROM products p` + where + ` ORDER BY p.name, p.id LIMIT ? OFFSET ?`
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(listQuery), listArgs...); err != nil {
		return page, err
	}

	ids := make([]int64, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID)
	}
	barcodes, err := barcodesByProduct(ctx, s.db, ids)
	if err != nil {
		return page, err
	}
	for _, r := range rows {
		page.Products = append(page.Products, r.toDomain(barcodes[r.ID]))
	}
	return page, nil
}

func (s *Store) ClearAll(ctx context.Context) error {
	return s.dialect.truncate(ctx, s.db)
}

func (s *Store) getProduct(ctx context.Context, q sqlx.ExtContext, id int64) (*domain.Product, error) {
	var row productRow
	if err := sqlx.GetContext(ctx, q, &row, q.Rebind(`SELECT `+s.productColumns()+` FROM products p WHERE p.id = ?`), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrProductNotFound
		}
		return nil, err
	}
	barcodes, err := barcodesByProduct(ctx, q, []int64{id})
	if err != nil {
		return nil, err
	}
	product := row.toDomain(barcodes[id])
	return &product, nil
}

// mapWriteError turns a unique violation that slipped past the pre-checks into its sentinel.
func (s *Store) mapWriteError(err error) error {
	if !s.dialect.isDuplicate(err) {
		return err
	}
	if strings.Contains(err.Error(), "system_id") {
		return store.ErrDuplicateSystemID
	}
	return store.ErrDuplicateBarcode
}

func systemIDOwner(ctx context.Context, q sqlx.ExtContext, systemID string) (int64, error) {
	var id int64
	err := sqlx.GetContext(ctx, q, &id, q.Rebind(`SELECT id FROM products WHERE system_id = ? ORDER BY id LIMIT 1`), systemID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return id, err
}

// takenBarcodes returns the requested barcodes owned by a product other than owner.
func takenBarcodes(ctx context.Context, q sqlx.ExtContext, barcodes []string, owner int64) ([]string, error) {
	if len(barcodes) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`SELECT barcode FROM barcodes WHERE barcode IN (?) AND product_id <> ?`, barcodes, owner)
	if err != nil {
		return nil, err
	}
	var found []string
	if err := sqlx.SelectContext(ctx, q, &found, q.Rebind(query), args...); err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(found))
	for _, b := range found {
		set[b] = struct{}{}
	}
	taken := make([]string, 0, len(found))
	for _, b := range barcodes {
		if _, ok := set[b]; ok {
			taken = append(taken, b)
		}
	}
	return taken, nil
}

func insertBarcodes(ctx context.Context, q sqlx.ExtContext, productID int64, barcodes []string) error {
	if len(barcodes) == 0 {
		return nil
	}
	args := make([]any, 0, len(barcodes)*2)
	for _, b := range barcodes {
		args = append(args, productID, b)
	}
	_, err := q.ExecContext(ctx, q.Rebind(`INSERT INTO barcodes (product_id, barcode) VALUES `+placeholders(len(barcodes), 2)), args...)
	return err
}
