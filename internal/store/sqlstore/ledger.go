package sqlstore

import (
	"context"
	"database/sql"

	"stockscan/backend/internal/domain"
	"stockscan/backend/internal/store"
)

func (s *Store) StockLevel(ctx context.Context, barcode string) (int, error) {
	var level int
	err := s.db.GetContext(ctx, &level, s.db.Rebind(`SELECT COALESCE(SUM(`+levelExpr+`), 0) FROM scans WHERE barcode = ?`), barcode)
	return level, err
}

// productLevels joins every product to the summed level of its barcodes.
const productLevels = `
	FROM products p
	JOIN (
		SELECT b.product_id, SUM(COALESCE(l.level, 0)) AS stock_level
		FROM barcodes b
		LEFT JOIN (` + barcodeLevels + `) l ON l.barcode = b.barcode
		GROUP BY b.product_id
	) agg ON agg.product_id = p.id
	WHERE agg.stock_level > 0`

func (s *Store) SummarizeStock(ctx context.Context, query domain.ProductQuery) (domain.StockSummaryPage, error) {
	page := domain.StockSummaryPage{Summary: []domain.StockSummaryRow{}, Page: query.Page, PageSize: query.PageSize}

	filter, args := productFilter("p", query.Query)
	where := productLevels
	if filter != "" {
		where += " AND " + filter
	}

	if err := s.db.GetContext(ctx, &page.TotalMatching, s.db.Rebind(`SELECT COUNT(*) `+where), args...); err != nil {
		return page, err
	}
	if err := s.db.GetContext(ctx, &page.TotalProducts, `SELECT COUNT(*) FROM products`); err != nil {
		return page, err
	}
	if err := s.db.GetContext(ctx, &page.TotalStockItems, `SELECT COALESCE(SUM(`+levelExpr+`), 0) FROM scans`); err != nil {
		return page, err
	}
	page.TotalPages = store.TotalPages(page.TotalMatching, query.PageSize)

	var rows []struct {
		ID         int64          `db:"id"`
		Name       string         `db:"name"`
		SystemID   string         `db:"system_id"`
		ImageURL   sql.NullString `db:"image_url"`
		StockLevel int            `db:"stock_level"`
	}
	listArgs := append(append([]any{}, args...), query.PageSize, offset(query.Page, query.PageSize))
	listQuery := `SELECT p.id, p.name, p.system_id, ` + s.imageColumn("p") + `, agg.stock_level` + where + ` ORDER BY p.name, p.id LIMIT ? OFFSET ?`
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
		codes := barcodes[r.ID]
		if codes == nil {
			codes = []string{}
		}
		page.Summary = append(page.Summary, domain.StockSummaryRow{
			ProductID:  r.ID,
			Name:       r.Name,
			SystemID:   r.SystemID,
			Barcodes:   codes,
			ImageURL:   optional(r.ImageURL),
			StockLevel: r.StockLevel,
		})
	}
	return page, nil
}

func (s *Store) ExportStock(ctx context.Context) ([]domain.StockExportRow, error) {
	var rows []struct {
		Name       string `db:"name"`
		SystemID   string `db:"system_id"`
		Barcode    string `db:"barcode"`
		StockLevel int    `db:"stock_level"`
	}
	err := s.db.SelectContext(ctx, &rows, `
		SELECT p.name, p.system_id, b.barcode, COALESCE(l.level, 0) AS stock_level
		FROM barcodes b
		JOIN products p ON p.id = b.product_id
		LEFT JOIN (`+barcodeLevels+`) l ON l.barcode = b.barcode
		ORDER BY p.name, p.id, b.barcode
	`)
	if err != nil {
		return nil, err
	}

	out := make([]domain.StockExportRow, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.StockExportRow{Name: r.Name, SystemID: r.SystemID, Barcode: r.Barcode, StockLevel: r.StockLevel})
	}
	return out, nil
}
