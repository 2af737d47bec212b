package sqlstore

import (
	"context"
	"fmt"

	"stockscan/backend/internal/domain"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS products (
		id BIGSERIAL PRIMARY KEY,
		system_id TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		sql_server_id TEXT NULL,
		image_id TEXT NULL,
		image_url TEXT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_products_sql_server_id ON products (sql_server_id)`,
	`CREATE INDEX IF NOT EXISTS idx_products_image_id ON products (image_id)`,
	`CREATE TABLE IF NOT EXISTS barcodes (
		id BIGSERIAL PRIMARY KEY,
		product_id BIGINT NOT NULL REFERENCES products (id) ON DELETE CASCADE,
		barcode TEXT NOT NULL UNIQUE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_barcodes_product_id ON barcodes (product_id)`,
	`CREATE TABLE IF NOT EXISTS scans (
		id BIGSERIAL PRIMARY KEY,
		barcode TEXT NOT NULL,
		type TEXT NOT NULL CHECK (type IN ('entry', 'exit')),
		scanned_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_scans_barcode ON scans (barcode)`,
	`CREATE INDEX IF NOT EXISTS idx_scans_type_scanned_at ON scans (type, scanned_at)`,
	`CREATE TABLE IF NOT EXISTS users (
		username TEXT PRIMARY KEY,
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT true,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS products (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		system_id VARCHAR(191) NOT NULL UNIQUE,
		name VARCHAR(255) NOT NULL,
		sql_server_id VARCHAR(191) NULL,
		image_id VARCHAR(191) NULL,
		image_url TEXT NULL,
		INDEX idx_products_sql_server_id (sql_server_id),
		INDEX idx_products_image_id (image_id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS barcodes (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		product_id BIGINT NOT NULL,
		barcode VARCHAR(191) NOT NULL UNIQUE,
		INDEX idx_barcodes_product_id (product_id),
		CONSTRAINT fk_barcodes_product FOREIGN KEY (product_id) REFERENCES products (id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS scans (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		barcode VARCHAR(191) NOT NULL,
		type ENUM('entry', 'exit') NOT NULL,
		scanned_at DATETIME(3) NOT NULL,
		INDEX idx_scans_barcode (barcode),
		INDEX idx_scans_type_scanned_at (type, scanned_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS users (
		username VARCHAR(191) PRIMARY KEY,
		password_hash VARCHAR(255) NOT NULL,
		role VARCHAR(32) NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at DATETIME(3) NOT NULL
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

// migrate creates missing tables. Existing tables are left as they are, so a
// legacy products table without image_url stays that way and is detected by probe.
func (s *Store) migrate(ctx context.Context) error {
	for i, stmt := range s.dialect.schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration step %d: %w", i+1, err)
		}
	}
	return nil
}

func (s *Store) probe(ctx context.Context) (domain.SchemaCapabilities, error) {
	var caps domain.SchemaCapabilities
	hasImageURL, err := s.hasColumn(ctx, "products", "image_url")
	if err != nil {
		return caps, err
	}
	caps.ImageURL = hasImageURL

	if s.scanIDs, err = s.hasColumn(ctx, "scans", "id"); err != nil {
		return caps, err
	}
	return caps, nil
}

// recentScanOrder breaks scanned_at ties by insertion order when the table has an id.
func (s *Store) recentScanOrder() string {
	if s.scanIDs {
		return `s.scanned_at DESC, s.id DESC`
	}
	return `s.scanned_at DESC, s.barcode`
}

func (s *Store) hasColumn(ctx context.Context, table string, column string) (bool, error) {
	var n int
	query := s.db.Rebind(`
		SELECT COUNT(*)
		FROM information_schema.columns
		WHERE table_schema = ` + s.dialect.currentSchema + ` AND table_name = ? AND column_name = ?
	`)
	if err := s.db.GetContext(ctx, &n, query, table, column); err != nil {
		return false, fmt.Errorf("probe %s.%s: %w", table, column, err)
	}
	return n > 0, nil
}
