package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	"stockscan/backend/internal/domain"
	"stockscan/backend/internal/store"
)

// levelExpr is the signed movement of one scan row; unknown types count as zero.
const levelExpr = `CASE WHEN type = 'entry' THEN 1 WHEN type = 'exit' THEN -1 ELSE 0 END`

const barcodeLevels = `SELECT barcode, SUM(` + levelExpr + `) AS level FROM scans GROUP BY barcode`

// scanInsertBatch bounds the rows of one multi-row scan INSERT.
const scanInsertBatch = 500

type Options struct {
	Driver       string
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
	AutoMigrate  bool
	Logger       zerolog.Logger
}

type Store struct {
	db      *sqlx.DB
	dialect dialect
	caps    domain.SchemaCapabilities
	// scanIDs is false on legacy scans tables without a surrogate key.
	scanIDs bool
	log     zerolog.Logger
}

func New(ctx context.Context, opts Options) (*Store, error) {
	d, err := dialectFor(opts.Driver)
	if err != nil {
		return nil, err
	}
	dsn, err := d.normalizeDSN(opts.DSN)
	if err != nil {
		return nil, err
	}

	db, err := sqlx.Open(d.driverName, dsn)
	if err != nil {
		return nil, err
	}

	maxOpen := opts.MaxOpenConns
	if maxOpen < 1 {
		maxOpen = 10
	}
	maxIdle := opts.MaxIdleConns
	if maxIdle < 0 || maxIdle > maxOpen {
		maxIdle = maxOpen
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{db: db, dialect: d, log: opts.Logger.With().Str("component", "sqlstore").Str("driver", d.name).Logger()}
	if opts.AutoMigrate {
		if err := s.migrate(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	caps, err := s.probe(ctx)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s.caps = caps
	if !caps.ImageURL {
		s.log.Warn().Msg("products.image_url not present; image data disabled")
	}
	s.log.Info().Bool("image_url", caps.ImageURL).Bool("scan_ids", s.scanIDs).Int("max_open_conns", maxOpen).Msg("store ready")

	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Capabilities() domain.SchemaCapabilities {
	return s.caps
}

func (s *Store) begin(ctx context.Context) (*sqlx.Tx, error) {
	return s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
}

// imageColumn selects alias.image_url, or a typed NULL when the column is absent.
func (s *Store) imageColumn(alias string) string {
	if !s.caps.ImageURL {
		return "CAST(NULL AS CHAR(1)) AS image_url"
	}
	return alias + ".image_url AS image_url"
}

// productFilter matches name, system id or any owned barcode, case-insensitively.
func productFilter(alias string, query string) (string, []any) {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return "", nil
	}
	pattern := "%" + q + "%"
	clause := fmt.Sprintf(`(LOWER(%[1]s.name) LIKE ? OR LOWER(%[1]s.system_id) LIKE ? OR EXISTS (
		SELECT 1 FROM barcodes fb WHERE fb.product_id = %[1]s.id AND LOWER(fb.barcode) LIKE ?
	))`, alias)
	return clause, []any{pattern, pattern, pattern}
}

func offset(page int, pageSize int) int {
	if page < 1 {
		page = 1
	}
	return (page - 1) * pageSize
}

func nullable(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func optional(v sql.NullString) *string {
	if !v.Valid || v.String == "" {
		return nil
	}
	s := v.String
	return &s
}

// barcodesByProduct loads the barcodes of the given products in insertion order.
func barcodesByProduct(ctx context.Context, q sqlx.ExtContext, ids []int64) (map[int64][]string, error) {
	out := make(map[int64][]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	query, args, err := sqlx.In(`SELECT product_id, barcode FROM barcodes WHERE product_id IN (?) ORDER BY product_id, barcode`, ids)
	if err != nil {
		return nil, err
	}
	var rows []struct {
		ProductID int64  `db:"product_id"`
		Barcode   string `db:"barcode"`
	}
	if err := sqlx.SelectContext(ctx, q, &rows, q.Rebind(query), args...); err != nil {
		return nil, err
	}
	for _, r := range rows {
		out[r.ProductID] = append(out[r.ProductID], r.Barcode)
	}
	return out, nil
}

var _ store.Repository = (*Store)(nil)
