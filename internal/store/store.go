package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"stockscan/backend/internal/domain"
)

var (
	ErrInvalidInput          = errors.New("invalid input")
	ErrNotFound              = errors.New("not found")
	ErrProductNotFound       = fmt.Errorf("product %w", ErrNotFound)
	ErrBarcodeNotFound       = fmt.Errorf("barcode %w", ErrNotFound)
	ErrDuplicateSystemID     = errors.New("system id already exists")
	ErrDuplicateBarcode      = errors.New("barcode already exists")
	ErrInsufficientStock     = errors.New("insufficient stock")
	ErrNoBarcodesFound       = errors.New("no barcodes found in text")
	ErrMissingOptionalColumn = errors.New("optional column missing from store")
	ErrUnauthorized          = errors.New("unauthorized")
	ErrForbidden             = errors.New("forbidden")
)

type DuplicateBarcodeError struct {
	Barcodes []string
}

func (e *DuplicateBarcodeError) Error() string {
	return fmt.Sprintf("barcodes already in use: %s", strings.Join(e.Barcodes, ", "))
}

func (e *DuplicateBarcodeError) Unwrap() error { return ErrDuplicateBarcode }

type InsufficientStockError struct {
	Barcode     string
	ProductName string
	Available   int
	Requested   int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %q: in stock %d, exit requested %d", e.ProductName, e.Available, e.Requested)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

type MissingColumnError struct {
	Table  string
	Column string
}

func (e *MissingColumnError) Error() string {
	return fmt.Sprintf("column %s.%s not found", e.Table, e.Column)
}

func (e *MissingColumnError) Unwrap() error { return ErrMissingOptionalColumn }

// ScanBatch is one scan request: Quantity rows of Type for Barcode, all stamped At.
type ScanBatch struct {
	Barcode  string
	Type     domain.ScanType
	Quantity int
	At       time.Time
}

type Repository interface {
	Capabilities() domain.SchemaCapabilities

	StockLevel(ctx context.Context, barcode string) (int, error)
	SummarizeStock(ctx context.Context, query domain.ProductQuery) (domain.StockSummaryPage, error)
	ExportStock(ctx context.Context) ([]domain.StockExportRow, error)

	CreateProduct(ctx context.Context, input domain.ProductInput) (*domain.Product, error)
	UpdateProduct(ctx context.Context, id int64, input domain.ProductInput) (*domain.Product, error)
	ListProducts(ctx context.Context, query domain.ProductQuery) (domain.ProductPage, error)
	ClearAll(ctx context.Context) error

	ReconcileProducts(ctx context.Context, records []domain.ProductImportRecord) (domain.ImportCounts, error)
	ReconcileBarcodes(ctx context.Context, records []domain.BarcodeImportRecord) (domain.ImportCounts, error)
	ReconcileImages(ctx context.Context, records []domain.ImageImportRecord) (domain.ImportCounts, error)

	LookupBarcode(ctx context.Context, barcode string) (*domain.ScannedProduct, error)
	RecordScans(ctx context.Context, batch ScanBatch) (*domain.ScanReceipt, error)
	RecentScans(ctx context.Context, scanType domain.ScanType, limit int) ([]domain.RecentScan, error)
	ClearScans(ctx context.Context) (int64, error)

	DeleteBarcodes(ctx context.Context, barcodes []string) (scans int64, removed int64, err error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

// NormalizeBarcodes trims values, drops empties and keeps the first occurrence of each.
func NormalizeBarcodes(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, raw := range values {
		v := strings.TrimSpace(raw)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// DiffBarcodes returns the barcodes of next missing from current, and those of current missing from next.
func DiffBarcodes(current []string, next []string) (toAdd []string, toRemove []string) {
	have := make(map[string]struct{}, len(current))
	for _, b := range current {
		have[b] = struct{}{}
	}
	want := make(map[string]struct{}, len(next))
	for _, b := range next {
		want[b] = struct{}{}
		if _, ok := have[b]; !ok {
			toAdd = append(toAdd, b)
		}
	}
	for _, b := range current {
		if _, ok := want[b]; !ok {
			toRemove = append(toRemove, b)
		}
	}
	return toAdd, toRemove
}

func TotalPages(total int, pageSize int) int {
	if pageSize < 1 || total < 1 {
		return 1
	}
	return (total + pageSize - 1) / pageSize
}
