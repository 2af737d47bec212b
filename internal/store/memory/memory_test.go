package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"stockscan/backend/internal/domain"
	"stockscan/backend/internal/store"
)

func TestConcurrentExitsNeverOversell(t *testing.T) {
	s := New()
	ctx := context.Background()
	if _, err := s.CreateProduct(ctx, domain.ProductInput{Name: "Cafe", SystemID: "CAF", Barcodes: []string{"111"}}); err != nil {
		t.Fatalf("create product: %v", err)
	}
	now := time.Now().UTC()
	if _, err := s.RecordScans(ctx, store.ScanBatch{Barcode: "111", Type: domain.ScanEntry, Quantity: 5, At: now}); err != nil {
		t.Fatalf("entry: %v", err)
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
		refused  int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.RecordScans(ctx, store.ScanBatch{Barcode: "111", Type: domain.ScanExit, Quantity: 1, At: now})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				accepted++
			case errors.Is(err, store.ErrInsufficientStock):
				refused++
			default:
				t.Errorf("unexpected error %v", err)
			}
		}()
	}
	wg.Wait()

	if accepted != 5 || refused != 15 {
		t.Fatalf("expected 5 accepted and 15 refused, got %d/%d", accepted, refused)
	}
	level, err := s.StockLevel(ctx, "111")
	if err != nil {
		t.Fatalf("stock level: %v", err)
	}
	if level != 0 {
		t.Fatalf("expected stock 0, got %d", level)
	}
}

func TestDeleteBarcodesRemovesScansAndMappings(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	scans, removed, err := s.DeleteBarcodes(ctx, []string{"7896089011234", "0000000000000"})
	if err != nil {
		t.Fatalf("delete barcodes: %v", err)
	}
	if scans != 5 || removed != 1 {
		t.Fatalf("expected 5 scans and 1 barcode removed, got %d/%d", scans, removed)
	}
	if _, err := s.LookupBarcode(ctx, "7896089011234"); !errors.Is(err, store.ErrBarcodeNotFound) {
		t.Fatalf("expected barcode gone, got %v", err)
	}
	if _, err := s.LookupBarcode(ctx, "7896089011241"); err != nil {
		t.Fatalf("expected sibling barcode kept, got %v", err)
	}
}

func TestWithoutImageURLHidesImages(t *testing.T) {
	s := New(WithoutImageURL())
	if s.Capabilities().ImageURL {
		t.Fatalf("expected image_url capability off")
	}
	if _, err := s.ReconcileImages(context.Background(), []domain.ImageImportRecord{{ImageID: "9", ImageURL: "http://img/9.jpg"}}); !errors.Is(err, store.ErrMissingOptionalColumn) {
		t.Fatalf("expected missing column error, got %v", err)
	}
}
