package service

import (
	"context"
	"errors"
	"slices"
	"testing"

	"stockscan/backend/internal/domain"
	"stockscan/backend/internal/store"
)

func TestAddProductNormalizesInput(t *testing.T) {
	svc := newTestService()

	product, err := svc.AddProduct(adminCtx(), domain.ProductInput{
		Name:     "  Cafe Torrado ",
		SystemID: " CAF-1 ",
		Barcodes: []string{" 789 ", "", "789", "790"},
	})
	if err != nil {
		t.Fatalf("add product: %v", err)
	}
	if product.ID == 0 || product.Name != "Cafe Torrado" || product.SystemID != "CAF-1" {
		t.Fatalf("unexpected product: %+v", product)
	}
	if !slices.Equal(product.Barcodes, []string{"789", "790"}) {
		t.Fatalf("expected deduplicated barcodes, got %v", product.Barcodes)
	}

	if _, err := svc.AddProduct(adminCtx(), domain.ProductInput{Name: " ", SystemID: "X"}); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected invalid input for blank name, got %v", err)
	}
}

func TestAddProductWithoutBarcodes(t *testing.T) {
	svc := newTestService()

	product := mustAddProduct(t, svc, "Sem codigo", "SC-1")
	if len(product.Barcodes) != 0 {
		t.Fatalf("expected no barcodes, got %v", product.Barcodes)
	}
}

func TestAddProductRejectsDuplicateSystemID(t *testing.T) {
	svc := newTestService()
	mustAddProduct(t, svc, "Cafe", "CAF-1", "111")

	_, err := svc.AddProduct(adminCtx(), domain.ProductInput{Name: "Outro", SystemID: "CAF-1", Barcodes: []string{"222"}})
	if !errors.Is(err, store.ErrDuplicateSystemID) {
		t.Fatalf("expected duplicate system id, got %v", err)
	}

	page, err := svc.ListProducts(context.Background(), domain.ProductQuery{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.AbsoluteTotal != 1 {
		t.Fatalf("expected store unchanged, got %d products", page.AbsoluteTotal)
	}
	if _, err := svc.ValidateBarcode(context.Background(), "222", domain.ScanEntry); !errors.Is(err, store.ErrBarcodeNotFound) {
		t.Fatalf("expected barcode 222 not written, got %v", err)
	}
}

func TestAddProductDuplicateBarcodeWritesNothing(t *testing.T) {
	svc := newTestService()
	mustAddProduct(t, svc, "Cafe", "CAF-1", "111")

	_, err := svc.AddProduct(adminCtx(), domain.ProductInput{Name: "Arroz", SystemID: "ARZ-1", Barcodes: []string{"222", "111"}})
	var dup *store.DuplicateBarcodeError
	if !errors.As(err, &dup) {
		t.Fatalf("expected duplicate barcode error, got %v", err)
	}
	if !slices.Equal(dup.Barcodes, []string{"111"}) {
		t.Fatalf("expected offending barcode 111, got %v", dup.Barcodes)
	}
	if !errors.Is(err, store.ErrDuplicateBarcode) {
		t.Fatalf("expected error to wrap ErrDuplicateBarcode")
	}

	page, err := svc.ListProducts(context.Background(), domain.ProductQuery{Query: "ARZ"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.TotalProducts != 0 {
		t.Fatalf("expected no product written, got %+v", page.Products)
	}
	if _, err := svc.ValidateBarcode(context.Background(), "222", domain.ScanEntry); !errors.Is(err, store.ErrBarcodeNotFound) {
		t.Fatalf("expected barcode 222 not written, got %v", err)
	}
}

func TestCatalogMutationsRequireAdmin(t *testing.T) {
	svc := newTestService()
	input := domain.ProductInput{Name: "Cafe", SystemID: "CAF"}

	if _, err := svc.AddProduct(context.Background(), input); !errors.Is(err, store.ErrUnauthorized) {
		t.Fatalf("expected unauthorized without actor, got %v", err)
	}
	if _, err := svc.AddProduct(operatorCtx(), input); !errors.Is(err, store.ErrForbidden) {
		t.Fatalf("expected forbidden for operator, got %v", err)
	}
	if _, err := svc.UpdateProduct(operatorCtx(), 1, input); !errors.Is(err, store.ErrForbidden) {
		t.Fatalf("expected forbidden update for operator, got %v", err)
	}
	if err := svc.ClearAll(operatorCtx()); !errors.Is(err, store.ErrForbidden) {
		t.Fatalf("expected forbidden clear for operator, got %v", err)
	}
}

func TestUpdateProductAppliesBarcodeDelta(t *testing.T) {
	svc := newTestService()
	product := mustAddProduct(t, svc, "Cafe", "CAF", "111", "222")
	mustScan(t, svc, "222", domain.ScanEntry, 2)

	updated, err := svc.UpdateProduct(adminCtx(), product.ID, domain.ProductInput{
		Name:     "Cafe Especial",
		SystemID: "CAF",
		Barcodes: []string{"222", "333"},
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Name != "Cafe Especial" {
		t.Fatalf("expected renamed product, got %q", updated.Name)
	}
	got := slices.Clone(updated.Barcodes)
	slices.Sort(got)
	if !slices.Equal(got, []string{"222", "333"}) {
		t.Fatalf("expected barcodes [222 333], got %v", updated.Barcodes)
	}
	if _, err := svc.ValidateBarcode(context.Background(), "111", domain.ScanEntry); !errors.Is(err, store.ErrBarcodeNotFound) {
		t.Fatalf("expected 111 detached, got %v", err)
	}
	if level := mustLevel(t, svc, "222"); level != 2 {
		t.Fatalf("expected kept barcode to keep its scans, got level %d", level)
	}
}

func TestUpdateProductRejectsConflicts(t *testing.T) {
	svc := newTestService()
	cafe := mustAddProduct(t, svc, "Cafe", "CAF", "111")
	mustAddProduct(t, svc, "Arroz", "ARZ", "222")

	if _, err := svc.UpdateProduct(adminCtx(), cafe.ID, domain.ProductInput{Name: "Cafe", SystemID: "ARZ", Barcodes: []string{"111"}}); !errors.Is(err, store.ErrDuplicateSystemID) {
		t.Fatalf("expected duplicate system id, got %v", err)
	}
	if _, err := svc.UpdateProduct(adminCtx(), cafe.ID, domain.ProductInput{Name: "Cafe", SystemID: "CAF", Barcodes: []string{"111", "222"}}); !errors.Is(err, store.ErrDuplicateBarcode) {
		t.Fatalf("expected duplicate barcode, got %v", err)
	}
	if _, err := svc.UpdateProduct(adminCtx(), cafe.ID, domain.ProductInput{Name: "Cafe", SystemID: "CAF", Barcodes: []string{"111"}}); err != nil {
		t.Fatalf("expected update keeping own values to succeed, got %v", err)
	}
}

func TestUpdateProductUnknownID(t *testing.T) {
	svc := newTestService()
	input := domain.ProductInput{Name: "Cafe", SystemID: "CAF"}

	for _, id := range []int64{0, -3, 999} {
		if _, err := svc.UpdateProduct(adminCtx(), id, input); !errors.Is(err, store.ErrProductNotFound) {
			t.Fatalf("id %d: expected product not found, got %v", id, err)
		}
	}
}

func TestListProductsFiltersAndPaginates(t *testing.T) {
	svc := newTestService()
	mustAddProduct(t, svc, "Cafe Torrado", "CAF-1", "7891")
	mustAddProduct(t, svc, "Arroz", "ARZ-1", "4560")

	cases := []struct {
		query string
		want  string
	}{
		{query: "cafe", want: "CAF-1"},
		{query: "arz", want: "ARZ-1"},
		{query: "456", want: "ARZ-1"},
	}
	for _, tc := range cases {
		page, err := svc.ListProducts(context.Background(), domain.ProductQuery{Query: tc.query})
		if err != nil {
			t.Fatalf("list %q: %v", tc.query, err)
		}
		if page.TotalProducts != 1 || page.Products[0].SystemID != tc.want {
			t.Fatalf("query %q: expected %s, got %+v", tc.query, tc.want, page.Products)
		}
		if page.AbsoluteTotal != 2 {
			t.Fatalf("query %q: expected absolute total 2, got %d", tc.query, page.AbsoluteTotal)
		}
	}

	page, err := svc.ListProducts(context.Background(), domain.ProductQuery{Page: 2, PageSize: 1})
	if err != nil {
		t.Fatalf("list page 2: %v", err)
	}
	if page.TotalPages != 2 || len(page.Products) != 1 || page.Products[0].Name != "Cafe Torrado" {
		t.Fatalf("unexpected second page: %+v", page)
	}

	capped, err := svc.ListProducts(context.Background(), domain.ProductQuery{PageSize: 5000})
	if err != nil {
		t.Fatalf("list capped: %v", err)
	}
	if capped.PageSize != maxPageSize {
		t.Fatalf("expected page size capped at %d, got %d", maxPageSize, capped.PageSize)
	}
}

func TestClearAllEmptiesEverything(t *testing.T) {
	svc := newTestService()
	mustAddProduct(t, svc, "Cafe", "CAF", "111")
	mustScan(t, svc, "111", domain.ScanEntry, 3)

	if err := svc.ClearAll(adminCtx()); err != nil {
		t.Fatalf("clear all: %v", err)
	}

	page, err := svc.ListProducts(context.Background(), domain.ProductQuery{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.AbsoluteTotal != 0 || len(page.Products) != 0 {
		t.Fatalf("expected empty catalog, got %+v", page)
	}
	rows, err := svc.ExportStock(context.Background())
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected empty export, got %d rows", len(rows))
	}
	recent, err := svc.RecentScans(context.Background(), domain.ScanEntry)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 0 {
		t.Fatalf("expected no recent scans, got %d", len(recent))
	}
	if level := mustLevel(t, svc, "111"); level != 0 {
		t.Fatalf("expected level 0, got %d", level)
	}

	mustAddProduct(t, svc, "Cafe", "CAF", "111")
}
