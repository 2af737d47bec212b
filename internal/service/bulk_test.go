package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"stockscan/backend/internal/cache"
	"stockscan/backend/internal/csvimport"
	"stockscan/backend/internal/domain"
	"stockscan/backend/internal/store"
	"stockscan/backend/internal/store/memory"
)

func TestImportProductsReconcilesBySQLServerID(t *testing.T) {
	svc := newTestService()

	first, err := svc.ImportProducts(adminCtx(), "", []domain.ProductImportRecord{
		{Name: "Arroz", Code: "ARZ", SQLServerID: "1"},
		{Name: " Cafe ", Code: "CAF", SQLServerID: "2"},
		{Name: "", Code: "SEM", SQLServerID: "3"},
		{Name: "Sem id", Code: "SID"},
	})
	if err != nil {
		t.Fatalf("first chunk: %v", err)
	}
	if first.Counts != (domain.ImportCounts{Inserted: 2, Skipped: 2}) {
		t.Fatalf("unexpected first counts: %+v", first.Counts)
	}
	if first.Chunks != 1 || first.Records != 4 || first.Progress != nil {
		t.Fatalf("unexpected first result: %+v", first)
	}

	second, err := svc.ImportProducts(adminCtx(), "", []domain.ProductImportRecord{
		{Name: "Arroz Premium", SQLServerID: "1", ImageID: "img-1"},
		{Name: "Cafe", Code: "ARZ", SQLServerID: "2"},
		{Name: "Novo", Code: "CAF", SQLServerID: "4"},
	})
	if err != nil {
		t.Fatalf("second chunk: %v", err)
	}
	if second.Counts != (domain.ImportCounts{Updated: 1, Skipped: 2}) {
		t.Fatalf("unexpected second counts: %+v", second.Counts)
	}

	page, err := svc.ListProducts(context.Background(), domain.ProductQuery{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.AbsoluteTotal != 2 {
		t.Fatalf("expected 2 products, got %d", page.AbsoluteTotal)
	}
	arroz := page.Products[0]
	if arroz.Name != "Arroz Premium" || arroz.SystemID != "ARZ" {
		t.Fatalf("expected updated name with kept code, got %+v", arroz)
	}
	if arroz.ImageID == nil || *arroz.ImageID != "img-1" {
		t.Fatalf("expected image id img-1, got %v", arroz.ImageID)
	}
	if page.Products[1].Name != "Cafe" {
		t.Fatalf("expected trimmed name Cafe, got %q", page.Products[1].Name)
	}
}

func TestImportBarcodesIsIdempotent(t *testing.T) {
	svc := newTestService()
	if _, err := svc.ImportProducts(adminCtx(), "", []domain.ProductImportRecord{{Name: "Arroz", Code: "ARZ", SQLServerID: "10"}}); err != nil {
		t.Fatalf("seed products: %v", err)
	}

	records := []domain.BarcodeImportRecord{
		{SQLServerID: "10", Barcode: "789100"},
		{SQLServerID: "10", Barcode: "789100"},
		{SQLServerID: "99", Barcode: "789999"},
		{SQLServerID: "10", Barcode: ""},
	}
	first, err := svc.ImportBarcodes(adminCtx(), "", records)
	if err != nil {
		t.Fatalf("first import: %v", err)
	}
	if first.Counts != (domain.ImportCounts{Inserted: 1, Skipped: 3}) {
		t.Fatalf("unexpected first counts: %+v", first.Counts)
	}

	again, err := svc.ImportBarcodes(adminCtx(), "", records)
	if err != nil {
		t.Fatalf("second import: %v", err)
	}
	if again.Counts != (domain.ImportCounts{Skipped: 4}) {
		t.Fatalf("expected re-import to skip everything, got %+v", again.Counts)
	}

	product, err := svc.ValidateBarcode(context.Background(), "789100", domain.ScanEntry)
	if err != nil {
		t.Fatalf("validate imported barcode: %v", err)
	}
	if product.SystemID != "ARZ" {
		t.Fatalf("expected barcode attached to ARZ, got %+v", product)
	}
}

func TestImportImagesUpdatesOnlyChangedURLs(t *testing.T) {
	svc := newTestService()
	if _, err := svc.ImportProducts(adminCtx(), "", []domain.ProductImportRecord{
		{Name: "Arroz", Code: "ARZ", SQLServerID: "1", ImageID: "img-1"},
		{Name: "Cafe", Code: "CAF", SQLServerID: "2", ImageID: "img-1"},
	}); err != nil {
		t.Fatalf("seed products: %v", err)
	}

	records := []domain.ImageImportRecord{
		{ImageID: "img-1", ImageURL: "https://cdn.test/1.jpg"},
		{ImageID: "img-9", ImageURL: "https://cdn.test/9.jpg"},
	}
	first, err := svc.ImportImages(adminCtx(), "", records)
	if err != nil {
		t.Fatalf("first import: %v", err)
	}
	if first.Counts != (domain.ImportCounts{Updated: 2, Skipped: 1}) {
		t.Fatalf("unexpected first counts: %+v", first.Counts)
	}

	again, err := svc.ImportImages(adminCtx(), "", records)
	if err != nil {
		t.Fatalf("second import: %v", err)
	}
	if again.Counts != (domain.ImportCounts{Skipped: 2}) {
		t.Fatalf("expected unchanged urls to be skipped, got %+v", again.Counts)
	}
}

func TestImportImagesWithoutImageColumn(t *testing.T) {
	svc := newTestService(memory.WithoutImageURL())

	_, err := svc.ImportImages(adminCtx(), "", []domain.ImageImportRecord{{ImageID: "1", ImageURL: "https://cdn.test/1.jpg"}})
	if !errors.Is(err, store.ErrMissingOptionalColumn) {
		t.Fatalf("expected missing optional column, got %v", err)
	}
	if svc.Capabilities().ImageURL {
		t.Fatalf("expected capabilities to report image_url missing")
	}
}

func TestImportChunkLimits(t *testing.T) {
	svc := New(memory.New(), Options{Logger: zerolog.Nop(), ChunkSize: 2, MaxChunk: 2})

	if _, err := svc.ImportBarcodes(adminCtx(), "", nil); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected empty chunk rejected, got %v", err)
	}
	oversize := make([]domain.BarcodeImportRecord, 3)
	if _, err := svc.ImportBarcodes(adminCtx(), "", oversize); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected oversize chunk rejected, got %v", err)
	}
	if _, err := svc.ImportBarcodes(operatorCtx(), "", oversize[:1]); !errors.Is(err, store.ErrForbidden) {
		t.Fatalf("expected operator forbidden, got %v", err)
	}
}

func TestImportSessionAccumulatesProgress(t *testing.T) {
	svc := newTestService()

	session, err := svc.StartImport(adminCtx(), domain.ImportProducts)
	if err != nil {
		t.Fatalf("start import: %v", err)
	}
	if session.SessionID == "" || session.Kind != domain.ImportProducts {
		t.Fatalf("unexpected session: %+v", session)
	}

	if _, err := svc.ImportProducts(adminCtx(), session.SessionID, []domain.ProductImportRecord{
		{Name: "Arroz", Code: "ARZ", SQLServerID: "1"},
		{Name: "Cafe", Code: "CAF", SQLServerID: "2"},
	}); err != nil {
		t.Fatalf("chunk 1: %v", err)
	}
	second, err := svc.ImportProducts(adminCtx(), session.SessionID, []domain.ProductImportRecord{
		{Name: "Arroz Premium", SQLServerID: "1"},
		{Name: "", Code: "X", SQLServerID: "3"},
	})
	if err != nil {
		t.Fatalf("chunk 2: %v", err)
	}
	want := domain.ImportCounts{Inserted: 2, Updated: 1, Skipped: 1}
	if second.Progress == nil || second.Progress.Chunks != 2 || second.Progress.Counts != want {
		t.Fatalf("unexpected running progress: %+v", second.Progress)
	}

	progress, err := svc.ImportProgress(adminCtx(), session.SessionID)
	if err != nil {
		t.Fatalf("import progress: %v", err)
	}
	if progress.Chunks != 2 || progress.Counts != want {
		t.Fatalf("unexpected stored progress: %+v", progress)
	}

	if _, err := svc.ImportBarcodes(adminCtx(), session.SessionID, []domain.BarcodeImportRecord{{SQLServerID: "1", Barcode: "1"}}); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected kind mismatch rejected, got %v", err)
	}
}

func TestImportUnknownSessionCommitsNothing(t *testing.T) {
	svc := newTestService()

	_, err := svc.ImportProducts(adminCtx(), "missing", []domain.ProductImportRecord{{Name: "Arroz", Code: "ARZ", SQLServerID: "1"}})
	if !errors.Is(err, cache.ErrSessionNotFound) {
		t.Fatalf("expected session not found, got %v", err)
	}
	page, err := svc.ListProducts(context.Background(), domain.ProductQuery{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.AbsoluteTotal != 0 {
		t.Fatalf("expected nothing committed, got %d products", page.AbsoluteTotal)
	}
}

func TestImportSessionExpires(t *testing.T) {
	progress := cache.NewMemoryProgressStore(time.Millisecond)
	svc := New(memory.New(), Options{Logger: zerolog.Nop(), Progress: progress})

	session, err := svc.StartImport(adminCtx(), domain.ImportImages)
	if err != nil {
		t.Fatalf("start import: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if _, err := svc.ImportProgress(adminCtx(), session.SessionID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected expired session, got %v", err)
	}
}

const productsCSV = "nome;codigo;id_sql\n" +
	"Arroz;ARZ;1\n" +
	"Cafe;CAF;2\n" +
	"Feijao;FEI;3\n" +
	"Oleo;OLE;4\n" +
	"Sal;SAL;5\n"

func TestImportCSVReconcilesInChunks(t *testing.T) {
	svc := New(memory.New(), Options{Logger: zerolog.Nop(), ChunkSize: 2})

	result, err := svc.ImportCSV(adminCtx(), domain.ImportProducts, "", strings.NewReader(productsCSV), "text/csv")
	if err != nil {
		t.Fatalf("import csv: %v", err)
	}
	if result.Chunks != 3 || result.Records != 5 || result.Counts.Inserted != 5 {
		t.Fatalf("unexpected result: %+v", result)
	}
}

type failingRepo struct {
	*memory.Store
	failOn int
	calls  int
}

var errChunkFailed = errors.New("connection reset")

func (r *failingRepo) ReconcileProducts(ctx context.Context, records []domain.ProductImportRecord) (domain.ImportCounts, error) {
	r.calls++
	if r.calls == r.failOn {
		return domain.ImportCounts{}, errChunkFailed
	}
	return r.Store.ReconcileProducts(ctx, records)
}

func TestImportCSVStopsAtFailedChunk(t *testing.T) {
	repo := &failingRepo{Store: memory.New(), failOn: 2}
	svc := New(repo, Options{Logger: zerolog.Nop(), ChunkSize: 2})

	_, err := svc.ImportCSV(adminCtx(), domain.ImportProducts, "", strings.NewReader(productsCSV), "")
	var chunkErr *ChunkError
	if !errors.As(err, &chunkErr) {
		t.Fatalf("expected chunk error, got %v", err)
	}
	if chunkErr.Index != 1 || chunkErr.Committed.Chunks != 1 || chunkErr.Committed.Counts.Inserted != 2 {
		t.Fatalf("unexpected chunk error: %+v", chunkErr)
	}
	if !errors.Is(err, errChunkFailed) {
		t.Fatalf("expected chunk error to wrap cause")
	}
	if repo.calls != 2 {
		t.Fatalf("expected import to stop after failing chunk, got %d calls", repo.calls)
	}

	page, err := svc.ListProducts(context.Background(), domain.ProductQuery{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.AbsoluteTotal != 2 {
		t.Fatalf("expected first chunk kept, got %d products", page.AbsoluteTotal)
	}
}

func TestImportCSVRejectsBadHeader(t *testing.T) {
	svc := newTestService()

	_, err := svc.ImportCSV(adminCtx(), domain.ImportBarcodes, "", strings.NewReader("id_sql;preco\n1;2\n"), "text/csv")
	var headerErr *csvimport.HeaderError
	if !errors.As(err, &headerErr) {
		t.Fatalf("expected header error, got %v", err)
	}

	_, err = svc.ImportCSV(adminCtx(), domain.ImportBarcodes, "", strings.NewReader("id_sql;codigo_barras\n"), "text/csv")
	if !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected header-only file rejected, got %v", err)
	}
}
