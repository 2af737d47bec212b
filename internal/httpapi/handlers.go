package httpapi

import (
	"encoding/csv"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"stockscan/backend/internal/domain"
	"stockscan/backend/internal/store"
)

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, envelope{
		"success":      true,
		"message":      "ok",
		"at":           a.now().UTC().Format(time.RFC3339),
		"capabilities": a.service.Capabilities(),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !a.loginLimiter.Allow(clientKey(r)) {
		a.writeError(w, r, http.StatusTooManyRequests, fmt.Errorf("too many login attempts"))
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)

	var req domain.LoginRequest
	if err := a.decodeJSON(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		a.log.Info().Str("username", req.Username).Str("client", clientKey(r)).Msg("login rejected")
		a.writeError(w, r, http.StatusUnauthorized, err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		result
		domain.LoginResponse
	}{ok("logged in"), resp})
}

func (a *API) handleListProducts(w http.ResponseWriter, r *http.Request) {
	page, err := a.service.ListProducts(r.Context(), productQuery(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		result
		domain.ProductPage
	}{ok(fmt.Sprintf("%d product(s) found", page.TotalProducts)), page})
}

func (a *API) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	var input domain.ProductInput
	if err := a.decodeJSON(r, &input); err != nil {
		a.fail(w, r, err)
		return
	}

	product, err := a.service.AddProduct(r.Context(), input)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, struct {
		result
		Product domain.Product `json:"product"`
	}{ok(fmt.Sprintf("product %q created", product.Name)), product})
}

func (a *API) handleUpdateProduct(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		a.fail(w, r, fmt.Errorf("product id must be numeric: %w", store.ErrInvalidInput))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	var input domain.ProductInput
	if err := a.decodeJSON(r, &input); err != nil {
		a.fail(w, r, err)
		return
	}

	product, err := a.service.UpdateProduct(r.Context(), id, input)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		result
		Product domain.Product `json:"product"`
	}{ok(fmt.Sprintf("product %q updated", product.Name)), product})
}

func (a *API) handleClearAll(w http.ResponseWriter, r *http.Request) {
	if err := a.service.ClearAll(r.Context()); err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ok("catalog and scan history removed"))
}

type startImportRequest struct {
	Kind domain.ImportKind `json:"kind" validate:"required,oneof=products barcodes images"`
}

func (a *API) handleStartImport(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	var req startImportRequest
	if err := a.decodeJSON(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}

	progress, err := a.service.StartImport(r.Context(), req.Kind)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, struct {
		result
		Progress domain.ImportProgress `json:"progress"`
	}{ok("import session started"), progress})
}

func (a *API) handleImportProgress(w http.ResponseWriter, r *http.Request) {
	progress, err := a.service.ImportProgress(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		result
		Progress domain.ImportProgress `json:"progress"`
	}{ok(fmt.Sprintf("%d chunk(s) processed", progress.Chunks)), progress})
}

type importChunkRequest[T any] struct {
	SessionID string `json:"session_id"`
	Records   []T    `json:"records" validate:"required"`
}

// handleImport reconciles one JSON chunk, or a whole CSV file split server-side.
func (a *API) handleImport(w http.ResponseWriter, r *http.Request) {
	kind := domain.ImportKind(chi.URLParam(r, "kind"))
	if !kind.Valid() {
		a.fail(w, r, fmt.Errorf("unknown import kind %q: %w", kind, store.ErrInvalidInput))
		return
	}

	contentType := r.Header.Get("Content-Type")
	if isCSV(contentType) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBody)
		res, err := a.service.ImportCSV(r.Context(), kind, r.URL.Query().Get("session_id"), r.Body, contentType)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		a.writeImportResult(w, res)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	var (
		res domain.ImportResult
		err error
	)
	switch kind {
	case domain.ImportProducts:
		var req importChunkRequest[domain.ProductImportRecord]
		if err = a.decodeJSON(r, &req); err == nil {
			res, err = a.service.ImportProducts(r.Context(), req.SessionID, req.Records)
		}
	case domain.ImportBarcodes:
		var req importChunkRequest[domain.BarcodeImportRecord]
		if err = a.decodeJSON(r, &req); err == nil {
			res, err = a.service.ImportBarcodes(r.Context(), req.SessionID, req.Records)
		}
	case domain.ImportImages:
		var req importChunkRequest[domain.ImageImportRecord]
		if err = a.decodeJSON(r, &req); err == nil {
			res, err = a.service.ImportImages(r.Context(), req.SessionID, req.Records)
		}
	}
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.writeImportResult(w, res)
}

func (a *API) writeImportResult(w http.ResponseWriter, res domain.ImportResult) {
	msg := fmt.Sprintf("%s import: %d inserted, %d updated, %d skipped",
		res.Kind, res.Counts.Inserted, res.Counts.Updated, res.Counts.Skipped)
	writeJSON(w, http.StatusOK, struct {
		result
		domain.ImportResult
	}{ok(msg), res})
}

func isCSV(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	switch mediaType {
	case "text/csv", "application/csv", "text/plain":
		return true
	}
	return false
}

func (a *API) handleRecordScan(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	var req domain.ScanRequest
	if err := a.decodeJSON(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}

	receipt, err := a.service.RecordScan(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, struct {
		result
		Scan domain.ScanReceipt `json:"scan"`
	}{ok(fmt.Sprintf("%d unit(s) of product %q recorded", receipt.Quantity, receipt.Product.Name)), receipt})
}

func (a *API) handleValidateScan(w http.ResponseWriter, r *http.Request) {
	values := r.URL.Query()
	scanType := domain.ScanType(strings.TrimSpace(values.Get("type")))
	if scanType == "" {
		scanType = domain.ScanEntry
	}

	product, err := a.service.ValidateBarcode(r.Context(), values.Get("barcode"), scanType)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		result
		Product domain.ScannedProduct `json:"product"`
	}{ok(fmt.Sprintf("barcode belongs to %q", product.Name)), product})
}

func (a *API) handleRecentScans(w http.ResponseWriter, r *http.Request) {
	scanType := domain.ScanType(strings.TrimSpace(r.URL.Query().Get("type")))
	if scanType == "" {
		scanType = domain.ScanEntry
	}

	scans, err := a.service.RecentScans(r.Context(), scanType)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		result
		Scans []domain.RecentScan `json:"scans"`
	}{ok(fmt.Sprintf("%d recent %s scan(s)", len(scans), scanType)), scans})
}

func (a *API) handleClearScans(w http.ResponseWriter, r *http.Request) {
	removed, err := a.service.ClearScans(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		result
		Removed int64 `json:"removed"`
	}{ok(fmt.Sprintf("%d scan(s) removed", removed)), removed})
}

func (a *API) handleStockLevel(w http.ResponseWriter, r *http.Request) {
	barcode := chi.URLParam(r, "barcode")
	level, err := a.service.StockLevel(r.Context(), barcode)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		result
		Barcode    string `json:"barcode"`
		StockLevel int    `json:"stock_level"`
	}{ok(fmt.Sprintf("%d unit(s) in stock", level)), barcode, level})
}

func (a *API) handleStockReport(w http.ResponseWriter, r *http.Request) {
	page, err := a.service.SummarizeStock(r.Context(), productQuery(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		result
		domain.StockSummaryPage
	}{ok(fmt.Sprintf("%d product(s) in stock", page.TotalMatching)), page})
}

// handleStockExport writes one barcode;stock_level line per barcode, or the full rows as JSON.
func (a *API) handleStockExport(w http.ResponseWriter, r *http.Request) {
	rows, err := a.service.ExportStock(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}

	if strings.EqualFold(r.URL.Query().Get("format"), "json") {
		writeJSON(w, http.StatusOK, struct {
			result
			Rows []domain.StockExportRow `json:"rows"`
		}{ok(fmt.Sprintf("%d barcode(s) exported", len(rows))), rows})
		return
	}

	filename := fmt.Sprintf("stock_report_%s.csv", a.now().Format("2006-01-02"))
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	if err := writeStockCSV(w, rows); err != nil {
		a.log.Error().Err(err).Msg("stock export interrupted")
	}
}

func writeStockCSV(out io.Writer, rows []domain.StockExportRow) error {
	writer := csv.NewWriter(out)
	writer.Comma = ';'
	for _, row := range rows {
		if err := writer.Write([]string{row.Barcode, strconv.Itoa(row.StockLevel)}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

type fixExportErrorsRequest struct {
	Text string `json:"text" validate:"required"`
}

// handleFixExportErrors accepts the pasted error report as JSON {"text": ...} or as a raw text body.
func (a *API) handleFixExportErrors(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)

	var text string
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		var req fixExportErrorsRequest
		if err := a.decodeJSON(r, &req); err != nil {
			a.fail(w, r, err)
			return
		}
		text = req.Text
	} else {
		raw, err := io.ReadAll(r.Body)
		if err != nil {
			a.fail(w, r, fmt.Errorf("read body: %v: %w", err, store.ErrInvalidInput))
			return
		}
		text = string(raw)
	}

	res, err := a.service.FixExportErrors(r.Context(), text)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	msg := fmt.Sprintf("removed barcode(s) %s: %d barcode row(s) and %d scan(s) deleted",
		strings.Join(res.Barcodes, ", "), res.RemovedBarcodes, res.RemovedScans)
	writeJSON(w, http.StatusOK, struct {
		result
		domain.ErrorFixResult
	}{ok(msg), res})
}

func (a *API) handleListOperators(w http.ResponseWriter, r *http.Request) {
	operators := a.auth.ListOperators(r.Context())
	writeJSON(w, http.StatusOK, struct {
		result
		Operators []domain.UserAccount `json:"operators"`
	}{ok(fmt.Sprintf("%d operator(s)", len(operators))), operators})
}

func (a *API) handleCreateOperator(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	var req domain.OperatorCreateRequest
	if err := a.decodeJSON(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}

	operator, err := a.auth.CreateOperator(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.log.Info().Str("username", operator.Username).Msg("operator created")
	writeJSON(w, http.StatusCreated, struct {
		result
		Operator domain.UserAccount `json:"operator"`
	}{ok(fmt.Sprintf("operator %s created", operator.Username)), operator})
}
