package domain

import "time"

type ScanType string

const (
	ScanEntry ScanType = "entry"
	ScanExit  ScanType = "exit"
)

func (t ScanType) Valid() bool {
	return t == ScanEntry || t == ScanExit
}

// Delta is the signed unit movement of one scan row. Unknown types count as zero.
func (t ScanType) Delta() int {
	switch t {
	case ScanEntry:
		return 1
	case ScanExit:
		return -1
	default:
		return 0
	}
}

type Product struct {
	ID          int64    `json:"id"`
	SystemID    string   `json:"system_id"`
	Name        string   `json:"name"`
	Barcodes    []string `json:"barcodes"`
	SQLServerID *string  `json:"sql_server_id"`
	ImageID     *string  `json:"image_id"`
	ImageURL    *string  `json:"image_url"`
}

type Scan struct {
	ID        int64     `json:"id"`
	Barcode   string    `json:"barcode"`
	Type      ScanType  `json:"type"`
	ScannedAt time.Time `json:"scanned_at"`
}

type SchemaCapabilities struct {
	ImageURL bool `json:"image_url"`
}

type ProductInput struct {
	Name     string   `json:"name" validate:"required"`
	SystemID string   `json:"system_id" validate:"required"`
	Barcodes []string `json:"barcodes"`
}

type ProductQuery struct {
	Page     int
	PageSize int
	Query    string
}

type ProductPage struct {
	Products      []Product `json:"products"`
	Page          int       `json:"page"`
	PageSize      int       `json:"page_size"`
	TotalPages    int       `json:"total_pages"`
	TotalProducts int       `json:"total_products"`
	AbsoluteTotal int       `json:"absolute_total"`
}

type StockSummaryRow struct {
	ProductID  int64    `json:"product_id"`
	Name       string   `json:"name"`
	SystemID   string   `json:"system_id"`
	Barcodes   []string `json:"barcodes"`
	ImageURL   *string  `json:"image_url"`
	StockLevel int      `json:"stock_level"`
}

type StockSummaryPage struct {
	Summary         []StockSummaryRow `json:"summary"`
	Page            int               `json:"page"`
	PageSize        int               `json:"page_size"`
	TotalPages      int               `json:"total_pages"`
	TotalMatching   int               `json:"total_matching"`
	TotalProducts   int               `json:"total_products"`
	TotalStockItems int               `json:"total_stock_items"`
}

type StockExportRow struct {
	Name       string `json:"name"`
	SystemID   string `json:"system_id"`
	Barcode    string `json:"barcode"`
	StockLevel int    `json:"stock_level"`
}

type ScanRequest struct {
	Barcode  string   `json:"barcode" validate:"required"`
	Type     ScanType `json:"type" validate:"required,oneof=entry exit"`
	Quantity int      `json:"quantity" validate:"gte=0"`
}

// ScannedProduct is the display data of the product owning a scanned barcode.
type ScannedProduct struct {
	Name       string  `json:"name"`
	ImageURL   *string `json:"image_url"`
	SystemID   string  `json:"system_id"`
	Barcode    string  `json:"barcode"`
	StockLevel int     `json:"stock_level"`
}

type ScanReceipt struct {
	Product   ScannedProduct `json:"product"`
	Type      ScanType       `json:"type"`
	Quantity  int            `json:"quantity"`
	ScannedAt time.Time      `json:"scanned_at"`
}

type RecentScan struct {
	Barcode     string    `json:"barcode"`
	ProductName string    `json:"product_name"`
	ImageURL    *string   `json:"image_url"`
	SystemID    string    `json:"system_id"`
	ScannedAt   time.Time `json:"scanned_at"`
}

type ScanEvent struct {
	Barcode     string    `json:"barcode"`
	Type        ScanType  `json:"type"`
	Quantity    int       `json:"quantity"`
	ProductName string    `json:"product_name"`
	SystemID    string    `json:"system_id"`
	ScannedAt   time.Time `json:"scanned_at"`
}

type ImportKind string

const (
	ImportProducts ImportKind = "products"
	ImportBarcodes ImportKind = "barcodes"
	ImportImages   ImportKind = "images"
)

func (k ImportKind) Valid() bool {
	return k == ImportProducts || k == ImportBarcodes || k == ImportImages
}

type ProductImportRecord struct {
	Name        string `json:"name"`
	Code        string `json:"code"`
	SQLServerID string `json:"sql_server_id"`
	ImageID     string `json:"image_id"`
}

type BarcodeImportRecord struct {
	SQLServerID string `json:"sql_server_id"`
	Barcode     string `json:"barcode"`
}

type ImageImportRecord struct {
	ImageID  string `json:"image_id"`
	ImageURL string `json:"image_url"`
}

type ImportCounts struct {
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
	Skipped  int `json:"skipped"`
}

func (c ImportCounts) Add(other ImportCounts) ImportCounts {
	return ImportCounts{
		Inserted: c.Inserted + other.Inserted,
		Updated:  c.Updated + other.Updated,
		Skipped:  c.Skipped + other.Skipped,
	}
}

func (c ImportCounts) Total() int {
	return c.Inserted + c.Updated + c.Skipped
}

type ImportProgress struct {
	SessionID string       `json:"session_id"`
	Kind      ImportKind   `json:"kind,omitempty"`
	Chunks    int          `json:"chunks"`
	Counts    ImportCounts `json:"counts"`
}

type ImportResult struct {
	Kind     ImportKind      `json:"kind"`
	Chunks   int             `json:"chunks"`
	Records  int             `json:"records"`
	Counts   ImportCounts    `json:"counts"`
	Progress *ImportProgress `json:"progress,omitempty"`
}

type ErrorFixResult struct {
	Barcodes        []string `json:"barcodes"`
	RemovedScans    int64    `json:"removed_scans"`
	RemovedBarcodes int64    `json:"removed_barcodes"`
}

type Actor struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}

const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"
)

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type UserAccount struct {
	Username  string    `json:"username"`
	Password  string    `json:"-"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type OperatorCreateRequest struct {
	Username string `json:"username" validate:"required,min=4"`
	Password string `json:"password" validate:"required,min=6"`
}
