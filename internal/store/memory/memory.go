package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"stockscan/backend/internal/domain"
	"stockscan/backend/internal/store"
)

type product struct {
	id          int64
	systemID    string
	name        string
	sqlServerID string
	imageID     string
	imageURL    string
	barcodes    []string
}

type Store struct {
	mu         sync.RWMutex
	caps       domain.SchemaCapabilities
	nextID     int64
	nextScanID int64
	products   map[int64]*product
	barcodes   map[string]int64
	scans      []domain.Scan
	users      map[string]domain.UserAccount
}

type Option func(*Store)

// WithoutImageURL emulates a legacy schema lacking products.image_url.
func WithoutImageURL() Option {
	return func(s *Store) { s.caps.ImageURL = false }
}

func New(opts ...Option) *Store {
	s := &Store{
		caps:       domain.SchemaCapabilities{ImageURL: true},
		nextID:     1,
		nextScanID: 1,
		products:   make(map[int64]*product),
		barcodes:   make(map[string]int64),
		users:      make(map[string]domain.UserAccount),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewSeeded returns a store with a small demo catalog for running without a database.
func NewSeeded() *Store {
	s := New()
	ctx := context.Background()
	seed := []domain.ProductInput{
		{Name: "Arroz Tipo 1 5kg", SystemID: "ARZ-001", Barcodes: []string{"7896006716112"}},
		{Name: "Cafe Torrado 500g", SystemID: "CAF-002", Barcodes: []string{"7896089011234", "7896089011241"}},
		{Name: "Feijao Carioca 1kg", SystemID: "FEI-003", Barcodes: []string{"7896102500012"}},
		{Name: "Oleo de Soja 900ml", SystemID: "OLE-004", Barcodes: []string{"7891107101621"}},
	}
	for _, input := range seed {
		if _, err := s.CreateProduct(ctx, input); err != nil {
			panic(fmt.Sprintf("memory seed: %v", err))
		}
	}
	now := time.Now().UTC()
	for _, b := range []string{"7896006716112", "7896089011234", "7896102500012"} {
		if _, err := s.RecordScans(ctx, store.ScanBatch{Barcode: b, Type: domain.ScanEntry, Quantity: 5, At: now}); err != nil {
			panic(fmt.Sprintf("memory seed scans: %v", err))
		}
	}
	return s
}

func (s *Store) Capabilities() domain.SchemaCapabilities {
	return s.caps
}

func (s *Store) StockLevel(_ context.Context, barcode string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.levelLocked(barcode), nil
}

func (s *Store) levelLocked(barcode string) int {
	level := 0
	for _, scan := range s.scans {
		if scan.Barcode == barcode {
			level += scan.Type.Delta()
		}
	}
	return level
}

func (s *Store) levelsLocked() map[string]int {
	levels := make(map[string]int)
	for _, scan := range s.scans {
		levels[scan.Barcode] += scan.Type.Delta()
	}
	return levels
}

func (s *Store) SummarizeStock(_ context.Context, query domain.ProductQuery) (domain.StockSummaryPage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	levels := s.levelsLocked()
	totalStock := 0
	for _, level := range levels {
		totalStock += level
	}

	rows := make([]domain.StockSummaryRow, 0)
	for _, p := range s.sortedLocked() {
		if !p.matches(query.Query) {
			continue
		}
		stock := 0
		for _, b := range p.barcodes {
			stock += levels[b]
		}
		if stock <= 0 {
			continue
		}
		rows = append(rows, domain.StockSummaryRow{
			ProductID:  p.id,
			Name:       p.name,
			SystemID:   p.systemID,
			Barcodes:   slices.Clone(p.barcodes),
			ImageURL:   s.imageURL(p),
			StockLevel: stock,
		})
	}

	return domain.StockSummaryPage{
		Summary:         paginate(rows, query.Page, query.PageSize),
		Page:            query.Page,
		PageSize:        query.PageSize,
		TotalPages:      store.TotalPages(len(rows), query.PageSize),
		TotalMatching:   len(rows),
		TotalProducts:   len(s.products),
		TotalStockItems: totalStock,
	}, nil
}

func (s *Store) ExportStock(_ context.Context) ([]domain.StockExportRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	levels := s.levelsLocked()
	rows := make([]domain.StockExportRow, 0, len(s.barcodes))
	for _, p := range s.sortedLocked() {
		barcodes := slices.Clone(p.barcodes)
		sort.Strings(barcodes)
		for _, b := range barcodes {
			rows = append(rows, domain.StockExportRow{Name: p.name, SystemID: p.systemID, Barcode: b, StockLevel: levels[b]})
		}
	}
	return rows, nil
}

func (s *Store) CreateProduct(_ context.Context, input domain.ProductInput) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.systemIDOwnerLocked(input.SystemID) != 0 {
		return nil, store.ErrDuplicateSystemID
	}
	if taken := s.takenBarcodesLocked(input.Barcodes, 0); len(taken) > 0 {
		return nil, &store.DuplicateBarcodeError{Barcodes: taken}
	}

	p := &product{id: s.nextID, systemID: input.SystemID, name: input.Name, barcodes: slices.Clone(input.Barcodes)}
	s.nextID++
	s.products[p.id] = p
	for _, b := range p.barcodes {
		s.barcodes[b] = p.id
	}
	return s.toDomain(p), nil
}

func (s *Store) UpdateProduct(_ context.Context, id int64, input domain.ProductInput) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[id]
	if !ok {
		return nil, store.ErrProductNotFound
	}
	if owner := s.systemIDOwnerLocked(input.SystemID); owner != 0 && owner != id {
		return nil, store.ErrDuplicateSystemID
	}
	if taken := s.takenBarcodesLocked(input.Barcodes, id); len(taken) > 0 {
		return nil, &store.DuplicateBarcodeError{Barcodes: taken}
	}

	toAdd, toRemove := store.DiffBarcodes(p.barcodes, input.Barcodes)
	for _, b := range toRemove {
		delete(s.barcodes, b)
	}
	for _, b := range toAdd {
		s.barcodes[b] = id
	}
	kept := make([]string, 0, len(p.barcodes)+len(toAdd))
	for _, b := range p.barcodes {
		if !slices.Contains(toRemove, b) {
			kept = append(kept, b)
		}
	}
	p.barcodes = append(kept, toAdd...)
	p.name = input.Name
	p.systemID = input.SystemID
	return s.toDomain(p), nil
}

func (s *Store) ListProducts(_ context.Context, query domain.ProductQuery) (domain.ProductPage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]domain.Product, 0)
	for _, p := range s.sortedLocked() {
		if p.matches(query.Query) {
			matched = append(matched, *s.toDomain(p))
		}
	}
	return domain.ProductPage{
		Products:      paginate(matched, query.Page, query.PageSize),
		Page:          query.Page,
		PageSize:      query.PageSize,
		TotalPages:    store.TotalPages(len(matched), query.PageSize),
		TotalProducts: len(matched),
		AbsoluteTotal: len(s.products),
	}, nil
}

func (s *Store) ClearAll(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.products = make(map[int64]*product)
	s.barcodes = make(map[string]int64)
	s.scans = nil
	s.nextID = 1
	s.nextScanID = 1
	return nil
}

func (s *Store) ReconcileProducts(_ context.Context, records []domain.ProductImportRecord) (domain.ImportCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var counts domain.ImportCounts
	for _, rec := range records {
		if rec.SQLServerID == "" {
			counts.Skipped++
			continue
		}

		if existing := s.bySQLServerIDLocked(rec.SQLServerID); existing != nil {
			if rec.Code != "" && rec.Code != existing.systemID {
				if owner := s.systemIDOwnerLocked(rec.Code); owner != 0 && owner != existing.id {
					counts.Skipped++
					continue
				}
			}
			if rec.Name != "" {
				existing.name = rec.Name
			}
			if rec.Code != "" {
				existing.systemID = rec.Code
			}
			existing.imageID = rec.ImageID
			counts.Updated++
			continue
		}

		if rec.Name == "" || rec.Code == "" || s.systemIDOwnerLocked(rec.Code) != 0 {
			counts.Skipped++
			continue
		}
		p := &product{id: s.nextID, systemID: rec.Code, name: rec.Name, sqlServerID: rec.SQLServerID, imageID: rec.ImageID}
		s.nextID++
		s.products[p.id] = p
		counts.Inserted++
	}
	return counts, nil
}

func (s *Store) ReconcileBarcodes(_ context.Context, records []domain.BarcodeImportRecord) (domain.ImportCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var counts domain.ImportCounts
	resolved := 0
	pending := make(map[string]struct{}, len(records))
	for _, rec := range records {
		if rec.SQLServerID == "" || rec.Barcode == "" {
			counts.Skipped++
			continue
		}
		p := s.bySQLServerIDLocked(rec.SQLServerID)
		if p == nil {
			counts.Skipped++
			continue
		}
		resolved++
		if _, taken := s.barcodes[rec.Barcode]; taken {
			continue
		}
		if _, dup := pending[rec.Barcode]; dup {
			continue
		}
		pending[rec.Barcode] = struct{}{}
		s.barcodes[rec.Barcode] = p.id
		p.barcodes = append(p.barcodes, rec.Barcode)
		counts.Inserted++
	}
	counts.Skipped += resolved - counts.Inserted
	return counts, nil
}

func (s *Store) ReconcileImages(_ context.Context, records []domain.ImageImportRecord) (domain.ImportCounts, error) {
	if !s.caps.ImageURL {
		return domain.ImportCounts{}, &store.MissingColumnError{Table: "products", Column: "image_url"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var counts domain.ImportCounts
	for _, rec := range records {
		if rec.ImageID == "" || rec.ImageURL == "" {
			counts.Skipped++
			continue
		}
		changed := 0
		for _, p := range s.products {
			if p.imageID == rec.ImageID && p.imageURL != rec.ImageURL {
				p.imageURL = rec.ImageURL
				changed++
			}
		}
		if changed > 0 {
			counts.Updated += changed
		} else {
			counts.Skipped++
		}
	}
	return counts, nil
}

func (s *Store) LookupBarcode(_ context.Context, barcode string) (*domain.ScannedProduct, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.ownerLocked(barcode)
	if !ok {
		return nil, store.ErrBarcodeNotFound
	}
	return s.scanned(p, barcode, s.levelLocked(barcode)), nil
}

func (s *Store) RecordScans(_ context.Context, batch store.ScanBatch) (*domain.ScanReceipt, error) {
	if batch.Quantity < 1 || !batch.Type.Valid() {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.ownerLocked(batch.Barcode)
	if !ok {
		return nil, store.ErrBarcodeNotFound
	}
	level := s.levelLocked(batch.Barcode)
	if batch.Type == domain.ScanExit && level < batch.Quantity {
		return nil, &store.InsufficientStockError{Barcode: batch.Barcode, ProductName: p.name, Available: level, Requested: batch.Quantity}
	}

	for i := 0; i < batch.Quantity; i++ {
		s.scans = append(s.scans, domain.Scan{ID: s.nextScanID, Barcode: batch.Barcode, Type: batch.Type, ScannedAt: batch.At})
		s.nextScanID++
	}
	level += batch.Type.Delta() * batch.Quantity

	return &domain.ScanReceipt{
		Product:   *s.scanned(p, batch.Barcode, level),
		Type:      batch.Type,
		Quantity:  batch.Quantity,
		ScannedAt: batch.At,
	}, nil
}

func (s *Store) RecentScans(_ context.Context, scanType domain.ScanType, limit int) ([]domain.RecentScan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.RecentScan, 0, limit)
	for i := len(s.scans) - 1; i >= 0 && len(out) < limit; i-- {
		scan := s.scans[i]
		if scan.Type != scanType {
			continue
		}
		p, ok := s.ownerLocked(scan.Barcode)
		if !ok {
			continue
		}
		out = append(out, domain.RecentScan{
			Barcode:     scan.Barcode,
			ProductName: p.name,
			ImageURL:    s.imageURL(p),
			SystemID:    p.systemID,
			ScannedAt:   scan.ScannedAt,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ScannedAt.After(out[j].ScannedAt) })
	return out, nil
}

func (s *Store) ClearScans(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := int64(len(s.scans))
	s.scans = nil
	return removed, nil
}

func (s *Store) DeleteBarcodes(_ context.Context, barcodes []string) (int64, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	targets := make(map[string]struct{}, len(barcodes))
	for _, b := range barcodes {
		targets[b] = struct{}{}
	}

	kept := s.scans[:0]
	var removedScans int64
	for _, scan := range s.scans {
		if _, hit := targets[scan.Barcode]; hit {
			removedScans++
			continue
		}
		kept = append(kept, scan)
	}
	s.scans = kept

	var removedBarcodes int64
	for b := range targets {
		owner, ok := s.barcodes[b]
		if !ok {
			continue
		}
		delete(s.barcodes, b)
		if p := s.products[owner]; p != nil {
			p.barcodes = slices.DeleteFunc(p.barcodes, func(v string) bool { return v == b })
		}
		removedBarcodes++
	}
	return removedScans, removedBarcodes, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[user.Username]; exists {
		return fmt.Errorf("user %s: %w", user.Username, store.ErrInvalidInput)
	}
	s.users[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		users = append(users, user)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[username]
	if !ok {
		return store.ErrNotFound
	}
	user.Password = password
	s.users[username] = user
	return nil
}

func (s *Store) sortedLocked() []*product {
	list := make([]*product, 0, len(s.products))
	for _, p := range s.products {
		list = append(list, p)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].name != list[j].name {
			return list[i].name < list[j].name
		}
		return list[i].id < list[j].id
	})
	return list
}

func (s *Store) systemIDOwnerLocked(systemID string) int64 {
	for _, p := range s.products {
		if p.systemID == systemID {
			return p.id
		}
	}
	return 0
}

// bySQLServerIDLocked returns the oldest product carrying the external id.
func (s *Store) bySQLServerIDLocked(sqlID string) *product {
	var found *product
	for _, p := range s.products {
		if p.sqlServerID == sqlID && (found == nil || p.id < found.id) {
			found = p
		}
	}
	return found
}

// takenBarcodesLocked returns the requested barcodes owned by a product other than owner.
func (s *Store) takenBarcodesLocked(barcodes []string, owner int64) []string {
	taken := make([]string, 0)
	for _, b := range barcodes {
		if id, ok := s.barcodes[b]; ok && id != owner {
			taken = append(taken, b)
		}
	}
	return taken
}

func (s *Store) ownerLocked(barcode string) (*product, bool) {
	id, ok := s.barcodes[barcode]
	if !ok {
		return nil, false
	}
	p, ok := s.products[id]
	return p, ok
}

func (s *Store) imageURL(p *product) *string {
	if !s.caps.ImageURL {
		return nil
	}
	return optional(p.imageURL)
}

func (s *Store) scanned(p *product, barcode string, level int) *domain.ScannedProduct {
	return &domain.ScannedProduct{
		Name:       p.name,
		ImageURL:   s.imageURL(p),
		SystemID:   p.systemID,
		Barcode:    barcode,
		StockLevel: level,
	}
}

func (s *Store) toDomain(p *product) *domain.Product {
	return &domain.Product{
		ID:          p.id,
		SystemID:    p.systemID,
		Name:        p.name,
		Barcodes:    slices.Clone(p.barcodes),
		SQLServerID: optional(p.sqlServerID),
		ImageID:     optional(p.imageID),
		ImageURL:    s.imageURL(p),
	}
}

func (p *product) matches(query string) bool {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return true
	}
	if strings.Contains(strings.ToLower(p.name), q) || strings.Contains(strings.ToLower(p.systemID), q) {
		return true
	}
	for _, b := range p.barcodes {
		if strings.Contains(strings.ToLower(b), q) {
			return true
		}
	}
	return false
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func paginate[T any](items []T, page int, pageSize int) []T {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		return items
	}
	start := (page - 1) * pageSize
	if start >= len(items) {
		return []T{}
	}
	end := min(start+pageSize, len(items))
	return items[start:end]
}
