// Package csvimport parses the semicolon-delimited catalog exports fed to the
// bulk reconciler. Each import kind has a fixed table of accepted header
// synonyms; headers outside the table are rejected.
package csvimport

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html/charset"
	"golang.org/x/text/unicode/norm"

	"stockscan/backend/internal/domain"
	"stockscan/backend/internal/store"
)

type Field string

const (
	FieldName        Field = "name"
	FieldCode        Field = "code"
	FieldSQLServerID Field = "sql_server_id"
	FieldImageID     Field = "image_id"
	FieldBarcode     Field = "barcode"
	FieldImageURL    Field = "image_url"
)

type layout struct {
	synonyms map[string]Field
	required []Field
}

var layouts = map[domain.ImportKind]layout{
	domain.ImportProducts: {
		synonyms: map[string]Field{
			"name":       FieldName,
			"nome":       FieldName,
			"code":       FieldCode,
			"código":     FieldCode,
			"codigo":     FieldCode,
			"id_produto": FieldSQLServerID,
			"id_sql":     FieldSQLServerID,
			"id_imagem":  FieldImageID,
			"id_foto":    FieldImageID,
		},
		required: []Field{FieldSQLServerID},
	},
	domain.ImportBarcodes: {
		synonyms: map[string]Field{
			"id_produto":    FieldSQLServerID,
			"id_sql":        FieldSQLServerID,
			"codigo_barras": FieldBarcode,
			"barcode":       FieldBarcode,
		},
		required: []Field{FieldSQLServerID, FieldBarcode},
	},
	domain.ImportImages: {
		synonyms: map[string]Field{
			"id_imagem":            FieldImageID,
			"id_foto":              FieldImageID,
			"link_imagem_original": FieldImageURL,
			"image_url":            FieldImageURL,
		},
		required: []Field{FieldImageID, FieldImageURL},
	},
}

// HeaderError reports a header row that does not fit the layout of its kind.
type HeaderError struct {
	Kind   domain.ImportKind
	Column string
	Reason string
}

func (e *HeaderError) Error() string {
	if e.Column == "" {
		return fmt.Sprintf("%s csv: %s", e.Kind, e.Reason)
	}
	return fmt.Sprintf("%s csv: column %q: %s", e.Kind, e.Column, e.Reason)
}

func (e *HeaderError) Unwrap() error { return store.ErrInvalidInput }

// Batch holds the parsed rows of one file; only the slice matching Kind is set.
type Batch struct {
	Kind     domain.ImportKind
	Products []domain.ProductImportRecord
	Barcodes []domain.BarcodeImportRecord
	Images   []domain.ImageImportRecord
}

func (b *Batch) Len() int {
	switch b.Kind {
	case domain.ImportProducts:
		return len(b.Products)
	case domain.ImportBarcodes:
		return len(b.Barcodes)
	case domain.ImportImages:
		return len(b.Images)
	default:
		return 0
	}
}

// NewReader decodes body to UTF-8 using the charset of contentType, or a sniffed
// one when none is declared. Undeclared non-UTF-8 input is read as windows-1252.
func NewReader(body io.Reader, contentType string) (io.Reader, error) {
	r, err := charset.NewReader(body, contentType)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrInvalidInput, err)
	}
	return r, nil
}

func Parse(r io.Reader, kind domain.ImportKind) (*Batch, error) {
	l, ok := layouts[kind]
	if !ok {
		return nil, fmt.Errorf("%w: unknown import kind %q", store.ErrInvalidInput, kind)
	}

	reader := csv.NewReader(r)
	reader.Comma = ';'
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, &HeaderError{Kind: kind, Reason: "missing header row"}
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrInvalidInput, err)
	}
	columns, err := l.resolve(kind, header)
	if err != nil {
		return nil, err
	}

	batch := &Batch{Kind: kind}
	for {
		cells, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", store.ErrInvalidInput, err)
		}
		row := make(map[Field]string, len(columns))
		blank := true
		for i, field := range columns {
			if field == "" || i >= len(cells) {
				continue
			}
			v := strings.TrimSpace(cells[i])
			row[field] = v
			if v != "" {
				blank = false
			}
		}
		if blank {
			continue
		}
		batch.add(row)
	}
	return batch, nil
}

// resolve maps each header position to its canonical field. Blank headers,
// such as the one left by a trailing delimiter, map to no field.
func (l layout) resolve(kind domain.ImportKind, header []string) ([]Field, error) {
	columns := make([]Field, len(header))
	seen := make(map[Field]string, len(header))
	for i, raw := range header {
		name := normalizeHeader(raw)
		if name == "" {
			continue
		}
		field, ok := l.synonyms[name]
		if !ok {
			return nil, &HeaderError{Kind: kind, Column: strings.TrimSpace(raw), Reason: "unrecognized header"}
		}
		if prev, dup := seen[field]; dup {
			return nil, &HeaderError{Kind: kind, Column: strings.TrimSpace(raw), Reason: fmt.Sprintf("duplicates column %q", prev)}
		}
		seen[field] = strings.TrimSpace(raw)
		columns[i] = field
	}
	for _, field := range l.required {
		if _, ok := seen[field]; !ok {
			return nil, &HeaderError{Kind: kind, Column: string(field), Reason: "required column missing"}
		}
	}
	return columns, nil
}

func normalizeHeader(raw string) string {
	name := strings.TrimPrefix(raw, "\ufeff")
	return strings.ToLower(norm.NFC.String(strings.TrimSpace(name)))
}

func (b *Batch) add(row map[Field]string) {
	switch b.Kind {
	case domain.ImportProducts:
		b.Products = append(b.Products, domain.ProductImportRecord{
			Name:        row[FieldName],
			Code:        row[FieldCode],
			SQLServerID: row[FieldSQLServerID],
			ImageID:     row[FieldImageID],
		})
	case domain.ImportBarcodes:
		b.Barcodes = append(b.Barcodes, domain.BarcodeImportRecord{
			SQLServerID: row[FieldSQLServerID],
			Barcode:     row[FieldBarcode],
		})
	case domain.ImportImages:
		b.Images = append(b.Images, domain.ImageImportRecord{
			ImageID:  row[FieldImageID],
			ImageURL: row[FieldImageURL],
		})
	}
}
