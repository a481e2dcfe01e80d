package contextfile

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
)

// CSVParser reads the header, counts data rows and builds a preview of the
// first rows.
type CSVParser struct{}

// FileType implements Parser.
func (CSVParser) FileType() string { return "csv" }

// Parse implements Parser.
func (CSVParser) Parse(ctx context.Context, path string, rec *Record) error {
	slog.DebugContext(ctx, "contextfile: parsing CSV", "path", path)
	f, err := os.Open(path) //nolint:gosec // G304: user selected upload
	if err != nil {
		return fmt.Errorf("failed to read CSV file: %w", err)
	}
	defer func() { _ = f.Close() }()

	r := csv.NewReader(bufio.NewReader(f))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.ReuseRecord = true

	columns := []string{}
	header, err := r.Read()
	switch {
	case errors.Is(err, io.EOF):
	case err != nil:
		return fmt.Errorf("failed to read CSV headers: %w", err)
	default:
		columns = append(columns, header...)
	}

	lines := []string{strings.Join(columns, ",")}
	rows := 0
	if len(columns) > 0 {
		for {
			record, err := r.Read()
			if errors.Is(err, io.EOF) {
				break
			}
			var perr *csv.ParseError
			if err != nil && !errors.As(err, &perr) {
				return fmt.Errorf("failed to read CSV: %w", err)
			}
			rows++
			if err == nil && len(lines) <= previewRows {
				lines = append(lines, strings.Join(record, ","))
			}
		}
	}

	rec.Columns = columns
	rec.Rows = &rows
	rec.Preview = truncatePreview(strings.Join(lines, "\n"))
	rec.DetectedType = DetectType(columns)
	return nil
}

var pdfPage = regexp.MustCompile(`/Type\s*/Page\b`)

// PDFParser counts pages. Text is not extracted.
type PDFParser struct{}

// FileType implements Parser.
func (PDFParser) FileType() string { return "pdf" }

// Parse implements Parser.
//
// A file that is not a PDF still yields a record with a placeholder preview.
func (PDFParser) Parse(ctx context.Context, path string, rec *Record) error {
	slog.DebugContext(ctx, "contextfile: parsing PDF", "path", path)
	b, err := os.ReadFile(path) //nolint:gosec // G304: user selected upload
	if err != nil {
		return fmt.Errorf("failed to read PDF file: %w", err)
	}
	if !bytes.HasPrefix(b, []byte("%PDF-")) {
		slog.WarnContext(ctx, "contextfile: not a PDF", "path", path)
		rec.TextPreview = "(Failed to parse PDF)"
		return nil
	}
	pages := len(pdfPage.FindAllIndex(b, -1))
	rec.Pages = &pages
	rec.TextPreview = "(No text extracted)"
	return nil
}

// SpreadsheetParser checks the workbook signature. Cells are not read.
type SpreadsheetParser struct{}

// FileType implements Parser.
func (SpreadsheetParser) FileType() string { return "excel" }

var (
	xlsxMagic = []byte("PK\x03\x04")
	xlsMagic  = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}
)

// Parse implements Parser.
func (SpreadsheetParser) Parse(ctx context.Context, path string, rec *Record) error {
	slog.DebugContext(ctx, "contextfile: parsing spreadsheet", "path", path)
	f, err := os.Open(path) //nolint:gosec // G304: user selected upload
	if err != nil {
		return fmt.Errorf("failed to open Excel file: %w", err)
	}
	defer func() { _ = f.Close() }()

	head := make([]byte, len(xlsMagic))
	n, _ := io.ReadFull(f, head)
	head = head[:n]
	if !bytes.HasPrefix(head, xlsxMagic) && !bytes.HasPrefix(head, xlsMagic) {
		return errors.New("failed to open Excel file: unrecognized workbook format")
	}
	return nil
}
