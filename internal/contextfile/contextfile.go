// Package contextfile extracts metadata from files uploaded into a project's
// context directory.
package contextfile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	errs "github.com/unheard/unheard/internal/errors"
)

const (
	// Dir is the project subdirectory uploaded files are copied into.
	Dir = "context"
	// LargeFileThreshold is the size above which a file is flagged as a large
	// object. Classification is purely size based and never consults the
	// object store.
	LargeFileThreshold int64 = 10_485_760
	// MaxPreviewChars caps Record.Preview and Record.TextPreview.
	MaxPreviewChars = 500
	// previewRows is the number of data rows included in a tabular preview.
	previewRows = 10
)

// Record describes a parsed context file.
type Record struct {
	OriginalName string   `json:"originalFilename"`
	StoredName   string   `json:"storedFilename"`
	FileType     string   `json:"fileType"`
	DetectedType string   `json:"detectedType,omitempty"`
	Rows         *int     `json:"rows,omitempty"`
	Columns      []string `json:"columns,omitempty"`
	Preview      string   `json:"preview,omitempty"`
	Pages        *int     `json:"pages,omitempty"`
	TextPreview  string   `json:"textPreview,omitempty"`
	Size         int64    `json:"sizeBytes"`
	RelativePath string   `json:"relativeFilePath"`
	IsLarge      bool     `json:"isLfs"`
}

// Parser extracts format specific metadata. It fills the content fields of
// rec; naming, size and classification are set by Registry.Parse.
type Parser interface {
	// FileType returns the record format tag, e.g. "csv".
	FileType() string
	Parse(ctx context.Context, path string, rec *Record) error
}

// Registry maps lower case file extensions to parsers.
type Registry struct {
	parsers   map[string]Parser
	threshold int64
}

// NewRegistry returns a registry with the default parsers. threshold <= 0
// selects LargeFileThreshold.
func NewRegistry(threshold int64) *Registry {
	if threshold <= 0 {
		threshold = LargeFileThreshold
	}
	r := &Registry{parsers: map[string]Parser{}, threshold: threshold}
	r.Register("csv", CSVParser{})
	r.Register("pdf", PDFParser{})
	r.Register("xlsx", SpreadsheetParser{})
	r.Register("xls", SpreadsheetParser{})
	return r
}

// Register associates ext (without dot) with p.
func (r *Registry) Register(ext string, p Parser) {
	r.parsers[strings.ToLower(ext)] = p
}

// Supported reports whether a parser exists for the file's extension.
func (r *Registry) Supported(name string) bool {
	_, ok := r.parsers[Ext(name)]
	return ok
}

// Parse stats and parses the file at path.
//
// A missing file is NOT_FOUND and an unknown extension INVALID_ARGUMENT.
func (r *Registry) Parse(ctx context.Context, path string) (*Record, error) {
	fi, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.New(errs.ErrNotFound, "File does not exist").WithDetail("path", path)
		}
		return nil, errs.IOError("failed to read file metadata", err)
	}
	if fi.IsDir() {
		return nil, errs.Invalid("%s is a directory", path)
	}
	ext := Ext(path)
	p, ok := r.parsers[ext]
	if !ok {
		return nil, errs.Invalid("Unsupported file type: %s", ext)
	}

	name := filepath.Base(path)
	stored := SanitizeFilename(name)
	rec := &Record{
		OriginalName: name,
		StoredName:   stored,
		FileType:     p.FileType(),
		Size:         fi.Size(),
		RelativePath: Dir + "/" + stored,
		IsLarge:      fi.Size() > r.threshold,
	}
	if err := p.Parse(ctx, path, rec); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", name, err)
	}
	return rec, nil
}

// Ext returns the lower case extension of name without the dot.
func Ext(name string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
}

// SanitizeFilename lower cases the stem, turns runs of non alphanumeric
// characters into single hyphens and keeps the extension.
//
// "My File (1).csv" becomes "my-file-1.csv".
func SanitizeFilename(name string) string {
	name = filepath.Base(name)
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	if stem == "" {
		// ".csv" has no extension, only a stem.
		stem, ext = ext, ""
	}

	parts := strings.FieldsFunc(strings.ToLower(stem), func(c rune) bool {
		return !unicode.IsLetter(c) && !unicode.IsDigit(c)
	})
	slug := strings.Join(parts, "-")
	if ext == "" || ext == "." {
		return slug
	}
	return slug + ext
}

// DetectType guesses what tabular data describes from its column names.
// It returns "" when nothing matches.
func DetectType(columns []string) string {
	has := func(subs ...string) bool {
		for _, c := range columns {
			c = strings.ToLower(c)
			for _, s := range subs {
				if strings.Contains(c, s) {
					return true
				}
			}
		}
		return false
	}
	switch {
	case has("customer", "user"):
		return "customer_data"
	case has("sale", "revenue"):
		return "sales_data"
	case has("product"):
		return "product_data"
	default:
		return ""
	}
}

// truncatePreview caps s at MaxPreviewChars runes, appending "..." when cut.
func truncatePreview(s string) string {
	r := []rune(s)
	if len(r) <= MaxPreviewChars {
		return s
	}
	return string(r[:MaxPreviewChars]) + "..."
}
