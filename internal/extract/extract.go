package extract

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	errs "github.com/deepquery/deepquery/internal/pkg/errors"
)

// Kind is the closed set of extraction strategies, resolved once from the
// filename. Pdf and Spreadsheet are recognized kinds whose parsing is
// delegated to external converters; without one they are skipped, never
// failed.
type Kind int

const (
	KindUnsupported Kind = iota
	KindPlainText
	KindTabular
	KindMarkup
	KindPdf
	KindSpreadsheet
)

func (k Kind) String() string {
	switch k {
	case KindPlainText:
		return "plaintext"
	case KindTabular:
		return "tabular"
	case KindMarkup:
		return "markup"
	case KindPdf:
		return "pdf"
	case KindSpreadsheet:
		return "spreadsheet"
	default:
		return "unsupported"
	}
}

// Result is the outcome of extracting one file. Whole-document formats yield
// a single text; tabular formats yield one record per row. Skipped results
// carry a reason and must not abort ingestion of sibling files.
type Result struct {
	Kind    Kind
	Texts   []string
	Skipped bool
	Reason  string
}

var plainTextExts = map[string]struct{}{
	".txt": {}, ".json": {}, ".yaml": {}, ".yml": {}, ".toml": {}, ".ini": {},
	".py": {}, ".js": {}, ".ts": {}, ".java": {}, ".rb": {}, ".go": {},
	".sh": {}, ".php": {}, ".cs": {}, ".cpp": {}, ".c": {}, ".h": {},
	".swift": {}, ".kt": {}, ".rs": {}, ".r": {}, ".scala": {}, ".pl": {},
	".sql": {}, ".log": {},
}

var plainTextNames = map[string]struct{}{
	"dockerfile": {}, "procfile": {}, "makefile": {}, ".gitignore": {}, ".env": {},
}

// KindFor resolves the extraction strategy for a filename.
func KindFor(filename string) Kind {
	base := strings.ToLower(filepath.Base(filename))
	if _, ok := plainTextNames[base]; ok {
		return KindPlainText
	}
	switch ext := filepath.Ext(base); ext {
	case ".csv":
		return KindTabular
	case ".md", ".markdown":
		return KindMarkup
	case ".html", ".htm", ".xml":
		return KindMarkup
	case ".pdf":
		return KindPdf
	case ".xls", ".xlsx":
		return KindSpreadsheet
	default:
		if _, ok := plainTextExts[ext]; ok {
			return KindPlainText
		}
		return KindUnsupported
	}
}

const (
	binarySniffLen = 1024
	maxFileSize    = 16 << 20
)

// Extract converts one document into embeddable texts. It returns an error
// only for read failures; unsupported or binary content comes back as a
// skipped Result so callers can continue with sibling files.
func Extract(filename string, r io.Reader) (Result, error) {
	kind := KindFor(filename)
	switch kind {
	case KindUnsupported:
		return Result{Kind: kind, Skipped: true, Reason: "unsupported file format"}, nil
	case KindPdf, KindSpreadsheet:
		return Result{Kind: kind, Skipped: true, Reason: fmt.Sprintf("%s extraction requires an external converter", kind)}, nil
	}

	data, err := io.ReadAll(io.LimitReader(r, maxFileSize+1))
	if err != nil {
		return Result{Kind: kind}, fmt.Errorf("%w: read %s: %v", errs.ErrIO, filename, err)
	}
	if len(data) > maxFileSize {
		return Result{Kind: kind, Skipped: true, Reason: "file exceeds size limit"}, nil
	}
	if isBinary(data) {
		return Result{Kind: kind, Skipped: true, Reason: "binary content"}, nil
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return Result{Kind: kind, Skipped: true, Reason: "empty file"}, nil
	}

	switch kind {
	case KindTabular:
		records, err := rowRecords(data)
		if err != nil {
			return Result{Kind: kind, Skipped: true, Reason: fmt.Sprintf("csv parse: %v", err)}, nil
		}
		if len(records) == 0 {
			return Result{Kind: kind, Skipped: true, Reason: "no data rows"}, nil
		}
		return Result{Kind: kind, Texts: records}, nil
	case KindMarkup:
		text := markupText(filename, data)
		if strings.TrimSpace(text) == "" {
			return Result{Kind: kind, Skipped: true, Reason: "no extractable text"}, nil
		}
		return Result{Kind: kind, Texts: []string{text}}, nil
	default:
		return Result{Kind: kind, Texts: []string{string(data)}}, nil
	}
}

// ExtractFile is Extract over a file on disk.
func ExtractFile(path string) (Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return Result{}, fmt.Errorf("%w: open %s: %v", errs.ErrIO, path, err)
	}
	defer f.Close()
	return Extract(filepath.Base(path), f)
}

// isBinary samples the first 1KB for a NUL byte.
func isBinary(data []byte) bool {
	sniff := data
	if len(sniff) > binarySniffLen {
		sniff = sniff[:binarySniffLen]
	}
	return bytes.IndexByte(sniff, 0) >= 0
}
