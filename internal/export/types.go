// Package export renders document snapshots to HTML and PDF.
package export

import "errors"

// Format represents the export output format
type Format string

const (
	FormatHTML Format = "html"
	FormatPDF  Format = "pdf"
)

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	// ErrContentUnavailable indicates document content could not be loaded for export.
	ErrContentUnavailable = errors.New("export content unavailable")
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	// ErrUnsupportedFormat indicates the requested format is not supported.
	ErrUnsupportedFormat = errors.New("export format unsupported")
)
