package export

import (
	"encoding/json"
	"fmt"

	"redline/engine/internal/docmodel"
)

// Export renders a content snapshot (the document's JSON serialization)
// in the requested format.
func Export(title string, content []byte, format Format) (*Result, error) {
	var root docmodel.Node
	if err := json.Unmarshal(content, &root); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrContentUnavailable, err)
	}

	html := RenderPage(title, &root)
	switch format {
	case FormatHTML:
		return &Result{
			Data:     []byte(html),
			Filename: sanitizeFilename(title) + ".html",
			MimeType: "text/html; charset=utf-8",
		}, nil
	case FormatPDF:
		return exportPDF(html, title)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}
