// Package ocr extracts text from scanned PDF documents.
package ocr

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/clearspan/lcaflow/internal/config"
)

// Extractor extracts text content from PDF bytes.
type Extractor interface {
	ExtractText(ctx context.Context, pdf []byte) (string, error)
}

// NewExtractor creates an Extractor based on config.
func NewExtractor(cfg config.OCRConfig) (Extractor, error) {
	switch cfg.Provider {
	case "local", "":
		return NewPdfToText(cfg.PdfToTextPath), nil
	case "remote":
		if cfg.RemoteURL == "" {
			return nil, eris.New("ocr: remote provider requires remote_url")
		}
		return NewRemoteOCR(cfg.RemoteURL, cfg.RemoteKey), nil
	default:
		return nil, eris.Errorf("ocr: unknown provider %q", cfg.Provider)
	}
}
