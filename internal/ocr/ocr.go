// Package ocr is the boundary to text recognition: it turns uploaded quote
// bytes (PDF or image) into plain text.
package ocr

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/verifdevis/devis-cli/internal/config"
	"github.com/verifdevis/devis-cli/pkg/anthropic"
)

// Supported MIME types.
const (
	MimePDF  = "application/pdf"
	MimeJPEG = "image/jpeg"
	MimePNG  = "image/png"
	MimeHEIC = "image/heic"
	MimeWEBP = "image/webp"
)

// ErrUnsupportedMedia is returned by providers that cannot read a media type.
var ErrUnsupportedMedia = eris.New("ocr: unsupported media type")

// Document is an uploaded file held in memory.
type Document struct {
	Name     string
	MimeType string
	Data     []byte
}

// IsPDF reports whether the document is a PDF.
func (d Document) IsPDF() bool { return d.MimeType == MimePDF }

// NormalizeMime lower-cases a MIME type, drops parameters and maps aliases.
func NormalizeMime(m string) string {
	m = strings.ToLower(strings.TrimSpace(m))
	if i := strings.IndexByte(m, ';'); i >= 0 {
		m = strings.TrimSpace(m[:i])
	}
	switch m {
	case "image/jpg", "image/pjpeg":
		return MimeJPEG
	case "image/heif":
		return MimeHEIC
	}
	return m
}

// Allowed reports whether the MIME type is accepted for analysis.
func Allowed(mime string) bool {
	switch NormalizeMime(mime) {
	case MimePDF, MimeJPEG, MimePNG, MimeHEIC, MimeWEBP:
		return true
	}
	return false
}

// Extractor extracts text content from documents.
type Extractor interface {
	ExtractText(ctx context.Context, doc Document) (string, error)
}

// NewExtractor creates an Extractor based on config.
func NewExtractor(cfg *config.Config) (Extractor, error) {
	switch cfg.OCR.Provider {
	case "local", "":
		return NewPdfToText(cfg.OCR.PdfToTextPath), nil
	case "mistral":
		if cfg.Mistral.Key == "" {
			return nil, eris.New("ocr: mistral provider requires mistral.key")
		}
		return NewMistralOCR(cfg.Mistral.Key, cfg.OCR.MistralModel), nil
	case "anthropic":
		if cfg.Anthropic.Key == "" {
			return nil, eris.New("ocr: anthropic provider requires anthropic.key")
		}
		return NewVision(anthropic.NewClient(cfg.Anthropic.Key), cfg.Anthropic.Model), nil
	default:
		return nil, eris.Errorf("ocr: unknown provider %q", cfg.OCR.Provider)
	}
}
