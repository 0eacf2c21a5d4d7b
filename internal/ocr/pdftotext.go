package ocr

import (
	"bytes"
	"context"
	"os"
	"os/exec"

	"github.com/rotisserie/eris"
)

// PdfToText extracts text from PDFs using the pdftotext CLI tool. It cannot
// read images.
type PdfToText struct {
	binPath string
}

// NewPdfToText creates a PdfToText extractor. If binPath is empty, "pdftotext" is used.
func NewPdfToText(binPath string) *PdfToText {
	if binPath == "" {
		binPath = "pdftotext"
	}
	return &PdfToText{binPath: binPath}
}

// ExtractText writes the PDF to a temp file, runs pdftotext -layout and returns stdout.
func (p *PdfToText) ExtractText(ctx context.Context, doc Document) (string, error) {
	if !doc.IsPDF() {
		return "", eris.Wrapf(ErrUnsupportedMedia, "ocr: pdftotext cannot read %s", doc.MimeType)
	}

	f, err := os.CreateTemp("", "devis-*.pdf")
	if err != nil {
		return "", eris.Wrap(err, "ocr: create temp file")
	}
	defer os.Remove(f.Name()) //nolint:errcheck

	if _, err := f.Write(doc.Data); err != nil {
		f.Close() //nolint:errcheck,gosec
		return "", eris.Wrap(err, "ocr: write temp file")
	}
	if err := f.Close(); err != nil {
		return "", eris.Wrap(err, "ocr: close temp file")
	}

	cmd := exec.CommandContext(ctx, p.binPath, "-layout", "-enc", "UTF-8", f.Name(), "-")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", eris.Wrapf(err, "ocr: pdftotext failed for %s: %s", doc.Name, stderr.String())
	}

	return stdout.String(), nil
}
