// Package extract turns an uploaded quote into structured data: input checks,
// text recognition, rule-based field detection, optional LLM structuring and
// document classification.
package extract

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/verifdevis/devis-cli/internal/config"
	"github.com/verifdevis/devis-cli/internal/llm"
	"github.com/verifdevis/devis-cli/internal/model"
	"github.com/verifdevis/devis-cli/internal/ocr"
)

// PageCounter returns the page count of a PDF or an error for unreadable files.
type PageCounter func(data []byte) (int, error)

// Extractor is the document extraction stage.
type Extractor struct {
	ocr        ocr.Extractor
	llm        llm.Completer
	pageCount  PageCounter
	maxBytes   int64
	maxPages   int
	minTextLen int
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithLLM enables LLM structuring over the rule-based result.
func WithLLM(c llm.Completer) Option {
	return func(e *Extractor) { e.llm = c }
}

// WithPageCounter replaces the pdfcpu page counter.
func WithPageCounter(pc PageCounter) Option {
	return func(e *Extractor) { e.pageCount = pc }
}

// New creates an Extractor. Zero limits fall back to 10 MB, 30 pages and 100 characters.
func New(o ocr.Extractor, cfg config.ExtractConfig, opts ...Option) *Extractor {
	e := &Extractor{
		ocr:        o,
		pageCount:  ocr.PageCount,
		maxBytes:   cfg.MaxBytes,
		maxPages:   cfg.MaxPages,
		minTextLen: cfg.MinTextLength,
	}
	if e.maxBytes <= 0 {
		e.maxBytes = 10 * 1024 * 1024
	}
	if e.maxPages <= 0 {
		e.maxPages = 30
	}
	if e.minTextLen <= 0 {
		e.minTextLen = 100
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract validates the document, recognises its text and returns the
// structured quote. Input problems are returned before any external call.
func (e *Extractor) Extract(ctx context.Context, doc ocr.Document) (*model.ExtractedData, error) {
	doc.MimeType = ocr.NormalizeMime(doc.MimeType)
	if err := e.check(doc); err != nil {
		return nil, err
	}

	log := zap.L().With(zap.String("file", doc.Name), zap.String("mime", doc.MimeType))
	start := time.Now()

	text, err := e.ocr.ExtractText(ctx, doc)
	if err != nil {
		if eris.Is(err, ocr.ErrUnsupportedMedia) {
			return nil, model.ValidationError("Format de fichier non pris en charge.", doc.MimeType)
		}
		return nil, model.UpstreamError("La lecture du document a échoué, veuillez réessayer.", eris.Wrap(err, "extract: ocr"))
	}

	text = strings.TrimSpace(text)
	if len([]rune(text)) < e.minTextLen {
		return nil, model.ExtractionError("Le document est illisible : aucun texte exploitable n'a été trouvé.",
			eris.Errorf("extract: document illisible (%d caractères)", len([]rune(text))))
	}

	ed := ParseRules(text)
	if e.llm != nil {
		structured, err := structure(ctx, e.llm, text, ed)
		if err != nil {
			log.Warn("extract: llm structuring failed, keeping rule-based result", zap.Error(err))
		} else {
			ed = structured
		}
	}

	e.finish(ed, text)

	log.Info("extract: document parsed",
		zap.String("source", ed.Source),
		zap.String("document_type", string(ed.DocumentType)),
		zap.Int("line_items", len(ed.LineItems)),
		zap.Bool("identifier", ed.Identifier != ""),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return ed, nil
}

func (e *Extractor) check(doc ocr.Document) error {
	if !ocr.Allowed(doc.MimeType) {
		return model.ValidationError("Format de fichier non pris en charge. Formats acceptés : PDF, JPEG, PNG, HEIC, WEBP.", doc.MimeType)
	}
	if len(doc.Data) == 0 {
		return model.ValidationError("Le fichier est vide.", doc.Name)
	}
	if int64(len(doc.Data)) > e.maxBytes {
		return model.ValidationError("Le fichier dépasse la taille maximale autorisée.",
			fmt.Sprintf("%d octets, maximum %d", len(doc.Data), e.maxBytes))
	}
	if !doc.IsPDF() {
		return nil
	}

	n, err := e.pageCount(doc.Data)
	if err != nil {
		return model.ValidationError("Le fichier PDF est corrompu ou protégé.", err.Error())
	}
	if n > e.maxPages {
		return model.ValidationError("Le document comporte trop de pages.",
			fmt.Sprintf("%d pages, maximum %d", n, e.maxPages))
	}
	return nil
}

// finish fills derived fields common to both extraction paths.
func (e *Extractor) finish(ed *model.ExtractedData, text string) {
	ed.RawText = text
	for i := range ed.LineItems {
		if !validJobType(ed.LineItems[i].JobType) {
			ed.LineItems[i].JobType = CategorizeLine(ed.LineItems[i].Label)
		}
	}
	if ed.DocumentType == "" {
		ed.DocumentType = ClassifyDocument(text)
	}
	if ed.LineItems == nil {
		ed.LineItems = []model.LineItem{}
	}
	if ed.Insurances == nil {
		ed.Insurances = []model.InsuranceRef{}
	}
}
