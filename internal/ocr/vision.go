package ocr

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/verifdevis/devis-cli/pkg/anthropic"
)

const visionPrompt = `Transcris intégralement le texte de ce devis, ligne par ligne, sans commentaire ni mise en forme Markdown.
Conserve les montants, les numéros SIRET/SIREN, les IBAN et les mentions d'assurance exactement comme ils apparaissent.`

// Vision transcribes documents with a vision-capable Claude model.
type Vision struct {
	client anthropic.Client
	model  string
}

// NewVision creates a Vision extractor.
func NewVision(client anthropic.Client, model string) *Vision {
	return &Vision{client: client, model: model}
}

// ExtractText sends the document as an attachment and returns the transcription.
// HEIC is not accepted by the API.
func (v *Vision) ExtractText(ctx context.Context, doc Document) (string, error) {
	if doc.MimeType == MimeHEIC {
		return "", eris.Wrapf(ErrUnsupportedMedia, "ocr: vision cannot read %s", doc.MimeType)
	}

	resp, err := v.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     v.model,
		MaxTokens: 8192,
		Messages: []anthropic.Message{{
			Role:        "user",
			Content:     visionPrompt,
			Attachments: []anthropic.Attachment{{MediaType: doc.MimeType, Data: doc.Data}},
		}},
	})
	if err != nil {
		return "", eris.Wrap(err, "ocr: vision transcription")
	}
	resp.Usage.LogCost(v.model, "ocr")

	return strings.TrimSpace(resp.Text()), nil
}
