package ocr

import (
	"bytes"
	"sync"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/rotisserie/eris"
)

var disableConfigOnce sync.Once

// PageCount parses the PDF structure and returns its page count.
// Corrupt or encrypted files return an error.
func PageCount(data []byte) (int, error) {
	disableConfigOnce.Do(api.DisableConfigDir)

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	n, err := api.PageCount(bytes.NewReader(data), conf)
	if err != nil {
		return 0, eris.Wrap(err, "ocr: read pdf structure")
	}
	return n, nil
}
