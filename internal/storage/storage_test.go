package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verifdevis/devis-cli/internal/config"
	"github.com/verifdevis/devis-cli/internal/model"
	"github.com/verifdevis/devis-cli/internal/ocr"
)

func TestLocal_UploadDownload(t *testing.T) {
	dir := t.TempDir()
	l := NewLocal(dir)
	ctx := context.Background()

	pdf := []byte("%PDF-1.4\n%fake")
	require.NoError(t, l.Upload(ctx, "user-1/devis.pdf", pdf, ocr.MimePDF))

	_, err := os.Stat(filepath.Join(dir, "user-1", "devis.pdf"))
	require.NoError(t, err)

	obj, err := l.Download(ctx, "/user-1/devis.pdf")
	require.NoError(t, err)
	assert.Equal(t, "user-1/devis.pdf", obj.Path)
	assert.Equal(t, "devis.pdf", obj.Name)
	assert.Equal(t, ocr.MimePDF, obj.MimeType)
	assert.Equal(t, pdf, obj.Data)
}

func TestLocal_NotFound(t *testing.T) {
	l := NewLocal(t.TempDir())
	_, err := l.Download(context.Background(), "missing.pdf")
	require.Error(t, err)
	assert.True(t, model.IsNotFound(err))
	assert.Equal(t, "Le fichier du devis est introuvable.", model.UserMessage(err))
}

func TestLocal_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewLocal(t.TempDir()).Download(ctx, "x.pdf")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCleanPath(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"quotes/a.pdf", "quotes/a.pdf", false},
		{"/quotes/./a.pdf", "quotes/a.pdf", false},
		{"  a.png ", "a.png", false},
		{"", "", true},
		{"../etc/passwd", "", true},
		{"quotes/../../x", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := cleanPath(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, model.KindValidation, model.KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDetectMime(t *testing.T) {
	assert.Equal(t, ocr.MimePDF, DetectMime("a.PDF", nil))
	assert.Equal(t, ocr.MimeJPEG, DetectMime("photo.jpg", nil))
	assert.Equal(t, ocr.MimePNG, DetectMime("scan.png", nil))
	assert.Equal(t, ocr.MimeHEIC, DetectMime("IMG_001.heic", nil))
	assert.Equal(t, ocr.MimePDF, DetectMime("noext", []byte("%PDF-1.7 ...")))
}

func TestObject_Document(t *testing.T) {
	obj := &Object{Name: "devis", MimeType: ocr.MimePDF, Data: []byte("x")}

	assert.Equal(t, ocr.MimeJPEG, obj.Document("image/jpg").MimeType)
	doc := obj.Document("")
	assert.Equal(t, ocr.MimePDF, doc.MimeType)
	assert.Equal(t, "devis", doc.Name)
}

func TestNew_UnsupportedDriver(t *testing.T) {
	_, err := New(context.Background(), config.StorageConfig{Driver: "ftp"})
	assert.Error(t, err)

	s, err := New(context.Background(), config.StorageConfig{Driver: "local", LocalDir: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &Local{}, s)
}
