// Package storage reads uploaded quote files from object storage or from
// the local filesystem.
package storage

import (
	"context"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/verifdevis/devis-cli/internal/config"
	"github.com/verifdevis/devis-cli/internal/model"
	"github.com/verifdevis/devis-cli/internal/ocr"
)

// Object is a downloaded file.
type Object struct {
	Path     string
	Name     string
	MimeType string
	Data     []byte
}

// Document converts the object into OCR input. The declared MIME type
// wins over the one guessed at download time.
func (o *Object) Document(declared string) ocr.Document {
	mt := ocr.NormalizeMime(declared)
	if mt == "" {
		mt = o.MimeType
	}
	return ocr.Document{Name: o.Name, MimeType: mt, Data: o.Data}
}

// Storage reads and writes quote files by path.
type Storage interface {
	Download(ctx context.Context, path string) (*Object, error)
	Upload(ctx context.Context, path string, data []byte, mimeType string) error
}

// New builds the Storage selected by cfg.Driver.
func New(ctx context.Context, cfg config.StorageConfig) (Storage, error) {
	switch cfg.Driver {
	case "minio", "":
		return NewMinio(ctx, cfg)
	case "local":
		return NewLocal(cfg.LocalDir), nil
	default:
		return nil, eris.Errorf("storage: unsupported driver %q", cfg.Driver)
	}
}

// cleanPath rejects empty paths and paths escaping the storage root.
func cleanPath(p string) (string, error) {
	p = strings.TrimSpace(strings.TrimPrefix(p, "/"))
	if p == "" {
		return "", model.ValidationError("Le chemin du fichier est manquant.", "empty file path")
	}
	cleaned := filepath.ToSlash(filepath.Clean(p))
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", model.ValidationError("Le chemin du fichier est invalide.", p)
	}
	return cleaned, nil
}

// DetectMime guesses a MIME type from the extension, then from content.
func DetectMime(path string, data []byte) string {
	if mt := mime.TypeByExtension(strings.ToLower(filepath.Ext(path))); mt != "" {
		return ocr.NormalizeMime(mt)
	}
	if strings.EqualFold(filepath.Ext(path), ".heic") {
		return ocr.MimeHEIC
	}
	return ocr.NormalizeMime(http.DetectContentType(data))
}

func notFound(path string) error {
	return &model.Error{
		Kind:    model.KindNotFound,
		Message: "Le fichier du devis est introuvable.",
		Details: "file " + path,
	}
}
