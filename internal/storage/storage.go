// Package storage puts uploaded objects somewhere they can be served from.
package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ObjectStorage stores an object under key and returns its public URL.
type ObjectStorage interface {
	Put(ctx context.Context, key, contentType string, body io.Reader) (string, error)
}

// EquipmentImageKeys returns the display and thumbnail keys for a new upload:
// equipment/<yyyy>/<mm>/<uuid>.jpg and equipment/<yyyy>/<mm>/<uuid>-thumb.jpg.
func EquipmentImageKeys(now time.Time) (display, thumb string) {
	base := path.Join("equipment", now.UTC().Format("2006/01"), uuid.NewString())
	return base + ".jpg", base + "-thumb.jpg"
}

// Local writes objects below a directory that the API serves at /uploads.
type Local struct {
	basePath string
	baseURL  string
}

func NewLocal(basePath, publicBaseURL string) (*Local, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &Local{basePath: basePath, baseURL: strings.TrimRight(publicBaseURL, "/") + "/uploads"}, nil
}

func (s *Local) Put(_ context.Context, key, _ string, body io.Reader) (string, error) {
	clean := path.Clean("/" + key)[1:]
	if clean == "" || clean != key {
		return "", fmt.Errorf("invalid object key %q", key)
	}

	full := filepath.Join(s.basePath, filepath.FromSlash(clean))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", err
	}
	dst, err := os.Create(full)
	if err != nil {
		return "", err
	}
	defer dst.Close()

	if _, err := io.Copy(dst, body); err != nil {
		return "", fmt.Errorf("write %s: %w", key, err)
	}
	return s.baseURL + "/" + clean, nil
}
