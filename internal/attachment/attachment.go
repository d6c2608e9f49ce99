// Package attachment stores uploaded files on local disk and resolves the
// opaque references carried by messages.
package attachment

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/relaypoint/messaging-platform/internal/model"
)

// ErrInvalidType is returned for uploads outside the allow-list.
var ErrInvalidType = errors.New("invalid file type: only images, PDF and Word files are allowed")

var allowedMIMETypes = map[string]struct{}{
	"image/jpeg": {},
	"image/png":  {},
	"image/gif":  {},
	"image/webp": {},
	"application/pdf":    {},
	"application/msword": {},
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": {},
}

var allowedExtensions = map[string]struct{}{
	".jpg": {}, ".jpeg": {}, ".png": {}, ".gif": {}, ".webp": {},
	".pdf": {}, ".doc": {}, ".docx": {},
}

// Store saves attachments under a local directory and serves them by URL
// path. The returned reference is opaque to the rest of the system.
type Store struct {
	dir     string
	baseURL string
	maxSize int64
}

// NewStore creates the attachment store, ensuring the directory exists.
func NewStore(dir, baseURL string, maxSize int64) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &Store{dir: dir, baseURL: strings.TrimSuffix(baseURL, "/"), maxSize: maxSize}, nil
}

// Dir returns the on-disk directory, for static file serving.
func (s *Store) Dir() string {
	return s.dir
}

// Save writes an uploaded file to disk and returns its reference and the
// message kind it implies.
func (s *Store) Save(file multipart.File, header *multipart.FileHeader) (string, model.Kind, error) {
	contentType := header.Header.Get("Content-Type")
	ext := strings.ToLower(filepath.Ext(header.Filename))
	if _, ok := allowedMIMETypes[contentType]; !ok {
		return "", "", ErrInvalidType
	}
	if _, ok := allowedExtensions[ext]; !ok {
		return "", "", ErrInvalidType
	}
	if s.maxSize > 0 && header.Size > s.maxSize {
		return "", "", fmt.Errorf("file exceeds maximum size of %d bytes", s.maxSize)
	}

	name := fmt.Sprintf("%d-%s", time.Now().UnixMilli(), sanitize(header.Filename))
	dst, err := os.Create(filepath.Join(s.dir, name))
	if err != nil {
		return "", "", fmt.Errorf("create attachment file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, file); err != nil {
		os.Remove(dst.Name())
		return "", "", fmt.Errorf("write attachment: %w", err)
	}

	kind := model.KindFile
	if strings.HasPrefix(contentType, "image/") {
		kind = model.KindImage
	}
	return s.baseURL + "/" + name, kind, nil
}

// Open resolves a reference to its on-disk file. References outside the
// store's base URL are rejected.
func (s *Store) Open(ref string) (*os.File, error) {
	name, err := s.fileName(ref)
	if err != nil {
		return nil, err
	}
	return os.Open(filepath.Join(s.dir, name))
}

// ReadImageDataURL reads an image attachment into a base64 data URL for
// assistant vision prompts.
func (s *Store) ReadImageDataURL(ref string) (string, error) {
	name, err := s.fileName(ref)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		return "", fmt.Errorf("read attachment: %w", err)
	}
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(data), nil
}

func (s *Store) fileName(ref string) (string, error) {
	if !strings.HasPrefix(ref, s.baseURL+"/") {
		return "", fmt.Errorf("unknown attachment reference %q", ref)
	}
	name := strings.TrimPrefix(ref, s.baseURL+"/")
	// No path traversal out of the store directory.
	if cleaned := path.Clean(name); cleaned != name || strings.Contains(name, "/") {
		return "", fmt.Errorf("unknown attachment reference %q", ref)
	}
	return name, nil
}

func sanitize(name string) string {
	name = filepath.Base(name)
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}
