// Package filestore persists raw image bytes under generated names. It
// defines the Store interface with local-disk, S3 and in-memory backends.
// Stores know nothing about patients or metadata.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Sentinel errors
// ---------------------------------------------------------------------------

var (
	ErrNotFound    = errors.New("file not found")
	ErrWrite       = errors.New("storage write failed")
	ErrRead        = errors.New("storage read failed")
	ErrInvalidName = errors.New("invalid file name")
)

// ---------------------------------------------------------------------------
// Extensions and content types
// ---------------------------------------------------------------------------

// ImageExtensions are the extensions List reports.
var ImageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".bmp":  true,
	".tiff": true,
	".webp": true,
}

// MIMEExtensions maps accepted image MIME types to the extension used when the
// client filename carries none.
var MIMEExtensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/jpg":  ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/bmp":  ".bmp",
	"image/tiff": ".tiff",
	"image/webp": ".webp",
}

var contentTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".bmp":  "image/bmp",
	".tiff": "image/tiff",
	".webp": "image/webp",
}

// ContentType returns the MIME type to serve a stored file with.
func ContentType(name string) string {
	ext := strings.ToLower(path.Ext(name))
	if ct, ok := contentTypes[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// IsImage reports whether name has one of the ImageExtensions.
func IsImage(name string) bool {
	return ImageExtensions[strings.ToLower(path.Ext(name))]
}

// ---------------------------------------------------------------------------
// Domain types
// ---------------------------------------------------------------------------

// Object describes a file written by Put. ID is the random identifier the
// name was built from; Name is ID plus the extension.
type Object struct {
	ID   string
	Name string
	Path string
	Size int64
}

// FileInfo is one entry returned by List.
type FileInfo struct {
	Name    string
	Size    int64
	ModTime time.Time
}

// ---------------------------------------------------------------------------
// Store interface
// ---------------------------------------------------------------------------

// Store defines the contract for file storage backends.
type Store interface {
	// Put writes data under a freshly generated name ending in ext.
	Put(ctx context.Context, data []byte, ext string) (*Object, error)
	Get(ctx context.Context, name string) (io.ReadCloser, error)
	Delete(ctx context.Context, name string) error
	// List returns image files, newest first.
	List(ctx context.Context) ([]FileInfo, error)
}

// NewName generates the identifier and storage name for a new file. Both come
// from one random UUID so callers never need to parse a name back into an id.
func NewName(ext string) (id, name string, err error) {
	ext = strings.ToLower(ext)
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	if strings.ContainsAny(ext, `/\`) || strings.Contains(ext, "..") {
		return "", "", fmt.Errorf("%w: extension %q", ErrInvalidName, ext)
	}
	id = uuid.NewString()
	return id, id + ext, nil
}

// ValidateName rejects names that could escape the store root.
func ValidateName(name string) error {
	if name == "" || name == "." || strings.Contains(name, "..") ||
		strings.ContainsAny(name, "/\\\x00") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}
