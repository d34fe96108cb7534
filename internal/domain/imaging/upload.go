package imaging

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/samber/lo"

	"github.com/journalsystem/imageservice/internal/platform/filestore"
)

// UploadFields are the multipart field names accepted for the image.
var UploadFields = []string{"image", "file"}

// UploadFilter validates an uploaded part and writes it to the File Store.
// Type checks sniff the bytes; the client's Content-Type is not trusted.
type UploadFilter struct {
	store   filestore.Store
	allowed map[string]bool
	maxSize int64
}

func NewUploadFilter(store filestore.Store, allowedTypes []string, maxSize int64) *UploadFilter {
	allowed := lo.SliceToMap(allowedTypes, func(t string) (string, bool) {
		return strings.ToLower(strings.TrimSpace(t)), true
	})
	// image/jpg is a common alias for image/jpeg.
	if allowed["image/jpg"] {
		allowed["image/jpeg"] = true
	}
	return &UploadFilter{store: store, allowed: allowed, maxSize: maxSize}
}

// FindFile returns the first file part under one of UploadFields, or nil.
func FindFile(form *multipart.Form) *multipart.FileHeader {
	if form == nil {
		return nil
	}
	for _, field := range UploadFields {
		if files := form.File[field]; len(files) > 0 {
			return files[0]
		}
	}
	return nil
}

// Store reads fh, checks its size and type and writes it to the store.
func (f *UploadFilter) Store(ctx context.Context, fh *multipart.FileHeader) (*StoredFile, error) {
	if fh.Size > f.maxSize {
		return nil, fmt.Errorf("%w: limit is %d bytes", ErrFileTooLarge, f.maxSize)
	}

	src, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: open upload: %w", ErrStorageRead, err)
	}
	defer src.Close()

	data, err := io.ReadAll(io.LimitReader(src, f.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read upload: %w", ErrStorageRead, err)
	}
	if int64(len(data)) > f.maxSize {
		return nil, fmt.Errorf("%w: limit is %d bytes", ErrFileTooLarge, f.maxSize)
	}
	if len(data) == 0 {
		return nil, invalid("Uploaded file is empty")
	}

	mimeType := http.DetectContentType(data)
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}
	if !f.allowed[mimeType] {
		return nil, invalid(fmt.Sprintf("Invalid file type %s. Only images are allowed", mimeType))
	}

	obj, err := f.store.Put(ctx, data, extensionFor(fh.Filename, mimeType))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorageWrite, err)
	}

	return &StoredFile{
		ID:           obj.ID,
		Name:         obj.Name,
		Path:         obj.Path,
		OriginalName: filepath.Base(fh.Filename),
		Size:         obj.Size,
		MimeType:     mimeType,
	}, nil
}

// extensionFor keeps the client's extension when it names the sniffed type
// (".jpeg" for JPEG bytes, say). A missing, unknown or contradicting
// extension is replaced by the canonical one for mimeType.
func extensionFor(original, mimeType string) string {
	ext := strings.ToLower(filepath.Ext(original))
	if filestore.ImageExtensions[ext] && filestore.ContentType(ext) == mimeType {
		return ext
	}
	if canonical, ok := filestore.MIMEExtensions[mimeType]; ok {
		return canonical
	}
	return ext
}
