package imaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/journalsystem/imageservice/internal/platform/filestore"
	"github.com/journalsystem/imageservice/internal/platform/metrics"
	"github.com/journalsystem/imageservice/internal/platform/overlay"
)

// Transformer renders an overlay onto encoded image bytes.
type Transformer interface {
	Apply(ctx context.Context, src []byte, ext string, inst overlay.Instruction) ([]byte, error)
}

// Service orchestrates the File Store, the Metadata Store and the Image
// Transform. A nil repository puts it in file-only mode: files are stored and
// listed but no metadata or lineage is kept.
type Service struct {
	repo      ImageRepository
	store     filestore.Store
	transform Transformer
	logger    zerolog.Logger
	metrics   *metrics.Metrics
	policy    *bluemonday.Policy
	now       func() time.Time
}

func NewService(repo ImageRepository, store filestore.Store, transform Transformer, logger zerolog.Logger, m *metrics.Metrics) *Service {
	return &Service{
		repo:      repo,
		store:     store,
		transform: transform,
		logger:    logger.With().Str("component", "imaging").Logger(),
		metrics:   m,
		policy:    bluemonday.StrictPolicy(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// FileOnly reports whether the service runs without a Metadata Store.
func (s *Service) FileOnly() bool { return s.repo == nil }

// sanitize strips markup from free text and stores what is left as plain
// text, so the policy's entity escaping is undone. Empty results become nil.
func (s *Service) sanitize(v string) *string {
	return optional(html.UnescapeString(s.policy.Sanitize(v)))
}

// optional trims v and returns nil when nothing is left.
func optional(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}

// ---------------------------------------------------------------------------
// Upload
// ---------------------------------------------------------------------------

// Upload records a file the upload filter already stored. When a required
// field is missing the file is removed again before any row is written.
func (s *Service) Upload(ctx context.Context, in UploadInput) (*UploadedImage, error) {
	if in.File == nil {
		s.metrics.UploadFailed()
		return nil, invalid("No file uploaded")
	}

	patientID := strings.TrimSpace(in.PatientID)
	userID := strings.TrimSpace(in.UserID)
	switch {
	case patientID == "":
		s.discard(ctx, in.File.Name)
		s.metrics.UploadFailed()
		return nil, invalid("Patient ID is required")
	case userID == "":
		s.discard(ctx, in.File.Name)
		s.metrics.UploadFailed()
		return nil, invalid("User ID is required")
	}

	username := DefaultUsername
	if u := s.sanitize(in.Username); u != nil {
		username = *u
	}

	img := &Image{
		ID:                 in.File.ID,
		Filename:           in.File.Name,
		OriginalFilename:   in.File.OriginalName,
		Path:               in.File.Path,
		PatientID:          patientID,
		UploadedByUserID:   userID,
		UploadedByUsername: username,
		UploadDate:         s.now(),
		FileSize:           in.File.Size,
		MimeType:           in.File.MimeType,
		Description:        s.sanitize(in.Description),
		Tags:               s.sanitize(in.Tags),
	}

	if s.repo != nil {
		if err := s.repo.Create(ctx, img); err != nil {
			// The file stays behind; see DESIGN.md on orphan files.
			s.logger.Error().Err(err).
				Str("image_id", img.ID).
				Str("filename", img.Filename).
				Msg("image metadata not saved, file left orphaned")
			s.metrics.OrphanFile()
			s.metrics.UploadFailed()
			return nil, fmt.Errorf("save image metadata: %w", err)
		}
	}

	s.metrics.UploadSucceeded()
	s.logger.Info().
		Str("image_id", img.ID).
		Str("filename", img.Filename).
		Int64("size", img.FileSize).
		Msg("image uploaded")

	return &UploadedImage{
		ID:         img.ID,
		Filename:   img.Filename,
		PatientID:  img.PatientID,
		UploadedBy: img.UploadedByUsername,
		UploadDate: img.UploadDate,
		URL:        URLFor(img.Filename),
	}, nil
}

func (s *Service) discard(ctx context.Context, name string) {
	if err := s.store.Delete(ctx, name); err != nil && !errors.Is(err, filestore.ErrNotFound) {
		s.logger.Error().Err(err).Str("filename", name).Msg("remove rejected upload")
	}
}

// ---------------------------------------------------------------------------
// Queries
// ---------------------------------------------------------------------------

// Retrieve opens a stored file. No metadata row is needed.
func (s *Service) Retrieve(ctx context.Context, filename string) (io.ReadCloser, string, error) {
	if err := filestore.ValidateName(filename); err != nil {
		return nil, "", fmt.Errorf("%w: %s", ErrNotFound, filename)
	}
	rc, err := s.store.Get(ctx, filename)
	if err != nil {
		return nil, "", storeError(err, ErrStorageRead)
	}
	return rc, filestore.ContentType(filename), nil
}

// ListForPatient returns the patient's images, newest upload first.
func (s *Service) ListForPatient(ctx context.Context, patientID string) ([]*ImageView, error) {
	if strings.TrimSpace(patientID) == "" {
		return nil, invalid("Patient ID is required")
	}
	if s.repo == nil {
		return []*ImageView{}, nil
	}
	rows, err := s.repo.ListByPatient(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("list images for patient: %w", err)
	}
	return views(rows), nil
}

// GetMetadata returns the row for id with its edit history.
func (s *Service) GetMetadata(ctx context.Context, id string) (*ImageDetail, error) {
	if s.repo == nil {
		return nil, ErrNotFound
	}
	img, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	edits, err := s.repo.ListEdits(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list image edits: %w", err)
	}
	if edits == nil {
		edits = []*ImageEdit{}
	}
	return &ImageDetail{Image: img, URL: URLFor(img.Filename), Edits: edits}, nil
}

// ListAll returns every image newest first. In file-only mode the File Store
// is listed instead.
func (s *Service) ListAll(ctx context.Context) ([]*ImageView, error) {
	if s.repo == nil {
		files, err := s.store.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrStorageRead, err)
		}
		return lo.Map(files, func(f filestore.FileInfo, _ int) *ImageView {
			u := URLFor(f.Name)
			return &ImageView{
				Filename:     f.Name,
				UploadDate:   f.ModTime,
				FileSize:     f.Size,
				MimeType:     filestore.ContentType(f.Name),
				URL:          u,
				ThumbnailURL: u,
			}
		}), nil
	}
	rows, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}
	return views(rows), nil
}

func views(rows []*Image) []*ImageView {
	return lo.Map(rows, func(img *Image, _ int) *ImageView { return img.View() })
}

// ---------------------------------------------------------------------------
// Edits
// ---------------------------------------------------------------------------

// AddTextOverlay draws text onto filename and stores the result as a new
// image derived from it.
func (s *Service) AddTextOverlay(ctx context.Context, filename string, req TextRequest) (*EditResult, error) {
	inst, err := overlay.NewTextInstruction(overlay.TextOptions{
		Text:     req.Text,
		X:        req.X,
		Y:        req.Y,
		FontSize: req.FontSize,
		Color:    req.Color,
	})
	switch {
	case errors.Is(err, overlay.ErrEmptyText):
		return nil, invalid("Text is required")
	case err != nil:
		return nil, invalid(err.Error())
	}
	return s.applyEdit(ctx, filename, EditTypeAddText, inst, req.UserID)
}

// AddShapeOverlay draws a rectangle, circle, arrow or line onto filename.
func (s *Service) AddShapeOverlay(ctx context.Context, filename string, req ShapeRequest) (*EditResult, error) {
	inst, err := overlay.NewShapeInstruction(overlay.ShapeOptions{
		Shape:       req.Shape,
		X:           req.X,
		Y:           req.Y,
		Width:       req.Width,
		Height:      req.Height,
		Color:       req.Color,
		StrokeWidth: req.StrokeWidth,
	})
	switch {
	case errors.Is(err, overlay.ErrInvalidShape):
		return nil, err
	case err != nil:
		return nil, invalid(err.Error())
	}
	return s.applyEdit(ctx, filename, EditTypeDraw, inst, req.UserID)
}

type editData struct {
	Params         overlay.Instruction `json:"params"`
	Overlay        string              `json:"overlay"`
	SourceFilename string              `json:"sourceFilename"`
}

func (s *Service) applyEdit(ctx context.Context, filename, editType string, inst overlay.Instruction, userID string) (*EditResult, error) {
	src, err := s.readAll(ctx, filename)
	if err != nil {
		return nil, err
	}

	ext := strings.ToLower(path.Ext(filename))
	out, err := s.transform.Apply(ctx, src, ext, inst)
	if err != nil {
		if errors.Is(err, overlay.ErrTimeout) {
			return nil, fmt.Errorf("%w: %w", ErrTimeout, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrTransform, err)
	}

	obj, err := s.store.Put(ctx, out, ext)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorageWrite, err)
	}

	log := s.logger.With().
		Str("source", filename).
		Str("filename", obj.Name).
		Str("edit_type", editType).
		Logger()

	degraded := &EditResult{Image: &ImageView{
		Filename:     obj.Name,
		UploadDate:   s.now(),
		MimeType:     filestore.ContentType(obj.Name),
		IsEdited:     true,
		URL:          URLFor(obj.Name),
		ThumbnailURL: URLFor(obj.Name),
	}}

	if s.repo == nil {
		s.metrics.EditProduced(editType, false)
		return degraded, nil
	}

	source, err := s.repo.GetByFilename(ctx, filename)
	if err != nil {
		ev := log.Warn()
		if !errors.Is(err, ErrNotFound) {
			ev = log.Error().Err(err)
		}
		ev.Msg("source image has no metadata row, lineage not recorded")
		s.metrics.EditProduced(editType, false)
		return degraded, nil
	}

	data, err := json.Marshal(editData{Params: inst, Overlay: inst.SVG(), SourceFilename: filename})
	if err != nil {
		return nil, fmt.Errorf("encode edit data: %w", err)
	}

	now := s.now()
	derived := &Image{
		ID:                 obj.ID,
		Filename:           obj.Name,
		OriginalFilename:   source.OriginalFilename,
		Path:               obj.Path,
		PatientID:          source.PatientID,
		UploadedByUserID:   source.UploadedByUserID,
		UploadedByUsername: source.UploadedByUsername,
		UploadDate:         now,
		FileSize:           0,
		MimeType:           source.MimeType,
		Description:        withEditMarker(source.Description, editType),
		Tags:               source.Tags,
		IsEdited:           true,
		ParentImageID:      &source.ID,
	}
	edit := &ImageEdit{
		ID:             uuid.NewString(),
		ImageID:        derived.ID,
		EditType:       editType,
		EditData:       data,
		EditedByUserID: optional(userID),
		EditedAt:       now,
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Create(ctx, derived); err != nil {
			return err
		}
		return s.repo.CreateEdit(ctx, edit)
	})
	if err != nil {
		log.Error().Err(err).Msg("derived image metadata not saved, file left orphaned")
		s.metrics.OrphanFile()
		return nil, fmt.Errorf("save derived image: %w", err)
	}

	s.metrics.EditProduced(editType, true)
	log.Info().Str("image_id", derived.ID).Str("parent_image_id", source.ID).Msg("derived image created")
	return &EditResult{Image: derived.View(), Lineage: true}, nil
}

func (s *Service) readAll(ctx context.Context, filename string) ([]byte, error) {
	rc, _, err := s.Retrieve(ctx, filename)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorageRead, err)
	}
	return data, nil
}

func withEditMarker(desc *string, editType string) *string {
	marker := "[edited: " + editType + "]"
	if desc == nil || *desc == "" {
		return &marker
	}
	v := *desc + " " + marker
	return &v
}

// ---------------------------------------------------------------------------
// Delete
// ---------------------------------------------------------------------------

// Delete removes the image row and its edits. A file that cannot be removed is
// logged and otherwise ignored.
func (s *Service) Delete(ctx context.Context, id string) error {
	if s.repo == nil {
		return ErrNotFound
	}
	img, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if err := s.store.Delete(ctx, img.Filename); err != nil {
		ev := s.logger.Error().Err(err)
		if errors.Is(err, filestore.ErrNotFound) {
			ev = s.logger.Warn()
		}
		ev.Str("image_id", id).Str("filename", img.Filename).Msg("image file not removed")
		s.metrics.FileDeleteFailed()
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete image: %w", err)
	}
	s.metrics.Deleted()
	s.logger.Info().Str("image_id", id).Msg("image deleted")
	return nil
}

// storeError maps File Store errors onto the service sentinels.
func storeError(err, fallback error) error {
	switch {
	case errors.Is(err, filestore.ErrNotFound), errors.Is(err, filestore.ErrInvalidName):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, filestore.ErrWrite):
		return fmt.Errorf("%w: %w", ErrStorageWrite, err)
	default:
		return fmt.Errorf("%w: %w", fallback, err)
	}
}
