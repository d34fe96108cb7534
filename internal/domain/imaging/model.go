package imaging

import (
	"encoding/json"
	"net/url"
	"time"
)

// Edit types recorded in image_edits.edit_type.
const (
	EditTypeAddText = "add_text"
	EditTypeDraw    = "draw"
)

// DefaultUsername is recorded when an upload carries no username.
const DefaultUsername = "Unknown"

// Image is one stored artifact, either an upload or the result of an edit.
type Image struct {
	ID                 string    `json:"id"`
	Filename           string    `json:"filename"`
	OriginalFilename   string    `json:"originalFilename"`
	Path               string    `json:"path"`
	PatientID          string    `json:"patientId"`
	UploadedByUserID   string    `json:"uploadedByUserId"`
	UploadedByUsername string    `json:"uploadedByUsername"`
	UploadDate         time.Time `json:"uploadDate"`
	FileSize           int64     `json:"fileSize"`
	MimeType           string    `json:"mimeType"`
	Description        *string   `json:"description"`
	Tags               *string   `json:"tags"`
	IsEdited           bool      `json:"isEdited"`
	ParentImageID      *string   `json:"parentImageId"`
	CreatedAt          time.Time `json:"createdAt"`
}

// ImageEdit is an append-only record of one overlay applied to produce the
// image ImageID.
type ImageEdit struct {
	ID             string          `json:"id"`
	ImageID        string          `json:"imageId"`
	EditType       string          `json:"editType"`
	EditData       json.RawMessage `json:"editData"`
	EditedByUserID *string         `json:"editedByUserId"`
	EditedAt       time.Time       `json:"editedAt"`
}

// ImageView is an Image as returned by list and edit endpoints. ID is empty
// for files that have no metadata row.
type ImageView struct {
	ID               string    `json:"id,omitempty"`
	Filename         string    `json:"filename"`
	OriginalFilename string    `json:"originalFilename,omitempty"`
	PatientID        string    `json:"patientId,omitempty"`
	UploadedBy       string    `json:"uploadedBy,omitempty"`
	UploadDate       time.Time `json:"uploadDate"`
	FileSize         int64     `json:"fileSize"`
	MimeType         string    `json:"mimeType,omitempty"`
	Description      *string   `json:"description,omitempty"`
	Tags             *string   `json:"tags,omitempty"`
	IsEdited         bool      `json:"isEdited"`
	ParentImageID    *string   `json:"parentImageId,omitempty"`
	URL              string    `json:"url"`
	ThumbnailURL     string    `json:"thumbnailUrl"`
}

// ImageDetail is the metadata endpoint's view: the full row plus its edits.
type ImageDetail struct {
	*Image
	URL   string       `json:"url"`
	Edits []*ImageEdit `json:"edits"`
}

// URLFor returns the retrieval path for a stored file.
func URLFor(filename string) string {
	return "/images/" + url.PathEscape(filename)
}

// View converts a row to its list representation.
func (img *Image) View() *ImageView {
	u := URLFor(img.Filename)
	return &ImageView{
		ID:               img.ID,
		Filename:         img.Filename,
		OriginalFilename: img.OriginalFilename,
		PatientID:        img.PatientID,
		UploadedBy:       img.UploadedByUsername,
		UploadDate:       img.UploadDate,
		FileSize:         img.FileSize,
		MimeType:         img.MimeType,
		Description:      img.Description,
		Tags:             img.Tags,
		IsEdited:         img.IsEdited,
		ParentImageID:    img.ParentImageID,
		URL:              u,
		ThumbnailURL:     u,
	}
}

// StoredFile is what the upload filter hands to the service: a file already
// written to the File Store plus what the client told us about it.
type StoredFile struct {
	ID           string
	Name         string
	Path         string
	OriginalName string
	Size         int64
	MimeType     string
}

// UploadInput carries the form fields of an upload.
type UploadInput struct {
	File        *StoredFile
	PatientID   string
	UserID      string
	Username    string
	Description string
	Tags        string
}

// UploadedImage is the descriptor returned after an upload.
type UploadedImage struct {
	ID         string    `json:"id"`
	Filename   string    `json:"filename"`
	PatientID  string    `json:"patientId"`
	UploadedBy string    `json:"uploadedBy"`
	UploadDate time.Time `json:"uploadDate"`
	URL        string    `json:"url"`
}

// TextRequest is the body of POST /images/:filename/text.
type TextRequest struct {
	Text     string   `json:"text"`
	X        *float64 `json:"x"`
	Y        *float64 `json:"y"`
	FontSize *float64 `json:"fontSize"`
	Color    string   `json:"color"`
	UserID   string   `json:"userId"`
}

// ShapeRequest is the body of POST /images/:filename/draw.
type ShapeRequest struct {
	Shape       string   `json:"shape"`
	X           *float64 `json:"x"`
	Y           *float64 `json:"y"`
	Width       *float64 `json:"width"`
	Height      *float64 `json:"height"`
	Color       string   `json:"color"`
	StrokeWidth *float64 `json:"strokeWidth"`
	UserID      string   `json:"userId"`
}

// EditResult describes the image produced by an overlay. Lineage is false
// when the source had no metadata row and nothing was recorded.
type EditResult struct {
	Image   *ImageView
	Lineage bool
}
