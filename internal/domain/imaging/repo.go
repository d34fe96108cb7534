package imaging

import "context"

// ImageRepository is the Metadata Store.
type ImageRepository interface {
	Create(ctx context.Context, img *Image) error
	GetByID(ctx context.Context, id string) (*Image, error)
	GetByFilename(ctx context.Context, filename string) (*Image, error)
	ListByPatient(ctx context.Context, patientID string) ([]*Image, error)
	List(ctx context.Context) ([]*Image, error)
	// Delete removes the image and its edits atomically.
	Delete(ctx context.Context, id string) error
	CreateEdit(ctx context.Context, e *ImageEdit) error
	ListEdits(ctx context.Context, imageID string) ([]*ImageEdit, error)
	// WithTx runs fn in a transaction that repository calls made with the
	// ctx passed to fn take part in.
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}
