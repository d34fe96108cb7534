package imaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/journalsystem/imageservice/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type imageRepoPG struct{ pool *pgxpool.Pool }

func NewImageRepoPG(pool *pgxpool.Pool) ImageRepository {
	return &imageRepoPG{pool: pool}
}

func (r *imageRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const imageCols = `id, filename, original_filename, path, patient_id,
	uploaded_by_user_id, uploaded_by_username, upload_date,
	file_size, mime_type, description, tags,
	is_edited, parent_image_id, created_at`

const editCols = `id, image_id, edit_type, edit_data, edited_by_user_id, edited_at`

func (r *imageRepoPG) scanRow(row pgx.Row) (*Image, error) {
	var img Image
	err := row.Scan(&img.ID, &img.Filename, &img.OriginalFilename, &img.Path, &img.PatientID,
		&img.UploadedByUserID, &img.UploadedByUsername, &img.UploadDate,
		&img.FileSize, &img.MimeType, &img.Description, &img.Tags,
		&img.IsEdited, &img.ParentImageID, &img.CreatedAt)
	if err != nil {
		return nil, pgError(err)
	}
	return &img, nil
}

func (r *imageRepoPG) Create(ctx context.Context, img *Image) error {
	if img.PatientID == "" {
		return fmt.Errorf("%w: patient id is required", ErrConstraintViolation)
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO images (id, filename, original_filename, path, patient_id,
			uploaded_by_user_id, uploaded_by_username, upload_date,
			file_size, mime_type, description, tags,
			is_edited, parent_image_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		RETURNING created_at`,
		img.ID, img.Filename, img.OriginalFilename, img.Path, img.PatientID,
		img.UploadedByUserID, img.UploadedByUsername, img.UploadDate,
		img.FileSize, img.MimeType, img.Description, img.Tags,
		img.IsEdited, img.ParentImageID).Scan(&img.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert image: %w", pgError(err))
	}
	return nil
}

func (r *imageRepoPG) GetByID(ctx context.Context, id string) (*Image, error) {
	return r.scanRow(r.conn(ctx).QueryRow(ctx, `SELECT `+imageCols+` FROM images WHERE id = $1`, id))
}

func (r *imageRepoPG) GetByFilename(ctx context.Context, filename string) (*Image, error) {
	return r.scanRow(r.conn(ctx).QueryRow(ctx, `SELECT `+imageCols+` FROM images WHERE filename = $1`, filename))
}

func (r *imageRepoPG) ListByPatient(ctx context.Context, patientID string) ([]*Image, error) {
	return r.list(ctx, `SELECT `+imageCols+` FROM images WHERE patient_id = $1 ORDER BY upload_date DESC, created_at DESC`, patientID)
}

func (r *imageRepoPG) List(ctx context.Context) ([]*Image, error) {
	return r.list(ctx, `SELECT `+imageCols+` FROM images ORDER BY upload_date DESC, created_at DESC`)
}

func (r *imageRepoPG) list(ctx context.Context, query string, args ...interface{}) ([]*Image, error) {
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query images: %w", err)
	}
	defer rows.Close()
	var items []*Image
	for rows.Next() {
		img, err := r.scanRow(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, img)
	}
	return items, rows.Err()
}

func (r *imageRepoPG) Delete(ctx context.Context, id string) error {
	return r.WithTx(ctx, func(ctx context.Context) error {
		if _, err := r.conn(ctx).Exec(ctx, `DELETE FROM image_edits WHERE image_id = $1`, id); err != nil {
			return fmt.Errorf("delete image edits: %w", err)
		}
		tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM images WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("delete image: %w", pgError(err))
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (r *imageRepoPG) CreateEdit(ctx context.Context, e *ImageEdit) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO image_edits (id, image_id, edit_type, edit_data, edited_by_user_id, edited_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		e.ID, e.ImageID, e.EditType, []byte(e.EditData), e.EditedByUserID, e.EditedAt)
	if err != nil {
		return fmt.Errorf("insert image edit: %w", pgError(err))
	}
	return nil
}

func (r *imageRepoPG) ListEdits(ctx context.Context, imageID string) ([]*ImageEdit, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+editCols+` FROM image_edits WHERE image_id = $1 ORDER BY edited_at`, imageID)
	if err != nil {
		return nil, fmt.Errorf("query image edits: %w", err)
	}
	defer rows.Close()
	var items []*ImageEdit
	for rows.Next() {
		var e ImageEdit
		var data []byte
		if err := rows.Scan(&e.ID, &e.ImageID, &e.EditType, &data, &e.EditedByUserID, &e.EditedAt); err != nil {
			return nil, err
		}
		e.EditData = json.RawMessage(data)
		items = append(items, &e)
	}
	return items, rows.Err()
}

func (r *imageRepoPG) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return db.WithTx(ctx, r.pool, fn)
}

// pgError translates driver errors into the package sentinels.
func pgError(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505", "23502", "23503", "23514":
			return fmt.Errorf("%w: %s", ErrConstraintViolation, pgErr.Message)
		}
	}
	return err
}
