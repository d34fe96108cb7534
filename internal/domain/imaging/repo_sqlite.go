package imaging

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/journalsystem/imageservice/internal/platform/db"
)

type sqlQueryable interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

type imageRepoSQLite struct{ db *sql.DB }

// NewImageRepoSQLite returns a repository over a database opened with
// db.OpenSQLite. Foreign keys must be enabled on the handle.
func NewImageRepoSQLite(conn *sql.DB) ImageRepository {
	return &imageRepoSQLite{db: conn}
}

func (r *imageRepoSQLite) conn(ctx context.Context) sqlQueryable {
	if tx := db.SQLTxFromContext(ctx); tx != nil {
		return tx
	}
	return r.db
}

// sqliteTimeLayout is fixed width so that text ordering matches time ordering.
const sqliteTimeLayout = "2006-01-02 15:04:05.000000000"

func sqliteTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

// scanTime accepts both the time.Time the driver produces for DATETIME
// columns and the raw text.
type scanTime struct{ t *time.Time }

func (s scanTime) Scan(src interface{}) error {
	switch v := src.(type) {
	case time.Time:
		*s.t = v.UTC()
		return nil
	case string:
		return s.parse(v)
	case []byte:
		return s.parse(string(v))
	case nil:
		*s.t = time.Time{}
		return nil
	}
	return fmt.Errorf("unsupported time value %T", src)
}

func (s scanTime) parse(v string) error {
	for _, layout := range []string{sqliteTimeLayout, time.RFC3339Nano, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, v); err == nil {
			*s.t = t.UTC()
			return nil
		}
	}
	return fmt.Errorf("parse time %q", v)
}

func (r *imageRepoSQLite) scanRow(row interface{ Scan(...interface{}) error }) (*Image, error) {
	var img Image
	err := row.Scan(&img.ID, &img.Filename, &img.OriginalFilename, &img.Path, &img.PatientID,
		&img.UploadedByUserID, &img.UploadedByUsername, scanTime{&img.UploadDate},
		&img.FileSize, &img.MimeType, &img.Description, &img.Tags,
		&img.IsEdited, &img.ParentImageID, scanTime{&img.CreatedAt})
	if err != nil {
		return nil, sqliteError(err)
	}
	return &img, nil
}

func (r *imageRepoSQLite) Create(ctx context.Context, img *Image) error {
	if img.PatientID == "" {
		return fmt.Errorf("%w: patient id is required", ErrConstraintViolation)
	}
	if img.CreatedAt.IsZero() {
		img.CreatedAt = time.Now().UTC()
	}
	_, err := r.conn(ctx).ExecContext(ctx, `
		INSERT INTO images (id, filename, original_filename, path, patient_id,
			uploaded_by_user_id, uploaded_by_username, upload_date,
			file_size, mime_type, description, tags,
			is_edited, parent_image_id, created_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		img.ID, img.Filename, img.OriginalFilename, img.Path, img.PatientID,
		img.UploadedByUserID, img.UploadedByUsername, sqliteTime(img.UploadDate),
		img.FileSize, img.MimeType, img.Description, img.Tags,
		img.IsEdited, img.ParentImageID, sqliteTime(img.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert image: %w", sqliteError(err))
	}
	return nil
}

func (r *imageRepoSQLite) GetByID(ctx context.Context, id string) (*Image, error) {
	return r.scanRow(r.conn(ctx).QueryRowContext(ctx, `SELECT `+imageCols+` FROM images WHERE id = ?`, id))
}

func (r *imageRepoSQLite) GetByFilename(ctx context.Context, filename string) (*Image, error) {
	return r.scanRow(r.conn(ctx).QueryRowContext(ctx, `SELECT `+imageCols+` FROM images WHERE filename = ?`, filename))
}

func (r *imageRepoSQLite) ListByPatient(ctx context.Context, patientID string) ([]*Image, error) {
	return r.list(ctx, `SELECT `+imageCols+` FROM images WHERE patient_id = ? ORDER BY upload_date DESC, created_at DESC`, patientID)
}

func (r *imageRepoSQLite) List(ctx context.Context) ([]*Image, error) {
	return r.list(ctx, `SELECT `+imageCols+` FROM images ORDER BY upload_date DESC, created_at DESC`)
}

func (r *imageRepoSQLite) list(ctx context.Context, query string, args ...interface{}) ([]*Image, error) {
	rows, err := r.conn(ctx).QueryContext(ctx, query, args...)
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

func (r *imageRepoSQLite) Delete(ctx context.Context, id string) error {
	return r.WithTx(ctx, func(ctx context.Context) error {
		if _, err := r.conn(ctx).ExecContext(ctx, `DELETE FROM image_edits WHERE image_id = ?`, id); err != nil {
			return fmt.Errorf("delete image edits: %w", err)
		}
		res, err := r.conn(ctx).ExecContext(ctx, `DELETE FROM images WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("delete image: %w", sqliteError(err))
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (r *imageRepoSQLite) CreateEdit(ctx context.Context, e *ImageEdit) error {
	_, err := r.conn(ctx).ExecContext(ctx, `
		INSERT INTO image_edits (id, image_id, edit_type, edit_data, edited_by_user_id, edited_at)
		VALUES (?,?,?,?,?,?)`,
		e.ID, e.ImageID, e.EditType, string(e.EditData), e.EditedByUserID, sqliteTime(e.EditedAt))
	if err != nil {
		return fmt.Errorf("insert image edit: %w", sqliteError(err))
	}
	return nil
}

func (r *imageRepoSQLite) ListEdits(ctx context.Context, imageID string) ([]*ImageEdit, error) {
	rows, err := r.conn(ctx).QueryContext(ctx, `SELECT `+editCols+` FROM image_edits WHERE image_id = ? ORDER BY edited_at`, imageID)
	if err != nil {
		return nil, fmt.Errorf("query image edits: %w", err)
	}
	defer rows.Close()
	var items []*ImageEdit
	for rows.Next() {
		var e ImageEdit
		var data string
		if err := rows.Scan(&e.ID, &e.ImageID, &e.EditType, &data, &e.EditedByUserID, scanTime{&e.EditedAt}); err != nil {
			return nil, err
		}
		e.EditData = json.RawMessage(data)
		items = append(items, &e)
	}
	return items, rows.Err()
}

func (r *imageRepoSQLite) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return db.WithSQLTx(ctx, r.db, fn)
}

func sqliteError(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var se *sqlite.Error
	if errors.As(err, &se) && se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT {
		return fmt.Errorf("%w: %s", ErrConstraintViolation, se.Error())
	}
	return err
}
