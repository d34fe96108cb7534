package imaging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/journalsystem/imageservice/internal/platform/filestore"
	"github.com/journalsystem/imageservice/internal/platform/overlay"
)

// -- Mock Repository --

type mockImageRepo struct {
	images    map[string]*Image
	edits     map[string]*ImageEdit
	createErr error
}

func newMockImageRepo() *mockImageRepo {
	return &mockImageRepo{
		images: make(map[string]*Image),
		edits:  make(map[string]*ImageEdit),
	}
}

func (m *mockImageRepo) Create(_ context.Context, img *Image) error {
	if m.createErr != nil {
		return m.createErr
	}
	if img.PatientID == "" {
		return fmt.Errorf("%w: patient id", ErrConstraintViolation)
	}
	for _, existing := range m.images {
		if existing.ID == img.ID || existing.Filename == img.Filename {
			return fmt.Errorf("%w: duplicate", ErrConstraintViolation)
		}
	}
	if img.ParentImageID != nil {
		if _, ok := m.images[*img.ParentImageID]; !ok {
			return fmt.Errorf("%w: parent", ErrConstraintViolation)
		}
	}
	img.CreatedAt = time.Now()
	m.images[img.ID] = img
	return nil
}

func (m *mockImageRepo) GetByID(_ context.Context, id string) (*Image, error) {
	img, ok := m.images[id]
	if !ok {
		return nil, ErrNotFound
	}
	return img, nil
}

func (m *mockImageRepo) GetByFilename(_ context.Context, filename string) (*Image, error) {
	for _, img := range m.images {
		if img.Filename == filename {
			return img, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockImageRepo) ListByPatient(_ context.Context, patientID string) ([]*Image, error) {
	var result []*Image
	for _, img := range m.images {
		if img.PatientID == patientID {
			result = append(result, img)
		}
	}
	sortNewest(result)
	return result, nil
}

func (m *mockImageRepo) List(_ context.Context) ([]*Image, error) {
	var result []*Image
	for _, img := range m.images {
		result = append(result, img)
	}
	sortNewest(result)
	return result, nil
}

func (m *mockImageRepo) Delete(_ context.Context, id string) error {
	if _, ok := m.images[id]; !ok {
		return ErrNotFound
	}
	for eid, e := range m.edits {
		if e.ImageID == id {
			delete(m.edits, eid)
		}
	}
	delete(m.images, id)
	return nil
}

func (m *mockImageRepo) CreateEdit(_ context.Context, e *ImageEdit) error {
	if _, ok := m.images[e.ImageID]; !ok {
		return fmt.Errorf("%w: image", ErrConstraintViolation)
	}
	m.edits[e.ID] = e
	return nil
}

func (m *mockImageRepo) ListEdits(_ context.Context, imageID string) ([]*ImageEdit, error) {
	var result []*ImageEdit
	for _, e := range m.edits {
		if e.ImageID == imageID {
			result = append(result, e)
		}
	}
	return result, nil
}

func (m *mockImageRepo) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func sortNewest(images []*Image) {
	sort.Slice(images, func(i, j int) bool {
		return images[i].UploadDate.After(images[j].UploadDate)
	})
}

// -- Helpers --

type stubTransformer struct{ err error }

func (s stubTransformer) Apply(context.Context, []byte, string, overlay.Instruction) ([]byte, error) {
	return nil, s.err
}

func testPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 200, 200))
	for x := 0; x < 200; x++ {
		for y := 0; y < 200; y++ {
			img.Set(x, y, color.White)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

// steppedClock returns a clock that advances one second per call so upload
// order is deterministic.
func steppedClock() func() time.Time {
	t := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

func newTestService(t *testing.T) (*Service, *mockImageRepo, *filestore.MemoryStore) {
	t.Helper()
	renderer, err := overlay.NewRenderer(10 * time.Second)
	if err != nil {
		t.Fatalf("new renderer: %v", err)
	}
	repo := newMockImageRepo()
	store := filestore.NewMemoryStore()
	svc := NewService(repo, store, renderer, zerolog.Nop(), nil)
	svc.now = steppedClock()
	return svc, repo, store
}

// storeFile mimics the upload filter: the file is written before validation.
func storeFile(t *testing.T, store filestore.Store, data []byte) *StoredFile {
	t.Helper()
	obj, err := store.Put(context.Background(), data, ".png")
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	return &StoredFile{ID: obj.ID, Name: obj.Name, Path: obj.Path, OriginalName: "a.png", Size: obj.Size, MimeType: "image/png"}
}

func uploadPNG(t *testing.T, svc *Service, store filestore.Store, patientID string) *UploadedImage {
	t.Helper()
	res, err := svc.Upload(context.Background(), UploadInput{
		File:      storeFile(t, store, testPNG(t)),
		PatientID: patientID,
		UserID:    "U1",
		Username:  "dr.berg",
	})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	return res
}

// -- Upload --

func TestUpload_Success(t *testing.T) {
	svc, repo, store := newTestService(t)

	res := uploadPNG(t, svc, store, "P1")

	if res.URL != "/images/"+res.Filename {
		t.Errorf("unexpected url %s", res.URL)
	}
	if !strings.HasPrefix(res.Filename, res.ID) {
		t.Errorf("expected filename %s to start with id %s", res.Filename, res.ID)
	}
	row := repo.images[res.ID]
	if row == nil {
		t.Fatal("expected image row")
	}
	if row.PatientID != "P1" {
		t.Errorf("expected patient P1, got %s", row.PatientID)
	}
	if row.IsEdited || row.ParentImageID != nil {
		t.Error("expected an unedited row without parent")
	}
	if row.UploadedByUsername != "dr.berg" {
		t.Errorf("expected username dr.berg, got %s", row.UploadedByUsername)
	}
}

func TestUpload_MissingFile(t *testing.T) {
	svc, repo, store := newTestService(t)

	_, err := svc.Upload(context.Background(), UploadInput{PatientID: "P1", UserID: "U1"})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if store.Len() != 0 || len(repo.images) != 0 {
		t.Error("expected nothing stored")
	}
}

func TestUpload_MissingRequiredFieldsRemovesFile(t *testing.T) {
	tests := []struct {
		name      string
		patientID string
		userID    string
		wantMsg   string
	}{
		{"no patient", "", "U1", "Patient ID is required"},
		{"blank patient", "   ", "U1", "Patient ID is required"},
		{"no user", "P1", "", "User ID is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, repo, store := newTestService(t)
			file := storeFile(t, store, testPNG(t))

			_, err := svc.Upload(context.Background(), UploadInput{File: file, PatientID: tt.patientID, UserID: tt.userID})
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("expected %q in %v", tt.wantMsg, err)
			}
			if store.Has(file.Name) {
				t.Error("expected the stored file to be removed")
			}
			if len(repo.images) != 0 {
				t.Error("expected no image row")
			}
		})
	}
}

func TestUpload_RetrieveReturnsSameBytes(t *testing.T) {
	svc, _, store := newTestService(t)
	data := testPNG(t)

	res, err := svc.Upload(context.Background(), UploadInput{File: storeFile(t, store, data), PatientID: "P1", UserID: "U1"})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}

	rc, contentType, err := svc.Retrieve(context.Background(), res.Filename)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	defer rc.Close()
	got, _ := io.ReadAll(rc)
	if !bytes.Equal(got, data) {
		t.Error("retrieved bytes differ from uploaded bytes")
	}
	if contentType != "image/png" {
		t.Errorf("expected image/png, got %s", contentType)
	}
}

func TestUpload_DefaultsAndSanitizes(t *testing.T) {
	svc, repo, store := newTestService(t)

	res, err := svc.Upload(context.Background(), UploadInput{
		File:        storeFile(t, store, testPNG(t)),
		PatientID:   "P1",
		UserID:      "U1",
		Description: `<script>alert(1)</script>Left knee`,
		Tags:        "",
	})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if res.UploadedBy != DefaultUsername {
		t.Errorf("expected default username, got %s", res.UploadedBy)
	}
	row := repo.images[res.ID]
	if row.Description == nil || *row.Description != "Left knee" {
		t.Errorf("expected sanitized description, got %v", row.Description)
	}
	if row.Tags != nil {
		t.Errorf("expected nil tags, got %q", *row.Tags)
	}
}

func TestUpload_KeepsPlainTextVerbatim(t *testing.T) {
	svc, repo, store := newTestService(t)

	res, err := svc.Upload(context.Background(), UploadInput{
		File:        storeFile(t, store, testPNG(t)),
		PatientID:   "P1",
		UserID:      "U1",
		Username:    "O'Brien",
		Description: `Fracture & swelling, "left" knee`,
		Tags:        "x-ray, follow-up",
	})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}

	row := repo.images[res.ID]
	if row.UploadedByUsername != "O'Brien" {
		t.Errorf("expected username O'Brien, got %q", row.UploadedByUsername)
	}
	if res.UploadedBy != "O'Brien" {
		t.Errorf("expected uploadedBy O'Brien, got %q", res.UploadedBy)
	}
	if row.Description == nil || *row.Description != `Fracture & swelling, "left" knee` {
		t.Errorf("expected description unchanged, got %v", row.Description)
	}
	if row.Tags == nil || *row.Tags != "x-ray, follow-up" {
		t.Errorf("expected tags unchanged, got %v", row.Tags)
	}
}

func TestAddTextOverlay_EditorIDNotSanitized(t *testing.T) {
	svc, repo, store := newTestService(t)
	src := uploadPNG(t, svc, store, "P1")

	res, err := svc.AddTextOverlay(context.Background(), src.Filename, TextRequest{Text: "Hi", UserID: "  o'neil&co  "})
	if err != nil {
		t.Fatalf("add text: %v", err)
	}
	edits, _ := repo.ListEdits(context.Background(), res.Image.ID)
	if len(edits) != 1 {
		t.Fatalf("expected one edit row, got %d", len(edits))
	}
	if edits[0].EditedByUserID == nil || *edits[0].EditedByUserID != "o'neil&co" {
		t.Errorf("expected trimmed editor id, got %v", edits[0].EditedByUserID)
	}
}

func TestUpload_MetadataFailureLeavesFile(t *testing.T) {
	svc, repo, store := newTestService(t)
	repo.createErr = fmt.Errorf("%w: duplicate", ErrConstraintViolation)
	file := storeFile(t, store, testPNG(t))

	_, err := svc.Upload(context.Background(), UploadInput{File: file, PatientID: "P1", UserID: "U1"})
	if !errors.Is(err, ErrConstraintViolation) {
		t.Fatalf("expected ErrConstraintViolation, got %v", err)
	}
	if StatusCode(err) != 500 {
		t.Errorf("expected 500, got %d", StatusCode(err))
	}
	if !store.Has(file.Name) {
		t.Error("expected the file to remain after a metadata failure")
	}
}

// -- Queries --

func TestRetrieve_NotFound(t *testing.T) {
	svc, _, _ := newTestService(t)

	for _, name := range []string{"missing.png", "../etc/passwd", ""} {
		if _, _, err := svc.Retrieve(context.Background(), name); !errors.Is(err, ErrNotFound) {
			t.Errorf("%q: expected ErrNotFound, got %v", name, err)
		}
	}
}

func TestRetrieve_FileWithoutRow(t *testing.T) {
	svc, _, store := newTestService(t)
	obj, _ := store.Put(context.Background(), []byte("legacy"), ".jpg")

	rc, _, err := svc.Retrieve(context.Background(), obj.Name)
	if err != nil {
		t.Fatalf("expected legacy file to be served, got %v", err)
	}
	rc.Close()
}

func TestListForPatient_FiltersAndOrders(t *testing.T) {
	svc, _, store := newTestService(t)
	first := uploadPNG(t, svc, store, "P1")
	uploadPNG(t, svc, store, "P2")
	second := uploadPNG(t, svc, store, "P1")

	images, err := svc.ListForPatient(context.Background(), "P1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(images) != 2 {
		t.Fatalf("expected 2 images, got %d", len(images))
	}
	if images[0].ID != second.ID || images[1].ID != first.ID {
		t.Error("expected newest upload first")
	}
	for _, img := range images {
		if img.PatientID != "P1" {
			t.Errorf("unexpected patient %s", img.PatientID)
		}
		if img.URL == "" || img.ThumbnailURL != img.URL {
			t.Errorf("expected url and thumbnail url, got %q %q", img.URL, img.ThumbnailURL)
		}
	}
}

func TestListForPatient_Empty(t *testing.T) {
	svc, _, _ := newTestService(t)

	images, err := svc.ListForPatient(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(images) != 0 {
		t.Errorf("expected no images, got %d", len(images))
	}
}

func TestGetMetadata(t *testing.T) {
	svc, _, store := newTestService(t)
	res := uploadPNG(t, svc, store, "P1")

	detail, err := svc.GetMetadata(context.Background(), res.ID)
	if err != nil {
		t.Fatalf("get metadata: %v", err)
	}
	if detail.Filename != res.Filename {
		t.Errorf("expected %s, got %s", res.Filename, detail.Filename)
	}
	if detail.Edits == nil {
		t.Error("expected an empty edit list, not nil")
	}

	if _, err := svc.GetMetadata(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListAll_NewestFirst(t *testing.T) {
	svc, _, store := newTestService(t)
	a := uploadPNG(t, svc, store, "P1")
	b := uploadPNG(t, svc, store, "P2")

	images, err := svc.ListAll(context.Background())
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(images) != 2 || images[0].ID != b.ID || images[1].ID != a.ID {
		t.Errorf("unexpected order: %+v", images)
	}
}

// -- Edits --

func TestAddTextOverlay_RecordsLineage(t *testing.T) {
	svc, repo, store := newTestService(t)
	src := uploadPNG(t, svc, store, "P1")

	res, err := svc.AddTextOverlay(context.Background(), src.Filename, TextRequest{Text: "Hello", UserID: "U2"})
	if err != nil {
		t.Fatalf("add text: %v", err)
	}
	if !res.Lineage {
		t.Fatal("expected lineage to be recorded")
	}

	derived := repo.images[res.Image.ID]
	if derived == nil {
		t.Fatal("expected a derived row")
	}
	if !derived.IsEdited {
		t.Error("expected isEdited=true")
	}
	if derived.ParentImageID == nil || *derived.ParentImageID != src.ID {
		t.Errorf("expected parent %s, got %v", src.ID, derived.ParentImageID)
	}
	if derived.PatientID != "P1" {
		t.Errorf("expected inherited patient P1, got %s", derived.PatientID)
	}
	if derived.FileSize != 0 {
		t.Errorf("expected placeholder file size 0, got %d", derived.FileSize)
	}
	if derived.Description == nil || !strings.Contains(*derived.Description, EditTypeAddText) {
		t.Errorf("expected edit marker in description, got %v", derived.Description)
	}
	if !strings.HasSuffix(derived.Filename, ".png") {
		t.Errorf("expected source extension preserved, got %s", derived.Filename)
	}
	if !store.Has(derived.Filename) {
		t.Error("expected derived file in store")
	}

	edits, _ := repo.ListEdits(context.Background(), derived.ID)
	if len(edits) != 1 {
		t.Fatalf("expected exactly one edit row, got %d", len(edits))
	}
	if edits[0].EditType != EditTypeAddText {
		t.Errorf("expected add_text, got %s", edits[0].EditType)
	}
	if edits[0].EditedByUserID == nil || *edits[0].EditedByUserID != "U2" {
		t.Errorf("expected editor U2, got %v", edits[0].EditedByUserID)
	}
}

func TestAddTextOverlay_EmptyText(t *testing.T) {
	svc, repo, store := newTestService(t)
	src := uploadPNG(t, svc, store, "P1")
	before := store.Len()

	_, err := svc.AddTextOverlay(context.Background(), src.Filename, TextRequest{Text: "  "})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if store.Len() != before {
		t.Error("expected no new file")
	}
	if len(repo.images) != 1 {
		t.Error("expected no new row")
	}
}

func TestAddTextOverlay_SourceMissing(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.AddTextOverlay(context.Background(), "missing.png", TextRequest{Text: "Hello"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAddTextOverlay_EscapesMarkupInEditLog(t *testing.T) {
	svc, repo, store := newTestService(t)
	src := uploadPNG(t, svc, store, "P1")

	res, err := svc.AddTextOverlay(context.Background(), src.Filename, TextRequest{Text: `<b>"A&B"</b>`})
	if err != nil {
		t.Fatalf("add text: %v", err)
	}
	edits, _ := repo.ListEdits(context.Background(), res.Image.ID)
	if len(edits) != 1 {
		t.Fatalf("expected one edit, got %d", len(edits))
	}

	var data struct {
		Overlay        string `json:"overlay"`
		SourceFilename string `json:"sourceFilename"`
	}
	if err := json.Unmarshal(edits[0].EditData, &data); err != nil {
		t.Fatalf("decode edit data: %v", err)
	}
	if strings.Contains(data.Overlay, "<b>") {
		t.Errorf("expected escaped text in overlay, got %s", data.Overlay)
	}
	if !strings.Contains(data.Overlay, "&lt;b&gt;&#34;A&amp;B&#34;&lt;/b&gt;") {
		t.Errorf("unexpected overlay markup %s", data.Overlay)
	}
	if data.SourceFilename != src.Filename {
		t.Errorf("expected source filename %s, got %s", src.Filename, data.SourceFilename)
	}
}

func TestAddTextOverlay_DegradedWithoutSourceRow(t *testing.T) {
	svc, repo, store := newTestService(t)
	obj, _ := store.Put(context.Background(), testPNG(t), ".png")

	res, err := svc.AddTextOverlay(context.Background(), obj.Name, TextRequest{Text: "Hello"})
	if err != nil {
		t.Fatalf("expected degraded success, got %v", err)
	}
	if res.Lineage {
		t.Error("expected no lineage")
	}
	if res.Image.ID != "" {
		t.Errorf("expected no id without a row, got %s", res.Image.ID)
	}
	if !store.Has(res.Image.Filename) {
		t.Error("expected the derived file to be written")
	}
	if len(repo.images) != 0 || len(repo.edits) != 0 {
		t.Error("expected no metadata rows")
	}
}

func TestAddTextOverlay_Timeout(t *testing.T) {
	svc, _, store := newTestService(t)
	src := uploadPNG(t, svc, store, "P1")
	svc.transform = stubTransformer{err: fmt.Errorf("%w: deadline", overlay.ErrTimeout)}

	_, err := svc.AddTextOverlay(context.Background(), src.Filename, TextRequest{Text: "Hello"})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if StatusCode(err) != 503 {
		t.Errorf("expected 503, got %d", StatusCode(err))
	}
}

func TestAddShapeOverlay_InvalidShape(t *testing.T) {
	svc, _, store := newTestService(t)
	src := uploadPNG(t, svc, store, "P1")
	before := store.Len()

	_, err := svc.AddShapeOverlay(context.Background(), src.Filename, ShapeRequest{Shape: "triangle"})
	if !errors.Is(err, ErrInvalidShape) {
		t.Fatalf("expected ErrInvalidShape, got %v", err)
	}
	if StatusCode(err) != 400 {
		t.Errorf("expected 400, got %d", StatusCode(err))
	}
	if store.Len() != before {
		t.Error("expected no new file")
	}
}

func TestAddShapeOverlay_CircleRadius(t *testing.T) {
	width := 30.0
	tests := []struct {
		name       string
		width      *float64
		wantRadius float64
	}{
		{"explicit width", &width, 30},
		{"default", nil, 50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, repo, store := newTestService(t)
			src := uploadPNG(t, svc, store, "P1")

			res, err := svc.AddShapeOverlay(context.Background(), src.Filename, ShapeRequest{Shape: "circle", Width: tt.width})
			if err != nil {
				t.Fatalf("draw: %v", err)
			}
			edits, _ := repo.ListEdits(context.Background(), res.Image.ID)
			if len(edits) != 1 || edits[0].EditType != EditTypeDraw {
				t.Fatalf("expected one draw edit, got %+v", edits)
			}

			var data struct {
				Params struct {
					Radius float64 `json:"radius"`
				} `json:"params"`
			}
			if err := json.Unmarshal(edits[0].EditData, &data); err != nil {
				t.Fatalf("decode edit data: %v", err)
			}
			if data.Params.Radius != tt.wantRadius {
				t.Errorf("expected radius %v, got %v", tt.wantRadius, data.Params.Radius)
			}
		})
	}
}

func TestAddShapeOverlay_AllShapes(t *testing.T) {
	svc, repo, store := newTestService(t)
	src := uploadPNG(t, svc, store, "P1")

	for _, shape := range []string{"rectangle", "circle", "arrow", "line"} {
		res, err := svc.AddShapeOverlay(context.Background(), src.Filename, ShapeRequest{Shape: shape, Color: "#00ff00"})
		if err != nil {
			t.Fatalf("%s: %v", shape, err)
		}
		if *repo.images[res.Image.ID].ParentImageID != src.ID {
			t.Errorf("%s: wrong parent", shape)
		}
	}
}

// -- Delete --

func TestDelete_RemovesRowEditsAndFile(t *testing.T) {
	svc, repo, store := newTestService(t)
	src := uploadPNG(t, svc, store, "P1")
	res, err := svc.AddTextOverlay(context.Background(), src.Filename, TextRequest{Text: "Hello"})
	if err != nil {
		t.Fatalf("add text: %v", err)
	}

	if err := svc.Delete(context.Background(), res.Image.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok := repo.images[res.Image.ID]; ok {
		t.Error("expected row to be gone")
	}
	if len(repo.edits) != 0 {
		t.Error("expected edit rows to be gone")
	}
	if store.Has(res.Image.Filename) {
		t.Error("expected file to be gone")
	}
}

func TestDelete_FileAlreadyMissing(t *testing.T) {
	svc, repo, store := newTestService(t)
	src := uploadPNG(t, svc, store, "P1")
	if err := store.Delete(context.Background(), src.Filename); err != nil {
		t.Fatalf("pre-delete file: %v", err)
	}

	if err := svc.Delete(context.Background(), src.ID); err != nil {
		t.Fatalf("expected success despite missing file, got %v", err)
	}
	if _, ok := repo.images[src.ID]; ok {
		t.Error("expected row to be gone")
	}
}

func TestDelete_NotFound(t *testing.T) {
	svc, _, _ := newTestService(t)

	if err := svc.Delete(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

// -- File-only mode --

func TestFileOnlyMode(t *testing.T) {
	store := filestore.NewMemoryStore()
	renderer, _ := overlay.NewRenderer(time.Second * 10)
	svc := NewService(nil, store, renderer, zerolog.Nop(), nil)
	ctx := context.Background()

	if !svc.FileOnly() {
		t.Fatal("expected file-only mode")
	}

	res, err := svc.Upload(ctx, UploadInput{File: storeFile(t, store, testPNG(t)), PatientID: "P1", UserID: "U1"})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}

	all, err := svc.ListAll(ctx)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 1 || all[0].Filename != res.Filename {
		t.Errorf("expected store listing, got %+v", all)
	}

	patient, err := svc.ListForPatient(ctx, "P1")
	if err != nil || len(patient) != 0 {
		t.Errorf("expected empty patient list, got %v %v", patient, err)
	}

	if _, err := svc.GetMetadata(ctx, res.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := svc.Delete(ctx, res.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	edit, err := svc.AddShapeOverlay(ctx, res.Filename, ShapeRequest{Shape: "line"})
	if err != nil {
		t.Fatalf("draw: %v", err)
	}
	if edit.Lineage {
		t.Error("expected no lineage in file-only mode")
	}
}

func TestStatusCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, 200},
		{invalid("x"), 400},
		{ErrInvalidShape, 400},
		{fmt.Errorf("wrap: %w", ErrNotFound), 404},
		{ErrFileTooLarge, 413},
		{fmt.Errorf("%w: %w", ErrTransform, overlay.ErrUnsupportedFormat), 415},
		{ErrTimeout, 503},
		{ErrStorageWrite, 500},
		{ErrConstraintViolation, 500},
		{errors.New("boom"), 500},
	}
	for _, tt := range tests {
		if got := StatusCode(tt.err); got != tt.want {
			t.Errorf("StatusCode(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
