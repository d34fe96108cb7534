package imaging

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/journalsystem/imageservice/internal/platform/middleware"
	"github.com/journalsystem/imageservice/internal/platform/overlay"
)

type Handler struct {
	svc    *Service
	filter *UploadFilter
	logger zerolog.Logger
}

func NewHandler(svc *Service, filter *UploadFilter, logger zerolog.Logger) *Handler {
	return &Handler{svc: svc, filter: filter, logger: logger}
}

// RegisterRoutes mounts the image endpoints on g, which is expected to be
// the /images group.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/upload", h.Upload)
	g.GET("", h.ListImages)
	g.GET("/patient/:patientId", h.ListPatientImages)
	g.GET("/metadata/:id", h.GetMetadata)
	g.GET("/:filename", h.GetImage)
	g.POST("/:filename/text", h.AddText)
	g.POST("/:filename/draw", h.Draw)
	g.DELETE("/:id", h.DeleteImage)
}

func (h *Handler) Upload(c echo.Context) error {
	ctx := c.Request().Context()

	form, err := c.MultipartForm()
	if err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) && he.Code == http.StatusRequestEntityTooLarge {
			return h.fail(c, fmt.Errorf("%w: %w", ErrFileTooLarge, err), "Failed to upload image")
		}
		return h.fail(c, invalid("No file uploaded"), "")
	}

	var stored *StoredFile
	if fh := FindFile(form); fh != nil {
		stored, err = h.filter.Store(ctx, fh)
		if err != nil {
			return h.fail(c, err, "Failed to upload image")
		}
	}

	field := func(names ...string) string {
		for _, n := range names {
			if v := middleware.SanitizeString(c.FormValue(n)); v != "" {
				return v
			}
		}
		return ""
	}

	res, err := h.svc.Upload(ctx, UploadInput{
		File:        stored,
		PatientID:   field("patientId", "patientPersonnummer"),
		UserID:      field("userId"),
		Username:    field("username"),
		Description: field("description"),
		Tags:        field("tags"),
	})
	if err != nil {
		return h.fail(c, err, "Failed to upload image")
	}

	return c.JSON(http.StatusCreated, map[string]interface{}{
		"message": "Image uploaded successfully",
		"image":   res,
	})
}

func (h *Handler) GetImage(c echo.Context) error {
	rc, contentType, err := h.svc.Retrieve(c.Request().Context(), c.Param("filename"))
	if err != nil {
		return h.fail(c, err, "Failed to read image")
	}
	defer rc.Close()
	return c.Stream(http.StatusOK, contentType, rc)
}

func (h *Handler) ListImages(c echo.Context) error {
	images, err := h.svc.ListAll(c.Request().Context())
	if err != nil {
		return h.fail(c, err, "Failed to list images")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"images": images})
}

func (h *Handler) ListPatientImages(c echo.Context) error {
	images, err := h.svc.ListForPatient(c.Request().Context(), c.Param("patientId"))
	if err != nil {
		return h.fail(c, err, "Failed to fetch images")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"images": images})
}

func (h *Handler) GetMetadata(c echo.Context) error {
	detail, err := h.svc.GetMetadata(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.fail(c, err, "Failed to fetch image metadata")
	}
	return c.JSON(http.StatusOK, detail)
}

func (h *Handler) AddText(c echo.Context) error {
	var req TextRequest
	if err := c.Bind(&req); err != nil {
		return h.fail(c, invalid("Invalid request body"), "")
	}
	res, err := h.svc.AddTextOverlay(c.Request().Context(), c.Param("filename"), req)
	if err != nil {
		return h.fail(c, err, "Failed to add text to image")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"message": "Text added successfully",
		"image":   res.Image,
	})
}

func (h *Handler) Draw(c echo.Context) error {
	var req ShapeRequest
	if err := c.Bind(&req); err != nil {
		return h.fail(c, invalid("Invalid request body"), "")
	}
	res, err := h.svc.AddShapeOverlay(c.Request().Context(), c.Param("filename"), req)
	if err != nil {
		return h.fail(c, err, "Failed to draw on image")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"message": "Shape drawn successfully",
		"image":   res.Image,
	})
}

func (h *Handler) DeleteImage(c echo.Context) error {
	if err := h.svc.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return h.fail(c, err, "Failed to delete image")
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "Image deleted successfully"})
}

// fail writes err as {"error": msg}. Server-side failures are logged and
// answered with serverMsg so internals never reach the client.
func (h *Handler) fail(c echo.Context, err error, serverMsg string) error {
	status := StatusCode(err)
	msg := clientMessage(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error().Err(err).
			Str("path", c.Request().URL.Path).
			Int("status", status).
			Msg(serverMsg)
		msg = serverMsg
		if status == http.StatusServiceUnavailable {
			msg = "Image processing timed out, please retry"
		}
	}
	return c.JSON(status, map[string]string{"error": msg})
}

func clientMessage(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "Image not found"
	case errors.Is(err, ErrFileTooLarge):
		return "File too large"
	case errors.Is(err, ErrValidation):
		return strings.TrimPrefix(err.Error(), ErrValidation.Error()+": ")
	case errors.Is(err, overlay.ErrUnsupportedFormat):
		return "Unsupported image format"
	default:
		return err.Error()
	}
}
