package main

import (
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/journalsystem/imageservice/internal/config"
	"github.com/journalsystem/imageservice/internal/domain/imaging"
	"github.com/journalsystem/imageservice/internal/platform/db"
	"github.com/journalsystem/imageservice/internal/platform/filestore"
	"github.com/journalsystem/imageservice/internal/platform/metrics"
	"github.com/journalsystem/imageservice/internal/platform/middleware"
)

const (
	serviceName = "Image Service"
	apiVersion  = "2.0.0"
)

var features = []string{
	"Image upload with patient linking",
	"Metadata storage",
	"Advanced image editing",
	"Patient-specific image retrieval",
}

// serverDeps carries everything newServer wires together. repo and dbCheck
// are nil in file-only mode.
type serverDeps struct {
	cfg       *config.Config
	logger    zerolog.Logger
	store     filestore.Store
	repo      imaging.ImageRepository
	dbCheck   *db.Check
	transform imaging.Transformer
	registry  *prometheus.Registry
}

func newServer(d serverDeps) *echo.Echo {
	cfg := d.cfg
	logger := d.logger

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.HTTPErrorHandler(logger)

	m := metrics.New(d.registry)

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Content-Type", "X-Request-ID"},
	}))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.SanitizeWithLogger(logger))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	// Multipart framing needs headroom above the per-file limit; the upload
	// filter enforces the exact size.
	e.Use(middleware.BodyLimit("1M", middleware.FormatLimit(cfg.MaxFileSize+1<<20)))
	e.Use(m.Middleware())

	e.GET("/", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"message": serviceName + " API",
			"version": apiVersion,
			"endpoints": map[string]string{
				"upload":        "POST /images/upload",
				"getImage":      "GET /images/:filename",
				"listImages":    "GET /images",
				"patientImages": "GET /images/patient/:patientId",
				"imageMetadata": "GET /images/metadata/:id",
				"addText":       "POST /images/:filename/text",
				"draw":          "POST /images/:filename/draw",
				"delete":        "DELETE /images/:id",
			},
		})
	})

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status":   "OK",
			"service":  serviceName,
			"port":     cfg.Port,
			"features": features,
			"mode":     storageMode(d),
		})
	})

	if d.dbCheck != nil {
		e.GET("/health/db", db.HealthHandler(*d.dbCheck))
	} else {
		e.GET("/health/db", func(c echo.Context) error {
			return c.JSON(http.StatusOK, map[string]string{"status": "file-only"})
		})
	}

	e.GET("/metrics", metrics.Handler(d.registry))

	svc := imaging.NewService(d.repo, d.store, d.transform, logger, m)
	filter := imaging.NewUploadFilter(d.store, cfg.AllowedTypes, cfg.MaxFileSize)
	imaging.NewHandler(svc, filter, logger).RegisterRoutes(e.Group("/images"))

	return e
}

func storageMode(d serverDeps) string {
	if d.repo == nil {
		return "file-only"
	}
	return d.cfg.DBDriver
}
