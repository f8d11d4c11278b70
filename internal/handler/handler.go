// Package handler provides the HTTP handlers for upload and annotation operations.
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ui-annotator/backend/internal/annotations"
	"github.com/ui-annotator/backend/internal/cache"
	"github.com/ui-annotator/backend/internal/database"
	"github.com/ui-annotator/backend/internal/imageinput"
	"github.com/ui-annotator/backend/internal/metrics"
	"github.com/ui-annotator/backend/internal/middleware"
	"github.com/ui-annotator/backend/internal/models"
	"github.com/ui-annotator/backend/internal/relayerr"
	"github.com/ui-annotator/backend/internal/storage"
	"github.com/ui-annotator/backend/internal/vision"
)

// Handler provides HTTP handlers for the annotation relay.
type Handler struct {
	normalizer  *imageinput.Normalizer
	uploader    storage.Uploader
	model       vision.Model
	cache       cache.Cache
	groundTruth database.Repository
	metrics     *metrics.Metrics
	logger      *zap.Logger
}

// NewHandler creates a new annotation handler.
func NewHandler(
	normalizer *imageinput.Normalizer,
	uploader storage.Uploader,
	model vision.Model,
	cache cache.Cache,
	groundTruth database.Repository,
	metrics *metrics.Metrics,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		normalizer:  normalizer,
		uploader:    uploader,
		model:       model,
		cache:       cache,
		groundTruth: groundTruth,
		metrics:     metrics,
		logger:      logger,
	}
}

// RegisterRoutes registers the handler routes on the given router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/upload", h.Upload)
	rg.POST("/upload-base64", h.UploadBase64)
	rg.DELETE("/upload/*publicId", h.DeleteUpload)
	rg.POST("/predict", h.Predict)
	rg.POST("/ground-truth", h.StoreGroundTruth)
	rg.GET("/ground-truth/:id", h.GetGroundTruth)
}

// Upload handles a multipart image upload.
// @Summary Upload image file
// @Accept multipart/form-data
// @Produce json
// @Param image formData file true "Image (jpeg, jpg, png, webp; max 10 MiB)"
// @Success 200 {object} models.UploadResponse
// @Failure 400 {object} models.ErrorResponse
// @Failure 500 {object} models.ErrorResponse
// @Router /annotate/upload [post]
func (h *Handler) Upload(c *gin.Context) {
	file, err := c.FormFile("image")
	if err != nil {
		if isBodyTooLarge(err) {
			h.respondError(c, relayerr.Wrap(relayerr.PayloadTooLarge, err, "request body is too large"))
			return
		}
		h.respondError(c, relayerr.Wrap(relayerr.MissingInput, err, "image file is required"))
		return
	}

	if file.Size > h.normalizer.MaxBytes() {
		h.respondError(c, relayerr.New(relayerr.PayloadTooLarge,
			fmt.Sprintf("image exceeds the maximum size of %d bytes", h.normalizer.MaxBytes())))
		return
	}

	data, err := readFormFile(file, h.normalizer.MaxBytes())
	if err != nil {
		h.respondError(c, relayerr.Wrap(relayerr.UnexpectedError, err, "failed to read uploaded file"))
		return
	}

	input, err := h.normalizer.FromBytes(file.Header.Get("Content-Type"), data)
	if err != nil {
		h.respondError(c, err)
		return
	}

	result, err := h.uploader.UploadBytes(c.Request.Context(), input.Bytes())
	if err != nil {
		h.metrics.Uploads.WithLabelValues("file", "failure").Inc()
		h.respondError(c, err)
		return
	}
	h.metrics.Uploads.WithLabelValues("file", "success").Inc()

	c.JSON(http.StatusOK, models.UploadResponse{
		URL:      result.URL,
		PublicID: result.PublicID,
		Filename: file.Filename,
	})
}

// UploadBase64 handles an upload given as a base64 data-URL.
// @Summary Upload base64 image
// @Accept json
// @Produce json
// @Param body body models.UploadBase64Request true "Data-URL image"
// @Success 200 {object} models.UploadResponse
// @Failure 400 {object} models.ErrorResponse
// @Failure 500 {object} models.ErrorResponse
// @Router /annotate/upload-base64 [post]
func (h *Handler) UploadBase64(c *gin.Context) {
	var req models.UploadBase64Request
	if err := h.bindJSON(c, &req); err != nil {
		h.respondError(c, err)
		return
	}

	if strings.TrimSpace(req.Image) == "" {
		h.respondError(c, relayerr.New(relayerr.MissingInput, "image is required"))
		return
	}

	input, err := h.normalizer.FromDataURL(req.Image)
	if err != nil {
		h.respondError(c, err)
		return
	}

	result, err := h.uploader.UploadDataURL(c.Request.Context(), input.Reference())
	if err != nil {
		h.metrics.Uploads.WithLabelValues("base64", "failure").Inc()
		h.respondError(c, err)
		return
	}
	h.metrics.Uploads.WithLabelValues("base64", "success").Inc()

	filename := strings.TrimSpace(req.Filename)
	if filename == "" {
		filename = fmt.Sprintf("upload-%s.%s", uuid.New().String(), input.Subtype())
	}

	c.JSON(http.StatusOK, models.UploadResponse{
		URL:      result.URL,
		PublicID: result.PublicID,
		Filename: filename,
	})
}

// DeleteUpload removes a hosted image. Public IDs contain the folder, so the
// whole remaining path is the ID.
// @Summary Delete hosted image
// @Param publicId path string true "Public ID"
// @Success 204 "No Content"
// @Failure 400 {object} models.ErrorResponse
// @Failure 500 {object} models.ErrorResponse
// @Router /annotate/upload/{publicId} [delete]
func (h *Handler) DeleteUpload(c *gin.Context) {
	publicID := strings.Trim(c.Param("publicId"), "/")
	if publicID == "" {
		h.respondError(c, relayerr.New(relayerr.MissingInput, "public id is required"))
		return
	}

	if err := h.uploader.Delete(c.Request.Context(), publicID); err != nil {
		h.respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// Predict returns the UI component annotations for an image.
// @Summary Predict annotations
// @Accept json
// @Produce json
// @Param body body models.PredictRequest true "Data-URL or remote image URL"
// @Success 200 {object} models.AnnotationResult
// @Failure 400 {object} models.ErrorResponse
// @Failure 500 {object} models.ErrorResponse
// @Router /annotate/predict [post]
func (h *Handler) Predict(c *gin.Context) {
	var req models.PredictRequest
	if err := h.bindJSON(c, &req); err != nil {
		h.respondError(c, err)
		return
	}

	input, err := h.normalizer.FromPredictRequest(req.Image, req.ImageURL)
	if err != nil {
		h.respondError(c, err)
		return
	}

	ctx := c.Request.Context()
	modelName := h.model.Name()
	imageRef := input.Reference()

	// Only inline images are content-addressed; a remote URL may serve a
	// different image on the next request.
	cacheable := input.Variant() != imageinput.RemoteURL

	if cacheable {
		if cached, found := h.cache.Get(ctx, modelName, imageRef); found {
			h.metrics.CacheLookups.WithLabelValues("hit").Inc()
			c.JSON(http.StatusOK, cached)
			return
		}
		h.metrics.CacheLookups.WithLabelValues("miss").Inc()
	}

	h.logger.Debug("Predicting",
		zap.String("model", modelName),
		zap.String("input", input.Variant().String()),
		zap.String("request_id", middleware.GetRequestID(c)),
	)

	text, err := h.model.Annotate(ctx, imageRef)
	if err != nil {
		h.metrics.ModelCalls.WithLabelValues(modelName, "failure").Inc()
		if relayerr.KindOf(err) == relayerr.UnexpectedError {
			err = relayerr.Wrap(relayerr.ModelCallFailed, err, "vision model call failed")
		}
		h.respondError(c, err)
		return
	}
	h.metrics.ModelCalls.WithLabelValues(modelName, "success").Inc()

	result, report := annotations.Parse(text)
	if !report.Parsed {
		h.metrics.UnparsableOutputs.Inc()
		h.logger.Warn("Model output is not a valid annotation document",
			zap.String("model", modelName),
			zap.Int("length", len(text)),
		)
	}
	if report.Dropped > 0 {
		h.metrics.DroppedAnnotations.Add(float64(report.Dropped))
		h.logger.Warn("Dropped invalid annotations",
			zap.String("model", modelName),
			zap.Int("dropped", report.Dropped),
			zap.Int("kept", len(result.Annotations)),
		)
	}

	// Unparsable answers are not cached so a retry can reach the model again.
	if cacheable && report.Parsed {
		if err := h.cache.Set(ctx, modelName, imageRef, result); err != nil {
			h.logger.Debug("Prediction not cached",
				zap.String("model", modelName),
				zap.String("request_id", middleware.GetRequestID(c)),
				zap.Error(err),
			)
		}
	}

	c.JSON(http.StatusOK, result)
}

// StoreGroundTruth accepts client-corrected labels. The body is stored when a
// database is configured and ignored otherwise.
// @Summary Store ground truth
// @Accept json
// @Produce json
// @Success 200 {object} models.StatusResponse
// @Failure 400 {object} models.ErrorResponse
// @Failure 500 {object} models.ErrorResponse
// @Router /annotate/ground-truth [post]
func (h *Handler) StoreGroundTruth(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		if isBodyTooLarge(err) {
			h.respondError(c, relayerr.Wrap(relayerr.PayloadTooLarge, err, "request body is too large"))
			return
		}
		h.respondError(c, relayerr.Wrap(relayerr.UnexpectedError, err, "failed to read request body"))
		return
	}

	if len(strings.TrimSpace(string(body))) == 0 {
		body = []byte("{}")
	}
	if !json.Valid(body) {
		h.respondError(c, relayerr.New(relayerr.InvalidFormat, "body must be valid JSON"))
		return
	}

	record, err := h.groundTruth.Save(c.Request.Context(), body)
	if err != nil {
		h.respondError(c, relayerr.Wrap(relayerr.UnexpectedError, err, "failed to store ground truth"))
		return
	}

	h.logger.Debug("Accepted ground truth", zap.String("id", record.ID))
	c.JSON(http.StatusOK, models.StatusResponse{Status: "ok"})
}

// GetGroundTruth returns a stored ground-truth record.
// @Summary Get ground truth by ID
// @Produce json
// @Param id path string true "Ground truth ID"
// @Success 200 {object} models.GroundTruth
// @Failure 404 {object} models.ErrorResponse
// @Failure 500 {object} models.ErrorResponse
// @Router /annotate/ground-truth/{id} [get]
func (h *Handler) GetGroundTruth(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		c.JSON(http.StatusNotFound, models.ErrorResponse{
			Error:   "not_found",
			Message: "ground truth not found",
		})
		return
	}

	record, err := h.groundTruth.GetByID(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, relayerr.Wrap(relayerr.UnexpectedError, err, "failed to load ground truth"))
		return
	}

	if record == nil {
		c.JSON(http.StatusNotFound, models.ErrorResponse{
			Error:   "not_found",
			Message: "ground truth not found",
		})
		return
	}

	c.JSON(http.StatusOK, record)
}

// bindJSON decodes the request body into dst. An empty body leaves dst zeroed
// so that the field checks report what is missing.
func (h *Handler) bindJSON(c *gin.Context, dst interface{}) error {
	err := c.ShouldBindJSON(dst)
	switch {
	case err == nil, errors.Is(err, io.EOF):
		return nil
	case isBodyTooLarge(err):
		return relayerr.Wrap(relayerr.PayloadTooLarge, err, "request body is too large")
	default:
		return relayerr.Wrap(relayerr.InvalidFormat, err, "request body must be a JSON object")
	}
}

// respondError writes err as an ErrorResponse. Client errors are logged at
// Warn; collaborator failures at Error with their cause, which never reaches
// the response.
func (h *Handler) respondError(c *gin.Context, err error) {
	kind := relayerr.KindOf(err)
	fields := []zap.Field{
		zap.String("kind", kind.String()),
		zap.String("path", c.FullPath()),
		zap.String("request_id", middleware.GetRequestID(c)),
		zap.Error(err),
	}

	if kind.IsClientError() {
		h.logger.Warn("Rejected request", fields...)
	} else {
		h.logger.Error("Request failed", fields...)
		_ = c.Error(err)
	}

	c.JSON(kind.HTTPStatus(), models.ErrorResponse{
		Error:   kind.String(),
		Message: relayerr.PublicMessage(err),
	})
}

// readFormFile reads at most limit+1 bytes so oversized files are detected
// without buffering them whole.
func readFormFile(file *multipart.FileHeader, limit int64) ([]byte, error) {
	f, err := file.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return io.ReadAll(io.LimitReader(f, limit+1))
}

// isBodyTooLarge reports whether err comes from the BodyLimit reader. Both the
// JSON decoder and mime/multipart keep the *http.MaxBytesError in the chain.
func isBodyTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}
