// Package storage hosts uploaded images with Cloudinary.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
	"go.uber.org/zap"

	"github.com/ui-annotator/backend/internal/config"
	"github.com/ui-annotator/backend/internal/models"
	"github.com/ui-annotator/backend/internal/relayerr"
)

const (
	// Every hosted image is re-encoded to this format.
	storedFormat = "jpg"
	// Cloudinary transformation selecting automatic quality.
	autoQuality = "q_auto"
)

var errNotConfigured = errors.New("cloudinary credentials are not configured")

// Uploader defines the interface for image hosting operations.
// Every failure is reported as relayerr.UploadFailed.
type Uploader interface {
	// UploadBytes hosts raw image bytes.
	UploadBytes(ctx context.Context, data []byte) (models.UploadResult, error)

	// UploadDataURL hosts an image given as a base64 data-URL.
	UploadDataURL(ctx context.Context, dataURL string) (models.UploadResult, error)

	// Delete removes a hosted image.
	Delete(ctx context.Context, publicID string) error
}

// uploadAPI is the subset of the Cloudinary upload API the adapter uses.
type uploadAPI interface {
	Upload(ctx context.Context, file interface{}, params uploader.UploadParams) (*uploader.UploadResult, error)
	Destroy(ctx context.Context, params uploader.DestroyParams) (*uploader.DestroyResult, error)
}

// CloudinaryUploader implements Uploader using Cloudinary.
type CloudinaryUploader struct {
	api    uploadAPI
	folder string
	logger *zap.Logger
}

// New creates the uploader. Missing credentials do not stop the process;
// uploads then fail with UploadFailed.
func New(cfg *config.Config, logger *zap.Logger) (Uploader, error) {
	if !cfg.HasCloudinary() {
		logger.Warn("Cloudinary credentials missing, uploads are disabled")
		return newUploader(nil, cfg.UploadFolder, logger), nil
	}

	cld, err := cloudinary.NewFromParams(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret)
	if err != nil {
		return nil, fmt.Errorf("failed to create Cloudinary client: %w", err)
	}

	logger.Info("Cloudinary uploader configured",
		zap.String("cloud_name", cfg.CloudinaryCloudName),
		zap.String("folder", cfg.UploadFolder),
	)
	return newUploader(&cld.Upload, cfg.UploadFolder, logger), nil
}

func newUploader(api uploadAPI, folder string, logger *zap.Logger) *CloudinaryUploader {
	return &CloudinaryUploader{
		api:    api,
		folder: folder,
		logger: logger,
	}
}

// UploadBytes hosts raw image bytes.
func (u *CloudinaryUploader) UploadBytes(ctx context.Context, data []byte) (models.UploadResult, error) {
	return u.upload(ctx, bytes.NewReader(data))
}

// UploadDataURL hosts an image given as a base64 data-URL.
func (u *CloudinaryUploader) UploadDataURL(ctx context.Context, dataURL string) (models.UploadResult, error) {
	return u.upload(ctx, dataURL)
}

func (u *CloudinaryUploader) upload(ctx context.Context, file interface{}) (models.UploadResult, error) {
	if u.api == nil {
		return models.UploadResult{}, relayerr.Wrap(relayerr.UploadFailed, errNotConfigured, "image upload failed")
	}

	res, err := u.api.Upload(ctx, file, u.uploadParams())
	if err != nil {
		return models.UploadResult{}, relayerr.Wrap(relayerr.UploadFailed, err, "image upload failed")
	}
	if res == nil {
		return models.UploadResult{}, relayerr.Wrap(relayerr.UploadFailed, errors.New("empty upload response"), "image upload failed")
	}
	if res.Error.Message != "" {
		return models.UploadResult{}, relayerr.Wrap(relayerr.UploadFailed, errors.New(res.Error.Message), "image upload failed")
	}
	if res.SecureURL == "" {
		return models.UploadResult{}, relayerr.Wrap(relayerr.UploadFailed, errors.New("upload response has no secure URL"), "image upload failed")
	}

	u.logger.Info("Uploaded image",
		zap.String("public_id", res.PublicID),
		zap.Int("bytes", res.Bytes),
	)
	return models.UploadResult{URL: res.SecureURL, PublicID: res.PublicID}, nil
}

func (u *CloudinaryUploader) uploadParams() uploader.UploadParams {
	return uploader.UploadParams{
		ResourceType:   "image",
		Folder:         u.folder,
		Format:         storedFormat,
		Transformation: autoQuality,
	}
}

// Delete removes a hosted image.
func (u *CloudinaryUploader) Delete(ctx context.Context, publicID string) error {
	if u.api == nil {
		return relayerr.Wrap(relayerr.UploadFailed, errNotConfigured, "image delete failed")
	}

	res, err := u.api.Destroy(ctx, uploader.DestroyParams{PublicID: publicID})
	if err != nil {
		return relayerr.Wrap(relayerr.UploadFailed, err, "image delete failed")
	}
	if res != nil && res.Error.Message != "" {
		return relayerr.Wrap(relayerr.UploadFailed, errors.New(res.Error.Message), "image delete failed")
	}

	u.logger.Info("Deleted image", zap.String("public_id", publicID))
	return nil
}
