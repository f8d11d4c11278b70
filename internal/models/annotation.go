// Package models contains the data models for the application.
package models

import "encoding/json"

// DefaultImageFilename is reported for every prediction; the relay never
// learns the client's original filename on the predict path.
const DefaultImageFilename = "uploaded.png"

// Tag is the kind of UI component a bounding box locates.
type Tag string

const (
	TagButton   Tag = "Button"
	TagInput    Tag = "Input"
	TagRadio    Tag = "Radio"
	TagDropdown Tag = "Dropdown"
)

// Tags lists every tag the model is allowed to return.
var Tags = []Tag{TagButton, TagInput, TagRadio, TagDropdown}

// Valid reports whether t is one of the known tags.
func (t Tag) Valid() bool {
	for _, known := range Tags {
		if t == known {
			return true
		}
	}
	return false
}

// Annotation is a bounding box in image pixel coordinates.
type Annotation struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Tag    Tag     `json:"tag"`
}

// AnnotationResult is the sanitized prediction for a single image.
type AnnotationResult struct {
	ImageFilename string       `json:"image_filename"`
	Annotations   []Annotation `json:"annotations"`
}

// EmptyAnnotationResult returns a well-formed result with no annotations.
func EmptyAnnotationResult() AnnotationResult {
	return AnnotationResult{
		ImageFilename: DefaultImageFilename,
		Annotations:   []Annotation{},
	}
}

// UploadResult is what the storage provider reports for a hosted image.
type UploadResult struct {
	URL      string `json:"url"`
	PublicID string `json:"public_id"`
}

// UploadBase64Request represents the request body for uploading a data-URL image.
type UploadBase64Request struct {
	Image    string `json:"image"`
	Filename string `json:"filename,omitempty"`
}

// UploadResponse is returned by both upload endpoints.
type UploadResponse struct {
	URL      string `json:"url"`
	PublicID string `json:"public_id"`
	Filename string `json:"filename"`
}

// PredictRequest represents the request body for a prediction.
// Image may hold either a data-URL or a remote URL.
type PredictRequest struct {
	Image    string `json:"image,omitempty"`
	ImageURL string `json:"imageUrl,omitempty"`
}

// GroundTruth is a client-submitted labelling record. The payload is kept as
// received.
type GroundTruth struct {
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

// StatusResponse acknowledges a request that has no other result.
type StatusResponse struct {
	Status string `json:"status"`
}

// ErrorResponse represents an error response from the API.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
