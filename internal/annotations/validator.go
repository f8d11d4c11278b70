// Package annotations sanitizes raw vision-model output into an
// AnnotationResult. The model is untrusted: nothing it returns is allowed to
// surface as an error to the HTTP layer.
package annotations

import (
	"bytes"
	"encoding/json"
	"math"
	"strings"

	"github.com/ui-annotator/backend/internal/models"
)

// Report describes what happened to a model response during sanitizing.
type Report struct {
	// Parsed is false when the text was not a JSON object with an
	// "annotations" array.
	Parsed bool
	// Dropped counts entries removed for violating the schema.
	Dropped int
}

// Sanitize returns the valid annotations contained in raw, in their original
// order. Any parse or shape failure yields an empty result.
func Sanitize(raw string) models.AnnotationResult {
	result, _ := Parse(raw)
	return result
}

// Parse is Sanitize with a report of how the input was treated.
func Parse(raw string) (models.AnnotationResult, Report) {
	result := models.EmptyAnnotationResult()

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal([]byte(unwrapCodeFence(raw)), &envelope); err != nil {
		return result, Report{}
	}

	list, ok := envelope["annotations"]
	if !ok || !isArray(list) {
		return result, Report{}
	}

	var entries []json.RawMessage
	if err := json.Unmarshal(list, &entries); err != nil {
		return result, Report{}
	}

	report := Report{Parsed: true}
	for _, entry := range entries {
		annotation, ok := parseEntry(entry)
		if !ok {
			report.Dropped++
			continue
		}
		result.Annotations = append(result.Annotations, annotation)
	}
	return result, report
}

func parseEntry(entry json.RawMessage) (models.Annotation, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(entry, &fields); err != nil || fields == nil {
		return models.Annotation{}, false
	}

	var a models.Annotation
	for key, dst := range map[string]*float64{
		"x":      &a.X,
		"y":      &a.Y,
		"width":  &a.Width,
		"height": &a.Height,
	} {
		value, ok := numberField(fields[key])
		if !ok {
			return models.Annotation{}, false
		}
		*dst = value
	}

	tag, ok := stringField(fields["tag"])
	if !ok || !models.Tag(tag).Valid() {
		return models.Annotation{}, false
	}
	a.Tag = models.Tag(tag)

	return a, true
}

// numberField accepts only a JSON number. null, strings and booleans are rejected.
func numberField(raw json.RawMessage) (float64, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || !isNumberStart(raw[0]) {
		return 0, false
	}
	var value float64
	if err := json.Unmarshal(raw, &value); err != nil {
		return 0, false
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, false
	}
	return value, true
}

func stringField(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '"' {
		return "", false
	}
	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return "", false
	}
	return value, true
}

func isNumberStart(c byte) bool {
	return c == '-' || (c >= '0' && c <= '9')
}

func isArray(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '['
}

// unwrapCodeFence strips a Markdown ```json fence that chat models like to wrap
// their JSON in.
func unwrapCodeFence(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	if newline := strings.IndexByte(trimmed, '\n'); newline >= 0 {
		trimmed = trimmed[newline+1:]
	} else {
		return raw
	}
	if end := strings.LastIndex(trimmed, "```"); end >= 0 {
		trimmed = trimmed[:end]
	}
	return strings.TrimSpace(trimmed)
}
