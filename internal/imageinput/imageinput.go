// Package imageinput turns the three accepted image shapes (raw bytes, base64
// data-URL, remote URL) into a single reference the vision model and the
// storage provider can consume.
package imageinput

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/ui-annotator/backend/internal/relayerr"
)

// DefaultMaxBytes is the decoded image size ceiling.
const DefaultMaxBytes = 10 << 20

// Variant identifies which input shape an Input holds.
type Variant int

const (
	RawBytes Variant = iota + 1
	DataURL
	RemoteURL
)

func (v Variant) String() string {
	switch v {
	case RawBytes:
		return "raw_bytes"
	case DataURL:
		return "data_url"
	case RemoteURL:
		return "remote_url"
	}
	return "unknown"
}

// allowedSubtypes is the image/<subtype> allow-list for bytes and data-URLs.
var allowedSubtypes = map[string]bool{
	"jpeg": true,
	"jpg":  true,
	"png":  true,
	"webp": true,
}

var dataURLPattern = regexp.MustCompile(`^data:image/([A-Za-z0-9.+-]+);base64,([A-Za-z0-9+/]+={0,2})$`)

// Input is a validated image. Exactly one of the variant-specific fields is
// populated, matching Variant().
type Input struct {
	variant Variant
	subtype string
	data    []byte
	payload string
	url     string
}

// Variant returns which shape the input was given in.
func (in Input) Variant() Variant { return in.variant }

// MIME returns the declared media type, or "" for remote URLs.
func (in Input) MIME() string {
	if in.subtype == "" {
		return ""
	}
	return "image/" + in.subtype
}

// Subtype returns the image subtype ("png", "jpeg", ...), or "" for remote URLs.
func (in Input) Subtype() string { return in.subtype }

// Bytes returns the raw image bytes for RawBytes inputs.
func (in Input) Bytes() []byte { return in.data }

// Reference returns the canonical form handed to collaborators: a data-URL for
// RawBytes and DataURL inputs, the unchanged URL for RemoteURL inputs.
func (in Input) Reference() string {
	switch in.variant {
	case RawBytes:
		return buildDataURL(in.subtype, base64.StdEncoding.EncodeToString(in.data))
	case DataURL:
		return buildDataURL(in.subtype, in.payload)
	case RemoteURL:
		return in.url
	}
	return ""
}

// Normalizer validates image inputs against the allow-list and size ceiling.
type Normalizer struct {
	maxBytes int64
}

// New creates a Normalizer. A non-positive maxBytes selects DefaultMaxBytes.
func New(maxBytes int64) *Normalizer {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Normalizer{maxBytes: maxBytes}
}

// MaxBytes returns the configured size ceiling.
func (n *Normalizer) MaxBytes() int64 { return n.maxBytes }

// FromBytes validates an uploaded file with its declared media type.
func (n *Normalizer) FromBytes(mimeType string, data []byte) (Input, error) {
	subtype, ok := subtypeOf(mimeType)
	if !ok {
		return Input{}, relayerr.New(relayerr.UnsupportedMediaType,
			fmt.Sprintf("unsupported media type %q; allowed: image/jpeg, image/jpg, image/png, image/webp", mimeType))
	}
	if int64(len(data)) > n.maxBytes {
		return Input{}, n.tooLarge()
	}
	if len(data) == 0 {
		return Input{}, relayerr.New(relayerr.MissingInput, "image file is empty")
	}
	return Input{variant: RawBytes, subtype: subtype, data: data}, nil
}

// FromDataURL validates a data:image/<subtype>;base64,<payload> string and
// rebuilds it in canonical form.
func (n *Normalizer) FromDataURL(s string) (Input, error) {
	match := dataURLPattern.FindStringSubmatch(strings.TrimSpace(s))
	if match == nil {
		return Input{}, relayerr.New(relayerr.InvalidFormat,
			"image must be a base64 data-URL of the form data:image/<type>;base64,<data>")
	}
	subtype := strings.ToLower(match[1])
	if !allowedSubtypes[subtype] {
		return Input{}, relayerr.New(relayerr.InvalidFormat,
			fmt.Sprintf("unsupported data-URL image type %q; allowed: jpeg, jpg, png, webp", subtype))
	}
	payload := match[2]
	if !validEncodedLen(payload) {
		return Input{}, relayerr.New(relayerr.InvalidFormat, "image data-URL payload is not valid base64")
	}
	if decodedLen(payload) > n.maxBytes {
		return Input{}, n.tooLarge()
	}
	return Input{variant: DataURL, subtype: subtype, payload: payload}, nil
}

// FromRemoteURL accepts an http or https URL and passes it through unchanged.
func (n *Normalizer) FromRemoteURL(s string) (Input, error) {
	if !strings.HasPrefix(s, "http://") && !strings.HasPrefix(s, "https://") {
		return Input{}, relayerr.New(relayerr.InvalidFormat, "image URL must start with http:// or https://")
	}
	if u, err := url.Parse(s); err != nil || u.Host == "" {
		return Input{}, relayerr.New(relayerr.InvalidFormat, "image URL is malformed")
	}
	return Input{variant: RemoteURL, url: s}, nil
}

// FromPredictRequest resolves the image and imageUrl fields of a prediction
// request. image may hold a data-URL or a remote URL and takes precedence over
// imageUrl when both are set.
func (n *Normalizer) FromPredictRequest(image, imageURL string) (Input, error) {
	image = strings.TrimSpace(image)
	imageURL = strings.TrimSpace(imageURL)

	switch {
	case image != "":
		if strings.HasPrefix(image, "data:") {
			return n.FromDataURL(image)
		}
		if strings.HasPrefix(image, "http://") || strings.HasPrefix(image, "https://") {
			return n.FromRemoteURL(image)
		}
		return Input{}, relayerr.New(relayerr.InvalidFormat,
			"image must be a base64 data-URL or an http(s) URL")
	case imageURL != "":
		return n.FromRemoteURL(imageURL)
	}
	return Input{}, relayerr.New(relayerr.MissingInput, "image or imageUrl is required")
}

func (n *Normalizer) tooLarge() error {
	return relayerr.New(relayerr.PayloadTooLarge,
		fmt.Sprintf("image exceeds the maximum size of %d bytes", n.maxBytes))
}

// subtypeOf extracts the allowed subtype from a declared media type such as
// "image/png" or "IMAGE/JPEG; q=1".
func subtypeOf(mimeType string) (string, bool) {
	mediaType, _, _ := strings.Cut(mimeType, ";")
	mediaType = strings.ToLower(strings.TrimSpace(mediaType))
	subtype, found := strings.CutPrefix(mediaType, "image/")
	if !found || !allowedSubtypes[subtype] {
		return "", false
	}
	return subtype, true
}

func buildDataURL(subtype, payload string) string {
	return "data:image/" + subtype + ";base64," + payload
}

// validEncodedLen rejects payload lengths no base64 encoder produces: padded
// payloads must fill whole quanta, and unpadded ones never leave a single
// trailing character.
func validEncodedLen(payload string) bool {
	if strings.HasSuffix(payload, "=") {
		return len(payload)%4 == 0
	}
	return len(payload)%4 != 1
}

// decodedLen returns the number of bytes a padded base64 payload decodes to.
func decodedLen(payload string) int64 {
	padding := len(payload) - len(strings.TrimRight(payload, "="))
	return int64(len(payload))*3/4 - int64(padding)
}
