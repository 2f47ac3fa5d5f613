// Package imageenc turns an uploaded file into the base64 + data URL form the
// wizard keeps in memory and sends to the generation provider.
package imageenc

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"strings"
)

// DefaultMIMEType is used when the media type segment of a data URL cannot be
// parsed.
const DefaultMIMEType = "application/octet-stream"

// DefaultMaxBytes bounds a single upload when no explicit limit is configured.
const DefaultMaxBytes int64 = 10 << 20

var (
	ErrNoFile           = errors.New("imageenc: no file selected")
	ErrEmptyFile        = errors.New("imageenc: file is empty")
	ErrTooLarge         = errors.New("imageenc: file too large")
	ErrRead             = errors.New("imageenc: read file")
	ErrMalformedDataURL = errors.New("imageenc: malformed data url")
)

// MaxPixels bounds the declared dimensions of an image before it is decoded.
const MaxPixels int64 = 40_000_000

// ErrTooManyPixels is an ErrTooLarge for images whose header declares more
// than MaxPixels.
var ErrTooManyPixels = fmt.Errorf("%w: more than %d pixels", ErrTooLarge, MaxPixels)

// CheckDimensions rejects non-positive or oversized image dimensions.
func CheckDimensions(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("imageenc: invalid dimensions %dx%d", width, height)
	}
	if int64(width)*int64(height) > MaxPixels {
		return fmt.Errorf("%w: %dx%d", ErrTooManyPixels, width, height)
	}
	return nil
}

// EncodedImage is a selected image ready for transmission. All three fields
// come from the same read of the same file and are never mutated afterwards.
type EncodedImage struct {
	Data       string `json:"data"`
	MIMEType   string `json:"mime_type"`
	PreviewURL string `json:"preview_url"`
}

// IsZero reports whether no image has been encoded.
func (img EncodedImage) IsZero() bool {
	return img.Data == "" && img.PreviewURL == ""
}

// Encoder reads files in a single buffered pass.
type Encoder struct {
	maxBytes int64
}

// NewEncoder returns an Encoder that rejects files larger than maxBytes.
// A non-positive limit falls back to DefaultMaxBytes.
func NewEncoder(maxBytes int64) *Encoder {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Encoder{maxBytes: maxBytes}
}

// MaxBytes returns the configured upload limit.
func (e *Encoder) MaxBytes() int64 {
	if e == nil || e.maxBytes <= 0 {
		return DefaultMaxBytes
	}
	return e.maxBytes
}

// Encode reads r to the end and builds an EncodedImage. declaredType is the
// content type reported by the client for the file.
func (e *Encoder) Encode(r io.Reader, declaredType string) (EncodedImage, error) {
	if r == nil {
		return EncodedImage{}, ErrNoFile
	}
	limit := e.MaxBytes()
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return EncodedImage{}, fmt.Errorf("%w: %w", ErrRead, err)
	}
	if len(data) == 0 {
		return EncodedImage{}, ErrEmptyFile
	}
	if int64(len(data)) > limit {
		return EncodedImage{}, fmt.Errorf("%w: limit is %d bytes", ErrTooLarge, limit)
	}
	return FromBytes(data, declaredType), nil
}

// FromBytes encodes data that has already been read. The MIME type is parsed
// back out of the data URL so the three fields can never disagree.
func FromBytes(data []byte, declaredType string) EncodedImage {
	dataURL := BuildDataURL(declaredType, data)
	mimeType, payload, err := ParseDataURL(dataURL)
	if err != nil || mimeType == "" {
		mimeType = DefaultMIMEType
	}
	return EncodedImage{
		Data:       payload,
		MIMEType:   mimeType,
		PreviewURL: dataURL,
	}
}

// BuildDataURL renders data as data:<mime>;base64,<payload>. Parameters on
// the declared type are dropped; an unusable type becomes DefaultMIMEType.
func BuildDataURL(declaredType string, data []byte) string {
	mediaType := normalizeMediaType(declaredType)
	var b strings.Builder
	b.Grow(len("data:;base64,") + len(mediaType) + base64.StdEncoding.EncodedLen(len(data)))
	b.WriteString("data:")
	b.WriteString(mediaType)
	b.WriteString(";base64,")
	b.WriteString(base64.StdEncoding.EncodeToString(data))
	return b.String()
}

// ParseDataURL splits a base64 data URL into its media type and payload.
// An empty media type segment is reported as DefaultMIMEType.
func ParseDataURL(dataURL string) (string, string, error) {
	rest, ok := strings.CutPrefix(dataURL, "data:")
	if !ok {
		return "", "", ErrMalformedDataURL
	}
	header, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", "", ErrMalformedDataURL
	}
	mediaType, ok := strings.CutSuffix(header, ";base64")
	if !ok {
		return "", "", ErrMalformedDataURL
	}
	if idx := strings.IndexByte(mediaType, ';'); idx >= 0 {
		mediaType = mediaType[:idx]
	}
	mediaType = strings.TrimSpace(mediaType)
	if mediaType == "" || !strings.Contains(mediaType, "/") {
		mediaType = DefaultMIMEType
	}
	return mediaType, payload, nil
}

// Decode returns the raw bytes behind img.
func Decode(img EncodedImage) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(img.Data)
	if err != nil {
		return nil, fmt.Errorf("imageenc: decode payload: %w", err)
	}
	return data, nil
}

func normalizeMediaType(declared string) string {
	declared = strings.TrimSpace(declared)
	if declared == "" {
		return DefaultMIMEType
	}
	mediaType, _, err := mime.ParseMediaType(declared)
	if err != nil || !strings.Contains(mediaType, "/") {
		return DefaultMIMEType
	}
	return mediaType
}
