package image

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"strings"

	"tryon/internal/imageenc"
)

// Provider names accepted by GENERATION_PROVIDER.
const (
	ProviderGemini     = "gemini"
	ProviderGeminiREST = "gemini-rest"
	ProviderSynthetic  = "synthetic"
)

var (
	ErrMissingInput = errors.New("both model and product images are required")
	ErrNoImage      = errors.New("provider returned no image")
)

// TryOnRequest carries the two images for a single generation attempt.
type TryOnRequest struct {
	Model     imageenc.EncodedImage
	Product   imageenc.EncodedImage
	RequestID string
	Locale    string
}

// Validate checks that both images are present.
func (r TryOnRequest) Validate() error {
	if r.Model.IsZero() || r.Product.IsZero() {
		return ErrMissingInput
	}
	return nil
}

// TryOnResult is the generated image. Data is base64 text.
type TryOnResult struct {
	Data     string
	MIMEType string
	Width    int
	Height   int
}

// Generator is the contract implemented by all try-on providers. It is a
// single request/response call with no internal retries.
type Generator interface {
	Generate(ctx context.Context, req TryOnRequest) (*TryOnResult, error)
}

// NewResult wraps raw image bytes returned by a provider.
func NewResult(data []byte, mimeType string) (*TryOnResult, error) {
	if len(data) == 0 {
		return nil, ErrNoImage
	}
	mimeType = strings.TrimSpace(mimeType)
	if mimeType == "" {
		mimeType = "image/png"
	}
	res := &TryOnResult{
		Data:     base64.StdEncoding.EncodeToString(data),
		MIMEType: mimeType,
	}
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		res.Width, res.Height = cfg.Width, cfg.Height
	}
	return res, nil
}

// NormalizeProvider maps free-form configuration to a known provider name.
func NormalizeProvider(name string) string {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case ProviderGeminiREST, "rest":
		return ProviderGeminiREST
	case ProviderSynthetic, "offline":
		return ProviderSynthetic
	default:
		return ProviderGemini
	}
}
