package image

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	gogenai "google.golang.org/genai"
)

// DefaultSDKModel is the Gemini image model used when none is configured.
const DefaultSDKModel = "gemini-2.5-flash-image-preview"

type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*gogenai.Content, config *gogenai.GenerateContentConfig) (*gogenai.GenerateContentResponse, error)
}

// SDKOptions configures an SDKGenerator.
type SDKOptions struct {
	APIKey string
	Model  string
	Logger zerolog.Logger
}

// SDKGenerator calls Gemini through the official Go SDK.
type SDKGenerator struct {
	models contentGenerator
	model  string
	logger zerolog.Logger
}

// NewSDKGenerator builds a Gemini API backed client.
func NewSDKGenerator(ctx context.Context, opts SDKOptions) (*SDKGenerator, error) {
	apiKey := strings.TrimSpace(opts.APIKey)
	if apiKey == "" {
		return nil, errors.New("gemini sdk: api key is required")
	}
	client, err := gogenai.NewClient(ctx, &gogenai.ClientConfig{
		APIKey:  apiKey,
		Backend: gogenai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini sdk: new client: %w", err)
	}
	return newSDKGenerator(client.Models, opts.Model, opts.Logger), nil
}

func newSDKGenerator(models contentGenerator, model string, logger zerolog.Logger) *SDKGenerator {
	if strings.TrimSpace(model) == "" {
		model = DefaultSDKModel
	}
	return &SDKGenerator{models: models, model: model, logger: logger}
}

// Model returns the configured model name.
func (g *SDKGenerator) Model() string {
	return g.model
}

func (g *SDKGenerator) Generate(ctx context.Context, req TryOnRequest) (*TryOnResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	modelPart, err := inlinePart(req.Model.Data, req.Model.MIMEType)
	if err != nil {
		return nil, fmt.Errorf("model image: %w", err)
	}
	productPart, err := inlinePart(req.Product.Data, req.Product.MIMEType)
	if err != nil {
		return nil, fmt.Errorf("product image: %w", err)
	}
	parts := []*gogenai.Part{
		gogenai.NewPartFromText(BuildTryOnPrompt(req.Locale)),
		modelPart,
		productPart,
	}
	contents := []*gogenai.Content{gogenai.NewContentFromParts(parts, gogenai.RoleUser)}
	cfg := &gogenai.GenerateContentConfig{
		ResponseModalities: []string{"TEXT", "IMAGE"},
	}

	res, err := g.models.GenerateContent(ctx, g.model, contents, cfg)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, ErrNoImage
	}

	var texts []string
	for _, cand := range res.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part == nil {
				continue
			}
			if part.InlineData != nil && len(part.InlineData.Data) > 0 {
				g.logger.Debug().
					Str("request_id", req.RequestID).
					Str("model", g.model).
					Int("bytes", len(part.InlineData.Data)).
					Msg("gemini sdk: received try-on image")
				return NewResult(part.InlineData.Data, part.InlineData.MIMEType)
			}
			if t := strings.TrimSpace(part.Text); t != "" {
				texts = append(texts, t)
			}
		}
	}
	if res.PromptFeedback != nil && res.PromptFeedback.BlockReason != "" {
		return nil, fmt.Errorf("gemini blocked the request: %s", res.PromptFeedback.BlockReason)
	}
	if len(texts) > 0 {
		return nil, fmt.Errorf("gemini returned no image: %s", strings.Join(texts, " "))
	}
	return nil, ErrNoImage
}

var _ Generator = (*SDKGenerator)(nil)

func inlinePart(data, mimeType string) (*gogenai.Part, error) {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}
	return &gogenai.Part{InlineData: &gogenai.Blob{MIMEType: mimeType, Data: raw}}, nil
}
