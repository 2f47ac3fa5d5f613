package image

import (
	"context"
	"fmt"

	"tryon/internal/providers/genai"
)

type geminiImageClient interface {
	GenerateImage(ctx context.Context, req genai.ImageRequest) (*genai.ImageAsset, error)
}

// GeminiGenerator sends try-on requests through the REST generateContent client.
type GeminiGenerator struct {
	client geminiImageClient
}

func NewGeminiGenerator(client geminiImageClient) *GeminiGenerator {
	return &GeminiGenerator{client: client}
}

func (g *GeminiGenerator) Generate(ctx context.Context, req TryOnRequest) (*TryOnResult, error) {
	if g == nil || g.client == nil {
		return nil, fmt.Errorf("gemini generator not configured")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	asset, err := g.client.GenerateImage(ctx, genai.ImageRequest{
		Prompt: BuildTryOnPrompt(req.Locale),
		Images: []genai.InlineImage{
			{MIMEType: req.Model.MIMEType, Data: req.Model.Data},
			{MIMEType: req.Product.MIMEType, Data: req.Product.Data},
		},
		RequestID: req.RequestID,
	})
	if err != nil {
		return nil, err
	}
	if asset == nil {
		return nil, ErrNoImage
	}
	return NewResult(asset.Data, asset.Format)
}

var _ Generator = (*GeminiGenerator)(nil)
