package image

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"tryon/internal/providers/genai"
)

// FactoryOptions selects and configures a Generator.
type FactoryOptions struct {
	Provider   string
	APIKey     string
	Model      string
	BaseURL    string
	HTTPClient *http.Client
	Logger     zerolog.Logger
	// SyntheticDelay slows the synthetic provider down so the generating
	// step stays visible in local development.
	SyntheticDelay time.Duration
}

// New builds the Generator named by opts.Provider and returns it with the
// provider name actually in use. Without an API key every provider falls
// back to synthetic output.
func New(ctx context.Context, opts FactoryOptions) (Generator, string, error) {
	provider := NormalizeProvider(opts.Provider)
	if provider != ProviderSynthetic && strings.TrimSpace(opts.APIKey) == "" {
		opts.Logger.Warn().Str("provider", provider).Msg("gemini api key missing, using synthetic generation")
		provider = ProviderSynthetic
	}

	switch provider {
	case ProviderSynthetic:
		return NewSynthetic(opts.SyntheticDelay), provider, nil
	case ProviderGeminiREST:
		logger := opts.Logger
		client, err := genai.NewClient(genai.Options{
			APIKey:     opts.APIKey,
			BaseURL:    opts.BaseURL,
			Model:      opts.Model,
			HTTPClient: opts.HTTPClient,
			Logger:     &logger,
		})
		if err != nil {
			return nil, "", fmt.Errorf("configure gemini rest client: %w", err)
		}
		return NewGeminiGenerator(client), provider, nil
	default:
		gen, err := NewSDKGenerator(ctx, SDKOptions{
			APIKey: opts.APIKey,
			Model:  opts.Model,
			Logger: opts.Logger,
		})
		if err != nil {
			return nil, "", err
		}
		return gen, provider, nil
	}
}
