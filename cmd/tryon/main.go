// Command tryon runs a single try-on generation from two local image files.
package main

import (
	"context"
	"encoding/base64"
	"flag"
	"fmt"
	"mime"
	"mime/multipart"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"tryon/internal/imageenc"
	"tryon/internal/infra"
	"tryon/internal/providers/image"
	"tryon/internal/upload"
)

func main() {
	var (
		productFlag  string
		modelFlag    string
		outFlag      string
		providerFlag string
		localeFlag   string
		timeoutFlag  time.Duration
	)
	flag.StringVar(&productFlag, "product", "", "path to the product image (png, jpg or webp)")
	flag.StringVar(&modelFlag, "model", "", "path to the model image (png, jpg or webp)")
	flag.StringVar(&outFlag, "out", "tryon.png", "where to write the generated image")
	flag.StringVar(&providerFlag, "provider", "", "generation provider (gemini, gemini-rest or synthetic); defaults to GENERATION_PROVIDER")
	flag.StringVar(&localeFlag, "locale", "en", "locale hint passed to the provider")
	flag.DurationVar(&timeoutFlag, "timeout", 0, "generation timeout; defaults to GENERATION_TIMEOUT_SECONDS")
	flag.Parse()

	if productFlag == "" || modelFlag == "" {
		fmt.Fprintln(os.Stderr, "both -product and -model are required")
		flag.Usage()
		os.Exit(2)
	}

	_ = godotenv.Load()
	cfg, err := infra.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	provider := cfg.GenerationProvider
	if strings.TrimSpace(providerFlag) != "" {
		provider = providerFlag
	}
	timeout := cfg.GenerationTimeout
	if timeoutFlag > 0 {
		timeout = timeoutFlag
	}

	logger := infra.NewLogger("cli").With().Str("cmd", "tryon").Logger()
	enc := imageenc.NewEncoder(cfg.MaxUploadBytes)

	product, err := readSlot(enc, upload.ProductSlot, productFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "product image: %v\n", err)
		os.Exit(1)
	}
	model, err := readSlot(enc, upload.ModelSlot, modelFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "model image: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	gen, name, err := image.New(ctx, image.FactoryOptions{
		Provider: provider,
		APIKey:   cfg.GeminiAPIKey,
		Model:    cfg.GeminiModel,
		BaseURL:  cfg.GeminiBaseURL,
		Logger:   logger,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "configure provider: %v\n", err)
		os.Exit(1)
	}

	start := time.Now()
	res, err := gen.Generate(ctx, image.TryOnRequest{
		Model:   model,
		Product: product,
		Locale:  localeFlag,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "generation failed: %v\n", err)
		os.Exit(1)
	}
	raw, err := base64.StdEncoding.DecodeString(res.Data)
	if err != nil {
		fmt.Fprintf(os.Stderr, "decode result: %v\n", err)
		os.Exit(1)
	}
	if err := os.WriteFile(outFlag, raw, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "write %s: %v\n", outFlag, err)
		os.Exit(1)
	}
	logger.Info().
		Str("provider", name).
		Str("out", outFlag).
		Str("mime_type", res.MIMEType).
		Int("width", res.Width).
		Int("height", res.Height).
		Dur("elapsed", time.Since(start)).
		Msg("try-on image written")
}

// readSlot pushes a local file through the same slot validation the upload
// endpoints use.
func readSlot(enc *imageenc.Encoder, slot upload.Slot, path string) (imageenc.EncodedImage, error) {
	f, err := os.Open(path)
	if err != nil {
		return imageenc.EncodedImage{}, err
	}
	defer f.Close()

	header := &multipart.FileHeader{Filename: filepath.Base(path), Header: textproto.MIMEHeader{}}
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(path))); ct != "" {
		header.Header.Set("Content-Type", ct)
	}

	var out imageenc.EncodedImage
	if err := slot.Select(enc, f, header, func(img imageenc.EncodedImage) {
		out = img
	}); err != nil {
		return imageenc.EncodedImage{}, err
	}
	return out, nil
}
