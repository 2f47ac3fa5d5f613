package image

import (
	"fmt"
	"strings"
)

// BuildTryOnPrompt is the instruction sent alongside the two images. The
// model image is always the first inline part and the product the second.
func BuildTryOnPrompt(locale string) string {
	lines := []string{
		"You are given two images.",
		"The first image shows a person (the model). The second image shows a fashion product.",
		"Create a single photorealistic image of the person from the first image wearing the product from the second image.",
		"Preserve the person's face, pose, body shape and skin tone exactly, and keep the original background.",
		"Fit the product naturally with realistic folds, shadows and lighting that match the scene.",
		"Keep the product's colour, pattern, texture and any logos faithful to the second image.",
		"Return only the edited image.",
	}
	if locale = strings.TrimSpace(locale); locale != "" && !strings.EqualFold(locale, "en") {
		lines = append(lines, fmt.Sprintf("If any text must appear in the image, write it in the %s locale.", strings.ToUpper(locale)))
	}
	return strings.Join(lines, "\n")
}
