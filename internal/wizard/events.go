package wizard

import "tryon/internal/imageenc"

// Event is an input to Apply.
type Event interface {
	Name() string
}

type ProductSelected struct{ Image imageenc.EncodedImage }

type ModelSelected struct{ Image imageenc.EncodedImage }

type Advance struct{}

type Back struct{}

// Generate starts an attempt identified by Attempt, which must be unique per
// attempt so late completions can be recognised.
type Generate struct{ Attempt string }

type GenerationSucceeded struct {
	Attempt string
	Result  Result
}

type GenerationFailed struct {
	Attempt string
	Err     error
}

type Reset struct{}

func (ProductSelected) Name() string     { return "product_selected" }
func (ModelSelected) Name() string       { return "model_selected" }
func (Advance) Name() string             { return "advance" }
func (Back) Name() string                { return "back" }
func (Generate) Name() string            { return "generate" }
func (GenerationSucceeded) Name() string { return "generation_succeeded" }
func (GenerationFailed) Name() string    { return "generation_failed" }
func (Reset) Name() string               { return "reset" }
