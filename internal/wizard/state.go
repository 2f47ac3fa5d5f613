// Package wizard holds the try-on step state machine. Apply is a pure
// transition function over immutable State snapshots; Controller serialises
// events for one session and runs the remote generation call.
package wizard

import (
	"errors"
	"fmt"
	"strings"

	"tryon/internal/imageenc"
)

// Step is the current page of the wizard.
type Step int

const (
	AwaitingProduct Step = iota
	AwaitingModel
	Generating
	ShowingResult
)

var stepNames = map[Step]string{
	AwaitingProduct: "awaiting_product",
	AwaitingModel:   "awaiting_model",
	Generating:      "generating",
	ShowingResult:   "showing_result",
}

func (s Step) String() string {
	if name, ok := stepNames[s]; ok {
		return name
	}
	return fmt.Sprintf("step(%d)", int(s))
}

// MarshalText renders the step name in JSON payloads.
func (s Step) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a step name.
func (s *Step) UnmarshalText(text []byte) error {
	name := strings.TrimSpace(string(text))
	for step, n := range stepNames {
		if n == name {
			*s = step
			return nil
		}
	}
	return fmt.Errorf("wizard: unknown step %q", name)
}

// User-facing messages stored in State.Error. They double as i18n keys.
const (
	MsgMissingImages = "Both product and model images are required."
	MsgUnknownError  = "An unknown error occurred."
)

var (
	ErrInvalidTransition = errors.New("wizard: event not allowed in current step")
	ErrGuard             = errors.New("wizard: transition guard not satisfied")
	ErrMissingImages     = errors.New("wizard: both product and model images are required")
	ErrStaleAttempt      = errors.New("wizard: generation result belongs to a stale attempt")
)

// Result is the generated image. Data is base64 text.
type Result struct {
	Data     string `json:"data"`
	MIMEType string `json:"mime_type"`
}

// State is an immutable snapshot. Images are shared by pointer between
// snapshots but never mutated.
type State struct {
	Step    Step                   `json:"step"`
	Product *imageenc.EncodedImage `json:"product,omitempty"`
	Model   *imageenc.EncodedImage `json:"model,omitempty"`
	Result  *Result                `json:"result,omitempty"`
	Error   string                 `json:"error,omitempty"`
	Attempt string                 `json:"attempt,omitempty"`
}

// Initial is the state of a fresh wizard.
func Initial() State {
	return State{Step: AwaitingProduct}
}

// CanAdvance reports whether the "next" action is available.
func (s State) CanAdvance() bool {
	return s.Step == AwaitingProduct && s.Product != nil
}

// CanGenerate reports whether the generate action is available.
func (s State) CanGenerate() bool {
	return s.Step == AwaitingModel && s.Product != nil && s.Model != nil
}

// FailureMessage turns a generation error into the text shown to the user.
func FailureMessage(err error) string {
	if err == nil {
		return MsgUnknownError
	}
	if msg := strings.TrimSpace(err.Error()); msg != "" {
		return msg
	}
	return MsgUnknownError
}
