package wizard

import "fmt"

// Apply computes the state that follows s after ev. The returned state is
// always the one to keep: on error it equals s, except for a Generate without
// both images, which records MsgMissingImages and returns ErrMissingImages.
func Apply(s State, ev Event) (State, error) {
	switch e := ev.(type) {
	case Reset:
		return Initial(), nil

	case ProductSelected:
		if s.Step != AwaitingProduct {
			return s, invalid(s, ev)
		}
		if e.Image.IsZero() {
			return s, fmt.Errorf("%w: empty product image", ErrGuard)
		}
		img := e.Image
		s.Product = &img
		return s, nil

	case Advance:
		if s.Step != AwaitingProduct {
			return s, invalid(s, ev)
		}
		if s.Product == nil {
			return s, fmt.Errorf("%w: product image required", ErrGuard)
		}
		s.Step = AwaitingModel
		return s, nil

	case Back:
		if s.Step != AwaitingModel {
			return s, invalid(s, ev)
		}
		s.Step = AwaitingProduct
		s.Error = ""
		return s, nil

	case ModelSelected:
		if s.Step != AwaitingModel {
			return s, invalid(s, ev)
		}
		if e.Image.IsZero() {
			return s, fmt.Errorf("%w: empty model image", ErrGuard)
		}
		img := e.Image
		s.Model = &img
		return s, nil

	case Generate:
		if s.Step != AwaitingModel {
			return s, invalid(s, ev)
		}
		if s.Product == nil || s.Model == nil {
			s.Error = MsgMissingImages
			return s, ErrMissingImages
		}
		if e.Attempt == "" {
			return s, fmt.Errorf("%w: attempt token required", ErrGuard)
		}
		s.Step = Generating
		s.Error = ""
		s.Attempt = e.Attempt
		return s, nil

	case GenerationSucceeded:
		if s.Step != Generating || e.Attempt == "" || e.Attempt != s.Attempt {
			return s, ErrStaleAttempt
		}
		if e.Result.Data == "" {
			return failed(s, nil), nil
		}
		res := e.Result
		if res.MIMEType == "" {
			res.MIMEType = "image/png"
		}
		s.Step = ShowingResult
		s.Result = &res
		s.Attempt = ""
		s.Error = ""
		return s, nil

	case GenerationFailed:
		if s.Step != Generating || e.Attempt == "" || e.Attempt != s.Attempt {
			return s, ErrStaleAttempt
		}
		return failed(s, e.Err), nil

	default:
		return s, fmt.Errorf("%w: unknown event %T", ErrInvalidTransition, ev)
	}
}

func failed(s State, err error) State {
	s.Step = AwaitingModel
	s.Error = FailureMessage(err)
	s.Attempt = ""
	s.Result = nil
	return s
}

func invalid(s State, ev Event) error {
	return fmt.Errorf("%w: %s from %s", ErrInvalidTransition, ev.Name(), s.Step)
}
