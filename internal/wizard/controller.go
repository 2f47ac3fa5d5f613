package wizard

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tryon/internal/imageenc"
	"tryon/internal/providers/image"
)

// DefaultGenerationTimeout bounds one remote call when Options leaves it unset.
const DefaultGenerationTimeout = 2 * time.Minute

// Recorder receives transition and generation outcomes for metrics.
type Recorder interface {
	ObserveTransition(event string, from, to Step, err error)
	ObserveGeneration(outcome string, elapsed time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) ObserveTransition(string, Step, Step, error) {}
func (nopRecorder) ObserveGeneration(string, time.Duration)     {}

// Generation outcomes reported to Recorder.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
	OutcomeStale     = "stale"
)

// Options configures a Controller.
type Options struct {
	SessionID  string
	Generator  image.Generator
	Timeout    time.Duration
	Logger     zerolog.Logger
	Recorder   Recorder
	NewAttempt func() string
	Locale     func() string
}

// Controller owns the wizard state of one session. All methods are safe for
// concurrent use; events are applied one at a time.
type Controller struct {
	mu      sync.Mutex
	state   State
	updated time.Time

	sessionID  string
	generator  image.Generator
	timeout    time.Duration
	logger     zerolog.Logger
	recorder   Recorder
	newAttempt func() string
	locale     func() string

	cancel context.CancelFunc
	done   chan struct{}
}

// NewController returns a Controller in the initial state.
func NewController(opts Options) *Controller {
	c := &Controller{
		state:      Initial(),
		updated:    time.Now(),
		sessionID:  opts.SessionID,
		generator:  opts.Generator,
		timeout:    opts.Timeout,
		logger:     opts.Logger.With().Str("session_id", opts.SessionID).Logger(),
		recorder:   opts.Recorder,
		newAttempt: opts.NewAttempt,
		locale:     opts.Locale,
	}
	if c.timeout <= 0 {
		c.timeout = DefaultGenerationTimeout
	}
	if c.recorder == nil {
		c.recorder = nopRecorder{}
	}
	if c.newAttempt == nil {
		c.newAttempt = uuid.NewString
	}
	return c
}

// ID returns the session id the controller was created for.
func (c *Controller) ID() string {
	return c.sessionID
}

// Snapshot returns the current state.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastUpdated returns when the state last changed or was read by an event.
func (c *Controller) LastUpdated() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.updated
}

func (c *Controller) SelectProduct(img imageenc.EncodedImage) (State, error) {
	return c.apply(ProductSelected{Image: img})
}

func (c *Controller) SelectModel(img imageenc.EncodedImage) (State, error) {
	return c.apply(ModelSelected{Image: img})
}

func (c *Controller) Advance() (State, error) {
	return c.apply(Advance{})
}

func (c *Controller) Back() (State, error) {
	return c.apply(Back{})
}

// Reset returns to the initial state and cancels any in-flight generation.
// A result that still arrives for the cancelled attempt is discarded.
func (c *Controller) Reset() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	next, _ := c.applyLocked(Reset{})
	return next
}

// Generate moves to Generating and starts the remote call in the background.
// The call outlives ctx's cancellation but keeps its values; it is bounded by
// the configured timeout and by Reset/Close.
func (c *Controller) Generate(ctx context.Context) (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.generator == nil {
		return c.state, errors.New("wizard: no generator configured")
	}
	attempt := c.newAttempt()
	next, err := c.applyLocked(Generate{Attempt: attempt})
	if err != nil {
		return next, err
	}

	req := image.TryOnRequest{
		Model:     *next.Model,
		Product:   *next.Product,
		RequestID: attempt,
	}
	if c.locale != nil {
		req.Locale = c.locale()
	}

	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	done := make(chan struct{})
	c.cancel = cancel
	c.done = done

	c.logger.Info().Str("attempt", attempt).Msg("wizard: generation started")
	go c.run(runCtx, cancel, done, attempt, req)
	return next, nil
}

func (c *Controller) run(ctx context.Context, cancel context.CancelFunc, done chan struct{}, attempt string, req image.TryOnRequest) {
	defer close(done)
	defer cancel()

	start := time.Now()
	res, genErr := c.generator.Generate(ctx, req)
	elapsed := time.Since(start)

	var ev Event
	if genErr != nil {
		ev = GenerationFailed{Attempt: attempt, Err: genErr}
	} else if res == nil {
		ev = GenerationFailed{Attempt: attempt, Err: image.ErrNoImage}
	} else {
		ev = GenerationSucceeded{Attempt: attempt, Result: Result{Data: res.Data, MIMEType: res.MIMEType}}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	next, err := c.applyLocked(ev)
	switch {
	case errors.Is(err, ErrStaleAttempt):
		c.recorder.ObserveGeneration(OutcomeStale, elapsed)
		c.logger.Debug().Str("attempt", attempt).Msg("wizard: discarding result of stale attempt")
	case next.Step == ShowingResult:
		c.recorder.ObserveGeneration(OutcomeSucceeded, elapsed)
		c.logger.Info().Str("attempt", attempt).Dur("elapsed", elapsed).Msg("wizard: generation succeeded")
	default:
		c.recorder.ObserveGeneration(OutcomeFailed, elapsed)
		c.logger.Warn().Err(genErr).Str("attempt", attempt).Dur("elapsed", elapsed).Msg("wizard: generation failed")
	}
	if c.cancel != nil && c.state.Attempt == "" {
		c.cancel = nil
	}
}

// Wait blocks until the most recent generation attempt has settled or ctx
// is done.
func (c *Controller) Wait(ctx context.Context) error {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close cancels any in-flight generation. The controller stays usable.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

func (c *Controller) apply(ev Event) (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.applyLocked(ev)
}

func (c *Controller) applyLocked(ev Event) (State, error) {
	prev := c.state
	next, err := Apply(prev, ev)
	c.state = next
	c.updated = time.Now()
	c.recorder.ObserveTransition(ev.Name(), prev.Step, next.Step, err)
	if err != nil && !errors.Is(err, ErrStaleAttempt) {
		c.logger.Debug().Err(err).Str("event", ev.Name()).Stringer("step", prev.Step).Msg("wizard: event rejected")
	}
	return next, err
}
