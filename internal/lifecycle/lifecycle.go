// Package lifecycle drives one operator's submission through
// idle → pending → succeeded | failed, allowing at most one request in flight.
package lifecycle

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/disease-intake-server/internal/domain"
	"github.com/disease-intake-server/internal/encoder"
	"github.com/disease-intake-server/internal/intake"
	"github.com/disease-intake-server/pkg/predictor"
	"github.com/sirupsen/logrus"
)

// Phase is the controller state.
type Phase string

const (
	Idle      Phase = "idle"
	Pending   Phase = "pending"
	Succeeded Phase = "succeeded"
	Failed    Phase = "failed"
)

var (
	// ErrSubmissionInFlight rejects a submit while another is pending.
	ErrSubmissionInFlight = errors.New("a submission is already in flight")
	// ErrInvalidTransition rejects an action the current phase does not allow.
	ErrInvalidTransition = errors.New("action not allowed in the current state")
	// ErrFormLocked rejects record edits while pending or showing a result.
	ErrFormLocked = errors.New("the intake record cannot be edited in the current state")
	// ErrAbandoned is returned to a submitter whose request was superseded by
	// reset or back before it completed. Its result is discarded.
	ErrAbandoned = errors.New("submission abandoned")
)

// Predictor is the slice of the prediction client the controller needs.
type Predictor interface {
	Predict(ctx context.Context, req encoder.Request) (*predictor.PredictionResult, error)
}

// Transition describes one phase change.
type Transition struct {
	From       Phase                       `json:"from"`
	To         Phase                       `json:"to"`
	At         time.Time                   `json:"at"`
	Generation uint64                      `json:"generation"`
	Request    *encoder.Request            `json:"-"`
	Result     *predictor.PredictionResult `json:"result,omitempty"`
	Error      string                      `json:"error,omitempty"`
	Kind       ErrorKind                   `json:"error_kind,omitempty"`
}

// Snapshot is a consistent copy of controller state.
type Snapshot struct {
	Phase         Phase                       `json:"phase"`
	Generation    uint64                      `json:"generation"`
	Record        intake.Record               `json:"record"`
	Selected      []string                    `json:"selected_symptoms"`
	SelectedCount int                         `json:"selected_count"`
	Result        *predictor.PredictionResult `json:"result,omitempty"`
	Error         string                      `json:"error,omitempty"`
	ErrorKind     ErrorKind                   `json:"error_kind,omitempty"`
	UpdatedAt     time.Time                   `json:"updated_at"`
}

// Outcome is delivered once by Start when the request finishes.
type Outcome struct {
	Result *predictor.PredictionResult
	Err    error
}

// Controller owns one intake record and its submission state. Methods are
// safe for concurrent use. Listeners run after the lock is released, one
// transition at a time and in the order the transitions happened; a listener
// may read Snapshot but must not change the controller.
type Controller struct {
	mu     sync.Mutex
	schema *intake.Schema
	form   *intake.Form
	svc    Predictor
	log    *logrus.Logger
	id     string
	now    func() time.Time

	phase     Phase
	gen       uint64
	result    *predictor.PredictionResult
	err       error
	kind      ErrorKind
	updatedAt time.Time

	listeners  []listener
	nextListen int

	// seq numbers transitions under mu; delivered is the last one whose
	// listeners have returned.
	seq       uint64
	deliverMu sync.Mutex
	delivered uint64
	turn      *sync.Cond
}

type listener struct {
	id int
	fn func(Transition)
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger.
func WithLogger(logger *logrus.Logger) Option {
	return func(c *Controller) { c.log = logger }
}

// WithID tags log lines with a session identifier.
func WithID(id string) Option {
	return func(c *Controller) { c.id = id }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// New creates a controller in Idle with a default record.
func New(schema *intake.Schema, svc Predictor, opts ...Option) *Controller {
	c := &Controller{
		schema: schema,
		form:   intake.NewForm(schema),
		svc:    svc,
		log:    logrus.StandardLogger(),
		now:    time.Now,
		phase:  Idle,
	}
	c.turn = sync.NewCond(&c.deliverMu)
	for _, opt := range opts {
		opt(c)
	}
	c.updatedAt = c.now()
	return c
}

// ID returns the identifier given with WithID.
func (c *Controller) ID() string {
	return c.id
}

// Subscribe registers fn for every transition. The returned func removes it.
func (c *Controller) Subscribe(fn func(Transition)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextListen++
	id := c.nextListen
	c.listeners = append(c.listeners, listener{id: id, fn: fn})
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, l := range c.listeners {
			if l.id == id {
				c.listeners = append(c.listeners[:i:i], c.listeners[i+1:]...)
				return
			}
		}
	}
}

// Snapshot returns the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	s := Snapshot{
		Phase:         c.phase,
		Generation:    c.gen,
		Record:        c.form.Snapshot(),
		Selected:      c.form.Selected(),
		SelectedCount: c.form.SelectedCount(),
		Result:        c.result,
		ErrorKind:     c.kind,
		UpdatedAt:     c.updatedAt,
	}
	if c.err != nil {
		s.Error = c.err.Error()
	}
	return s
}

// SetDemographic edits one attribute. Allowed in Idle and Failed.
func (c *Controller) SetDemographic(key, value string) error {
	return c.edit(func(f *intake.Form) error { return f.SetDemographic(key, value) })
}

// SetSymptom sets one symptom flag. Allowed in Idle and Failed.
func (c *Controller) SetSymptom(key string, value bool) error {
	return c.edit(func(f *intake.Form) error { return f.SetSymptom(key, value) })
}

// Toggle flips one symptom flag and returns its new value.
func (c *Controller) Toggle(key string) (bool, error) {
	var v bool
	err := c.edit(func(f *intake.Form) error {
		var err error
		v, err = f.Toggle(key)
		return err
	})
	return v, err
}

func (c *Controller) edit(fn func(f *intake.Form) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != Idle && c.phase != Failed {
		return ErrFormLocked
	}
	if err := fn(c.form); err != nil {
		return err
	}
	c.updatedAt = c.now()
	return nil
}

// Submit validates, encodes and sends the current record, blocking until
// the service answers. Validation and encoding failures leave the phase
// unchanged and never reach the network.
func (c *Controller) Submit(ctx context.Context) (*predictor.PredictionResult, error) {
	req, gen, err := c.begin()
	if err != nil {
		return nil, err
	}
	result, err := c.svc.Predict(ctx, req)
	return c.complete(gen, req, result, err)
}

// Start is Submit without blocking. Errors that prevent the transition into
// Pending are returned directly; the service outcome arrives on the channel.
func (c *Controller) Start(ctx context.Context) (<-chan Outcome, error) {
	req, gen, err := c.begin()
	if err != nil {
		return nil, err
	}
	done := make(chan Outcome, 1)
	go func() {
		defer close(done)
		result, err := c.svc.Predict(ctx, req)
		result, err = c.complete(gen, req, result, err)
		done <- Outcome{Result: result, Err: err}
	}()
	return done, nil
}

func (c *Controller) begin() (encoder.Request, uint64, error) {
	c.mu.Lock()

	switch c.phase {
	case Pending:
		c.mu.Unlock()
		return encoder.Request{}, 0, ErrSubmissionInFlight
	case Succeeded:
		c.mu.Unlock()
		return encoder.Request{}, 0, ErrInvalidTransition
	}

	record := c.form.Snapshot()
	if err := c.schema.Validate(record); err != nil {
		c.mu.Unlock()
		c.logger().WithError(err).Debug("Submission rejected by validation")
		return encoder.Request{}, 0, err
	}
	req, err := encoder.Encode(c.schema.Taxonomy(), record)
	if err != nil {
		c.mu.Unlock()
		c.logger().WithError(err).Error("Validated record failed to encode")
		return encoder.Request{}, 0, err
	}

	c.gen++
	c.result, c.err, c.kind = nil, nil, KindNone
	t := c.moveLocked(Pending)
	t.Request = &req
	gen := c.gen
	c.publishLocked(t)
	return req, gen, nil
}

func (c *Controller) complete(gen uint64, req encoder.Request, result *predictor.PredictionResult, callErr error) (*predictor.PredictionResult, error) {
	c.mu.Lock()

	if c.gen != gen || c.phase != Pending {
		c.mu.Unlock()
		c.logger().WithField("generation", gen).Debug("Discarding completion of abandoned submission")
		return nil, ErrAbandoned
	}

	if callErr == nil && result == nil {
		callErr = predictor.ErrMalformedResponse
	}

	var t Transition
	if callErr != nil {
		c.err = callErr
		c.kind = KindService
		t = c.moveLocked(Failed)
		t.Error = callErr.Error()
		t.Kind = KindService
	} else {
		c.result = result
		t = c.moveLocked(Succeeded)
		t.Result = result
	}
	t.Request = &req
	c.publishLocked(t)
	if callErr != nil {
		return nil, callErr
	}
	return result, nil
}

// Reset returns to Idle with a default record from any phase. A pending
// request is abandoned; its completion changes nothing.
func (c *Controller) Reset() {
	c.mu.Lock()
	c.gen++
	c.form.Reset()
	c.result, c.err, c.kind = nil, nil, KindNone
	if c.phase == Idle {
		c.updatedAt = c.now()
		c.mu.Unlock()
		return
	}
	t := c.moveLocked(Idle)
	c.publishLocked(t)
}

// Back leaves a result or error screen for a fresh default record.
func (c *Controller) Back() error {
	c.mu.Lock()
	if c.phase != Succeeded && c.phase != Failed {
		c.mu.Unlock()
		return ErrInvalidTransition
	}
	c.form.Reset()
	c.result, c.err, c.kind = nil, nil, KindNone
	t := c.moveLocked(Idle)
	c.publishLocked(t)
	return nil
}

// Dismiss clears a service error and keeps the record for another attempt.
func (c *Controller) Dismiss() error {
	c.mu.Lock()
	if c.phase != Failed {
		c.mu.Unlock()
		return ErrInvalidTransition
	}
	c.err, c.kind = nil, KindNone
	t := c.moveLocked(Idle)
	c.publishLocked(t)
	return nil
}

func (c *Controller) moveLocked(to Phase) Transition {
	t := Transition{From: c.phase, To: to, At: c.now(), Generation: c.gen}
	c.phase = to
	c.updatedAt = t.At

	fields := logrus.Fields{
		"generation": t.Generation,
		"from_state": string(t.From),
		"to_state":   string(t.To),
	}
	if to == Succeeded && c.result != nil {
		fields["predicted"] = c.result.PredictedDisease
	}
	entry := c.logger().WithFields(fields)
	if to == Failed {
		entry.WithError(c.err).Warn("Prediction request failed")
	} else {
		entry.Info("Lifecycle transition")
	}
	return t
}

func (c *Controller) listenersLocked() []func(Transition) {
	out := make([]func(Transition), len(c.listeners))
	for i, l := range c.listeners {
		out[i] = l.fn
	}
	return out
}

func (c *Controller) logger() *logrus.Entry {
	return c.log.WithField("session_id", c.id)
}

// publishLocked releases mu and hands t to the listeners once every earlier
// transition has been delivered.
func (c *Controller) publishLocked(t Transition) {
	c.seq++
	seq := c.seq
	listeners := c.listenersLocked()
	c.mu.Unlock()

	c.deliverMu.Lock()
	for c.delivered != seq-1 {
		c.turn.Wait()
	}
	c.deliverMu.Unlock()

	defer func() {
		c.deliverMu.Lock()
		c.delivered = seq
		c.turn.Broadcast()
		c.deliverMu.Unlock()
	}()
	for _, fn := range listeners {
		fn(t)
	}
}

// ErrorKind separates operator-fixable input problems from service failures.
type ErrorKind string

const (
	KindNone       ErrorKind = ""
	KindValidation ErrorKind = "validation"
	KindEncoding   ErrorKind = "encoding"
	KindService    ErrorKind = "service"
	KindConflict   ErrorKind = "conflict"
)

// Classify maps an error returned by the controller to its kind.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	var verrs domain.ValidationErrors
	var verr *domain.ValidationError
	var mismatch *encoder.MismatchError
	switch {
	case errors.As(err, &verrs), errors.As(err, &verr):
		return KindValidation
	case errors.As(err, &mismatch):
		return KindEncoding
	case errors.Is(err, ErrSubmissionInFlight), errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrFormLocked), errors.Is(err, ErrAbandoned):
		return KindConflict
	default:
		return KindService
	}
}

// Code maps an error to the API error code surfaced to clients.
func Code(err error) string {
	switch Classify(err) {
	case KindValidation:
		return domain.ErrValidation
	case KindEncoding:
		return domain.ErrEncoding
	case KindConflict:
		if errors.Is(err, ErrSubmissionInFlight) {
			return domain.ErrSubmissionInFlight
		}
		return domain.ErrInvalidTransition
	case KindService:
		return domain.ErrService
	}
	return domain.ErrInternalServer
}
