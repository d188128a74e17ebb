// Package orchestrator sequences image and model generation under
// entitlement control.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/and161185/charforge/internal/entitlement"
	"github.com/and161185/charforge/internal/errs"
	"github.com/and161185/charforge/internal/model"
	"github.com/and161185/charforge/internal/usage"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
)

// State of the generation workflow.
type State int

const (
	StateIdle State = iota
	StateGeneratingImage
	StateImageReady
	StateGeneratingModel
	StateModelReady
)

func (s State) String() string {
	switch s {
	case StateGeneratingImage:
		return "generating_image"
	case StateImageReady:
		return "image_ready"
	case StateGeneratingModel:
		return "generating_model"
	case StateModelReady:
		return "model_ready"
	default:
		return "idle"
	}
}

// DeniedError is returned when entitlement refuses a generation. It is an
// expected outcome; the decision tells the caller which prompt to show.
type DeniedError struct {
	Decision entitlement.Decision
}

func (e *DeniedError) Error() string { return "generation denied: " + e.Decision.Reason }

// IsDenied unwraps a DeniedError.
func IsDenied(err error) (*DeniedError, bool) {
	var d *DeniedError
	ok := errors.As(err, &d)
	return d, ok
}

// Generator is the external generation service.
type Generator interface {
	GenerateImage(ctx context.Context, p model.ImageParams) (model.ImageResult, error)
	GenerateModel(ctx context.Context, imageURL string) (model.ModelResult, error)
}

// Gate decides whether a generation may start.
type Gate interface {
	CanGenerate(id uuid.UUID, rec model.UsageRecord) entitlement.Decision
}

// ParamStore remembers the last image parameters across runs.
type ParamStore interface {
	SetLastParams(ctx context.Context, id uuid.UUID, p model.ImageParams) error
	LastParams(ctx context.Context, id uuid.UUID) (model.ImageParams, error)
}

// Snapshot is a copy of the workflow state.
type Snapshot struct {
	State   State
	Params  *model.ImageParams
	Image   *model.ImageResult
	Model   *model.ModelResult
	LastErr error
	Seq     uint64
}

// Orchestrator is safe for concurrent use. Each request is tagged with a
// sequence number and only the newest request may change the state.
type Orchestrator struct {
	gen    Generator
	usage  usage.Store
	gate   Gate
	params ParamStore
	log    *zap.Logger

	mu      sync.Mutex
	state   State
	last    *model.ImageParams
	image   *model.ImageResult
	model   *model.ModelResult
	lastErr error
	seq     uint64
}

// New builds an Orchestrator. params may be nil.
func New(gen Generator, store usage.Store, gate Gate, params ParamStore, log *zap.Logger) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Orchestrator{gen: gen, usage: store, gate: gate, params: params, log: log}
}

// Snapshot returns the current state.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return Snapshot{State: o.state, Params: o.last, Image: o.image, Model: o.model, LastErr: o.lastErr, Seq: o.seq}
}

// readyState is the state to return to after a failure. Caller holds mu.
func (o *Orchestrator) readyState() State {
	switch {
	case o.model != nil:
		return StateModelReady
	case o.image != nil:
		return StateImageReady
	default:
		return StateIdle
	}
}

// begin starts a request. Caller holds mu.
func (o *Orchestrator) begin(s State) uint64 {
	o.seq++
	o.state = s
	o.lastErr = nil
	return o.seq
}

// abort ends request seq before generation. The prior ready state is
// restored unless a newer request has started.
func (o *Orchestrator) abort(seq uint64, err error) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if seq != o.seq {
		return errs.ErrSuperseded
	}
	o.state = o.readyState()
	o.lastErr = err
	return err
}

func (o *Orchestrator) current(seq uint64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return seq == o.seq
}

// RequestImage checks entitlement for id and generates an image. Usage is
// recorded only after a successful generation and a bookkeeping failure does
// not fail the request.
//
// The request is tagged before usage is read, so an attempt whose read
// predates a newer attempt is superseded and never records usage.
func (o *Orchestrator) RequestImage(ctx context.Context, id uuid.UUID, p model.ImageParams) (model.ImageResult, error) {
	o.mu.Lock()
	seq := o.begin(StateGeneratingImage)
	o.mu.Unlock()

	rec, err := o.usage.GetUsage(ctx, id)
	if err != nil {
		return model.ImageResult{}, o.abort(seq, fmt.Errorf("read usage: %w", err))
	}
	if d := o.gate.CanGenerate(id, rec); !d.Allowed {
		return model.ImageResult{}, o.abort(seq, &DeniedError{Decision: d})
	}
	if !o.current(seq) {
		return model.ImageResult{}, errs.ErrSuperseded
	}

	if o.params != nil {
		if err := o.params.SetLastParams(ctx, id, p); err != nil {
			o.log.Warn("remember image params", zap.Error(err))
		}
	}

	img, err := o.gen.GenerateImage(ctx, p)

	o.mu.Lock()
	if seq != o.seq {
		o.mu.Unlock()
		return model.ImageResult{}, errs.ErrSuperseded
	}
	if err != nil {
		o.state = o.readyState()
		o.lastErr = err
		o.mu.Unlock()
		return model.ImageResult{}, err
	}
	o.state = StateImageReady
	o.image = &img
	o.model = nil
	o.last = &p
	o.mu.Unlock()

	if _, err := o.usage.RecordGenerationUsed(ctx, id); err != nil {
		o.log.Warn("record generation", zap.String("user_id", id.String()), zap.Error(err))
	}
	return img, nil
}

// RequestModel builds a model from the current image. It does not re-check
// entitlement; the image generation was the gated step.
func (o *Orchestrator) RequestModel(ctx context.Context) (model.ModelResult, error) {
	o.mu.Lock()
	if o.image == nil {
		o.mu.Unlock()
		return model.ModelResult{}, errs.ErrNoImage
	}
	imageURL := o.image.ImageURL
	seq := o.begin(StateGeneratingModel)
	o.mu.Unlock()

	m, err := o.gen.GenerateModel(ctx, imageURL)

	o.mu.Lock()
	defer o.mu.Unlock()
	if seq != o.seq {
		return model.ModelResult{}, errs.ErrSuperseded
	}
	if err != nil {
		o.state = o.readyState()
		o.lastErr = err
		return model.ModelResult{}, err
	}
	o.state = StateModelReady
	o.model = &m
	return m, nil
}

// RegenerateImage repeats the last image request, subject to the same
// entitlement check.
func (o *Orchestrator) RegenerateImage(ctx context.Context, id uuid.UUID) (model.ImageResult, error) {
	o.mu.Lock()
	var p *model.ImageParams
	if o.last != nil {
		cp := *o.last
		p = &cp
	}
	o.mu.Unlock()

	if p == nil {
		if o.params == nil {
			return model.ImageResult{}, errs.ErrNoParams
		}
		stored, err := o.params.LastParams(ctx, id)
		if err != nil {
			return model.ImageResult{}, err
		}
		p = &stored
	}
	return o.RequestImage(ctx, id, *p)
}
