package payment

import (
	"context"
	"errors"
	"sync"

	"github.com/and161185/charforge/internal/model"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// State is the progress of one redirect through verification.
type State int

const (
	StateIdle State = iota
	StateVerifying
	StateVerified
	StateRejected
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateVerifying:
		return "verifying"
	case StateVerified:
		return "verified"
	case StateRejected:
		return "rejected"
	case StateErrored:
		return "errored"
	default:
		return "idle"
	}
}

// Terminal reports whether no further transition happens from s.
func (s State) Terminal() bool { return s >= StateVerified }

// Result is the outcome of Verify.
type Result struct {
	State     State
	Reason    string // rejection reason, empty otherwise
	Reference string
	CleanURL  string // the redirect without its query, set when verified
	Err       error  // set when errored
}

// VerifyBackend is the trusted verification function.
type VerifyBackend interface {
	VerifyPayment(ctx context.Context, id uuid.UUID, redirectURL string) (model.VerifyOutcome, error)
}

// UsageReader refreshes entitlement state after a verified payment.
type UsageReader interface {
	GetUsage(ctx context.Context, id uuid.UUID) (model.UsageRecord, error)
}

// PendingClearer forgets the payment reference stored when checkout started.
type PendingClearer interface {
	ClearPending(ctx context.Context, id uuid.UUID) error
}

// Verifier turns a provider redirect into a subscription activation at most
// once. Concurrent calls for the same redirect share one backend call and a
// redirect that reached a verdict is answered from memory.
type Verifier struct {
	backend VerifyBackend
	usage   UsageReader
	pending PendingClearer
	log     *zap.Logger

	group singleflight.Group

	mu      sync.Mutex
	states  map[string]State
	results map[string]Result
}

// NewVerifier builds a Verifier. usage and pending may be nil.
func NewVerifier(b VerifyBackend, usage UsageReader, pending PendingClearer, log *zap.Logger) *Verifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &Verifier{
		backend: b,
		usage:   usage,
		pending: pending,
		log:     log,
		states:  map[string]State{},
		results: map[string]Result{},
	}
}

func flightKey(id uuid.UUID, redirectURL string) string { return id.String() + "|" + redirectURL }

// State returns the current state of a redirect for id.
func (v *Verifier) State(id uuid.UUID, redirectURL string) State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.states[flightKey(id, redirectURL)]
}

func (v *Verifier) set(key string, s State) {
	v.mu.Lock()
	v.states[key] = s
	v.mu.Unlock()
}

func (v *Verifier) finish(key string, r Result) Result {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.states[key] = r.State
	// Errored is left retryable by an explicit new call.
	if r.State != StateErrored {
		v.results[key] = r
	}
	return r
}

// Verify runs the redirect through the state machine. Redirects that are
// locally known to have failed never reach the backend, and only the
// backend's confirmation yields StateVerified.
func (v *Verifier) Verify(ctx context.Context, id uuid.UUID, redirectURL string) Result {
	key := flightKey(id, redirectURL)

	v.mu.Lock()
	if r, ok := v.results[key]; ok {
		v.mu.Unlock()
		return r
	}
	v.mu.Unlock()

	cb, err := ParseRedirect(redirectURL)
	if err != nil {
		return v.finish(key, Result{State: StateRejected, Reason: ReasonInvalidRedirect})
	}
	if !Approved(cb) {
		return v.finish(key, Result{State: StateRejected, Reason: ReasonNotApproved, Reference: cb.Reference})
	}
	if id == uuid.Nil {
		return v.finish(key, Result{State: StateRejected, Reason: ReasonLoginRequired, Reference: cb.Reference})
	}

	res, _, _ := v.group.Do(key, func() (any, error) {
		v.set(key, StateVerifying)
		return v.finish(key, v.confirm(ctx, id, redirectURL, cb.Reference)), nil
	})
	return res.(Result)
}

func (v *Verifier) confirm(ctx context.Context, id uuid.UUID, redirectURL, ref string) Result {
	log := v.log.With(zap.String("user_id", id.String()), zap.String("reference", ref))

	out, err := v.backend.VerifyPayment(ctx, id, redirectURL)
	if err != nil {
		log.Warn("payment verification failed", zap.Error(err))
		return Result{State: StateErrored, Reference: ref, Err: err}
	}
	if !out.Verified {
		reason := out.Reason
		if reason == "" {
			reason = ReasonNotApproved
		}
		log.Info("payment rejected by backend", zap.String("reason", reason))
		return Result{State: StateRejected, Reason: reason, Reference: ref}
	}
	if out.Reference != "" {
		ref = out.Reference
	}

	if v.usage != nil {
		if _, err := v.usage.GetUsage(ctx, id); err != nil {
			log.Warn("refresh usage after payment", zap.Error(err))
		}
	}
	if v.pending != nil {
		if err := v.pending.ClearPending(ctx, id); err != nil && !errors.Is(err, context.Canceled) {
			log.Warn("clear pending payment", zap.Error(err))
		}
	}
	log.Info("payment verified")
	return Result{State: StateVerified, Reference: ref, CleanURL: StripQuery(redirectURL)}
}
