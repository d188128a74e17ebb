// Package entitlement decides whether an identity may start a generation.
package entitlement

import (
	"time"

	"github.com/and161185/charforge/internal/model"
	"github.com/gofrs/uuid/v5"
)

// Denial reasons.
const (
	ReasonTrialExhausted = "trial_exhausted"
	ReasonLoginRequired  = "login_required"
)

// Prompt is what the user should be asked to do after a denial.
type Prompt int

const (
	PromptNone Prompt = iota
	PromptLogin
	PromptSubscribe
)

func (p Prompt) String() string {
	switch p {
	case PromptLogin:
		return "login"
	case PromptSubscribe:
		return "subscribe"
	default:
		return "none"
	}
}

// Decision is the result of CanGenerate. Reason is empty when allowed.
type Decision struct {
	Allowed bool
	Reason  string
}

// Prompt maps the denial reason to a user prompt.
func (d Decision) Prompt() Prompt {
	switch {
	case d.Allowed:
		return PromptNone
	case d.Reason == ReasonLoginRequired:
		return PromptLogin
	default:
		return PromptSubscribe
	}
}

// Evaluator holds no state between calls; every attempt must be evaluated
// against freshly read usage.
type Evaluator struct {
	now            func() time.Time
	anonymousLimit int64
}

type Option func(*Evaluator)

func WithClock(now func() time.Time) Option { return func(e *Evaluator) { e.now = now } }

// WithAnonymousLimit caps anonymous generations on a device. Zero means unlimited.
func WithAnonymousLimit(n int64) Option {
	return func(e *Evaluator) {
		if n > 0 {
			e.anonymousLimit = n
		}
	}
}

func New(opts ...Option) *Evaluator {
	e := &Evaluator{now: time.Now}
	for _, o := range opts {
		o(e)
	}
	return e
}

// CanGenerate applies the decision table:
//
//	anonymous                       -> allowed (unless the anonymous limit is reached)
//	subscribed (expiry-checked)     -> allowed
//	trial unused                    -> allowed
//	otherwise                       -> denied, trial_exhausted
func (e *Evaluator) CanGenerate(id uuid.UUID, rec model.UsageRecord) Decision {
	if id == uuid.Nil {
		if e.anonymousLimit > 0 && rec.GenerationsCount >= e.anonymousLimit {
			return Decision{Reason: ReasonLoginRequired}
		}
		return Decision{Allowed: true}
	}
	if rec.SubscriptionEffective(e.now()) || !rec.FreeTrialUsed {
		return Decision{Allowed: true}
	}
	return Decision{Reason: ReasonTrialExhausted}
}
