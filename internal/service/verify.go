package service

import (
	"context"
	"errors"

	"github.com/and161185/charforge/internal/cache"
	"github.com/and161185/charforge/internal/errs"
	"github.com/and161185/charforge/internal/metrics"
	"github.com/and161185/charforge/internal/model"
	"github.com/and161185/charforge/internal/payment"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
)

// PaymentService is the trusted verification function. It alone may treat a
// payment as approved.
type PaymentService interface {
	VerifyPayment(ctx context.Context, userID uuid.UUID, redirectURL string) (model.VerifyOutcome, error)
}

// OutcomeMemo remembers verified references so duplicate calls skip the ledger.
type OutcomeMemo interface {
	GetOutcome(ctx context.Context, ref string) (*cache.Outcome, bool, error)
	SetOutcome(ctx context.Context, ref string, o cache.Outcome) error
}

type PaymentServiceImpl struct {
	usage   UsageService
	memo    OutcomeMemo
	log     *zap.Logger
	metrics *metrics.Metrics
}

// NewPaymentService constructs the verification function. memo and m may be nil.
func NewPaymentService(usage UsageService, memo OutcomeMemo, log *zap.Logger, m *metrics.Metrics) *PaymentServiceImpl {
	if log == nil {
		log = zap.NewNop()
	}
	return &PaymentServiceImpl{usage: usage, memo: memo, log: log, metrics: m}
}

// VerifyPayment re-derives the callback from redirectURL and activates the
// subscription only when the provider approved it. Rejections are outcomes,
// not errors; storage is left untouched for them.
func (s *PaymentServiceImpl) VerifyPayment(ctx context.Context, userID uuid.UUID, redirectURL string) (model.VerifyOutcome, error) {
	if userID == uuid.Nil {
		return model.VerifyOutcome{}, errs.ErrUnauthorized
	}

	cb, err := payment.ParseRedirect(redirectURL)
	if err != nil {
		return s.reject(userID, "", payment.ReasonInvalidRedirect), nil
	}
	if !payment.Approved(cb) {
		return s.reject(userID, cb.Reference, payment.ReasonNotApproved), nil
	}

	if out, ok := s.replay(ctx, userID, cb.Reference); ok {
		return out, nil
	}

	rec, applied, err := s.usage.ActivateSubscription(ctx, userID, cb.Reference)
	if errors.Is(err, errs.ErrAlreadyExists) {
		return s.reject(userID, cb.Reference, payment.ReasonReferenceInUse), nil
	}
	if err != nil {
		s.metrics.Verification(metrics.OutcomeError)
		s.log.Error("activate subscription",
			zap.String("user_id", userID.String()),
			zap.String("reference", cb.Reference),
			zap.Error(err),
		)
		return model.VerifyOutcome{}, err
	}

	if s.memo != nil {
		if err := s.memo.SetOutcome(ctx, cb.Reference, cache.Outcome{UserID: userID, Verified: true}); err != nil {
			s.metrics.CacheError("set_outcome")
			s.log.Warn("verification memo bypassed", zap.String("reference", cb.Reference), zap.Error(err))
		}
	}
	if applied {
		s.metrics.Verification(metrics.OutcomeVerified)
	} else {
		s.metrics.Verification(metrics.OutcomeReplayed)
	}
	return model.VerifyOutcome{Verified: true, Reference: cb.Reference, Record: rec}, nil
}

// replay answers from the memo. A memo entry owned by someone else is left to
// the ledger, which rejects it authoritatively.
func (s *PaymentServiceImpl) replay(ctx context.Context, userID uuid.UUID, ref string) (model.VerifyOutcome, bool) {
	if s.memo == nil {
		return model.VerifyOutcome{}, false
	}
	o, ok, err := s.memo.GetOutcome(ctx, ref)
	if err != nil {
		s.metrics.CacheError("get_outcome")
		s.log.Warn("verification memo bypassed", zap.String("reference", ref), zap.Error(err))
		return model.VerifyOutcome{}, false
	}
	if !ok || !o.Verified || o.UserID != userID {
		return model.VerifyOutcome{}, false
	}
	rec, err := s.usage.GetUsage(ctx, userID)
	if err != nil {
		return model.VerifyOutcome{}, false
	}
	s.metrics.Verification(metrics.OutcomeReplayed)
	return model.VerifyOutcome{Verified: true, Reference: ref, Record: rec}, true
}

func (s *PaymentServiceImpl) reject(userID uuid.UUID, ref, reason string) model.VerifyOutcome {
	s.metrics.Verification(metrics.OutcomeRejected)
	s.log.Info("payment rejected",
		zap.String("user_id", userID.String()),
		zap.String("reference", ref),
		zap.String("reason", reason),
	)
	return model.VerifyOutcome{Reason: reason, Reference: ref}
}
