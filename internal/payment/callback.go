// Package payment handles payment provider redirects: parsing and approval of
// the callback, payment initiation, and the client-side verification flow.
package payment

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/and161185/charforge/internal/errs"
	"github.com/and161185/charforge/internal/model"
)

// Query parameters set by the provider on the return URL.
const (
	ParamSuccess      = "success"
	ParamResponseCode = "txn_response_code"
	ParamMessage      = "data.message"
	ParamReference    = "id"
)

// Provider sentinels for an approved transaction.
const (
	ApprovedCode    = "APPROVED"
	ApprovedMessage = "Approved"
)

// Verification rejection reasons shared by the server and the client.
const (
	ReasonInvalidRedirect = "invalid_redirect"
	ReasonNotApproved     = "not_approved"
	ReasonReferenceInUse  = "reference_in_use"
	ReasonLoginRequired   = "login_required"
)

// ParseRedirect extracts the callback fields from a redirect URL. A URL without
// the success parameter is not a payment redirect.
func ParseRedirect(raw string) (model.PaymentCallback, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return model.PaymentCallback{}, fmt.Errorf("%w: %v", errs.ErrInvalidRedirect, err)
	}
	q := u.Query()
	if !q.Has(ParamSuccess) {
		return model.PaymentCallback{}, errs.ErrInvalidRedirect
	}
	return model.PaymentCallback{
		Success:      q.Get(ParamSuccess) == "true",
		ResponseCode: q.Get(ParamResponseCode),
		Message:      q.Get(ParamMessage),
		Reference:    q.Get(ParamReference),
	}, nil
}

// Approved reports whether the callback describes an approved payment that can
// be correlated. A callback without a reference is never approved.
func Approved(cb model.PaymentCallback) bool {
	if !cb.Success || cb.Reference == "" {
		return false
	}
	return cb.ResponseCode == ApprovedCode || cb.Message == ApprovedMessage
}

// StripQuery returns raw without its query and fragment so a reload of the
// cleaned address cannot trigger verification again.
func StripQuery(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		if i := strings.IndexAny(raw, "?#"); i >= 0 {
			return raw[:i]
		}
		return raw
	}
	u.RawQuery = ""
	u.Fragment = ""
	u.RawFragment = ""
	return u.String()
}
