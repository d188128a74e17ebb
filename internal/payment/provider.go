package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/and161185/charforge/internal/errs"
	"github.com/and161185/charforge/internal/httpjson"
	"github.com/and161185/charforge/internal/model"
)

// Provider starts hosted checkouts at the payment-initiation endpoint.
type Provider struct {
	baseURL string
	http    *http.Client
}

// NewProvider returns a Provider for baseURL. A nil client gets a 30s timeout.
func NewProvider(baseURL string, c *http.Client) *Provider {
	if c == nil {
		c = &http.Client{Timeout: 30 * time.Second}
	}
	return &Provider{baseURL: strings.TrimRight(baseURL, "/"), http: c}
}

type createPaymentRequest struct {
	Amount    int64  `json:"amount"`
	ReturnURL string `json:"return_url"`
}

type createPaymentResponse struct {
	PaymentLink string `json:"payment_link"`
	Reference   string `json:"reference"`
}

// CreatePayment opens a checkout for amount (minor units) that returns the
// buyer to returnURL.
func (p *Provider) CreatePayment(ctx context.Context, amount int64, returnURL string) (model.PaymentSession, error) {
	const op = "payment.CreatePayment"
	if amount <= 0 || returnURL == "" {
		return model.PaymentSession{}, fmt.Errorf("%s: %w: amount and return url are required", op, errs.ErrInvalidArgument)
	}
	var out createPaymentResponse
	err := httpjson.Post(ctx, p.http, p.baseURL+"/create-payment", createPaymentRequest{Amount: amount, ReturnURL: returnURL}, &out)
	if err != nil {
		return model.PaymentSession{}, fmt.Errorf("%s: %w", op, err)
	}
	if out.PaymentLink == "" {
		return model.PaymentSession{}, fmt.Errorf("%s: %w", op, errors.New("response has no payment link"))
	}
	return model.PaymentSession{PaymentURL: out.PaymentLink, Reference: out.Reference}, nil
}
