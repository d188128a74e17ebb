package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/and161185/charforge/internal/api"
	"github.com/and161185/charforge/internal/metrics"
	"github.com/and161185/charforge/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/time/rate"
)

type MockPayments struct {
	mock.Mock
}

func (m *MockPayments) VerifyPayment(ctx context.Context, userID uuid.UUID, url string) (model.VerifyOutcome, error) {
	args := m.Called(ctx, userID, url)
	return args.Get(0).(model.VerifyOutcome), args.Error(1)
}

var signKey = []byte("http-secret")

func tokenFor(t *testing.T, id uuid.UUID) string {
	t.Helper()
	now := time.Now()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   id.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
	}).SignedString(signKey)
	require.NoError(t, err)
	return s
}

func newRouter(t *testing.T, p *MockPayments, burst int) (http.Handler, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	metrics.New(reg).GenerationRecorded()
	return NewRouter(Deps{
		Payments:    p,
		SignKey:     signKey,
		Gatherer:    reg,
		Log:         zaptest.NewLogger(t),
		VerifyRate:  rate.Every(time.Hour),
		VerifyBurst: burst,
	}), reg
}

func verifyReq(t *testing.T, token, body string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/functions/verify-payment", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func TestHealthAndMetrics(t *testing.T) {
	t.Parallel()
	h, _ := newRouter(t, &MockPayments{}, 10)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "charforge_generations_recorded_total 1")
}

func TestHealth_NotReady(t *testing.T) {
	t.Parallel()
	h := NewRouter(Deps{
		Payments: &MockPayments{},
		SignKey:  signKey,
		Gatherer: prometheus.NewRegistry(),
		Ready:    func(context.Context) error { return errors.New("db down") },
	})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestVerifyPayment_HTTP(t *testing.T) {
	t.Parallel()
	uid := uuid.Must(uuid.NewV4())
	payURL := "https://app.example/?success=true&txn_response_code=APPROVED&id=r1"

	tests := []struct {
		name       string
		token      string
		body       string
		setup      func(*MockPayments)
		wantStatus int
		check      func(*testing.T, *httptest.ResponseRecorder)
	}{
		{
			name:       "no token",
			body:       `{"payment_url":"x"}`,
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "garbage token",
			token:      "nope",
			body:       `{"payment_url":"x"}`,
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "bad json",
			token:      tokenFor(t, uid),
			body:       `{`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "missing url",
			token:      tokenFor(t, uid),
			body:       `{}`,
			wantStatus: http.StatusUnprocessableEntity,
		},
		{
			name:  "verified",
			token: tokenFor(t, uid),
			body:  `{"payment_url":"` + payURL + `"}`,
			setup: func(p *MockPayments) {
				p.On("VerifyPayment", mock.Anything, uid, payURL).Return(model.VerifyOutcome{
					Verified: true, Reference: "r1",
					Record: model.UsageRecord{UserID: uid, SubscriptionActive: true},
				}, nil).Once()
			},
			wantStatus: http.StatusOK,
			check: func(t *testing.T, rr *httptest.ResponseRecorder) {
				var out api.VerifyPaymentResponse
				require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
				assert.True(t, out.Verified)
				assert.True(t, out.Usage.SubscriptionActive)
				assert.Equal(t, "r1", out.Reference)
			},
		},
		{
			name:  "service error",
			token: tokenFor(t, uid),
			body:  `{"payment_url":"` + payURL + `"}`,
			setup: func(p *MockPayments) {
				p.On("VerifyPayment", mock.Anything, uid, payURL).Return(model.VerifyOutcome{}, errors.New("db down")).Once()
			},
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			p := &MockPayments{}
			if tc.setup != nil {
				tc.setup(p)
			}
			h, _ := newRouter(t, p, 10)
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, verifyReq(t, tc.token, tc.body))

			assert.Equal(t, tc.wantStatus, rr.Code, rr.Body.String())
			if tc.check != nil {
				tc.check(t, rr)
			}
			p.AssertExpectations(t)
		})
	}
}

func TestVerifyPayment_RateLimited(t *testing.T) {
	t.Parallel()
	uid := uuid.Must(uuid.NewV4())
	p := &MockPayments{}
	p.On("VerifyPayment", mock.Anything, uid, "u").Return(model.VerifyOutcome{Reason: "not_approved"}, nil).Once()

	h, _ := newRouter(t, p, 1)
	tok := tokenFor(t, uid)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, verifyReq(t, tok, `{"payment_url":"u"}`))
	require.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, verifyReq(t, tok, `{"payment_url":"u"}`))
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	p.AssertExpectations(t)
}
