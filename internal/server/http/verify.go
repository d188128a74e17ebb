package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/and161185/charforge/internal/convert"
	"github.com/and161185/charforge/internal/errs"
	"github.com/and161185/charforge/internal/server/authn"
	"github.com/and161185/charforge/internal/service"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// VerifyRequest is the body of POST /v1/functions/verify-payment.
type VerifyRequest struct {
	PaymentURL string `json:"payment_url" validate:"required,max=4096"`
}

type verifyHandler struct {
	payments service.PaymentService
	log      *zap.Logger
	validate *validator.Validate
}

func (h *verifyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "http.verifyPayment"
	log := h.log.With(zap.String("op", op), zap.String("request_id", middleware.GetReqID(r.Context())))

	userID, ok := authn.UserIDFromCtx(r.Context())
	if !ok {
		renderError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req VerifyRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 16<<10)).Decode(&req); err != nil {
		log.Info("failed to decode request", zap.Error(err))
		renderError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		renderError(w, r, http.StatusUnprocessableEntity, "payment_url is required")
		return
	}

	out, err := h.payments.VerifyPayment(r.Context(), userID, req.PaymentURL)
	switch {
	case errors.Is(err, errs.ErrUnauthorized):
		renderError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	case err != nil:
		log.Error("verify payment", zap.Error(err))
		renderError(w, r, http.StatusInternalServerError, "verification failed")
		return
	}
	render.JSON(w, r, convert.ToWireVerify(out))
}
