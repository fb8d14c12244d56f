// internal/handlers/payment.go
package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/printshop/storefront-backend/internal/i18n"
	"github.com/printshop/storefront-backend/internal/services"
	"github.com/printshop/storefront-backend/internal/utils"
)

// Stripe events are well under this; anything larger is not from Stripe.
const maxWebhookBodyBytes = 64 << 10

type PaymentHandler struct {
	paymentService     *services.PaymentService
	fulfillmentService *services.FulfillmentService
}

func NewPaymentHandler(paymentService *services.PaymentService, fulfillmentService *services.FulfillmentService) *PaymentHandler {
	return &PaymentHandler{
		paymentService:     paymentService,
		fulfillmentService: fulfillmentService,
	}
}

// POST /webhooks/stripe
func (h *PaymentHandler) StripeWebhook(c *gin.Context) {
	lang := utils.GetLangFromContext(c)

	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBodyBytes))
	if err != nil {
		utils.BadRequestResponse(c, "", nil)
		return
	}

	purchase, err := h.paymentService.ParseWebhook(payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		switch {
		case errors.Is(err, services.ErrUnhandledEvent), errors.Is(err, services.ErrPaymentIncomplete):
			logrus.WithError(err).Debug("Webhook event ignored")
			utils.SuccessResponse(c, gin.H{
				"received": true,
				"message":  i18n.T(lang, i18n.KeyWebhookIgnored),
			})
		case errors.Is(err, services.ErrAuthenticity):
			logrus.WithError(err).WithField("ip", c.ClientIP()).Warn("Rejected webhook delivery")
			utils.ErrorResponse(c, http.StatusBadRequest, "INVALID_SIGNATURE", i18n.T(lang, i18n.KeyWebhookInvalid), nil)
		default:
			// A redelivery carries the same payload, so retrying cannot help.
			logrus.WithError(err).Error("Malformed checkout session event")
			utils.ErrorResponse(c, statusFor(err), "INVALID_EVENT", err.Error(), nil)
		}
		return
	}

	// A client hanging up must not abandon a purchase half applied.
	order, err := h.fulfillmentService.ApplyPurchase(context.WithoutCancel(c.Request.Context()), purchase)
	if err != nil {
		// Non-2xx makes Stripe redeliver; ApplyPurchase is safe to repeat.
		utils.ErrorResponse(c, statusFor(err), "FULFILLMENT_FAILED", i18n.T(lang, i18n.KeyPaymentFailed), nil)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"received": true,
		"order_id": order.ID,
		"message":  i18n.T(lang, i18n.KeyWebhookProcessed),
	})
}

// POST /checkout
func (h *PaymentHandler) CreateCheckoutSession(c *gin.Context) {
	var req services.CheckoutRequest
	if !bindJSON(c, &req) {
		return
	}

	resp, err := h.paymentService.CreateCheckoutSession(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.CreatedResponse(c, resp)
}
