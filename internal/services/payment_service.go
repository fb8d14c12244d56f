// internal/services/payment_service.go
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/checkout/session"
	"github.com/stripe/stripe-go/v74/webhook"

	"github.com/printshop/storefront-backend/internal/config"
	"github.com/printshop/storefront-backend/internal/metrics"
	"github.com/printshop/storefront-backend/internal/models"
	"github.com/printshop/storefront-backend/internal/utils"
)

const (
	EventCheckoutSessionCompleted = "checkout.session.completed"

	// Session metadata key carrying the cart; the webhook reads it back.
	lineItemsMetadataKey = "line_items"
	// Stripe caps metadata values at 500 characters.
	maxMetadataValueLength = 500
)

var (
	ErrAuthenticity      = errors.New("webhook signature verification failed")
	ErrUnhandledEvent    = errors.New("unhandled webhook event")
	ErrCartTooLarge      = errors.New("cart has too many distinct lines")
	ErrPaymentIncomplete = errors.New("checkout session is not paid")
)

type PaymentService struct {
	config         config.PaymentConfig
	productService *ProductService
	newSession     func(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

type CheckoutRequest struct {
	Items []CheckoutItem `json:"items" validate:"required,min=1,dive"`
	Email string         `json:"email,omitempty" validate:"omitempty,email"`
}

type CheckoutItem struct {
	ProductID   string             `json:"product_id" validate:"required"`
	Size        string             `json:"size" validate:"required"`
	Quantity    int                `json:"quantity" validate:"required,min=1,max=20"`
	FrameOption models.FrameOption `json:"frame_option,omitempty" validate:"frame_option"`
	FrameColor  string             `json:"frame_color,omitempty" validate:"max=20"`
}

type CheckoutResponse struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
}

// metadataLineItem is the compact cart line stored on the checkout session.
type metadataLineItem struct {
	ProductID string `json:"p"`
	Size      string `json:"s"`
	Quantity  int    `json:"q"`
	UnitPrice int64  `json:"u"`
	Frame     string `json:"f,omitempty"`
	Color     string `json:"c,omitempty"`
}

// The subset of shipping_details this service reads.
type sessionShipping struct {
	ShippingDetails *struct {
		Name    string          `json:"name"`
		Address *stripe.Address `json:"address"`
	} `json:"shipping_details"`
}

func NewPaymentService(cfg config.PaymentConfig, productService *ProductService) *PaymentService {
	stripe.Key = cfg.StripeSecretKey

	return &PaymentService{
		config:         cfg,
		productService: productService,
		newSession:     session.New,
	}
}

// ParseWebhook verifies a webhook delivery and decodes it into a purchase.
// ErrAuthenticity means the delivery must be rejected; ErrUnhandledEvent and
// ErrPaymentIncomplete mean it can be acknowledged and ignored.
func (s *PaymentService) ParseWebhook(payload []byte, signature string) (*PurchaseEvent, error) {
	event, err := s.VerifyWebhook(payload, signature)
	if err != nil {
		metrics.WebhookEvents.WithLabelValues("unknown", "rejected").Inc()
		return nil, err
	}

	purchase, err := s.PurchaseFromEvent(event)
	switch {
	case err == nil:
		metrics.WebhookEvents.WithLabelValues(string(event.Type), "accepted").Inc()
	case errors.Is(err, ErrUnhandledEvent), errors.Is(err, ErrPaymentIncomplete):
		metrics.WebhookEvents.WithLabelValues(string(event.Type), "ignored").Inc()
	default:
		metrics.WebhookEvents.WithLabelValues(string(event.Type), "invalid").Inc()
	}
	return purchase, err
}

// VerifyWebhook checks the Stripe-Signature header against the webhook
// secret. Nothing else happens for a payload that fails verification.
func (s *PaymentService) VerifyWebhook(payload []byte, signature string) (stripe.Event, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, s.config.StripeWebhookSecret, webhook.ConstructEventOptions{
		Tolerance:                s.config.WebhookTolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return stripe.Event{}, fmt.Errorf("%w: %v", ErrAuthenticity, err)
	}
	return event, nil
}

// PurchaseFromEvent decodes a completed checkout session into a purchase.
// Other event types return ErrUnhandledEvent.
func (s *PaymentService) PurchaseFromEvent(event stripe.Event) (*PurchaseEvent, error) {
	if string(event.Type) != EventCheckoutSessionCompleted {
		return nil, fmt.Errorf("%w: %s", ErrUnhandledEvent, event.Type)
	}
	if event.Data == nil {
		return nil, fmt.Errorf("%w: event %s has no data", ErrInvalidEvent, event.ID)
	}

	var cs stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &cs); err != nil {
		return nil, fmt.Errorf("%w: failed to decode checkout session: %v", ErrInvalidEvent, err)
	}

	switch string(cs.PaymentStatus) {
	case "paid", "no_payment_required":
	default:
		return nil, fmt.Errorf("%w: session %s status %s", ErrPaymentIncomplete, cs.ID, cs.PaymentStatus)
	}

	items, err := decodeLineItemsMetadata(cs.Metadata[lineItemsMetadataKey])
	if err != nil {
		return nil, fmt.Errorf("%w: session %s: %v", ErrInvalidEvent, cs.ID, err)
	}

	purchase := &PurchaseEvent{
		PaymentID:        cs.ID,
		LineItems:        items,
		AmountTotalMinor: cs.AmountTotal,
		Currency:         string(cs.Currency),
	}
	if cs.TotalDetails != nil {
		purchase.DiscountMinor = cs.TotalDetails.AmountDiscount
	}
	if cs.CustomerDetails != nil {
		purchase.BuyerEmail = cs.CustomerDetails.Email
		purchase.BuyerName = cs.CustomerDetails.Name
		purchase.ShippingAddress = toAddress(cs.CustomerDetails.Address)
	}
	if purchase.BuyerEmail == "" {
		purchase.BuyerEmail = cs.CustomerEmail
	}

	var shipping sessionShipping
	if err := json.Unmarshal(event.Data.Raw, &shipping); err == nil && shipping.ShippingDetails != nil {
		if shipping.ShippingDetails.Address != nil {
			purchase.ShippingAddress = toAddress(shipping.ShippingDetails.Address)
		}
		if purchase.BuyerName == "" {
			purchase.BuyerName = shipping.ShippingDetails.Name
		}
	}

	if err := utils.ValidateStruct(purchase); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	return purchase, nil
}

// CreateCheckoutSession prices the cart against live stock and opens a
// Stripe checkout session carrying the cart in its metadata.
func (s *PaymentService) CreateCheckoutSession(ctx context.Context, req *CheckoutRequest) (*CheckoutResponse, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	priced, err := s.productService.ValidateCart(ctx, req.Items)
	if err != nil {
		return nil, err
	}

	metadata, err := encodeLineItemsMetadata(priced)
	if err != nil {
		return nil, err
	}

	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(s.config.SuccessURL + "?session_id={CHECKOUT_SESSION_ID}"),
		CancelURL:  stripe.String(s.config.CancelURL),
	}
	params.Metadata = map[string]string{lineItemsMetadataKey: metadata}
	if len(s.config.ShippingCountries) > 0 {
		params.ShippingAddressCollection = &stripe.CheckoutSessionShippingAddressCollectionParams{
			AllowedCountries: stripe.StringSlice(s.config.ShippingCountries),
		}
	}
	if req.Email != "" {
		params.CustomerEmail = stripe.String(req.Email)
	}
	for _, item := range priced {
		params.LineItems = append(params.LineItems, &stripe.CheckoutSessionLineItemParams{
			Quantity: stripe.Int64(int64(item.Quantity)),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(s.config.Currency),
				UnitAmount: stripe.Int64(item.UnitPriceMinor),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(fmt.Sprintf("%s (%s)", item.Title, item.Size)),
				},
			},
		})
	}
	params.Context = ctx

	cs, err := s.newSession(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}

	return &CheckoutResponse{
		SessionID: cs.ID,
		URL:       cs.URL,
	}, nil
}

func encodeLineItemsMetadata(items []PricedItem) (string, error) {
	lines := make([]metadataLineItem, 0, len(items))
	for _, item := range items {
		line := metadataLineItem{
			ProductID: item.ProductID,
			Size:      item.Size,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPriceMinor,
			Color:     item.FrameColor,
		}
		if item.FrameOption == models.FrameOptionFramed {
			line.Frame = string(models.FrameOptionFramed)
		}
		lines = append(lines, line)
	}

	data, err := json.Marshal(lines)
	if err != nil {
		return "", fmt.Errorf("failed to encode cart: %w", err)
	}
	if len(data) > maxMetadataValueLength {
		return "", ErrCartTooLarge
	}
	return string(data), nil
}

func decodeLineItemsMetadata(raw string) ([]PurchaseLineItem, error) {
	if raw == "" {
		return nil, fmt.Errorf("missing %s metadata", lineItemsMetadataKey)
	}

	var lines []metadataLineItem
	if err := json.Unmarshal([]byte(raw), &lines); err != nil {
		return nil, fmt.Errorf("malformed %s metadata: %v", lineItemsMetadataKey, err)
	}

	items := make([]PurchaseLineItem, 0, len(lines))
	for _, line := range lines {
		frame := models.FrameOptionNone
		if line.Frame != "" {
			frame = models.FrameOption(line.Frame)
		}
		items = append(items, PurchaseLineItem{
			ProductID:      line.ProductID,
			Size:           line.Size,
			Quantity:       line.Quantity,
			UnitPriceMinor: line.UnitPrice,
			FrameOption:    frame,
			FrameColor:     line.Color,
		})
	}
	return items, nil
}

func toAddress(a *stripe.Address) models.Address {
	if a == nil {
		return models.Address{}
	}
	return models.Address{
		Line1:      a.Line1,
		Line2:      a.Line2,
		City:       a.City,
		State:      a.State,
		PostalCode: a.PostalCode,
		Country:    a.Country,
	}
}
