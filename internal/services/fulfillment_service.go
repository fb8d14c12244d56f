// internal/services/fulfillment_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/printshop/storefront-backend/internal/config"
	"github.com/printshop/storefront-backend/internal/metrics"
	"github.com/printshop/storefront-backend/internal/models"
	"github.com/printshop/storefront-backend/internal/store"
	"github.com/printshop/storefront-backend/internal/utils"
)

var (
	ErrInvalidEvent        = errors.New("invalid purchase event")
	ErrProductNotFound     = errors.New("product not found")
	ErrSizeNotFound        = errors.New("size not found")
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrTransactionConflict = errors.New("transaction conflict retries exhausted")
	ErrOrderIDCollision    = errors.New("derived order id already used by another payment")
	ErrReplayMismatch      = errors.New("issued units do not match replayed event")
)

// PurchaseEvent is a payment confirmation that already passed signature
// verification. Amounts are in minor units.
type PurchaseEvent struct {
	PaymentID        string             `json:"payment_id" validate:"required"`
	LineItems        []PurchaseLineItem `json:"line_items" validate:"required,min=1,dive"`
	BuyerEmail       string             `json:"buyer_email" validate:"required,email"`
	BuyerName        string             `json:"buyer_name,omitempty"`
	ShippingAddress  models.Address     `json:"shipping_address"`
	AmountTotalMinor int64              `json:"amount_total" validate:"min=0"`
	DiscountMinor    int64              `json:"discount,omitempty" validate:"min=0"`
	Currency         string             `json:"currency,omitempty"`
}

type PurchaseLineItem struct {
	ProductID      string             `json:"product_id" validate:"required"`
	Size           string             `json:"size" validate:"required"`
	Quantity       int                `json:"quantity" validate:"required,min=1"`
	UnitPriceMinor int64              `json:"unit_price" validate:"min=0"`
	FrameOption    models.FrameOption `json:"frame_option,omitempty" validate:"frame_option"`
	FrameColor     string             `json:"frame_color,omitempty"`
}

type OrderNotifier interface {
	SendOrderConfirmation(order *models.Order) error
}

type OrderPublisher interface {
	PublishOrderCreated(ctx context.Context, order *models.Order) error
}

type FulfillmentService struct {
	store      store.DocumentStore
	cfg        config.FulfillmentConfig
	notifier   OrderNotifier
	publisher  OrderPublisher
	reconciler *ReconciliationService
	tracer     trace.Tracer
	now        func() time.Time
}

func NewFulfillmentService(st store.DocumentStore, cfg config.FulfillmentConfig, notifier OrderNotifier, publisher OrderPublisher, reconciler *ReconciliationService) *FulfillmentService {
	return &FulfillmentService{
		store:      st,
		cfg:        cfg,
		notifier:   notifier,
		publisher:  publisher,
		reconciler: reconciler,
		tracer:     otel.Tracer("github.com/printshop/storefront-backend/internal/services"),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// DeriveOrderID returns the upper-cased last n characters of the payment id.
func DeriveOrderID(paymentID string, n int) string {
	if n > 0 && len(paymentID) > n {
		paymentID = paymentID[len(paymentID)-n:]
	}
	return strings.ToUpper(paymentID)
}

// productGroup is every line item of one event that references one product,
// in event order.
type productGroup struct {
	productID string
	indexes   []int
}

func groupByProduct(items []PurchaseLineItem) []productGroup {
	var groups []productGroup
	pos := make(map[string]int)
	for i, item := range items {
		g, ok := pos[item.ProductID]
		if !ok {
			g = len(groups)
			pos[item.ProductID] = g
			groups = append(groups, productGroup{productID: item.ProductID})
		}
		groups[g].indexes = append(groups[g].indexes, i)
	}
	return groups
}

// ApplyPurchase turns a confirmed payment into an order. Each referenced
// product is updated in its own transaction: stock is decremented and serial
// numbers are minted. The order document is written once every product has
// committed.
//
// A second delivery of the same event returns the existing order. If an
// earlier delivery failed part way, products that already hold units for the
// order are not charged again and the remaining products are applied.
func (s *FulfillmentService) ApplyPurchase(ctx context.Context, event *PurchaseEvent) (*models.Order, error) {
	start := time.Now()
	defer func() {
		metrics.ApplyDuration.Observe(float64(time.Since(start).Milliseconds()))
	}()

	if err := utils.ValidateStruct(event); err != nil {
		metrics.PurchasesApplied.WithLabelValues("invalid").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}

	orderID := DeriveOrderID(event.PaymentID, s.cfg.OrderIDLength)
	ctx, span := s.tracer.Start(ctx, "fulfillment.ApplyPurchase", trace.WithAttributes(
		attribute.String("payment.id", event.PaymentID),
		attribute.String("order.id", orderID),
		attribute.Int("line_items", len(event.LineItems)),
	))
	defer span.End()

	log := logrus.WithFields(logrus.Fields{
		"payment_id": event.PaymentID,
		"order_id":   orderID,
	})

	existing, err := s.store.GetOrder(ctx, orderID)
	switch {
	case err == nil:
		if existing.PaymentID != event.PaymentID {
			err = fmt.Errorf("%w: order %s belongs to payment %s", ErrOrderIDCollision, orderID, existing.PaymentID)
			s.recordFailure(ctx, log, span, event, orderID, nil, "", err)
			return nil, err
		}
		log.Info("Payment event already processed")
		metrics.PurchasesApplied.WithLabelValues("duplicate").Inc()
		return existing, nil
	case !errors.Is(err, store.ErrNotFound):
		span.RecordError(err)
		span.SetStatus(codes.Error, "order lookup failed")
		metrics.PurchasesApplied.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("failed to look up order %s: %w", orderID, err)
	}

	lines := make([]models.LineItem, len(event.LineItems))
	var committed []string
	for _, g := range groupByProduct(event.LineItems) {
		if err := s.applyProduct(ctx, event, orderID, g, lines); err != nil {
			s.recordFailure(ctx, log, span, event, orderID, committed, g.productID, err)
			return nil, err
		}
		committed = append(committed, g.productID)
	}

	order := s.buildOrder(event, orderID, lines)
	if err := s.store.CreateOrder(ctx, order); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			// A concurrent delivery of the same event wrote it first.
			if winner, gerr := s.store.GetOrder(ctx, orderID); gerr == nil && winner.PaymentID == event.PaymentID {
				metrics.PurchasesApplied.WithLabelValues("duplicate").Inc()
				return winner, nil
			}
		}
		err = fmt.Errorf("failed to persist order %s: %w", orderID, err)
		s.recordFailure(ctx, log, span, event, orderID, committed, "", err)
		return nil, err
	}

	log.WithField("units", countUnits(order)).Info("Order created")
	metrics.PurchasesApplied.WithLabelValues("applied").Inc()

	s.afterCommit(ctx, log, order)
	return order, nil
}

func (s *FulfillmentService) applyProduct(ctx context.Context, event *PurchaseEvent, orderID string, g productGroup, lines []models.LineItem) error {
	ctx, span := s.tracer.Start(ctx, "fulfillment.applyProduct", trace.WithAttributes(
		attribute.String("product.id", g.productID),
	))
	defer span.End()

	var staged map[int]models.LineItem
	var minted int

	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		staged = make(map[int]models.LineItem, len(g.indexes))
		minted = 0

		product, err := tx.GetProduct(ctx, g.productID)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrProductNotFound, g.productID)
		}
		if err != nil {
			return err
		}

		if prior := product.UnitsForOrder(orderID); len(prior) > 0 {
			// Order ids are a suffix of the payment id, so another payment can
			// map onto units left behind by a failed delivery.
			for _, u := range prior {
				if u.PaymentID != event.PaymentID {
					return fmt.Errorf("%w: product %s holds units of order %s for payment %s",
						ErrOrderIDCollision, product.ID, orderID, u.PaymentID)
				}
			}
			return assignPriorUnits(event, product, g, prior, staged)
		}

		var issued []models.IssuedUnit
		for _, idx := range g.indexes {
			item := event.LineItems[idx]

			entry, ok := product.Size(item.Size)
			if !ok {
				return fmt.Errorf("%w: product %s size %s", ErrSizeNotFound, product.ID, item.Size)
			}
			if item.Quantity > entry.Stock {
				return fmt.Errorf("%w: product %s size %s requested %d available %d",
					ErrInsufficientStock, product.ID, item.Size, item.Quantity, entry.Stock)
			}

			units := make([]models.IssuedUnit, item.Quantity)
			for i := range units {
				units[i] = models.IssuedUnit{
					Serial:      entry.NextSerial + i,
					Size:        item.Size,
					FrameOption: frameOption(item.FrameOption),
					FrameColor:  item.FrameColor,
					ProductID:   product.ID,
					OrderID:     orderID,
					PaymentID:   event.PaymentID,
				}
			}
			entry.Stock -= item.Quantity
			entry.NextSerial += item.Quantity

			issued = append(issued, units...)
			staged[idx] = lineItem(product, item, units)
		}

		product.IdentificationNumbers = append(product.IdentificationNumbers, issued...)
		if !product.InStock() {
			product.Status = models.ProductStatusSoldOut
		}
		minted = len(issued)

		return tx.PutProduct(ctx, product)
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			err = fmt.Errorf("%w: product %s: %v", ErrTransactionConflict, g.productID, err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "product transaction failed")
		return err
	}

	for idx, li := range staged {
		lines[idx] = li
	}
	metrics.UnitsIssued.Add(float64(minted))
	span.SetAttributes(attribute.Int("units.minted", minted))
	return nil
}

// assignPriorUnits maps units minted by an earlier delivery back onto the line
// items. Units were appended in line-item order, so each line takes the next
// matching units of its size.
func assignPriorUnits(event *PurchaseEvent, product *models.Product, g productGroup, prior []models.IssuedUnit, staged map[int]models.LineItem) error {
	used := make([]bool, len(prior))
	for _, idx := range g.indexes {
		item := event.LineItems[idx]

		var units []models.IssuedUnit
		for i := range prior {
			if len(units) == item.Quantity {
				break
			}
			if !used[i] && prior[i].Size == item.Size {
				used[i] = true
				units = append(units, prior[i])
			}
		}
		if len(units) != item.Quantity {
			return fmt.Errorf("%w: product %s size %s has %d units for order %s, event wants %d",
				ErrReplayMismatch, product.ID, item.Size, len(units), prior[0].OrderID, item.Quantity)
		}
		staged[idx] = lineItem(product, item, units)
	}
	return nil
}

func lineItem(product *models.Product, item PurchaseLineItem, units []models.IssuedUnit) models.LineItem {
	return models.LineItem{
		ProductID:   product.ID,
		Title:       product.Title,
		ArtistID:    product.ArtistID,
		Size:        item.Size,
		FrameOption: frameOption(item.FrameOption),
		FrameColor:  item.FrameColor,
		Quantity:    item.Quantity,
		UnitPrice:   fromMinorUnits(item.UnitPriceMinor),
		Units:       units,
	}
}

func frameOption(f models.FrameOption) models.FrameOption {
	if f == "" {
		return models.FrameOptionNone
	}
	return f
}

func fromMinorUnits(amount int64) float64 {
	return float64(amount) / 100
}

func (s *FulfillmentService) buildOrder(event *PurchaseEvent, orderID string, lines []models.LineItem) *models.Order {
	var subtotalMinor int64
	status := make(map[string]models.FulfillmentStatus)
	for i, li := range lines {
		subtotalMinor += event.LineItems[i].UnitPriceMinor * int64(li.Quantity)
		status[li.ArtistID] = models.FulfillmentStatusPending
	}

	created := s.now()
	return &models.Order{
		ID:              orderID,
		PaymentID:       event.PaymentID,
		CustomerEmail:   event.BuyerEmail,
		CustomerName:    event.BuyerName,
		ShippingAddress: event.ShippingAddress,
		Products:        lines,
		Subtotal:        fromMinorUnits(subtotalMinor),
		Discount:        fromMinorUnits(event.DiscountMinor),
		Total:           fromMinorUnits(event.AmountTotalMinor),
		Currency:        strings.ToLower(event.Currency),
		Status:          status,
		CreatedAt:       created,
		DeliveryDate:    created.AddDate(0, 0, s.cfg.DeliveryOffsetDays),
	}
}

// afterCommit runs the best-effort side effects of a new order. None of them
// can undo or fail the order.
func (s *FulfillmentService) afterCommit(ctx context.Context, log *logrus.Entry, order *models.Order) {
	if err := s.store.AppendCustomerOrder(ctx, order.CustomerEmail, order.ID); err != nil {
		log.WithError(err).Warn("Failed to link order to customer")
	}

	if s.notifier != nil {
		snapshot := order.Clone()
		go func() {
			if err := s.notifier.SendOrderConfirmation(snapshot); err != nil {
				log.WithError(err).Warn("Failed to send order confirmation")
			}
		}()
	}

	if s.publisher != nil {
		snapshot := order.Clone()
		go func() {
			pctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := s.publisher.PublishOrderCreated(pctx, snapshot); err != nil {
				log.WithError(err).Warn("Failed to publish order event")
			}
		}()
	}
}

// recordFailure logs a fatal processing error. Failures that leave captured
// money without a matching order are also stored for manual reconciliation.
func (s *FulfillmentService) recordFailure(ctx context.Context, log *logrus.Entry, span trace.Span, event *PurchaseEvent, orderID string, committed []string, failedProduct string, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	metrics.PurchasesApplied.WithLabelValues("failed").Inc()

	reason := failureReason(err)
	entry := log.WithError(err).WithFields(logrus.Fields{
		"reason":             reason,
		"committed_products": committed,
		"failed_product":     failedProduct,
	})

	needsReconciliation := len(committed) > 0 ||
		errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrTransactionConflict) ||
		errors.Is(err, ErrOrderIDCollision) ||
		failedProduct == ""
	if !needsReconciliation {
		entry.Error("Purchase could not be applied, data integrity fault")
		return
	}

	entry.WithField("reconcile", true).Error("Purchase could not be applied, manual reconciliation required")
	if s.reconciler == nil {
		return
	}

	record := &models.ReconciliationRecord{
		PaymentID:           event.PaymentID,
		OrderID:             orderID,
		CommittedProductIDs: append([]string(nil), committed...),
		FailedProductID:     failedProduct,
		Reason:              reason,
		Error:               err.Error(),
	}
	if rerr := s.reconciler.Record(ctx, record); rerr != nil {
		entry.WithField("reconcile_error", rerr.Error()).Error("Failed to store reconciliation record")
	}
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrProductNotFound):
		return "product_not_found"
	case errors.Is(err, ErrSizeNotFound):
		return "size_not_found"
	case errors.Is(err, ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, ErrTransactionConflict):
		return "transaction_conflict"
	case errors.Is(err, ErrOrderIDCollision):
		return "order_id_collision"
	case errors.Is(err, ErrReplayMismatch):
		return "replay_mismatch"
	default:
		return "store_error"
	}
}

func countUnits(order *models.Order) int {
	n := 0
	for _, li := range order.Products {
		n += len(li.Units)
	}
	return n
}
