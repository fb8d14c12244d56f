// internal/services/order_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/printshop/storefront-backend/internal/models"
	"github.com/printshop/storefront-backend/internal/store"
	"github.com/printshop/storefront-backend/internal/utils"
)

var (
	ErrOrderNotFound       = errors.New("order not found")
	ErrArtistNotInOrder    = errors.New("artist has no items in order")
	ErrCertificateNotFound = errors.New("no unit issued with this serial")
)

type ShippingNotifier interface {
	SendShippingUpdate(order *models.Order, artistID string) error
}

type OrderService struct {
	store    store.DocumentStore
	notifier ShippingNotifier
}

type UpdateStatusRequest struct {
	ArtistID string                   `json:"artist_id" validate:"required"`
	Status   models.FulfillmentStatus `json:"status" validate:"required,fulfillment_status"`
}

// Certificate is the public proof of authenticity for one issued unit.
type Certificate struct {
	ProductID    string             `json:"product_id"`
	ProductTitle string             `json:"product_title"`
	ArtistID     string             `json:"artist_id"`
	Serial       int                `json:"serial"`
	Edition      string             `json:"edition"`
	Size         string             `json:"size"`
	FrameOption  models.FrameOption `json:"frame_option"`
	OrderID      string             `json:"order_id"`
	IssuedAt     time.Time          `json:"issued_at"`
}

func NewOrderService(st store.DocumentStore, notifier ShippingNotifier) *OrderService {
	return &OrderService{store: st, notifier: notifier}
}

func (s *OrderService) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	order, err := s.store.GetOrder(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, id)
		}
		return nil, err
	}
	return order, nil
}

func (s *OrderService) ListOrders(ctx context.Context, params utils.PaginationParams) ([]models.Order, int64, error) {
	return s.store.ListOrders(ctx, params.Offset(), params.Limit)
}

// UpdateFulfillmentStatus sets one artist's status on an order. Line items,
// serial numbers and every other artist's status are left untouched.
func (s *OrderService) UpdateFulfillmentStatus(ctx context.Context, orderID string, req *UpdateStatusRequest) (*models.Order, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if _, ok := order.Status[req.ArtistID]; !ok {
		return nil, fmt.Errorf("%w: artist %s order %s", ErrArtistNotInOrder, req.ArtistID, orderID)
	}

	if err := s.store.UpdateOrderStatus(ctx, orderID, req.ArtistID, req.Status); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
		}
		return nil, fmt.Errorf("failed to update order status: %w", err)
	}

	updated, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"order_id":  orderID,
		"artist_id": req.ArtistID,
		"status":    req.Status,
	}).Info("Order status updated")

	if req.Status == models.FulfillmentStatusShipped && s.notifier != nil {
		snapshot := updated.Clone()
		go func() {
			if err := s.notifier.SendShippingUpdate(snapshot, req.ArtistID); err != nil {
				logrus.WithError(err).WithField("order_id", snapshot.ID).Warn("Failed to send shipping update")
			}
		}()
	}

	return updated, nil
}

// VerifyCertificate looks up the unit a serial number was issued as.
func (s *OrderService) VerifyCertificate(ctx context.Context, productID string, serial int) (*Certificate, error) {
	product, err := s.store.GetProduct(ctx, productID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrProductNotFound, productID)
		}
		return nil, err
	}

	orders, err := s.store.FindOrdersByProduct(ctx, productID)
	if err != nil {
		return nil, err
	}

	for i := range orders {
		unit, ok := orders[i].FindUnit(productID, serial)
		if !ok {
			continue
		}

		edition := fmt.Sprintf("%d", unit.Serial)
		if entry, ok := product.Size(unit.Size); ok {
			edition = fmt.Sprintf("%d/%d", unit.Serial, entry.InitialStock)
		}

		return &Certificate{
			ProductID:    product.ID,
			ProductTitle: product.Title,
			ArtistID:     product.ArtistID,
			Serial:       unit.Serial,
			Edition:      edition,
			Size:         unit.Size,
			FrameOption:  unit.FrameOption,
			OrderID:      orders[i].ID,
			IssuedAt:     orders[i].CreatedAt,
		}, nil
	}

	return nil, fmt.Errorf("%w: product %s serial %d", ErrCertificateNotFound, productID, serial)
}
