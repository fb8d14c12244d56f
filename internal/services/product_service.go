// internal/services/product_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/printshop/storefront-backend/internal/models"
	"github.com/printshop/storefront-backend/internal/store"
	"github.com/printshop/storefront-backend/internal/utils"
)

var (
	ErrProductExists      = errors.New("product already exists")
	ErrProductUnavailable = errors.New("product is not available for purchase")
	ErrDuplicateSize      = errors.New("size listed more than once")
)

type ProductService struct {
	store store.DocumentStore
}

type CreateProductRequest struct {
	ID          string               `json:"id,omitempty" validate:"omitempty,max=64"`
	Title       string               `json:"title" validate:"required,min=2,max=255"`
	Description string               `json:"description,omitempty"`
	ArtistID    string               `json:"artist_id" validate:"required,max=64"`
	Images      []string             `json:"images,omitempty" validate:"omitempty,dive,url"`
	Status      models.ProductStatus `json:"status,omitempty" validate:"omitempty,oneof=draft active"`
	Sizes       []SizeRequest        `json:"sizes" validate:"required,min=1,dive"`
}

type SizeRequest struct {
	Size  string  `json:"size" validate:"required,max=32"`
	Price float64 `json:"price" validate:"required,gt=0"`
	Stock int     `json:"stock" validate:"required,min=1"`
}

type ProductListParams struct {
	utils.PaginationParams
	ArtistID string
	InStock  bool
}

// PricedItem is a cart line checked against the catalogue.
type PricedItem struct {
	CheckoutItem
	Title          string `json:"title"`
	UnitPriceMinor int64  `json:"unit_price"`
}

func NewProductService(st store.DocumentStore) *ProductService {
	return &ProductService{store: st}
}

// CreateProduct lists a new print. Every size starts with its full edition
// in stock and serial numbers from 1.
func (s *ProductService) CreateProduct(ctx context.Context, req *CreateProductRequest) (*models.Product, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	seen := make(map[string]bool, len(req.Sizes))
	sizes := make([]models.SizeEntry, 0, len(req.Sizes))
	for _, sz := range req.Sizes {
		label := strings.TrimSpace(sz.Size)
		if seen[label] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateSize, label)
		}
		seen[label] = true
		sizes = append(sizes, models.SizeEntry{
			Size:         label,
			Price:        sz.Price,
			Stock:        sz.Stock,
			InitialStock: sz.Stock,
			NextSerial:   1,
		})
	}

	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}
	status := req.Status
	if status == "" {
		status = models.ProductStatusActive
	}

	now := time.Now().UTC()
	product := &models.Product{
		ID:          id,
		Title:       req.Title,
		Description: req.Description,
		ArtistID:    req.ArtistID,
		Images:      req.Images,
		Status:      status,
		Sizes:       sizes,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.store.CreateProduct(ctx, product); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return nil, fmt.Errorf("%w: %s", ErrProductExists, id)
		}
		return nil, fmt.Errorf("failed to create product: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"product_id": product.ID,
		"artist_id":  product.ArtistID,
		"sizes":      len(sizes),
	}).Info("Product created")

	return product, nil
}

func (s *ProductService) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	product, err := s.store.GetProduct(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrProductNotFound, id)
		}
		return nil, err
	}
	return product, nil
}

// ListProducts returns active and sold out products, newest first. Drafts
// and archived products are not listed.
func (s *ProductService) ListProducts(ctx context.Context, params ProductListParams) ([]models.Product, int64, error) {
	all, err := s.store.ListProducts(ctx)
	if err != nil {
		return nil, 0, err
	}

	filtered := make([]models.Product, 0, len(all))
	for _, p := range all {
		if p.Status != models.ProductStatusActive && p.Status != models.ProductStatusSoldOut {
			continue
		}
		if params.ArtistID != "" && p.ArtistID != params.ArtistID {
			continue
		}
		if params.InStock && !p.InStock() {
			continue
		}
		filtered = append(filtered, p)
	}

	total := int64(len(filtered))
	start := params.Offset()
	if start > len(filtered) {
		start = len(filtered)
	}
	end := start + params.Limit
	if end > len(filtered) {
		end = len(filtered)
	}
	return filtered[start:end], total, nil
}

// ValidateCart prices each cart line and checks it against current stock.
// Stock is not reserved; the webhook re-checks it when the payment lands.
func (s *ProductService) ValidateCart(ctx context.Context, items []CheckoutItem) ([]PricedItem, error) {
	requested := make(map[string]int)
	priced := make([]PricedItem, 0, len(items))

	for _, item := range items {
		product, err := s.GetProduct(ctx, item.ProductID)
		if err != nil {
			return nil, err
		}
		if product.Status != models.ProductStatusActive {
			return nil, fmt.Errorf("%w: %s", ErrProductUnavailable, product.ID)
		}

		entry, ok := product.Size(item.Size)
		if !ok {
			return nil, fmt.Errorf("%w: product %s size %s", ErrSizeNotFound, product.ID, item.Size)
		}

		key := product.ID + "/" + item.Size
		requested[key] += item.Quantity
		if requested[key] > entry.Stock {
			return nil, fmt.Errorf("%w: product %s size %s requested %d available %d",
				ErrInsufficientStock, product.ID, item.Size, requested[key], entry.Stock)
		}

		priced = append(priced, PricedItem{
			CheckoutItem:   item,
			Title:          product.Title,
			UnitPriceMinor: toMinorUnits(entry.Price),
		})
	}
	return priced, nil
}

func toMinorUnits(amount float64) int64 {
	return int64(math.Round(amount * 100))
}
