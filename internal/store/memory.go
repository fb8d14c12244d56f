// internal/store/memory.go
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/printshop/storefront-backend/internal/models"
)

type productDoc struct {
	product *models.Product
	version int64
}

// MemoryStore is an in-process DocumentStore with optimistic concurrency:
// each product carries a version and a commit fails with ErrConflict when any
// product it read has moved on.
type MemoryStore struct {
	mu              sync.RWMutex
	products        map[string]*productDoc
	orders          map[string]*models.Order
	customers       map[string]*models.Customer
	reconciliations []models.ReconciliationRecord
	retry           RetryPolicy
}

type MemoryOption func(*MemoryStore)

func WithRetryPolicy(p RetryPolicy) MemoryOption {
	return func(s *MemoryStore) {
		s.retry = p
	}
}

func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		products:  make(map[string]*productDoc),
		orders:    make(map[string]*models.Order),
		customers: make(map[string]*models.Customer),
		retry:     DefaultRetryPolicy,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type memoryTx struct {
	store  *MemoryStore
	reads  map[string]int64 // product id -> version observed, 0 when absent
	writes map[string]*models.Product
}

func (t *memoryTx) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	if p, ok := t.writes[id]; ok {
		return p.Clone(), nil
	}

	t.store.mu.RLock()
	doc, ok := t.store.products[id]
	var version int64
	var product *models.Product
	if ok {
		version = doc.version
		product = doc.product.Clone()
	}
	t.store.mu.RUnlock()

	if _, seen := t.reads[id]; !seen {
		t.reads[id] = version
	}
	if !ok {
		return nil, fmt.Errorf("product %s: %w", id, ErrNotFound)
	}
	return product, nil
}

func (t *memoryTx) PutProduct(ctx context.Context, product *models.Product) error {
	if product == nil || product.ID == "" {
		return fmt.Errorf("product id is required")
	}
	t.writes[product.ID] = product.Clone()
	return nil
}

func (t *memoryTx) commit() error {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, seen := range t.reads {
		var current int64
		if doc, ok := s.products[id]; ok {
			current = doc.version
		}
		if current != seen {
			return fmt.Errorf("product %s changed during transaction: %w", id, ErrConflict)
		}
	}

	now := time.Now().UTC()
	for id, p := range t.writes {
		var version int64
		if doc, ok := s.products[id]; ok {
			version = doc.version
		}
		p.UpdatedAt = now
		s.products[id] = &productDoc{product: p, version: version + 1}
	}
	return nil
}

func (s *MemoryStore) RunTransaction(ctx context.Context, fn TxFunc) error {
	return s.retry.run(ctx, "memory", func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		tx := &memoryTx{
			store:  s,
			reads:  make(map[string]int64),
			writes: make(map[string]*models.Product),
		}
		if err := fn(ctx, tx); err != nil {
			return err
		}
		return tx.commit()
	})
}

func (s *MemoryStore) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.products[id]
	if !ok {
		return nil, fmt.Errorf("product %s: %w", id, ErrNotFound)
	}
	return doc.product.Clone(), nil
}

func (s *MemoryStore) CreateProduct(ctx context.Context, product *models.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.products[product.ID]; ok {
		return fmt.Errorf("product %s: %w", product.ID, ErrAlreadyExists)
	}
	s.products[product.ID] = &productDoc{product: product.Clone(), version: 1}
	return nil
}

func (s *MemoryStore) ListProducts(ctx context.Context) ([]models.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]models.Product, 0, len(s.products))
	for _, doc := range s.products {
		products = append(products, *doc.product.Clone())
	}
	sort.Slice(products, func(i, j int) bool {
		return products[i].CreatedAt.After(products[j].CreatedAt)
	})
	return products, nil
}

func (s *MemoryStore) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, ok := s.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	return order.Clone(), nil
}

func (s *MemoryStore) CreateOrder(ctx context.Context, order *models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orders[order.ID]; ok {
		return fmt.Errorf("order %s: %w", order.ID, ErrAlreadyExists)
	}
	s.orders[order.ID] = order.Clone()
	return nil
}

func (s *MemoryStore) ListOrders(ctx context.Context, offset, limit int) ([]models.Order, int64, error) {
	s.mu.RLock()
	all := make([]models.Order, 0, len(s.orders))
	for _, o := range s.orders {
		all = append(all, *o.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	start, end := paginate(len(all), offset, limit)
	return all[start:end], int64(len(all)), nil
}

func (s *MemoryStore) FindOrdersByProduct(ctx context.Context, productID string) ([]models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var orders []models.Order
	for _, o := range s.orders {
		for _, li := range o.Products {
			if li.ProductID == productID {
				orders = append(orders, *o.Clone())
				break
			}
		}
	}
	return orders, nil
}

func (s *MemoryStore) UpdateOrderStatus(ctx context.Context, orderID, artistID string, status models.FulfillmentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[orderID]
	if !ok {
		return fmt.Errorf("order %s: %w", orderID, ErrNotFound)
	}

	// Copy-on-write so clones handed out earlier never observe the change.
	updated := make(map[string]models.FulfillmentStatus, len(order.Status)+1)
	for k, v := range order.Status {
		updated[k] = v
	}
	updated[artistID] = status
	order.Status = updated
	return nil
}

func (s *MemoryStore) AppendCustomerOrder(ctx context.Context, email, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.customers[email]
	if !ok {
		c = &models.Customer{Email: email}
		s.customers[email] = c
	}
	c.OrderIDs = append(c.OrderIDs, orderID)
	return nil
}

func (s *MemoryStore) GetCustomer(ctx context.Context, email string) (*models.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.customers[email]
	if !ok {
		return nil, fmt.Errorf("customer %s: %w", email, ErrNotFound)
	}
	return &models.Customer{Email: c.Email, OrderIDs: append([]string(nil), c.OrderIDs...)}, nil
}

func (s *MemoryStore) SaveReconciliation(ctx context.Context, record *models.ReconciliationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reconciliations = append(s.reconciliations, *record)
	return nil
}

func (s *MemoryStore) HasReconciliation(ctx context.Context, paymentID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, r := range s.reconciliations {
		if r.PaymentID == paymentID {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) Reconciliations() []models.ReconciliationRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]models.ReconciliationRecord(nil), s.reconciliations...)
}
