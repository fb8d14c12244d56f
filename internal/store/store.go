// internal/store/store.go
package store

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/printshop/storefront-backend/internal/metrics"
	"github.com/printshop/storefront-backend/internal/models"
)

var (
	ErrNotFound      = errors.New("store: document not found")
	ErrConflict      = errors.New("store: transaction conflict")
	ErrAlreadyExists = errors.New("store: document already exists")
)

// Tx is the view of the store inside a transaction. Reads observe earlier
// writes of the same transaction.
type Tx interface {
	GetProduct(ctx context.Context, id string) (*models.Product, error)
	PutProduct(ctx context.Context, product *models.Product) error
}

type TxFunc func(ctx context.Context, tx Tx) error

// DocumentStore owns Product, Order and Customer documents.
//
// RunTransaction commits fn atomically. When a document read by fn was
// changed by a concurrent commit, the attempt aborts with ErrConflict and fn
// runs again from the start. ErrConflict is returned only once the retry
// policy is exhausted. Any other error from fn aborts without a retry.
type DocumentStore interface {
	RunTransaction(ctx context.Context, fn TxFunc) error

	GetProduct(ctx context.Context, id string) (*models.Product, error)
	CreateProduct(ctx context.Context, product *models.Product) error
	ListProducts(ctx context.Context) ([]models.Product, error)

	GetOrder(ctx context.Context, id string) (*models.Order, error)
	CreateOrder(ctx context.Context, order *models.Order) error
	ListOrders(ctx context.Context, offset, limit int) ([]models.Order, int64, error)
	FindOrdersByProduct(ctx context.Context, productID string) ([]models.Order, error)
	UpdateOrderStatus(ctx context.Context, orderID, artistID string, status models.FulfillmentStatus) error

	AppendCustomerOrder(ctx context.Context, email, orderID string) error
	GetCustomer(ctx context.Context, email string) (*models.Customer, error)

	SaveReconciliation(ctx context.Context, record *models.ReconciliationRecord) error
	HasReconciliation(ctx context.Context, paymentID string) (bool, error)
}

type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 5, Backoff: 10 * time.Millisecond}

func (p RetryPolicy) run(ctx context.Context, backend string, attempt func() error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for i := 1; i <= attempts; i++ {
		err = attempt()
		if !errors.Is(err, ErrConflict) {
			return err
		}
		if i == attempts {
			break
		}

		metrics.TransactionRetries.WithLabelValues(backend).Inc()
		logrus.WithFields(logrus.Fields{
			"backend": backend,
			"attempt": i,
		}).Debug("Transaction conflict, retrying")

		if p.Backoff > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.Backoff * time.Duration(i)):
			}
		}
	}

	return err
}

func paginate(total, offset, limit int) (int, int) {
	if offset < 0 {
		offset = 0
	}
	if offset > total {
		offset = total
	}
	end := total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}
	return offset, end
}
