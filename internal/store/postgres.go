// internal/store/postgres.go
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/printshop/storefront-backend/internal/models"
)

type ProductRow struct {
	ID        string         `gorm:"primaryKey;size:64"`
	Version   int64          `gorm:"not null;default:1"`
	Status    string         `gorm:"type:varchar(20);index"`
	InStock   bool           `gorm:"index"`
	Data      models.Product `gorm:"type:jsonb;not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (ProductRow) TableName() string { return "product_documents" }

type OrderRow struct {
	ID            string         `gorm:"primaryKey;size:64"`
	PaymentID     string         `gorm:"size:255;uniqueIndex"`
	CustomerEmail string         `gorm:"size:255;index"`
	ProductIDs    pq.StringArray `gorm:"type:text[]"`
	Data          models.Order   `gorm:"type:jsonb;not null"`
	CreatedAt     time.Time      `gorm:"index"`
}

func (OrderRow) TableName() string { return "order_documents" }

type CustomerRow struct {
	Email     string         `gorm:"primaryKey;size:255"`
	OrderIDs  pq.StringArray `gorm:"type:text[]"`
	UpdatedAt time.Time
}

func (CustomerRow) TableName() string { return "customer_documents" }

type ReconciliationRow struct {
	ID        string                      `gorm:"primaryKey;size:64"`
	PaymentID string                      `gorm:"size:255;index"`
	Data      models.ReconciliationRecord `gorm:"type:jsonb;not null"`
	CreatedAt time.Time
}

func (ReconciliationRow) TableName() string { return "reconciliation_records" }

// Rows lists the tables PostgresStore needs, for migrations.
func Rows() []interface{} {
	return []interface{}{&ProductRow{}, &OrderRow{}, &CustomerRow{}, &ReconciliationRow{}}
}

// PostgresStore keeps each document as a JSONB column. Transactions lock the
// product rows they read (SELECT ... FOR UPDATE) and additionally guard writes
// with the row version.
type PostgresStore struct {
	db    *gorm.DB
	retry RetryPolicy
}

func NewPostgresStore(db *gorm.DB, retry RetryPolicy) *PostgresStore {
	return &PostgresStore{db: db, retry: retry}
}

type postgresTx struct {
	db       *gorm.DB
	versions map[string]int64
	writes   map[string]*models.Product
}

func (t *postgresTx) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	if p, ok := t.writes[id]; ok {
		return p.Clone(), nil
	}

	var row ProductRow
	err := t.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&row, "id = ?", id).Error
	if err != nil {
		return nil, translateError(fmt.Sprintf("product %s", id), err)
	}

	t.versions[id] = row.Version
	product := row.Data
	return &product, nil
}

func (t *postgresTx) PutProduct(ctx context.Context, product *models.Product) error {
	if product == nil || product.ID == "" {
		return fmt.Errorf("product id is required")
	}

	now := time.Now().UTC()
	product.UpdatedAt = now

	version, read := t.versions[product.ID]
	if !read {
		row := ProductRow{
			ID:      product.ID,
			Status:  string(product.Status),
			InStock: product.InStock(),
			Data:    *product,
		}
		if err := t.db.WithContext(ctx).Create(&row).Error; err != nil {
			return translateError(fmt.Sprintf("product %s", product.ID), err)
		}
		t.versions[product.ID] = row.Version
		t.writes[product.ID] = product.Clone()
		return nil
	}

	result := updateProductRow(t.db.WithContext(ctx), product, version, now)
	if result.Error != nil {
		return translateError(fmt.Sprintf("product %s", product.ID), result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("product %s changed during transaction: %w", product.ID, ErrConflict)
	}

	t.versions[product.ID] = version + 1
	t.writes[product.ID] = product.Clone()
	return nil
}

// updateProductRow writes product only if the row is still at version.
func updateProductRow(db *gorm.DB, product *models.Product, version int64, now time.Time) *gorm.DB {
	return db.Model(&ProductRow{}).
		Where("id = ? AND version = ?", product.ID, version).
		Updates(map[string]interface{}{
			"data":       *product,
			"status":     string(product.Status),
			"in_stock":   product.InStock(),
			"version":    gorm.Expr("version + 1"),
			"updated_at": now,
		})
}

func (s *PostgresStore) RunTransaction(ctx context.Context, fn TxFunc) error {
	return s.retry.run(ctx, "postgres", func() error {
		err := s.db.WithContext(ctx).Transaction(func(gtx *gorm.DB) error {
			return fn(ctx, &postgresTx{
				db:       gtx,
				versions: make(map[string]int64),
				writes:   make(map[string]*models.Product),
			})
		})
		return translateError("transaction", err)
	})
}

func (s *PostgresStore) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	var row ProductRow
	if err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return nil, translateError(fmt.Sprintf("product %s", id), err)
	}
	product := row.Data
	return &product, nil
}

func (s *PostgresStore) CreateProduct(ctx context.Context, product *models.Product) error {
	row := ProductRow{
		ID:        product.ID,
		Status:    string(product.Status),
		InStock:   product.InStock(),
		Data:      *product,
		CreatedAt: product.CreatedAt,
		UpdatedAt: product.UpdatedAt,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return translateError(fmt.Sprintf("product %s", product.ID), err)
	}
	return nil
}

func (s *PostgresStore) ListProducts(ctx context.Context) ([]models.Product, error) {
	var rows []ProductRow
	if err := s.db.WithContext(ctx).Order("created_at DESC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch products: %w", err)
	}

	products := make([]models.Product, 0, len(rows))
	for _, row := range rows {
		products = append(products, row.Data)
	}
	return products, nil
}

func (s *PostgresStore) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	var row OrderRow
	if err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return nil, translateError(fmt.Sprintf("order %s", id), err)
	}
	order := row.Data
	return &order, nil
}

func (s *PostgresStore) CreateOrder(ctx context.Context, order *models.Order) error {
	row := OrderRow{
		ID:            order.ID,
		PaymentID:     order.PaymentID,
		CustomerEmail: order.CustomerEmail,
		ProductIDs:    pq.StringArray(order.ProductIDs()),
		Data:          *order,
		CreatedAt:     order.CreatedAt,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return translateError(fmt.Sprintf("order %s", order.ID), err)
	}
	return nil
}

func (s *PostgresStore) ListOrders(ctx context.Context, offset, limit int) ([]models.Order, int64, error) {
	query := s.db.WithContext(ctx).Model(&OrderRow{})

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count orders: %w", err)
	}

	var rows []OrderRow
	if err := query.Order("created_at DESC").Offset(offset).Limit(limit).Find(&rows).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to fetch orders: %w", err)
	}

	orders := make([]models.Order, 0, len(rows))
	for _, row := range rows {
		orders = append(orders, row.Data)
	}
	return orders, total, nil
}

func (s *PostgresStore) FindOrdersByProduct(ctx context.Context, productID string) ([]models.Order, error) {
	var rows []OrderRow
	if err := s.db.WithContext(ctx).
		Where("? = ANY(product_ids)", productID).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch orders for product %s: %w", productID, err)
	}

	orders := make([]models.Order, 0, len(rows))
	for _, row := range rows {
		orders = append(orders, row.Data)
	}
	return orders, nil
}

// UpdateOrderStatus rewrites only data->status->artistID, in one statement.
func (s *PostgresStore) UpdateOrderStatus(ctx context.Context, orderID, artistID string, status models.FulfillmentStatus) error {
	result := updateOrderStatusRow(s.db.WithContext(ctx), orderID, artistID, status)
	if result.Error != nil {
		return fmt.Errorf("failed to update order status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("order %s: %w", orderID, ErrNotFound)
	}
	return nil
}

func updateOrderStatusRow(db *gorm.DB, orderID, artistID string, status models.FulfillmentStatus) *gorm.DB {
	return db.Model(&OrderRow{}).
		Where("id = ?", orderID).
		UpdateColumn("data", gorm.Expr(
			"jsonb_set(data, ARRAY['status', ?]::text[], to_jsonb(?::text), true)",
			artistID, string(status),
		))
}

func (s *PostgresStore) AppendCustomerOrder(ctx context.Context, email, orderID string) error {
	if err := upsertCustomerRow(s.db.WithContext(ctx), email, orderID, time.Now().UTC()).Error; err != nil {
		return fmt.Errorf("failed to append customer order: %w", err)
	}
	return nil
}

// upsertCustomerRow creates the customer or appends orderID to its list in
// the same statement, so concurrent orders for one email never lose an id.
func upsertCustomerRow(db *gorm.DB, email, orderID string, now time.Time) *gorm.DB {
	row := CustomerRow{
		Email:     email,
		OrderIDs:  pq.StringArray{orderID},
		UpdatedAt: now,
	}
	return db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "email"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"order_ids":  gorm.Expr("array_append(customer_documents.order_ids, ?)", orderID),
			"updated_at": now,
		}),
	}).Create(&row)
}

func (s *PostgresStore) GetCustomer(ctx context.Context, email string) (*models.Customer, error) {
	var row CustomerRow
	if err := s.db.WithContext(ctx).First(&row, "email = ?", email).Error; err != nil {
		return nil, translateError(fmt.Sprintf("customer %s", email), err)
	}
	return &models.Customer{Email: row.Email, OrderIDs: []string(row.OrderIDs)}, nil
}

func (s *PostgresStore) SaveReconciliation(ctx context.Context, record *models.ReconciliationRecord) error {
	row := ReconciliationRow{
		ID:        record.ID,
		PaymentID: record.PaymentID,
		Data:      *record,
		CreatedAt: record.CreatedAt,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("failed to save reconciliation record: %w", err)
	}
	return nil
}

func (s *PostgresStore) HasReconciliation(ctx context.Context, paymentID string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&ReconciliationRow{}).
		Where("payment_id = ?", paymentID).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to look up reconciliation records: %w", err)
	}
	return count > 0, nil
}

// Postgres error codes that mean "another transaction won, try again".
const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgUniqueViolation      = "23505"
)

func translateError(subject string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) || errors.Is(err, ErrAlreadyExists) {
		return err
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", subject, ErrNotFound)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgSerializationFailure, pgDeadlockDetected:
			return fmt.Errorf("%s: %s: %w", subject, pgErr.Message, ErrConflict)
		case pgUniqueViolation:
			return fmt.Errorf("%s: %w", subject, ErrAlreadyExists)
		}
	}
	return err
}
