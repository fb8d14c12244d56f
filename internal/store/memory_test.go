package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/printshop/storefront-backend/internal/models"
)

func seedProduct(t *testing.T, s *MemoryStore, id string, stock int) {
	t.Helper()
	require.NoError(t, s.CreateProduct(context.Background(), &models.Product{
		ID:     id,
		Title:  "Print " + id,
		Status: models.ProductStatusActive,
		Sizes: []models.SizeEntry{
			{Size: "A4", Price: 40, Stock: stock, InitialStock: stock, NextSerial: 1},
		},
	}))
}

func TestMemoryTransactionReadYourWrites(t *testing.T) {
	s := NewMemoryStore()
	seedProduct(t, s, "p1", 5)
	ctx := context.Background()

	err := s.RunTransaction(ctx, func(ctx context.Context, tx Tx) error {
		p, err := tx.GetProduct(ctx, "p1")
		require.NoError(t, err)
		p.Sizes[0].Stock = 2
		require.NoError(t, tx.PutProduct(ctx, p))

		again, err := tx.GetProduct(ctx, "p1")
		require.NoError(t, err)
		assert.Equal(t, 2, again.Sizes[0].Stock)

		// Not visible outside the transaction before commit.
		outside, err := s.GetProduct(ctx, "p1")
		require.NoError(t, err)
		assert.Equal(t, 5, outside.Sizes[0].Stock)
		return nil
	})
	require.NoError(t, err)

	p, err := s.GetProduct(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 2, p.Sizes[0].Stock)
}

func TestMemoryTransactionAbortDiscardsWrites(t *testing.T) {
	s := NewMemoryStore()
	seedProduct(t, s, "p1", 5)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.RunTransaction(ctx, func(ctx context.Context, tx Tx) error {
		p, err := tx.GetProduct(ctx, "p1")
		require.NoError(t, err)
		p.Sizes[0].Stock = 0
		require.NoError(t, tx.PutProduct(ctx, p))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	p, err := s.GetProduct(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 5, p.Sizes[0].Stock)
}

func TestMemoryTransactionRetriesOnConflict(t *testing.T) {
	s := NewMemoryStore(WithRetryPolicy(RetryPolicy{MaxAttempts: 3}))
	seedProduct(t, s, "p1", 5)
	ctx := context.Background()

	attempts := 0
	err := s.RunTransaction(ctx, func(ctx context.Context, tx Tx) error {
		attempts++
		p, err := tx.GetProduct(ctx, "p1")
		if err != nil {
			return err
		}

		if attempts == 1 {
			// A competing writer commits between our read and our commit.
			require.NoError(t, s.RunTransaction(ctx, func(ctx context.Context, other Tx) error {
				q, err := other.GetProduct(ctx, "p1")
				if err != nil {
					return err
				}
				q.Sizes[0].Stock--
				return other.PutProduct(ctx, q)
			}))
		}

		p.Sizes[0].Stock--
		return tx.PutProduct(ctx, p)
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)

	p, err := s.GetProduct(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 3, p.Sizes[0].Stock)
}

func TestMemoryTransactionConflictExhausted(t *testing.T) {
	s := NewMemoryStore(WithRetryPolicy(RetryPolicy{MaxAttempts: 2}))
	seedProduct(t, s, "p1", 5)
	ctx := context.Background()

	err := s.RunTransaction(ctx, func(ctx context.Context, tx Tx) error {
		p, err := tx.GetProduct(ctx, "p1")
		if err != nil {
			return err
		}
		require.NoError(t, s.RunTransaction(ctx, func(ctx context.Context, other Tx) error {
			q, err := other.GetProduct(ctx, "p1")
			if err != nil {
				return err
			}
			return other.PutProduct(ctx, q)
		}))
		return tx.PutProduct(ctx, p)
	})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestMemoryTransactionMissingProduct(t *testing.T) {
	s := NewMemoryStore()
	err := s.RunTransaction(context.Background(), func(ctx context.Context, tx Tx) error {
		_, err := tx.GetProduct(ctx, "missing")
		return err
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryConcurrentIncrements(t *testing.T) {
	s := NewMemoryStore(WithRetryPolicy(RetryPolicy{MaxAttempts: 1000}))
	seedProduct(t, s, "p1", 100)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.RunTransaction(ctx, func(ctx context.Context, tx Tx) error {
				p, err := tx.GetProduct(ctx, "p1")
				if err != nil {
					return err
				}
				p.Sizes[0].Stock--
				p.Sizes[0].NextSerial++
				return tx.PutProduct(ctx, p)
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	p, err := s.GetProduct(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 50, p.Sizes[0].Stock)
	assert.Equal(t, 51, p.Sizes[0].NextSerial)
}

func TestMemoryOrders(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	for i, id := range []string{"AAA", "BBB", "CCC"} {
		require.NoError(t, s.CreateOrder(ctx, &models.Order{
			ID:        id,
			Products:  []models.LineItem{{ProductID: "p" + id}},
			Status:    map[string]models.FulfillmentStatus{"artist": models.FulfillmentStatusPending},
			CreatedAt: now.Add(time.Duration(i) * time.Minute),
		}))
	}

	err := s.CreateOrder(ctx, &models.Order{ID: "AAA"})
	assert.ErrorIs(t, err, ErrAlreadyExists)

	page, total, err := s.ListOrders(ctx, 0, 2)
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	require.Len(t, page, 2)
	assert.Equal(t, "CCC", page[0].ID)
	assert.Equal(t, "BBB", page[1].ID)

	page, _, err = s.ListOrders(ctx, 10, 2)
	require.NoError(t, err)
	assert.Empty(t, page)

	found, err := s.FindOrdersByProduct(ctx, "pBBB")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "BBB", found[0].ID)

	before, err := s.GetOrder(ctx, "AAA")
	require.NoError(t, err)
	require.NoError(t, s.UpdateOrderStatus(ctx, "AAA", "artist", models.FulfillmentStatusShipped))
	assert.Equal(t, models.FulfillmentStatusPending, before.Status["artist"])

	after, err := s.GetOrder(ctx, "AAA")
	require.NoError(t, err)
	assert.Equal(t, models.FulfillmentStatusShipped, after.Status["artist"])

	assert.ErrorIs(t, s.UpdateOrderStatus(ctx, "ZZZ", "artist", models.FulfillmentStatusShipped), ErrNotFound)
}

func TestMemoryAppendCustomerOrder(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for _, id := range []string{"A", "B", "C", "D"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			assert.NoError(t, s.AppendCustomerOrder(ctx, "buyer@example.com", id))
		}(id)
	}
	wg.Wait()

	c, err := s.GetCustomer(ctx, "buyer@example.com")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"A", "B", "C", "D"}, c.OrderIDs)

	_, err = s.GetCustomer(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, ErrNotFound)
}
