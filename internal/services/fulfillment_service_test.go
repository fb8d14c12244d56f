package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/printshop/storefront-backend/internal/config"
	"github.com/printshop/storefront-backend/internal/models"
	"github.com/printshop/storefront-backend/internal/store"
)

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type recordingArchiver struct {
	mu      sync.Mutex
	records []models.ReconciliationRecord
}

func (a *recordingArchiver) ArchiveReconciliation(ctx context.Context, record *models.ReconciliationRecord) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, *record)
	return "reconciliation/" + record.ID + ".json", nil
}

func (a *recordingArchiver) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.records)
}

type chanNotifier struct {
	confirmations chan *models.Order
	shipped       chan string
}

func newChanNotifier() *chanNotifier {
	return &chanNotifier{
		confirmations: make(chan *models.Order, 16),
		shipped:       make(chan string, 16),
	}
}

func (n *chanNotifier) SendOrderConfirmation(order *models.Order) error {
	n.confirmations <- order
	return nil
}

func (n *chanNotifier) SendShippingUpdate(order *models.Order, artistID string) error {
	n.shipped <- order.ID + "/" + artistID
	return nil
}

type fulfillmentFixture struct {
	store    *store.MemoryStore
	archiver *recordingArchiver
	notifier *chanNotifier
	service  *FulfillmentService
}

func newFulfillmentFixture(t *testing.T, opts ...store.MemoryOption) *fulfillmentFixture {
	t.Helper()

	st := store.NewMemoryStore(opts...)
	archiver := &recordingArchiver{}
	notifier := newChanNotifier()
	cfg := config.FulfillmentConfig{
		DeliveryOffsetDays: 14,
		OrderIDLength:      8,
		TxMaxAttempts:      5,
	}

	svc := NewFulfillmentService(st, cfg, notifier, nil, NewReconciliationService(st, archiver))
	svc.now = func() time.Time { return fixedNow }

	return &fulfillmentFixture{
		store:    st,
		archiver: archiver,
		notifier: notifier,
		service:  svc,
	}
}

func (f *fulfillmentFixture) seed(t *testing.T, id, artist string, sizes ...models.SizeEntry) {
	t.Helper()
	require.NoError(t, f.store.CreateProduct(context.Background(), &models.Product{
		ID:        id,
		Title:     "Print " + id,
		ArtistID:  artist,
		Status:    models.ProductStatusActive,
		Sizes:     sizes,
		CreatedAt: fixedNow,
	}))
}

func (f *fulfillmentFixture) product(t *testing.T, id string) *models.Product {
	t.Helper()
	p, err := f.store.GetProduct(context.Background(), id)
	require.NoError(t, err)
	return p
}

func edition(size string, stock int) models.SizeEntry {
	return models.SizeEntry{Size: size, Price: 45, Stock: stock, InitialStock: stock, NextSerial: 1}
}

func purchase(paymentID string, items ...PurchaseLineItem) *PurchaseEvent {
	var total int64
	for _, item := range items {
		total += item.UnitPriceMinor * int64(item.Quantity)
	}
	return &PurchaseEvent{
		PaymentID:        paymentID,
		LineItems:        items,
		BuyerEmail:       "buyer@example.com",
		BuyerName:        "Ada Buyer",
		ShippingAddress:  models.Address{Line1: "1 Main St", City: "Berlin", PostalCode: "10115", Country: "DE"},
		AmountTotalMinor: total,
		Currency:         "EUR",
	}
}

func line(productID, size string, qty int) PurchaseLineItem {
	return PurchaseLineItem{ProductID: productID, Size: size, Quantity: qty, UnitPriceMinor: 4500}
}

func serials(units []models.IssuedUnit) []int {
	out := make([]int, 0, len(units))
	for _, u := range units {
		out = append(out, u.Serial)
	}
	return out
}

func TestDeriveOrderID(t *testing.T) {
	assert.Equal(t, "C3D4E5F6", DeriveOrderID("cs_test_a1b2c3d4e5f6", 8))
	assert.Equal(t, "ABC", DeriveOrderID("abc", 8))
	assert.Equal(t, "CS_X", DeriveOrderID("cs_x", 0))
}

func TestApplyPurchaseSingleProduct(t *testing.T) {
	f := newFulfillmentFixture(t)
	f.seed(t, "dune", "artist-1", edition("A4", 5), edition("A3", 2))
	ctx := context.Background()

	order, err := f.service.ApplyPurchase(ctx, purchase("cs_test_session0001", line("dune", "A4", 2)))
	require.NoError(t, err)

	assert.Equal(t, "SION0001", order.ID)
	assert.Equal(t, "cs_test_session0001", order.PaymentID)
	assert.Equal(t, "eur", order.Currency)
	assert.Equal(t, 90.0, order.Subtotal)
	assert.Equal(t, 90.0, order.Total)
	assert.Equal(t, map[string]models.FulfillmentStatus{"artist-1": models.FulfillmentStatusPending}, order.Status)
	assert.Equal(t, fixedNow.AddDate(0, 0, 14), order.DeliveryDate)

	require.Len(t, order.Products, 1)
	li := order.Products[0]
	assert.Equal(t, "Print dune", li.Title)
	assert.Equal(t, models.FrameOptionNone, li.FrameOption)
	assert.Equal(t, []int{1, 2}, serials(li.Units))
	for _, u := range li.Units {
		assert.Equal(t, order.ID, u.OrderID)
		assert.Equal(t, "dune", u.ProductID)
	}

	p := f.product(t, "dune")
	a4, _ := p.Size("A4")
	assert.Equal(t, 3, a4.Stock)
	assert.Equal(t, 3, a4.NextSerial)
	a3, _ := p.Size("A3")
	assert.Equal(t, 2, a3.Stock)
	assert.Len(t, p.IdentificationNumbers, 2)

	stored, err := f.store.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.Products, stored.Products)

	customer, err := f.store.GetCustomer(ctx, "buyer@example.com")
	require.NoError(t, err)
	assert.Equal(t, []string{order.ID}, customer.OrderIDs)

	select {
	case sent := <-f.notifier.confirmations:
		assert.Equal(t, order.ID, sent.ID)
	case <-time.After(time.Second):
		t.Fatal("order confirmation was not sent")
	}
}

func TestApplyPurchaseSerialsContinueAcrossOrders(t *testing.T) {
	f := newFulfillmentFixture(t)
	f.seed(t, "dune", "artist-1", edition("A4", 10))
	ctx := context.Background()

	first, err := f.service.ApplyPurchase(ctx, purchase("cs_test_first0001", line("dune", "A4", 3)))
	require.NoError(t, err)
	second, err := f.service.ApplyPurchase(ctx, purchase("cs_test_second002", line("dune", "A4", 2)))
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2, 3}, serials(first.Products[0].Units))
	assert.Equal(t, []int{4, 5}, serials(second.Products[0].Units))
}

func TestApplyPurchaseSameProductTwoLines(t *testing.T) {
	f := newFulfillmentFixture(t)
	f.seed(t, "dune", "artist-1", edition("A4", 5), edition("A3", 5))

	event := purchase("cs_test_twolines01",
		line("dune", "A4", 1),
		line("dune", "A3", 2),
		line("dune", "A4", 1),
	)
	event.LineItems[2].FrameOption = models.FrameOptionFramed
	event.LineItems[2].FrameColor = "black"

	order, err := f.service.ApplyPurchase(context.Background(), event)
	require.NoError(t, err)

	require.Len(t, order.Products, 3)
	assert.Equal(t, []int{1}, serials(order.Products[0].Units))
	assert.Equal(t, []int{1, 2}, serials(order.Products[1].Units))
	assert.Equal(t, []int{2}, serials(order.Products[2].Units))
	assert.Equal(t, models.FrameOptionFramed, order.Products[2].Units[0].FrameOption)
	assert.Equal(t, "black", order.Products[2].Units[0].FrameColor)

	p := f.product(t, "dune")
	a4, _ := p.Size("A4")
	assert.Equal(t, 3, a4.Stock)
}

func TestApplyPurchasePartialFailureRecordsReconciliation(t *testing.T) {
	f := newFulfillmentFixture(t)
	f.seed(t, "dune", "artist-1", edition("A4", 5))
	f.seed(t, "moon", "artist-2", edition("A4", 1))
	ctx := context.Background()

	event := purchase("cs_test_partial001", line("dune", "A4", 2), line("moon", "A4", 3))
	_, err := f.service.ApplyPurchase(ctx, event)
	require.ErrorIs(t, err, ErrInsufficientStock)

	// The first product committed; the second did not.
	dune, _ := f.product(t, "dune").Size("A4")
	assert.Equal(t, 3, dune.Stock)
	moon := f.product(t, "moon")
	moonA4, _ := moon.Size("A4")
	assert.Equal(t, 1, moonA4.Stock)
	assert.Empty(t, moon.IdentificationNumbers)

	_, err = f.store.GetOrder(ctx, DeriveOrderID(event.PaymentID, 8))
	assert.ErrorIs(t, err, store.ErrNotFound)

	records := f.store.Reconciliations()
	require.Len(t, records, 1)
	assert.Equal(t, event.PaymentID, records[0].PaymentID)
	assert.Equal(t, []string{"dune"}, records[0].CommittedProductIDs)
	assert.Equal(t, "moon", records[0].FailedProductID)
	assert.Equal(t, "insufficient_stock", records[0].Reason)
	assert.Equal(t, 1, f.archiver.count())
}

func TestApplyPurchaseReplayAfterPartialFailure(t *testing.T) {
	f := newFulfillmentFixture(t)
	f.seed(t, "dune", "artist-1", edition("A4", 5))
	f.seed(t, "moon", "artist-2", edition("A4", 1))
	ctx := context.Background()

	event := purchase("cs_test_partial002", line("dune", "A4", 2), line("moon", "A4", 3))
	_, err := f.service.ApplyPurchase(ctx, event)
	require.ErrorIs(t, err, ErrInsufficientStock)

	// Restock the failing product, then the provider redelivers the event.
	require.NoError(t, f.store.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		p, err := tx.GetProduct(ctx, "moon")
		if err != nil {
			return err
		}
		entry, _ := p.Size("A4")
		entry.Stock = 5
		return tx.PutProduct(ctx, p)
	}))

	order, err := f.service.ApplyPurchase(ctx, event)
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2}, serials(order.Products[0].Units))
	assert.Equal(t, []int{1, 2, 3}, serials(order.Products[1].Units))

	dune := f.product(t, "dune")
	duneA4, _ := dune.Size("A4")
	assert.Equal(t, 3, duneA4.Stock, "committed product must not be charged twice")
	assert.Len(t, dune.IdentificationNumbers, 2)
	assert.Len(t, order.Status, 2)
}

func TestApplyPurchaseMissingProductNothingCommitted(t *testing.T) {
	f := newFulfillmentFixture(t)
	f.seed(t, "dune", "artist-1", edition("A4", 5))
	ctx := context.Background()

	_, err := f.service.ApplyPurchase(ctx, purchase("cs_test_missing001", line("ghost", "A4", 1), line("dune", "A4", 1)))
	require.ErrorIs(t, err, ErrProductNotFound)

	dune, _ := f.product(t, "dune").Size("A4")
	assert.Equal(t, 5, dune.Stock)
	assert.Empty(t, f.store.Reconciliations())
	assert.Zero(t, f.archiver.count())
}

func TestApplyPurchaseUnknownSize(t *testing.T) {
	f := newFulfillmentFixture(t)
	f.seed(t, "dune", "artist-1", edition("A4", 5))

	_, err := f.service.ApplyPurchase(context.Background(), purchase("cs_test_badsize01", line("dune", "XL", 1)))
	require.ErrorIs(t, err, ErrSizeNotFound)

	p := f.product(t, "dune")
	assert.Empty(t, p.IdentificationNumbers)
}

func TestApplyPurchaseInsufficientStockIsAtomicPerProduct(t *testing.T) {
	f := newFulfillmentFixture(t)
	f.seed(t, "dune", "artist-1", edition("A4", 5), edition("A3", 1))

	// The first line fits, the second does not: neither may be applied.
	_, err := f.service.ApplyPurchase(context.Background(), purchase("cs_test_atomic001", line("dune", "A4", 2), line("dune", "A3", 2)))
	require.ErrorIs(t, err, ErrInsufficientStock)

	p := f.product(t, "dune")
	a4, _ := p.Size("A4")
	assert.Equal(t, 5, a4.Stock)
	assert.Equal(t, 1, a4.NextSerial)
	assert.Empty(t, p.IdentificationNumbers)
}

func TestApplyPurchaseDuplicateDelivery(t *testing.T) {
	f := newFulfillmentFixture(t)
	f.seed(t, "dune", "artist-1", edition("A4", 5))
	ctx := context.Background()

	event := purchase("cs_test_dupe00001", line("dune", "A4", 2))
	first, err := f.service.ApplyPurchase(ctx, event)
	require.NoError(t, err)
	second, err := f.service.ApplyPurchase(ctx, event)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Products, second.Products)

	a4, _ := f.product(t, "dune").Size("A4")
	assert.Equal(t, 3, a4.Stock)

	customer, err := f.store.GetCustomer(ctx, "buyer@example.com")
	require.NoError(t, err)
	assert.Len(t, customer.OrderIDs, 1)
}

func TestApplyPurchaseOrderIDCollision(t *testing.T) {
	f := newFulfillmentFixture(t)
	f.seed(t, "dune", "artist-1", edition("A4", 5))
	ctx := context.Background()

	_, err := f.service.ApplyPurchase(ctx, purchase("cs_test_aaaa12345678", line("dune", "A4", 1)))
	require.NoError(t, err)

	_, err = f.service.ApplyPurchase(ctx, purchase("cs_test_bbbb12345678", line("dune", "A4", 1)))
	require.ErrorIs(t, err, ErrOrderIDCollision)

	a4, _ := f.product(t, "dune").Size("A4")
	assert.Equal(t, 4, a4.Stock)

	records := f.store.Reconciliations()
	require.Len(t, records, 1)
	assert.Equal(t, "order_id_collision", records[0].Reason)
}

func TestApplyPurchaseCollisionWithUnitsOfFailedPayment(t *testing.T) {
	f := newFulfillmentFixture(t)
	f.seed(t, "dune", "artist-1", edition("A4", 5))
	f.seed(t, "moon", "artist-2", edition("A4", 1))
	ctx := context.Background()

	// The first payment commits dune, then fails on moon: no order exists,
	// but dune holds units under the shared order id.
	_, err := f.service.ApplyPurchase(ctx, purchase("cs_test_aaaa12345678", line("dune", "A4", 2), line("moon", "A4", 3)))
	require.ErrorIs(t, err, ErrInsufficientStock)

	_, err = f.service.ApplyPurchase(ctx, purchase("cs_test_bbbb12345678", line("dune", "A4", 2)))
	require.ErrorIs(t, err, ErrOrderIDCollision)

	_, err = f.store.GetOrder(ctx, "12345678")
	assert.ErrorIs(t, err, store.ErrNotFound)

	dune := f.product(t, "dune")
	a4, _ := dune.Size("A4")
	assert.Equal(t, 3, a4.Stock)
	assert.Equal(t, 3, a4.NextSerial)
	require.Len(t, dune.IdentificationNumbers, 2)
	for _, u := range dune.IdentificationNumbers {
		assert.Equal(t, "cs_test_aaaa12345678", u.PaymentID)
	}

	records := f.store.Reconciliations()
	require.Len(t, records, 2)
	assert.Equal(t, "cs_test_bbbb12345678", records[1].PaymentID)
	assert.Equal(t, "order_id_collision", records[1].Reason)
}

func TestApplyPurchaseUnknownSizeAfterCommit(t *testing.T) {
	f := newFulfillmentFixture(t)
	f.seed(t, "dune", "artist-1", edition("A4", 5))
	f.seed(t, "moon", "artist-2", edition("A4", 5))
	ctx := context.Background()

	event := purchase("cs_test_sizefail01", line("dune", "A4", 2), line("moon", "XL", 1))
	_, err := f.service.ApplyPurchase(ctx, event)
	require.ErrorIs(t, err, ErrSizeNotFound)

	dune := f.product(t, "dune")
	a4, _ := dune.Size("A4")
	assert.Equal(t, 3, a4.Stock)
	assert.Equal(t, []int{1, 2}, serials(dune.IdentificationNumbers))

	moon := f.product(t, "moon")
	moonA4, _ := moon.Size("A4")
	assert.Equal(t, 5, moonA4.Stock)
	assert.Empty(t, moon.IdentificationNumbers)

	_, err = f.store.GetOrder(ctx, DeriveOrderID(event.PaymentID, 8))
	assert.ErrorIs(t, err, store.ErrNotFound)

	records := f.store.Reconciliations()
	require.Len(t, records, 1)
	assert.Equal(t, "size_not_found", records[0].Reason)
	assert.Equal(t, []string{"dune"}, records[0].CommittedProductIDs)
	assert.Equal(t, "moon", records[0].FailedProductID)
}

func TestApplyPurchaseRedeliveredFailureRecordedOnce(t *testing.T) {
	f := newFulfillmentFixture(t)
	f.seed(t, "dune", "artist-1", edition("A4", 5))
	f.seed(t, "moon", "artist-2", edition("A4", 1))
	ctx := context.Background()

	event := purchase("cs_test_stuck00001", line("dune", "A4", 2), line("moon", "A4", 3))
	for i := 0; i < 3; i++ {
		_, err := f.service.ApplyPurchase(ctx, event)
		require.ErrorIs(t, err, ErrInsufficientStock)
	}

	assert.Len(t, f.store.Reconciliations(), 1)
	assert.Equal(t, 1, f.archiver.count())

	a4, _ := f.product(t, "dune").Size("A4")
	assert.Equal(t, 3, a4.Stock)
}

func TestApplyPurchaseRejectsInvalidEvent(t *testing.T) {
	f := newFulfillmentFixture(t)

	_, err := f.service.ApplyPurchase(context.Background(), &PurchaseEvent{PaymentID: "cs_test_empty0001", BuyerEmail: "buyer@example.com"})
	assert.ErrorIs(t, err, ErrInvalidEvent)

	_, err = f.service.ApplyPurchase(context.Background(), purchase("cs_test_zeroqty01", line("dune", "A4", 0)))
	assert.ErrorIs(t, err, ErrInvalidEvent)
}

func TestApplyPurchaseMarksSoldOut(t *testing.T) {
	f := newFulfillmentFixture(t)
	f.seed(t, "dune", "artist-1", edition("A4", 2))

	_, err := f.service.ApplyPurchase(context.Background(), purchase("cs_test_soldout01", line("dune", "A4", 2)))
	require.NoError(t, err)

	assert.Equal(t, models.ProductStatusSoldOut, f.product(t, "dune").Status)
}

func TestApplyPurchaseConcurrentBuyersNeverOversell(t *testing.T) {
	const stock = 10
	const buyers = 25

	f := newFulfillmentFixture(t, store.WithRetryPolicy(store.RetryPolicy{MaxAttempts: 1000}))
	f.service.notifier = nil
	f.seed(t, "dune", "artist-1", edition("A4", stock))

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded []*models.Order
		rejected  int
	)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			order, err := f.service.ApplyPurchase(context.Background(), purchase(fmt.Sprintf("cs_test_buyer%04d", i), line("dune", "A4", 1)))
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				assert.ErrorIs(t, err, ErrInsufficientStock)
				rejected++
				return
			}
			succeeded = append(succeeded, order)
		}(i)
	}
	wg.Wait()

	assert.Len(t, succeeded, stock)
	assert.Equal(t, buyers-stock, rejected)

	var issued []int
	for _, o := range succeeded {
		issued = append(issued, serials(o.Products[0].Units)...)
	}
	sort.Ints(issued)
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, issued)

	p := f.product(t, "dune")
	a4, _ := p.Size("A4")
	assert.Equal(t, 0, a4.Stock)
	assert.Equal(t, stock+1, a4.NextSerial)
	assert.Len(t, p.IdentificationNumbers, stock)
}

func TestApplyPurchaseTwoBuyersRaceForLastStock(t *testing.T) {
	f := newFulfillmentFixture(t, store.WithRetryPolicy(store.RetryPolicy{MaxAttempts: 1000}))
	f.service.notifier = nil
	f.seed(t, "dune", "artist-1", edition("A4", 3))

	var (
		wg     sync.WaitGroup
		orders = make([]*models.Order, 2)
		errs   = make([]error, 2)
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			orders[i], errs[i] = f.service.ApplyPurchase(context.Background(), purchase(fmt.Sprintf("cs_test_race%06d", i), line("dune", "A4", 2)))
		}(i)
	}
	wg.Wait()

	var won *models.Order
	failures := 0
	for i := range errs {
		if errs[i] != nil {
			assert.ErrorIs(t, errs[i], ErrInsufficientStock)
			failures++
			continue
		}
		won = orders[i]
	}
	assert.Equal(t, 1, failures)
	require.NotNil(t, won)
	assert.Equal(t, []int{1, 2}, serials(won.Products[0].Units))

	p := f.product(t, "dune")
	a4, _ := p.Size("A4")
	assert.Equal(t, 1, a4.Stock)
	assert.Equal(t, 3, a4.NextSerial)
	assert.Len(t, p.IdentificationNumbers, 2)
}
