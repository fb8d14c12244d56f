package services

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/smtp"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/printshop/storefront-backend/internal/config"
	"github.com/printshop/storefront-backend/internal/models"
	"github.com/printshop/storefront-backend/internal/store"
)

func sampleOrder() *models.Order {
	created := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	return &models.Order{
		ID:            "A1B2C3D4",
		PaymentID:     "cs_test_xxA1B2C3D4",
		CustomerEmail: "buyer@example.com",
		CustomerName:  "Ada Buyer",
		Products: []models.LineItem{
			{ProductID: "dune", Title: "Dune", ArtistID: "artist-1", Size: "A4", FrameOption: models.FrameOptionFramed, FrameColor: "oak", Quantity: 2,
				Units: []models.IssuedUnit{{Serial: 7, Size: "A4"}, {Serial: 8, Size: "A4"}}},
			{ProductID: "moon", Title: "Moon", ArtistID: "artist-2", Size: "A3", FrameOption: models.FrameOptionNone, Quantity: 1,
				Units: []models.IssuedUnit{{Serial: 1, Size: "A3"}}},
		},
		Total:        132.5,
		Currency:     "eur",
		Status:       map[string]models.FulfillmentStatus{"artist-2": models.FulfillmentStatusPending, "artist-1": models.FulfillmentStatusPending},
		CreatedAt:    created,
		DeliveryDate: created.AddDate(0, 0, 14),
	}
}

type capturedMail struct {
	addr string
	to   []string
	msg  string
}

func newTestNotifier(host string) (*NotificationService, *[]capturedMail) {
	var sent []capturedMail
	svc := NewNotificationService(
		config.EmailConfig{SMTPHost: host, SMTPPort: "587", FromEmail: "orders@shop.example", FromName: "Shop"},
		config.FrontendConfig{BaseURL: "https://shop.example"},
	)
	svc.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		sent = append(sent, capturedMail{addr: addr, to: to, msg: string(msg)})
		return nil
	}
	return svc, &sent
}

func TestSendOrderConfirmation(t *testing.T) {
	svc, sent := newTestNotifier("smtp.example")

	require.NoError(t, svc.SendOrderConfirmation(sampleOrder()))
	require.Len(t, *sent, 1)

	mail := (*sent)[0]
	assert.Equal(t, "smtp.example:587", mail.addr)
	assert.Equal(t, []string{"buyer@example.com"}, mail.to)
	assert.Contains(t, mail.msg, "Subject: Order Confirmation - A1B2C3D4")
	assert.Contains(t, mail.msg, "#7 #8")
	assert.Contains(t, mail.msg, "framed oak")
	assert.Contains(t, mail.msg, "15 March 2025")
	assert.Contains(t, mail.msg, "https://shop.example/orders/A1B2C3D4")
}

func TestSendShippingUpdateListsOnlyArtistItems(t *testing.T) {
	svc, sent := newTestNotifier("smtp.example")

	require.NoError(t, svc.SendShippingUpdate(sampleOrder(), "artist-2"))
	require.Len(t, *sent, 1)
	assert.Contains(t, (*sent)[0].msg, "Moon")
	assert.NotContains(t, (*sent)[0].msg, "Dune")
}

func TestNotificationWithoutSMTPIsNoop(t *testing.T) {
	svc, sent := newTestNotifier("")

	require.NoError(t, svc.SendOrderConfirmation(sampleOrder()))
	assert.Empty(t, *sent)
}

type fakeWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestPublishOrderCreated(t *testing.T) {
	w := &fakeWriter{}
	pub := &EventPublisher{writer: w}

	require.NoError(t, pub.PublishOrderCreated(context.Background(), sampleOrder()))
	require.Len(t, w.messages, 1)
	assert.Equal(t, "A1B2C3D4", string(w.messages[0].Key))

	var event OrderCreatedEvent
	require.NoError(t, json.Unmarshal(w.messages[0].Value, &event))
	assert.Equal(t, "order.created", event.EventType)
	assert.Equal(t, []string{"artist-1", "artist-2"}, event.ArtistIDs)
	assert.Len(t, event.Products, 2)

	w.err = errors.New("broker down")
	assert.Error(t, pub.PublishOrderCreated(context.Background(), sampleOrder()))

	require.NoError(t, pub.Close())
	assert.True(t, w.closed)
}

func TestDisabledPublisher(t *testing.T) {
	pub := NewEventPublisher(config.KafkaConfig{})
	assert.Nil(t, pub)
	assert.NoError(t, pub.PublishOrderCreated(context.Background(), sampleOrder()))
	assert.NoError(t, pub.Close())
}

type fakeS3 struct {
	s3iface.S3API
	inputs []*s3.PutObjectInput
	bodies []string
	err    error
}

func (f *fakeS3) PutObjectWithContext(ctx aws.Context, input *s3.PutObjectInput, opts ...request.Option) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, _ := io.ReadAll(input.Body)
	f.inputs = append(f.inputs, input)
	f.bodies = append(f.bodies, string(body))
	return &s3.PutObjectOutput{}, nil
}

func TestArchiveReconciliation(t *testing.T) {
	client := &fakeS3{}
	svc := NewStorageServiceWithClient(client, "recon-bucket")

	record := &models.ReconciliationRecord{
		ID:                  "rec-1",
		PaymentID:           "cs_test_1",
		CommittedProductIDs: []string{"dune"},
		FailedProductID:     "moon",
		Reason:              "insufficient_stock",
		CreatedAt:           time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
	}
	key, err := svc.ArchiveReconciliation(context.Background(), record)
	require.NoError(t, err)

	assert.Equal(t, "reconciliation/20250301/rec-1.json", key)
	require.Len(t, client.inputs, 1)
	assert.Equal(t, "recon-bucket", aws.StringValue(client.inputs[0].Bucket))
	assert.Contains(t, client.bodies[0], `"failed_product_id": "moon"`)
}

func TestReconciliationSurvivesArchiveFailure(t *testing.T) {
	st := store.NewMemoryStore()
	svc := NewReconciliationService(st, NewStorageServiceWithClient(&fakeS3{err: errors.New("s3 down")}, "recon-bucket"))

	require.NoError(t, svc.Record(context.Background(), &models.ReconciliationRecord{PaymentID: "cs_test_2", Reason: "store_error"}))

	records := st.Reconciliations()
	require.Len(t, records, 1)
	assert.NotEmpty(t, records[0].ID)
	assert.False(t, records[0].CreatedAt.IsZero())
}

func TestReconciliationRecordedOncePerPayment(t *testing.T) {
	st := store.NewMemoryStore()
	client := &fakeS3{}
	svc := NewReconciliationService(st, NewStorageServiceWithClient(client, "recon-bucket"))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, svc.Record(ctx, &models.ReconciliationRecord{PaymentID: "cs_test_3", Reason: "insufficient_stock"}))
	}
	require.NoError(t, svc.Record(ctx, &models.ReconciliationRecord{PaymentID: "cs_test_4", Reason: "insufficient_stock"}))

	records := st.Reconciliations()
	require.Len(t, records, 2)
	assert.Equal(t, "cs_test_3", records[0].PaymentID)
	assert.Equal(t, "cs_test_4", records[1].PaymentID)
	assert.Len(t, client.inputs, 2)
}
