// internal/services/reconciliation_service.go
package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/printshop/storefront-backend/internal/models"
	"github.com/printshop/storefront-backend/internal/store"
)

type ReportArchiver interface {
	ArchiveReconciliation(ctx context.Context, record *models.ReconciliationRecord) (string, error)
}

// ReconciliationService keeps track of payment events whose inventory
// effects have no matching order.
type ReconciliationService struct {
	store    store.DocumentStore
	archiver ReportArchiver
}

func NewReconciliationService(st store.DocumentStore, archiver ReportArchiver) *ReconciliationService {
	return &ReconciliationService{
		store:    st,
		archiver: archiver,
	}
}

// Record stores and archives record. A payment is recorded once: the
// processor keeps redelivering an event that cannot be applied, and every
// later failure points at the same repair.
func (s *ReconciliationService) Record(ctx context.Context, record *models.ReconciliationRecord) error {
	exists, err := s.store.HasReconciliation(ctx, record.PaymentID)
	if err != nil {
		return err
	}
	if exists {
		logrus.WithFields(logrus.Fields{
			"payment_id": record.PaymentID,
			"reason":     record.Reason,
		}).Info("Payment already awaiting reconciliation")
		return nil
	}

	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	if err := s.store.SaveReconciliation(ctx, record); err != nil {
		return fmt.Errorf("failed to save reconciliation record: %w", err)
	}

	if s.archiver != nil {
		key, err := s.archiver.ArchiveReconciliation(ctx, record)
		if err != nil {
			// The stored record is enough to act on; the archive copy is not.
			logrus.WithError(err).WithField("record_id", record.ID).Warn("Failed to archive reconciliation record")
			return nil
		}
		logrus.WithFields(logrus.Fields{
			"record_id": record.ID,
			"key":       key,
		}).Info("Reconciliation record archived")
	}

	return nil
}
