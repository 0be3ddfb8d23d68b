// Package repo implements the persistence layer for the delivery audit log,
// backed by GORM. This file provides repository functions for the
// DeliveryRecord model. Records hold delivery metadata only; submission
// content is never written to disk.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/meridianedu/go-admissions-backend/internal/domain"
)

// CreateDelivery inserts an audit row for one outbound message attempt.
// transport is empty and sendErr non-nil when every transport failed.
func CreateDelivery(ctx context.Context, db *gorm.DB, submissionID string, kind domain.MessageKind, transport string, attachments int, sendErr error) (*domain.DeliveryRecord, error) {
	rec := &domain.DeliveryRecord{
		ID:           uuid.NewString(),
		SubmissionID: submissionID,
		Kind:         string(kind),
		Transport:    transport,
		Status:       domain.DeliveryStatusSent,
		Attachments:  attachments,
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}
	if sendErr != nil {
		rec.Status = domain.DeliveryStatusFailed
		rec.Error = sendErr.Error()
	}
	return rec, db.WithContext(ctx).Create(rec).Error
}

// ListDeliveriesPage returns a page of audit rows ordered newest first
// (CreatedAt DESC, ID DESC for a deterministic tie-break).
func ListDeliveriesPage(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.DeliveryRecord, error) {
	var out []domain.DeliveryRecord
	err := db.WithContext(ctx).
		Order("created_at DESC, id DESC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// CountDeliveries uses a raw COUNT so a missing table surfaces as an error.
func CountDeliveries(ctx context.Context, db *gorm.DB) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Raw("SELECT COUNT(*) FROM delivery_records WHERE deleted_at IS NULL").Scan(&total).Error
	return total, err
}
