package storage

import (
	"context"
	"reportbot/backend/internal/models"
	"time"
)

// CreateOTP зберігає новий код. Колізія (phone, code) повертає ErrDuplicate.
func (s *Service) CreateOTP(ctx context.Context, rec *models.OTPRecord) error {
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.ExpiresAt = rec.ExpiresAt.UTC()
	if rec.Status == "" {
		rec.Status = models.OTPPending
	}
	return translate(s.DB.WithContext(ctx).Create(rec).Error)
}

// LatestOTP повертає найновіший код для номера незалежно від статусу.
func (s *Service) LatestOTP(ctx context.Context, phone string) (*models.OTPRecord, error) {
	var rec models.OTPRecord
	err := s.DB.WithContext(ctx).
		Where("phone = ?", phone).
		Order("created_at desc, id desc").
		First(&rec).Error
	if err != nil {
		return nil, translate(err)
	}
	return &rec, nil
}

// MarkOTPVerified атомарно переводить код pending -> verified.
// false означає, що інший виклик вже використав цей код.
func (s *Service) MarkOTPVerified(ctx context.Context, id uint, at time.Time) (bool, error) {
	res := s.DB.WithContext(ctx).Model(&models.OTPRecord{}).
		Where("id = ? AND status = ?", id, models.OTPPending).
		Updates(map[string]interface{}{
			"status":      models.OTPVerified,
			"verified_at": at.UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// DeleteExpiredOTPs видаляє коди, що сплили до before.
func (s *Service) DeleteExpiredOTPs(ctx context.Context, before time.Time) (int64, error) {
	res := s.DB.WithContext(ctx).
		Where("expires_at < ?", before.UTC()).
		Delete(&models.OTPRecord{})
	return res.RowsAffected, res.Error
}
