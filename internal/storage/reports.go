package storage

import (
	"context"
	"reportbot/backend/internal/models"
	"time"
)

// CreateReport зберігає скаргу зі статусом pending. ReportID генерується хуком.
func (s *Service) CreateReport(ctx context.Context, report *models.Report) error {
	if !report.CreatedAt.IsZero() {
		report.CreatedAt = report.CreatedAt.UTC()
	}
	return translate(s.DB.WithContext(ctx).Create(report).Error)
}

// CompleteReport фіксує підсумок симуляції. Дозволено лише перехід pending -> completed.
func (s *Service) CompleteReport(ctx context.Context, reportID string, successful, failed int, at time.Time) error {
	res := s.DB.WithContext(ctx).Model(&models.Report{}).
		Where("report_id = ? AND status = ?", reportID, models.ReportPending).
		Updates(map[string]interface{}{
			"status":       models.ReportCompleted,
			"successful":   successful,
			"failed":       failed,
			"completed_at": at.UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 1 {
		return nil
	}
	if _, err := s.GetReport(ctx, reportID); err != nil {
		return err
	}
	return ErrConflict
}

func (s *Service) GetReport(ctx context.Context, reportID string) (*models.Report, error) {
	var report models.Report
	if err := s.DB.WithContext(ctx).Where("report_id = ?", reportID).First(&report).Error; err != nil {
		return nil, translate(err)
	}
	return &report, nil
}

// ListReportsByUser повертає останні скарги користувача, новіші першими.
func (s *Service) ListReportsByUser(ctx context.Context, userID int64, limit int) ([]models.Report, error) {
	var reports []models.Report
	q := s.DB.WithContext(ctx).Where("user_id = ?", userID).Order("created_at desc, id desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&reports).Error
	return reports, err
}

func (s *Service) CountReports(ctx context.Context) (int64, error) {
	var n int64
	err := s.DB.WithContext(ctx).Model(&models.Report{}).Count(&n).Error
	return n, err
}

// CountReportsSince рахує скарги користувача, створені не раніше since.
func (s *Service) CountReportsSince(ctx context.Context, userID int64, since time.Time) (int64, error) {
	var n int64
	err := s.DB.WithContext(ctx).Model(&models.Report{}).
		Where("user_id = ? AND created_at >= ?", userID, since.UTC()).
		Count(&n).Error
	return n, err
}
