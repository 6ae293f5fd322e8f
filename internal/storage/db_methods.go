package storage

import (
	"context"
	"errors"
	"reportbot/backend/internal/models"
	"time"

	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// UpsertLogin створює користувача з login_count = 1 або оновлює існуючого
// та збільшує лічильник. Кожен виклик рахується як новий вхід.
func (s *Service) UpsertLogin(ctx context.Context, phone string, platformID int64, displayName, username string, at time.Time) (*models.User, error) {
	user, err := s.upsertLogin(ctx, phone, platformID, displayName, username, at.UTC())
	if errors.Is(err, ErrDuplicate) {
		// Паралельний перший вхід: рядок вже створено іншою транзакцією.
		user, err = s.upsertLogin(ctx, phone, platformID, displayName, username, at.UTC())
	}
	return user, err
}

func (s *Service) upsertLogin(ctx context.Context, phone string, platformID int64, displayName, username string, at time.Time) (*models.User, error) {
	var user models.User
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("platform_id = ?", platformID).First(&user).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			user = models.User{
				PlatformID:  platformID,
				Phone:       phone,
				DisplayName: displayName,
				Username:    username,
				LoginCount:  1,
				LastLoginAt: &at,
				CreatedAt:   at,
			}
			return tx.Create(&user).Error
		}
		if err != nil {
			return err
		}

		updates := map[string]interface{}{
			"display_name":  displayName,
			"username":      username,
			"login_count":   gorm.Expr("login_count + 1"),
			"last_login_at": at,
		}
		if phone != "" {
			updates["phone"] = phone
		}
		if err := tx.Model(&models.User{}).Where("id = ?", user.ID).Updates(updates).Error; err != nil {
			return err
		}
		return tx.First(&user, user.ID).Error
	})
	if err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

// GetUserByPlatformID повертає ErrNotFound, якщо користувач ще не входив.
func (s *Service) GetUserByPlatformID(ctx context.Context, platformID int64) (*models.User, error) {
	var user models.User
	if err := s.DB.WithContext(ctx).Where("platform_id = ?", platformID).First(&user).Error; err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

func (s *Service) CountUsers(ctx context.Context) (int64, error) {
	var n int64
	err := s.DB.WithContext(ctx).Model(&models.User{}).Count(&n).Error
	return n, err
}

// CreateAdmin додає адміністратора. Повертає ErrDuplicate для існуючого platform_id.
func (s *Service) CreateAdmin(ctx context.Context, admin *models.Admin) error {
	prepareAdmin(admin, time.Now())
	return translate(s.DB.WithContext(ctx).Create(admin).Error)
}

func prepareAdmin(admin *models.Admin, at time.Time) {
	if admin.AddedAt.IsZero() {
		admin.AddedAt = at.UTC()
	}
	if len(admin.Permissions) == 0 {
		admin.Permissions = datatypes.JSON("[]")
	}
	admin.Hidden = true
}

func (s *Service) GetAdmin(ctx context.Context, platformID int64) (*models.Admin, error) {
	var admin models.Admin
	if err := s.DB.WithContext(ctx).Where("platform_id = ?", platformID).First(&admin).Error; err != nil {
		return nil, translate(err)
	}
	return &admin, nil
}

func (s *Service) ListAdmins(ctx context.Context) ([]models.Admin, error) {
	var admins []models.Admin
	err := s.DB.WithContext(ctx).Order("added_at asc, id asc").Find(&admins).Error
	return admins, err
}

func (s *Service) CountAdmins(ctx context.Context) (int64, error) {
	var n int64
	err := s.DB.WithContext(ctx).Model(&models.Admin{}).Count(&n).Error
	return n, err
}

// EnsureOwner робить platformID єдиним власником: створює запис або підвищує
// існуючого адміністратора, а інших власників понижує до superadmin.
// Повертає true, якщо запис було створено.
func (s *Service) EnsureOwner(ctx context.Context, platformID int64, at time.Time) (bool, error) {
	created := false
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Admin{}).
			Where("level = ? AND platform_id <> ?", models.LevelOwner, platformID).
			Update("level", models.LevelSuperAdmin)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			log.WithField("owner", platformID).Warnf("demoted %d previous owner(s) to superadmin", res.RowsAffected)
		}

		var admin models.Admin
		err := tx.Where("platform_id = ?", platformID).First(&admin).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			admin = models.Admin{
				PlatformID: platformID,
				Level:      models.LevelOwner,
				AddedBy:    models.SystemActor,
			}
			prepareAdmin(&admin, at)
			created = true
			return tx.Create(&admin).Error
		}
		if err != nil {
			return err
		}
		if admin.Level == models.LevelOwner {
			return nil
		}
		return tx.Model(&models.Admin{}).Where("id = ?", admin.ID).Update("level", models.LevelOwner).Error
	})
	if err != nil {
		return false, translate(err)
	}
	return created, nil
}

// AppendActivity записує подію в журнал активності.
func (s *Service) AppendActivity(ctx context.Context, entry *models.ActivityLogEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	return translate(s.DB.WithContext(ctx).Create(entry).Error)
}

// ListActivity повертає останні події, новіші першими.
func (s *Service) ListActivity(ctx context.Context, limit int) ([]models.ActivityLogEntry, error) {
	var entries []models.ActivityLogEntry
	q := s.DB.WithContext(ctx).Order("id desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&entries).Error
	return entries, err
}
