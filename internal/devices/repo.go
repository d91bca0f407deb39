package devices

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/prasit-dev/slipgate-backend/pkg/db/models"
	"github.com/prasit-dev/slipgate-backend/pkg/pagination"
)

// Repository is the persistence surface for the device registry.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, device *models.MobileDevice) (*models.MobileDevice, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.MobileDevice, error)
	FindByCode(ctx context.Context, code string) (*models.MobileDevice, error)
	List(ctx context.Context, params pagination.Params) (*DeviceList, error)
	Update(ctx context.Context, id uuid.UUID, fields map[string]any) (bool, error)
	FindStaleOnline(ctx context.Context, cutoff time.Time, limit int) ([]models.MobileDevice, error)
	MarkOffline(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a gorm-backed device repository.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, device *models.MobileDevice) (*models.MobileDevice, error) {
	if err := r.db.WithContext(ctx).Create(device).Error; err != nil {
		return nil, err
	}
	return device, nil
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.MobileDevice, error) {
	var device models.MobileDevice
	if err := r.db.WithContext(ctx).First(&device, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &device, nil
}

func (r *repository) FindByCode(ctx context.Context, code string) (*models.MobileDevice, error) {
	var device models.MobileDevice
	if err := r.db.WithContext(ctx).First(&device, "device_code = ?", code).Error; err != nil {
		return nil, err
	}
	return &device, nil
}

func (r *repository) List(ctx context.Context, params pagination.Params) (*DeviceList, error) {
	cursor, err := pagination.ParseCursor(strings.TrimSpace(params.Cursor))
	if err != nil {
		return nil, err
	}
	limit := pagination.NormalizeLimit(params.Limit)

	query := r.db.WithContext(ctx).Model(&models.MobileDevice{})
	if cursor != nil {
		query = query.Where("(created_at, id) < (?, ?)", cursor.CreatedAt, cursor.ID)
	}

	var rows []models.MobileDevice
	if err := query.
		Order("created_at DESC, id DESC").
		Limit(pagination.LimitWithBuffer(limit)).
		Find(&rows).Error; err != nil {
		return nil, err
	}

	list := &DeviceList{Devices: make([]DeviceDTO, 0, len(rows))}
	if len(rows) > limit {
		rows = rows[:limit]
		next := rows[len(rows)-1]
		list.NextCursor = pagination.EncodeCursor(pagination.Cursor{CreatedAt: next.CreatedAt, ID: next.ID})
	}
	for _, row := range rows {
		list.Devices = append(list.Devices, NewDeviceDTO(row))
	}
	return list, nil
}

// Update applies fields to one device row and reports whether it existed.
func (r *repository) Update(ctx context.Context, id uuid.UUID, fields map[string]any) (bool, error) {
	if len(fields) == 0 {
		return false, nil
	}
	result := r.db.WithContext(ctx).
		Model(&models.MobileDevice{}).
		Where("id = ?", id).
		Updates(fields)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// FindStaleOnline returns devices still flagged online whose last heartbeat
// predates the cutoff.
func (r *repository) FindStaleOnline(ctx context.Context, cutoff time.Time, limit int) ([]models.MobileDevice, error) {
	var rows []models.MobileDevice
	err := r.db.WithContext(ctx).
		Where("online = ? AND (last_heartbeat_at IS NULL OR last_heartbeat_at < ?)", true, cutoff).
		Order("last_heartbeat_at ASC, id ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// MarkOffline flips a still-online device to offline.
func (r *repository) MarkOffline(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.MobileDevice{}).
		Where("id = ? AND online = ?", id, true).
		Updates(map[string]any{
			"online":     false,
			"updated_at": now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
