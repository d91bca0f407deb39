package devices

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/prasit-dev/slipgate-backend/pkg/config"
	"github.com/prasit-dev/slipgate-backend/pkg/db"
	"github.com/prasit-dev/slipgate-backend/pkg/db/models"
	pkgerrors "github.com/prasit-dev/slipgate-backend/pkg/errors"
	"github.com/prasit-dev/slipgate-backend/pkg/logger"
	"github.com/prasit-dev/slipgate-backend/pkg/pagination"
	"github.com/prasit-dev/slipgate-backend/pkg/security"
)

// livenessStore keeps the short-lived heartbeat presence key in redis.
type livenessStore interface {
	MarkDeviceAlive(ctx context.Context, deviceID string, ttl time.Duration) error
}

const (
	deviceKeyLength     = 40
	maxDeviceCodeLength = 64
	maxLabelLength      = 120

	defaultHeartbeatTTL = 5 * time.Minute
)

// Service defines the device registry operations.
type Service interface {
	Register(ctx context.Context, input RegisterInput) (*RegisteredDevice, error)
	Get(ctx context.Context, id uuid.UUID) (*DeviceDTO, error)
	List(ctx context.Context, params pagination.Params) (*DeviceList, error)
	Update(ctx context.Context, id uuid.UUID, input UpdateInput) (*DeviceDTO, error)
	Heartbeat(ctx context.Context, input HeartbeatInput) (*DeviceDTO, error)
}

type service struct {
	repo  Repository
	store livenessStore
	logg  *logger.Logger

	keyCfg       config.DeviceKeyConfig
	heartbeatTTL time.Duration
}

// NewService builds the device registry service.
func NewService(repo Repository, store livenessStore, logg *logger.Logger, keyCfg config.DeviceKeyConfig, ingestCfg config.IngestConfig) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("devices repository required")
	}
	if store == nil {
		return nil, fmt.Errorf("liveness store required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	ttl := ingestCfg.HeartbeatTTL
	if ttl <= 0 {
		ttl = defaultHeartbeatTTL
	}
	return &service{
		repo:         repo,
		store:        store,
		logg:         logg,
		keyCfg:       keyCfg,
		heartbeatTTL: ttl,
	}, nil
}

func (s *service) Register(ctx context.Context, input RegisterInput) (*RegisteredDevice, error) {
	input.DeviceCode = strings.TrimSpace(input.DeviceCode)
	input.Label = strings.TrimSpace(input.Label)
	if input.DeviceCode == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "device_code is required")
	}
	if len(input.DeviceCode) > maxDeviceCodeLength {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "device_code too long")
	}
	if input.Label == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "label is required")
	}
	if len(input.Label) > maxLabelLength {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "label too long")
	}

	rawKey, err := security.GenerateDeviceKey(deviceKeyLength)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generate device key")
	}
	hash, err := security.HashDeviceKey(rawKey, s.keyCfg)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "hash device key")
	}

	now := time.Now().UTC()
	device := &models.MobileDevice{
		DeviceCode:         input.DeviceCode,
		Label:              input.Label,
		PhoneNumber:        input.PhoneNumber,
		APIKeyHash:         &hash,
		AutoApproveEnabled: input.AutoApproveEnabled,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	saved, err := s.repo.Create(ctx, device)
	if err != nil {
		if db.IsUniqueViolation(err, "") {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "device code already registered")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist device")
	}

	return &RegisteredDevice{Device: NewDeviceDTO(*saved), DeviceKey: rawKey}, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*DeviceDTO, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "device id required")
	}
	device, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "device not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load device")
	}
	dto := NewDeviceDTO(*device)
	return &dto, nil
}

func (s *service) List(ctx context.Context, params pagination.Params) (*DeviceList, error) {
	if cursor := strings.TrimSpace(params.Cursor); cursor != "" {
		if _, err := pagination.ParseCursor(cursor); err != nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid cursor")
		}
	}
	list, err := s.repo.List(ctx, params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list devices")
	}
	return list, nil
}

func (s *service) Update(ctx context.Context, id uuid.UUID, input UpdateInput) (*DeviceDTO, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "device id required")
	}

	now := time.Now().UTC()
	fields := map[string]any{}
	if input.Label != nil {
		label := strings.TrimSpace(*input.Label)
		if label == "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "label cannot be empty")
		}
		if len(label) > maxLabelLength {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "label too long")
		}
		fields["label"] = label
	}
	if input.AutoApproveEnabled != nil {
		fields["auto_approve_enabled"] = *input.AutoApproveEnabled
	}
	if input.Disabled != nil {
		if *input.Disabled {
			fields["disabled_at"] = now
			fields["online"] = false
		} else {
			fields["disabled_at"] = nil
		}
	}
	if len(fields) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "no fields to update")
	}
	fields["updated_at"] = now

	updated, err := s.repo.Update(ctx, id, fields)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update device")
	}
	if !updated {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "device not found")
	}

	device, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload device")
	}
	dto := NewDeviceDTO(*device)
	return &dto, nil
}

func (s *service) Heartbeat(ctx context.Context, input HeartbeatInput) (*DeviceDTO, error) {
	input.DeviceCode = strings.TrimSpace(input.DeviceCode)
	if input.DeviceCode == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "device_code is required")
	}
	if input.BatteryLevel != nil && (*input.BatteryLevel < 0 || *input.BatteryLevel > 100) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "battery_level must be between 0 and 100")
	}

	device, err := s.authorize(ctx, input.DeviceCode, input.DeviceKey)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	fields := map[string]any{
		"online":            true,
		"last_heartbeat_at": now,
		"updated_at":        now,
	}
	if input.BatteryLevel != nil {
		fields["battery_level"] = *input.BatteryLevel
	}
	if input.NetworkType != nil {
		trimmed := strings.TrimSpace(*input.NetworkType)
		input.NetworkType = &trimmed
		fields["network_type"] = trimmed
	}
	if input.AppVersion != nil {
		trimmed := strings.TrimSpace(*input.AppVersion)
		input.AppVersion = &trimmed
		fields["app_version"] = trimmed
	}
	if _, err := s.repo.Update(ctx, device.ID, fields); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record heartbeat")
	}

	// The DB row is authoritative for the offline sweep; a missing redis key
	// alone never flips a device with a fresh heartbeat.
	if err := s.store.MarkDeviceAlive(ctx, device.ID.String(), s.heartbeatTTL); err != nil {
		s.logg.Warn(s.logg.WithDeviceID(ctx, device.ID.String()), "refresh device liveness key: "+err.Error())
	}

	device.Online = true
	device.LastHeartbeatAt = &now
	device.UpdatedAt = now
	if input.BatteryLevel != nil {
		device.BatteryLevel = input.BatteryLevel
	}
	if input.NetworkType != nil {
		device.NetworkType = input.NetworkType
	}
	if input.AppVersion != nil {
		device.AppVersion = input.AppVersion
	}
	dto := NewDeviceDTO(*device)
	return &dto, nil
}

// authorize resolves and verifies the device behind a heartbeat. Failures
// share one UNAUTHORIZED shape so callers cannot probe registry contents.
func (s *service) authorize(ctx context.Context, code, key string) (*models.MobileDevice, error) {
	device, err := s.repo.FindByCode(ctx, code)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "device not authorized")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load device")
	}
	if device.IsDisabled() {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "device not authorized")
	}
	if device.APIKeyHash != nil {
		ok, err := security.VerifyDeviceKey(key, *device.APIKeyHash)
		if err != nil || !ok {
			return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "device not authorized")
		}
	}
	return device, nil
}
