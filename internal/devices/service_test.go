package devices

import (
	"context"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/prasit-dev/slipgate-backend/pkg/config"
	"github.com/prasit-dev/slipgate-backend/pkg/db/models"
	pkgerrors "github.com/prasit-dev/slipgate-backend/pkg/errors"
	"github.com/prasit-dev/slipgate-backend/pkg/logger"
	"github.com/prasit-dev/slipgate-backend/pkg/pagination"
	"github.com/prasit-dev/slipgate-backend/pkg/security"
)

type stubDevicesRepo struct {
	createFn   func(ctx context.Context, device *models.MobileDevice) (*models.MobileDevice, error)
	findByIDFn func(ctx context.Context, id uuid.UUID) (*models.MobileDevice, error)
	findCodeFn func(ctx context.Context, code string) (*models.MobileDevice, error)
	listFn     func(ctx context.Context, params pagination.Params) (*DeviceList, error)
	updateFn   func(ctx context.Context, id uuid.UUID, fields map[string]any) (bool, error)

	created []*models.MobileDevice
	updates []map[string]any
}

func (s *stubDevicesRepo) WithTx(tx *gorm.DB) Repository {
	return s
}

func (s *stubDevicesRepo) Create(ctx context.Context, device *models.MobileDevice) (*models.MobileDevice, error) {
	if s.createFn != nil {
		return s.createFn(ctx, device)
	}
	if device.ID == uuid.Nil {
		device.ID = uuid.New()
	}
	s.created = append(s.created, device)
	return device, nil
}

func (s *stubDevicesRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.MobileDevice, error) {
	if s.findByIDFn != nil {
		return s.findByIDFn(ctx, id)
	}
	return nil, gorm.ErrRecordNotFound
}

func (s *stubDevicesRepo) FindByCode(ctx context.Context, code string) (*models.MobileDevice, error) {
	if s.findCodeFn != nil {
		return s.findCodeFn(ctx, code)
	}
	return nil, gorm.ErrRecordNotFound
}

func (s *stubDevicesRepo) List(ctx context.Context, params pagination.Params) (*DeviceList, error) {
	if s.listFn != nil {
		return s.listFn(ctx, params)
	}
	return &DeviceList{}, nil
}

func (s *stubDevicesRepo) Update(ctx context.Context, id uuid.UUID, fields map[string]any) (bool, error) {
	s.updates = append(s.updates, fields)
	if s.updateFn != nil {
		return s.updateFn(ctx, id, fields)
	}
	return true, nil
}

func (s *stubDevicesRepo) FindStaleOnline(ctx context.Context, cutoff time.Time, limit int) ([]models.MobileDevice, error) {
	return nil, nil
}

func (s *stubDevicesRepo) MarkOffline(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	return false, nil
}

type stubLiveness struct {
	marked []string
	err    error
}

func (s *stubLiveness) MarkDeviceAlive(ctx context.Context, deviceID string, ttl time.Duration) error {
	s.marked = append(s.marked, deviceID)
	return s.err
}

func cheapKeyConfig() config.DeviceKeyConfig {
	return config.DeviceKeyConfig{ArgonMemoryKB: 8, ArgonTime: 1, ArgonParallelism: 1}
}

func newDevicesFixture(t *testing.T) (*stubDevicesRepo, *stubLiveness, Service) {
	t.Helper()

	repo := &stubDevicesRepo{}
	store := &stubLiveness{}
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	svc, err := NewService(repo, store, logg, cheapKeyConfig(), config.IngestConfig{HeartbeatTTL: 5 * time.Minute})
	if err != nil {
		t.Fatalf("service constructor failed: %v", err)
	}
	return repo, store, svc
}

func keyedDevice(t *testing.T, key string) *models.MobileDevice {
	t.Helper()

	device := &models.MobileDevice{
		ID:         uuid.New(),
		DeviceCode: "AND-001",
		Label:      "counter phone",
	}
	if key != "" {
		hash, err := security.HashDeviceKey(key, cheapKeyConfig())
		if err != nil {
			t.Fatalf("hash failed: %v", err)
		}
		device.APIKeyHash = &hash
	}
	return device
}

func TestRegisterIssuesOneTimeKey(t *testing.T) {
	repo, _, svc := newDevicesFixture(t)

	result, err := svc.Register(context.Background(), RegisterInput{
		DeviceCode:         "AND-001",
		Label:              "counter phone",
		AutoApproveEnabled: true,
	})
	if err != nil {
		t.Fatalf("expected success got %v", err)
	}
	if !strings.HasPrefix(result.DeviceKey, security.DeviceKeyPrefix) {
		t.Fatalf("raw key must carry the %s prefix, got %q", security.DeviceKeyPrefix, result.DeviceKey)
	}
	if len(repo.created) != 1 {
		t.Fatalf("expected one persisted device, got %d", len(repo.created))
	}
	row := repo.created[0]
	if row.APIKeyHash == nil || *row.APIKeyHash == result.DeviceKey {
		t.Fatal("stored credential must be a hash, not the raw key")
	}
	ok, err := security.VerifyDeviceKey(result.DeviceKey, *row.APIKeyHash)
	if err != nil || !ok {
		t.Fatalf("issued key must verify against the stored hash: ok=%v err=%v", ok, err)
	}
	if !result.Device.AutoApproveEnabled {
		t.Fatal("auto approve flag must round-trip")
	}
}

func TestRegisterValidation(t *testing.T) {
	_, _, svc := newDevicesFixture(t)

	cases := []struct {
		name  string
		input RegisterInput
	}{
		{"missing code", RegisterInput{Label: "phone"}},
		{"missing label", RegisterInput{DeviceCode: "AND-001"}},
		{"blank code", RegisterInput{DeviceCode: "   ", Label: "phone"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Register(context.Background(), tc.input)
			typed := pkgerrors.As(err)
			if typed == nil || typed.Code() != pkgerrors.CodeValidation {
				t.Fatalf("expected validation error got %v", err)
			}
		})
	}
}

func TestRegisterDuplicateCodeConflict(t *testing.T) {
	repo, _, svc := newDevicesFixture(t)
	repo.createFn = func(ctx context.Context, device *models.MobileDevice) (*models.MobileDevice, error) {
		return nil, fmt.Errorf(`ERROR: duplicate key value violates unique constraint "idx_mobile_devices_device_code"`)
	}

	_, err := svc.Register(context.Background(), RegisterInput{DeviceCode: "AND-001", Label: "phone"})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeConflict {
		t.Fatalf("expected conflict got %v", err)
	}
}

func TestUpdateDisableTakesDeviceOffline(t *testing.T) {
	deviceID := uuid.New()
	repo, _, svc := newDevicesFixture(t)
	repo.findByIDFn = func(ctx context.Context, id uuid.UUID) (*models.MobileDevice, error) {
		disabledAt := time.Now().UTC()
		return &models.MobileDevice{ID: deviceID, DeviceCode: "AND-001", Label: "phone", DisabledAt: &disabledAt}, nil
	}

	disabled := true
	dto, err := svc.Update(context.Background(), deviceID, UpdateInput{Disabled: &disabled})
	if err != nil {
		t.Fatalf("expected success got %v", err)
	}
	if !dto.Disabled {
		t.Fatal("device must report disabled")
	}
	if len(repo.updates) != 1 {
		t.Fatalf("expected one update, got %d", len(repo.updates))
	}
	fields := repo.updates[0]
	if fields["disabled_at"] == nil {
		t.Fatal("disable must set disabled_at")
	}
	if fields["online"] != false {
		t.Fatal("disable must force the device offline")
	}
}

func TestUpdateReenableClearsDisabledAt(t *testing.T) {
	deviceID := uuid.New()
	repo, _, svc := newDevicesFixture(t)
	repo.findByIDFn = func(ctx context.Context, id uuid.UUID) (*models.MobileDevice, error) {
		return &models.MobileDevice{ID: deviceID, DeviceCode: "AND-001", Label: "phone"}, nil
	}

	disabled := false
	if _, err := svc.Update(context.Background(), deviceID, UpdateInput{Disabled: &disabled}); err != nil {
		t.Fatalf("expected success got %v", err)
	}
	fields := repo.updates[0]
	value, present := fields["disabled_at"]
	if !present || value != nil {
		t.Fatalf("re-enable must null disabled_at, got %v (present=%v)", value, present)
	}
}

func TestUpdateRequiresFields(t *testing.T) {
	_, _, svc := newDevicesFixture(t)

	_, err := svc.Update(context.Background(), uuid.New(), UpdateInput{})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error got %v", err)
	}
}

func TestUpdateMissingDeviceNotFound(t *testing.T) {
	repo, _, svc := newDevicesFixture(t)
	repo.updateFn = func(ctx context.Context, id uuid.UUID, fields map[string]any) (bool, error) {
		return false, nil
	}

	label := "new label"
	_, err := svc.Update(context.Background(), uuid.New(), UpdateInput{Label: &label})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeNotFound {
		t.Fatalf("expected not found got %v", err)
	}
}

func TestHeartbeatRefreshesRowAndLiveness(t *testing.T) {
	device := keyedDevice(t, "sgk_hb")
	repo, store, svc := newDevicesFixture(t)
	repo.findCodeFn = func(ctx context.Context, code string) (*models.MobileDevice, error) {
		return device, nil
	}

	battery := 73
	network := "wifi"
	dto, err := svc.Heartbeat(context.Background(), HeartbeatInput{
		DeviceCode:   "AND-001",
		DeviceKey:    "sgk_hb",
		BatteryLevel: &battery,
		NetworkType:  &network,
	})
	if err != nil {
		t.Fatalf("expected success got %v", err)
	}
	if !dto.Online || dto.LastHeartbeatAt == nil {
		t.Fatal("heartbeat must mark the device online")
	}
	if dto.BatteryLevel == nil || *dto.BatteryLevel != 73 {
		t.Fatal("battery level must round-trip")
	}
	if len(repo.updates) != 1 {
		t.Fatalf("expected one row update, got %d", len(repo.updates))
	}
	fields := repo.updates[0]
	if fields["online"] != true || fields["last_heartbeat_at"] == nil {
		t.Fatal("row update must refresh liveness columns")
	}
	if len(store.marked) != 1 || store.marked[0] != device.ID.String() {
		t.Fatalf("expected liveness key refresh for %s, got %v", device.ID, store.marked)
	}
}

func TestHeartbeatWrongKeyUnauthorized(t *testing.T) {
	device := keyedDevice(t, "sgk_hb")
	repo, _, svc := newDevicesFixture(t)
	repo.findCodeFn = func(ctx context.Context, code string) (*models.MobileDevice, error) {
		return device, nil
	}

	_, err := svc.Heartbeat(context.Background(), HeartbeatInput{DeviceCode: "AND-001", DeviceKey: "sgk_other"})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeUnauthorized {
		t.Fatalf("expected unauthorized got %v", err)
	}
}

func TestHeartbeatDisabledDeviceUnauthorized(t *testing.T) {
	device := keyedDevice(t, "sgk_hb")
	disabledAt := time.Now().UTC()
	device.DisabledAt = &disabledAt
	repo, store, svc := newDevicesFixture(t)
	repo.findCodeFn = func(ctx context.Context, code string) (*models.MobileDevice, error) {
		return device, nil
	}

	_, err := svc.Heartbeat(context.Background(), HeartbeatInput{DeviceCode: "AND-001", DeviceKey: "sgk_hb"})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeUnauthorized {
		t.Fatalf("expected unauthorized got %v", err)
	}
	if len(store.marked) != 0 {
		t.Fatal("disabled device must not refresh liveness")
	}
}

func TestHeartbeatBatteryOutOfRange(t *testing.T) {
	_, _, svc := newDevicesFixture(t)

	battery := 120
	_, err := svc.Heartbeat(context.Background(), HeartbeatInput{DeviceCode: "AND-001", BatteryLevel: &battery})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error got %v", err)
	}
}

func TestHeartbeatSurvivesLivenessStoreFailure(t *testing.T) {
	device := keyedDevice(t, "")
	repo, store, svc := newDevicesFixture(t)
	store.err = fmt.Errorf("redis: connection refused")
	repo.findCodeFn = func(ctx context.Context, code string) (*models.MobileDevice, error) {
		return device, nil
	}

	dto, err := svc.Heartbeat(context.Background(), HeartbeatInput{DeviceCode: "AND-001"})
	if err != nil {
		t.Fatalf("heartbeat must tolerate a redis outage, got %v", err)
	}
	if !dto.Online {
		t.Fatal("device must still be marked online")
	}
}

func TestGetMissingDeviceNotFound(t *testing.T) {
	_, _, svc := newDevicesFixture(t)

	_, err := svc.Get(context.Background(), uuid.New())
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeNotFound {
		t.Fatalf("expected not found got %v", err)
	}
}

func TestListRejectsBadCursor(t *testing.T) {
	_, _, svc := newDevicesFixture(t)

	_, err := svc.List(context.Background(), pagination.Params{Cursor: "%%%"})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error got %v", err)
	}
}
