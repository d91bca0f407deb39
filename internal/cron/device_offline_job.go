package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/prasit-dev/slipgate-backend/pkg/db/models"
	"github.com/prasit-dev/slipgate-backend/pkg/logger"
)

const (
	defaultDeviceOfflineAfter = 5 * time.Minute
	deviceOfflineBatch        = 500
)

// DeviceOfflineJobParams configure the stale heartbeat sweep.
type DeviceOfflineJobParams struct {
	Logger       *logger.Logger
	Devices      staleDeviceStore
	Liveness     deviceLivenessProbe
	OfflineAfter time.Duration
}

type staleDeviceStore interface {
	FindStaleOnline(ctx context.Context, cutoff time.Time, limit int) ([]models.MobileDevice, error)
	MarkOffline(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
}

type deviceLivenessProbe interface {
	IsDeviceAlive(ctx context.Context, deviceID string) (bool, error)
}

// NewDeviceOfflineJob builds the cron job that flips silent devices offline.
func NewDeviceOfflineJob(params DeviceOfflineJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Devices == nil {
		return nil, fmt.Errorf("devices store required")
	}
	if params.Liveness == nil {
		return nil, fmt.Errorf("liveness probe required")
	}
	offlineAfter := params.OfflineAfter
	if offlineAfter <= 0 {
		offlineAfter = defaultDeviceOfflineAfter
	}
	return &deviceOfflineJob{
		logg:         params.Logger,
		devices:      params.Devices,
		liveness:     params.Liveness,
		offlineAfter: offlineAfter,
		now:          time.Now,
	}, nil
}

type deviceOfflineJob struct {
	logg         *logger.Logger
	devices      staleDeviceStore
	liveness     deviceLivenessProbe
	offlineAfter time.Duration
	now          func() time.Time
}

func (j *deviceOfflineJob) Name() string { return "device-offline" }

func (j *deviceOfflineJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	cutoff := now.Add(-j.offlineAfter)
	stale, err := j.devices.FindStaleOnline(ctx, cutoff, deviceOfflineBatch)
	if err != nil {
		return fmt.Errorf("query stale devices: %w", err)
	}

	var errs []error
	flipped := 0
	for _, device := range stale {
		alive, err := j.liveness.IsDeviceAlive(ctx, device.ID.String())
		if err != nil {
			errs = append(errs, fmt.Errorf("probe device %s liveness: %w", device.ID, err))
			continue
		}
		if alive {
			// Redis key is fresher than the row; the next heartbeat will
			// catch the row up.
			continue
		}
		claimed, err := j.devices.MarkOffline(ctx, device.ID, now)
		if err != nil {
			errs = append(errs, fmt.Errorf("mark device %s offline: %w", device.ID, err))
			continue
		}
		if claimed {
			flipped++
		}
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{"scanned": len(stale), "offline": flipped})
	j.logg.Info(logCtx, "device offline sweep complete")
	return multierr.Combine(errs...)
}
