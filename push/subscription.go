package push

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/siamtech/fieldsync/api"
	syncErrors "github.com/siamtech/fieldsync/errors"
	"github.com/siamtech/fieldsync/logging"
)

// SubscriptionAPI is the slice of the backend used for device subscriptions.
type SubscriptionAPI interface {
	PushPublicKey(ctx context.Context) (string, error)
	RegisterDevice(ctx context.Context, reg api.DeviceRegistration) error
	UnregisterDevice(ctx context.Context, deviceID string) error
	ListDevices(ctx context.Context) ([]api.Device, error)
}

// WorkerRegistrar installs and removes the delivery worker script on the
// platform.
type WorkerRegistrar interface {
	// Register installs the worker script at a fixed scope.
	Register(ctx context.Context, scriptPath string) error

	// Unregister removes a registration, reporting whether one existed.
	Unregister(ctx context.Context, scriptPath string) (bool, error)
}

// PlatformSubscriber creates the platform push subscription for a VAPID key.
type PlatformSubscriber interface {
	Subscribe(ctx context.Context, vapidPublicKey string) (endpoint, p256dhKey, authKey string, err error)
}

// SubscriptionOptions configures a SubscriptionManager.
type SubscriptionOptions struct {
	// DeviceID identifies this installation. Generated when empty; callers
	// persist it across restarts via DeviceID().
	DeviceID string

	// DeviceName is an optional human-readable name.
	DeviceName string

	// WorkerPath is the current worker script path.
	WorkerPath string

	// LegacyWorkerPaths are obsolete script paths to unregister before
	// installing the current one.
	LegacyWorkerPaths []string

	// DevMode skips worker installation and device registration entirely.
	DevMode bool
}

// SubscriptionManager owns the device push subscription lifecycle.
type SubscriptionManager struct {
	api      SubscriptionAPI
	registry WorkerRegistrar
	platform PlatformSubscriber
	options  SubscriptionOptions
	logger   *logging.Logger
}

// NewSubscriptionManager creates a SubscriptionManager.
func NewSubscriptionManager(subAPI SubscriptionAPI, registry WorkerRegistrar, platform PlatformSubscriber, opts SubscriptionOptions, logger *logging.Logger) *SubscriptionManager {
	if opts.DeviceID == "" {
		opts.DeviceID = uuid.NewString()
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &SubscriptionManager{
		api:      subAPI,
		registry: registry,
		platform: platform,
		options:  opts,
		logger:   logger.WithComponent("push-subscription"),
	}
}

// DeviceID returns the client-generated device identifier.
func (m *SubscriptionManager) DeviceID() string {
	return m.options.DeviceID
}

// Install removes any registrations at known legacy script paths, then
// installs the current worker script. Skipped in dev mode.
func (m *SubscriptionManager) Install(ctx context.Context) error {
	if m.options.DevMode {
		m.logger.Info("dev mode: skipping worker registration")
		return nil
	}

	for _, legacy := range m.options.LegacyWorkerPaths {
		removed, err := m.registry.Unregister(ctx, legacy)
		if err != nil {
			// A stuck legacy registration must not block the current one.
			m.logger.Warn("failed to unregister legacy worker",
				slog.String("path", legacy),
				slog.String("error", err.Error()),
			)
			continue
		}
		if removed {
			m.logger.Info("unregistered legacy worker", slog.String("path", legacy))
		}
	}

	if err := m.registry.Register(ctx, m.options.WorkerPath); err != nil {
		return syncErrors.NewWithComponent(syncErrors.OpSubscribe, "registrar", err)
	}
	return nil
}

// Register fetches the VAPID public key, creates the platform subscription,
// and registers this device with the backend. Skipped in dev mode.
func (m *SubscriptionManager) Register(ctx context.Context) error {
	if m.options.DevMode {
		m.logger.Info("dev mode: skipping device registration")
		return nil
	}

	key, err := m.api.PushPublicKey(ctx)
	if err != nil {
		return syncErrors.WrapOpComponent(err, syncErrors.OpSubscribe, "api")
	}

	endpoint, p256dh, auth, err := m.platform.Subscribe(ctx, key)
	if err != nil {
		return syncErrors.NewWithComponent(syncErrors.OpSubscribe, "platform", err)
	}

	err = m.api.RegisterDevice(ctx, api.DeviceRegistration{
		DeviceID:   m.options.DeviceID,
		DeviceName: m.options.DeviceName,
		Endpoint:   endpoint,
		P256dhKey:  p256dh,
		AuthKey:    auth,
	})
	if err != nil {
		return syncErrors.WrapOpComponent(err, syncErrors.OpSubscribe, "api")
	}

	m.logger.Info("device registered for push",
		slog.String("device_id", m.options.DeviceID),
		slog.String("device_name", m.options.DeviceName),
	)
	return nil
}

// Unregister removes this device's subscription from the backend.
func (m *SubscriptionManager) Unregister(ctx context.Context) error {
	return syncErrors.WrapOpComponent(
		m.api.UnregisterDevice(ctx, m.options.DeviceID),
		syncErrors.OpSubscribe, "api")
}

// Devices lists the active subscriptions for this account.
func (m *SubscriptionManager) Devices(ctx context.Context) ([]api.Device, error) {
	devices, err := m.api.ListDevices(ctx)
	if err != nil {
		return nil, syncErrors.WrapOpComponent(err, syncErrors.OpSubscribe, "api")
	}
	return devices, nil
}
