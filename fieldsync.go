// Package fieldsync assembles the offline-capable sync and push notification
// client: a durable mutation queue drained on reconnect, offline image
// staging, and push delivery with OS notifications, window relay, and device
// subscription management.
package fieldsync

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	stdSync "sync"
	"time"

	"github.com/google/uuid"

	"github.com/siamtech/fieldsync/api"
	"github.com/siamtech/fieldsync/config"
	"github.com/siamtech/fieldsync/connectivity"
	"github.com/siamtech/fieldsync/engine"
	"github.com/siamtech/fieldsync/images"
	"github.com/siamtech/fieldsync/logging"
	"github.com/siamtech/fieldsync/presenter"
	"github.com/siamtech/fieldsync/push"
	"github.com/siamtech/fieldsync/storage"
	"github.com/siamtech/fieldsync/storage/memory"
	"github.com/siamtech/fieldsync/storage/sqlite"
)

// Platform supplies the OS-specific capabilities the subsystem cannot
// implement itself. Any field may be nil; the corresponding feature degrades.
type Platform struct {
	// Notifier renders OS notifications.
	Notifier push.Notifier

	// Windows focuses or opens application windows on notification click.
	Windows push.WindowManager

	// Registrar installs the push delivery worker.
	Registrar push.WorkerRegistrar

	// Subscriber creates the platform push subscription.
	Subscriber push.PlatformSubscriber
}

// Client is the assembled subsystem. Construct with New, then Start.
type Client struct {
	cfg     *config.Config
	logger  *logging.Logger
	store   storage.Store
	Monitor *connectivity.Monitor
	API     *api.Client
	Engine  *engine.Engine
	Images  *images.UploadBridge
	Relay   *push.RelayHub
	Bridge  *push.Bridge

	// Subscriptions is nil when the platform provides no registrar.
	Subscriptions *push.SubscriptionManager

	relaySrv *http.Server

	mu      stdSync.Mutex
	started bool
	closed  bool
}

// imageUploader adapts the API client to the upload bridge.
type imageUploader struct {
	api *api.Client
}

func (u imageUploader) UploadImage(ctx context.Context, name, mimeType string, data []byte) (string, string, error) {
	img, err := u.api.UploadImage(ctx, name, mimeType, data)
	if err != nil {
		return "", "", err
	}
	return img.ID, img.URL, nil
}

// New wires a Client from configuration and platform capabilities. The local
// store is SQLite when storage.path is configured; a store that fails to open
// degrades to in-memory with a loud warning, so offline work survives the
// session but not a restart.
func New(cfg *config.Config, platform Platform) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	logging.Init(cfg.Logging)
	logger := logging.Default()

	store := openStore(cfg, logger)

	monitor := connectivity.NewMonitor(true, logger)

	apiClient := api.NewClient(cfg.API.BaseURL,
		api.WithHTTPClient(&http.Client{Timeout: cfg.API.RequestTimeout}),
		api.WithRetryMax(cfg.API.RetryMax),
		api.WithLogger(logger),
	)

	imageBridge := images.NewUploadBridge(store, imageUploader{api: apiClient}, monitor, logger)

	eng := engine.New(store, apiClient, imageBridge, monitor, engine.Options{
		MaxAttempts:  cfg.Sync.MaxAttempts,
		SyncInterval: cfg.Sync.Interval,
		CallTimeout:  cfg.API.RequestTimeout,
	}, logger)

	relay := push.NewRelayHub(logger)
	bridge := push.NewBridge(cfg.App.BaseURL, platform.Notifier, platform.Windows, relay, apiClient, logger)

	c := &Client{
		cfg:     cfg,
		logger:  logger.WithComponent("fieldsync"),
		store:   store,
		Monitor: monitor,
		API:     apiClient,
		Engine:  eng,
		Images:  imageBridge,
		Relay:   relay,
		Bridge:  bridge,
	}

	if platform.Registrar != nil && platform.Subscriber != nil {
		deviceID, err := loadOrCreateDeviceID(deviceIDPath(cfg))
		if err != nil {
			logger.Warn("device id not persistent, generating ephemeral id")
			deviceID = uuid.NewString()
		}
		c.Subscriptions = push.NewSubscriptionManager(apiClient, platform.Registrar, platform.Subscriber, push.SubscriptionOptions{
			DeviceID:          deviceID,
			DeviceName:        cfg.Push.DeviceName,
			WorkerPath:        cfg.Push.WorkerPath,
			LegacyWorkerPaths: cfg.Push.LegacyWorkerPaths,
			DevMode:           cfg.DevMode,
		}, logger)
	}

	return c, nil
}

// openStore opens the configured SQLite store, falling back to memory when
// the path is empty or the database cannot be opened.
func openStore(cfg *config.Config, logger *logging.Logger) storage.Store {
	if cfg.Storage.Path == "" {
		return memory.New()
	}

	store, err := sqlite.New(&sqlite.Config{
		DataSourceName: cfg.Storage.Path,
		EnableWAL:      cfg.Storage.EnableWAL,
		Logger:         logger,
	})
	if err != nil {
		logger.LogError(context.Background(), err,
			"local database unavailable, queued work will NOT survive restarts")
		return memory.New()
	}
	return store
}

// Start launches the sync engine, the window relay listener, and push
// subscription setup. Subscription failures are logged, not fatal: the queue
// keeps working without push delivery.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("client is closed")
	}
	if c.started {
		return fmt.Errorf("client is already started")
	}
	c.started = true

	if err := c.Engine.Start(ctx); err != nil {
		return err
	}

	if c.cfg.Push.RelayAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/relay", c.Relay)
		c.relaySrv = &http.Server{Addr: c.cfg.Push.RelayAddr, Handler: mux}
		go func() {
			if err := c.relaySrv.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
				c.logger.LogError(ctx, err, "relay server stopped")
			}
		}()
	}

	if c.Subscriptions != nil {
		go func() {
			if err := c.Subscriptions.Install(ctx); err != nil {
				c.logger.LogError(ctx, err, "push worker installation failed")
				return
			}
			if err := c.Subscriptions.Register(ctx); err != nil {
				c.logger.LogError(ctx, err, "push device registration failed")
			}
		}()
	}

	return nil
}

// NewPresenter builds a foreground toast presenter with the configured
// display limits. Each window creates its own; visible and onChange may be
// nil.
func (c *Client) NewPresenter(nav presenter.Navigator, visible func() bool, onChange func([]presenter.Toast)) *presenter.Presenter {
	return presenter.New(nav, presenter.Options{
		MaxToasts: c.cfg.Presenter.MaxToasts,
		ToastTTL:  c.cfg.Presenter.ToastTTL,
		Visible:   visible,
	}, onChange)
}

// RelayURL returns the websocket URL windows dial to receive relayed pushes.
func (c *Client) RelayURL() string {
	return "ws://" + c.cfg.Push.RelayAddr + "/relay"
}

// Close shuts everything down and closes the local store.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	var errs []error
	if err := c.Engine.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close engine: %w", err))
	}
	if c.relaySrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.relaySrv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop relay server: %w", err))
		}
	}
	if err := c.Relay.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close relay hub: %w", err))
	}
	if err := c.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close store: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}

// deviceIDPath puts the device id file next to the database, or in the
// user config dir for in-memory setups.
func deviceIDPath(cfg *config.Config) string {
	if cfg.Storage.Path != "" {
		return filepath.Join(filepath.Dir(cfg.Storage.Path), "fieldsync-device-id")
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "fieldsync-device-id"
	}
	return filepath.Join(dir, "fieldsync", "device-id")
}

// loadOrCreateDeviceID reads a persisted device identifier or generates and
// persists a new one. The id must be stable across restarts so the backend
// can replace a stale subscription instead of accumulating duplicates.
func loadOrCreateDeviceID(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id, nil
		}
	}

	id := uuid.NewString()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte(id), 0o600); err != nil {
		return "", err
	}
	return id, nil
}
