// Package engine implements the offline mutation queue and its sync engine:
// enqueue, persist, and replay of the three mutation kinds against the remote
// API, driven by connectivity transitions, a periodic timer, and on-demand
// calls.
package engine

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	stdSync "sync"
	"time"

	"github.com/siamtech/fieldsync/connectivity"
	syncErrors "github.com/siamtech/fieldsync/errors"
	"github.com/siamtech/fieldsync/logging"
	"github.com/siamtech/fieldsync/mutation"
	"github.com/siamtech/fieldsync/storage"
)

// Status describes the outcome of queue-drain activity.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusSyncing Status = "syncing"
	StatusSynced  Status = "synced"
	StatusError   Status = "error"
)

// StatusUpdate is broadcast to subscribers after each drain attempt.
type StatusUpdate struct {
	Status Status

	// Remaining is the number of pending items still in the store.
	Remaining int
}

// RemoteAPI is the slice of the backend the engine drains against.
type RemoteAPI interface {
	UpdateWorkOrderStatus(ctx context.Context, workOrderID string, p mutation.WorkOrderStatusPayload) error
	SubmitMaterialEquipment(ctx context.Context, workOrderID string, p mutation.MaterialEquipmentPayload) error
	SubmitSurvey(ctx context.Context, surveyID string, p mutation.SurveyPayload) error
}

// ImageResolver reconciles synthetic offline image identifiers into
// server-issued ones before a survey submission (upload-then-submit).
type ImageResolver interface {
	ResolveSurveyImages(ctx context.Context, imageIDs []string) (resolved, consumed []string, err error)
	DeleteConsumed(ctx context.Context, syntheticIDs []string)
}

// Options configures the Engine.
type Options struct {
	// MaxAttempts bounds retries per mutation before it is marked
	// permanently failed and surfaced rather than retried silently forever.
	MaxAttempts int

	// SyncInterval is the coarse periodic drain timer, a defense against
	// missed connectivity transition events. Zero disables the timer.
	SyncInterval time.Duration

	// CallTimeout bounds each remote call issued during a drain. Timeout is
	// treated as a retryable failure, not a fatal one.
	CallTimeout time.Duration
}

func (o *Options) setDefaults() {
	if o.MaxAttempts == 0 {
		o.MaxAttempts = 5
	}
	if o.CallTimeout == 0 {
		o.CallTimeout = 15 * time.Second
	}
}

// Engine owns the offline mutation queue.
type Engine struct {
	store   storage.MutationStore
	api     RemoteAPI
	images  ImageResolver
	monitor *connectivity.Monitor
	options Options
	logger  *logging.Logger

	// drainMu serializes SyncPending passes. A second call while one is in
	// flight no-ops per kind via the kind flags below.
	kindMu   stdSync.Mutex
	draining map[mutation.Kind]bool

	mu           stdSync.Mutex
	nextID       int
	subscribers  map[int]func(StatusUpdate)
	autoSyncStop chan struct{}
	unsubMonitor func()
	closed       bool
}

// New creates an Engine. The image resolver may be nil when survey payloads
// never carry offline image identifiers.
func New(store storage.MutationStore, api RemoteAPI, images ImageResolver, monitor *connectivity.Monitor, opts Options, logger *logging.Logger) *Engine {
	opts.setDefaults()
	if logger == nil {
		logger = logging.Default()
	}
	return &Engine{
		store:       store,
		api:         api,
		images:      images,
		monitor:     monitor,
		options:     opts,
		logger:      logger.WithComponent("engine"),
		draining:    make(map[mutation.Kind]bool),
		subscribers: make(map[int]func(StatusUpdate)),
	}
}

// SaveWorkOrderStatusOffline persists a work-order status transition without
// contacting the network. A newer transition for the same work order
// supersedes any queued one.
func (e *Engine) SaveWorkOrderStatusOffline(ctx context.Context, workOrderID string, p mutation.WorkOrderStatusPayload) error {
	return e.saveOffline(ctx, workOrderID, p)
}

// SaveMaterialEquipmentOffline persists checklist edits without contacting
// the network.
func (e *Engine) SaveMaterialEquipmentOffline(ctx context.Context, workOrderID string, p mutation.MaterialEquipmentPayload) error {
	return e.saveOffline(ctx, workOrderID, p)
}

// SaveSurveyOffline persists a survey submission without contacting the
// network. The payload may reference offline image identifiers.
func (e *Engine) SaveSurveyOffline(ctx context.Context, surveyID string, p mutation.SurveyPayload) error {
	return e.saveOffline(ctx, surveyID, p)
}

func (e *Engine) saveOffline(ctx context.Context, targetID string, p mutation.Payload) error {
	m, err := mutation.New(targetID, p)
	if err != nil {
		return syncErrors.NewValidationError(syncErrors.OpEnqueue, err)
	}
	if err := e.store.Put(ctx, m); err != nil {
		return syncErrors.NewStorageError(syncErrors.OpEnqueue, err)
	}
	e.logger.Info("mutation saved offline",
		slog.String("kind", string(m.Kind)),
		slog.String("target_id", targetID),
	)
	return nil
}

// Queued reports whether a user action was deferred to the offline queue, so
// the UI can show "saved offline, will sync" instead of the online success
// message.
type Queued bool

// UpdateWorkOrderStatus dispatches immediately when online, falling back to
// the offline queue on a retryable failure. Validation errors surface
// immediately and are never queued.
func (e *Engine) UpdateWorkOrderStatus(ctx context.Context, workOrderID string, p mutation.WorkOrderStatusPayload) (Queued, error) {
	return e.dispatchOrQueue(ctx, workOrderID, p, func(callCtx context.Context) error {
		return e.api.UpdateWorkOrderStatus(callCtx, workOrderID, p)
	})
}

// SubmitMaterialEquipment dispatches immediately when online, falling back to
// the offline queue on a retryable failure.
func (e *Engine) SubmitMaterialEquipment(ctx context.Context, workOrderID string, p mutation.MaterialEquipmentPayload) (Queued, error) {
	return e.dispatchOrQueue(ctx, workOrderID, p, func(callCtx context.Context) error {
		return e.api.SubmitMaterialEquipment(callCtx, workOrderID, p)
	})
}

// SubmitSurvey dispatches immediately when online, falling back to the
// offline queue on a retryable failure.
func (e *Engine) SubmitSurvey(ctx context.Context, surveyID string, p mutation.SurveyPayload) (Queued, error) {
	return e.dispatchOrQueue(ctx, surveyID, p, func(callCtx context.Context) error {
		resolved := p
		if e.images != nil {
			ids, consumed, err := e.images.ResolveSurveyImages(callCtx, p.ImageIDs)
			if err != nil {
				return err
			}
			resolved.ImageIDs = ids
			if err := e.api.SubmitSurvey(callCtx, surveyID, resolved); err != nil {
				return err
			}
			e.images.DeleteConsumed(callCtx, consumed)
			return nil
		}
		return e.api.SubmitSurvey(callCtx, surveyID, resolved)
	})
}

func (e *Engine) dispatchOrQueue(ctx context.Context, targetID string, p mutation.Payload, call func(context.Context) error) (Queued, error) {
	if err := p.Validate(); err != nil {
		return false, syncErrors.NewValidationError(syncErrors.OpEnqueue, err)
	}

	if e.monitor.Online() {
		callCtx, cancel := context.WithTimeout(ctx, e.options.CallTimeout)
		err := call(callCtx)
		cancel()
		if err == nil {
			// The confirmed write supersedes anything still queued for this
			// target; a later drain must not replay the older payload.
			if err := e.store.Remove(ctx, p.Kind(), targetID); err != nil {
				e.logger.LogError(ctx, err, "failed to drop superseded queued mutation",
					slog.String("target_id", targetID),
					slog.String("kind", string(p.Kind())),
				)
			}
			return false, nil
		}
		if !syncErrors.IsRetryable(err) {
			return false, err
		}
		e.monitor.MarkDegraded()
	}

	if err := e.saveOffline(ctx, targetID, p); err != nil {
		return false, err
	}
	return true, nil
}

// PendingCount returns the total number of pending mutations, read from the
// store rather than an in-memory cache that can drift.
func (e *Engine) PendingCount(ctx context.Context) (int, error) {
	return e.store.CountAll(ctx)
}

// PendingCountByKind returns the number of pending mutations of one kind.
func (e *Engine) PendingCountByKind(ctx context.Context, kind mutation.Kind) (int, error) {
	return e.store.Count(ctx, kind)
}

// Subscribe registers a callback for sync status transitions. The returned
// function removes the subscription.
func (e *Engine) Subscribe(callback func(StatusUpdate)) (unsubscribe func()) {
	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.subscribers[id] = callback
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		delete(e.subscribers, id)
		e.mu.Unlock()
	}
}

// SyncPending drains all pending mutations, kind by kind in a fixed order:
// work-order status first, then material/equipment, then survey. Within one
// kind, mutations are attempted in creation order. A transient failure aborts
// the remaining items of the pass without discarding them.
func (e *Engine) SyncPending(ctx context.Context) error {
	e.broadcast(ctx, StatusSyncing)

	var passErr error
	for _, kind := range mutation.Kinds {
		if err := e.drainKind(ctx, kind); err != nil {
			passErr = err
			break
		}
	}

	if passErr != nil {
		e.broadcast(ctx, StatusError)
		return passErr
	}
	e.broadcast(ctx, StatusSynced)
	return nil
}

// drainKind replays all pending mutations of one kind. Overlapping drains of
// the same kind no-op: a drain-in-progress flag serializes them.
func (e *Engine) drainKind(ctx context.Context, kind mutation.Kind) error {
	e.kindMu.Lock()
	if e.draining[kind] {
		e.kindMu.Unlock()
		return nil
	}
	e.draining[kind] = true
	e.kindMu.Unlock()

	defer func() {
		e.kindMu.Lock()
		delete(e.draining, kind)
		e.kindMu.Unlock()
	}()

	items, err := e.store.GetAll(ctx, kind)
	if err != nil {
		return syncErrors.NewStorageError(syncErrors.OpDrain, err)
	}

	for _, item := range items {
		if item.Failed {
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := e.replay(ctx, item)
		if err == nil {
			if err := e.store.Remove(ctx, kind, item.TargetID); err != nil {
				return syncErrors.NewStorageError(syncErrors.OpDrain, err)
			}
			continue
		}

		item.AttemptCount++
		item.LastError = err.Error()

		if !syncErrors.IsRetryable(err) {
			// Validation class failure cannot succeed on retry; park it for
			// user attention and keep draining the rest.
			item.Failed = true
			e.updateBookkeeping(ctx, item)
			e.logger.LogError(ctx, err, "mutation rejected by server",
				slog.String("kind", string(kind)),
				slog.String("target_id", item.TargetID),
			)
			continue
		}

		if item.AttemptCount >= e.options.MaxAttempts {
			item.Failed = true
			e.updateBookkeeping(ctx, item)
			e.logger.LogError(ctx,
				syncErrors.NewPermanentError(syncErrors.OpDrain,
					fmt.Errorf("gave up after %d attempts: %w", item.AttemptCount, err)),
				"mutation permanently failed",
				slog.String("kind", string(kind)),
				slog.String("target_id", item.TargetID),
			)
			continue
		}

		// Transient failure: record the attempt and abort the rest of this
		// pass. The remaining items stay queued for the next one.
		e.updateBookkeeping(ctx, item)
		e.monitor.MarkDegraded()
		return err
	}

	return nil
}

func (e *Engine) updateBookkeeping(ctx context.Context, m *mutation.PendingMutation) {
	if err := e.store.Update(ctx, m); err != nil && !stderrors.Is(err, storage.ErrNotFound) {
		e.logger.LogError(ctx, err, "failed to update mutation bookkeeping",
			slog.String("target_id", m.TargetID),
		)
	}
}

// replay performs the remote call for one pending mutation with a bounded
// timeout.
func (e *Engine) replay(ctx context.Context, m *mutation.PendingMutation) error {
	payload, err := m.DecodePayload()
	if err != nil {
		return syncErrors.NewValidationError(syncErrors.OpDrain, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, e.options.CallTimeout)
	defer cancel()

	switch p := payload.(type) {
	case mutation.WorkOrderStatusPayload:
		return e.api.UpdateWorkOrderStatus(callCtx, m.TargetID, p)
	case mutation.MaterialEquipmentPayload:
		return e.api.SubmitMaterialEquipment(callCtx, m.TargetID, p)
	case mutation.SurveyPayload:
		return e.replaySurvey(callCtx, m.TargetID, p)
	default:
		return syncErrors.NewValidationError(syncErrors.OpDrain,
			fmt.Errorf("no replay for mutation kind %q", m.Kind))
	}
}

// replaySurvey resolves offline image identifiers into server identifiers,
// submits the survey, and only then deletes the consumed local assets.
func (e *Engine) replaySurvey(ctx context.Context, surveyID string, p mutation.SurveyPayload) error {
	var consumed []string
	if e.images != nil {
		resolved, c, err := e.images.ResolveSurveyImages(ctx, p.ImageIDs)
		if err != nil {
			return err
		}
		p.ImageIDs = resolved
		consumed = c
	}

	if err := e.api.SubmitSurvey(ctx, surveyID, p); err != nil {
		return err
	}

	if e.images != nil {
		e.images.DeleteConsumed(ctx, consumed)
	}
	return nil
}

// Start installs the drain triggers: the offline-to-online transition and the
// periodic timer. It returns an error when the engine is closed.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return syncErrors.New(syncErrors.OpDrain, fmt.Errorf("engine is closed"))
	}
	if e.autoSyncStop != nil {
		return syncErrors.New(syncErrors.OpDrain, fmt.Errorf("engine already started"))
	}

	e.unsubMonitor = e.monitor.Subscribe(func(online bool) {
		if !online {
			return
		}
		go func() {
			if err := e.SyncPending(ctx); err != nil {
				e.logger.LogError(ctx, err, "drain after reconnect failed")
			}
		}()
	})

	stopChan := make(chan struct{})
	e.autoSyncStop = stopChan

	if e.options.SyncInterval > 0 {
		go func() {
			ticker := time.NewTicker(e.options.SyncInterval)
			defer ticker.Stop()

			for {
				select {
				case <-ctx.Done():
					return
				case <-stopChan:
					return
				case <-ticker.C:
					if !e.monitor.Online() {
						continue
					}
					if err := e.SyncPending(ctx); err != nil {
						e.logger.LogError(ctx, err, "periodic drain failed")
					}
				}
			}
		}()
	}

	return nil
}

// Close stops the drain triggers. It does not close the store.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true

	if e.unsubMonitor != nil {
		e.unsubMonitor()
		e.unsubMonitor = nil
	}
	if e.autoSyncStop != nil {
		close(e.autoSyncStop)
		e.autoSyncStop = nil
	}
	return nil
}

func (e *Engine) broadcast(ctx context.Context, status Status) {
	remaining, err := e.store.CountAll(ctx)
	if err != nil {
		remaining = -1
	}

	e.mu.Lock()
	subscribers := make([]func(StatusUpdate), 0, len(e.subscribers))
	for _, cb := range e.subscribers {
		subscribers = append(subscribers, cb)
	}
	e.mu.Unlock()

	update := StatusUpdate{Status: status, Remaining: remaining}
	for _, cb := range subscribers {
		cb(update)
	}
}
