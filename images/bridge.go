// Package images implements the offline image upload bridge. When the
// backend is reachable an attach uploads immediately and hands back the
// server identifier; otherwise the raw bytes are stored locally under a
// synthetic identifier and uploaded later, just before the owning survey is
// submitted (upload-then-submit: the server never sees synthetic IDs).
package images

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/siamtech/fieldsync/connectivity"
	syncErrors "github.com/siamtech/fieldsync/errors"
	"github.com/siamtech/fieldsync/logging"
	"github.com/siamtech/fieldsync/mutation"
	"github.com/siamtech/fieldsync/storage"
)

// offlineIDPrefix distinguishes synthetic identifiers from server-issued
// ones. Server identifiers never carry this prefix.
const offlineIDPrefix = "offline-"

// previewScheme is the local displayable reference for not-yet-uploaded
// assets.
const previewScheme = "local-image://"

// Uploader is the slice of the remote API the bridge needs.
type Uploader interface {
	UploadImage(ctx context.Context, name, mimeType string, data []byte) (id, url string, err error)
}

// UploadResult is the outcome of an image attach. The operation always
// resolves to a result: offline storage is a success from the user's point
// of view, flagged by IsOffline so the UI can show the "saved offline"
// confirmation instead of the online success message.
type UploadResult struct {
	Success   bool
	Preview   string
	ID        string
	IsOffline bool
	Error     string
}

// IsOfflineImageID reports whether id was produced by the offline path. It is
// a pure format check: no network call, never a false positive on
// server-issued identifiers, stable across reconciliation.
func IsOfflineImageID(id string) bool {
	return strings.HasPrefix(id, offlineIDPrefix)
}

// NewSyntheticID generates a fresh offline image identifier.
func NewSyntheticID() string {
	return offlineIDPrefix + uuid.NewString()
}

// UploadBridge intercepts image attach/detach operations.
type UploadBridge struct {
	assets   storage.AssetStore
	uploader Uploader
	monitor  *connectivity.Monitor
	logger   *logging.Logger
}

// NewUploadBridge creates an UploadBridge.
func NewUploadBridge(assets storage.AssetStore, uploader Uploader, monitor *connectivity.Monitor, logger *logging.Logger) *UploadBridge {
	if logger == nil {
		logger = logging.Default()
	}
	return &UploadBridge{
		assets:   assets,
		uploader: uploader,
		monitor:  monitor,
		logger:   logger.WithComponent("image-bridge"),
	}
}

// UploadImage uploads the image immediately when online; when offline, or
// when an online attempt fails with a retryable error, it stores the bytes
// locally under a synthetic identifier and defers the upload.
func (b *UploadBridge) UploadImage(ctx context.Context, ownerSurveyID, name, mimeType string, data []byte) UploadResult {
	if b.monitor.Online() {
		id, url, err := b.uploader.UploadImage(ctx, name, mimeType, data)
		if err == nil {
			return UploadResult{Success: true, Preview: url, ID: id}
		}
		if !syncErrors.IsRetryable(err) {
			// Validation class failure: surface it, do not queue.
			return UploadResult{Error: err.Error()}
		}
		b.monitor.MarkDegraded()
		b.logger.Warn("online upload failed, storing image offline",
			slog.String("owner_survey_id", ownerSurveyID),
			slog.String("error", err.Error()),
		)
	}

	return b.storeOffline(ctx, ownerSurveyID, name, mimeType, data)
}

func (b *UploadBridge) storeOffline(ctx context.Context, ownerSurveyID, name, mimeType string, data []byte) UploadResult {
	asset := &mutation.OfflineAsset{
		SyntheticID:   NewSyntheticID(),
		OwnerSurveyID: ownerSurveyID,
		Name:          name,
		MIME:          mimeType,
		Data:          data,
		CreatedAt:     time.Now().UTC(),
	}

	if err := b.assets.PutAsset(ctx, asset); err != nil {
		b.logger.LogError(ctx, syncErrors.NewStorageError(syncErrors.OpStore, err),
			"failed to store offline image")
		return UploadResult{Error: err.Error()}
	}

	return UploadResult{
		Success:   true,
		Preview:   previewScheme + asset.SyntheticID,
		ID:        asset.SyntheticID,
		IsOffline: true,
	}
}

// DeleteOfflineImage removes the asset from the local store. It is a no-op
// when the asset was already consumed by a prior sync.
func (b *UploadBridge) DeleteOfflineImage(ctx context.Context, syntheticID string) error {
	if !IsOfflineImageID(syntheticID) {
		return syncErrors.NewValidationError(syncErrors.OpStore,
			fmt.Errorf("%q is not an offline image id", syntheticID))
	}
	err := b.assets.DeleteAsset(ctx, syntheticID)
	if stderrors.Is(err, storage.ErrNotFound) {
		return nil
	}
	return err
}

// ResolveSurveyImages replaces synthetic identifiers with server-issued ones
// by uploading each offline asset (upload-then-submit reconciliation).
// Server identifiers pass through untouched. It returns the resolved ID list
// plus the synthetic IDs that were consumed; the caller deletes those once
// the owning survey submission succeeds.
func (b *UploadBridge) ResolveSurveyImages(ctx context.Context, imageIDs []string) (resolved, consumed []string, err error) {
	resolved = make([]string, 0, len(imageIDs))
	for _, id := range imageIDs {
		if !IsOfflineImageID(id) {
			resolved = append(resolved, id)
			continue
		}

		asset, err := b.assets.GetAsset(ctx, id)
		if stderrors.Is(err, storage.ErrNotFound) {
			// Already consumed by a prior pass; nothing to upload and
			// nothing to reference.
			b.logger.Warn("offline image missing at reconciliation", slog.String("synthetic_id", id))
			continue
		}
		if err != nil {
			return nil, nil, syncErrors.NewStorageError(syncErrors.OpReconcile, err)
		}

		serverID, _, err := b.uploader.UploadImage(ctx, asset.Name, asset.MIME, asset.Data)
		if err != nil {
			return nil, nil, err
		}
		resolved = append(resolved, serverID)
		consumed = append(consumed, id)
	}
	return resolved, consumed, nil
}

// DeleteConsumed removes assets whose identifiers were reconciled into a
// successfully submitted survey.
func (b *UploadBridge) DeleteConsumed(ctx context.Context, syntheticIDs []string) {
	for _, id := range syntheticIDs {
		if err := b.assets.DeleteAsset(ctx, id); err != nil && !stderrors.Is(err, storage.ErrNotFound) {
			b.logger.Warn("failed to delete consumed offline image",
				slog.String("synthetic_id", id),
				slog.String("error", err.Error()),
			)
		}
	}
}
