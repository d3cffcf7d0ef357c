package images

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siamtech/fieldsync/connectivity"
	syncErrors "github.com/siamtech/fieldsync/errors"
	"github.com/siamtech/fieldsync/storage/memory"
)

// fakeUploader is a scriptable Uploader.
type fakeUploader struct {
	err      error
	uploads  int
	lastName string
}

func (f *fakeUploader) UploadImage(ctx context.Context, name, mimeType string, data []byte) (string, string, error) {
	f.uploads++
	f.lastName = name
	if f.err != nil {
		return "", "", f.err
	}
	id := fmt.Sprintf("img-%d", f.uploads)
	return id, "https://cdn.example.co.th/" + id, nil
}

func newBridge(online bool, uploader *fakeUploader) (*UploadBridge, *memory.Store, *connectivity.Monitor) {
	store := memory.New()
	monitor := connectivity.NewMonitor(online, nil)
	return NewUploadBridge(store, uploader, monitor, nil), store, monitor
}

func TestIsOfflineImageID(t *testing.T) {
	assert.True(t, IsOfflineImageID(NewSyntheticID()))
	assert.False(t, IsOfflineImageID("img-42"))
	assert.False(t, IsOfflineImageID("12345"))
	assert.False(t, IsOfflineImageID(""))
}

func TestOnlineUpload(t *testing.T) {
	uploader := &fakeUploader{}
	bridge, _, _ := newBridge(true, uploader)

	result := bridge.UploadImage(context.Background(), "S-1", "site.jpg", "image/jpeg", []byte{1})

	assert.True(t, result.Success)
	assert.False(t, result.IsOffline)
	assert.Equal(t, "img-1", result.ID)
	assert.False(t, IsOfflineImageID(result.ID))
	assert.Equal(t, "https://cdn.example.co.th/img-1", result.Preview)
}

func TestOfflineUploadStoresAsset(t *testing.T) {
	uploader := &fakeUploader{}
	bridge, store, _ := newBridge(false, uploader)
	ctx := context.Background()

	result := bridge.UploadImage(ctx, "S-1", "site.jpg", "image/jpeg", []byte{1, 2})

	assert.True(t, result.Success)
	assert.True(t, result.IsOffline)
	assert.True(t, IsOfflineImageID(result.ID))
	assert.Zero(t, uploader.uploads, "offline path must not touch the network")

	asset, err := store.GetAsset(ctx, result.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2}, asset.Data)
	assert.Equal(t, "S-1", asset.OwnerSurveyID)
}

func TestFailedOnlineUploadFallsBackOffline(t *testing.T) {
	uploader := &fakeUploader{err: syncErrors.NewTransientError(syncErrors.OpUpload, stderrors.New("timeout"))}
	bridge, _, monitor := newBridge(true, uploader)

	result := bridge.UploadImage(context.Background(), "S-1", "site.jpg", "image/jpeg", []byte{1})

	assert.True(t, result.Success)
	assert.True(t, result.IsOffline)
	assert.False(t, monitor.Online(), "failed request must degrade connectivity state")
}

func TestValidationFailureIsNotQueued(t *testing.T) {
	uploader := &fakeUploader{err: syncErrors.NewValidationError(syncErrors.OpUpload, stderrors.New("unsupported format"))}
	bridge, store, _ := newBridge(true, uploader)

	result := bridge.UploadImage(context.Background(), "S-1", "site.gif", "image/gif", []byte{1})

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "unsupported format")

	list, err := store.ListAssets(context.Background(), "S-1")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestDeleteOfflineImage(t *testing.T) {
	bridge, store, _ := newBridge(false, &fakeUploader{})
	ctx := context.Background()

	result := bridge.UploadImage(ctx, "S-1", "a.jpg", "image/jpeg", []byte{1})
	require.True(t, result.IsOffline)

	require.NoError(t, bridge.DeleteOfflineImage(ctx, result.ID))

	list, err := store.ListAssets(ctx, "S-1")
	require.NoError(t, err)
	assert.Empty(t, list)

	// Deleting again must not fail: the asset may have been consumed by a
	// prior sync.
	require.NoError(t, bridge.DeleteOfflineImage(ctx, result.ID))

	// A server id is rejected outright.
	assert.Error(t, bridge.DeleteOfflineImage(ctx, "img-42"))
}

func TestResolveSurveyImages(t *testing.T) {
	uploader := &fakeUploader{}
	bridge, store, _ := newBridge(false, uploader)
	ctx := context.Background()

	first := bridge.UploadImage(ctx, "S-1", "a.jpg", "image/jpeg", []byte{1})
	second := bridge.UploadImage(ctx, "S-1", "b.jpg", "image/jpeg", []byte{2})

	ids := []string{first.ID, "img-99", second.ID}
	resolved, consumed, err := bridge.ResolveSurveyImages(ctx, ids)
	require.NoError(t, err)

	require.Len(t, resolved, 3)
	assert.Equal(t, "img-99", resolved[1], "server ids pass through untouched")
	for _, id := range resolved {
		assert.False(t, IsOfflineImageID(id), "resolved list must contain no synthetic ids")
	}
	assert.ElementsMatch(t, []string{first.ID, second.ID}, consumed)

	// Assets are deleted only after the survey submission succeeds.
	bridge.DeleteConsumed(ctx, consumed)
	list, err := store.ListAssets(ctx, "S-1")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestResolveAbortsOnUploadFailure(t *testing.T) {
	uploader := &fakeUploader{}
	bridge, _, _ := newBridge(false, uploader)
	ctx := context.Background()

	result := bridge.UploadImage(ctx, "S-1", "a.jpg", "image/jpeg", []byte{1})

	uploader.err = syncErrors.NewTransientError(syncErrors.OpUpload, stderrors.New("timeout"))
	_, _, err := bridge.ResolveSurveyImages(ctx, []string{result.ID})
	require.Error(t, err)
	assert.True(t, syncErrors.IsRetryable(err))
}

func TestResolveSkipsConsumedAssets(t *testing.T) {
	bridge, _, _ := newBridge(false, &fakeUploader{})
	ctx := context.Background()

	resolved, consumed, err := bridge.ResolveSurveyImages(ctx, []string{"offline-gone"})
	require.NoError(t, err)
	assert.Empty(t, resolved)
	assert.Empty(t, consumed)
}
