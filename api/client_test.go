package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	syncErrors "github.com/siamtech/fieldsync/errors"
	"github.com/siamtech/fieldsync/mutation"
)

func TestUpdateWorkOrderStatus(t *testing.T) {
	var gotPath, gotMethod string
	var gotBody workOrderStatusRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotMethod = r.Method
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(server.URL)
	err := client.UpdateWorkOrderStatus(context.Background(), "WO-1", mutation.WorkOrderStatusPayload{StatusCode: "O"})
	require.NoError(t, err)

	assert.Equal(t, "/work_orders/WO-1/status", gotPath)
	assert.Equal(t, http.MethodPut, gotMethod)
	assert.Equal(t, "O", gotBody.StatusCode)
}

func TestValidationErrorNotRetried(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"message":"invalid status transition"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, WithRetryMax(3))
	err := client.UpdateWorkOrderStatus(context.Background(), "WO-1", mutation.WorkOrderStatusPayload{StatusCode: "X"})

	require.Error(t, err)
	assert.True(t, syncErrors.IsValidation(err))
	assert.False(t, syncErrors.IsRetryable(err))
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls), "validation failures must not be retried")
	assert.Contains(t, err.Error(), "invalid status transition")
}

func TestTransientErrorRetried(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(server.URL, WithRetryMax(3))
	err := client.SubmitSurvey(context.Background(), "S-1", mutation.SurveyPayload{Answers: map[string]string{"q1": "yes"}})

	require.NoError(t, err)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestUnreachableBackendIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // connection refused from here on

	client := NewClient(server.URL, WithRetryMax(0))
	err := client.UpdateWorkOrderStatus(context.Background(), "WO-1", mutation.WorkOrderStatusPayload{StatusCode: "O"})

	require.Error(t, err)
	assert.True(t, syncErrors.IsRetryable(err))
	assert.Equal(t, syncErrors.KindTransient, syncErrors.KindOf(err))
}

func TestUploadImage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()

		data, err := io.ReadAll(file)
		require.NoError(t, err)
		assert.Equal(t, "site.jpg", header.Filename)
		assert.Equal(t, []byte{0xff, 0xd8}, data)

		_ = json.NewEncoder(w).Encode(UploadedImage{ID: "img-42", URL: "https://cdn.example.co.th/img-42"})
	}))
	defer server.Close()

	client := NewClient(server.URL)
	uploaded, err := client.UploadImage(context.Background(), "site.jpg", "image/jpeg", []byte{0xff, 0xd8})
	require.NoError(t, err)

	assert.Equal(t, "img-42", uploaded.ID)
	assert.Equal(t, "https://cdn.example.co.th/img-42", uploaded.URL)
}

func TestPushEndpoints(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/push/public_key":
			_ = json.NewEncoder(w).Encode(pushKeyResponse{PublicKey: "BPubKey"})
		case r.Method == http.MethodPost && r.URL.Path == "/push/devices":
			var reg DeviceRegistration
			require.NoError(t, json.NewDecoder(r.Body).Decode(&reg))
			assert.Equal(t, "dev-1", reg.DeviceID)
			w.WriteHeader(http.StatusCreated)
		case r.Method == http.MethodGet && r.URL.Path == "/push/devices":
			_ = json.NewEncoder(w).Encode(deviceListResponse{Devices: []Device{{DeviceID: "dev-1"}}})
		case r.Method == http.MethodDelete && r.URL.Path == "/push/devices/dev-1":
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := NewClient(server.URL)
	ctx := context.Background()

	key, err := client.PushPublicKey(ctx)
	require.NoError(t, err)
	assert.Equal(t, "BPubKey", key)

	require.NoError(t, client.RegisterDevice(ctx, DeviceRegistration{DeviceID: "dev-1", Endpoint: "https://push.example/ep"}))

	devices, err := client.ListDevices(ctx)
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, "dev-1", devices[0].DeviceID)

	require.NoError(t, client.UnregisterDevice(ctx, "dev-1"))
}
