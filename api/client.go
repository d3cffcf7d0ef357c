// Package api implements the HTTP client for the field-service backend. It
// classifies failures into the fieldsync error taxonomy so that callers can
// decide between queueing offline and surfacing the failure immediately.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	syncErrors "github.com/siamtech/fieldsync/errors"
	"github.com/siamtech/fieldsync/logging"
	"github.com/siamtech/fieldsync/mutation"
)

// Limits defines size limits for responses.
type Limits struct {
	MaxBodyBytes int64 // Maximum response body size in bytes
}

// Client talks to the remote field-service API.
type Client struct {
	baseURL  string
	http     *http.Client
	limits   Limits
	retryMax int
	logger   *logging.Logger
}

// ClientOption configures a Client using the functional options pattern.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(cl *http.Client) ClientOption {
	return func(c *Client) {
		c.http = cl
	}
}

// WithLimits sets the response size limits.
func WithLimits(l Limits) ClientOption {
	return func(c *Client) {
		c.limits = l
	}
}

// WithRetryMax sets how many times a transient failure is retried within a
// single call before it is reported to the caller.
func WithRetryMax(n int) ClientOption {
	return func(c *Client) {
		c.retryMax = n
	}
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a new API client with functional options.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:  baseURL,
		http:     &http.Client{Timeout: 15 * time.Second},
		limits:   Limits{MaxBodyBytes: 8 << 20},
		retryMax: 2,
	}

	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logging.Default()
	}
	c.logger = c.logger.WithComponent("api")

	return c
}

// BaseURL returns the base URL for the client.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// UpdateWorkOrderStatus transitions a work order to the given status code.
func (c *Client) UpdateWorkOrderStatus(ctx context.Context, workOrderID string, p mutation.WorkOrderStatusPayload) error {
	path := fmt.Sprintf("/work_orders/%s/status", workOrderID)
	return c.doJSON(ctx, http.MethodPut, path, workOrderStatusRequest{
		StatusCode: p.StatusCode,
		Remark:     p.Remark,
	}, nil)
}

// SubmitMaterialEquipment submits material/equipment checklist edits for a
// work order.
func (c *Client) SubmitMaterialEquipment(ctx context.Context, workOrderID string, p mutation.MaterialEquipmentPayload) error {
	items := make([]checklistItemRequest, len(p.Items))
	for i, item := range p.Items {
		items[i] = checklistItemRequest(item)
	}
	path := fmt.Sprintf("/work_orders/%s/material_equipment", workOrderID)
	return c.doJSON(ctx, http.MethodPost, path, materialEquipmentRequest{Items: items}, nil)
}

// SubmitSurvey submits a survey. ImageIDs must be server-issued identifiers;
// the sync engine resolves offline identifiers before calling this.
func (c *Client) SubmitSurvey(ctx context.Context, surveyID string, p mutation.SurveyPayload) error {
	path := fmt.Sprintf("/surveys/%s/submit", surveyID)
	return c.doJSON(ctx, http.MethodPost, path, surveyRequest{
		Answers:  p.Answers,
		ImageIDs: p.ImageIDs,
	}, nil)
}

// UploadImage uploads raw image bytes and returns the server-issued
// identifier and URL.
func (c *Client) UploadImage(ctx context.Context, name, mimeType string, data []byte) (*UploadedImage, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", name)
	if err != nil {
		return nil, syncErrors.NewWithComponent(syncErrors.OpUpload, "api", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, syncErrors.NewWithComponent(syncErrors.OpUpload, "api", err)
	}
	if mimeType != "" {
		_ = writer.WriteField("mime", mimeType)
	}
	if err := writer.Close(); err != nil {
		return nil, syncErrors.NewWithComponent(syncErrors.OpUpload, "api", err)
	}

	var uploaded UploadedImage
	err = c.doWithRetry(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/images", bytes.NewReader(body.Bytes()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", writer.FormDataContentType())
		return req, nil
	}, &uploaded)
	if err != nil {
		return nil, err
	}
	return &uploaded, nil
}

// PushPublicKey fetches the VAPID public key used for push subscriptions.
func (c *Client) PushPublicKey(ctx context.Context) (string, error) {
	var resp pushKeyResponse
	if err := c.doJSON(ctx, http.MethodGet, "/push/public_key", nil, &resp); err != nil {
		return "", err
	}
	return resp.PublicKey, nil
}

// RegisterDevice registers a device push subscription.
func (c *Client) RegisterDevice(ctx context.Context, reg DeviceRegistration) error {
	return c.doJSON(ctx, http.MethodPost, "/push/devices", reg, nil)
}

// UnregisterDevice removes a device push subscription.
func (c *Client) UnregisterDevice(ctx context.Context, deviceID string) error {
	return c.doJSON(ctx, http.MethodDelete, "/push/devices/"+deviceID, nil, nil)
}

// ListDevices lists the active push subscription devices.
func (c *Client) ListDevices(ctx context.Context) ([]Device, error) {
	var resp deviceListResponse
	if err := c.doJSON(ctx, http.MethodGet, "/push/devices", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Devices, nil
}

// MarkNotificationRead reports server-side that a delivered notification was
// read on this device.
func (c *Client) MarkNotificationRead(ctx context.Context, notificationID string) error {
	return c.doJSON(ctx, http.MethodPut, "/notifications/"+notificationID+"/read", nil, nil)
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out interface{}) error {
	var encoded []byte
	if body != nil {
		var err error
		encoded, err = json.Marshal(body)
		if err != nil {
			return syncErrors.NewWithComponent(syncErrors.OpPush, "api", err)
		}
	}

	return c.doWithRetry(ctx, func() (*http.Request, error) {
		var reader io.Reader
		if encoded != nil {
			reader = bytes.NewReader(encoded)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return nil, err
		}
		if encoded != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("Accept", "application/json")
		return req, nil
	}, out)
}

// doWithRetry executes the request, retrying transient failures with
// exponential backoff. Non-retryable failures are returned immediately.
func (c *Client) doWithRetry(ctx context.Context, build func() (*http.Request, error), out interface{}) error {
	operation := func() error {
		req, err := build()
		if err != nil {
			return backoff.Permanent(syncErrors.NewWithComponent(syncErrors.OpPush, "api", err))
		}

		err = c.doOnce(req, out)
		if err != nil && !syncErrors.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(c.retryMax)),
		ctx,
	)

	err := backoff.Retry(operation, policy)
	if err != nil {
		var permanent *backoff.PermanentError
		if stderrors.As(err, &permanent) {
			return permanent.Err
		}
		return err
	}
	return nil
}

func (c *Client) doOnce(req *http.Request, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		// Transport-level failure: unreachable backend, DNS, timeout.
		return syncErrors.NewTransientError(syncErrors.OpPush, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.limits.MaxBodyBytes))
	if err != nil {
		return syncErrors.NewTransientError(syncErrors.OpPush, err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out != nil && len(body) > 0 {
			if err := json.Unmarshal(body, out); err != nil {
				return syncErrors.NewWithComponent(syncErrors.OpPush, "api",
					fmt.Errorf("decoding response: %w", err))
			}
		}
		return nil
	}

	msg := serverMessage(body)
	c.logger.Warn("request failed",
		slog.String("method", req.Method),
		slog.String("url", req.URL.String()),
		slog.Int("status", resp.StatusCode),
	)

	err = fmt.Errorf("%s %s: status %d: %s", req.Method, req.URL.Path, resp.StatusCode, msg)
	if isRetryableStatus(resp.StatusCode) {
		return syncErrors.NewTransientError(syncErrors.OpPush, err)
	}
	return syncErrors.NewValidationError(syncErrors.OpPush, err)
}

// isRetryableStatus reports whether the status implies a transient condition.
// Everything else in the 4xx range is a validation class failure: it surfaces
// to the user immediately and is never queued.
func isRetryableStatus(status int) bool {
	switch status {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return true
	}
	return status >= 500
}

func serverMessage(body []byte) string {
	var er errorResponse
	if err := json.Unmarshal(body, &er); err == nil && er.Message != "" {
		return er.Message
	}
	if len(body) > 200 {
		body = body[:200]
	}
	return string(body)
}
