package api

import "time"

// UploadedImage is the server's response to an image upload.
type UploadedImage struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// Device is one registered push subscription endpoint.
type Device struct {
	DeviceID   string    `json:"device_id"`
	DeviceName string    `json:"device_name,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// DeviceRegistration is the body for registering a push subscription.
type DeviceRegistration struct {
	DeviceID   string `json:"device_id"`
	DeviceName string `json:"device_name,omitempty"`
	Endpoint   string `json:"endpoint"`
	P256dhKey  string `json:"p256dh_key"`
	AuthKey    string `json:"auth_key"`
}

type workOrderStatusRequest struct {
	StatusCode string `json:"status_code"`
	Remark     string `json:"remark,omitempty"`
}

type materialEquipmentRequest struct {
	Items []checklistItemRequest `json:"items"`
}

type checklistItemRequest struct {
	ItemCode string `json:"item_code"`
	Quantity int    `json:"quantity"`
	Checked  bool   `json:"checked"`
}

type surveyRequest struct {
	Answers  map[string]string `json:"answers"`
	ImageIDs []string          `json:"image_ids,omitempty"`
}

type pushKeyResponse struct {
	PublicKey string `json:"public_key"`
}

type deviceListResponse struct {
	Devices []Device `json:"devices"`
}

type errorResponse struct {
	Message string `json:"message"`
}
