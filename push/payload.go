// Package push implements the notification delivery pipeline: parsing push
// payloads, rendering OS notifications, relaying an in-app copy to every open
// window, and routing notification clicks.
package push

import (
	"encoding/json"
	"fmt"

	syncErrors "github.com/siamtech/fieldsync/errors"
)

// Default notification text used when a payload cannot be parsed.
const (
	DefaultTitle = "การแจ้งเตือนใหม่"
	DefaultBody  = "คุณมีการแจ้งเตือนใหม่"
)

// DefaultTargetPath is where a tap lands when the payload names no target.
const DefaultTargetPath = "/notifications"

// ActionTypeWorkOrder composes the action id into the canonical work-order
// path.
const ActionTypeWorkOrder = "WORK_ORDER"

// DataBag is the stable notification data contract. It round-trips through
// OS notification storage and the window relay channel unchanged.
type DataBag struct {
	ActionPath     string `json:"actionPath,omitempty"`
	ActionType     string `json:"actionType,omitempty"`
	ActionID       string `json:"actionId,omitempty"`
	URL            string `json:"url,omitempty"`
	WorkOrderNo    string `json:"workOrderNo,omitempty"`
	NotificationID string `json:"notificationId,omitempty"`
	Type           string `json:"type,omitempty"`
}

// Payload is one delivered push notification.
type Payload struct {
	Title string  `json:"title"`
	Body  string  `json:"body"`
	Tag   string  `json:"tag,omitempty"`
	Data  DataBag `json:"data"`
}

// ResolveTargetPath computes the navigation target for a data bag. It is a
// pure function shared by the delivery bridge and the foreground presenter so
// both produce identical paths. Precedence: explicit actionPath, then a
// WORK_ORDER action id, then a generic url, else the notifications list.
func ResolveTargetPath(data DataBag) string {
	if data.ActionPath != "" {
		return data.ActionPath
	}
	if data.ActionType == ActionTypeWorkOrder && data.ActionID != "" {
		return fmt.Sprintf("/work_order/%s", data.ActionID)
	}
	if data.URL != "" {
		return data.URL
	}
	return DefaultTargetPath
}

// ParsePayload decodes raw push bytes. A malformed payload degrades to a
// generic Thai-language notification carrying the raw text as its body when
// printable; the returned error is a PushParseError for observability, but
// the payload is always usable.
func ParsePayload(raw []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		fallback := Payload{Title: DefaultTitle, Body: DefaultBody}
		if len(raw) > 0 && len(raw) <= 256 && !json.Valid(raw) {
			// Plain-text pushes become the body verbatim.
			fallback.Body = string(raw)
		}
		return fallback, syncErrors.NewPushParseError(err)
	}
	if p.Title == "" {
		p.Title = DefaultTitle
	}
	if p.Body == "" {
		p.Body = DefaultBody
	}
	return p, nil
}
