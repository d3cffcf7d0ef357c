package push

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	syncErrors "github.com/siamtech/fieldsync/errors"
)

func TestResolveTargetPath(t *testing.T) {
	tests := []struct {
		name string
		data DataBag
		want string
	}{
		{"explicit action path wins", DataBag{ActionPath: "/surveys/9", ActionType: ActionTypeWorkOrder, ActionID: "1", URL: "/x"}, "/surveys/9"},
		{"work order action composes path", DataBag{ActionType: ActionTypeWorkOrder, ActionID: "12345"}, "/work_order/12345"},
		{"unknown action type falls through to url", DataBag{ActionType: "INVOICE", ActionID: "9", URL: "/invoices/9"}, "/invoices/9"},
		{"work order without id falls through", DataBag{ActionType: ActionTypeWorkOrder, URL: "/fallback"}, "/fallback"},
		{"generic url", DataBag{URL: "/announcements/3"}, "/announcements/3"},
		{"empty bag defaults to notifications list", DataBag{}, DefaultTargetPath},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveTargetPath(tt.data))
		})
	}
}

func TestParsePayload(t *testing.T) {
	raw := []byte(`{
		"title": "งานใหม่",
		"body": "คุณได้รับมอบหมายงานใหม่",
		"tag": "wo-12345",
		"data": {"actionType": "WORK_ORDER", "actionId": "12345", "workOrderNo": "WO-12345", "notificationId": "n-1", "type": "ASSIGNMENT"}
	}`)

	p, err := ParsePayload(raw)
	require.NoError(t, err)
	assert.Equal(t, "งานใหม่", p.Title)
	assert.Equal(t, "wo-12345", p.Tag)
	assert.Equal(t, "12345", p.Data.ActionID)
	assert.Equal(t, "WO-12345", p.Data.WorkOrderNo)
	assert.Equal(t, "/work_order/12345", ResolveTargetPath(p.Data))
}

func TestParsePayloadMalformedFallsBack(t *testing.T) {
	p, err := ParsePayload([]byte("{not json"))

	require.Error(t, err)
	assert.Equal(t, syncErrors.KindPushParse, syncErrors.KindOf(err))
	assert.Equal(t, DefaultTitle, p.Title)
	assert.NotEmpty(t, p.Body)
}

func TestParsePayloadPlainText(t *testing.T) {
	p, err := ParsePayload([]byte("ระบบจะปิดปรับปรุงเวลา 22:00"))

	require.Error(t, err)
	assert.Equal(t, DefaultTitle, p.Title)
	assert.Equal(t, "ระบบจะปิดปรับปรุงเวลา 22:00", p.Body)
}

func TestParsePayloadFillsMissingText(t *testing.T) {
	p, err := ParsePayload([]byte(`{"data":{"url":"/x"}}`))
	require.NoError(t, err)
	assert.Equal(t, DefaultTitle, p.Title)
	assert.Equal(t, DefaultBody, p.Body)
}
