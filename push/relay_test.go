package push

import (
	"context"
	"net/http/httptest"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func wsURL(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestRelayHubBroadcastsToAllWindows(t *testing.T) {
	hub := NewRelayHub(nil)
	defer hub.Close()

	srv := httptest.NewServer(hub)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	first, err := DialWindowListener(ctx, wsURL(t, srv), nil)
	require.NoError(t, err)
	defer first.Close()

	second, err := DialWindowListener(ctx, wsURL(t, srv), nil)
	require.NoError(t, err)
	defer second.Close()

	received := make(chan RelayMessage, 2)
	for _, l := range []*WindowListener{first, second} {
		go func(l *WindowListener) {
			_ = l.Listen(ctx, func(msg RelayMessage) {
				received <- msg
			})
		}(l)
	}

	// Registration races the broadcast; give the hub a beat.
	time.Sleep(100 * time.Millisecond)

	hub.BroadcastPush(Payload{
		Title: "งานใหม่",
		Body:  "คุณได้รับมอบหมายงานใหม่",
		Data:  DataBag{ActionType: ActionTypeWorkOrder, ActionID: "12345"},
	})

	for i := 0; i < 2; i++ {
		select {
		case msg := <-received:
			assert.Equal(t, MessageTypePush, msg.Type)
			assert.Equal(t, "งานใหม่", msg.Payload.Title)
			assert.Equal(t, "12345", msg.Payload.Data.ActionID)
		case <-time.After(3 * time.Second):
			t.Fatalf("window %d never received the relayed push", i)
		}
	}
}

func TestWindowListenerIgnoresUnrecognizedMessages(t *testing.T) {
	hub := NewRelayHub(nil)
	defer hub.Close()

	srv := httptest.NewServer(hub)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	listener, err := DialWindowListener(ctx, wsURL(t, srv), nil)
	require.NoError(t, err)
	defer listener.Close()

	received := make(chan RelayMessage, 4)
	go func() {
		_ = listener.Listen(ctx, func(msg RelayMessage) {
			received <- msg
		})
	}()
	time.Sleep(100 * time.Millisecond)

	// Raw frames the listener must skip: wrong type, not JSON at all.
	raw, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL(t, srv), nil)
	require.NoError(t, err)
	defer raw.Close()

	hub.broadcast <- []byte(`{"type":"HEARTBEAT"}`)
	hub.broadcast <- []byte(`not json`)
	hub.BroadcastPush(Payload{Title: "t", Body: "b"})

	select {
	case msg := <-received:
		assert.Equal(t, "t", msg.Payload.Title)
	case <-time.After(3 * time.Second):
		t.Fatal("push relay never arrived")
	}

	select {
	case msg := <-received:
		t.Fatalf("listener delivered an unrecognized message: %+v", msg)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWindowListenerReleasesWatcherWhenConnectionDrops(t *testing.T) {
	baseline := runtime.NumGoroutine()

	hub := NewRelayHub(nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	// The context outlives the connection on purpose: the watcher must follow
	// the read loop out, not the context.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	listener, err := DialWindowListener(ctx, wsURL(t, srv), nil)
	require.NoError(t, err)

	listenDone := make(chan error, 1)
	go func() {
		listenDone <- listener.Listen(ctx, func(RelayMessage) {})
	}()
	time.Sleep(100 * time.Millisecond)

	// Dropping the hub closes the connection out from under the listener.
	require.NoError(t, hub.Close())

	select {
	case <-listenDone:
	case <-time.After(3 * time.Second):
		t.Fatal("listener did not return after the connection dropped")
	}

	// Everything but the server accept loop winds down; a leaked watcher
	// keeps the count one above that.
	assert.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= baseline+1
	}, 3*time.Second, 20*time.Millisecond, "watcher goroutine outlived the read loop")
}

func TestRelayHubBroadcastAfterCloseIsSafe(t *testing.T) {
	hub := NewRelayHub(nil)
	require.NoError(t, hub.Close())
	require.NoError(t, hub.Close())

	// Must not block or panic with the run loop gone.
	hub.BroadcastPush(Payload{Title: "late"})
}
