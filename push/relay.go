package push

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	stdSync "sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/siamtech/fieldsync/logging"
)

// MessageTypePush tags relayed push payloads on the window channel.
// Consumers must ignore any other message shape.
const MessageTypePush = "PUSH_NOTIFICATION"

// RelayMessage is the structured envelope posted from the delivery context to
// every open application window.
type RelayMessage struct {
	Type    string  `json:"type"`
	Payload Payload `json:"payload"`
}

const (
	writeWait      = 5 * time.Second
	sendBufferSize = 16
)

// relayClient is one connected window.
type relayClient struct {
	conn *websocket.Conn
	send chan []byte
}

// RelayHub fans push payloads out to every connected window. Delivery is
// best-effort: a window that misses a message shows no foreground toast for
// that event; the OS notification remains the durable record.
type RelayHub struct {
	upgrader   websocket.Upgrader
	register   chan *relayClient
	unregister chan *relayClient
	broadcast  chan []byte
	done       chan struct{}
	closeOnce  stdSync.Once
	logger     *logging.Logger
}

// NewRelayHub creates a RelayHub and starts its fan-out loop.
func NewRelayHub(logger *logging.Logger) *RelayHub {
	if logger == nil {
		logger = logging.Default()
	}
	h := &RelayHub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		register:   make(chan *relayClient),
		unregister: make(chan *relayClient),
		broadcast:  make(chan []byte, sendBufferSize),
		done:       make(chan struct{}),
		logger:     logger.WithComponent("relay-hub"),
	}
	go h.run()
	return h
}

func (h *RelayHub) run() {
	clients := make(map[*relayClient]struct{})
	for {
		select {
		case client := <-h.register:
			clients[client] = struct{}{}
			h.logger.Debug("window connected", slog.Int("total", len(clients)))

		case client := <-h.unregister:
			if _, ok := clients[client]; ok {
				delete(clients, client)
				close(client.send)
			}
			h.logger.Debug("window disconnected", slog.Int("total", len(clients)))

		case message := <-h.broadcast:
			for client := range clients {
				select {
				case client.send <- message:
				default:
					// The window's send buffer is full; drop it rather than
					// block the fan-out.
					delete(clients, client)
					close(client.send)
				}
			}

		case <-h.done:
			for client := range clients {
				close(client.send)
			}
			return
		}
	}
}

// BroadcastPush relays a push payload to every connected window. It
// implements Relayer and never fails: individual window failures are
// swallowed.
func (h *RelayHub) BroadcastPush(p Payload) {
	message, err := json.Marshal(RelayMessage{Type: MessageTypePush, Payload: p})
	if err != nil {
		h.logger.Warn("failed to encode relay message", slog.String("error", err.Error()))
		return
	}
	select {
	case h.broadcast <- message:
	case <-h.done:
	}
}

// ServeHTTP upgrades a window connection and attaches it to the hub.
func (h *RelayHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	client := &relayClient{
		conn: conn,
		send: make(chan []byte, sendBufferSize),
	}
	h.register <- client

	go h.writePump(client)
	go h.readPump(client)
}

func (h *RelayHub) writePump(client *relayClient) {
	defer client.conn.Close()
	for message := range client.send {
		_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
	_ = client.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

// readPump discards inbound traffic; the channel is one-way. Its job is to
// notice the window going away.
func (h *RelayHub) readPump(client *relayClient) {
	defer func() {
		select {
		case h.unregister <- client:
		case <-h.done:
		}
		client.conn.Close()
	}()
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Close shuts the hub down and disconnects all windows.
func (h *RelayHub) Close() error {
	h.closeOnce.Do(func() { close(h.done) })
	return nil
}

// WindowListener is a window-side consumer of the relay channel. It dials the
// hub and hands every well-formed push relay message to the handler;
// unrecognized message shapes are ignored.
type WindowListener struct {
	conn   *websocket.Conn
	logger *logging.Logger
}

// DialWindowListener connects to the relay hub at url (ws scheme).
func DialWindowListener(ctx context.Context, url string, logger *logging.Logger) (*WindowListener, error) {
	if logger == nil {
		logger = logging.Default()
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return &WindowListener{
		conn:   conn,
		logger: logger.WithComponent("relay-window"),
	}, nil
}

// Listen blocks, delivering relayed push messages to handler until the
// connection drops or ctx is done.
func (l *WindowListener) Listen(ctx context.Context, handler func(RelayMessage)) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			l.conn.Close()
		case <-done:
			// Read loop already exited; nothing left to interrupt.
		}
	}()

	for {
		_, data, err := l.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}

		var msg RelayMessage
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type != MessageTypePush {
			// Not a push relay; ignore.
			continue
		}
		handler(msg)
	}
}

// Close closes the window connection.
func (l *WindowListener) Close() error {
	return l.conn.Close()
}
