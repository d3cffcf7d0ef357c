package push

import (
	"context"
	"log/slog"
	"strings"

	"github.com/siamtech/fieldsync/logging"
)

// OSNotification is the rendered platform notification. Its Data bag plus the
// resolved target path round-trip through OS notification storage and come
// back on click.
type OSNotification struct {
	Title      string  `json:"title"`
	Body       string  `json:"body"`
	Tag        string  `json:"tag,omitempty"`
	Data       DataBag `json:"data"`
	TargetPath string  `json:"targetPath"`
}

// Notifier renders and closes OS notifications.
type Notifier interface {
	Show(ctx context.Context, n OSNotification) error
	Close(tag string)
}

// WindowManager focuses existing application windows or opens new ones.
type WindowManager interface {
	// Focus brings an existing window showing url to the front, reporting
	// whether one was found.
	Focus(ctx context.Context, url string) (bool, error)

	// Open opens a new window at url.
	Open(ctx context.Context, url string) error
}

// Relayer forwards an in-app copy of a push payload to every open window.
// Delivery is best-effort: implementations swallow per-window failures.
type Relayer interface {
	BroadcastPush(p Payload)
}

// ReadReporter records server-side that a delivered notification was read.
type ReadReporter interface {
	MarkNotificationRead(ctx context.Context, notificationID string) error
}

// Bridge handles the push lifecycle in the delivery context:
// received, notification shown (and window-relayed), then clicked or closed.
type Bridge struct {
	appBaseURL string
	notifier   Notifier
	windows    WindowManager
	relay      Relayer
	reads      ReadReporter
	logger     *logging.Logger
}

// NewBridge creates a Bridge. appBaseURL is the origin used to absolutize
// target paths on click routing. reads may be nil when the backend keeps no
// read state.
func NewBridge(appBaseURL string, notifier Notifier, windows WindowManager, relay Relayer, reads ReadReporter, logger *logging.Logger) *Bridge {
	if logger == nil {
		logger = logging.Default()
	}
	return &Bridge{
		appBaseURL: strings.TrimRight(appBaseURL, "/"),
		notifier:   notifier,
		windows:    windows,
		relay:      relay,
		reads:      reads,
		logger:     logger.WithComponent("push-bridge"),
	}
}

// HandlePush processes one delivered push event: parse the payload (with a
// graceful fallback for malformed bodies), resolve the target path, render
// the OS notification, and relay an equivalent message to every open window.
// Relay failures never prevent the notification from being displayed.
func (b *Bridge) HandlePush(ctx context.Context, raw []byte) error {
	payload, parseErr := ParsePayload(raw)
	if parseErr != nil {
		b.logger.LogError(ctx, parseErr, "malformed push payload, using fallback notification")
	}

	target := ResolveTargetPath(payload.Data)

	notification := OSNotification{
		Title:      payload.Title,
		Body:       payload.Body,
		Tag:        payload.Tag,
		Data:       payload.Data,
		TargetPath: target,
	}

	if b.relay != nil {
		b.relay.BroadcastPush(payload)
	}

	if err := b.notifier.Show(ctx, notification); err != nil {
		b.logger.LogError(ctx, err, "failed to show notification",
			slog.String("notification_id", payload.Data.NotificationID),
		)
		return err
	}

	b.logger.Debug("notification shown",
		slog.String("notification_id", payload.Data.NotificationID),
		slog.String("target", target),
	)
	return nil
}

// HandleNotificationClick closes the notification, reports the read
// server-side, and routes navigation: focus an existing window already
// showing the target URL, or open a new one. Read reporting is best-effort;
// a failure must not break navigation.
func (b *Bridge) HandleNotificationClick(ctx context.Context, n OSNotification) error {
	b.notifier.Close(n.Tag)

	if b.reads != nil && n.Data.NotificationID != "" {
		if err := b.reads.MarkNotificationRead(ctx, n.Data.NotificationID); err != nil {
			b.logger.LogError(ctx, err, "failed to mark notification read",
				slog.String("notification_id", n.Data.NotificationID),
			)
		}
	}

	url := b.AbsoluteURL(n.TargetPath)

	focused, err := b.windows.Focus(ctx, url)
	if err != nil {
		b.logger.LogError(ctx, err, "failed to focus window", slog.String("url", url))
	}
	if focused {
		return nil
	}
	return b.windows.Open(ctx, url)
}

// HandleNotificationClose records the dismissal; no state changes.
func (b *Bridge) HandleNotificationClose(ctx context.Context, n OSNotification) {
	b.logger.Debug("notification closed",
		slog.String("notification_id", n.Data.NotificationID),
		slog.String("tag", n.Tag),
	)
}

// AbsoluteURL turns a target path into an absolute URL against the app
// origin. Paths that are already absolute pass through unchanged.
func (b *Bridge) AbsoluteURL(target string) string {
	if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
		return target
	}
	if !strings.HasPrefix(target, "/") {
		target = "/" + target
	}
	return b.appBaseURL + target
}
