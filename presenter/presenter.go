// Package presenter renders relayed push notifications as in-app toasts for
// windows that are open and visible when a push arrives. The OS notification
// remains the durable record; toasts are a transient convenience layer.
package presenter

import (
	"log/slog"
	stdSync "sync"
	"time"

	"github.com/google/uuid"

	"github.com/siamtech/fieldsync/logging"
	"github.com/siamtech/fieldsync/push"
)

// Toast is one visible in-app notification.
type Toast struct {
	ID         string
	Title      string
	Body       string
	TargetPath string
	ShownAt    time.Time
}

// Navigator routes in-app navigation when a toast is tapped.
type Navigator interface {
	Navigate(path string)
}

// Options configures a Presenter.
type Options struct {
	// MaxToasts bounds the visible stack; the oldest toast is evicted when a
	// new one arrives at capacity.
	MaxToasts int

	// ToastTTL is how long a toast stays visible before auto-dismissal.
	ToastTTL time.Duration

	// Visible reports whether this window is currently visible. Pushes that
	// arrive while hidden are not toasted. Nil means always visible.
	Visible func() bool

	Logger *logging.Logger
}

func (o *Options) setDefaults() {
	if o.MaxToasts == 0 {
		o.MaxToasts = 3
	}
	if o.ToastTTL == 0 {
		o.ToastTTL = 6 * time.Second
	}
	if o.Logger == nil {
		o.Logger = logging.Default()
	}
}

// Presenter consumes relay messages and maintains a bounded stack of toasts.
type Presenter struct {
	mu       stdSync.Mutex
	toasts   []Toast
	timers   map[string]*time.Timer
	nav      Navigator
	options  Options
	onChange func([]Toast)
	closed   bool
	logger   *logging.Logger
}

// New creates a Presenter. onChange is invoked with a snapshot of the visible
// stack after every mutation; it may be nil.
func New(nav Navigator, opts Options, onChange func([]Toast)) *Presenter {
	opts.setDefaults()
	return &Presenter{
		timers:   make(map[string]*time.Timer),
		nav:      nav,
		options:  opts,
		onChange: onChange,
		logger:   opts.Logger.WithComponent("presenter"),
	}
}

// HandleRelay consumes one message from the window relay channel. Messages
// that are not push relays, or that arrive while the window is hidden, are
// ignored.
func (p *Presenter) HandleRelay(msg push.RelayMessage) {
	if msg.Type != push.MessageTypePush {
		return
	}
	if p.options.Visible != nil && !p.options.Visible() {
		p.logger.Debug("window hidden, skipping toast",
			slog.String("notification_id", msg.Payload.Data.NotificationID))
		return
	}

	toast := Toast{
		ID:         uuid.NewString(),
		Title:      msg.Payload.Title,
		Body:       msg.Payload.Body,
		TargetPath: push.ResolveTargetPath(msg.Payload.Data),
		ShownAt:    time.Now(),
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}

	for len(p.toasts) >= p.options.MaxToasts {
		p.removeLocked(p.toasts[0].ID)
	}

	p.toasts = append(p.toasts, toast)
	p.timers[toast.ID] = time.AfterFunc(p.options.ToastTTL, func() {
		p.expire(toast.ID)
	})
	p.notifyLocked()
}

// Toasts returns a snapshot of the visible stack, oldest first.
func (p *Presenter) Toasts() []Toast {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Toast(nil), p.toasts...)
}

// Tap dismisses the toast and navigates to its target.
func (p *Presenter) Tap(id string) {
	p.mu.Lock()
	var target string
	for _, t := range p.toasts {
		if t.ID == id {
			target = t.TargetPath
			break
		}
	}
	removed := p.removeLocked(id)
	if removed {
		p.notifyLocked()
	}
	p.mu.Unlock()

	if removed && p.nav != nil {
		p.nav.Navigate(target)
	}
}

// Dismiss removes a toast without navigating.
func (p *Presenter) Dismiss(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.removeLocked(id) {
		p.notifyLocked()
	}
}

func (p *Presenter) expire(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.removeLocked(id) {
		p.notifyLocked()
	}
}

// removeLocked drops a toast and stops its timer. Callers hold p.mu.
func (p *Presenter) removeLocked(id string) bool {
	if timer, ok := p.timers[id]; ok {
		timer.Stop()
		delete(p.timers, id)
	}
	for i, t := range p.toasts {
		if t.ID == id {
			p.toasts = append(p.toasts[:i], p.toasts[i+1:]...)
			return true
		}
	}
	return false
}

func (p *Presenter) notifyLocked() {
	if p.onChange != nil {
		p.onChange(append([]Toast(nil), p.toasts...))
	}
}

// Close stops all pending auto-dismiss timers and drops the stack.
func (p *Presenter) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	for id, timer := range p.timers {
		timer.Stop()
		delete(p.timers, id)
	}
	p.toasts = nil
	return nil
}
