// Package notify delivers best-effort change notifications after projection
// records are persisted. Delivery is advisory: consumers reconcile by reading
// the projection, so dropped notifications are safe.
package notify

import "context"

// Notification names a projection record that changed.
type Notification struct {
	Projection string
	RecordID   string
}

// Notifier receives change notifications. Implementations must not block;
// slow consumers lose notifications rather than stall the write path.
type Notifier interface {
	ProjectionUpdated(ctx context.Context, n Notification)
}

// NopNotifier discards all notifications.
type NopNotifier struct{}

func (NopNotifier) ProjectionUpdated(context.Context, Notification) {}

// Bus fans notifications out to a channel without blocking. When the buffer
// is full the notification is dropped and the drop callback, if set, is
// invoked.
type Bus struct {
	ch     chan Notification
	onDrop func(Notification)
}

// Option configures a Bus.
type Option func(*Bus)

// WithDropHandler registers a callback invoked for each dropped notification.
func WithDropHandler(fn func(Notification)) Option {
	return func(b *Bus) {
		b.onDrop = fn
	}
}

// NewBus creates a Bus with the given buffer size. A non-positive size gets
// a default of 64.
func NewBus(size int, opts ...Option) *Bus {
	if size <= 0 {
		size = 64
	}
	b := &Bus{ch: make(chan Notification, size)}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// ProjectionUpdated enqueues the notification, dropping it if the buffer is
// full or the context is done.
func (b *Bus) ProjectionUpdated(ctx context.Context, n Notification) {
	if b == nil || b.ch == nil {
		return
	}
	select {
	case b.ch <- n:
	case <-ctx.Done():
		b.drop(n)
	default:
		b.drop(n)
	}
}

func (b *Bus) drop(n Notification) {
	if b.onDrop != nil {
		b.onDrop(n)
	}
}

// Subscribe returns the receive side of the bus.
func (b *Bus) Subscribe() <-chan Notification {
	return b.ch
}
