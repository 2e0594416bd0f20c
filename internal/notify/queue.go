package notify

import (
	"context"
	"log/slog"
)

type alert struct {
	event, title, message string
}

// Queue delivers alerts from a background goroutine so callers on the trade
// path never wait on a chat API. Alerts arriving while the buffer is full are
// dropped.
type Queue struct {
	notifier *Notifier
	ch       chan alert
	logger   *slog.Logger
}

// NewQueue creates a Queue holding up to size pending alerts.
func NewQueue(n *Notifier, size int) *Queue {
	if size <= 0 {
		size = 64
	}
	return &Queue{
		notifier: n,
		ch:       make(chan alert, size),
		logger:   n.logger,
	}
}

// Notify enqueues the alert. It never blocks.
func (q *Queue) Notify(ctx context.Context, event, title, message string) error {
	if !q.notifier.Wants(event) {
		return nil
	}
	select {
	case q.ch <- alert{event: event, title: title, message: message}:
	default:
		q.logger.WarnContext(ctx, "alert queue full, dropping", slog.String("event", event))
	}
	return nil
}

// Run delivers queued alerts until ctx is cancelled, then drains what is left
// with a fresh context.
func (q *Queue) Run(ctx context.Context) error {
	for {
		select {
		case a := <-q.ch:
			_ = q.notifier.Notify(ctx, a.event, a.title, a.message)
		case <-ctx.Done():
			q.drain()
			return nil
		}
	}
}

func (q *Queue) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	for {
		select {
		case a := <-q.ch:
			_ = q.notifier.Notify(ctx, a.event, a.title, a.message)
		default:
			return
		}
	}
}
