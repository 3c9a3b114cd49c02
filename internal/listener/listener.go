// Package listener holds the single long-lived subscription to the Postgres
// notification channel and feeds decoded events into the dispatch pipeline.
//
// Delivery is at-most-once: pq reconnects with backoff after a transport
// break, but notifications published during the disconnected window are
// gone. Clients needing complete history fetch the persisted rows instead.
// That lossy-reconnect behavior is load-bearing; do not "fix" it into
// replay without treating it as a behavior change.
package listener

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/groblegark/kchat/internal/events"
)

// ChannelGlobal is the notification channel carrying all messaging-table
// changes. The migrations install triggers that NOTIFY on it.
const ChannelGlobal = "chat_events"

const (
	// Reconnect backoff bounds handed to pq: 1s doubling up to 30s.
	minReconnectInterval = time.Second
	maxReconnectInterval = 30 * time.Second

	// pingInterval is the heartbeat cadence. A failed ping forces pq to
	// tear down and redial, which is how silent transport breaks get
	// detected.
	pingInterval = 90 * time.Second
)

// Source abstracts the LISTEN/NOTIFY transport. *pq.Listener satisfies it;
// tests substitute a fake.
type Source interface {
	Listen(channel string) error
	NotificationChannel() <-chan *pq.Notification
	Ping() error
	Close() error
}

// Handler is invoked once per decoded event, on the listener goroutine, in
// the order notifications arrived. Per-channel FIFO only; no total order
// across channels.
type Handler func(ctx context.Context, e *events.Event)

// Listener owns the subscription and the decode loop.
type Listener struct {
	src      Source
	channels []string
	handler  Handler
	logger   *slog.Logger
}

// Connect dials Postgres and returns a listener subscribed to the global
// channel. Reconnection with exponential backoff is handled by pq; state
// transitions are logged through the event callback.
func Connect(databaseURL string, logger *slog.Logger) (*Listener, error) {
	if logger == nil {
		logger = slog.Default()
	}
	pl := pq.NewListener(databaseURL, minReconnectInterval, maxReconnectInterval,
		func(ev pq.ListenerEventType, err error) {
			switch ev {
			case pq.ListenerEventConnected:
				logger.Info("listener connected")
			case pq.ListenerEventDisconnected:
				logger.Warn("listener disconnected", "error", err)
			case pq.ListenerEventReconnected:
				logger.Info("listener reconnected")
			case pq.ListenerEventConnectionAttemptFailed:
				logger.Warn("listener reconnect attempt failed", "error", err)
			}
		})
	l, err := New(pl, []string{ChannelGlobal}, logger)
	if err != nil {
		_ = pl.Close()
		return nil, err
	}
	return l, nil
}

// New wraps an existing source and issues LISTEN for each channel.
func New(src Source, channels []string, logger *slog.Logger) (*Listener, error) {
	if logger == nil {
		logger = slog.Default()
	}
	for _, ch := range channels {
		if err := src.Listen(ch); err != nil {
			return nil, fmt.Errorf("listen on %s: %w", ch, err)
		}
	}
	return &Listener{src: src, channels: channels, logger: logger}, nil
}

// OnEvent registers the handler invoked for each decoded event. Must be
// called before Run.
func (l *Listener) OnEvent(h Handler) {
	l.handler = h
}

// Run consumes notifications until ctx is cancelled, then closes the
// subscription. Malformed payloads are logged and dropped; nothing that
// arrives on the channel can crash the loop.
func (l *Listener) Run(ctx context.Context) error {
	if l.handler == nil {
		return fmt.Errorf("listener: no handler registered")
	}
	defer l.src.Close()

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	notifications := l.src.NotificationChannel()
	for {
		select {
		case <-ctx.Done():
			l.logger.Info("listener stopping", "channels", l.channels)
			return nil

		case n, ok := <-notifications:
			if !ok {
				return fmt.Errorf("listener: notification channel closed")
			}
			if n == nil {
				// pq signals a completed reconnect with a nil
				// notification. Anything published during the gap
				// was lost; live delivery resumes from here.
				l.logger.Warn("listener resumed after reconnect; events during the gap were lost")
				continue
			}
			e, err := events.Decode([]byte(n.Extra))
			if err != nil {
				l.logger.Warn("dropping malformed notification",
					"channel", n.Channel, "bytes", len(n.Extra), "error", err)
				continue
			}
			l.handler(ctx, e)

		case <-ping.C:
			if err := l.src.Ping(); err != nil {
				l.logger.Warn("listener ping failed", "error", err)
			}
		}
	}
}
