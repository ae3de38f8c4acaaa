package client

import (
	"context"
	"time"

	"github.com/r3labs/sse/v2"
	"github.com/sirupsen/logrus"
	backoff "gopkg.in/cenkalti/backoff.v1"

	"github.com/djamfikr7/ble32/pkg/events"
)

const (
	minReconnectWait = 500 * time.Millisecond
	maxReconnectWait = 30 * time.Second
)

// SubscribeEvents streams daemon events until ctx is done, reconnecting
// when the daemon goes away. The channel is closed when ctx is done.
func (c *Client) SubscribeEvents(ctx context.Context) <-chan events.Event {
	ch := make(chan events.Event, 16)

	go func() {
		defer close(ch)

		wait := newReconnectBackOff()
		for {
			start := time.Now()
			err := c.streamEvents(ctx, ch)
			if ctx.Err() != nil {
				return
			}
			if time.Since(start) > maxReconnectWait {
				wait.Reset()
			}
			next := wait.NextBackOff()
			logrus.WithError(err).Debugf("event stream ended, reconnecting in %s", next)

			select {
			case <-ctx.Done():
				return
			case <-time.After(next):
			}
		}
	}()

	return ch
}

func newReconnectBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = minReconnectWait
	b.MaxInterval = maxReconnectWait
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// streamEvents reads one connection to /events. It returns nil when the
// daemon closes the stream.
func (c *Client) streamEvents(ctx context.Context, out chan<- events.Event) error {
	sc := sse.NewClient("http://unix/events")
	sc.Connection = c.httpClient
	// Reconnects are driven by SubscribeEvents.
	sc.ReconnectStrategy = &backoff.StopBackOff{}

	return sc.SubscribeRawWithContext(ctx, func(msg *sse.Event) {
		// Keep-alive comments and events without data carry nothing.
		if len(msg.Data) == 0 {
			return
		}
		ev := events.Event{Name: string(msg.Event), Data: append([]byte(nil), msg.Data...)}
		select {
		case out <- ev:
		case <-ctx.Done():
		}
	})
}
