// Package bus provides the cross-instance control plane: pub/sub channels
// carrying run control signals and TTL'd presence keys marking which instance
// hosts a running agent. A Redis implementation backs multi-instance
// deployments; an in-process implementation backs tests and single-node use.
package bus

import (
	"context"
	"errors"
	"time"
)

// Control signal payloads published on run control channels.
const (
	// SignalStop asks the hosting instance to terminate a run.
	SignalStop = "STOP"

	// SignalEndStream tells stream readers the run finished cleanly.
	SignalEndStream = "END_STREAM"

	// SignalError tells stream readers the run failed.
	SignalError = "ERROR"
)

// ErrNotFound is returned when a presence key does not exist or has expired.
var ErrNotFound = errors.New("bus: key not found")

// Message is a single pub/sub delivery.
type Message struct {
	// Channel the message arrived on.
	Channel string

	// Payload is the raw signal text.
	Payload string
}

// Subscription delivers messages for a fixed set of channels until closed.
type Subscription interface {
	// Messages returns the delivery channel. It is closed when the
	// subscription closes.
	Messages() <-chan Message

	// Close tears the subscription down.
	Close() error
}

// Bus is the control-plane transport.
type Bus interface {
	// Publish sends payload to every subscriber of channel.
	Publish(ctx context.Context, channel, payload string) error

	// Subscribe opens a subscription on the given channels. The context
	// covers subscription establishment only; use Close to tear down.
	Subscribe(ctx context.Context, channels ...string) (Subscription, error)

	// SetKey writes a presence key with a TTL. A non-positive TTL means no
	// expiry.
	SetKey(ctx context.Context, key, value string, ttl time.Duration) error

	// GetKey reads a presence key. Returns ErrNotFound when absent.
	GetKey(ctx context.Context, key string) (string, error)

	// RefreshKey extends a key's TTL. Returns ErrNotFound when the key no
	// longer exists, so callers can re-establish it.
	RefreshKey(ctx context.Context, key string, ttl time.Duration) error

	// DeleteKey removes a presence key. Deleting a missing key is not an
	// error.
	DeleteKey(ctx context.Context, key string) error

	// ScanKeys returns every key matching a glob pattern.
	ScanKeys(ctx context.Context, pattern string) ([]string, error)

	// Close releases the transport.
	Close() error
}
