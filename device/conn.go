// Package device implements the per-device state machine: the
// Connection contract every southbound driver satisfies, and the Device
// actor that drives the BIRTH/DATA/DEATH lifecycle on top of it.
package device

import (
	"context"

	"github.com/edgeconduit/edgelink/models"
)

// EventKind tags a Connection Event.
type EventKind int

const (
	EventOpen EventKind = iota
	EventClose
	EventError
	EventData
)

// Event is the asynchronous, fire-and-forget message a Connection emits.
// DeviceID is empty for connection-wide events (Open/Close broadcast to
// every device on the connection); drivers that multiplex several devices
// over one transport (MQTT, WebSocket) must set DeviceID on Data events so
// the dispatcher can route them to the right Device.
type Event struct {
	Kind      EventKind
	DeviceID  string
	Err       error
	Data      map[string]any // address -> raw value
	ParseVals bool
}

// Connection is the polymorphic southbound driver contract. A single
// Connection instance is shared by every Device declared on it; drivers
// must tolerate interleaved reads and writes from sibling devices.
type Connection interface {
	// Open is idempotent.
	Open(ctx context.Context) error
	// Close is idempotent and must result in an EventClose on Events().
	Close() error

	// ReadMetrics performs a one-shot read and emits an EventData.
	ReadMetrics(ctx context.Context, deviceID string, metrics []models.Metric, payloadFormat models.PayloadFormat, delimiter string) error

	// WriteMetrics attempts a write and invokes cb exactly once.
	WriteMetrics(ctx context.Context, deviceID string, metrics []models.Metric, payloadFormat models.PayloadFormat, delimiter string, cb func(error))

	// StartSubscription begins a periodic read (or, for push-based drivers,
	// arms the push pipeline and invokes cb immediately).
	StartSubscription(ctx context.Context, deviceID string, metrics []models.Metric, payloadFormat models.PayloadFormat, delimiter string, intervalMs int, cb func(error)) error

	// StopSubscription cancels the periodic read.
	StopSubscription(deviceID string, cb func(error)) error

	// Events returns the shared event stream for every device on this
	// connection.
	Events() <-chan Event
}
