// Package external declares the collaborators the translator core consumes
// but does not implement: the Sparkplug node, the configuration and
// identity services, and the local config file store. Concrete
// implementations live outside this module's scope; tests drive the core
// against the fakes in external/fakes.
package external

import (
	"context"

	"github.com/edgeconduit/edgelink/models"
)

// SparkplugNode is the MQTT/Sparkplug B node the translator publishes
// through and receives commands from. Publishes must be internally
// serialised by the implementation since many Devices share one node.
type SparkplugNode interface {
	PublishDBirth(ctx context.Context, deviceID string, metrics []models.Metric) error
	PublishDData(ctx context.Context, deviceID string, metrics []models.Metric) error
	PublishDDeath(ctx context.Context, deviceID string) error
	Stop() error

	// Events returns the channel of inbound Sparkplug events (dbirth,
	// dbirth-all, dcmd, stop) the translator must react to. Closed when the
	// node itself stops.
	Events() <-chan SparkplugEvent
}

// SparkplugEventKind tags a SparkplugEvent.
type SparkplugEventKind int

const (
	EventDBirth SparkplugEventKind = iota
	EventDBirthAll
	EventDCmd
	EventStop
)

// SparkplugEvent is a single inbound event from the Sparkplug node.
// DeviceID is empty for EventDBirthAll and EventStop.
type SparkplugEvent struct {
	Kind     SparkplugEventKind
	DeviceID string
	Payload  CommandPayload
}

// CommandPayload is a decoded DCMD (or rebirth/reboot) payload: a set of
// metrics identified by name or alias, carrying the new value to apply.
type CommandPayload struct {
	Metrics []CommandMetric
}

// CommandMetric is one metric update within a CommandPayload. Name is
// empty when the command only specified an alias; the device resolves it
// via its metric store.
type CommandMetric struct {
	Name  string
	Alias *uint64
	Value any
}
