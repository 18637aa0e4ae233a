// Package registry maps a connection-type string ("REST", "MQTT", "S7", ...)
// to the triple of factories the translator needs to construct a southbound
// connection and its devices: a connection factory, a device factory, and
// the config key holding that connection type's detail fields.
package registry

import (
	"fmt"
	"log/slog"

	"github.com/edgeconduit/edgelink/device"
)

// ConnectionFactory builds a concrete device.Connection from a connection's
// detail bag (the fields nested under the connType-specific details key in
// the external config document).
type ConnectionFactory func(details map[string]any, logger *slog.Logger) (device.Connection, error)

// DeviceFactory builds a Device from its construction parameters. Every
// connection type currently uses the same generic device.New; the factory
// indirection exists so a future connection type needing bespoke Device
// behavior (different write semantics, say) can be registered without
// touching the translator.
type DeviceFactory func(cfg device.Config) *device.Device

// Entry is one connection type's registration.
type Entry struct {
	ConnectionFactory ConnectionFactory
	DeviceFactory     DeviceFactory
	DetailsKey        string
}

// Registry is the connection-type dispatch table.
type Registry struct {
	entries map[string]Entry
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{entries: make(map[string]Entry)}
}

// Register adds or replaces the entry for connType.
func (r *Registry) Register(connType string, entry Entry) {
	r.entries[connType] = entry
}

// Lookup returns the entry for connType. Unknown connection types are the
// caller's responsibility to log and skip, per the external-interfaces
// contract ("unknown types are logged and skipped").
func (r *Registry) Lookup(connType string) (Entry, error) {
	e, ok := r.entries[connType]
	if !ok {
		return Entry{}, fmt.Errorf("registry: unknown connection type %q", connType)
	}
	return e, nil
}
