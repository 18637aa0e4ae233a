package registry_test

import (
	"context"
	"log/slog"
	"testing"

	"github.com/edgeconduit/edgelink/device"
	"github.com/edgeconduit/edgelink/models"
	"github.com/edgeconduit/edgelink/pkg/edgelink/registry"
)

type stubConn struct{ events chan device.Event }

func (c *stubConn) Open(context.Context) error { return nil }
func (c *stubConn) Close() error               { return nil }
func (c *stubConn) ReadMetrics(context.Context, string, []models.Metric, models.PayloadFormat, string) error {
	return nil
}
func (c *stubConn) WriteMetrics(context.Context, string, []models.Metric, models.PayloadFormat, string, func(error)) {
}
func (c *stubConn) StartSubscription(context.Context, string, []models.Metric, models.PayloadFormat, string, int, func(error)) error {
	return nil
}
func (c *stubConn) StopSubscription(string, func(error)) error { return nil }
func (c *stubConn) Events() <-chan device.Event                { return c.events }

func TestRegistry_LookupUnknownType(t *testing.T) {
	r := registry.New()
	if _, err := r.Lookup("NOSUCHTYPE"); err == nil {
		t.Fatal("expected an error for an unregistered connection type")
	}
}

func TestRegistry_RegisterAndLookup(t *testing.T) {
	r := registry.New()
	r.Register("STUB", registry.Entry{
		ConnectionFactory: func(details map[string]any, logger *slog.Logger) (device.Connection, error) {
			return &stubConn{events: make(chan device.Event, 1)}, nil
		},
		DeviceFactory: func(cfg device.Config) *device.Device { return device.New(cfg) },
		DetailsKey:    "stubDetails",
	})

	entry, err := r.Lookup("STUB")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if entry.DetailsKey != "stubDetails" {
		t.Errorf("DetailsKey = %q, want %q", entry.DetailsKey, "stubDetails")
	}

	conn, err := entry.ConnectionFactory(nil, slog.Default())
	if err != nil {
		t.Fatalf("ConnectionFactory: %v", err)
	}
	if conn == nil {
		t.Fatal("ConnectionFactory returned a nil connection")
	}

	dev := entry.DeviceFactory(device.Config{DeviceConfig: models.DeviceConfig{DeviceID: "dev1"}, Conn: conn})
	if dev == nil {
		t.Fatal("DeviceFactory returned a nil device")
	}
}

func TestRegistry_RegisterReplacesExistingEntry(t *testing.T) {
	r := registry.New()
	first := registry.Entry{DetailsKey: "first"}
	second := registry.Entry{DetailsKey: "second"}

	r.Register("STUB", first)
	r.Register("STUB", second)

	entry, err := r.Lookup("STUB")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if entry.DetailsKey != "second" {
		t.Errorf("expected re-registering to replace the entry, got DetailsKey=%q", entry.DetailsKey)
	}
}
