package device_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/edgeconduit/edgelink/device"
	"github.com/edgeconduit/edgelink/external"
	"github.com/edgeconduit/edgelink/external/fakes"
	"github.com/edgeconduit/edgelink/models"
)

// fakeConn is a minimal device.Connection test double: it records
// subscription start/stop calls and lets the test push Events directly to
// the Device under test (bypassing the translator's event-dispatch layer,
// which is out of scope for these tests).
type fakeConn struct {
	mu             sync.Mutex
	startCalls     int
	stopCalls      int
	lastIntervalMs int
	writes         [][]models.Metric
	writeErr       error
}

func (c *fakeConn) Open(context.Context) error { return nil }
func (c *fakeConn) Close() error               { return nil }

func (c *fakeConn) ReadMetrics(context.Context, string, []models.Metric, models.PayloadFormat, string) error {
	return nil
}

func (c *fakeConn) WriteMetrics(_ context.Context, _ string, metrics []models.Metric, _ models.PayloadFormat, _ string, cb func(error)) {
	c.mu.Lock()
	c.writes = append(c.writes, metrics)
	c.mu.Unlock()
	cb(c.writeErr)
}

func (c *fakeConn) StartSubscription(_ context.Context, _ string, _ []models.Metric, _ models.PayloadFormat, _ string, intervalMs int, cb func(error)) error {
	c.mu.Lock()
	c.startCalls++
	c.lastIntervalMs = intervalMs
	c.mu.Unlock()
	cb(nil)
	return nil
}

func (c *fakeConn) StopSubscription(_ string, cb func(error)) error {
	c.mu.Lock()
	c.stopCalls++
	c.mu.Unlock()
	cb(nil)
	return nil
}

func (c *fakeConn) Events() <-chan device.Event { return nil }

func newTestDevice(t *testing.T, conn *fakeConn, node *fakes.SparkplugNode) *device.Device {
	t.Helper()
	metrics := append(models.DefaultControlMetrics(),
		models.Metric{
			Name: "Temperature",
			Type: models.Float,
			Properties: models.Properties{
				Method:  "GET",
				Address: "DB1,X0.0",
			},
		},
	)
	cfg := device.Config{
		DeviceConfig: models.DeviceConfig{
			DeviceID:      "dev1",
			PollInt:       1000,
			PayloadFormat: string(models.FormatJSON),
			Metrics:       metrics,
		},
		Conn: conn,
		Node: node,
	}
	return device.New(cfg)
}

func TestDevice_RebirthCommand_KeepsAlive(t *testing.T) {
	conn := &fakeConn{}
	node := fakes.NewSparkplugNode()
	d := newTestDevice(t, conn, node)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)
	defer d.Stop()

	d.DeliverEvent(device.Event{Kind: device.EventOpen})
	time.Sleep(150 * time.Millisecond) // allow readiness poll to fire startSubscription

	d.DeliverEvent(device.Event{
		Kind:      device.EventData,
		Data:      map[string]any{"DB1,X0.0": map[string]any{}},
		ParseVals: false,
	})
	time.Sleep(10 * time.Millisecond)

	d.DeliverCommand(external.CommandPayload{
		Metrics: []external.CommandMetric{{Name: models.MetricRebirth, Value: true}},
	})
	time.Sleep(20 * time.Millisecond)

	if !d.IsAlive() {
		t.Error("expected device to remain alive after rebirth command")
	}

	kinds := node.FrameKinds()
	if len(kinds) < 1 || kinds[len(kinds)-1] != "BIRTH" {
		t.Errorf("expected a trailing BIRTH frame from the rebirth command, got %v", kinds)
	}
}

func TestDevice_WriteToReadOnlyMetric_Rejected(t *testing.T) {
	conn := &fakeConn{}
	node := fakes.NewSparkplugNode()
	d := newTestDevice(t, conn, node)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)
	defer d.Stop()

	d.DeliverCommand(external.CommandPayload{
		Metrics: []external.CommandMetric{{Name: "Temperature", Value: 99.0}},
	})
	time.Sleep(20 * time.Millisecond)

	conn.mu.Lock()
	defer conn.mu.Unlock()
	if len(conn.writes) != 0 {
		t.Errorf("expected no driver write for a GET-only metric, got %d writes", len(conn.writes))
	}
}

func TestDevice_PollingIntervalCommand(t *testing.T) {
	conn := &fakeConn{}
	node := fakes.NewSparkplugNode()
	localCfg := fakes.NewLocalConfigStore()

	metrics := append(models.DefaultControlMetrics())
	d := device.New(device.Config{
		DeviceConfig: models.DeviceConfig{
			DeviceID: "dev1",
			PollInt:  1000,
			Metrics:  metrics,
		},
		Conn:        conn,
		Node:        node,
		LocalConfig: localCfg,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)
	defer d.Stop()

	d.DeliverCommand(external.CommandPayload{
		Metrics: []external.CommandMetric{{Name: models.MetricPollingInterval, Value: int64(2500)}},
	})
	time.Sleep(20 * time.Millisecond)

	conn.mu.Lock()
	gotInterval := conn.lastIntervalMs
	gotStops := conn.stopCalls
	conn.mu.Unlock()

	if gotInterval != 2500 {
		t.Errorf("subscription restarted with interval %d, want 2500", gotInterval)
	}
	if gotStops == 0 {
		t.Error("expected StopSubscription to be called before restart")
	}

	m, ok := d.Store.GetByName(models.MetricPollingInterval)
	if !ok || m.Value != 2500 {
		t.Errorf("store polling interval = %+v, want 2500", m)
	}

	if got := localCfg.Written["dev1"]; got != 2500 {
		t.Errorf("local config poll interval = %d, want 2500", got)
	}
}

func TestDevice_FirstData_PublishesBirthAndGoesAlive(t *testing.T) {
	conn := &fakeConn{}
	node := fakes.NewSparkplugNode()
	d := newTestDevice(t, conn, node)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)
	defer d.Stop()

	d.DeliverEvent(device.Event{
		Kind:      device.EventData,
		Data:      map[string]any{"DB1,X0.0": map[string]any{}},
		ParseVals: false,
	})
	time.Sleep(10 * time.Millisecond)

	if !d.IsAlive() {
		t.Fatal("expected device alive after first data event")
	}

	// The watchdog period is 10s; this test does not wait it out, so
	// watchdog expiry, the DEATH it publishes and the rebirth after it are
	// not exercised here.
	if kinds := node.FrameKinds(); len(kinds) == 0 || kinds[0] != "BIRTH" {
		t.Errorf("expected BIRTH as the first frame, got %v", kinds)
	}
}
