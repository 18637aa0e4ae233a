package translator_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/edgeconduit/edgelink/device"
	"github.com/edgeconduit/edgelink/external"
	"github.com/edgeconduit/edgelink/external/fakes"
	"github.com/edgeconduit/edgelink/models"
	"github.com/edgeconduit/edgelink/pkg/edgelink/registry"
	"github.com/edgeconduit/edgelink/pkg/edgelink/translator"
)

// fakeConn is a minimal device.Connection whose Events channel the test
// drives directly, to assert the translator's dispatch wiring.
type fakeConn struct {
	opened bool
	events chan device.Event
}

func newFakeConn() *fakeConn { return &fakeConn{events: make(chan device.Event, 16)} }

func (c *fakeConn) Open(context.Context) error { c.opened = true; return nil }
func (c *fakeConn) Close() error               { return nil }
func (c *fakeConn) ReadMetrics(context.Context, string, []models.Metric, models.PayloadFormat, string) error {
	return nil
}
func (c *fakeConn) WriteMetrics(_ context.Context, _ string, _ []models.Metric, _ models.PayloadFormat, _ string, cb func(error)) {
	cb(nil)
}
func (c *fakeConn) StartSubscription(_ context.Context, _ string, _ []models.Metric, _ models.PayloadFormat, _ string, _ int, cb func(error)) error {
	cb(nil)
	return nil
}
func (c *fakeConn) StopSubscription(_ string, cb func(error)) error { cb(nil); return nil }
func (c *fakeConn) Events() <-chan device.Event                     { return c.events }

const sampleDoc = `{
  "deviceConnections": [
    {
      "connType": "FAKE",
      "pollInt": 1000,
      "payloadFormat": "json",
      "devices": [
        {"deviceId": "dev1", "tags": [
          {"name": "Temperature", "type": "float", "method": "GET", "address": "A1", "path": ""}
        ]}
      ]
    }
  ]
}`

func newTestTranslator(t *testing.T, conn *fakeConn, node *fakes.SparkplugNode) *translator.Translator {
	t.Helper()
	reg := registry.New()
	reg.Register("FAKE", registry.Entry{
		ConnectionFactory: func(map[string]any, *slog.Logger) (device.Connection, error) { return conn, nil },
		DeviceFactory:     func(cfg device.Config) *device.Device { return device.New(cfg) },
	})

	return translator.New(translator.Config{
		Identity:      fakes.IdentityService{Principal: external.Principal{UUID: "node-1"}, Ok: true},
		ConfigService: fakes.ConfigService{Doc: []byte(sampleDoc), Ok: true},
		LocalConfig:   fakes.NewLocalConfigStore(),
		Registry:      reg,
		NodeFactory: func(context.Context, external.Principal, []models.ConnectionConfig) (external.SparkplugNode, error) {
			return node, nil
		},
		PollInterval: time.Millisecond,
	})
}

func TestTranslator_StartOpensConnectionAndWiresEvents(t *testing.T) {
	conn := newFakeConn()
	node := fakes.NewSparkplugNode()
	tr := newTestTranslator(t, conn, node)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := tr.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer tr.Stop()

	if !conn.opened {
		t.Error("expected connection to be opened")
	}

	conn.events <- device.Event{
		Kind:      device.EventData,
		DeviceID:  "dev1",
		Data:      map[string]any{"A1": 42.0},
		ParseVals: false,
	}
	time.Sleep(30 * time.Millisecond)

	if kinds := node.FrameKinds(); len(kinds) == 0 || kinds[0] != "BIRTH" {
		t.Errorf("expected BIRTH published for dev1, got %v", kinds)
	}
}

const nestedDetailsDoc = `{
  "deviceConnections": [
    {
      "connType": "FAKE",
      "pollInt": 1000,
      "payloadFormat": "json",
      "FAKEConnDetails": {"host": "10.0.0.9"},
      "unrelatedTopLevelField": "ignored",
      "devices": [
        {"deviceId": "dev1", "tags": []}
      ]
    }
  ]
}`

// TestTranslator_BuildConnectionsUnwrapsNestedDetailsKey asserts that a
// registry entry's DetailsKey selects conn.Details[DetailsKey] as the bag
// handed to the connection factory, rather than the whole flattened object.
func TestTranslator_BuildConnectionsUnwrapsNestedDetailsKey(t *testing.T) {
	conn := newFakeConn()
	node := fakes.NewSparkplugNode()

	var gotDetails map[string]any
	reg := registry.New()
	reg.Register("FAKE", registry.Entry{
		ConnectionFactory: func(details map[string]any, _ *slog.Logger) (device.Connection, error) {
			gotDetails = details
			return conn, nil
		},
		DeviceFactory: func(cfg device.Config) *device.Device { return device.New(cfg) },
		DetailsKey:    "FAKEConnDetails",
	})

	tr := translator.New(translator.Config{
		Identity:      fakes.IdentityService{Principal: external.Principal{UUID: "node-1"}, Ok: true},
		ConfigService: fakes.ConfigService{Doc: []byte(nestedDetailsDoc), Ok: true},
		LocalConfig:   fakes.NewLocalConfigStore(),
		Registry:      reg,
		NodeFactory: func(context.Context, external.Principal, []models.ConnectionConfig) (external.SparkplugNode, error) {
			return node, nil
		},
		PollInterval: time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := tr.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer tr.Stop()

	if gotDetails["host"] != "10.0.0.9" {
		t.Errorf("details = %+v, want the FAKEConnDetails sub-object with host=10.0.0.9", gotDetails)
	}
	if _, ok := gotDetails["unrelatedTopLevelField"]; ok {
		t.Errorf("details leaked an unrelated top-level field: %+v", gotDetails)
	}
}

func TestTranslator_DBirthAllRebirthsEveryDevice(t *testing.T) {
	conn := newFakeConn()
	node := fakes.NewSparkplugNode()
	tr := newTestTranslator(t, conn, node)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := tr.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer tr.Stop()

	node.Inject(external.SparkplugEvent{Kind: external.EventDBirthAll})
	time.Sleep(30 * time.Millisecond)

	if kinds := node.FrameKinds(); len(kinds) == 0 || kinds[0] != "BIRTH" {
		t.Errorf("expected a BIRTH from dbirth-all, got %v", kinds)
	}
}
