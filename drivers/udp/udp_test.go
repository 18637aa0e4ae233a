package udp_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/edgeconduit/edgelink/device"
	"github.com/edgeconduit/edgelink/drivers/udp"
	"github.com/edgeconduit/edgelink/models"
)

func TestUDP_PushedPacketRoutesToRegisteredDevice(t *testing.T) {
	// Reserve a free UDP port up front so the test client knows where to
	// send before the driver's own listener binds it.
	probe, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	listenAddr := probe.LocalAddr().String()
	probe.Close()

	conn, err := udp.New(map[string]any{"listenAddr": listenAddr}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := conn.Open(ctx); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer conn.Close()

	if ev := <-conn.Events(); ev.Kind != device.EventOpen {
		t.Fatalf("expected EventOpen, got %v", ev.Kind)
	}

	metrics := []models.Metric{
		{Name: "Status", Properties: models.Properties{Method: "GET", Address: "127.0.0.1"}},
	}
	done := make(chan error, 1)
	if err := conn.StartSubscription(ctx, "dev1", metrics, models.FormatDelimited, "=", 0, func(err error) { done <- err }); err != nil {
		t.Fatalf("StartSubscription: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("subscribe callback error: %v", err)
	}

	sender, err := net.Dial("udp", listenAddr)
	if err != nil {
		t.Fatalf("dial sender: %v", err)
	}
	defer sender.Close()
	if _, err := sender.Write([]byte("STATUS=OK")); err != nil {
		t.Fatalf("send packet: %v", err)
	}

	select {
	case ev := <-conn.Events():
		if ev.Kind != device.EventData {
			t.Fatalf("expected EventData, got %v", ev.Kind)
		}
		if ev.DeviceID != "dev1" {
			t.Fatalf("expected routing to dev1, got %q", ev.DeviceID)
		}
		if _, ok := ev.Data["127.0.0.1"]; !ok {
			t.Fatalf("expected data keyed by the device's configured address, got %v", ev.Data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for pushed packet")
	}
}

func TestUDP_NewRequiresListenAddr(t *testing.T) {
	if _, err := udp.New(map[string]any{}, nil); err == nil {
		t.Fatal("expected an error for a missing listenAddr")
	}
}

func TestUDP_ReadMetricsUnsupported(t *testing.T) {
	conn, err := udp.New(map[string]any{"listenAddr": "127.0.0.1:0"}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := conn.ReadMetrics(context.Background(), "dev1", nil, models.FormatDelimited, ""); err == nil {
		t.Fatal("expected an error: udp is a push-only driver")
	}
}
