package asciitcp_test

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/edgeconduit/edgelink/device"
	"github.com/edgeconduit/edgelink/drivers/asciitcp"
	"github.com/edgeconduit/edgelink/models"
)

// echoServer accepts one connection and answers every request line with
// "99\n", mimicking a simple ASCII field controller.
func echoServer(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		reader := bufio.NewReader(conn)
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				return
			}
			_ = line
			conn.Write([]byte("99\n"))
		}
	}()
	return ln
}

func TestASCIITCP_ReadMetricsQueriesEachAddress(t *testing.T) {
	ln := echoServer(t)
	defer ln.Close()

	conn, err := asciitcp.New(map[string]any{"addr": ln.Addr().String()}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := conn.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer conn.Close()

	if ev := <-conn.Events(); ev.Kind != device.EventOpen {
		t.Fatalf("expected EventOpen, got %v", ev.Kind)
	}

	metrics := []models.Metric{
		{Name: "Speed", Properties: models.Properties{Method: "GET", Address: "SPD"}},
	}
	if err := conn.ReadMetrics(context.Background(), "dev1", metrics, models.FormatDelimited, "="); err != nil {
		t.Fatalf("ReadMetrics: %v", err)
	}

	select {
	case ev := <-conn.Events():
		if ev.Kind != device.EventData {
			t.Fatalf("expected EventData, got %v", ev.Kind)
		}
		if _, ok := ev.Data["SPD"]; !ok {
			t.Fatalf("expected data keyed by address SPD, got %v", ev.Data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for data event")
	}
}

func TestASCIITCP_NewRequiresAddr(t *testing.T) {
	if _, err := asciitcp.New(map[string]any{}, nil); err == nil {
		t.Fatal("expected an error for a missing addr")
	}
}
