package rest_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/edgeconduit/edgelink/device"
	"github.com/edgeconduit/edgelink/drivers/rest"
	"github.com/edgeconduit/edgelink/models"
)

func TestRest_ReadMetricsFetchesEachDistinctAddressOnce(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write([]byte(`{"value":42}`))
	}))
	defer srv.Close()

	conn, err := rest.New(map[string]any{"baseURL": srv.URL}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := conn.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer conn.Close()

	metrics := []models.Metric{
		{Name: "Temperature", Properties: models.Properties{Method: "GET", Address: "/temp"}},
		{Name: "TemperatureDup", Properties: models.Properties{Method: "GET", Address: "/temp"}},
		{Name: "Pressure", Properties: models.Properties{Method: "GET", Address: "/pressure"}},
	}

	openEvent := <-conn.Events()
	if openEvent.Kind != device.EventOpen {
		t.Fatalf("expected EventOpen first, got %v", openEvent.Kind)
	}

	go conn.ReadMetrics(context.Background(), "dev1", metrics, models.FormatJSON, "")

	var dataEvent device.Event
	select {
	case dataEvent = <-conn.Events():
		if dataEvent.Kind != device.EventData {
			t.Fatalf("expected EventData, got %v", dataEvent.Kind)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for data event")
	}

	if len(dataEvent.Data) != 2 {
		t.Fatalf("expected 2 distinct addresses fetched, got %d", len(dataEvent.Data))
	}
	if hits != 2 {
		t.Fatalf("expected 2 HTTP hits (deduped), got %d", hits)
	}
}

func TestRest_WriteMetricsUnsupported(t *testing.T) {
	conn, err := rest.New(map[string]any{"baseURL": "http://example.invalid"}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	done := make(chan error, 1)
	conn.WriteMetrics(context.Background(), "dev1", nil, models.FormatJSON, "", func(err error) { done <- err })
	if err := <-done; err == nil {
		t.Fatal("expected an error for unsupported write")
	}
}

func TestRest_NewRequiresBaseURL(t *testing.T) {
	if _, err := rest.New(map[string]any{}, nil); err == nil {
		t.Fatal("expected an error for a missing baseURL")
	}
}
