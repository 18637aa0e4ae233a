package metricstore_test

import (
	"testing"

	"github.com/edgeconduit/edgelink/metricstore"
	"github.com/edgeconduit/edgelink/models"
)

func tempMetric(name, address, path string) models.Metric {
	return models.Metric{
		Name: name,
		Type: models.Float,
		Properties: models.Properties{
			Method:  "GET",
			Address: address,
			Path:    path,
		},
	}
}

func TestStore_AddressPathUniqueness(t *testing.T) {
	s := metricstore.New()
	s.Add(
		tempMetric("m1", "DB1,X0.0", ""),
		tempMetric("m2", "DB1,X0.0", "$.a"),
		tempMetric("m3", "DB1,X0.0", "$.b"),
	)

	if got := s.Addresses(); len(got) != 1 {
		t.Fatalf("Addresses() = %v, want exactly one distinct address", got)
	}

	for _, path := range []string{"", "$.a", "$.b"} {
		if _, ok := s.GetByAddrPath("DB1,X0.0", path); !ok {
			t.Errorf("missing metric for path %q", path)
		}
	}
}

func TestStore_SetValueByName_Atomic(t *testing.T) {
	s := metricstore.New()
	s.Add(tempMetric("temp", "DB1,X0.0", ""))

	got, ok := s.SetValueByName("temp", 23.5, 1000)
	if !ok {
		t.Fatal("SetValueByName: metric not found")
	}
	if got.Value != 23.5 || got.Timestamp != 1000 || got.IsNull {
		t.Errorf("got %+v, want value=23.5 timestamp=1000 isNull=false", got)
	}

	got2, _ := s.GetByName("temp")
	if got2.Value != 23.5 || got2.Timestamp != 1000 {
		t.Errorf("store not updated: %+v", got2)
	}
}

func TestStore_SetValueByName_NilMarksNull(t *testing.T) {
	s := metricstore.New()
	s.Add(tempMetric("temp", "DB1,X0.0", ""))

	got, _ := s.SetValueByName("temp", nil, 1000)
	if !got.IsNull {
		t.Errorf("expected IsNull=true when value is nil, got %+v", got)
	}
}

func TestStore_SetAlias_ThenGetByAlias(t *testing.T) {
	s := metricstore.New()
	s.Add(tempMetric("temp", "DB1,X0.0", ""))

	if _, ok := s.GetByAlias(7); ok {
		t.Fatal("GetByAlias should fail before SetAlias is called")
	}

	if _, ok := s.SetAlias(0, 7); !ok {
		t.Fatal("SetAlias failed")
	}

	got, ok := s.GetByAlias(7)
	if !ok || got.Name != "temp" {
		t.Errorf("GetByAlias(7) = %+v, %v; want temp metric", got, ok)
	}
}

func TestStore_Addresses_OnlyReadableMetrics(t *testing.T) {
	s := metricstore.New()
	s.Add(
		tempMetric("readable", "addr1", ""),
		models.Metric{
			Name:       "writeOnly",
			Type:       models.Boolean,
			Properties: models.Properties{Method: "SET", Address: "addr2"},
		},
	)

	addrs := s.Addresses()
	if len(addrs) != 1 || addrs[0] != "addr1" {
		t.Errorf("Addresses() = %v, want [addr1] (write-only metrics excluded)", addrs)
	}
}

func TestStore_TimestampMonotonicity(t *testing.T) {
	s := metricstore.New()
	s.Add(tempMetric("temp", "addr", ""))

	var last int64
	for _, ts := range []int64{100, 100, 250, 250, 900} {
		got, _ := s.SetValueByName("temp", 1.0, ts)
		if got.Timestamp < last {
			t.Fatalf("timestamp decreased: %d < %d", got.Timestamp, last)
		}
		last = got.Timestamp
	}
}
