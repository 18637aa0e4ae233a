package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/edgeconduit/edgelink/models"
	"github.com/edgeconduit/edgelink/pkg/edgelink/config"
)

const sampleDoc = `{
  "sparkplug": {"groupId": "g1", "nodeId": "n1"},
  "deviceConnections": [
    {
      "connType": "S7",
      "pollInt": 1000,
      "payloadFormat": "fixedBuffer",
      "rack": 0,
      "slot": 1,
      "host": "10.0.0.5",
      "devices": [
        {
          "deviceId": "plc1",
          "tags": [
            {
              "name": "Temperature",
              "type": "uInt32BE",
              "method": "GET",
              "address": "DB1,X0.0",
              "path": "0",
              "engUnit": "C",
              "recordToDB": true
            },
            {
              "name": "SetPoint",
              "type": "uInt16LE",
              "method": "SET",
              "address": "DB1,X4.0",
              "path": "0"
            }
          ]
        },
        {
          "deviceId": "plc2",
          "pollInt": 5000,
          "tags": []
        }
      ]
    }
  ]
}`

func TestRehash_ConnectionDefaultsPushedToDevices(t *testing.T) {
	conns, err := config.Rehash([]byte(sampleDoc))
	if err != nil {
		t.Fatalf("Rehash: %v", err)
	}
	if len(conns) != 1 {
		t.Fatalf("got %d connections, want 1", len(conns))
	}

	conn := conns[0]
	if conn.ConnType != "S7" {
		t.Errorf("connType = %q, want S7", conn.ConnType)
	}
	if conn.Details["rack"] != float64(0) || conn.Details["host"] != "10.0.0.5" {
		t.Errorf("details not captured: %+v", conn.Details)
	}
	if len(conn.Devices) != 2 {
		t.Fatalf("got %d devices, want 2", len(conn.Devices))
	}

	plc1 := conn.Devices[0]
	if plc1.PollInt != 1000 {
		t.Errorf("plc1 pollInt = %d, want inherited 1000", plc1.PollInt)
	}
	plc2 := conn.Devices[1]
	if plc2.PollInt != 5000 {
		t.Errorf("plc2 pollInt = %d, want overridden 5000", plc2.PollInt)
	}
}

func TestRehash_TagConversion(t *testing.T) {
	conns, err := config.Rehash([]byte(sampleDoc))
	if err != nil {
		t.Fatalf("Rehash: %v", err)
	}

	plc1 := conns[0].Devices[0]
	// 3 mandatory control metrics + 2 declared tags
	if len(plc1.Metrics) != 5 {
		t.Fatalf("got %d metrics, want 5", len(plc1.Metrics))
	}

	var temp, setPoint *models.Metric
	for i := range plc1.Metrics {
		switch plc1.Metrics[i].Name {
		case "Temperature":
			temp = &plc1.Metrics[i]
		case "SetPoint":
			setPoint = &plc1.Metrics[i]
		}
	}
	if temp == nil || setPoint == nil {
		t.Fatal("expected Temperature and SetPoint metrics")
	}

	if temp.Type != models.UInt32 {
		t.Errorf("Temperature type = %v, want UInt32 (BE suffix stripped)", temp.Type)
	}
	if temp.Properties.Endianness != models.BigEndian {
		t.Errorf("Temperature endianness = %v, want BigEndian", temp.Properties.Endianness)
	}
	if temp.IsTransient {
		t.Error("Temperature has recordToDB:true, expected IsTransient=false")
	}

	if setPoint.Type != models.UInt16 {
		t.Errorf("SetPoint type = %v, want UInt16 (LE suffix stripped)", setPoint.Type)
	}
	if setPoint.Properties.Endianness != models.LittleEndian {
		t.Errorf("SetPoint endianness = %v, want LittleEndian", setPoint.Properties.Endianness)
	}
	if !setPoint.IsTransient {
		t.Error("SetPoint has no recordToDB, expected IsTransient=true (negation of absent recordToDB)")
	}
}

func TestRehash_DefaultControlMetricsPrepended(t *testing.T) {
	conns, err := config.Rehash([]byte(sampleDoc))
	if err != nil {
		t.Fatalf("Rehash: %v", err)
	}
	metrics := conns[0].Devices[0].Metrics
	wantFirst := []string{models.MetricPollingInterval, models.MetricReboot, models.MetricRebirth}
	for i, want := range wantFirst {
		if metrics[i].Name != want {
			t.Errorf("metric[%d] = %q, want %q", i, metrics[i].Name, want)
		}
	}
}

func TestFileStore_SetDevicePollInterval_RewritesOnlyThatField(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "conf.json")
	if err := os.WriteFile(path, []byte(sampleDoc), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	store := config.NewFileStore(path)
	if err := store.SetDevicePollInterval("plc1", 2500); err != nil {
		t.Fatalf("SetDevicePollInterval: %v", err)
	}

	conns, err := config.Rehash(mustRead(t, path))
	if err != nil {
		t.Fatalf("Rehash after write: %v", err)
	}
	if conns[0].Devices[0].PollInt != 2500 {
		t.Errorf("plc1 pollInt after write = %d, want 2500", conns[0].Devices[0].PollInt)
	}
	if conns[0].Details["host"] != "10.0.0.5" {
		t.Errorf("unrelated field host was not preserved: %+v", conns[0].Details)
	}
}

func mustRead(t *testing.T, path string) []byte {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	return b
}
