package codec_test

import (
	"testing"

	"github.com/edgeconduit/edgelink/codec"
	"github.com/edgeconduit/edgelink/models"
)

func TestParseFixedBuffer_PDPDecode(t *testing.T) {
	m := models.Metric{
		Type:       models.UInt32,
		Properties: models.Properties{Path: "0", Endianness: models.PDPEndian},
	}
	got, err := codec.ParseValue([]byte{0x01, 0x02, 0x03, 0x04}, m, models.FormatFixedBuffer, "")
	if err != nil {
		t.Fatalf("ParseValue: %v", err)
	}
	const want = uint64(0x03040102)
	if got != want {
		t.Errorf("PDP decode = %#x, want %#x", got, want)
	}
}

func TestFixedBuffer_RoundTrip(t *testing.T) {
	cases := []struct {
		name string
		m    models.Metric
	}{
		{"uint16-big", models.Metric{Type: models.UInt16, Value: uint64(4660), Properties: models.Properties{Path: "0", Endianness: models.BigEndian}}},
		{"int32-little", models.Metric{Type: models.Int32, Value: int64(-12345), Properties: models.Properties{Path: "0", Endianness: models.LittleEndian}}},
		{"float-big", models.Metric{Type: models.Float, Value: float64(float32(3.5)), Properties: models.Properties{Path: "0", Endianness: models.BigEndian}}},
		{"double-little", models.Metric{Type: models.Double, Value: 2.71828, Properties: models.Properties{Path: "0", Endianness: models.LittleEndian}}},
		{"uint32-pdp", models.Metric{Type: models.UInt32, Value: uint64(0x03040102), Properties: models.Properties{Path: "0", Endianness: models.PDPEndian}}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			encoded, err := codec.Encode([]models.Metric{tc.m}, models.FormatFixedBuffer, "")
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			got, err := codec.ParseValue(encoded, tc.m, models.FormatFixedBuffer, "")
			if err != nil {
				t.Fatalf("ParseValue: %v", err)
			}
			if got != tc.m.Value {
				t.Errorf("round-trip = %v (%T), want %v (%T)", got, got, tc.m.Value, tc.m.Value)
			}
		})
	}
}

func TestParseJSON_PathAndDisjointRoundTrip(t *testing.T) {
	m1 := models.Metric{Name: "temp", Type: models.Float, Value: 23.5, Properties: models.Properties{Path: "$.sensor.temp"}}
	m2 := models.Metric{Name: "humidity", Type: models.Float, Value: 55.0, Properties: models.Properties{Path: "$.sensor.humidity"}}

	encoded, err := codec.Encode([]models.Metric{m1, m2}, models.FormatJSON, "")
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	got1, err := codec.ParseValue(encoded, m1, models.FormatJSON, "")
	if err != nil {
		t.Fatalf("ParseValue m1: %v", err)
	}
	if got1 != m1.Value {
		t.Errorf("m1 round-trip = %v, want %v", got1, m1.Value)
	}

	got2, err := codec.ParseValue(encoded, m2, models.FormatJSON, "")
	if err != nil {
		t.Fatalf("ParseValue m2: %v", err)
	}
	if got2 != m2.Value {
		t.Errorf("m2 round-trip = %v, want %v", got2, m2.Value)
	}
}

func TestParseJSON_StringPayload(t *testing.T) {
	m := models.Metric{Type: models.Float, Properties: models.Properties{Path: "$.sensor.temp"}}
	got, err := codec.ParseValue(`{"sensor":{"temp":"23.5"}}`, m, models.FormatJSON, "")
	if err != nil {
		t.Fatalf("ParseValue: %v", err)
	}
	if got != 23.5 {
		t.Errorf("got %v, want 23.5", got)
	}
}

func TestParseDelimited_FieldIndex(t *testing.T) {
	m := models.Metric{Type: models.Int32, Properties: models.Properties{Path: "2"}}
	got, err := codec.ParseValue("10,20,30,40", m, models.FormatDelimited, ",")
	if err != nil {
		t.Fatalf("ParseValue: %v", err)
	}
	if got != int64(30) {
		t.Errorf("got %v, want 30", got)
	}
}

func TestOPCUASecurityName_UnknownResolvesInvalid(t *testing.T) {
	if got := codec.OPCUASecurityName("bogus"); got != "Invalid" {
		t.Errorf("got %q, want Invalid", got)
	}
	if got := codec.OPCUASecurityName("basic256sha256"); got != "Basic256Sha256" {
		t.Errorf("got %q, want Basic256Sha256", got)
	}
}
