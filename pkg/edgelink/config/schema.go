// Package config implements the config rehasher (C6): it normalises the
// external configuration document — the same JSON shape used both by the
// remote config service and by the local persisted file — into the internal
// models.ConnectionConfig/models.DeviceConfig shape the device layer
// consumes.
package config

import "encoding/json"

// rawDocument is the top-level external config document shape (spec §6):
// {sparkplug:…, deviceConnections:[…]}.
type rawDocument struct {
	Sparkplug         json.RawMessage   `json:"sparkplug,omitempty"`
	DeviceConnections []json.RawMessage `json:"deviceConnections"`
}

// rawConnection is the known-field subset of one deviceConnections entry;
// every other top-level field on the same JSON object is connection-type
// specific detail data, captured separately (see decodeConnection).
type rawConnection struct {
	ConnType      string      `json:"connType"`
	PollInt       int         `json:"pollInt"`
	PayloadFormat string      `json:"payloadFormat"`
	Delimiter     string      `json:"delimiter"`
	Devices       []rawDevice `json:"devices"`
}

// rawDevice is one declared device within a connection.
type rawDevice struct {
	DeviceID      string   `json:"deviceId"`
	PollInt       int      `json:"pollInt,omitempty"`
	PayloadFormat string   `json:"payloadFormat,omitempty"`
	Delimiter     string   `json:"delimiter,omitempty"`
	Tags          []rawTag `json:"tags"`
}

// rawTag is one declared tag, converted into a Metric by convertTag.
type rawTag struct {
	Name         string  `json:"name"`
	Type         string  `json:"type"`
	Method       string  `json:"method"`
	Address      string  `json:"address"`
	Path         string  `json:"path"`
	FriendlyName string  `json:"friendlyName"`
	Tooltip      string  `json:"tooltip"`
	Docs         string  `json:"docs"`
	EngUnit      string  `json:"engUnit"`
	EngLow       float64 `json:"engLow"`
	EngHigh      float64 `json:"engHigh"`
	DeadBand     float64 `json:"deadBand"`
	RecordToDB   bool    `json:"recordToDB"`
}

// connectionKnownFields lists the JSON keys decodeConnection strips before
// treating what's left as connection-type-specific detail data.
var connectionKnownFields = []string{"connType", "pollInt", "payloadFormat", "delimiter", "devices"}
