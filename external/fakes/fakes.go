// Package fakes provides minimal in-memory stand-ins for the external
// collaborators (Sparkplug node, config service, identity service, local
// config store) so device and translator tests can drive BIRTH/DATA/DEATH
// ordering assertions without a real MQTT broker.
package fakes

import (
	"context"
	"sync"

	"github.com/edgeconduit/edgelink/external"
	"github.com/edgeconduit/edgelink/models"
)

// Frame records one published Sparkplug frame for assertions.
type Frame struct {
	Kind     string // "BIRTH", "DATA", "DEATH"
	DeviceID string
	Metrics  []models.Metric
}

// SparkplugNode is a fake external.SparkplugNode that records every
// published frame in order and lets tests inject inbound events.
type SparkplugNode struct {
	mu     sync.Mutex
	Frames []Frame

	events chan external.SparkplugEvent
}

// NewSparkplugNode returns a ready-to-use fake node.
func NewSparkplugNode() *SparkplugNode {
	return &SparkplugNode{events: make(chan external.SparkplugEvent, 16)}
}

func (n *SparkplugNode) PublishDBirth(_ context.Context, deviceID string, metrics []models.Metric) error {
	n.record(Frame{Kind: "BIRTH", DeviceID: deviceID, Metrics: metrics})
	return nil
}

func (n *SparkplugNode) PublishDData(_ context.Context, deviceID string, metrics []models.Metric) error {
	n.record(Frame{Kind: "DATA", DeviceID: deviceID, Metrics: metrics})
	return nil
}

func (n *SparkplugNode) PublishDDeath(_ context.Context, deviceID string) error {
	n.record(Frame{Kind: "DEATH", DeviceID: deviceID})
	return nil
}

func (n *SparkplugNode) Stop() error {
	close(n.events)
	return nil
}

func (n *SparkplugNode) Events() <-chan external.SparkplugEvent { return n.events }

// Inject pushes a command event to the node's event stream, as if the
// Sparkplug broker had delivered it.
func (n *SparkplugNode) Inject(ev external.SparkplugEvent) { n.events <- ev }

func (n *SparkplugNode) record(f Frame) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Frames = append(n.Frames, f)
}

// FrameKinds returns the recorded frame kinds in publish order, e.g.
// ["BIRTH", "DATA", "DEATH"], for matching against the
// "BIRTH (DATA)* DEATH?" regex testable property.
func (n *SparkplugNode) FrameKinds() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.Frames))
	for i, f := range n.Frames {
		out[i] = f.Kind
	}
	return out
}

// ConfigService is a fake external.ConfigService returning a fixed document.
type ConfigService struct {
	Doc []byte
	Ok  bool
	Err error
}

func (c ConfigService) GetConfig(_ context.Context, _, _ string) ([]byte, bool, error) {
	return c.Doc, c.Ok, c.Err
}

// IdentityService is a fake external.IdentityService returning a fixed
// principal.
type IdentityService struct {
	Principal external.Principal
	Ok        bool
	Err       error
}

func (s IdentityService) FindPrincipal(_ context.Context) (external.Principal, bool, error) {
	return s.Principal, s.Ok, s.Err
}

// LocalConfigStore is a fake external.LocalConfigStore recording every
// poll-interval write.
type LocalConfigStore struct {
	mu      sync.Mutex
	Written map[string]int
}

func NewLocalConfigStore() *LocalConfigStore {
	return &LocalConfigStore{Written: make(map[string]int)}
}

func (s *LocalConfigStore) SetDevicePollInterval(deviceID string, ms int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Written[deviceID] = ms
	return nil
}
