// Package sparkplugmqtt is a minimal, JSON-over-MQTT implementation of
// external.SparkplugNode, suitable as the translator's default NodeFactory.
// It is not a full Sparkplug B (protobuf/Tahu) implementation - a
// deployment that needs wire compatibility with a real Sparkplug-aware
// SCADA host should swap in one and satisfy the same interface.
package sparkplugmqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/edgeconduit/edgelink/external"
	"github.com/edgeconduit/edgelink/models"
)

// frame is the wire shape for DBIRTH/DDATA/DDEATH publishes.
type frame struct {
	Timestamp int64           `json:"timestamp"`
	Metrics   []models.Metric `json:"metrics"`
}

// commandFrame is the wire shape expected on the DCMD subscription.
type commandFrame struct {
	Metrics []external.CommandMetric `json:"metrics"`
}

// Node publishes device BIRTH/DATA/DEATH frames as JSON on
// spBv1.0/<groupID>/<DBIRTH|DDATA|DDEATH>/<nodeID>/<deviceID>, and listens
// for DCMD messages on spBv1.0/<groupID>/DCMD/<nodeID>/+ and for NCMD
// rebirth requests on spBv1.0/<groupID>/NCMD/<nodeID>. STATE messages are
// not subscribed to.
type Node struct {
	client  mqtt.Client
	groupID string
	nodeID  string
	logger  *slog.Logger

	events chan external.SparkplugEvent
}

// New connects client to broker and subscribes to this node's command
// topics. identity supplies the group/node IDs every topic is rooted
// under.
func New(ctx context.Context, broker string, identity external.SparkplugIdentity, logger *slog.Logger) (*Node, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	n := &Node{
		groupID: identity.GroupID,
		nodeID:  identity.NodeID,
		logger:  logger,
		events:  make(chan external.SparkplugEvent, 64),
	}

	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(fmt.Sprintf("edgelink-%s-%s", identity.GroupID, identity.NodeID)).
		SetAutoReconnect(true)
	n.client = mqtt.NewClient(opts)

	token := n.client.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("sparkplugmqtt: connect: %w", err)
	}

	cmdTopic := fmt.Sprintf("spBv1.0/%s/DCMD/%s/+", n.groupID, n.nodeID)
	tok := n.client.Subscribe(cmdTopic, 1, n.onCommand)
	if tok.Wait(); tok.Error() != nil {
		return nil, fmt.Errorf("sparkplugmqtt: subscribe %s: %w", cmdTopic, tok.Error())
	}

	rebirthTopic := fmt.Sprintf("spBv1.0/%s/NCMD/%s", n.groupID, n.nodeID)
	tok = n.client.Subscribe(rebirthTopic, 1, n.onNodeCommand)
	if tok.Wait(); tok.Error() != nil {
		return nil, fmt.Errorf("sparkplugmqtt: subscribe %s: %w", rebirthTopic, tok.Error())
	}

	return n, nil
}

func (n *Node) PublishDBirth(_ context.Context, deviceID string, metrics []models.Metric) error {
	return n.publish("DBIRTH", deviceID, metrics)
}

func (n *Node) PublishDData(_ context.Context, deviceID string, metrics []models.Metric) error {
	return n.publish("DDATA", deviceID, metrics)
}

func (n *Node) PublishDDeath(_ context.Context, deviceID string) error {
	return n.publish("DDEATH", deviceID, nil)
}

func (n *Node) Stop() error {
	n.client.Disconnect(250)
	close(n.events)
	return nil
}

func (n *Node) Events() <-chan external.SparkplugEvent { return n.events }

func (n *Node) publish(kind, deviceID string, metrics []models.Metric) error {
	body, err := json.Marshal(frame{Metrics: metrics})
	if err != nil {
		return fmt.Errorf("sparkplugmqtt: encode %s: %w", kind, err)
	}
	topic := fmt.Sprintf("spBv1.0/%s/%s/%s/%s", n.groupID, kind, n.nodeID, deviceID)
	token := n.client.Publish(topic, 1, false, body)
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("sparkplugmqtt: publish %s: %w", topic, err)
	}
	return nil
}

func (n *Node) onCommand(_ mqtt.Client, msg mqtt.Message) {
	parts := strings.Split(msg.Topic(), "/")
	deviceID := parts[len(parts)-1]

	var cf commandFrame
	if err := json.Unmarshal(msg.Payload(), &cf); err != nil {
		n.logger.Warn("sparkplugmqtt: bad dcmd payload", "topic", msg.Topic(), "err", err)
		return
	}
	n.events <- external.SparkplugEvent{
		Kind:     external.EventDCmd,
		DeviceID: deviceID,
		Payload:  external.CommandPayload{Metrics: cf.Metrics},
	}
}

func (n *Node) onNodeCommand(_ mqtt.Client, msg mqtt.Message) {
	var cf commandFrame
	if err := json.Unmarshal(msg.Payload(), &cf); err != nil {
		n.logger.Warn("sparkplugmqtt: bad ncmd payload", "err", err)
		return
	}
	for _, m := range cf.Metrics {
		if m.Name == models.MetricRebirth {
			n.events <- external.SparkplugEvent{Kind: external.EventDBirthAll}
			return
		}
	}
}

type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }
