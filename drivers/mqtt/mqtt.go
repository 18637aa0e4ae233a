// Package mqtt implements the southbound MQTT connection driver: one
// Connection subscribes to the topics (metric Addresses) declared across
// every device on it, and emits an Event per inbound message. Writes
// publish to the metric's own Address topic.
package mqtt

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/edgeconduit/edgelink/device"
	"github.com/edgeconduit/edgelink/models"
)

// Connection is a device.Connection backed by a single shared paho MQTT
// client, the way a broker connection is shared by every device subscribed
// through it.
type Connection struct {
	client mqtt.Client
	qos    byte
	logger *slog.Logger

	events chan device.Event

	mu            sync.Mutex
	deviceByTopic map[string]string // topic -> deviceID, for routing inbound messages
}

// New builds a Connection from a connection's detail bag: "broker" (URI,
// required), "clientId", "username", "password", and "qos" (0-2, default
// 0).
func New(details map[string]any, logger *slog.Logger) (device.Connection, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	broker, _ := details["broker"].(string)
	if broker == "" {
		return nil, fmt.Errorf("mqtt: details.broker is required")
	}
	clientID, _ := details["clientId"].(string)
	if clientID == "" {
		clientID = fmt.Sprintf("edgelink-%d", time.Now().UnixNano())
	}

	qos := byte(0)
	if v, ok := details["qos"].(float64); ok {
		qos = byte(v)
	}

	c := &Connection{
		qos:           qos,
		logger:        logger,
		events:        make(chan device.Event, 256),
		deviceByTopic: make(map[string]string),
	}

	opts := mqtt.NewClientOptions().AddBroker(broker).SetClientID(clientID).SetAutoReconnect(true)
	if u, ok := details["username"].(string); ok {
		opts.SetUsername(u)
	}
	if p, ok := details["password"].(string); ok {
		opts.SetPassword(p)
	}
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		c.events <- device.Event{Kind: device.EventClose, Err: err}
	})
	opts.SetOnConnectHandler(func(mqtt.Client) {
		c.events <- device.Event{Kind: device.EventOpen}
	})

	c.client = mqtt.NewClient(opts)
	return c, nil
}

func (c *Connection) Open(context.Context) error {
	token := c.client.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt: connect: %w", err)
	}
	return nil
}

func (c *Connection) Close() error {
	c.client.Disconnect(250)
	c.events <- device.Event{Kind: device.EventClose}
	close(c.events)
	return nil
}

func (c *Connection) ReadMetrics(context.Context, string, []models.Metric, models.PayloadFormat, string) error {
	return fmt.Errorf("mqtt: one-shot read not supported, subscribe instead")
}

func (c *Connection) WriteMetrics(_ context.Context, _ string, metrics []models.Metric, payloadFormat models.PayloadFormat, _ string, cb func(error)) {
	for _, m := range metrics {
		if m.Properties.Address == "" {
			continue
		}
		payload := fmt.Sprint(m.Value)
		token := c.client.Publish(m.Properties.Address, c.qos, false, payload)
		token.Wait()
		if err := token.Error(); err != nil {
			cb(fmt.Errorf("mqtt: publish %s: %w", m.Properties.Address, err))
			return
		}
	}
	cb(nil)
}

func (c *Connection) StartSubscription(_ context.Context, deviceID string, metrics []models.Metric, payloadFormat models.PayloadFormat, delimiter string, _ int, cb func(error)) error {
	for _, m := range metrics {
		topic := m.Properties.Address
		if topic == "" || !m.Properties.IsReadable() {
			continue
		}
		c.mu.Lock()
		c.deviceByTopic[topic] = deviceID
		c.mu.Unlock()

		token := c.client.Subscribe(topic, c.qos, c.onMessage)
		token.Wait()
		if err := token.Error(); err != nil {
			cb(fmt.Errorf("mqtt: subscribe %s: %w", topic, err))
			return err
		}
	}
	cb(nil)
	return nil
}

func (c *Connection) StopSubscription(deviceID string, cb func(error)) error {
	c.mu.Lock()
	var topics []string
	for topic, id := range c.deviceByTopic {
		if id == deviceID {
			topics = append(topics, topic)
			delete(c.deviceByTopic, topic)
		}
	}
	c.mu.Unlock()

	for _, topic := range topics {
		c.client.Unsubscribe(topic).Wait()
	}
	cb(nil)
	return nil
}

func (c *Connection) Events() <-chan device.Event { return c.events }

func (c *Connection) onMessage(_ mqtt.Client, msg mqtt.Message) {
	c.mu.Lock()
	deviceID := c.deviceByTopic[msg.Topic()]
	c.mu.Unlock()

	c.events <- device.Event{
		Kind:      device.EventData,
		DeviceID:  deviceID,
		Data:      map[string]any{msg.Topic(): msg.Payload()},
		ParseVals: true,
	}
}

type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }
