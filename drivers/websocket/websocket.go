// Package websocket implements the southbound WebSocket connection driver:
// one Connection holds one gorilla/websocket connection per device (since,
// unlike MQTT, a WebSocket session is inherently point-to-point), and
// pushes an Event for every inbound frame.
package websocket

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/edgeconduit/edgelink/device"
	"github.com/edgeconduit/edgelink/models"
)

// Connection is a device.Connection holding one websocket.Conn per device,
// all dialed against the same base URL.
type Connection struct {
	baseURL string
	dialer  *websocket.Dialer
	logger  *slog.Logger

	events chan device.Event

	mu      sync.Mutex
	sockets map[string]*websocket.Conn
	addrs   map[string]string // deviceID -> shared Address its metrics are keyed under
}

// New builds a Connection from a connection's detail bag: "url" (required).
// Every device dials that same URL; a device's Address is not appended to
// it and only names the key its inbound frames are delivered under.
func New(details map[string]any, logger *slog.Logger) (device.Connection, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	url, _ := details["url"].(string)
	if url == "" {
		return nil, fmt.Errorf("websocket: details.url is required")
	}
	return &Connection{
		baseURL: url,
		dialer:  websocket.DefaultDialer,
		logger:  logger,
		events:  make(chan device.Event, 256),
		sockets: make(map[string]*websocket.Conn),
		addrs:   make(map[string]string),
	}, nil
}

func (c *Connection) Open(context.Context) error {
	c.events <- device.Event{Kind: device.EventOpen}
	return nil
}

func (c *Connection) Close() error {
	c.mu.Lock()
	for _, conn := range c.sockets {
		_ = conn.Close()
	}
	c.sockets = make(map[string]*websocket.Conn)
	c.mu.Unlock()

	c.events <- device.Event{Kind: device.EventClose}
	close(c.events)
	return nil
}

func (c *Connection) ReadMetrics(context.Context, string, []models.Metric, models.PayloadFormat, string) error {
	return fmt.Errorf("websocket: one-shot read not supported, subscribe instead")
}

func (c *Connection) WriteMetrics(_ context.Context, deviceID string, metrics []models.Metric, payloadFormat models.PayloadFormat, _ string, cb func(error)) {
	conn, err := c.socketFor(deviceID)
	if err != nil {
		cb(err)
		return
	}
	for _, m := range metrics {
		if err := conn.WriteJSON(map[string]any{"name": m.Name, "value": m.Value}); err != nil {
			cb(fmt.Errorf("websocket: write %s: %w", deviceID, err))
			return
		}
	}
	cb(nil)
}

func (c *Connection) StartSubscription(ctx context.Context, deviceID string, metrics []models.Metric, payloadFormat models.PayloadFormat, delimiter string, intervalMs int, cb func(error)) error {
	conn, err := c.socketFor(deviceID)
	if err != nil {
		cb(err)
		return err
	}

	addr := deviceID
	for _, m := range metrics {
		if m.Properties.Address != "" && m.Properties.IsReadable() {
			addr = m.Properties.Address
			break
		}
	}
	c.mu.Lock()
	c.addrs[deviceID] = addr
	c.mu.Unlock()

	go c.readLoop(ctx, deviceID, addr, conn)
	cb(nil)
	return nil
}

func (c *Connection) StopSubscription(deviceID string, cb func(error)) error {
	c.mu.Lock()
	conn, ok := c.sockets[deviceID]
	if ok {
		delete(c.sockets, deviceID)
	}
	c.mu.Unlock()
	if ok {
		_ = conn.Close()
	}
	cb(nil)
	return nil
}

func (c *Connection) Events() <-chan device.Event { return c.events }

func (c *Connection) socketFor(deviceID string) (*websocket.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if conn, ok := c.sockets[deviceID]; ok {
		return conn, nil
	}
	conn, _, err := c.dialer.Dial(c.baseURL, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket: dial %s: %w", c.baseURL, err)
	}
	c.sockets[deviceID] = conn
	return conn, nil
}

func (c *Connection) readLoop(ctx context.Context, deviceID, addr string, conn *websocket.Conn) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, payload, err := conn.ReadMessage()
		if err != nil {
			c.events <- device.Event{Kind: device.EventClose, DeviceID: deviceID, Err: err}
			return
		}
		c.events <- device.Event{
			Kind:      device.EventData,
			DeviceID:  deviceID,
			Data:      map[string]any{addr: payload},
			ParseVals: true,
		}
	}
}

type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }
