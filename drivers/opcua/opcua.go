// Package opcua implements the southbound OPC UA connection driver: one
// Connection holds a single session against an OPC UA server; each metric's
// Address is the node's string NodeID. Subscription is implemented as
// polling (Read) rather than OPC UA's native subscription service, to keep
// the driver's read/write shape uniform with the rest of the southbound
// drivers.
package opcua

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gopcua/opcua"
	"github.com/gopcua/opcua/ua"

	"github.com/edgeconduit/edgelink/device"
	"github.com/edgeconduit/edgelink/models"
)

// Connection is a device.Connection backed by a gopcua client.Client.
type Connection struct {
	client   *opcua.Client
	endpoint string
	logger   *slog.Logger

	events chan device.Event

	mu   sync.Mutex
	subs map[string]chan struct{}
}

// New builds a Connection from a connection's detail bag: "endpoint" (OPC
// UA URL, required). Security is left at the server's default (None);
// a deployment that requires a signed or encrypted channel can extend
// details with cert/key paths and wire opcua.WithCertificate et al. here.
func New(details map[string]any, logger *slog.Logger) (device.Connection, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	endpoint, _ := details["endpoint"].(string)
	if endpoint == "" {
		return nil, fmt.Errorf("opcua: details.endpoint is required")
	}

	client, err := opcua.NewClient(endpoint, opcua.SecurityMode(ua.MessageSecurityModeNone))
	if err != nil {
		return nil, fmt.Errorf("opcua: new client: %w", err)
	}

	return &Connection{
		client:   client,
		endpoint: endpoint,
		logger:   logger,
		events:   make(chan device.Event, 64),
		subs:     make(map[string]chan struct{}),
	}, nil
}

func (c *Connection) Open(ctx context.Context) error {
	if err := c.client.Connect(ctx); err != nil {
		c.events <- device.Event{Kind: device.EventError, Err: err}
		return fmt.Errorf("opcua: connect %s: %w", c.endpoint, err)
	}
	c.events <- device.Event{Kind: device.EventOpen}
	return nil
}

func (c *Connection) Close() error {
	c.mu.Lock()
	for _, stop := range c.subs {
		close(stop)
	}
	c.subs = make(map[string]chan struct{})
	c.mu.Unlock()

	err := c.client.Close(context.Background())
	c.events <- device.Event{Kind: device.EventClose}
	close(c.events)
	return err
}

func (c *Connection) ReadMetrics(ctx context.Context, deviceID string, metrics []models.Metric, payloadFormat models.PayloadFormat, delimiter string) error {
	obj, err := c.read(ctx, metrics)
	if err != nil {
		c.events <- device.Event{Kind: device.EventError, DeviceID: deviceID, Err: err}
		return err
	}
	c.events <- device.Event{Kind: device.EventData, DeviceID: deviceID, Data: obj, ParseVals: false}
	return nil
}

func (c *Connection) WriteMetrics(ctx context.Context, _ string, metrics []models.Metric, _ models.PayloadFormat, _ string, cb func(error)) {
	var toWrite []*ua.WriteValue
	for _, m := range metrics {
		if m.Properties.Address == "" {
			continue
		}
		id, err := ua.ParseNodeID(m.Properties.Address)
		if err != nil {
			cb(fmt.Errorf("opcua: parse node id %s: %w", m.Properties.Address, err))
			return
		}
		v, err := ua.NewVariant(m.Value)
		if err != nil {
			cb(fmt.Errorf("opcua: encode value for %s: %w", m.Properties.Address, err))
			return
		}
		toWrite = append(toWrite, &ua.WriteValue{
			NodeID:      id,
			AttributeID: ua.AttributeIDValue,
			Value:       &ua.DataValue{EncodingMask: ua.DataValueValue, Value: v},
		})
	}
	if len(toWrite) == 0 {
		cb(nil)
		return
	}

	resp, err := c.client.Write(ctx, &ua.WriteRequest{NodesToWrite: toWrite})
	if err != nil {
		cb(fmt.Errorf("opcua: write: %w", err))
		return
	}
	for _, status := range resp.Results {
		if status != ua.StatusOK {
			cb(fmt.Errorf("opcua: write rejected: %s", status))
			return
		}
	}
	cb(nil)
}

func (c *Connection) StartSubscription(ctx context.Context, deviceID string, metrics []models.Metric, payloadFormat models.PayloadFormat, delimiter string, intervalMs int, cb func(error)) error {
	if intervalMs <= 0 {
		intervalMs = 2000
	}
	stop := make(chan struct{})

	c.mu.Lock()
	if old, ok := c.subs[deviceID]; ok {
		close(old)
	}
	c.subs[deviceID] = stop
	c.mu.Unlock()

	go c.pollLoop(ctx, deviceID, metrics, time.Duration(intervalMs)*time.Millisecond, stop)
	cb(nil)
	return nil
}

func (c *Connection) StopSubscription(deviceID string, cb func(error)) error {
	c.mu.Lock()
	if stop, ok := c.subs[deviceID]; ok {
		close(stop)
		delete(c.subs, deviceID)
	}
	c.mu.Unlock()
	cb(nil)
	return nil
}

func (c *Connection) Events() <-chan device.Event { return c.events }

func (c *Connection) pollLoop(ctx context.Context, deviceID string, metrics []models.Metric, interval time.Duration, stop chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			obj, err := c.read(ctx, metrics)
			if err != nil {
				c.logger.Warn("opcua poll failed", "device", deviceID, "err", err)
				c.events <- device.Event{Kind: device.EventError, DeviceID: deviceID, Err: err}
				continue
			}
			c.events <- device.Event{Kind: device.EventData, DeviceID: deviceID, Data: obj, ParseVals: false}
		}
	}
}

// read issues one Read service call covering every readable metric's node,
// returning a node-id-keyed map of already-native Go values (no further
// codec decode needed, since OPC UA values arrive natively typed).
func (c *Connection) read(ctx context.Context, metrics []models.Metric) (map[string]any, error) {
	var ids []*ua.ReadValueID
	var addrs []string
	for _, m := range metrics {
		if m.Properties.Address == "" || !m.Properties.IsReadable() {
			continue
		}
		id, err := ua.ParseNodeID(m.Properties.Address)
		if err != nil {
			return nil, fmt.Errorf("opcua: parse node id %s: %w", m.Properties.Address, err)
		}
		ids = append(ids, &ua.ReadValueID{NodeID: id, AttributeID: ua.AttributeIDValue})
		addrs = append(addrs, m.Properties.Address)
	}
	if len(ids) == 0 {
		return map[string]any{}, nil
	}

	resp, err := c.client.Read(ctx, &ua.ReadRequest{
		NodesToRead:        ids,
		TimestampsToReturn: ua.TimestampsToReturnBoth,
	})
	if err != nil {
		return nil, fmt.Errorf("opcua: read: %w", err)
	}

	obj := make(map[string]any, len(resp.Results))
	for i, res := range resp.Results {
		if res.Status != ua.StatusOK || res.Value == nil {
			continue
		}
		obj[addrs[i]] = res.Value.Value()
	}
	return obj, nil
}

type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }
