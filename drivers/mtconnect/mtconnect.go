// Package mtconnect implements the southbound MTConnect connection driver:
// one Connection polls a device's "current" HTTP endpoint and hands the
// returned XML document to the codec's XPath-based decoder. Every device on
// the connection shares the same base URL but typically has its own probe
// path configured via the first readable metric's Address.
package mtconnect

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/edgeconduit/edgelink/device"
	"github.com/edgeconduit/edgelink/models"
)

// Connection is a device.Connection backed by a resty HTTP client polling
// one or more MTConnect "current" endpoints.
type Connection struct {
	client  *resty.Client
	baseURL string
	logger  *slog.Logger

	events chan device.Event

	mu   sync.Mutex
	subs map[string]chan struct{}
}

// New builds a Connection from a connection's detail bag: "baseURL"
// (required), e.g. "http://agent.local:5000".
func New(details map[string]any, logger *slog.Logger) (device.Connection, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	baseURL, _ := details["baseURL"].(string)
	if baseURL == "" {
		return nil, fmt.Errorf("mtconnect: details.baseURL is required")
	}
	return &Connection{
		client:  resty.New(),
		baseURL: baseURL,
		logger:  logger,
		events:  make(chan device.Event, 64),
		subs:    make(map[string]chan struct{}),
	}, nil
}

func (c *Connection) Open(context.Context) error {
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

	c.events <- device.Event{Kind: device.EventClose}
	close(c.events)
	return nil
}

func (c *Connection) ReadMetrics(ctx context.Context, deviceID string, metrics []models.Metric, payloadFormat models.PayloadFormat, delimiter string) error {
	obj, err := c.fetch(ctx, metrics)
	if err != nil {
		c.events <- device.Event{Kind: device.EventError, DeviceID: deviceID, Err: err}
		return err
	}
	c.events <- device.Event{Kind: device.EventData, DeviceID: deviceID, Data: obj, ParseVals: true}
	return nil
}

// WriteMetrics is unsupported: MTConnect is a read-only telemetry protocol.
func (c *Connection) WriteMetrics(_ context.Context, _ string, _ []models.Metric, _ models.PayloadFormat, _ string, cb func(error)) {
	cb(fmt.Errorf("mtconnect: write not supported"))
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
			obj, err := c.fetch(ctx, metrics)
			if err != nil {
				c.logger.Warn("mtconnect poll failed", "device", deviceID, "err", err)
				c.events <- device.Event{Kind: device.EventError, DeviceID: deviceID, Err: err}
				continue
			}
			c.events <- device.Event{Kind: device.EventData, DeviceID: deviceID, Data: obj, ParseVals: true}
		}
	}
}

// fetch issues one GET per distinct probe Address among metrics (typically
// just one, the device's "current" path), keeping each response body keyed
// by that Address for the codec's XPath decoder.
func (c *Connection) fetch(ctx context.Context, metrics []models.Metric) (map[string]any, error) {
	seen := map[string]bool{}
	obj := make(map[string]any)

	for _, m := range metrics {
		addr := m.Properties.Address
		if addr == "" || seen[addr] || !m.Properties.IsReadable() {
			continue
		}
		seen[addr] = true

		resp, err := c.client.R().SetContext(ctx).Get(c.baseURL + addr)
		if err != nil {
			return nil, fmt.Errorf("mtconnect: get %s: %w", addr, err)
		}
		if resp.IsError() {
			return nil, fmt.Errorf("mtconnect: get %s: status %d", addr, resp.StatusCode())
		}
		obj[addr] = resp.Body()
	}
	return obj, nil
}

type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }
