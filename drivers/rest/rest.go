// Package rest implements the southbound REST connection driver. One
// Connection polls an HTTP base URL shared by every device declared on it;
// each device's metrics are grouped by their configured Address (the
// resource path appended to the base URL), and one GET is issued per
// distinct address on every subscription tick.
package rest

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

// Connection is a device.Connection backed by a resty HTTP client polling a
// shared base URL.
type Connection struct {
	client  *resty.Client
	baseURL string
	headers map[string]string
	logger  *slog.Logger

	events chan device.Event

	mu   sync.Mutex
	subs map[string]chan struct{} // deviceID -> stop channel
}

// New builds a Connection from a connection's detail bag: "baseURL"
// (required) and an optional "headers" map of string->string applied to
// every request.
func New(details map[string]any, logger *slog.Logger) (device.Connection, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	baseURL, _ := details["baseURL"].(string)
	if baseURL == "" {
		return nil, fmt.Errorf("rest: details.baseURL is required")
	}

	headers := map[string]string{}
	if raw, ok := details["headers"].(map[string]any); ok {
		for k, v := range raw {
			if s, ok := v.(string); ok {
				headers[k] = s
			}
		}
	}

	return &Connection{
		client:  resty.New(),
		baseURL: baseURL,
		headers: headers,
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

// WriteMetrics is unsupported: REST southbound devices in this driver are
// read-only telemetry sources.
func (c *Connection) WriteMetrics(_ context.Context, _ string, _ []models.Metric, _ models.PayloadFormat, _ string, cb func(error)) {
	cb(fmt.Errorf("rest: write not supported"))
}

func (c *Connection) StartSubscription(ctx context.Context, deviceID string, metrics []models.Metric, payloadFormat models.PayloadFormat, delimiter string, intervalMs int, cb func(error)) error {
	if intervalMs <= 0 {
		intervalMs = 5000
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
				c.logger.Warn("rest poll failed", "device", deviceID, "err", err)
				c.events <- device.Event{Kind: device.EventError, DeviceID: deviceID, Err: err}
				continue
			}
			c.events <- device.Event{Kind: device.EventData, DeviceID: deviceID, Data: obj, ParseVals: true}
		}
	}
}

// fetch issues one GET per distinct Address among metrics, returning a
// address-keyed payload map ready for codec.ParseValue against each
// metric's Path.
func (c *Connection) fetch(ctx context.Context, metrics []models.Metric) (map[string]any, error) {
	seen := map[string]bool{}
	obj := make(map[string]any)

	for _, m := range metrics {
		addr := m.Properties.Address
		if addr == "" || seen[addr] || !m.Properties.IsReadable() {
			continue
		}
		seen[addr] = true

		req := c.client.R().SetContext(ctx)
		for k, v := range c.headers {
			req.SetHeader(k, v)
		}
		resp, err := req.Get(c.baseURL + addr)
		if err != nil {
			return nil, fmt.Errorf("rest: get %s: %w", addr, err)
		}
		if resp.IsError() {
			return nil, fmt.Errorf("rest: get %s: status %d", addr, resp.StatusCode())
		}
		obj[addr] = resp.Body()
	}
	return obj, nil
}

type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }
