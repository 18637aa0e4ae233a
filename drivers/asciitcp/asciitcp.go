// Package asciitcp implements the southbound ASCII-over-TCP connection
// driver: one Connection holds a persistent TCP socket per device,
// writing a newline-terminated poll request and reading a
// newline-terminated response line, handed to the codec as a delimited
// payload.
package asciitcp

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/edgeconduit/edgelink/device"
	"github.com/edgeconduit/edgelink/models"
)

// deviceConn is one device's persistent socket and buffered reader.
type deviceConn struct {
	conn   net.Conn
	reader *bufio.Reader
}

// Connection is a device.Connection holding one TCP socket per device,
// all dialed against the same host:port.
type Connection struct {
	addr          string
	requestSuffix string
	logger        *slog.Logger

	events chan device.Event

	mu      sync.Mutex
	conns   map[string]*deviceConn
	subs    map[string]chan struct{}
	running bool
}

// New builds a Connection from a connection's detail bag: "addr"
// (host:port, required), "requestSuffix" (appended to every poll request
// line, default "\r\n").
func New(details map[string]any, logger *slog.Logger) (device.Connection, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	addr, _ := details["addr"].(string)
	if addr == "" {
		return nil, fmt.Errorf("asciitcp: details.addr is required")
	}
	suffix, _ := details["requestSuffix"].(string)
	if suffix == "" {
		suffix = "\r\n"
	}
	return &Connection{
		addr:          addr,
		requestSuffix: suffix,
		logger:        logger,
		events:        make(chan device.Event, 64),
		conns:         make(map[string]*deviceConn),
		subs:          make(map[string]chan struct{}),
	}, nil
}

func (c *Connection) Open(context.Context) error {
	c.mu.Lock()
	c.running = true
	c.mu.Unlock()
	c.events <- device.Event{Kind: device.EventOpen}
	return nil
}

func (c *Connection) Close() error {
	c.mu.Lock()
	c.running = false
	for _, stop := range c.subs {
		close(stop)
	}
	c.subs = make(map[string]chan struct{})
	for _, dc := range c.conns {
		_ = dc.conn.Close()
	}
	c.conns = make(map[string]*deviceConn)
	c.mu.Unlock()

	c.events <- device.Event{Kind: device.EventClose}
	close(c.events)
	return nil
}

func (c *Connection) ReadMetrics(ctx context.Context, deviceID string, metrics []models.Metric, payloadFormat models.PayloadFormat, delimiter string) error {
	obj, err := c.poll(deviceID, metrics)
	if err != nil {
		c.events <- device.Event{Kind: device.EventError, DeviceID: deviceID, Err: err}
		return err
	}
	c.events <- device.Event{Kind: device.EventData, DeviceID: deviceID, Data: obj, ParseVals: true}
	return nil
}

func (c *Connection) WriteMetrics(_ context.Context, deviceID string, metrics []models.Metric, _ models.PayloadFormat, delimiter string, cb func(error)) {
	dc, err := c.connFor(deviceID)
	if err != nil {
		cb(err)
		return
	}
	for _, m := range metrics {
		line := m.Properties.Address + delimiter + fmt.Sprint(m.Value) + c.requestSuffix
		if _, err := dc.conn.Write([]byte(line)); err != nil {
			cb(fmt.Errorf("asciitcp: write %s: %w", deviceID, err))
			return
		}
		if _, err := dc.reader.ReadString('\n'); err != nil {
			cb(fmt.Errorf("asciitcp: ack read %s: %w", deviceID, err))
			return
		}
	}
	cb(nil)
}

func (c *Connection) StartSubscription(ctx context.Context, deviceID string, metrics []models.Metric, payloadFormat models.PayloadFormat, delimiter string, intervalMs int, cb func(error)) error {
	if intervalMs <= 0 {
		intervalMs = 1000
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
			obj, err := c.poll(deviceID, metrics)
			if err != nil {
				c.logger.Warn("asciitcp poll failed", "device", deviceID, "err", err)
				c.events <- device.Event{Kind: device.EventError, DeviceID: deviceID, Err: err}
				continue
			}
			c.events <- device.Event{Kind: device.EventData, DeviceID: deviceID, Data: obj, ParseVals: true}
		}
	}
}

// poll writes one request line per distinct metric Address and reads back
// one response line per request, keyed by that Address.
func (c *Connection) poll(deviceID string, metrics []models.Metric) (map[string]any, error) {
	dc, err := c.connFor(deviceID)
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	obj := make(map[string]any)
	for _, m := range metrics {
		addr := m.Properties.Address
		if addr == "" || seen[addr] || !m.Properties.IsReadable() {
			continue
		}
		seen[addr] = true

		if _, err := dc.conn.Write([]byte(addr + c.requestSuffix)); err != nil {
			return nil, fmt.Errorf("asciitcp: write %s: %w", addr, err)
		}
		line, err := dc.reader.ReadString('\n')
		if err != nil {
			return nil, fmt.Errorf("asciitcp: read %s: %w", addr, err)
		}
		obj[addr] = line
	}
	return obj, nil
}

func (c *Connection) connFor(deviceID string) (*deviceConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if dc, ok := c.conns[deviceID]; ok {
		return dc, nil
	}
	conn, err := net.Dial("tcp", c.addr)
	if err != nil {
		return nil, fmt.Errorf("asciitcp: dial %s: %w", c.addr, err)
	}
	dc := &deviceConn{conn: conn, reader: bufio.NewReader(conn)}
	c.conns[deviceID] = dc
	return dc, nil
}

type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }
