// Package udp implements the southbound UDP connection driver. A single
// net.PacketConn listens on one address shared by every device on the
// connection; devices are distinguished by source address, and a device's
// metrics are expected to share a single configured Address equal to the
// sender address the device pushes from (e.g. "192.168.1.21:0"; the port
// is ignored, see remoteKey).
package udp

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"

	"github.com/edgeconduit/edgelink/device"
	"github.com/edgeconduit/edgelink/models"
)

// Connection is a device.Connection backed by one net.PacketConn.
type Connection struct {
	listenAddr string
	conn       net.PacketConn
	logger     *slog.Logger

	events chan device.Event

	mu           sync.Mutex
	devicesByKey map[string]string // remoteKey -> deviceID
	addrsByDev   map[string]string // deviceID -> the Address its metrics share
	running      bool
}

// New builds a Connection from a connection's detail bag: "listenAddr"
// (required, e.g. ":9100").
func New(details map[string]any, logger *slog.Logger) (device.Connection, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	listenAddr, _ := details["listenAddr"].(string)
	if listenAddr == "" {
		return nil, fmt.Errorf("udp: details.listenAddr is required")
	}
	return &Connection{
		listenAddr:   listenAddr,
		logger:       logger,
		events:       make(chan device.Event, 256),
		devicesByKey: make(map[string]string),
		addrsByDev:   make(map[string]string),
	}, nil
}

func (c *Connection) Open(ctx context.Context) error {
	conn, err := net.ListenPacket("udp", c.listenAddr)
	if err != nil {
		c.events <- device.Event{Kind: device.EventError, Err: err}
		return fmt.Errorf("udp: listen %s: %w", c.listenAddr, err)
	}
	c.conn = conn
	c.running = true
	go c.readLoop(ctx)
	c.events <- device.Event{Kind: device.EventOpen}
	return nil
}

func (c *Connection) Close() error {
	c.mu.Lock()
	c.running = false
	c.mu.Unlock()

	var err error
	if c.conn != nil {
		err = c.conn.Close()
	}
	c.events <- device.Event{Kind: device.EventClose}
	close(c.events)
	return err
}

func (c *Connection) ReadMetrics(context.Context, string, []models.Metric, models.PayloadFormat, string) error {
	return fmt.Errorf("udp: one-shot read not supported, this is a push-only driver")
}

func (c *Connection) WriteMetrics(_ context.Context, deviceID string, _ []models.Metric, _ models.PayloadFormat, _ string, cb func(error)) {
	cb(fmt.Errorf("udp: write not supported for device %s", deviceID))
}

func (c *Connection) StartSubscription(_ context.Context, deviceID string, metrics []models.Metric, _ models.PayloadFormat, _ string, _ int, cb func(error)) error {
	addr := deviceID
	key := deviceID
	for _, m := range metrics {
		if m.Properties.Address != "" && m.Properties.IsReadable() {
			addr = m.Properties.Address
			key = remoteKey(m.Properties.Address)
			break
		}
	}
	c.mu.Lock()
	c.devicesByKey[key] = deviceID
	c.addrsByDev[deviceID] = addr
	c.mu.Unlock()
	cb(nil)
	return nil
}

func (c *Connection) StopSubscription(deviceID string, cb func(error)) error {
	c.mu.Lock()
	for key, id := range c.devicesByKey {
		if id == deviceID {
			delete(c.devicesByKey, key)
		}
	}
	delete(c.addrsByDev, deviceID)
	c.mu.Unlock()
	cb(nil)
	return nil
}

func (c *Connection) Events() <-chan device.Event { return c.events }

func (c *Connection) readLoop(ctx context.Context) {
	buf := make([]byte, 65535)
	for {
		c.mu.Lock()
		running := c.running
		c.mu.Unlock()
		if !running {
			return
		}

		n, remote, err := c.conn.ReadFrom(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				c.events <- device.Event{Kind: device.EventError, Err: err}
				continue
			}
		}
		payload := append([]byte(nil), buf[:n]...)

		key := remoteKey(remote.String())
		c.mu.Lock()
		deviceID, known := c.devicesByKey[key]
		addr := c.addrsByDev[deviceID]
		c.mu.Unlock()
		if !known {
			c.logger.Debug("udp packet from unregistered sender", "remote", remote.String())
			continue
		}

		c.events <- device.Event{
			Kind:      device.EventData,
			DeviceID:  deviceID,
			Data:      map[string]any{addr: payload},
			ParseVals: true,
		}
	}
}

// remoteKey strips the port from a host:port address, since UDP senders
// often use an ephemeral source port that changes between packets.
func remoteKey(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return strings.TrimSuffix(addr, ":0")
	}
	return host
}

type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }
