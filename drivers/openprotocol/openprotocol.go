// Package openprotocol implements the southbound Open Protocol (Atlas
// Copco tightening controller) connection driver over a persistent TCP
// socket per device. Each frame carries a fixed 16-byte header - a 4-digit
// MID, a 3-digit revision, a 1-character no-ack flag, and numeric
// station/spindle/sequence/part fields - followed by a variable-length
// payload terminated by ETX (0x03). A device's metrics name the MID they
// subscribe to via their configured Address.
package openprotocol

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/edgeconduit/edgelink/device"
	"github.com/edgeconduit/edgelink/models"
)

const (
	headerLen = 16
	etx       = 0x03
)

type deviceConn struct {
	conn   net.Conn
	reader *bufio.Reader
	addr   string // the MID this device's metrics subscribe to
}

// Connection is a device.Connection holding one TCP socket per device,
// all dialed against the same controller host:port.
type Connection struct {
	hostPort string
	logger   *slog.Logger

	events chan device.Event

	mu      sync.Mutex
	conns   map[string]*deviceConn
	running bool
}

// New builds a Connection from a connection's detail bag: "addr"
// (host:port, required).
func New(details map[string]any, logger *slog.Logger) (device.Connection, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	addr, _ := details["addr"].(string)
	if addr == "" {
		return nil, fmt.Errorf("openprotocol: details.addr is required")
	}
	return &Connection{
		hostPort: addr,
		logger:   logger,
		events:   make(chan device.Event, 64),
		conns:    make(map[string]*deviceConn),
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
	for _, dc := range c.conns {
		_ = dc.conn.Close()
	}
	c.conns = make(map[string]*deviceConn)
	c.mu.Unlock()

	c.events <- device.Event{Kind: device.EventClose}
	close(c.events)
	return nil
}

func (c *Connection) ReadMetrics(context.Context, string, []models.Metric, models.PayloadFormat, string) error {
	return fmt.Errorf("openprotocol: one-shot read not supported, subscribe instead")
}

func (c *Connection) WriteMetrics(_ context.Context, deviceID string, metrics []models.Metric, _ models.PayloadFormat, _ string, cb func(error)) {
	dc, err := c.connFor(deviceID, "")
	if err != nil {
		cb(err)
		return
	}
	for _, m := range metrics {
		if err := writeFrame(dc.conn, m.Properties.Address, fmt.Sprint(m.Value)); err != nil {
			cb(fmt.Errorf("openprotocol: write %s: %w", deviceID, err))
			return
		}
	}
	cb(nil)
}

func (c *Connection) StartSubscription(ctx context.Context, deviceID string, metrics []models.Metric, _ models.PayloadFormat, _ string, _ int, cb func(error)) error {
	mid := deviceID
	for _, m := range metrics {
		if m.Properties.Address != "" && m.Properties.IsReadable() {
			mid = m.Properties.Address
			break
		}
	}
	dc, err := c.connFor(deviceID, mid)
	if err != nil {
		cb(err)
		return err
	}
	if err := writeFrame(dc.conn, mid, ""); err != nil {
		cb(fmt.Errorf("openprotocol: subscribe %s: %w", deviceID, err))
		return err
	}
	go c.readLoop(ctx, deviceID, dc)
	cb(nil)
	return nil
}

func (c *Connection) StopSubscription(deviceID string, cb func(error)) error {
	c.mu.Lock()
	dc, ok := c.conns[deviceID]
	if ok {
		delete(c.conns, deviceID)
	}
	c.mu.Unlock()
	if ok {
		_ = dc.conn.Close()
	}
	cb(nil)
	return nil
}

func (c *Connection) Events() <-chan device.Event { return c.events }

func (c *Connection) connFor(deviceID, mid string) (*deviceConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if dc, ok := c.conns[deviceID]; ok {
		return dc, nil
	}
	conn, err := net.DialTimeout("tcp", c.hostPort, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("openprotocol: dial %s: %w", c.hostPort, err)
	}
	dc := &deviceConn{conn: conn, reader: bufio.NewReader(conn), addr: mid}
	c.conns[deviceID] = dc
	return dc, nil
}

func (c *Connection) readLoop(ctx context.Context, deviceID string, dc *deviceConn) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		mid, payload, err := readFrame(dc.reader)
		if err != nil {
			c.events <- device.Event{Kind: device.EventClose, DeviceID: deviceID, Err: err}
			return
		}
		c.events <- device.Event{
			Kind:      device.EventData,
			DeviceID:  deviceID,
			Data:      map[string]any{mid: payload},
			ParseVals: true,
		}
	}
}

// writeFrame encodes mid and payload into a fixed-header, ETX-terminated
// Open Protocol frame: 4-digit MID, 3-digit revision, 1-char no-ack flag,
// then station/spindle/sequence/parts/part-number numeric fields.
func writeFrame(w net.Conn, mid, payload string) error {
	if len(mid) < 4 {
		mid = strings.Repeat("0", 4-len(mid)) + mid
	}
	header := fmt.Sprintf("%s%03d%s%02d%02d%02d%01d%01d", mid, 1, " ", 0, 0, 0, 1, 1)
	full := header + payload + string(rune(etx))
	_, err := w.Write([]byte(full))
	return err
}

// readFrame reads one ETX-terminated frame and splits it into its leading
// 4-digit MID and trailing payload (the header's remaining fields are
// fixed-width and not otherwise interpreted by this driver).
func readFrame(r *bufio.Reader) (mid string, payload []byte, err error) {
	raw, err := r.ReadBytes(etx)
	if err != nil {
		return "", nil, err
	}
	raw = raw[:len(raw)-1] // drop ETX
	if len(raw) < 4 {
		return "", nil, fmt.Errorf("openprotocol: frame shorter than MID field")
	}
	mid = string(raw[:4])
	if _, err := strconv.Atoi(mid); err != nil {
		return "", nil, fmt.Errorf("openprotocol: non-numeric MID %q", mid)
	}

	body := raw[4:]
	if len(raw) >= headerLen {
		body = raw[headerLen:]
	}
	return mid, body, nil
}

type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }
