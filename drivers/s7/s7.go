// Package s7 implements the southbound Siemens S7 connection driver over
// gos7. Each metric's Address names a DB offset ("DB1,X0.0" for a bit,
// "DB1,B0"/"DB1,W0"/"DB1,D0" for byte/word/dword-sized fields). One gos7
// TCP handler is shared by every device declared on the connection; reads
// are batched per (deviceID, DB number) so that one device's poll never
// clobbers another sibling device's in-flight read.
package s7

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/robinson/gos7"

	"github.com/edgeconduit/edgelink/codec"
	"github.com/edgeconduit/edgelink/device"
	"github.com/edgeconduit/edgelink/models"
)

// fieldAddr is one metric's parsed S7 address.
type fieldAddr struct {
	db     int
	kind   byte // 'X', 'B', 'W', 'D', 'I' (input image, read-only, never written)
	offset int
	bit    int
}

// Connection is a device.Connection backed by one gos7 TCP handler shared
// by every device on it.
type Connection struct {
	handler *gos7.TCPClientHandler
	client  gos7.Client
	logger  *slog.Logger

	events chan device.Event

	mu   sync.Mutex
	subs map[string]chan struct{}
}

// New builds a Connection from a connection's detail bag: "host" (required),
// "rack", "slot" (both default 0).
func New(details map[string]any, logger *slog.Logger) (device.Connection, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	host, _ := details["host"].(string)
	if host == "" {
		return nil, fmt.Errorf("s7: details.host is required")
	}
	rack := intDetail(details, "rack", 0)
	slot := intDetail(details, "slot", 0)

	handler := gos7.NewTCPClientHandler(host, rack, slot)
	handler.Timeout = 5 * time.Second
	handler.IdleTimeout = 30 * time.Second

	return &Connection{
		handler: handler,
		client:  gos7.NewClient(handler),
		logger:  logger,
		events:  make(chan device.Event, 64),
		subs:    make(map[string]chan struct{}),
	}, nil
}

func intDetail(details map[string]any, key string, def int) int {
	if v, ok := details[key].(float64); ok {
		return int(v)
	}
	return def
}

func (c *Connection) Open(context.Context) error {
	if err := c.handler.Connect(); err != nil {
		c.events <- device.Event{Kind: device.EventError, Err: err}
		return fmt.Errorf("s7: connect: %w", err)
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

	c.handler.Close()
	c.events <- device.Event{Kind: device.EventClose}
	close(c.events)
	return nil
}

func (c *Connection) ReadMetrics(ctx context.Context, deviceID string, metrics []models.Metric, payloadFormat models.PayloadFormat, delimiter string) error {
	obj, err := c.readGroup(metrics)
	if err != nil {
		c.events <- device.Event{Kind: device.EventError, DeviceID: deviceID, Err: err}
		return err
	}
	c.events <- device.Event{Kind: device.EventData, DeviceID: deviceID, Data: obj, ParseVals: true}
	return nil
}

func (c *Connection) WriteMetrics(_ context.Context, _ string, metrics []models.Metric, payloadFormat models.PayloadFormat, delimiter string, cb func(error)) {
	for _, m := range metrics {
		addr, err := parseAddress(m.Properties.Address)
		if err != nil {
			cb(err)
			return
		}
		if addr.kind == 'I' {
			cb(fmt.Errorf("s7: write to input image register %s is not supported", m.Properties.Address))
			return
		}

		buf, err := codec.Encode([]models.Metric{withRelativeOffset(m, addr)}, models.FormatFixedBuffer, delimiter)
		if err != nil || buf == nil {
			cb(fmt.Errorf("s7: encode %s: %w", m.Properties.Address, err))
			return
		}
		if err := c.client.AGWriteDB(addr.db, addr.offset, len(buf), buf); err != nil {
			cb(fmt.Errorf("s7: write DB%d offset %d: %w", addr.db, addr.offset, err))
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
			obj, err := c.readGroup(metrics)
			if err != nil {
				c.logger.Warn("s7 poll failed", "device", deviceID, "err", err)
				c.events <- device.Event{Kind: device.EventError, DeviceID: deviceID, Err: err}
				continue
			}
			c.events <- device.Event{Kind: device.EventData, DeviceID: deviceID, Data: obj, ParseVals: true}
		}
	}
}

// readGroup batches this device's metrics into one AGReadDB per DB number
// (the device's own item group), then returns each field's raw bytes keyed
// by its own Address so the codec can decode it unambiguously.
func (c *Connection) readGroup(metrics []models.Metric) (map[string]any, error) {
	type fieldSpec struct {
		metric models.Metric
		addr   fieldAddr
		width  int
	}

	byDB := map[int][]fieldSpec{}
	for _, m := range metrics {
		if m.Properties.Address == "" || !m.Properties.IsReadable() {
			continue
		}
		addr, err := parseAddress(m.Properties.Address)
		if err != nil {
			return nil, err
		}
		byDB[addr.db] = append(byDB[addr.db], fieldSpec{metric: m, addr: addr, width: fieldWidth(m.Type)})
	}

	obj := make(map[string]any)
	for db, fields := range byDB {
		minOff, maxOff := fields[0].addr.offset, fields[0].addr.offset+fields[0].width
		for _, f := range fields[1:] {
			if f.addr.offset < minOff {
				minOff = f.addr.offset
			}
			if end := f.addr.offset + f.width; end > maxOff {
				maxOff = end
			}
		}
		size := maxOff - minOff
		if size <= 0 {
			size = 1
		}
		buf := make([]byte, size)
		if err := c.client.AGReadDB(db, minOff, size, buf); err != nil {
			return nil, fmt.Errorf("s7: read DB%d: %w", db, err)
		}
		for _, f := range fields {
			rel := f.addr.offset - minOff
			end := rel + f.width
			if end > len(buf) {
				continue
			}
			obj[f.metric.Properties.Address] = buf[rel:end]
		}
	}
	return obj, nil
}

// withRelativeOffset returns a copy of m whose Path is "0" (or "0.<bit>"),
// so the fixed-buffer codec decodes/encodes it against a lone per-field
// buffer rather than against its original DB-absolute offset.
func withRelativeOffset(m models.Metric, addr fieldAddr) models.Metric {
	if addr.kind == 'X' {
		m.Properties.Path = fmt.Sprintf("0.%d", addr.bit)
	} else {
		m.Properties.Path = "0"
	}
	return m
}

func fieldWidth(dt models.DataType) int {
	switch dt {
	case models.Boolean, models.Int8, models.UInt8:
		return 1
	case models.Int16, models.UInt16:
		return 2
	case models.Int32, models.UInt32, models.Float:
		return 4
	case models.Int64, models.UInt64, models.Double:
		return 8
	default:
		return 1
	}
}

// parseAddress parses "DB<n>,X<off>.<bit>" / "DB<n>,B<off>" / "DB<n>,W<off>"
// / "DB<n>,D<off>" / "I<off>" style S7 addresses.
func parseAddress(s string) (fieldAddr, error) {
	if strings.HasPrefix(strings.ToUpper(s), "I") {
		off, err := strconv.Atoi(s[1:])
		if err != nil {
			return fieldAddr{}, fmt.Errorf("s7: bad input-image address %q", s)
		}
		return fieldAddr{kind: 'I', offset: off}, nil
	}

	parts := strings.SplitN(s, ",", 2)
	if len(parts) != 2 || !strings.HasPrefix(strings.ToUpper(parts[0]), "DB") {
		return fieldAddr{}, fmt.Errorf("s7: unrecognised address %q", s)
	}
	db, err := strconv.Atoi(parts[0][2:])
	if err != nil {
		return fieldAddr{}, fmt.Errorf("s7: bad DB number in %q", s)
	}

	field := parts[1]
	if len(field) < 2 {
		return fieldAddr{}, fmt.Errorf("s7: bad field in %q", s)
	}
	kind := byte(strings.ToUpper(field[:1])[0])
	rest := field[1:]

	bit := 0
	offsetStr := rest
	if kind == 'X' {
		dot := strings.IndexByte(rest, '.')
		if dot < 0 {
			return fieldAddr{}, fmt.Errorf("s7: bit address %q missing .<bit>", s)
		}
		offsetStr = rest[:dot]
		bit, err = strconv.Atoi(rest[dot+1:])
		if err != nil {
			return fieldAddr{}, fmt.Errorf("s7: bad bit in %q", s)
		}
	}

	offset, err := strconv.Atoi(offsetStr)
	if err != nil {
		return fieldAddr{}, fmt.Errorf("s7: bad offset in %q", s)
	}
	return fieldAddr{db: db, kind: kind, offset: offset, bit: bit}, nil
}

type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }
