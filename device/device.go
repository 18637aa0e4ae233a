package device

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/edgeconduit/edgelink/external"
	"github.com/edgeconduit/edgelink/metricstore"
	"github.com/edgeconduit/edgelink/models"
)

// State is the Device's named lifecycle state (spec's state machine table).
type State int

const (
	StateConstructed State = iota
	StateSubscribed
	StateAlive
	StateDead
)

func (s State) String() string {
	switch s {
	case StateConstructed:
		return "Constructed"
	case StateSubscribed:
		return "Subscribed"
	case StateAlive:
		return "Alive"
	case StateDead:
		return "Dead"
	default:
		return "Unknown"
	}
}

// readinessPollInterval is the cadence at which a freshly constructed
// Device polls its own isConnected flag before it is driver-open yet.
const readinessPollInterval = 100 * time.Millisecond

// Device is one logical device: its metric store, its watchdog, and the
// BIRTH/DATA/DEATH lifecycle driven off inbound driver events and
// Sparkplug commands. Conn and Node are non-owning handles; the translator
// owns their lifetimes.
type Device struct {
	ID            string
	Store         *metricstore.Store
	Conn          Connection
	Node          external.SparkplugNode
	LocalConfig   external.LocalConfigStore
	PayloadFormat models.PayloadFormat
	Delimiter     string
	PollIntervalMs int

	logger *slog.Logger

	events       chan Event
	commands     chan external.CommandPayload
	writeResults chan writeResult
	stopCh       chan struct{}

	isConnected atomic.Bool
	isAlive     atomic.Bool
	state       atomic.Int32

	wd *watchdog
}

// Config bundles the construction parameters for a Device.
type Config struct {
	DeviceConfig  models.DeviceConfig
	Conn          Connection
	Node          external.SparkplugNode
	LocalConfig   external.LocalConfigStore
	Logger        *slog.Logger
}

// New constructs a Device. Its metric store already holds the three
// mandatory control metrics plus every user-declared metric, as produced by
// the config rehasher (pkg/edgelink/config).
func New(cfg Config) *Device {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}

	store := metricstore.New()
	store.Add(cfg.DeviceConfig.Metrics...)

	d := &Device{
		ID:             cfg.DeviceConfig.DeviceID,
		Store:          store,
		Conn:           cfg.Conn,
		Node:           cfg.Node,
		LocalConfig:    cfg.LocalConfig,
		PayloadFormat:  models.PayloadFormat(cfg.DeviceConfig.PayloadFormat),
		Delimiter:      cfg.DeviceConfig.Delimiter,
		PollIntervalMs: cfg.DeviceConfig.PollInt,
		logger:         logger.With("device", cfg.DeviceConfig.DeviceID),
		events:         make(chan Event, 64),
		commands:       make(chan external.CommandPayload, 16),
		writeResults:   make(chan writeResult, 16),
		stopCh:         make(chan struct{}),
		wd:             newWatchdog(),
	}
	d.state.Store(int32(StateConstructed))
	return d
}

// State returns the Device's current lifecycle state.
func (d *Device) State() State { return State(d.state.Load()) }

// IsConnected reports whether the driver is currently usable.
func (d *Device) IsConnected() bool { return d.isConnected.Load() }

// IsAlive reports whether BIRTH has been sent with no DEATH since.
func (d *Device) IsAlive() bool { return d.isAlive.Load() }

// DeliverEvent queues a connection event for this device's actor loop. The
// connection dispatcher (or a single-device driver) calls this for every
// event addressed to this device.
func (d *Device) DeliverEvent(ev Event) {
	select {
	case d.events <- ev:
	case <-d.stopCh:
	}
}

// DeliverCommand queues a decoded Sparkplug command for this device's actor
// loop.
func (d *Device) DeliverCommand(cmd external.CommandPayload) {
	select {
	case d.commands <- cmd:
	case <-d.stopCh:
	}
}

// Stop cancels the watchdog, the subscription, and signals Run to return.
// Idempotent.
func (d *Device) Stop() {
	select {
	case <-d.stopCh:
		return
	default:
		close(d.stopCh)
	}
	d.wd.Stop()
	d.Conn.StopSubscription(d.ID, func(error) {})
}

// Run is the Device's single-actor loop: it fans in driver events, commands,
// the watchdog, and the connection-readiness poll, and must be run in its
// own goroutine for the lifetime of the Device.
func (d *Device) Run(ctx context.Context) {
	readiness := time.NewTicker(readinessPollInterval)
	defer readiness.Stop()
	subscribed := false

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stopCh:
			return
		case ev := <-d.events:
			d.handleEvent(ctx, ev)
		case cmd := <-d.commands:
			d.handleDCmd(ctx, cmd)
		case res := <-d.writeResults:
			d.handleWriteResult(ctx, res)
		case <-d.wd.C():
			d.onWatchdogExpired(ctx)
		case <-readiness.C:
			if !subscribed && d.isConnected.Load() {
				subscribed = true
				readiness.Stop()
				d.startSubscription(ctx)
			}
		}
	}
}

func (d *Device) handleEvent(ctx context.Context, ev Event) {
	switch ev.Kind {
	case EventOpen:
		d.isConnected.Store(true)
	case EventClose:
		d.isConnected.Store(false)
		d.onDisconnected(ctx)
	case EventError:
		d.logger.Warn("driver error", "err", ev.Err)
	case EventData:
		d.handleData(ctx, ev.Data, ev.ParseVals)
	}
}

func (d *Device) startSubscription(ctx context.Context) {
	d.state.Store(int32(StateSubscribed))
	err := d.Conn.StartSubscription(ctx, d.ID, d.Store.Array(), d.PayloadFormat, d.Delimiter, d.PollIntervalMs, func(err error) {
		if err != nil {
			d.logger.Error("start subscription failed", "err", err)
		}
	})
	if err != nil {
		d.logger.Error("start subscription failed", "err", err)
	}
}

func (d *Device) onDisconnected(ctx context.Context) {
	if d.isAlive.Load() {
		d.publishDeath(ctx)
	}
}

func (d *Device) onWatchdogExpired(ctx context.Context) {
	d.logger.Warn("watchdog expired, declaring device dead")
	if d.isAlive.Load() {
		d.publishDeath(ctx)
	}
}

func (d *Device) publishBirth(ctx context.Context) {
	if err := d.Node.PublishDBirth(ctx, d.ID, d.Store.Array()); err != nil {
		d.logger.Error("publish birth failed", "err", err)
		return
	}
	d.isAlive.Store(true)
	d.state.Store(int32(StateAlive))
}

func (d *Device) publishData(ctx context.Context, changed []models.Metric) {
	if !d.isAlive.Load() {
		d.publishBirth(ctx)
	}
	if err := d.Node.PublishDData(ctx, d.ID, changed); err != nil {
		d.logger.Error("publish data failed", "err", err)
	}
}

func (d *Device) publishDeath(ctx context.Context) {
	if err := d.Node.PublishDDeath(ctx, d.ID); err != nil {
		d.logger.Error("publish death failed", "err", err)
	}
	d.isAlive.Store(false)
	d.state.Store(int32(StateDead))
}

// noopWriter discards everything written to it; used as the sink for the
// default logger when no *slog.Logger is supplied.
type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }
