// Package translator implements the supervisor (C5): it resolves this
// node's identity and configuration, builds one Connection and one Device
// per declared device via the connection-type registry, and wires driver
// events and Sparkplug commands between them for the life of the process.
package translator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/edgeconduit/edgelink/device"
	"github.com/edgeconduit/edgelink/external"
	"github.com/edgeconduit/edgelink/models"
	"github.com/edgeconduit/edgelink/pkg/edgelink/config"
	"github.com/edgeconduit/edgelink/pkg/edgelink/registry"
)

// defaultPollInterval is used when Config.PollInterval is zero.
const defaultPollInterval = 5 * time.Second

// NodeFactory constructs the Sparkplug node once identity and the rehashed
// connection set are known. Concrete Sparkplug node wiring is out of this
// module's scope; the translator only ever talks to the external.SparkplugNode
// interface it gets back.
type NodeFactory func(ctx context.Context, principal external.Principal, connections []models.ConnectionConfig) (external.SparkplugNode, error)

// Config bundles a Translator's collaborators.
type Config struct {
	Identity      external.IdentityService
	ConfigService external.ConfigService
	LocalConfig   external.LocalConfigStore
	Registry      *registry.Registry
	NodeFactory   NodeFactory
	PollInterval  time.Duration
	Logger        *slog.Logger
}

type connEntry struct {
	conn    device.Connection
	devices []*device.Device
}

// Translator is the running supervisor. Zero value is not usable; build one
// with New.
type Translator struct {
	identity      external.IdentityService
	configService external.ConfigService
	localConfig   external.LocalConfigStore
	registry      *registry.Registry
	nodeFactory   NodeFactory
	pollInterval  time.Duration
	logger        *slog.Logger

	mu          sync.Mutex
	node        external.SparkplugNode
	conns       []connEntry
	devices     []*device.Device
	devicesByID map[string]*device.Device
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// New builds a Translator from cfg, applying defaults for PollInterval and
// Logger.
func New(cfg Config) *Translator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &Translator{
		identity:      cfg.Identity,
		configService: cfg.ConfigService,
		localConfig:   cfg.LocalConfig,
		registry:      cfg.Registry,
		nodeFactory:   cfg.NodeFactory,
		pollInterval:  interval,
		logger:        logger,
		devicesByID:   make(map[string]*device.Device),
	}
}

// Start resolves identity and configuration (retrying indefinitely until
// both are available), builds every declared connection and device, and
// opens each connection. On any construction failure after the Sparkplug
// node exists it stops everything it already started before returning the
// error.
func (t *Translator) Start(ctx context.Context) error {
	principal, err := poll(ctx, "identity", t.pollInterval, t.logger, t.identity.FindPrincipal)
	if err != nil {
		return fmt.Errorf("translator: resolve identity: %w", err)
	}
	t.logger.Info("resolved identity", "nodeUUID", principal.UUID)

	doc, err := poll(ctx, "config", t.pollInterval, t.logger, func(ctx context.Context) ([]byte, bool, error) {
		return t.configService.GetConfig(ctx, external.EdgeAgentApplicationUUID, principal.UUID)
	})
	if err != nil {
		return fmt.Errorf("translator: resolve config: %w", err)
	}

	conns, err := config.Rehash(doc)
	if err != nil {
		return fmt.Errorf("translator: rehash config: %w", err)
	}

	node, err := t.nodeFactory(ctx, principal, conns)
	if err != nil {
		return fmt.Errorf("translator: construct sparkplug node: %w", err)
	}
	t.node = node

	runCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel

	if err := t.buildConnections(runCtx, conns, node); err != nil {
		t.Stop()
		return err
	}

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.dispatchSparkplugEvents(runCtx, node)
	}()

	for _, ce := range t.conns {
		if err := ce.conn.Open(runCtx); err != nil {
			t.logger.Error("connection open failed", "err", err)
		}
	}
	return nil
}

func (t *Translator) buildConnections(runCtx context.Context, conns []models.ConnectionConfig, node external.SparkplugNode) error {
	for _, cc := range conns {
		entry, err := t.registry.Lookup(cc.ConnType)
		if err != nil {
			t.logger.Warn("unknown connection type, skipping", "connType", cc.ConnType)
			continue
		}

		conn, err := entry.ConnectionFactory(connectionDetails(cc, entry), t.logger)
		if err != nil {
			return fmt.Errorf("translator: construct %s connection: %w", cc.ConnType, err)
		}

		ce := connEntry{conn: conn}
		for _, dc := range cc.Devices {
			dev := entry.DeviceFactory(device.Config{
				DeviceConfig: dc,
				Conn:         conn,
				Node:         node,
				LocalConfig:  t.localConfig,
				Logger:       t.logger,
			})
			ce.devices = append(ce.devices, dev)
			t.devices = append(t.devices, dev)
			t.devicesByID[dev.ID] = dev

			t.wg.Add(1)
			go func(d *device.Device) {
				defer t.wg.Done()
				d.Run(runCtx)
			}(dev)
		}

		t.conns = append(t.conns, ce)
		t.wg.Add(1)
		go func(ce connEntry) {
			defer t.wg.Done()
			t.dispatchConnectionEvents(runCtx, ce)
		}(ce)
	}
	return nil
}

// connectionDetails returns the sub-object a connection factory should read
// its own fields from: cc.Details[entry.DetailsKey] when the rehashed config
// nested one there, otherwise cc.Details itself (a flat, legacy-shaped
// document, or a connection type with no declared details key).
func connectionDetails(cc models.ConnectionConfig, entry registry.Entry) map[string]any {
	if entry.DetailsKey != "" {
		if nested, ok := cc.Details[entry.DetailsKey].(map[string]any); ok {
			return nested
		}
	}
	return cc.Details
}

// dispatchConnectionEvents routes one connection's shared event stream to
// the devices declared on it: DeviceID-less events broadcast to every
// sibling device, addressed events go to the matching one.
func (t *Translator) dispatchConnectionEvents(ctx context.Context, ce connEntry) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ce.conn.Events():
			if !ok {
				return
			}
			if ev.DeviceID == "" {
				for _, d := range ce.devices {
					d.DeliverEvent(ev)
				}
				continue
			}
			for _, d := range ce.devices {
				if d.ID == ev.DeviceID {
					d.DeliverEvent(ev)
					break
				}
			}
		}
	}
}

// dispatchSparkplugEvents routes inbound Sparkplug events (dbirth,
// dbirth-all, dcmd, stop) to the matching device, or to every device for a
// broadcast rebirth, or tears the whole translator down on stop.
func (t *Translator) dispatchSparkplugEvents(ctx context.Context, node external.SparkplugNode) {
	rebirth := external.CommandPayload{Metrics: []external.CommandMetric{{Name: models.MetricRebirth, Value: true}}}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-node.Events():
			if !ok {
				return
			}
			switch ev.Kind {
			case external.EventDBirth:
				if d, ok := t.devicesByID[ev.DeviceID]; ok {
					d.DeliverCommand(rebirth)
				}
			case external.EventDBirthAll:
				for _, d := range t.devices {
					d.DeliverCommand(rebirth)
				}
			case external.EventDCmd:
				if d, ok := t.devicesByID[ev.DeviceID]; ok {
					d.DeliverCommand(ev.Payload)
				}
			case external.EventStop:
				go t.Stop()
				return
			}
		}
	}
}

// Stop stops every device, closes every connection, stops the Sparkplug
// node, and waits for every dispatcher goroutine to return. Safe to call
// more than once.
func (t *Translator) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, d := range t.devices {
		d.Stop()
	}
	for _, ce := range t.conns {
		if err := ce.conn.Close(); err != nil {
			t.logger.Warn("connection close failed", "err", err)
		}
	}
	if t.node != nil {
		if err := t.node.Stop(); err != nil {
			t.logger.Warn("sparkplug node stop failed", "err", err)
		}
	}
	if t.cancel != nil {
		t.cancel()
	}
	t.wg.Wait()

	// Forget what was stopped so a repeated call does not close the
	// connections or the node a second time.
	t.devices = nil
	t.conns = nil
	t.node = nil
	t.cancel = nil
}
