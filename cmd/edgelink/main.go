// Command edgelink is the edge protocol translator binary. It resolves its
// identity and southbound configuration, registers every built-in
// connection-type driver, and runs the translator until interrupted
// (SIGINT/SIGTERM).
//
// Usage:
//
//	edgelink [flags]
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"flag"

	"github.com/edgeconduit/edgelink/device"
	"github.com/edgeconduit/edgelink/drivers/asciitcp"
	"github.com/edgeconduit/edgelink/drivers/mqtt"
	"github.com/edgeconduit/edgelink/drivers/mtconnect"
	"github.com/edgeconduit/edgelink/drivers/opcua"
	"github.com/edgeconduit/edgelink/drivers/openprotocol"
	"github.com/edgeconduit/edgelink/drivers/rest"
	"github.com/edgeconduit/edgelink/drivers/s7"
	"github.com/edgeconduit/edgelink/drivers/udp"
	"github.com/edgeconduit/edgelink/drivers/websocket"
	"github.com/edgeconduit/edgelink/external"
	"github.com/edgeconduit/edgelink/models"
	"github.com/edgeconduit/edgelink/pkg/edgelink/config"
	"github.com/edgeconduit/edgelink/pkg/edgelink/registry"
	"github.com/edgeconduit/edgelink/pkg/edgelink/sparkplugmqtt"
	"github.com/edgeconduit/edgelink/pkg/edgelink/translator"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "edgelink: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		logLevel   string
		logFmt     string
		localConf  string
		mqttBroker string
		groupID    string
		nodeID     string
		nodeUUID   string
		pollSec    int
	)

	flag.StringVar(&logLevel, "log.level", "info", "Log level: debug, info, warn, error")
	flag.StringVar(&logFmt, "log.fmt", "json", "Log format: json, text")
	flag.StringVar(&localConf, "config.local", config.DefaultLocalConfigPath, "Path to the local device-connections config file")
	flag.StringVar(&mqttBroker, "sparkplug.broker", "tcp://localhost:1883", "MQTT broker the Sparkplug node publishes through")
	flag.StringVar(&groupID, "sparkplug.group", "edgelink", "Sparkplug group ID")
	flag.StringVar(&nodeID, "sparkplug.node", "", "Sparkplug node ID (default: hostname)")
	flag.StringVar(&nodeUUID, "node.uuid", "", "This node's application UUID (default: $EDGELINK_NODE_UUID)")
	flag.IntVar(&pollSec, "poll.interval", 5, "Identity/config resolution poll interval, in seconds")
	flag.Parse()

	logger, err := buildLogger(logLevel, logFmt)
	if err != nil {
		return err
	}

	if nodeID == "" {
		nodeID, _ = os.Hostname()
	}
	if nodeUUID == "" {
		nodeUUID = os.Getenv("EDGELINK_NODE_UUID")
	}
	if nodeUUID == "" {
		return fmt.Errorf("node.uuid is required (flag or EDGELINK_NODE_UUID)")
	}

	localStore := config.NewFileStore(localConf)

	reg := registry.New()
	registerDrivers(reg)

	tr := translator.New(translator.Config{
		Identity:      staticIdentity{uuid: nodeUUID, groupID: groupID, nodeID: nodeID},
		ConfigService: localFileConfigService{store: localStore},
		LocalConfig:   localStore,
		Registry:      reg,
		PollInterval:  time.Duration(pollSec) * time.Second,
		Logger:        logger,
		NodeFactory: func(ctx context.Context, principal external.Principal, _ []models.ConnectionConfig) (external.SparkplugNode, error) {
			return sparkplugmqtt.New(ctx, mqttBroker, principal.Sparkplug, logger)
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := tr.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	logger.Info("edgelink: running - press Ctrl-C to stop")

	<-ctx.Done()
	logger.Info("edgelink: received shutdown signal")
	tr.Stop()
	return nil
}

// registerDrivers registers every built-in driver under the connection-type
// strings the external config document actually uses (the doc comment of
// models.ConnectionConfig.ConnType), each carrying the nested details key its connection factory
// reads its sub-object from (models.ConnectionDetailsKeys).
func registerDrivers(reg *registry.Registry) {
	for connType, factory := range map[string]registry.ConnectionFactory{
		"REST":         rest.New,
		"MQTT":         mqtt.New,
		"OPC UA":       opcua.New,
		"S7":           s7.New,
		"Websocket":    websocket.New,
		"UDP":          udp.New,
		"MTConnect":    mtconnect.New,
		"ASCIITCP":     asciitcp.New,
		"OpenProtocol": openprotocol.New,
	} {
		reg.Register(connType, registry.Entry{
			ConnectionFactory: factory,
			DeviceFactory:     newDevice,
			DetailsKey:        models.ConnectionDetailsKeys[connType],
		})
	}
}

func newDevice(cfg device.Config) *device.Device { return device.New(cfg) }

// staticIdentity is the edge node's own identity, resolved once at startup
// from flags/environment rather than a remote directory service.
type staticIdentity struct {
	uuid    string
	groupID string
	nodeID  string
}

func (s staticIdentity) FindPrincipal(context.Context) (external.Principal, bool, error) {
	return external.Principal{
		UUID:      s.uuid,
		Sparkplug: external.SparkplugIdentity{GroupID: s.groupID, NodeID: s.nodeID},
	}, true, nil
}

// localFileConfigService serves the device-connections document straight
// out of the local config file, standing in for a remote config service.
type localFileConfigService struct {
	store *config.FileStore
}

func (s localFileConfigService) GetConfig(context.Context, string, string) ([]byte, bool, error) {
	doc, err := s.store.Load()
	if err != nil {
		return nil, false, nil
	}
	return doc, true, nil
}

func buildLogger(level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level %q (expected debug|info|warn|error)", level)
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	case "text":
		handler = slog.NewTextHandler(os.Stderr, opts)
	default:
		return nil, fmt.Errorf("unknown log format %q (expected json|text)", format)
	}
	return slog.New(handler), nil
}
