package device

import (
	"context"
	"fmt"
	"time"

	"github.com/edgeconduit/edgelink/external"
	"github.com/edgeconduit/edgelink/models"
)

// handleDCmd implements command handling: resolves alias-only targets to a
// name via the store, dispatches the three control metrics specially, and
// queues writes for everything else whose method is not GET*.
func (d *Device) handleDCmd(ctx context.Context, payload external.CommandPayload) {
	var toWrite []models.Metric

	for _, cm := range payload.Metrics {
		name := cm.Name
		if name == "" && cm.Alias != nil {
			m, ok := d.Store.GetByAlias(*cm.Alias)
			if !ok {
				d.logger.Warn("command targets unknown alias", "alias", *cm.Alias)
				continue
			}
			name = m.Name
		}
		if name == "" {
			d.logger.Warn("command missing both name and alias")
			continue
		}

		switch name {
		case models.MetricReboot:
			if truthy(cm.Value) {
				d.logger.Warn("device reboot not yet implemented", "device", d.ID)
			}

		case models.MetricRebirth:
			if truthy(cm.Value) {
				d.publishBirth(ctx)
			}

		case models.MetricPollingInterval:
			d.handlePollingIntervalCommand(ctx, cm.Value)

		default:
			m, ok := d.Store.GetByName(name)
			if !ok {
				d.logger.Warn("command targets unknown metric", "name", name)
				continue
			}
			if m.Properties.IsReadable() {
				d.logger.Warn("read only", "name", name)
				continue
			}
			m.Value = narrowValue(cm.Value)
			toWrite = append(toWrite, m)
		}
	}

	d.queueWrite(ctx, toWrite)
}

// handlePollingIntervalCommand stops the subscription, updates and
// publishes the polling-interval metric, restarts the subscription at the
// new interval, and persists the change to the local config file.
func (d *Device) handlePollingIntervalCommand(ctx context.Context, rawValue any) {
	d.Conn.StopSubscription(d.ID, func(err error) {
		if err != nil {
			d.logger.Error("stop subscription failed", "err", err)
		}
	})

	newInterval, err := toInt(rawValue)
	if err != nil {
		d.logger.Error("bad polling interval value", "err", err)
		return
	}

	updated, ok := d.Store.SetValueByName(models.MetricPollingInterval, newInterval, time.Now().UnixMilli())
	if !ok {
		d.logger.Error("polling interval metric missing from store")
		return
	}

	d.PollIntervalMs = newInterval
	d.publishData(ctx, []models.Metric{updated})

	if err := d.Conn.StartSubscription(ctx, d.ID, d.Store.Array(), d.PayloadFormat, d.Delimiter, newInterval, func(err error) {
		if err != nil {
			d.logger.Error("restart subscription failed", "err", err)
		}
	}); err != nil {
		d.logger.Error("restart subscription failed", "err", err)
	}

	if d.LocalConfig != nil {
		if err := d.LocalConfig.SetDevicePollInterval(d.ID, newInterval); err != nil {
			d.logger.Error("persist poll interval failed", "err", err)
		}
	}
}

func truthy(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		switch b {
		case "false", "no", "0", "":
			return false
		default:
			return true
		}
	default:
		return v != nil
	}
}

// narrowValue narrows a 64-bit integer arriving from the Sparkplug layer to
// a native int/uint before it's handed to a driver write, matching the
// spec's requirement that 64-bit values be narrowed before writing.
func narrowValue(v any) any {
	switch n := v.(type) {
	case int64:
		return int(n)
	case uint64:
		return uint(n)
	default:
		return v
	}
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case uint64:
		return int(n), nil
	case uint16:
		return int(n), nil
	case float64:
		return int(n), nil
	default:
		return 0, fmt.Errorf("device: unsupported polling interval value type %T", v)
	}
}
