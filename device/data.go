package device

import (
	"context"
	"reflect"
	"time"

	"github.com/edgeconduit/edgelink/codec"
	"github.com/edgeconduit/edgelink/models"
)

// writeResult carries a completed writeMetrics outcome back onto the
// Device's single-actor loop, so the store mutation and DATA publish it
// triggers happen on the same goroutine as every other state transition
// even though the driver invokes the callback from its own goroutine.
type writeResult struct {
	written []models.Metric
	err     error
}

// handleData implements the inbound-data algorithm: for every address in
// obj, for every path registered under that address, decode, apply the
// change filter, and update the store. Emits one DATA frame for all
// accepted changes and always refreshes the watchdog (the driver is not
// silent, whether or not anything actually changed).
func (d *Device) handleData(ctx context.Context, obj map[string]any, parseVals bool) {
	d.wd.Refresh()

	var changed []models.Metric
	singleAddress := len(obj) == 1

	for addr, raw := range obj {
		for _, path := range d.Store.GetPathsForAddr(addr) {
			m, ok := d.Store.GetByAddrPath(addr, path)
			if !ok || !m.Properties.IsReadable() {
				continue
			}

			// Ambiguity guard: only resolve this metric's value out of a
			// structured payload when we know how (parseVals is false, the
			// payload only carries one address, or the metric names its own
			// sub-path).
			if !(!parseVals || singleAddress || m.Properties.Path != "") {
				continue
			}

			var newVal any
			if parseVals {
				v, err := codec.ParseValue(raw, m, d.PayloadFormat, d.Delimiter)
				if err != nil {
					d.logger.Warn("decode failed", "address", addr, "path", path, "err", err)
					continue
				}
				newVal = v
			} else {
				newVal = raw
			}

			if newVal == nil {
				continue
			}
			if valuesEqual(newVal, m.Value) {
				continue
			}

			ts, ok := codec.ParseTimestamp(raw, d.PayloadFormat)
			if !ok {
				ts = time.Now().UnixMilli()
			}

			updated, ok := d.Store.SetValueByAddrPath(addr, path, newVal, ts)
			if !ok {
				continue
			}
			changed = append(changed, updated)
		}
	}

	if len(changed) > 0 {
		d.publishData(ctx, changed)
	}
}

// valuesEqual implements the change filter's equality rule: scalar "!="
// for primitives, deep equality for structures (dataSet rows, byte slices).
func valuesEqual(a, b any) bool {
	switch av := a.(type) {
	case []byte, map[string]any, []any, []map[string]any:
		return reflect.DeepEqual(av, b)
	default:
		return a == b
	}
}

// queueWrite hands metrics to the driver's WriteMetrics and routes the
// single callback invocation back onto this Device's actor loop via
// writeResults.
func (d *Device) queueWrite(ctx context.Context, toWrite []models.Metric) {
	if len(toWrite) == 0 {
		return
	}
	d.Conn.WriteMetrics(ctx, d.ID, toWrite, d.PayloadFormat, d.Delimiter, func(err error) {
		select {
		case d.writeResults <- writeResult{written: toWrite, err: err}:
		case <-d.stopCh:
		}
	})
}

func (d *Device) handleWriteResult(ctx context.Context, res writeResult) {
	if res.err != nil {
		d.logger.Error("write failed", "err", res.err)
		return
	}

	now := time.Now().UnixMilli()
	changed := make([]models.Metric, 0, len(res.written))
	for _, m := range res.written {
		updated, ok := d.Store.SetValueByName(m.Name, m.Value, now)
		if ok {
			changed = append(changed, updated)
		}
	}

	d.wd.Refresh()
	if len(changed) > 0 {
		d.publishData(ctx, changed)
	}
}
