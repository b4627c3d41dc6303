package opcua

import (
	"time"

	"github.com/gopcua/opcua/ua"

	"github.com/ghalamif/RailFlow/internal/domain"
	"github.com/ghalamif/RailFlow/internal/ports"
)

// levelsFrom maps a data change notification to zone levels. Items with an
// unknown handle or a non-numeric value are skipped.
func levelsFrom(val any, handles map[uint32]NodeConfig, now time.Time, obs ports.Observability) []domain.Level {
	data, ok := val.(*ua.DataChangeNotification)
	if !ok {
		return nil
	}

	var out []domain.Level
	for _, item := range data.MonitoredItems {
		node, ok := handles[item.ClientHandle]
		if !ok || item.Value == nil {
			continue
		}
		fv, ok := variantToFloat(item.Value.Value)
		if !ok {
			obs.LogError("opcua_value_unsupported", nil, ports.Field{Key: "node_id", Value: node.NodeID})
			continue
		}

		ts := item.Value.SourceTimestamp
		if ts.IsZero() {
			ts = item.Value.ServerTimestamp
		}
		if ts.IsZero() {
			ts = now
		}
		out = append(out, domain.Level{Zone: node.Zone, Value: fv + node.Offset, At: ts})
	}
	return out
}

func variantToFloat(v *ua.Variant) (float64, bool) {
	if v == nil {
		return 0, false
	}

	switch val := v.Value().(type) {
	case float32:
		return float64(val), true
	case float64:
		return val, true
	case int8:
		return float64(val), true
	case uint8:
		return float64(val), true
	case int16:
		return float64(val), true
	case uint16:
		return float64(val), true
	case int32:
		return float64(val), true
	case uint32:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint64:
		return float64(val), true
	default:
		return 0, false
	}
}
