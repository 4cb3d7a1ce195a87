// Package sink holds the event sinks that write locally or to a database.
package sink

import (
	"time"

	"Go2NetSensor/internal/model"
)

// Origin tags every record with the producing sensor type.
const Origin = "ns-sensor"

// Record is the flat JSON layout of an event, shaped like an IDS eve record
// so existing log pipelines can index it.
type Record struct {
	Timestamp    string       `json:"timestamp"`
	UnixTime     float64      `json:"unixtime"`
	Origin       string       `json:"origin"`
	EventType    string       `json:"event_type"`
	InIface      string       `json:"in_iface,omitempty"`
	SrcIP        string       `json:"src_ip"`
	SrcPort      uint16       `json:"src_port"`
	DestIP       string       `json:"dest_ip"`
	DestPort     uint16       `json:"dest_port"`
	Proto        string       `json:"proto"`
	SemanticCode string       `json:"semantic_code"`
	RawCode      uint32       `json:"raw_code"`
	Tainted      bool         `json:"tainted,omitempty"`
	Darknet      *model.Event `json:"darknet"`
}

// NewRecord flattens an event.
func NewRecord(ev *model.Event) Record {
	return Record{
		Timestamp:    ev.Timestamp.UTC().Format(time.RFC3339Nano),
		UnixTime:     float64(ev.Timestamp.UnixMicro()) / 1e6,
		Origin:       Origin,
		EventType:    string(ev.Kind),
		InIface:      ev.InterfaceID,
		SrcIP:        ev.Flow.SrcIP.String(),
		SrcPort:      ev.Flow.SrcPort,
		DestIP:       ev.Flow.DstIP.String(),
		DestPort:     ev.Flow.DstPort,
		Proto:        model.ProtocolName(ev.Flow.Protocol),
		SemanticCode: ev.SemanticCode,
		RawCode:      ev.RawCode,
		Tainted:      ev.Tainted,
		Darknet:      ev,
	}
}
