package classifier

import (
	"encoding/hex"

	"Go2NetSensor/internal/engine/options"
	"Go2NetSensor/internal/engine/protocol"
	"Go2NetSensor/internal/model"
)

func optionRecords(r options.Result) ([]model.OptionRecord, string, string) {
	var recs []model.OptionRecord
	for _, o := range r.Options {
		recs = append(recs, model.OptionRecord{
			Code:   o.Spec.Code,
			Name:   o.Spec.Name,
			Length: o.Length,
			Data:   hex.EncodeToString(o.Data),
		})
	}
	var trunc string
	if r.Truncation != nil {
		trunc = r.Truncation.Error()
	}
	return recs, trunc, hex.EncodeToString(r.Padding)
}

func ipDetails(ip *protocol.IPv4) *model.IPDetails {
	d := &model.IPDetails{
		TTL:         ip.TTL,
		TOS:         ip.TOS,
		ID:          ip.ID,
		Flags:       ip.Flags,
		TotalLength: ip.TotalLength,
	}
	if len(ip.Options) > 0 {
		d.Options, d.OptionsTruncated, d.Padding = optionRecords(options.ParseIP(ip.Options))
	}
	return d
}

func tcpDetails(tcp *protocol.TCP) *model.TCPDetails {
	d := &model.TCPDetails{
		Flags:     uint16(tcp.Flags),
		FlagNames: tcp.Flags.Names(),
		Seq:       tcp.Seq,
		Ack:       tcp.Ack,
		Window:    tcp.Window,
	}
	if len(tcp.Options) > 0 {
		d.Options, d.OptionsTruncated, d.Padding = optionRecords(options.ParseTCP(tcp.Options))
	}
	return d
}

func icmpDetails(icmp *protocol.ICMP) *model.ICMPDetails {
	d := &model.ICMPDetails{
		Type:     icmp.Kind.Type,
		Code:     icmp.Kind.Code,
		TypeName: icmp.Kind.TypeName,
		CodeName: icmp.Kind.CodeName,
		ID:       icmp.ID,
		Seq:      icmp.Seq,
	}
	if icmp.Embedded != nil {
		f := icmp.Embedded.Flow()
		d.Embedded = &f
	}
	if icmp.EmbeddedErr != nil {
		d.EmbeddedError = icmp.EmbeddedErr.Error()
	}
	return d
}
