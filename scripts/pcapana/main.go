package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"

	"Go2NetSensor/internal/engine/options"
	"Go2NetSensor/internal/engine/protocol"
	"Go2NetSensor/internal/model"
	"Go2NetSensor/pkg/pcap"
)

func main() {
	limit := flag.Int("n", 20, "Number of frames to print (0 for all)")
	flag.Parse()
	if flag.NArg() < 1 {
		fmt.Println("Usage: go run ./scripts/pcapana [-n 20] <path_to_pcap_file>")
		return
	}

	reader, err := pcap.NewReader(flag.Arg(0))
	if err != nil {
		log.Fatal(err)
	}
	defer reader.Close()

	i := 0
	discarded := map[string]int{}
	_, err = reader.ReadFrames(context.Background(), func(f model.Frame) bool {
		i++
		v, err := protocol.Decode(f.Data, f.LinkType)
		if err != nil {
			discarded[protocol.Reason(err)]++
			fmt.Printf("#%d [%s] discarded: %v\n", i, f.Timestamp.Format("15:04:05.000"), err)
		} else {
			fmt.Printf("#%d [%s] %s %s\n", i, f.Timestamp.Format("15:04:05.000"), v.Flow(), describe(v))
		}
		return *limit == 0 || i < *limit
	})
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("%d frames, discarded by reason: %v\n", i, discarded)
}

func describe(v *protocol.PacketView) string {
	var parts []string
	if len(v.IP.Options) > 0 {
		parts = append(parts, "ipopts="+optionSummary(options.ParseIP(v.IP.Options)))
	}
	switch {
	case v.TCP != nil:
		parts = append(parts, "flags="+v.TCP.Flags.String())
		if len(v.TCP.Options) > 0 {
			parts = append(parts, "tcpopts="+optionSummary(options.ParseTCP(v.TCP.Options)))
		}
		parts = append(parts, fmt.Sprintf("payload=%d", len(v.TCP.Payload)))
	case v.UDP != nil:
		parts = append(parts, fmt.Sprintf("payload=%d", len(v.UDP.Payload)))
	case v.ICMP != nil:
		parts = append(parts, "icmp="+v.ICMP.Kind.String())
		if e := v.ICMP.Embedded; e != nil {
			parts = append(parts, "quotes="+e.Flow().String())
		}
	}
	if v.CaptureTruncated {
		parts = append(parts, "capture_truncated")
	}
	return strings.Join(parts, " ")
}

func optionSummary(res options.Result) string {
	s := strings.Join(res.Names(), ",")
	if res.Truncation != nil {
		s += "!" + res.Truncation.Reason
	}
	return s
}
