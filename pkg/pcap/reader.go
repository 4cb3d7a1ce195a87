package pcap

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"Go2NetSensor/internal/model"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// Reader reads frames from a pcap or pcapng file.
type Reader struct {
	file     *os.File
	source   gopacket.PacketDataSource
	linkType layers.LinkType
	iface    string
}

// NewReader opens the file at filePath. The format is detected from its
// magic number.
func NewReader(filePath string) (*Reader, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("open pcap file %q: %w", filePath, err)
	}
	r := &Reader{file: f, iface: "file:" + filepath.Base(filePath)}

	br := bufio.NewReader(f)
	magic, err := br.Peek(4)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("read pcap header %q: %w", filePath, err)
	}
	if string(magic) == "\x0a\x0d\x0d\x0a" {
		ng, err := pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("open pcapng file %q: %w", filePath, err)
		}
		r.source, r.linkType = ng, ng.LinkType()
		return r, nil
	}
	pr, err := pcapgo.NewReader(br)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("open pcap file %q: %w", filePath, err)
	}
	r.source, r.linkType = pr, pr.LinkType()
	return r, nil
}

// LinkType returns the link layer type of the file.
func (r *Reader) LinkType() layers.LinkType { return r.linkType }

// Close closes the file.
func (r *Reader) Close() error {
	return r.file.Close()
}

// ReadFrames hands every frame in the file to deliver and returns how many
// frames were read. It stops early when ctx is cancelled.
func (r *Reader) ReadFrames(ctx context.Context, deliver func(model.Frame) bool) (int, error) {
	count := 0
	for {
		if err := ctx.Err(); err != nil {
			return count, err
		}
		data, ci, err := r.source.ReadPacketData()
		if errors.Is(err, io.EOF) {
			return count, nil
		}
		if err != nil {
			return count, fmt.Errorf("read frame %d: %w", count+1, err)
		}
		count++
		deliver(model.Frame{
			Data:        data,
			Timestamp:   ci.Timestamp,
			InterfaceID: r.iface,
			LinkType:    r.linkType,
		})
	}
}
