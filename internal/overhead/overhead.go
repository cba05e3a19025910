// Package overhead measures the wire overhead of session traffic in a
// packet capture.
package overhead

import (
	"encoding/binary"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/ssd532/psbench/session"
)

// Result totals the session traffic found in a capture.
type Result struct {
	// Bytes is the size of all TCP payloads to or from the port.
	Bytes int
	// Messages counts decoded session messages of any kind.
	Messages int
	// Frames counts data frames.
	Frames int
	// Payload is the sum of frame payload sizes.
	Payload int
	// Trailing counts bytes left at the end of a stream that do not form a
	// complete message.
	Trailing int
}

// PerMessagePayload is the mean frame payload size.
func (r Result) PerMessagePayload() int {
	if r.Frames == 0 {
		return 0
	}
	return r.Payload / r.Frames
}

// PerMessageOverhead is the mean number of bytes per frame that are not
// payload, including handshake and keep-alive traffic.
func (r Result) PerMessageOverhead() float64 {
	if r.Frames == 0 {
		return 0
	}
	return float64(r.Bytes-r.Payload) / float64(r.Frames)
}

func (r Result) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Total size of session messages: %d bytes\n", r.Bytes)
	fmt.Fprintf(&b, "Total session messages: %d\n", r.Messages)
	fmt.Fprintf(&b, "Total data frames: %d\n", r.Frames)
	fmt.Fprintf(&b, "Total payload: %d bytes\n", r.Payload)
	fmt.Fprintf(&b, "Per message payload: %d bytes\n", r.PerMessagePayload())
	fmt.Fprintf(&b, "Per message overhead: %.2f bytes", r.PerMessageOverhead())
	return b.String()
}

// Analyze reads a pcap capture from r and decodes the length prefixed
// session messages carried over TCP to or from port. Segments are
// concatenated per direction in capture order; retransmissions are not
// detected.
func Analyze(r io.Reader, port uint16, logger *zap.Logger) (Result, error) {
	reader, err := pcapgo.NewReader(r)
	if err != nil {
		return Result{}, errors.Wrap(err, "read capture header")
	}

	streams := make(map[string][]byte)
	src := gopacket.NewPacketSource(reader, reader.LinkType())
	src.DecodeOptions = gopacket.Lazy
	for {
		packet, err := src.NextPacket()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Result{}, errors.Wrap(err, "read packet")
		}
		tcpLayer := packet.Layer(layers.LayerTypeTCP)
		if tcpLayer == nil {
			continue
		}
		tcp := tcpLayer.(*layers.TCP)
		if uint16(tcp.SrcPort) != port && uint16(tcp.DstPort) != port {
			continue
		}
		if len(tcp.Payload) == 0 {
			continue
		}
		flow := packet.NetworkLayer().NetworkFlow().String() + "/" + tcp.TransportFlow().String()
		streams[flow] = append(streams[flow], tcp.Payload...)
	}

	flows := make([]string, 0, len(streams))
	for flow := range streams {
		flows = append(flows, flow)
	}
	sort.Strings(flows)

	var res Result
	for _, flow := range flows {
		data := streams[flow]
		res.Bytes += len(data)
		n := decodeStream(data, &res)
		logger.Debug("decoded stream", zap.String("flow", flow), zap.Int("bytes", len(data)), zap.Int("messages", n))
	}
	return res, nil
}

// decodeStream walks the frames of one direction and returns the number of
// messages decoded.
func decodeStream(data []byte, res *Result) int {
	messages := 0
	for len(data) >= 2 {
		size := int(binary.LittleEndian.Uint16(data))
		if len(data) < 2+size {
			break
		}
		body := data[2 : 2+size]
		data = data[2+size:]
		m, err := session.Unmarshal(body)
		if err != nil {
			continue
		}
		messages++
		res.Messages++
		if f, ok := m.(*session.Frame); ok {
			res.Frames++
			res.Payload += len(f.Payload)
		}
	}
	res.Trailing += len(data)
	return messages
}
