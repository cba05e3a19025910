package overhead

import (
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ssd532/psbench/session"
)

const sessionPort = 7447

type capture struct {
	t   *testing.T
	buf bytes.Buffer
	w   *pcapgo.Writer
	at  time.Time
}

func newCapture(t *testing.T) *capture {
	c := &capture{t: t, at: time.Unix(1700000000, 0)}
	c.w = pcapgo.NewWriter(&c.buf)
	require.NoError(t, c.w.WriteFileHeader(65536, layers.LinkTypeEthernet))
	return c
}

// segment writes one TCP segment from srcPort to dstPort carrying payload.
func (c *capture) segment(srcPort, dstPort uint16, payload []byte) {
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 5},
		DstMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 6},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    net.IP{127, 0, 0, 1},
		DstIP:    net.IP{127, 0, 0, 1},
	}
	tcp := &layers.TCP{SrcPort: layers.TCPPort(srcPort), DstPort: layers.TCPPort(dstPort), PSH: true, ACK: true, Window: 65535}
	require.NoError(c.t, tcp.SetNetworkLayerForChecksum(ip))

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(c.t, gopacket.SerializeLayers(buf, opts, eth, ip, tcp, gopacket.Payload(payload)))

	data := buf.Bytes()
	c.at = c.at.Add(time.Millisecond)
	require.NoError(c.t, c.w.WritePacket(gopacket.CaptureInfo{
		Timestamp:     c.at,
		CaptureLength: len(data),
		Length:        len(data),
	}, data))
}

func encode(t *testing.T, msgs ...session.Message) []byte {
	var out []byte
	for _, m := range msgs {
		b, err := session.Encode(session.Stream, m)
		require.NoError(t, err)
		out = append(out, b...)
	}
	return out
}

func TestAnalyze(t *testing.T) {
	c := newCapture(t)
	pid := session.PeerID{1, 2, 3, 4}

	client := uint16(50000)
	c.segment(client, sessionPort, encode(t, &session.InitSyn{Version: session.Version, WhatAmI: session.WhatAmIClient, PeerID: pid}))
	c.segment(sessionPort, client, encode(t, &session.InitAck{WhatAmI: session.WhatAmIPeer, PeerID: pid, Cookie: make([]byte, session.CookieSize)}))
	c.segment(client, sessionPort, encode(t, &session.OpenSyn{Lease: time.Second, Cookie: make([]byte, session.CookieSize)}))
	c.segment(sessionPort, client, encode(t, &session.OpenAck{Lease: time.Second}))

	var frames []session.Message
	for sn := uint64(0); sn < 10; sn++ {
		frames = append(frames, &session.Frame{Reliable: true, SN: sn, Key: "/test/thr", Payload: make([]byte, 64)})
	}
	data := encode(t, frames...)
	// Split a frame across two segments.
	c.segment(client, sessionPort, data[:100])
	c.segment(client, sessionPort, data[100:])
	c.segment(sessionPort, client, encode(t, &session.KeepAlive{}))

	// Unrelated traffic is ignored.
	c.segment(40000, 80, []byte("GET / HTTP/1.1\r\n\r\n"))

	res, err := Analyze(&c.buf, sessionPort, zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, 15, res.Messages)
	assert.Equal(t, 10, res.Frames)
	assert.Equal(t, 640, res.Payload)
	assert.Equal(t, 64, res.PerMessagePayload())
	assert.Equal(t, 0, res.Trailing)
	assert.Greater(t, res.PerMessageOverhead(), float64(2+3+len("/test/thr")))
	assert.Contains(t, res.String(), "Total data frames: 10")
}

func TestAnalyzeTrailingBytes(t *testing.T) {
	c := newCapture(t)
	data := encode(t, &session.Frame{SN: 1, Key: "/k", Payload: []byte("abc")})
	c.segment(50000, sessionPort, data[:len(data)-1])

	res, err := Analyze(&c.buf, sessionPort, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Messages)
	assert.Equal(t, len(data)-1, res.Trailing)
	assert.Equal(t, 0.0, res.PerMessageOverhead())
}

func TestAnalyzeBadHeader(t *testing.T) {
	_, err := Analyze(bytes.NewReader([]byte("not a pcap")), sessionPort, zap.NewNop())
	assert.Error(t, err)
}
