package requester

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bench "github.com/ssd532/psbench"
	"github.com/ssd532/psbench/session"
)

func TestNewFactoryUnknownTransport(t *testing.T) {
	_, err := NewFactory(Options{Transport: "carrier-pigeon"})
	assert.ErrorIs(t, err, ErrUnknownTransport)
}

func TestTransportsSorted(t *testing.T) {
	names := Transports()
	assert.Len(t, names, len(DefaultLocators))
	assert.IsNonDecreasing(t, names)
	assert.Contains(t, names, "session")
	assert.Contains(t, names, "loopback")
}

func TestNewFactoryEveryTransport(t *testing.T) {
	for _, name := range Transports() {
		t.Run(name, func(t *testing.T) {
			f, err := NewFactory(Options{Transport: name})
			require.NoError(t, err)
			assert.NotNil(t, f.GetRequester(0))
		})
	}
}

func TestNewFactoryDefaults(t *testing.T) {
	f, err := NewFactory(Options{Transport: "kafka", Properties: Properties{"kafka.async": "true"}})
	require.NoError(t, err)
	kafka := f.(*KafkaRequesterFactory)
	assert.Equal(t, []string{"127.0.0.1:9092"}, kafka.URLs)
	assert.True(t, kafka.IsAsync)

	f, err = NewFactory(Options{Transport: "mqtt", Locator: "tcp://broker:1883", Properties: Properties{"mqtt.qos": "2"}})
	require.NoError(t, err)
	mqtt := f.(*MQTTRequesterFactory)
	assert.Equal(t, "tcp://broker:1883", mqtt.URL)
	assert.Equal(t, byte(2), mqtt.QoS)

	f, err = NewFactory(Options{Transport: "loopback"})
	require.NoError(t, err)
	assert.IsType(t, &bench.Loopback{}, f)
}

func TestNewFactorySession(t *testing.T) {
	f, err := NewFactory(Options{
		Transport: "session",
		Locator:   "tcp/127.0.0.1:9000",
		Mode:      "peer",
		Lease:     3 * time.Second,
		QoS:       true,
		Properties: Properties{
			"session.listen":    "true",
			"session.keepalive": "2s",
		},
	})
	require.NoError(t, err)
	s := f.(*SessionRequesterFactory)
	assert.True(t, s.Listen)
	assert.Equal(t, session.Locator{Protocol: "tcp", Address: "127.0.0.1:9000"}, s.Locator)
	assert.Equal(t, session.WhatAmIPeer, s.Config.WhatAmI)
	assert.Equal(t, 3*time.Second, s.Config.Lease)
	assert.Equal(t, 2*time.Second, s.Config.KeepAlive)
	assert.True(t, s.Config.IsQoS)

	// Only peers may listen.
	f, err = NewFactory(Options{Transport: "session", Properties: Properties{"session.listen": "true"}})
	require.NoError(t, err)
	s = f.(*SessionRequesterFactory)
	assert.False(t, s.Listen)
	assert.Equal(t, session.WhatAmIClient, s.Config.WhatAmI)

	_, err = NewFactory(Options{Transport: "session", Locator: "quic/127.0.0.1:1"})
	assert.ErrorIs(t, err, session.ErrInvalidLocator)

	_, err = NewFactory(Options{Transport: "session", Mode: "satellite"})
	assert.ErrorIs(t, err, session.ErrUnsupportedMode)
}

func TestKeyMapping(t *testing.T) {
	assert.Equal(t, "test/ping", mqttTopic(bench.PingKey))
	assert.Equal(t, "plain", mqttTopic("plain"))
	assert.Equal(t, "test.ping-stream", streamName(bench.PingKey))

	r := (&RMQStreamRequesterFactory{Prefix: "psb"}).GetRequester(3).(*rmqstreamRequester)
	assert.Equal(t, "psb.test.thr", r.stream(bench.ThrKey))
	assert.Equal(t, "psb-3", r.name)

	j := (&JetStreamRequesterFactory{Stream: "bench"}).GetRequester(0).(*jetstreamRequester)
	assert.Equal(t, "BENCH.test.pong", j.subject(bench.PongKey))

	n := (&NSQRequesterFactory{Channel: "ch"}).GetRequester(4).(*nsqRequester)
	assert.Equal(t, "ch4#ephemeral", n.channel)
}
