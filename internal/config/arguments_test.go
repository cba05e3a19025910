package config

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bench "github.com/ssd532/psbench"
	"github.com/ssd532/psbench/requester"
	"github.com/ssd532/psbench/session"
)

func TestParseDefaults(t *testing.T) {
	args, err := Parse("ping", nil, 64)
	require.NoError(t, err)

	assert.Equal(t, "session", args.Transport)
	assert.Equal(t, "peer", args.Mode)
	assert.Equal(t, 64, args.Payload)
	assert.Equal(t, 1.0, args.Interval)
	assert.Equal(t, time.Second, args.IntervalDuration())
	assert.Equal(t, 10*time.Second, args.Lease)
	assert.Equal(t, "ping", args.Name)
	assert.Equal(t, "info", args.LogLevel)
	assert.Empty(t, args.Properties)
}

func TestParseFlags(t *testing.T) {
	args, err := Parse("ping", []string{
		"--transport", "nats",
		"-e", "nats://broker:4222",
		"-m", "client",
		"-p", "1024",
		"-i", "0.25",
		"--parallel",
		"-s", "lab",
		"-n", "run1",
		"--count", "100",
		"--cassandra-hosts", "c1,c2",
	}, 64)
	require.NoError(t, err)

	assert.Equal(t, "nats://broker:4222", args.Locator)
	assert.True(t, args.Parallel)
	assert.Equal(t, uint64(100), args.Count)
	assert.Equal(t, 250*time.Millisecond, args.IntervalDuration())
	assert.Equal(t, []string{"c1", "c2"}, args.CassandraHosts)

	labels := args.Labels()
	assert.Equal(t, "nats", labels.Transport)
	assert.Equal(t, "lab", labels.Scenario)
	assert.Equal(t, "run1", labels.Name)
	assert.Equal(t, 1024, labels.Payload)
	assert.Equal(t, 0.25, labels.Interval)

	opts := args.RequesterOptions()
	assert.Equal(t, "nats", opts.Transport)
	assert.Equal(t, "client", opts.Mode)
}

func TestParseLocatorAlias(t *testing.T) {
	args, err := Parse("pong", []string{"--locator", "tcp/10.0.0.1:7447"}, 64)
	require.NoError(t, err)
	assert.Equal(t, "tcp/10.0.0.1:7447", args.Locator)
}

func TestParseValidation(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"payload below envelope", []string{"-p", "8"}, "payload must be at least 9 bytes"},
		{"payload above frame", []string{"-p", "70000"}, "on the session transport"},
		{"payload without room for the frame", []string{"-p", "65535"}, "on the session transport"},
		{"negative interval", []string{"-i", "-1"}, "interval must not be negative"},
		{"negative rate", []string{"--rate", "-5"}, "rate must not be negative"},
		{"zero lease", []string{"--lease", "0s"}, "lease must be positive"},
		{"bad mode", []string{"-m", "satellite"}, "unsupported mode"},
		{"bad transport", []string{"--transport", "pigeon"}, "unknown transport"},
		{"bad log level", []string{"--log-level", "loud"}, "log level"},
		{"unknown flag", []string{"--nope"}, "unknown flag"},
		{"missing conf", []string{"--conf", "/does/not/exist.yaml"}, "read properties"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse("ping", tt.args, 64)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParsePayloadLimitDependsOnTransport(t *testing.T) {
	args, err := Parse("pubthr", []string{"--transport", "nats", "-p", "70000"}, 64)
	require.NoError(t, err)
	assert.Equal(t, 70000, args.Payload)

	limit := session.MaxPayload(bench.ReplyKey(bench.QueryKey))
	_, err = Parse("pubthr", []string{"-p", strconv.Itoa(limit)}, 64)
	require.NoError(t, err)
	_, err = Parse("pubthr", []string{"-p", strconv.Itoa(limit + 1)}, 64)
	require.Error(t, err)
}

func TestLoadProperties(t *testing.T) {
	path := filepath.Join(t.TempDir(), "props.yaml")
	require.NoError(t, os.WriteFile(path, []byte("amqp.exchange: bench\nkafka.async: true\nmqtt.qos: 1\n"), 0o644))

	props, err := LoadProperties(path)
	require.NoError(t, err)
	assert.Equal(t, requester.Properties{
		"amqp.exchange": "bench",
		"kafka.async":   "true",
		"mqtt.qos":      "1",
	}, props)
	assert.True(t, props.Bool("kafka.async", false))

	args, err := Parse("ping", []string{"--conf", path}, 64)
	require.NoError(t, err)
	assert.Equal(t, "bench", args.Properties.String("amqp.exchange", ""))
}

func TestLoadPropertiesMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "props.yaml")
	require.NoError(t, os.WriteFile(path, []byte("- not\n- a map\n"), 0o644))

	_, err := LoadProperties(path)
	assert.ErrorContains(t, err, "parse properties")
}
