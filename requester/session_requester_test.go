package requester

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bench "github.com/ssd532/psbench"
)

// freeAddr returns a loopback address that was free a moment ago.
func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func sessionFactory(t *testing.T, addr, mode string, listen bool) bench.RequesterFactory {
	t.Helper()
	props := Properties{"session.keepalive": "1m"}
	if listen {
		props["session.listen"] = "true"
	}
	f, err := NewFactory(Options{Transport: "session", Locator: "tcp/" + addr, Mode: mode, Properties: props})
	require.NoError(t, err)
	return f
}

func TestSessionPingPong(t *testing.T) {
	addr := freeAddr(t)

	ctx, cancel := context.WithCancel(context.Background())
	pongDone := make(chan error, 1)
	pong := bench.NewPong(sessionFactory(t, addr, "peer", true).GetRequester(1), 20*time.Millisecond, nil)
	go func() { pongDone <- pong.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-pongDone)
	})

	require.Eventually(t, func() bool {
		conn, err := net.Dial("tcp", addr)
		if err != nil {
			return false
		}
		conn.Close()
		return true
	}, 2*time.Second, 10*time.Millisecond)

	ping := bench.NewPing(sessionFactory(t, addr, "client", false).GetRequester(0), bench.PingConfig{
		Payload: 64,
		Count:   10,
		Settle:  20 * time.Millisecond,
	}, nil, nil)

	runCtx, runCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer runCancel()
	require.NoError(t, ping.Run(runCtx))
	assert.Equal(t, int64(10), ping.Summary().Count())
	assert.Equal(t, 0, ping.Pending())
}

func TestSessionListenPublishUnbound(t *testing.T) {
	r := sessionFactory(t, freeAddr(t), "peer", true).GetRequester(0)
	require.NoError(t, r.Setup())
	err := r.Publish(bench.PongKey, []byte("early"))
	assert.ErrorIs(t, err, bench.ErrUnbound)
	assert.NoError(t, r.Teardown())
}

func TestSessionDialRefused(t *testing.T) {
	r := sessionFactory(t, freeAddr(t), "client", false).GetRequester(0)
	assert.Error(t, r.Setup())
}
