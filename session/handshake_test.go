package session

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcceptorOrdering(t *testing.T) {
	syn := &InitSyn{Version: Version, WhatAmI: WhatAmIClient, PeerID: PeerID{1}}
	open := &OpenSyn{Lease: time.Second, Cookie: make([]byte, CookieSize)}

	tests := []struct {
		name        string
		msgs        []Message
		established bool
	}{
		{"in order", []Message{syn, open}, true},
		{"open first", []Message{open, syn}, false},
		{"init twice", []Message{syn, syn}, false},
		{"frame first", []Message{&Frame{Key: "k"}, syn, open}, false},
		{"keep alive between", []Message{syn, &KeepAlive{}, open}, false},
		{"repeated after established", []Message{syn, open, open}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAcceptor(WhatAmIRouter, PeerID{2})
			require.Equal(t, StateListening, a.State())
			require.NoError(t, a.Accept())
			require.Equal(t, StateAwaitInitSyn, a.State())

			var err error
			for _, m := range tt.msgs {
				if _, err = a.Step(m); err != nil {
					break
				}
			}
			if tt.established {
				require.NoError(t, err)
				require.Equal(t, StateEstablished, a.State())
				return
			}
			require.ErrorIs(t, err, ErrUnexpectedMessage)
			require.Equal(t, StateClosed, a.State())
		})
	}
}

func TestAcceptorAcceptTwice(t *testing.T) {
	a := NewAcceptor(WhatAmIRouter, PeerID{2})
	require.NoError(t, a.Accept())
	require.ErrorIs(t, a.Accept(), ErrUnexpectedMessage)
	require.Equal(t, StateClosed, a.State())
}

func TestAcceptorReplies(t *testing.T) {
	a := NewAcceptor(WhatAmIRouter, PeerID{2})
	require.NoError(t, a.Accept())

	reply, err := a.Step(&InitSyn{Version: Version, WhatAmI: WhatAmIPeer, PeerID: PeerID{1}, IsQoS: true})
	require.NoError(t, err)
	require.Equal(t, &InitAck{WhatAmI: WhatAmIRouter, PeerID: PeerID{2}, IsQoS: true, Cookie: make([]byte, CookieSize)}, reply)
	require.Equal(t, StateAwaitOpenSyn, a.State())

	reply, err = a.Step(&OpenSyn{Lease: 3 * time.Second, InitialSN: 99, Cookie: make([]byte, CookieSize)})
	require.NoError(t, err)
	require.Equal(t, &OpenAck{Lease: 3 * time.Second, InitialSN: 99}, reply)

	require.Equal(t, Params{PeerID: PeerID{1}, WhatAmI: WhatAmIPeer, Lease: 3 * time.Second, InitialSN: 99, IsQoS: true}, a.Params())
}

func TestInitiator(t *testing.T) {
	i := NewInitiator(WhatAmIClient, PeerID{1}, time.Second, 5, false)
	require.Equal(t, StateIdle, i.State())

	m, err := i.Start()
	require.NoError(t, err)
	require.Equal(t, &InitSyn{Version: Version, WhatAmI: WhatAmIClient, PeerID: PeerID{1}}, m)
	require.Equal(t, StateAwaitInitAck, i.State())

	cookie := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	m, err = i.Step(&InitAck{WhatAmI: WhatAmIRouter, PeerID: PeerID{2}, Cookie: cookie})
	require.NoError(t, err)
	require.Equal(t, &OpenSyn{Lease: time.Second, InitialSN: 5, Cookie: cookie}, m)

	m, err = i.Step(&OpenAck{Lease: time.Second, InitialSN: 5})
	require.NoError(t, err)
	require.Nil(t, m)
	require.Equal(t, StateEstablished, i.State())
	require.Equal(t, PeerID{2}, i.Params().PeerID)

	_, err = i.Step(&OpenAck{})
	require.ErrorIs(t, err, ErrUnexpectedMessage)
	require.Equal(t, StateClosed, i.State())
}

func TestInitiatorRejectsOutOfOrder(t *testing.T) {
	i := NewInitiator(WhatAmIClient, PeerID{1}, time.Second, 0, false)
	_, err := i.Start()
	require.NoError(t, err)

	_, err = i.Step(&OpenAck{Lease: time.Second})
	require.ErrorIs(t, err, ErrUnexpectedMessage)
	require.Equal(t, StateClosed, i.State())
}

// TestHandshakeScenario drives an acceptor over a pipe with raw frames and
// checks the exact replies and the framing of the first data frame.
func TestHandshakeScenario(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	a := NewAcceptor(WhatAmIRouter, LocalPeerID())
	accepted := make(chan error, 1)
	go func() {
		accepted <- accept(NewStreamTransport(server), a)
	}()

	send := func(m Message) {
		require.NoError(t, WriteFrame(client, Marshal(m)))
	}
	recv := func() Message {
		body, err := ReadFrame(client)
		require.NoError(t, err)
		m, err := Unmarshal(body)
		require.NoError(t, err)
		return m
	}

	send(&InitSyn{Version: Version, WhatAmI: WhatAmIClient, PeerID: PeerID{1}, IsQoS: false})
	ack, ok := recv().(*InitAck)
	require.True(t, ok)
	assert.False(t, ack.IsQoS)
	assert.Equal(t, make([]byte, 8), ack.Cookie)
	assert.Zero(t, ack.SNResolution)
	assert.Equal(t, WhatAmIRouter, ack.WhatAmI)

	send(&OpenSyn{Lease: 1000 * time.Millisecond, InitialSN: 0, Cookie: ack.Cookie})
	require.Equal(t, &OpenAck{Lease: time.Second, InitialSN: 0}, recv())

	require.NoError(t, <-accepted)
	require.Equal(t, StateEstablished, a.State())

	// One reliable data frame with a 64 byte payload: header, sn, key
	// length, key, payload.
	frame := &Frame{Reliable: true, SN: 0, Key: "/test/thr", Payload: make([]byte, 64)}
	overhead := 1 + 1 + 1 + len(frame.Key)
	wire, err := Encode(Stream, frame)
	require.NoError(t, err)
	require.Len(t, wire, 2+overhead+64)
	require.Equal(t, []byte{byte(overhead + 64), 0}, wire[:2])
}

func TestAcceptRejectsWrongFirstMessage(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	a := NewAcceptor(WhatAmIRouter, LocalPeerID())
	accepted := make(chan error, 1)
	go func() {
		accepted <- accept(NewStreamTransport(server), a)
	}()

	require.NoError(t, WriteFrame(client, Marshal(&OpenSyn{Lease: time.Second, Cookie: []byte{0}})))
	require.ErrorIs(t, <-accepted, ErrUnexpectedMessage)
	require.Equal(t, StateClosed, a.State())
}

func TestOpenOverPipe(t *testing.T) {
	client, server := net.Pipe()

	a := NewAcceptor(WhatAmIRouter, PeerID{2})
	accepted := make(chan error, 1)
	go func() {
		accepted <- accept(NewStreamTransport(server), a)
	}()

	i := NewInitiator(WhatAmIClient, PeerID{1}, 2*time.Second, 10, true)
	require.NoError(t, open(NewStreamTransport(client), i))
	require.NoError(t, <-accepted)

	require.Equal(t, StateEstablished, i.State())
	require.Equal(t, Params{PeerID: PeerID{2}, WhatAmI: WhatAmIRouter, Lease: 2 * time.Second, InitialSN: 10, IsQoS: true}, i.Params())
	require.Equal(t, Params{PeerID: PeerID{1}, WhatAmI: WhatAmIClient, Lease: 2 * time.Second, InitialSN: 10, IsQoS: true}, a.Params())

	client.Close()
	server.Close()
}
