// Package bench measures round-trip latency and throughput of pub/sub
// middleware. A Requester is a connection to the system under test; the
// drivers in this package (Ping, Pong, Query, Eval, Publisher, Subscriber)
// run the measurement loops on top of it and emit Records.
package bench

import (
	"strings"
)

// Well-known keys used by the benchmark pairs.
const (
	PingKey  = "/test/ping"
	PongKey  = "/test/pong"
	QueryKey = "/test/query"
	ThrKey   = "/test/thr"
	DelayKey = "/test/delay"
)

// Handler receives the raw payload of a message delivered on a subscribed
// key. Handlers may be invoked from transport goroutines.
type Handler func(payload []byte)

// Requester is the narrow slice of a middleware client the benchmarks use.
type Requester interface {
	// Setup prepares the Requester for benchmarking.
	Setup() error

	// Publish sends payload on key.
	Publish(key string, payload []byte) error

	// Subscribe declares interest in key; h is called for every message
	// received on it. Subscribe is called after Setup.
	Subscribe(key string, h Handler) error

	// Teardown is called upon benchmark completion.
	Teardown() error
}

// RequesterFactory creates Requesters.
type RequesterFactory interface {
	// GetRequester returns a new Requester, called for each connection.
	GetRequester(num uint64) Requester
}

// ReplyKey returns the key replies to queries on key are published on.
func ReplyKey(key string) string {
	return key + "/reply"
}

// DottedKey maps a slash separated key to the dotted form most brokers
// accept as a subject or topic name ("/test/ping" -> "test.ping").
func DottedKey(key string) string {
	return strings.ReplaceAll(strings.Trim(key, "/"), "/", ".")
}
