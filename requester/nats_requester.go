package requester

import (
	"strconv"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	bench "github.com/ssd532/psbench"
)

// NATSRequesterFactory implements RequesterFactory by creating Requesters
// publishing and subscribing on core NATS subjects.
type NATSRequesterFactory struct {
	URL    string
	Logger *zap.Logger
}

// GetRequester returns a new Requester, called for each connection.
func (n *NATSRequesterFactory) GetRequester(num uint64) bench.Requester {
	return &natsRequester{
		url:    n.URL,
		name:   "psbench-" + strconv.FormatUint(num, 10),
		logger: n.Logger,
	}
}

// natsRequester implements Requester on a single NATS connection. Keys map
// to subjects with DottedKey.
type natsRequester struct {
	url    string
	name   string
	logger *zap.Logger
	conn   *nats.Conn
	subs   []*nats.Subscription
}

// Setup prepares the Requester for benchmarking.
func (n *natsRequester) Setup() error {
	conn, err := nats.Connect(n.url,
		nats.Name(n.name),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			n.logger.Warn("nats disconnected", zap.Error(err))
		}))
	if err != nil {
		return errors.Wrapf(err, "connect to %s", n.url)
	}
	n.conn = conn
	return nil
}

func (n *natsRequester) Publish(key string, payload []byte) error {
	return n.conn.Publish(bench.DottedKey(key), payload)
}

func (n *natsRequester) Subscribe(key string, h bench.Handler) error {
	sub, err := n.conn.Subscribe(bench.DottedKey(key), func(m *nats.Msg) {
		h(m.Data)
	})
	if err != nil {
		return err
	}
	n.subs = append(n.subs, sub)
	// Make sure the server has registered interest before returning.
	return n.conn.Flush()
}

// Teardown is called upon benchmark completion.
func (n *natsRequester) Teardown() error {
	if n.conn == nil {
		return nil
	}
	for _, sub := range n.subs {
		if err := sub.Unsubscribe(); err != nil {
			return err
		}
	}
	n.subs = nil
	n.conn.Close()
	n.conn = nil
	return nil
}
