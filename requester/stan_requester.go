package requester

import (
	"strconv"

	"github.com/nats-io/stan.go"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	bench "github.com/ssd532/psbench"
)

// STANRequesterFactory implements RequesterFactory by creating Requesters
// which publish to and subscribe on NATS Streaming channels.
type STANRequesterFactory struct {
	URL       string
	ClusterID string
	// ClientID is suffixed with the connection number and the process id
	// since the server rejects duplicate client ids.
	ClientID string
	Logger   *zap.Logger
}

// GetRequester returns a new Requester, called for each connection.
func (s *STANRequesterFactory) GetRequester(num uint64) bench.Requester {
	return &stanRequester{
		url:       s.URL,
		clusterID: s.ClusterID,
		clientID:  s.ClientID + "-" + strconv.FormatUint(num, 10) + "-" + processSuffix(),
		logger:    s.Logger,
	}
}

// stanRequester implements Requester on a NATS Streaming connection.
type stanRequester struct {
	url       string
	clusterID string
	clientID  string
	logger    *zap.Logger
	conn      stan.Conn
	subs      []stan.Subscription
}

// Setup prepares the Requester for benchmarking.
func (s *stanRequester) Setup() error {
	conn, err := stan.Connect(s.clusterID, s.clientID,
		stan.NatsURL(s.url),
		stan.SetConnectionLostHandler(func(_ stan.Conn, err error) {
			s.logger.Error("stan connection lost", zap.Error(err))
		}))
	if err != nil {
		return errors.Wrapf(err, "connect to %s", s.url)
	}
	s.conn = conn
	return nil
}

func (s *stanRequester) Publish(key string, payload []byte) error {
	return s.conn.Publish(bench.DottedKey(key), payload)
}

func (s *stanRequester) Subscribe(key string, h bench.Handler) error {
	sub, err := s.conn.Subscribe(bench.DottedKey(key), func(m *stan.Msg) {
		h(m.Data)
	})
	if err != nil {
		return err
	}
	s.subs = append(s.subs, sub)
	return nil
}

// Teardown is called upon benchmark completion.
func (s *stanRequester) Teardown() error {
	if s.conn == nil {
		return nil
	}
	for _, sub := range s.subs {
		if err := sub.Unsubscribe(); err != nil {
			return err
		}
	}
	s.subs = nil
	err := s.conn.Close()
	s.conn = nil
	return err
}
