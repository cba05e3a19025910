package requester

import (
	"strconv"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	bench "github.com/ssd532/psbench"
)

// publishAsyncTimeout bounds how long Teardown waits for outstanding
// asynchronous publish acknowledgments.
const publishAsyncTimeout = 30 * time.Second

// JetStreamRequesterFactory implements RequesterFactory by creating
// Requesters which publish to and consume from a JetStream stream.
type JetStreamRequesterFactory struct {
	URL string
	// Stream is the name of the stream capturing every benchmark subject.
	Stream string
	Logger *zap.Logger
}

// GetRequester returns a new Requester, called for each connection.
func (j *JetStreamRequesterFactory) GetRequester(num uint64) bench.Requester {
	return &jetstreamRequester{
		url:    j.URL,
		name:   "psbench-" + strconv.FormatUint(num, 10),
		stream: strings.ToUpper(j.Stream),
		logger: j.Logger,
	}
}

// jetstreamRequester implements Requester by publishing asynchronously to a
// stream and consuming new messages with push subscriptions.
type jetstreamRequester struct {
	url     string
	name    string
	stream  string
	logger  *zap.Logger
	conn    *nats.Conn
	js      nats.JetStreamContext
	subs    []*nats.Subscription
	created bool
}

func (j *jetstreamRequester) subject(key string) string {
	return j.stream + "." + bench.DottedKey(key)
}

// Setup prepares the Requester for benchmarking.
func (j *jetstreamRequester) Setup() error {
	conn, err := nats.Connect(j.url, nats.Name(j.name))
	if err != nil {
		return errors.Wrapf(err, "connect to %s", j.url)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return err
	}

	// The peer process may have created the stream already.
	if _, err := js.StreamInfo(j.stream); err != nil {
		_, err = js.AddStream(&nats.StreamConfig{Name: j.stream, Subjects: []string{j.stream + ".>"}})
		if err != nil {
			conn.Close()
			return errors.Wrapf(err, "add stream %s", j.stream)
		}
		j.created = true
	}

	j.conn = conn
	j.js = js
	return nil
}

func (j *jetstreamRequester) Publish(key string, payload []byte) error {
	_, err := j.js.PublishAsync(j.subject(key), payload)
	return err
}

func (j *jetstreamRequester) Subscribe(key string, h bench.Handler) error {
	sub, err := j.js.Subscribe(j.subject(key), func(m *nats.Msg) {
		h(m.Data)
	}, nats.DeliverNew())
	if err != nil {
		return err
	}
	j.subs = append(j.subs, sub)
	return nil
}

// Teardown is called upon benchmark completion.
func (j *jetstreamRequester) Teardown() error {
	if j.conn == nil {
		return nil
	}
	select {
	case <-j.js.PublishAsyncComplete():
	case <-time.After(publishAsyncTimeout):
		j.logger.Warn("gave up waiting for publish acks", zap.Int("pending", j.js.PublishAsyncPending()))
	}
	for _, sub := range j.subs {
		if err := sub.Unsubscribe(); err != nil {
			return err
		}
	}
	j.subs = nil
	if j.created {
		if err := j.js.DeleteStream(j.stream); err != nil {
			j.logger.Warn("failed to delete stream", zap.String("stream", j.stream), zap.Error(err))
		}
	}
	j.conn.Close()
	j.conn = nil
	return nil
}
