package requester

import (
	"strconv"

	"github.com/nsqio/go-nsq"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	bench "github.com/ssd532/psbench"
)

// NSQRequesterFactory implements RequesterFactory by creating a Requester
// which publishes to an nsqd and consumes from ephemeral channels.
type NSQRequesterFactory struct {
	URL string
	// Channel is the prefix of the consumer channel names. Every connection
	// gets its own channel so each sees every message.
	Channel string
	Logger  *zap.Logger
}

// GetRequester returns a new Requester, called for each connection.
func (n *NSQRequesterFactory) GetRequester(num uint64) bench.Requester {
	return &nsqRequester{
		url:     n.URL,
		channel: n.Channel + strconv.FormatUint(num, 10) + "#ephemeral",
		logger:  n.Logger,
	}
}

// nsqRequester implements Requester with one producer and one consumer per
// subscribed topic. Topics are the dotted keys.
type nsqRequester struct {
	url       string
	channel   string
	logger    *zap.Logger
	config    *nsq.Config
	producer  *nsq.Producer
	consumers []*nsq.Consumer
}

// Setup prepares the Requester for benchmarking.
func (n *nsqRequester) Setup() error {
	n.config = nsq.NewConfig()
	producer, err := nsq.NewProducer(n.url, n.config)
	if err != nil {
		return err
	}
	producer.SetLogger(zap.NewStdLog(n.logger), nsq.LogLevelWarning)
	if err := producer.Ping(); err != nil {
		producer.Stop()
		return errors.Wrapf(err, "ping %s", n.url)
	}
	n.producer = producer
	return nil
}

func (n *nsqRequester) Publish(key string, payload []byte) error {
	return n.producer.Publish(bench.DottedKey(key), payload)
}

func (n *nsqRequester) Subscribe(key string, h bench.Handler) error {
	consumer, err := nsq.NewConsumer(bench.DottedKey(key), n.channel, n.config)
	if err != nil {
		return err
	}
	consumer.SetLogger(zap.NewStdLog(n.logger), nsq.LogLevelWarning)
	consumer.AddHandler(nsq.HandlerFunc(func(m *nsq.Message) error {
		h(m.Body)
		return nil
	}))
	if err := consumer.ConnectToNSQD(n.url); err != nil {
		consumer.Stop()
		return errors.Wrapf(err, "connect to %s", n.url)
	}
	n.consumers = append(n.consumers, consumer)
	return nil
}

// Teardown is called upon benchmark completion.
func (n *nsqRequester) Teardown() error {
	if n.producer == nil {
		return nil
	}
	for _, c := range n.consumers {
		c.Stop()
		<-c.StopChan
	}
	n.consumers = nil
	n.producer.Stop()
	n.producer = nil
	return nil
}
