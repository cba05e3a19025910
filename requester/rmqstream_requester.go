package requester

import (
	"net"
	"strconv"
	"sync"

	"github.com/pkg/errors"
	"github.com/rabbitmq/rabbitmq-stream-go-client/pkg/amqp"
	"github.com/rabbitmq/rabbitmq-stream-go-client/pkg/message"
	"github.com/rabbitmq/rabbitmq-stream-go-client/pkg/stream"
	"go.uber.org/zap"

	bench "github.com/ssd532/psbench"
)

// RMQStreamRequesterFactory implements RequesterFactory by creating a
// Requester which publishes to and consumes from RabbitMQ streams, one
// stream per key.
type RMQStreamRequesterFactory struct {
	// URL is the host:port of the stream plugin listener.
	URL      string
	User     string
	Password string
	// Prefix is prepended to the stream names.
	Prefix string
	Logger *zap.Logger
}

// GetRequester returns a new Requester, called for each connection.
func (r *RMQStreamRequesterFactory) GetRequester(num uint64) bench.Requester {
	return &rmqstreamRequester{
		url:      r.URL,
		user:     r.User,
		password: r.Password,
		prefix:   r.Prefix,
		name:     r.Prefix + "-" + strconv.FormatUint(num, 10),
		logger:   r.Logger,
	}
}

// rmqstreamRequester implements Requester on a stream environment. Producers
// are created lazily for each published key.
type rmqstreamRequester struct {
	url       string
	user      string
	password  string
	prefix    string
	name      string
	logger    *zap.Logger
	env       *stream.Environment
	mu        sync.Mutex
	producers map[string]*stream.Producer
	consumers []*stream.Consumer
}

func (r *rmqstreamRequester) stream(key string) string {
	return r.prefix + "." + bench.DottedKey(key)
}

// Setup prepares the Requester for benchmarking.
func (r *rmqstreamRequester) Setup() error {
	host, portStr, err := net.SplitHostPort(r.url)
	if err != nil {
		return errors.Wrapf(err, "locator %q", r.url)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return errors.Wrapf(err, "locator %q", r.url)
	}
	env, err := stream.NewEnvironment(
		stream.NewEnvironmentOptions().
			SetHost(host).
			SetPort(port).
			SetUser(r.user).
			SetPassword(r.password))
	if err != nil {
		return err
	}
	r.env = env
	r.producers = make(map[string]*stream.Producer)
	return nil
}

func (r *rmqstreamRequester) declare(name string) error {
	err := r.env.DeclareStream(name,
		&stream.StreamOptions{
			MaxLengthBytes: stream.ByteCapacity{}.GB(2),
		},
	)
	if err != nil && err != stream.StreamAlreadyExists {
		return err
	}
	return nil
}

func (r *rmqstreamRequester) producer(key string) (*stream.Producer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.producers[key]; ok {
		return p, nil
	}
	name := r.stream(key)
	if err := r.declare(name); err != nil {
		return nil, err
	}
	p, err := r.env.NewProducer(name, stream.NewProducerOptions().SetBatchSize(1))
	if err != nil {
		return nil, err
	}
	r.producers[key] = p
	return p, nil
}

func (r *rmqstreamRequester) Publish(key string, payload []byte) error {
	p, err := r.producer(key)
	if err != nil {
		return err
	}
	return p.BatchSend([]message.StreamMessage{amqp.NewMessage(payload)})
}

func (r *rmqstreamRequester) Subscribe(key string, h bench.Handler) error {
	name := r.stream(key)
	if err := r.declare(name); err != nil {
		return err
	}
	consumer, err := r.env.NewConsumer(
		name,
		func(_ stream.ConsumerContext, msg *amqp.Message) {
			if len(msg.Data) == 0 {
				return
			}
			h(msg.Data[0])
		},
		stream.NewConsumerOptions().
			SetConsumerName(r.name).
			SetOffset(stream.OffsetSpecification{}.Next()))
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.consumers = append(r.consumers, consumer)
	r.mu.Unlock()
	return nil
}

// Teardown is called upon benchmark completion. Streams are left in place
// since the peer process may still be using them.
func (r *rmqstreamRequester) Teardown() error {
	if r.env == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.producers {
		if err := p.Close(); err != nil {
			return err
		}
	}
	for _, c := range r.consumers {
		if err := c.Close(); err != nil {
			return err
		}
	}
	err := r.env.Close()
	r.producers = nil
	r.consumers = nil
	r.env = nil
	return err
}
