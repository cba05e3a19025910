package requester

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/streadway/amqp"
	"go.uber.org/zap"

	bench "github.com/ssd532/psbench"
)

// AMQPRequesterFactory implements RequesterFactory by creating a Requester
// which publishes to a topic exchange and consumes from exclusive queues
// bound to it.
type AMQPRequesterFactory struct {
	URL      string
	Exchange string
	Logger   *zap.Logger
}

// GetRequester returns a new Requester, called for each connection.
func (a *AMQPRequesterFactory) GetRequester(num uint64) bench.Requester {
	return &amqpRequester{
		url:      a.URL,
		exchange: a.Exchange,
		logger:   a.Logger,
	}
}

// amqpRequester implements Requester on one connection with separate
// channels for publishing and consuming. Routing keys are the dotted keys.
type amqpRequester struct {
	url      string
	exchange string
	logger   *zap.Logger
	conn     *amqp.Connection
	pubMu    sync.Mutex
	pub      *amqp.Channel
	sub      *amqp.Channel
	wg       sync.WaitGroup
}

// Setup prepares the Requester for benchmarking.
func (a *amqpRequester) Setup() error {
	conn, err := amqp.Dial(a.url)
	if err != nil {
		return errors.Wrapf(err, "dial %s", a.url)
	}
	pub, err := conn.Channel()
	if err != nil {
		conn.Close()
		return err
	}
	sub, err := conn.Channel()
	if err != nil {
		conn.Close()
		return err
	}
	if err := pub.ExchangeDeclare(a.exchange, amqp.ExchangeTopic, false, true, false, false, nil); err != nil {
		conn.Close()
		return errors.Wrapf(err, "declare exchange %s", a.exchange)
	}
	a.conn = conn
	a.pub = pub
	a.sub = sub
	return nil
}

// Publish is serialized since amqp.Channel is not safe for concurrent
// publishing.
func (a *amqpRequester) Publish(key string, payload []byte) error {
	a.pubMu.Lock()
	defer a.pubMu.Unlock()
	return a.pub.Publish(a.exchange, bench.DottedKey(key), false, false, amqp.Publishing{
		ContentType: "application/octet-stream",
		Body:        payload,
	})
}

func (a *amqpRequester) Subscribe(key string, h bench.Handler) error {
	q, err := a.sub.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return err
	}
	if err := a.sub.QueueBind(q.Name, bench.DottedKey(key), a.exchange, false, nil); err != nil {
		return err
	}
	deliveries, err := a.sub.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		return err
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		for d := range deliveries {
			h(d.Body)
		}
	}()
	return nil
}

// Teardown is called upon benchmark completion.
func (a *amqpRequester) Teardown() error {
	if a.conn == nil {
		return nil
	}
	// Closing the connection closes both channels and the delivery streams.
	err := a.conn.Close()
	a.wg.Wait()
	a.conn = nil
	a.pub = nil
	a.sub = nil
	return err
}
