package requester

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	lift "github.com/liftbridge-io/go-liftbridge/v2"
	"go.uber.org/zap"

	bench "github.com/ssd532/psbench"
)

// ackPollInterval is how often Teardown checks for outstanding async acks.
const ackPollInterval = 100 * time.Millisecond

// LiftbridgeRequesterFactory implements RequesterFactory by creating a
// Requester which publishes to and subscribes on Liftbridge streams, one
// stream per key.
type LiftbridgeRequesterFactory struct {
	URLs         []string
	AsyncPublish bool
	Logger       *zap.Logger
}

// GetRequester returns a new Requester, called for each connection.
func (l *LiftbridgeRequesterFactory) GetRequester(num uint64) bench.Requester {
	return &liftbridgeRequester{
		urls:         l.URLs,
		asyncPublish: l.AsyncPublish,
		logger:       l.Logger,
	}
}

// liftbridgeRequester implements Requester on a Liftbridge client. The
// stream for a key is named after its dotted form with a "-stream" suffix.
type liftbridgeRequester struct {
	urls         []string
	asyncPublish bool
	logger       *zap.Logger
	client       lift.Client
	ctx          context.Context
	cancel       context.CancelFunc
	acksLeft     int64
	streams      sync.Map
}

func streamName(key string) string {
	return bench.DottedKey(key) + "-stream"
}

// Setup prepares the Requester for benchmarking.
func (l *liftbridgeRequester) Setup() error {
	client, err := lift.Connect(l.urls)
	if err != nil {
		return err
	}
	l.client = client
	l.ctx, l.cancel = context.WithCancel(context.Background())
	return nil
}

func (l *liftbridgeRequester) ensureStream(key string) error {
	if _, ok := l.streams.Load(key); ok {
		return nil
	}
	err := l.client.CreateStream(l.ctx, bench.DottedKey(key), streamName(key))
	if err != nil && err != lift.ErrStreamExists {
		return err
	}
	l.streams.Store(key, struct{}{})
	return nil
}

func (l *liftbridgeRequester) Publish(key string, payload []byte) error {
	if err := l.ensureStream(key); err != nil {
		return err
	}
	if !l.asyncPublish {
		_, err := l.client.Publish(l.ctx, streamName(key), payload, lift.AckPolicyLeader())
		return err
	}
	atomic.AddInt64(&l.acksLeft, 1)
	return l.client.PublishAsync(l.ctx, streamName(key), payload,
		func(_ *lift.Ack, err error) {
			if err != nil {
				l.logger.Error("async publish failed", zap.String("key", key), zap.Error(err))
			}
			atomic.AddInt64(&l.acksLeft, -1)
		}, lift.AckPolicyLeader())
}

func (l *liftbridgeRequester) Subscribe(key string, h bench.Handler) error {
	if err := l.ensureStream(key); err != nil {
		return err
	}
	return l.client.Subscribe(l.ctx, streamName(key), func(msg *lift.Message, err error) {
		if err != nil {
			if l.ctx.Err() == nil {
				l.logger.Error("subscription failed", zap.String("key", key), zap.Error(err))
			}
			return
		}
		h(msg.Value())
	}, lift.StartAtLatestReceived())
}

// Teardown is called upon benchmark completion.
func (l *liftbridgeRequester) Teardown() error {
	if l.client == nil {
		return nil
	}
	for left := atomic.LoadInt64(&l.acksLeft); left > 0; left = atomic.LoadInt64(&l.acksLeft) {
		l.logger.Debug("waiting for acks", zap.Int64("left", left))
		time.Sleep(ackPollInterval)
	}
	l.cancel()
	err := l.client.Close()
	l.client = nil
	return err
}
