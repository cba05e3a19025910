package requester

import (
	"sync"

	"github.com/garyburd/redigo/redis"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	bench "github.com/ssd532/psbench"
)

// RedisRequesterFactory implements RequesterFactory by creating a Requester
// which publishes to and subscribes on Redis pub/sub channels.
type RedisRequesterFactory struct {
	URL      string
	Password string
	Logger   *zap.Logger
}

// GetRequester returns a new Requester, called for each connection.
func (r *RedisRequesterFactory) GetRequester(num uint64) bench.Requester {
	return &redisRequester{
		url:      r.URL,
		password: r.Password,
		logger:   r.Logger,
	}
}

// redisRequester implements Requester with one connection for PUBLISH and a
// second one in subscriber mode. Channels are the dotted keys.
type redisRequester struct {
	url      string
	password string
	logger   *zap.Logger
	pubMu    sync.Mutex
	pub      redis.Conn
	sub      redis.PubSubConn
	handlers sync.Map
	wg       sync.WaitGroup
}

func (r *redisRequester) dial() (redis.Conn, error) {
	var opts []redis.DialOption
	if r.password != "" {
		opts = append(opts, redis.DialPassword(r.password))
	}
	return redis.Dial("tcp", r.url, opts...)
}

// Setup prepares the Requester for benchmarking.
func (r *redisRequester) Setup() error {
	pub, err := r.dial()
	if err != nil {
		return errors.Wrapf(err, "dial %s", r.url)
	}
	sub, err := r.dial()
	if err != nil {
		pub.Close()
		return errors.Wrapf(err, "dial %s", r.url)
	}
	r.pub = pub
	r.sub = redis.PubSubConn{Conn: sub}
	r.wg.Add(1)
	go r.receive()
	return nil
}

func (r *redisRequester) receive() {
	defer r.wg.Done()
	for {
		switch v := r.sub.Receive().(type) {
		case redis.Message:
			if h, ok := r.handlers.Load(v.Channel); ok {
				h.(bench.Handler)(v.Data)
			}
		case redis.Subscription:
			r.logger.Debug("subscription changed", zap.String("kind", v.Kind), zap.String("channel", v.Channel))
		case error:
			// Closing the connection in Teardown ends the loop.
			r.logger.Debug("receive loop stopped", zap.Error(v))
			return
		}
	}
}

func (r *redisRequester) Publish(key string, payload []byte) error {
	r.pubMu.Lock()
	defer r.pubMu.Unlock()
	_, err := r.pub.Do("PUBLISH", bench.DottedKey(key), payload)
	return err
}

func (r *redisRequester) Subscribe(key string, h bench.Handler) error {
	channel := bench.DottedKey(key)
	r.handlers.Store(channel, h)
	return r.sub.Subscribe(channel)
}

// Teardown is called upon benchmark completion.
func (r *redisRequester) Teardown() error {
	if r.pub == nil {
		return nil
	}
	// Unsubscribe is best effort; the connection is closed either way.
	if err := r.sub.Unsubscribe(); err != nil {
		r.logger.Debug("unsubscribe failed", zap.Error(err))
	}
	err := r.sub.Close()
	r.wg.Wait()
	if perr := r.pub.Close(); err == nil {
		err = perr
	}
	r.pub = nil
	r.handlers.Range(func(k, _ any) bool {
		r.handlers.Delete(k)
		return true
	})
	return err
}
