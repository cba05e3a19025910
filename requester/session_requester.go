package requester

import (
	"context"
	"sync"

	"go.uber.org/zap"

	bench "github.com/ssd532/psbench"
	"github.com/ssd532/psbench/session"
)

// SessionRequesterFactory implements RequesterFactory on the native session
// protocol. A client dials Locator. With Listen set the requester accepts
// sessions on Locator instead and publishes to the first one accepted.
type SessionRequesterFactory struct {
	Locator session.Locator
	Config  session.Config
	Listen  bool
}

// GetRequester returns a new Requester, called for each connection.
func (s *SessionRequesterFactory) GetRequester(num uint64) bench.Requester {
	return &sessionRequester{
		locator: s.Locator,
		config:  s.Config,
		listen:  s.Listen,
		logger:  orNop(s.Config.Logger),
	}
}

func orNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}

// sessionRequester implements Requester over one session. Subscriptions are
// local: every frame the session delivers is dispatched by its key.
type sessionRequester struct {
	locator session.Locator
	config  session.Config
	listen  bool
	logger  *zap.Logger

	handlers sync.Map

	// peer is bound once, to the dialed session or the first accepted one.
	peer *bench.Cell[*session.Session]

	mu       sync.Mutex
	sessions []*session.Session
	listener *session.Listener
	cancel   context.CancelFunc
	served   chan error
}

func (r *sessionRequester) onFrame(_ *session.Session, f *session.Frame) {
	if h, ok := r.handlers.Load(f.Key); ok {
		h.(bench.Handler)(f.Payload)
	}
}

func (r *sessionRequester) track(s *session.Session) {
	r.mu.Lock()
	r.sessions = append(r.sessions, s)
	r.mu.Unlock()
	if err := r.peer.Set(s); err != nil {
		r.logger.Info("extra session accepted, replies go to the first one",
			zap.Stringer("remote", s.Remote().PeerID))
	}
}

// Setup prepares the Requester for benchmarking.
func (r *sessionRequester) Setup() error {
	r.peer = new(bench.Cell[*session.Session])
	if r.listen {
		return r.setupListener()
	}
	s, err := session.Dial(context.Background(), r.locator, r.config)
	if err != nil {
		return err
	}
	r.track(s)
	s.Start(r.onFrame)
	return nil
}

func (r *sessionRequester) setupListener() error {
	ln, err := session.Listen(r.locator, r.config)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.listener = ln
	r.cancel = cancel
	r.served = make(chan error, 1)
	go func() {
		r.served <- ln.Serve(ctx, r.onFrame, r.track)
	}()
	r.logger.Info("waiting for sessions", zap.Stringer("locator", ln.Locator()))
	return nil
}

// Publish sends payload to the bound session. In listen mode it fails with
// bench.ErrUnbound until a session has been accepted.
func (r *sessionRequester) Publish(key string, payload []byte) error {
	s, err := r.peer.Get()
	if err != nil {
		return err
	}
	return s.Publish(key, payload)
}

func (r *sessionRequester) Subscribe(key string, h bench.Handler) error {
	r.handlers.Store(key, h)
	return nil
}

// Teardown is called upon benchmark completion.
func (r *sessionRequester) Teardown() error {
	var err error
	if r.cancel != nil {
		r.cancel()
		err = <-r.served
		r.cancel = nil
		r.listener = nil
	}
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = nil
	r.mu.Unlock()
	for _, s := range sessions {
		_ = s.Close()
		<-s.Done()
	}
	r.handlers.Range(func(k, _ any) bool {
		r.handlers.Delete(k)
		return true
	})
	return err
}
