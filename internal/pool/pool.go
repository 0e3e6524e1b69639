// Package pool implements the Agent-side connection pool: a set of
// prewarmed, already-handshaken sessions to the Proxy, consumed
// one-at-a-time and never reused after serving a stream.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/jbsouthe/relaymesh/internal/session"
	"github.com/jbsouthe/relaymesh/internal/streamio"
	"github.com/jbsouthe/relaymesh/internal/wire"
)

// maxConcurrentHandshakes bounds how many refill handshakes run at once,
// so a burst of demand can't open unbounded connections to the Proxy.
const maxConcurrentHandshakes = 10

// refillInterval is the periodic wake in addition to edge-triggered notify.
const refillInterval = 5 * time.Second

// ErrNoConnection is returned when a connection could not be obtained, either
// from the pool or by dialing inline.
var ErrNoConnection = errors.New("pool: unable to obtain a connection")

// Handshaker produces one fully handshaken Session, dialing and
// authenticating to the Proxy from scratch. internal/session.AgentHandshake
// wired to a dialer satisfies this.
type Handshaker func(ctx context.Context) (*session.Session, error)

// Pool holds prewarmed Sessions up to hardCap and keeps itself topped up to
// target in the background. Connections are consumed on take; once a Stream
// is obtained from one, that Session is gone and never returns to the pool.
type Pool struct {
	target  int
	hardCap int

	handshake Handshaker
	logger    zerolog.Logger

	mu    sync.Mutex
	items []*session.Session

	available atomic.Int64
	notify    chan struct{}
	sem       *semaphore.Weighted
}

// New constructs a Pool targeting target idle connections with a hard cap of
// hardCap (typically around 1.5x target). It does not start the background
// refill loop or prewarm; call Start for that.
func New(target, hardCap int, handshake Handshaker, logger zerolog.Logger) *Pool {
	if hardCap < target {
		hardCap = target
	}
	return &Pool{
		target:    target,
		hardCap:   hardCap,
		handshake: handshake,
		logger:    logger.With().Str("component", "pool").Logger(),
		items:     make([]*session.Session, 0, hardCap),
		notify:    make(chan struct{}, 1),
		sem:       semaphore.NewWeighted(maxConcurrentHandshakes),
	}
}

// Start launches the background refill loop and prewarms the pool with up to
// target connections, tolerating partial success.
func (p *Pool) Start(ctx context.Context) {
	p.prewarm(ctx)
	go p.refillLoop(ctx)
}

// Available reports the advisory count of idle connections. It is exact
// immediately after a deposit or take but may lag the pool's true state
// under concurrent use; callers should not depend on it for correctness.
func (p *Pool) Available() int64 {
	return p.available.Load()
}

func (p *Pool) prewarm(ctx context.Context) {
	var wg sync.WaitGroup
	var ok atomic.Int64
	for i := 0; i < p.target; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sess, err := p.handshake(ctx)
			if err != nil {
				p.logger.Warn().Err(err).Msg("prewarm handshake failed")
				return
			}
			if p.deposit(sess) {
				ok.Add(1)
			}
		}()
	}
	wg.Wait()
	p.logger.Info().Int64("count", ok.Load()).Int("target", p.target).Msg("pool prewarmed")
}

// deposit adds sess to the pool if there is room under hardCap. It reports
// whether the deposit succeeded; on failure the caller owns sess and must
// close it.
func (p *Pool) deposit(sess *session.Session) bool {
	p.mu.Lock()
	if len(p.items) >= p.hardCap {
		p.mu.Unlock()
		return false
	}
	p.items = append(p.items, sess)
	p.mu.Unlock()
	p.available.Add(1)
	return true
}

// take removes and returns one idle Session, or nil if the pool is empty.
func (p *Pool) take() *session.Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.items)
	if n == 0 {
		return nil
	}
	sess := p.items[n-1]
	p.items = p.items[:n-1]
	p.available.Add(-1)
	return sess
}

// requestRefill signals the refill loop, coalescing bursts: if a
// notification is already pending, this is a no-op.
func (p *Pool) requestRefill() {
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

// Obtain takes an idle connection if one exists, otherwise dials one inline;
// it sends the ConnectRequest and waits for the response, returning a
// byte-duplex Stream on success.
func (p *Pool) Obtain(ctx context.Context, target wire.Address, transport wire.Transport) (*streamio.Stream, error) {
	p.requestRefill()

	sess := p.take()
	if sess == nil {
		s, err := p.handshake(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNoConnection, err)
		}
		sess = s
	}

	streamID := newStreamID()
	if err := sess.Codec.Send(wire.ConnectRequest{
		RequestID: streamID,
		Address:   target,
		Transport: transport,
	}); err != nil {
		return nil, fmt.Errorf("pool: send ConnectRequest: %w", err)
	}

	msg, err := sess.Codec.Recv()
	if err != nil {
		return nil, fmt.Errorf("pool: recv ConnectResponse: %w", err)
	}
	resp, ok := msg.(wire.ConnectResponse)
	if !ok {
		return nil, fmt.Errorf("pool: unexpected message %T, want ConnectResponse", msg)
	}
	if !resp.Success {
		return nil, fmt.Errorf("pool: proxy rejected connect: %s", resp.Message)
	}

	return streamio.New(sess.Codec, streamID), nil
}

var requestCounter atomic.Int64

// newStreamID produces a "<unix-seconds>-<atomic-counter>" request id, unique
// within this process and monotonically increasing.
func newStreamID() string {
	return fmt.Sprintf("%d-%d", time.Now().Unix(), requestCounter.Add(1))
}
