package pool

import (
	"context"
	"sync"
	"time"
)

// refillLoop waits for either an edge-triggered notification or the periodic
// tick, computes the deficit against target, and spawns up to
// maxConcurrentHandshakes concurrent handshakes to close it. A handshake
// failure is logged and does not slow the loop down; a single slow or dead
// peer must not stall refilling for everyone else.
func (p *Pool) refillLoop(ctx context.Context) {
	ticker := time.NewTicker(refillInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.notify:
		case <-ticker.C:
		}
		p.refillOnce(ctx)
	}
}

func (p *Pool) refillOnce(ctx context.Context) {
	deficit := p.target - int(p.available.Load())
	if deficit <= 0 {
		return
	}
	toCreate := deficit
	if toCreate > maxConcurrentHandshakes {
		toCreate = maxConcurrentHandshakes
	}

	var wg sync.WaitGroup
	for i := 0; i < toCreate; i++ {
		if err := p.sem.Acquire(ctx, 1); err != nil {
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer p.sem.Release(1)

			sess, err := p.handshake(ctx)
			if err != nil {
				p.logger.Warn().Err(err).Msg("refill handshake failed")
				return
			}
			if !p.deposit(sess) {
				p.logger.Debug().Msg("pool full, dropping extra refill connection")
				sess.Codec.Close()
			}
		}()
	}
	wg.Wait()
}
