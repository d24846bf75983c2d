// SPDX-License-Identifier: MIT

package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/klangwald/aircap/internal/log"
	"github.com/klangwald/aircap/internal/metrics"
)

// MemoryBus is an in-process pub/sub. Delivery is at-least-once while the
// publish context remains active; it is not durable.
type MemoryBus struct {
	mu   sync.RWMutex
	subs map[string][]*memSub
}

const dropLogEvery = 100

var dropCount atomic.Uint64

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[string][]*memSub)}
}

func dropReason(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "context_done"
	}
}

func (b *MemoryBus) Publish(ctx context.Context, topic string, msg Message) error {
	if ctx == nil {
		return fmt.Errorf("publish context is nil")
	}
	// Registering in-flight sends under the lock pairs with Close, which
	// drains them before closing the subscriber channel.
	b.mu.RLock()
	subs := append([]*memSub(nil), b.subs[topic]...)
	for _, s := range subs {
		s.pending.Add(1)
	}
	b.mu.RUnlock()

	for i, s := range subs {
		select {
		case s.ch <- msg:
		case <-s.done:
			// Subscriber went away mid-publish; drop silently.
		case <-ctx.Done():
			for _, rest := range subs[i:] {
				rest.pending.Done()
			}
			reason := dropReason(ctx.Err())
			metrics.IncBusDropped(topic, reason)
			count := dropCount.Add(1)
			if count%dropLogEvery == 0 {
				logger := log.L()
				logger.Warn().
					Str("topic", topic).
					Str("reason", reason).
					Uint64("dropped", count).
					Msg("memory bus failed to publish due to context cancellation")
			}
			return fmt.Errorf("publish topic %q: %w", topic, ctx.Err())
		}
		s.pending.Done()
	}
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context, topic string) (Subscriber, error) {
	s := &memSub{
		b:     b,
		topic: topic,
		ch:    make(chan Message, 64),
		done:  make(chan struct{}),
	}

	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], s)
	b.mu.Unlock()

	return s, nil
}

type memSub struct {
	b     *MemoryBus
	topic string
	ch    chan Message

	// done unblocks publishers stuck sending to this subscriber; pending
	// counts their in-flight sends so Close can wait them out before the
	// channel is closed.
	done    chan struct{}
	pending sync.WaitGroup
	once    sync.Once
}

func (s *memSub) C() <-chan Message {
	return s.ch
}

func (s *memSub) Close() error {
	s.once.Do(func() {
		s.b.mu.Lock()
		lst := s.b.subs[s.topic]
		out := lst[:0]
		for _, c := range lst {
			if c != s {
				out = append(out, c)
			}
		}
		if len(out) == 0 {
			delete(s.b.subs, s.topic)
		} else {
			s.b.subs[s.topic] = out
		}
		s.b.mu.Unlock()

		close(s.done)
		s.pending.Wait()
		close(s.ch)
	})
	return nil
}

var _ Bus = (*MemoryBus)(nil)
