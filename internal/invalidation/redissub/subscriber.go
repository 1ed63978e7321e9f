// Package redissub applies invalidation events received on a Redis pub/sub
// channel.
package redissub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/redis/go-redis/v9"

	"github.com/mohammed-shakir/places-cache/internal/invalidation"
)

type Handler interface {
	Handle(ctx context.Context, payload []byte) error
}

type Subscriber struct {
	rdb     *redis.Client
	channel string
	handler Handler
	log     *slog.Logger

	ready  atomic.Bool
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(rdb *redis.Client, channel string, h Handler, log *slog.Logger) *Subscriber {
	if log == nil {
		log = slog.Default()
	}
	return &Subscriber{rdb: rdb, channel: channel, handler: h, log: log}
}

// Start subscribes and returns once Redis confirmed the subscription.
// Messages are applied in the background until ctx is done or Stop.
func (s *Subscriber) Start(ctx context.Context) error {
	if s.rdb == nil || s.handler == nil {
		return errors.New("redissub: client and handler are required")
	}
	ps := s.rdb.Subscribe(ctx, s.channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return fmt.Errorf("subscribe %s: %w", s.channel, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.ready.Store(true)

	ch := ps.Channel()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.ready.Store(false)
		defer func() { _ = ps.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					s.log.Warn("redis invalidation channel closed", "channel", s.channel)
					return
				}
				s.apply(ctx, msg)
			}
		}
	}()

	s.log.Info("redis invalidation subscriber started", "channel", s.channel)
	return nil
}

// Pub/sub has no redelivery, so failures are logged and dropped.
func (s *Subscriber) apply(ctx context.Context, msg *redis.Message) {
	err := s.handler.Handle(ctx, []byte(msg.Payload))
	switch {
	case err == nil:
	case errors.Is(err, invalidation.ErrMalformed):
		s.log.Warn("skipping malformed invalidation event", "channel", msg.Channel, "err", err)
	default:
		s.log.Error("invalidation apply failed", "channel", msg.Channel, "err", err)
	}
}

func (s *Subscriber) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.log.Info("redis invalidation subscriber stopped")
}

// Readiness is true while subscribed. Pub/sub has no partitions.
func (s *Subscriber) Readiness() (bool, []int32) {
	return s.ready.Load(), nil
}
