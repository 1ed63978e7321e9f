// Package kafkaconsumer applies invalidation events read from a Kafka topic.
package kafkaconsumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mohammed-shakir/places-cache/internal/invalidation"
)

// Handler applies one raw event payload.
type Handler interface {
	Handle(ctx context.Context, payload []byte) error
}

type Options struct {
	Logger   *slog.Logger
	Register prometheus.Registerer
	// Group overrides the consumer group, for tests.
	Group sarama.ConsumerGroup
}

type Consumer struct {
	cfg      Config
	log      *slog.Logger
	handler  Handler
	group    sarama.ConsumerGroup
	ms       *metricSet
	assigned atomic.Bool
	assignMu sync.RWMutex
	assign   map[int32]struct{}
	wg       sync.WaitGroup
	cancel   context.CancelFunc
	now      func() time.Time
}

func New(cfg Config, h Handler, opts Options) *Consumer {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 2 * time.Second
	}
	return &Consumer{
		cfg:     cfg,
		log:     opts.Logger,
		handler: h,
		group:   opts.Group,
		ms:      newMetricSet(opts.Register),
		assign:  map[int32]struct{}{},
		now:     time.Now,
	}
}

func (c *Consumer) saramaConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.ClientID = "places-cache"
	cfg.Consumer.Group.Session.Timeout = c.cfg.SessionTimeout
	cfg.Consumer.Group.Heartbeat.Interval = c.cfg.Heartbeat
	cfg.Consumer.Group.Rebalance.Timeout = c.cfg.RebalanceTimeout
	if c.cfg.InitialOffsetOldest {
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	cfg.Consumer.Return.Errors = true
	return cfg
}

// Start joins the group and consumes in the background until ctx is done
// or Stop is called.
func (c *Consumer) Start(ctx context.Context) error {
	if c.handler == nil {
		return errors.New("kafkaconsumer: handler is required")
	}
	group := c.group
	if group == nil {
		g, err := sarama.NewConsumerGroup(c.cfg.Brokers, c.cfg.GroupID, c.saramaConfig())
		if err != nil {
			return fmt.Errorf("consumer group: %w", err)
		}
		group = g
	}

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	h := &groupHandler{
		setup:   c.onAssign,
		cleanup: c.onRevoke,
		process: c.processOne,
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer func() {
			if err := group.Close(); err != nil {
				c.log.Error("kafka consumer group close", "err", err)
			}
		}()
		for {
			if err := group.Consume(ctx, []string{c.cfg.Topic}, h); err != nil {
				c.log.Error("kafka consume error", "err", err)
				select {
				case <-time.After(c.cfg.RetryBackoff):
				case <-ctx.Done():
					return
				}
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for err := range group.Errors() {
			c.log.Error("kafka group error", "err", err)
		}
	}()

	c.log.Info("kafka invalidation consumer started",
		"topic", c.cfg.Topic, "group", c.cfg.GroupID, "brokers", c.cfg.Brokers)
	return nil
}

func (c *Consumer) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	c.log.Info("kafka invalidation consumer stopped")
}

// Readiness reports whether the group currently owns any partitions.
func (c *Consumer) Readiness() (ready bool, partitions []int32) {
	if !c.assigned.Load() {
		return false, nil
	}
	c.assignMu.RLock()
	defer c.assignMu.RUnlock()
	for p := range c.assign {
		partitions = append(partitions, p)
	}
	return true, partitions
}

func (c *Consumer) onAssign(sess sarama.ConsumerGroupSession) {
	c.assignMu.Lock()
	defer c.assignMu.Unlock()
	c.assign = map[int32]struct{}{}
	for _, parts := range sess.Claims() {
		for _, p := range parts {
			c.assign[p] = struct{}{}
		}
	}
	c.assigned.Store(true)
}

func (c *Consumer) onRevoke(sarama.ConsumerGroupSession) {
	c.assignMu.Lock()
	defer c.assignMu.Unlock()
	c.assigned.Store(false)
	c.assign = map[int32]struct{}{}
}

// processOne skips malformed events so a poison message cannot stall the
// partition. Apply failures are returned and the offset is not marked.
func (c *Consumer) processOne(ctx context.Context, msg *sarama.ConsumerMessage) error {
	start := c.now()
	if !msg.Timestamp.IsZero() {
		c.ms.lagGauge.Set(start.Sub(msg.Timestamp).Seconds())
	}
	defer func() { c.ms.proc.Observe(time.Since(start).Seconds()) }()

	err := c.handler.Handle(ctx, msg.Value)
	switch {
	case err == nil:
		c.ms.msgs.WithLabelValues("ok").Inc()
		return nil
	case errors.Is(err, invalidation.ErrMalformed):
		c.ms.msgs.WithLabelValues("skipped").Inc()
		c.log.Warn("skipping malformed invalidation event",
			"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "err", err)
		return nil
	default:
		c.ms.msgs.WithLabelValues("error").Inc()
		return err
	}
}
