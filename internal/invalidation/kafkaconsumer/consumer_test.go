package kafkaconsumer

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/mohammed-shakir/places-cache/internal/invalidation"
)

type fakeHandler struct {
	failFirst atomic.Bool
	mu        sync.Mutex
	seen      [][]byte
}

func (f *fakeHandler) Handle(_ context.Context, payload []byte) error {
	if !json.Valid(payload) {
		return invalidation.ErrMalformed
	}
	f.mu.Lock()
	f.seen = append(f.seen, payload)
	f.mu.Unlock()
	if f.failFirst.Load() {
		f.failFirst.Store(false)
		return errors.New("boom")
	}
	return nil
}

func (f *fakeHandler) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.seen)
}

type sess struct {
	ctx    context.Context
	claims map[string][]int32
	mu     sync.Mutex
	marked []int64
}

func (s *sess) Claims() map[string][]int32 { return s.claims }
func (s *sess) MemberID() string           { return "" }
func (s *sess) GenerationID() int32        { return 0 }
func (s *sess) MarkMessage(m *sarama.ConsumerMessage, _ string) {
	s.mu.Lock()
	s.marked = append(s.marked, m.Offset)
	s.mu.Unlock()
}
func (s *sess) ResetOffset(_ string, _ int32, _ int64, _ string) {}
func (s *sess) MarkOffset(_ string, _ int32, _ int64, _ string)  {}
func (s *sess) Context() context.Context                         { return s.ctx }
func (s *sess) Errors() <-chan error                             { return nil }
func (s *sess) Commit()                                          {}

type claim struct {
	part int32
	msgs chan *sarama.ConsumerMessage
}

func (c *claim) Topic() string                            { return "places-cache-invalidation" }
func (c *claim) Partition() int32                         { return c.part }
func (c *claim) InitialOffset() int64                     { return 0 }
func (c *claim) HighWaterMarkOffset() int64               { return 0 }
func (c *claim) Messages() <-chan *sarama.ConsumerMessage { return c.msgs }

// fakeGroup runs one session over msgs and then waits for cancellation.
type fakeGroup struct {
	msgs   chan *sarama.ConsumerMessage
	errs   chan error
	closed atomic.Bool
	sess   *sess
}

func (g *fakeGroup) Consume(ctx context.Context, topics []string, h sarama.ConsumerGroupHandler) error {
	g.sess = &sess{ctx: ctx, claims: map[string][]int32{topics[0]: {0, 3}}}
	if err := h.Setup(g.sess); err != nil {
		return err
	}
	err := h.ConsumeClaim(g.sess, &claim{part: 0, msgs: g.msgs})
	<-ctx.Done()
	_ = h.Cleanup(g.sess)
	return err
}
func (g *fakeGroup) Errors() <-chan error { return g.errs }
func (g *fakeGroup) Close() error {
	if g.closed.CompareAndSwap(false, true) {
		close(g.errs)
	}
	return nil
}
func (g *fakeGroup) Pause(map[string][]int32)  {}
func (g *fakeGroup) Resume(map[string][]int32) {}
func (g *fakeGroup) PauseAll()                 {}
func (g *fakeGroup) ResumeAll()                {}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newConsumerForTest(h Handler) *Consumer {
	cfg := DefaultConfig([]string{"x"}, "places-cache-invalidation", "g")
	return New(cfg, h, Options{Logger: quietLogger()})
}

func msg(off int64, v string) *sarama.ConsumerMessage {
	return &sarama.ConsumerMessage{Topic: "places-cache-invalidation", Partition: 0, Offset: off, Value: []byte(v)}
}

func TestSinglePartition_OrderAndCommitAfterWork(t *testing.T) {
	fh := &fakeHandler{}
	c := newConsumerForTest(fh)

	g := &groupHandler{process: c.processOne}
	s := &sess{ctx: t.Context()}
	ch := make(chan *sarama.ConsumerMessage, 2)
	ch <- msg(10, `{"op":"clear"}`)
	ch <- msg(11, `{"op":"cleanup"}`)
	close(ch)

	if err := g.ConsumeClaim(s, &claim{part: 0, msgs: ch}); err != nil {
		t.Fatalf("ConsumeClaim: %v", err)
	}
	if len(s.marked) != 2 || s.marked[0] != 10 || s.marked[1] != 11 {
		t.Fatalf("marked offsets=%v want [10 11]", s.marked)
	}
	if string(fh.seen[0]) != `{"op":"clear"}` {
		t.Fatalf("first payload=%s", fh.seen[0])
	}
}

func TestRetry_CommitOnceAfterSuccess(t *testing.T) {
	fh := &fakeHandler{}
	fh.failFirst.Store(true)
	c := newConsumerForTest(fh)
	ctx := context.Background()

	m := msg(5, `{"op":"clear"}`)
	if err := c.processOne(ctx, m); err == nil {
		t.Fatalf("expected error on first attempt")
	}

	s := &sess{ctx: ctx}
	g := &groupHandler{process: c.processOne}
	ch := make(chan *sarama.ConsumerMessage, 1)
	ch <- m
	close(ch)
	if err := g.ConsumeClaim(s, &claim{part: 0, msgs: ch}); err != nil {
		t.Fatalf("ConsumeClaim second attempt: %v", err)
	}
	if len(s.marked) != 1 || s.marked[0] != 5 {
		t.Fatalf("offset was not marked after success; marked=%v", s.marked)
	}
}

func TestFailure_StopsClaimWithoutMarking(t *testing.T) {
	fh := &fakeHandler{}
	fh.failFirst.Store(true)
	c := newConsumerForTest(fh)
	s := &sess{ctx: t.Context()}
	ch := make(chan *sarama.ConsumerMessage, 2)
	ch <- msg(1, `{}`)
	ch <- msg(2, `{}`)
	close(ch)

	if err := (&groupHandler{process: c.processOne}).ConsumeClaim(s, &claim{msgs: ch}); err == nil {
		t.Fatalf("expected error")
	}
	if len(s.marked) != 0 {
		t.Fatalf("marked=%v want none", s.marked)
	}
}

func TestMalformed_IsSkippedAndMarked(t *testing.T) {
	fh := &fakeHandler{}
	reg := prometheus.NewRegistry()
	c := New(DefaultConfig(nil, "t", "g"), fh, Options{Logger: quietLogger(), Register: reg})

	s := &sess{ctx: t.Context()}
	ch := make(chan *sarama.ConsumerMessage, 2)
	ch <- msg(1, `garbage`)
	ch <- msg(2, `{"op":"clear"}`)
	close(ch)

	if err := (&groupHandler{process: c.processOne}).ConsumeClaim(s, &claim{msgs: ch}); err != nil {
		t.Fatalf("ConsumeClaim: %v", err)
	}
	if len(s.marked) != 2 {
		t.Fatalf("marked=%v want both offsets", s.marked)
	}
	if got := testutil.ToFloat64(c.ms.msgs.WithLabelValues("skipped")); got != 1 {
		t.Fatalf("skipped=%v want 1", got)
	}
	if got := testutil.ToFloat64(c.ms.msgs.WithLabelValues("ok")); got != 1 {
		t.Fatalf("ok=%v want 1", got)
	}
}

func TestMultiPartition_Parallel_NoCrossOrdering(t *testing.T) {
	fh := &fakeHandler{}
	c := newConsumerForTest(fh)
	g := &groupHandler{process: c.processOne}
	s := &sess{ctx: t.Context()}

	p0 := make(chan *sarama.ConsumerMessage, 2)
	p1 := make(chan *sarama.ConsumerMessage, 2)
	p0 <- &sarama.ConsumerMessage{Topic: "t", Partition: 0, Offset: 1, Value: []byte(`{}`)}
	p0 <- &sarama.ConsumerMessage{Topic: "t", Partition: 0, Offset: 2, Value: []byte(`{}`)}
	p1 <- &sarama.ConsumerMessage{Topic: "t", Partition: 1, Offset: 1, Value: []byte(`{}`)}
	p1 <- &sarama.ConsumerMessage{Topic: "t", Partition: 1, Offset: 2, Value: []byte(`{}`)}
	close(p0)
	close(p1)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); _ = g.ConsumeClaim(s, &claim{part: 0, msgs: p0}) }()
	go func() { defer wg.Done(); _ = g.ConsumeClaim(s, &claim{part: 1, msgs: p1}) }()
	wg.Wait()

	if len(s.marked) != 4 {
		t.Fatalf("expected 4 marks total; got %v", s.marked)
	}
}

func TestStartStop_ReadinessFollowsAssignment(t *testing.T) {
	fh := &fakeHandler{}
	fg := &fakeGroup{msgs: make(chan *sarama.ConsumerMessage, 1), errs: make(chan error)}
	c := New(DefaultConfig([]string{"x"}, "topic", "g"), fh, Options{Logger: quietLogger(), Group: fg})

	if ready, _ := c.Readiness(); ready {
		t.Fatalf("ready before start")
	}
	if err := c.Start(t.Context()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	fg.msgs <- msg(1, `{"op":"clear"}`)

	deadline := time.Now().Add(2 * time.Second)
	for fh.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if fh.count() != 1 {
		t.Fatalf("handler not called")
	}
	ready, parts := c.Readiness()
	if !ready || len(parts) != 2 {
		t.Fatalf("Readiness=%v,%v", ready, parts)
	}

	c.Stop()
	if ready, _ := c.Readiness(); ready {
		t.Fatalf("ready after stop")
	}
	if !fg.closed.Load() {
		t.Fatalf("group not closed")
	}
}

func TestStart_RequiresHandler(t *testing.T) {
	c := New(DefaultConfig(nil, "t", "g"), nil, Options{Logger: quietLogger()})
	if err := c.Start(t.Context()); err == nil {
		t.Fatalf("expected error")
	}
}
