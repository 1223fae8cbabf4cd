package kafkaconsumer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/IBM/sarama"

	"github.com/mohammed-shakir/hotspot-cache/internal/core/config"
	"github.com/mohammed-shakir/hotspot-cache/internal/invalidation"
	"github.com/mohammed-shakir/hotspot-cache/internal/logger"
	"github.com/mohammed-shakir/hotspot-cache/internal/metrics"
)

type fakeCache struct {
	failFirst atomic.Bool
	clears    atomic.Int64
}

func (f *fakeCache) ClearCache(context.Context) error {
	if f.failFirst.Load() {
		f.failFirst.Store(false)
		return errors.New("boom")
	}
	f.clears.Add(1)
	return nil
}

type sess struct {
	ctx    context.Context
	mu     sync.Mutex
	marked []int64
}

func (s *sess) Claims() map[string][]int32 { return nil }
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
func (s *sess) Commit()                                          {}

type claim struct {
	part int32
	msgs chan *sarama.ConsumerMessage
}

func (c *claim) Topic() string                            { return "hotspot-invalidation" }
func (c *claim) Partition() int32                         { return c.part }
func (c *claim) InitialOffset() int64                     { return 0 }
func (c *claim) HighWaterMarkOffset() int64               { return 0 }
func (c *claim) Messages() <-chan *sarama.ConsumerMessage { return c.msgs }

func clearEvent() []byte {
	b, _ := json.Marshal(invalidation.Event{Version: 1, Op: invalidation.OpClear, TS: time.Now().UTC(), Source: "test"})
	return b
}

func newConsumerForTest(fc Clearer) *Consumer {
	return New(Config{Brokers: []string{"x"}, Topic: "hotspot-invalidation", GroupID: "g"}, logger.Discard(), fc)
}

func TestSinglePartition_OrderAndCommitAfterWork(t *testing.T) {
	fc := &fakeCache{}
	c := newConsumerForTest(fc)

	g := c.handler()
	s := &sess{ctx: t.Context()}
	ch := make(chan *sarama.ConsumerMessage, 2)
	ch <- &sarama.ConsumerMessage{Topic: "hotspot-invalidation", Offset: 10, Value: clearEvent()}
	ch <- &sarama.ConsumerMessage{Topic: "hotspot-invalidation", Offset: 11, Value: clearEvent()}
	close(ch)

	if err := g.ConsumeClaim(s, &claim{msgs: ch}); err != nil {
		t.Fatalf("ConsumeClaim: %v", err)
	}
	if len(s.marked) != 2 || s.marked[0] != 10 || s.marked[1] != 11 {
		t.Fatalf("marked offsets=%v want [10 11]", s.marked)
	}
	if fc.clears.Load() != 2 {
		t.Fatalf("clears=%d want 2", fc.clears.Load())
	}
}

func TestConsumeClaim_ExportsMarkedOffset(t *testing.T) {
	p := metrics.Init(metrics.Config{})
	c := newConsumerForTest(&fakeCache{})

	s := &sess{ctx: t.Context()}
	ch := make(chan *sarama.ConsumerMessage, 1)
	ch <- &sarama.ConsumerMessage{Topic: "hotspot-invalidation", Partition: 4, Offset: 91, Value: clearEvent()}
	close(ch)

	if err := c.handler().ConsumeClaim(s, &claim{part: 4, msgs: ch}); err != nil {
		t.Fatalf("ConsumeClaim: %v", err)
	}

	rr := httptest.NewRecorder()
	p.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	want := `invalidation_marked_offset{partition="4",topic="hotspot-invalidation"} 91`
	if !strings.Contains(rr.Body.String(), want) {
		t.Fatalf("missing %s in:\n%s", want, rr.Body.String())
	}
}

func TestConsumeClaim_FailedClearLeavesOffsetUnmarked(t *testing.T) {
	fc := &fakeCache{}
	fc.failFirst.Store(true)
	c := newConsumerForTest(fc)

	s := &sess{ctx: t.Context()}
	ch := make(chan *sarama.ConsumerMessage, 1)
	ch <- &sarama.ConsumerMessage{Topic: "hotspot-invalidation", Offset: 3, Value: clearEvent()}

	if err := c.handler().ConsumeClaim(s, &claim{msgs: ch}); err == nil {
		t.Fatalf("expected error from failed clear")
	}
	if len(s.marked) != 0 {
		t.Fatalf("marked=%v want none", s.marked)
	}
}

func TestRetry_CommitOnceAfterSuccess(t *testing.T) {
	fc := &fakeCache{}
	fc.failFirst.Store(true)
	c := newConsumerForTest(fc)
	ctx := context.Background()

	msg := &sarama.ConsumerMessage{Topic: "hotspot-invalidation", Offset: 5, Value: clearEvent()}
	s := &sess{ctx: ctx}
	g := c.handler()

	ch := make(chan *sarama.ConsumerMessage, 1)
	ch <- msg
	close(ch)
	if err := g.ConsumeClaim(s, &claim{msgs: ch}); err == nil {
		t.Fatalf("expected error on first attempt")
	}
	if len(s.marked) != 0 {
		t.Fatalf("failed message must not be marked; marked=%v", s.marked)
	}

	ch = make(chan *sarama.ConsumerMessage, 1)
	ch <- msg
	close(ch)
	if err := g.ConsumeClaim(s, &claim{msgs: ch}); err != nil {
		t.Fatalf("ConsumeClaim second attempt: %v", err)
	}
	if len(s.marked) != 1 || s.marked[0] != 5 {
		t.Fatalf("offset was not marked after success; marked=%v", s.marked)
	}
}

func TestMalformedAndInvalidEventsAreSkipped(t *testing.T) {
	fc := &fakeCache{}
	c := newConsumerForTest(fc)
	g := c.handler()
	s := &sess{ctx: t.Context()}

	bad, _ := json.Marshal(invalidation.Event{Version: 1, Op: "update", TS: time.Now()})
	ch := make(chan *sarama.ConsumerMessage, 3)
	ch <- &sarama.ConsumerMessage{Offset: 1, Value: []byte("{not json")}
	ch <- &sarama.ConsumerMessage{Offset: 2, Value: bad}
	ch <- &sarama.ConsumerMessage{Offset: 3, Value: clearEvent()}
	close(ch)

	if err := g.ConsumeClaim(s, &claim{msgs: ch}); err != nil {
		t.Fatalf("ConsumeClaim: %v", err)
	}
	if len(s.marked) != 3 {
		t.Fatalf("skipped events must still be marked; marked=%v", s.marked)
	}
	if fc.clears.Load() != 1 {
		t.Fatalf("clears=%d want 1", fc.clears.Load())
	}
}

func TestMultiPartition_Parallel_NoCrossOrdering(t *testing.T) {
	fc := &fakeCache{}
	c := newConsumerForTest(fc)
	g := c.handler()
	s := &sess{ctx: t.Context()}

	p0 := make(chan *sarama.ConsumerMessage, 2)
	p1 := make(chan *sarama.ConsumerMessage, 2)
	p0 <- &sarama.ConsumerMessage{Partition: 0, Offset: 1, Value: clearEvent()}
	p0 <- &sarama.ConsumerMessage{Partition: 0, Offset: 2, Value: clearEvent()}
	p1 <- &sarama.ConsumerMessage{Partition: 1, Offset: 1, Value: clearEvent()}
	p1 <- &sarama.ConsumerMessage{Partition: 1, Offset: 2, Value: clearEvent()}
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

func TestConfigFrom(t *testing.T) {
	cfg := ConfigFrom(config.InvalidationCfg{Topic: "t", Brokers: "a:9092, b:9092", GroupID: "g"})
	if len(cfg.Brokers) != 2 || cfg.Topic != "t" || cfg.GroupID != "g" || cfg.SessionTimeout == 0 {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

func TestStart_RequiresCache(t *testing.T) {
	c := New(Config{}, nil, nil)
	if err := c.Start(context.Background()); err == nil {
		t.Fatalf("expected error without cache")
	}
}
