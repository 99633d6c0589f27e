package kafka

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/session-tracker/internal/config"
	"github.com/session-tracker/internal/domain"
	. "github.com/smartystreets/goconvey/convey"
)

type fakeHandler struct {
	mu      sync.Mutex
	bodies  []string
	sources []string
	results map[string][]error
}

func (h *fakeHandler) SubmitSession(_ context.Context, body []byte, source string) (domain.MergeResult, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.bodies = append(h.bodies, string(body))
	h.sources = append(h.sources, source)

	queue := h.results[string(body)]
	if len(queue) == 0 {
		return domain.MergeResult{SessionID: string(body)}, nil
	}
	err := queue[0]
	h.results[string(body)] = queue[1:]
	return domain.MergeResult{}, err
}

func (h *fakeHandler) calls() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.bodies...)
}

type fakeSession struct {
	ctx    context.Context
	mu     sync.Mutex
	marked []int64
}

func (s *fakeSession) Claims() map[string][]int32 { return nil }
func (s *fakeSession) MemberID() string { return "member" }
func (s *fakeSession) GenerationID() int32 { return 1 }
func (s *fakeSession) MarkOffset(string, int32, int64, string) {}
func (s *fakeSession) Commit() {}
func (s *fakeSession) ResetOffset(string, int32, int64, string) {}
func (s *fakeSession) Context() context.Context { return s.ctx }
func (s *fakeSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marked = append(s.marked, msg.Offset)
}

func (s *fakeSession) markedOffsets() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.marked...)
}

type fakeClaim struct {
	messages chan *sarama.ConsumerMessage
}

func (c *fakeClaim) Topic() string { return "game-sessions" }
func (c *fakeClaim) Partition() int32 { return 0 }
func (c *fakeClaim) InitialOffset() int64 { return 0 }
func (c *fakeClaim) HighWaterMarkOffset() int64 { return 0 }
func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.messages }

func message(offset int64, body string) *sarama.ConsumerMessage {
	return &sarama.ConsumerMessage{Topic: "game-sessions", Offset: offset, Value: []byte(body)}
}

func TestConsumeClaim(t *testing.T) {
	Convey("Given a consumer group handler", t, func() {
		handler := &fakeHandler{results: map[string][]error{}}
		h := &consumerGroupHandler{
			config:  &config.KafkaConfig{BatchSize: 2, BatchTimeout: time.Hour},
			handler: handler,
			logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
			ready:   make(chan bool),
		}
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		session := &fakeSession{ctx: ctx}
		claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage, 10)}

		Convey("When messages arrive and the claim ends", func() {
			claim.messages <- message(0, "a")
			claim.messages <- message(1, "b")
			claim.messages <- message(2, "c")
			close(claim.messages)

			So(h.ConsumeClaim(session, claim), ShouldBeNil)

			Convey("Then every message is merged in order and marked", func() {
				So(handler.calls(), ShouldResemble, []string{"a", "b", "c"})
				So(handler.sources[0], ShouldEqual, "kafka")
				So(session.markedOffsets(), ShouldResemble, []int64{0, 1, 2})
			})
		})

		Convey("When a message is invalid", func() {
			handler.results["bad"] = []error{domain.NewValidationError()}
			claim.messages <- message(0, "bad")
			claim.messages <- message(1, "good")
			close(claim.messages)

			So(h.ConsumeClaim(session, claim), ShouldBeNil)

			Convey("Then it is skipped without retry and still committed", func() {
				So(handler.calls(), ShouldResemble, []string{"bad", "good"})
				So(session.markedOffsets(), ShouldResemble, []int64{0, 1})
			})
		})

		Convey("When a merge fails with a persistence error", func() {
			handler.results["broken"] = []error{&domain.PersistenceError{Op: "merging", Err: io.ErrUnexpectedEOF}}
			claim.messages <- message(0, "broken")
			claim.messages <- message(1, "next")
			close(claim.messages)

			So(h.ConsumeClaim(session, claim), ShouldBeNil)

			Convey("Then it is not retried and later messages still go through", func() {
				So(handler.calls(), ShouldResemble, []string{"broken", "next"})
				So(session.markedOffsets(), ShouldResemble, []int64{0, 1})
			})
		})

		Convey("When the session ends with a partial batch", func() {
			done := make(chan error, 1)
			go func() { done <- h.ConsumeClaim(session, claim) }()

			claim.messages <- message(7, "pending")
			time.Sleep(50 * time.Millisecond)
			cancel()

			Convey("Then the partial batch is flushed before returning", func() {
				So(<-done, ShouldBeNil)
				So(handler.calls(), ShouldResemble, []string{"pending"})
				So(session.markedOffsets(), ShouldResemble, []int64{7})
			})
		})
	})
}

func TestBatchTimeout(t *testing.T) {
	Convey("Given a handler with a short batch timeout", t, func() {
		handler := &fakeHandler{results: map[string][]error{}}
		h := &consumerGroupHandler{
			config:  &config.KafkaConfig{BatchSize: 100, BatchTimeout: 20 * time.Millisecond},
			handler: handler,
			logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		}
		ctx, cancel := context.WithCancel(context.Background())
		session := &fakeSession{ctx: ctx}
		claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage, 1)}

		done := make(chan error, 1)
		go func() { done <- h.ConsumeClaim(session, claim) }()
		claim.messages <- message(3, "slow")

		Convey("A batch below the size limit is flushed when the timer fires", func() {
			deadline := time.Now().Add(2 * time.Second)
			for len(session.markedOffsets()) == 0 && time.Now().Before(deadline) {
				time.Sleep(5 * time.Millisecond)
			}
			So(session.markedOffsets(), ShouldResemble, []int64{3})
			cancel()
			So(<-done, ShouldBeNil)
		})
	})
}
