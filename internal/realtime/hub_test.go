package realtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/urbanease-realtime/internal/logging"
)

func init() {
	logging.Init(logging.Config{Level: "disabled", Output: io.Discard})
}

// recorder is a Handle that records every payload it is sent.
type recorder struct {
	ch chan []byte
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan []byte, 512)}
}

func (r *recorder) Send(ctx context.Context, payload []byte) error {
	select {
	case r.ch <- append([]byte(nil), payload...):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *recorder) expect(t *testing.T, want string) {
	t.Helper()
	select {
	case got := <-r.ch:
		if string(got) != want {
			t.Fatalf("got %q, want %q", got, want)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for %q", want)
	}
}

func (r *recorder) expectNone(t *testing.T) {
	t.Helper()
	select {
	case got := <-r.ch:
		t.Fatalf("unexpected delivery %q", got)
	case <-time.After(50 * time.Millisecond):
	}
}

// blockingHandle blocks every Send until its context ends.
type blockingHandle struct{}

func (blockingHandle) Send(ctx context.Context, _ []byte) error {
	<-ctx.Done()
	return ctx.Err()
}

var errDeadHandle = errors.New("connection reset")

func newTestHub(t *testing.T, opts Options) *Hub {
	t.Helper()
	hub := NewHub(opts)
	t.Cleanup(hub.Close)
	return hub
}

func mustSubscribe(t *testing.T, hub *Hub, topic string, h Handle) Token {
	t.Helper()
	tok, err := hub.Subscribe(topic, h)
	if err != nil {
		t.Fatalf("subscribe %q: %v", topic, err)
	}
	return tok
}

func TestHub_PublishDeliversExactlyOnce(t *testing.T) {
	hub := newTestHub(t, Options{})
	rec := newRecorder()
	mustSubscribe(t, hub, "transport_1", rec)

	if n := hub.Publish("transport_1", []byte(`{"message":1}`)); n != 1 {
		t.Fatalf("Publish returned %d, want 1", n)
	}
	rec.expect(t, `{"message":1}`)
	rec.expectNone(t)
}

func TestHub_UnsubscribeStopsDelivery(t *testing.T) {
	hub := newTestHub(t, Options{})
	rec := newRecorder()
	tok := mustSubscribe(t, hub, "transport_1", rec)

	hub.Unsubscribe(tok)
	if n := hub.Publish("transport_1", []byte(`{"message":1}`)); n != 0 {
		t.Fatalf("Publish returned %d after unsubscribe", n)
	}
	rec.expectNone(t)
}

func TestHub_NoCrossTopicDelivery(t *testing.T) {
	hub := newTestHub(t, Options{})
	h1, h2 := newRecorder(), newRecorder()
	mustSubscribe(t, hub, TransportTopic("42"), h1)
	mustSubscribe(t, hub, TransportTopic("43"), h2)

	hub.Publish("transport_42", []byte(`{"message":"bus 7 at stop 3"}`))

	h1.expect(t, `{"message":"bus 7 at stop 3"}`)
	h2.expectNone(t)
}

func TestHub_UnsubscribeIsIdempotent(t *testing.T) {
	hub := newTestHub(t, Options{})
	rec, other := newRecorder(), newRecorder()
	tok := mustSubscribe(t, hub, "traffic_updates", rec)
	mustSubscribe(t, hub, "traffic_updates", other)

	hub.Unsubscribe(tok)
	hub.Unsubscribe(tok)
	hub.Unsubscribe(Token{})

	if got := hub.SubscriberCount("traffic_updates"); got != 1 {
		t.Fatalf("SubscriberCount = %d, want 1", got)
	}
	hub.Publish("traffic_updates", []byte(`{"message":"x"}`))
	other.expect(t, `{"message":"x"}`)
	rec.expectNone(t)
}

func TestHub_PublishWithoutSubscribers(t *testing.T) {
	hub := newTestHub(t, Options{})
	if n := hub.Publish("transport_404", []byte(`{"message":null}`)); n != 0 {
		t.Fatalf("Publish returned %d, want 0", n)
	}
	if hub.TopicCount() != 0 {
		t.Fatalf("publishing must not create topics")
	}
}

func TestHub_FailingHandleIsContained(t *testing.T) {
	var (
		mu       sync.Mutex
		failures []*DeliveryError
	)
	hub := newTestHub(t, Options{OnDeliveryError: func(e *DeliveryError) {
		mu.Lock()
		failures = append(failures, e)
		mu.Unlock()
	}})

	dead := HandleFunc(func(context.Context, []byte) error { return errDeadHandle })
	deadTok := mustSubscribe(t, hub, "traffic_updates", dead)
	h1, h2 := newRecorder(), newRecorder()
	mustSubscribe(t, hub, "traffic_updates", h1)
	mustSubscribe(t, hub, "traffic_updates", h2)

	if n := hub.Publish("traffic_updates", []byte(`{"message":"a"}`)); n != 3 {
		t.Fatalf("Publish returned %d, want 3", n)
	}
	h1.expect(t, `{"message":"a"}`)
	h2.expect(t, `{"message":"a"}`)

	deadline := time.Now().Add(time.Second)
	for {
		mu.Lock()
		n := len(failures)
		mu.Unlock()
		if n > 0 || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(failures) != 1 {
		t.Fatalf("got %d delivery failures, want 1", len(failures))
	}
	derr := failures[0]
	if !errors.Is(derr, errDeadHandle) {
		t.Errorf("failure does not wrap the handle error: %v", derr)
	}
	if derr.Token != deadTok || derr.Topic != "traffic_updates" {
		t.Errorf("failure scoped to wrong subscription: %+v", derr)
	}
}

func TestHub_TrafficScenario(t *testing.T) {
	hub := newTestHub(t, Options{})
	h1, h2 := newRecorder(), newRecorder()
	mustSubscribe(t, hub, TrafficTopic, h1)
	mustSubscribe(t, hub, TrafficTopic, h2)

	msg, err := EncodeEnvelope([]byte(`"accident on 5th"`))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	hub.Publish(TrafficTopic, msg)

	for _, rec := range []*recorder{h1, h2} {
		select {
		case got := <-rec.ch:
			payload, err := DecodeEnvelope(got)
			if err != nil {
				t.Fatalf("decode %q: %v", got, err)
			}
			if string(payload) != `"accident on 5th"` {
				t.Fatalf("payload = %s", payload)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for traffic message")
		}
	}
}

func TestHub_LastUnsubscribeRemovesTopic(t *testing.T) {
	hub := newTestHub(t, Options{})
	rec := newRecorder()
	tok := mustSubscribe(t, hub, "transport_99", rec)
	if hub.TopicCount() != 1 {
		t.Fatalf("TopicCount = %d, want 1", hub.TopicCount())
	}

	hub.Unsubscribe(tok)
	if n := hub.Publish("transport_99", []byte(`{"message":1}`)); n != 0 {
		t.Fatalf("Publish returned %d, want 0", n)
	}
	rec.expectNone(t)
	if got := hub.SubscriberCount("transport_99"); got != 0 {
		t.Errorf("SubscriberCount = %d", got)
	}
	if got := hub.Topics(); len(got) != 0 {
		t.Errorf("Topics = %+v, want empty", got)
	}
}

func TestHub_SubscribeRejectsBadInput(t *testing.T) {
	hub := newTestHub(t, Options{})
	for _, topic := range []string{"", " ", "transport 1", "bad\ntopic", string(make([]byte, 300))} {
		if _, err := hub.Subscribe(topic, newRecorder()); !errors.Is(err, ErrInvalidTopic) {
			t.Errorf("Subscribe(%q) err = %v, want ErrInvalidTopic", topic, err)
		}
	}
	if _, err := hub.Subscribe("traffic_updates", nil); !errors.Is(err, ErrInvalidHandle) {
		t.Errorf("nil handle err = %v", err)
	}
	if hub.TopicCount() != 0 {
		t.Errorf("rejected subscriptions created topics")
	}
}

func TestHub_FIFOWithinTopic(t *testing.T) {
	hub := newTestHub(t, Options{})
	rec := newRecorder()
	mustSubscribe(t, hub, "transport_7", rec)

	const n = 200
	for i := 0; i < n; i++ {
		hub.Publish("transport_7", []byte(fmt.Sprintf(`{"message":%d}`, i)))
	}
	for i := 0; i < n; i++ {
		rec.expect(t, fmt.Sprintf(`{"message":%d}`, i))
	}
}

func TestHub_SlowSubscriberDoesNotStallOthers(t *testing.T) {
	failures := make(chan *DeliveryError, 16)
	hub := newTestHub(t, Options{
		QueueSize:   1,
		SendTimeout: time.Minute,
		OnDeliveryError: func(e *DeliveryError) {
			failures <- e
		},
	})
	mustSubscribe(t, hub, "traffic_updates", blockingHandle{})
	fast := newRecorder()
	mustSubscribe(t, hub, "traffic_updates", fast)

	start := time.Now()
	for i := 0; i < 5; i++ {
		hub.Publish("traffic_updates", []byte(fmt.Sprintf(`{"message":%d}`, i)))
		// let the fast subscriber drain its one-slot outbox
		fast.expect(t, fmt.Sprintf(`{"message":%d}`, i))
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("publishing stalled for %v", elapsed)
	}

	select {
	case derr := <-failures:
		if !errors.Is(derr, ErrOutboxFull) {
			t.Fatalf("failure = %v, want ErrOutboxFull", derr)
		}
	case <-time.After(time.Second):
		t.Fatal("expected an outbox-full failure for the blocked subscriber")
	}
}

func TestHub_OutboxFullReportedBeforePublishReturns(t *testing.T) {
	var (
		mu       sync.Mutex
		reported []*DeliveryError
	)
	count := func() int {
		mu.Lock()
		defer mu.Unlock()
		return len(reported)
	}
	hub := newTestHub(t, Options{
		QueueSize:   1,
		SendTimeout: time.Minute,
		OnDeliveryError: func(e *DeliveryError) {
			mu.Lock()
			reported = append(reported, e)
			mu.Unlock()
		},
	})
	mustSubscribe(t, hub, "traffic_updates", blockingHandle{})

	// one message is taken by the blocked Send, one fills the outbox
	hub.Publish("traffic_updates", []byte(`{"message":0}`))
	deadline := time.Now().Add(time.Second)
	for {
		before := count()
		hub.Publish("traffic_updates", []byte(`{"message":1}`))
		if count() > before || time.Now().After(deadline) {
			break
		}
	}
	if count() == 0 {
		t.Fatal("outbox-full failure was not reported by Publish")
	}
	mu.Lock()
	defer mu.Unlock()
	if !errors.Is(reported[0], ErrOutboxFull) {
		t.Fatalf("failure = %v, want ErrOutboxFull", reported[0])
	}
}

func TestHub_PublishCopiesPayload(t *testing.T) {
	hub := newTestHub(t, Options{})
	rec := newRecorder()
	mustSubscribe(t, hub, "traffic_updates", rec)

	payload := []byte(`{"message":"open"}`)
	hub.Publish("traffic_updates", payload)
	copy(payload, `{"message":"shut"}`)
	rec.expect(t, `{"message":"open"}`)
}

func TestHub_SendTimeout(t *testing.T) {
	failures := make(chan *DeliveryError, 1)
	hub := newTestHub(t, Options{
		SendTimeout:     20 * time.Millisecond,
		OnDeliveryError: func(e *DeliveryError) { failures <- e },
	})
	mustSubscribe(t, hub, "transport_1", blockingHandle{})

	hub.Publish("transport_1", []byte(`{"message":1}`))

	select {
	case derr := <-failures:
		if !errors.Is(derr, context.DeadlineExceeded) {
			t.Fatalf("failure = %v, want deadline exceeded", derr)
		}
		if derr.reason() != "timeout" {
			t.Errorf("reason = %s", derr.reason())
		}
	case <-time.After(time.Second):
		t.Fatal("send timeout was not reported")
	}
}

func TestHub_Close(t *testing.T) {
	hub := NewHub(Options{})
	rec := newRecorder()
	tok := mustSubscribe(t, hub, "transport_1", rec)
	mustSubscribe(t, hub, "transport_1", blockingHandle{})
	hub.Publish("transport_1", []byte(`{"message":1}`))
	rec.expect(t, `{"message":1}`)

	closed := make(chan struct{})
	go func() {
		hub.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("Close hung on a blocked subscriber")
	}
	hub.Close()

	if _, err := hub.Subscribe("transport_1", rec); !errors.Is(err, ErrHubClosed) {
		t.Errorf("Subscribe after Close err = %v", err)
	}
	if n := hub.Publish("transport_1", []byte(`{"message":2}`)); n != 0 {
		t.Errorf("Publish after Close returned %d", n)
	}
	hub.Unsubscribe(tok)
}

func TestHub_ServeClosesOnCancel(t *testing.T) {
	hub := NewHub(Options{})
	mustSubscribe(t, hub, "traffic_updates", newRecorder())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- hub.Serve(ctx) }()
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Serve did not return")
	}
	if hub.TopicCount() != 0 {
		t.Errorf("topics survived Serve shutdown")
	}
}

func TestHub_ConcurrentMembershipChanges(t *testing.T) {
	hub := newTestHub(t, Options{})
	topics := []string{"transport_1", "transport_2", TrafficTopic}

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			topic := topics[i%len(topics)]
			for j := 0; j < 50; j++ {
				tok, err := hub.Subscribe(topic, newRecorder())
				if err != nil {
					t.Errorf("subscribe: %v", err)
					return
				}
				hub.Publish(topic, []byte(`{"message":"tick"}`))
				hub.Unsubscribe(tok)
			}
		}(i)
	}
	wg.Wait()

	if n := hub.TopicCount(); n != 0 {
		t.Fatalf("TopicCount = %d after all unsubscribed: %+v", n, hub.Topics())
	}
}

func TestHub_TopicsSorted(t *testing.T) {
	hub := newTestHub(t, Options{})
	mustSubscribe(t, hub, "transport_2", newRecorder())
	mustSubscribe(t, hub, TrafficTopic, newRecorder())
	mustSubscribe(t, hub, "transport_2", newRecorder())

	got := hub.Topics()
	want := []TopicStats{{Topic: "traffic_updates", Subscribers: 1}, {Topic: "transport_2", Subscribers: 2}}
	if len(got) != len(want) {
		t.Fatalf("Topics = %+v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Topics[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}
