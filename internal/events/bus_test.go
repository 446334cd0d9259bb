package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type recordingLogger struct {
	mu   sync.Mutex
	msgs []string
}

func (l *recordingLogger) Error(msg string, _ ...any) { l.record(msg) }
func (l *recordingLogger) Warn(msg string, _ ...any)  { l.record(msg) }

func (l *recordingLogger) record(msg string) {
	l.mu.Lock()
	l.msgs = append(l.msgs, msg)
	l.mu.Unlock()
}

func (l *recordingLogger) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.msgs)
}

func TestBus_FireMatchesTypeAndWildcard(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	bus := NewBus(WithClock(func() time.Time { return fixed }))

	var got []string
	bus.Subscribe("user_added", func(_ context.Context, ev Event) {
		got = append(got, "typed:"+ev.Type)
	})
	bus.Subscribe(MatchAll, func(_ context.Context, ev Event) {
		got = append(got, "all:"+ev.Type)
		if !ev.Time.Equal(fixed) {
			t.Errorf("Time = %v, want %v", ev.Time, fixed)
		}
	})

	bus.Fire(context.Background(), "user_added", map[string]any{"user_id": "u1"})
	bus.Fire(context.Background(), "user_removed", map[string]any{"user_id": "u1"})

	want := []string{"typed:user_added", "all:user_added", "all:user_removed"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus()
	calls := 0
	stop := bus.Subscribe("x", func(context.Context, Event) { calls++ })

	bus.Fire(context.Background(), "x", nil)
	stop()
	stop()
	bus.Fire(context.Background(), "x", nil)

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if bus.Len() != 0 {
		t.Errorf("Len() = %d, want 0", bus.Len())
	}
}

func TestBus_PanicRecovered(t *testing.T) {
	logger := &recordingLogger{}
	bus := NewBus(WithLogger(logger))

	reached := false
	bus.Subscribe("x", func(context.Context, Event) { panic("boom") })
	bus.Subscribe("x", func(context.Context, Event) { reached = true })

	bus.Fire(context.Background(), "x", nil)

	if !reached {
		t.Error("handler after panicking handler did not run")
	}
	if logger.count() != 1 {
		t.Errorf("logged %d errors, want 1", logger.count())
	}
}

func TestBus_ConcurrentFire(t *testing.T) {
	bus := NewBus()
	var mu sync.Mutex
	total := 0
	bus.Subscribe(MatchAll, func(context.Context, Event) {
		mu.Lock()
		total++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bus.Fire(context.Background(), "x", nil)
		}()
	}
	wg.Wait()

	if total != 20 {
		t.Errorf("total = %d, want 20", total)
	}
}

type fakePublisher struct {
	topics []string
	err    error
}

func (p *fakePublisher) PublishJSON(topic string, _ any) error {
	p.topics = append(p.topics, topic)
	return p.err
}

func TestForwardToMQTT(t *testing.T) {
	bus := NewBus()
	pub := &fakePublisher{}
	logger := &recordingLogger{}

	stop := ForwardToMQTT(bus, pub, "site-001", logger)
	bus.Fire(context.Background(), "user_added", map[string]any{"user_id": "u1"})

	if len(pub.topics) != 1 || pub.topics[0] != "rxhome/site-001/auth/events/user_added" {
		t.Errorf("topics = %v", pub.topics)
	}

	pub.err = errors.New("offline")
	bus.Fire(context.Background(), "user_removed", nil)
	if logger.count() != 1 {
		t.Errorf("warnings = %d, want 1", logger.count())
	}

	stop()
	bus.Fire(context.Background(), "user_updated", nil)
	if len(pub.topics) != 2 {
		t.Errorf("published after stop: %v", pub.topics)
	}
}
