package debounce

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"

	"github.com/sidkik/syncwatch/pkg/fswatch"
)

var testEvent = fswatch.Event{Path: "/svc/index.js", Op: fswatch.Modified}

func TestWindowFakeClock(t *testing.T) {
	clock := clockwork.NewFakeClock()
	events := make(chan fswatch.Event)
	engine := New(events, time.Second, clock)
	defer engine.Stop()

	events <- testEvent
	clock.BlockUntil(1)

	clock.Advance(999 * time.Millisecond)
	assert.Equal(t, 0, countTriggers(engine.Triggers(), 50*time.Millisecond))

	clock.Advance(time.Millisecond)
	assert.Equal(t, 1, countTriggers(engine.Triggers(), 500*time.Millisecond))
}

func TestBurstEmitsOneTrigger(t *testing.T) {
	t.Parallel()

	events := make(chan fswatch.Event)
	engine := New(events, 100*time.Millisecond, clockwork.NewRealClock())
	defer engine.Stop()

	for i := 0; i < 20; i++ {
		events <- testEvent
	}
	assert.Equal(t, 1, countTriggers(engine.Triggers(), 500*time.Millisecond))
}

func TestContinuousEventsSuppressTriggers(t *testing.T) {
	t.Parallel()

	events := make(chan fswatch.Event)
	engine := New(events, 200*time.Millisecond, clockwork.NewRealClock())
	defer engine.Stop()

	deadline := time.Now().Add(600 * time.Millisecond)
	for time.Now().Before(deadline) {
		events <- testEvent
		select {
		case <-engine.Triggers():
			t.Fatal("trigger emitted while events were still arriving")
		case <-time.After(10 * time.Millisecond):
		}
	}

	assert.Equal(t, 1, countTriggers(engine.Triggers(), time.Second))
}

func TestPendingTriggerCoalesced(t *testing.T) {
	t.Parallel()

	events := make(chan fswatch.Event)
	engine := New(events, 20*time.Millisecond, clockwork.NewRealClock())
	defer engine.Stop()

	// Two separate bursts while nobody is consuming triggers, as happens
	// while a pass is running. Only one trigger is left waiting.
	events <- testEvent
	time.Sleep(100 * time.Millisecond)
	events <- testEvent
	time.Sleep(100 * time.Millisecond)

	assert.Equal(t, 1, countTriggers(engine.Triggers(), 200*time.Millisecond))
}

func TestClosedSourceFlushesWindow(t *testing.T) {
	t.Parallel()

	events := make(chan fswatch.Event)
	engine := New(events, 20*time.Millisecond, clockwork.NewRealClock())
	defer engine.Stop()

	events <- testEvent
	close(events)

	assert.Equal(t, 1, countTriggers(engine.Triggers(), 300*time.Millisecond))
}

func TestStopDropsPendingTrigger(t *testing.T) {
	t.Parallel()

	events := make(chan fswatch.Event)
	engine := New(events, 20*time.Millisecond, clockwork.NewRealClock())

	// A trigger is waiting when Stop is called.
	events <- testEvent
	time.Sleep(100 * time.Millisecond)
	engine.Stop()
	assert.Equal(t, 0, countTriggers(engine.Triggers(), 100*time.Millisecond))

	// Stop cancels an in-progress window as well.
	events = make(chan fswatch.Event, 1)
	engine = New(events, 50*time.Millisecond, clockwork.NewRealClock())
	events <- testEvent
	engine.Stop()
	engine.Stop()
	assert.Equal(t, 0, countTriggers(engine.Triggers(), 200*time.Millisecond))
}

// countTriggers counts the triggers until there hasn't been a new one for
// `quiet`.
func countTriggers(c <-chan struct{}, quiet time.Duration) (n int) {
	for {
		select {
		case <-c:
			n++
		case <-time.After(quiet):
			return n
		}
	}
}
