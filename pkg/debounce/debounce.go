// Package debounce coalesces bursts of file change events into resync
// triggers.
//
// The engine implements a trailing-edge debounce: every event restarts a
// quiet window, and a trigger is emitted once a full window passes without
// any events. At most one trigger is buffered, so a consumer that is busy
// running a pass will see exactly one pending trigger when it's done, no
// matter how many windows elapsed in the meantime.
package debounce

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/sidkik/syncwatch/pkg/fswatch"
	"github.com/sidkik/syncwatch/pkg/report"
)

// DefaultWindow is the quiet period used when none is configured.
const DefaultWindow = time.Second

// Engine turns a stream of change events into triggers.
type Engine struct {
	clock  clockwork.Clock
	window time.Duration

	events   <-chan fswatch.Event
	triggers chan struct{}

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// New starts debouncing `events`. A zero window uses DefaultWindow.
func New(events <-chan fswatch.Event, window time.Duration, clock clockwork.Clock) *Engine {
	if window <= 0 {
		window = DefaultWindow
	}

	e := &Engine{
		clock:    clock,
		window:   window,
		events:   events,
		triggers: make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go e.run()
	return e
}

// Triggers returns the channel that receives a value whenever the tree
// should be resynced.
func (e *Engine) Triggers() <-chan struct{} {
	return e.triggers
}

// Stop halts the engine and discards any pending trigger. No triggers are
// delivered once Stop returns. It's safe to call Stop multiple times.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		close(e.stop)
		<-e.done

		select {
		case <-e.triggers:
		default:
		}
	})
}

func (e *Engine) run() {
	defer close(e.done)
	defer report.HandlePanic()

	var timer clockwork.Timer
	var fired <-chan time.Time
	stopTimer := func() {
		if timer != nil {
			timer.Stop()
		}
	}
	defer stopTimer()

	events := e.events
	for {
		select {
		case <-e.stop:
			return

		case _, ok := <-events:
			if !ok {
				// The source went away. Let any pending window finish so
				// that the last changes still get synced.
				events = nil
				continue
			}

			// Replace the timer rather than resetting it so that a value
			// left in the old timer's channel can never be mistaken for the
			// end of the new window.
			stopTimer()
			timer = e.clock.NewTimer(e.window)
			fired = timer.Chan()

		case <-fired:
			fired = nil
			timer = nil

			select {
			case e.triggers <- struct{}{}:
			default:
				// A trigger is already pending, which covers these changes.
			}
		}
	}
}
