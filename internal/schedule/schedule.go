package schedule

import (
	"sync"
	"time"
)

// Task is a handle to periodic work. Stop is idempotent. An invocation
// already in flight may complete after Stop; callers that need a hard
// cutoff guard fn themselves.
type Task interface {
	Stop()
}

// Scheduler runs fn every d until the returned Task is stopped.
type Scheduler interface {
	Every(d time.Duration, fn func()) Task
	Now() time.Time
}

// Real is the wall-clock [Scheduler].
type Real struct{}

// NewReal returns a wall-clock scheduler.
func NewReal() Real { return Real{} }

func (Real) Now() time.Time { return time.Now() }

func (Real) Every(d time.Duration, fn func()) Task {
	t := &tickerTask{
		ticker: time.NewTicker(d),
		stop:   make(chan struct{}),
	}
	go t.run(fn)
	return t
}

type tickerTask struct {
	ticker *time.Ticker
	stop   chan struct{}
	once   sync.Once
}

func (t *tickerTask) run(fn func()) {
	for {
		select {
		case <-t.stop:
			return
		case <-t.ticker.C:
			select {
			case <-t.stop:
				return
			default:
			}
			fn()
		}
	}
}

func (t *tickerTask) Stop() {
	t.once.Do(func() {
		t.ticker.Stop()
		close(t.stop)
	})
}
