package schedule

import (
	"sort"
	"sync"
	"time"
)

// Fake is a virtual-time [Scheduler]. Nothing fires until [Fake.Advance].
type Fake struct {
	mu    sync.Mutex
	now   time.Time
	seq   uint64
	tasks map[uint64]*fakeTask
}

// NewFake returns a Fake whose clock starts at start.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start, tasks: make(map[uint64]*fakeTask)}
}

type fakeTask struct {
	f      *Fake
	id     uint64
	period time.Duration
	next   time.Time
	fn     func()
	once   sync.Once
}

func (t *fakeTask) Stop() {
	t.once.Do(func() {
		t.f.mu.Lock()
		delete(t.f.tasks, t.id)
		t.f.mu.Unlock()
	})
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) Every(d time.Duration, fn func()) Task {
	if d <= 0 {
		panic("schedule: non-positive period")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	t := &fakeTask{f: f, id: f.seq, period: d, next: f.now.Add(d), fn: fn}
	f.tasks[t.id] = t
	return t
}

// Pending returns the number of live tasks.
func (f *Fake) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tasks)
}

// Advance moves the clock forward by d, firing every due task in deadline
// order. Ties fire in registration order. Task functions run on the calling
// goroutine without the internal lock held, so they may Stop tasks or
// register new ones.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	target := f.now.Add(d)
	f.mu.Unlock()

	for {
		f.mu.Lock()
		t := f.nextDueLocked(target)
		if t == nil {
			f.now = target
			f.mu.Unlock()
			return
		}
		f.now = t.next
		t.next = t.next.Add(t.period)
		fn := t.fn
		f.mu.Unlock()
		fn()
	}
}

func (f *Fake) nextDueLocked(target time.Time) *fakeTask {
	due := make([]*fakeTask, 0, len(f.tasks))
	for _, t := range f.tasks {
		if !t.next.After(target) {
			due = append(due, t)
		}
	}
	if len(due) == 0 {
		return nil
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].next.Equal(due[j].next) {
			return due[i].id < due[j].id
		}
		return due[i].next.Before(due[j].next)
	})
	return due[0]
}
