// Package eventloop implements the single-goroutine run loop the probe
// core is driven by. Any goroutine may post tasks or arm timers, exactly
// one goroutine calls RunOnce, and every function handed to the loop runs
// on that goroutine.
package eventloop

import (
	"container/heap"
	"sync"
	"time"
)

// Loop is a task queue plus a one-shot timer wheel with millisecond-class
// resolution. The zero value is not usable, call New.
type Loop struct {
	mu     sync.Mutex
	tasks  []func()
	timers timerHeap
	seq    uint64

	wake chan struct{}
}

// Timer is a handle to a scheduled function.
type Timer struct {
	loop     *Loop
	fn       func()
	deadline time.Time
	seq      uint64
	index    int
}

func New() *Loop {
	return &Loop{wake: make(chan struct{}, 1)}
}

// Post queues fn to run on the loop goroutine. Safe to call from any
// goroutine. Tasks run in the order they were posted.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	l.tasks = append(l.tasks, fn)
	l.mu.Unlock()
	l.wakeup()
}

// Schedule arms a one-shot timer firing fn on the loop goroutine once d
// has elapsed. A non-positive d fires on the next iteration, never
// synchronously. Safe to call from any goroutine, including from inside
// loop callbacks.
func (l *Loop) Schedule(d time.Duration, fn func()) *Timer {
	if d < 0 {
		d = 0
	}
	t := &Timer{loop: l, fn: fn, deadline: time.Now().Add(d)}
	l.mu.Lock()
	t.seq = l.seq
	l.seq++
	heap.Push(&l.timers, t)
	l.mu.Unlock()
	l.wakeup()
	return t
}

// Stop cancels the timer and reports whether it was still pending.
func (t *Timer) Stop() bool {
	l := t.loop
	l.mu.Lock()
	defer l.mu.Unlock()
	if t.index < 0 {
		return false
	}
	heap.Remove(&l.timers, t.index)
	return true
}

// RunOnce blocks until at least one task or due timer exists, runs
// everything runnable at that point and returns. Work created by the
// callbacks it runs is left for the next iteration, even timers armed
// with a zero delay.
func (l *Loop) RunOnce() {
	for {
		tasks, due, wait := l.collect()
		if len(tasks) > 0 || len(due) > 0 {
			for _, fn := range tasks {
				fn()
			}
			for _, t := range due {
				t.fn()
			}
			return
		}
		if wait < 0 {
			<-l.wake
			continue
		}
		select {
		case <-l.wake:
		case <-time.After(wait):
		}
	}
}

// collect drains runnable work. wait is the delay until the earliest
// armed timer, negative when no timer is armed; it is only meaningful
// when no work was returned.
func (l *Loop) collect() (tasks []func(), due []*Timer, wait time.Duration) {
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	tasks, l.tasks = l.tasks, nil
	for l.timers.Len() > 0 && !l.timers[0].deadline.After(now) {
		due = append(due, heap.Pop(&l.timers).(*Timer))
	}
	if len(tasks) > 0 || len(due) > 0 {
		return tasks, due, 0
	}
	if l.timers.Len() == 0 {
		return nil, nil, -1
	}
	return nil, nil, l.timers[0].deadline.Sub(now)
}

// PendingTimers reports the number of armed timers.
func (l *Loop) PendingTimers() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.timers.Len()
}

// PendingTasks reports the number of queued tasks.
func (l *Loop) PendingTasks() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.tasks)
}

func (l *Loop) wakeup() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// timerHeap orders timers by deadline, ties broken by arming order.
type timerHeap []*Timer

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if !h[i].deadline.Equal(h[j].deadline) {
		return h[i].deadline.Before(h[j].deadline)
	}
	return h[i].seq < h[j].seq
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x interface{}) {
	t := x.(*Timer)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}
