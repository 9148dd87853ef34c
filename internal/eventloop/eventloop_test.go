package eventloop

import (
	"reflect"
	"sync"
	"testing"
	"time"
)

func TestLoopShouldRunPostedTasksInOrder(t *testing.T) {
	l := New()
	var got []int
	for i := 0; i < 5; i++ {
		i := i
		l.Post(func() { got = append(got, i) })
	}
	l.RunOnce()
	e := []int{0, 1, 2, 3, 4}
	if !reflect.DeepEqual(e, got) {
		t.Errorf("Expected %v, but got %v", e, got)
	}
}

func TestLoopShouldRunDueTimersInDeadlineOrder(t *testing.T) {
	l := New()
	var got []string
	l.Schedule(30*time.Millisecond, func() { got = append(got, "c") })
	l.Schedule(10*time.Millisecond, func() { got = append(got, "a") })
	l.Schedule(20*time.Millisecond, func() { got = append(got, "b") })
	time.Sleep(50 * time.Millisecond)
	l.RunOnce()
	e := []string{"a", "b", "c"}
	if !reflect.DeepEqual(e, got) {
		t.Errorf("Expected %v, but got %v", e, got)
	}
}

func TestZeroDelayTimerShouldWaitForTheNextIteration(t *testing.T) {
	l := New()
	fired := false
	l.Post(func() {
		l.Schedule(0, func() { fired = true })
	})
	l.RunOnce()
	if fired {
		t.Error("Expected the zero delay timer to wait for the next iteration")
	}
	l.RunOnce()
	if !fired {
		t.Error("Expected the zero delay timer to fire on the next iteration")
	}
}

func TestTimerStopShouldPreventFiring(t *testing.T) {
	l := New()
	fired := false
	timer := l.Schedule(5*time.Millisecond, func() { fired = true })
	if !timer.Stop() {
		t.Error("Expected Stop on a pending timer to report true")
	}
	if timer.Stop() {
		t.Error("Expected Stop on a stopped timer to report false")
	}
	l.Post(func() {})
	time.Sleep(10 * time.Millisecond)
	l.RunOnce()
	if fired {
		t.Error("Expected a stopped timer to never fire")
	}
}

func TestLoopShouldTrackPendingTimers(t *testing.T) {
	l := New()
	first := l.Schedule(time.Hour, func() {})
	l.Schedule(5*time.Millisecond, func() {})
	if n := l.PendingTimers(); n != 2 {
		t.Errorf("Expected %v, but got %v", 2, n)
	}
	first.Stop()
	if n := l.PendingTimers(); n != 1 {
		t.Errorf("Expected %v, but got %v", 1, n)
	}
	time.Sleep(10 * time.Millisecond)
	l.RunOnce()
	if n := l.PendingTimers(); n != 0 {
		t.Errorf("Expected %v, but got %v", 0, n)
	}
}

func TestRunOnceShouldBlockUntilWorkArrives(t *testing.T) {
	l := New()
	start := time.Now()
	go func() {
		time.Sleep(20 * time.Millisecond)
		l.Post(func() {})
	}()
	l.RunOnce()
	if elapsed := time.Since(start); elapsed < 15*time.Millisecond {
		t.Errorf("Expected RunOnce to block for the posted task, returned after %v", elapsed)
	}
}

func TestRunOnceShouldWaitForTheEarliestTimer(t *testing.T) {
	l := New()
	fired := false
	l.Schedule(20*time.Millisecond, func() { fired = true })
	start := time.Now()
	l.RunOnce()
	if !fired {
		t.Error("Expected the armed timer to fire")
	}
	if elapsed := time.Since(start); elapsed < 15*time.Millisecond {
		t.Errorf("Expected RunOnce to sleep until the deadline, returned after %v", elapsed)
	}
}

func TestPostShouldBeSafeFromManyGoroutines(t *testing.T) {
	l := New()
	const n = 100
	var wg sync.WaitGroup
	wg.Add(n)
	count := 0
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			l.Post(func() { count++ })
		}()
	}
	wg.Wait()
	for count < n {
		l.RunOnce()
	}
	if l.PendingTasks() != 0 {
		t.Errorf("Expected %v, but got %v", 0, l.PendingTasks())
	}
}
