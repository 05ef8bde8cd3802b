package state

import (
	"cmp"
	"context"
	"fmt"
	"reflect"
	"runtime"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/emirpasic/gods/trees/binaryheap"
	"github.com/encodeous/orpl/perf"
)

type scheduledTask struct {
	at  time.Duration
	seq uint64
	fn  func()
}

// Scheduler is a single cooperative loop over virtual time. Tasks run one at a time,
// ordered by deadline and then by submission order.
type Scheduler struct {
	mu    sync.Mutex
	now   time.Duration
	seq   uint64
	queue *binaryheap.Heap
}

func NewScheduler() *Scheduler {
	return &Scheduler{
		queue: binaryheap.NewWith(func(a, b interface{}) int {
			x, y := a.(*scheduledTask), b.(*scheduledTask)
			if c := cmp.Compare(x.at, y.at); c != 0 {
				return c
			}
			return cmp.Compare(x.seq, y.seq)
		}),
	}
}

// Now is the virtual time elapsed since the scheduler was created.
func (s *Scheduler) Now() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

func (s *Scheduler) After(delay time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	s.queue.Push(&scheduledTask{
		at:  s.now + max(delay, 0),
		seq: s.seq,
		fn:  fn,
	})
}

func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Size()
}

func (s *Scheduler) next(limit time.Duration) *scheduledTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.queue.Peek()
	if !ok {
		return nil
	}
	task := v.(*scheduledTask)
	if task.at > limit {
		return nil
	}
	s.queue.Pop()
	s.now = task.at
	return task
}

// RunUntil runs every task due at or before t, then advances the clock to t.
// It returns the number of tasks executed.
func (s *Scheduler) RunUntil(t time.Duration) int {
	n := 0
	for {
		task := s.next(t)
		if task == nil {
			break
		}
		task.fn()
		n++
	}
	s.mu.Lock()
	s.now = max(s.now, t)
	s.mu.Unlock()
	return n
}

func (s *Scheduler) Advance(d time.Duration) int {
	return s.RunUntil(s.Now() + d)
}

// RunRealtime paces the virtual clock against clk until ctx is done.
func (s *Scheduler) RunRealtime(ctx context.Context, clk clock.Clock, tick time.Duration) error {
	ticker := clk.Ticker(tick)
	defer ticker.Stop()
	start := clk.Now()
	base := s.Now()
	for {
		select {
		case <-ctx.Done():
			return context.Cause(ctx)
		case <-ticker.C:
			s.RunUntil(base + clk.Since(start))
		}
	}
}

func (e *Env) run(fun func(*State) error) error {
	if e.Context != nil && e.Context.Err() != nil {
		return e.Context.Err()
	}
	e.mu.Lock()
	start := time.Now()
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return fun(e.state)
	}()
	elapsed := time.Since(start)
	e.mu.Unlock()

	perf.DispatchLatency.Add(float64(elapsed.Microseconds()))
	if elapsed > SlowDispatchThreshold && e.Log != nil {
		e.Log.Warn("dispatch took a long time!", "fun", runtime.FuncForPC(reflect.ValueOf(fun).Pointer()).Name(), "elapsed", elapsed)
	}
	if err != nil {
		if e.Log != nil {
			e.Log.Error("error occurred during dispatch", "error", err)
		}
		if e.Cancel != nil {
			e.Cancel(err)
		}
	}
	return err
}

// Dispatch queues the function on the scheduler loop without waiting for it to complete
func (e *Env) Dispatch(fun func(*State) error) {
	e.ScheduleTask(fun, 0)
}

// DispatchWait runs the function immediately under the node lock and returns its result
func (e *Env) DispatchWait(fun func(*State) (any, error)) (any, error) {
	var res any
	err := e.run(func(s *State) error {
		var err error
		res, err = fun(s)
		return err
	})
	return res, err
}

func (e *Env) ScheduleTask(fun func(*State) error, delay time.Duration) {
	e.Sched.After(delay, func() {
		_ = e.run(fun)
	})
}

// RepeatTask runs fun every delay until the node context ends.
func (e *Env) RepeatTask(fun func(*State) error, delay time.Duration) {
	var repeat func()
	repeat = func() {
		if e.Context != nil && e.Context.Err() != nil {
			return
		}
		_ = e.run(fun)
		e.Sched.After(delay, repeat)
	}
	e.Sched.After(delay, repeat)
}
