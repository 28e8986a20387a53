package simulation

import (
	"container/heap"
	"context"
	"math/rand"
	"sync"
	"time"
)

// TickFunc is called by the scheduler when a device is due for telemetry.
// It runs on a worker goroutine; the scheduler measures its duration to
// detect overruns and schedules the next fire from its completion time.
type TickFunc func(ctx context.Context, deviceID string)

// SchedulerConfig carries the timing knobs for the tick scheduler.
type SchedulerConfig struct {
	// Interval is the base publish interval between ticks of one device.
	Interval time.Duration

	// Jitter is the fraction of Interval by which each gap is randomly
	// stretched or shrunk, in [0, 1). 0.2 means each gap lands uniformly
	// in [0.8*Interval, 1.2*Interval], which spreads a fleet's publishes
	// instead of firing them in lockstep.
	Jitter float64

	// Workers bounds the number of ticks running concurrently.
	Workers int
}

// entry is one device's place in the fire queue.
type entry struct {
	deviceID string
	fireAt   time.Time
	index    int // heap index, -1 while not queued (firing or removed)
}

// fireHeap orders entries by soonest fire time.
type fireHeap []*entry

func (h fireHeap) Len() int            { return len(h) }
func (h fireHeap) Less(i, j int) bool  { return h[i].fireAt.Before(h[j].fireAt) }
func (h fireHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *fireHeap) Push(x any)         { e := x.(*entry); e.index = len(*h); *h = append(*h, e) }
func (h *fireHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// Scheduler drives per-device telemetry ticks.
//
// A single timer goroutine pops due devices off a min-heap and hands them
// to a bounded worker pool. Each device has at most one pending fire and
// at most one running tick at any time: the entry leaves the heap when it
// is dispatched and only returns when the tick completes, so a device can
// never double-fire. The next fire is computed from the tick's completion
// time, which keeps slow ticks from stacking up behind themselves; a tick
// that takes longer than the base interval is logged as an overrun.
//
// Devices can be scheduled and unscheduled at any time, before or while
// Run is active. Unscheduling removes the pending fire immediately; a
// tick already in flight finishes but is not rescheduled.
type Scheduler struct {
	cfg    SchedulerConfig
	tick   TickFunc
	logger Logger

	mu      sync.Mutex
	queue   fireHeap
	entries map[string]*entry
	rng     *rand.Rand
	stopped bool

	// wake nudges the timer loop after heap changes
	wake chan struct{}
}

// NewScheduler creates a scheduler. A nil rng gets a time-seeded source;
// a nil logger gets a no-op one.
func NewScheduler(cfg SchedulerConfig, tick TickFunc, logger Logger, rng *rand.Rand) *Scheduler {
	if logger == nil {
		logger = noopLogger{}
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Scheduler{
		cfg:     cfg,
		tick:    tick,
		logger:  logger,
		entries: make(map[string]*entry),
		rng:     rng,
		wake:    make(chan struct{}, 1),
	}
}

// Schedule adds a device to the tick rotation. Its first fire lands one
// jittered interval from now. Scheduling an already-scheduled device is a
// no-op.
func (s *Scheduler) Schedule(deviceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	if _, ok := s.entries[deviceID]; ok {
		return
	}

	e := &entry{
		deviceID: deviceID,
		fireAt:   time.Now().Add(s.jitteredLocked()),
		index:    -1,
	}
	s.entries[deviceID] = e
	heap.Push(&s.queue, e)
	s.wakeLocked()
}

// Unschedule removes a device from the tick rotation. Any pending fire is
// dropped; a tick currently running finishes but will not be rescheduled.
// Unscheduling an unknown device is a no-op.
func (s *Scheduler) Unschedule(deviceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[deviceID]
	if !ok {
		return
	}
	delete(s.entries, deviceID)
	if e.index >= 0 {
		heap.Remove(&s.queue, e.index)
	}
	s.wakeLocked()
}

// PendingCount returns the number of queued fires.
func (s *Scheduler) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// IsScheduled reports whether a device is in the tick rotation.
func (s *Scheduler) IsScheduled(deviceID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[deviceID]
	return ok
}

// Run drives the scheduler until the context is cancelled. It blocks; run
// it on its own goroutine or as the caller's main loop. On return every
// worker has finished and no fires remain pending.
func (s *Scheduler) Run(ctx context.Context) error {
	workers := s.cfg.Workers
	if workers < 1 {
		workers = 1
	}

	tasks := make(chan string)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range tasks {
				s.fire(ctx, id)
			}
		}()
	}

	s.logger.Info("scheduler started",
		"interval", s.cfg.Interval.String(),
		"jitter", s.cfg.Jitter,
		"workers", workers)

	timer := time.NewTimer(time.Hour)
	if !timer.Stop() {
		<-timer.C
	}

loop:
	for {
		due, wait := s.collectDue()

		for _, id := range due {
			select {
			case tasks <- id:
			case <-ctx.Done():
				break loop
			}
		}

		var fireCh <-chan time.Time
		if wait >= 0 {
			timer.Reset(wait)
			fireCh = timer.C
		}

		select {
		case <-ctx.Done():
			break loop
		case <-s.wake:
		case <-fireCh:
		}

		if fireCh != nil && !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
	}

	close(tasks)
	wg.Wait()

	s.mu.Lock()
	s.stopped = true
	for len(s.queue) > 0 {
		heap.Pop(&s.queue)
	}
	s.entries = make(map[string]*entry)
	s.mu.Unlock()

	s.logger.Info("scheduler stopped")
	return nil
}

// collectDue pops every due entry and returns the IDs to dispatch plus
// the wait until the next fire, or -1 when the queue is empty.
func (s *Scheduler) collectDue() ([]string, time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var due []string
	for len(s.queue) > 0 && !s.queue[0].fireAt.After(now) {
		e := heap.Pop(&s.queue).(*entry)
		due = append(due, e.deviceID)
	}

	if len(s.queue) == 0 {
		return due, -1
	}
	wait := time.Until(s.queue[0].fireAt)
	if wait < 0 {
		wait = 0
	}
	return due, wait
}

// fire runs one tick on a worker and requeues the device from its
// completion time.
func (s *Scheduler) fire(ctx context.Context, deviceID string) {
	start := time.Now()
	s.tick(ctx, deviceID)
	done := time.Now()

	if elapsed := done.Sub(start); elapsed > s.cfg.Interval {
		s.logger.Warn("tick overran publish interval",
			"device_id", deviceID,
			"elapsed", elapsed.String(),
			"interval", s.cfg.Interval.String())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	e, ok := s.entries[deviceID]
	if !ok || e.index >= 0 {
		// Unscheduled while firing, or already requeued
		return
	}
	e.fireAt = done.Add(s.jitteredLocked())
	heap.Push(&s.queue, e)
	s.wakeLocked()
}

// jitteredLocked returns Interval stretched by a uniform factor in
// [1-Jitter, 1+Jitter]. Callers hold s.mu.
func (s *Scheduler) jitteredLocked() time.Duration {
	if s.cfg.Jitter <= 0 {
		return s.cfg.Interval
	}
	factor := 1 + (s.rng.Float64()*2-1)*s.cfg.Jitter
	return time.Duration(float64(s.cfg.Interval) * factor)
}

// wakeLocked nudges the timer loop without blocking. Callers hold s.mu.
func (s *Scheduler) wakeLocked() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}
