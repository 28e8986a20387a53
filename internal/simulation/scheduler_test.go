package simulation

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"
)

// captureLogger records log calls for assertions.
type captureLogger struct {
	mu    sync.Mutex
	warns []string
}

func (l *captureLogger) Debug(string, ...any) {}
func (l *captureLogger) Info(string, ...any)  {}
func (l *captureLogger) Error(string, ...any) {}

func (l *captureLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, msg)
}

func (l *captureLogger) warnCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.warns)
}

// fireRecorder counts ticks per device and tracks concurrent execution.
type fireRecorder struct {
	mu       sync.Mutex
	fires    map[string]int
	inFlight map[string]int
	overlap  bool
	delay    time.Duration
}

func newFireRecorder(delay time.Duration) *fireRecorder {
	return &fireRecorder{
		fires:    make(map[string]int),
		inFlight: make(map[string]int),
		delay:    delay,
	}
}

func (r *fireRecorder) tick(_ context.Context, deviceID string) {
	r.mu.Lock()
	r.fires[deviceID]++
	r.inFlight[deviceID]++
	if r.inFlight[deviceID] > 1 {
		r.overlap = true
	}
	r.mu.Unlock()

	if r.delay > 0 {
		time.Sleep(r.delay)
	}

	r.mu.Lock()
	r.inFlight[deviceID]--
	r.mu.Unlock()
}

func (r *fireRecorder) count(deviceID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fires[deviceID]
}

func (r *fireRecorder) sawOverlap() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.overlap
}

func runScheduler(t *testing.T, s *Scheduler) (cancel func()) {
	t.Helper()

	ctx, stop := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := s.Run(ctx); err != nil {
			t.Errorf("Run() error = %v", err)
		}
	}()

	return func() {
		stop()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("scheduler did not stop within 5s")
		}
	}
}

// ============================================================================
// Firing cadence
// ============================================================================

func TestScheduler_FiresRepeatedly(t *testing.T) {
	rec := newFireRecorder(0)
	s := NewScheduler(SchedulerConfig{
		Interval: 20 * time.Millisecond,
		Jitter:   0,
		Workers:  2,
	}, rec.tick, nil, rand.New(rand.NewSource(1)))

	s.Schedule("dev-1")
	stop := runScheduler(t, s)

	deadline := time.Now().Add(2 * time.Second)
	for rec.count("dev-1") < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	stop()

	if got := rec.count("dev-1"); got < 3 {
		t.Errorf("device fired %d times, want at least 3", got)
	}
}

func TestScheduler_NeverDoubleFires(t *testing.T) {
	// Ticks take three times the interval; a buggy scheduler would
	// start the next fire while the previous one still runs.
	rec := newFireRecorder(60 * time.Millisecond)
	s := NewScheduler(SchedulerConfig{
		Interval: 20 * time.Millisecond,
		Jitter:   0,
		Workers:  4,
	}, rec.tick, nil, rand.New(rand.NewSource(2)))

	s.Schedule("slow-1")
	s.Schedule("slow-2")
	stop := runScheduler(t, s)

	time.Sleep(400 * time.Millisecond)
	stop()

	if rec.sawOverlap() {
		t.Error("a device had two ticks running at once")
	}
}

func TestScheduler_OverrunLogsWarning(t *testing.T) {
	logger := &captureLogger{}
	rec := newFireRecorder(50 * time.Millisecond)
	s := NewScheduler(SchedulerConfig{
		Interval: 10 * time.Millisecond,
		Jitter:   0,
		Workers:  1,
	}, rec.tick, logger, rand.New(rand.NewSource(3)))

	s.Schedule("slow-1")
	stop := runScheduler(t, s)

	deadline := time.Now().Add(2 * time.Second)
	for rec.count("slow-1") < 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	// Let the overrun be measured after the tick completes
	time.Sleep(80 * time.Millisecond)
	stop()

	if logger.warnCount() == 0 {
		t.Error("overrunning tick did not log a warning")
	}
}

func TestScheduler_JitteredIntervalStaysInBounds(t *testing.T) {
	s := NewScheduler(SchedulerConfig{
		Interval: time.Second,
		Jitter:   0.2,
		Workers:  1,
	}, func(context.Context, string) {}, nil, rand.New(rand.NewSource(4)))

	min, max := time.Hour, time.Duration(0)
	for i := 0; i < 1000; i++ {
		s.mu.Lock()
		d := s.jitteredLocked()
		s.mu.Unlock()

		if d < 800*time.Millisecond || d > 1200*time.Millisecond {
			t.Fatalf("jittered interval %v outside [800ms, 1200ms]", d)
		}
		if d < min {
			min = d
		}
		if d > max {
			max = d
		}
	}

	if min == max {
		t.Error("jitter produced no spread at all")
	}
}

func TestScheduler_FirstFiresSpreadAcrossFleet(t *testing.T) {
	s := NewScheduler(SchedulerConfig{
		Interval: time.Second,
		Jitter:   0.2,
		Workers:  4,
	}, func(context.Context, string) {}, nil, rand.New(rand.NewSource(8)))

	const fleet = 2000
	for i := 0; i < fleet; i++ {
		s.Schedule(fmt.Sprintf("dev-%d", i))
	}

	s.mu.Lock()
	fires := make([]time.Time, 0, fleet)
	for _, e := range s.entries {
		fires = append(fires, e.fireAt)
	}
	s.mu.Unlock()

	// With 20% jitter the first fires should cover most of the 400ms
	// window, not pile into one slot.
	earliest, latest := fires[0], fires[0]
	buckets := make(map[int64]int)
	for _, ft := range fires {
		if ft.Before(earliest) {
			earliest = ft
		}
		if ft.After(latest) {
			latest = ft
		}
		buckets[ft.UnixNano()/int64(20*time.Millisecond)]++
	}

	if spread := latest.Sub(earliest); spread < 250*time.Millisecond {
		t.Errorf("first fires span only %v, want at least 250ms", spread)
	}

	worst := 0
	for _, n := range buckets {
		if n > worst {
			worst = n
		}
	}
	if worst > fleet/8 {
		t.Errorf("one 20ms bucket holds %d of %d first fires", worst, fleet)
	}
}

// ============================================================================
// Schedule / unschedule
// ============================================================================

func TestScheduler_ScheduleIsIdempotent(t *testing.T) {
	s := NewScheduler(SchedulerConfig{
		Interval: time.Second,
		Workers:  1,
	}, func(context.Context, string) {}, nil, rand.New(rand.NewSource(5)))

	s.Schedule("dev-1")
	s.Schedule("dev-1")

	if got := s.PendingCount(); got != 1 {
		t.Errorf("PendingCount() = %d after duplicate Schedule, want 1", got)
	}
}

func TestScheduler_UnscheduleDropsPendingFire(t *testing.T) {
	rec := newFireRecorder(0)
	s := NewScheduler(SchedulerConfig{
		Interval: 50 * time.Millisecond,
		Jitter:   0,
		Workers:  1,
	}, rec.tick, nil, rand.New(rand.NewSource(6)))

	s.Schedule("dev-1")
	s.Unschedule("dev-1")

	if s.IsScheduled("dev-1") {
		t.Error("device still scheduled after Unschedule")
	}
	if got := s.PendingCount(); got != 0 {
		t.Errorf("PendingCount() = %d after Unschedule, want 0", got)
	}

	stop := runScheduler(t, s)
	time.Sleep(150 * time.Millisecond)
	stop()

	if got := rec.count("dev-1"); got != 0 {
		t.Errorf("unscheduled device fired %d times", got)
	}
}

func TestScheduler_UnscheduleUnknownIsNoop(t *testing.T) {
	s := NewScheduler(SchedulerConfig{
		Interval: time.Second,
		Workers:  1,
	}, func(context.Context, string) {}, nil, nil)

	s.Unschedule("ghost")

	if got := s.PendingCount(); got != 0 {
		t.Errorf("PendingCount() = %d, want 0", got)
	}
}

// ============================================================================
// Shutdown
// ============================================================================

func TestScheduler_StopLeavesNothingPending(t *testing.T) {
	rec := newFireRecorder(0)
	s := NewScheduler(SchedulerConfig{
		Interval: 20 * time.Millisecond,
		Jitter:   0.2,
		Workers:  4,
	}, rec.tick, nil, rand.New(rand.NewSource(7)))

	for _, id := range []string{"a", "b", "c", "d", "e"} {
		s.Schedule(id)
	}

	stop := runScheduler(t, s)
	time.Sleep(100 * time.Millisecond)
	stop()

	if got := s.PendingCount(); got != 0 {
		t.Errorf("PendingCount() = %d after stop, want 0", got)
	}

	// A stopped scheduler refuses new work
	s.Schedule("late")
	if got := s.PendingCount(); got != 0 {
		t.Errorf("PendingCount() = %d after scheduling on stopped scheduler, want 0", got)
	}
}
