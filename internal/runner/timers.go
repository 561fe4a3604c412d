package runner

import (
	"sync"
	"time"

	"github.com/dop251/goja"
	"github.com/google/uuid"
)

// minTimerDelay is the shortest delay worth a timer. Anything sooner is
// queued immediately.
const minTimerDelay = 10 * time.Millisecond

// TimerHandle is a pending run_after_delay callback.
type TimerHandle struct {
	ID     string
	FireAt time.Time
	timer  *time.Timer
}

type timerSet struct {
	mu      sync.Mutex
	pending map[string]*TimerHandle
	stopped bool
}

// schedule arranges for fire to run after d, unless the set is stopped
// first. It reports false if the set is already stopped.
func (s *timerSet) schedule(d time.Duration, fire func()) (*TimerHandle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil, false
	}
	if s.pending == nil {
		s.pending = make(map[string]*TimerHandle)
	}
	h := &TimerHandle{ID: uuid.NewString(), FireAt: time.Now().Add(d)}
	h.timer = time.AfterFunc(d, func() {
		s.mu.Lock()
		_, live := s.pending[h.ID]
		delete(s.pending, h.ID)
		s.mu.Unlock()
		if live {
			fire()
		}
	})
	s.pending[h.ID] = h
	return h, true
}

// stop cancels every pending timer and rejects new ones.
func (s *timerSet) stop() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	n := 0
	for id, h := range s.pending {
		if h.timer.Stop() {
			n++
		}
		delete(s.pending, id)
	}
	return n
}

func (s *timerSet) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// runAfterDelay queues fn for the execution goroutine once seconds have
// passed since the call.
func (r *Runner) runAfterDelay(seconds float64, fn goja.Value, args []goja.Value) {
	if r.isStopping() {
		return
	}
	d := time.Duration(seconds * float64(time.Second))
	if d <= minTimerDelay {
		r.EnqueueFunction(fn, args...)
		return
	}
	h, ok := r.timers.schedule(d, func() {
		if r.isStopping() {
			return
		}
		r.EnqueueFunction(fn, args...)
	})
	if ok {
		r.logger.Debug("timer scheduled", "timer", h.ID, "delay", d, "pending", r.timers.len())
	}
}
