package runner

import (
	"fmt"
	"sync"

	"github.com/dop251/goja"
)

// TaskKind distinguishes the units of work handled by the execution
// goroutine.
type TaskKind int

const (
	// TaskWake lets the loop observe a pending stop, and otherwise requests
	// a redraw once the work queued before it has run.
	TaskWake TaskKind = iota + 1
	// TaskSetupPage rebinds the environment to a page's objects.
	TaskSetupPage
	// TaskRunHandler runs one handler.
	TaskRunHandler
	// TaskRunFunction calls a script function, such as an expired timer.
	TaskRunFunction
	// TaskRunCode evaluates a console snippet.
	TaskRunCode
	// TaskCancelGesture clears the suppress-pointer latch.
	TaskCancelGesture
	// TaskMainCallback forwards a callback to the main goroutine, ordered
	// after everything queued before it.
	TaskMainCallback
)

func (k TaskKind) String() string {
	switch k {
	case TaskWake:
		return "Wake"
	case TaskSetupPage:
		return "SetupPage"
	case TaskRunHandler:
		return "RunHandler"
	case TaskRunFunction:
		return "RunFunction"
	case TaskRunCode:
		return "RunCode"
	case TaskCancelGesture:
		return "CancelGesture"
	case TaskMainCallback:
		return "MainCallback"
	default:
		return fmt.Sprintf("TaskKind(%d)", int(k))
	}
}

// handlerCall is the payload of TaskRunHandler. Event-derived values are
// computed by the caller, which may be the only goroutine able to read live
// input state.
type handlerCall struct {
	obj      Object
	name     string
	source   string
	mousePos *Point
	keyName  string
	arg      any
}

type task struct {
	kind     TaskKind
	page     Page
	call     *handlerCall
	fn       goja.Value
	args     []goja.Value
	code     string
	callback func()
}

// taskQueue is an unbounded FIFO with any number of producers and a single
// consumer. Push never blocks.
type taskQueue struct {
	mu     sync.Mutex
	tasks  []task
	closed bool
	signal chan struct{}
}

func newTaskQueue() *taskQueue {
	return &taskQueue{
		tasks:  make([]task, 0, 16),
		signal: make(chan struct{}, 1),
	}
}

// push appends t. It reports false if the queue is closed.
func (q *taskQueue) push(t task) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.tasks = append(q.tasks, t)
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

func (q *taskQueue) tryPop() (task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.tasks) == 0 {
		return task{}, false
	}
	t := q.tasks[0]
	// release references held by the backing array
	q.tasks[0] = task{}
	if len(q.tasks) == 1 {
		q.tasks = q.tasks[:0]
	} else {
		q.tasks = q.tasks[1:]
	}
	return t, true
}

// pop blocks until a task is available. It reports false once the queue is
// closed and empty.
func (q *taskQueue) pop() (task, bool) {
	for {
		if t, ok := q.tryPop(); ok {
			return t, true
		}
		q.mu.Lock()
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return task{}, false
		}
		<-q.signal
	}
}

func (q *taskQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
