// Package goroutineid identifies goroutines, so that code pinned to one
// goroutine (the host's main loop, the script execution goroutine) can tell
// whether it is already running there.
package goroutineid

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// Only the header line of the trace is needed.
var headerPool = sync.Pool{
	New: func() any {
		b := make([]byte, 64)
		return &b
	},
}

// Get returns the ID of the calling goroutine, or 0 if it cannot be
// determined.
func Get() int64 {
	bp := headerPool.Get().(*[]byte)
	defer headerPool.Put(bp)
	n := runtime.Stack(*bp, false)
	return parseHeader((*bp)[:n])
}

// parseHeader reads the ID out of a "goroutine 123 [running]:" header. It
// works on the raw bytes and does not allocate.
func parseHeader(stack []byte) int64 {
	const prefix = "goroutine "
	if len(stack) <= len(prefix) || string(stack[:len(prefix)]) != prefix {
		return 0
	}
	var id int64
	digits := 0
	for _, b := range stack[len(prefix):] {
		if b < '0' || b > '9' {
			break
		}
		id = id*10 + int64(b-'0')
		digits++
	}
	if digits == 0 {
		return 0
	}
	return id
}

// Owner records the goroutine that owns some resource. The zero value is
// unowned. All methods are safe for concurrent use.
type Owner struct {
	id atomic.Int64
}

// Claim makes the calling goroutine the owner.
func (o *Owner) Claim() {
	o.id.Store(Get())
}

// Release clears ownership.
func (o *Owner) Release() {
	o.id.Store(0)
}

// Claimed reports whether any goroutine owns the resource.
func (o *Owner) Claimed() bool {
	return o.id.Load() != 0
}

// IsCurrent reports whether the calling goroutine is the owner.
func (o *Owner) IsCurrent() bool {
	id := o.id.Load()
	return id != 0 && id == Get()
}
