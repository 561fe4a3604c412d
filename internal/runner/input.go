package runner

import (
	"runtime"
	"slices"
	"sync"
	"time"
)

// Key identifies a non-character key.
type Key int

const (
	KeyNone Key = iota
	KeyReturn
	KeyEnter
	KeyTab
	KeySpace
	KeyEscape
	KeyLeft
	KeyRight
	KeyUp
	KeyDown
	KeyShift
	KeyAlt
	KeyControl
	// KeyRawControl is the physical control key where KeyControl is the
	// platform's command key.
	KeyRawControl
	KeyBackspace
	KeyCapsLock
)

// Event is the part of a native input event a handler can see.
type Event struct {
	Key  Key
	Rune rune
	// Pointer, if set, is the pointer position of a mouse event.
	Pointer *Point
}

var keyNames = buildKeyNames(runtime.GOOS)

func buildKeyNames(goos string) map[Key]string {
	m := map[Key]string{
		KeyReturn:    "Return",
		KeyEnter:     "Enter",
		KeyTab:       "Tab",
		KeySpace:     "Space",
		KeyEscape:    "Escape",
		KeyLeft:      "Left",
		KeyRight:     "Right",
		KeyUp:        "Up",
		KeyDown:      "Down",
		KeyShift:     "Shift",
		KeyAlt:       "Alt",
		KeyControl:   "Control",
		KeyBackspace: "Backspace",
		KeyCapsLock:  "CapsLock",
	}
	if goos == "darwin" {
		m[KeyAlt] = "Option"
		m[KeyControl] = "Command"
		m[KeyRawControl] = "Control"
	}
	return m
}

// KeyName is the name scripts use for the key of ev, or "" if it has none.
func KeyName(ev Event) string {
	if name, ok := keyNames[ev.Key]; ok {
		return name
	}
	if ev.Rune != 0 {
		return string(ev.Rune)
	}
	return ""
}

// KnownKeyNames lists the names of the non-character keys, sorted.
func KnownKeyNames() []string {
	names := make([]string, 0, len(keyNames))
	for _, n := range keyNames {
		names = append(names, n)
	}
	slices.Sort(names)
	return slices.Compact(names)
}

// EventForKeyName builds the event whose key name is name.
func EventForKeyName(name string) Event {
	for k, n := range keyNames {
		if n == name {
			return Event{Key: k}
		}
	}
	for _, r := range name {
		return Event{Rune: r}
	}
	return Event{}
}

// keyState is the set of held keys with the time each was pressed or last
// reported held. Written on the main goroutine, read by handlers.
type keyState struct {
	mu      sync.Mutex
	pressed []string
	timings map[string]time.Time
}

func (k *keyState) init() {
	k.timings = make(map[string]time.Time)
}

func (k *keyState) down(name string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	if slices.Contains(k.pressed, name) {
		return false
	}
	k.pressed = append(k.pressed, name)
	k.timings[name] = time.Now()
	return true
}

func (k *keyState) up(name string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	i := slices.Index(k.pressed, name)
	if i < 0 {
		return false
	}
	k.pressed = slices.Delete(k.pressed, i, i+1)
	delete(k.timings, name)
	return true
}

func (k *keyState) clear() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.pressed = nil
	clear(k.timings)
}

func (k *keyState) isPressed(name string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return slices.Contains(k.pressed, name)
}

func (k *keyState) list() []string {
	k.mu.Lock()
	defer k.mu.Unlock()
	return slices.Clone(k.pressed)
}

// holdElapsed returns the seconds since name was last reported held, and
// restarts its clock. Missing bookkeeping yields a small positive value so
// scripts can divide by it.
func (k *keyState) holdElapsed(name string) float64 {
	k.mu.Lock()
	defer k.mu.Unlock()
	last, ok := k.timings[name]
	if !ok {
		return 0.01
	}
	now := time.Now()
	k.timings[name] = now
	return now.Sub(last).Seconds()
}

// OnKeyDown records a key press, reporting whether the key was newly
// pressed.
func (r *Runner) OnKeyDown(ev Event) bool {
	name := KeyName(ev)
	if name == "" {
		return false
	}
	return r.keys.down(name)
}

// OnKeyUp records a key release.
func (r *Runner) OnKeyUp(ev Event) {
	if name := KeyName(ev); name != "" {
		r.keys.up(name)
	}
}

func (r *Runner) ClearPressedKeys() { r.keys.clear() }

// PressedKeys lists the held keys in the order they were pressed.
func (r *Runner) PressedKeys() []string { return r.keys.list() }

// releasePressedKeys delivers on_key_release for every held key. Dialogs
// call it first, because a modal dialog swallows the real key-up events.
func (r *Runner) releasePressedKeys() {
	page := r.env.page
	for _, name := range r.keys.list() {
		ev := EventForKeyName(name)
		r.OnKeyUp(ev)
		if page != nil {
			r.RunHandler(page, "on_key_release", &ev, nil)
		}
	}
}
