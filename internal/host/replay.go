package host

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"gopkg.in/yaml.v3"

	"github.com/joeycumines/cardrunner/internal/runner"
)

// ReplayEvent is one scripted input, fed to the innermost session At
// seconds after the run starts. Exactly one of Code, Key or Message may be
// set; otherwise Handler names the handler to run on Object, or on the page
// on display when Object is empty.
type ReplayEvent struct {
	At      float64       `yaml:"at"`
	Object  string        `yaml:"object"`
	Handler string        `yaml:"handler"`
	Key     string        `yaml:"key"`
	Message string        `yaml:"message"`
	Code    string        `yaml:"code"`
	Pointer *runner.Point `yaml:"pointer"`
	Arg     any           `yaml:"arg"`
}

func (e ReplayEvent) offset() time.Duration {
	return time.Duration(e.At * float64(time.Second))
}

// LoadEvents reads a YAML event list.
func LoadEvents(path string) ([]ReplayEvent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading events: %w", err)
	}
	events, err := ParseEvents(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return events, nil
}

// ParseEvents decodes and validates an event list, normalising key names
// and ordering the events by time.
func ParseEvents(data []byte) ([]ReplayEvent, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var events []ReplayEvent
	if err := dec.Decode(&events); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decoding events: %w", err)
	}
	for i := range events {
		if err := validateEvent(&events[i]); err != nil {
			return nil, fmt.Errorf("event %d: %w", i+1, err)
		}
	}
	slices.SortStableFunc(events, func(a, b ReplayEvent) int {
		switch {
		case a.At < b.At:
			return -1
		case a.At > b.At:
			return 1
		}
		return 0
	})
	return events, nil
}

func validateEvent(e *ReplayEvent) error {
	if e.At < 0 {
		return fmt.Errorf("negative time %v", e.At)
	}
	set := 0
	for _, s := range []string{e.Code, e.Key, e.Message} {
		if s != "" {
			set++
		}
	}
	if set > 1 {
		return errors.New("code, key and message are exclusive")
	}
	switch {
	case e.Code != "":
		if e.Object != "" || e.Handler != "" {
			return errors.New("code takes no object or handler")
		}
	case e.Key != "":
		if e.Object != "" {
			return errors.New("key events go to the page")
		}
		if e.Handler != "" && e.Handler != "on_key_press" && e.Handler != "on_key_release" {
			return fmt.Errorf("handler %q does not take a key", e.Handler)
		}
		name, err := normalizeKey(e.Key)
		if err != nil {
			return err
		}
		e.Key = name
	case e.Message != "":
		if e.Object != "" || (e.Handler != "" && e.Handler != "on_message") {
			return errors.New("messages are broadcast to on_message")
		}
	default:
		if !strings.HasPrefix(e.Handler, "on_") {
			return fmt.Errorf("invalid handler %q", e.Handler)
		}
		if strings.HasPrefix(e.Handler, "on_key") {
			return fmt.Errorf("%s needs a key", e.Handler)
		}
	}
	return nil
}

// normalizeKey maps a key name onto its canonical spelling, ignoring case.
// Single characters are taken as typed.
func normalizeKey(name string) (string, error) {
	name = strings.TrimSpace(name)
	if utf8.RuneCountInString(name) == 1 {
		return name, nil
	}
	want := cases.Fold().String(name)
	for _, known := range runner.KnownKeyNames() {
		if cases.Fold().String(known) == want {
			return known, nil
		}
	}
	return "", fmt.Errorf("unknown key %q", name)
}

// replayer releases events as their time comes.
type replayer struct {
	events []ReplayEvent
	next   int
	start  time.Time
	timer  *time.Timer
}

func newReplayer(events []ReplayEvent) *replayer {
	rp := &replayer{events: events, start: time.Now()}
	rp.arm()
	return rp
}

func (rp *replayer) arm() {
	if rp.next >= len(rp.events) {
		rp.stop()
		return
	}
	d := max(rp.events[rp.next].offset()-time.Since(rp.start), 0)
	if rp.timer == nil {
		rp.timer = time.NewTimer(d)
	} else {
		rp.timer.Reset(d)
	}
}

// ready is nil once every event has been released.
func (rp *replayer) ready() <-chan time.Time {
	if rp.timer == nil {
		return nil
	}
	return rp.timer.C
}

func (rp *replayer) due() []ReplayEvent {
	elapsed := time.Since(rp.start)
	first := rp.next
	for rp.next < len(rp.events) && rp.events[rp.next].offset() <= elapsed {
		rp.next++
	}
	out := rp.events[first:rp.next]
	rp.arm()
	return out
}

func (rp *replayer) stop() {
	if rp.timer != nil {
		rp.timer.Stop()
		rp.timer = nil
	}
}

// fire delivers one event to the innermost session.
func (l *Loop) fire(ev ReplayEvent) {
	s := l.top()
	if s == nil {
		return
	}
	r := s.runner
	page := s.currentPage()
	l.logger.Debug("replaying event", "at", ev.At, "handler", ev.Handler, "object", ev.Object, "key", ev.Key)

	switch {
	case ev.Code != "":
		r.EnqueueCode(ev.Code)
	case ev.Key != "":
		kev := runner.EventForKeyName(ev.Key)
		if ev.Handler == "on_key_release" {
			r.OnKeyUp(kev)
			r.RunHandler(page, "on_key_release", &kev, nil)
			return
		}
		if r.OnKeyDown(kev) {
			r.RunHandler(page, "on_key_press", &kev, nil)
		}
	case ev.Message != "":
		r.RunHandler(page, "on_message", nil, ev.Message)
		for _, c := range page.Children() {
			if !c.Deleted() {
				r.RunHandler(c, "on_message", nil, ev.Message)
			}
		}
	default:
		var target runner.Object = page
		if ev.Object != "" {
			obj, ok := page.Find(ev.Object)
			if !ok {
				l.logger.Warn("replay target not on page", "object", ev.Object, "page", page.Name())
				return
			}
			target = obj
		}
		var rev *runner.Event
		if strings.HasPrefix(ev.Handler, "on_mouse") {
			rev = &runner.Event{}
			if ev.Pointer != nil {
				p := *ev.Pointer
				l.mouse = p
				rev.Pointer = &p
			}
			switch ev.Handler {
			case "on_mouse_press":
				l.mousePressed = true
				r.CancelGesture()
			case "on_mouse_release":
				l.mousePressed = false
			}
		}
		r.RunHandler(target, ev.Handler, rev, ev.Arg)
	}
}
