package runner

import (
	"fmt"
	"math"
	"time"

	"github.com/dop251/goja"
	"github.com/lucasb-eyer/go-colorful"
)

func (r *Runner) installBuiltins() {
	for name, fn := range map[string]func(goja.FunctionCall) goja.Value{
		"wait":                      r.builtinWait,
		"run_after_delay":           r.builtinRunAfterDelay,
		"time":                      r.builtinTime,
		"distance":                  r.builtinDistance,
		"paste":                     r.builtinPaste,
		"alert":                     r.builtinAlert,
		"ask_yes_no":                r.builtinAskYesNo,
		"ask_text":                  r.builtinAskText,
		"goto_card":                 r.builtinGotoCard,
		"goto_next_card":            r.builtinGotoNextCard,
		"goto_previous_card":        r.builtinGotoPreviousCard,
		"run_stack":                 r.builtinRunStack,
		"return_from_stack":         r.builtinReturnFromStack,
		"open_url":                  r.builtinOpenURL,
		"play_sound":                r.builtinPlaySound,
		"stop_sound":                r.builtinStopSound,
		"broadcast_message":         r.builtinBroadcastMessage,
		"is_key_pressed":            r.builtinIsKeyPressed,
		"is_mouse_pressed":          r.builtinIsMousePressed,
		"is_using_touch_screen":     r.builtinIsUsingTouchScreen,
		"get_mouse_pos":             r.builtinGetMousePos,
		"clear_focus":               r.builtinClearFocus,
		"quit":                      r.builtinQuit,
		"stop_handling_mouse_event": r.builtinStopHandlingMouseEvent,
		"ColorRGB":                  r.builtinColorRGB,
		"ColorHSB":                  r.builtinColorHSB,
		"Point":                     r.builtinPoint,
		"Size":                      r.builtinSize,
	} {
		if err := r.vm.Set(name, fn); err != nil {
			r.logger.Error("failed to install built-in", "name", name, "error", err)
		}
	}
}

// Script errors are raised by panicking with a script value, which the
// runtime turns into a throw.

func (r *Runner) throwTypeError(format string, args ...any) {
	panic(r.vm.NewTypeError("%s", fmt.Sprintf(format, args...)))
}

func (r *Runner) throwValueError(format string, args ...any) {
	r.throwNew(r.valueError, fmt.Sprintf(format, args...))
}

func (r *Runner) throwError(format string, args ...any) {
	r.throwNew(r.vm.Get("Error"), fmt.Sprintf(format, args...))
}

func (r *Runner) throwNew(ctor goja.Value, msg string) {
	obj, err := r.vm.New(ctor, r.vm.ToValue(msg))
	if err != nil {
		panic(r.vm.NewGoError(err))
	}
	panic(obj)
}

func isAbsent(v goja.Value) bool {
	return v == nil || goja.IsUndefined(v) || goja.IsNull(v)
}

// number accepts only script numbers.
func number(v goja.Value) (float64, bool) {
	if isAbsent(v) {
		return 0, false
	}
	switch x := v.Export().(type) {
	case int64:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}

// seconds accepts anything that converts to a number, as a duration.
func seconds(v goja.Value) (float64, bool) {
	if isAbsent(v) {
		return 0, false
	}
	f := v.ToFloat()
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func str(v goja.Value) (string, bool) {
	if isAbsent(v) {
		return "", false
	}
	s, ok := v.Export().(string)
	return s, ok
}

func export(v goja.Value) any {
	if isAbsent(v) {
		return nil
	}
	return v.Export()
}

func (r *Runner) builtinWait(call goja.FunctionCall) goja.Value {
	s, ok := seconds(call.Argument(0))
	if !ok {
		r.throwTypeError("wait(): delay must be a number")
	}
	r.post(r.host.Redraw)
	r.sleep(time.Duration(s * float64(time.Second)))
	return goja.Undefined()
}

// sleep waits in slices, returning early once the runner is stopping.
func (r *Runner) sleep(d time.Duration) {
	end := time.Now().Add(d)
	for {
		remaining := time.Until(end)
		if remaining <= 0 || r.isStopping() {
			return
		}
		t := time.NewTimer(min(remaining, r.opts.waitSlice))
		select {
		case <-t.C:
		case <-r.stopCtx.Done():
			t.Stop()
			return
		}
	}
}

func (r *Runner) builtinRunAfterDelay(call goja.FunctionCall) goja.Value {
	s, ok := seconds(call.Argument(0))
	if !ok {
		r.throwTypeError("run_after_delay(): duration must be a number")
	}
	fn := call.Argument(1)
	if _, ok := goja.AssertFunction(fn); !ok {
		r.throwTypeError("run_after_delay(): func must be a function")
	}
	var args []goja.Value
	if len(call.Arguments) > 2 {
		args = append(args, call.Arguments[2:]...)
	}
	r.runAfterDelay(s, fn, args)
	return goja.Undefined()
}

func (r *Runner) builtinTime(goja.FunctionCall) goja.Value {
	return r.vm.ToValue(float64(time.Now().UnixNano()) / 1e9)
}

// pointArg reads a Point, any object with numeric x and y, or a list of two
// numbers.
func (r *Runner) pointArg(v goja.Value) (Point, bool) {
	if isAbsent(v) {
		return Point{}, false
	}
	switch p := v.Export().(type) {
	case Point:
		return p, true
	case *Point:
		return *p, p != nil
	}
	obj, ok := v.(*goja.Object)
	if !ok {
		return Point{}, false
	}
	for _, keys := range [][2]string{{"x", "y"}, {"0", "1"}} {
		x, okX := number(obj.Get(keys[0]))
		y, okY := number(obj.Get(keys[1]))
		if okX && okY {
			return Point{X: x, Y: y}, true
		}
	}
	return Point{}, false
}

func (r *Runner) builtinDistance(call goja.FunctionCall) goja.Value {
	a, ok := r.pointArg(call.Argument(0))
	if !ok {
		r.throwValueError("distance(): pointA must be a point or a list of two numbers")
	}
	b, ok := r.pointArg(call.Argument(1))
	if !ok {
		r.throwValueError("distance(): pointB must be a point or a list of two numbers")
	}
	return r.vm.ToValue(math.Hypot(b.X-a.X, b.Y-a.Y))
}

func (r *Runner) builtinPaste(goja.FunctionCall) goja.Value {
	objs, _ := r.call(func() any { return r.host.Paste() }).([]Object)
	proxies := make([]any, 0, len(objs))
	for _, obj := range objs {
		r.RunHandler(obj, "on_setup", nil, nil)
		proxies = append(proxies, obj.Proxy())
	}
	return r.vm.ToValue(proxies)
}

func (r *Runner) builtinAlert(call goja.FunctionCall) goja.Value {
	if r.isStopping() {
		return goja.Undefined()
	}
	msg := call.Argument(0).String()
	r.releasePressedKeys()
	r.call(func() any {
		r.host.Alert(msg)
		return nil
	})
	return goja.Undefined()
}

type answer[T any] struct {
	value T
	ok    bool
}

func (r *Runner) builtinAskYesNo(call goja.FunctionCall) goja.Value {
	if r.isStopping() {
		return goja.Null()
	}
	msg := call.Argument(0).String()
	r.releasePressedKeys()
	a, _ := r.call(func() any {
		yes, ok := r.host.AskYesNo(msg)
		return answer[bool]{yes, ok}
	}).(answer[bool])
	if !a.ok {
		return goja.Null()
	}
	return r.vm.ToValue(a.value)
}

func (r *Runner) builtinAskText(call goja.FunctionCall) goja.Value {
	if r.isStopping() {
		return goja.Null()
	}
	msg := call.Argument(0).String()
	def := ""
	if v := call.Argument(1); !isAbsent(v) {
		def = v.String()
	}
	r.releasePressedKeys()
	a, _ := r.call(func() any {
		text, ok := r.host.AskText(msg, def)
		return answer[string]{text, ok}
	}).(answer[string])
	if !a.ok {
		return goja.Null()
	}
	return r.vm.ToValue(a.value)
}

func (r *Runner) builtinGotoCard(call goja.FunctionCall) goja.Value {
	pages := r.doc.Pages()
	v := call.Argument(0)
	index := -1
	name := ""
	found := false

	if s, ok := str(v); ok {
		name = s
	} else if n, ok := number(v); ok && n == math.Trunc(n) {
		index, found = int(n)-1, true
	} else if !isAbsent(v) {
		target := v.Export()
		for i, p := range pages {
			if p.Proxy() == target {
				index, found = i, true
				break
			}
		}
		if !found {
			r.throwTypeError("goto_card(): card must be card object, a string, or an int")
		}
	} else {
		r.throwTypeError("goto_card(): card must be card object, a string, or an int")
	}

	if !found {
		for i, p := range pages {
			if p.Name() == name {
				index, found = i, true
				break
			}
		}
		if !found {
			r.throwValueError("goto_card(): cardName '%s' does not exist", name)
		}
	}
	if index < 0 || index >= len(pages) {
		r.throwValueError("goto_card(): card number %d does not exist", index+1)
	}
	r.gotoPage(index)
	return goja.Undefined()
}

func (r *Runner) builtinGotoNextCard(goja.FunctionCall) goja.Value {
	n := len(r.doc.Pages())
	r.gotoPage((r.pageIndex + 1) % n)
	return goja.Undefined()
}

func (r *Runner) builtinGotoPreviousCard(goja.FunctionCall) goja.Value {
	n := len(r.doc.Pages())
	r.gotoPage((r.pageIndex - 1 + n) % n)
	return goja.Undefined()
}

// gotoPage switches pages from inside a handler: the old page hears
// on_hide_card, the environment is rebound, the host is told, and the new
// page hears on_show_card, all before the calling handler continues.
func (r *Runner) gotoPage(index int) {
	pages := r.doc.Pages()
	if index == r.pageIndex && r.env.page != nil {
		return
	}
	if old := r.env.page; old != nil {
		r.RunHandler(old, "on_hide_card", nil, nil)
	}
	page := pages[index]
	r.setupPage(page)
	r.post(func() { r.host.ShowPage(index) })
	r.RunHandler(page, "on_show_card", nil, nil)
}

func (r *Runner) builtinRunStack(call goja.FunctionCall) goja.Value {
	if r.isStopping() {
		return goja.Null()
	}
	path := call.Argument(0).String()
	pageNum := 1
	if n, ok := number(call.Argument(1)); ok {
		pageNum = int(n)
	}
	setup := export(call.Argument(2))

	select {
	case <-r.returns:
	default:
	}
	ok, _ := r.call(func() any { return r.host.RunDocument(path, pageNum-1, setup) }).(bool)
	if !ok {
		if r.isStopping() {
			panic(r.sentinel)
		}
		r.throwError("run_stack(): Couldn't find stack '%s'.", path)
	}
	select {
	case v := <-r.returns:
		if r.isStopping() {
			panic(r.sentinel)
		}
		return r.vm.ToValue(v)
	case <-r.stopCtx.Done():
		panic(r.sentinel)
	}
}

func (r *Runner) builtinReturnFromStack(call goja.FunctionCall) goja.Value {
	result := export(call.Argument(0))
	if ok, _ := r.call(func() any { return r.host.ReturnFromDocument(result) }).(bool); ok {
		panic(r.sentinel)
	}
	return goja.Undefined()
}

func (r *Runner) builtinOpenURL(call goja.FunctionCall) goja.Value {
	url, ok := str(call.Argument(0))
	if !ok {
		r.throwTypeError("open_url(): URL must be a string")
	}
	r.post(func() { r.host.OpenURL(url) })
	return goja.Undefined()
}

func (r *Runner) builtinPlaySound(call goja.FunctionCall) goja.Value {
	path, ok := str(call.Argument(0))
	if !ok {
		r.throwTypeError("play_sound(): filepath must be a string")
	}
	if r.isStopping() {
		return goja.Undefined()
	}
	resolved, exists := r.opts.audio.Resolve(path)
	if !exists {
		r.throwValueError("play_sound(): No file at '%s'", resolved)
	}
	s, err := r.loadSound(resolved)
	if err != nil {
		r.logger.Debug("sound failed to load", "path", resolved, "error", err)
		r.throwValueError("play_sound(): Couldn't read audio file at '%s'", resolved)
	}
	r.opts.audio.Play(s)
	return goja.Undefined()
}

func (r *Runner) builtinStopSound(goja.FunctionCall) goja.Value {
	r.opts.audio.StopAll()
	return goja.Undefined()
}

func (r *Runner) builtinBroadcastMessage(call goja.FunctionCall) goja.Value {
	msg, ok := str(call.Argument(0))
	if !ok {
		r.throwTypeError("broadcast_message(): message must be a string")
	}
	page := r.env.page
	if page == nil {
		return goja.Undefined()
	}
	r.RunHandler(page, "on_message", nil, msg)
	for _, obj := range page.Children() {
		if !obj.Deleted() {
			r.RunHandler(obj, "on_message", nil, msg)
		}
	}
	return goja.Undefined()
}

func (r *Runner) builtinIsKeyPressed(call goja.FunctionCall) goja.Value {
	name, ok := str(call.Argument(0))
	if !ok {
		r.throwTypeError("is_key_pressed(): name must be a string")
	}
	return r.vm.ToValue(r.keys.isPressed(name))
}

func (r *Runner) builtinIsMousePressed(goja.FunctionCall) goja.Value {
	pressed, _ := r.call(func() any { return r.host.MousePressed() }).(bool)
	return r.vm.ToValue(pressed)
}

func (r *Runner) builtinIsUsingTouchScreen(goja.FunctionCall) goja.Value {
	return r.vm.ToValue(false)
}

func (r *Runner) builtinGetMousePos(goja.FunctionCall) goja.Value {
	p, _ := r.call(func() any { return r.host.MousePosition() }).(Point)
	return r.vm.ToValue(p)
}

func (r *Runner) builtinClearFocus(goja.FunctionCall) goja.Value {
	r.post(r.host.ClearFocus)
	return goja.Undefined()
}

func (r *Runner) builtinQuit(goja.FunctionCall) goja.Value {
	r.post(func() {
		if !r.isStopping() {
			r.host.Quit()
		}
	})
	return goja.Undefined()
}

func (r *Runner) builtinStopHandlingMouseEvent(goja.FunctionCall) goja.Value {
	r.suppressPointer.Store(true)
	return goja.Undefined()
}

// unitArgs reads numbers in [0, 1], raising a TypeError that names the
// first bad parameter.
func (r *Runner) unitArgs(fn string, call goja.FunctionCall, names ...string) []float64 {
	out := make([]float64, len(names))
	for i, name := range names {
		n, ok := number(call.Argument(i))
		if !ok || n < 0 || n > 1 {
			r.throwTypeError("%s(): %s must be a number between 0 and 1", fn, name)
		}
		out[i] = n
	}
	return out
}

func hexColor(red, green, blue float64) string {
	return fmt.Sprintf("#%02X%02X%02X", int(red*255), int(green*255), int(blue*255))
}

func (r *Runner) builtinColorRGB(call goja.FunctionCall) goja.Value {
	c := r.unitArgs("ColorRGB", call, "red", "green", "blue")
	return r.vm.ToValue(hexColor(c[0], c[1], c[2]))
}

func (r *Runner) builtinColorHSB(call goja.FunctionCall) goja.Value {
	c := r.unitArgs("ColorHSB", call, "hue", "saturation", "brightness")
	// a hue of 1 wraps to red
	rgb := colorful.Hsv(math.Mod(c[0]*360, 360), c[1], c[2])
	return r.vm.ToValue(hexColor(rgb.R, rgb.G, rgb.B))
}

func (r *Runner) builtinPoint(call goja.FunctionCall) goja.Value {
	x, ok := number(call.Argument(0))
	if !ok {
		r.throwTypeError("Point(): x must be a number")
	}
	y, ok := number(call.Argument(1))
	if !ok {
		r.throwTypeError("Point(): y must be a number")
	}
	return r.vm.ToValue(Point{X: x, Y: y})
}

func (r *Runner) builtinSize(call goja.FunctionCall) goja.Value {
	w, ok := number(call.Argument(0))
	if !ok {
		r.throwTypeError("Size(): width must be a number")
	}
	h, ok := number(call.Argument(1))
	if !ok {
		r.throwTypeError("Size(): height must be a number")
	}
	return r.vm.ToValue(Size{Width: w, Height: h})
}
