package runner

// KindPage is the Kind reported by page objects. Error paths for pages omit
// the "on card" suffix.
const KindPage = "card"

// Object is an addressable entity on a page that can carry handlers.
type Object interface {
	Name() string
	Kind() string
	// Handler returns the source of the named handler, or "".
	Handler(name string) string
	// Proxy is the value scripts see for this object.
	Proxy() any
	Deleted() bool
	// Page returns the page that owns the object. A page returns itself.
	Page() Page
}

// Page is an Object that owns other objects.
type Page interface {
	Object
	// Children returns every nested object, depth first.
	Children() []Object
}

// Document is the ordered collection of pages run together.
type Document interface {
	Pages() []Page
	Proxy() any
}

// Point is a position in page coordinates.
type Point struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// Size is a width and height pair.
type Size struct {
	Width  float64 `json:"width" yaml:"width"`
	Height float64 `json:"height" yaml:"height"`
}

// Host provides the main-thread services that handlers reach through
// built-ins. Every method is called on the main goroutine.
type Host interface {
	// Redraw flushes pending visual changes.
	Redraw()
	// ShowPage displays the page at index. The runner has already rebound
	// its environment to that page.
	ShowPage(index int)
	Alert(message string)
	// AskYesNo reports the answer, and false for ok if the question was
	// dismissed.
	AskYesNo(message string) (yes, ok bool)
	AskText(message, def string) (text string, ok bool)
	MousePosition() Point
	MousePressed() bool
	ClearFocus()
	OpenURL(url string)
	// Paste inserts the clipboard contents into the current page and
	// returns the new objects.
	Paste() []Object
	Quit()
	// RunDocument starts a nested document, reporting false if it could not
	// be found. The nested document's result arrives via Runner.DeliverReturn.
	RunDocument(path string, pageIndex int, setup any) bool
	// ReturnFromDocument ends the current document, if it was started by
	// RunDocument, handing result to the caller.
	ReturnFromDocument(result any) bool
}

// Sound is an opaque decoded audio resource.
type Sound any

// Audio loads and plays sounds for play_sound and stop_sound.
type Audio interface {
	// Resolve maps a script path to a file path, reporting whether the file
	// exists.
	Resolve(path string) (string, bool)
	Load(path string) (Sound, error)
	Play(s Sound)
	StopAll()
}

// DoneLoading is the argument of on_done_loading.
type DoneLoading struct {
	URL     string
	DidLoad bool
}

// Bounce is the argument of on_bounce.
type Bounce struct {
	Other any
	Edge  string
}

// NopHost implements Host with no visible effects. Questions are answered
// as dismissed.
type NopHost struct{}

var _ Host = NopHost{}

func (NopHost) Redraw() {}
func (NopHost) ShowPage(int) {}
func (NopHost) Alert(string) {}
func (NopHost) AskYesNo(string) (bool, bool) { return false, false }
func (NopHost) AskText(string, string) (string, bool) { return "", false }
func (NopHost) MousePosition() Point { return Point{} }
func (NopHost) MousePressed() bool { return false }
func (NopHost) ClearFocus() {}
func (NopHost) OpenURL(string) {}
func (NopHost) Paste() []Object { return nil }
func (NopHost) Quit() {}
func (NopHost) RunDocument(string, int, any) bool { return false }
func (NopHost) ReturnFromDocument(any) bool { return false }
