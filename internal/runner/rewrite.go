package runner

import (
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
)

// returnSignal is the global thrown in place of a top-level return. It is
// caught at the invocation boundary and reported as EarlyReturn.
const returnSignal = "__handler_return__"

// keywordHint is a cheap test for source the rewriter would leave alone.
var keywordHint = regexp.MustCompile(`\b(?:return|let|const|class)\b`)

// Rewriter prepares handler source for repeated runs against one global
// scope. Top-level return statements become throws of the return signal,
// and top-level let, const and class declarations become var, so running
// a handler again does not redeclare its names. Output is line-for-line
// with the input, so positions reported against rewritten code hold for
// the original. Results are memoised by source text.
type Rewriter struct {
	mu     sync.Mutex
	cache  map[string]string
	hits   atomic.Int64
	misses atomic.Int64
}

func NewRewriter() *Rewriter {
	return &Rewriter{cache: make(map[string]string)}
}

// Rewrite returns src with every top-level return and lexical declaration
// replaced.
func (w *Rewriter) Rewrite(src string) string {
	if !keywordHint.MatchString(src) {
		return src
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if out, ok := w.cache[src]; ok {
		w.hits.Add(1)
		return out
	}
	w.misses.Add(1)
	out := rewriteSource(src)
	w.cache[src] = out
	return out
}

// Stats reports cache hits and misses.
func (w *Rewriter) Stats() (hits, misses int64) {
	return w.hits.Load(), w.misses.Load()
}

// Reset drops the cache.
func (w *Rewriter) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	clear(w.cache)
}

type scopeKind uint8

const (
	parenScope scopeKind = iota
	bracketScope
	blockScope
	funcScope
	// templateScope is a ${...} substitution inside a template literal.
	templateScope
)

type scope struct {
	kind scopeKind
	// owner is the word before a parenthesised group.
	owner string
}

type tokenKind uint8

const (
	noToken tokenKind = iota
	wordToken
	valueToken
	punctToken
)

type token struct {
	kind tokenKind
	text string
}

// controlWords own a parenthesised group that is followed by a plain block
// rather than a function body.
var controlWords = map[string]bool{
	"if": true, "for": true, "while": true, "switch": true, "catch": true, "with": true,
}

// regexAfterWords are the keywords after which a slash opens a regular
// expression literal.
var regexAfterWords = map[string]bool{
	"return": true, "typeof": true, "instanceof": true, "in": true, "of": true,
	"new": true, "delete": true, "void": true, "throw": true, "case": true,
	"do": true, "else": true, "yield": true, "await": true,
}

// sourceScanner walks handler source once, skipping string, template and
// regular expression literals and comments, and tracking the brackets
// that enclose each position.
type sourceScanner struct {
	src    string
	pos    int
	out    strings.Builder
	copied int
	scopes []scope
	prev   token
	// newline is set when a line break follows prev.
	newline bool
	// closedOwner is the owner of the last closed parenthesised group.
	closedOwner string
}

func rewriteSource(src string) string {
	s := &sourceScanner{src: src}
	s.run()
	s.out.WriteString(src[s.copied:])
	return s.out.String()
}

func (s *sourceScanner) run() {
	for s.pos < len(s.src) {
		c := s.src[s.pos]
		switch {
		case c == '\n':
			s.newline = true
			s.pos++
		case c == ' ' || c == '\t' || c == '\r' || c == '\f' || c == '\v':
			s.pos++
		case strings.HasPrefix(s.src[s.pos:], "//"):
			s.skipLineComment()
		case strings.HasPrefix(s.src[s.pos:], "/*"):
			s.skipBlockComment()
		case c == '"' || c == '\'':
			s.skipString(c)
			s.setPrev(valueToken, "")
		case c == '`':
			s.pos++
			s.template()
		case c == '/' && s.regexAllowed():
			s.skipRegex()
			s.setPrev(valueToken, "")
		case c >= '0' && c <= '9':
			for s.pos < len(s.src) && (isWordPart(s.src[s.pos]) || s.src[s.pos] == '.') {
				s.pos++
			}
			s.setPrev(valueToken, "")
		case isWordStart(c):
			s.word()
		default:
			s.punct(c)
		}
	}
}

func (s *sourceScanner) setPrev(kind tokenKind, text string) {
	s.prev = token{kind: kind, text: text}
	s.newline = false
}

func (s *sourceScanner) replace(start, end int, repl string) {
	s.out.WriteString(s.src[s.copied:start])
	s.out.WriteString(repl)
	s.copied = end
}

func (s *sourceScanner) push(kind scopeKind, owner string) {
	s.scopes = append(s.scopes, scope{kind: kind, owner: owner})
}

func (s *sourceScanner) pop() (scope, bool) {
	if len(s.scopes) == 0 {
		return scope{}, false
	}
	sc := s.scopes[len(s.scopes)-1]
	s.scopes = s.scopes[:len(s.scopes)-1]
	return sc, true
}

func (s *sourceScanner) inFunction() bool {
	for _, sc := range s.scopes {
		if sc.kind == funcScope {
			return true
		}
	}
	return false
}

func (s *sourceScanner) word() {
	start := s.pos
	for s.pos < len(s.src) && isWordPart(s.src[s.pos]) {
		s.pos++
	}
	w := s.src[start:s.pos]
	if s.prev.kind != punctToken || s.prev.text != "." {
		switch w {
		case "return":
			if !s.inFunction() && s.peek() != ':' {
				s.replace(start, s.pos, s.returnReplacement())
			}
		case "let", "const":
			if len(s.scopes) == 0 && s.statementStart() && s.declares() {
				// padded so later columns on the line stay put
				s.replace(start, s.pos, "var"+strings.Repeat(" ", len(w)-3))
			}
		case "class":
			if len(s.scopes) == 0 && s.statementStart() {
				if name := s.nextWord(); name != "" && name != "extends" {
					s.replace(start, s.pos, "var "+name+" = class")
				}
			}
		}
	}
	s.setPrev(wordToken, w)
}

func (s *sourceScanner) punct(c byte) {
	s.pos++
	switch c {
	case '(':
		owner := ""
		if s.prev.kind == wordToken {
			owner = s.prev.text
		}
		s.push(parenScope, owner)
	case '[':
		s.push(bracketScope, "")
	case ')', ']':
		if sc, ok := s.pop(); ok && c == ')' {
			s.closedOwner = sc.owner
		}
	case '{':
		kind := blockScope
		if s.prev.kind == punctToken {
			switch {
			case s.prev.text == ")" && !controlWords[s.closedOwner]:
				kind = funcScope
			case s.prev.text == "=>":
				kind = funcScope
			}
		}
		s.push(kind, "")
	case '}':
		if sc, ok := s.pop(); ok && sc.kind == templateScope {
			s.template()
			return
		}
	case '=':
		if s.pos < len(s.src) && s.src[s.pos] == '>' {
			s.pos++
			s.setPrev(punctToken, "=>")
			return
		}
	}
	s.setPrev(punctToken, string(c))
}

// template scans template literal text up to its closing backtick, or up
// to a substitution, whose code is scanned like any other until the brace
// that closes it.
func (s *sourceScanner) template() {
	for s.pos < len(s.src) {
		switch s.src[s.pos] {
		case '\\':
			s.pos += 2
		case '`':
			s.pos++
			s.setPrev(valueToken, "")
			return
		case '$':
			s.pos++
			if s.pos < len(s.src) && s.src[s.pos] == '{' {
				s.pos++
				s.push(templateScope, "")
				s.setPrev(punctToken, "{")
				return
			}
		default:
			s.pos++
		}
	}
}

func (s *sourceScanner) skipString(quote byte) {
	s.pos++
	for s.pos < len(s.src) {
		c := s.src[s.pos]
		s.pos++
		switch c {
		case '\\':
			s.pos++
		case quote, '\n':
			return
		}
	}
}

func (s *sourceScanner) skipRegex() {
	s.pos++
	inClass := false
	for s.pos < len(s.src) && s.src[s.pos] != '\n' {
		c := s.src[s.pos]
		s.pos++
		switch {
		case c == '\\':
			s.pos++
		case c == '[':
			inClass = true
		case c == ']':
			inClass = false
		case c == '/' && !inClass:
			for s.pos < len(s.src) && isWordPart(s.src[s.pos]) {
				s.pos++
			}
			return
		}
	}
}

func (s *sourceScanner) skipLineComment() {
	if i := strings.IndexByte(s.src[s.pos:], '\n'); i >= 0 {
		s.pos += i
		return
	}
	s.pos = len(s.src)
}

func (s *sourceScanner) skipBlockComment() {
	body := s.src[s.pos+2:]
	end := strings.Index(body, "*/")
	if end < 0 {
		end = len(body)
		s.pos = len(s.src)
	} else {
		s.pos += end + 4
	}
	if strings.Contains(body[:end], "\n") {
		s.newline = true
	}
}

func (s *sourceScanner) regexAllowed() bool {
	switch s.prev.kind {
	case noToken:
		return true
	case valueToken:
		return false
	case wordToken:
		return regexAfterWords[s.prev.text]
	}
	switch s.prev.text {
	case ")", "]", "}":
		return false
	}
	return true
}

// statementStart reports whether the current word begins a statement.
func (s *sourceScanner) statementStart() bool {
	if s.prev.kind == noToken || s.newline {
		return true
	}
	return s.prev.kind == punctToken && (s.prev.text == ";" || s.prev.text == "}")
}

// declares reports whether let or const at the current position opens a
// declaration, as opposed to a variable named let.
func (s *sourceScanner) declares() bool {
	c := s.peek()
	return isWordStart(c) || c == '[' || c == '{'
}

// peek returns the next byte on the line after spaces and tabs, or 0.
func (s *sourceScanner) peek() byte {
	i := s.skipBlanks(s.pos)
	if i < len(s.src) {
		return s.src[i]
	}
	return 0
}

func (s *sourceScanner) nextWord() string {
	i := s.skipBlanks(s.pos)
	j := i
	for j < len(s.src) && isWordPart(s.src[j]) {
		j++
	}
	if j == i || !isWordStart(s.src[i]) {
		return ""
	}
	return s.src[i:j]
}

func (s *sourceScanner) skipBlanks(i int) int {
	for i < len(s.src) && (s.src[i] == ' ' || s.src[i] == '\t') {
		i++
	}
	return i
}

// returnReplacement picks the throw that stands in for the return keyword
// just scanned. A return with a value keeps the value as the unevaluated
// right operand of ||, so the line still parses.
func (s *sourceScanner) returnReplacement() string {
	i := s.pos
scan:
	for i < len(s.src) {
		switch {
		case s.src[i] == ' ' || s.src[i] == '\t':
			i++
		case strings.HasPrefix(s.src[i:], "/*"):
			end := strings.Index(s.src[i+2:], "*/")
			if end < 0 || strings.Contains(s.src[i+2:i+2+end], "\n") {
				return "throw " + returnSignal + ";"
			}
			i += end + 4
		default:
			break scan
		}
	}
	rest := s.src[i:]
	switch {
	case rest == "" || rest[0] == '\n' || rest[0] == '\r' || strings.HasPrefix(rest, "//"):
		return "throw " + returnSignal + ";"
	case rest[0] == ';' || rest[0] == '}':
		return "throw " + returnSignal
	}
	return "throw " + returnSignal + " ||"
}

func isWordStart(c byte) bool {
	return c == '_' || c == '$' || c >= 0x80 || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isWordPart(c byte) bool {
	return isWordStart(c) || (c >= '0' && c <= '9')
}
