package document

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/joeycumines/cardrunner/internal/runner"
)

// ErrNoPages is returned for a document without pages.
var ErrNoPages = errors.New("document has no pages")

// DefaultKind is the kind of an object whose file entry names none.
const DefaultKind = "object"

type fileObject struct {
	Name       string            `yaml:"name"`
	Kind       string            `yaml:"kind"`
	Handlers   map[string]string `yaml:"handlers"`
	Properties map[string]any    `yaml:"properties"`
	Objects    []fileObject      `yaml:"objects"`
}

type fileDocument struct {
	Name       string         `yaml:"name"`
	Properties map[string]any `yaml:"properties"`
	Pages      []fileObject   `yaml:"pages"`
}

// Load reads a YAML document file.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading document: %w", err)
	}
	doc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	doc.path = path
	if doc.name == "" {
		doc.name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return doc, nil
}

// Parse decodes a YAML document. Unknown fields are rejected, as are pages
// or objects without names, two pages with the same name, and two objects
// with the same name on one page.
func Parse(data []byte) (*Document, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var fd fileDocument
	if err := dec.Decode(&fd); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decoding document: %w", err)
	}
	if len(fd.Pages) == 0 {
		return nil, ErrNoPages
	}

	doc := &Document{name: fd.Name}
	doc.proxy = newProxy(nil, fd.Name, KindStack, fd.Properties)
	seen := make(map[string]bool)
	for i, fp := range fd.Pages {
		if fp.Name == "" {
			return nil, fmt.Errorf("page %d has no name", i+1)
		}
		if seen[fp.Name] {
			return nil, fmt.Errorf("duplicate page name %q", fp.Name)
		}
		seen[fp.Name] = true
		page, err := buildPage(fp)
		if err != nil {
			return nil, fmt.Errorf("page %q: %w", fp.Name, err)
		}
		doc.pages = append(doc.pages, page)
	}
	return doc, nil
}

func buildPage(fp fileObject) (*Page, error) {
	p := &Page{}
	p.name = fp.Name
	p.kind = runner.KindPage
	p.handlers = fp.Handlers
	p.proxy = newProxy(&p.Object, fp.Name, runner.KindPage, fp.Properties)

	names := make(map[string]bool)
	var build func([]fileObject) ([]*Object, error)
	build = func(fos []fileObject) ([]*Object, error) {
		var out []*Object
		for _, fo := range fos {
			if fo.Name == "" {
				return nil, errors.New("object has no name")
			}
			if names[fo.Name] {
				return nil, fmt.Errorf("duplicate object name %q", fo.Name)
			}
			names[fo.Name] = true
			kind := fo.Kind
			switch kind {
			case "":
				kind = DefaultKind
			case runner.KindPage, KindStack:
				return nil, fmt.Errorf("object %q: kind %q is reserved", fo.Name, kind)
			}
			o := &Object{name: fo.Name, kind: kind, handlers: fo.Handlers, page: p}
			o.proxy = newProxy(o, fo.Name, kind, fo.Properties)
			children, err := build(fo.Objects)
			if err != nil {
				return nil, err
			}
			o.children = children
			out = append(out, o)
		}
		return out, nil
	}
	objects, err := build(fp.Objects)
	if err != nil {
		return nil, err
	}
	p.objects = objects
	return p, nil
}
