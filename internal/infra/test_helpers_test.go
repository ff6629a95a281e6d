package infra

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
)

var errPage = errors.New("page gone")

// fakePage answers scripts by their /*connprune:<name>*/ tag. A handler's
// return value is JSON-decoded into the caller's out, as chromedp does.
type fakePage struct {
	mu       sync.Mutex
	handlers map[string]func(script string) (any, error)
	html     string
	htmlErr  error
	calls    []string
	visited  []string
	navErr   error
	location string
	locErr   error
}

func newFakePage() *fakePage {
	return &fakePage{
		handlers: map[string]func(string) (any, error){},
		location: "https://www.facebook.com/friends/list",
	}
}

func (p *fakePage) on(tag string, fn func(script string) (any, error)) {
	p.handlers[tag] = fn
}

// returns makes tag always answer v.
func (p *fakePage) returns(tag string, v any) {
	p.on(tag, func(string) (any, error) { return v, nil })
}

func (p *fakePage) Eval(_ context.Context, script string, out any) error {
	tag := scriptTag(script)
	p.mu.Lock()
	p.calls = append(p.calls, tag)
	fn, ok := p.handlers[tag]
	p.mu.Unlock()

	if !ok {
		return errors.New("unexpected script " + tag)
	}
	v, err := fn(script)
	if err != nil || out == nil {
		return err
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func (p *fakePage) HTML(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, "html")
	return p.html, p.htmlErr
}

func (p *fakePage) Navigate(_ context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.visited = append(p.visited, url)
	if p.navErr == nil {
		p.location = url
	}
	return p.navErr
}

func (p *fakePage) Location(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.location, p.locErr
}

func (p *fakePage) count(tag string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.calls {
		if c == tag {
			n++
		}
	}
	return n
}

func scriptTag(script string) string {
	rest, ok := strings.CutPrefix(script, "/*connprune:")
	if !ok {
		return ""
	}
	tag, _, _ := strings.Cut(rest, "*/")
	return tag
}
