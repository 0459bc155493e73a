// Package page holds the host document the pipeline scans and annotates.
package page

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// ErrDetached is returned by every accessor once the page has been closed.
var ErrDetached = errors.New("page is detached")

// UserAgent identifies buloradar when fetching pages.
const UserAgent = "buloradar/1.0 (content flagging pipeline)"

// Page is a parsed HTML document plus the URL it came from. Reads and writes
// are serialized with an RW lock; goquery documents are not safe for
// concurrent mutation.
type Page struct {
	mu        sync.RWMutex
	url       string
	doc       *goquery.Document
	closed    bool
	observers []func()
	preserved []preserveRule
}

type preserveRule struct {
	selector string
	parent   string
}

// New wraps an already parsed document.
func New(url string, doc *goquery.Document) *Page {
	return &Page{url: url, doc: doc}
}

// Parse builds a page from raw HTML.
func Parse(url string, r io.Reader) (*Page, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	return New(url, doc), nil
}

// Open loads a page from a local HTML file. The page URL is a file:// URL.
func Open(path string) (*Page, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open page: %w", err)
	}
	defer f.Close()

	return Parse("file://"+path, f)
}

// Fetch downloads and parses a page. A nil client gets a 10 second timeout.
func Fetch(ctx context.Context, client *http.Client, url string) (*Page, error) {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", UserAgent)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP error: %d %s", resp.StatusCode, resp.Status)
	}

	return Parse(url, resp.Body)
}

// URL returns the address the page was loaded from.
func (p *Page) URL() string {
	return p.url
}

// Observe registers fn to run after every Mutate or Reload.
func (p *Page) Observe(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observers = append(p.observers, fn)
}

// Preserve marks nodes matching selector to be carried over by Reload. They
// are re-appended under the first node matching parent.
func (p *Page) Preserve(selector, parent string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, rule := range p.preserved {
		if rule.selector == selector {
			return
		}
	}
	p.preserved = append(p.preserved, preserveRule{selector: selector, parent: parent})
}

// View runs fn with read access to the document.
func (p *Page) View(fn func(doc *goquery.Document)) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrDetached
	}
	fn(p.doc)
	return nil
}

// Update runs fn with write access without notifying observers. It is meant
// for annotations the pipeline makes itself, which must not trigger a rescan.
func (p *Page) Update(fn func(doc *goquery.Document) error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrDetached
	}
	return fn(p.doc)
}

// Mutate runs fn with write access and then notifies observers, the way a
// host script changing the DOM would.
func (p *Page) Mutate(fn func(doc *goquery.Document)) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrDetached
	}
	fn(p.doc)
	observers := p.observers
	p.mu.Unlock()

	notify(observers)
	return nil
}

// Reload replaces the document with freshly parsed HTML, keeping preserved
// nodes, and notifies observers.
func (p *Page) Reload(r io.Reader) error {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return fmt.Errorf("failed to parse HTML: %w", err)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrDetached
	}
	for _, rule := range p.preserved {
		var kept []string
		p.doc.Find(rule.selector).Each(func(_ int, s *goquery.Selection) {
			if html, err := goquery.OuterHtml(s); err == nil {
				kept = append(kept, html)
			}
		})
		if len(kept) == 0 {
			continue
		}
		doc.Find(rule.selector).Remove()
		parent := doc.Find(rule.parent).First()
		for _, html := range kept {
			parent.AppendHtml(html)
		}
	}
	p.doc = doc
	observers := p.observers
	p.mu.Unlock()

	notify(observers)
	return nil
}

// HTML serializes the current document.
func (p *Page) HTML() (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return "", ErrDetached
	}
	return p.doc.Html()
}

// Close detaches the page. Pending work that touches it afterwards becomes a
// no-op.
func (p *Page) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.observers = nil
}

// Closed reports whether Close has been called.
func (p *Page) Closed() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.closed
}

func notify(observers []func()) {
	for _, fn := range observers {
		fn()
	}
}
