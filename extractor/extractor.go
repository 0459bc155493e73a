// Package extractor walks a parsed page and yields the text and image units
// worth classifying.
package extractor

import (
	"errors"
	"fmt"
	"iter"
	"net/url"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/pevans/buloradar/content"
)

// Config selects which elements are candidates. Text shorter than
// MinTextLength runes is dropped so labels and buttons never reach the
// classifier. Nothing inside an element matching ExcludeSelectors is
// extracted.
type Config struct {
	TextSelectors    []string `yaml:"text_selectors" json:"text_selectors"`
	ImageSelectors   []string `yaml:"image_selectors" json:"image_selectors"`
	ExcludeSelectors []string `yaml:"exclude_selectors" json:"exclude_selectors"`
	MinTextLength    int      `yaml:"min_text_length" json:"min_text_length"`
}

// DefaultConfig matches the elements social networks and news sites put
// claims in.
func DefaultConfig() Config {
	return Config{
		TextSelectors:  []string{"p", "h1", "h2", "h3", "article", ".tweet-text", ".css-901oao"},
		ImageSelectors: []string{"img"},
		MinTextLength:  20,
	}
}

// Validate checks that every selector compiles.
func (c Config) Validate() error {
	if len(c.TextSelectors) == 0 && len(c.ImageSelectors) == 0 {
		return errors.New("at least one text or image selector is required")
	}
	if c.MinTextLength < 0 {
		return fmt.Errorf("min_text_length must not be negative (got %d)", c.MinTextLength)
	}
	for _, sel := range slices.Concat(c.TextSelectors, c.ImageSelectors, c.ExcludeSelectors) {
		if _, err := cascadia.ParseGroup(sel); err != nil {
			return fmt.Errorf("invalid selector %q: %w", sel, err)
		}
	}
	return nil
}

// Extractor yields units from documents. It holds no state besides its
// configuration and is safe for concurrent use.
type Extractor struct {
	config       Config
	textQuery    string
	imageQuery   string
	excludeQuery string
}

// New creates an extractor. The config is validated up front so Extract
// never has to deal with a broken selector.
func New(config Config) (*Extractor, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Extractor{
		config:       config,
		textQuery:    strings.Join(config.TextSelectors, ", "),
		imageQuery:   strings.Join(config.ImageSelectors, ", "),
		excludeQuery: strings.Join(config.ExcludeSelectors, ", "),
	}, nil
}

// Extract returns a lazy sequence of units found in doc: text units first,
// then images, each in document order. Ranging over it again re-walks the
// document. sourceURL is stamped on every unit and used to resolve relative
// image sources.
func (e *Extractor) Extract(doc *goquery.Document, sourceURL string) iter.Seq[content.Unit] {
	return func(yield func(content.Unit) bool) {
		if e.textQuery != "" {
			for _, s := range doc.Find(e.textQuery).EachIter() {
				if e.excluded(s) {
					continue
				}
				text := normalizeText(e.text(s))
				if text == "" || utf8.RuneCountInString(text) < e.config.MinTextLength {
					continue
				}
				if !yield(content.NewUnit(content.KindText, text, sourceURL)) {
					return
				}
			}
		}

		if e.imageQuery != "" {
			base, _ := url.Parse(sourceURL)
			for _, s := range doc.Find(e.imageQuery).EachIter() {
				if e.excluded(s) {
					continue
				}
				src, ok := s.Attr("src")
				if !ok {
					continue
				}
				imageURL, ok := resolveImageURL(base, src)
				if !ok {
					continue
				}
				if !yield(content.NewUnit(content.KindImage, imageURL, sourceURL)) {
					return
				}
			}
		}
	}
}

// excluded reports whether s is, or sits inside, an excluded element.
func (e *Extractor) excluded(s *goquery.Selection) bool {
	return e.excludeQuery != "" && s.Closest(e.excludeQuery).Length() > 0
}

// text returns the text of s without the text of excluded descendants, so a
// container wrapping an excluded element still yields only its own content.
func (e *Extractor) text(s *goquery.Selection) string {
	if e.excludeQuery == "" || s.Find(e.excludeQuery).Length() == 0 {
		return s.Text()
	}
	clone := s.Clone()
	clone.Find(e.excludeQuery).Remove()
	return clone.Text()
}

// normalizeText replaces runs of whitespace and newlines with single spaces.
func normalizeText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// resolveImageURL makes src absolute against base and keeps only http(s)
// URLs; data: URIs and other schemes are skipped.
func resolveImageURL(base *url.URL, src string) (string, bool) {
	src = strings.TrimSpace(src)
	if src == "" {
		return "", false
	}

	ref, err := url.Parse(src)
	if err != nil {
		return "", false
	}
	if base != nil {
		ref = base.ResolveReference(ref)
	}
	if ref.Scheme != "http" && ref.Scheme != "https" {
		return "", false
	}
	return ref.String(), true
}
