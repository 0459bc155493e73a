// Package alert renders flagged verdicts as dismissible notifications inside
// the host page.
package alert

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
	"github.com/pevans/buloradar/content"
	"github.com/pevans/buloradar/page"
)

var (
	ErrNotFlagged    = errors.New("verdict is not flagged")
	ErrRenderFailure = errors.New("failed to render alert")
	ErrInactive      = errors.New("alert is no longer active")
)

// Action is a user action on an alert.
type Action string

const (
	ActionDismiss    Action = "dismiss"
	ActionViewDetail Action = "view-detail"
)

// Event is emitted to the host for every user action.
type Event struct {
	Action  Action
	AlertID uuid.UUID
	Verdict content.Verdict
}

// Listener receives alert events. It is called outside any lock.
type Listener func(Event)

// Config controls where alerts are mounted.
type Config struct {
	MountSelector string `yaml:"mount_selector" json:"mount_selector"`
}

// DefaultConfig mounts alerts at the end of <body>.
func DefaultConfig() Config {
	return Config{MountSelector: "body"}
}

// Renderer keeps at most one visible alert per unit. Rendering the same unit
// again replaces the existing alert instead of stacking a second one.
type Renderer struct {
	page     *page.Page
	config   Config
	listener Listener

	mu      sync.Mutex
	handles map[string]*Handle
}

// NewRenderer creates a renderer for pg. listener may be nil.
func NewRenderer(pg *page.Page, config Config, listener Listener) *Renderer {
	if config.MountSelector == "" {
		config.MountSelector = DefaultConfig().MountSelector
	}
	pg.Preserve(ContainerSelector, config.MountSelector)

	return &Renderer{
		page:     pg,
		config:   config,
		listener: listener,
		handles:  make(map[string]*Handle),
	}
}

// Render mounts an alert for a flagged verdict. A missing mount point or a
// detached page is reported as ErrRenderFailure; the page is never left half
// modified.
func (r *Renderer) Render(verdict content.Verdict) (*Handle, error) {
	if !verdict.IsFlagged {
		return nil, ErrNotFlagged
	}

	explanation, err := renderMarkdown(verdict.Explanation)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRenderFailure, err)
	}

	handle := &Handle{id: uuid.New(), verdict: verdict, renderer: r}
	view := alertView{
		UnitID:      verdict.UnitID,
		AlertID:     handle.id.String(),
		Title:       verdict.Title,
		Description: verdict.Description,
		Explanation: explanation,
	}
	for _, src := range verdict.Sources {
		view.Sources = append(view.Sources, sourceView{Name: src.Name, URL: src.URL})
	}
	markup, err := executeAlert(view)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRenderFailure, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	err = r.page.Update(func(doc *goquery.Document) error {
		mount := doc.Find(r.config.MountSelector).First()
		if mount.Length() == 0 {
			return fmt.Errorf("mount point %q not found", r.config.MountSelector)
		}

		container := mount.Find(ContainerSelector)
		if container.Length() == 0 {
			mount.AppendHtml(containerHTML)
			container = mount.Find(ContainerSelector)
		}

		container.Find(unitSelector(verdict.UnitID)).Remove()
		container.AppendHtml(markup)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRenderFailure, err)
	}

	r.handles[verdict.UnitID] = handle
	return handle, nil
}

// Active reports whether an alert for unitID is visible.
func (r *Renderer) Active(unitID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.handles[unitID]
	return ok
}

// Handle returns the visible alert for unitID, if any.
func (r *Renderer) Handle(unitID string) (*Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[unitID]
	return h, ok
}

// Count returns the number of visible alerts.
func (r *Renderer) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}

// Handles returns the visible alerts ordered by unit ID.
func (r *Renderer) Handles() []*Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Handle, 0, len(r.handles))
	for _, h := range r.handles {
		out = append(out, h)
	}
	slices.SortFunc(out, func(a, b *Handle) int {
		return strings.Compare(a.verdict.UnitID, b.verdict.UnitID)
	})
	return out
}

// DismissAll dismisses every visible alert and returns how many went away.
func (r *Renderer) DismissAll() (int, error) {
	var errs []error
	n := 0
	for _, h := range r.Handles() {
		if err := h.Dismiss(); err != nil {
			errs = append(errs, err)
			continue
		}
		n++
	}
	return n, errors.Join(errs...)
}

func (r *Renderer) emit(event Event) {
	if r.listener != nil {
		r.listener(event)
	}
}

func unitSelector(unitID string) string {
	return fmt.Sprintf(`[data-buloradar-unit="%s"]`, unitID)
}

func alertSelector(id uuid.UUID) string {
	return fmt.Sprintf(`[data-buloradar-alert="%s"]`, id)
}
