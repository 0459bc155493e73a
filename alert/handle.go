package alert

import (
	"errors"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
	"github.com/pevans/buloradar/content"
	"github.com/pevans/buloradar/page"
)

// Handle is one rendered alert. It is destroyed by Dismiss or by a newer
// alert for the same unit.
type Handle struct {
	id       uuid.UUID
	verdict  content.Verdict
	renderer *Renderer
}

// ID returns the alert's identifier.
func (h *Handle) ID() uuid.UUID {
	return h.id
}

// UnitID returns the unit the alert is about.
func (h *Handle) UnitID() string {
	return h.verdict.UnitID
}

// Verdict returns the verdict the alert shows.
func (h *Handle) Verdict() content.Verdict {
	return h.verdict
}

// Active reports whether the alert is still the visible one for its unit.
func (h *Handle) Active() bool {
	h.renderer.mu.Lock()
	defer h.renderer.mu.Unlock()
	return h.renderer.handles[h.verdict.UnitID] == h
}

// Dismiss removes the alert and emits ActionDismiss. Dismissing an alert
// that is already gone does nothing.
func (h *Handle) Dismiss() error {
	r := h.renderer

	r.mu.Lock()
	if r.handles[h.verdict.UnitID] != h {
		r.mu.Unlock()
		return nil
	}
	delete(r.handles, h.verdict.UnitID)
	err := r.page.Update(func(doc *goquery.Document) error {
		doc.Find(alertSelector(h.id)).Remove()
		return nil
	})
	r.mu.Unlock()

	if err != nil && !errors.Is(err, page.ErrDetached) {
		return err
	}

	r.emit(Event{Action: ActionDismiss, AlertID: h.id, Verdict: h.verdict})
	return nil
}

// ViewDetail asks the host to show the full record behind the verdict.
func (h *Handle) ViewDetail() error {
	if !h.Active() {
		return ErrInactive
	}
	h.renderer.emit(Event{Action: ActionViewDetail, AlertID: h.id, Verdict: h.verdict})
	return nil
}
