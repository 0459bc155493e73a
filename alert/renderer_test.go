package alert

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/pevans/buloradar/content"
	"github.com/pevans/buloradar/page"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test helper: create a page and a renderer recording events
func setupRenderer(t *testing.T, html string, config Config) (*Renderer, *page.Page, *[]Event) {
	t.Helper()
	pg, err := page.Parse("https://example.com", strings.NewReader(html))
	require.NoError(t, err)

	events := &[]Event{}
	r := NewRenderer(pg, config, func(e Event) { *events = append(*events, e) })
	return r, pg, events
}

// Test helper: count alert nodes in the page
func countAlerts(t *testing.T, pg *page.Page) int {
	t.Helper()
	n := 0
	require.NoError(t, pg.View(func(doc *goquery.Document) {
		n = doc.Find(".buloradar-alerta").Length()
	}))
	return n
}

func flaggedVerdict(unitID string) content.Verdict {
	return content.Verdict{
		UnitID:      unitID,
		IsFlagged:   true,
		Title:       "Vacunas con microchips",
		Description: "Teoría conspirativa sobre seguimiento",
		Explanation: "Estudios científicos **demuestran** su composición.",
		Sources:     []content.Source{{Name: "Maldita.es", URL: "https://maldita.es/a"}},
		Reference:   "4",
	}
}

// TestRender_MountsAlert verifies the alert markup lands under the mount
func TestRender_MountsAlert(t *testing.T) {
	r, pg, _ := setupRenderer(t, "<html><body><p>hi</p></body></html>", DefaultConfig())

	h, err := r.Render(flaggedVerdict("u1"))
	require.NoError(t, err)
	require.NotNil(t, h)

	assert.True(t, h.Active())
	assert.Equal(t, "u1", h.UnitID())
	require.NoError(t, pg.View(func(doc *goquery.Document) {
		alert := doc.Find("body > #buloradar-alerts > .buloradar-alerta")
		require.Equal(t, 1, alert.Length())
		assert.Equal(t, "u1", alert.AttrOr("data-buloradar-unit", ""))
		assert.Equal(t, h.ID().String(), alert.AttrOr("data-buloradar-alert", ""))
		assert.Equal(t, "Vacunas con microchips", alert.Find(".buloradar-alerta-content > p > strong").Text())
		assert.Equal(t, "demuestran", alert.Find(".buloradar-verdad strong").Text(), "explanation is markdown")
		assert.Equal(t, "https://maldita.es/a", alert.Find(".buloradar-fuentes a").AttrOr("href", ""))
		assert.Equal(t, 1, alert.Find(`[data-action="dismiss"]`).Length())
		assert.Equal(t, 1, alert.Find(`[data-action="view-detail"]`).Length())
	}))
}

// TestRender_ReplacesSameUnit verifies rendering twice yields one alert
func TestRender_ReplacesSameUnit(t *testing.T) {
	r, pg, _ := setupRenderer(t, "<html><body></body></html>", DefaultConfig())

	first, err := r.Render(flaggedVerdict("u1"))
	require.NoError(t, err)
	second, err := r.Render(flaggedVerdict("u1"))
	require.NoError(t, err)

	assert.Equal(t, 1, countAlerts(t, pg))
	assert.Equal(t, 1, r.Count())
	assert.False(t, first.Active(), "replaced handle is destroyed")
	assert.True(t, second.Active())

	_, err = r.Render(flaggedVerdict("u2"))
	require.NoError(t, err)
	assert.Equal(t, 2, countAlerts(t, pg))
}

// TestRender_EscapesContent verifies verdict text cannot inject markup
func TestRender_EscapesContent(t *testing.T) {
	r, pg, _ := setupRenderer(t, "<html><body></body></html>", DefaultConfig())
	v := flaggedVerdict("u1")
	v.Title = `<script>alert(1)</script>`
	v.Explanation = `<img src=x onerror=alert(1)>`

	_, err := r.Render(v)
	require.NoError(t, err)

	require.NoError(t, pg.View(func(doc *goquery.Document) {
		assert.Equal(t, 0, doc.Find("#buloradar-alerts script").Length())
		assert.Equal(t, 0, doc.Find("#buloradar-alerts img").Length())
		assert.Equal(t, `<script>alert(1)</script>`, doc.Find(".buloradar-alerta strong").First().Text())
	}))
}

// TestRender_NotFlagged verifies clean verdicts are refused
func TestRender_NotFlagged(t *testing.T) {
	r, pg, _ := setupRenderer(t, "<html><body></body></html>", DefaultConfig())

	_, err := r.Render(content.Verdict{UnitID: "u1"})
	assert.ErrorIs(t, err, ErrNotFlagged)
	assert.Equal(t, 0, countAlerts(t, pg))
}

// TestRender_MissingMount verifies a render failure instead of a panic
func TestRender_MissingMount(t *testing.T) {
	r, _, _ := setupRenderer(t, "<html><body></body></html>", Config{MountSelector: "#sidebar"})

	h, err := r.Render(flaggedVerdict("u1"))
	assert.Nil(t, h)
	assert.ErrorIs(t, err, ErrRenderFailure)
	assert.Equal(t, 0, r.Count())
}

// TestRender_DetachedPage verifies rendering after unload fails quietly
func TestRender_DetachedPage(t *testing.T) {
	r, pg, _ := setupRenderer(t, "<html><body></body></html>", DefaultConfig())
	pg.Close()

	_, err := r.Render(flaggedVerdict("u1"))
	assert.ErrorIs(t, err, ErrRenderFailure)
	assert.ErrorIs(t, err, page.ErrDetached)
}

// TestDismiss verifies the alert is removed and an event is emitted once
func TestDismiss(t *testing.T) {
	r, pg, events := setupRenderer(t, "<html><body></body></html>", DefaultConfig())
	h, err := r.Render(flaggedVerdict("u1"))
	require.NoError(t, err)

	require.NoError(t, h.Dismiss())
	require.NoError(t, h.Dismiss())

	assert.Equal(t, 0, countAlerts(t, pg))
	assert.False(t, r.Active("u1"))
	require.Len(t, *events, 1)
	assert.Equal(t, ActionDismiss, (*events)[0].Action)
	assert.Equal(t, h.ID(), (*events)[0].AlertID)
}

// TestViewDetail verifies the detail request carries the verdict reference
func TestViewDetail(t *testing.T) {
	r, _, events := setupRenderer(t, "<html><body></body></html>", DefaultConfig())
	h, err := r.Render(flaggedVerdict("u1"))
	require.NoError(t, err)

	require.NoError(t, h.ViewDetail())

	require.Len(t, *events, 1)
	assert.Equal(t, ActionViewDetail, (*events)[0].Action)
	assert.Equal(t, "4", (*events)[0].Verdict.Reference)
	assert.True(t, h.Active(), "viewing detail keeps the alert")

	require.NoError(t, h.Dismiss())
	assert.ErrorIs(t, h.ViewDetail(), ErrInactive)
}

// TestRender_SurvivesReload verifies alerts are carried over when the page
// content is reloaded
func TestRender_SurvivesReload(t *testing.T) {
	r, pg, _ := setupRenderer(t, "<html><body><p>old</p></body></html>", DefaultConfig())
	h, err := r.Render(flaggedVerdict("u1"))
	require.NoError(t, err)

	require.NoError(t, pg.Reload(strings.NewReader("<html><body><p>new</p></body></html>")))

	assert.Equal(t, 1, countAlerts(t, pg))
	require.NoError(t, h.Dismiss())
	assert.Equal(t, 0, countAlerts(t, pg))
}

// TestDismissAll verifies every visible alert is removed and reported
func TestDismissAll(t *testing.T) {
	r, pg, events := setupRenderer(t, "<html><body></body></html>", DefaultConfig())

	for _, id := range []string{"u2", "u1"} {
		_, err := r.Render(flaggedVerdict(id))
		require.NoError(t, err)
	}
	handles := r.Handles()
	require.Len(t, handles, 2)
	assert.Equal(t, "u1", handles[0].UnitID())

	n, err := r.DismissAll()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 0, r.Count())
	assert.Equal(t, 0, countAlerts(t, pg))
	require.Len(t, *events, 2)
	for _, e := range *events {
		assert.Equal(t, ActionDismiss, e.Action)
	}

	n, err = r.DismissAll()
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
