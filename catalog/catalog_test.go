package catalog

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pevans/buloradar/content"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test helper: create a test catalogue store
func createTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err, "should create store")
	t.Cleanup(func() { store.Close() })
	return store
}

// Test helper: a valid bulo with a unique URL
func sampleBulo(url string) NewBulo {
	return NewBulo{
		Title:       "Vacunas con microchips",
		Description: "Las vacunas contienen microchips para seguir a la población.",
		Truth:       "Ninguna vacuna contiene **microchips**.",
		Platform:    "twitter",
		Category:    "salud",
		DangerLevel: DangerHigh,
		URL:         &url,
		Sources:     []content.Source{{Name: "Maldita", URL: "https://maldita.es/x"}},
		Virality:    7,
	}
}

func strPtr(s string) *string { return &s }

// TestNewStore_ExistingDatabase verifies data persists across connections
func TestNewStore_ExistingDatabase(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	store1, err := NewStore(dbPath)
	require.NoError(t, err)
	_, err = store1.Create(sampleBulo("https://x.com/1"))
	require.NoError(t, err)
	store1.Close()

	store2, err := NewStore(dbPath)
	require.NoError(t, err)
	defer store2.Close()

	bulos, err := store2.Search(Filter{})
	require.NoError(t, err)
	assert.Len(t, bulos, 1, "data should persist across connections")
}

// TestCreate_ComputesFingerprints verifies fingerprints match extracted units
func TestCreate_ComputesFingerprints(t *testing.T) {
	store := createTestStore(t)

	in := sampleBulo("https://x.com/1")
	in.ImageURL = strPtr("https://img.example.com/hoax.jpg")
	b, err := store.Create(in)
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, b.ID)
	assert.Equal(t, content.NewUnit(content.KindText, "  LAS vacunas contienen microchips   para seguir a la población. ", "").ID, b.Fingerprint)
	require.NotNil(t, b.ImageFingerprint)
	assert.Equal(t, content.Fingerprint(content.KindImage, "https://img.example.com/hoax.jpg"), *b.ImageFingerprint)
	assert.False(t, b.PublishedAt.IsZero(), "published_at defaults to now")
}

func TestCreate_Validation(t *testing.T) {
	store := createTestStore(t)

	in := sampleBulo("https://x.com/1")
	in.DangerLevel = "extremo"
	_, err := store.Create(in)
	assert.ErrorIs(t, err, ErrInvalidDangerLevel)

	in = sampleBulo("https://x.com/1")
	in.Truth = "  "
	_, err = store.Create(in)
	assert.ErrorIs(t, err, ErrMissingField)
}

// TestCreate_DuplicateURL verifies unique URL constraint
func TestCreate_DuplicateURL(t *testing.T) {
	store := createTestStore(t)

	_, err := store.Create(sampleBulo("https://x.com/1"))
	require.NoError(t, err)

	_, err = store.Create(sampleBulo("https://x.com/1"))
	assert.ErrorIs(t, err, ErrDuplicateURL)

	// Bulos without a URL never collide.
	noURL := sampleBulo("")
	noURL.URL = nil
	_, err = store.Create(noURL)
	require.NoError(t, err)
	_, err = store.Create(noURL)
	assert.NoError(t, err)
}

// TestGet_PreservesAllFields verifies a round trip through the database
func TestGet_PreservesAllFields(t *testing.T) {
	store := createTestStore(t)

	in := sampleBulo("https://x.com/1")
	in.ImageURL = strPtr("https://img.example.com/a.png")
	in.PublishedAt = time.Date(2024, 3, 1, 12, 0, 0, 500, time.UTC)
	created, err := store.Create(in)
	require.NoError(t, err)

	got, err := store.Get(created.ID)
	require.NoError(t, err)

	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, created.Title, got.Title)
	assert.Equal(t, created.Truth, got.Truth)
	assert.Equal(t, DangerHigh, got.DangerLevel)
	assert.Equal(t, created.Sources, got.Sources)
	assert.Equal(t, 7, got.Virality)
	assert.Equal(t, "https://x.com/1", *got.URL)
	assert.Equal(t, *created.ImageFingerprint, *got.ImageFingerprint)
	assert.True(t, in.PublishedAt.Equal(got.PublishedAt))
	assert.True(t, created.CreatedAt.Equal(got.CreatedAt))
}

func TestGet_NotFound(t *testing.T) {
	store := createTestStore(t)

	_, err := store.Get(uuid.New())
	assert.ErrorIs(t, err, ErrBuloNotFound)
}

func TestFindByURL(t *testing.T) {
	store := createTestStore(t)

	created, err := store.Create(sampleBulo("https://x.com/1"))
	require.NoError(t, err)

	got, err := store.FindByURL("https://x.com/1")
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)

	_, err = store.FindByURL("https://x.com/2")
	assert.ErrorIs(t, err, ErrBuloNotFound)
}

// TestMatch_TextAndImage verifies exact fingerprint lookup on both columns
func TestMatch_TextAndImage(t *testing.T) {
	store := createTestStore(t)

	in := sampleBulo("https://x.com/1")
	in.ImageURL = strPtr("https://img.example.com/hoax.jpg")
	created, err := store.Create(in)
	require.NoError(t, err)

	got, err := store.Match(content.Fingerprint(content.KindText, "las vacunas contienen microchips para seguir a la población."))
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)

	got, err = store.Match(content.Fingerprint(content.KindImage, "https://img.example.com/hoax.jpg"))
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)

	_, err = store.Match(content.Fingerprint(content.KindText, "las vacunas contienen microchips"))
	assert.ErrorIs(t, err, ErrBuloNotFound, "partial text does not match")
}

// TestSearch_Filters verifies each filter narrows the result set
func TestSearch_Filters(t *testing.T) {
	store := createTestStore(t)

	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	mk := func(url, title, category, platform string, level DangerLevel, days int) {
		in := sampleBulo(url)
		in.Title = title
		in.Category = category
		in.Platform = platform
		in.DangerLevel = level
		in.PublishedAt = base.AddDate(0, 0, days)
		_, err := store.Create(in)
		require.NoError(t, err)
	}
	mk("https://x.com/1", "Vacunas con microchips", "salud", "twitter", DangerHigh, 0)
	mk("https://x.com/2", "Urnas manipuladas", "politica", "tiktok", DangerMedium, 1)
	mk("https://x.com/3", "Lejía contra el virus", "salud", "whatsapp", DangerHigh, 2)

	tests := []struct {
		name   string
		filter Filter
		titles []string
	}{
		{"all newest first", Filter{}, []string{"Lejía contra el virus", "Urnas manipuladas", "Vacunas con microchips"}},
		{"query", Filter{Query: "urnas"}, []string{"Urnas manipuladas"}},
		{"category", Filter{Category: "salud"}, []string{"Lejía contra el virus", "Vacunas con microchips"}},
		{"platform", Filter{Platform: "tiktok"}, []string{"Urnas manipuladas"}},
		{"danger", Filter{DangerLevel: DangerMedium}, []string{"Urnas manipuladas"}},
		{"since", Filter{Since: timePtr(base.AddDate(0, 0, 1))}, []string{"Lejía contra el virus", "Urnas manipuladas"}},
		{"until", Filter{Until: timePtr(base)}, []string{"Vacunas con microchips"}},
		{"limit offset", Filter{Limit: 1, Offset: 1}, []string{"Urnas manipuladas"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bulos, err := store.Search(tt.filter)
			require.NoError(t, err)

			titles := make([]string, 0, len(bulos))
			for _, b := range bulos {
				titles = append(titles, b.Title)
			}
			assert.Equal(t, tt.titles, titles)
		})
	}

	_, err := store.Search(Filter{DangerLevel: "x"})
	assert.ErrorIs(t, err, ErrInvalidDangerLevel)
}

func timePtr(t time.Time) *time.Time { return &t }

func TestRecent(t *testing.T) {
	store := createTestStore(t)

	for i := range 3 {
		in := sampleBulo("https://x.com/" + string(rune('a'+i)))
		in.PublishedAt = time.Date(2024, 1, 1+i, 0, 0, 0, 0, time.UTC)
		_, err := store.Create(in)
		require.NoError(t, err)
	}

	bulos, err := store.Recent(2)
	require.NoError(t, err)
	require.Len(t, bulos, 2)
	assert.Equal(t, "https://x.com/c", *bulos[0].URL)
}

func TestDelete(t *testing.T) {
	store := createTestStore(t)

	created, err := store.Create(sampleBulo("https://x.com/1"))
	require.NoError(t, err)

	require.NoError(t, store.Delete(created.ID))
	_, err = store.Get(created.ID)
	assert.ErrorIs(t, err, ErrBuloNotFound)
	assert.ErrorIs(t, store.Delete(created.ID), ErrBuloNotFound)
}

// TestStats verifies totals, groupings and the seven day trend
func TestStats(t *testing.T) {
	store := createTestStore(t)
	now := time.Date(2024, 6, 10, 15, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	mk := func(url, category, platform string, publishedAt time.Time) {
		in := sampleBulo(url)
		in.Category = category
		in.Platform = platform
		in.PublishedAt = publishedAt
		_, err := store.Create(in)
		require.NoError(t, err)
	}
	mk("https://x.com/1", "salud", "twitter", now)
	mk("https://x.com/2", "salud", "tiktok", now.AddDate(0, 0, -1))
	mk("https://x.com/3", "politica", "twitter", now.AddDate(0, 0, -1))
	mk("https://x.com/4", "politica", "twitter", now.AddDate(0, 0, -30))

	stats, err := store.Stats()
	require.NoError(t, err)

	assert.Equal(t, 4, stats.Total)
	assert.Equal(t, map[string]int{"salud": 2, "politica": 2}, stats.ByCategory)
	assert.Equal(t, map[string]int{"twitter": 3, "tiktok": 1}, stats.ByPlatform)
	assert.Len(t, stats.LastWeek, 7)
	assert.Equal(t, 1, stats.LastWeek["2024-06-10"])
	assert.Equal(t, 2, stats.LastWeek["2024-06-09"])
	assert.Equal(t, 0, stats.LastWeek["2024-06-04"])
}

// TestBuloVerdict verifies conversion into a flagged verdict
func TestBuloVerdict(t *testing.T) {
	b := &Bulo{
		ID:          uuid.New(),
		Title:       "Título",
		Description: "Afirmación",
		Truth:       "La verdad",
	}

	v := b.Verdict("unit-1")
	assert.True(t, v.IsFlagged)
	assert.Equal(t, "unit-1", v.UnitID)
	assert.Equal(t, "La verdad", v.Explanation)
	assert.Equal(t, b.ID.String(), v.Reference)
	assert.NotNil(t, v.Sources)
}
