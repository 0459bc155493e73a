// Package catalog stores known hoaxes ("bulos") and answers verdict lookups
// against them.
package catalog

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pevans/buloradar/content"
)

// Custom errors for catalogue operations
var (
	ErrBuloNotFound       = errors.New("bulo not found")
	ErrDuplicateURL       = errors.New("bulo with this URL already exists")
	ErrInvalidDangerLevel = errors.New("danger_level must be alto, medio, or bajo")
	ErrMissingField       = errors.New("title, description and truth are required")
)

// DangerLevel ranks how harmful a hoax is.
type DangerLevel string

const (
	DangerHigh   DangerLevel = "alto"
	DangerMedium DangerLevel = "medio"
	DangerLow    DangerLevel = "bajo"
)

// Valid reports whether d is one of the known levels.
func (d DangerLevel) Valid() bool {
	return d == DangerHigh || d == DangerMedium || d == DangerLow
}

// Bulo is a catalogued hoax together with the debunking behind it.
type Bulo struct {
	ID uuid.UUID `json:"id"`
	// Title is the short headline shown in alerts.
	Title string `json:"title"`
	// Description is the claim as it circulates.
	Description string `json:"description"`
	// Truth is the debunking explanation, in Markdown.
	Truth            string           `json:"truth"`
	Platform         string           `json:"platform"`
	Category         string           `json:"category"`
	DangerLevel      DangerLevel      `json:"danger_level"`
	URL              *string          `json:"url,omitempty"`
	ImageURL         *string          `json:"image_url,omitempty"`
	Fingerprint      string           `json:"fingerprint"`
	ImageFingerprint *string          `json:"image_fingerprint,omitempty"`
	Sources          []content.Source `json:"sources"`
	Virality         int              `json:"virality"`
	PublishedAt      time.Time        `json:"published_at"`
	CreatedAt        time.Time        `json:"created_at"`
}

// Verdict converts the bulo into a flagged verdict for unitID. The
// explanation carries the truth and the reference carries the bulo ID.
func (b *Bulo) Verdict(unitID string) content.Verdict {
	sources := b.Sources
	if sources == nil {
		sources = []content.Source{}
	}
	return content.Verdict{
		UnitID:      unitID,
		IsFlagged:   true,
		Title:       b.Title,
		Description: b.Description,
		Explanation: b.Truth,
		Sources:     sources,
		Reference:   b.ID.String(),
	}
}

// NewBulo holds the caller-supplied fields for Create.
type NewBulo struct {
	Title       string
	Description string
	Truth       string
	Platform    string
	Category    string
	DangerLevel DangerLevel
	URL         *string
	ImageURL    *string
	Sources     []content.Source
	Virality    int
	// PublishedAt defaults to the creation time when zero.
	PublishedAt time.Time
}

// Filter represents search options. Zero values match everything.
type Filter struct {
	Query       string
	Category    string
	Platform    string
	DangerLevel DangerLevel
	Since       *time.Time
	Until       *time.Time
	Limit       int
	Offset      int
}

// Stats summarizes the catalogue.
type Stats struct {
	Total      int            `json:"total"`
	ByCategory map[string]int `json:"by_category"`
	ByPlatform map[string]int `json:"by_platform"`
	// LastWeek counts bulos published per day over the last seven days,
	// keyed by YYYY-MM-DD.
	LastWeek map[string]int `json:"last_week"`
}

// Store manages the catalogue using SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore opens (and if needed creates) the catalogue at dbPath.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite allows one writer; the importer and API share this handle.
	db.SetMaxOpenConns(1)

	store := &Store{db: db, now: time.Now}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS bulos (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT NOT NULL,
		truth TEXT NOT NULL,
		platform TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL DEFAULT '',
		danger_level TEXT NOT NULL,
		url TEXT UNIQUE,
		image_url TEXT,
		fingerprint TEXT NOT NULL,
		image_fingerprint TEXT,
		sources TEXT NOT NULL DEFAULT '[]',
		virality INTEGER DEFAULT 0,
		published_at TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_bulos_fingerprint ON bulos(fingerprint);
	CREATE INDEX IF NOT EXISTS idx_bulos_image_fingerprint ON bulos(image_fingerprint);
	CREATE INDEX IF NOT EXISTS idx_bulos_published_at ON bulos(published_at);

	CREATE TABLE IF NOT EXISTS reports (
		id TEXT PRIMARY KEY,
		url TEXT NOT NULL,
		platform TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL,
		email TEXT,
		status TEXT NOT NULL,
		bulo_id TEXT,
		created_at TEXT NOT NULL,
		triaged_at TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_reports_status ON reports(status);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Create validates and stores a new bulo. Fingerprints are derived from the
// description and image URL the same way extracted units are, so a page
// showing the claim verbatim matches it.
func (s *Store) Create(in NewBulo) (*Bulo, error) {
	if !in.DangerLevel.Valid() {
		return nil, ErrInvalidDangerLevel
	}
	if strings.TrimSpace(in.Title) == "" ||
		strings.TrimSpace(in.Description) == "" ||
		strings.TrimSpace(in.Truth) == "" {
		return nil, ErrMissingField
	}

	now := s.now().UTC()
	b := &Bulo{
		ID:          uuid.New(),
		Title:       in.Title,
		Description: in.Description,
		Truth:       in.Truth,
		Platform:    in.Platform,
		Category:    in.Category,
		DangerLevel: in.DangerLevel,
		URL:         in.URL,
		ImageURL:    in.ImageURL,
		Fingerprint: content.Fingerprint(content.KindText, in.Description),
		Sources:     in.Sources,
		Virality:    in.Virality,
		PublishedAt: in.PublishedAt,
		CreatedAt:   now,
	}
	if b.PublishedAt.IsZero() {
		b.PublishedAt = now
	}
	b.PublishedAt = b.PublishedAt.UTC()
	if b.Sources == nil {
		b.Sources = []content.Source{}
	}
	if in.ImageURL != nil && *in.ImageURL != "" {
		fp := content.Fingerprint(content.KindImage, *in.ImageURL)
		b.ImageFingerprint = &fp
	}

	sourcesJSON, err := json.Marshal(b.Sources)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal sources: %w", err)
	}

	query := `
		INSERT INTO bulos (
			id, title, description, truth, platform, category, danger_level,
			url, image_url, fingerprint, image_fingerprint, sources, virality,
			published_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.Exec(query,
		b.ID.String(),
		b.Title,
		b.Description,
		b.Truth,
		b.Platform,
		b.Category,
		string(b.DangerLevel),
		b.URL,
		b.ImageURL,
		b.Fingerprint,
		b.ImageFingerprint,
		string(sourcesJSON),
		b.Virality,
		formatTime(b.PublishedAt),
		formatTime(b.CreatedAt),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return nil, ErrDuplicateURL
		}
		return nil, fmt.Errorf("failed to insert bulo: %w", err)
	}

	return b, nil
}

const selectColumns = `
	SELECT id, title, description, truth, platform, category, danger_level,
	       url, image_url, fingerprint, image_fingerprint, sources, virality,
	       published_at, created_at
	FROM bulos
`

// Get retrieves a bulo by ID.
func (s *Store) Get(id uuid.UUID) (*Bulo, error) {
	return s.queryOne(selectColumns+" WHERE id = ?", id.String())
}

// FindByURL retrieves the bulo catalogued for a post URL.
func (s *Store) FindByURL(url string) (*Bulo, error) {
	return s.queryOne(selectColumns+" WHERE url = ?", url)
}

// Match looks a unit fingerprint up against both text and image
// fingerprints. It is an exact lookup; nothing here guesses.
func (s *Store) Match(fingerprint string) (*Bulo, error) {
	return s.queryOne(
		selectColumns+" WHERE fingerprint = ? OR image_fingerprint = ? ORDER BY published_at DESC LIMIT 1",
		fingerprint, fingerprint,
	)
}

// Search lists bulos matching filter, newest first.
func (s *Store) Search(filter Filter) ([]Bulo, error) {
	if filter.DangerLevel != "" && !filter.DangerLevel.Valid() {
		return nil, ErrInvalidDangerLevel
	}

	query := selectColumns
	var whereClauses []string
	var args []any

	if q := strings.TrimSpace(filter.Query); q != "" {
		whereClauses = append(whereClauses,
			"(title LIKE ? OR description LIKE ? OR truth LIKE ?)")
		like := "%" + q + "%"
		args = append(args, like, like, like)
	}
	if filter.Category != "" {
		whereClauses = append(whereClauses, "category = ?")
		args = append(args, filter.Category)
	}
	if filter.Platform != "" {
		whereClauses = append(whereClauses, "platform = ?")
		args = append(args, filter.Platform)
	}
	if filter.DangerLevel != "" {
		whereClauses = append(whereClauses, "danger_level = ?")
		args = append(args, string(filter.DangerLevel))
	}
	if filter.Since != nil {
		whereClauses = append(whereClauses, "published_at >= ?")
		args = append(args, formatTime(*filter.Since))
	}
	if filter.Until != nil {
		whereClauses = append(whereClauses, "published_at <= ?")
		args = append(args, formatTime(*filter.Until))
	}

	if len(whereClauses) > 0 {
		query += " WHERE " + strings.Join(whereClauses, " AND ")
	}

	query += " ORDER BY published_at DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	return s.queryMany(query, args...)
}

// Recent returns the limit most recently published bulos.
func (s *Store) Recent(limit int) ([]Bulo, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.Search(Filter{Limit: limit})
}

// Delete removes a bulo.
func (s *Store) Delete(id uuid.UUID) error {
	result, err := s.db.Exec("DELETE FROM bulos WHERE id = ?", id.String())
	if err != nil {
		return fmt.Errorf("failed to delete bulo: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrBuloNotFound
	}

	return nil
}

// Stats counts bulos overall, per category, per platform and per day of the
// last week.
func (s *Store) Stats() (*Stats, error) {
	stats := &Stats{
		ByCategory: map[string]int{},
		ByPlatform: map[string]int{},
		LastWeek:   map[string]int{},
	}

	if err := s.db.QueryRow("SELECT COUNT(*) FROM bulos").Scan(&stats.Total); err != nil {
		return nil, fmt.Errorf("failed to count bulos: %w", err)
	}
	if err := s.countBy("category", stats.ByCategory); err != nil {
		return nil, err
	}
	if err := s.countBy("platform", stats.ByPlatform); err != nil {
		return nil, err
	}

	today := s.now().UTC().Truncate(24 * time.Hour)
	since := today.AddDate(0, 0, -6)
	for d := range 7 {
		stats.LastWeek[since.AddDate(0, 0, d).Format(time.DateOnly)] = 0
	}

	rows, err := s.db.Query(
		"SELECT published_at FROM bulos WHERE published_at >= ?",
		formatTime(since),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query trend: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var publishedAt string
		if err := rows.Scan(&publishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan trend: %w", err)
		}
		day := parseTime(publishedAt).UTC().Format(time.DateOnly)
		if _, ok := stats.LastWeek[day]; ok {
			stats.LastWeek[day]++
		}
	}

	return stats, rows.Err()
}

// countBy fills counts with COUNT(*) grouped by column. column is never user
// input.
func (s *Store) countBy(column string, counts map[string]int) error {
	rows, err := s.db.Query(fmt.Sprintf(
		"SELECT %s, COUNT(*) FROM bulos WHERE %s != '' GROUP BY %s", column, column, column))
	if err != nil {
		return fmt.Errorf("failed to count by %s: %w", column, err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return fmt.Errorf("failed to scan %s count: %w", column, err)
		}
		counts[key] = n
	}
	return rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) queryOne(query string, args ...any) (*Bulo, error) {
	b, err := scanBulo(s.db.QueryRow(query, args...))
	if err == sql.ErrNoRows {
		return nil, ErrBuloNotFound
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (s *Store) queryMany(query string, args ...any) ([]Bulo, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query bulos: %w", err)
	}
	defer rows.Close()

	bulos := []Bulo{}
	for rows.Next() {
		b, err := scanBulo(rows)
		if err != nil {
			return nil, err
		}
		bulos = append(bulos, *b)
	}
	return bulos, rows.Err()
}

// scanBulo parses one row in selectColumns order.
func scanBulo(row rowScanner) (*Bulo, error) {
	var idStr, dangerLevel, sourcesJSON, publishedAtStr, createdAtStr string
	var url, imageURL, imageFingerprint sql.NullString
	b := &Bulo{}

	err := row.Scan(
		&idStr, &b.Title, &b.Description, &b.Truth, &b.Platform, &b.Category,
		&dangerLevel, &url, &imageURL, &b.Fingerprint, &imageFingerprint,
		&sourcesJSON, &b.Virality, &publishedAtStr, &createdAtStr,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan bulo: %w", err)
	}

	b.ID, err = uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse bulo ID: %w", err)
	}
	b.DangerLevel = DangerLevel(dangerLevel)
	b.PublishedAt = parseTime(publishedAtStr)
	b.CreatedAt = parseTime(createdAtStr)

	if url.Valid {
		b.URL = &url.String
	}
	if imageURL.Valid {
		b.ImageURL = &imageURL.String
	}
	if imageFingerprint.Valid {
		b.ImageFingerprint = &imageFingerprint.String
	}

	if err := json.Unmarshal([]byte(sourcesJSON), &b.Sources); err != nil {
		return nil, fmt.Errorf("failed to unmarshal sources: %w", err)
	}

	return b, nil
}

// timeLayout is fixed width so stored timestamps sort as strings.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	// Strip monotonic clock for consistent comparisons
	return t.UTC().Truncate(0)
}
