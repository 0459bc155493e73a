package catalog

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pevans/buloradar/content"
)

var (
	ErrReportNotFound = errors.New("report not found")
	ErrInvalidReport  = errors.New("report needs an http(s) url and a description")
	ErrInvalidStatus  = errors.New("status must be pending, matched, or unmatched")
)

// ReportStatus tracks where a user report is in triage.
type ReportStatus string

const (
	// ReportPending reports have not been looked at yet.
	ReportPending ReportStatus = "pending"
	// ReportMatched reports point at content already in the catalogue.
	ReportMatched ReportStatus = "matched"
	// ReportUnmatched reports need a human to write the bulo.
	ReportUnmatched ReportStatus = "unmatched"
)

// Valid reports whether r is one of the known statuses.
func (r ReportStatus) Valid() bool {
	return r == ReportPending || r == ReportMatched || r == ReportUnmatched
}

// Report is a user's submission of content they believe is a hoax.
type Report struct {
	ID          uuid.UUID    `json:"id"`
	URL         string       `json:"url"`
	Platform    string       `json:"platform"`
	Description string       `json:"description"`
	Email       *string      `json:"email,omitempty"`
	Status      ReportStatus `json:"status"`
	// BuloID is set once triage finds the content in the catalogue.
	BuloID    *uuid.UUID `json:"bulo_id,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	TriagedAt *time.Time `json:"triaged_at,omitempty"`
}

// NewReport holds the caller-supplied fields for CreateReport.
type NewReport struct {
	URL         string
	Platform    string
	Description string
	Email       *string
}

// CreateReport stores a pending report.
func (s *Store) CreateReport(in NewReport) (*Report, error) {
	if strings.TrimSpace(in.Description) == "" || !isWebURL(in.URL) {
		return nil, ErrInvalidReport
	}
	if in.Email != nil && strings.TrimSpace(*in.Email) == "" {
		in.Email = nil
	}

	r := &Report{
		ID:          uuid.New(),
		URL:         strings.TrimSpace(in.URL),
		Platform:    in.Platform,
		Description: in.Description,
		Email:       in.Email,
		Status:      ReportPending,
		CreatedAt:   s.now().UTC(),
	}

	_, err := s.db.Exec(`
		INSERT INTO reports (id, url, platform, description, email, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, r.ID.String(), r.URL, r.Platform, r.Description, r.Email, string(r.Status), formatTime(r.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("failed to insert report: %w", err)
	}

	return r, nil
}

const selectReportColumns = `
	SELECT id, url, platform, description, email, status, bulo_id, created_at, triaged_at
	FROM reports
`

// GetReport retrieves a report by ID.
func (s *Store) GetReport(id uuid.UUID) (*Report, error) {
	r, err := scanReport(s.db.QueryRow(selectReportColumns+" WHERE id = ?", id.String()))
	if err == sql.ErrNoRows {
		return nil, ErrReportNotFound
	}
	return r, err
}

// ListReports returns reports newest first. An empty status lists all of
// them.
func (s *Store) ListReports(status ReportStatus, limit int) ([]Report, error) {
	if status != "" && !status.Valid() {
		return nil, ErrInvalidStatus
	}

	query := selectReportColumns
	var args []any
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY created_at DESC"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query reports: %w", err)
	}
	defer rows.Close()

	reports := []Report{}
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		reports = append(reports, *r)
	}
	return reports, rows.Err()
}

// TriageReport looks a pending report up against the catalogue, first by
// post URL and then by the fingerprint of its description, and records the
// outcome. Reports already triaged are returned unchanged.
func (s *Store) TriageReport(id uuid.UUID) (*Report, error) {
	r, err := s.GetReport(id)
	if err != nil {
		return nil, err
	}
	if r.Status != ReportPending {
		return r, nil
	}

	bulo, err := s.FindByURL(r.URL)
	if errors.Is(err, ErrBuloNotFound) {
		bulo, err = s.Match(content.Fingerprint(content.KindText, r.Description))
	}
	switch {
	case errors.Is(err, ErrBuloNotFound):
		r.Status = ReportUnmatched
	case err != nil:
		return nil, err
	default:
		r.Status = ReportMatched
		r.BuloID = &bulo.ID
	}

	now := s.now().UTC()
	r.TriagedAt = &now

	var buloID *string
	if r.BuloID != nil {
		id := r.BuloID.String()
		buloID = &id
	}
	_, err = s.db.Exec(
		"UPDATE reports SET status = ?, bulo_id = ?, triaged_at = ? WHERE id = ?",
		string(r.Status), buloID, formatTime(now), r.ID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update report: %w", err)
	}

	return r, nil
}

func scanReport(row rowScanner) (*Report, error) {
	var idStr, status, createdAtStr string
	var email, buloID, triagedAt sql.NullString
	r := &Report{}

	err := row.Scan(&idStr, &r.URL, &r.Platform, &r.Description, &email,
		&status, &buloID, &createdAtStr, &triagedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan report: %w", err)
	}

	if r.ID, err = uuid.Parse(idStr); err != nil {
		return nil, fmt.Errorf("failed to parse report ID: %w", err)
	}
	r.Status = ReportStatus(status)
	r.CreatedAt = parseTime(createdAtStr)

	if email.Valid {
		r.Email = &email.String
	}
	if buloID.Valid {
		id, err := uuid.Parse(buloID.String)
		if err != nil {
			return nil, fmt.Errorf("failed to parse bulo ID: %w", err)
		}
		r.BuloID = &id
	}
	if triagedAt.Valid {
		t := parseTime(triagedAt.String)
		r.TriagedAt = &t
	}

	return r, nil
}

func isWebURL(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
