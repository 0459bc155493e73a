// Package dedup keeps identical content from being classified more than once
// per page.
package dedup

import (
	"sync"
	"time"

	"github.com/pevans/buloradar/content"
)

// DefaultTTL is how long a submission record lives before it is purged.
const DefaultTTL = 10 * time.Minute

// State is the lifecycle of a submission record.
type State int

const (
	StatePending State = iota
	StateResolved
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateResolved:
		return "resolved"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Status tells the caller of Submit what to do next.
type Status int

const (
	// StatusForwarded means the caller must invoke the classifier.
	StatusForwarded Status = iota
	// StatusSuppressed means the unit is already in flight (or recently
	// failed) and the caller does nothing.
	StatusSuppressed
	// StatusResolved means a cached verdict is available.
	StatusResolved
)

func (s Status) String() string {
	switch s {
	case StatusForwarded:
		return "forwarded"
	case StatusSuppressed:
		return "suppressed"
	case StatusResolved:
		return "resolved"
	default:
		return "unknown"
	}
}

// Outcome is the result of a submission. Verdict is set only when Status is
// StatusResolved.
type Outcome struct {
	Status  Status
	Verdict *content.Verdict
}

// Record tracks one submission.
type Record struct {
	UnitID      string
	State       State
	SubmittedAt time.Time
	Attempts    int
}

// Config holds deduplicator settings.
type Config struct {
	TTL time.Duration `yaml:"ttl" json:"ttl"`
}

// DefaultConfig returns a 10 minute TTL.
func DefaultConfig() Config {
	return Config{TTL: DefaultTTL}
}

// Deduplicator owns the submission records and the verdict cache for one
// page. Every exported method holds the lock for its whole check-then-set so
// at most one record per unit is ever pending.
type Deduplicator struct {
	mu       sync.Mutex
	ttl      time.Duration
	now      func() time.Time
	records  map[string]*Record
	verdicts map[string]content.Verdict

	// nextExpiry is the earliest time any record can expire; zero when there
	// are no records. Submit only sweeps once it has passed.
	nextExpiry time.Time
	sweeps     int
}

// Option customizes a Deduplicator.
type Option func(*Deduplicator)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(d *Deduplicator) {
		d.now = now
	}
}

// New creates a deduplicator. A non-positive TTL falls back to DefaultTTL.
func New(config Config, opts ...Option) *Deduplicator {
	ttl := config.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	d := &Deduplicator{
		ttl:      ttl,
		now:      time.Now,
		records:  make(map[string]*Record),
		verdicts: make(map[string]content.Verdict),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Submit decides whether unit needs classifying. Expired records are purged
// first.
func (d *Deduplicator) Submit(unit content.Unit) Outcome {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if !d.nextExpiry.IsZero() && !now.Before(d.nextExpiry) {
		d.purge(now)
	}

	if v, ok := d.verdicts[unit.ID]; ok {
		return Outcome{Status: StatusResolved, Verdict: &v}
	}

	if _, ok := d.records[unit.ID]; ok {
		// Pending is in flight; Failed waits out its TTL.
		return Outcome{Status: StatusSuppressed}
	}

	d.records[unit.ID] = &Record{
		UnitID:      unit.ID,
		State:       StatePending,
		SubmittedAt: now,
		Attempts:    1,
	}
	d.schedule(now)
	return Outcome{Status: StatusForwarded}
}

// Retry forwards a failed unit again before its record expires. Anything
// other than a failed record behaves like Submit.
func (d *Deduplicator) Retry(unit content.Unit) Outcome {
	d.mu.Lock()
	rec, ok := d.records[unit.ID]
	if ok && rec.State == StateFailed {
		rec.State = StatePending
		rec.SubmittedAt = d.now()
		rec.Attempts++
		d.schedule(rec.SubmittedAt)
		d.mu.Unlock()
		return Outcome{Status: StatusForwarded}
	}
	d.mu.Unlock()

	return d.Submit(unit)
}

// Resolve caches verdict for unitID and marks its record resolved. It returns
// false and drops the verdict when no pending record exists, which happens
// when the submission was evicted while in flight.
func (d *Deduplicator) Resolve(unitID string, verdict content.Verdict) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	rec, ok := d.records[unitID]
	if !ok || rec.State != StatePending {
		return false
	}

	verdict.UnitID = unitID
	rec.State = StateResolved
	d.verdicts[unitID] = verdict
	return true
}

// Fail marks a pending record failed. The unit stays suppressed until the
// record expires.
func (d *Deduplicator) Fail(unitID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	rec, ok := d.records[unitID]
	if !ok || rec.State != StatePending {
		return false
	}
	rec.State = StateFailed
	return true
}

// Record returns a copy of the record for unitID, if any.
func (d *Deduplicator) Record(unitID string) (Record, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	rec, ok := d.records[unitID]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// Verdict returns the cached verdict for unitID, if any.
func (d *Deduplicator) Verdict(unitID string) (content.Verdict, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	v, ok := d.verdicts[unitID]
	return v, ok
}

// Len returns the number of live records.
func (d *Deduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.records)
}

// Reset forgets every record and verdict, as on page unload.
func (d *Deduplicator) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	clear(d.records)
	clear(d.verdicts)
	d.nextExpiry = time.Time{}
}

// purge drops records older than the TTL and works out when the next one
// expires. Cached verdicts are kept for the page's lifetime. Callers hold
// d.mu.
func (d *Deduplicator) purge(now time.Time) {
	d.sweeps++
	d.nextExpiry = time.Time{}
	for id, rec := range d.records {
		if now.Sub(rec.SubmittedAt) >= d.ttl {
			delete(d.records, id)
			continue
		}
		d.schedule(rec.SubmittedAt)
	}
}

// schedule notes that a record submitted at submittedAt expires one TTL
// later. Callers hold d.mu.
func (d *Deduplicator) schedule(submittedAt time.Time) {
	expiry := submittedAt.Add(d.ttl)
	if d.nextExpiry.IsZero() || expiry.Before(d.nextExpiry) {
		d.nextExpiry = expiry
	}
}
