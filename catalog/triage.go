package catalog

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultTriageConcurrency bounds reports triaged at once.
const DefaultTriageConcurrency = 2

// Triager checks new reports against the catalogue in the background so
// the request that filed them returns right away.
type Triager struct {
	store     *Store
	logger    *zap.Logger
	semaphore chan struct{}
	wg        sync.WaitGroup
}

// NewTriager creates a triager. logger may be nil.
func NewTriager(store *Store, concurrency int, logger *zap.Logger) *Triager {
	if concurrency <= 0 {
		concurrency = DefaultTriageConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Triager{
		store:     store,
		logger:    logger,
		semaphore: make(chan struct{}, concurrency),
	}
}

// Enqueue triages the report with id in the background.
func (t *Triager) Enqueue(id uuid.UUID) {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()

		t.semaphore <- struct{}{}
		defer func() { <-t.semaphore }()

		r, err := t.store.TriageReport(id)
		if err != nil {
			t.logger.Warn("Report triage failed",
				zap.String("report_id", id.String()),
				zap.Error(err))
			return
		}

		fields := []zap.Field{
			zap.String("report_id", id.String()),
			zap.String("status", string(r.Status)),
		}
		if r.BuloID != nil {
			fields = append(fields, zap.String("bulo_id", r.BuloID.String()))
		}
		t.logger.Info("Report triaged", fields...)
	}()
}

// Wait blocks until every enqueued report has been triaged.
func (t *Triager) Wait() {
	t.wg.Wait()
}
