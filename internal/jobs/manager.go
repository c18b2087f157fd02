package jobs

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"

	"atelier/internal/config"
	"atelier/internal/generation"
	"atelier/internal/logging"
	"atelier/internal/metrics"
	"atelier/internal/queue"
	"atelier/internal/services"
	"atelier/internal/store"
)

const maxBatchCeiling = 4

// Trigger wakes the processor. Implementations must not block.
type Trigger interface {
	Trigger()
}

// ReferenceChecker validates reference ids and inline paths at submit time.
type ReferenceChecker interface {
	Check(ids, paths []string) error
}

// Images is the slice of the image store the manager needs.
type Images interface {
	Delete(ctx context.Context, path string) error
}

// Manager owns every queue mutation that originates from a client: batch
// submission, remix, cancellation and deletion. Processing lives in the
// workflow package.
type Manager struct {
	db          *store.DB
	queue       *queue.Store
	generations *generation.Store
	images      Images
	trigger     Trigger
	refs        ReferenceChecker
	metrics     *metrics.Registry
	logger      *slog.Logger

	maxBatch        int
	historyPageSize int
	lineageDepth    int

	// beforeEnqueue runs ahead of each pair insert inside the batch
	// transaction. Tests use it to inject failures.
	beforeEnqueue func(index int) error
}

// Option customizes a Manager.
type Option func(*Manager)

// WithTrigger sets the processor wake-up signal sent after each commit.
func WithTrigger(t Trigger) Option {
	return func(m *Manager) { m.trigger = t }
}

// WithReferences enables synchronous reference validation on submit.
func WithReferences(refs ReferenceChecker) Option {
	return func(m *Manager) { m.refs = refs }
}

// WithMetrics records submission counters on reg.
func WithMetrics(reg *metrics.Registry) Option {
	return func(m *Manager) { m.metrics = reg }
}

// NewManager wires a manager over the shared database.
func NewManager(cfg *config.Config, db *store.DB, images Images, logger *slog.Logger, opts ...Option) *Manager {
	m := &Manager{
		db:              db,
		queue:           queue.NewStore(db.SQL()),
		images:          images,
		logger:          logging.NewComponentLogger(logger, "jobs"),
		maxBatch:        maxBatchCeiling,
		historyPageSize: 20,
	}
	if cfg != nil {
		if cfg.Submission.MaxBatch > 0 && cfg.Submission.MaxBatch < maxBatchCeiling {
			m.maxBatch = cfg.Submission.MaxBatch
		}
		if cfg.Submission.HistoryPageSize > 0 {
			m.historyPageSize = cfg.Submission.HistoryPageSize
		}
		m.lineageDepth = cfg.Workflow.LineageMaxDepth
	}
	m.generations = generation.NewStore(db.SQL(), images).WithLineageDepth(m.lineageDepth)
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Enqueue creates the queue entry for an existing generation inside the
// caller's transaction and returns it with its position.
func (m *Manager) Enqueue(ctx context.Context, tx *sql.Tx, generationID, promptJSON string, opts queue.Options) (*queue.Item, error) {
	rec, err := m.generations.WithTx(tx).GetByID(ctx, generationID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, services.Wrap(services.ErrNotFound, "jobs", "enqueue", "generation "+generationID+" not found", nil)
	}
	return m.queue.WithTx(tx).Insert(ctx, queue.NewItem{
		GenerationID: generationID,
		PromptJSON:   promptJSON,
		Options:      opts,
	})
}

func (m *Manager) notify() {
	if m.trigger != nil {
		m.trigger.Trigger()
	}
}

func (m *Manager) clampCount(count int) int {
	if count < 1 {
		return 1
	}
	if count > m.maxBatch {
		return m.maxBatch
	}
	return count
}

func (m *Manager) logContext(ctx context.Context) *slog.Logger {
	return logging.WithContext(ctx, m.logger)
}

func trimList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
