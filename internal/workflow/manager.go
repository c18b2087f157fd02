package workflow

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"atelier/internal/config"
	"atelier/internal/generation"
	"atelier/internal/imagestore"
	"atelier/internal/logging"
	"atelier/internal/metrics"
	"atelier/internal/notifications"
	"atelier/internal/provider"
	"atelier/internal/queue"
	"atelier/internal/store"
)

// ReferenceLoader resolves the reference images recorded on a queue item.
type ReferenceLoader interface {
	Photos(ids []string) ([]provider.Image, error)
	Inline(paths []string) ([]provider.Image, error)
}

// Manager drains the generation queue through a single provider worker.
type Manager struct {
	db          *store.DB
	queue       *queue.Store
	generations *generation.Store
	provider    provider.Provider
	images      imagestore.Storage
	refs        ReferenceLoader
	metrics     *metrics.Registry
	notifier    notifications.Service
	logger      *slog.Logger

	pollInterval      time.Duration
	retryInterval     time.Duration
	providerTimeout   time.Duration
	processingTimeout time.Duration
	staleAction       queue.StaleAction
	maxAttempts       int

	// draining is held for the whole of a ProcessQueue drain. It is the only
	// thing that decides whether the worker is active.
	draining atomic.Bool
	wake     chan struct{}

	mu       sync.RWMutex
	running  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	lastErr  error
	lastItem *queue.Item
}

// Option configures optional Manager behavior.
type Option func(*Manager)

// WithReferences sets the loader used for reference photos and inline paths.
func WithReferences(refs ReferenceLoader) Option {
	return func(m *Manager) { m.refs = refs }
}

// WithMetrics records processing metrics on reg.
func WithMetrics(reg *metrics.Registry) Option {
	return func(m *Manager) { m.metrics = reg }
}

// NewManager constructs a processor over the shared database.
func NewManager(cfg *config.Config, db *store.DB, prov provider.Provider, images imagestore.Storage, logger *slog.Logger, opts ...Option) *Manager {
	m := &Manager{
		db:                db,
		queue:             queue.NewStore(db.SQL()),
		generations:       generation.NewStore(db.SQL(), images).WithLineageDepth(cfg.Workflow.LineageMaxDepth),
		provider:          prov,
		images:            images,
		notifier:          notifications.NewService(cfg),
		logger:            logging.NewComponentLogger(logger, "workflow"),
		pollInterval:      seconds(cfg.Workflow.QueuePollInterval, 5),
		retryInterval:     seconds(cfg.Workflow.ErrorRetryInterval, 10),
		providerTimeout:   seconds(cfg.Provider.TimeoutSeconds, 120),
		processingTimeout: seconds(cfg.Workflow.ProcessingTimeout, 600),
		staleAction:       queue.StaleAction(cfg.Workflow.StaleAction),
		maxAttempts:       cfg.Workflow.MaxAttempts,
		wake:              make(chan struct{}, 1),
	}
	if m.staleAction == "" {
		m.staleAction = queue.StaleRequeue
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Trigger asks the worker to drain the queue. It never blocks; a pending
// wake-up absorbs any further calls.
func (m *Manager) Trigger() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func seconds(value, fallback int) time.Duration {
	if value <= 0 {
		value = fallback
	}
	return time.Duration(value) * time.Second
}
