package testsupport

import (
	"path/filepath"
	"testing"

	"atelier/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// The provider defaults to the generic HTTP kind pointed at a dead address so
// no test reaches a real backend by accident.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.ImageDir = filepath.Join(base, "images")
	cfgVal.Paths.ReferenceDir = filepath.Join(base, "references")
	cfgVal.Paths.UploadDir = filepath.Join(base, "uploads")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.Provider.Kind = config.ProviderHTTP
	cfgVal.Provider.BaseURL = "http://127.0.0.1:1"
	cfgVal.Provider.APIKey = ""
	cfgVal.Provider.TimeoutSeconds = 5
	cfgVal.Storage.Backend = config.StorageLocal
	cfgVal.Workflow.QueuePollInterval = 1
	cfgVal.Workflow.ErrorRetryInterval = 1
	cfgVal.Workflow.ProcessingTimeout = 60

	builder := &configBuilder{t: t, baseDir: base, cfg: &cfgVal}
	for _, opt := range opts {
		opt(builder)
	}
	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return builder.cfg
}

// WithProviderURL points the HTTP provider at baseURL (usually an httptest server).
func WithProviderURL(baseURL string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Provider.Kind = config.ProviderHTTP
		b.cfg.Provider.BaseURL = baseURL
	}
}

// WithStaleAction sets how stale processing rows are reclaimed.
func WithStaleAction(action string, maxAttempts int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Workflow.StaleAction = action
		b.cfg.Workflow.MaxAttempts = maxAttempts
	}
}

// WithAPIToken enables bearer authentication on the API server.
func WithAPIToken(token string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Paths.APIToken = token
	}
}

// WithNtfyTopic enables ntfy notifications against topicURL.
func WithNtfyTopic(topicURL string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Notifications.NtfyTopic = topicURL
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
