package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"atelier/internal/client"
	"atelier/internal/config"
	"atelier/internal/daemon"
	"atelier/internal/imagestore"
	"atelier/internal/jobs"
	"atelier/internal/metrics"
	"atelier/internal/references"
	"atelier/internal/testsupport"
	"atelier/internal/workflow"
)

type cliTestEnv struct {
	cfg        *config.Config
	daemon     *daemon.Daemon
	provider   *testsupport.FakeProvider
	client     *client.Client
	configPath string
	apiAddr    string
}

func isolateEnv(t *testing.T) string {
	t.Helper()
	home := filepath.Join(t.TempDir(), "home")
	if err := os.MkdirAll(home, 0o755); err != nil {
		t.Fatalf("mkdir home: %v", err)
	}
	t.Setenv("HOME", home)
	for _, key := range []string{"OPENAI_API_KEY", "ATELIER_PROVIDER_API_KEY", "ATELIER_API_TOKEN"} {
		t.Setenv(key, "")
	}
	return home
}

func okProvider(t *testing.T) *testsupport.FakeProvider {
	t.Helper()
	return testsupport.NewFakeProvider(testsupport.FakeResponse{Data: testsupport.PNG(t, 7), MIME: "image/png"})
}

func setupCLITestEnv(t *testing.T, opts ...testsupport.ConfigOption) *cliTestEnv {
	t.Helper()
	return setupCLITestEnvWith(t, okProvider(t), opts...)
}

func setupCLITestEnvWith(t *testing.T, prov *testsupport.FakeProvider, opts ...testsupport.ConfigOption) *cliTestEnv {
	t.Helper()
	isolateEnv(t)

	cfg := testsupport.NewConfig(t, opts...)
	configPath := filepath.Join(testsupport.BaseDir(cfg), "config.toml")
	writeTestConfig(t, configPath, cfg)

	db := testsupport.MustOpenDB(t, cfg)
	images, err := imagestore.NewLocal(cfg.Paths.ImageDir)
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	refs := references.NewResolver(cfg.Paths.ReferenceDir, cfg.Paths.UploadDir)
	reg := metrics.New()
	wf := workflow.NewManager(cfg, db, prov, images, nil, workflow.WithReferences(refs), workflow.WithMetrics(reg))
	jm := jobs.NewManager(cfg, db, images, nil, jobs.WithTrigger(wf), jobs.WithReferences(refs), jobs.WithMetrics(reg))
	d, err := daemon.New(cfg, db, jm, wf, nil, daemon.WithMetrics(reg))
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	c, err := client.New(d.APIAddr(), cfg.Paths.APIToken)
	if err != nil || c == nil {
		t.Fatalf("client.New(%q) = %v, %v", d.APIAddr(), c, err)
	}
	return &cliTestEnv{
		cfg:        cfg,
		daemon:     d,
		provider:   prov,
		client:     c,
		configPath: configPath,
		apiAddr:    d.APIAddr(),
	}
}

func (e *cliTestEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return runCLI(t, args, e.apiAddr, e.configPath)
}

func runCLI(t *testing.T, args []string, apiAddr, configPath string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetIn(strings.NewReader(""))
	var flags []string
	if apiAddr != "" {
		flags = append(flags, "--api", apiAddr)
	}
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), err
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir config dir: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func waitFor(t *testing.T, duration time.Duration, fn func() bool) {
	t.Helper()
	deadline := time.Now().Add(duration)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", duration)
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
