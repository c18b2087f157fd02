package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"atelier/internal/config"
)

const defaultOpenAIBase = "https://api.openai.com/v1"

// StorageHealth is the part of the image store the storage check needs.
type StorageHealth interface {
	Backend() string
	Health(ctx context.Context) error
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckProvider verifies the configured image provider is reachable and, for
// OpenAI, that the key is accepted. It never generates an image.
func CheckProvider(ctx context.Context, cfg config.Provider) Result {
	name := "Image provider (" + cfg.Kind + ")"
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	key := strings.TrimSpace(cfg.APIKey)

	var probe string
	switch cfg.Kind {
	case config.ProviderOpenAI:
		if key == "" {
			return Result{Name: name, Detail: "missing api key"}
		}
		if base == "" {
			base = defaultOpenAIBase
		}
		probe = base + "/models"
	case config.ProviderHTTP:
		if base == "" {
			return Result{Name: name, Detail: "missing url"}
		}
		probe = base + "/health"
	default:
		return Result{Name: name, Detail: fmt.Sprintf("unsupported kind %q", cfg.Kind)}
	}

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	client := &http.Client{Timeout: 5 * time.Second}
	req, err := http.NewRequestWithContext(checkCtx, http.MethodGet, probe, nil)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("check failed (%v)", err)}
	}
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	resp, err := client.Do(req)
	if err != nil {
		return Result{Name: name, Detail: summarizeError(err)}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return Result{Name: name, Detail: "auth failed (invalid api key)"}
	case resp.StatusCode >= 500:
		return Result{Name: name, Detail: fmt.Sprintf("check failed (%d)", resp.StatusCode)}
	default:
		// A generic service without /health still answers 404, which proves
		// it is listening.
		return Result{Name: name, Passed: true, Detail: "Reachable"}
	}
}

// CheckStorage runs the image store's own health probe.
func CheckStorage(ctx context.Context, storage StorageHealth) Result {
	if storage == nil {
		return Result{Name: "Image storage", Detail: "not configured"}
	}
	name := "Image storage (" + storage.Backend() + ")"
	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := storage.Health(checkCtx); err != nil {
		return Result{Name: name, Detail: summarizeError(err)}
	}
	return Result{Name: name, Passed: true, Detail: "Writable"}
}

// summarizeError produces a human-readable summary for network check failures.
func summarizeError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "check timed out (service unresponsive)"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "check timed out (service unreachable)"
	}
	return err.Error()
}
