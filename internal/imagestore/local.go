package imagestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"atelier/internal/services"
)

// Local stores images as files under a root directory.
type Local struct {
	root string
}

// NewLocal creates the root directory if needed.
func NewLocal(root string) (*Local, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, services.Wrap(services.ErrConfiguration, "imagestore", "local", "paths.image_dir is required", nil)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create image dir: %w", err)
	}
	return &Local{root: root}, nil
}

func (l *Local) Backend() string { return "local" }

// Root returns the directory images are written to.
func (l *Local) Root() string { return l.root }

// Save writes data to root/key through a temp file and rename so readers never
// observe a partial image. Saving the same key again overwrites it.
func (l *Local) Save(_ context.Context, key string, data []byte, _ string) (string, error) {
	target, err := l.resolve(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", fmt.Errorf("create image subdir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(target), ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("create temp image: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("write image: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("close image: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("chmod image: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("commit image: %w", err)
	}
	return filepath.ToSlash(key), nil
}

func (l *Local) Read(_ context.Context, path string) ([]byte, error) {
	target, err := l.resolve(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(target)
	if errors.Is(err, os.ErrNotExist) {
		return nil, services.Wrap(services.ErrNotFound, "imagestore", "read", path, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	return data, nil
}

// Delete removes the file; a missing file is not an error.
func (l *Local) Delete(_ context.Context, path string) error {
	target, err := l.resolve(path)
	if err != nil {
		return err
	}
	if err := os.Remove(target); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove image: %w", err)
	}
	return nil
}

// Health verifies the root is a writable directory.
func (l *Local) Health(_ context.Context) error {
	info, err := os.Stat(l.root)
	if err != nil {
		return fmt.Errorf("stat image dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("image dir %q is not a directory", l.root)
	}
	if err := unix.Access(l.root, unix.W_OK|unix.X_OK); err != nil {
		return fmt.Errorf("image dir %q not writable: %w", l.root, err)
	}
	return nil
}

func (l *Local) resolve(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(strings.TrimSpace(key)))
	if clean == "." || clean == "" || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", services.Wrap(services.ErrValidation, "imagestore", "resolve", fmt.Sprintf("invalid image key %q", key), nil)
	}
	return filepath.Join(l.root, clean), nil
}
