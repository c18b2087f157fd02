package imagestore_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"atelier/internal/imagestore"
	"atelier/internal/services"
	"atelier/internal/testsupport"
)

func TestDetectAcceptsImagesOnly(t *testing.T) {
	img, err := imagestore.Detect(testsupport.PNG(t, 1))
	if err != nil {
		t.Fatalf("Detect png: %v", err)
	}
	if img.MIME != "image/png" || img.Ext != "png" {
		t.Fatalf("unexpected detection: %+v", img)
	}

	for name, data := range map[string][]byte{
		"empty": nil,
		"text":  []byte("the provider said no"),
		"json":  []byte(`{"error":"blocked"}`),
	} {
		if _, err := imagestore.Detect(data); !errors.Is(err, services.ErrInvalidImage) {
			t.Fatalf("%s: expected invalid image, got %v", name, err)
		}
	}
}

func TestLocalSaveReadDelete(t *testing.T) {
	root := filepath.Join(t.TempDir(), "images")
	local, err := imagestore.NewLocal(root)
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	ctx := context.Background()

	first := testsupport.PNG(t, 1)
	path, err := local.Save(ctx, "q_abc.png", first, "image/png")
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if path != "q_abc.png" {
		t.Fatalf("unexpected stored path %q", path)
	}

	second := testsupport.PNG(t, 2)
	if _, err := local.Save(ctx, "q_abc.png", second, "image/png"); err != nil {
		t.Fatalf("overwrite Save: %v", err)
	}
	data, err := local.Read(ctx, path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(data) != string(second) {
		t.Fatal("expected second save to overwrite the first")
	}
	entries, _ := os.ReadDir(root)
	if len(entries) != 1 {
		t.Fatalf("expected single file after overwrite, got %d", len(entries))
	}

	if err := local.Health(ctx); err != nil {
		t.Fatalf("Health: %v", err)
	}
	if err := local.Delete(ctx, path); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := local.Delete(ctx, path); err != nil {
		t.Fatalf("Delete missing should be a no-op, got %v", err)
	}
	if _, err := local.Read(ctx, path); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
}

func TestLocalRejectsTraversal(t *testing.T) {
	local, err := imagestore.NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	for _, key := range []string{"../escape.png", "/etc/passwd", "", "a/../../b.png"} {
		if _, err := local.Save(context.Background(), key, []byte("x"), ""); !errors.Is(err, services.ErrValidation) {
			t.Fatalf("key %q: expected validation error, got %v", key, err)
		}
	}
}

func TestNewSelectsBackend(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	storage, err := imagestore.New(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if storage.Backend() != "local" {
		t.Fatalf("expected local backend, got %s", storage.Backend())
	}

	cfg.Storage.Backend = "s3"
	cfg.Storage.S3Bucket = ""
	if _, err := imagestore.New(context.Background(), cfg, nil); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error without bucket, got %v", err)
	}

	cfg.Storage.Backend = "ftp"
	if _, err := imagestore.New(context.Background(), cfg, nil); err == nil {
		t.Fatal("expected unsupported backend error")
	}
}
