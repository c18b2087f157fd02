package references

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"atelier/internal/imagestore"
	"atelier/internal/provider"
	"atelier/internal/services"
)

// Resolver loads reference images from disk. Reference photos are stored as
// <reference_dir>/<id>.<ext>; inline references are paths relative to the
// upload directory.
type Resolver struct {
	referenceDir string
	uploadDir    string
}

// NewResolver returns a resolver rooted at the given directories.
func NewResolver(referenceDir, uploadDir string) *Resolver {
	return &Resolver{
		referenceDir: strings.TrimSpace(referenceDir),
		uploadDir:    strings.TrimSpace(uploadDir),
	}
}

// Photos loads each reference photo by id, preserving order.
func (r *Resolver) Photos(ids []string) ([]provider.Image, error) {
	images := make([]provider.Image, 0, len(ids))
	for _, id := range ids {
		img, err := r.Photo(id)
		if err != nil {
			return nil, err
		}
		images = append(images, img)
	}
	return images, nil
}

// Photo loads a single reference photo.
func (r *Resolver) Photo(id string) (provider.Image, error) {
	id = strings.TrimSpace(id)
	if !validID(id) {
		return provider.Image{}, services.Wrap(services.ErrValidation, "references", "photo", fmt.Sprintf("invalid reference id %q", id), nil)
	}
	matches, err := filepath.Glob(filepath.Join(r.referenceDir, id+".*"))
	if err != nil {
		return provider.Image{}, fmt.Errorf("glob reference %s: %w", id, err)
	}
	sort.Strings(matches)
	if len(matches) == 0 {
		return provider.Image{}, services.Wrap(services.ErrNotFound, "references", "photo", fmt.Sprintf("reference photo %s not found", id), nil)
	}
	return load(id, matches[0])
}

// Inline loads each inline reference path, preserving order.
func (r *Resolver) Inline(paths []string) ([]provider.Image, error) {
	images := make([]provider.Image, 0, len(paths))
	for _, p := range paths {
		target, err := r.resolveUpload(p)
		if err != nil {
			return nil, err
		}
		img, err := load(filepath.Base(target), target)
		if err != nil {
			return nil, err
		}
		images = append(images, img)
	}
	return images, nil
}

// Check verifies every id and path exists and is an image without keeping the
// data. Submission uses it to reject bad references synchronously.
func (r *Resolver) Check(ids, paths []string) error {
	if _, err := r.Photos(ids); err != nil {
		return err
	}
	_, err := r.Inline(paths)
	return err
}

func (r *Resolver) resolveUpload(p string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(strings.TrimSpace(p)))
	if clean == "." || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", services.Wrap(services.ErrValidation, "references", "inline", fmt.Sprintf("invalid inline reference path %q", p), nil)
	}
	return filepath.Join(r.uploadDir, clean), nil
}

func load(name, path string) (provider.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return provider.Image{}, services.Wrap(services.ErrNotFound, "references", "load", fmt.Sprintf("reference %s not found", name), nil)
		}
		return provider.Image{}, fmt.Errorf("read reference %s: %w", name, err)
	}
	img, err := imagestore.Detect(data)
	if err != nil {
		return provider.Image{}, services.Wrap(services.ErrValidation, "references", "load", fmt.Sprintf("reference %s is not a supported image", name), err)
	}
	return provider.Image{Name: name, MIME: img.MIME, Data: data}, nil
}

func validID(id string) bool {
	if id == "" || len(id) > 128 {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return false
		}
	}
	return true
}
