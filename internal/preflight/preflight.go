package preflight

import (
	"context"

	"atelier/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes the filesystem and provider checks for the given config.
// The image directory is only checked for the local storage backend.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Data directory", cfg.Paths.DataDir),
	}
	if cfg.Storage.Backend == "" || cfg.Storage.Backend == config.StorageLocal {
		results = append(results, CheckDirectoryAccess("Image directory", cfg.Paths.ImageDir))
	}
	results = append(results,
		CheckDirectoryAccess("Reference directory", cfg.Paths.ReferenceDir),
		CheckDirectoryAccess("Upload directory", cfg.Paths.UploadDir),
		CheckProvider(ctx, cfg.Provider),
	)
	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed {
			failed = append(failed, r)
		}
	}
	return failed
}
