package jobs

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"atelier/internal/generation"
	"atelier/internal/logging"
	"atelier/internal/queue"
	"atelier/internal/services"
)

// RemixRequest asks for a new image derived from a completed generation.
type RemixRequest struct {
	SourceID         string
	EditInstructions string
	// Mode is "fork" or "replace"; empty means fork.
	Mode           string
	SafetyOverride bool
}

// Remix enqueues one derived generation.
//
// Fork creates a visible child with parent_id set to the source. Replace
// creates a hidden intermediate with no parent; when it completes the
// processor writes the new image onto the source itself, so lineage never
// gains a node.
func (m *Manager) Remix(ctx context.Context, req RemixRequest) (SubmitResult, error) {
	edit := strings.TrimSpace(req.EditInstructions)
	if edit == "" {
		return SubmitResult{}, services.Wrap(services.ErrValidation, "jobs", "remix", "edit_instructions are required", nil)
	}
	mode := queue.RemixFork
	if strings.TrimSpace(req.Mode) != "" {
		parsed, ok := queue.ParseRemixMode(req.Mode)
		if !ok {
			return SubmitResult{}, services.Wrap(services.ErrValidation, "jobs", "remix",
				fmt.Sprintf("unknown remix mode %q", req.Mode), nil)
		}
		mode = parsed
	}
	sourceID := strings.TrimSpace(req.SourceID)

	var result SubmitResult
	err := m.db.InTx(ctx, func(tx *sql.Tx) error {
		gens := m.generations.WithTx(tx)
		source, err := gens.GetByID(ctx, sourceID)
		if err != nil {
			return err
		}
		if source == nil {
			return services.Wrap(services.ErrNotFound, "jobs", "remix", "generation "+sourceID+" not found", nil)
		}
		if source.Status != generation.StatusCompleted || source.ImagePath == "" {
			return services.Wrap(services.ErrValidation, "jobs", "remix",
				"source generation must be completed with an image", nil)
		}

		params := generation.CreateParams{
			PromptJSON:           source.PromptJSON,
			ReferencePhotoIDs:    source.ReferencePhotoIDs,
			ComponentsUsed:       source.ComponentsUsed,
			InlineReferencePaths: source.InlineReferencePaths,
			EditInstructions:     edit,
		}
		if mode == queue.RemixFork {
			params.ParentID = source.ID
		} else {
			params.Hidden = true
		}
		rec, err := gens.Create(ctx, params)
		if err != nil {
			return err
		}
		item, err := m.Enqueue(ctx, tx, rec.ID, source.PromptJSON, queue.Options{
			ReferencePhotoIDs:    source.ReferencePhotoIDs,
			InlineReferencePaths: source.InlineReferencePaths,
			SafetyOverride:       req.SafetyOverride,
			RemixSourceID:        source.ID,
			RemixMode:            mode,
			EditInstructions:     edit,
		})
		if err != nil {
			return err
		}
		result = SubmitResult{
			Items:    []SubmittedItem{{QueueID: item.ID, GenerationID: rec.ID, Status: item.Status}},
			Position: item.Position,
		}
		return nil
	})
	if err != nil {
		return SubmitResult{}, err
	}

	m.metrics.ObserveRemix(string(mode))
	m.logContext(ctx).Info("remix submitted",
		logging.String(logging.FieldEventType, "remix"),
		logging.String("mode", string(mode)),
		logging.String("source_id", sourceID),
		logging.String(logging.FieldGenerationID, result.Items[0].GenerationID),
		logging.String(logging.FieldQueueItemID, result.Items[0].QueueID),
	)
	m.notify()
	return result, nil
}
