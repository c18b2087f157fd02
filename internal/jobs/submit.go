package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"atelier/internal/generation"
	"atelier/internal/logging"
	"atelier/internal/queue"
	"atelier/internal/services"
)

// SubmitRequest is a batch of identical generation requests.
type SubmitRequest struct {
	PromptJSON           string
	ReferencePhotoIDs    []string
	InlineReferencePaths []string
	ComponentsUsed       []string
	GoogleSearch         bool
	SafetyOverride       bool
	Count                int
}

// SubmittedItem pairs a queue entry with its generation record.
type SubmittedItem struct {
	QueueID      string
	GenerationID string
	Status       queue.Status
}

// SubmitResult lists the created pairs in queue order. Position is the first
// item's place in line at commit time.
type SubmitResult struct {
	Items    []SubmittedItem
	Position int
}

// ValidatePrompt checks that prompt is a JSON object and returns it trimmed.
func ValidatePrompt(prompt string) (string, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", services.Wrap(services.ErrValidation, "jobs", "submit", "prompt_json is required", nil)
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal([]byte(prompt), &doc); err != nil || doc == nil {
		return "", services.Wrap(services.ErrValidation, "jobs", "submit", "prompt_json must be a JSON object", nil)
	}
	return prompt, nil
}

// Submit validates the request and creates Count generation and queue pairs
// in one transaction. Nothing is persisted when any pair fails.
func (m *Manager) Submit(ctx context.Context, req SubmitRequest) (SubmitResult, error) {
	prompt, err := ValidatePrompt(req.PromptJSON)
	if err != nil {
		return SubmitResult{}, err
	}
	refs := trimList(req.ReferencePhotoIDs)
	inline := trimList(req.InlineReferencePaths)
	if m.refs != nil {
		if err := m.refs.Check(refs, inline); err != nil {
			return SubmitResult{}, err
		}
	}
	count := m.clampCount(req.Count)

	opts := queue.Options{
		ReferencePhotoIDs:    refs,
		InlineReferencePaths: inline,
		GoogleSearch:         req.GoogleSearch,
		SafetyOverride:       req.SafetyOverride,
	}
	var result SubmitResult
	err = m.db.InTx(ctx, func(tx *sql.Tx) error {
		result = SubmitResult{Items: make([]SubmittedItem, 0, count)}
		gens := m.generations.WithTx(tx)
		for i := 0; i < count; i++ {
			if m.beforeEnqueue != nil {
				if err := m.beforeEnqueue(i); err != nil {
					return err
				}
			}
			rec, err := gens.Create(ctx, generation.CreateParams{
				PromptJSON:           prompt,
				ReferencePhotoIDs:    refs,
				ComponentsUsed:       trimList(req.ComponentsUsed),
				InlineReferencePaths: inline,
			})
			if err != nil {
				return err
			}
			item, err := m.Enqueue(ctx, tx, rec.ID, prompt, opts)
			if err != nil {
				return err
			}
			if i == 0 {
				result.Position = item.Position
			}
			result.Items = append(result.Items, SubmittedItem{QueueID: item.ID, GenerationID: rec.ID, Status: item.Status})
		}
		return nil
	})
	if err != nil {
		return SubmitResult{}, err
	}

	m.metrics.AddSubmissions(len(result.Items))
	m.logContext(ctx).Info("generations submitted",
		logging.String(logging.FieldEventType, "submit"),
		logging.Int("count", len(result.Items)),
		logging.Int("position", result.Position),
		logging.String(logging.FieldQueueItemID, result.Items[0].QueueID),
	)
	m.notify()
	return result, nil
}
