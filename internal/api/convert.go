package api

import (
	"encoding/json"
	"slices"
	"strings"
	"time"

	"atelier/internal/generation"
	"atelier/internal/jobs"
	"atelier/internal/preflight"
	"atelier/internal/queue"
	"atelier/internal/store"
	"atelier/internal/workflow"
)

// FromGeneration converts a generation record to its API representation.
func FromGeneration(rec *generation.Record) Generation {
	if rec == nil {
		return Generation{}
	}
	dto := Generation{
		ID:                   rec.ID,
		Status:               string(rec.Status),
		ImagePath:            rec.ImagePath,
		ErrorMessage:         rec.ErrorMessage,
		ReferencePhotoIDs:    rec.ReferencePhotoIDs,
		ComponentsUsed:       rec.ComponentsUsed,
		InlineReferencePaths: rec.InlineReferencePaths,
		ParentID:             rec.ParentID,
		EditInstructions:     rec.EditInstructions,
		IsFavorite:           rec.IsFavorite,
		IsHidden:             rec.IsHidden,
		CreatedAt:            formatTime(rec.CreatedAt),
		UpdatedAt:            formatTime(rec.UpdatedAt),
	}
	if rec.PromptJSON != "" {
		dto.PromptJSON = json.RawMessage(rec.PromptJSON)
	}
	return dto
}

// FromGenerations converts a slice of generation records.
func FromGenerations(recs []generation.Record) []Generation {
	out := make([]Generation, 0, len(recs))
	for i := range recs {
		out = append(out, FromGeneration(&recs[i]))
	}
	return out
}

// FromQueueItem converts a queue record to its API representation.
func FromQueueItem(item *queue.Item) QueueItem {
	if item == nil {
		return QueueItem{}
	}
	dto := QueueItem{
		ID:               item.ID,
		GenerationID:     item.GenerationID,
		Status:           string(item.Status),
		Position:         item.Position,
		Error:            item.Error,
		Attempts:         item.Attempts,
		RemixSourceID:    item.Options.RemixSourceID,
		RemixMode:        string(item.Options.RemixMode),
		EditInstructions: item.Options.EditInstructions,
		ReferencePhotos:  item.Options.ReferencePhotoIDs,
		CreatedAt:        formatTime(item.CreatedAt),
	}
	if item.StartedAt != nil {
		dto.StartedAt = formatTime(*item.StartedAt)
	}
	if item.CompletedAt != nil {
		dto.CompletedAt = formatTime(*item.CompletedAt)
	}
	return dto
}

// FromQueueItems converts a slice of queue records into API DTOs.
func FromQueueItems(items []queue.Item) []QueueItem {
	out := make([]QueueItem, 0, len(items))
	for i := range items {
		out = append(out, FromQueueItem(&items[i]))
	}
	return out
}

// FromSubmitResult converts the outcome of a submit or remix call.
func FromSubmitResult(res jobs.SubmitResult) SubmitResponse {
	items := make([]SubmittedItem, 0, len(res.Items))
	for _, item := range res.Items {
		items = append(items, SubmittedItem{
			QueueID:      item.QueueID,
			GenerationID: item.GenerationID,
			Status:       string(item.Status),
		})
	}
	return SubmitResponse{Items: items, Position: res.Position}
}

// ToSubmitRequest maps the wire request onto the queue manager's request.
func ToSubmitRequest(req SubmitRequest) jobs.SubmitRequest {
	return jobs.SubmitRequest{
		PromptJSON:           req.PromptText(),
		ReferencePhotoIDs:    req.ReferencePhotoIDs,
		InlineReferencePaths: req.InlineReferencePaths,
		ComponentsUsed:       req.ComponentsUsed,
		GoogleSearch:         req.GoogleSearch,
		SafetyOverride:       req.SafetyOverride,
		Count:                req.Count,
	}
}

// ToRemixRequest maps the wire request onto the queue manager's request.
func ToRemixRequest(sourceID string, req RemixRequest) jobs.RemixRequest {
	return jobs.RemixRequest{
		SourceID:         sourceID,
		EditInstructions: req.EditInstructions,
		Mode:             req.Mode,
		SafetyOverride:   req.SafetyOverride,
	}
}

// FromGenerationStatus flattens the polling view. Image path is reported only
// once the record is completed and error only once it failed.
func FromGenerationStatus(status jobs.GenerationStatus) GenerationStatusResponse {
	resp := GenerationStatusResponse{Generation: FromGeneration(status.Generation)}
	if status.Generation != nil {
		resp.Status = string(status.Generation.Status)
		switch status.Generation.Status {
		case generation.StatusCompleted:
			resp.ImagePath = status.Generation.ImagePath
		case generation.StatusFailed:
			resp.Error = status.Generation.ErrorMessage
		}
	}
	if status.QueueItem != nil {
		item := FromQueueItem(status.QueueItem)
		resp.QueueItem = &item
	}
	resp.Position = status.Position
	return resp
}

// FromActiveView converts the active queue listing.
func FromActiveView(view jobs.ActiveView) QueueListResponse {
	return QueueListResponse{
		Items:   FromQueueItems(view.Items),
		Metrics: FromMetrics(view.Metrics),
	}
}

// FromMetrics converts live queue metrics.
func FromMetrics(m queue.Metrics) QueueMetrics {
	return QueueMetrics{
		QueuedCount:     m.QueuedCount,
		ProcessingCount: m.ProcessingCount,
		AvgWaitSeconds:  m.AvgWait.Seconds(),
	}
}

// FromQueueStatus converts a single-item status view.
func FromQueueStatus(status jobs.QueueStatus) QueueItemResponse {
	return QueueItemResponse{
		Item: FromQueueItem(status.Item),
		Metrics: QueueMetrics{
			QueuedCount:     status.Queued,
			ProcessingCount: status.Processing,
			AvgWaitSeconds:  status.AvgWait.Seconds(),
		},
	}
}

// FromHistoryPage converts one page of terminal items.
func FromHistoryPage(page queue.HistoryPage) HistoryResponse {
	return HistoryResponse{
		Items: FromQueueItems(page.Items),
		Total: page.Total,
		Page:  page.Page,
		Limit: page.Limit,
	}
}

// FromStatusSummary converts a workflow status summary to API payload.
func FromStatusSummary(summary workflow.StatusSummary) WorkflowStatus {
	stats := make(map[string]int, len(summary.QueueStats))
	for status, count := range summary.QueueStats {
		stats[string(status)] = count
	}
	wf := WorkflowStatus{
		Running:        summary.Running,
		Draining:       summary.Draining,
		QueueStats:     stats,
		LastError:      summary.LastError,
		Provider:       summary.Provider,
		StorageBackend: summary.StorageBackend,
		StorageHealthy: summary.StorageHealthy,
		StorageDetail:  summary.StorageDetail,
	}
	if summary.LastItem != nil {
		last := FromQueueItem(summary.LastItem)
		wf.LastItem = &last
	}
	return wf
}

// FromDatabaseHealth converts the datastore health probe.
func FromDatabaseHealth(h store.Health) DatabaseHealth {
	return DatabaseHealth{
		Path:           h.DBPath,
		Exists:         h.DatabaseExists,
		Readable:       h.DatabaseReadable,
		SchemaVersion:  h.SchemaVersion,
		IntegrityCheck: h.IntegrityCheck,
		Generations:    h.Generations,
		QueueItems:     h.QueueItems,
		Error:          h.Error,
	}
}

// FromCheckResults converts preflight results sorted by name.
func FromCheckResults(results []preflight.Result) []CheckResult {
	out := make([]CheckResult, 0, len(results))
	for _, r := range results {
		out = append(out, CheckResult{Name: r.Name, Passed: r.Passed, Detail: r.Detail})
	}
	slices.SortStableFunc(out, func(a, b CheckResult) int {
		return strings.Compare(a.Name, b.Name)
	})
	return out
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}
