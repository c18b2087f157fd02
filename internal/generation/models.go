package generation

import "time"

// Status is the lifecycle state of a generation record.
type Status string

const (
	StatusPending    Status = "pending"
	StatusGenerating Status = "generating"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// IsTerminal reports whether the status never changes again through processing.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// allowedFrom lists the source statuses each target status may be entered from.
var allowedFrom = map[Status][]Status{
	StatusPending:    {StatusGenerating},
	StatusGenerating: {StatusPending},
	StatusFailed:     {StatusPending, StatusGenerating},
}

// Record is one generated (or to-be-generated) image and its provenance.
type Record struct {
	ID                   string
	PromptJSON           string
	Status               Status
	ImagePath            string
	ErrorMessage         string
	ReferencePhotoIDs    []string
	ComponentsUsed       []string
	InlineReferencePaths []string
	ParentID             string
	EditInstructions     string
	IsFavorite           bool
	IsHidden             bool
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// CreateParams describes a new pending record.
type CreateParams struct {
	PromptJSON           string
	ReferencePhotoIDs    []string
	ComponentsUsed       []string
	InlineReferencePaths []string
	ParentID             string
	EditInstructions     string
	Hidden               bool
}

// ListFilter narrows List results. Hidden records are excluded unless
// IncludeHidden is set.
type ListFilter struct {
	FavoritesOnly bool
	IncludeHidden bool
	Limit         int
	Offset        int
}
