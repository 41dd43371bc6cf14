package jobs

import "time"

// Snapshot is a point-in-time copy of a State
type Snapshot struct {
	Kind        Kind
	Status      Status
	Total       int64
	Processed   int64
	Succeeded   int64
	Failed      int64
	Counters    map[string]int64
	StartedAt   *time.Time
	CompletedAt *time.Time
	Errors      []string
}

// ImportStatus is the wire shape of an import or watch job
type ImportStatus struct {
	Status            Status   `json:"status"`
	TotalFiles        int64    `json:"totalFiles"`
	ProcessedFiles    int64    `json:"processedFiles"`
	SuccessfulImports int64    `json:"successfulImports"`
	FailedImports     int64    `json:"failedImports"`
	Deduplicated      int64    `json:"deduplicated"`
	StartedAt         string   `json:"startedAt,omitempty"`
	CompletedAt       string   `json:"completedAt,omitempty"`
	Errors            []string `json:"errors"`
}

// RegenerationStatus is the wire shape of a regeneration job
type RegenerationStatus struct {
	Status              Status   `json:"status"`
	TotalMedia          int64    `json:"totalMedia"`
	ProcessedMedia      int64    `json:"processedMedia"`
	UpdatedMetadata     int64    `json:"updatedMetadata"`
	GeneratedThumbnails int64    `json:"generatedThumbnails"`
	UpdatedTags         int64    `json:"updatedTags"`
	BackfilledHashes    int64    `json:"backfilledHashes"`
	FailedMedia         int64    `json:"failedMedia"`
	StartedAt           string   `json:"startedAt,omitempty"`
	CompletedAt         string   `json:"completedAt,omitempty"`
	Errors              []string `json:"errors"`
}

// ImportView converts the snapshot to ImportStatus
func (s Snapshot) ImportView() ImportStatus {
	return ImportStatus{
		Status:            s.Status,
		TotalFiles:        s.Total,
		ProcessedFiles:    s.Processed,
		SuccessfulImports: s.Succeeded,
		FailedImports:     s.Failed,
		Deduplicated:      s.Counters[CounterDeduplicated],
		StartedAt:         formatTime(s.StartedAt),
		CompletedAt:       formatTime(s.CompletedAt),
		Errors:            nonNil(s.Errors),
	}
}

// RegenerationView converts the snapshot to RegenerationStatus
func (s Snapshot) RegenerationView() RegenerationStatus {
	return RegenerationStatus{
		Status:              s.Status,
		TotalMedia:          s.Total,
		ProcessedMedia:      s.Processed,
		UpdatedMetadata:     s.Counters[CounterUpdatedMetadata],
		GeneratedThumbnails: s.Counters[CounterGeneratedThumbnails],
		UpdatedTags:         s.Counters[CounterUpdatedTags],
		BackfilledHashes:    s.Counters[CounterBackfilledHashes],
		FailedMedia:         s.Failed,
		StartedAt:           formatTime(s.StartedAt),
		CompletedAt:         formatTime(s.CompletedAt),
		Errors:              nonNil(s.Errors),
	}
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
