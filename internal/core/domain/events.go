package domain

import "time"

type StreamEventType string

const (
	StreamEventStart    StreamEventType = "start"
	StreamEventProgress StreamEventType = "progress"
	StreamEventContent  StreamEventType = "content"
	StreamEventFinish   StreamEventType = "finish"
	StreamEventComplete StreamEventType = "complete"
	StreamEventError    StreamEventType = "error"
)

// StreamEvent is one item of the single-document guide stream.
// Data holds the token for content events, the finish reason for finish
// events and a human-readable message otherwise.
type StreamEvent struct {
	Type         StreamEventType `json:"type"`
	Data         string          `json:"data"`
	LiteratureID int64           `json:"literature_id,omitempty"`
}

func (e StreamEvent) Terminal() bool {
	return e.Type == StreamEventComplete || e.Type == StreamEventError
}

type BatchEventType string

const (
	BatchEventStart        BatchEventType = "batch_start"
	BatchEventFileStart    BatchEventType = "file_start"
	BatchEventFileSaved    BatchEventType = "file_saved"
	BatchEventFileComplete BatchEventType = "file_complete"
	BatchEventFileError    BatchEventType = "file_error"
	BatchEventComplete     BatchEventType = "batch_complete"
)

// BatchEvent is one item of the batch import stream. Fields irrelevant to
// the event type are left zero and omitted on the wire.
type BatchEvent struct {
	Type         BatchEventType `json:"-"`
	Index        *int           `json:"index,omitempty"`
	Filename     string         `json:"filename,omitempty"`
	LiteratureID int64          `json:"literatureId,omitempty"`
	Completed    *int64         `json:"completed,omitempty"`
	Total        *int           `json:"total,omitempty"`
	Errors       *int64         `json:"errors,omitempty"`
	Error        string         `json:"error,omitempty"`
	Message      string         `json:"message,omitempty"`
}

type LiteratureEventType string

const (
	LiteratureGuideCompleted LiteratureEventType = "guide_completed"
	LiteratureClassified     LiteratureEventType = "classified"
	LiteratureFailed         LiteratureEventType = "failed"
)

// LiteratureEvent is published to the message bus on lifecycle transitions.
type LiteratureEvent struct {
	Type         LiteratureEventType `json:"type"`
	LiteratureID int64               `json:"literature_id"`
	Status       LiteratureStatus    `json:"status"`
	Tags         []string            `json:"tags,omitempty"`
	Error        string              `json:"error,omitempty"`
	OccurredAt   time.Time           `json:"occurred_at"`
}
