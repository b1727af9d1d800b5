package models

import "time"

// TaskStatus is the lifecycle state of a background job.
type TaskStatus string

const (
	TaskRunning TaskStatus = "running"
	TaskDone    TaskStatus = "done"
	TaskError   TaskStatus = "error"
)

// Progress is a done/total counter reported by long jobs.
type Progress struct {
	Current int `json:"current"`
	Total   int `json:"total"`
}

// Task is an in-memory record of an asynchronous OCR or KG job.
type Task struct {
	ID        string     `json:"task_id"`
	Kind      string     `json:"kind"`
	DocID     string     `json:"doc_id"`
	Status    TaskStatus `json:"status"`
	Message   string     `json:"message"`
	Progress  *Progress  `json:"progress,omitempty"`
	StartedAt time.Time  `json:"started_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Finished reports whether the task reached a terminal state.
func (t *Task) Finished() bool {
	return t.Status == TaskDone || t.Status == TaskError
}

// Checkpoint records which OCR page chunks of a PDF are complete.
type Checkpoint struct {
	TotalChunks int   `json:"total_chunks"`
	Done        []int `json:"done"`
}
