// Package tasks tracks background OCR and KG jobs and runs them on a bounded
// worker pool.
package tasks

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/hyperjump/tiku/internal/models"
)

// ErrNotFound is returned for an unknown or expired task id.
var ErrNotFound = errors.New("task not found")

// DefaultTTL is how long a finished task stays visible.
const DefaultTTL = time.Hour

// Registry is the process-wide task table. Running tasks never expire;
// finished tasks expire TTL after their last update.
type Registry struct {
	mu    sync.Mutex
	items *cache.Cache
	ttl   time.Duration
	now   func() time.Time
}

// NewRegistry creates a registry. A non-positive ttl takes DefaultTTL.
func NewRegistry(ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Registry{
		items: cache.New(ttl, ttl),
		ttl:   ttl,
		now:   time.Now,
	}
}

// Start records a new running task and returns a snapshot of it.
func (r *Registry) Start(kind, docID, message string) *models.Task {
	now := r.now()
	t := &models.Task{
		ID:        uuid.NewString(),
		Kind:      kind,
		DocID:     docID,
		Status:    models.TaskRunning,
		Message:   message,
		StartedAt: now,
		UpdatedAt: now,
	}
	r.mu.Lock()
	r.items.Set(t.ID, t, cache.NoExpiration)
	r.mu.Unlock()
	return snapshot(t)
}

// Update sets the progress and message of a running task.
func (r *Registry) Update(id string, current, total int, message string) error {
	return r.mutate(id, func(t *models.Task) {
		t.Progress = &models.Progress{Current: current, Total: total}
		t.Message = message
	})
}

// Finish marks a task done.
func (r *Registry) Finish(id, message string) error {
	return r.mutate(id, func(t *models.Task) {
		t.Status = models.TaskDone
		t.Message = message
	})
}

// Fail marks a task failed with err's message.
func (r *Registry) Fail(id string, err error) error {
	return r.mutate(id, func(t *models.Task) {
		t.Status = models.TaskError
		t.Message = err.Error()
	})
}

func (r *Registry) mutate(id string, f func(*models.Task)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.items.Get(id)
	if !ok {
		return ErrNotFound
	}
	t := v.(*models.Task)
	f(t)
	t.UpdatedAt = r.now()
	exp := time.Duration(cache.NoExpiration)
	if t.Finished() {
		exp = r.ttl
	}
	r.items.Set(id, t, exp)
	return nil
}

// Get returns a snapshot of task id.
func (r *Registry) Get(id string) (*models.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.items.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	return snapshot(v.(*models.Task)), nil
}

// List returns snapshots of every live task, newest first.
func (r *Registry) List() []*models.Task {
	r.mu.Lock()
	items := r.items.Items()
	out := make([]*models.Task, 0, len(items))
	for _, it := range items {
		out = append(out, snapshot(it.Object.(*models.Task)))
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.After(out[j].StartedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// GCExpired drops expired finished tasks and returns how many were removed.
func (r *Registry) GCExpired() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	before := r.items.ItemCount()
	r.items.DeleteExpired()
	return before - r.items.ItemCount()
}

func snapshot(t *models.Task) *models.Task {
	c := *t
	if t.Progress != nil {
		p := *t.Progress
		c.Progress = &p
	}
	return &c
}
