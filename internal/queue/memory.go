package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Memory is an in-process Provider with the same dedup and retry semantics
// as the Postgres queue. Used in tests and local mode.
type Memory struct {
	mu      sync.Mutex
	byKey   map[string]*memoryJob
	pending []*memoryJob
	running map[string]*memoryJob
}

type memoryJob struct {
	job    Job
	status string
}

// NewMemory builds an empty in-memory queue.
func NewMemory() *Memory {
	return &Memory{
		byKey:   make(map[string]*memoryJob),
		running: make(map[string]*memoryJob),
	}
}

// Enqueue implements Provider.
func (m *Memory) Enqueue(_ context.Context, jobType, key string, payload any) (bool, error) {
	if key == "" {
		return false, fmt.Errorf("job key is required")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return false, fmt.Errorf("marshal job payload: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byKey[key]; exists {
		return false, nil
	}
	mj := &memoryJob{
		job: Job{
			ID:      uuid.NewString(),
			Type:    jobType,
			Key:     key,
			Payload: body,
		},
		status: "queued",
	}
	m.byKey[key] = mj
	m.pending = append(m.pending, mj)
	return true, nil
}

// Dequeue implements Provider.
func (m *Memory) Dequeue(_ context.Context) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, mj := range m.pending {
		if mj.status != "queued" {
			continue
		}
		m.pending = append(m.pending[:i], m.pending[i+1:]...)
		mj.status = "running"
		mj.job.Attempt++
		m.running[mj.job.ID] = mj
		job := mj.job
		return &job, nil
	}
	return nil, nil
}

// Ack implements Provider.
func (m *Memory) Ack(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	mj, ok := m.running[id]
	if !ok {
		return fmt.Errorf("ack unknown job %s", id)
	}
	delete(m.running, id)
	mj.status = "done"
	return nil
}

// Nack implements Provider.
func (m *Memory) Nack(_ context.Context, id string, maxAttempts int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	mj, ok := m.running[id]
	if !ok {
		return fmt.Errorf("nack unknown job %s", id)
	}
	delete(m.running, id)
	if mj.job.Attempt >= maxAttempts {
		mj.status = "failed"
		return nil
	}
	mj.status = "queued"
	m.pending = append(m.pending, mj)
	return nil
}

// Close implements Provider.
func (m *Memory) Close() {}

// Depth reports how many jobs are waiting; used by tests and metrics.
func (m *Memory) Depth() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}
