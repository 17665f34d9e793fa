package graph

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// Checkpoint is the durable record of a thread after each completed node.
type Checkpoint struct {
	ThreadID         string          `json:"thread_id"`
	State            json.RawMessage `json:"state"`
	Next             string          `json:"next"`
	Interrupted      bool            `json:"interrupted"`
	InterruptPayload json.RawMessage `json:"interrupt_payload,omitempty"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// Checkpointer persists thread state keyed by thread id, enabling resume
// across process boundaries.
type Checkpointer interface {
	Save(ctx context.Context, cp Checkpoint) error
	Load(ctx context.Context, threadID string) (Checkpoint, bool, error)
	Delete(ctx context.Context, threadID string) error
}

// MemoryCheckpointer keeps checkpoints in process memory.
type MemoryCheckpointer struct {
	mu   sync.RWMutex
	data map[string]Checkpoint
}

// NewMemoryCheckpointer creates an empty in-memory checkpointer.
func NewMemoryCheckpointer() *MemoryCheckpointer {
	return &MemoryCheckpointer{data: make(map[string]Checkpoint)}
}

func (m *MemoryCheckpointer) Save(_ context.Context, cp Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[cp.ThreadID] = cp
	return nil
}

func (m *MemoryCheckpointer) Load(_ context.Context, threadID string) (Checkpoint, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cp, ok := m.data[threadID]
	return cp, ok, nil
}

func (m *MemoryCheckpointer) Delete(_ context.Context, threadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, threadID)
	return nil
}
