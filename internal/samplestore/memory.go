package samplestore

import (
	"context"
	"sync"

	"voicepassport/pkg/domain"
	dErrors "voicepassport/pkg/domain-errors"
)

// MemorySource serves samples from an in-memory map. Used in tests and
// local demos where no object store runs.
type MemorySource struct {
	mu      sync.RWMutex
	samples map[domain.SampleID][]byte
}

// NewMemory returns an empty source.
func NewMemory() *MemorySource {
	return &MemorySource{samples: make(map[domain.SampleID][]byte)}
}

// Put stores a sample payload.
func (s *MemorySource) Put(id domain.SampleID, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples[id] = data
}

func (s *MemorySource) Fetch(_ context.Context, id domain.SampleID) ([]byte, error) {
	if id == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "sample id must not be empty")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.samples[id]
	if !ok {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "sample "+string(id)+" not found")
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}
