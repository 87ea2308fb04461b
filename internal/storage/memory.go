package storage

import (
	"context"
	"sort"
	"sync"

	"screentest-backend/internal/model"
)

type MemoryStorage struct {
	generations map[string]*model.GenerationRecord
	mu          sync.RWMutex
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		generations: make(map[string]*model.GenerationRecord),
	}
}

func (m *MemoryStorage) Init() error {
	return nil
}

func (m *MemoryStorage) Close() error {
	return nil
}

func (m *MemoryStorage) Backup() error {
	return nil
}

func (m *MemoryStorage) SaveGeneration(ctx context.Context, record *model.GenerationRecord) error {
	if err := validateRecord(record); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.generations[record.ID] = cloneRecord(record)
	return nil
}

func (m *MemoryStorage) GetGeneration(ctx context.Context, id string) (*model.GenerationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	record, exists := m.generations[id]
	if !exists {
		return nil, ErrGenerationNotFound
	}

	return cloneRecord(record), nil
}

func (m *MemoryStorage) ListGenerations(ctx context.Context, limit int) ([]model.GenerationSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	summaries := make([]model.GenerationSummary, 0, len(m.generations))
	for _, record := range m.generations {
		summaries = append(summaries, record.Summary())
	}

	return newestFirst(summaries, limit), nil
}

func (m *MemoryStorage) DeleteGeneration(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.generations[id]; !exists {
		return ErrGenerationNotFound
	}

	delete(m.generations, id)
	return nil
}

// newestFirst sorts by CreatedAt descending, ties broken by ID, and applies limit.
func newestFirst(summaries []model.GenerationSummary, limit int) []model.GenerationSummary {
	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].CreatedAt.Equal(summaries[j].CreatedAt) {
			return summaries[i].ID < summaries[j].ID
		}
		return summaries[i].CreatedAt.After(summaries[j].CreatedAt)
	})
	if limit > 0 && len(summaries) > limit {
		summaries = summaries[:limit]
	}
	for i := range summaries {
		summaries[i].PageNames = append([]string(nil), summaries[i].PageNames...)
	}
	return summaries
}
