package memstore

import (
	"context"
	"fmt"
	"sync"

	"esicmap/internal/domain"
	"esicmap/internal/port"
	"esicmap/internal/vector"
)

// MemoryStore is a RecordStore held entirely in memory. Records keep their
// insertion order.
type MemoryStore struct {
	mu        sync.RWMutex
	esic      []domain.ESICRecord
	esicIndex map[string]int
	isic      []domain.ISICRecord
	results   map[vector.VariantKey][]domain.MappingResult
	runs      map[string]domain.MappingRun
}

var _ port.RecordStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		esicIndex: make(map[string]int),
		results:   make(map[vector.VariantKey][]domain.MappingResult),
		runs:      make(map[string]domain.MappingRun),
	}
}

func (s *MemoryStore) PutESIC(ctx context.Context, records []domain.ESICRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range records {
		if i, ok := s.esicIndex[rec.Code]; ok {
			s.esic[i] = rec
			continue
		}
		s.esicIndex[rec.Code] = len(s.esic)
		s.esic = append(s.esic, rec)
	}
	return nil
}

func (s *MemoryStore) GetESIC(ctx context.Context, code string) (domain.ESICRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.esicIndex[code]
	if !ok {
		return domain.ESICRecord{}, fmt.Errorf("esic %s: %w", code, port.ErrNotFound)
	}
	return s.esic[i], nil
}

func (s *MemoryStore) ScanESIC(ctx context.Context, key vector.VariantKey, fn port.ESICVisitor) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rec := range s.esic {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(rec, rec.Vector(key)); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemoryStore) ReplaceISIC(ctx context.Context, records []domain.ISICRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.isic = append([]domain.ISICRecord(nil), records...)
	return nil
}

func (s *MemoryStore) ScanISIC(ctx context.Context, filter domain.Filter, key vector.VariantKey, fn port.ISICVisitor) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rec := range s.isic {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !filter.Allows(rec) {
			continue
		}
		if err := fn(rec, rec.Vector(key)); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemoryStore) ClearResults(ctx context.Context, key vector.VariantKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.results, key)
	return nil
}

func (s *MemoryStore) PutResults(ctx context.Context, key vector.VariantKey, results []domain.MappingResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[key] = append(s.results[key], results...)
	return nil
}

func (s *MemoryStore) ListResults(ctx context.Context, key vector.VariantKey) ([]domain.MappingResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.MappingResult(nil), s.results[key]...), nil
}

func (s *MemoryStore) PutRun(ctx context.Context, run domain.MappingRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = run
	return nil
}

func (s *MemoryStore) ListRuns(ctx context.Context) ([]domain.MappingRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	runs := make([]domain.MappingRun, 0, len(s.runs))
	for _, run := range s.runs {
		runs = append(runs, run)
	}
	return runs, nil
}

func (s *MemoryStore) Stats(ctx context.Context) (domain.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := domain.Stats{
		ESIC:    len(s.esic),
		ISIC:    len(s.isic),
		Runs:    len(s.runs),
		Results: make(map[string]int, len(s.results)),
	}
	for key, results := range s.results {
		stats.Results[key.String()] = len(results)
	}
	return stats, nil
}

func (s *MemoryStore) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.esic = nil
	s.esicIndex = make(map[string]int)
	s.isic = nil
	s.results = make(map[vector.VariantKey][]domain.MappingResult)
	s.runs = make(map[string]domain.MappingRun)
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
