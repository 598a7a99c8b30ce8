package storage

import (
	"context"
	"sync"
	"time"

	"github.com/iWorld-y/crop_radar/app/crop_radar/pkg/model"
)

// MemoryStore 进程内存储，用于本地试跑和测试
type MemoryStore struct {
	mu        sync.Mutex
	records   []model.ClassifiedRecord
	watermark time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) AppendRecord(_ context.Context, rec model.ClassifiedRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

func (s *MemoryStore) ListRecords(_ context.Context) ([]model.ClassifiedRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.ClassifiedRecord(nil), s.records...), nil
}

func (s *MemoryStore) ReadWatermark(_ context.Context) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.watermark, !s.watermark.IsZero(), nil
}

func (s *MemoryStore) WriteWatermark(_ context.Context, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watermark = t
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
