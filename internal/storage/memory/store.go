package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tjfontaine/responses-relay/internal/storage"
)

// Store is an in-memory implementation of storage.TurnStore
type Store struct {
	mu    sync.RWMutex
	turns map[string]*storage.TurnRecord
}

var _ storage.TurnStore = (*Store)(nil)

// New creates a new in-memory store
func New() *Store {
	return &Store{
		turns: make(map[string]*storage.TurnRecord),
	}
}

func (s *Store) SaveTurn(ctx context.Context, rec *storage.TurnRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.turns[rec.ID]; exists {
		return fmt.Errorf("turn %s already exists", rec.ID)
	}

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	stored := *rec
	s.turns[rec.ID] = &stored
	return nil
}

func (s *Store) GetTurn(ctx context.Context, id string) (*storage.TurnRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, exists := s.turns[id]
	if !exists {
		return nil, storage.ErrNotFound
	}

	out := *rec
	return &out, nil
}

func (s *Store) ListTurns(ctx context.Context, opts storage.ListOptions) ([]*storage.TurnRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*storage.TurnRecord
	for _, rec := range s.turns {
		if opts.Status != "" && rec.Status != opts.Status {
			continue
		}
		out := *rec
		result = append(result, &out)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID > result[j].ID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	limit := opts.Limit
	if limit <= 0 {
		limit = storage.DefaultListLimit
	}
	if opts.Offset >= len(result) {
		return []*storage.TurnRecord{}, nil
	}
	result = result[opts.Offset:]
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) Close() error {
	return nil
}
