package profile

import (
	"context"
	"iter"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hearsay-ai/hearsay/pkg/pitch"
)

// MemoryStore keeps profiles in memory, in creation order. It backs
// tests and sessions that opt out of persistence.
type MemoryStore struct {
	mu       sync.RWMutex
	profiles map[string]*Profile
	order    []string
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{profiles: make(map[string]*Profile)}
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[id]
	if !ok {
		return nil, ErrNotFound
	}
	return p.Clone(), nil
}

func (s *MemoryStore) List(ctx context.Context) iter.Seq2[*Profile, error] {
	s.mu.RLock()
	snapshot := make([]*Profile, 0, len(s.order))
	for _, id := range s.order {
		snapshot = append(snapshot, s.profiles[id].Clone())
	}
	s.mu.RUnlock()

	return func(yield func(*Profile, error) bool) {
		for _, p := range snapshot {
			if !yield(p, nil) {
				return
			}
		}
	}
}

func (s *MemoryStore) Create(ctx context.Context, p *Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Color == "" {
		p.Color = ColorFor(len(s.order) + 1)
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	if p.LastSeenAt.IsZero() {
		p.LastSeenAt = now
	}
	s.profiles[p.ID] = p.Clone()
	s.order = append(s.order, p.ID)
	return nil
}

func (s *MemoryStore) Update(ctx context.Context, p *Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[p.ID]; !ok {
		return ErrNotFound
	}
	s.profiles[p.ID] = p.Clone()
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[id]; !ok {
		return ErrNotFound
	}
	delete(s.profiles, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

func (s *MemoryStore) Confirm(ctx context.Context, id, name string, kind Kind) (*Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[id]
	if !ok {
		return nil, ErrNotFound
	}
	p.Name = name
	p.Kind = kind
	p.Confirmed = true
	p.LastSeenAt = time.Now()
	return p.Clone(), nil
}

func (s *MemoryStore) CreateAuto(ctx context.Context, fp pitch.Profile, batchID, sampleText string) (*Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.order))
	for _, id := range s.order {
		names = append(names, s.profiles[id].Name)
	}
	n := nextAutoNumber(names)

	now := time.Now()
	p := &Profile{
		ID:         uuid.NewString(),
		Name:       autoName(n),
		Kind:       KindOther,
		Color:      ColorFor(n),
		Pitch:      &fp,
		SampleText: sampleText,
		BatchID:    batchID,
		CreatedAt:  now,
		LastSeenAt: now,
	}
	s.profiles[p.ID] = p
	s.order = append(s.order, p.ID)
	return p.Clone(), nil
}

func (s *MemoryStore) FindBySimilarity(ctx context.Context, r pitch.Result, thresholdPercent float64) (*Profile, float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *Profile
	bestScore := 0.0
	for _, id := range s.order {
		p := s.profiles[id]
		if p.Pitch == nil {
			continue
		}
		score := pitch.Compare(r, p.Pitch.Result)
		if score >= thresholdPercent && score > bestScore {
			best = p
			bestScore = score
		}
	}
	if best == nil {
		return nil, 0, nil
	}
	return best.Clone(), bestScore, nil
}

func (s *MemoryStore) UpdatePitch(ctx context.Context, id string, r pitch.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[id]
	if !ok {
		return ErrNotFound
	}
	if p.Pitch == nil {
		fp := pitch.NewProfile(r)
		p.Pitch = &fp
	} else {
		merged := pitch.Merge(*p.Pitch, r)
		p.Pitch = &merged
	}
	p.LastSeenAt = time.Now()
	return nil
}
