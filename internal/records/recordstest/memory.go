// Package recordstest provides an in-memory records.Store.
package recordstest

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/appraisal-agent/internal/records"
	"github.com/jonathan/appraisal-agent/internal/types"
)

// Store is a concurrency-safe in-memory store. Records pass through JSON on
// the way in and out, as they would through a database.
type Store struct {
	// SaveErr, when set, fails every save.
	SaveErr error

	mu         sync.Mutex
	updateErr  error
	users      map[uuid.UUID]types.User
	appraisals map[uuid.UUID][]byte
	order      []uuid.UUID
}

// New creates an empty store.
func New() *Store {
	return &Store{
		users:      make(map[uuid.UUID]types.User),
		appraisals: make(map[uuid.UUID][]byte),
	}
}

func (s *Store) SaveAppraisal(_ context.Context, rec *types.AppraisalRecord) error {
	if s.SaveErr != nil {
		return s.SaveErr
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.appraisals[rec.ID]; ok {
		return fmt.Errorf("appraisal %s already exists", rec.ID)
	}
	user, ok := s.users[rec.OwnerID]
	if !ok {
		user = types.User{ID: rec.OwnerID, Platform: rec.Platform, CreatedAt: rec.CreatedAt}
	}
	user.TotalAppraisals++
	s.users[rec.OwnerID] = user
	s.appraisals[rec.ID] = data
	s.order = append(s.order, rec.ID)
	return nil
}

func (s *Store) ListAppraisalsByOwner(_ context.Context, owner uuid.UUID, limit, offset int) ([]types.AppraisalRecord, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var owned []types.AppraisalRecord
	for _, id := range s.order {
		rec, err := decode(s.appraisals[id])
		if err != nil {
			return nil, 0, err
		}
		if rec.OwnerID == owner {
			owned = append(owned, *rec)
		}
	}
	sort.SliceStable(owned, func(i, j int) bool {
		return owned[i].CreatedAt.After(owned[j].CreatedAt)
	})

	if offset >= len(owned) {
		owned = nil
	} else {
		owned = owned[offset:]
	}
	if limit > 0 && len(owned) > limit {
		owned = owned[:limit]
	}
	return owned, s.users[owner].TotalAppraisals, nil
}

func (s *Store) GetAppraisal(_ context.Context, id uuid.UUID) (*types.AppraisalRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.appraisals[id]
	if !ok {
		return nil, nil
	}
	return decode(data)
}

func (s *Store) UpdateAppraisal(_ context.Context, rec *types.AppraisalRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return s.updateErr
	}
	if _, ok := s.appraisals[rec.ID]; !ok {
		return fmt.Errorf("appraisal not found: %s", rec.ID)
	}
	s.appraisals[rec.ID] = data
	return nil
}

func (s *Store) GetOrCreateUser(_ context.Context, id uuid.UUID, platform types.Platform) (*types.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	user, ok := s.users[id]
	if !ok {
		user = types.User{ID: id, Platform: platform, CreatedAt: now}
	}
	user.LastActiveAt = now
	s.users[id] = user
	return &user, nil
}

// FailUpdates makes every later update return err. A nil err clears it.
func (s *Store) FailUpdates(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateErr = err
}

// User returns the stored user, if any.
func (s *Store) User(id uuid.UUID) (types.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	return u, ok
}

// Count returns the number of stored appraisals.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.appraisals)
}

func decode(data []byte) (*types.AppraisalRecord, error) {
	var rec types.AppraisalRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

var _ records.Store = (*Store)(nil)
