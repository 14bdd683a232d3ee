package refreshrepofake

import (
	"context"
	"sync"

	"github.com/jrsteele09/storefront-auth/internal/errors"
	"github.com/jrsteele09/storefront-auth/token/refresh"
)

var _ refresh.Store = (*FakeRefreshStore)(nil)

// FakeRefreshStore is an in-memory refresh.Store.
type FakeRefreshStore struct {
	records  map[string]refresh.Record // hash to record
	used     map[string]string         // consumed hash to family id
	families map[string]string         // family id to current hash
	users    map[string]map[string]struct{}
	revoked  map[string]struct{}
	lock     sync.Mutex
}

func NewFakeRefreshStore() *FakeRefreshStore {
	return &FakeRefreshStore{
		records:  make(map[string]refresh.Record),
		used:     make(map[string]string),
		families: make(map[string]string),
		users:    make(map[string]map[string]struct{}),
		revoked:  make(map[string]struct{}),
	}
}

func (s *FakeRefreshStore) Save(_ context.Context, record *refresh.Record) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.records[record.Hash] = *record
	s.families[record.FamilyID] = record.Hash
	if _, ok := s.users[record.Identity.ID]; !ok {
		s.users[record.Identity.ID] = make(map[string]struct{})
	}
	s.users[record.Identity.ID][record.FamilyID] = struct{}{}
	return nil
}

func (s *FakeRefreshStore) Consume(_ context.Context, hash string) (*refresh.Record, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	rec, ok := s.records[hash]
	if !ok {
		if familyID, reused := s.used[hash]; reused {
			return &refresh.Record{Hash: hash, FamilyID: familyID}, errors.ErrRefreshReused
		}
		return nil, errors.Wrapf(errors.ErrNotFound, "refresh record")
	}
	delete(s.records, hash)
	s.used[hash] = rec.FamilyID
	return &rec, nil
}

func (s *FakeRefreshStore) RevokeFamily(_ context.Context, familyID string) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.revokeFamilyLocked(familyID)
	return nil
}

func (s *FakeRefreshStore) RevokeUser(_ context.Context, userID string) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	for familyID := range s.users[userID] {
		s.revokeFamilyLocked(familyID)
	}
	delete(s.users, userID)
	return nil
}

func (s *FakeRefreshStore) FamilyRevoked(_ context.Context, familyID string) (bool, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	_, ok := s.revoked[familyID]
	return ok, nil
}

// Len returns the number of live (unconsumed, unrevoked) records.
func (s *FakeRefreshStore) Len() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return len(s.records)
}

func (s *FakeRefreshStore) revokeFamilyLocked(familyID string) {
	s.revoked[familyID] = struct{}{}
	if hash, ok := s.families[familyID]; ok {
		delete(s.records, hash)
		delete(s.families, familyID)
	}
}
