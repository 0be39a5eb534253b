package linking

import (
	"context"
	"slices"
	"sync"

	"github.com/MrEthical07/authsdk/user"
)

// MemoryStore keeps all state in process memory. It is safe for concurrent
// use and intended for tests and single-process deployments.
type MemoryStore struct {
	lock chan struct{}

	mu            sync.RWMutex
	loginMethods  map[user.RecipeUserID]user.LoginMethod
	byEmail       map[string]map[user.RecipeUserID]struct{}
	byPhone       map[string]map[user.RecipeUserID]struct{}
	byThirdParty  map[string]map[user.RecipeUserID]struct{}
	byCredential  map[string]map[user.RecipeUserID]struct{}
	primaryOf     map[user.RecipeUserID]string
	members       map[string][]user.RecipeUserID
	accountToLink map[user.RecipeUserID]string
	passwords     map[user.RecipeUserID][]byte
	devices       map[string][]TOTPDeviceRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		lock:          make(chan struct{}, 1),
		loginMethods:  make(map[user.RecipeUserID]user.LoginMethod),
		byEmail:       make(map[string]map[user.RecipeUserID]struct{}),
		byPhone:       make(map[string]map[user.RecipeUserID]struct{}),
		byThirdParty:  make(map[string]map[user.RecipeUserID]struct{}),
		byCredential:  make(map[string]map[user.RecipeUserID]struct{}),
		primaryOf:     make(map[user.RecipeUserID]string),
		members:       make(map[string][]user.RecipeUserID),
		accountToLink: make(map[user.RecipeUserID]string),
		passwords:     make(map[user.RecipeUserID][]byte),
		devices:       make(map[string][]TOTPDeviceRecord),
	}
}

func (s *MemoryStore) Lock(ctx context.Context) (func(), error) {
	select {
	case s.lock <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-s.lock }) }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *MemoryStore) LoginMethod(_ context.Context, id user.RecipeUserID) (*user.LoginMethod, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lm, ok := s.loginMethods[id]
	if !ok {
		return nil, nil
	}
	out := lm.Clone()
	return &out, nil
}

func (s *MemoryStore) PutLoginMethod(_ context.Context, lm user.LoginMethod) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.loginMethods[lm.RecipeUserID]; ok {
		s.unindex(old)
	}
	lm = lm.Clone()
	s.loginMethods[lm.RecipeUserID] = lm
	s.index(lm)
	return nil
}

func (s *MemoryStore) DeleteLoginMethod(_ context.Context, id user.RecipeUserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.loginMethods[id]; ok {
		s.unindex(old)
	}
	delete(s.loginMethods, id)
	delete(s.passwords, id)
	delete(s.accountToLink, id)
	return nil
}

func addIndex(idx map[string]map[user.RecipeUserID]struct{}, key string, id user.RecipeUserID) {
	if key == "" {
		return
	}
	set, ok := idx[key]
	if !ok {
		set = make(map[user.RecipeUserID]struct{})
		idx[key] = set
	}
	set[id] = struct{}{}
}

func removeIndex(idx map[string]map[user.RecipeUserID]struct{}, key string, id user.RecipeUserID) {
	set, ok := idx[key]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(idx, key)
	}
}

func (s *MemoryStore) index(lm user.LoginMethod) {
	for _, k := range indexKeys(lm) {
		addIndex(s.indexFor(k.kind), k.value, lm.RecipeUserID)
	}
}

func (s *MemoryStore) unindex(lm user.LoginMethod) {
	for _, k := range indexKeys(lm) {
		removeIndex(s.indexFor(k.kind), k.value, lm.RecipeUserID)
	}
}

func (s *MemoryStore) indexFor(kind string) map[string]map[user.RecipeUserID]struct{} {
	switch kind {
	case indexEmail:
		return s.byEmail
	case indexPhone:
		return s.byPhone
	case indexThirdParty:
		return s.byThirdParty
	default:
		return s.byCredential
	}
}

func (s *MemoryStore) find(idx map[string]map[user.RecipeUserID]struct{}, key string) []user.RecipeUserID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]user.RecipeUserID, 0, len(idx[key]))
	for id := range idx[key] {
		out = append(out, id)
	}
	return out
}

func (s *MemoryStore) FindByEmail(_ context.Context, email string) ([]user.RecipeUserID, error) {
	return s.find(s.byEmail, user.NormalizeEmail(email)), nil
}

func (s *MemoryStore) FindByPhoneNumber(_ context.Context, phone string) ([]user.RecipeUserID, error) {
	return s.find(s.byPhone, user.NormalizePhoneNumber(phone)), nil
}

func (s *MemoryStore) FindByThirdParty(_ context.Context, tp user.ThirdPartyInfo) ([]user.RecipeUserID, error) {
	return s.find(s.byThirdParty, thirdPartyIndexValue(tp)), nil
}

func (s *MemoryStore) FindByWebauthnCredential(_ context.Context, credentialID string) ([]user.RecipeUserID, error) {
	return s.find(s.byCredential, credentialID), nil
}

func (s *MemoryStore) PrimaryOf(_ context.Context, id user.RecipeUserID) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.primaryOf[id], nil
}

func (s *MemoryStore) Members(_ context.Context, primaryUserID string) ([]user.RecipeUserID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.members[primaryUserID]), nil
}

func (s *MemoryStore) AddMember(_ context.Context, primaryUserID string, id user.RecipeUserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !slices.Contains(s.members[primaryUserID], id) {
		s.members[primaryUserID] = append(s.members[primaryUserID], id)
	}
	s.primaryOf[id] = primaryUserID
	return nil
}

func (s *MemoryStore) RemoveMember(_ context.Context, primaryUserID string, id user.RecipeUserID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	remaining := slices.DeleteFunc(s.members[primaryUserID], func(m user.RecipeUserID) bool { return m == id })
	if len(remaining) == 0 {
		delete(s.members, primaryUserID)
	} else {
		s.members[primaryUserID] = remaining
	}
	if s.primaryOf[id] == primaryUserID {
		delete(s.primaryOf, id)
	}
	return len(remaining), nil
}

func (s *MemoryStore) RenamePrimary(_ context.Context, from, to string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if from == to {
		return nil
	}
	members := s.members[from]
	delete(s.members, from)
	if len(members) > 0 {
		s.members[to] = append(s.members[to], members...)
		for _, m := range members {
			s.primaryOf[m] = to
		}
	}
	for id, target := range s.accountToLink {
		if target == from {
			s.accountToLink[id] = to
		}
	}
	if devs, ok := s.devices[from]; ok {
		delete(s.devices, from)
		s.devices[to] = append(s.devices[to], devs...)
	}
	return nil
}

func (s *MemoryStore) SetAccountToLink(_ context.Context, id user.RecipeUserID, primaryUserID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accountToLink[id] = primaryUserID
	return nil
}

func (s *MemoryStore) AccountToLink(_ context.Context, id user.RecipeUserID) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accountToLink[id], nil
}

func (s *MemoryStore) ClearAccountToLink(_ context.Context, id user.RecipeUserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.accountToLink, id)
	return nil
}

func (s *MemoryStore) ClearAccountToLinkTarget(_ context.Context, primaryUserID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, target := range s.accountToLink {
		if target == primaryUserID {
			delete(s.accountToLink, id)
		}
	}
	return nil
}

func (s *MemoryStore) PasswordHash(_ context.Context, id user.RecipeUserID) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.passwords[id]), nil
}

func (s *MemoryStore) SetPasswordHash(_ context.Context, id user.RecipeUserID, hash []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.passwords[id] = slices.Clone(hash)
	return nil
}

func (s *MemoryStore) TOTPDevices(_ context.Context, userID string) ([]TOTPDeviceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.devices[userID]), nil
}

func (s *MemoryStore) PutTOTPDevice(_ context.Context, userID string, device TOTPDeviceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	devs := s.devices[userID]
	for i := range devs {
		if devs[i].Name == device.Name {
			devs[i] = device
			return nil
		}
	}
	s.devices[userID] = append(devs, device)
	return nil
}

func (s *MemoryStore) DeleteTOTPDevice(_ context.Context, userID, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	devs := s.devices[userID]
	n := len(devs)
	devs = slices.DeleteFunc(devs, func(d TOTPDeviceRecord) bool { return d.Name == name })
	if len(devs) == 0 {
		delete(s.devices, userID)
	} else {
		s.devices[userID] = devs
	}
	return len(devs) != n, nil
}
