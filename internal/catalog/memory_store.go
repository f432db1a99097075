package catalog

import (
	"context"
	"sync"
)

// MemoryStore is an in-process Store, used for tests and single-node
// deployments that don't want a Redis dependency. It satisfies the exact
// same Store interface as RedisStore.
type MemoryStore struct {
	mu             sync.Mutex
	skins          map[uint64]*Skin
	accounts       map[int64]*Account
	errorThreshold int
}

// NewMemoryStore creates an empty in-memory catalog.
func NewMemoryStore(errorThreshold int) *MemoryStore {
	return &MemoryStore{
		skins:          map[uint64]*Skin{},
		accounts:       map[int64]*Account{},
		errorThreshold: errorThreshold,
	}
}

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) FindSkinByURLPattern(_ context.Context, canonicalURL string, f Filter) (*Skin, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.skins {
		if s.TextureURL == canonicalURL && f.matches(s) {
			return cloneSkin(s), nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) FindSkinByUUID(_ context.Context, uuid string, f Filter) (*Skin, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.skins {
		if s.UUID == uuid && f.matches(s) {
			return cloneSkin(s), nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) FindSkinByHash(_ context.Context, phash string, f Filter) (*Skin, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.skins {
		if s.Phash == phash && f.matches(s) {
			return cloneSkin(s), nil
		}
	}
	return nil, ErrNotFound
}

// FindSkinByID looks a skin up directly by its allocated id, used by the
// internal catalog-URL dedup probe (e.g. "/skin/1234") where the id is
// already named in the URL rather than needing a secondary index.
func (m *MemoryStore) FindSkinByID(_ context.Context, id uint64) (*Skin, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.skins[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneSkin(s), nil
}

func (m *MemoryStore) InsertSkin(_ context.Context, skin *Skin) (*Skin, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.skins[skin.ID]; exists {
		return nil, ErrCollision
	}
	cp := cloneSkin(skin)
	m.skins[cp.ID] = cp
	return cloneSkin(cp), nil
}

func (m *MemoryStore) ExistsSkinID(_ context.Context, id uint64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, exists := m.skins[id]
	return exists, nil
}

func (m *MemoryStore) IncrementDuplicate(_ context.Context, skin *Skin) (*Skin, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.skins[skin.ID]
	if !ok {
		return nil, ErrNotFound
	}
	s.DuplicateCount++
	return cloneSkin(s), nil
}

func (m *MemoryStore) FindEligibleAccount(_ context.Context, selfServer string, locked map[int64]bool) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	accounts := make([]*Account, 0, len(m.accounts))
	for _, a := range m.accounts {
		accounts = append(accounts, a)
	}
	best := selectBest(accounts, eligibleParams{
		now:            nowSec(),
		errorThreshold: m.errorThreshold,
		selfServer:     selfServer,
		locked:         locked,
	})
	if best == nil {
		return nil, ErrNotFound
	}
	return cloneAccount(best), nil
}

func (m *MemoryStore) UpdateAccount(_ context.Context, account *Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[account.ID] = cloneAccount(account)
	return nil
}

// CountEnabledAccounts feeds the scheduler's usable-count cache, used to
// scale the nextRequest cooldown hint.
func (m *MemoryStore) CountEnabledAccounts(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, a := range m.accounts {
		if a.Enabled {
			n++
		}
	}
	return n, nil
}

// SeedAccount is test/bootstrap scaffolding: MemoryStore has no external
// provisioning path, so callers insert accounts directly.
func (m *MemoryStore) SeedAccount(a *Account) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[a.ID] = cloneAccount(a)
}

func cloneSkin(s *Skin) *Skin {
	cp := *s
	return &cp
}

func cloneAccount(a *Account) *Account {
	cp := *a
	return &cp
}
