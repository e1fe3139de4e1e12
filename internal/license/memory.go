package license

import (
	"context"
	"sort"
	"sync"
)

// Memory is an in-process Repository for tests and throwaway runs.
type Memory struct {
	mu     sync.Mutex
	nextID int64
	byKey  map[string]*License
}

func NewMemory() *Memory {
	return &Memory{byKey: make(map[string]*License)}
}

func (m *Memory) GetByKey(_ context.Context, key string) (*License, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lic, ok := m.byKey[key]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *lic
	return &cp, nil
}

func (m *Memory) GetByEmail(_ context.Context, email string) ([]License, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []License
	for _, lic := range m.byKey {
		if lic.Email == email {
			out = append(out, *lic)
		}
	}
	sortByID(out)
	return out, nil
}

func (m *Memory) List(_ context.Context) ([]License, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]License, 0, len(m.byKey))
	for _, lic := range m.byKey {
		out = append(out, *lic)
	}
	sortByID(out)
	return out, nil
}

func (m *Memory) Create(_ context.Context, lic *License) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byKey[lic.LicenseKey]; ok {
		return ErrDuplicateKey
	}
	m.nextID++
	lic.LicenseID = m.nextID
	lic.Revision = 0
	cp := *lic
	m.byKey[lic.LicenseKey] = &cp
	return nil
}

func (m *Memory) Update(_ context.Context, lic *License) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.byKey[lic.LicenseKey]
	if !ok || cur.LicenseID != lic.LicenseID || cur.Revision != lic.Revision {
		return errStale
	}
	lic.Revision++
	cp := *lic
	m.byKey[lic.LicenseKey] = &cp
	return nil
}

func sortByID(ls []License) {
	sort.Slice(ls, func(i, j int) bool { return ls[i].LicenseID < ls[j].LicenseID })
}
