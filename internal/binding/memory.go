package binding

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process Repository. A single mutex serializes Bind.
type Memory struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64][]*Activation // by license id, oldest first
}

func NewMemory() *Memory {
	return &Memory{rows: make(map[int64][]*Activation)}
}

func (m *Memory) active(licenseID int64) *Activation {
	for _, a := range m.rows[licenseID] {
		if a.Status == StatusActive {
			return a
		}
	}
	return nil
}

func (m *Memory) Bind(_ context.Context, licenseID int64, fingerprint string, now time.Time) (*Activation, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur := m.active(licenseID)
	if cur == nil {
		m.nextID++
		a := &Activation{
			ActivationID: m.nextID,
			LicenseID:    licenseID,
			Fingerprint:  fingerprint,
			FirstSeenAt:  now,
			LastSeenAt:   now,
			Status:       StatusActive,
		}
		m.rows[licenseID] = append(m.rows[licenseID], a)
		cp := *a
		return &cp, true, nil
	}
	if cur.Fingerprint != fingerprint {
		cp := *cur
		return &cp, false, ErrFingerprintConflict
	}
	cur.LastSeenAt = now
	cp := *cur
	return &cp, false, nil
}

func (m *Memory) Release(_ context.Context, licenseID int64, fingerprint string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur := m.active(licenseID)
	if cur == nil || cur.Fingerprint != fingerprint {
		return false, nil
	}
	cur.Status = StatusRevoked
	return true, nil
}

func (m *Memory) RevokeAll(_ context.Context, licenseID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, a := range m.rows[licenseID] {
		if a.Status == StatusActive {
			a.Status = StatusRevoked
			n++
		}
	}
	return n, nil
}

func (m *Memory) List(_ context.Context, licenseID int64) ([]Activation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Activation, 0, len(m.rows[licenseID]))
	for _, a := range m.rows[licenseID] {
		out = append(out, *a)
	}
	return out, nil
}
