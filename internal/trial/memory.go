package trial

import (
	"context"
	"sync"
	"time"
)

type Memory struct {
	mu      sync.Mutex
	devices map[string]*Device
}

func NewMemory() *Memory {
	return &Memory{devices: make(map[string]*Device)}
}

func (m *Memory) Get(_ context.Context, fingerprint string) (*Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[fingerprint]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *Memory) Insert(_ context.Context, d *Device) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.devices[d.Fingerprint]; ok {
		return false, nil
	}
	cp := *d
	m.devices[d.Fingerprint] = &cp
	return true, nil
}

func (m *Memory) Touch(_ context.Context, fingerprint, clientVersion, ip string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[fingerprint]
	if !ok {
		return false, nil
	}
	if clientVersion != "" {
		d.ClientVersion = clientVersion
	}
	if ip != "" {
		d.LastIP = ip
	}
	d.LastSeenAt = now
	return true, nil
}
