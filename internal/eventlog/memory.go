package eventlog

import (
	"context"
	"sync"
)

type Memory struct {
	mu        sync.Mutex
	pings     []Ping
	webhooks  []WebhookEvent
	downloads []Download
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) RecordPing(_ context.Context, p Ping) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pings = append(m.pings, p)
	return nil
}

func (m *Memory) RecordWebhook(_ context.Context, ev WebhookEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.webhooks = append(m.webhooks, ev)
	return nil
}

func (m *Memory) RecordDownload(_ context.Context, d Download) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.downloads = append(m.downloads, d)
	return nil
}

func (m *Memory) RecentWebhooks(_ context.Context, limit int) ([]WebhookEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]WebhookEvent, 0, limit)
	for i := len(m.webhooks) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.webhooks[i])
	}
	return out, nil
}

func (m *Memory) Pings() []Ping {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Ping(nil), m.pings...)
}

func (m *Memory) Downloads() []Download {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Download(nil), m.downloads...)
}
