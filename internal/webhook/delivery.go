package webhook

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
)

// Deliveries remembers which license a provider delivery has already changed,
// so a redelivered or retried event applies at most once per license.
type Deliveries interface {
	// Claim records (deliveryKey, licenseKey) and reports false when it was
	// already recorded.
	Claim(ctx context.Context, deliveryKey, licenseKey string, at time.Time) (bool, error)
	// Release forgets a claim whose change could not be applied.
	Release(ctx context.Context, deliveryKey, licenseKey string) error
}

type deliveryRepo struct {
	db *sqlx.DB
}

func NewDeliveries(db *sqlx.DB) Deliveries {
	return &deliveryRepo{db: db}
}

func (r *deliveryRepo) Claim(ctx context.Context, deliveryKey, licenseKey string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(claimDeliverySQL), deliveryKey, licenseKey, at)
	if err != nil {
		return false, fmt.Errorf("claim delivery: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim delivery: %w", err)
	}
	return n == 1, nil
}

func (r *deliveryRepo) Release(ctx context.Context, deliveryKey, licenseKey string) error {
	if _, err := r.db.ExecContext(ctx, r.db.Rebind(releaseDeliverySQL), deliveryKey, licenseKey); err != nil {
		return fmt.Errorf("release delivery: %w", err)
	}
	return nil
}

type claim struct{ delivery, license string }

type MemoryDeliveries struct {
	mu     sync.Mutex
	claims map[claim]time.Time
}

func NewMemoryDeliveries() *MemoryDeliveries {
	return &MemoryDeliveries{claims: map[claim]time.Time{}}
}

func (m *MemoryDeliveries) Claim(_ context.Context, deliveryKey, licenseKey string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := claim{deliveryKey, licenseKey}
	if _, ok := m.claims[k]; ok {
		return false, nil
	}
	m.claims[k] = at
	return true, nil
}

func (m *MemoryDeliveries) Release(_ context.Context, deliveryKey, licenseKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.claims, claim{deliveryKey, licenseKey})
	return nil
}
