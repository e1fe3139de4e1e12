// Package demodata provides sample licenses for demo deployments.
package demodata

import (
	"context"
	"errors"
	"time"

	"winsbygroup.com/licserver/internal/license"
)

type Sample struct {
	Key    string
	Email  string
	Status license.Status
	Days   int
}

// Samples cover a paid license, an unowned trial key and one about to lapse.
var Samples = []Sample{
	{Key: "TESTE-123-XYZ", Email: "demo@example.com", Status: license.StatusActive, Days: 365},
	{Key: "DEMO-TRIAL-0001", Status: license.StatusTrial, Days: 7},
	{Key: "DEMO-LAPSING-01", Email: "lapsing@example.com", Status: license.StatusActive, Days: 2},
}

// Load issues every sample license and returns how many were created.
// Keys that already exist are left untouched, so calling it twice is harmless.
func Load(ctx context.Context, lics *license.Service) (int, error) {
	created := 0
	for _, s := range Samples {
		_, err := lics.Issue(ctx, license.IssueParams{
			Key:      s.Key,
			Email:    s.Email,
			Status:   s.Status,
			Duration: time.Duration(s.Days) * 24 * time.Hour,
		})
		if errors.Is(err, license.ErrDuplicateKey) {
			continue
		}
		if err != nil {
			return created, err
		}
		created++
	}
	return created, nil
}
