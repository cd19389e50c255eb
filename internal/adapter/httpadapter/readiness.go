package httpadapter

import (
	"context"
	"fmt"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
)

// Pinger is satisfied by the storage backends.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck adapts a Pinger to a readiness check.
type PingCheck struct {
	Name   string
	Pinger Pinger
}

func (p PingCheck) CheckReadiness(ctx context.Context) error {
	if err := p.Pinger.Ping(ctx); err != nil {
		return fmt.Errorf("%s: %w", p.Name, err)
	}
	return nil
}

// AllReady is ready only when every check is. The first failure is reported.
type AllReady []sharedobs.ReadinessChecker

func (a AllReady) CheckReadiness(ctx context.Context) error {
	for _, c := range a {
		if err := c.CheckReadiness(ctx); err != nil {
			return err
		}
	}
	return nil
}
