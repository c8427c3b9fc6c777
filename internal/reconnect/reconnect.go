// Package reconnect implements the exponential-backoff re-probing
// controller for offline/unhealthy connectors (spec §4.4). It wraps
// cenkalti/backoff/v4's ExponentialBackOff for the monotonic schedule
// rather than hand-rolling the attempt math, the same library
// internal/upstream uses for its own HTTP retry policy.
package reconnect

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/engels74/comradarr-sub004/internal/config"
	"github.com/engels74/comradarr-sub004/internal/model"
	"github.com/engels74/comradarr-sub004/internal/storage"
	"github.com/engels74/comradarr-sub004/internal/timeutil"
	"github.com/engels74/comradarr-sub004/internal/upstream"
)

// Pinger is the subset of upstream.Client the controller needs — narrowed
// to an interface so tests don't depend on a live HTTP server.
type Pinger interface {
	Ping(ctx context.Context) error
	Health(ctx context.Context) ([]upstream.HealthCheck, error)
}

// Controller runs the reconnect poll loop.
type Controller struct {
	cfg   *config.Config
	clock timeutil.Clock
}

// New constructs a Controller.
func New(cfg *config.Config, clock timeutil.Clock) *Controller {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Controller{cfg: cfg, clock: clock}
}

// newBackOff builds the exponential schedule per connector, capped at
// cfg.ReconnectMaxDelay.
func (c *Controller) newBackOff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.cfg.ReconnectBaseDelay
	bo.Multiplier = 2
	bo.RandomizationFactor = 0.25
	bo.MaxInterval = c.cfg.ReconnectMaxDelay
	bo.MaxElapsedTime = 0
	return bo
}

// nextDelay computes the backoff delay for the given attempt count by
// replaying the exponential schedule attempts times — cenkalti/backoff
// exposes NextBackOff as a stateful stepper, so attempt replay is how a
// stored attempt count is turned back into "the delay for attempt N".
func (c *Controller) nextDelay(attempts int) time.Duration {
	bo := c.newBackOff()
	var d time.Duration
	for i := 0; i <= attempts; i++ {
		d = bo.NextBackOff()
	}
	if d > c.cfg.ReconnectMaxDelay {
		d = c.cfg.ReconnectMaxDelay
	}
	return d
}

// Attempt runs one reconnect probe for a single connector and returns the
// updated SyncState to persist. pinger talks to that connector's upstream.
func (c *Controller) Attempt(ctx context.Context, state model.SyncState, pinger Pinger) (model.SyncState, model.HealthStatus) {
	now := c.clock.Now()

	if err := pinger.Ping(ctx); err != nil {
		state.ReconnectAttempts++
		next := now.Add(c.nextDelay(state.ReconnectAttempts - 1))
		state.NextReconnectAt = &next
		started := state.ReconnectStartedAt
		if started == nil {
			state.ReconnectStartedAt = &now
		}
		msg := err.Error()
		state.LastReconnectError = &msg
		return state, model.HealthOffline
	}

	health, err := pinger.Health(ctx)
	status := model.HealthHealthy
	if err != nil {
		status = model.HealthDegraded
	} else {
		status = deriveHealth(health)
	}

	state.ReconnectAttempts = 0
	state.NextReconnectAt = nil
	state.ReconnectStartedAt = nil
	state.LastReconnectError = nil
	return state, status
}

// deriveHealth maps a /health check list to a HealthStatus: any "error"
// entry means unhealthy, any "warning" means degraded, otherwise healthy.
func deriveHealth(checks []upstream.HealthCheck) model.HealthStatus {
	status := model.HealthHealthy
	for _, chk := range checks {
		switch chk.Type {
		case "error":
			return model.HealthUnhealthy
		case "warning":
			status = model.HealthDegraded
		}
	}
	return status
}

// PauseReconnect idempotently pauses reconnect attempts for a connector.
func PauseReconnect(ctx context.Context, db storage.Querier, connectorID int64) error {
	state, err := storage.GetSyncState(ctx, db, connectorID)
	if err != nil {
		return fmt.Errorf("pause reconnect %d: %w", connectorID, err)
	}
	state.ReconnectPaused = true
	return storage.PutSyncState(ctx, db, *state)
}

// ResumeReconnect idempotently resumes reconnect attempts, scheduling the
// next probe at nextAt.
func ResumeReconnect(ctx context.Context, db storage.Querier, connectorID int64, nextAt time.Time) error {
	state, err := storage.GetSyncState(ctx, db, connectorID)
	if err != nil {
		return fmt.Errorf("resume reconnect %d: %w", connectorID, err)
	}
	state.ReconnectPaused = false
	state.NextReconnectAt = &nextAt
	return storage.PutSyncState(ctx, db, *state)
}
