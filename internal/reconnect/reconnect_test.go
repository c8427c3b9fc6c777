package reconnect

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engels74/comradarr-sub004/internal/config"
	"github.com/engels74/comradarr-sub004/internal/model"
	"github.com/engels74/comradarr-sub004/internal/upstream"
)

type stubPinger struct {
	pingErr error
	health  []upstream.HealthCheck
}

func (p stubPinger) Ping(ctx context.Context) error { return p.pingErr }
func (p stubPinger) Health(ctx context.Context) ([]upstream.HealthCheck, error) {
	return p.health, nil
}

func testConfig() *config.Config {
	return &config.Config{
		ReconnectBaseDelay: 30 * time.Second,
		ReconnectMaxDelay:  60 * time.Minute,
	}
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func TestAttempt_MonotonicBackoffUntilCap(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := New(testConfig(), fixedClock{t: now})
	pinger := stubPinger{pingErr: errors.New("connection refused")}

	state := model.SyncState{ConnectorID: 1}
	var prevDelay time.Duration
	for i := 0; i < 6; i++ {
		var status model.HealthStatus
		state, status = c.Attempt(context.Background(), state, pinger)
		assert.Equal(t, model.HealthOffline, status)
		require.NotNil(t, state.NextReconnectAt)
		delay := state.NextReconnectAt.Sub(now)
		assert.Greater(t, delay, prevDelay, "attempt %d should increase delay beyond previous", i)
		assert.LessOrEqual(t, delay, c.cfg.ReconnectMaxDelay)
		prevDelay = delay
	}
}

func TestAttempt_SuccessResetsState(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := New(testConfig(), fixedClock{t: now})
	pinger := stubPinger{health: []upstream.HealthCheck{{Type: "ok"}}}

	prevErr := "boom"
	state := model.SyncState{ConnectorID: 1, ReconnectAttempts: 4, LastReconnectError: &prevErr}

	newState, status := c.Attempt(context.Background(), state, pinger)
	assert.Equal(t, model.HealthHealthy, status)
	assert.Equal(t, 0, newState.ReconnectAttempts)
	assert.Nil(t, newState.NextReconnectAt)
	assert.Nil(t, newState.LastReconnectError)
}

func TestDeriveHealth_ErrorOutranksWarning(t *testing.T) {
	status := deriveHealth([]upstream.HealthCheck{{Type: "warning"}, {Type: "error"}})
	assert.Equal(t, model.HealthUnhealthy, status)
}

func TestDeriveHealth_WarningWithoutError(t *testing.T) {
	status := deriveHealth([]upstream.HealthCheck{{Type: "ok"}, {Type: "warning"}})
	assert.Equal(t, model.HealthDegraded, status)
}
