// Package throttle enforces per-connector request budgets (spec §4.1).
// The persisted ThrottleState row in Postgres is the source of truth for
// the budget invariant (§8 property 1) — it must survive process restarts
// and stay correct under the scheduler's parallel per-connector fan-out
// (§5). An in-process golang.org/x/time/rate.Limiter per connector is a
// fast-path smoothing layer only, the same role it plays in the teacher's
// provider clients; it is never consulted to decide whether a budget is
// exceeded.
package throttle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/engels74/comradarr-sub004/internal/config"
	"github.com/engels74/comradarr-sub004/internal/model"
	"github.com/engels74/comradarr-sub004/internal/storage"
	"github.com/engels74/comradarr-sub004/internal/timeutil"
)

// Decision is the result of tryConsume.
type Decision struct {
	Allowed    bool
	PausedUntil *time.Time
	Reason      *model.PauseReason
}

// ResetSummary is the result of resetExpiredWindows.
type ResetSummary struct {
	MinuteResets  int
	DayResets     int
	PausesCleared int
}

// Enforcer gates dispatches against per-connector throttle budgets.
type Enforcer struct {
	cfg   *config.Config
	clock timeutil.Clock

	mu       sync.Mutex
	limiters map[int64]*rate.Limiter
}

// New constructs an Enforcer.
func New(cfg *config.Config, clock timeutil.Clock) *Enforcer {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Enforcer{cfg: cfg, clock: clock, limiters: make(map[int64]*rate.Limiter)}
}

// TryConsume performs the atomic increment-and-check (spec §4.1 contract).
// db must be a transaction-capable Querier so the read-modify-write of the
// throttle row is serialized by the row-level FOR UPDATE lock acquired in
// GetThrottleState.
func (e *Enforcer) TryConsume(ctx context.Context, db storage.Querier, connectorID int64) (Decision, error) {
	now := e.clock.Now()

	state, err := storage.GetThrottleState(ctx, db, connectorID)
	if err != nil {
		return Decision{}, fmt.Errorf("tryConsume %d: %w", connectorID, err)
	}

	if state.PausedUntil != nil && now.Before(*state.PausedUntil) {
		reason := state.PauseReason
		until := *state.PausedUntil
		return Decision{Allowed: false, PausedUntil: &until, Reason: reason}, nil
	}

	profile, err := e.resolveProfile(ctx, db, connectorID)
	if err != nil {
		return Decision{}, fmt.Errorf("resolve profile %d: %w", connectorID, err)
	}

	if timeutil.MinuteWindowExpired(state.MinuteWindowStart, now) {
		state.RequestsThisMinute = 0
		state.MinuteWindowStart = now
	}
	if timeutil.DayWindowExpired(state.DayWindowStart, now) {
		state.RequestsToday = 0
		state.DayWindowStart = timeutil.StartOfUTCDay(now)
	}

	if profile.DailyBudget != nil && state.RequestsToday >= *profile.DailyBudget {
		until := timeutil.StartOfUTCDay(now.Add(24 * time.Hour))
		reason := model.PauseDailyBudget
		state.PausedUntil = &until
		state.PauseReason = &reason
		if err := storage.PutThrottleState(ctx, db, *state); err != nil {
			return Decision{}, fmt.Errorf("persist daily-budget pause %d: %w", connectorID, err)
		}
		return Decision{Allowed: false, PausedUntil: &until, Reason: &reason}, nil
	}

	if state.RequestsThisMinute >= profile.RequestsPerMinute {
		until := now.Add(time.Duration(profile.RateLimitPauseSeconds) * time.Second)
		reason := model.PauseRateLimit
		state.PausedUntil = &until
		state.PauseReason = &reason
		if err := storage.PutThrottleState(ctx, db, *state); err != nil {
			return Decision{}, fmt.Errorf("persist rate-limit pause %d: %w", connectorID, err)
		}
		return Decision{Allowed: false, PausedUntil: &until, Reason: &reason}, nil
	}

	state.RequestsThisMinute++
	state.RequestsToday++
	state.LastRequestAt = &now
	state.PausedUntil = nil
	state.PauseReason = nil
	if err := storage.PutThrottleState(ctx, db, *state); err != nil {
		return Decision{}, fmt.Errorf("persist consumed budget %d: %w", connectorID, err)
	}

	e.limiterFor(connectorID, profile.RequestsPerMinute).Wait(ctx) //nolint:errcheck // smoothing only, never gates the decision

	return Decision{Allowed: true}, nil
}

// ResetExpiredWindows implements §4.1's periodic reset job; called by the
// throttle-window-reset scheduled job for every connector.
func (e *Enforcer) ResetExpiredWindows(ctx context.Context, db storage.Querier, connectorIDs []int64) (ResetSummary, error) {
	now := e.clock.Now()
	var summary ResetSummary

	for _, id := range connectorIDs {
		state, err := storage.GetThrottleState(ctx, db, id)
		if err != nil {
			return summary, fmt.Errorf("reset windows %d: %w", id, err)
		}
		changed := false

		if timeutil.MinuteWindowExpired(state.MinuteWindowStart, now) {
			state.RequestsThisMinute = 0
			state.MinuteWindowStart = now
			summary.MinuteResets++
			changed = true
		}
		if timeutil.DayWindowExpired(state.DayWindowStart, now) {
			state.RequestsToday = 0
			state.DayWindowStart = timeutil.StartOfUTCDay(now)
			summary.DayResets++
			changed = true
			if state.PauseReason != nil && *state.PauseReason == model.PauseDailyBudget {
				state.PausedUntil = nil
				state.PauseReason = nil
				summary.PausesCleared++
			}
		}
		if state.PausedUntil != nil && state.PausedUntil.Before(now) {
			state.PausedUntil = nil
			state.PauseReason = nil
			summary.PausesCleared++
			changed = true
		}

		if changed {
			if err := storage.PutThrottleState(ctx, db, *state); err != nil {
				return summary, fmt.Errorf("persist reset %d: %w", id, err)
			}
		}
	}
	return summary, nil
}

// SetPause applies a manual pause.
func (e *Enforcer) SetPause(ctx context.Context, db storage.Querier, connectorID int64, until time.Time, reason model.PauseReason) error {
	state, err := storage.GetThrottleState(ctx, db, connectorID)
	if err != nil {
		return fmt.Errorf("set pause %d: %w", connectorID, err)
	}
	state.PausedUntil = &until
	state.PauseReason = &reason
	return storage.PutThrottleState(ctx, db, *state)
}

// ClearPause lifts any active pause.
func (e *Enforcer) ClearPause(ctx context.Context, db storage.Querier, connectorID int64) error {
	state, err := storage.GetThrottleState(ctx, db, connectorID)
	if err != nil {
		return fmt.Errorf("clear pause %d: %w", connectorID, err)
	}
	state.PausedUntil = nil
	state.PauseReason = nil
	return storage.PutThrottleState(ctx, db, *state)
}

// ResolveProfile exposes connector -> default -> fallback profile
// resolution for callers outside the package (the queue-processor job
// needs the resolved profile before it can call Engine.RunCycle).
func (e *Enforcer) ResolveProfile(ctx context.Context, db storage.Querier, connectorID int64) (*model.ThrottleProfile, error) {
	return e.resolveProfile(ctx, db, connectorID)
}

// resolveProfile implements connector -> default -> built-in fallback
// preset resolution (spec §4.1 profile resolution).
func (e *Enforcer) resolveProfile(ctx context.Context, db storage.Querier, connectorID int64) (*model.ThrottleProfile, error) {
	if p, err := storage.ThrottleProfileForConnector(ctx, db, connectorID); err != nil {
		return nil, err
	} else if p != nil {
		return p, nil
	}
	if p, err := storage.DefaultThrottleProfile(ctx, db); err != nil {
		return nil, err
	} else if p != nil {
		return p, nil
	}
	return e.fallbackProfile(), nil
}

func (e *Enforcer) fallbackProfile() *model.ThrottleProfile {
	var dailyBudget *int
	if e.cfg.FallbackDailyBudget > 0 {
		dailyBudget = &e.cfg.FallbackDailyBudget
	}
	return &model.ThrottleProfile{
		Name:                  "fallback",
		RequestsPerMinute:     e.cfg.FallbackRequestsPerMinute,
		DailyBudget:           dailyBudget,
		BatchSize:             e.cfg.FallbackBatchSize,
		BatchCooldownSeconds:  int(e.cfg.FallbackBatchCooldown.Seconds()),
		RateLimitPauseSeconds: int(e.cfg.FallbackRateLimitPause.Seconds()),
	}
}

func (e *Enforcer) limiterFor(connectorID int64, requestsPerMinute int) *rate.Limiter {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.limiters[connectorID]
	if !ok {
		rps := float64(requestsPerMinute) / 60.0
		l = rate.NewLimiter(rate.Limit(rps), 1)
		e.limiters[connectorID] = l
	}
	return l
}
