// Package queue implements the search-registry state machine: priority
// dequeue, throttle-gated dispatch, and cooldown/backlog transitions (spec
// §4.2). Round-robin alternation between episode and movie content types
// is implemented here, over storage.DequeuePriorityByContentType, since the
// priority ORDER BY alone cannot express a starvation guard across two
// independently-growing queues.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/engels74/comradarr-sub004/internal/analytics"
	"github.com/engels74/comradarr-sub004/internal/apperr"
	"github.com/engels74/comradarr-sub004/internal/config"
	"github.com/engels74/comradarr-sub004/internal/model"
	"github.com/engels74/comradarr-sub004/internal/storage"
	"github.com/engels74/comradarr-sub004/internal/throttle"
	"github.com/engels74/comradarr-sub004/internal/timeutil"
	"github.com/engels74/comradarr-sub004/internal/upstream"
)

// DispatchOutcome classifies what happened to a single dispatched item.
type DispatchOutcome string

const (
	OutcomeDispatched DispatchOutcome = "dispatched"
	OutcomeReverted   DispatchOutcome = "reverted" // throttle denied
	OutcomeCooldown   DispatchOutcome = "cooldown"
	OutcomeExhausted  DispatchOutcome = "exhausted"
)

// CycleResult summarizes one queue-processor pass for a connector.
type CycleResult struct {
	Enqueued         int64
	OrphansReverted  int64
	CooldownRequeued int64
	Dispatched       int
	Reverted         int
	Cooldowned       int
	Exhausted        int
	Errors           []string
}

// Engine drives the per-connector dispatch cycle.
type Engine struct {
	cfg       *config.Config
	enforcer  *throttle.Enforcer
	clock     timeutil.Clock
	logger    *slog.Logger
	collector *analytics.Collector
}

// New constructs an Engine.
func New(cfg *config.Config, enforcer *throttle.Enforcer, clock timeutil.Clock, logger *slog.Logger) *Engine {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{cfg: cfg, enforcer: enforcer, clock: clock, logger: logger}
}

// WithCollector attaches the analytics collector dispatchOne reports
// searchDispatched/searchFailed/searchNoResults events through (spec §4.2
// dispatch contract steps 3/5). Optional: an Engine with no collector set
// simply skips event recording, so existing callers built via New alone
// keep working unchanged.
func (e *Engine) WithCollector(c *analytics.Collector) *Engine {
	e.collector = c
	return e
}

// RunCycle performs one queue-processor pass for a single connector:
// enqueue freshly discovered pending rows, orphan recovery, cooldown
// re-enqueue, then a throttle-gated dispatch batch (spec §4.9
// queue-processor job, run sequentially per connector per §5).
func (e *Engine) RunCycle(ctx context.Context, db storage.Querier, client *upstream.Client, connector model.Connector, profile model.ThrottleProfile) CycleResult {
	var result CycleResult
	now := e.clock.Now()

	enqueued, err := storage.EnqueuePendingItems(ctx, db, connector.ID)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("enqueue pending: %v", err))
	}
	result.Enqueued = enqueued

	orphans, err := storage.RevertOrphanedSearching(ctx, db, now.Add(-e.cfg.QueueStaleThreshold))
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("revert orphans: %v", err))
	}
	result.OrphansReverted = orphans

	requeued, err := storage.ReenqueueEligibleCooldown(ctx, db)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("reenqueue cooldown: %v", err))
	}
	result.CooldownRequeued = requeued

	batch, err := e.dequeueRoundRobin(ctx, db, connector.ID, profile.BatchSize)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("dequeue: %v", err))
		return result
	}

	for _, item := range batch {
		outcome, err := e.dispatchOne(ctx, db, client, connector, item)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("dispatch %d: %v", item.ID, err))
			continue
		}
		switch outcome {
		case OutcomeDispatched:
			result.Dispatched++
		case OutcomeReverted:
			result.Reverted++
		case OutcomeCooldown:
			result.Cooldowned++
		case OutcomeExhausted:
			result.Exhausted++
		}
	}

	return result
}

// dequeueRoundRobin alternates episode/movie claims to satisfy priority
// rule #2 (round-robin to avoid starvation) on top of the gap-before-
// upgrade, tier, and age ordering storage.DequeuePriorityByContentType
// already applies within each content type.
func (e *Engine) dequeueRoundRobin(ctx context.Context, db storage.Querier, connectorID int64, batchSize int) ([]model.SearchRegistry, error) {
	if batchSize <= 0 {
		batchSize = 1
	}
	episodeQuota := (batchSize + 1) / 2
	movieQuota := batchSize - episodeQuota

	episodes, err := storage.DequeuePriorityByContentType(ctx, db, connectorID, model.ContentEpisode, episodeQuota)
	if err != nil {
		return nil, fmt.Errorf("dequeue episodes: %w", err)
	}
	movies, err := storage.DequeuePriorityByContentType(ctx, db, connectorID, model.ContentMovie, movieQuota)
	if err != nil {
		return nil, fmt.Errorf("dequeue movies: %w", err)
	}

	// Backfill unused quota from whichever side had more available work,
	// so a connector with only one content type still fills its batch.
	// Rows are not claimed until dispatchOne, so the backfill re-runs the
	// dequeue with the larger limit instead of appending a second result.
	if len(episodes) < episodeQuota {
		more, err := storage.DequeuePriorityByContentType(ctx, db, connectorID, model.ContentMovie, movieQuota+episodeQuota-len(episodes))
		if err == nil {
			movies = more
		}
	}
	if len(movies) < movieQuota {
		more, err := storage.DequeuePriorityByContentType(ctx, db, connectorID, model.ContentEpisode, episodeQuota+movieQuota-len(movies))
		if err == nil {
			episodes = more
		}
	}

	out := make([]model.SearchRegistry, 0, len(episodes)+len(movies))
	for i := 0; i < len(episodes) || i < len(movies); i++ {
		if i < len(episodes) {
			out = append(out, episodes[i])
		}
		if i < len(movies) {
			out = append(out, movies[i])
		}
	}
	return out, nil
}

// dispatchOne implements the per-item dispatch contract (spec §4.2
// Dispatch contract).
func (e *Engine) dispatchOne(ctx context.Context, db storage.Querier, client *upstream.Client, connector model.Connector, item model.SearchRegistry) (DispatchOutcome, error) {
	claimed, err := storage.SetSearching(ctx, db, item.ID)
	if err != nil {
		return "", fmt.Errorf("claim %d: %w", item.ID, err)
	}
	if !claimed {
		return OutcomeReverted, nil // already claimed by a concurrent processor
	}

	decision, err := e.enforcer.TryConsume(ctx, db, connector.ID)
	if err != nil {
		return "", fmt.Errorf("throttle check %d: %w", item.ID, err)
	}
	if !decision.Allowed {
		if err := storage.RevertQueued(ctx, db, item.ID); err != nil {
			return "", fmt.Errorf("revert %d: %w", item.ID, err)
		}
		return OutcomeReverted, nil
	}

	name := dispatchName(item)
	dispatched, dispatchErr := client.DispatchSearch(ctx, name, []int64{item.ContentID})
	if dispatchErr == nil {
		if err := storage.InsertPendingCommand(ctx, db, model.PendingCommand{
			ConnectorID: connector.ID, CommandID: dispatched.CommandID,
			ContentType: item.ContentType, ContentID: item.ContentID,
			CommandStatus: model.CommandQueued,
		}); err != nil {
			return "", fmt.Errorf("insert pending command %d: %w", item.ID, err)
		}
		if err := storage.ReturnToPending(ctx, db, item.ID); err != nil {
			return "", fmt.Errorf("return to pending %d: %w", item.ID, err)
		}
		if e.collector != nil {
			e.collector.SearchDispatched(ctx, db, connector.ID, item.ID, item.ContentType)
		}
		return OutcomeDispatched, nil
	}

	if appErr, ok := apperr.As(dispatchErr); ok && appErr.Kind == apperr.KindRateLimit {
		until := e.clock.Now().Add(appErr.RetryAfter)
		if appErr.RetryAfter <= 0 {
			until = e.clock.Now().Add(time.Minute)
		}
		reason := model.PauseRateLimit
		if err := e.enforcer.SetPause(ctx, db, connector.ID, until, reason); err != nil {
			return "", fmt.Errorf("pause on rate limit %d: %w", item.ID, err)
		}
		if err := storage.RevertQueued(ctx, db, item.ID); err != nil {
			return "", fmt.Errorf("revert %d: %w", item.ID, err)
		}
		return OutcomeReverted, nil
	}

	if e.collector != nil {
		if appErr, ok := apperr.As(dispatchErr); ok && appErr.Kind == apperr.KindNoResults {
			e.collector.SearchNoResults(ctx, db, connector.ID, item.ID)
		} else {
			e.collector.SearchFailed(ctx, db, connector.ID, item.ID, dispatchErr.Error())
		}
	}

	attempt := item.AttemptCount + 1
	if attempt >= e.cfg.QueueMaxAttempts {
		if err := storage.Exhaust(ctx, db, item.ID, attempt); err != nil {
			return "", fmt.Errorf("exhaust %d: %w", item.ID, err)
		}
		return OutcomeExhausted, nil
	}
	delay := timeutil.Backoff(attempt, e.cfg.QueueBackoffBase, e.cfg.QueueBackoffMax, e.cfg.QueueBackoffMultiplier)
	nextEligible := e.clock.Now().Add(delay)
	if err := storage.Cooldown(ctx, db, item.ID, attempt, nextEligible); err != nil {
		return "", fmt.Errorf("cooldown %d: %w", item.ID, err)
	}
	return OutcomeCooldown, nil
}

func dispatchName(item model.SearchRegistry) upstream.SearchName {
	if item.ContentType == model.ContentMovie {
		return upstream.SearchMovie
	}
	return upstream.SearchEpisode
}

// RecoverBacklog moves exhausted rows back to cooldown at backlog tier
// max(1, current tier), with nextEligibleAt set to now plus the tier-1 delay
// for every recovered row (spec §4.7 Backlog recovery, §8 S3 scenario).
func RecoverBacklog(ctx context.Context, db storage.Querier, clock timeutil.Clock, connectorID int64, tierDelays config.TierDelays) (int64, error) {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	next := clock.Now().Add(tierDelays[1])
	n, err := storage.RecoverBacklog(ctx, db, connectorID, next)
	if err != nil {
		return 0, fmt.Errorf("recover backlog %d: %w", connectorID, err)
	}
	return n, nil
}
