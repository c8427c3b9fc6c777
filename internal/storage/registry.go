package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/engels74/comradarr-sub004/internal/model"
)

// UpsertPendingRegistry inserts a new pending search-registry row for
// (connectorId, contentType, contentId, searchType) if one does not already
// exist (spec §4.2 idempotency invariant). Returns true if a row was created.
func UpsertPendingRegistry(ctx context.Context, db Querier, connectorID int64, contentType model.ContentType, contentID int64, searchType model.SearchType) (bool, error) {
	var id int64
	err := db.QueryRow(ctx, "registry_upsert", connectorID, contentType, contentID, searchType).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("upsert registry: %w", err)
	}
	return true, nil
}

// DeleteResolvedRegistries removes gap/upgrade registries whose underlying
// content no longer needs them (spec §4.2 Resolution / §8 property 3).
// Returns the number of rows removed.
func DeleteResolvedRegistries(ctx context.Context, db Querier, connectorID int64) (int64, error) {
	var total int64
	for _, stmt := range []string{
		"registry_delete_resolved_gap",
		"registry_delete_resolved_gap_movie",
		"registry_delete_resolved_upgrade",
		"registry_delete_resolved_upgrade_movie",
	} {
		tag, err := db.Exec(ctx, stmt, connectorID)
		if err != nil {
			return total, fmt.Errorf("%s: %w", stmt, err)
		}
		total += tag.RowsAffected()
	}
	return total, nil
}

// RevertOrphanedSearching reverts rows stuck in `searching` past
// staleThreshold back to `queued` (spec §4.2 Orphan recovery / §8 property 2).
func RevertOrphanedSearching(ctx context.Context, db Querier, olderThan time.Time) (int64, error) {
	tag, err := db.Exec(ctx, "registry_revert_orphans", olderThan)
	if err != nil {
		return 0, fmt.Errorf("revert orphaned searching: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ReenqueueEligibleCooldown moves cooldown rows whose nextEligibleAt has
// passed back to queued.
func ReenqueueEligibleCooldown(ctx context.Context, db Querier) (int64, error) {
	tag, err := db.Exec(ctx, "registry_reenqueue_cooldown")
	if err != nil {
		return 0, fmt.Errorf("reenqueue cooldown: %w", err)
	}
	return tag.RowsAffected(), nil
}

// RecoverBacklog migrates exhausted rows for connectorID into cooldown at
// backlog tier max(1, current tier) (spec §4.2, §4.7 Backlog recovery).
func RecoverBacklog(ctx context.Context, db Querier, connectorID int64, nextEligibleAt time.Time) (int64, error) {
	tag, err := db.Exec(ctx, "registry_backlog_recover", connectorID, nextEligibleAt)
	if err != nil {
		return 0, fmt.Errorf("recover backlog: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DequeuePriority claims up to limit queued rows for connectorID in
// priority order (spec §4.2 Priority), using FOR UPDATE SKIP LOCKED so
// concurrent queue-processor fan-out across connectors never contends on
// the same rows — the pattern the teacher's notifications.ClaimDue uses for
// its own claim-batch. contentType, gap/upgrade ordering only; the
// movie/episode round-robin tie-break (priority rule #2) is the caller's
// responsibility — see DequeuePriorityByContentType, which runs the same
// query restricted to one content type.
func DequeuePriority(ctx context.Context, db Querier, connectorID int64, limit int) ([]model.SearchRegistry, error) {
	return dequeuePriority(ctx, db, connectorID, nil, limit)
}

// DequeuePriorityByContentType claims queued rows restricted to one content
// type, letting the queue engine alternate calls across episode/movie to
// implement the round-robin starvation guard from spec §4.2 priority rule
// #2 without either content type ever fully starving the other.
func DequeuePriorityByContentType(ctx context.Context, db Querier, connectorID int64, contentType model.ContentType, limit int) ([]model.SearchRegistry, error) {
	return dequeuePriority(ctx, db, connectorID, &contentType, limit)
}

func dequeuePriority(ctx context.Context, db Querier, connectorID int64, contentType *model.ContentType, limit int) ([]model.SearchRegistry, error) {
	sql := `
		SELECT id, connector_id, content_type, content_id, search_type, state,
			attempt_count, next_eligible_at, backlog_tier, created_at, updated_at
		FROM search_registry
		WHERE connector_id = $1 AND state = 'queued'`
	args := []any{connectorID}
	if contentType != nil {
		sql += " AND content_type = $2"
		args = append(args, *contentType)
	}
	sql += `
		ORDER BY
			CASE search_type WHEN 'gap' THEN 0 ELSE 1 END,
			backlog_tier ASC,
			created_at ASC,
			id ASC
		LIMIT $` + fmt.Sprint(len(args)+1) + `
		FOR UPDATE SKIP LOCKED`
	args = append(args, limit)

	rows, err := db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("dequeue priority: %w", err)
	}
	defer rows.Close()

	var out []model.SearchRegistry
	for rows.Next() {
		var r model.SearchRegistry
		if err := rows.Scan(&r.ID, &r.ConnectorID, &r.ContentType, &r.ContentID,
			&r.SearchType, &r.State, &r.AttemptCount, &r.NextEligibleAt,
			&r.BacklogTier, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan registry: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SetSearching claims a queued row into searching. Returns false if the row
// was no longer in the queued state (already claimed elsewhere).
func SetSearching(ctx context.Context, db Querier, id int64) (bool, error) {
	tag, err := db.Exec(ctx, "registry_set_searching", id)
	if err != nil {
		return false, fmt.Errorf("set searching %d: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

// RevertQueued reverts a searching row back to queued (dispatch was
// rate-limited before it could run).
func RevertQueued(ctx context.Context, db Querier, id int64) error {
	_, err := db.Exec(ctx, "registry_revert_queued", id)
	return err
}

// ReturnToPending transitions a row from searching back to pending on
// successful dispatch acceptance (spec §4.2 "searching -> pending ...
// clears registry on resolution"). The row is not deleted here: it is
// only removed once DeleteResolvedRegistries observes the underlying
// content has actually been acquired (hasFile / cutoff met).
func ReturnToPending(ctx context.Context, db Querier, id int64) error {
	_, err := db.Exec(ctx, "registry_return_pending", id)
	return err
}

// EnqueuePendingItems transitions every pending row for connectorID into
// queued (spec §4.2 row 1, the "enqueuePendingItems" operation run during
// a sweep) so gaps/upgrades sync just upserted become dispatchable.
// Returns the number of rows transitioned.
func EnqueuePendingItems(ctx context.Context, db Querier, connectorID int64) (int64, error) {
	tag, err := db.Exec(ctx, "registry_enqueue_pending", connectorID)
	if err != nil {
		return 0, fmt.Errorf("enqueue pending items %d: %w", connectorID, err)
	}
	return tag.RowsAffected(), nil
}

// Cooldown transitions a row into cooldown with an incremented attempt
// count and a new nextEligibleAt.
func Cooldown(ctx context.Context, db Querier, id int64, attemptCount int, nextEligibleAt time.Time) error {
	_, err := db.Exec(ctx, "registry_cooldown", id, attemptCount, nextEligibleAt)
	return err
}

// Exhaust transitions a row into the terminal exhausted state.
func Exhaust(ctx context.Context, db Querier, id int64, attemptCount int) error {
	_, err := db.Exec(ctx, "registry_exhaust", id, attemptCount)
	return err
}

// OrphanCleanup deletes registry rows whose content no longer exists for
// connectorID (spec §4.7 Orphan cleanup).
func OrphanCleanup(ctx context.Context, db Querier, connectorID int64) (int64, error) {
	var total int64
	for _, stmt := range []string{"registry_orphan_cleanup_episode", "registry_orphan_cleanup_movie"} {
		tag, err := db.Exec(ctx, stmt, connectorID)
		if err != nil {
			return total, fmt.Errorf("%s: %w", stmt, err)
		}
		total += tag.RowsAffected()
	}
	return total, nil
}

// QueueDepthByState groups live registries by state for the queue-depth
// sampler (spec §4.6).
func QueueDepthByState(ctx context.Context, db Querier, connectorID int64) (map[model.RegistryState]int, error) {
	rows, err := db.Query(ctx, `
		SELECT state, COUNT(*) FROM search_registry
		WHERE connector_id = $1 AND state IN ('pending','queued','searching','cooldown')
		GROUP BY state`, connectorID)
	if err != nil {
		return nil, fmt.Errorf("queue depth by state: %w", err)
	}
	defer rows.Close()

	out := make(map[model.RegistryState]int)
	for rows.Next() {
		var state model.RegistryState
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return nil, fmt.Errorf("scan queue depth: %w", err)
		}
		out[state] = count
	}
	return out, rows.Err()
}
