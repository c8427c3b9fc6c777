package storage

import (
	"context"
	"fmt"

	"github.com/engels74/comradarr-sub004/internal/model"
)

// UpsertSeries inserts or updates a series mirror row, keyed by
// (connectorId, upstreamId).
func UpsertSeries(ctx context.Context, db Querier, s model.Series) error {
	_, err := db.Exec(ctx, `
		INSERT INTO series (connector_id, upstream_id, title, monitored)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (connector_id, upstream_id) DO UPDATE SET
			title = EXCLUDED.title, monitored = EXCLUDED.monitored`,
		s.ConnectorID, s.UpstreamID, s.Title, s.Monitored)
	if err != nil {
		return fmt.Errorf("upsert series %d/%d: %w", s.ConnectorID, s.UpstreamID, err)
	}
	return nil
}

// UpsertMovie inserts or updates a movie mirror row.
func UpsertMovie(ctx context.Context, db Querier, m model.Movie) error {
	_, err := db.Exec(ctx, `
		INSERT INTO movies (connector_id, upstream_id, title, has_file, monitored,
			quality_cutoff_not_met, quality)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (connector_id, upstream_id) DO UPDATE SET
			title = EXCLUDED.title, has_file = EXCLUDED.has_file,
			monitored = EXCLUDED.monitored,
			quality_cutoff_not_met = EXCLUDED.quality_cutoff_not_met,
			quality = EXCLUDED.quality`,
		m.ConnectorID, m.UpstreamID, m.Title, m.HasFile, m.Monitored,
		m.QualityCutoffNotMet, m.Quality)
	if err != nil {
		return fmt.Errorf("upsert movie %d/%d: %w", m.ConnectorID, m.UpstreamID, err)
	}
	return nil
}

// UpsertEpisode inserts or updates an episode mirror row.
func UpsertEpisode(ctx context.Context, db Querier, e model.Episode) error {
	_, err := db.Exec(ctx, `
		INSERT INTO episodes (connector_id, upstream_id, series_id, season_number,
			episode_number, has_file, monitored, quality_cutoff_not_met, quality)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (connector_id, upstream_id) DO UPDATE SET
			series_id = EXCLUDED.series_id, season_number = EXCLUDED.season_number,
			episode_number = EXCLUDED.episode_number, has_file = EXCLUDED.has_file,
			monitored = EXCLUDED.monitored,
			quality_cutoff_not_met = EXCLUDED.quality_cutoff_not_met,
			quality = EXCLUDED.quality`,
		e.ConnectorID, e.UpstreamID, e.SeriesID, e.SeasonNumber, e.EpisodeNumber,
		e.HasFile, e.Monitored, e.QualityCutoffNotMet, e.Quality)
	if err != nil {
		return fmt.Errorf("upsert episode %d/%d: %w", e.ConnectorID, e.UpstreamID, err)
	}
	return nil
}

// DeleteMissingSeries removes series mirror rows for connectorID whose
// upstream_id is not in keep — used by full reconciliation. Cascades to
// seasons/episodes/registries/commands via ON DELETE CASCADE foreign keys.
func DeleteMissingSeries(ctx context.Context, db Querier, connectorID int64, keep []int64) (int64, error) {
	tag, err := db.Exec(ctx, `
		DELETE FROM series WHERE connector_id = $1 AND upstream_id <> ALL($2)`,
		connectorID, keep)
	if err != nil {
		return 0, fmt.Errorf("delete missing series: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteMissingMovies removes movie mirror rows for connectorID whose
// upstream_id is not in keep.
func DeleteMissingMovies(ctx context.Context, db Querier, connectorID int64, keep []int64) (int64, error) {
	tag, err := db.Exec(ctx, `
		DELETE FROM movies WHERE connector_id = $1 AND upstream_id <> ALL($2)`,
		connectorID, keep)
	if err != nil {
		return 0, fmt.Errorf("delete missing movies: %w", err)
	}
	return tag.RowsAffected(), nil
}

// EpisodeGaps returns episodes monitored with no file (mirror-driven gap
// discovery, the path internal/sync's Syncer.Run uses; the separate
// DiscoverViaWantedEndpoints walks the paginated wanted-missing endpoint
// via internal/upstream instead).
func EpisodeGaps(ctx context.Context, db Querier, connectorID int64) ([]model.Episode, error) {
	rows, err := db.Query(ctx, `
		SELECT id, connector_id, upstream_id, series_id, season_number, episode_number,
			has_file, monitored, quality_cutoff_not_met, quality
		FROM episodes WHERE connector_id = $1 AND monitored = true AND has_file = false`,
		connectorID)
	if err != nil {
		return nil, fmt.Errorf("episode gaps: %w", err)
	}
	defer rows.Close()
	return scanEpisodes(rows)
}

// MovieGaps returns movies monitored with no file.
func MovieGaps(ctx context.Context, db Querier, connectorID int64) ([]model.Movie, error) {
	rows, err := db.Query(ctx, `
		SELECT id, connector_id, upstream_id, title, has_file, monitored,
			quality_cutoff_not_met, quality
		FROM movies WHERE connector_id = $1 AND monitored = true AND has_file = false`,
		connectorID)
	if err != nil {
		return nil, fmt.Errorf("movie gaps: %w", err)
	}
	defer rows.Close()
	return scanMovies(rows)
}

// EpisodeUpgrades returns episodes whose quality is below cutoff.
func EpisodeUpgrades(ctx context.Context, db Querier, connectorID int64) ([]model.Episode, error) {
	rows, err := db.Query(ctx, `
		SELECT id, connector_id, upstream_id, series_id, season_number, episode_number,
			has_file, monitored, quality_cutoff_not_met, quality
		FROM episodes WHERE connector_id = $1 AND monitored = true AND quality_cutoff_not_met = true`,
		connectorID)
	if err != nil {
		return nil, fmt.Errorf("episode upgrades: %w", err)
	}
	defer rows.Close()
	return scanEpisodes(rows)
}

// MovieUpgrades returns movies whose quality is below cutoff.
func MovieUpgrades(ctx context.Context, db Querier, connectorID int64) ([]model.Movie, error) {
	rows, err := db.Query(ctx, `
		SELECT id, connector_id, upstream_id, title, has_file, monitored,
			quality_cutoff_not_met, quality
		FROM movies WHERE connector_id = $1 AND monitored = true AND quality_cutoff_not_met = true`,
		connectorID)
	if err != nil {
		return nil, fmt.Errorf("movie upgrades: %w", err)
	}
	defer rows.Close()
	return scanMovies(rows)
}

func scanEpisodes(rows Rows) ([]model.Episode, error) {
	var out []model.Episode
	for rows.Next() {
		var e model.Episode
		if err := rows.Scan(&e.ID, &e.ConnectorID, &e.UpstreamID, &e.SeriesID,
			&e.SeasonNumber, &e.EpisodeNumber, &e.HasFile, &e.Monitored,
			&e.QualityCutoffNotMet, &e.Quality); err != nil {
			return nil, fmt.Errorf("scan episode: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanMovies(rows Rows) ([]model.Movie, error) {
	var out []model.Movie
	for rows.Next() {
		var m model.Movie
		if err := rows.Scan(&m.ID, &m.ConnectorID, &m.UpstreamID, &m.Title,
			&m.HasFile, &m.Monitored, &m.QualityCutoffNotMet, &m.Quality); err != nil {
			return nil, fmt.Errorf("scan movie: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
