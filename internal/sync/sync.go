// Package sync implements incremental and full-reconciliation catalog
// mirroring plus gap/upgrade registry derivation (spec §4.3). It mirrors
// the teacher's seed-then-reconcile shape (internal/fixture) generalized
// from sports fixtures to *arr catalog entities.
package sync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/engels74/comradarr-sub004/internal/model"
	"github.com/engels74/comradarr-sub004/internal/storage"
	"github.com/engels74/comradarr-sub004/internal/upstream"
)

// Result is the per-pass summary returned to the analytics collector.
type Result struct {
	ItemsSynced        int
	GapsFound          int
	UpgradesFound      int
	RegistriesCreated  int
	RegistriesResolved int
	Duration           time.Duration
	Errors             []string
}

// Kind distinguishes incremental from full reconciliation sweeps.
type Kind string

const (
	Incremental       Kind = "incremental"
	FullReconciliation Kind = "fullReconciliation"
)

// Syncer performs catalog mirroring and gap/upgrade discovery for one
// connector per call.
type Syncer struct {
	logger *slog.Logger
}

// New constructs a Syncer.
func New(logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{logger: logger}
}

// Run mirrors the connector's catalog and derives gap/upgrade registries.
// kind selects whether stale mirror rows (and their cascading registries)
// are deleted (FullReconciliation) or left alone (Incremental).
func (s *Syncer) Run(ctx context.Context, db storage.Querier, client *upstream.Client, connector model.Connector, kind Kind) Result {
	start := time.Now()
	var result Result

	switch connector.Type {
	case model.ConnectorSeries, model.ConnectorAdultMovie:
		s.syncSeries(ctx, db, client, connector, kind, &result)
	case model.ConnectorMovie:
		s.syncMovies(ctx, db, client, connector, kind, &result)
	default:
		result.Errors = append(result.Errors, fmt.Sprintf("unknown connector type %q", connector.Type))
	}

	resolved, err := storage.DeleteResolvedRegistries(ctx, db, connector.ID)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("delete resolved registries: %v", err))
	} else {
		result.RegistriesResolved += int(resolved)
	}

	result.Duration = time.Since(start)
	return result
}

func (s *Syncer) syncSeries(ctx context.Context, db storage.Querier, client *upstream.Client, connector model.Connector, kind Kind, result *Result) {
	series, err := client.ListSeries(ctx)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("list series: %v", err))
		return
	}

	keep := make([]int64, 0, len(series))
	for _, sr := range series {
		keep = append(keep, sr.ID)
		if err := storage.UpsertSeries(ctx, db, model.Series{
			ConnectorID: connector.ID, UpstreamID: sr.ID, Title: sr.Title, Monitored: sr.Monitored,
		}); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("upsert series %d: %v", sr.ID, err))
			continue
		}
		result.ItemsSynced++

		episodes, err := client.ListEpisodes(ctx, sr.ID)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("list episodes for series %d: %v", sr.ID, err))
			continue
		}
		for _, ep := range episodes {
			if err := storage.UpsertEpisode(ctx, db, model.Episode{
				ConnectorID: connector.ID, UpstreamID: ep.ID, SeriesID: sr.ID,
				SeasonNumber: ep.SeasonNumber, EpisodeNumber: ep.EpisodeNumber,
				HasFile: ep.HasFile, Monitored: ep.Monitored,
				QualityCutoffNotMet: ep.QualityCutoffNotMet, Quality: ep.Quality,
			}); err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("upsert episode %d: %v", ep.ID, err))
				continue
			}
			result.ItemsSynced++
		}
	}

	if kind == FullReconciliation {
		if _, err := storage.DeleteMissingSeries(ctx, db, connector.ID, keep); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("delete missing series: %v", err))
		}
	}

	s.discoverEpisodeGapsAndUpgrades(ctx, db, connector, result)
}

func (s *Syncer) syncMovies(ctx context.Context, db storage.Querier, client *upstream.Client, connector model.Connector, kind Kind, result *Result) {
	movies, err := client.ListMovies(ctx)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("list movies: %v", err))
		return
	}

	keep := make([]int64, 0, len(movies))
	for _, m := range movies {
		keep = append(keep, m.ID)
		if err := storage.UpsertMovie(ctx, db, model.Movie{
			ConnectorID: connector.ID, UpstreamID: m.ID, Title: m.Title,
			HasFile: m.HasFile, Monitored: m.Monitored,
			QualityCutoffNotMet: m.QualityCutoffNotMet, Quality: m.Quality,
		}); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("upsert movie %d: %v", m.ID, err))
			continue
		}
		result.ItemsSynced++
	}

	if kind == FullReconciliation {
		if _, err := storage.DeleteMissingMovies(ctx, db, connector.ID, keep); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("delete missing movies: %v", err))
		}
	}

	s.discoverMovieGapsAndUpgrades(ctx, db, connector, result)
}

// discoverEpisodeGapsAndUpgrades derives gap/upgrade registries from the
// mirror table. Run uses this mirror-driven path for every episode
// connector; it does not walk the upstream wanted-missing/wanted-cutoff
// endpoints. DiscoverViaWantedEndpoints walks those endpoints through
// upstream.PageIterator, but Run does not call it.
func (s *Syncer) discoverEpisodeGapsAndUpgrades(ctx context.Context, db storage.Querier, connector model.Connector, result *Result) {
	gaps, err := storage.EpisodeGaps(ctx, db, connector.ID)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("episode gaps: %v", err))
	}
	for _, ep := range gaps {
		created, err := storage.UpsertPendingRegistry(ctx, db, connector.ID, model.ContentEpisode, ep.ID, model.SearchGap)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("upsert gap registry %d: %v", ep.ID, err))
			continue
		}
		result.GapsFound++
		if created {
			result.RegistriesCreated++
		}
	}

	upgrades, err := storage.EpisodeUpgrades(ctx, db, connector.ID)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("episode upgrades: %v", err))
	}
	for _, ep := range upgrades {
		created, err := storage.UpsertPendingRegistry(ctx, db, connector.ID, model.ContentEpisode, ep.ID, model.SearchUpgrade)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("upsert upgrade registry %d: %v", ep.ID, err))
			continue
		}
		result.UpgradesFound++
		if created {
			result.RegistriesCreated++
		}
	}
}

func (s *Syncer) discoverMovieGapsAndUpgrades(ctx context.Context, db storage.Querier, connector model.Connector, result *Result) {
	gaps, err := storage.MovieGaps(ctx, db, connector.ID)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("movie gaps: %v", err))
	}
	for _, m := range gaps {
		created, err := storage.UpsertPendingRegistry(ctx, db, connector.ID, model.ContentMovie, m.ID, model.SearchGap)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("upsert gap registry %d: %v", m.ID, err))
			continue
		}
		result.GapsFound++
		if created {
			result.RegistriesCreated++
		}
	}

	upgrades, err := storage.MovieUpgrades(ctx, db, connector.ID)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("movie upgrades: %v", err))
	}
	for _, m := range upgrades {
		created, err := storage.UpsertPendingRegistry(ctx, db, connector.ID, model.ContentMovie, m.ID, model.SearchUpgrade)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("upsert upgrade registry %d: %v", m.ID, err))
			continue
		}
		result.UpgradesFound++
		if created {
			result.RegistriesCreated++
		}
	}
}

// DiscoverViaWantedEndpoints walks the upstream wanted-missing or
// wanted-cutoff paginated endpoint directly (a separate entry point; Syncer.Run
// does not call it), tolerating malformed individual records per the lenient parser
// (§8 property 4) while still UPSERTing every valid one it sees.
func DiscoverViaWantedEndpoints(ctx context.Context, db storage.Querier, connector model.Connector, it *upstream.PageIterator, contentType model.ContentType, searchType model.SearchType, logger *slog.Logger) (found, created, skipped int, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	for {
		records, pageSkipped, more, pageErr := it.Next(ctx)
		if pageErr != nil {
			return found, created, skipped, fmt.Errorf("wanted page: %w", pageErr)
		}
		skipped += pageSkipped

		for _, rec := range records {
			wasCreated, err := storage.UpsertPendingRegistry(ctx, db, connector.ID, contentType, rec.ID, searchType)
			if err != nil {
				logger.Warn("upsert registry from wanted page failed", "recordId", rec.ID, "error", err)
				continue
			}
			found++
			if wasCreated {
				created++
			}
		}

		if !more {
			break
		}
	}
	return found, created, skipped, nil
}
