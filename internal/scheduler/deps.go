package scheduler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/engels74/comradarr-sub004/internal/analytics"
	"github.com/engels74/comradarr-sub004/internal/commandmon"
	"github.com/engels74/comradarr-sub004/internal/config"
	"github.com/engels74/comradarr-sub004/internal/maintenance"
	"github.com/engels74/comradarr-sub004/internal/model"
	"github.com/engels74/comradarr-sub004/internal/notify"
	"github.com/engels74/comradarr-sub004/internal/queue"
	"github.com/engels74/comradarr-sub004/internal/reconnect"
	"github.com/engels74/comradarr-sub004/internal/secret"
	"github.com/engels74/comradarr-sub004/internal/storage"
	"github.com/engels74/comradarr-sub004/internal/sync"
	"github.com/engels74/comradarr-sub004/internal/throttle"
	"github.com/engels74/comradarr-sub004/internal/timeutil"
	"github.com/engels74/comradarr-sub004/internal/upstream"
)

// Deps bundles every component a built-in job reaches into — one engine,
// one set of collaborators, many scheduled entry points (spec §4.9 "a
// single owner of all background work").
type Deps struct {
	DB         *storage.Pool
	Config     *config.Config
	Clock      timeutil.Clock
	Logger     *slog.Logger
	Secrets    *secret.Store
	Enforcer   *throttle.Enforcer
	Reconnect  *reconnect.Controller
	Queue      *queue.Engine
	Commands   *commandmon.Monitor
	Syncer     *sync.Syncer
	Collector  *analytics.Collector
	Aggregator *analytics.Aggregator
	Maintainer *maintenance.Runner
	Dispatcher *notify.Dispatcher
	Batcher    *notify.Batcher
}

// clientFor builds the per-connector upstream facade, decrypting its API
// key just-in-time (spec §5 "the 256-bit secret key ... per-row AES-GCM
// key derivation is not performed" — only the channel/connector secret
// itself is decrypted per use, not re-derived).
func (d *Deps) clientFor(c model.Connector) (*upstream.Client, error) {
	apiKey, err := d.Secrets.Decrypt(c.APIKeyEncrypted)
	if err != nil {
		return nil, fmt.Errorf("decrypt connector %d api key: %w", c.ID, err)
	}
	return upstream.NewClient(upstream.Config{
		BaseURL:     c.URL,
		APIKey:      apiKey,
		UserAgent:   d.Config.UpstreamUserAgent,
		Timeout:     d.Config.UpstreamTimeout,
		MaxAttempts: d.Config.UpstreamMaxAttempts,
	}, d.Logger), nil
}

func (d *Deps) enabledConnectors(ctx context.Context) ([]model.Connector, error) {
	return storage.EnabledConnectors(ctx, d.DB)
}
