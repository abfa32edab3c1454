// Package snapengine wires the Snapie feed machinery together: the RPC
// gateway, the muted-list and reputation filters, the feed pagination
// engine, and the markdown sanitization pipeline. The rendering layer on top
// consumes Engine.Feed for pages and Engine.RenderSnap for safe HTML.
package snapengine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/snapie/snapengine/feed"
	"github.com/snapie/snapengine/follow"
	"github.com/snapie/snapengine/hiverpc"
	"github.com/snapie/snapengine/kvstore"
	"github.com/snapie/snapengine/markdown"
	"github.com/snapie/snapengine/mutelist"
	"github.com/snapie/snapengine/reputation"
)

type Engine struct {
	Feed     *feed.Engine
	Renderer *markdown.Renderer
	Muted    *mutelist.Service
	Follows  *follow.Service
	RPC      *hiverpc.Client

	durable *kvstore.SQLite
	logger  *slog.Logger
}

func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}

	cfg.applyDefaults()

	rpc, err := hiverpc.NewClient(cfg.Endpoints, logger, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create rpc client: %w", err)
	}

	durable, err := kvstore.NewSQLite(ctx, cfg.DurableDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open durable store: %w", err)
	}

	session := kvstore.NewMemory()

	muted := mutelist.NewService(rpc, durable, cfg.Community, logger)
	rep := reputation.NewService(rpc, cfg.ReputationThreshold, logger)
	follows := follow.NewService(rpc, logger)

	feedEngine := feed.NewEngine(rpc, muted, rep, follows, session, feed.Config{
		FeedAccount:  cfg.FeedAccount,
		CommunityTag: cfg.Community,
	}, logger)

	renderer := markdown.NewRenderer(markdown.Options{
		ImageProxyPrefix: cfg.ImageProxyPrefix,
		FrontendHosts:    cfg.FrontendHosts,
	})

	return &Engine{
		Feed:     feedEngine,
		Renderer: renderer,
		Muted:    muted,
		Follows:  follows,
		RPC:      rpc,
		durable:  durable,
		logger:   logger,
	}, nil
}

// RenderSnap returns the snap body as sanitized, embeddable HTML.
func (e *Engine) RenderSnap(snap *feed.Snap) string {
	return e.Renderer.Render(snap.Body)
}

func (e *Engine) Close() error {
	if err := e.durable.Close(); err != nil {
		return fmt.Errorf("failed to close durable store: %w", err)
	}

	return nil
}
