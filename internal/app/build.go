package app

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ent0n29/langhub/internal/config"
	"github.com/ent0n29/langhub/internal/detect"
	"github.com/ent0n29/langhub/internal/events"
	"github.com/ent0n29/langhub/internal/eventstore"
	"github.com/ent0n29/langhub/internal/httpapi"
	"github.com/ent0n29/langhub/internal/hub"
	"github.com/ent0n29/langhub/internal/observability"
	"github.com/ent0n29/langhub/internal/router"
	"github.com/ent0n29/langhub/internal/routing"
	"github.com/ent0n29/langhub/internal/session"
)

type VoiceInfo struct {
	Provider string
	Detail   string
}

type BuildResult struct {
	Config  config.Config
	API     *httpapi.Server
	Router  *router.Router
	Hub     *hub.Hub
	Bus     *events.Bus
	Store   eventstore.Store
	Metrics *observability.Metrics
	Voice   VoiceInfo

	hubSub   *events.Subscription
	storeSub *events.Subscription
	sink     *eventstore.Sink

	// Cleanup should be called on shutdown to release external resources (DB, sockets, etc).
	Cleanup func() error
}

// Build wires every component from cfg. Nothing runs until Start.
func Build(ctx context.Context, cfg config.Config, logger *zap.SugaredLogger) (*BuildResult, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	metrics := observability.NewMetrics(cfg.MetricsNamespace, nil)

	store, err := eventstore.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("event store init failed: %w", err)
	}

	voiceSetup, err := resolveVoiceProviders(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	table, err := routing.NewTable(cfg.SupportedLanguages, cfg.FallbackLanguage, voiceSetup.resolvedProvider, routing.DefaultCatalog(voiceSetup.resolvedProvider))
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("route table init failed: %w", err)
	}
	if err := table.Apply(cfg.RouteOverrides); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("LANG_ROUTES: %w", err)
	}

	bus := events.NewBus()
	// Subscribe before the router exists so no event can be missed.
	hubSub := bus.Subscribe("hub", 1024)
	storeSub := bus.SubscribeLossy("eventstore", 1024)

	r, err := router.New(router.Config{
		ConfidenceThreshold: cfg.ConfidenceThreshold,
		SwitchMargin:        cfg.SwitchMargin,
		HistoryLimit:        cfg.DetectionHistory,
		MailboxSize:         cfg.RouterMailboxSize,
	}, router.Deps{
		Sessions:  session.NewManager(),
		Routes:    table,
		Detector:  detect.NewHeuristic(cfg.SupportedLanguages, cfg.FallbackLanguage, cfg.AudioConfidenceFactor),
		Providers: voiceSetup.providers,
		Bus:       bus,
		Metrics:   metrics,
		Logger:    logger.Named("router"),
	})
	if err != nil {
		bus.Close()
		_ = store.Close()
		return nil, err
	}

	h := hub.New(hub.Config{
		HeartbeatInterval: cfg.HeartbeatInterval,
		ClientTimeout:     cfg.ClientTimeout,
		SendBuffer:        cfg.SendBuffer,
		EndIdleSessions:   cfg.EndIdleSessions,
	}, r, metrics, logger.Named("hub"))

	sink := eventstore.NewSink(store, eventstore.SinkConfig{Retries: cfg.EventStoreRetries}, metrics, logger.Named("eventstore"))

	api := httpapi.New(cfg, r, h, store, metrics, logger.Named("http"))

	cleanup := func() error {
		var errs []string
		h.Cleanup()
		r.Close()
		bus.Close()
		if err := store.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}

	return &BuildResult{
		Config:  cfg,
		API:     api,
		Router:  r,
		Hub:     h,
		Bus:     bus,
		Store:   store,
		Metrics: metrics,
		Voice: VoiceInfo{
			Provider: voiceSetup.resolvedProvider,
			Detail:   voiceSetup.detail,
		},
		hubSub:   hubSub,
		storeSub: storeSub,
		sink:     sink,
		Cleanup:  cleanup,
	}, nil
}

// Start launches the broadcast loop, the persistence loop and the heartbeat
// monitor. They stop when ctx ends or the bus closes.
func (b *BuildResult) Start(ctx context.Context) {
	go b.Hub.Run(ctx, b.hubSub)
	go b.sink.Run(ctx, b.storeSub)
	b.Hub.StartHeartbeat(ctx)
}
