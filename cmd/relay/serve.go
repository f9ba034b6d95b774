package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/memohai/relay/internal/auth"
	"github.com/memohai/relay/internal/backend"
	"github.com/memohai/relay/internal/channel"
	"github.com/memohai/relay/internal/channel/adapters/telegram"
	"github.com/memohai/relay/internal/config"
	"github.com/memohai/relay/internal/delivery"
	"github.com/memohai/relay/internal/executor"
	"github.com/memohai/relay/internal/gateway"
	"github.com/memohai/relay/internal/handlers"
	allowlistchecker "github.com/memohai/relay/internal/healthcheck/checkers/allowlist"
	backendchecker "github.com/memohai/relay/internal/healthcheck/checkers/backend"
	channelchecker "github.com/memohai/relay/internal/healthcheck/checkers/channel"
	"github.com/memohai/relay/internal/logger"
	"github.com/memohai/relay/internal/media"
	"github.com/memohai/relay/internal/media/providers/localfs"
	"github.com/memohai/relay/internal/server"
	"github.com/memohai/relay/internal/session"
	"github.com/memohai/relay/internal/syncbridge"
	"github.com/memohai/relay/internal/version"
)

const (
	// restartExitCode asks the supervisor to start the process again.
	restartExitCode = 75
	catalogTTL      = 5 * time.Minute
	downloadTimeout = 60 * time.Second
)

func runServe(configPath string) error {
	app := fx.New(
		fx.Supply(configFile(configPath)),
		fx.Provide(
			provideConfig,
			provideLogger,
			providePrompts,
			provideBackendClient,
			provideTelegram,
			provideAllowlist,
			provideAuthRegistry,
			provideBootstrapper,
			provideSessionRegistry,
			provideCatalog,
			provideUploads,
			providePipeline,
			provideRetention,
			provideExecutor,
			provideDeliverer,
			provideSyncBridge,
			provideGateway,
			provideServerHandler(handlers.NewPingHandler),
			provideServerHandler(provideHealthHandler),
			provideSyncHandler,
			provideServer,
		),
		fx.Invoke(
			startServer,
			startRetention,
			startAllowlistWatch,
			startEventBridge,
			startTelegram,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	)
	if err := app.Err(); err != nil {
		return err
	}
	app.Run()
	return nil
}

type configFile string

func provideServerHandler(fn any) any {
	return fx.Annotate(
		fn,
		fx.As(new(server.Handler)),
		fx.ResultTags(`group:"server_handlers"`),
	)
}

func provideConfig(path configFile) (config.Config, error) {
	cfg, err := config.Load(string(path))
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	return logger.Init(cfg.Log.Level, cfg.Log.Format, logger.FileOptions{
		Path:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})
}

func providePrompts(cfg config.Config) (config.Prompts, error) {
	prompts, err := config.LoadPrompts(cfg.Prompts.File)
	if err != nil {
		return prompts, fmt.Errorf("load prompts: %w", err)
	}
	return prompts, nil
}

func provideBackendClient(log *slog.Logger, cfg config.Config) *backend.Client {
	return backend.NewClient(log, backend.Options{
		BaseURL:        cfg.Backend.BaseURL,
		Username:       cfg.Backend.Username,
		Password:       cfg.Backend.Password,
		Directory:      cfg.Backend.Directory,
		RequestTimeout: cfg.Backend.RequestTimeoutDuration(),
		PromptTimeout:  cfg.Backend.PromptTimeoutDuration(),
	})
}

func provideTelegram(log *slog.Logger, cfg config.Config) (*telegram.Adapter, error) {
	return telegram.New(log, cfg.Telegram.BotToken, cfg.Telegram.PollTimeout)
}

func provideAllowlist(cfg config.Config) *auth.Store {
	return auth.NewStore(cfg.Auth.AllowlistFile, cfg.Auth.AllowlistKey)
}

func provideAuthRegistry(log *slog.Logger, store *auth.Store) (*auth.Registry, error) {
	ids, err := store.Load()
	if err != nil {
		return nil, err
	}
	return auth.NewRegistry(log, time.Now(), ids), nil
}

// provideBootstrapper picks how a freshly recorded owner takes effect: an
// in-process reload or a process exit with restartExitCode.
func provideBootstrapper(log *slog.Logger, cfg config.Config, store *auth.Store, registry *auth.Registry, shutdowner fx.Shutdowner) *auth.Bootstrapper {
	var restarter auth.Restarter = auth.NewReloadRestarter(store, registry)
	if cfg.Auth.BootstrapMode == config.BootstrapModeRestart {
		restarter = auth.RestartFunc(func(context.Context) error {
			log.Info("restarting to apply allow-list", slog.Int("exit_code", restartExitCode))
			return shutdowner.Shutdown(fx.ExitCode(restartExitCode))
		})
	}
	return auth.NewBootstrapper(log, store, registry, restarter)
}

func provideSessionRegistry(log *slog.Logger, cfg config.Config, client *backend.Client) (*session.Registry, error) {
	model, err := session.ParseModelSelector(cfg.Backend.DefaultModel)
	if err != nil {
		return nil, fmt.Errorf("backend.default_model: %w", err)
	}
	return session.NewRegistry(log, client, model), nil
}

func provideCatalog(log *slog.Logger, client *backend.Client) *session.Catalog {
	return session.NewCatalog(log, client, catalogTTL)
}

func provideUploads(cfg config.Config) (*localfs.Provider, error) {
	return localfs.New(cfg.Media.UploadDir)
}

func providePipeline(log *slog.Logger, cfg config.Config, prompts config.Prompts, uploads *localfs.Provider) *media.Pipeline {
	var transcriber media.Transcriber
	if cfg.Transcription.APIKey != "" {
		transcriber = media.NewOpenAITranscriber(media.TranscriberConfig{
			APIKey:   cfg.Transcription.APIKey,
			BaseURL:  cfg.Transcription.BaseURL,
			Model:    cfg.Transcription.Model,
			Language: cfg.Transcription.Language,
		})
	} else {
		log.Warn("transcription api key missing, voice messages are disabled")
	}
	downloader := media.NewDownloader(&http.Client{Timeout: downloadTimeout}, cfg.Media.MaxDownloadBytes)
	return media.NewPipeline(log, media.Config{
		ScratchDir:       cfg.Media.ScratchDir,
		FFmpegPath:       cfg.Media.FFmpegPath,
		FrameInterval:    cfg.Media.FrameInterval,
		MaxFrames:        cfg.Media.MaxFrames,
		ExtractTimeout:   cfg.Media.ExtractTimeoutDuration(),
		MaxDownloadBytes: cfg.Media.MaxDownloadBytes,
		MaxVideoBytes:    cfg.Media.MaxVideoBytes,
		PhotoPrompt:      prompts.PhotoDefault,
		VideoPrompt:      prompts.VideoDefault,
	}, downloader, transcriber, uploads)
}

func provideRetention(log *slog.Logger, cfg config.Config, uploads *localfs.Provider) *media.Retention {
	return media.NewRetention(log, uploads, cfg.Media.UploadRetentionDuration(), cfg.Media.RetentionSchedule)
}

func provideExecutor(log *slog.Logger, cfg config.Config, prompts config.Prompts, client *backend.Client, tg *telegram.Adapter) *executor.Executor {
	return executor.New(log, client, tg, executor.Options{
		EditInterval:   cfg.Progress.EditIntervalDuration(),
		Heartbeat:      cfg.Progress.HeartbeatDuration(),
		TypingInterval: cfg.Progress.TypingIntervalDuration(),
		ProcessingText: prompts.Processing,
		ElapsedText:    prompts.Elapsed,
	})
}

func provideDeliverer(log *slog.Logger, prompts config.Prompts, tg *telegram.Adapter) *delivery.Deliverer {
	return delivery.New(log, tg, prompts)
}

// provideSyncBridge returns nil when topic mirroring is disabled.
func provideSyncBridge(log *slog.Logger, cfg config.Config, client *backend.Client, tg *telegram.Adapter) *syncbridge.Bridge {
	if !cfg.Sync.Enabled {
		return nil
	}
	return syncbridge.New(log, client, tg, strconv.FormatInt(cfg.Sync.ChatID, 10), cfg.Sync.DefaultTitle)
}

type gatewayParams struct {
	fx.In
	Logger    *slog.Logger
	Config    config.Config
	Prompts   config.Prompts
	Auth      *auth.Registry
	Bootstrap *auth.Bootstrapper
	Sessions  *session.Registry
	Catalog   *session.Catalog
	Client    *backend.Client
	Pipeline  *media.Pipeline
	Executor  *executor.Executor
	Delivery  *delivery.Deliverer
	Telegram  *telegram.Adapter
	Bridge    *syncbridge.Bridge
}

func provideGateway(p gatewayParams) *gateway.Processor {
	deps := gateway.Deps{
		Auth:         p.Auth,
		Bootstrap:    p.Bootstrap,
		Sessions:     p.Sessions,
		Catalog:      p.Catalog,
		Lister:       p.Client,
		Media:        p.Pipeline,
		Executor:     p.Executor,
		Delivery:     p.Delivery,
		Transport:    p.Telegram,
		Prompts:      p.Prompts,
		AllowlistKey: p.Config.Auth.AllowlistKey,
		EditInterval: p.Config.Progress.EditIntervalDuration(),
	}
	if p.Bridge != nil {
		deps.Topics = p.Bridge
	}
	return gateway.New(p.Logger, deps)
}

func provideHealthHandler(log *slog.Logger, cfg config.Config, client *backend.Client, tg *telegram.Adapter, store *auth.Store, registry *auth.Registry) *handlers.HealthHandler {
	return handlers.NewHealthHandler(log,
		backendchecker.NewChecker(log, client, cfg.Backend.BaseURL),
		channelchecker.NewChecker(log, telegram.Type, tg),
		allowlistchecker.NewChecker(store, registry),
	)
}

// provideSyncHandler returns nil when the bridge is disabled.
func provideSyncHandler(log *slog.Logger, cfg config.Config, bridge *syncbridge.Bridge) *handlers.SyncHandler {
	if bridge == nil {
		return nil
	}
	return handlers.NewSyncHandler(log, bridge, cfg.Sync.Secret)
}

type serverParams struct {
	fx.In
	Logger         *slog.Logger
	Config         config.Config
	ServerHandlers []server.Handler `group:"server_handlers"`
	Sync           *handlers.SyncHandler
}

func provideServer(params serverParams) *server.Server {
	all := make([]server.Handler, 0, len(params.ServerHandlers)+1)
	all = append(all, params.ServerHandlers...)
	if params.Sync != nil {
		all = append(all, params.Sync)
	}
	return server.New(params.Logger, params.Config.Server.Addr, all...)
}

func startServer(lc fx.Lifecycle, log *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner) {
	log.Info("starting relay", slog.String("version", version.GetInfo()))
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.Start(); err != nil {
					log.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Stop(ctx); err != nil {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}

func startRetention(lc fx.Lifecycle, retention *media.Retention) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error { return retention.Start() },
		OnStop:  func(ctx context.Context) error { retention.Stop(ctx); return nil },
	})
}

func startAllowlistWatch(lc fx.Lifecycle, log *slog.Logger, cfg config.Config, store *auth.Store, registry *auth.Registry) {
	if !cfg.Auth.Watch {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error { return auth.WatchStore(ctx, log, store, registry) },
		OnStop:  func(context.Context) error { cancel(); return nil },
	})
}

func startEventBridge(lc fx.Lifecycle, log *slog.Logger, cfg config.Config, client *backend.Client, bridge *syncbridge.Bridge) {
	if bridge == nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	runner := backend.NewEventRunner(log, client, cfg.Backend.EventReconnectDuration(), func(evt backend.Event) {
		bridge.Dispatch(ctx, evt)
	})
	var wg sync.WaitGroup
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			wg.Add(1)
			go func() {
				defer wg.Done()
				runner.Run(ctx)
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			if err := waitGroup(stopCtx, &wg); err != nil {
				return err
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				bridge.Wait()
			}()
			return waitGroup(stopCtx, &wg)
		},
	})
}

func startTelegram(lc fx.Lifecycle, log *slog.Logger, tg *telegram.Adapter, processor *gateway.Processor, shutdowner fx.Shutdowner) {
	ctx, cancel := context.WithCancel(context.Background())
	dispatcher := channel.NewDispatcher(log, processor)
	var wg sync.WaitGroup
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := tg.Run(ctx, dispatcher); err != nil {
					log.Error("telegram polling stopped", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			return waitGroup(stopCtx, &wg)
		},
	})
}

func waitGroup(ctx context.Context, wg *sync.WaitGroup) error {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
