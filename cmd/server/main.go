// Package main provides the server entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"connectrpc.com/connect"
	"github.com/alecthomas/kingpin/v2"
	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	apiconnect "github.com/osa030/retune/internal/api/connect"
	"github.com/osa030/retune/internal/app/engine"
	"github.com/osa030/retune/internal/app/notification"
	"github.com/osa030/retune/internal/app/playback"
	"github.com/osa030/retune/internal/infra/config"
	"github.com/osa030/retune/internal/infra/lastfm"
	"github.com/osa030/retune/internal/infra/logger"
	"github.com/osa030/retune/internal/infra/metrics"
	"github.com/osa030/retune/internal/infra/spotify"
)

var (
	app        = kingpin.New("retune-server", "retune audio player daemon")
	configPath = app.Flag("config", "Path to config file").Default("config/server.yaml").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (default: stdout)").String()
	jsonLogs   = app.Flag("json-logs", "Write JSON logs to stdout/stderr").Bool()
	engineType = app.Flag("engine", "Override the configured engine type (beep, sim)").Enum("beep", "sim")

	// check-config command
	checkConfigCmd = app.Command("check-config", "Validate the config file and exit")
)

func init() {
	// start command (default) - no need to store the command
	app.Command("start", "Start the server (default)").Default()
}

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	loggerConfig := logger.Config{
		Output: "stdout",
		Level:  "info",
		JSON:   *jsonLogs,
	}
	if *verbose {
		loggerConfig.Level = "debug"
	}
	if *logfile != "" {
		loggerConfig.Output = *logfile
	}
	if err := logger.Init(loggerConfig); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}

	zlog.Info().Msgf("Loading config from %s", *configPath)
	cfg, err := config.Load(*configPath)
	if err != nil {
		zlog.Fatal().Msgf("Failed to load config: %v", err)
	}
	if *engineType != "" {
		cfg.Engine.Type = *engineType
	}

	if command == checkConfigCmd.FullCommand() {
		if _, err := engine.NewFactoryFromConfig(cfg); err != nil {
			zlog.Fatal().Msgf("Invalid engine config: %v", err)
		}
		fmt.Println("config OK")
		return
	}

	// Run server (defer ensures shutdown hook is called)
	if err := run(cfg); err != nil {
		zlog.Error().Msgf("Server error: %v", err)
		os.Exit(1)
	}
}

// run executes the main server logic. Using a separate function ensures
// defer statements are executed even when returning with an error.
func run(cfg *config.Config) error {
	ctx := context.Background()

	factory, err := engine.NewFactoryFromConfig(cfg)
	if err != nil {
		return err
	}

	var tracks apiconnect.TrackResolver
	if cfg.SpotifyEnabled() {
		spotifyClient, err := spotify.New(ctx, spotify.Config{
			ClientID:     cfg.Spotify.ClientID,
			ClientSecret: cfg.Spotify.ClientSecret,
			RefreshToken: cfg.Spotify.RefreshToken,
			Market:       cfg.Spotify.Market,
		})
		if err != nil {
			return errors.Wrap(err, "failed to create Spotify client")
		}
		tracks = spotifyClient
		zlog.Info().Msg("Spotify track resolution enabled")
	}

	m := metrics.New()

	controller, err := playback.NewController(factory, playback.Config{
		AutoPlay:               cfg.Playback.AutoPlay,
		WatchdogInterval:       cfg.WatchdogInterval(),
		ProgressUpdateInterval: cfg.ProgressUpdateInterval(),
		Metrics:                m,
	})
	if err != nil {
		return errors.Wrap(err, "failed to create playback controller")
	}

	notifications := notification.NewManager()
	publisher := notification.NewPublisher(notifications)
	if cfg.LastFM.APIKey != "" {
		lastfmClient, err := lastfm.New(lastfm.Config{APIKey: cfg.LastFM.APIKey, TagLimit: cfg.LastFM.TagLimit})
		if err != nil {
			return errors.Wrap(err, "failed to create Last.fm client")
		}
		publisher.EnrichWith(lastfmClient)
		zlog.Info().Msg("Last.fm metadata tagging enabled")
	}
	publisher.Attach(controller)

	resolver := apiconnect.NewResolver(tracks, apiconnect.WithStreamHeaders(cfg.Playback.StreamHeaders))
	playerService := apiconnect.NewPlayerService(controller, notifications, resolver)
	playerPath, playerHandler := apiconnect.NewPlayerServiceHandler(
		playerService,
		connect.WithInterceptors(apiconnect.NewControlAuthInterceptor(cfg.API.Token)),
	)
	if cfg.API.Token == "" {
		zlog.Warn().Msg("api.token is not set, control calls are unauthenticated")
	}

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Use(metrics.RequestMiddleware(m))
	router.Handle(playerPath+"*", playerHandler)
	router.Handle(cfg.Server.MetricsPath, m.Handler(func() {
		m.SetSubscribers(notifications.SubscriberCount())
	}))
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	serverAddr := cfg.Server.Addr
	// Create server with h2c (HTTP/2 cleartext) support
	server := &http.Server{
		Addr:              serverAddr,
		Handler:           h2c.NewHandler(router, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrCh := make(chan error, 1)
	serverStartedCh := make(chan struct{})

	go func() {
		zlog.Info().Msgf("Starting server: addr=%s", serverAddr)
		close(serverStartedCh)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- err
		}
	}()

	<-serverStartedCh
	// Give the server a moment to fully initialize
	time.Sleep(100 * time.Millisecond)

	executeHooks(cfg.Server.Hooks.OnStarted, "on_started")

	if cfg.Playback.InitialResource != "" {
		go loadInitialResource(ctx, controller, resolver, cfg.Playback.InitialResource)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case <-sigCh:
		zlog.Info().Msg("Received shutdown signal...")
	case err := <-serverErrCh:
		runErr = errors.Wrap(err, "server error")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Close the controller first so that the last notifications reach subscribers,
	// then end the streams so Shutdown does not wait on them
	controller.Close()
	publisher.Wait()
	notifications.Close()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zlog.Error().Msgf("Failed to shutdown server: %v", err)
	}

	zlog.Info().Msg("Server stopped")

	executeHooks(cfg.Server.Hooks.OnStopped, "on_stopped")

	return runErr
}

// loadInitialResource points the player at the configured startup resource.
func loadInitialResource(ctx context.Context, controller *playback.Controller, resolver *apiconnect.Resolver, ref string) {
	res, err := resolver.Resolve(ctx, ref)
	if err != nil {
		zlog.Error().Msgf("Failed to resolve initial resource %q: %v", ref, err)
		return
	}
	if err := <-controller.SetDesiredResource(res); err != nil {
		zlog.Error().Msgf("Failed to load initial resource %s: %v", res, err)
		return
	}
	zlog.Info().Msgf("Initial resource loaded: %s", res)
}

// executeHooks runs a list of shell commands.
func executeHooks(hooks []string, stage string) {
	if len(hooks) == 0 {
		return
	}

	zlog.Info().Msgf("Executing %s hooks (%d commands)", stage, len(hooks))

	for _, hook := range hooks {
		zlog.Info().Msgf("Executing hook: %s", hook)
		// Use sh -c to allow shell features like redirection or pipes
		cmd := exec.Command("sh", "-c", hook)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr

		if err := cmd.Run(); err != nil {
			zlog.Error().Err(err).Msgf("Failed to execute hook: %s", hook)
		}
	}
}
