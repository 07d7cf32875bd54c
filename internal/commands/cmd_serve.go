package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"akademik/api/internal/app"
	"akademik/api/internal/flight"
	"akademik/api/internal/gitrepo"
	"akademik/api/internal/llm"
	"akademik/api/internal/notify"
	"akademik/api/internal/redisutil"
	"akademik/api/internal/search"
	"akademik/api/internal/store"
	"akademik/api/internal/templates"
)

// ServeCmd runs the HTTP API.
type ServeCmd struct {
	flags *Flags

	skipMigrations bool
	skipReindex    bool
}

func NewServeCmd(flags *Flags) *ServeCmd {
	return &ServeCmd{flags: flags}
}

// Register adds the serve command to the application.
func (cmd *ServeCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:  "serve",
		Usage: "Run the API server",
		Description: `Starts the HTTP API. Pending migrations are applied first and the
search index is rebuilt from PostgreSQL in the background.

Redis and Meilisearch are optional: without REDIS_URL notifications and
generation leases stay in process, without MEILI_URL search uses
PostgreSQL full text search.`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:        "skip-migrations",
				Usage:       "do not apply migrations on startup",
				Destination: &cmd.skipMigrations,
			},
			&cli.BoolFlag{
				Name:        "skip-reindex",
				Usage:       "do not rebuild the search index on startup",
				Destination: &cmd.skipReindex,
			},
		},
		Action: cmd.run,
	})
	return app
}

func (cmd *ServeCmd) run(ctx context.Context, c *cli.Command) error {
	cfg := cmd.flags.Config
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	if !cmd.skipMigrations {
		if _, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
			return fmt.Errorf("migrations failed: %w", err)
		}
	}

	if err := os.MkdirAll(cfg.ReposDir, 0o755); err != nil {
		return fmt.Errorf("create repos dir: %w", err)
	}

	tpls, err := templates.Load()
	if err != nil {
		return err
	}

	checks := map[string]app.Check{}
	deps := app.Deps{
		Store:     store.NewPostgresStore(db),
		Git:       gitrepo.New(cfg.ReposDir),
		Templates: tpls,
		Checks:    checks,
	}

	if strings.TrimSpace(cfg.GeminiAPIKey) != "" {
		deps.AI = llm.NewClient(llm.Config{
			APIKey:  cfg.GeminiAPIKey,
			BaseURL: cfg.GeminiBaseURL,
			Model:   cfg.GeminiModel,
		})
	} else {
		log.Warn().Msg("GOOGLE_API_KEY is not set; AI endpoints answer 503")
	}

	var redisClient *redis.Client
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisClient, err = redisutil.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer redisClient.Close()

		notifications := notify.NewRedisStore(redisClient)
		deps.Bus = notify.NewBus(notifications, cfg.NotificationTTL)
		deps.Guard = flight.NewRedisGuard(redisClient)
		checks["redis"] = notifications.Ping
		log.Info().Msg("using redis for notifications and generation leases")
	}

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
	}
	searchService := search.NewService(meiliClient, search.NewPgFTS(db))
	defer searchService.Close()
	deps.Search = searchService
	if meiliClient != nil {
		checks["search"] = func(context.Context) error {
			if !meiliClient.Healthy() {
				return errors.New("meilisearch unavailable")
			}
			return nil
		}
	}

	service := app.New(cfg, deps)

	if !cmd.skipReindex && meiliClient != nil {
		go searchService.ReindexAllFromPG(ctx)
	}
	go service.RunJanitor(ctx)

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Generation requests may take up to the generation timeout.
		WriteTimeout: cfg.GenerationTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr).Str("environment", cfg.Environment).Msg("akademik API listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
	return nil
}
