package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"

	"github.com/PumpeDie/teamup/internal/app/migrate"
	"github.com/PumpeDie/teamup/internal/blob"
	"github.com/PumpeDie/teamup/internal/blob/s3"
	"github.com/PumpeDie/teamup/internal/directory"
	httpx "github.com/PumpeDie/teamup/internal/http"
	"github.com/PumpeDie/teamup/internal/remote"
	"github.com/PumpeDie/teamup/internal/remote/memory"
	"github.com/PumpeDie/teamup/internal/remote/postgres"
	"github.com/PumpeDie/teamup/internal/service/agenda"
	authsvc "github.com/PumpeDie/teamup/internal/service/auth"
	"github.com/PumpeDie/teamup/internal/service/chat"
	"github.com/PumpeDie/teamup/internal/service/document"
	"github.com/PumpeDie/teamup/internal/service/task"
	"github.com/PumpeDie/teamup/internal/service/team"
	"github.com/PumpeDie/teamup/internal/stream"
	"github.com/PumpeDie/teamup/pkg/config"
	"github.com/PumpeDie/teamup/pkg/logger"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
		os.Exit(1)
	}
	cfg := config.LoadTeamupConfig()

	args := os.Args[1:]
	cmd := "serve"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd, args = args[0], args[1:]
	}
	var err error
	switch cmd {
	case "serve":
		err = serve(cfg, args)
	case "token":
		err = issueToken(cfg, args)
	default:
		err = fmt.Errorf("unknown command %q (want serve or token)", cmd)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// issueToken mints a bearer token for development and scripting.
func issueToken(cfg config.TeamupConfig, args []string) error {
	fs := pflag.NewFlagSet("token", pflag.ExitOnError)
	userID := fs.String("user", "", "user id to put in the token")
	teamID := fs.String("team", "", "optional team id claim")
	ttl := fs.Duration("ttl", cfg.AccessTokenTTL, "token lifetime")
	_ = fs.Parse(args)

	svc := authsvc.New(cfg.JWTSecret, *ttl, nil, logger.New("teamup", slog.LevelWarn))
	tok, err := svc.Issue(*userID, *teamID)
	if err != nil {
		return err
	}
	fmt.Println(tok.AccessToken)
	return nil
}

func serve(cfg config.TeamupConfig, args []string) error {
	fs := pflag.NewFlagSet("serve", pflag.ExitOnError)
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "listen address")
	fs.StringVar(&cfg.StoreDriver, "store", cfg.StoreDriver, "remote store driver (memory|postgres)")
	fs.StringVar(&cfg.BlobDriver, "blobs", cfg.BlobDriver, "blob store driver (memory|s3)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug|info|warn|error)")
	_ = fs.Parse(args)

	log := logger.New("teamup", logger.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, health, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	streamMetrics := stream.NewMetrics(reg)

	base := directory.New(store)
	var (
		names    directory.Directory = base
		profiles directory.Updater   = base
		limiter  httpx.RateLimiter
	)
	if addr := strings.TrimSpace(cfg.RedisAddr); addr != "" {
		client, err := directory.NewRedisClient(addr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			log.Warn("redis unavailable, using in-process fallbacks", "error", err)
		} else {
			defer client.Close()
			cached := directory.NewCached(base, client, cfg.DirectoryCacheTTL, log)
			names, profiles = cached, cached
			limiter = httpx.NewRedisRateLimiter(client, log)
		}
	}

	blobs, blobHandler, err := openBlobs(ctx, cfg)
	if err != nil {
		return err
	}

	teams := team.New(store, names, log).WithStreamMetrics(streamMetrics)
	router := httpx.NewRouter(log, httpx.Services{
		Auth:      authsvc.New(cfg.JWTSecret, cfg.AccessTokenTTL, nil, log),
		Teams:     teams,
		Chat:      chat.New(store, teams, names, nil, log).WithStreamMetrics(streamMetrics),
		Tasks:     task.New(store, teams, names, nil, log).WithStreamMetrics(streamMetrics),
		Agenda:    agenda.New(store, teams, names, nil, log).WithStreamMetrics(streamMetrics),
		Documents: document.New(store, blobs, teams, nil, log, cfg.MaxUploadBytes).WithStreamMetrics(streamMetrics),
		Profiles:  profiles,
	}, limiter, httpx.Options{
		Health:    health,
		Registry:  reg,
		Heartbeat: cfg.WatchHeartbeat,
	})
	defer router.Close()

	var handler http.Handler = router
	if blobHandler != nil {
		mux := http.NewServeMux()
		mux.Handle("/", router)
		prefix := blobPathPrefix(cfg.BlobBaseURL)
		mux.Handle("GET "+prefix+"/", blobHandler(prefix))
		handler = mux
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("teamup server starting", "addr", cfg.Addr, "store", cfg.StoreDriver, "blobs", cfg.BlobDriver)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("teamup server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
	}
	return nil
}

func openStore(ctx context.Context, cfg config.TeamupConfig, log *slog.Logger) (remote.Store, func(context.Context) error, func(), error) {
	switch cfg.StoreDriver {
	case config.DriverMemory:
		log.Warn("using the in-memory store; data is lost on restart")
		mem := memory.New()
		return mem, nil, mem.Close, nil
	case config.DriverPostgres:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("connect to database: %w", err)
		}
		runner, err := migrate.New(pool, cfg.DatabaseURL, cfg.MigrationsDir, log)
		if err != nil {
			pool.Close()
			return nil, nil, nil, fmt.Errorf("configure migrations: %w", err)
		}
		// runner.Close would close the pool the store keeps using.
		if err := runner.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, nil, fmt.Errorf("database ping: %w", err)
		}
		if err := runner.Ensure(ctx); err != nil {
			pool.Close()
			return nil, nil, nil, err
		}
		pg, err := postgres.New(ctx, pool, cfg.NotifyChannel, log)
		if err != nil {
			pool.Close()
			return nil, nil, nil, fmt.Errorf("open store: %w", err)
		}
		closeFn := func() {
			if err := pg.Close(); err != nil {
				log.Warn("closing store failed", "error", err)
			}
			pool.Close()
		}
		return pg, pool.Ping, closeFn, nil
	}
	return nil, nil, nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
}

// openBlobs returns the blob store and, for the in-memory driver, a handler
// factory that serves its public URLs.
func openBlobs(ctx context.Context, cfg config.TeamupConfig) (blob.Store, func(prefix string) http.Handler, error) {
	switch cfg.BlobDriver {
	case config.DriverMemory:
		mem := blob.NewMemory(cfg.BlobBaseURL)
		return mem, mem.Handler, nil
	case config.DriverS3:
		store, err := s3.New(ctx, s3.Config{
			Bucket:        cfg.S3Bucket,
			Region:        cfg.S3Region,
			Endpoint:      cfg.S3Endpoint,
			AccessKey:     cfg.S3AccessKey,
			SecretKey:     cfg.S3SecretKey,
			PublicBaseURL: cfg.S3PublicBaseURL,
			PathStyle:     cfg.S3PathStyle,
		})
		if err != nil {
			return nil, nil, err
		}
		return store, nil, nil
	}
	return nil, nil, fmt.Errorf("unknown blob driver %q", cfg.BlobDriver)
}

func blobPathPrefix(baseURL string) string {
	u, err := url.Parse(baseURL)
	if err != nil || strings.Trim(u.Path, "/") == "" {
		return "/blobs"
	}
	return "/" + strings.Trim(u.Path, "/")
}
