package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"

	"github.com/armature-dev/armature/engine"
	"github.com/armature-dev/armature/internal/config"
	"github.com/armature-dev/armature/internal/openapi"
	"github.com/armature-dev/armature/internal/watch"
	"github.com/armature-dev/armature/internal/web/auth"
	"github.com/armature-dev/armature/internal/web/cache"
	"github.com/armature-dev/armature/internal/web/feed"
	"github.com/armature-dev/armature/internal/web/middleware"
	"github.com/armature-dev/armature/internal/web/profiling"
	"github.com/armature-dev/armature/internal/web/ratelimit"
	"github.com/armature-dev/armature/internal/web/router"
	"github.com/armature-dev/armature/internal/web/server"
	"github.com/armature-dev/armature/loader"
	"github.com/armature-dev/armature/store"
	"github.com/armature-dev/armature/store/memory"
	"github.com/armature-dev/armature/store/sqldoc"
)

var (
	serveConfigFile string
	serveAddr       string
	serveWatch      bool
)

func init() {
	serveCmd.Flags().StringVar(&serveConfigFile, "config", "", "Path to armature.yml (default: armature.yml in the current directory)")
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address, overriding the configured one")
	serveCmd.Flags().BoolVar(&serveWatch, "watch", false, "Reload collection definitions when their files change")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the CRUD API",
	Long:  "Load the collection definitions and serve the API until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadServeConfig()
		if err != nil {
			return err
		}
		return runServe(cfg)
	},
}

func loadServeConfig() (*config.Config, error) {
	if serveConfigFile != "" {
		return config.LoadFile(serveConfigFile)
	}
	return config.Load("")
}

func runServe(cfg *config.Config) error {
	log, err := buildLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer log.Sync()

	st, err := openStore(cfg.Store)
	if err != nil {
		return err
	}
	log.Info("store ready", zap.String("driver", cfg.Store.Driver))

	responseCache, err := openCache(cfg.Cache)
	if err != nil {
		return err
	}

	var authService *auth.Service
	if cfg.Auth.Secret != "" {
		sessions, err := openSessionCache(cfg)
		if err != nil {
			return err
		}
		authService = auth.NewService(cfg.Auth.Secret, cfg.Auth.SessionTTL, sessions)
		log.Info("auth enabled", zap.String("users", cfg.Auth.Users.Collection))
	}

	limiter, err := openLimiter(cfg)
	if err != nil {
		return err
	}
	if limiter != nil {
		log.Info("rate limiting enabled", zap.Int("per_minute", cfg.Server.RateLimit))
	}

	var debugServer *profiling.Server
	if cfg.Server.DebugAddr != "" {
		debugServer = profiling.NewServer(&profiling.Config{Address: cfg.Server.DebugAddr}, log)
		go func() {
			if err := debugServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Warn("profiling server stopped", zap.Error(err))
			}
		}()
	}

	var hub *feed.Hub
	if cfg.Feed.Enabled {
		hub = feed.NewHub(log)
		go hub.Run()
	}

	var sinks engine.Sinks
	if hub != nil {
		sinks = append(sinks, hub)
	}
	if responseCache != nil {
		sinks = append(sinks, cache.NewInvalidator(responseCache, log))
	}

	buildHandler := func() (http.Handler, error) {
		registry, err := loader.Build(cfg.EntitiesDir)
		if err != nil {
			return nil, err
		}
		en := engine.New(registry, st, log, sinks)
		corsConfig := middleware.DefaultCORSConfig()
		if len(cfg.CORS.Origins) > 0 {
			corsConfig.AllowedOrigins = cfg.CORS.Origins
		}
		return router.New(router.Config{
			Engine:    en,
			Log:       log,
			Auth:      authService,
			Users:     usersConfig(cfg, st),
			Cache:     responseCache,
			CacheTTL:  cfg.Cache.TTL,
			Feed:      hub,
			CORS:      &corsConfig,
			RateLimit: limiter,
			Timeout:   cfg.Server.RequestTimeout,
			Docs:      &openapi.Info{Title: cfg.ProjectName},
		}), nil
	}

	handler, err := buildHandler()
	if err != nil {
		return fmt.Errorf("failed to load collection definitions: %w", err)
	}
	log.Info("definitions loaded", zap.String("dir", cfg.EntitiesDir))

	var watcher *watch.Watcher
	if serveWatch {
		swap := watch.NewSwapHandler(handler)
		watcher, err = watch.New(cfg.EntitiesDir, log, func(files []string) {
			fresh, err := buildHandler()
			if err != nil {
				// Keep serving the previous registry until the files parse.
				log.Warn("reload failed", zap.Strings("files", files), zap.Error(err))
				return
			}
			swap.Swap(fresh)
			log.Info("definitions reloaded", zap.Strings("files", files))
		})
		if err != nil {
			return err
		}
		if err := watcher.Start(); err != nil {
			return err
		}
		handler = swap
	}

	addr := cfg.Server.Addr()
	if serveAddr != "" {
		addr = serveAddr
	}

	serverConfig := server.DefaultConfig(handler)
	serverConfig.Address = addr
	if cfg.Server.ReadTimeout > 0 {
		serverConfig.ReadTimeout = cfg.Server.ReadTimeout
	}
	if cfg.Server.WriteTimeout > 0 {
		serverConfig.WriteTimeout = cfg.Server.WriteTimeout
	}

	srv, err := server.New(serverConfig)
	if err != nil {
		return err
	}

	gs := server.NewGracefulShutdown(srv, &server.ShutdownConfig{
		Timeout: cfg.Server.ShutdownTimeout,
		Log:     log,
	})
	if watcher != nil {
		gs.RegisterHook(func(ctx context.Context) error { return watcher.Stop() })
	}
	if hub != nil {
		gs.RegisterHook(func(ctx context.Context) error { hub.Shutdown(); return nil })
	}
	if responseCache != nil {
		gs.RegisterHook(func(ctx context.Context) error { return responseCache.Close() })
	}
	if limiter != nil {
		gs.RegisterHook(func(ctx context.Context) error { return limiter.Close() })
	}
	if debugServer != nil {
		gs.RegisterHook(func(ctx context.Context) error { return debugServer.Shutdown(ctx) })
	}
	gs.RegisterHook(func(ctx context.Context) error { return st.Close() })

	return gs.Start()
}

// buildLogger constructs the zap logger from the log section.
func buildLogger(cfg config.LogConfig) (*zap.Logger, error) {
	var zapConfig zap.Config
	if cfg.Format == "json" {
		zapConfig = zap.NewProductionConfig()
	} else {
		zapConfig = zap.NewDevelopmentConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	zapConfig.Level = zap.NewAtomicLevelAt(level)

	return zapConfig.Build()
}

// openStore opens the configured record store. sqlite gets the
// mattn/go-sqlite3 driver, postgres the pgx stdlib one.
func openStore(cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Driver {
	case "memory":
		return memory.New(), nil
	case "sqlite":
		return sqldoc.Open("sqlite3", cfg.URL)
	case "postgres":
		return sqldoc.Open("pgx", cfg.URL)
	default:
		return nil, fmt.Errorf("unknown store driver: %s", cfg.Driver)
	}
}

// openCache builds the response cache, or nil when caching is off.
func openCache(cfg config.CacheConfig) (cache.Cache, error) {
	switch cfg.Driver {
	case "none":
		return nil, nil
	case "memory":
		memConfig := cache.DefaultConfig()
		if cfg.TTL > 0 {
			memConfig.DefaultTTL = cfg.TTL
		}
		return cache.NewMemoryWithConfig(memConfig), nil
	case "redis":
		redisConfig := cache.DefaultRedisConfig()
		redisConfig.Addr = cfg.Redis.Addr
		redisConfig.Password = cfg.Redis.Password
		redisConfig.DB = cfg.Redis.DB
		if cfg.TTL > 0 {
			redisConfig.Config.DefaultTTL = cfg.TTL
		}
		return cache.NewRedis(redisConfig)
	default:
		return nil, fmt.Errorf("unknown cache driver: %s", cfg.Driver)
	}
}

// openLimiter builds the per-client rate limiter, or nil when
// disabled. It follows the cache driver: with redis the budget is
// shared across replicas.
func openLimiter(cfg *config.Config) (ratelimit.Limiter, error) {
	if cfg.Server.RateLimit <= 0 {
		return nil, nil
	}
	if cfg.Cache.Driver == "redis" {
		redisConfig := ratelimit.DefaultRedisConfig()
		redisConfig.Addr = cfg.Cache.Redis.Addr
		redisConfig.Password = cfg.Cache.Redis.Password
		redisConfig.DB = cfg.Cache.Redis.DB
		redisConfig.Limit = cfg.Server.RateLimit
		return ratelimit.NewRedis(redisConfig)
	}
	return ratelimit.NewMemoryWithConfig(ratelimit.MemoryConfig{
		Limit:           cfg.Server.RateLimit,
		Window:          time.Minute,
		CleanupInterval: 5 * time.Minute,
	}), nil
}

// openSessionCache builds the session store backing issued tokens. It
// follows the cache driver so sessions survive restarts when redis is
// configured, but never shares an instance with the response cache.
func openSessionCache(cfg *config.Config) (cache.Cache, error) {
	if cfg.Cache.Driver == "redis" {
		redisConfig := cache.DefaultRedisConfig()
		redisConfig.Addr = cfg.Cache.Redis.Addr
		redisConfig.Password = cfg.Cache.Redis.Password
		redisConfig.DB = cfg.Cache.Redis.DB
		redisConfig.Config.Prefix = "armature:auth:"
		redisConfig.Config.DefaultTTL = cfg.Auth.SessionTTL
		return cache.NewRedis(redisConfig)
	}
	memConfig := cache.DefaultConfig()
	memConfig.DefaultTTL = cfg.Auth.SessionTTL
	return cache.NewMemoryWithConfig(memConfig), nil
}

func usersConfig(cfg *config.Config, st store.Store) router.UsersConfig {
	return router.UsersConfig{
		Store:       st,
		Collection:  cfg.Auth.Users.Collection,
		LoginField:  cfg.Auth.Users.LoginField,
		SecretField: cfg.Auth.Users.SecretField,
		NameField:   cfg.Auth.Users.NameField,
		RoleField:   cfg.Auth.Users.RoleField,
	}
}
