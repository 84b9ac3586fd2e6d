// Command server runs the taskforge HTTP surface of spec §6: it wires a
// config.Config, a capability.Registry of whichever LLM/search backends
// the environment has credentials for, a cache (Mongo or Redis when
// configured, the disk store when cache.dir is set, otherwise
// in-memory), and an api.Engine behind an api.Server, the same
// env-var-driven wiring style as the teacher's registry/cmd/registry.
//
// # Configuration
//
// Environment variables:
//
//	TASKFORGE_ADDR          - HTTP listen address (default: ":8080")
//	TASKFORGE_CONFIG        - path to a YAML config.Config file (optional)
//	TASKFORGE_SNAPSHOT_DIR  - per-run snapshot root (optional, disables if empty)
//	ANTHROPIC_API_KEY       - registers the "llm.anthropic" capability
//	OPENAI_API_KEY          - registers the "llm.openai" capability
//	AWS_REGION              - registers the "llm.bedrock" capability
//	REDIS_ADDR              - backs the cache and the replicated registry with Redis
//	MONGO_URI               - alternative cache backend, checked before REDIS_ADDR
//	MONGO_DATABASE          - database name for the Mongo cache collection
//	                          (default: mongo.database from the config, else "taskforge")
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"golang.org/x/time/rate"

	"github.com/kestrelflow/taskforge/api"
	"github.com/kestrelflow/taskforge/cache"
	"github.com/kestrelflow/taskforge/capability"
	"github.com/kestrelflow/taskforge/config"
	"github.com/kestrelflow/taskforge/registry"
	"github.com/kestrelflow/taskforge/scheduler"
	"github.com/kestrelflow/taskforge/telemetry"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	ctx := context.Background()
	logger := telemetry.NewSlogLogger(nil)

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	reg := capability.NewRegistry()
	registerLLMBackends(ctx, reg, logger)

	caches, err := buildCaches(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build caches: %w", err)
	}

	if redisAddr := os.Getenv("REDIS_ADDR"); redisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
		defer rdb.Close()
		clusterReg, err := registry.New(ctx, registry.Config{Redis: rdb, Logger: logger})
		if err != nil {
			return fmt.Errorf("join replicated registry: %w", err)
		}
		if err := clusterReg.Announce(ctx, hostname(), reg.Names()); err != nil {
			return fmt.Errorf("announce capabilities: %w", err)
		}
		defer clusterReg.Withdraw(context.Background(), hostname())
	}

	engine := api.NewEngine(reg)
	engine.Caches = caches
	engine.Logger = logger
	engine.SnapshotDir = os.Getenv("TASKFORGE_SNAPSHOT_DIR")
	engine.RateLimits = map[string]*rate.Limiter{
		"llm.anthropic": rate.NewLimiter(rate.Limit(2), 4),
		"llm.openai":    rate.NewLimiter(rate.Limit(2), 4),
		"llm.bedrock":   rate.NewLimiter(rate.Limit(2), 4),
	}

	server := api.NewServer(engine)
	addr := envOr("TASKFORGE_ADDR", ":8080")
	logger.Info(ctx, "server: listening", "addr", addr, "capabilities", reg.Names(), "mode", string(cfg.Mode))

	httpSrv := &http.Server{Addr: addr, Handler: server, ReadHeaderTimeout: 10 * time.Second}
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen: %w", err)
	}
	return nil
}

// loadConfig reads TASKFORGE_CONFIG if set, otherwise falls back to
// config.Default(), the same base config api.Server starts from for each
// generate request.
func loadConfig() (config.Config, error) {
	path := os.Getenv("TASKFORGE_CONFIG")
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

// registerLLMBackends registers whichever of the three interchangeable LLM
// capabilities (spec SPEC_FULL.md §11 "Multi-provider capability
// registry") the environment has credentials for. None is required: a
// registry with zero capabilities still serves status/history/graph
// endpoints for runs started against some other process's capabilities
// via the replicated registry.
func registerLLMBackends(ctx context.Context, reg *capability.Registry, logger telemetry.Logger) {
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		backend, err := capability.NewAnthropicBackendFromAPIKey(key)
		if err != nil {
			logger.Warn(ctx, "server: skipping anthropic backend", "error", err)
		} else {
			reg.Register(capability.NewLLMCapability("llm.anthropic", backend, nil))
		}
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		backend, err := capability.NewOpenAIBackendFromAPIKey(key)
		if err != nil {
			logger.Warn(ctx, "server: skipping openai backend", "error", err)
		} else {
			reg.Register(capability.NewLLMCapability("llm.openai", backend, nil))
		}
	}
	if region := os.Getenv("AWS_REGION"); region != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
		if err != nil {
			logger.Warn(ctx, "server: skipping bedrock backend", "error", err)
		} else {
			backend := capability.NewBedrockBackend(bedrockruntime.NewFromConfig(awsCfg))
			reg.Register(capability.NewLLMCapability("llm.bedrock", backend, nil))
		}
	}
}

// buildCaches constructs spec §4.2's two namespaced caches, backed by
// Mongo or Redis when configured, otherwise the disk store, otherwise
// in-memory-only (cfg.Cache.Dir empty and no REDIS_ADDR/MONGO_URI set).
func buildCaches(ctx context.Context, cfg config.Config) (scheduler.Caches, error) {
	store, err := buildStore(ctx, cfg)
	if err != nil {
		return scheduler.Caches{}, err
	}
	return scheduler.Caches{
		LLM:    cache.New("llm", store),
		Search: cache.New("search", store),
	}, nil
}

func buildStore(ctx context.Context, cfg config.Config) (cache.Store, error) {
	if uri := os.Getenv("MONGO_URI"); uri != "" {
		client, err := mongo.Connect(options.Client().ApplyURI(uri)) // v2 driver: ctx moves to per-call options, not Connect
		if err != nil {
			return nil, fmt.Errorf("connect mongo: %w", err)
		}
		if err := client.Ping(ctx, nil); err != nil {
			return nil, fmt.Errorf("ping mongo: %w", err)
		}
		db := envOr("MONGO_DATABASE", cfg.Mongo.Database)
		if db == "" {
			db = "taskforge"
		}
		coll := envOr("MONGO_COLLECTION", cfg.Mongo.Collection)
		if coll == "" {
			coll = "cache_entries"
		}
		return cache.NewMongoStore(client.Database(db).Collection(coll)), nil
	}
	if addr := envOr("REDIS_ADDR", cfg.Redis.Addr); addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: addr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		return cache.NewRedisStore(rdb), nil
	}
	if cfg.Cache.Dir != "" {
		return cache.NewDiskStore(cfg.Cache.Dir), nil
	}
	return nil, nil
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "taskforge-node"
	}
	return h
}

func envOr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
