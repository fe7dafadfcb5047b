// Command omsd is the OMS core's background daemon: it applies pending
// schema migrations, then runs the outbox publisher and the incremental
// DAG compactor on their cron schedules and serves a health endpoint.
// Mutations are not exposed over HTTP here — embedding callers use
// pkg/coordinator as a library, and operators use cmd/omsctl.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/ludia8888/oms-core/pkg/branch"
	"github.com/ludia8888/oms-core/pkg/config"
	"github.com/ludia8888/oms-core/pkg/kernel"
	"github.com/ludia8888/oms-core/pkg/lock"
	"github.com/ludia8888/oms-core/pkg/merge"
	"github.com/ludia8888/oms-core/pkg/migrate"
	"github.com/ludia8888/oms-core/pkg/observability"
	"github.com/ludia8888/oms-core/pkg/outbox"
	"github.com/ludia8888/oms-core/pkg/validate"
	"github.com/ludia8888/oms-core/pkg/version"
)

// resourceTypeCatalog is the fixed set of resource types the compactor
// sweeps on main, per the data model's resource-type list (§5).
var resourceTypeCatalog = []string{
	"object_type", "link_type", "property", "action_type",
	"struct_type", "semantic_type", "branch", "proposal",
}

func main() {
	if err := run(); err != nil {
		slog.Error("omsd: fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()
	logger := slog.Default()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	obs, err := observability.New(ctx, &observability.Config{
		ServiceName:  "oms-core",
		Environment:  cfg.Environment,
		OTLPEndpoint: cfg.OTLPEndpoint,
		Enabled:      cfg.OTLPEndpoint != "",
	})
	if err != nil {
		return fmt.Errorf("init observability: %w", err)
	}
	defer func() { _ = obs.Shutdown(context.Background()) }()

	db, err := sql.Open("postgres", cfg.DocStoreDSN)
	if err != nil {
		return fmt.Errorf("open document store: %w", err)
	}
	defer func() { _ = db.Close() }()
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping document store: %w", err)
	}
	if err := migrate.Up(db, migrate.DriverPostgres); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	logger.Info("omsd: document store ready")

	redisOpts, err := redis.ParseURL(cfg.LockRedisURL)
	if err != nil {
		return fmt.Errorf("parse lock store url: %w", err)
	}
	rdb := redis.NewClient(redisOpts)
	defer func() { _ = rdb.Close() }()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping lock store: %w", err)
	}
	retryLimiter := kernel.NewRedisLimiterStore(redisOpts.Addr, redisOpts.Password, redisOpts.DB)
	locks := lock.NewManager(rdb,
		lock.WithDefaultTTL(cfg.DefaultLockTTL),
		lock.WithRetryLimiter(retryLimiter, kernel.BackpressurePolicy{RPM: cfg.LockRetryRPM, Burst: cfg.LockRetryBurst}),
	)
	logger.Info("omsd: lock store ready")

	versionStore := version.NewPostgresStore(db)
	_ = version.NewService(versionStore, 30*time.Second)

	branchStore := branch.NewPostgresStore(db)
	registry := branch.NewRegistry(branchStore, versionStore, resourceTypeCatalog)
	if _, err := registry.Get(ctx, branch.Main); err != nil {
		if _, err := registry.Create(ctx, branch.Main, "", "omsd"); err != nil {
			return fmt.Errorf("bootstrap main branch: %w", err)
		}
		logger.Info("omsd: bootstrapped main branch")
	}

	rules, err := validate.LoadRuleSets(rulesDir())
	if err != nil {
		return fmt.Errorf("load rule sets: %w", err)
	}
	_ = rules // loaded for cmd/omsctl and embedding callers constructing their own coordinator

	source := outbox.Source{Service: "oms-core", Branch: branch.Main}

	bus, conn, err := outbox.NewNatsBus(cfg.EventBusURL)
	if err != nil {
		return fmt.Errorf("connect event bus: %w", err)
	}
	defer conn.Close()

	outboxStore := outbox.NewPostgresStore(db)
	publisher := outbox.NewPublisher(outboxStore, bus, source, cfg.OutboxMaxAttempts, logger)
	if err := publisher.Start("@every 10s"); err != nil {
		return fmt.Errorf("start outbox publisher: %w", err)
	}
	defer publisher.Stop()
	logger.Info("omsd: outbox publisher running")

	compactor := merge.NewCompactor(cfg.CompactionMinChain)
	compactionStore := merge.NewPostgresCompactionStore(db)
	scheduler := merge.NewIncrementalCompactor(compactor, versionHeadsLoader(versionStore), compactionStore.StoreCompactionFunc(), logger)
	for _, rt := range resourceTypeCatalog {
		scheduler.Watch(branch.Main, rt)
	}
	if err := scheduler.Start("0 * * * *"); err != nil {
		return fmt.Errorf("start compaction scheduler: %w", err)
	}
	defer scheduler.Stop()
	logger.Info("omsd: compaction scheduler running")

	srv := &http.Server{Addr: ":8090", Handler: healthMux(db, rdb)}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("omsd: health server failed", "error", err)
		}
	}()
	logger.Info("omsd: health endpoint listening", "addr", srv.Addr)

	<-ctx.Done()
	logger.Info("omsd: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func rulesDir() string {
	if d := os.Getenv("OMS_RULES_DIR"); d != "" {
		return d
	}
	return "config/rules"
}

// versionHeadsLoader adapts version.Store into merge.LoadDAG: it
// enumerates every resource's head under (branch, resourceType) then
// pulls each resource's full version chain, flattened to the
// parent-linkage and schema-hash fields the compactor needs. A
// resource's chain never branches internally (TrackChange only ever
// appends the next version), so ChildCount is left for Compactor.Plan
// to derive from ParentID linkage across the whole batch.
func versionHeadsLoader(store version.Store) merge.LoadDAG {
	return func(ctx context.Context, branchName, resourceType string) ([]merge.CommitNode, error) {
		heads, err := store.Heads(ctx, branchName, resourceType)
		if err != nil {
			return nil, err
		}
		var nodes []merge.CommitNode
		for resourceID := range heads {
			ref := version.Ref{ResourceType: resourceType, ResourceID: resourceID, Branch: branchName}
			records, err := store.List(ctx, ref, 0, 0)
			if err != nil {
				return nil, err
			}
			for _, rec := range records {
				nodes = append(nodes, merge.CommitNode{
					CommitID:     rec.CommitHash,
					ParentID:     rec.ParentCommitHash,
					ResourceType: resourceType,
					ResourceID:   resourceID,
					SchemaHash:   rec.ContentHash,
				})
			}
		}
		return nodes, nil
	}
}

func healthMux(db *sql.DB, rdb *redis.Client) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			http.Error(w, "document store unavailable", http.StatusServiceUnavailable)
			return
		}
		if err := rdb.Ping(ctx).Err(); err != nil {
			http.Error(w, "lock store unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}
