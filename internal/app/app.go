// Package app wires every component together and runs the HTTP server: the
// single entry point cmd/challengectl calls after parsing configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/ckoval7/challengectl/internal/agents"
	"github.com/ckoval7/challengectl/internal/assignment"
	"github.com/ckoval7/challengectl/internal/auth"
	"github.com/ckoval7/challengectl/internal/config"
	"github.com/ckoval7/challengectl/internal/crypto"
	"github.com/ckoval7/challengectl/internal/enrollment"
	"github.com/ckoval7/challengectl/internal/eventbus"
	"github.com/ckoval7/challengectl/internal/httpapi"
	"github.com/ckoval7/challengectl/internal/httpserver"
	"github.com/ckoval7/challengectl/internal/platform"
	"github.com/ckoval7/challengectl/internal/scheduler"
	"github.com/ckoval7/challengectl/internal/store"
	"github.com/ckoval7/challengectl/internal/telemetry"
	"github.com/ckoval7/challengectl/internal/version"

	"github.com/prometheus/client_golang/prometheus"
)

// reapInterval governs the fast loop: stale assignments and agent
// liveness, both cheap checks that should run often.
const reapInterval = 30 * time.Second

// cleanupInterval governs the slow loop: expired sessions, pending setups,
// enrollment tokens, TOTP replay rows, and abandoned temporary users.
const cleanupInterval = 60 * time.Second

// temporaryUserDeadline is how long a create_users-minted temporary account
// may sit unclaimed before CleanupExpiredTemporaryUsers disables it.
const temporaryUserDeadline = 24 * time.Hour

// Run reads configuration, connects to infrastructure, reconciles state left
// over from a previous process, and serves HTTP until ctx is canceled.
func Run(ctx context.Context, cfg *config.Config) error {
	logWriter, closeLog, err := telemetry.OpenLogWriter(cfg.LogFile)
	if err != nil {
		return fmt.Errorf("opening log writer: %w", err)
	}
	defer closeLog()

	logger := telemetry.NewLogger(cfg.Env, cfg.LogLevel, logWriter)
	slog.SetDefault(logger)

	logger.Info("starting challengectl", "version", version.Version, "commit", version.Commit, "listen", cfg.ListenAddr())

	db, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	rdb, err := platform.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error("closing redis", "error", err)
		}
	}()

	if err := platform.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("migrations applied")

	vaultKey, err := crypto.LoadOrGenerateKey(cfg.KeyDir)
	if err != nil {
		return fmt.Errorf("loading vault key: %w", err)
	}
	vault, err := crypto.New(vaultKey)
	if err != nil {
		return fmt.Errorf("building vault: %w", err)
	}

	st := store.New(db, logger)

	bootstrapPassword, err := st.Bootstrap(ctx, vault.HashPassword)
	if err != nil {
		return fmt.Errorf("bootstrapping initial admin: %w", err)
	}
	if bootstrapPassword != "" {
		logger.Warn("initial setup required: create the first real admin via POST /api/users", "bootstrap_admin_password", bootstrapPassword)
	}

	domain, err := config.LoadDomain(cfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("loading domain config %s: %w", cfg.ConfigPath, err)
	}
	for _, seed := range domain.Challenges {
		existing, lookupErr := st.ListChallenges(ctx)
		if lookupErr != nil {
			return fmt.Errorf("listing challenges for seeding: %w", lookupErr)
		}
		if challengeSeeded(existing, seed.Name) {
			continue
		}
		if err := st.AddChallenge(ctx, store.Challenge{
			ChallengeID: seedChallengeID(seed.Name),
			Name:        seed.Name,
			Config:      seed.Config,
			Enabled:     seed.Enabled,
			Priority:    seed.Priority,
		}); err != nil {
			return fmt.Errorf("seeding challenge %q: %w", seed.Name, err)
		}
		logger.Info("seeded challenge from domain config", "name", seed.Name)
	}

	requeued, err := st.RequeueAllAssignedAndWaiting(ctx)
	if err != nil {
		return fmt.Errorf("requeuing challenges at startup: %w", err)
	}
	if requeued > 0 {
		logger.Info("requeued stale challenge assignments from previous run", "count", requeued)
	}

	sched := scheduler.New()
	registry := agents.New(st, logger)
	bus := eventbus.New()
	enroll := enrollment.New(st, bus, logger)

	var domainPtr atomic.Pointer[config.Domain]
	domainPtr.Store(domain)

	coord := assignment.New(st, sched, bus, domain, cfg.AssignmentTimeout, logger)

	rateLimiter := auth.NewRateLimiter(rdb, 5, 15*time.Minute)
	replayGuard := auth.NewReplayGuard(rdb, st, cfg.TOTPReplayWindow)
	gateway := auth.New(st, vault, rateLimiter, replayGuard, logger, cfg.SessionMaxAge, cfg.PendingSetupTTL)

	metricsReg := prometheus.NewRegistry()
	metricsReg.MustRegister(telemetry.All()...)

	server := httpserver.NewServer(cfg, logger, db, rdb, metricsReg)

	deps := &httpapi.Dependencies{
		Store:      st,
		Vault:      vault,
		Gateway:    gateway,
		Registry:   registry,
		Scheduler:  sched,
		Coord:      coord,
		Enrollment: enroll,
		Bus:        bus,
		Redis:      rdb,
		Config:     cfg,
		DomainPtr:  &domainPtr,
		Server:     server,
		Logger:     logger,
	}
	deps.Mount(server.Router)

	go runReapLoop(ctx, st, registry, bus, logger)
	go runCleanupLoop(ctx, st, logger)
	go runAutoPauseLoop(ctx, st, &domainPtr, bus, logger)

	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      server,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
			return
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down http server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func challengeSeeded(existing []store.Challenge, name string) bool {
	for _, c := range existing {
		if c.Name == name {
			return true
		}
	}
	return false
}

// seedChallengeID derives a stable challenge_id for a domain-config seed
// entry so re-running Run never double-inserts the same named challenge.
func seedChallengeID(name string) string {
	return "seed-" + crypto.HashToken(name)[:16]
}

// runReapLoop periodically requeues timed-out assignments and marks agents
// with a stale heartbeat offline, publishing a status event on transition
// (spec.md §4.D, §4.G reaper requirements).
func runReapLoop(ctx context.Context, st *store.Store, registry *agents.Registry, bus *eventbus.Bus, logger *slog.Logger) {
	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := st.ReapStaleAssignments(ctx); err != nil {
				logger.Error("reaping stale assignments", "error", err)
			} else if n > 0 {
				logger.Info("reaped stale assignments", "count", n)
			}

			stale, err := st.ReapStaleAgents(ctx, agentHeartbeatTimeout)
			if err != nil {
				logger.Error("reaping stale agents", "error", err)
				continue
			}
			for _, agentID := range stale {
				if err := registry.MarkOffline(ctx, agentID); err != nil {
					logger.Error("marking agent offline", "agent_id", agentID, "error", err)
					continue
				}
				bus.Publish(eventbus.TopicAdmin, eventbus.EventRunnerStatus, map[string]any{
					"agent_id": agentID,
					"status":   "offline",
				})
			}
		}
	}
}

// agentHeartbeatTimeout is how stale a heartbeat may be before the reap
// loop marks an agent offline. Kept here rather than threaded through as a
// parameter everywhere, matching the teacher's use of small loop-local
// constants for infrequently-tuned timeouts.
const agentHeartbeatTimeout = 90 * time.Second

// runCleanupLoop periodically deletes expired sessions, pending setups,
// enrollment tokens and TOTP replay rows, and disables unclaimed temporary
// users.
func runCleanupLoop(ctx context.Context, st *store.Store, logger *slog.Logger) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := st.CleanupExpiredSessions(ctx); err != nil {
				logger.Error("cleaning up expired sessions", "error", err)
			}
			if _, err := st.CleanupExpiredPendingSetups(ctx); err != nil {
				logger.Error("cleaning up expired pending setups", "error", err)
			}
			if _, err := st.CleanupExpiredEnrollmentTokens(ctx); err != nil {
				logger.Error("cleaning up expired enrollment tokens", "error", err)
			}
			if _, err := st.CleanupExpiredTOTPReplays(ctx, totpReplayCleanupWindow); err != nil {
				logger.Error("cleaning up expired totp replays", "error", err)
			}
			if usernames, err := st.CleanupExpiredTemporaryUsers(ctx, temporaryUserDeadline); err != nil {
				logger.Error("cleaning up abandoned temporary users", "error", err)
			} else if len(usernames) > 0 {
				logger.Info("disabled abandoned temporary users", "usernames", usernames)
			}
		}
	}
}

// totpReplayCleanupWindow bounds how long a consumed TOTP code's replay row
// is retained past its own validity window, wide enough to never race a
// legitimate CheckAndRecord lookup.
const totpReplayCleanupWindow = 10 * time.Minute

// runAutoPauseLoop mirrors original_source/server/server.py's daily window
// enforcement: outside [day_start, end_of_day) it sets auto_paused so the
// Coordinator stops handing out challenges, and clears it once back inside
// the window, without touching the operator's own manual pause flag.
func runAutoPauseLoop(ctx context.Context, st *store.Store, domainPtr *atomic.Pointer[config.Domain], bus *eventbus.Bus, logger *slog.Logger) {
	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			dm := domainPtr.Load()
			if dm == nil || !dm.AutoPauseDaily {
				continue
			}

			within, err := scheduler.WithinDailyWindow(time.Now(), dm.DayStart, dm.EndOfDay)
			if err != nil {
				logger.Error("evaluating daily window", "error", err)
				continue
			}

			_, autoPaused, err := st.GetSystemState(ctx, store.StateKeyAutoPaused)
			if err != nil {
				logger.Error("reading auto_paused state", "error", err)
				continue
			}

			switch {
			case !within && !autoPaused:
				if err := st.SetSystemState(ctx, store.StateKeyAutoPaused, "true"); err != nil {
					logger.Error("setting auto_paused", "error", err)
					continue
				}
				bus.Publish(eventbus.TopicAdmin, eventbus.EventSystemControl, map[string]any{"auto_paused": true})
			case within && autoPaused:
				if err := st.DeleteSystemState(ctx, store.StateKeyAutoPaused); err != nil {
					logger.Error("clearing auto_paused", "error", err)
					continue
				}
				bus.Publish(eventbus.TopicAdmin, eventbus.EventSystemControl, map[string]any{"auto_paused": false})
			}
		}
	}
}
