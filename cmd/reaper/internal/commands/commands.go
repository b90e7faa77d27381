package commands

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/tenantreaper/internal/lifecycle"
	"github.com/wolfeidau/tenantreaper/internal/logger"
	postgresstore "github.com/wolfeidau/tenantreaper/internal/store/postgres"
	"github.com/wolfeidau/tenantreaper/internal/telemetry"
)

type Globals struct {
	Debug   bool
	Version string
}

// EngineFlags is the shared flag group every lifecycle command embeds:
// how to reach the database and which tenants are shielded.
type EngineFlags struct {
	Config           string        `help:"Path to YAML config file" env:"REAPER_CONFIG" type:"path"`
	ConnString       string        `help:"PostgreSQL connection string (overrides config file)" env:"POSTGRES_CONNECTION_STRING"`
	AutoMigrate      bool          `help:"Run database migrations on startup" default:"false" env:"REAPER_POSTGRES_AUTO_MIGRATE"`
	SkipSchemaCheck  bool          `help:"Skip foreign key validation against the dependency table" default:"false"`
	ProtectedTenants []int64       `help:"Additional tenant ids shielded from deletion" env:"REAPER_PROTECTED_TENANTS"`
	Retention        time.Duration `help:"Retention window before purge eligibility" default:"168h" env:"REAPER_RETENTION"`
	Tracing          bool          `help:"Enable tracing and metrics export" default:"false" env:"REAPER_TRACING"`
}

// ActorFlags attribute an operation to the person running it. They feed
// the audit log verbatim; the CLI performs no authorization itself.
type ActorFlags struct {
	ID        int64  `help:"Acting user id for audit attribution"`
	IP        string `help:"Actor IP address for audit attribution"`
	UserAgent string `help:"Actor user agent for audit attribution"`
}

func (a *ActorFlags) Context() lifecycle.ActorContext {
	actor := lifecycle.ActorContext{
		IP:        a.IP,
		UserAgent: a.UserAgent,
	}
	if a.ID > 0 {
		actor.ActorID = &a.ID
	}
	return actor
}

// engine bundles the wired lifecycle components a command runs against.
type engine struct {
	pool   *pgxpool.Pool
	orch   *lifecycle.Orchestrator
	audits *postgresstore.AuditStore
}

func (e *engine) Close() {
	e.pool.Close()
}

// setupEngine builds the full stack for one command invocation: logger,
// optional telemetry, connection pool, schema check, stores, guard,
// orchestrator. The returned cleanup shuts everything down.
func setupEngine(ctx context.Context, globals *Globals, flags EngineFlags) (*engine, func(), error) {
	log.Logger = logger.Setup(globals.Debug)

	cleanup := func() {}
	if flags.Tracing {
		shutdown, err := telemetry.InitTelemetry(ctx, "tenantreaper", globals.Version)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize telemetry, continuing without metrics")
		} else {
			cleanup = func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdown(shutdownCtx); err != nil {
					log.Error().Err(err).Msg("Failed to shutdown telemetry")
				}
			}
		}
	}

	cfg, err := loadConfig(flags)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	pool, err := postgresstore.NewPool(ctx, &cfg.Store)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	spec := lifecycle.DefaultSpec()

	if !flags.SkipSchemaCheck {
		if err := postgresstore.ValidateSchema(ctx, pool, spec); err != nil {
			pool.Close()
			cleanup()
			return nil, nil, err
		}
	}

	protected := append([]int64{}, cfg.ProtectedTenants...)
	protected = append(protected, flags.ProtectedTenants...)

	store := postgresstore.NewLifecycleStore(pool, spec)
	audits := postgresstore.NewAuditStore(pool)
	orch := lifecycle.NewOrchestrator(store, audits,
		lifecycle.WithGuard(lifecycle.NewProtectionGuard(protected...)),
	)

	e := &engine{
		pool:   pool,
		orch:   orch,
		audits: audits,
	}

	return e, cleanup, nil
}

func printCounts(label string, counts map[string]int64) {
	if len(counts) == 0 {
		return
	}
	keys := make([]string, 0, len(counts))
	for key := range counts {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	fmt.Printf("%s:\n", label)
	for _, key := range keys {
		fmt.Printf("  %-40s %d\n", key, counts[key])
	}
}
