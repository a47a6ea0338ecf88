// Package main runs the combat server: websocket gateway, session registry,
// world maintenance and the global tick loop.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/skirmish/internal/broadcast"
	"github.com/cory-johannsen/skirmish/internal/config"
	"github.com/cory-johannsen/skirmish/internal/game/character"
	"github.com/cory-johannsen/skirmish/internal/game/combat"
	"github.com/cory-johannsen/skirmish/internal/game/content"
	"github.com/cory-johannsen/skirmish/internal/game/dice"
	"github.com/cory-johannsen/skirmish/internal/game/world"
	"github.com/cory-johannsen/skirmish/internal/gateway"
	"github.com/cory-johannsen/skirmish/internal/messaging"
	"github.com/cory-johannsen/skirmish/internal/observability"
	"github.com/cory-johannsen/skirmish/internal/scheduler"
	"github.com/cory-johannsen/skirmish/internal/scripting"
	"github.com/cory-johannsen/skirmish/internal/server"
	"github.com/cory-johannsen/skirmish/internal/storage/postgres"
)

// userStore is a character.Store that can also create players.
type userStore interface {
	character.Store
	character.Seeder
}

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file; empty = defaults and environment only")
	playersPath := flag.String("players", "configs/players.yaml", "YAML file of starting players; empty = none")
	flag.Parse()

	ctx := context.Background()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	shutdownTracing, err := observability.SetupTracing(ctx, cfg.Telemetry)
	if err != nil {
		logger.Fatal("initializing tracing", zap.Error(err))
	}
	defer func() {
		tctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(tctx); err != nil {
			logger.Warn("flushing traces", zap.Error(err))
		}
	}()

	defs, err := content.LoadDir(cfg.Content.Dir)
	if err != nil {
		logger.Fatal("loading content", zap.String("dir", cfg.Content.Dir), zap.Error(err))
	}
	logger.Info("content loaded",
		zap.Int("abilities", defs.AbilityCount()),
		zap.Int("creatures", defs.CreatureCount()),
		zap.Int("locations", len(defs.Locations())),
	)

	var (
		users     userStore
		locations world.Store
		checks    []server.HealthCheck
	)
	switch cfg.Storage.Backend {
	case "postgres":
		dbStart := time.Now()
		pool, err := postgres.NewPool(ctx, cfg.Database)
		if err != nil {
			logger.Fatal("connecting to database", zap.Error(err))
		}
		defer pool.Close()
		logger.Info("database connected",
			zap.String("host", cfg.Database.Host),
			zap.Duration("elapsed", time.Since(dbStart)),
		)
		users = postgres.NewUserRepository(pool.DB())
		locations = postgres.NewWorldRepository(pool.DB())
		checks = append(checks, pool.HealthCheck())
	default:
		users = character.NewMemoryStore()
		locations = world.NewMemoryStore()
	}

	spawned, err := world.Seed(ctx, locations, defs.Locations())
	if err != nil {
		logger.Fatal("seeding world", zap.Error(err))
	}
	logger.Info("world seeded", zap.Int("creatures_spawned", spawned))

	if *playersPath != "" {
		n, err := character.SeedFile(ctx, users, *playersPath)
		switch {
		case errors.Is(err, os.ErrNotExist):
			logger.Info("no players file", zap.String("path", *playersPath))
		case err != nil:
			logger.Fatal("seeding players", zap.Error(err))
		default:
			logger.Info("players seeded", zap.Int("created", n))
		}
	}

	src := dice.NewCryptoSource()
	bc := broadcast.NewBroadcaster(logger)
	presence := world.NewPresence()

	scripts := scripting.NewManager(dice.NewRoller(src, logger), logger)
	defer scripts.Close()
	if _, err := os.Stat(cfg.Content.ScriptsDir); err == nil {
		if err := scripts.LoadTree(cfg.Content.ScriptsDir, cfg.Content.InstructionLimit); err != nil {
			logger.Fatal("loading scripts", zap.String("dir", cfg.Content.ScriptsDir), zap.Error(err))
		}
	}

	registry, err := combat.NewRegistry(cfg.RegistryConfig(), combat.RegistryDeps{
		Users:     users,
		Locations: locations,
		Defs:      defs,
		Notifier:  bc,
		Source:    src,
		AI:        scripting.NewTargetSelector(scripts),
		Logger:    logger,
	})
	if err != nil {
		logger.Fatal("creating combat registry", zap.Error(err))
	}

	respawn := world.NewRespawnCoordinator(locations, cfg.RespawnSettings(), logger)
	if err := respawn.CaptureSeeds(ctx, defs.Locations()); err != nil {
		logger.Fatal("capturing respawn quotas", zap.Error(err))
	}
	wandering := world.NewWanderingCoordinator(locations, defs, presence, src, cfg.WanderingSettings(), logger)
	wandering.SetEngagementChecker(registry)
	maintainer := world.NewMaintainer(respawn, wandering, logger)
	registry.SetDeathObserver(maintainer)

	regen := scheduler.NewRegenerator(users, bc, registry,
		character.Vitals{HP: cfg.Regen.HP, Mana: cfg.Regen.Mana, Stamina: cfg.Regen.Stamina}, logger)
	ticker := scheduler.New(scheduler.Config{
		Interval: cfg.Scheduler.Interval,
		MinSleep: cfg.Scheduler.MinSleep,
	}, scheduler.Deps{
		Regen:  regen,
		Combat: registry,
		World:  maintainer,
		Logger: logger,
	})
	checks = append(checks, server.TickFreshness(ticker.LastTick, cfg.Health.StaleAfter, time.Now))

	lifecycle := server.NewLifecycle(logger)

	var mirror gateway.Mirror
	if cfg.NATS.Enabled() {
		url := cfg.NATS.URL
		if cfg.NATS.Embedded {
			ns, err := messaging.NewEmbeddedServer(logger,
				messaging.WithHost(cfg.NATS.Host),
				messaging.WithPort(cfg.NATS.Port),
			)
			if err != nil {
				logger.Fatal("creating embedded nats", zap.Error(err))
			}
			if err := ns.Listen(); err != nil {
				logger.Fatal("starting embedded nats", zap.Error(err))
			}
			url = ns.ClientURL()
			lifecycle.Add("nats", ns)
		}
		pub, err := messaging.Connect(url, cfg.NATS.SubjectPrefix, logger)
		if err != nil {
			logger.Fatal("connecting to nats", zap.String("url", url), zap.Error(err))
		}
		defer pub.Close()
		mirror = pub
	}

	gw := gateway.New(gateway.Config{
		SendBuffer:      cfg.Gateway.SendBuffer,
		WriteTimeout:    cfg.Gateway.WriteTimeout,
		PongTimeout:     cfg.Gateway.PongTimeout,
		MaxMessageBytes: cfg.Gateway.MaxMessageBytes,
	}, gateway.Deps{
		Broadcaster: bc,
		Combat:      registry,
		Users:       users,
		Presence:    presence,
		Mirror:      mirror,
		Logger:      logger,
	})

	lifecycle.Add("scheduler", ticker)
	lifecycle.Add("gateway", gateway.NewServer(cfg.Gateway.Addr(), gw.Handler(), logger))
	lifecycle.Add("health", server.NewHealthServer(cfg.Health.Addr(), max(cfg.Health.StaleAfter/4, time.Second), logger, checks...))

	logger.Info("combat server ready",
		zap.String("gateway_addr", cfg.Gateway.Addr()),
		zap.String("health_addr", cfg.Health.Addr()),
		zap.String("storage", cfg.Storage.Backend),
		zap.Bool("nats", cfg.NATS.Enabled()),
		zap.Duration("startup", time.Since(start)),
	)

	if err := lifecycle.Run(ctx); err != nil {
		logger.Error("combat server stopped with error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("combat server stopped")
}
