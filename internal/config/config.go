// Package config provides Viper-based configuration loading for the combat server.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/cory-johannsen/skirmish/internal/game/combat"
	"github.com/cory-johannsen/skirmish/internal/game/world"
)

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	// Backend is "memory" or "postgres".
	Backend string `mapstructure:"backend"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	// PingTimeout bounds each health ping. Zero uses the pool default.
	PingTimeout time.Duration `mapstructure:"ping_timeout"`
	// ApplicationName is reported to the server as application_name.
	ApplicationName string `mapstructure:"application_name"`
}

// DSN returns the PostgreSQL connection string.
//
// Precondition: Host, Port, User, and Name must be non-empty.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode,
	)
}

// CombatConfig tunes combat sessions.
type CombatConfig struct {
	RoundDuration      time.Duration `mapstructure:"round_duration"`
	MaxRounds          int           `mapstructure:"max_rounds"`
	FleeChance         float64       `mapstructure:"flee_chance"`
	FleeCooldownRounds int           `mapstructure:"flee_cooldown_rounds"`
	EndedRetention     time.Duration `mapstructure:"ended_retention"`
	PlayerInitiative   string        `mapstructure:"player_initiative"`
}

// SchedulerConfig holds the global tick loop settings.
type SchedulerConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	MinSleep time.Duration `mapstructure:"min_sleep"`
}

// RespawnConfig holds creature respawn settings, counted in scheduler ticks.
type RespawnConfig struct {
	MinDelayTicks int64 `mapstructure:"min_delay_ticks"`
	MaxPerTick    int   `mapstructure:"max_per_tick"`
}

// WanderingConfig holds wandering encounter settings, counted in scheduler ticks.
type WanderingConfig struct {
	Chance             float64 `mapstructure:"chance"`
	CheckIntervalTicks int64   `mapstructure:"check_interval_ticks"`
	DespawnAfterTicks  int64   `mapstructure:"despawn_after_ticks"`
	MaxPerLocation     int     `mapstructure:"max_per_location"`
}

// RegenConfig holds the per-tick out-of-combat regeneration amounts.
type RegenConfig struct {
	HP      int `mapstructure:"hp"`
	Mana    int `mapstructure:"mana"`
	Stamina int `mapstructure:"stamina"`
}

// GatewayConfig holds the websocket listener settings.
type GatewayConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	SendBuffer      int           `mapstructure:"send_buffer"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	PongTimeout     time.Duration `mapstructure:"pong_timeout"`
	MaxMessageBytes int64         `mapstructure:"max_message_bytes"`
}

// Addr returns the "host:port" listen address.
func (g GatewayConfig) Addr() string {
	return fmt.Sprintf("%s:%d", g.Host, g.Port)
}

// HealthConfig holds the gRPC health service settings.
type HealthConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	// StaleAfter marks the service NOT_SERVING when no tick completed this long.
	StaleAfter time.Duration `mapstructure:"stale_after"`
}

// Addr returns the "host:port" listen address.
func (h HealthConfig) Addr() string {
	return fmt.Sprintf("%s:%d", h.Host, h.Port)
}

// NATSConfig holds the event mirror settings. An empty URL with Embedded
// false disables the mirror.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	Embedded      bool   `mapstructure:"embedded"`
	Host          string `mapstructure:"host"`
	Port          int    `mapstructure:"port"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

// Enabled reports whether events are mirrored to NATS.
func (n NATSConfig) Enabled() bool {
	return n.Embedded || n.URL != ""
}

// TelemetryConfig holds OpenTelemetry export settings. An empty Endpoint
// disables tracing.
type TelemetryConfig struct {
	Endpoint    string `mapstructure:"endpoint"`
	ServiceName string `mapstructure:"service_name"`
}

// ContentConfig locates the YAML definitions and Lua scripts.
type ContentConfig struct {
	Dir              string `mapstructure:"dir"`
	ScriptsDir       string `mapstructure:"scripts_dir"`
	InstructionLimit int    `mapstructure:"instruction_limit"`
}

// Config is the top-level application configuration.
type Config struct {
	Logging     LoggingConfig   `mapstructure:"logging"`
	Storage     StorageConfig   `mapstructure:"storage"`
	Database    DatabaseConfig  `mapstructure:"database"`
	Combat      CombatConfig    `mapstructure:"combat"`
	Probability combat.Params   `mapstructure:"probability"`
	Scheduler   SchedulerConfig `mapstructure:"scheduler"`
	Respawn     RespawnConfig   `mapstructure:"respawn"`
	Wandering   WanderingConfig `mapstructure:"wandering"`
	Regen       RegenConfig     `mapstructure:"regen"`
	Gateway     GatewayConfig   `mapstructure:"gateway"`
	Health      HealthConfig    `mapstructure:"health"`
	NATS        NATSConfig      `mapstructure:"nats"`
	Telemetry   TelemetryConfig `mapstructure:"telemetry"`
	Content     ContentConfig   `mapstructure:"content"`
}

// RegistryConfig converts the combat and probability sections.
func (c Config) RegistryConfig() combat.RegistryConfig {
	return combat.RegistryConfig{
		RoundDuration:      c.Combat.RoundDuration,
		MaxRounds:          c.Combat.MaxRounds,
		FleeChance:         c.Combat.FleeChance,
		FleeCooldownRounds: c.Combat.FleeCooldownRounds,
		EndedRetention:     c.Combat.EndedRetention,
		Probability:        c.Probability,
		PlayerInitiative:   c.Combat.PlayerInitiative,
	}
}

// RespawnSettings converts the respawn section.
func (c Config) RespawnSettings() world.RespawnConfig {
	return world.RespawnConfig{MinDelayTicks: c.Respawn.MinDelayTicks, MaxPerTick: c.Respawn.MaxPerTick}
}

// WanderingSettings converts the wandering section.
func (c Config) WanderingSettings() world.WanderingConfig {
	return world.WanderingConfig{
		Chance:             c.Wandering.Chance,
		CheckIntervalTicks: c.Wandering.CheckIntervalTicks,
		DespawnAfterTicks:  c.Wandering.DespawnAfterTicks,
		MaxPerLocation:     c.Wandering.MaxPerLocation,
	}
}

// Validate checks all configuration invariants.
//
// Postcondition: Returns nil if configuration is valid, or an error describing all violations.
func (c Config) Validate() error {
	var errs []string
	add := func(err error) {
		if err != nil {
			errs = append(errs, err.Error())
		}
	}

	add(validateLogging(c.Logging))
	add(validateStorage(c.Storage, c.Database))
	add(validateCombat(c.Combat))
	if err := c.Probability.Validate(); err != nil {
		errs = append(errs, "probability: "+err.Error())
	}
	add(validateScheduler(c.Scheduler))
	add(validateWorld(c.Respawn, c.Wandering))
	add(validateRegen(c.Regen))
	add(validatePort("gateway.port", c.Gateway.Port))
	if c.Gateway.SendBuffer < 1 {
		errs = append(errs, fmt.Sprintf("gateway.send_buffer must be >= 1, got %d", c.Gateway.SendBuffer))
	}
	add(validatePort("health.port", c.Health.Port))
	if c.NATS.Embedded {
		add(validatePort("nats.port", c.NATS.Port))
	}
	if c.Content.Dir == "" {
		errs = append(errs, "content.dir must not be empty")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validatePort(key string, port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("%s must be 1-65535, got %d", key, port)
	}
	return nil
}

func validateLogging(l LoggingConfig) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error], got %q", l.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("logging.format must be one of [json, console], got %q", l.Format)
	}
	return nil
}

func validateStorage(s StorageConfig, d DatabaseConfig) error {
	switch s.Backend {
	case "memory":
		return nil
	case "postgres":
		return validateDatabase(d)
	}
	return fmt.Errorf("storage.backend must be one of [memory, postgres], got %q", s.Backend)
}

func validateDatabase(d DatabaseConfig) error {
	var errs []string
	if d.Host == "" {
		errs = append(errs, "database.host must not be empty")
	}
	if err := validatePort("database.port", d.Port); err != nil {
		errs = append(errs, err.Error())
	}
	if d.User == "" {
		errs = append(errs, "database.user must not be empty")
	}
	if d.Name == "" {
		errs = append(errs, "database.name must not be empty")
	}
	validSSL := map[string]bool{"disable": true, "require": true, "verify-ca": true, "verify-full": true}
	if !validSSL[d.SSLMode] {
		errs = append(errs, fmt.Sprintf("database.sslmode must be one of [disable, require, verify-ca, verify-full], got %q", d.SSLMode))
	}
	if d.MaxConns < 1 {
		errs = append(errs, fmt.Sprintf("database.max_conns must be >= 1, got %d", d.MaxConns))
	}
	if d.MinConns < 0 || d.MinConns > d.MaxConns {
		errs = append(errs, "database.min_conns must be between 0 and database.max_conns")
	}
	if d.PingTimeout < 0 {
		errs = append(errs, fmt.Sprintf("database.ping_timeout must be >= 0, got %s", d.PingTimeout))
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

func validateCombat(c CombatConfig) error {
	var errs []string
	if c.RoundDuration <= 0 {
		errs = append(errs, fmt.Sprintf("combat.round_duration must be positive, got %s", c.RoundDuration))
	}
	if c.MaxRounds < 0 {
		errs = append(errs, fmt.Sprintf("combat.max_rounds must be >= 0, got %d", c.MaxRounds))
	}
	if c.FleeChance < 0 || c.FleeChance > 1 {
		errs = append(errs, fmt.Sprintf("combat.flee_chance must be within [0, 1], got %g", c.FleeChance))
	}
	if c.FleeCooldownRounds < 0 {
		errs = append(errs, fmt.Sprintf("combat.flee_cooldown_rounds must be >= 0, got %d", c.FleeCooldownRounds))
	}
	if c.EndedRetention < 0 {
		errs = append(errs, "combat.ended_retention must not be negative")
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

func validateScheduler(s SchedulerConfig) error {
	if s.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be positive, got %s", s.Interval)
	}
	if s.MinSleep < 0 || s.MinSleep > s.Interval {
		return fmt.Errorf("scheduler.min_sleep must be within [0, scheduler.interval], got %s", s.MinSleep)
	}
	return nil
}

func validateWorld(r RespawnConfig, w WanderingConfig) error {
	var errs []string
	if r.MinDelayTicks < 0 {
		errs = append(errs, "respawn.min_delay_ticks must not be negative")
	}
	if r.MaxPerTick < 0 {
		errs = append(errs, "respawn.max_per_tick must not be negative")
	}
	if w.Chance < 0 || w.Chance > 1 {
		errs = append(errs, fmt.Sprintf("wandering.chance must be within [0, 1], got %g", w.Chance))
	}
	if w.CheckIntervalTicks < 0 || w.DespawnAfterTicks < 0 || w.MaxPerLocation < 0 {
		errs = append(errs, "wandering tick and count settings must not be negative")
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

func validateRegen(r RegenConfig) error {
	if r.HP < 0 || r.Mana < 0 || r.Stamina < 0 {
		return fmt.Errorf("regen amounts must not be negative, got hp=%d mana=%d stamina=%d", r.HP, r.Mana, r.Stamina)
	}
	return nil
}

// Load reads configuration from the given file path, applies SKIRMISH_
// environment variable overrides, and validates the result. An empty path
// uses defaults and the environment only.
//
// Postcondition: Returns a valid Config or a non-nil error.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SKIRMISH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
	}
	return LoadFromViper(v)
}

// LoadFromViper builds a Config from an already-configured Viper instance.
//
// Precondition: v must be non-nil and have configuration values set.
// Postcondition: Returns a valid Config or a non-nil error.
func LoadFromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("storage.backend", "memory")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "skirmish")
	v.SetDefault("database.password", "skirmish")
	v.SetDefault("database.name", "skirmish")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.ping_timeout", "2s")
	v.SetDefault("database.application_name", "skirmish")

	v.SetDefault("combat.round_duration", "3s")
	v.SetDefault("combat.max_rounds", 100)
	v.SetDefault("combat.flee_chance", 0.5)
	v.SetDefault("combat.flee_cooldown_rounds", 2)
	v.SetDefault("combat.ended_retention", "5m")
	v.SetDefault("combat.player_initiative", "1d20")

	p := combat.DefaultParams()
	v.SetDefault("probability.base_hit", p.BaseHit)
	v.SetDefault("probability.accuracy_factor", p.AccuracyFactor)
	v.SetDefault("probability.level_factor", p.LevelFactor)
	v.SetDefault("probability.min_hit", p.MinHit)
	v.SetDefault("probability.max_hit", p.MaxHit)
	v.SetDefault("probability.base_crit", p.BaseCrit)
	v.SetDefault("probability.max_crit", p.MaxCrit)
	v.SetDefault("probability.glancing_band", p.GlancingBand)
	v.SetDefault("probability.crit_multiplier", p.CritMultiplier)
	v.SetDefault("probability.glancing_multiplier", p.GlancingMultiplier)
	v.SetDefault("probability.variance", p.Variance)

	v.SetDefault("scheduler.interval", "3s")
	v.SetDefault("scheduler.min_sleep", "50ms")

	v.SetDefault("respawn.min_delay_ticks", 20)
	v.SetDefault("respawn.max_per_tick", 5)

	v.SetDefault("wandering.chance", 0.1)
	v.SetDefault("wandering.check_interval_ticks", 10)
	v.SetDefault("wandering.despawn_after_ticks", 100)
	v.SetDefault("wandering.max_per_location", 2)

	v.SetDefault("regen.hp", 1)
	v.SetDefault("regen.mana", 1)
	v.SetDefault("regen.stamina", 2)

	v.SetDefault("gateway.host", "0.0.0.0")
	v.SetDefault("gateway.port", 8080)
	v.SetDefault("gateway.send_buffer", 64)
	v.SetDefault("gateway.write_timeout", "10s")
	v.SetDefault("gateway.pong_timeout", "60s")
	v.SetDefault("gateway.max_message_bytes", 4096)

	v.SetDefault("health.host", "0.0.0.0")
	v.SetDefault("health.port", 50051)
	v.SetDefault("health.stale_after", "30s")

	v.SetDefault("nats.url", "")
	v.SetDefault("nats.embedded", false)
	v.SetDefault("nats.host", "127.0.0.1")
	v.SetDefault("nats.port", 4222)
	v.SetDefault("nats.subject_prefix", "skirmish.player")

	v.SetDefault("telemetry.endpoint", "")
	v.SetDefault("telemetry.service_name", "skirmish")

	v.SetDefault("content.dir", "content")
	v.SetDefault("content.scripts_dir", "content/scripts")
	v.SetDefault("content.instruction_limit", 100000)
}
