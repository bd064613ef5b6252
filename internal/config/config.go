// Package config loads the runtime configuration: defaults, overridden by
// an optional YAML file, overridden by SKIRMISH_* environment variables.
package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/tabletoplab/skirmish/internal/engine"
	"github.com/tabletoplab/skirmish/internal/persist"
	"github.com/tabletoplab/skirmish/internal/registry"
	"github.com/tabletoplab/skirmish/internal/room"
	"github.com/tabletoplab/skirmish/pkg/rules"
)

// Config is the full runtime configuration tree.
type Config struct {
	Server   Server   `yaml:"server" envPrefix:"SKIRMISH_SERVER_"`
	Redis    Redis    `yaml:"redis" envPrefix:"SKIRMISH_REDIS_"`
	Engine   Engine   `yaml:"engine" envPrefix:"SKIRMISH_ENGINE_"`
	Rooms    Rooms    `yaml:"rooms" envPrefix:"SKIRMISH_ROOMS_"`
	Persist  Persist  `yaml:"persistence" envPrefix:"SKIRMISH_PERSIST_"`
	Combat   Combat   `yaml:"combat" envPrefix:"SKIRMISH_COMBAT_"`
	Security Security `yaml:"security" envPrefix:"SKIRMISH_SECURITY_"`
	Log      Log      `yaml:"log" envPrefix:"SKIRMISH_LOG_"`
}

// Server configures the HTTP gateway.
type Server struct {
	Addr            string        `yaml:"addr" env:"ADDR"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" env:"SHUTDOWN_TIMEOUT"`
}

// Redis configures the snapshot store. An empty Addr selects the in-memory
// store, which does not survive restarts.
type Redis struct {
	Addr      string        `yaml:"addr" env:"ADDR"`
	Password  string        `yaml:"password" env:"PASSWORD"`
	DB        int           `yaml:"db" env:"DB"`
	KeyPrefix string        `yaml:"keyPrefix" env:"KEY_PREFIX"`
	TTL       time.Duration `yaml:"ttl" env:"TTL"`
}

// Engine configures turn processing.
type Engine struct {
	TurnTimeout       time.Duration `yaml:"turnTimeout" env:"TURN_TIMEOUT"`
	AutoAdvance       bool          `yaml:"autoAdvance" env:"AUTO_ADVANCE"`
	ValidationEnabled bool          `yaml:"validationEnabled" env:"VALIDATION_ENABLED"`
	QueueEnabled      bool          `yaml:"queueEnabled" env:"QUEUE_ENABLED"`
}

// Rooms configures room admission and lifecycle.
type Rooms struct {
	MaxRooms          int           `yaml:"maxRooms" env:"MAX_ROOMS"`
	MaxParticipants   int           `yaml:"maxParticipants" env:"MAX_PARTICIPANTS"`
	InactivityTimeout time.Duration `yaml:"inactivityTimeout" env:"INACTIVITY_TIMEOUT"`
	CleanupInterval   time.Duration `yaml:"cleanupInterval" env:"CLEANUP_INTERVAL"`
	RecoveryLockTTL   time.Duration `yaml:"recoveryLockTTL" env:"RECOVERY_LOCK_TTL"`
}

// Persist configures the durability layer.
type Persist struct {
	RetryAttempts        int           `yaml:"retryAttempts" env:"RETRY_ATTEMPTS"`
	RetryDelay           time.Duration `yaml:"retryDelay" env:"RETRY_DELAY"`
	CompressionEnabled   bool          `yaml:"compressionEnabled" env:"COMPRESSION_ENABLED"`
	CompressionThreshold int           `yaml:"compressionThreshold" env:"COMPRESSION_THRESHOLD"`
	MaxSnapshotAge       time.Duration `yaml:"maxSnapshotAge" env:"MAX_SNAPSHOT_AGE"`
	ChatTailLimit        int           `yaml:"chatTailLimit" env:"CHAT_TAIL_LIMIT"`
	TurnTailLimit        int           `yaml:"turnTailLimit" env:"TURN_TAIL_LIMIT"`
	RecoveryEnabled      bool          `yaml:"recoveryEnabled" env:"RECOVERY_ENABLED"`
	EventBatchSize       int           `yaml:"eventBatchSize" env:"EVENT_BATCH_SIZE"`
}

// Combat holds the placeholder combat numbers.
type Combat struct {
	MoveBudget   int    `yaml:"moveBudget" env:"MOVE_BUDGET"`
	MeleeRange   int    `yaml:"meleeRange" env:"MELEE_RANGE"`
	AttackDamage int    `yaml:"attackDamage" env:"ATTACK_DAMAGE"`
	HealAmount   int    `yaml:"healAmount" env:"HEAL_AMOUNT"`
	HealingItem  string `yaml:"healingItem" env:"HEALING_ITEM"`
}

// Security configures at-rest protection of stored snapshots. An empty
// EncryptionKey disables encryption; an empty pattern list disables chat
// redaction.
type Security struct {
	// EncryptionKey is a base64-encoded 32-byte AES-256 key.
	EncryptionKey string `yaml:"encryptionKey" env:"ENCRYPTION_KEY"`
	// FallbackKeys are previous base64-encoded keys, tried on decrypt
	// during key rotation.
	FallbackKeys []string `yaml:"fallbackKeys" env:"FALLBACK_KEYS" envSeparator:","`
	// RedactPatterns are regular expressions masked out of chat content
	// before it reaches durable storage.
	RedactPatterns []string `yaml:"redactPatterns" env:"REDACT_PATTERNS" envSeparator:","`
}

// Log configures structured logging.
type Log struct {
	Level string `yaml:"level" env:"LEVEL"`
	JSON  bool   `yaml:"json" env:"JSON"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	ecfg := engine.DefaultConfig()
	rcfg := room.DefaultConfig()
	gcfg := registry.DefaultConfig()
	pcfg := persist.DefaultConfig()
	combat := rules.DefaultConfig()

	return Config{
		Server: Server{
			Addr:            ":8080",
			ShutdownTimeout: 15 * time.Second,
		},
		Redis: Redis{
			KeyPrefix: "skirmish:",
		},
		Engine: Engine{
			TurnTimeout:       ecfg.TurnTimeout,
			AutoAdvance:       ecfg.AutoAdvance,
			ValidationEnabled: ecfg.ValidationEnabled,
			QueueEnabled:      ecfg.QueueEnabled,
		},
		Rooms: Rooms{
			MaxRooms:          gcfg.MaxRooms,
			MaxParticipants:   rcfg.MaxParticipants,
			InactivityTimeout: rcfg.InactivityTimeout,
			CleanupInterval:   gcfg.CleanupInterval,
			RecoveryLockTTL:   gcfg.RecoveryLockTTL,
		},
		Persist: Persist{
			RetryAttempts:        pcfg.RetryAttempts,
			RetryDelay:           pcfg.RetryDelay,
			CompressionEnabled:   pcfg.CompressionEnabled,
			CompressionThreshold: pcfg.CompressionThreshold,
			MaxSnapshotAge:       pcfg.MaxSnapshotAge,
			ChatTailLimit:        pcfg.ChatTailLimit,
			TurnTailLimit:        pcfg.TurnTailLimit,
			RecoveryEnabled:      pcfg.RecoveryEnabled,
			EventBatchSize:       pcfg.EventBatchSize,
		},
		Combat: Combat{
			MoveBudget:   combat.MoveBudget,
			MeleeRange:   combat.MeleeRange,
			AttackDamage: combat.AttackDamage,
			HealAmount:   combat.HealAmount,
			HealingItem:  combat.HealingPotionRef,
		},
		Log: Log{
			Level: "info",
		},
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if
// path is non-empty), then environment variables on top.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Rooms.MaxRooms < 1 {
		return fmt.Errorf("rooms.maxRooms must be >= 1, got %d", c.Rooms.MaxRooms)
	}
	if c.Rooms.MaxParticipants < 1 {
		return fmt.Errorf("rooms.maxParticipants must be >= 1, got %d", c.Rooms.MaxParticipants)
	}
	if c.Persist.RetryAttempts < 1 {
		return fmt.Errorf("persistence.retryAttempts must be >= 1, got %d", c.Persist.RetryAttempts)
	}
	if c.Engine.TurnTimeout <= 0 && c.Engine.AutoAdvance {
		return fmt.Errorf("engine.turnTimeout must be positive when autoAdvance is on")
	}
	if _, _, err := c.EncryptionKeys(); err != nil {
		return err
	}
	for _, p := range c.Security.RedactPatterns {
		if _, err := regexp.Compile(p); err != nil {
			return fmt.Errorf("security.redactPatterns: %q: %w", p, err)
		}
	}
	return nil
}

// EncryptionKeys decodes the configured base64 keys. The active key is nil
// when encryption is disabled.
func (c Config) EncryptionKeys() (active []byte, fallback [][]byte, err error) {
	if c.Security.EncryptionKey == "" {
		return nil, nil, nil
	}
	active, err = decodeKey(c.Security.EncryptionKey)
	if err != nil {
		return nil, nil, fmt.Errorf("security.encryptionKey: %w", err)
	}
	for i, k := range c.Security.FallbackKeys {
		key, err := decodeKey(k)
		if err != nil {
			return nil, nil, fmt.Errorf("security.fallbackKeys[%d]: %w", i, err)
		}
		fallback = append(fallback, key)
	}
	return active, fallback, nil
}

func decodeKey(s string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("key must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}

// EngineConfig maps the configuration onto an engine config.
func (c Config) EngineConfig() engine.Config {
	return engine.Config{
		TurnTimeout:       c.Engine.TurnTimeout,
		AutoAdvance:       c.Engine.AutoAdvance,
		ValidationEnabled: c.Engine.ValidationEnabled,
		QueueEnabled:      c.Engine.QueueEnabled,
		Rules:             c.RulesConfig(),
	}
}

// RulesConfig maps the combat numbers onto a rules config.
func (c Config) RulesConfig() rules.Config {
	return rules.Config{
		MoveBudget:       c.Combat.MoveBudget,
		MeleeRange:       c.Combat.MeleeRange,
		AttackDamage:     c.Combat.AttackDamage,
		HealAmount:       c.Combat.HealAmount,
		HealingPotionRef: c.Combat.HealingItem,
	}
}

// RoomConfig maps the configuration onto a room config.
func (c Config) RoomConfig() room.Config {
	cfg := room.DefaultConfig()
	cfg.MaxParticipants = c.Rooms.MaxParticipants
	cfg.InactivityTimeout = c.Rooms.InactivityTimeout
	cfg.Engine = c.EngineConfig()
	return cfg
}

// RegistryConfig maps the configuration onto a registry config.
func (c Config) RegistryConfig() registry.Config {
	return registry.Config{
		MaxRooms:        c.Rooms.MaxRooms,
		CleanupInterval: c.Rooms.CleanupInterval,
		RecoveryLockTTL: c.Rooms.RecoveryLockTTL,
		Room:            c.RoomConfig(),
	}
}

// PersistConfig maps the configuration onto a persist config.
func (c Config) PersistConfig() persist.Config {
	return persist.Config{
		RetryAttempts:        c.Persist.RetryAttempts,
		RetryDelay:           c.Persist.RetryDelay,
		CompressionEnabled:   c.Persist.CompressionEnabled,
		CompressionThreshold: c.Persist.CompressionThreshold,
		MaxSnapshotAge:       c.Persist.MaxSnapshotAge,
		ChatTailLimit:        c.Persist.ChatTailLimit,
		TurnTailLimit:        c.Persist.TurnTailLimit,
		RecoveryEnabled:      c.Persist.RecoveryEnabled,
		EventBatchSize:       c.Persist.EventBatchSize,
	}
}
