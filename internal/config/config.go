// Package config loads and defaults the generation engine's configuration.
package config

import (
	"crypto/rand"
	"encoding/base64"
	"os"

	"github.com/goccy/go-json"
)

// Config holds every tunable the engine reads. Fields map 1:1 to the
// environment/configuration surface described in spec.md §6.
type Config struct {
	Port string `json:"port"`

	StoreMode     string `json:"storeMode"` // "redis" | "memory"
	RedisAddr     string `json:"redisAddr"`
	RedisPassword string `json:"redisPassword"`
	RedisDB       int    `json:"redisDb"`
	RedisPrefix   string `json:"redisPrefix"`

	ErrorThreshold         int `json:"errorThreshold"`
	MinAccountDelaySeconds int `json:"minAccountDelaySeconds"`

	// Optimus bijective-encoder parameters, spec.md §4.4. Changing these
	// breaks the injection into the existing id space — treat as schema.
	OptimusPrime   uint64 `json:"optimusPrime"`
	OptimusInverse uint64 `json:"optimusInverse"`
	OptimusRandom  uint64 `json:"optimusRandom"`

	SecretKeyB64 string `json:"secretKey"` // base64, 32 bytes, secretbox key

	AllowedFollowHosts []string `json:"allowedFollowHosts"`

	UpstreamBaseURL       string `json:"upstreamBaseUrl"`
	RequestTimeoutSeconds int    `json:"requestTimeoutSeconds"`

	ServerID string `json:"serverId"`

	DebugEnabled bool   `json:"debugEnabled"`
	AdminUser    string `json:"adminUser"`
	AdminPass    string `json:"adminPass"`
}

// Load reads a JSON config file at path, if non-empty, then applies
// defaults for anything left unset. Mirrors the teacher's
// config.Load/ApplyDefaults split.
func Load(path string) (*Config, bool, error) {
	cfg := &Config{}
	loadedFromFile := false

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := json.Unmarshal(data, cfg); err != nil {
				return nil, false, err
			}
			loadedFromFile = true
		} else if !os.IsNotExist(err) {
			return nil, false, err
		}
	}

	ApplyDefaults(cfg)
	ApplyHardcoded(cfg)
	return cfg, loadedFromFile, nil
}

// ApplyDefaults fills zero-valued configurable fields with sane defaults.
// Never overwrites a value the caller already set.
func ApplyDefaults(cfg *Config) {
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.StoreMode == "" {
		cfg.StoreMode = "memory"
	}
	if cfg.RedisPrefix == "" {
		cfg.RedisPrefix = "mineskin:"
	}
	if cfg.ErrorThreshold == 0 {
		cfg.ErrorThreshold = 10
	}
	if cfg.MinAccountDelaySeconds == 0 {
		cfg.MinAccountDelaySeconds = 5
	}
	if cfg.OptimusPrime == 0 {
		cfg.OptimusPrime = 198491329 // a prime below 2^31, pack default
	}
	if cfg.OptimusInverse == 0 {
		cfg.OptimusInverse = 212456257 // OptimusPrime's inverse mod 2^31
	}
	if cfg.OptimusRandom == 0 {
		cfg.OptimusRandom = 1103515245
	}
	if len(cfg.AllowedFollowHosts) == 0 {
		cfg.AllowedFollowHosts = []string{"novask.in", "imgur.com"}
	}
	if cfg.UpstreamBaseURL == "" {
		cfg.UpstreamBaseURL = "https://authserver.mojang.invalid"
	}
	if cfg.RequestTimeoutSeconds == 0 {
		cfg.RequestTimeoutSeconds = 30
	}
	if cfg.ServerID == "" {
		cfg.ServerID = "default"
	}
	if cfg.AdminUser == "" {
		cfg.AdminUser = "admin"
	}
	if cfg.AdminPass == "" {
		cfg.AdminPass = randomPassword(24)
	}
	if cfg.SecretKeyB64 == "" {
		cfg.SecretKeyB64 = randomKey()
	}
}

// ApplyHardcoded is the hook for values that are not operator-tunable.
// It currently changes nothing: the bijective id mapping and error
// threshold are catalog schema, not knobs, but stay plain fields (set by
// ApplyDefaults when unset) so tests can override them.
func ApplyHardcoded(cfg *Config) {
	// Intentionally empty: unlike the teacher's chat-completion defaults,
	// this engine has no hardcoded overrides beyond the id-mapping
	// parameters, which ApplyDefaults already pins when unset.
}

func randomPassword(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}

func randomKey() string {
	b := make([]byte, 32)
	_, _ = rand.Read(b)
	return base64.StdEncoding.EncodeToString(b)
}
