// Package config implements layered configuration (component C10): code
// defaults overridden by environment variables overridden by an optional
// JSON file, with file-mtime hot-reload, modeled on
// sentinel-x/pkg/infra/config's Watcher/ReloadableSubscriber pattern.
package config

import (
	"time"

	"github.com/spf13/viper"
)

// VectorRebuild mirrors the `vector_rebuild.*` config keys of spec.md §6.
type VectorRebuild struct {
	Mode        string `mapstructure:"mode" json:"mode"`
	IdleSeconds int    `mapstructure:"idle_seconds" json:"idle_seconds"`
	MinInterval int    `mapstructure:"min_interval" json:"min_interval"`
}

// AutoCleanup mirrors the `auto_cleanup.*` config keys of spec.md §6.
type AutoCleanup struct {
	Enabled               bool    `mapstructure:"enabled" json:"enabled"`
	IdleMinutes           int     `mapstructure:"idle_minutes" json:"idle_minutes"`
	CheckIntervalSeconds  int     `mapstructure:"check_interval_seconds" json:"check_interval_seconds"`
	DuplicateThreshold    float64 `mapstructure:"duplicate_threshold" json:"duplicate_threshold"`
	MinSimilarityToReport float64 `mapstructure:"min_similarity_to_report" json:"min_similarity_to_report"`
	MaxSuggestionsPerRun  int     `mapstructure:"max_suggestions_per_run" json:"max_suggestions_per_run"`
}

// Config is the full set of recognised top-level keys from spec.md §6.
// API keys (OpenAI, Cohere) are deliberately absent here — they are read
// straight from the environment by the wiring layer, never through viper's
// file/JSON layer, so a persisted config file never carries a secret.
type Config struct {
	EmbeddingsModel  string `mapstructure:"embeddings_model" json:"embeddings_model"`
	EmbeddingsDevice string `mapstructure:"embeddings_device" json:"embeddings_device"`
	EmbeddingsDim    int    `mapstructure:"embeddings_dim" json:"embeddings_dim"`
	RerankerModel    string `mapstructure:"reranker_model" json:"reranker_model"`
	RerankerTopN     int    `mapstructure:"reranker_top_n" json:"reranker_top_n"`

	ServerHost string `mapstructure:"server_host" json:"server_host"`
	ServerPort int    `mapstructure:"server_port" json:"server_port"`
	Timezone   string `mapstructure:"timezone" json:"timezone"`

	VectorRebuild VectorRebuild `mapstructure:"vector_rebuild" json:"vector_rebuild"`
	AutoCleanup   AutoCleanup   `mapstructure:"auto_cleanup" json:"auto_cleanup"`

	// VectorBackend selects C3's implementation: "qdrant" (default) or
	// "memstore" (in-process brute-force, for tests and small deployments
	// without a Qdrant instance).
	VectorBackend    string `mapstructure:"vector_backend" json:"vector_backend"`
	QdrantAddr       string `mapstructure:"qdrant_addr" json:"qdrant_addr"`
	QdrantCollection string `mapstructure:"qdrant_collection" json:"qdrant_collection"`

	// ContextBackend selects C5's implementation: "file" (default) or
	// "redis", for deployments that want shared/networked persona-context
	// state instead of one JSON file per persona.
	ContextBackend string `mapstructure:"context_backend" json:"context_backend"`
	RedisAddr      string `mapstructure:"redis_addr" json:"redis_addr"`
	RedisNamespace string `mapstructure:"redis_namespace" json:"redis_namespace"`

	DataRoot string `mapstructure:"data_root" json:"data_root"`
}

// EnvPrefix is the prefix every environment-variable override carries, per
// spec.md §6 ("Any config key may be overridden with the prefix
// MEMORY_MCP_ and nested keys flattened with single underscores").
const EnvPrefix = "MEMORY_MCP"

// Defaults returns the code-level defaults (the bottom of the resolution
// order: code defaults -> env -> file).
func Defaults() Config {
	return Config{
		EmbeddingsModel:  "text-embedding-3-small",
		EmbeddingsDevice: "cpu",
		EmbeddingsDim:    1536,
		RerankerModel:    "rerank-english-v3.0",
		RerankerTopN:     10,
		ServerHost:       "127.0.0.1",
		ServerPort:       8765,
		Timezone:         "UTC",
		VectorRebuild: VectorRebuild{
			Mode:        "idle",
			IdleSeconds: 30,
			MinInterval: 120,
		},
		AutoCleanup: AutoCleanup{
			Enabled:               true,
			IdleMinutes:           30,
			CheckIntervalSeconds:  300,
			DuplicateThreshold:    0.90,
			MinSimilarityToReport: 0.85,
			MaxSuggestionsPerRun:  20,
		},
		VectorBackend:    "qdrant",
		QdrantAddr:       "localhost:6334",
		QdrantCollection: "memory_mcp",
		ContextBackend:   "file",
		RedisAddr:        "localhost:6379",
		RedisNamespace:   "memory-mcp",
		DataRoot:         "./data",
	}
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(envReplacer())
	return v
}

// Load resolves defaults -> env -> optional file at path (path == "" skips
// the file layer). server_host/server_port are re-applied from env after
// the file load, per spec.md §6's documented exception: "env overrides file
// for deployment convenience" even though file is normally the final layer.
func Load(path string) (Config, error) {
	v := newViper()
	def := Defaults()
	bindDefaults(v, def)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("json")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, err
			}
		} else {
			// viper ranks env above the config file, so the file's keys are
			// set explicitly to make the file the last layer. server_host and
			// server_port are skipped so env still wins for them.
			fv := viper.New()
			fv.SetConfigFile(path)
			fv.SetConfigType("json")
			if err := fv.ReadInConfig(); err != nil {
				return Config{}, err
			}
			for _, k := range fv.AllKeys() {
				if k != "server_host" && k != "server_port" {
					v.Set(k, fv.Get(k))
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	reapplyEnvHostPort(v, &cfg)
	return cfg, nil
}

// reapplyEnvHostPort implements the server_host/server_port env-over-file
// exception: if the env var is explicitly set, it wins regardless of what
// the file says.
func reapplyEnvHostPort(v *viper.Viper, cfg *Config) {
	if v.IsSet("server_host") {
		if s := v.GetString("server_host"); s != "" {
			cfg.ServerHost = s
		}
	}
	if v.IsSet("server_port") {
		if p := v.GetInt("server_port"); p != 0 {
			cfg.ServerPort = p
		}
	}
}

func bindDefaults(v *viper.Viper, def Config) {
	v.SetDefault("embeddings_model", def.EmbeddingsModel)
	v.SetDefault("embeddings_device", def.EmbeddingsDevice)
	v.SetDefault("embeddings_dim", def.EmbeddingsDim)
	v.SetDefault("reranker_model", def.RerankerModel)
	v.SetDefault("reranker_top_n", def.RerankerTopN)
	v.SetDefault("server_host", def.ServerHost)
	v.SetDefault("server_port", def.ServerPort)
	v.SetDefault("timezone", def.Timezone)
	v.SetDefault("vector_rebuild.mode", def.VectorRebuild.Mode)
	v.SetDefault("vector_rebuild.idle_seconds", def.VectorRebuild.IdleSeconds)
	v.SetDefault("vector_rebuild.min_interval", def.VectorRebuild.MinInterval)
	v.SetDefault("auto_cleanup.enabled", def.AutoCleanup.Enabled)
	v.SetDefault("auto_cleanup.idle_minutes", def.AutoCleanup.IdleMinutes)
	v.SetDefault("auto_cleanup.check_interval_seconds", def.AutoCleanup.CheckIntervalSeconds)
	v.SetDefault("auto_cleanup.duplicate_threshold", def.AutoCleanup.DuplicateThreshold)
	v.SetDefault("auto_cleanup.min_similarity_to_report", def.AutoCleanup.MinSimilarityToReport)
	v.SetDefault("auto_cleanup.max_suggestions_per_run", def.AutoCleanup.MaxSuggestionsPerRun)
	v.SetDefault("vector_backend", def.VectorBackend)
	v.SetDefault("qdrant_addr", def.QdrantAddr)
	v.SetDefault("qdrant_collection", def.QdrantCollection)
	v.SetDefault("context_backend", def.ContextBackend)
	v.SetDefault("redis_addr", def.RedisAddr)
	v.SetDefault("redis_namespace", def.RedisNamespace)
	v.SetDefault("data_root", def.DataRoot)
}

// RebuildIdleSeconds and friends render the JSON-key durations as
// time.Duration for the maintenance package.
func (c Config) RebuildIdleSeconds() time.Duration {
	return time.Duration(c.VectorRebuild.IdleSeconds) * time.Second
}

func (c Config) RebuildMinInterval() time.Duration {
	return time.Duration(c.VectorRebuild.MinInterval) * time.Second
}

func (c Config) CleanupIdleMinutes() time.Duration {
	return time.Duration(c.AutoCleanup.IdleMinutes) * time.Minute
}

func (c Config) CleanupCheckInterval() time.Duration {
	return time.Duration(c.AutoCleanup.CheckIntervalSeconds) * time.Second
}
