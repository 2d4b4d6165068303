package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config is the process-level configuration, read from the environment.
// Engine tuning lives in the YAML file named by EngineConfigPath.
type Config struct {
	Port            int
	NatsURL         string
	NatsToken       string
	DatabaseURL     string
	RedisURL        string
	LogLevel        string
	APIToken        string
	AnthropicAPIKey string
	AnthropicModel  string
	PromptCache     bool

	EmbeddingURL    string
	EmbeddingAPIKey string
	EmbeddingModel  string

	CorpusBackend    string
	CorpusPath       string
	QdrantHost       string
	QdrantPort       int
	QdrantAPIKey     string
	QdrantTLS        bool
	QdrantCollection string

	SlackBotToken string
	SlackChannel  string

	EngineConfigPath string
}

// Load reads a .env file when present, then the environment.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Port:            envInt("VIGIL_PORT", 8760),
		NatsURL:         envStr("NATS_URL", "nats://hermes:4222"),
		NatsToken:       envStr("NATS_TOKEN", ""),
		DatabaseURL:     envStr("DATABASE_URL", ""),
		RedisURL:        envStr("REDIS_URL", ""),
		LogLevel:        envStr("LOG_LEVEL", "info"),
		APIToken:        envStr("VIGIL_API_TOKEN", ""),
		AnthropicAPIKey: envStr("ANTHROPIC_API_KEY", ""),
		AnthropicModel:  envStr("VIGIL_MODEL", "claude-sonnet-4-20250514"),
		PromptCache:     envBool("VIGIL_PROMPT_CACHE", true),

		EmbeddingURL:    envStr("VIGIL_EMBEDDING_URL", "https://api.openai.com"),
		EmbeddingAPIKey: envStr("VIGIL_EMBEDDING_API_KEY", ""),
		EmbeddingModel:  envStr("VIGIL_EMBEDDING_MODEL", "text-embedding-3-small"),

		CorpusBackend:    envStr("VIGIL_CORPUS_BACKEND", "memory"),
		CorpusPath:       envStr("VIGIL_CORPUS_PATH", ""),
		QdrantHost:       envStr("QDRANT_HOST", "localhost"),
		QdrantPort:       envInt("QDRANT_PORT", 6334),
		QdrantAPIKey:     envStr("QDRANT_API_KEY", ""),
		QdrantTLS:        envBool("QDRANT_USE_TLS", false),
		QdrantCollection: envStr("QDRANT_COLLECTION", "counseling_theory"),

		SlackBotToken: envStr("SLACK_BOT_TOKEN", ""),
		SlackChannel:  envStr("SLACK_ESCALATION_CHANNEL", ""),

		EngineConfigPath: envStr("VIGIL_ENGINE_CONFIG", ""),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
