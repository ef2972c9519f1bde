package config

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig
	Corpus     CorpusConfig
	Embedding  EmbeddingConfig
	Generation GenerationConfig
	Retrieval  RetrievalConfig
	SQLite     SQLiteConfig
	Redis      RedisConfig
	RateLimit  RateLimitConfig
	Logging    LoggingConfig
}

type ServerConfig struct {
	Host           string
	Port           int
	ReadTimeout    int
	WriteTimeout   int
	BodyLimit      int
	AllowedOrigins []string
	IsDevelopment  bool
	MaxQuestionLen int
}

type CorpusConfig struct {
	Path string
}

type EmbeddingConfig struct {
	Provider    string
	Dimension   int
	Model       string
	APIKey      string
	CacheTTLSec int
}

type GenerationConfig struct {
	Backend         string
	MaxOutputLength int
	Temperature     float32
	TimeoutSec      int
	RetryAttempts   int
	HuggingFace     HuggingFaceConfig
	OpenAI          OpenAIConfig
	Gemini          GeminiConfig
	Anthropic       AnthropicConfig
}

type HuggingFaceConfig struct {
	Token    string
	Model    string
	Endpoint string
}

type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

type GeminiConfig struct {
	APIKey string
	Model  string
}

type AnthropicConfig struct {
	APIKey string
	Model  string
}

type RetrievalConfig struct {
	TopK int
}

type SQLiteConfig struct {
	Path string
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type RateLimitConfig struct {
	RequestsPerMinute int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func Load() (*Config, error) {
	// API keys usually live in .env during local runs.
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/scheme-qna")

	v.SetEnvPrefix("SCHEME_QNA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	bindProviderEnv(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 90)
	v.SetDefault("server.bodyLimit", 52428800)
	v.SetDefault("server.allowedOrigins", []string{})
	v.SetDefault("server.isDevelopment", true)
	v.SetDefault("server.maxQuestionLen", 2000)

	v.SetDefault("corpus.path", "scheme_data.json")

	v.SetDefault("embedding.provider", "hashing")
	v.SetDefault("embedding.dimension", 384)
	v.SetDefault("embedding.model", "text-embedding-3-small")
	v.SetDefault("embedding.cacheTTLSec", 86400)

	v.SetDefault("generation.backend", "huggingface")
	v.SetDefault("generation.maxOutputLength", 450)
	v.SetDefault("generation.temperature", 0.1)
	v.SetDefault("generation.timeoutSec", 60)
	v.SetDefault("generation.retryAttempts", 1)
	v.SetDefault("generation.huggingface.model", "google/flan-t5-small")
	v.SetDefault("generation.huggingface.endpoint", "https://api-inference.huggingface.co/models")
	v.SetDefault("generation.openai.model", "gpt-4o-mini")
	v.SetDefault("generation.gemini.model", "gemini-2.0-flash")
	v.SetDefault("generation.anthropic.model", "claude-3-5-haiku-latest")

	v.SetDefault("retrieval.topK", 3)

	v.SetDefault("sqlite.path", "./data/scheme_qna.db")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)

	v.SetDefault("rateLimit.requestsPerMinute", 60)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.outputPath", "stdout")
}

// bindProviderEnv lets the provider-conventional variable names from .env
// fill in credentials when the prefixed ones are absent.
func bindProviderEnv(v *viper.Viper) {
	_ = v.BindEnv("generation.huggingface.token", "SCHEME_QNA_GENERATION_HUGGINGFACE_TOKEN", "HUGGINGFACE_TOKEN")
	_ = v.BindEnv("generation.openai.apiKey", "SCHEME_QNA_GENERATION_OPENAI_APIKEY", "OPENAI_API_KEY")
	_ = v.BindEnv("generation.gemini.apiKey", "SCHEME_QNA_GENERATION_GEMINI_APIKEY", "GOOGLE_API_KEY")
	_ = v.BindEnv("generation.anthropic.apiKey", "SCHEME_QNA_GENERATION_ANTHROPIC_APIKEY", "ANTHROPIC_API_KEY")
	_ = v.BindEnv("embedding.apiKey", "SCHEME_QNA_EMBEDDING_APIKEY", "OPENAI_API_KEY")
}
