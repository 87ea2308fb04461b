package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Model      ModelConfig      `mapstructure:"model"`
	OpenAI     OpenAIConfig     `mapstructure:"openai"`
	Doubao     DoubaoConfig     `mapstructure:"doubao"`
	Qwen       QwenConfig       `mapstructure:"qwen"`
	Gemini     GeminiConfig     `mapstructure:"gemini"`
	Vertex     VertexConfig     `mapstructure:"vertex"`
	Generation GenerationConfig `mapstructure:"generation"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Upload     UploadConfig     `mapstructure:"upload"`
	GCS        GCSConfig        `mapstructure:"gcs"`
	Storage    StorageConfig    `mapstructure:"storage"`
	CORS       CORSConfig       `mapstructure:"cors"`
	Log        LogConfig        `mapstructure:"log"`
}

type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	MaxHeaderBytes int           `mapstructure:"max_header_bytes"`
	// RequestTimeout bounds one generation request end to end, retries included.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// ModelConfig selects the upstream provider: openai, doubao, qwen, gemini or vertex.
type ModelConfig struct {
	Provider string `mapstructure:"provider"`
}

type OpenAIConfig struct {
	APIKey  string        `mapstructure:"api_key"`
	BaseURL string        `mapstructure:"base_url"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
	// ImageDetail is passed through as the image_url detail level (auto, low, high).
	ImageDetail string `mapstructure:"image_detail"`
}

type DoubaoConfig struct {
	APIKey  string        `mapstructure:"api_key"`
	BaseURL string        `mapstructure:"base_url"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type QwenConfig struct {
	APIKey       string        `mapstructure:"api_key"`
	BaseURL      string        `mapstructure:"base_url"`
	Model        string        `mapstructure:"model"`
	TopP         float32       `mapstructure:"top_p"`
	Timeout      time.Duration `mapstructure:"timeout"`
	DebugRequest bool          `mapstructure:"debug_request"`
}

type GeminiConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

type VertexConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Region    string `mapstructure:"region"`
	Model     string `mapstructure:"model"`
}

type GenerationConfig struct {
	MinTestCases int `mapstructure:"min_test_cases"`
	MaxTokens    int `mapstructure:"max_tokens"`
	// Temperature is used for first generations; RegenerateTemperature for forced
	// regenerations that should vary from the cached answer.
	Temperature           float32       `mapstructure:"temperature"`
	RegenerateTemperature float32       `mapstructure:"regenerate_temperature"`
	MaxAttempts           int           `mapstructure:"max_attempts"`
	RetryBaseDelay        time.Duration `mapstructure:"retry_base_delay"`
	RetryMaxDelay         time.Duration `mapstructure:"retry_max_delay"`
	ImageConcurrency      int           `mapstructure:"image_concurrency"`
}

type CacheConfig struct {
	// Capacity of the result cache. Zero keeps every entry for the life of the process.
	Capacity int `mapstructure:"capacity"`
}

type UploadConfig struct {
	MaxImageBytes int64  `mapstructure:"max_image_bytes"`
	MaxPages      int    `mapstructure:"max_pages"`
	LocalBaseDir  string `mapstructure:"local_base_dir"`
}

type GCSConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	CredentialsFile string `mapstructure:"credentials_file"`
}

type StorageConfig struct {
	Type                string `mapstructure:"type"`
	DataDir             string `mapstructure:"data_dir"`
	CacheSize           int    `mapstructure:"cache_size"`
	FirestoreProject    string `mapstructure:"firestore_project"`
	FirestoreCollection string `mapstructure:"firestore_collection"`
	CredentialsFile     string `mapstructure:"credentials_file"`

	// Retention deletes records older than this; zero keeps them forever.
	Retention       time.Duration `mapstructure:"retention"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers"`
	ExposedHeaders   []string `mapstructure:"exposed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
	MaxAge           int      `mapstructure:"max_age"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

var cfg *Config

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 60*time.Second)
	v.SetDefault("server.write_timeout", 180*time.Second)
	v.SetDefault("server.max_header_bytes", 1<<20)
	v.SetDefault("server.request_timeout", 150*time.Second)

	v.SetDefault("model.provider", "openai")

	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.base_url", "")
	v.SetDefault("openai.model", "gpt-4o")
	v.SetDefault("openai.timeout", 120*time.Second)
	v.SetDefault("openai.image_detail", "high")

	v.SetDefault("doubao.api_key", "")
	v.SetDefault("doubao.base_url", "")
	v.SetDefault("doubao.model", "")
	v.SetDefault("doubao.timeout", 120*time.Second)

	v.SetDefault("qwen.api_key", "")
	v.SetDefault("qwen.base_url", "https://dashscope.aliyuncs.com/compatible-mode/v1")
	v.SetDefault("qwen.model", "qwen-vl-max")
	v.SetDefault("qwen.top_p", 0.8)
	v.SetDefault("qwen.timeout", 120*time.Second)
	v.SetDefault("qwen.debug_request", false)

	v.SetDefault("gemini.api_key", "")
	v.SetDefault("gemini.model", "gemini-2.0-flash")

	v.SetDefault("vertex.project_id", "")
	v.SetDefault("vertex.region", "us-central1")
	v.SetDefault("vertex.model", "gemini-1.5-pro")

	v.SetDefault("generation.min_test_cases", 10)
	v.SetDefault("generation.max_tokens", 8192)
	v.SetDefault("generation.temperature", 0.2)
	v.SetDefault("generation.regenerate_temperature", 0.7)
	v.SetDefault("generation.max_attempts", 3)
	v.SetDefault("generation.retry_base_delay", time.Second)
	v.SetDefault("generation.retry_max_delay", 10*time.Second)
	v.SetDefault("generation.image_concurrency", 4)

	v.SetDefault("cache.capacity", 256)

	v.SetDefault("upload.max_image_bytes", 10<<20)
	v.SetDefault("upload.max_pages", 20)
	v.SetDefault("upload.local_base_dir", "./data/uploads")

	v.SetDefault("gcs.enabled", false)
	v.SetDefault("gcs.credentials_file", "")

	v.SetDefault("storage.type", "memory")
	v.SetDefault("storage.data_dir", "./data")
	v.SetDefault("storage.cache_size", 100)
	v.SetDefault("storage.firestore_project", "")
	v.SetDefault("storage.firestore_collection", "generations")
	v.SetDefault("storage.credentials_file", "")
	v.SetDefault("storage.retention", 0)
	v.SetDefault("storage.cleanup_interval", time.Hour)

	v.SetDefault("cors.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("cors.allowed_methods", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"})
	v.SetDefault("cors.allowed_headers", []string{"Origin", "Content-Type", "Authorization"})
	v.SetDefault("cors.exposed_headers", []string{"Retry-After"})
	v.SetDefault("cors.allow_credentials", true)
	v.SetDefault("cors.max_age", 43200)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads configuration from configPath (YAML) layered over defaults and TESTGEN_*
// environment variables. An empty path skips the file.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("TESTGEN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configPath, err)
		}
	}

	c := &Config{}
	if err := v.Unmarshal(c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	// 配置文件优先，未设置时回退到各厂商约定的环境变量
	applyEnvFallback(&c.OpenAI.APIKey, "OPENAI_API_KEY")
	applyEnvFallback(&c.Doubao.APIKey, "ARK_API_KEY", "DOUBAO_API_KEY")
	applyEnvFallback(&c.Qwen.APIKey, "DASHSCOPE_API_KEY")
	applyEnvFallback(&c.Gemini.APIKey, "GEMINI_API_KEY", "GOOGLE_API_KEY")
	applyEnvFallback(&c.Vertex.ProjectID, "GOOGLE_CLOUD_PROJECT")

	if err := c.Validate(); err != nil {
		return nil, err
	}

	cfg = c
	return c, nil
}

func applyEnvFallback(dst *string, keys ...string) {
	if *dst != "" {
		return
	}
	for _, key := range keys {
		if value := strings.TrimSpace(os.Getenv(key)); value != "" {
			*dst = value
			return
		}
	}
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	var errs []error

	switch c.Model.Provider {
	case "openai", "doubao", "qwen", "gemini", "vertex":
	default:
		errs = append(errs, fmt.Errorf("model.provider: unsupported provider %q", c.Model.Provider))
	}
	switch c.Storage.Type {
	case "memory", "disk", "firestore":
	default:
		errs = append(errs, fmt.Errorf("storage.type: unsupported storage %q", c.Storage.Type))
	}
	if c.Generation.MinTestCases <= 0 {
		errs = append(errs, errors.New("generation.min_test_cases must be positive"))
	}
	if c.Generation.MaxAttempts <= 0 {
		errs = append(errs, errors.New("generation.max_attempts must be positive"))
	}
	if c.Generation.RetryBaseDelay <= 0 {
		errs = append(errs, errors.New("generation.retry_base_delay must be positive"))
	}
	if c.Generation.RetryMaxDelay < c.Generation.RetryBaseDelay {
		errs = append(errs, errors.New("generation.retry_max_delay must not be below retry_base_delay"))
	}
	if c.Generation.Temperature < 0 || c.Generation.RegenerateTemperature < 0 {
		errs = append(errs, errors.New("generation temperatures must not be negative"))
	}
	if c.Cache.Capacity < 0 {
		errs = append(errs, errors.New("cache.capacity must not be negative"))
	}
	if c.Upload.MaxPages <= 0 {
		errs = append(errs, errors.New("upload.max_pages must be positive"))
	}
	if c.Storage.Retention > 0 && c.Storage.CleanupInterval <= 0 {
		errs = append(errs, errors.New("storage.cleanup_interval must be positive when retention is set"))
	}
	if c.Upload.MaxImageBytes <= 0 {
		errs = append(errs, errors.New("upload.max_image_bytes must be positive"))
	}
	return errors.Join(errs...)
}

// ModelName returns the model identifier configured for the selected provider.
func (c *Config) ModelName() string {
	switch c.Model.Provider {
	case "openai":
		return c.OpenAI.Model
	case "doubao":
		return c.Doubao.Model
	case "qwen":
		return c.Qwen.Model
	case "gemini":
		return c.Gemini.Model
	case "vertex":
		return c.Vertex.Model
	}
	return ""
}

func Get() *Config {
	return cfg
}
