package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	APIPort            string
	WorkerEnabled      bool
	BackendAPIKey      string // API key for authenticating requests (empty = no auth, dev mode)
	CorsAllowedOrigins string // Comma-separated allowed origins (empty = *, dev mode)

	// Database
	DatabaseURL string

	// Redis
	RedisURL string

	// OpenAI (script planning, fallback TTS)
	OpenAIKey string

	// Gemini (generated background images when stock search fails)
	GeminiKey   string
	ImagenModel string

	// Pexels (stock footage search)
	PexelsKey string

	// ElevenLabs (preferred TTS provider)
	ElevenLabsKey     string
	ElevenLabsVoiceID string

	// Rendering
	TempDir            string
	OutputDir          string
	RenderWorkers      int     // 0 = derive from CPU count
	RenderTaskTimeout  int     // seconds per segment encode, 0 = no timeout
	DefaultDuration    float64 // target video length when the request omits one
	DefaultFPS         int
	BannerImagePath    string // optional branding overlay on the opening segment
	MaxConcurrentRuns  int

	// Artifacts older than this are swept; 0 disables the sweep.
	ArtifactRetentionDays int
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error in production)
	_ = godotenv.Load()

	cfg := &Config{
		APIPort:            getEnv("API_PORT", "8080"),
		WorkerEnabled:      getEnvBool("WORKER_ENABLED", true),
		BackendAPIKey:      getEnv("BACKEND_API_KEY", ""),
		CorsAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", ""),
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		RedisURL:           getEnv("REDIS_URL", "redis://localhost:6379"),
		OpenAIKey:          getEnv("OPENAI_API_KEY", ""),
		GeminiKey:          getEnv("GEMINI_API_KEY", ""),
		ImagenModel:        getEnv("IMAGEN_MODEL", ""),
		PexelsKey:          getEnv("PEXELS_API_KEY", ""),
		ElevenLabsKey:      getEnv("ELEVENLABS_API_KEY", ""),
		ElevenLabsVoiceID:  getEnv("ELEVENLABS_VOICE_ID", ""),
		TempDir:            getEnv("TEMP_DIR", os.TempDir()),
		OutputDir:          getEnv("OUTPUT_DIR", "output"),
		RenderWorkers:      getEnvInt("RENDER_WORKERS", 0),
		RenderTaskTimeout:  getEnvInt("RENDER_TASK_TIMEOUT_SECONDS", 0),
		DefaultDuration:    getEnvFloat("DEFAULT_DURATION_SECONDS", 60),
		DefaultFPS:         getEnvInt("DEFAULT_FPS", 30),
		BannerImagePath:    getEnv("BANNER_IMAGE_PATH", ""),
		MaxConcurrentRuns:  getEnvInt("MAX_CONCURRENT_RUNS", 2),

		ArtifactRetentionDays: getEnvInt("ARTIFACT_RETENTION_DAYS", 0),
	}

	// Validate required fields
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.OpenAIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required")
	}

	// At least one visual source must be configured
	if cfg.PexelsKey == "" && cfg.GeminiKey == "" {
		return nil, fmt.Errorf("either PEXELS_API_KEY or GEMINI_API_KEY is required for visuals")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		b, err := strconv.ParseBool(value)
		if err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		i, err := strconv.Atoi(value)
		if err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		f, err := strconv.ParseFloat(value, 64)
		if err == nil {
			return f
		}
	}
	return defaultValue
}
