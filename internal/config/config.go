// Package config provides configuration management for the application.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	// VisionModeLive sends images to the hosted vision model.
	VisionModeLive = "live"
	// VisionModeMock answers with fixed annotations and never leaves the process.
	VisionModeMock = "mock"
)

// DefaultFrontendURL is the CORS origin used when FRONTEND_URL is unset or blank.
const DefaultFrontendURL = "https://labeling-tool-rust.vercel.app"

// Config holds all configuration for the application.
type Config struct {
	// Server configuration
	ServerPort  string
	FrontendURL string
	Environment string

	// Vision model configuration
	OpenAIAPIKey   string
	OpenAIModel    string
	OpenAIBaseURL  string
	VisionMode     string
	ModelTimeout   time.Duration
	ModelMaxTokens int // 0 leaves the completion length to the provider

	// Cloudinary configuration
	CloudinaryCloudName string
	CloudinaryAPIKey    string
	CloudinaryAPISecret string
	UploadFolder        string

	// Input limits
	MaxImageBytes int64
	MaxBodyBytes  int64

	// Optional Redis prediction cache
	RedisURL string
	CacheTTL time.Duration

	// Optional ground-truth database
	DatabaseURL string
}

// New creates a new Config with values from a .env file, environment variables or defaults.
func New() *Config {
	// A missing .env file is not an error.
	_ = godotenv.Load()

	apiKey := getEnv("OPENAI_API_KEY", "")

	return &Config{
		ServerPort:          getEnv("PORT", "3001"),
		FrontendURL:         getEnvNonEmpty("FRONTEND_URL", DefaultFrontendURL),
		Environment:         getEnv("ENVIRONMENT", "development"),
		OpenAIAPIKey:        apiKey,
		OpenAIModel:         getEnv("OPENAI_MODEL", "gpt-4.1"),
		OpenAIBaseURL:       getEnv("OPENAI_BASE_URL", ""),
		VisionMode:          resolveVisionMode(getEnv("VISION_MODE", ""), apiKey),
		ModelTimeout:        time.Duration(getEnvInt("MODEL_TIMEOUT_SECONDS", 60)) * time.Second,
		ModelMaxTokens:      getEnvInt("MODEL_MAX_TOKENS", 0),
		CloudinaryCloudName: getEnv("CLOUDINARY_CLOUD_NAME", ""),
		CloudinaryAPIKey:    getEnv("CLOUDINARY_API_KEY", ""),
		CloudinaryAPISecret: getEnv("CLOUDINARY_API_SECRET", ""),
		UploadFolder:        getEnv("UPLOAD_FOLDER", "labeling-tool"),
		MaxImageBytes:       int64(getEnvInt("MAX_IMAGE_BYTES", 10<<20)),
		MaxBodyBytes:        int64(getEnvInt("MAX_BODY_BYTES", 50<<20)),
		RedisURL:            getEnv("REDIS_URL", ""),
		CacheTTL:            time.Duration(getEnvInt("CACHE_TTL_SECONDS", 3600)) * time.Second,
		DatabaseURL:         getEnv("DATABASE_URL", ""),
	}
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsMockVision returns true if model calls are answered by the built-in mock.
func (c *Config) IsMockVision() bool {
	return c.VisionMode == VisionModeMock
}

// HasCloudinary returns true if all Cloudinary credentials are present.
func (c *Config) HasCloudinary() bool {
	return c.CloudinaryCloudName != "" && c.CloudinaryAPIKey != "" && c.CloudinaryAPISecret != ""
}

// resolveVisionMode picks the model strategy once at start. Without an API key
// the live model cannot be reached, so the mock is used.
func resolveVisionMode(mode, apiKey string) string {
	switch mode {
	case VisionModeMock:
		return VisionModeMock
	case VisionModeLive:
		if apiKey != "" {
			return VisionModeLive
		}
		return VisionModeMock
	}
	if apiKey == "" {
		return VisionModeMock
	}
	return VisionModeLive
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvNonEmpty treats a variable that is set but blank as unset.
func getEnvNonEmpty(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
