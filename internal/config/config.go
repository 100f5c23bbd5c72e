package config

import (
	"log"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Response modes for the interpret endpoint. Narrative returns the model's
// prose as-is; structured normalizes it into a fixed interpretation record.
const (
	ModeNarrative  = "narrative"
	ModeStructured = "structured"
)

type Config struct {
	GeminiAPIKey string
	DatabaseURL  string
	HTTPPort     string
	LogLevel     string
	JWTSecret    string
	ResponseMode string
	DevMode      bool
}

var AppConfig Config

func LoadConfig() {
	err := godotenv.Load() // Load .env file if it exists
	if err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	AppConfig = Config{
		GeminiAPIKey: getEnv("GEMINI_API_KEY", ""),
		DatabaseURL:  getEnv("DATABASE_URL", "dream_interpreter.db"),
		HTTPPort:     getEnv("HTTP_PORT", "8080"),
		LogLevel:     getEnv("LOG_LEVEL", "INFO"),
		JWTSecret:    getEnv("JWT_SECRET", ""),
		ResponseMode: getEnv("RESPONSE_MODE", ModeNarrative),
		DevMode:      strings.EqualFold(getEnv("DEV_MODE", "false"), "true"),
	}

	if AppConfig.JWTSecret == "" {
		log.Fatal("JWT_SECRET environment variable is required")
	}

	// A missing key is deliberately not fatal: the gateway reports a
	// configuration error per request and the interpret flow degrades to
	// the canned interpretation.
	if AppConfig.GeminiAPIKey == "" {
		log.Println("Warning: GEMINI_API_KEY is not set, interpretations will use the fallback text")
	}

	if AppConfig.ResponseMode != ModeNarrative && AppConfig.ResponseMode != ModeStructured {
		log.Fatalf("RESPONSE_MODE must be %q or %q, got %q", ModeNarrative, ModeStructured, AppConfig.ResponseMode)
	}
}

func getEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
