package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config 구조체 - 모든 환경변수를 담음
type Config struct {
	// Gemini API
	GeminiAPIKey  string
	GeminiModel   string
	GeminiBaseURL string // 비워두면 SDK 기본 엔드포인트

	// Redis (선택 - 비워두면 in-memory marker 사용)
	RedisHost       string
	RedisPort       string
	RedisUsername   string
	RedisPassword   string
	RedisUseTLS     bool
	ActiveMarkerTTL time.Duration

	// Parser
	StripFences bool

	// Preview
	PreviewMaxSize int
	PreviewQuality float32

	// Server
	Port string
}

// LoadConfig - 환경변수 로드
// API 키가 없으면 에러를 반환하고, 호출자는 서버를 시작하지 않는다.
func LoadConfig() (*Config, error) {
	// .env 파일 로드 (있으면)
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  .env file not found, using environment variables")
	}

	cfg := &Config{
		// Gemini API (API_KEY는 예전 이름 호환)
		GeminiAPIKey:  getEnv("GEMINI_API_KEY", os.Getenv("API_KEY")),
		GeminiModel:   getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
		GeminiBaseURL: getEnv("GEMINI_BASE_URL", ""),

		// Redis
		RedisHost:       getEnv("REDIS_HOST", ""),
		RedisPort:       getEnv("REDIS_PORT", "6379"),
		RedisUsername:   getEnv("REDIS_USERNAME", ""),
		RedisPassword:   getEnv("REDIS_PASSWORD", ""),
		RedisUseTLS:     getEnvBool("REDIS_USE_TLS", false),
		ActiveMarkerTTL: getEnvDuration("ACTIVE_MARKER_TTL", 10*time.Minute),

		// Parser
		StripFences: getEnvBool("PARSER_STRIP_FENCES", false),

		// Preview
		PreviewMaxSize: getEnvInt("PREVIEW_MAX_SIZE", 256),
		PreviewQuality: float32(getEnvInt("PREVIEW_QUALITY", 75)),

		// Server
		Port: getEnv("PORT", "8080"),
	}

	// 필수 환경변수 검증
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	log.Println("✅ Configuration loaded successfully")
	log.Printf("   Gemini: %s", cfg.GeminiModel)
	if cfg.RedisEnabled() {
		log.Printf("   Redis: %s (TLS: %v)", cfg.GetRedisAddr(), cfg.RedisUseTLS)
	} else {
		log.Printf("   Redis: disabled (in-memory active marker)")
	}
	log.Printf("   Parser: stripFences=%v", cfg.StripFences)

	return cfg, nil
}

// validate - 필수 환경변수 검증
func (c *Config) validate() error {
	if c.GeminiAPIKey == "" {
		return fmt.Errorf("GEMINI_API_KEY is required")
	}
	if c.GeminiModel == "" {
		return fmt.Errorf("GEMINI_MODEL must not be empty")
	}
	if c.PreviewMaxSize <= 0 {
		return fmt.Errorf("PREVIEW_MAX_SIZE must be positive, got %d", c.PreviewMaxSize)
	}
	if c.PreviewQuality <= 0 || c.PreviewQuality > 100 {
		return fmt.Errorf("PREVIEW_QUALITY must be in 1..100, got %.0f", c.PreviewQuality)
	}
	return nil
}

// RedisEnabled - REDIS_HOST가 설정된 경우에만 Redis 사용
func (c *Config) RedisEnabled() bool {
	return c.RedisHost != ""
}

// GetRedisAddr - Redis 연결 문자열 생성
func (c *Config) GetRedisAddr() string {
	return fmt.Sprintf("%s:%s", c.RedisHost, c.RedisPort)
}

// getEnv - 환경변수 가져오기 (기본값 지원)
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if s := os.Getenv(key); s != "" {
		if parsed, err := strconv.ParseBool(s); err == nil {
			return parsed
		}
		log.Printf("⚠️  Invalid %s=%q, using default %v", key, s, defaultValue)
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if s := os.Getenv(key); s != "" {
		if parsed, err := strconv.Atoi(s); err == nil {
			return parsed
		}
		log.Printf("⚠️  Invalid %s=%q, using default %d", key, s, defaultValue)
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if s := os.Getenv(key); s != "" {
		if parsed, err := time.ParseDuration(s); err == nil && parsed > 0 {
			return parsed
		}
		log.Printf("⚠️  Invalid %s=%q, using default %s", key, s, defaultValue)
	}
	return defaultValue
}
