package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"metagen/server/internal/model"
)

type Config struct {
	Addr         string
	LogLevel     string
	PublicURL    string
	AccessTTL    time.Duration
	RefreshTTL   time.Duration
	JWTSecret    string
	Cookie       string
	SecureCookie bool
	DemoEmail    string
	DemoPassword string

	Limits model.Limits

	Store       string
	DatabaseURL string

	Storage string
	S3      S3
	Minio   Minio

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	SnapshotTTL   time.Duration

	Provider         string
	GeminiAPIKey     string
	GeminiTextModel  string
	GeminiImageModel string
	ProviderRetries  int
	MaxConcurrency   int

	GenerationTimeout time.Duration
	MaxWorkspaces     int
	EventRetention    int

	GAMeasurementID string
	GAAPISecret     string

	KafkaBrokers []string
	KafkaTopic   string

	FFProbe bool
}

type S3 struct {
	Bucket        string
	Region        string
	Endpoint      string
	AccessKey     string
	SecretKey     string
	PathStyle     bool
	PublicBaseURL string
	URLTTL        time.Duration
}

type Minio struct {
	Endpoint      string
	AccessKey     string
	SecretKey     string
	Bucket        string
	UseSSL        bool
	PublicBaseURL string
	URLTTL        time.Duration
}

// Load reads .env when present, then the process environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, err
	}

	d := model.DefaultLimits()
	limits := model.Limits{
		HookTextMax:        envInt("METAGEN_HOOK_MAX", d.HookTextMax),
		TitleMax:           envInt("METAGEN_TITLE_MAX", d.TitleMax),
		DescriptionMax:     envInt("METAGEN_DESCRIPTION_MAX", d.DescriptionMax),
		ContextMax:         envInt("METAGEN_CONTEXT_MAX", d.ContextMax),
		TagsMax:            envInt("METAGEN_TAGS_MAX", d.TagsMax),
		VariantsMax:        envInt("METAGEN_VARIANTS_MAX", d.VariantsMax),
		VariantsInitial:    envInt("METAGEN_VARIANTS_INITIAL", d.VariantsInitial),
		VariantsRegenerate: envInt("METAGEN_VARIANTS_REGENERATE", d.VariantsRegenerate),
		VideoMaxBytes:      envInt64("METAGEN_VIDEO_MAX_MB", d.VideoMaxBytes>>20) << 20,
		VideoMaxDuration:   envDuration("METAGEN_VIDEO_MAX_DURATION", d.VideoMaxDuration),
		ImageMaxBytes:      envInt64("METAGEN_IMAGE_MAX_MB", d.ImageMaxBytes>>20) << 20,
		ImageMaxCount:      envInt("METAGEN_IMAGE_MAX_COUNT", d.ImageMaxCount),
		AlertVisibleFor:    envDuration("METAGEN_ALERT_VISIBLE", d.AlertVisibleFor),
		AlertFadeFor:       envDuration("METAGEN_ALERT_FADE", d.AlertFadeFor),
	}

	cfg := Config{
		Addr:         env("METAGEN_SERVER_ADDR", ":8080"),
		LogLevel:     env("METAGEN_LOG_LEVEL", "info"),
		PublicURL:    strings.TrimRight(env("METAGEN_PUBLIC_URL", "http://localhost:8080"), "/"),
		AccessTTL:    envDuration("METAGEN_ACCESS_TTL", 15*time.Minute),
		RefreshTTL:   envDuration("METAGEN_REFRESH_TTL", 14*24*time.Hour),
		JWTSecret:    env("METAGEN_JWT_SECRET", "dev-change-me"),
		Cookie:       env("METAGEN_SESSION_COOKIE", "metagen_session"),
		SecureCookie: envBool("METAGEN_SECURE_COOKIE", false),
		DemoEmail:    os.Getenv("METAGEN_DEMO_EMAIL"),
		DemoPassword: os.Getenv("METAGEN_DEMO_PASSWORD"),

		Limits: limits.Normalize(),

		Store:       env("METAGEN_STORE", "memory"),
		DatabaseURL: os.Getenv("METAGEN_DATABASE_URL"),

		Storage: env("METAGEN_STORAGE", "memory"),
		S3: S3{
			Bucket:        os.Getenv("METAGEN_S3_BUCKET"),
			Region:        env("METAGEN_S3_REGION", "us-east-1"),
			Endpoint:      os.Getenv("METAGEN_S3_ENDPOINT"),
			AccessKey:     os.Getenv("METAGEN_S3_ACCESS_KEY"),
			SecretKey:     os.Getenv("METAGEN_S3_SECRET_KEY"),
			PathStyle:     envBool("METAGEN_S3_PATH_STYLE", false),
			PublicBaseURL: os.Getenv("METAGEN_S3_PUBLIC_URL"),
			URLTTL:        envDuration("METAGEN_S3_URL_TTL", time.Hour),
		},
		Minio: Minio{
			Endpoint:      env("METAGEN_MINIO_ENDPOINT", "localhost:9000"),
			AccessKey:     os.Getenv("METAGEN_MINIO_ACCESS_KEY"),
			SecretKey:     os.Getenv("METAGEN_MINIO_SECRET_KEY"),
			Bucket:        env("METAGEN_MINIO_BUCKET", "metagen"),
			UseSSL:        envBool("METAGEN_MINIO_SSL", false),
			PublicBaseURL: os.Getenv("METAGEN_MINIO_PUBLIC_URL"),
			URLTTL:        envDuration("METAGEN_MINIO_URL_TTL", time.Hour),
		},

		RedisAddr:     os.Getenv("METAGEN_REDIS_ADDR"),
		RedisPassword: os.Getenv("METAGEN_REDIS_PASSWORD"),
		RedisDB:       envInt("METAGEN_REDIS_DB", 0),
		SnapshotTTL:   envDuration("METAGEN_SNAPSHOT_TTL", 24*time.Hour),

		Provider:         env("METAGEN_PROVIDER", "mock"),
		GeminiAPIKey:     os.Getenv("GEMINI_API_KEY"),
		GeminiTextModel:  os.Getenv("METAGEN_GEMINI_TEXT_MODEL"),
		GeminiImageModel: os.Getenv("METAGEN_GEMINI_IMAGE_MODEL"),
		ProviderRetries:  envInt("METAGEN_PROVIDER_RETRIES", 3),
		MaxConcurrency:   envInt("METAGEN_PROVIDER_CONCURRENCY", 8),

		GenerationTimeout: envDuration("METAGEN_GENERATION_TIMEOUT", 2*time.Minute),
		MaxWorkspaces:     envInt("METAGEN_MAX_USER_WORKSPACES", 20),
		EventRetention:    envInt("METAGEN_EVENT_RETENTION", 500),

		GAMeasurementID: os.Getenv("METAGEN_GA_MEASUREMENT_ID"),
		GAAPISecret:     os.Getenv("METAGEN_GA_API_SECRET"),

		KafkaBrokers: envList("METAGEN_KAFKA_BROKERS"),
		KafkaTopic:   env("METAGEN_KAFKA_TOPIC", "metagen.generation"),

		FFProbe: envBool("METAGEN_FFPROBE", false),
	}
	return cfg, nil
}

func env(key, fallback string) string {
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

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
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

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
