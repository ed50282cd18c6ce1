package config

import (
	"os"
	"strconv"
	"time"
)

type R2 struct {
	AccountID  string
	AccessKey  string
	SecretKey  string
	BucketName string
	PresignTTL time.Duration
}

type Graph struct {
	BaseURL          string
	Version          string
	InstagramBaseURL string
	AppID            string
	AppSecret        string
}

type WhatsApp struct {
	PhoneNumberID      string
	AccessToken        string
	DefaultCountryCode string
	Concurrency        int
	FailurePolicy      string
}

type Instagram struct {
	UserID       string
	AccessToken  string
	PollInterval time.Duration
	PollAttempts int
	PollBudget   time.Duration
}

type Worker struct {
	Concurrency          int
	MaxRetry             int
	StaleProcessingAfter time.Duration
	DueSweepEvery        string
	StaleSweepEvery      string
	TokenSweepEvery      string
}

type Config struct {
	HTTPAddr           string
	PostgresURI        string
	RedisURI           string
	FrontendURL        string
	SecretKey          string
	CookieName         string
	ChannelCallTimeout time.Duration
	TokenRefreshMargin time.Duration
	Graph              Graph
	WhatsApp           WhatsApp
	Instagram          Instagram
	Worker             Worker
	R2                 R2
}

func LoadConfig() *Config {
	return &Config{
		HTTPAddr:           getEnv("HTTP_ADDR", ":3000"),
		PostgresURI:        getEnv("POSTGRES_URI", ""),
		RedisURI:           getEnv("REDIS_URI", "127.0.0.1:6379"),
		FrontendURL:        getEnv("FRONTEND_URL", "http://localhost:5173"),
		SecretKey:          getEnv("SECRET_KEY", ""),
		CookieName:         getEnv("COOKIE_NAME", "session"),
		ChannelCallTimeout: getEnvDuration("CHANNEL_CALL_TIMEOUT", 30*time.Second),
		TokenRefreshMargin: getEnvDuration("TOKEN_REFRESH_MARGIN", 5*24*time.Hour),
		Graph: Graph{
			BaseURL:          getEnv("GRAPH_API_BASE", "https://graph.facebook.com"),
			Version:          getEnv("GRAPH_API_VERSION", "v19.0"),
			InstagramBaseURL: getEnv("INSTAGRAM_API_BASE", "https://graph.instagram.com"),
			AppID:            getEnv("META_APP_ID", ""),
			AppSecret:        getEnv("META_APP_SECRET", ""),
		},
		WhatsApp: WhatsApp{
			PhoneNumberID:      getEnv("WHATSAPP_PHONE_NUMBER_ID", ""),
			AccessToken:        getEnv("WHATSAPP_ACCESS_TOKEN", ""),
			DefaultCountryCode: getEnv("DEFAULT_COUNTRY_CODE", "91"),
			Concurrency:        getEnvInt("WHATSAPP_CONCURRENCY", 10),
			FailurePolicy:      getEnv("WHATSAPP_FAILURE_POLICY", "tolerate"),
		},
		Instagram: Instagram{
			UserID:       getEnv("INSTAGRAM_USER_ID", ""),
			AccessToken:  getEnv("INSTAGRAM_ACCESS_TOKEN", ""),
			PollInterval: getEnvDuration("INSTAGRAM_POLL_INTERVAL", 5*time.Second),
			PollAttempts: getEnvInt("INSTAGRAM_POLL_ATTEMPTS", 36),
			PollBudget:   getEnvDuration("INSTAGRAM_POLL_BUDGET", 3*time.Minute),
		},
		Worker: Worker{
			Concurrency:          getEnvInt("WORKER_CONCURRENCY", 10),
			MaxRetry:             getEnvInt("TASK_MAX_RETRY", 5),
			StaleProcessingAfter: getEnvDuration("STALE_PROCESSING_AFTER", 15*time.Minute),
			DueSweepEvery:        getEnv("DUE_SWEEP_SCHEDULE", "@every 00h01m00s"),
			StaleSweepEvery:      getEnv("STALE_SWEEP_SCHEDULE", "@every 00h05m00s"),
			TokenSweepEvery:      getEnv("TOKEN_SWEEP_SCHEDULE", "@every 00h10m00s"),
		},
		R2: R2{
			AccountID:  getEnv("R2_ACCOUNT_ID", ""),
			AccessKey:  getEnv("R2_ACCESS_KEY", ""),
			SecretKey:  getEnv("R2_SECRET_KEY", ""),
			BucketName: getEnv("R2_BUCKET_NAME", ""),
			PresignTTL: getEnvDuration("R2_PRESIGN_TTL", time.Hour),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
