package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	DatabaseURL string

	MailHub       string // host:port of the SMTP relay
	AuthUser      string
	AuthPass      string
	FromEmail     string
	SkipTLSVerify bool
	SMTPTimeout   time.Duration // per-send timeout around the transport call
	SendsPerSec   float64       // transport-level rate limit; 0 disables

	UploadDir string // drop directory for {agency_code}.pdf files
	DraftDir  string // where draft .eml files are rendered

	DefaultDelay   time.Duration // inter-send pause for batch dispatch
	DailyMailLimit int

	LogLevel string
	LogJSON  bool

	Port string
}

// LoadConfig reads configuration from .env / environment variables.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables directly.")
	}

	cfg := &Config{
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		MailHub:        os.Getenv("MAILHUB"),
		AuthUser:       os.Getenv("AUTHUSER"),
		AuthPass:       os.Getenv("AUTHPASS"),
		FromEmail:      os.Getenv("FROM_EMAIL"),
		SkipTLSVerify:  os.Getenv("SKIP_TLS_VERIFY") == "YES",
		SMTPTimeout:    durationEnv("SMTP_TIMEOUT", 30*time.Second),
		SendsPerSec:    floatEnv("SENDS_PER_SEC", 0),
		UploadDir:      stringEnv("UPLOAD_DIR", "./uploads"),
		DraftDir:       stringEnv("DRAFT_DIR", "./drafts"),
		DefaultDelay:   durationEnv("SEND_DELAY", 15*time.Second),
		DailyMailLimit: intEnv("DAILY_MAIL_LIMIT", 2000),
		LogLevel:       stringEnv("LOG_LEVEL", "info"),
		LogJSON:        os.Getenv("LOG_JSON") == "YES",
		Port:           stringEnv("PORT", "8080"),
	}
	return cfg, nil
}

func stringEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func intEnv(key string, def int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil || v == 0 {
		return def
	}
	return v
}

func floatEnv(key string, def float64) float64 {
	v, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil {
		return def
	}
	return v
}

func durationEnv(key string, def time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	// Accept plain seconds ("15") as well as Go duration strings ("15s").
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	log.Printf("%s is not a valid duration, defaulting to %s", key, def)
	return def
}
