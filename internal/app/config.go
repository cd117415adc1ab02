package app

import (
	"os"
	"strconv"
	"strings"
)

// Config holds the bootstrap configuration read from the environment.
// Everything that can change at runtime lives in SettingsManager instead.
type Config struct {
	HTTPAddr               string
	MongoURI               string
	MongoDatabase          string
	LogLevel               string
	LogFormat              string
	SettingsPath           string
	YTDLPPath              string
	FFMPEGPath             string
	FFProbePath            string
	MetadataTimeoutSeconds int64
	CORSAllowedOrigins     []string
}

func LoadConfig() Config {
	return Config{
		HTTPAddr:               getEnv("HTTP_ADDR", ":8080"),
		MongoURI:               getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDatabase:          getEnv("MONGO_DB", "playlistsync"),
		LogLevel:               strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:              strings.ToLower(getEnv("LOG_FORMAT", "text")),
		SettingsPath:           getEnv("SETTINGS_PATH", "./data/settings.conf"),
		YTDLPPath:              getEnv("YTDLP_PATH", "yt-dlp"),
		FFMPEGPath:             getEnv("FFMPEG_PATH", "ffmpeg"),
		FFProbePath:            getEnv("FFPROBE_PATH", "ffprobe"),
		MetadataTimeoutSeconds: getEnvInt64("METADATA_TIMEOUT_SECONDS", 120),
		CORSAllowedOrigins:     getEnvList("CORS_ALLOWED_ORIGINS"),
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvList(key string) []string {
	raw := os.Getenv(key)
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			values = append(values, trimmed)
		}
	}
	return values
}

func getEnvInt64(key string, fallback int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fallback
	}
	if parsed < 0 {
		return fallback
	}
	return parsed
}
