package config

import (
	"bufio"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

type Config struct {
	HTTPAddr   string
	DataDir    string
	DBPath     string
	WebDir     string
	RosterPath string
	SessionID  string

	GeminiAPIKey string
	GeminiModel  string

	// AutoPublish controls whether engaged responses are pushed to the
	// social provider, or only recorded as reactions.
	AutoPublish      bool
	MaxThreadReplies int
}

func Load() Config {
	loadDotEnv(".env")
	dataDir := getEnv("CASTD_DATA_DIR", "data")
	return Config{
		HTTPAddr:   getEnv("CASTD_HTTP_ADDR", ":8080"),
		DataDir:    dataDir,
		DBPath:     getEnv("CASTD_DB_PATH", filepath.Join(dataDir, "castd.db")),
		WebDir:     getEnv("CASTD_WEB_DIR", "web"),
		RosterPath: getEnv("CASTD_ROSTER_PATH", filepath.Join(dataDir, "characters.yaml")),
		SessionID:  getEnv("CASTD_SESSION_ID", "default"),

		GeminiAPIKey: getEnv("CASTD_GEMINI_API_KEY", ""),
		GeminiModel:  getEnv("CASTD_GEMINI_MODEL", "gemini-2.0-flash"),

		AutoPublish:      getBool("CASTD_AUTO_PUBLISH", false),
		MaxThreadReplies: getInt("CASTD_MAX_THREAD_REPLIES", 3),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return parsed
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(v)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func loadDotEnv(path string) {
	file, err := os.Open(path)
	if err != nil {
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "export ") {
			line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		value = strings.TrimSpace(value)
		value = strings.Trim(value, `"'`)
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		_ = os.Setenv(key, value)
	}
}
