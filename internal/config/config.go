package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"microblog_bot/internal/util"
)

type Config struct {
	MastodonServer      string
	MastodonAccessToken string
	BotUsername         string
	AllowRemoteUsers    bool

	// ストレージ設定
	StorageBackend string
	StorageFile    string
	SQLiteFile     string
	RedisURL       string
	RedisPrefix    string
	MaxStoredPosts int

	// 投稿・配信設定
	MaxPostChars        int
	MaxStatusChars      int
	MaxNeighbours       int
	DedupAcrossChannels bool
	AutoRegisterUsers   bool
	Debug               bool

	LinkBlocklist []string

	SlackBotToken       string
	SlackChannelID      string
	SlackErrorChannelID string

	MetricsLogFile            string
	MetricsLogIntervalMinutes int
	MetricsAddr               string
}

// LoadEnvironment reads a .env file. An empty path looks in the data directory.
func LoadEnvironment(envPath string) error {
	if envPath == "" {
		envPath = util.DataFilePath(".env")
	}

	if err := godotenv.Load(envPath); err != nil {
		return fmt.Errorf(".env file not found: %s: %w", envPath, err)
	}
	log.Printf(".envファイルを読み込みました: %s", envPath)
	return nil
}

func LoadConfig() *Config {
	return &Config{
		MastodonServer:      os.Getenv("MASTODON_SERVER"),
		MastodonAccessToken: os.Getenv("MASTODON_ACCESS_TOKEN"),
		BotUsername:         os.Getenv("BOT_USERNAME"),
		AllowRemoteUsers:    parseBool(os.Getenv("ALLOW_REMOTE_USERS"), true),

		StorageBackend: parseString(os.Getenv("STORAGE_BACKEND"), StorageBackendFile),
		StorageFile:    parseString(os.Getenv("STORAGE_FILE"), DirectoryFileName),
		SQLiteFile:     parseString(os.Getenv("SQLITE_FILE"), SQLiteFileName),
		RedisURL:       os.Getenv("REDIS_URL"),
		RedisPrefix:    parseString(os.Getenv("REDIS_PREFIX"), DefaultRedisPrefix),
		MaxStoredPosts: parseIntWithDefault(os.Getenv("MAX_STORED_POSTS"), DefaultMaxStoredPosts),

		MaxPostChars:        parseIntWithDefault(os.Getenv("MAX_POST_CHARS"), 0),
		MaxStatusChars:      parseIntWithDefault(os.Getenv("MAX_STATUS_CHARS"), 480),
		MaxNeighbours:       parseIntWithDefault(os.Getenv("MAX_NEIGHBOURS"), 20),
		DedupAcrossChannels: parseBool(os.Getenv("DEDUP_ACROSS_CHANNELS"), false),
		AutoRegisterUsers:   parseBool(os.Getenv("AUTO_REGISTER_USERS"), true),
		Debug:               parseBool(os.Getenv("DEBUG"), false),

		LinkBlocklist: util.SplitList(os.Getenv("LINK_BLOCKLIST")),

		SlackBotToken:       os.Getenv("SLACK_BOT_TOKEN"),
		SlackChannelID:      os.Getenv("SLACK_CHANNEL_ID"),
		SlackErrorChannelID: os.Getenv("SLACK_ERROR_CHANNEL_ID"),

		MetricsLogFile:            os.Getenv("METRICS_LOG_FILE"),
		MetricsLogIntervalMinutes: parseIntWithDefault(os.Getenv("METRICS_LOG_INTERVAL_MINUTES"), 60),
		MetricsAddr:               os.Getenv("METRICS_ADDR"),
	}
}

// Validate reports every missing or inconsistent setting at once
func (c *Config) Validate() error {
	var errs []error

	if c.MastodonServer == "" {
		errs = append(errs, errors.New("MASTODON_SERVER is required"))
	}
	if c.MastodonAccessToken == "" {
		errs = append(errs, errors.New("MASTODON_ACCESS_TOKEN is required"))
	}
	if c.BotUsername == "" {
		errs = append(errs, errors.New("BOT_USERNAME is required"))
	}

	switch c.StorageBackend {
	case StorageBackendMemory, StorageBackendFile, StorageBackendSQLite:
	case StorageBackendRedis:
		if c.RedisURL == "" {
			errs = append(errs, errors.New("REDIS_URL is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORAGE_BACKEND %q", c.StorageBackend))
	}

	if c.MaxPostChars < 0 {
		errs = append(errs, errors.New("MAX_POST_CHARS must not be negative"))
	}
	if c.MaxStatusChars < 20 {
		errs = append(errs, errors.New("MAX_STATUS_CHARS must be at least 20"))
	}
	if c.MaxNeighbours < 0 {
		errs = append(errs, errors.New("MAX_NEIGHBOURS must not be negative"))
	}
	if c.MetricsLogFile != "" && c.MetricsLogIntervalMinutes <= 0 {
		errs = append(errs, errors.New("METRICS_LOG_INTERVAL_MINUTES must be positive"))
	}

	return errors.Join(errs...)
}

func parseString(value, defaultValue string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return defaultValue
	}
	return value
}

func parseBool(value string, defaultValue bool) bool {
	if value == "" {
		return defaultValue
	}
	return value == "true" || value == "1"
}

func parseIntWithDefault(value string, defaultValue int) int {
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("invalid number %q, using default %d", value, defaultValue)
		return defaultValue
	}
	return parsed
}
