package sys

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
)

// Config holds everything read from the environment at startup.
type Config struct {
	Token        string
	GuildID      string
	DatabasePath string
	OwnerIDs     []string
	StreamingURL string
	Silent       bool

	// Music
	AudioCacheDir      string
	CacheMaxAge        time.Duration
	CacheMaxBytes      int64
	CacheEvictInterval time.Duration
	StreamMode         bool
	DefaultVolume      int
	ResolveTimeout     time.Duration
	RadioBatch         int
	RadioSimilarity    float64
	RadioSearchRPS     float64
	YoutubeProxy       string

	// Log rotation
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int
}

var GlobalConfig *Config

const envFile = ".env"

// Validate ensures the configuration is valid and meets requirements.
func (c *Config) Validate() error {
	if c.Token == "" {
		return fmt.Errorf(MsgConfigMissingToken)
	}

	// Basic Snowflake validation for GuildID if provided
	if c.GuildID != "" && (len(c.GuildID) < 17 || len(c.GuildID) > 20) {
		return fmt.Errorf("invalid GUILD_ID: must be a valid Snowflake")
	}

	if c.DefaultVolume < 0 || c.DefaultVolume > 100 {
		return fmt.Errorf("invalid MUSIC_DEFAULT_VOLUME %d: must be between 0 and 100", c.DefaultVolume)
	}
	if c.CacheMaxAge <= 0 {
		return fmt.Errorf("invalid CACHE_MAX_AGE: must be positive")
	}
	if c.CacheMaxBytes <= 0 {
		return fmt.Errorf("invalid CACHE_MAX_SIZE_MB: must be positive")
	}
	if c.CacheEvictInterval <= 0 {
		return fmt.Errorf("invalid CACHE_EVICT_INTERVAL: must be positive")
	}
	if c.RadioBatch < 1 {
		return fmt.Errorf("invalid RADIO_BATCH %d: must be at least 1", c.RadioBatch)
	}
	if c.RadioSimilarity <= 0 || c.RadioSimilarity > 1 {
		return fmt.Errorf("invalid RADIO_SIMILARITY %.2f: must be in (0, 1]", c.RadioSimilarity)
	}
	return nil
}

// LoadConfig initializes the configuration from environment variables.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load() // Ignore error if .env doesn't exist

	cfg, err := configFromEnv()
	if err != nil {
		return nil, err
	}

	if cfg.Silent {
		SetSilentMode(true)
	}

	GlobalConfig = cfg
	return cfg, nil
}

func configFromEnv() (*Config, error) {
	dbPath := os.Getenv("DATABASE_PATH")
	if dbPath == "" {
		folder := "."
		if info, err := os.Stat("data"); err == nil && info.IsDir() {
			folder = "./data"
		}
		dbPath = filepath.Join(folder, GetProjectName()+".db")
	}

	silent, _ := strconv.ParseBool(os.Getenv("SILENT"))
	streamingURL := os.Getenv("STREAMING_URL")
	if streamingURL == "" {
		streamingURL = "https://www.twitch.tv/videos/1110069047"
	}

	ownerIDsStr := os.Getenv("OWNER_IDS")
	var ownerIDs []string
	if ownerIDsStr != "" {
		ownerIDs = strings.Split(ownerIDsStr, ",")
		for i := range ownerIDs {
			ownerIDs[i] = strings.TrimSpace(ownerIDs[i])
		}
	}

	cacheDir := os.Getenv("AUDIO_CACHE_DIR")
	if cacheDir == "" {
		cacheDir = ".tracks"
	}

	var err error
	cfg := &Config{
		Token:         os.Getenv("DISCORD_TOKEN"),
		GuildID:       os.Getenv("GUILD_ID"),
		DatabasePath:  dbPath,
		OwnerIDs:      ownerIDs,
		StreamingURL:  streamingURL,
		Silent:        silent,
		AudioCacheDir: cacheDir,
		YoutubeProxy:  os.Getenv("YOUTUBE_PROXY"),
	}

	if cfg.CacheMaxAge, err = envDuration("CACHE_MAX_AGE", time.Hour); err != nil {
		return nil, err
	}
	if cfg.CacheEvictInterval, err = envDuration("CACHE_EVICT_INTERVAL", time.Hour); err != nil {
		return nil, err
	}
	if cfg.ResolveTimeout, err = envDuration("MUSIC_RESOLVE_TIMEOUT", 90*time.Second); err != nil {
		return nil, err
	}
	maxMB, err := envInt("CACHE_MAX_SIZE_MB", 500)
	if err != nil {
		return nil, err
	}
	cfg.CacheMaxBytes = int64(maxMB) << 20
	if cfg.StreamMode, err = envBool("MUSIC_STREAM_MODE", false); err != nil {
		return nil, err
	}
	if cfg.DefaultVolume, err = envInt("MUSIC_DEFAULT_VOLUME", 50); err != nil {
		return nil, err
	}
	if cfg.RadioBatch, err = envInt("RADIO_BATCH", 3); err != nil {
		return nil, err
	}
	if cfg.RadioSimilarity, err = envFloat("RADIO_SIMILARITY", 0.7); err != nil {
		return nil, err
	}
	if cfg.RadioSearchRPS, err = envFloat("RADIO_SEARCH_RPS", 2); err != nil {
		return nil, err
	}
	if cfg.LogMaxSizeMB, err = envInt("LOG_MAX_SIZE_MB", 20); err != nil {
		return nil, err
	}
	if cfg.LogMaxBackups, err = envInt("LOG_MAX_BACKUPS", 3); err != nil {
		return nil, err
	}
	if cfg.LogMaxAgeDays, err = envInt("LOG_MAX_AGE_DAYS", 14); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	// Bare numbers are seconds.
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return d, nil
}

func envInt(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return n, nil
}

func envFloat(key string, def float64) (float64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return f, nil
}

func envBool(key string, def bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return b, nil
}

// WatchEnvFile reloads the .env file whenever it is written and hands the
// new configuration to onChange. Invalid edits are logged and ignored.
func WatchEnvFile(ctx context.Context, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	// Watch the directory so editors that replace the file are still seen.
	dir := filepath.Dir(envFile)
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) != filepath.Base(envFile) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := godotenv.Overload(envFile); err != nil {
					LogWarn(MsgConfigReloadFail, err)
					continue
				}
				cfg, err := configFromEnv()
				if err != nil {
					LogWarn(MsgConfigReloadFail, err)
					continue
				}
				cfg.Silent = IsSilent
				LogInfo(MsgConfigReloaded)
				if onChange != nil {
					onChange(cfg)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				LogWarn(MsgConfigWatchError, err)
			}
		}
	}()
	return nil
}

func GetProjectName() string {
	exePath, err := os.Executable()
	projectName := "bot"
	if err == nil {
		projectName = filepath.Base(exePath)
		projectName = strings.TrimSuffix(projectName, ".exe")

		if projectName == "main" || strings.HasPrefix(projectName, "go_build_") {
			if modData, err := os.ReadFile("go.mod"); err == nil {
				lines := strings.Split(string(modData), "\n")
				if len(lines) > 0 && strings.HasPrefix(lines[0], "module ") {
					parts := strings.Split(lines[0], "/")
					projectName = strings.TrimSpace(parts[len(parts)-1])
				}
			}
		}
	}
	return projectName
}
