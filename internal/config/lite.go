package config

import (
	"os"
	"path/filepath"

	"github.com/trial-matcher-server/internal/domain"
)

// DataDirEnv overrides the lite-mode data directory.
const DataDirEnv = "TRIAL_MATCHER_DATA_DIR"

// DefaultDataDir is where lite mode keeps its files.
func DefaultDataDir() string {
	if v := os.Getenv(DataDirEnv); v != "" {
		return v
	}
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".trial-matcher")
}

// FeedbackDBPath returns the path to the feedback SQLite database.
func FeedbackDBPath(dataDir string) string {
	return filepath.Join(dataDir, "feedback.db")
}

// ApplyLite switches cfg to standalone operation: in-memory trials, SQLite
// feedback under dataDir, no Redis. It creates dataDir.
func ApplyLite(cfg *domain.Config, dataDir string) error {
	if dataDir == "" {
		dataDir = DefaultDataDir()
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return err
	}

	cfg.Matching.UseMemoryStore = true
	cfg.Feedback.Driver = domain.FeedbackDriverSQLite
	if cfg.Feedback.SQLitePath == "" {
		cfg.Feedback.SQLitePath = FeedbackDBPath(dataDir)
	}
	cfg.Cache.RedisURL = ""
	return nil
}
