//go:build prod

package database

import (
	"os"
	"path/filepath"

	"rustsentry/internal/logging"
)

// GetDefaultDBPath returns the database path for production mode.
// The database is stored under the user's data directory.
func GetDefaultDBPath() string {
	log := logging.Component("database")

	dataDir, err := os.UserConfigDir()
	if err != nil {
		log.Warn().Err(err).Msg("failed to get user config dir, using working directory")
		return "rustsentry.db"
	}

	appDir := filepath.Join(dataDir, "rustsentry")
	if err := os.MkdirAll(appDir, 0o755); err != nil {
		log.Warn().Err(err).Msg("failed to create app data dir, using working directory")
		return "rustsentry.db"
	}

	return filepath.Join(appDir, "rustsentry.db")
}

func IsDevelopment() bool {
	return false
}
