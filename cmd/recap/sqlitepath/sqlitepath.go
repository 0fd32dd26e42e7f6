// Package sqlitepath resolves where the local conversation database lives.
package sqlitepath

import (
	"fmt"
	"os"
	"path/filepath"
)

// EnvSQLitePath overrides the default database location.
const EnvSQLitePath = "RECAP_SQLITE"

// ResolveSQLitePath returns the database path to use: the explicit flag
// value, then $RECAP_SQLITE, then ~/.recap/recap.db. The directory of the
// default path is created if needed.
func ResolveSQLitePath(flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if env := os.Getenv(EnvSQLitePath); env != "" {
		return env, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}

	dir := filepath.Join(home, ".recap")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "recap.db"), nil
}
