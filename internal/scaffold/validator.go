package scaffold

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dyluth/spoolscan/internal/config"
)

// CheckExisting checks if dir already holds a spoolscan.yml.
// Returns an error if it does, nil otherwise
func CheckExisting(dir string) error {
	if _, err := os.Stat(filepath.Join(dir, config.DefaultPath)); err != nil {
		return nil
	}

	return fmt.Errorf("project already initialized\n\nFound existing: %s\n\nUse 'spoolscan init --force' to reinitialize (this will overwrite existing configuration)", config.DefaultPath)
}
