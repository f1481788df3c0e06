// Package scaffold writes a starter spoolscan.yml for 'spoolscan init'.
package scaffold

import (
	"embed"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dyluth/spoolscan/internal/config"
)

//go:embed templates/*
var templatesFS embed.FS

// FileInfo represents a file to be created during initialization
type FileInfo struct {
	Path        string
	Content     []byte
	Permissions os.FileMode
}

// Initialize writes spoolscan.yml into dir.
// If force is true, an existing spoolscan.yml is replaced.
func Initialize(dir string, force bool, w io.Writer) error {
	if force {
		if err := handleForce(dir, w); err != nil {
			return err
		}
	}

	files, err := getTemplateFiles(dir)
	if err != nil {
		return err
	}

	if err := writeFiles(files, force); err != nil {
		return err
	}

	return validateCreatedFiles(dir)
}

// handleForce removes an existing spoolscan.yml if --force was specified
func handleForce(dir string, w io.Writer) error {
	path := filepath.Join(dir, config.DefaultPath)
	if _, err := os.Stat(path); err == nil {
		fmt.Fprintf(w, "⚠️  Removing existing %s...\n", config.DefaultPath)
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("failed to remove %s: %w", config.DefaultPath, err)
		}
	}
	return nil
}

func getTemplateFiles(dir string) ([]FileInfo, error) {
	cfg, err := templatesFS.ReadFile("templates/spoolscan.yml.tmpl")
	if err != nil {
		return nil, fmt.Errorf("failed to read spoolscan.yml template: %w", err)
	}
	return []FileInfo{{
		Path:        filepath.Join(dir, config.DefaultPath),
		Content:     cfg,
		Permissions: 0644,
	}}, nil
}

// writeFiles writes all template files to disk. Without force an existing
// file is never overwritten.
func writeFiles(files []FileInfo, force bool) error {
	for _, file := range files {
		flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
		if !force {
			flags |= os.O_EXCL
		}
		f, err := os.OpenFile(file.Path, flags, file.Permissions)
		if err != nil {
			return fmt.Errorf("failed to write %s: %w", file.Path, err)
		}
		_, err = f.Write(file.Content)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return fmt.Errorf("failed to write %s: %w", file.Path, err)
		}
	}
	return nil
}

// validateCreatedFiles loads the written config the same way every command does
func validateCreatedFiles(dir string) error {
	if _, err := config.Load(filepath.Join(dir, config.DefaultPath)); err != nil {
		return fmt.Errorf("created %s is invalid: %w", config.DefaultPath, err)
	}
	return nil
}

// PrintSuccess prints the success message with created files
func PrintSuccess(w io.Writer) {
	fmt.Fprintln(w, "\n✅ Successfully initialized spoolscan!")
	fmt.Fprintln(w, "\nCreated:")
	fmt.Fprintf(w, "  ✓ %s\n", config.DefaultPath)
	fmt.Fprintln(w, "\nNext steps:")
	fmt.Fprintln(w, "  1. Set publish.redis_url to share results with 'spoolscan watch'")
	fmt.Fprintln(w, "  2. Decode a dump:     spoolscan decode spool.bin")
	fmt.Fprintln(w, "  3. Serve the decoder: spoolscan serve")
}
