package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/nugget/veronica/examples"
)

// runInit initializes a Veronica working directory with the example
// config and system prompt. Existing files are never overwritten.
func runInit(w io.Writer, dir string) error {
	fmt.Fprintf(w, "Initializing Veronica workspace in %s\n", dir)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	// The config may hold API keys.
	configPath := filepath.Join(dir, "config.yaml")
	if err := writeIfMissing(configPath, examples.ConfigYAML, 0o600); err != nil {
		return err
	}
	fmt.Fprintf(w, "  ✓ %s\n", configPath)

	promptPath := filepath.Join(dir, "prompt.md")
	if err := writeIfMissing(promptPath, examples.PromptMD, 0o644); err != nil {
		return err
	}
	fmt.Fprintf(w, "  ✓ %s\n", promptPath)

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Edit config.yaml and prompt.md to customize your installation.")
	return nil
}

// writeIfMissing writes content to path only if the file does not already
// exist. This ensures init never overwrites user customizations.
func writeIfMissing(path string, content []byte, perm os.FileMode) error {
	if _, err := os.Stat(path); err == nil {
		return nil // already exists, skip
	}
	return os.WriteFile(path, content, perm)
}
