package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Environment variables read by the processor.
const (
	EnvDatabaseURL        = "DATABASE_URL"
	EnvAllowProdMutations = "GP_ALLOW_PROD_MUTATIONS"
)

// FindRepoRoot walks upward from start and returns the first ancestor that
// contains a _bmad or specs child directory. If no ancestor qualifies the
// starting directory is returned.
func FindRepoRoot(start string) string {
	dir := start
	for {
		for _, sentinel := range []string{"_bmad", "specs"} {
			if info, err := os.Stat(filepath.Join(dir, sentinel)); err == nil && info.IsDir() {
				return dir
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return start
		}
		dir = parent
	}
}

// ResolveConfigRoot returns the directory holding per-instance configuration.
// An explicit flag value wins; otherwise the first existing candidate of
// <repo>/GP/config, <cwd>/GP/config and <cwd>/config is used.
func ResolveConfigRoot(flagValue, repoRoot, cwd string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	candidates := []string{
		filepath.Join(repoRoot, "GP", "config"),
		filepath.Join(cwd, "GP", "config"),
		filepath.Join(cwd, "config"),
	}
	for _, dir := range candidates {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return dir, nil
		}
	}
	return "", fmt.Errorf("no config root found (tried %s); pass --config-root", strings.Join(candidates, ", "))
}

// ResolveDatabaseURL returns the flag value or falls back to DATABASE_URL.
func ResolveDatabaseURL(flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if url := os.Getenv(EnvDatabaseURL); url != "" {
		return url, nil
	}
	return "", fmt.Errorf("no database URL: pass --db-url or set %s", EnvDatabaseURL)
}

// AllowProdMutations reports whether destructive operations against
// production-named instances are unblocked. The override must be the literal
// string "true".
func AllowProdMutations() bool {
	return os.Getenv(EnvAllowProdMutations) == "true"
}

// SchemaDir returns the directory holding the JSON Schema contracts.
func SchemaDir(repoRoot string) string {
	return filepath.Join(repoRoot, "specs", "contracts", "config", "schemas")
}

// DefaultExportPath builds the export file path for a market. Characters that
// are awkward in filenames (: and .) are replaced in the timestamp.
func DefaultExportPath(repoRoot, instanceID, marketID string, now time.Time) string {
	stamp := now.UTC().Format(time.RFC3339)
	stamp = strings.NewReplacer(":", "-", ".", "-").Replace(stamp)
	name := fmt.Sprintf("export-%s.yaml", stamp)
	return filepath.Join(repoRoot, "GP", "export", "config", instanceID, "markets", marketID, name)
}
