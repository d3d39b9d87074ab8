// Package prefs handles mealtrack CLI preferences persistence.
// Preferences are stored in ~/.config/mealtrack/prefs.toml.
package prefs

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// Prefs holds user preferences for the mealtrack CLI.
type Prefs struct {
	// ServerURL is the sync endpoint base URL. Empty means offline.
	ServerURL string `toml:"server_url"`

	// CachePath is the local bundle database location.
	CachePath string `toml:"cache_path"`

	// ReportSpreadsheet is the spreadsheet ID claim reports go to.
	ReportSpreadsheet string `toml:"report_spreadsheet"`

	// ReportSheet is the tab name inside the report spreadsheet.
	ReportSheet string `toml:"report_sheet"`
}

const (
	defaultPrefsPath = "~/.config/mealtrack/prefs.toml"
	defaultCachePath = "~/.local/share/mealtrack/cache.db"
)

// DefaultPath returns the default preferences file path.
func DefaultPath() string {
	return defaultPrefsPath
}

func defaults() Prefs {
	return Prefs{CachePath: defaultCachePath}
}

// Load reads preferences from the given path, falling back to defaults if missing.
func Load(path string) (Prefs, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return defaults(), nil
	}

	prefs := defaults()

	file, err := os.Open(resolved)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return prefs, nil
		}
		return prefs, nil // Graceful degradation
	}
	defer func() { _ = file.Close() }()

	bytes, err := io.ReadAll(file)
	if err != nil {
		return prefs, nil // Graceful degradation
	}

	if err := toml.Unmarshal(bytes, &prefs); err != nil {
		return defaults(), nil // Graceful degradation
	}

	if strings.TrimSpace(prefs.CachePath) == "" {
		prefs.CachePath = defaultCachePath
	}

	return prefs, nil
}

// Save writes preferences to the given path, creating directories as needed.
func Save(path string, p Prefs) error {
	resolved, err := resolvePath(path)
	if err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}

	dir := filepath.Dir(resolved)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create prefs dir: %w", err)
	}

	bytes, err := toml.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal prefs: %w", err)
	}

	if err := os.WriteFile(resolved, bytes, 0o644); err != nil {
		return fmt.Errorf("write prefs: %w", err)
	}

	return nil
}

// ResolveCachePath expands the configured cache path to an absolute one.
func (p Prefs) ResolveCachePath() (string, error) {
	return expandPath(p.CachePath)
}

func resolvePath(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return expandPath(defaultPrefsPath)
	}
	return expandPath(path)
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", fmt.Errorf("path is empty")
	}
	if strings.HasPrefix(trimmed, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		trimmed = filepath.Join(home, strings.TrimPrefix(trimmed, "~"))
	}
	return filepath.Abs(trimmed)
}
