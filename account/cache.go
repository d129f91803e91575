package account

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"gopkg.in/yaml.v3"
)

const (
	appName   = "rovo"
	cacheFile = "account.yaml"
)

// Mutex for thread-safe file operations
var fileMutex sync.Mutex

// Cache is the on-disk snapshot of account data: the login credentials
// and the last fetched device catalog. It lets tools run without hitting
// the cloud API on every invocation.
type Cache struct {
	Version  int       `yaml:"version"`
	Email    string    `yaml:"email,omitempty"`
	UserData *UserData `yaml:"userData,omitempty"`
	HomeData *HomeData `yaml:"homeData,omitempty"`
}

// NewCache creates an empty cache at the current format version.
func NewCache() *Cache {
	return &Cache{Version: 1}
}

// CacheDir returns the OS-appropriate configuration directory for the
// application. This follows platform conventions:
//   - Linux: $XDG_CONFIG_HOME/rovo or $HOME/.config/rovo
//   - macOS: $HOME/.config/rovo (following XDG convention on macOS)
//   - Windows: %LOCALAPPDATA%\rovo
func CacheDir() (string, error) {
	var baseDir string

	switch runtime.GOOS {
	case "windows":
		localAppData := os.Getenv("LOCALAPPDATA")
		if localAppData == "" {
			userProfile := os.Getenv("USERPROFILE")
			if userProfile == "" {
				return "", fmt.Errorf("cannot determine user profile directory (LOCALAPPDATA and USERPROFILE not set)")
			}
			baseDir = filepath.Join(userProfile, "AppData", "Local", appName)
		} else {
			baseDir = filepath.Join(localAppData, appName)
		}

	default:
		// Linux, macOS and other Unix-like systems: XDG_CONFIG_HOME or
		// $HOME/.config
		xdgConfigHome := os.Getenv("XDG_CONFIG_HOME")
		if xdgConfigHome != "" {
			baseDir = filepath.Join(xdgConfigHome, appName)
		} else {
			homeDir, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("cannot determine home directory: %w", err)
			}
			baseDir = filepath.Join(homeDir, ".config", appName)
		}
	}

	return baseDir, nil
}

// CachePath returns the full path to the cache file.
func CachePath() (string, error) {
	dir, err := CacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, cacheFile), nil
}

// LoadCache loads the account cache from disk. A missing file yields an
// empty cache, not an error.
func LoadCache() (*Cache, error) {
	path, err := CachePath()
	if err != nil {
		return nil, fmt.Errorf("failed to get cache path: %w", err)
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return NewCache(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read cache file: %w", err)
	}

	var cache Cache
	if err := yaml.Unmarshal(data, &cache); err != nil {
		return nil, fmt.Errorf("failed to parse cache file: %w", err)
	}
	if cache.Version != 1 {
		return nil, fmt.Errorf("unsupported cache version: %d (expected 1)", cache.Version)
	}

	return &cache, nil
}

// Save writes the cache to disk. Performs an atomic write to prevent
// corruption on crash. The file is user-readable only because it holds
// account credentials and per-device local keys.
func (c *Cache) Save() error {
	fileMutex.Lock()
	defer fileMutex.Unlock()

	dir, err := CacheDir()
	if err != nil {
		return fmt.Errorf("failed to get cache directory: %w", err)
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	path, err := CachePath()
	if err != nil {
		return fmt.Errorf("failed to get cache path: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal cache: %w", err)
	}

	header := []byte(`# Rovo account cache
# Holds login credentials and the last fetched device catalog.
# This file contains secrets (tokens, per-device local keys); keep it private.

`)
	data = append(header, data...)

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temporary cache file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to save cache file: %w", err)
	}

	return nil
}

// HomeDataFromCache adapts a cached catalog to the HomeDataAPI contract,
// for tools that must work offline.
func HomeDataFromCache(c *Cache) HomeDataAPI {
	return func(ctx context.Context) (*HomeData, error) {
		if c == nil || c.HomeData == nil {
			return nil, fmt.Errorf("no cached home data; log in first")
		}
		return c.HomeData, nil
	}
}
