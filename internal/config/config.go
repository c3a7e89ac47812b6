package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/20after4/configdir"
	"github.com/fsnotify/fsnotify"
	"github.com/pelletier/go-toml/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	appName           = "dropbeat"
	configFilename    = "config.toml"
	defaultOutputDir  = "/tmp/dropbeat"
	defaultFetchLimit = 10 * time.Second
	defaultDebounce   = 300 * time.Millisecond
)

// fileConfig mirrors config.toml. Pointers distinguish "unset" from zero values.
type fileConfig struct {
	OutputDir      *string `toml:"output_dir"`
	AllowRemoteArt *bool   `toml:"allow_remote_art"`
	Placeholder    *string `toml:"placeholder"`
	Magick         *string `toml:"magick"`
	FetchTimeout   *string `toml:"fetch_timeout"`
	FetchRetries   *int    `toml:"fetch_retries"`
	Debounce       *string `toml:"debounce"`
}

type settings struct {
	outputDir      string
	allowRemoteArt bool
	placeholder    string
	magick         string
	fetchTimeout   time.Duration
	fetchRetries   int
	debounce       time.Duration
}

func defaults() settings {
	return settings{
		outputDir:      defaultOutputDir,
		allowRemoteArt: true,
		fetchTimeout:   defaultFetchLimit,
		debounce:       defaultDebounce,
	}
}

// AppConfig holds application configuration
type AppConfig struct {
	logger *zap.Logger
	path   string

	mu sync.RWMutex
	s  settings
}

// NewAppConfig loads defaults, then config.toml, then DROPBEAT_* environment overrides.
// A broken config file is logged and ignored.
func NewAppConfig(logger *zap.Logger) *AppConfig {
	path := os.Getenv("DROPBEAT_CONFIG")
	if path == "" {
		path = filepath.Join(configdir.LocalConfig(appName), configFilename)
	}
	return newAppConfig(logger, path)
}

func newAppConfig(logger *zap.Logger, path string) *AppConfig {
	c := &AppConfig{logger: logger, path: path}
	s, err := load(path)
	if err != nil {
		logger.Warn("Ignoring config file", zap.String("path", path), zap.Error(err))
	}
	c.s = s

	logger.Info("Configuration loaded",
		zap.String("file", path),
		zap.String("outputDir", s.outputDir),
		zap.Bool("allowRemoteArt", s.allowRemoteArt),
		zap.Duration("fetchTimeout", s.fetchTimeout),
		zap.Int("fetchRetries", s.fetchRetries))

	return c
}

// load always returns usable settings; err describes the part that was skipped
func load(path string) (settings, error) {
	s := defaults()
	var fileErr error
	if path != "" {
		fileErr = applyFile(&s, path)
	}
	envErr := applyEnv(&s)
	s.outputDir = expandPath(s.outputDir)
	if fileErr != nil && errors.Is(fileErr, os.ErrNotExist) {
		fileErr = nil
	}
	return s, multierr.Combine(fileErr, envErr)
}

func applyFile(s *settings, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var fc fileConfig
	if err := toml.NewDecoder(f).Decode(&fc); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}

	if fc.OutputDir != nil {
		s.outputDir = *fc.OutputDir
	}
	if fc.AllowRemoteArt != nil {
		s.allowRemoteArt = *fc.AllowRemoteArt
	}
	if fc.Placeholder != nil {
		s.placeholder = *fc.Placeholder
	}
	if fc.Magick != nil {
		s.magick = *fc.Magick
	}
	if fc.FetchRetries != nil && *fc.FetchRetries >= 0 {
		s.fetchRetries = *fc.FetchRetries
	}
	var errs []error
	if fc.FetchTimeout != nil {
		if d, err := time.ParseDuration(*fc.FetchTimeout); err == nil {
			s.fetchTimeout = d
		} else {
			errs = append(errs, fmt.Errorf("fetch_timeout: %w", err))
		}
	}
	if fc.Debounce != nil {
		if d, err := time.ParseDuration(*fc.Debounce); err == nil {
			s.debounce = d
		} else {
			errs = append(errs, fmt.Errorf("debounce: %w", err))
		}
	}
	return multierr.Combine(errs...)
}

func applyEnv(s *settings) error {
	if v := os.Getenv("DROPBEAT_OUTPUT_DIR"); v != "" {
		s.outputDir = v
	}
	if v := os.Getenv("DROPBEAT_PLACEHOLDER"); v != "" {
		s.placeholder = v
	}
	if v := os.Getenv("DROPBEAT_MAGICK"); v != "" {
		s.magick = v
	}

	var errs []error
	if v := os.Getenv("DROPBEAT_ALLOW_REMOTE_ART"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			s.allowRemoteArt = b
		} else {
			errs = append(errs, fmt.Errorf("DROPBEAT_ALLOW_REMOTE_ART: %w", err))
		}
	}
	if v := os.Getenv("DROPBEAT_FETCH_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			s.fetchTimeout = d
		} else {
			errs = append(errs, fmt.Errorf("DROPBEAT_FETCH_TIMEOUT: %w", err))
		}
	}
	if v := os.Getenv("DROPBEAT_FETCH_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			s.fetchRetries = n
		} else {
			errs = append(errs, fmt.Errorf("DROPBEAT_FETCH_RETRIES: invalid value %q", v))
		}
	}
	if v := os.Getenv("DROPBEAT_DEBOUNCE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			s.debounce = d
		} else {
			errs = append(errs, fmt.Errorf("DROPBEAT_DEBOUNCE: %w", err))
		}
	}
	return multierr.Combine(errs...)
}

// expandPath expands environment variables and a leading ~
func expandPath(p string) string {
	p = os.ExpandEnv(p)
	if strings.HasPrefix(p, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			p = filepath.Join(home, p[1:])
		}
	}
	return p
}

// Watch reloads the config file whenever it changes, until ctx is cancelled.
// Only allow_remote_art and placeholder take effect without a restart.
func (c *AppConfig) Watch(ctx context.Context) error {
	dir := filepath.Dir(c.path)
	if _, err := os.Stat(dir); err != nil {
		c.logger.Debug("Config directory missing, reload disabled", zap.String("dir", dir))
		return nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer w.Close()

	// Editors replace files by rename, so the directory is watched instead of the file
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(c.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0 {
				c.Reload()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			c.logger.Warn("Config watcher error", zap.Error(err))
		}
	}
}

// Reload re-reads the file and applies the hot-reloadable keys
func (c *AppConfig) Reload() {
	s, err := load(c.path)
	if err != nil {
		c.logger.Warn("Config reload incomplete", zap.String("path", c.path), zap.Error(err))
	}

	c.mu.Lock()
	c.s.allowRemoteArt = s.allowRemoteArt
	c.s.placeholder = s.placeholder
	c.mu.Unlock()

	c.logger.Info("Configuration reloaded",
		zap.Bool("allowRemoteArt", s.allowRemoteArt),
		zap.String("placeholder", s.placeholder))
}

// Path returns the config file location
func (c *AppConfig) Path() string {
	return c.path
}

// GetOutputDir returns the cover-art working directory
func (c *AppConfig) GetOutputDir() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.s.outputDir
}

// AllowRemoteArt reports whether http/https art may be fetched
func (c *AppConfig) AllowRemoteArt() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.s.allowRemoteArt
}

// PlaceholderRef returns the placeholder override, or ""
func (c *AppConfig) PlaceholderRef() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.s.placeholder
}

// MagickBinary returns the transform tool override, or ""
func (c *AppConfig) MagickBinary() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.s.magick
}

// FetchTimeout bounds a single art download
func (c *AppConfig) FetchTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.s.fetchTimeout
}

// FetchRetries is the number of retries after the first GET
func (c *AppConfig) FetchRetries() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.s.fetchRetries
}

// Debounce is the quiet period before art processing starts
func (c *AppConfig) Debounce() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.s.debounce
}
