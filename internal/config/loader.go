package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

const (
	ServerFile   = "server.yaml"
	ModelsFile   = "models.yaml"
	BackendsFile = "backends.yaml"
)

var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

// expandEnvVars replaces ${VAR} and ${VAR:default} patterns in a string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		submatch := envVarPattern.FindStringSubmatch(match)
		if len(submatch) < 2 {
			return match
		}
		varName := submatch[1]
		defaultVal := ""
		if len(submatch) >= 3 {
			defaultVal = submatch[2]
		}
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return defaultVal
	})
}

// LoadFile reads a YAML file, expands env vars, and unmarshals into dest.
func LoadFile(path string, dest interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	expanded := expandEnvVars(string(data))
	if err := yaml.Unmarshal([]byte(expanded), dest); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// loadOptional is LoadFile that leaves dest untouched when the file is absent.
func loadOptional(path string, dest interface{}) (bool, error) {
	err := LoadFile(path, dest)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

// Loader manages configuration loading and hot-reload via fsnotify.
type Loader struct {
	configDir string
	mu        sync.RWMutex
	cfg       *Config
	models    *ModelsConfig
	backends  *BackendsConfig
	watchers  []func()
	logger    *slog.Logger
}

func NewLoader(configDir string, logger *slog.Logger) *Loader {
	return &Loader{
		configDir: configDir,
		logger:    logger,
	}
}

// Load reads server.yaml (required) plus models.yaml and backends.yaml,
// which fall back to the built-in local deployment when absent.
func (l *Loader) Load() error {
	cfg := DefaultConfig()
	if err := LoadFile(filepath.Join(l.configDir, ServerFile), cfg); err != nil {
		return fmt.Errorf("load server config: %w", err)
	}

	models := DefaultModels()
	if found, err := loadOptional(filepath.Join(l.configDir, ModelsFile), models); err != nil {
		return fmt.Errorf("load models config: %w", err)
	} else if !found {
		l.logger.Warn("models config not found, using defaults", "dir", l.configDir)
	}

	backends := DefaultBackends()
	if found, err := loadOptional(filepath.Join(l.configDir, BackendsFile), backends); err != nil {
		return fmt.Errorf("load backends config: %w", err)
	} else if !found {
		l.logger.Warn("backends config not found, using defaults", "dir", l.configDir)
	}

	if _, mapping, ok := models.Lookup(models.DefaultVersion); !ok || mapping.Primary.Backend == "" {
		return fmt.Errorf("models config: default version %q has no primary route", models.DefaultVersion)
	}

	l.mu.Lock()
	l.cfg = cfg
	l.models = models
	l.backends = backends
	l.mu.Unlock()

	l.logger.Info("configuration loaded", "dir", l.configDir)
	return nil
}

func (l *Loader) Config() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cfg
}

func (l *Loader) Models() *ModelsConfig {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.models
}

func (l *Loader) Backends() *BackendsConfig {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.backends
}

// OnReload registers a callback that fires after config is reloaded.
func (l *Loader) OnReload(fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.watchers = append(l.watchers, fn)
}

// Watch starts watching the config directory for changes and reloads on modification.
func (l *Loader) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := watcher.Add(l.configDir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch config dir %s: %w", l.configDir, err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
					l.logger.Info("config file changed, reloading", "file", event.Name)
					if err := l.Load(); err != nil {
						l.logger.Error("failed to reload config", "error", err)
						continue
					}
					l.mu.RLock()
					fns := append([]func(){}, l.watchers...)
					l.mu.RUnlock()
					for _, fn := range fns {
						fn()
					}
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				l.logger.Error("fsnotify error", "error", err)
			}
		}
	}()

	return nil
}
