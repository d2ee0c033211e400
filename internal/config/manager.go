package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// ChangeEvent describes one observed configuration change.
type ChangeEvent struct {
	File      string                 `json:"file"`
	Action    string                 `json:"action"` // create, modify, delete
	Config    map[string]interface{} `json:"config"`
	Timestamp time.Time              `json:"timestamp"`
}

// ChangeHandler is called after a config file change passes validation.
type ChangeHandler func(event ChangeEvent) error

// Manager watches a directory of yaml/json configuration files and
// hot-reloads them. Handlers see only changes their validator accepted;
// a rejected file leaves the previous configuration in effect.
type Manager struct {
	configDir  string
	configs    map[string]map[string]interface{}
	handlers   map[string][]ChangeHandler
	validators map[string]func(map[string]interface{}) error
	watcher    *fsnotify.Watcher
	started    bool
	stopCh     chan struct{}
	logger     *zap.Logger
	mu         sync.RWMutex
}

// NewManager creates a configuration manager over configDir.
func NewManager(configDir string, logger *zap.Logger) (*Manager, error) {
	if configDir == "" {
		return nil, fmt.Errorf("config directory cannot be empty")
	}
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	return &Manager{
		configDir:  configDir,
		configs:    make(map[string]map[string]interface{}),
		handlers:   make(map[string][]ChangeHandler),
		validators: make(map[string]func(map[string]interface{}) error),
		watcher:    watcher,
		stopCh:     make(chan struct{}),
		logger:     logger,
	}, nil
}

// Start loads all config files and begins watching for changes.
func (m *Manager) Start() error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	if err := m.watcher.Add(m.configDir); err != nil {
		return fmt.Errorf("failed to watch config directory: %w", err)
	}
	if err := m.loadAll(); err != nil {
		return fmt.Errorf("failed to load initial configs: %w", err)
	}

	m.mu.Lock()
	m.started = true
	loaded := len(m.configs)
	m.mu.Unlock()

	go m.watchLoop()

	m.logger.Info("Configuration manager started",
		zap.String("config_dir", m.configDir),
		zap.Int("loaded_configs", loaded),
	)
	return nil
}

// Stop ends the watch loop.
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return nil
	}
	close(m.stopCh)
	if err := m.watcher.Close(); err != nil {
		m.logger.Error("Error closing file watcher", zap.Error(err))
	}
	m.started = false
	return nil
}

// RegisterHandler subscribes a handler to changes of one file.
func (m *Manager) RegisterHandler(filename string, handler ChangeHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[filename] = append(m.handlers[filename], handler)
}

// RegisterValidator guards one file with a validation function.
func (m *Manager) RegisterValidator(filename string, validator func(map[string]interface{}) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.validators[filename] = validator
}

// Get returns a copy of the current configuration of one file.
func (m *Manager) Get(filename string) (map[string]interface{}, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg, ok := m.configs[filename]
	if !ok {
		return nil, false
	}
	out := make(map[string]interface{}, len(cfg))
	for k, v := range cfg {
		out[k] = v
	}
	return out, true
}

func (m *Manager) loadAll() error {
	entries, err := os.ReadDir(m.configDir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() || !isConfigFile(e.Name()) {
			continue
		}
		if err := m.loadFile(e.Name(), "create"); err != nil {
			m.logger.Warn("Skipping unparseable config file",
				zap.String("file", e.Name()),
				zap.Error(err),
			)
		}
	}
	return nil
}

func (m *Manager) loadFile(filename, action string) error {
	data, err := os.ReadFile(filepath.Join(m.configDir, filename))
	if err != nil {
		return err
	}

	cfg := make(map[string]interface{})
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	case ".json":
		err = json.Unmarshal(data, &cfg)
	default:
		return fmt.Errorf("unsupported config format: %s", filename)
	}
	if err != nil {
		return fmt.Errorf("parse %s: %w", filename, err)
	}

	m.mu.RLock()
	validator := m.validators[filename]
	m.mu.RUnlock()
	if validator != nil {
		if err := validator(cfg); err != nil {
			return fmt.Errorf("validate %s: %w", filename, err)
		}
	}

	m.mu.Lock()
	m.configs[filename] = cfg
	handlers := m.handlers[filename]
	m.mu.Unlock()

	event := ChangeEvent{File: filename, Action: action, Config: cfg, Timestamp: time.Now()}
	for _, h := range handlers {
		if err := h(event); err != nil {
			m.logger.Error("Config change handler failed",
				zap.String("file", filename),
				zap.Error(err),
			)
		}
	}
	return nil
}

func (m *Manager) watchLoop() {
	for {
		select {
		case <-m.stopCh:
			return
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			name := filepath.Base(event.Name)
			if !isConfigFile(name) {
				continue
			}
			switch {
			case event.Op&(fsnotify.Write|fsnotify.Create) != 0:
				action := "modify"
				if event.Op&fsnotify.Create != 0 {
					action = "create"
				}
				if err := m.loadFile(name, action); err != nil {
					m.logger.Warn("Config reload rejected, keeping previous version",
						zap.String("file", name),
						zap.Error(err),
					)
					continue
				}
				m.logger.Info("Configuration reloaded",
					zap.String("file", name),
					zap.String("action", action),
				)
			case event.Op&fsnotify.Remove != 0:
				m.mu.Lock()
				delete(m.configs, name)
				m.mu.Unlock()
				m.logger.Info("Configuration file removed", zap.String("file", name))
			}
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.Error("Config watcher error", zap.Error(err))
		}
	}
}

func isConfigFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml", ".json":
		return true
	}
	return false
}
