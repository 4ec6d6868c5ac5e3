package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

type Config struct {
	Bot     BotConfig     `json:"bot"`
	Storage StorageConfig `json:"storage"`
	Jobs    JobsConfig    `json:"jobs"`
}

type BotConfig struct {
	Token           string `json:"token"`
	APIRoot         string `json:"api_root"`
	PollIntervalSec int    `json:"poll_interval_sec"`
	PollTimeoutSec  int    `json:"poll_timeout_sec"`
}

type StorageConfig struct {
	DataDir    string `json:"data_dir"`
	ArchiveDir string `json:"archive_dir"`
	LogDir     string `json:"log_dir"`
}

type JobsConfig struct {
	PendingTimeoutSec int `json:"pending_timeout_sec"`
	SweepIntervalSec  int `json:"sweep_interval_sec"`
}

type Manager struct {
	path string
	mu   sync.RWMutex
	cfg  Config
}

func DefaultPath() string {
	return filepath.Join("config", "config.json")
}

func NewManager(path string) (*Manager, error) {
	cfg := defaultConfig()
	mgr := &Manager{
		path: path,
		cfg:  cfg,
	}
	if err := mgr.load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	}
	if err := mgr.save(); err != nil {
		return nil, err
	}
	return mgr, nil
}

func (m *Manager) Get() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func (m *Manager) Update(apply func(*Config)) (Config, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	apply(&m.cfg)
	applyDefaults(&m.cfg)
	if err := m.saveLocked(); err != nil {
		return Config{}, err
	}
	return m.cfg, nil
}

func (m *Manager) load() error {
	data, err := os.ReadFile(m.path)
	if err != nil {
		return err
	}
	var fileCfg Config
	if err := json.Unmarshal(data, &fileCfg); err != nil {
		return err
	}
	m.cfg = fileCfg
	applyDefaults(&m.cfg)
	return nil
}

func (m *Manager) save() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveLocked()
}

func (m *Manager) saveLocked() error {
	if err := os.MkdirAll(filepath.Dir(m.path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(m.cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(m.path, data, 0644)
}

func defaultConfig() Config {
	return Config{
		Bot: BotConfig{
			APIRoot:         "https://api.telegram.org",
			PollIntervalSec: 2,
			PollTimeoutSec:  20,
		},
		Storage: StorageConfig{
			DataDir:    filepath.Join("output", "db"),
			ArchiveDir: filepath.Join("output", "archive"),
			LogDir:     filepath.Join("output", "logs"),
		},
		Jobs: JobsConfig{
			PendingTimeoutSec: 300,
			SweepIntervalSec:  60,
		},
	}
}

func applyDefaults(cfg *Config) {
	// The bot token has no default; it comes from the file or DAYLINE_BOT_TOKEN.
	if strings.TrimSpace(cfg.Bot.APIRoot) == "" {
		cfg.Bot.APIRoot = "https://api.telegram.org"
	}
	if cfg.Bot.PollIntervalSec <= 0 {
		cfg.Bot.PollIntervalSec = 2
	}
	if cfg.Bot.PollTimeoutSec <= 0 {
		cfg.Bot.PollTimeoutSec = 20
	}
	if strings.TrimSpace(cfg.Storage.DataDir) == "" {
		cfg.Storage.DataDir = filepath.Join("output", "db")
	}
	if strings.TrimSpace(cfg.Storage.ArchiveDir) == "" {
		cfg.Storage.ArchiveDir = filepath.Join("output", "archive")
	}
	if strings.TrimSpace(cfg.Storage.LogDir) == "" {
		cfg.Storage.LogDir = filepath.Join("output", "logs")
	}
	if cfg.Jobs.PendingTimeoutSec <= 0 {
		cfg.Jobs.PendingTimeoutSec = 300
	}
	if cfg.Jobs.SweepIntervalSec <= 0 {
		cfg.Jobs.SweepIntervalSec = 60
	}
}
