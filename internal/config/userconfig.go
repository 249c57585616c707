package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Notification categories.
const (
	CategoryContext     = "context"
	CategoryOperation   = "operation"
	CategoryPlan        = "plan"
	CategoryAutoCompact = "auto-compact"
	CategoryHandoff     = "handoff"
	CategoryBugAlert    = "bug-alert"
)

// NotificationSettings gates the notification engine.
type NotificationSettings struct {
	Enabled                 bool            `json:"enabled"`
	Categories              map[string]bool `json:"categories"`
	LargeOperationThreshold int             `json:"largeOperationThreshold"`
	ContextThresholds       []int           `json:"contextThresholds"`
	BugAlertThreshold       int             `json:"bugAlertThreshold"`
}

// DefaultNotificationSettings enables the interactive categories; operation
// and bug-alert keep their wire format but start disabled.
func DefaultNotificationSettings() NotificationSettings {
	return NotificationSettings{
		Enabled: true,
		Categories: map[string]bool{
			CategoryContext:     true,
			CategoryOperation:   false,
			CategoryPlan:        true,
			CategoryAutoCompact: true,
			CategoryHandoff:     true,
			CategoryBugAlert:    false,
		},
		LargeOperationThreshold: 50000,
		ContextThresholds:       []int{70, 85, 95},
		BugAlertThreshold:       3,
	}
}

// SourceState records a connected third-party document source.
type SourceState struct {
	Connected   bool  `json:"connected"`
	ConnectedAt int64 `json:"connectedAt,omitempty"`
}

// UserConfig is the document persisted at ~/.jacques/config.json.
type UserConfig struct {
	Notifications NotificationSettings   `json:"notifications"`
	Sources       map[string]SourceState `json:"sources,omitempty"`
	// RootPath overrides the assistant transcript root when set.
	RootPath string `json:"rootPath,omitempty"`
}

// UserStore owns the user config file. All reads return copies; writes are
// atomic via write-to-temp + rename.
type UserStore struct {
	mu   sync.Mutex
	path string
	cfg  UserConfig
}

// NewUserStore loads (or initialises) the config under jacquesHome.
func NewUserStore(jacquesHome string) (*UserStore, error) {
	s := &UserStore{
		path: filepath.Join(jacquesHome, "config.json"),
		cfg: UserConfig{
			Notifications: DefaultNotificationSettings(),
			Sources:       make(map[string]SourceState),
		},
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(data, &s.cfg); err != nil {
		return nil, err
	}
	if s.cfg.Sources == nil {
		s.cfg.Sources = make(map[string]SourceState)
	}
	if s.cfg.Notifications.Categories == nil {
		s.cfg.Notifications = DefaultNotificationSettings()
	}
	return s, nil
}

// Get returns a copy of the current config.
func (s *UserStore) Get() UserConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyLocked()
}

// Notifications returns the current notification settings.
func (s *UserStore) Notifications() NotificationSettings {
	return s.Get().Notifications
}

// SetNotifications replaces the notification settings and persists.
func (s *UserStore) SetNotifications(ns NotificationSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.Notifications = ns
	return s.saveLocked()
}

// SetSource records a source connect or disconnect and persists.
func (s *UserStore) SetSource(name string, connected bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := SourceState{Connected: connected}
	if connected {
		state.ConnectedAt = time.Now().UnixMilli()
	}
	s.cfg.Sources[name] = state
	return s.saveLocked()
}

// RootPath returns the configured transcript root override, empty when
// unset.
func (s *UserStore) RootPath() string {
	return s.Get().RootPath
}

// SetRootPath persists a transcript root override.
func (s *UserStore) SetRootPath(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.RootPath = path
	return s.saveLocked()
}

func (s *UserStore) copyLocked() UserConfig {
	out := s.cfg
	out.Sources = make(map[string]SourceState, len(s.cfg.Sources))
	for k, v := range s.cfg.Sources {
		out.Sources[k] = v
	}
	out.Notifications.Categories = make(map[string]bool, len(s.cfg.Notifications.Categories))
	for k, v := range s.cfg.Notifications.Categories {
		out.Notifications.Categories[k] = v
	}
	out.Notifications.ContextThresholds = append([]int(nil), s.cfg.Notifications.ContextThresholds...)
	return out
}

func (s *UserStore) saveLocked() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(s.cfg, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".config.json.tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, s.path)
}
