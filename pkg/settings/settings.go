// Package settings holds the user preferences that shape a voice session:
// microphone mute and spoken language.
package settings

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/BurntSushi/toml"
)

// ErrUnknownLanguage is returned for a preference TransportLanguage cannot map.
var ErrUnknownLanguage = errors.New("settings: unknown language")

// Settings is the persisted preference set.
type Settings struct {
	MicMuted bool   `toml:"mic_muted" json:"micMuted"`
	Language string `toml:"language" json:"language"`
}

// TransportLanguage returns the code for the language preference.
func (s Settings) TransportLanguage() string {
	code, _ := TransportLanguage(s.Language)
	return code
}

// Store is a concurrency-safe settings holder with change notification.
type Store struct {
	// updateMu orders updates end to end: mutation, save and handlers.
	updateMu sync.Mutex

	mu       sync.RWMutex
	current  Settings
	backend  Backend
	onChange []func(old, updated Settings)
	logger   *slog.Logger
}

// NewStore creates a store with initial values. backend may be nil.
func NewStore(initial Settings, backend Backend, logger *slog.Logger) *Store {
	if initial.Language == "" {
		initial.Language = LanguageAuto
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		current: initial,
		backend: backend,
		logger:  logger.With("component", "settings.store"),
	}
}

// Get returns a copy of the current settings.
func (s *Store) Get() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// OnChange registers fn to run after every change. Handlers run in update
// order and must not modify the store.
func (s *Store) OnChange(fn func(old, updated Settings)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = append(s.onChange, fn)
}

// SetMicMuted updates the mute preference.
func (s *Store) SetMicMuted(muted bool) {
	s.update(func(st *Settings) { st.MicMuted = muted })
}

// SetLanguage updates the language preference.
func (s *Store) SetLanguage(pref string) error {
	if _, ok := TransportLanguage(pref); !ok {
		return fmt.Errorf("%w: %q", ErrUnknownLanguage, pref)
	}
	if pref == "" {
		pref = LanguageAuto
	}
	s.update(func(st *Settings) { st.Language = pref })
	return nil
}

// Replace validates and stores a whole settings value.
func (s *Store) Replace(next Settings) error {
	if next.Language == "" {
		next.Language = LanguageAuto
	}
	if _, ok := TransportLanguage(next.Language); !ok {
		return fmt.Errorf("%w: %q", ErrUnknownLanguage, next.Language)
	}
	s.update(func(st *Settings) { *st = next })
	return nil
}

func (s *Store) update(mutate func(*Settings)) {
	s.updateMu.Lock()
	defer s.updateMu.Unlock()

	s.mu.Lock()
	old := s.current
	mutate(&s.current)
	updated := s.current
	handlers := append([]func(old, updated Settings){}, s.onChange...)
	s.mu.Unlock()

	if old == updated {
		return
	}

	if err := s.save(updated); err != nil {
		s.logger.Warn("failed to persist settings", "error", err)
	}
	for _, fn := range handlers {
		fn(old, updated)
	}
}

// Save persists the current settings.
func (s *Store) Save() error {
	s.updateMu.Lock()
	defer s.updateMu.Unlock()
	return s.save(s.Get())
}

func (s *Store) save(current Settings) error {
	if s.backend == nil {
		return nil
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(current); err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	return s.backend.Save(buf.Bytes())
}

// Load replaces the current settings with the persisted ones, if any.
// Change handlers are not called.
func (s *Store) Load() error {
	s.updateMu.Lock()
	defer s.updateMu.Unlock()

	if s.backend == nil {
		return nil
	}

	data, err := s.backend.Load()
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}

	loaded := s.Get()
	if _, err := toml.Decode(string(data), &loaded); err != nil {
		return fmt.Errorf("decode settings: %w", err)
	}
	if _, ok := TransportLanguage(loaded.Language); !ok {
		s.logger.Warn("ignoring unknown persisted language", "language", loaded.Language)
		loaded.Language = LanguageAuto
	}

	s.mu.Lock()
	s.current = loaded
	s.mu.Unlock()
	return nil
}

// Controller is the part of the session controller settings drive.
type Controller interface {
	SetMicMuted(muted bool)
	SetLanguage(lang string)
}

// Bind applies the current settings to c and keeps it in sync. Call it
// after the adapter is registered so the initial mute reaches it.
func (s *Store) Bind(c Controller) {
	st := s.Get()
	c.SetLanguage(st.TransportLanguage())
	c.SetMicMuted(st.MicMuted)

	s.OnChange(func(old, updated Settings) {
		if old.MicMuted != updated.MicMuted {
			c.SetMicMuted(updated.MicMuted)
		}
		if old.Language != updated.Language {
			c.SetLanguage(updated.TransportLanguage())
		}
	})
}
