package settings

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/BurntSushi/toml"
)

type fakeController struct {
	mutes     []bool
	languages []string
}

func (f *fakeController) SetMicMuted(m bool)   { f.mutes = append(f.mutes, m) }
func (f *fakeController) SetLanguage(l string) { f.languages = append(f.languages, l) }

func TestTransportLanguage(t *testing.T) {
	tests := []struct {
		pref   string
		want   string
		wantOK bool
	}{
		{"", "", true},
		{"auto", "", true},
		{"Spanish", "es", true},
		{" french ", "fr", true},
		{"de", "de", true},
		{"klingon", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.pref, func(t *testing.T) {
			got, ok := TransportLanguage(tt.pref)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("TransportLanguage(%q) = %q, %v", tt.pref, got, ok)
			}
		})
	}
}

func TestStoreUpdates(t *testing.T) {
	s := NewStore(Settings{}, nil, nil)

	if got := s.Get().Language; got != LanguageAuto {
		t.Errorf("default language = %q", got)
	}

	var changes int
	s.OnChange(func(old, updated Settings) { changes++ })

	s.SetMicMuted(true)
	s.SetMicMuted(true)
	if changes != 1 {
		t.Errorf("changes = %d, want 1", changes)
	}

	if err := s.SetLanguage("klingon"); !errors.Is(err, ErrUnknownLanguage) {
		t.Errorf("expected ErrUnknownLanguage, got %v", err)
	}
	if err := s.SetLanguage("german"); err != nil {
		t.Fatal(err)
	}
	if got := s.Get().TransportLanguage(); got != "de" {
		t.Errorf("TransportLanguage = %q", got)
	}

	if err := s.Replace(Settings{Language: "bogus"}); err == nil {
		t.Error("Replace accepted unknown language")
	}
	if err := s.Replace(Settings{MicMuted: false}); err != nil {
		t.Fatal(err)
	}
	if got := s.Get(); got.MicMuted || got.Language != LanguageAuto {
		t.Errorf("after Replace = %+v", got)
	}
}

// memoryBackend records every save.
type memoryBackend struct {
	mu    sync.Mutex
	saves [][]byte
}

func (b *memoryBackend) Save(data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.saves = append(b.saves, append([]byte(nil), data...))
	return nil
}

func (b *memoryBackend) Load() ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.saves) == 0 {
		return nil, nil
	}
	return b.saves[len(b.saves)-1], nil
}

func TestStoreConcurrentUpdatesStayOrdered(t *testing.T) {
	backend := &memoryBackend{}
	s := NewStore(Settings{}, backend, nil)

	type pair struct{ old, updated Settings }
	var (
		mu    sync.Mutex
		pairs []pair
		saved []Settings
	)
	s.OnChange(func(old, updated Settings) {
		// The save for this change has already happened.
		backend.mu.Lock()
		var last Settings
		_, err := toml.Decode(string(backend.saves[len(backend.saves)-1]), &last)
		backend.mu.Unlock()
		if err != nil {
			t.Errorf("decode saved settings: %v", err)
		}

		mu.Lock()
		pairs = append(pairs, pair{old, updated})
		saved = append(saved, last)
		mu.Unlock()
	})

	langs := []string{"english", "german", "french", "spanish"}
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				s.SetMicMuted((i+j)%2 == 0)
				_ = s.SetLanguage(langs[(i+j)%len(langs)])
			}
		}(i)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(pairs) == 0 {
		t.Fatal("no changes observed")
	}
	for i, p := range pairs {
		if saved[i] != p.updated {
			t.Fatalf("change %d: persisted %+v before handler saw %+v", i, saved[i], p.updated)
		}
		if i > 0 && p.old != pairs[i-1].updated {
			t.Fatalf("change %d: old %+v does not follow %+v", i, p.old, pairs[i-1].updated)
		}
	}
	if last := pairs[len(pairs)-1].updated; last != s.Get() {
		t.Errorf("last change %+v, current %+v", last, s.Get())
	}
}

func TestStorePersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "settings.toml")

	s := NewStore(Settings{}, NewFileBackend(path), nil)
	s.SetMicMuted(true)
	if err := s.SetLanguage("japanese"); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("settings not written: %v", err)
	}
	if !strings.Contains(string(data), `language = "japanese"`) {
		t.Errorf("unexpected file contents:\n%s", data)
	}

	loaded := NewStore(Settings{}, NewFileBackend(path), nil)
	if err := loaded.Load(); err != nil {
		t.Fatal(err)
	}
	if got := loaded.Get(); !got.MicMuted || got.Language != "japanese" {
		t.Errorf("loaded = %+v", got)
	}
}

func TestStoreLoad(t *testing.T) {
	t.Run("missing file keeps defaults", func(t *testing.T) {
		s := NewStore(Settings{Language: "english"}, NewFileBackend(filepath.Join(t.TempDir(), "none.toml")), nil)
		if err := s.Load(); err != nil {
			t.Fatal(err)
		}
		if s.Get().Language != "english" {
			t.Errorf("language = %q", s.Get().Language)
		}
	})

	t.Run("unknown language falls back to auto", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "settings.toml")
		_ = os.WriteFile(path, []byte("language = \"elvish\"\nmic_muted = true\n"), 0o644)

		s := NewStore(Settings{}, NewFileBackend(path), nil)
		if err := s.Load(); err != nil {
			t.Fatal(err)
		}
		if got := s.Get(); got.Language != LanguageAuto || !got.MicMuted {
			t.Errorf("loaded = %+v", got)
		}
	})

	t.Run("malformed file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "settings.toml")
		_ = os.WriteFile(path, []byte("language = "), 0o644)

		if err := NewStore(Settings{}, NewFileBackend(path), nil).Load(); err == nil {
			t.Error("expected decode error")
		}
	})
}

func TestBind(t *testing.T) {
	s := NewStore(Settings{Language: "french", MicMuted: true}, nil, nil)
	c := &fakeController{}

	s.Bind(c)
	s.SetMicMuted(false)
	_ = s.SetLanguage("auto")

	if len(c.mutes) != 2 || c.mutes[0] != true || c.mutes[1] != false {
		t.Errorf("mutes = %v", c.mutes)
	}
	if len(c.languages) != 2 || c.languages[0] != "fr" || c.languages[1] != "" {
		t.Errorf("languages = %v", c.languages)
	}
}
