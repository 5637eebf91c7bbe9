package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"lessonsync/internal/observable"
)

// reloadDelay coalesces the burst of events editors emit on save.
const reloadDelay = 100 * time.Millisecond

type decodeFunc func(data []byte, cfg *Config) error

var decoders = map[string]decodeFunc{
	".toml": func(data []byte, cfg *Config) error { return toml.Unmarshal(data, cfg) },
	".json": func(data []byte, cfg *Config) error { return json.Unmarshal(data, cfg) },
	".yaml": func(data []byte, cfg *Config) error { return yaml.Unmarshal(data, cfg) },
	".yml":  func(data []byte, cfg *Config) error { return yaml.Unmarshal(data, cfg) },
}

// Loader reads the configuration file and, once watching, republishes it
// whenever the file changes and still validates.
type Loader struct {
	path    string
	current *observable.Value[*Config]
	errs    chan error

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	done    chan struct{}
	timer   *time.Timer
}

// NewLoader creates a loader for path, or the default path when empty.
func NewLoader(path string) *Loader {
	if path == "" {
		path = ConfigPath()
	}
	return &Loader{
		path:    path,
		current: observable.NewValue[*Config](nil),
		errs:    make(chan error, 1),
	}
}

// Path returns the file the loader reads.
func (l *Loader) Path() string {
	return l.path
}

// Load reads, overrides and validates the configuration file and
// publishes it to subscribers. The previous configuration stays in effect
// when the file does not validate.
func (l *Loader) Load() (*Config, error) {
	cfg, err := l.read()
	if err != nil {
		return nil, err
	}
	l.current.Set(cfg)
	return cfg, nil
}

// Reload is Load for callers that only need the error.
func (l *Loader) Reload() error {
	_, err := l.Load()
	return err
}

func (l *Loader) read() (*Config, error) {
	cfg, err := loadConfigFromFile(l.path)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	return cfg, nil
}

// Config returns the current configuration, or nil before Load.
func (l *Loader) Config() *Config {
	return l.current.Get()
}

// OnChange registers fn for every successful reload.
func (l *Loader) OnChange(fn func(*Config)) (cancel func()) {
	return l.current.Subscribe(func(c observable.Change[*Config]) {
		fn(c.New)
	})
}

// Errors reports reload and watch failures. Errors are dropped while an
// earlier one is still unread.
func (l *Loader) Errors() <-chan error {
	return l.errs
}

// Watch starts reloading the file when it changes. The parent directory
// is watched since editors often replace the file on save.
func (l *Loader) Watch() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.watcher != nil {
		return errors.New("config: already watching")
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(l.path)); err != nil {
		w.Close()
		return fmt.Errorf("watch directory: %w", err)
	}
	l.watcher = w
	l.done = make(chan struct{})
	go l.watchLoop(w, l.done)
	return nil
}

func (l *Loader) watchLoop(w *fsnotify.Watcher, done <-chan struct{}) {
	name := filepath.Base(l.path)
	for {
		select {
		case <-done:
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != name || !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			l.scheduleReload()
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			l.report(err)
		}
	}
}

func (l *Loader) scheduleReload() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.timer != nil {
		l.timer.Stop()
	}
	l.timer = time.AfterFunc(reloadDelay, func() {
		if err := l.Reload(); err != nil {
			l.report(fmt.Errorf("reload config: %w", err))
		}
	})
}

func (l *Loader) report(err error) {
	select {
	case l.errs <- err:
	default:
	}
}

// Close stops watching.
func (l *Loader) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.timer != nil {
		l.timer.Stop()
	}
	if l.watcher == nil {
		return nil
	}
	close(l.done)
	err := l.watcher.Close()
	l.watcher = nil
	return err
}

// loadConfigFromFile decodes path over the defaults. A missing file yields
// the defaults. Unknown extensions are tried as TOML, JSON and YAML in turn.
func loadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	if decode, ok := decoders[ext]; ok {
		cfg := DefaultConfig()
		if err := decode(data, cfg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", strings.ToUpper(ext[1:]), err)
		}
		return cfg, nil
	}

	for _, ext := range []string{".toml", ".json", ".yaml"} {
		cfg := DefaultConfig()
		if decoders[ext](data, cfg) == nil {
			return cfg, nil
		}
	}
	return nil, errors.New("parse config: unrecognized format (tried TOML, JSON, YAML)")
}
