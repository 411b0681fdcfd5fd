package settings

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// FileStore persists settings as YAML. Other processes sharing the file are
// picked up by Watch.
type FileStore struct {
	path   string
	logger *zap.Logger
	n      *notifier

	mu      sync.Mutex
	modTime time.Time
	size    int64
}

func NewFileStore(path string, logger *zap.Logger) *FileStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &FileStore{path: path, logger: logger, n: newNotifier()}
	if info, err := os.Stat(path); err == nil {
		f.modTime, f.size = info.ModTime(), info.Size()
	}
	return f
}

func (f *FileStore) Path() string { return f.path }

// Load reads the file. A missing file yields defaults; missing keys keep
// their default values.
func (f *FileStore) Load(_ context.Context) (Settings, error) {
	s, _, err := f.read()
	return s, err
}

func (f *FileStore) read() (Settings, os.FileInfo, error) {
	s := Default()
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil, nil
	}
	if err != nil {
		return Settings{}, nil, fmt.Errorf("read settings %s: %w", f.path, err)
	}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Settings{}, nil, fmt.Errorf("parse settings %s: %w", f.path, err)
	}
	info, _ := os.Stat(f.path)
	return s.Normalize(), info, nil
}

// Save writes atomically (temp file + rename) and notifies local subscribers.
func (f *FileStore) Save(_ context.Context, s Settings) error {
	s = s.Normalize()
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".settings-*.yaml")
	if err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write settings: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write settings: %w", err)
	}

	f.mu.Lock()
	if info, err := os.Stat(f.path); err == nil {
		f.modTime, f.size = info.ModTime(), info.Size()
	}
	f.mu.Unlock()

	f.n.notify(s)
	return nil
}

func (f *FileStore) Subscribe(fn func(Settings)) func() {
	return f.n.subscribe(fn)
}

// Watch polls the file until ctx is done and notifies subscribers when
// another process rewrites it.
func (f *FileStore) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.poll()
		}
	}
}

func (f *FileStore) poll() {
	info, err := os.Stat(f.path)
	if err != nil {
		return
	}
	f.mu.Lock()
	changed := !info.ModTime().Equal(f.modTime) || info.Size() != f.size
	f.mu.Unlock()
	if !changed {
		return
	}

	s, info, err := f.read()
	if err != nil {
		f.logger.Warn("settings file changed but could not be read", zap.Error(err))
		return
	}
	if info != nil {
		f.mu.Lock()
		f.modTime, f.size = info.ModTime(), info.Size()
		f.mu.Unlock()
	}
	f.logger.Debug("settings file changed externally", zap.String("path", f.path))
	f.n.notify(s)
}
